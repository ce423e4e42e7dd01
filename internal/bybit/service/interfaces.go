package service

import (
	"context"

	"tvbridge/internal/bybit/entity"
)

// ExchangeClient is the surface of the Bybit REST client the rest of the
// service depends on. *HTTPClient implements it; tests substitute fakes.
type ExchangeClient interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (*entity.OrderAck, error)
	SetLeverage(ctx context.Context, category, symbol string, leverage int) error
	SetTradingStop(ctx context.Context, category, symbol, takeProfit, stopLoss string) error
	GetPositions(ctx context.Context, category, symbol string) ([]entity.Position, error)
	GetWalletBalance(ctx context.Context) (*entity.WalletBalance, error)
	GetClosedPnl(ctx context.Context, category, symbol string, limit int) ([]entity.ClosedPnl, error)
	Ping(ctx context.Context) error
	BreakerState() string
}

var _ ExchangeClient = (*HTTPClient)(nil)
