package entity

import "fmt"

// APIError is a well-formed Bybit envelope with retCode != 0. It is a real
// exchange answer, never a transport or geo-block artifact.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bybit API error: %d - %s", e.Code, e.Message)
}

// Position is one derivatives position as reported by Bybit.
type Position struct {
	Symbol        string  `json:"symbol"`
	Side          string  `json:"side"` // Buy / Sell
	Size          float64 `json:"size"`
	AvgPrice      float64 `json:"avg_price"`
	PositionValue float64 `json:"position_value"`
	UnrealisedPnl float64 `json:"unrealised_pnl"`
	Leverage      float64 `json:"leverage"`
	TakeProfit    float64 `json:"take_profit"`
	StopLoss      float64 `json:"stop_loss"`
}

// CoinBalance is the per-coin slice of a unified account balance.
type CoinBalance struct {
	Coin          string  `json:"coin"`
	Equity        float64 `json:"equity"`
	WalletBalance float64 `json:"wallet_balance"`
	UnrealisedPnl float64 `json:"unrealised_pnl"`
}

// WalletBalance is the unified account snapshot.
type WalletBalance struct {
	AccountType string        `json:"account_type"`
	TotalEquity float64       `json:"total_equity"`
	Coins       []CoinBalance `json:"coins"`
}

// ClosedPnl is one settled-trade record from the closed-pnl endpoint.
type ClosedPnl struct {
	Symbol        string  `json:"symbol"`
	Side          string  `json:"side"`
	Qty           float64 `json:"qty"`
	AvgEntryPrice float64 `json:"avg_entry_price"`
	AvgExitPrice  float64 `json:"avg_exit_price"`
	ClosedPnl     float64 `json:"closed_pnl"`
	OrderID       string  `json:"order_id"`
	UpdatedAtMs   int64   `json:"updated_at_ms"`
}

// OrderAck is the exchange acknowledgement for a created order.
type OrderAck struct {
	OrderID     string `json:"order_id"`
	OrderLinkID string `json:"order_link_id"`
}
