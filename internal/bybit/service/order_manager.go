package service

import (
	"context"
	"math"
	"strconv"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"tvbridge/internal/bybit/entity"
)

// Default tick granularity when the payload does not say otherwise. USDT
// perpetual majors quote to two decimal places.
const defaultTickDecimals = 2

// OrderManager places and closes orders on top of the REST client.
type OrderManager struct {
	client ExchangeClient
	logger zerolog.Logger
}

// EntryOrder describes a market entry derived from a webhook alert.
type EntryOrder struct {
	Symbol     string
	Side       string // Buy, Sell
	Qty        float64
	EntryPrice string // alert price, used for TP/SL math
	TPPercent  float64
	SLPercent  float64
	Leverage   int
}

// EntryResult carries the exchange ack plus the computed protection levels.
type EntryResult struct {
	Ack     *entity.OrderAck
	TPPrice string
	SLPrice string
}

func NewOrderManager(client ExchangeClient, logger zerolog.Logger) *OrderManager {
	return &OrderManager{
		client: client,
		logger: logger.With().Str("component", "order_manager").Logger(),
	}
}

// PlaceEntry sends a market order with TP/SL attached. The levels are
// computed from the alert price so they are deterministic regardless of the
// actual fill price.
func (m *OrderManager) PlaceEntry(ctx context.Context, order EntryOrder) (*EntryResult, error) {
	if order.Qty <= 0 {
		return nil, errors.New("qty must be positive")
	}

	tp, sl, err := ComputeTargets(order.EntryPrice, order.Side, order.TPPercent, order.SLPercent, defaultTickDecimals)
	if err != nil {
		return nil, errors.Wrap(err, "failed to compute TP/SL")
	}

	if order.Leverage > 0 {
		if err := m.client.SetLeverage(ctx, "linear", order.Symbol, order.Leverage); err != nil {
			return nil, errors.Wrap(err, "failed to set leverage")
		}
	}

	req := OrderRequest{
		Category:   "linear",
		Symbol:     order.Symbol,
		Side:       order.Side,
		OrderType:  "Market",
		Qty:        strconv.FormatFloat(order.Qty, 'f', -1, 64),
		TakeProfit: tp,
		StopLoss:   sl,
	}

	ack, err := m.client.PlaceOrder(ctx, req)
	if err != nil {
		return nil, err
	}

	m.logger.Info().
		Str("symbol", order.Symbol).
		Str("side", order.Side).
		Float64("qty", order.Qty).
		Str("tp", tp).
		Str("sl", sl).
		Str("order_id", ack.OrderID).
		Msg("entry order placed")

	return &EntryResult{Ack: ack, TPPrice: tp, SLPrice: sl}, nil
}

// CloseFull closes the whole position for a symbol with a reduce-only market
// order in the opposite direction.
func (m *OrderManager) CloseFull(ctx context.Context, symbol string) (*entity.OrderAck, error) {
	positions, err := m.client.GetPositions(ctx, "linear", symbol)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get position")
	}
	if len(positions) == 0 {
		return nil, errors.Errorf("no position found for %s", symbol)
	}

	pos := positions[0]
	if pos.Size == 0 {
		return nil, errors.Errorf("position is already zero for %s", symbol)
	}

	closeSide := "Buy"
	if pos.Side == "Buy" {
		closeSide = "Sell"
	}

	req := OrderRequest{
		Category:   "linear",
		Symbol:     symbol,
		Side:       closeSide,
		OrderType:  "Market",
		Qty:        strconv.FormatFloat(math.Abs(pos.Size), 'f', -1, 64),
		ReduceOnly: true,
	}

	ack, err := m.client.PlaceOrder(ctx, req)
	if err != nil {
		return nil, err
	}

	m.logger.Info().
		Str("symbol", symbol).
		Str("side", closeSide).
		Float64("qty", math.Abs(pos.Size)).
		Str("order_id", ack.OrderID).
		Msg("position closed")

	return ack, nil
}

// AmendStops rewrites the TP/SL of an open position from new percentages.
func (m *OrderManager) AmendStops(ctx context.Context, symbol, side, entryPrice string, tpPercent, slPercent float64) (tp, sl string, err error) {
	tp, sl, err = ComputeTargets(entryPrice, side, tpPercent, slPercent, defaultTickDecimals)
	if err != nil {
		return "", "", errors.Wrap(err, "failed to compute TP/SL")
	}
	if err := m.client.SetTradingStop(ctx, "linear", symbol, tp, sl); err != nil {
		return "", "", err
	}
	return tp, sl, nil
}
