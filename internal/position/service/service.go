package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"tvbridge/internal/bybit/entity"
	bybitservice "tvbridge/internal/bybit/service"
	diagrepo "tvbridge/internal/diag/repository"
	"tvbridge/internal/metrics"
	"tvbridge/internal/position"
	"tvbridge/internal/position/repository"
)

// Data sources reported alongside dashboard payloads.
const (
	SourceExchange = "exchange"
	SourceLocal    = "local"
)

// Orders is the slice of the order manager needed to flatten a position or
// rewrite its protection levels.
type Orders interface {
	CloseFull(ctx context.Context, symbol string) (*entity.OrderAck, error)
	AmendStops(ctx context.Context, symbol, side, entryPrice string, tpPercent, slPercent float64) (tp, sl string, err error)
}

// Service serves the positions/balances/history dashboards. Reads prefer the
// exchange and fall back to stored rows when every endpoint is geo-blocked.
type Service struct {
	repo   repository.PositionRepository
	client bybitservice.ExchangeClient
	orders Orders
	diag   diagrepo.DiagRepository
	logger zerolog.Logger
}

func NewService(
	repo repository.PositionRepository,
	client bybitservice.ExchangeClient,
	orders Orders,
	diag diagrepo.DiagRepository,
	logger zerolog.Logger,
) *Service {
	return &Service{
		repo:   repo,
		client: client,
		orders: orders,
		diag:   diag,
		logger: logger.With().Str("component", "position_service").Logger(),
	}
}

// LivePositions returns exchange positions, or the stored open rows with
// source "local" when the exchange is unreachable.
func (s *Service) LivePositions(ctx context.Context) ([]entity.Position, string, error) {
	live, err := s.client.GetPositions(ctx, "linear", "")
	if err == nil {
		return live, SourceExchange, nil
	}
	if !errors.Is(err, bybitservice.ErrGeoBlocked) {
		return nil, "", err
	}

	s.logger.Warn().Err(err).Msg("exchange unreachable, serving stored positions")
	stored, repoErr := s.repo.GetOpen(ctx)
	if repoErr != nil {
		return nil, "", repoErr
	}

	out := make([]entity.Position, 0, len(stored))
	for _, p := range stored {
		out = append(out, entity.Position{
			Symbol:     p.Symbol,
			Side:       p.Side,
			Size:       p.Qty,
			AvgPrice:   p.EntryPrice,
			Leverage:   float64(p.Leverage),
			TakeProfit: p.TPPrice,
			StopLoss:   p.SLPrice,
		})
	}
	return out, SourceLocal, nil
}

// Balance returns the wallet snapshot as raw JSON plus its source. Fresh
// exchange data is cached so geo-blocked periods still have something to show.
func (s *Service) Balance(ctx context.Context) (json.RawMessage, string, error) {
	balance, err := s.client.GetWalletBalance(ctx)
	if err == nil {
		payload, marshalErr := json.Marshal(balance)
		if marshalErr != nil {
			return nil, "", marshalErr
		}
		if saveErr := s.repo.SaveBalanceSnapshot(ctx, string(payload)); saveErr != nil {
			s.logger.Error().Err(saveErr).Msg("failed to cache balance snapshot")
		}
		return payload, SourceExchange, nil
	}
	if !errors.Is(err, bybitservice.ErrGeoBlocked) {
		return nil, "", err
	}

	s.logger.Warn().Err(err).Msg("exchange unreachable, serving cached balance")
	snapshot, repoErr := s.repo.GetBalanceSnapshot(ctx)
	if repoErr != nil {
		return nil, "", repoErr
	}
	if snapshot == nil {
		return nil, "", errors.Wrap(err, "no cached balance available")
	}
	return json.RawMessage(snapshot.Payload), SourceLocal, nil
}

// ClosedPnl returns settled trades from the exchange, or the locally closed
// rows reshaped when geo-blocked.
func (s *Service) ClosedPnl(ctx context.Context, symbol string, limit int) ([]entity.ClosedPnl, string, error) {
	records, err := s.client.GetClosedPnl(ctx, "linear", symbol, limit)
	if err == nil {
		return records, SourceExchange, nil
	}
	if !errors.Is(err, bybitservice.ErrGeoBlocked) {
		return nil, "", err
	}

	s.logger.Warn().Err(err).Msg("exchange unreachable, serving stored pnl")
	closed, repoErr := s.repo.ListClosed(ctx, limit, 0)
	if repoErr != nil {
		return nil, "", repoErr
	}

	out := make([]entity.ClosedPnl, 0, len(closed))
	for _, p := range closed {
		if symbol != "" && p.Symbol != symbol {
			continue
		}
		record := entity.ClosedPnl{
			Symbol:        p.Symbol,
			Side:          p.Side,
			Qty:           p.Qty,
			AvgEntryPrice: p.EntryPrice,
			ClosedPnl:     p.RealizedPnl,
			OrderID:       p.OrderID,
		}
		if p.ClosedAt != nil {
			record.UpdatedAtMs = p.ClosedAt.UnixMilli()
		}
		out = append(out, record)
	}
	return out, SourceLocal, nil
}

// CloseByID flattens the position row with the given id.
func (s *Service) CloseByID(ctx context.Context, id int64) (*position.Position, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Status != position.StatusOpen {
		return nil, errors.Errorf("position %d is not open", id)
	}
	return s.close(ctx, p)
}

// CloseBySymbol flattens the newest open position for a symbol. Used by the
// webhook pipeline for close alerts.
func (s *Service) CloseBySymbol(ctx context.Context, symbol string) (*position.Position, error) {
	p, err := s.repo.GetOpenBySymbol(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, position.ErrNoOpenPosition
	}
	return s.close(ctx, p)
}

func (s *Service) close(ctx context.Context, p *position.Position) (*position.Position, error) {
	ack, err := s.orders.CloseFull(ctx, p.Symbol)
	if err != nil {
		return nil, errors.Wrap(err, "failed to close on exchange")
	}

	// Best effort: the fill may take a moment to show up in closed-pnl.
	realized := 0.0
	if records, pnlErr := s.client.GetClosedPnl(ctx, "linear", p.Symbol, 1); pnlErr == nil && len(records) > 0 {
		realized = records[0].ClosedPnl
	}

	if err := s.repo.MarkClosed(ctx, p.ID, realized); err != nil {
		return nil, err
	}
	p.Status = position.StatusClosed
	p.RealizedPnl = realized

	detail, _ := json.Marshal(map[string]interface{}{
		"close_order_id": ack.OrderID,
		"realized_pnl":   realized,
	})
	h := &position.HistoryEvent{PositionID: p.ID, Event: position.EventClosed, Detail: string(detail)}
	if err := s.repo.AppendHistory(ctx, h); err != nil {
		s.logger.Error().Err(err).Int64("position_id", p.ID).Msg("failed to append close history")
	}

	if n, err := s.repo.CountOpen(ctx); err == nil {
		metrics.OpenPositions.Set(float64(n))
	}

	s.diag.Log(ctx, "info", "position",
		fmt.Sprintf("%s closed, pnl=%.2f", p.Symbol, realized),
		fmt.Sprintf(`{"position_id":%d,"order_id":%q}`, p.ID, ack.OrderID))

	return p, nil
}

// AmendStops recomputes the TP/SL of an open position from new percentages,
// pushes them to the exchange and records the amendment.
func (s *Service) AmendStops(ctx context.Context, id int64, tpPercent, slPercent float64) (*position.Position, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Status != position.StatusOpen {
		return nil, errors.Errorf("position %d is not open", id)
	}

	entryPrice := strconv.FormatFloat(p.EntryPrice, 'f', -1, 64)
	tp, sl, err := s.orders.AmendStops(ctx, p.Symbol, p.Side, entryPrice, tpPercent, slPercent)
	if err != nil {
		return nil, errors.Wrap(err, "failed to amend stops on exchange")
	}

	tpPrice := parsePrice(tp)
	slPrice := parsePrice(sl)
	if err := s.repo.UpdateStops(ctx, p.ID, tpPrice, slPrice); err != nil {
		return nil, err
	}
	p.TPPrice = tpPrice
	p.SLPrice = slPrice

	detail, _ := json.Marshal(map[string]interface{}{
		"tp": tp,
		"sl": sl,
	})
	h := &position.HistoryEvent{PositionID: p.ID, Event: position.EventAmended, Detail: string(detail)}
	if err := s.repo.AppendHistory(ctx, h); err != nil {
		s.logger.Error().Err(err).Int64("position_id", p.ID).Msg("failed to append amend history")
	}

	s.diag.Log(ctx, "info", "position",
		fmt.Sprintf("%s stops amended, tp=%s sl=%s", p.Symbol, tp, sl),
		fmt.Sprintf(`{"position_id":%d}`, p.ID))

	return p, nil
}

func parsePrice(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

// History lists lifecycle events, optionally narrowed to one position.
func (s *Service) History(ctx context.Context, positionID int64, limit, offset int) ([]*position.HistoryEvent, error) {
	return s.repo.ListHistory(ctx, positionID, limit, offset)
}

// Diagnostics summarizes recent failures and retry attempts plus the breaker
// state, for the diagnostics dashboard.
func (s *Service) BreakerState() string {
	return s.client.BreakerState()
}
