package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"tvbridge/internal/alert"
	alertrepo "tvbridge/internal/alert/repository"
	bybitservice "tvbridge/internal/bybit/service"
	diagrepo "tvbridge/internal/diag/repository"
	"tvbridge/internal/metrics"
	"tvbridge/internal/notify"
	"tvbridge/internal/position"
	positionrepo "tvbridge/internal/position/repository"
	settingsrepo "tvbridge/internal/settings/repository"
)

// Gate errors. Each maps to a final alert status and an HTTP answer in the
// transport layer.
var (
	ErrTierFiltered      = errors.New("alert tier below configured minimum")
	ErrSymbolLocked      = errors.New("symbol is locked")
	ErrTradingDisabled   = errors.New("trading is disabled")
	ErrMaxPositions      = errors.New("max open positions reached")
	ErrDuplicatePosition = errors.New("position already open for symbol")
)

// OrderPlacer is the slice of the order manager the pipeline needs.
type OrderPlacer interface {
	PlaceEntry(ctx context.Context, order bybitservice.EntryOrder) (*bybitservice.EntryResult, error)
}

// PositionCloser closes a stored position; implemented by the position service.
type PositionCloser interface {
	CloseBySymbol(ctx context.Context, symbol string) (*position.Position, error)
}

// Service runs the webhook pipeline: gates, order placement, persistence and
// operator notification.
type Service struct {
	alerts    alertrepo.AlertRepository
	positions positionrepo.PositionRepository
	settings  settingsrepo.SettingsRepository
	orders    OrderPlacer
	closer    PositionCloser
	notifier  notify.Notifier
	diag      diagrepo.DiagRepository
	logger    zerolog.Logger
}

func NewService(
	alerts alertrepo.AlertRepository,
	positions positionrepo.PositionRepository,
	settings settingsrepo.SettingsRepository,
	orders OrderPlacer,
	closer PositionCloser,
	notifier notify.Notifier,
	diag diagrepo.DiagRepository,
	logger zerolog.Logger,
) *Service {
	return &Service{
		alerts:    alerts,
		positions: positions,
		settings:  settings,
		orders:    orders,
		closer:    closer,
		notifier:  notifier,
		diag:      diag,
		logger:    logger.With().Str("component", "alert_service").Logger(),
	}
}

// Process persists the incoming alert, walks it through the gates and, when
// everything passes, places the order and opens the position row. The alert
// row always ends in a terminal status, whatever happens downstream.
func (s *Service) Process(ctx context.Context, a *alert.Alert) error {
	a.Status = alert.StatusReceived
	if err := s.alerts.Save(ctx, a); err != nil {
		return errors.Wrap(err, "failed to persist alert")
	}

	cfg, err := s.settings.Get(ctx)
	if err != nil {
		s.finish(ctx, a, alert.StatusFailed, err.Error())
		return errors.Wrap(err, "failed to load settings")
	}

	if a.Action == alert.ActionClose {
		return s.processClose(ctx, a)
	}

	// Gates, cheapest first.
	if a.Tier < cfg.MinTier {
		s.finish(ctx, a, alert.StatusFiltered, fmt.Sprintf("tier %d below minimum %d", a.Tier, cfg.MinTier))
		return ErrTierFiltered
	}

	locked, err := s.settings.IsLocked(ctx, a.Symbol)
	if err != nil {
		s.finish(ctx, a, alert.StatusFailed, err.Error())
		return errors.Wrap(err, "failed to check symbol lock")
	}
	if locked {
		s.finish(ctx, a, alert.StatusLocked, "symbol lock active")
		return ErrSymbolLocked
	}

	if !cfg.TradingEnabled {
		s.finish(ctx, a, alert.StatusDisabled, "trading disabled in settings")
		return ErrTradingDisabled
	}

	open, err := s.positions.CountOpen(ctx)
	if err != nil {
		s.finish(ctx, a, alert.StatusFailed, err.Error())
		return errors.Wrap(err, "failed to count open positions")
	}
	if open >= cfg.MaxOpenPositions {
		s.finish(ctx, a, alert.StatusFiltered, fmt.Sprintf("%d positions already open", open))
		return ErrMaxPositions
	}

	existing, err := s.positions.GetOpenBySymbol(ctx, a.Symbol)
	if err != nil {
		s.finish(ctx, a, alert.StatusFailed, err.Error())
		return errors.Wrap(err, "failed to check open position")
	}
	if existing != nil {
		s.finish(ctx, a, alert.StatusLocked, "position already open")
		return ErrDuplicatePosition
	}

	// Fill the blanks from settings before touching the exchange.
	if a.Qty == 0 {
		a.Qty = cfg.DefaultQty
	}
	if a.TPPercent == 0 {
		a.TPPercent = cfg.DefaultTPPercent
	}
	if a.SLPercent == 0 {
		a.SLPercent = cfg.DefaultSLPercent
	}
	if a.Leverage == 0 {
		a.Leverage = cfg.DefaultLeverage
	}

	side := "Buy"
	if a.Action == alert.ActionSell {
		side = "Sell"
	}

	result, err := s.orders.PlaceEntry(ctx, bybitservice.EntryOrder{
		Symbol:     a.Symbol,
		Side:       side,
		Qty:        a.Qty,
		EntryPrice: strconv.FormatFloat(a.Price, 'f', -1, 64),
		TPPercent:  a.TPPercent,
		SLPercent:  a.SLPercent,
		Leverage:   a.Leverage,
	})
	if err != nil {
		s.finish(ctx, a, alert.StatusFailed, err.Error())
		s.diag.RecordFailure(ctx, "order", a.ID, err.Error())
		return errors.Wrap(err, "order placement failed")
	}

	pos := &position.Position{
		AlertID:    a.ID,
		Symbol:     a.Symbol,
		Side:       side,
		Qty:        a.Qty,
		EntryPrice: a.Price,
		TPPrice:    parsePrice(result.TPPrice),
		SLPrice:    parsePrice(result.SLPrice),
		Leverage:   a.Leverage,
		OrderID:    result.Ack.OrderID,
		Status:     position.StatusOpen,
	}
	if err := s.positions.Save(ctx, pos); err != nil {
		// The order is live on the exchange; record loudly but keep going.
		s.logger.Error().Err(err).Int64("alert_id", a.ID).Msg("order placed but position row not saved")
		s.diag.RecordFailure(ctx, "order", a.ID, "position row not saved: "+err.Error())
	} else {
		s.appendHistory(ctx, pos.ID, position.EventOpened, map[string]interface{}{
			"alert_id": a.ID,
			"order_id": result.Ack.OrderID,
			"tp":       result.TPPrice,
			"sl":       result.SLPrice,
		})
		if n, err := s.positions.CountOpen(ctx); err == nil {
			metrics.OpenPositions.Set(float64(n))
		}
	}

	s.finish(ctx, a, alert.StatusProcessed, "")
	s.diag.Log(ctx, "info", "webhook",
		fmt.Sprintf("%s %s qty=%v opened", side, a.Symbol, a.Qty),
		fmt.Sprintf(`{"alert_id":%d,"order_id":%q}`, a.ID, result.Ack.OrderID))

	s.notifyAsync(a, fmt.Sprintf("tvbridge: %s %s qty=%v tp=%s sl=%s",
		side, a.Symbol, a.Qty, result.TPPrice, result.SLPrice), cfg.SMSEnabled, cfg.SMSRecipient)

	return nil
}

func (s *Service) processClose(ctx context.Context, a *alert.Alert) error {
	pos, err := s.closer.CloseBySymbol(ctx, a.Symbol)
	if err != nil {
		s.finish(ctx, a, alert.StatusFailed, err.Error())
		if !errors.Is(err, position.ErrNoOpenPosition) {
			s.diag.RecordFailure(ctx, "order", a.ID, err.Error())
		}
		return errors.Wrap(err, "close failed")
	}

	s.finish(ctx, a, alert.StatusProcessed, "")
	s.diag.Log(ctx, "info", "webhook",
		fmt.Sprintf("%s closed, pnl=%v", a.Symbol, pos.RealizedPnl),
		fmt.Sprintf(`{"alert_id":%d,"position_id":%d}`, a.ID, pos.ID))

	cfg, cfgErr := s.settings.Get(ctx)
	if cfgErr == nil {
		s.notifyAsync(a, fmt.Sprintf("tvbridge: %s closed, pnl=%.2f", a.Symbol, pos.RealizedPnl),
			cfg.SMSEnabled, cfg.SMSRecipient)
	}
	return nil
}

func (s *Service) finish(ctx context.Context, a *alert.Alert, status, errText string) {
	a.Status = status
	a.Error = errText
	if err := s.alerts.UpdateStatus(ctx, a.ID, status, errText); err != nil {
		s.logger.Error().Err(err).Int64("alert_id", a.ID).Msg("failed to update alert status")
	}
	metrics.WebhookAlertsTotal.WithLabelValues(status).Inc()
}

// notifyAsync delivers the SMS off the request path; backoff can take longer
// than the webhook caller is willing to wait.
func (s *Service) notifyAsync(a *alert.Alert, text string, enabled bool, recipient string) {
	if !enabled || recipient == "" || s.notifier == nil {
		return
	}
	alertID := a.ID
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if err := s.notifier.Send(ctx, alertID, recipient, text); err != nil {
			s.logger.Error().Err(err).Int64("alert_id", alertID).Msg("sms delivery failed")
			s.diag.RecordFailure(ctx, "sms", alertID, err.Error())
		}
	}()
}

func (s *Service) appendHistory(ctx context.Context, positionID int64, event string, detail map[string]interface{}) {
	blob, err := json.Marshal(detail)
	if err != nil {
		blob = []byte("{}")
	}
	h := &position.HistoryEvent{PositionID: positionID, Event: event, Detail: string(blob)}
	if err := s.positions.AppendHistory(ctx, h); err != nil {
		s.logger.Error().Err(err).Int64("position_id", positionID).Msg("failed to append history")
	}
}

func parsePrice(s string) float64 {
	if s == "" {
		return 0
	}
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
