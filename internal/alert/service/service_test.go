package service

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tvbridge/internal/alert"
	alertrepo "tvbridge/internal/alert/repository"
	"tvbridge/internal/bybit/entity"
	bybitservice "tvbridge/internal/bybit/service"
	"tvbridge/internal/diag"
	"tvbridge/internal/position"
	"tvbridge/internal/settings"
)

type fakeAlertRepo struct {
	saved    []*alert.Alert
	statuses map[int64]string
	errors   map[int64]string
}

func newFakeAlertRepo() *fakeAlertRepo {
	return &fakeAlertRepo{statuses: map[int64]string{}, errors: map[int64]string{}}
}

func (f *fakeAlertRepo) Save(_ context.Context, a *alert.Alert) error {
	a.ID = int64(len(f.saved) + 1)
	f.saved = append(f.saved, a)
	f.statuses[a.ID] = a.Status
	return nil
}

func (f *fakeAlertRepo) UpdateStatus(_ context.Context, id int64, status, errText string) error {
	f.statuses[id] = status
	f.errors[id] = errText
	return nil
}

func (f *fakeAlertRepo) GetByID(_ context.Context, id int64) (*alert.Alert, error) {
	for _, a := range f.saved {
		if a.ID == id {
			return a, nil
		}
	}
	return nil, errors.New("not found")
}

func (f *fakeAlertRepo) List(_ context.Context, _ alertrepo.ListFilter) ([]*alert.Alert, error) {
	return f.saved, nil
}

func (f *fakeAlertRepo) DeleteBefore(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

type fakePositionRepo struct {
	open    []*position.Position
	saved   []*position.Position
	history []*position.HistoryEvent
}

func (f *fakePositionRepo) Save(_ context.Context, p *position.Position) error {
	p.ID = int64(len(f.saved) + 1)
	f.saved = append(f.saved, p)
	return nil
}

func (f *fakePositionRepo) GetByID(_ context.Context, id int64) (*position.Position, error) {
	for _, p := range f.saved {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, errors.New("not found")
}

func (f *fakePositionRepo) GetOpen(_ context.Context) ([]*position.Position, error) {
	return f.open, nil
}

func (f *fakePositionRepo) GetOpenBySymbol(_ context.Context, symbol string) (*position.Position, error) {
	for _, p := range f.open {
		if p.Symbol == symbol {
			return p, nil
		}
	}
	return nil, nil
}

func (f *fakePositionRepo) CountOpen(_ context.Context) (int, error) {
	return len(f.open), nil
}

func (f *fakePositionRepo) MarkClosed(_ context.Context, _ int64, _ float64) error { return nil }

func (f *fakePositionRepo) UpdateStops(_ context.Context, _ int64, _, _ float64) error { return nil }

func (f *fakePositionRepo) ListClosed(_ context.Context, _, _ int) ([]*position.Position, error) {
	return nil, nil
}

func (f *fakePositionRepo) AppendHistory(_ context.Context, h *position.HistoryEvent) error {
	f.history = append(f.history, h)
	return nil
}

func (f *fakePositionRepo) ListHistory(_ context.Context, _ int64, _, _ int) ([]*position.HistoryEvent, error) {
	return f.history, nil
}

func (f *fakePositionRepo) SaveBalanceSnapshot(_ context.Context, _ string) error { return nil }

func (f *fakePositionRepo) GetBalanceSnapshot(_ context.Context) (*position.BalanceSnapshot, error) {
	return nil, nil
}

type fakeSettingsRepo struct {
	cfg    *settings.BotSettings
	locked map[string]bool
}

func (f *fakeSettingsRepo) Get(_ context.Context) (*settings.BotSettings, error) { return f.cfg, nil }
func (f *fakeSettingsRepo) Upsert(_ context.Context, _ *settings.BotSettings) error {
	return nil
}
func (f *fakeSettingsRepo) ListLocks(_ context.Context) ([]*settings.SymbolLock, error) {
	return nil, nil
}
func (f *fakeSettingsRepo) IsLocked(_ context.Context, symbol string) (bool, error) {
	return f.locked[symbol], nil
}
func (f *fakeSettingsRepo) CreateLock(_ context.Context, _ *settings.SymbolLock) error { return nil }

func (f *fakeSettingsRepo) DeleteLock(_ context.Context, _ string) (int64, error) { return 0, nil }

type fakeDiagRepo struct {
	failures int
	logs     int
}

func (f *fakeDiagRepo) Log(_ context.Context, _, _, _, _ string) { f.logs++ }
func (f *fakeDiagRepo) ListLogs(_ context.Context, _ string, _, _ int) ([]*diag.BotLog, error) {
	return nil, nil
}
func (f *fakeDiagRepo) DeleteLogsBefore(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}
func (f *fakeDiagRepo) RecordFailure(_ context.Context, _ string, _ int64, _ string) { f.failures++ }
func (f *fakeDiagRepo) ListFailures(_ context.Context, _ int) ([]*diag.DeliveryFailure, error) {
	return nil, nil
}
func (f *fakeDiagRepo) RecordAttempt(_ context.Context, _ int64, _ int, _, _ string) {}
func (f *fakeDiagRepo) ListAttempts(_ context.Context, _ int) ([]*diag.RetryAttempt, error) {
	return nil, nil
}

type fakeOrderPlacer struct {
	placed []bybitservice.EntryOrder
	err    error
}

func (f *fakeOrderPlacer) PlaceEntry(_ context.Context, order bybitservice.EntryOrder) (*bybitservice.EntryResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.placed = append(f.placed, order)
	return &bybitservice.EntryResult{
		Ack:     &entity.OrderAck{OrderID: "order-1"},
		TPPrice: "45150.00",
		SLPrice: "42140.00",
	}, nil
}

type fakeCloser struct {
	closed []string
	err    error
}

func (f *fakeCloser) CloseBySymbol(_ context.Context, symbol string) (*position.Position, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.closed = append(f.closed, symbol)
	return &position.Position{ID: 7, Symbol: symbol, Status: position.StatusClosed, RealizedPnl: 12.5}, nil
}

type env struct {
	svc       *Service
	alerts    *fakeAlertRepo
	positions *fakePositionRepo
	settings  *fakeSettingsRepo
	orders    *fakeOrderPlacer
	closer    *fakeCloser
	diag      *fakeDiagRepo
}

func newEnv() *env {
	e := &env{
		alerts:    newFakeAlertRepo(),
		positions: &fakePositionRepo{},
		settings: &fakeSettingsRepo{
			cfg: &settings.BotSettings{
				ID:               1,
				TradingEnabled:   true,
				MinTier:          1,
				DefaultTPPercent: 5,
				DefaultSLPercent: 2,
				DefaultLeverage:  3,
				DefaultQty:       0.5,
				MaxOpenPositions: 5,
			},
			locked: map[string]bool{},
		},
		orders: &fakeOrderPlacer{},
		closer: &fakeCloser{},
		diag:   &fakeDiagRepo{},
	}
	e.svc = NewService(e.alerts, e.positions, e.settings, e.orders, e.closer, nil, e.diag, zerolog.Nop())
	return e
}

func buyAlert() *alert.Alert {
	return &alert.Alert{
		Strategy: "breakout",
		Symbol:   "BTCUSDT",
		Action:   alert.ActionBuy,
		Tier:     2,
		Price:    43000,
		Qty:      0.1,
	}
}

func TestProcess_BuyOpensPosition(t *testing.T) {
	e := newEnv()
	a := buyAlert()

	err := e.svc.Process(context.Background(), a)
	require.NoError(t, err)

	assert.Equal(t, alert.StatusProcessed, e.alerts.statuses[a.ID])
	require.Len(t, e.orders.placed, 1)
	assert.Equal(t, "Buy", e.orders.placed[0].Side)
	assert.Equal(t, "BTCUSDT", e.orders.placed[0].Symbol)

	require.Len(t, e.positions.saved, 1)
	p := e.positions.saved[0]
	assert.Equal(t, a.ID, p.AlertID)
	assert.Equal(t, "order-1", p.OrderID)
	assert.Equal(t, 45150.0, p.TPPrice)
	assert.Equal(t, 42140.0, p.SLPrice)
	assert.Equal(t, position.StatusOpen, p.Status)

	require.Len(t, e.positions.history, 1)
	assert.Equal(t, position.EventOpened, e.positions.history[0].Event)
}

func TestProcess_SellUsesSellSide(t *testing.T) {
	e := newEnv()
	a := buyAlert()
	a.Action = alert.ActionSell

	require.NoError(t, e.svc.Process(context.Background(), a))
	require.Len(t, e.orders.placed, 1)
	assert.Equal(t, "Sell", e.orders.placed[0].Side)
}

func TestProcess_DefaultsFilledFromSettings(t *testing.T) {
	e := newEnv()
	a := buyAlert()
	a.Qty = 0
	a.TPPercent = 0
	a.SLPercent = 0
	a.Leverage = 0

	require.NoError(t, e.svc.Process(context.Background(), a))
	require.Len(t, e.orders.placed, 1)

	placed := e.orders.placed[0]
	assert.Equal(t, 0.5, placed.Qty)
	assert.Equal(t, 5.0, placed.TPPercent)
	assert.Equal(t, 2.0, placed.SLPercent)
	assert.Equal(t, 3, placed.Leverage)
}

func TestProcess_TierBelowMinimumFiltered(t *testing.T) {
	e := newEnv()
	e.settings.cfg.MinTier = 3
	a := buyAlert()
	a.Tier = 1

	err := e.svc.Process(context.Background(), a)
	require.ErrorIs(t, err, ErrTierFiltered)
	assert.Equal(t, alert.StatusFiltered, e.alerts.statuses[a.ID])
	assert.Empty(t, e.orders.placed)
}

func TestProcess_LockedSymbolRejected(t *testing.T) {
	e := newEnv()
	e.settings.locked["BTCUSDT"] = true

	err := e.svc.Process(context.Background(), buyAlert())
	require.ErrorIs(t, err, ErrSymbolLocked)
	assert.Empty(t, e.orders.placed)
}

func TestProcess_TradingDisabled(t *testing.T) {
	e := newEnv()
	e.settings.cfg.TradingEnabled = false
	a := buyAlert()

	err := e.svc.Process(context.Background(), a)
	require.ErrorIs(t, err, ErrTradingDisabled)
	assert.Equal(t, alert.StatusDisabled, e.alerts.statuses[a.ID])
}

func TestProcess_MaxPositionsReached(t *testing.T) {
	e := newEnv()
	e.settings.cfg.MaxOpenPositions = 1
	e.positions.open = []*position.Position{{Symbol: "ETHUSDT", Status: position.StatusOpen}}

	err := e.svc.Process(context.Background(), buyAlert())
	require.ErrorIs(t, err, ErrMaxPositions)
	assert.Empty(t, e.orders.placed)
}

func TestProcess_DuplicatePositionRejected(t *testing.T) {
	e := newEnv()
	e.positions.open = []*position.Position{{Symbol: "BTCUSDT", Status: position.StatusOpen}}

	err := e.svc.Process(context.Background(), buyAlert())
	require.ErrorIs(t, err, ErrDuplicatePosition)
	assert.Empty(t, e.orders.placed)
}

func TestProcess_OrderFailureMarksFailed(t *testing.T) {
	e := newEnv()
	e.orders.err = errors.New("exchange down")
	a := buyAlert()

	err := e.svc.Process(context.Background(), a)
	require.Error(t, err)
	assert.Equal(t, alert.StatusFailed, e.alerts.statuses[a.ID])
	assert.Contains(t, e.alerts.errors[a.ID], "exchange down")
	assert.Equal(t, 1, e.diag.failures)
	assert.Empty(t, e.positions.saved)
}

func TestProcess_CloseDelegatesToCloser(t *testing.T) {
	e := newEnv()
	a := buyAlert()
	a.Action = alert.ActionClose
	a.Price = 0

	require.NoError(t, e.svc.Process(context.Background(), a))
	assert.Equal(t, []string{"BTCUSDT"}, e.closer.closed)
	assert.Equal(t, alert.StatusProcessed, e.alerts.statuses[a.ID])
	assert.Empty(t, e.orders.placed)
}

func TestProcess_CloseWithoutOpenPosition(t *testing.T) {
	e := newEnv()
	e.closer.err = position.ErrNoOpenPosition
	a := buyAlert()
	a.Action = alert.ActionClose

	err := e.svc.Process(context.Background(), a)
	require.ErrorIs(t, err, position.ErrNoOpenPosition)
	assert.Equal(t, alert.StatusFailed, e.alerts.statuses[a.ID])
	// A missing position is an operator mistake, not a delivery failure.
	assert.Equal(t, 0, e.diag.failures)
}
