package service

import (
	"context"
	"strconv"
	"testing"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tvbridge/internal/bybit/entity"
)

type fakeExchange struct {
	placed    []OrderRequest
	positions []entity.Position
	posErr    error
	placeErr  error
	levErr    error
	stops     []string
	leverages []string
}

func (f *fakeExchange) PlaceOrder(_ context.Context, req OrderRequest) (*entity.OrderAck, error) {
	if f.placeErr != nil {
		return nil, f.placeErr
	}
	f.placed = append(f.placed, req)
	return &entity.OrderAck{OrderID: "order-1"}, nil
}

func (f *fakeExchange) SetLeverage(_ context.Context, _, symbol string, leverage int) error {
	if f.levErr != nil {
		return f.levErr
	}
	f.leverages = append(f.leverages, symbol+":"+strconv.Itoa(leverage))
	return nil
}

func (f *fakeExchange) SetTradingStop(_ context.Context, _, symbol, tp, sl string) error {
	f.stops = append(f.stops, symbol+":"+tp+":"+sl)
	return nil
}

func (f *fakeExchange) GetPositions(_ context.Context, _, _ string) ([]entity.Position, error) {
	return f.positions, f.posErr
}

func (f *fakeExchange) GetWalletBalance(_ context.Context) (*entity.WalletBalance, error) {
	return &entity.WalletBalance{}, nil
}

func (f *fakeExchange) GetClosedPnl(_ context.Context, _, _ string, _ int) ([]entity.ClosedPnl, error) {
	return nil, nil
}

func (f *fakeExchange) Ping(_ context.Context) error { return nil }

func (f *fakeExchange) BreakerState() string { return "closed" }

func TestOrderManager_PlaceEntry(t *testing.T) {
	fake := &fakeExchange{}
	m := NewOrderManager(fake, zerolog.Nop())

	result, err := m.PlaceEntry(context.Background(), EntryOrder{
		Symbol:     "BTCUSDT",
		Side:       "Buy",
		Qty:        0.5,
		EntryPrice: "43000",
		TPPercent:  5,
		SLPercent:  2,
	})

	require.NoError(t, err)
	assert.Equal(t, "45150.00", result.TPPrice)
	assert.Equal(t, "42140.00", result.SLPrice)

	require.Len(t, fake.placed, 1)
	req := fake.placed[0]
	assert.Equal(t, "linear", req.Category)
	assert.Equal(t, "Market", req.OrderType)
	assert.Equal(t, "0.5", req.Qty)
	assert.Equal(t, "45150.00", req.TakeProfit)
	assert.Equal(t, "42140.00", req.StopLoss)
	assert.False(t, req.ReduceOnly)
}

func TestOrderManager_PlaceEntryAppliesLeverage(t *testing.T) {
	fake := &fakeExchange{}
	m := NewOrderManager(fake, zerolog.Nop())

	_, err := m.PlaceEntry(context.Background(), EntryOrder{
		Symbol:     "BTCUSDT",
		Side:       "Buy",
		Qty:        0.5,
		EntryPrice: "43000",
		Leverage:   10,
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"BTCUSDT:10"}, fake.leverages)
}

func TestOrderManager_PlaceEntrySkipsZeroLeverage(t *testing.T) {
	fake := &fakeExchange{}
	m := NewOrderManager(fake, zerolog.Nop())

	_, err := m.PlaceEntry(context.Background(), EntryOrder{
		Symbol:     "BTCUSDT",
		Side:       "Buy",
		Qty:        0.5,
		EntryPrice: "43000",
	})

	require.NoError(t, err)
	assert.Empty(t, fake.leverages)
}

func TestOrderManager_PlaceEntryLeverageFailureBlocksOrder(t *testing.T) {
	fake := &fakeExchange{levErr: errors.New("leverage rejected")}
	m := NewOrderManager(fake, zerolog.Nop())

	_, err := m.PlaceEntry(context.Background(), EntryOrder{
		Symbol:     "BTCUSDT",
		Side:       "Buy",
		Qty:        0.5,
		EntryPrice: "43000",
		Leverage:   10,
	})

	require.Error(t, err)
	assert.Empty(t, fake.placed, "no entry order after a failed leverage call")
}

func TestOrderManager_PlaceEntryRejectsZeroQty(t *testing.T) {
	m := NewOrderManager(&fakeExchange{}, zerolog.Nop())

	_, err := m.PlaceEntry(context.Background(), EntryOrder{
		Symbol:     "BTCUSDT",
		Side:       "Buy",
		Qty:        0,
		EntryPrice: "43000",
	})

	assert.Error(t, err)
}

func TestOrderManager_CloseFull(t *testing.T) {
	fake := &fakeExchange{
		positions: []entity.Position{{Symbol: "BTCUSDT", Side: "Buy", Size: 0.5}},
	}
	m := NewOrderManager(fake, zerolog.Nop())

	ack, err := m.CloseFull(context.Background(), "BTCUSDT")

	require.NoError(t, err)
	assert.Equal(t, "order-1", ack.OrderID)

	require.Len(t, fake.placed, 1)
	req := fake.placed[0]
	assert.Equal(t, "Sell", req.Side) // opposite of the open side
	assert.Equal(t, "0.5", req.Qty)
	assert.True(t, req.ReduceOnly)
}

func TestOrderManager_CloseFullNoPosition(t *testing.T) {
	m := NewOrderManager(&fakeExchange{}, zerolog.Nop())

	_, err := m.CloseFull(context.Background(), "BTCUSDT")

	assert.Error(t, err)
}

func TestOrderManager_CloseFullPropagatesExchangeError(t *testing.T) {
	fake := &fakeExchange{posErr: errors.New("exchange down")}
	m := NewOrderManager(fake, zerolog.Nop())

	_, err := m.CloseFull(context.Background(), "BTCUSDT")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "exchange down")
}
