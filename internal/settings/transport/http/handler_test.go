package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tvbridge/internal/settings"
)

type fakeSettingsRepo struct {
	cfg   *settings.BotSettings
	locks map[string]*settings.SymbolLock
}

func newFakeSettingsRepo() *fakeSettingsRepo {
	return &fakeSettingsRepo{
		cfg:   settings.Defaults(),
		locks: map[string]*settings.SymbolLock{},
	}
}

func (f *fakeSettingsRepo) Get(_ context.Context) (*settings.BotSettings, error) { return f.cfg, nil }

func (f *fakeSettingsRepo) Upsert(_ context.Context, s *settings.BotSettings) error {
	f.cfg = s
	return nil
}

func (f *fakeSettingsRepo) ListLocks(_ context.Context) ([]*settings.SymbolLock, error) {
	out := make([]*settings.SymbolLock, 0, len(f.locks))
	for _, l := range f.locks {
		out = append(out, l)
	}
	return out, nil
}

func (f *fakeSettingsRepo) IsLocked(_ context.Context, symbol string) (bool, error) {
	_, ok := f.locks[symbol]
	return ok, nil
}

func (f *fakeSettingsRepo) CreateLock(_ context.Context, lock *settings.SymbolLock) error {
	lock.ID = int64(len(f.locks) + 1)
	f.locks[lock.Symbol] = lock
	return nil
}

func (f *fakeSettingsRepo) DeleteLock(_ context.Context, symbol string) (int64, error) {
	if _, ok := f.locks[symbol]; !ok {
		return 0, nil
	}
	delete(f.locks, symbol)
	return 1, nil
}

func newHandler() (*Handler, *fakeSettingsRepo) {
	repo := newFakeSettingsRepo()
	return NewHandler(repo, zerolog.Nop()), repo
}

func TestGetSettings_ReturnsDefaults(t *testing.T) {
	h, _ := newHandler()

	rec := httptest.NewRecorder()
	h.GetSettings(rec, httptest.NewRequest(http.MethodGet, "/api/settings", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var got settings.BotSettings
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.False(t, got.TradingEnabled)
	assert.Equal(t, 1, got.MinTier)
}

func TestUpdateSettings_Persists(t *testing.T) {
	h, repo := newHandler()

	body, _ := json.Marshal(map[string]interface{}{
		"trading_enabled":    true,
		"min_tier":           2,
		"default_tp_percent": 5.0,
		"default_sl_percent": 2.0,
		"default_leverage":   3,
		"default_qty":        0.5,
		"max_open_positions": 4,
		"sms_enabled":        true,
		"sms_recipient":      "+15551234567",
	})
	rec := httptest.NewRecorder()
	h.UpdateSettings(rec, httptest.NewRequest(http.MethodPut, "/api/settings", bytes.NewReader(body)))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, repo.cfg.TradingEnabled)
	assert.Equal(t, 2, repo.cfg.MinTier)
	assert.Equal(t, "+15551234567", repo.cfg.SMSRecipient)
}

func TestUpdateSettings_RejectsInvalidTier(t *testing.T) {
	h, _ := newHandler()

	body, _ := json.Marshal(map[string]interface{}{
		"min_tier":           7,
		"default_leverage":   1,
		"default_qty":        0.1,
		"max_open_positions": 5,
	})
	rec := httptest.NewRecorder()
	h.UpdateSettings(rec, httptest.NewRequest(http.MethodPut, "/api/settings", bytes.NewReader(body)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateSettings_RejectsBadRecipient(t *testing.T) {
	h, _ := newHandler()

	body, _ := json.Marshal(map[string]interface{}{
		"min_tier":           1,
		"default_leverage":   1,
		"default_qty":        0.1,
		"max_open_positions": 5,
		"sms_recipient":      "not-a-number",
	})
	rec := httptest.NewRecorder()
	h.UpdateSettings(rec, httptest.NewRequest(http.MethodPut, "/api/settings", bytes.NewReader(body)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateLock(t *testing.T) {
	h, repo := newHandler()

	body, _ := json.Marshal(map[string]interface{}{
		"symbol": "BTCUSDT",
		"reason": "manual intervention",
	})
	rec := httptest.NewRecorder()
	h.CreateLock(rec, httptest.NewRequest(http.MethodPost, "/api/locks", bytes.NewReader(body)))

	require.Equal(t, http.StatusCreated, rec.Code)
	locked, _ := repo.IsLocked(context.Background(), "BTCUSDT")
	assert.True(t, locked)
}

func TestCreateLock_RejectsLowercaseSymbol(t *testing.T) {
	h, _ := newHandler()

	body, _ := json.Marshal(map[string]interface{}{"symbol": "btcusdt"})
	rec := httptest.NewRecorder()
	h.CreateLock(rec, httptest.NewRequest(http.MethodPost, "/api/locks", bytes.NewReader(body)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteLock(t *testing.T) {
	h, repo := newHandler()
	repo.locks["BTCUSDT"] = &settings.SymbolLock{ID: 1, Symbol: "BTCUSDT"}

	r := chi.NewRouter()
	r.Delete("/api/locks/{symbol}", h.DeleteLock)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/locks/btcusdt", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, repo.locks)
}

func TestDeleteLock_NotFound(t *testing.T) {
	h, _ := newHandler()

	r := chi.NewRouter()
	r.Delete("/api/locks/{symbol}", h.DeleteLock)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/locks/ETHUSDT", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
