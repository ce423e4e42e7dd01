package http

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"tvbridge/internal/settings"
	"tvbridge/internal/settings/repository"
)

type Handler struct {
	Repo     repository.SettingsRepository
	validate *validator.Validate
	logger   zerolog.Logger
}

func NewHandler(repo repository.SettingsRepository, logger zerolog.Logger) *Handler {
	return &Handler{
		Repo:     repo,
		validate: validator.New(),
		logger:   logger.With().Str("component", "settings_handler").Logger(),
	}
}

// GetSettings handles GET /api/settings.
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	s, err := h.Repo.Get(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to load settings")
		writeJSONError(w, http.StatusInternalServerError, "failed to load settings")
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// UpdateSettingsRequest is the PUT /api/settings body.
type UpdateSettingsRequest struct {
	TradingEnabled   bool    `json:"trading_enabled"`
	MinTier          int     `json:"min_tier" validate:"min=1,max=3"`
	DefaultTPPercent float64 `json:"default_tp_percent" validate:"gte=0,lt=100"`
	DefaultSLPercent float64 `json:"default_sl_percent" validate:"gte=0,lt=100"`
	DefaultLeverage  int     `json:"default_leverage" validate:"min=1,max=100"`
	DefaultQty       float64 `json:"default_qty" validate:"gt=0"`
	MaxOpenPositions int     `json:"max_open_positions" validate:"min=1,max=100"`
	SMSEnabled       bool    `json:"sms_enabled"`
	SMSRecipient     string  `json:"sms_recipient" validate:"omitempty,e164"`
}

// UpdateSettings handles PUT /api/settings.
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req UpdateSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON format: "+err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeJSONError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	s := &settings.BotSettings{
		ID:               1,
		TradingEnabled:   req.TradingEnabled,
		MinTier:          req.MinTier,
		DefaultTPPercent: req.DefaultTPPercent,
		DefaultSLPercent: req.DefaultSLPercent,
		DefaultLeverage:  req.DefaultLeverage,
		DefaultQty:       req.DefaultQty,
		MaxOpenPositions: req.MaxOpenPositions,
		SMSEnabled:       req.SMSEnabled,
		SMSRecipient:     req.SMSRecipient,
	}
	if err := h.Repo.Upsert(r.Context(), s); err != nil {
		h.logger.Error().Err(err).Msg("failed to save settings")
		writeJSONError(w, http.StatusInternalServerError, "failed to save settings")
		return
	}

	h.logger.Info().Bool("trading_enabled", s.TradingEnabled).Int("min_tier", s.MinTier).Msg("settings updated")
	writeJSON(w, http.StatusOK, s)
}

// ListLocks handles GET /api/locks.
func (h *Handler) ListLocks(w http.ResponseWriter, r *http.Request) {
	locks, err := h.Repo.ListLocks(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list locks")
		writeJSONError(w, http.StatusInternalServerError, "failed to list locks")
		return
	}
	if locks == nil {
		locks = []*settings.SymbolLock{}
	}
	writeJSON(w, http.StatusOK, locks)
}

// CreateLockRequest is the POST /api/locks body.
type CreateLockRequest struct {
	Symbol      string     `json:"symbol" validate:"required,alphanum,uppercase,max=20"`
	Reason      string     `json:"reason" validate:"max=255"`
	LockedUntil *time.Time `json:"locked_until"`
}

// CreateLock handles POST /api/locks.
func (h *Handler) CreateLock(w http.ResponseWriter, r *http.Request) {
	var req CreateLockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON format: "+err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeJSONError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	lock := &settings.SymbolLock{
		Symbol:      req.Symbol,
		Reason:      req.Reason,
		LockedUntil: req.LockedUntil,
	}
	if err := h.Repo.CreateLock(r.Context(), lock); err != nil {
		h.logger.Error().Err(err).Str("symbol", req.Symbol).Msg("failed to create lock")
		writeJSONError(w, http.StatusInternalServerError, "failed to create lock")
		return
	}

	h.logger.Info().Str("symbol", lock.Symbol).Msg("symbol locked")
	writeJSON(w, http.StatusCreated, lock)
}

// DeleteLock handles DELETE /api/locks/{symbol}.
func (h *Handler) DeleteLock(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(chi.URLParam(r, "symbol"))
	n, err := h.Repo.DeleteLock(r.Context(), symbol)
	if err != nil {
		h.logger.Error().Err(err).Str("symbol", symbol).Msg("failed to delete lock")
		writeJSONError(w, http.StatusInternalServerError, "failed to delete lock")
		return
	}
	if n == 0 {
		writeJSONError(w, http.StatusNotFound, "lock not found")
		return
	}

	h.logger.Info().Str("symbol", symbol).Msg("symbol unlocked")
	writeJSON(w, http.StatusOK, map[string]interface{}{"deleted": n})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func validationMessage(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	fields := make([]string, 0, len(verrs))
	for _, ve := range verrs {
		fields = append(fields, strings.ToLower(ve.Field())+" failed "+ve.Tag())
	}
	return "validation failed: " + strings.Join(fields, ", ")
}
