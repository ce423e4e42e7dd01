package http

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"tvbridge/internal/alert"
	"tvbridge/internal/alert/repository"
	"tvbridge/internal/alert/service"
	"tvbridge/internal/position"
)

// Handler serves the webhook ingest endpoint and the alerts dashboard.
type Handler struct {
	Service       *service.Service
	Alerts        repository.AlertRepository
	WebhookSecret string
	validate      *validator.Validate
	logger        zerolog.Logger
}

func NewHandler(svc *service.Service, alerts repository.AlertRepository, webhookSecret string, logger zerolog.Logger) *Handler {
	return &Handler{
		Service:       svc,
		Alerts:        alerts,
		WebhookSecret: webhookSecret,
		validate:      validator.New(),
		logger:        logger.With().Str("component", "alert_handler").Logger(),
	}
}

// WebhookRequest is the TradingView alert payload. TradingView cannot set
// custom headers, so the shared secret travels in the body.
type WebhookRequest struct {
	Token     string  `json:"token" validate:"required"`
	Strategy  string  `json:"strategy" validate:"required,max=100"`
	Symbol    string  `json:"symbol" validate:"required,alphanum,max=20"`
	Action    string  `json:"action" validate:"required,oneof=buy sell close"`
	Tier      int     `json:"tier" validate:"omitempty,min=1,max=3"`
	Price     float64 `json:"price" validate:"required_unless=Action close,omitempty,gt=0"`
	Qty       float64 `json:"qty" validate:"omitempty,gt=0"`
	TPPercent float64 `json:"tp_percent" validate:"omitempty,gt=0,lt=100"`
	SLPercent float64 `json:"sl_percent" validate:"omitempty,gt=0,lt=100"`
	Leverage  int     `json:"leverage" validate:"omitempty,min=1,max=100"`
}

// Webhook handles POST /webhook.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := contextWithTimeout(r, 30*time.Second)
	defer cancel()

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	var req WebhookRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON format: "+err.Error())
		return
	}

	if subtle.ConstantTimeCompare([]byte(req.Token), []byte(h.WebhookSecret)) != 1 {
		h.logger.Warn().Str("remote", r.RemoteAddr).Msg("webhook token mismatch")
		writeJSONError(w, http.StatusUnauthorized, "invalid token")
		return
	}

	if err := h.validate.Struct(req); err != nil {
		writeJSONError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	if req.Tier == 0 {
		req.Tier = 1
	}

	// The secret must not end up in the stored raw payload.
	stored := req
	stored.Token = "[redacted]"
	redacted, _ := json.Marshal(stored)

	a := &alert.Alert{
		Strategy:   req.Strategy,
		Symbol:     strings.ToUpper(req.Symbol),
		Action:     req.Action,
		Tier:       req.Tier,
		Price:      req.Price,
		Qty:        req.Qty,
		TPPercent:  req.TPPercent,
		SLPercent:  req.SLPercent,
		Leverage:   req.Leverage,
		RawPayload: string(redacted),
	}

	err = h.Service.Process(ctx, a)
	resp := map[string]interface{}{
		"alert_id": a.ID,
		"status":   a.Status,
	}
	if a.Error != "" {
		resp["error"] = a.Error
	}

	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, resp)
	case errors.Is(err, service.ErrTierFiltered), errors.Is(err, service.ErrTradingDisabled):
		// Gated, not a fault; answer 200 so TradingView does not retry.
		writeJSON(w, http.StatusOK, resp)
	case errors.Is(err, service.ErrSymbolLocked),
		errors.Is(err, service.ErrDuplicatePosition),
		errors.Is(err, service.ErrMaxPositions):
		writeJSON(w, http.StatusConflict, resp)
	case errors.Is(err, position.ErrNoOpenPosition):
		writeJSON(w, http.StatusNotFound, resp)
	default:
		h.logger.Error().Err(err).Int64("alert_id", a.ID).Msg("webhook processing failed")
		writeJSON(w, http.StatusBadGateway, resp)
	}
}

// ListAlerts handles GET /api/alerts.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	limit := clampInt(queryInt(r, "limit", 50), 1, 200)
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	alerts, err := h.Alerts.List(r.Context(), repository.ListFilter{
		Status: r.URL.Query().Get("status"),
		Symbol: strings.ToUpper(r.URL.Query().Get("symbol")),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list alerts")
		writeJSONError(w, http.StatusInternalServerError, "failed to list alerts")
		return
	}
	if alerts == nil {
		alerts = []*alert.Alert{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": alerts,
		"limit":  limit,
		"offset": offset,
	})
}

// GetAlert handles GET /api/alerts/{id}.
func (h *Handler) GetAlert(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid alert id")
		return
	}

	a, err := h.Alerts.GetByID(r.Context(), id)
	if err != nil {
		writeJSONError(w, http.StatusNotFound, "alert not found")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// CleanupAlerts handles DELETE /api/alerts?before=RFC3339.
func (h *Handler) CleanupAlerts(w http.ResponseWriter, r *http.Request) {
	beforeStr := r.URL.Query().Get("before")
	if beforeStr == "" {
		writeJSONError(w, http.StatusBadRequest, "before parameter is required")
		return
	}
	before, err := time.Parse(time.RFC3339, beforeStr)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "before must be RFC3339")
		return
	}

	n, err := h.Alerts.DeleteBefore(r.Context(), before)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to delete alerts")
		writeJSONError(w, http.StatusInternalServerError, "failed to delete alerts")
		return
	}

	h.logger.Info().Int64("deleted", n).Time("before", before).Msg("alerts cleaned up")
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}
