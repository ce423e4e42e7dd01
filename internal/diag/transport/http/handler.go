package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"tvbridge/internal/diag"
	"tvbridge/internal/diag/repository"
)

// Handler serves the logs and diagnostics dashboards.
type Handler struct {
	Repo repository.DiagRepository
	// BreakerState reports the exchange circuit breaker state.
	BreakerState func() string
	logger       zerolog.Logger
}

func NewHandler(repo repository.DiagRepository, breakerState func() string, logger zerolog.Logger) *Handler {
	return &Handler{
		Repo:         repo,
		BreakerState: breakerState,
		logger:       logger.With().Str("component", "diag_handler").Logger(),
	}
}

// ListLogs handles GET /api/logs.
func (h *Handler) ListLogs(w http.ResponseWriter, r *http.Request) {
	limit := clampInt(queryInt(r, "limit", 100), 1, 500)
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	logs, err := h.Repo.ListLogs(r.Context(), r.URL.Query().Get("level"), limit, offset)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list logs")
		writeJSONError(w, http.StatusInternalServerError, "failed to list logs")
		return
	}
	if logs == nil {
		logs = []*diag.BotLog{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"logs":   logs,
		"limit":  limit,
		"offset": offset,
	})
}

// CleanupLogs handles DELETE /api/logs?before=RFC3339.
func (h *Handler) CleanupLogs(w http.ResponseWriter, r *http.Request) {
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

	n, err := h.Repo.DeleteLogsBefore(r.Context(), before)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to delete logs")
		writeJSONError(w, http.StatusInternalServerError, "failed to delete logs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

// Diagnostics handles GET /api/diagnostics.
func (h *Handler) Diagnostics(w http.ResponseWriter, r *http.Request) {
	failures, err := h.Repo.ListFailures(r.Context(), 100)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list failures")
		writeJSONError(w, http.StatusInternalServerError, "failed to list failures")
		return
	}
	attempts, err := h.Repo.ListAttempts(r.Context(), 100)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list attempts")
		writeJSONError(w, http.StatusInternalServerError, "failed to list attempts")
		return
	}
	if failures == nil {
		failures = []*diag.DeliveryFailure{}
	}
	if attempts == nil {
		attempts = []*diag.RetryAttempt{}
	}

	breaker := "unknown"
	if h.BreakerState != nil {
		breaker = h.BreakerState()
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"failures":       failures,
		"retry_attempts": attempts,
		"breaker_state":  breaker,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
