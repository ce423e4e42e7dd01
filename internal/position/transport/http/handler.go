package http

import (
	"encoding/csv"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"tvbridge/internal/position"
	"tvbridge/internal/position/repository"
	"tvbridge/internal/position/service"
)

// Handler serves the positions, balance, history and export dashboards.
type Handler struct {
	Service  *service.Service
	Repo     repository.PositionRepository
	validate *validator.Validate
	logger   zerolog.Logger
}

func NewHandler(svc *service.Service, repo repository.PositionRepository, logger zerolog.Logger) *Handler {
	return &Handler{
		Service:  svc,
		Repo:     repo,
		validate: validator.New(),
		logger:   logger.With().Str("component", "position_handler").Logger(),
	}
}

// GetPositions handles GET /api/positions.
func (h *Handler) GetPositions(w http.ResponseWriter, r *http.Request) {
	positions, source, err := h.Service.LivePositions(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to load positions")
		writeJSONError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"source":    source,
		"positions": positions,
	})
}

// GetBalance handles GET /api/balance.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	payload, source, err := h.Service.Balance(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to load balance")
		writeJSONError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"source":  source,
		"balance": payload,
	})
}

// GetPnl handles GET /api/pnl.
func (h *Handler) GetPnl(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(r.URL.Query().Get("symbol"))
	limit := clampInt(queryInt(r, "limit", 50), 1, 200)

	records, source, err := h.Service.ClosedPnl(r.Context(), symbol, limit)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to load closed pnl")
		writeJSONError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"source": source,
		"pnl":    records,
	})
}

// ClosePosition handles POST /api/positions/{id}/close.
func (h *Handler) ClosePosition(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid position id")
		return
	}

	p, err := h.Service.CloseByID(r.Context(), id)
	if err != nil {
		h.logger.Error().Err(err).Int64("position_id", id).Msg("failed to close position")
		writeJSONError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// AmendStopsRequest is the PUT /api/positions/{id}/stops body. A zero
// percentage leaves that side of the protection untouched on the exchange.
type AmendStopsRequest struct {
	TPPercent float64 `json:"tp_percent" validate:"omitempty,gt=0,lt=100"`
	SLPercent float64 `json:"sl_percent" validate:"omitempty,gt=0,lt=100"`
}

// AmendStops handles PUT /api/positions/{id}/stops.
func (h *Handler) AmendStops(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid position id")
		return
	}

	var req AmendStopsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON format: "+err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeJSONError(w, http.StatusBadRequest, validationMessage(err))
		return
	}
	if req.TPPercent == 0 && req.SLPercent == 0 {
		writeJSONError(w, http.StatusBadRequest, "tp_percent or sl_percent is required")
		return
	}

	p, err := h.Service.AmendStops(r.Context(), id, req.TPPercent, req.SLPercent)
	if err != nil {
		h.logger.Error().Err(err).Int64("position_id", id).Msg("failed to amend stops")
		writeJSONError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// GetHistory handles GET /api/history.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	positionID := int64(queryInt(r, "position_id", 0))
	limit := clampInt(queryInt(r, "limit", 50), 1, 200)
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	events, err := h.Service.History(r.Context(), positionID, limit, offset)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to load history")
		writeJSONError(w, http.StatusInternalServerError, "failed to load history")
		return
	}
	if events == nil {
		events = []*position.HistoryEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"history": events,
		"limit":   limit,
		"offset":  offset,
	})
}

// Export handles GET /api/export?kind=positions|history&format=csv|json.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	kind := r.URL.Query().Get("kind")
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "json"
	}
	if format != "json" && format != "csv" {
		writeJSONError(w, http.StatusBadRequest, "format must be json or csv")
		return
	}

	switch kind {
	case "positions":
		h.exportPositions(w, r, format)
	case "history":
		h.exportHistory(w, r, format)
	default:
		writeJSONError(w, http.StatusBadRequest, "kind must be positions or history")
	}
}

func (h *Handler) exportPositions(w http.ResponseWriter, r *http.Request, format string) {
	open, err := h.Repo.GetOpen(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to load positions")
		return
	}
	closed, err := h.Repo.ListClosed(r.Context(), 10000, 0)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to load positions")
		return
	}
	rows := append(open, closed...)

	if format == "json" {
		setAttachment(w, "positions.json", "application/json")
		json.NewEncoder(w).Encode(rows)
		return
	}

	setAttachment(w, "positions.csv", "text/csv")
	cw := csv.NewWriter(w)
	cw.Write([]string{
		"id", "alert_id", "symbol", "side", "qty", "entry_price", "tp_price",
		"sl_price", "leverage", "order_id", "status", "realized_pnl",
		"opened_at", "closed_at",
	})
	for _, p := range rows {
		closedAt := ""
		if p.ClosedAt != nil {
			closedAt = p.ClosedAt.Format(time.RFC3339)
		}
		cw.Write([]string{
			strconv.FormatInt(p.ID, 10),
			strconv.FormatInt(p.AlertID, 10),
			p.Symbol,
			p.Side,
			strconv.FormatFloat(p.Qty, 'f', -1, 64),
			strconv.FormatFloat(p.EntryPrice, 'f', -1, 64),
			strconv.FormatFloat(p.TPPrice, 'f', -1, 64),
			strconv.FormatFloat(p.SLPrice, 'f', -1, 64),
			strconv.Itoa(p.Leverage),
			p.OrderID,
			p.Status,
			strconv.FormatFloat(p.RealizedPnl, 'f', -1, 64),
			p.OpenedAt.Format(time.RFC3339),
			closedAt,
		})
	}
	cw.Flush()
}

func (h *Handler) exportHistory(w http.ResponseWriter, r *http.Request, format string) {
	events, err := h.Repo.ListHistory(r.Context(), 0, 10000, 0)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to load history")
		return
	}

	if format == "json" {
		setAttachment(w, "history.json", "application/json")
		json.NewEncoder(w).Encode(events)
		return
	}

	setAttachment(w, "history.csv", "text/csv")
	cw := csv.NewWriter(w)
	cw.Write([]string{"id", "position_id", "event", "detail", "created_at"})
	for _, e := range events {
		cw.Write([]string{
			strconv.FormatInt(e.ID, 10),
			strconv.FormatInt(e.PositionID, 10),
			e.Event,
			e.Detail,
			e.CreatedAt.Format(time.RFC3339),
		})
	}
	cw.Flush()
}

func setAttachment(w http.ResponseWriter, filename, contentType string) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
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
