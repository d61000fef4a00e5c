package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/v1xingyue/tokenwords/internal/service"
)

// PredictionHandler serves decoded room and prediction state.
type PredictionHandler struct {
	query  *service.QueryService
	logger *slog.Logger
}

// NewPredictionHandler creates a PredictionHandler.
func NewPredictionHandler(query *service.QueryService, logger *slog.Logger) *PredictionHandler {
	return &PredictionHandler{query: query, logger: logger}
}

// GetRoom serves GET /api/rooms/{key}.
func (h *PredictionHandler) GetRoom(w http.ResponseWriter, r *http.Request) {
	key, ok := pathKey(w, r, "key")
	if !ok {
		return
	}
	room, err := h.query.Room(r.Context(), key)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

// GetPrediction serves GET /api/predictions/{key}.
func (h *PredictionHandler) GetPrediction(w http.ResponseWriter, r *http.Request) {
	key, ok := pathKey(w, r, "key")
	if !ok {
		return
	}
	p, err := h.query.Prediction(r.Context(), key)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ListPredictions serves GET /api/predictions?room=&user=&open=true.
func (h *PredictionHandler) ListPredictions(w http.ResponseWriter, r *http.Request) {
	room, ok := optionalKey(w, r, "room")
	if !ok {
		return
	}
	user, ok := optionalKey(w, r, "user")
	if !ok {
		return
	}
	open, _ := strconv.ParseBool(r.URL.Query().Get("open"))
	opts := parseListOpts(r)

	preds, err := h.query.ListPredictions(r.Context(), service.PredictionFilter{
		Room:     room,
		User:     user,
		OpenOnly: open,
		Limit:    opts.Limit,
		Offset:   opts.Offset,
	})
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	if preds == nil {
		preds = []service.PredictionView{}
	}
	writeJSON(w, http.StatusOK, preds)
}

// ListSettlements serves GET /api/settlements.
func (h *PredictionHandler) ListSettlements(w http.ResponseWriter, r *http.Request) {
	rows, err := h.query.Settlements(r.Context(), parseListOpts(r))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}
