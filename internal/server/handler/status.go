package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/v1xingyue/tokenwords/internal/service"
)

// StatusSource reports the ledger head.
type StatusSource interface {
	Status(ctx context.Context) (service.Status, error)
}

// StatusHandler serves GET /api/status.
type StatusHandler struct {
	source    StatusSource
	mode      string
	startedAt time.Time
	logger    *slog.Logger
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(source StatusSource, mode string, startedAt time.Time, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{source: source, mode: mode, startedAt: startedAt, logger: logger}
}

// GetStatus returns the mode, uptime, current slot and state hash.
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.source.Status(r.Context())
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":           h.mode,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"program_id":     st.ProgramID,
		"slot":           st.Slot,
		"state_hash":     st.StateHash,
	})
}
