package handler

import (
	"net/http"

	"github.com/alanyoungcy/papersim/internal/domain"
)

// StatusSource reports engine state.
type StatusSource interface {
	Status() domain.EngineStatus
	Summary() domain.EngineSummary
}

// StatusHandler serves the engine status and portfolio overview.
type StatusHandler struct {
	mode   string
	engine StatusSource
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(mode string, engine StatusSource) *StatusHandler {
	return &StatusHandler{mode: mode, engine: engine}
}

// GetStatus responds with the run mode and engine state.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":   h.mode,
		"engine": h.engine.Status(),
	})
}

// GetSummary responds with the aggregate portfolio view.
// GET /api/summary
func (h *StatusHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Summary())
}
