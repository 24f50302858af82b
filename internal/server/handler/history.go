package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/papersim/internal/domain"
)

// HistoryHandler serves recorded history from Postgres. It is only mounted
// when the recorder is enabled; the live engine keeps no long-term history.
type HistoryHandler struct {
	orders domain.OrderStore
	fills  domain.FillStore
	equity domain.EquityStore
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewHistoryHandler creates a HistoryHandler.
func NewHistoryHandler(
	orders domain.OrderStore,
	fills domain.FillStore,
	equity domain.EquityStore,
	audit domain.AuditStore,
	logger *slog.Logger,
) *HistoryHandler {
	return &HistoryHandler{orders: orders, fills: fills, equity: equity, audit: audit, logger: logger}
}

// ListOrders returns recorded orders for an agent.
// GET /api/history/agents/{id}/orders?limit=&offset=&since=&until=
func (h *HistoryHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.ListByAgent(r.Context(), r.PathValue("id"), parseListOpts(r))
	if err != nil {
		writeEngineError(w, r, h.logger, "list order history", err)
		return
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

// ListFills returns recorded fills for an agent.
// GET /api/history/agents/{id}/fills
func (h *HistoryHandler) ListFills(w http.ResponseWriter, r *http.Request) {
	fills, err := h.fills.ListByAgent(r.Context(), r.PathValue("id"), parseListOpts(r))
	if err != nil {
		writeEngineError(w, r, h.logger, "list fills", err)
		return
	}
	if fills == nil {
		fills = []domain.Fill{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"fills": fills})
}

// ListEquity returns an agent's equity curve.
// GET /api/history/agents/{id}/equity
func (h *HistoryHandler) ListEquity(w http.ResponseWriter, r *http.Request) {
	snaps, err := h.equity.ListByAgent(r.Context(), r.PathValue("id"), parseListOpts(r))
	if err != nil {
		writeEngineError(w, r, h.logger, "list equity", err)
		return
	}
	if snaps == nil {
		snaps = []domain.EquitySnapshot{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"equity": snaps})
}

// GetOrder returns one recorded order, including orders the engine has
// since forgotten.
// GET /api/history/orders/{id}
func (h *HistoryHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.orders.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeEngineError(w, r, h.logger, "get order history", err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// ListAudit returns the audit log.
// GET /api/history/audit
func (h *HistoryHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := h.audit.List(r.Context(), parseListOpts(r))
	if err != nil {
		writeEngineError(w, r, h.logger, "list audit", err)
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
