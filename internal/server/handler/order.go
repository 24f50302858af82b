package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/papersim/internal/domain"
)

// OrderEngine is the order lifecycle surface of the engine.
type OrderEngine interface {
	ExecuteOrder(ctx context.Context, agentID string, spec domain.OrderSpec) (domain.Order, error)
	CancelOrder(ctx context.Context, orderID string) (domain.Order, error)
	Order(id string) (domain.Order, error)
	Orders(agentID string) []domain.Order
	OpenOrders() []domain.Order
}

// OrderHandler serves order placement, cancellation and lookup.
type OrderHandler struct {
	engine OrderEngine
	logger *slog.Logger
}

// NewOrderHandler creates an OrderHandler.
func NewOrderHandler(engine OrderEngine, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{engine: engine, logger: logger}
}

// PlaceOrder submits an order for an agent. A rejected placement answers
// with the status of the rejection and includes the rejected order.
// POST /api/agents/{id}/orders
func (h *OrderHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req domain.OrderRequest
	if err := decodeBody(w, r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	spec, err := domain.ParseOrderRequest(req)
	if err != nil {
		writeEngineError(w, r, h.logger, "place order", err)
		return
	}

	order, err := h.engine.ExecuteOrder(r.Context(), r.PathValue("id"), spec)
	if err != nil {
		var rej *domain.RejectError
		if errors.As(err, &rej) && order.ID != "" {
			writeJSON(w, statusFor(err), errorBody{Error: err.Error(), Reason: rej.Reason, Order: &order})
			return
		}
		writeEngineError(w, r, h.logger, "place order", err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

// ListAgentOrders returns an agent's orders in placement order.
// GET /api/agents/{id}/orders
func (h *OrderHandler) ListAgentOrders(w http.ResponseWriter, r *http.Request) {
	orders := h.engine.Orders(r.PathValue("id"))
	if orders == nil {
		orders = []domain.Order{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

// ListOpenOrders returns every working order across agents.
// GET /api/orders
func (h *OrderHandler) ListOpenOrders(w http.ResponseWriter, r *http.Request) {
	orders := h.engine.OpenOrders()
	if orders == nil {
		orders = []domain.Order{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

// GetOrder returns one order.
// GET /api/orders/{id}
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.engine.Order(r.PathValue("id"))
	if err != nil {
		writeEngineError(w, r, h.logger, "get order", err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// CancelOrder cancels a pending or partially filled order.
// DELETE /api/orders/{id}
func (h *OrderHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.engine.CancelOrder(r.Context(), r.PathValue("id"))
	if err != nil {
		writeEngineError(w, r, h.logger, "cancel order", err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}
