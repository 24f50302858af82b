package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/papersim/internal/domain"
)

// AgentEngine is the agent registry surface of the engine.
type AgentEngine interface {
	CreateAgent(ctx context.Context, cfg domain.AgentConfig) (domain.Agent, error)
	Agent(id string) (domain.Agent, error)
	Agents() []domain.Agent
	Portfolio(agentID string) (domain.Portfolio, error)
	PauseAgent(ctx context.Context, id, reason string) (domain.Agent, error)
	ActivateAgent(ctx context.Context, id, reason string) (domain.Agent, error)
	StopAgent(ctx context.Context, id, reason string) (domain.Agent, error)
	RemoveAgent(ctx context.Context, id string) error
}

// AgentHandler serves agent lifecycle endpoints.
type AgentHandler struct {
	engine AgentEngine
	logger *slog.Logger
}

// NewAgentHandler creates an AgentHandler.
func NewAgentHandler(engine AgentEngine, logger *slog.Logger) *AgentHandler {
	return &AgentHandler{engine: engine, logger: logger}
}

// ListAgents returns every agent in creation order.
// GET /api/agents
func (h *AgentHandler) ListAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"agents": h.engine.Agents()})
}

// CreateAgent registers a new agent.
// POST /api/agents
func (h *AgentHandler) CreateAgent(w http.ResponseWriter, r *http.Request) {
	var cfg domain.AgentConfig
	if err := decodeBody(w, r, &cfg, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	agent, err := h.engine.CreateAgent(r.Context(), cfg)
	if err != nil {
		writeEngineError(w, r, h.logger, "create agent", err)
		return
	}
	writeJSON(w, http.StatusCreated, agent)
}

// GetAgent returns one agent.
// GET /api/agents/{id}
func (h *AgentHandler) GetAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := h.engine.Agent(r.PathValue("id"))
	if err != nil {
		writeEngineError(w, r, h.logger, "get agent", err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

// GetPortfolio returns one agent's portfolio.
// GET /api/agents/{id}/portfolio
func (h *AgentHandler) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	pf, err := h.engine.Portfolio(r.PathValue("id"))
	if err != nil {
		writeEngineError(w, r, h.logger, "get portfolio", err)
		return
	}
	writeJSON(w, http.StatusOK, pf)
}

type statusRequest struct {
	Reason string `json:"reason"`
}

// SetStatus pauses, activates or stops an agent.
// POST /api/agents/{id}/{action}  (action: pause, activate, stop)
func (h *AgentHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decodeBody(w, r, &req, true); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	var apply func(ctx context.Context, id, reason string) (domain.Agent, error)
	switch r.PathValue("action") {
	case "pause":
		apply = h.engine.PauseAgent
	case "activate":
		apply = h.engine.ActivateAgent
	case "stop":
		apply = h.engine.StopAgent
	default:
		writeError(w, http.StatusNotFound, "unknown action")
		return
	}
	if req.Reason == "" {
		req.Reason = "api"
	}

	agent, err := apply(r.Context(), r.PathValue("id"), req.Reason)
	if err != nil {
		writeEngineError(w, r, h.logger, r.PathValue("action")+" agent", err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

// RemoveAgent deletes an agent, cancelling its open orders.
// DELETE /api/agents/{id}
func (h *AgentHandler) RemoveAgent(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.RemoveAgent(r.Context(), r.PathValue("id")); err != nil {
		writeEngineError(w, r, h.logger, "remove agent", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
