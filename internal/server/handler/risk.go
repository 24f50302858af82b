package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/papersim/internal/domain"
)

// RiskEngine is the safety and risk surface of the engine.
type RiskEngine interface {
	EmergencyStop(ctx context.Context, reason string) domain.HaltSummary
	ResumeTrading(ctx context.Context) bool
	RiskAlerts() []domain.RiskAlert
	StressTest(s domain.StressScenario) (domain.StressResult, error)
}

// RiskHandler serves the emergency stop, risk alerts and stress tests.
type RiskHandler struct {
	engine    RiskEngine
	scenarios func() []domain.StressScenario
	lookup    func(name string) (domain.StressScenario, error)
	logger    *slog.Logger
}

// NewRiskHandler creates a RiskHandler. scenarios lists the built-in stress
// scenarios and lookup resolves one by name.
func NewRiskHandler(
	engine RiskEngine,
	scenarios func() []domain.StressScenario,
	lookup func(name string) (domain.StressScenario, error),
	logger *slog.Logger,
) *RiskHandler {
	return &RiskHandler{engine: engine, scenarios: scenarios, lookup: lookup, logger: logger}
}

type emergencyStopRequest struct {
	Reason string `json:"reason"`
}

// EmergencyStop halts trading, pauses every agent and cancels every working
// order. Repeating it while halted is harmless.
// POST /api/emergency-stop
func (h *RiskHandler) EmergencyStop(w http.ResponseWriter, r *http.Request) {
	var req emergencyStopRequest
	if err := decodeBody(w, r, &req, true); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	sum := h.engine.EmergencyStop(r.Context(), req.Reason)
	h.logger.WarnContext(r.Context(), "emergency stop requested via api",
		slog.String("reason", sum.Reason),
		slog.Bool("already_halted", sum.AlreadyHalted),
	)
	writeJSON(w, http.StatusOK, sum)
}

// Resume clears the halt. Agents stay paused.
// POST /api/resume
func (h *RiskHandler) Resume(w http.ResponseWriter, r *http.Request) {
	wasHalted := h.engine.ResumeTrading(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"resumed": wasHalted})
}

// ListAlerts returns the risk alerts currently in breach.
// GET /api/risk/alerts
func (h *RiskHandler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"alerts": h.engine.RiskAlerts()})
}

// ListScenarios returns the built-in stress scenarios.
// GET /api/risk/scenarios
func (h *RiskHandler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"scenarios": h.scenarios()})
}

type stressRequest struct {
	Name     string                 `json:"name"`
	Scenario *domain.StressScenario `json:"scenario,omitempty"`
}

// StressTest values every portfolio under a price shock without changing
// engine state. The body names a built-in scenario or carries a custom one.
// POST /api/risk/stress-test
func (h *RiskHandler) StressTest(w http.ResponseWriter, r *http.Request) {
	var req stressRequest
	if err := decodeBody(w, r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	var sc domain.StressScenario
	switch {
	case req.Scenario != nil:
		sc = *req.Scenario
	case req.Name != "":
		var err error
		if sc, err = h.lookup(req.Name); err != nil {
			writeEngineError(w, r, h.logger, "stress test", err)
			return
		}
	default:
		writeError(w, http.StatusBadRequest, "name or scenario is required")
		return
	}

	res, err := h.engine.StressTest(sc)
	if err != nil {
		writeEngineError(w, r, h.logger, "stress test", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
