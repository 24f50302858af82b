package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/papersim/internal/domain"
)

type agentState struct {
	meta      domain.Agent
	portfolio *domain.Portfolio
}

func (s *agentState) snapshot() domain.Agent {
	a := s.meta
	a.Portfolio = s.portfolio.Clone()
	return a
}

// registry keeps agents in creation order.
type registry struct {
	byID  map[string]*agentState
	order []string
}

func newRegistry() *registry {
	return &registry{byID: make(map[string]*agentState)}
}

func (r *registry) get(id string) (*agentState, bool) {
	st, ok := r.byID[id]
	return st, ok
}

func (r *registry) add(st *agentState) {
	r.byID[st.meta.ID] = st
	r.order = append(r.order, st.meta.ID)
}

func (r *registry) remove(id string) {
	delete(r.byID, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			return
		}
	}
}

func (r *registry) all() []*agentState {
	out := make([]*agentState, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

func (r *registry) len() int { return len(r.order) }

// CreateAgent registers a new agent with a funded portfolio. Agents created
// while trading is halted start paused.
func (e *Engine) CreateAgent(ctx context.Context, cfg domain.AgentConfig) (domain.Agent, error) {
	e.mu.Lock()
	a, err := e.createAgentLocked(cfg)
	e.mu.Unlock()
	e.bus.Drain(ctx)
	if err != nil {
		return domain.Agent{}, fmt.Errorf("engine: create agent: %w", err)
	}
	return a, nil
}

func (e *Engine) createAgentLocked(cfg domain.AgentConfig) (domain.Agent, error) {
	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		return domain.Agent{}, domain.Reject(domain.ErrValidation, "agent name is required")
	}
	if cfg.InitialCash.IsNegative() {
		return domain.Agent{}, domain.Reject(domain.ErrValidation, "initial cash must not be negative")
	}
	id := strings.TrimSpace(cfg.ID)
	if id == "" {
		id = e.newID()
	}
	if _, exists := e.agents.get(id); exists {
		return domain.Agent{}, fmt.Errorf("%w: agent %s", domain.ErrAlreadyExists, id)
	}

	status := domain.AgentStatusActive
	if cfg.Paused || e.safety.halted {
		status = domain.AgentStatusPaused
	}
	now := e.now()
	st := &agentState{
		meta: domain.Agent{
			ID:        id,
			Name:      name,
			Strategy:  cfg.Strategy,
			Status:    status,
			CreatedAt: now,
			UpdatedAt: now,
		},
		portfolio: domain.NewPortfolio(id, cfg.InitialCash, now),
	}
	e.agents.add(st)
	e.emit(domain.TopicAgentStatusChanged, domain.AgentStatusChanged{
		AgentID: id, To: status, Reason: "created",
	})
	e.logger.Info("agent created",
		slog.String("agent_id", id),
		slog.String("name", name),
		slog.String("status", string(status)),
	)
	return st.snapshot(), nil
}

// Agent returns one agent with a snapshot of its portfolio.
func (e *Engine) Agent(id string) (domain.Agent, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st, ok := e.agents.get(id)
	if !ok {
		return domain.Agent{}, fmt.Errorf("engine: agent %s: %w", id, domain.ErrNotFound)
	}
	return st.snapshot(), nil
}

// Agents returns every agent in creation order.
func (e *Engine) Agents() []domain.Agent {
	e.mu.RLock()
	defer e.mu.RUnlock()
	all := e.agents.all()
	out := make([]domain.Agent, 0, len(all))
	for _, st := range all {
		out = append(out, st.snapshot())
	}
	return out
}

// PauseAgent stops fills for the agent. Its pending orders stay in the book
// and resume matching once the agent is activated.
func (e *Engine) PauseAgent(ctx context.Context, id, reason string) (domain.Agent, error) {
	return e.SetAgentStatus(ctx, id, domain.AgentStatusPaused, reason)
}

// ActivateAgent lets a paused or stopped agent trade again. It fails with
// domain.ErrSystemHalted while trading is halted.
func (e *Engine) ActivateAgent(ctx context.Context, id, reason string) (domain.Agent, error) {
	return e.SetAgentStatus(ctx, id, domain.AgentStatusActive, reason)
}

// StopAgent deactivates the agent and cancels its open orders.
func (e *Engine) StopAgent(ctx context.Context, id, reason string) (domain.Agent, error) {
	return e.SetAgentStatus(ctx, id, domain.AgentStatusStopped, reason)
}

// SetAgentStatus changes an agent's status. Setting the current status is a
// no-op.
func (e *Engine) SetAgentStatus(ctx context.Context, id string, status domain.AgentStatus, reason string) (domain.Agent, error) {
	e.mu.Lock()
	a, err := e.setAgentStatusLocked(id, status, reason)
	e.mu.Unlock()
	e.bus.Drain(ctx)
	if err != nil {
		return domain.Agent{}, fmt.Errorf("engine: set agent status: %w", err)
	}
	return a, nil
}

func (e *Engine) setAgentStatusLocked(id string, status domain.AgentStatus, reason string) (domain.Agent, error) {
	if !status.Valid() {
		return domain.Agent{}, domain.Reject(domain.ErrValidation, fmt.Sprintf("unknown status %q", status))
	}
	st, ok := e.agents.get(id)
	if !ok {
		return domain.Agent{}, fmt.Errorf("agent %s: %w", id, domain.ErrNotFound)
	}
	if status == domain.AgentStatusActive && e.safety.halted {
		return domain.Agent{}, domain.ErrSystemHalted
	}
	e.transitionLocked(st, status, reason)
	return st.snapshot(), nil
}

// transitionLocked moves st to status and reports whether anything changed.
func (e *Engine) transitionLocked(st *agentState, status domain.AgentStatus, reason string) bool {
	from := st.meta.Status
	if from == status {
		return false
	}
	st.meta.Status = status
	st.meta.UpdatedAt = e.now()
	e.emit(domain.TopicAgentStatusChanged, domain.AgentStatusChanged{
		AgentID: st.meta.ID, From: from, To: status, Reason: reason,
	})
	if status == domain.AgentStatusStopped {
		for _, o := range e.book.openByAgent(st.meta.ID) {
			e.cancelLocked(o, "agent stopped")
		}
	}
	e.logger.Info("agent status changed",
		slog.String("agent_id", st.meta.ID),
		slog.String("from", string(from)),
		slog.String("to", string(status)),
		slog.String("reason", reason),
	)
	return true
}

// RemoveAgent cancels the agent's open orders and deletes it. Its order
// history stays queryable by order ID.
func (e *Engine) RemoveAgent(ctx context.Context, id string) error {
	e.mu.Lock()
	err := e.removeAgentLocked(id)
	e.mu.Unlock()
	e.bus.Drain(ctx)
	if err != nil {
		return fmt.Errorf("engine: remove agent: %w", err)
	}
	return nil
}

func (e *Engine) removeAgentLocked(id string) error {
	st, ok := e.agents.get(id)
	if !ok {
		return fmt.Errorf("agent %s: %w", id, domain.ErrNotFound)
	}
	e.transitionLocked(st, domain.AgentStatusStopped, "removed")
	e.agents.remove(id)
	e.risk.forget(id)
	return nil
}
