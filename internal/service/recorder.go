package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/papersim/internal/domain"
)

// RecorderStores are the history tables the recorder writes to.
type RecorderStores struct {
	Orders domain.OrderStore
	Fills  domain.FillStore
	Agents domain.AgentStore
	Equity domain.EquityStore
	Audit  domain.AuditStore
}

// AgentSource reads agent snapshots from the engine.
type AgentSource interface {
	Agent(id string) (domain.Agent, error)
	Agents() []domain.Agent
}

// write is one pending database operation.
type write struct {
	what string
	fn   func(ctx context.Context) error
}

// Recorder mirrors engine activity into Postgres: orders, fills, agents,
// periodic equity snapshots and an audit trail of control actions. Writes
// are best effort. When the queue is full the write is dropped and counted;
// order rows are upserts, so a later update repairs a dropped one.
type Recorder struct {
	stores      RecorderStores
	agents      AgentSource
	q           *queue[write]
	equityEvery uint64
	flush       time.Duration
	logger      *slog.Logger
}

// NewRecorder creates a Recorder. Equity is snapshotted every equityEvery
// ticks; zero disables snapshots.
func NewRecorder(stores RecorderStores, agents AgentSource, bufferSize int, equityEvery uint64, logger *slog.Logger) *Recorder {
	return &Recorder{
		stores:      stores,
		agents:      agents,
		q:           newQueue[write](bufferSize),
		equityEvery: equityEvery,
		flush:       5 * time.Second,
		logger:      logger.With(slog.String("component", "recorder")),
	}
}

// Attach subscribes the recorder to every engine topic. The returned func
// cancels the subscription.
func (r *Recorder) Attach(src EventSource) func() {
	sub := src.Subscribe(domain.TopicAll, r.handle)
	return sub.Cancel
}

// Dropped returns how many writes were discarded because the queue was
// full.
func (r *Recorder) Dropped() uint64 { return r.q.dropped.Load() }

func (r *Recorder) enqueue(what string, fn func(ctx context.Context) error) {
	if !r.q.offer(write{what: what, fn: fn}) {
		r.logger.Warn("recorder queue full, dropping write", slog.String("write", what))
	}
}

func (r *Recorder) handle(_ context.Context, ev domain.Event) error {
	switch p := ev.Payload.(type) {
	case domain.OrderUpdate:
		order := p.Order
		r.enqueue("order", func(ctx context.Context) error { return r.stores.Orders.Upsert(ctx, order) })

	case domain.OrderFilled:
		fill, order := p.Fill, p.Order
		r.enqueue("fill", func(ctx context.Context) error {
			if err := r.stores.Fills.Insert(ctx, fill); err != nil {
				return err
			}
			return r.stores.Orders.Upsert(ctx, order)
		})

	case domain.AgentStatusChanged:
		r.recordAgent(p)

	case domain.PricesUpdated:
		if r.equityEvery > 0 && p.Tick%r.equityEvery == 0 {
			snaps := equitySnapshots(r.agents.Agents(), p.Tick, ev.Time)
			if len(snaps) > 0 {
				r.enqueue("equity", func(ctx context.Context) error { return r.stores.Equity.InsertBatch(ctx, snaps) })
			}
		}

	case domain.RiskAlert:
		r.audit("risk_alert", map[string]any{
			"alert_id": p.ID,
			"agent_id": p.AgentID,
			"kind":     string(p.Kind),
			"severity": string(p.Severity),
			"value":    p.Value.String(),
			"limit":    p.Limit.String(),
			"cleared":  p.Cleared,
			"message":  p.Message,
		})

	case domain.HaltSummary:
		r.audit("emergency_stop", map[string]any{
			"reason":           p.Reason,
			"agents_paused":    p.AgentsPaused,
			"orders_cancelled": p.OrdersCancelled,
		})

	case domain.TradingResumed:
		r.audit("trading_resumed", map[string]any{
			"halted_since": p.HaltedSince.Format(time.RFC3339Nano),
		})
	}
	return nil
}

func (r *Recorder) recordAgent(p domain.AgentStatusChanged) {
	if p.From == "" {
		agent, err := r.agents.Agent(p.AgentID)
		if err != nil {
			return
		}
		r.enqueue("agent", func(ctx context.Context) error { return r.stores.Agents.Upsert(ctx, agent) })
		return
	}
	id, status := p.AgentID, p.To
	r.enqueue("agent_status", func(ctx context.Context) error {
		return r.stores.Agents.UpdateStatus(ctx, id, status)
	})
	r.audit("agent_status", map[string]any{
		"agent_id": p.AgentID,
		"from":     string(p.From),
		"to":       string(p.To),
		"reason":   p.Reason,
	})
}

func (r *Recorder) audit(event string, detail map[string]any) {
	r.enqueue("audit", func(ctx context.Context) error { return r.stores.Audit.Log(ctx, event, detail) })
}

// equitySnapshots values every agent's portfolio at the given tick.
func equitySnapshots(agents []domain.Agent, tick uint64, at time.Time) []domain.EquitySnapshot {
	out := make([]domain.EquitySnapshot, 0, len(agents))
	for _, a := range agents {
		pf := a.Portfolio
		out = append(out, domain.EquitySnapshot{
			AgentID:       a.ID,
			Tick:          tick,
			Cash:          pf.Cash,
			TotalValue:    pf.TotalValue,
			UnrealizedPnL: pf.UnrealizedPnL,
			TotalPnL:      pf.Performance.TotalPnL,
			DrawdownPct:   pf.CurrentDrawdownPct,
			TakenAt:       at,
		})
	}
	return out
}

// SyncAgents upserts every agent the engine currently knows. Call it once
// after attaching when agents may predate the subscription.
func (r *Recorder) SyncAgents(ctx context.Context) error {
	var errs []error
	for _, a := range r.agents.Agents() {
		if err := r.stores.Agents.Upsert(ctx, a); err != nil {
			errs = append(errs, fmt.Errorf("agent %s: %w", a.ID, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("recorder: sync agents: %w", err)
	}
	return nil
}

// Run performs queued writes until ctx is cancelled, then flushes what is
// still queued within a short grace period.
func (r *Recorder) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "recorder started")
	for {
		select {
		case <-ctx.Done():
			r.drain()
			return nil
		case w := <-r.q.ch:
			r.exec(ctx, w)
		}
	}
}

func (r *Recorder) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), r.flush)
	defer cancel()
	for {
		select {
		case w := <-r.q.ch:
			if ctx.Err() != nil {
				r.q.dropped.Add(1)
				continue
			}
			r.exec(ctx, w)
		default:
			r.logger.Info("recorder stopped", slog.Uint64("dropped", r.q.dropped.Load()))
			return
		}
	}
}

func (r *Recorder) exec(ctx context.Context, w write) {
	if err := w.fn(ctx); err != nil {
		r.logger.ErrorContext(ctx, "recorder write failed",
			slog.String("write", w.what),
			slog.String("error", err.Error()),
		)
	}
}
