package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/papersim/internal/domain"
)

// safety is the global trading halt.
type safety struct {
	halted   bool
	reason   string
	haltedAt time.Time
}

// EmergencyStop halts trading: every active agent is paused, every open
// order is cancelled, and one emergencyStop event carries the counts. While
// halted every placement fails with domain.ErrSystemHalted. Calling it again
// while halted changes nothing and reports AlreadyHalted.
func (e *Engine) EmergencyStop(ctx context.Context, reason string) domain.HaltSummary {
	e.mu.Lock()
	sum := e.emergencyStopLocked(reason)
	e.mu.Unlock()
	e.bus.Drain(ctx)
	return sum
}

func (e *Engine) emergencyStopLocked(reason string) domain.HaltSummary {
	if e.safety.halted {
		return domain.HaltSummary{
			Reason:        e.safety.reason,
			HaltedAt:      e.safety.haltedAt,
			AlreadyHalted: true,
		}
	}
	if reason == "" {
		reason = "manual emergency stop"
	}

	now := e.now()
	e.safety = safety{halted: true, reason: reason, haltedAt: now}
	sum := domain.HaltSummary{Reason: reason, HaltedAt: now}

	for _, st := range e.agents.all() {
		if st.meta.Status == domain.AgentStatusActive {
			e.transitionLocked(st, domain.AgentStatusPaused, "emergency stop")
			sum.AgentsPaused++
		}
	}
	for _, o := range e.book.open() {
		e.cancelLocked(o, "emergency stop")
		sum.OrdersCancelled++
	}

	e.emit(domain.TopicEmergencyStop, sum)
	e.logger.Warn("emergency stop",
		slog.String("reason", reason),
		slog.Int("agents_paused", sum.AgentsPaused),
		slog.Int("orders_cancelled", sum.OrdersCancelled),
	)
	return sum
}

// ResumeTrading clears the halt. Agents paused by the emergency stop stay
// paused until activated individually. It reports whether the engine was
// halted.
func (e *Engine) ResumeTrading(ctx context.Context) bool {
	e.mu.Lock()
	resumed := e.resumeLocked()
	e.mu.Unlock()
	e.bus.Drain(ctx)
	return resumed
}

func (e *Engine) resumeLocked() bool {
	if !e.safety.halted {
		return false
	}
	since := e.safety.haltedAt
	e.safety = safety{}
	now := e.now()
	e.emit(domain.TopicTradingResumed, domain.TradingResumed{ResumedAt: now, HaltedSince: since})
	e.logger.Info("trading resumed", slog.Duration("halted_for", now.Sub(since)))
	return true
}

// Halted reports whether trading is halted.
func (e *Engine) Halted() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.safety.halted
}
