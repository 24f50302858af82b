package engine

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/papersim/internal/domain"
)

var (
	hundred      = decimal.NewFromInt(100)
	criticalMult = decimal.RequireFromString("1.5")
)

// riskMonitor tracks which limits are currently breached so each breach
// raises one alert on entry and one clearing alert on exit.
type riskMonitor struct {
	limits RiskLimits
	active map[string]domain.RiskAlert
	// killTripped latches the kill switch until aggregate loss falls back
	// below the threshold, so a resume is not undone by the same loss.
	killTripped bool
}

func newRiskMonitor(l RiskLimits) riskMonitor {
	return riskMonitor{limits: l, active: make(map[string]domain.RiskAlert)}
}

func alertKey(agentID string, kind domain.RiskAlertKind) string {
	return agentID + "|" + string(kind)
}

func (r *riskMonitor) forget(agentID string) {
	prefix := agentID + "|"
	for k := range r.active {
		if strings.HasPrefix(k, prefix) {
			delete(r.active, k)
		}
	}
}

func pct(d decimal.Decimal) string {
	return d.Mul(hundred).StringFixed(2) + "%"
}

// evaluateRiskLocked runs after every tick's revaluation.
func (e *Engine) evaluateRiskLocked(now time.Time) {
	l := e.risk.limits
	for _, st := range e.agents.all() {
		pf := st.portfolio
		e.checkLimitLocked(st, domain.RiskAlertDrawdown, pf.CurrentDrawdownPct, l.MaxDrawdownPct, now)
		e.checkLimitLocked(st, domain.RiskAlertMargin, pf.MarginUsage, l.MaxMarginUsage, now)
		e.checkLimitLocked(st, domain.RiskAlertConcentration, concentration(pf), l.MaxConcentration, now)
	}

	if !l.KillSwitchLoss.IsPositive() {
		return
	}
	loss := decimal.Zero
	for _, st := range e.agents.all() {
		loss = loss.Add(st.portfolio.InitialCash.Sub(st.portfolio.TotalValue))
	}
	if loss.LessThan(l.KillSwitchLoss) {
		e.risk.killTripped = false
		return
	}
	if e.risk.killTripped {
		return
	}
	e.risk.killTripped = true
	if e.safety.halted {
		return
	}
	msg := fmt.Sprintf("aggregate loss %s reached kill switch %s", loss.StringFixed(2), l.KillSwitchLoss.StringFixed(2))
	e.emit(domain.TopicRiskAlert, domain.RiskAlert{
		ID:       e.newID(),
		Kind:     domain.RiskAlertKillSwitch,
		Severity: domain.RiskSeverityCritical,
		Value:    loss,
		Limit:    l.KillSwitchLoss,
		Message:  msg,
		RaisedAt: now,
	})
	e.emergencyStopLocked("kill switch: " + msg)
}

func (e *Engine) checkLimitLocked(st *agentState, kind domain.RiskAlertKind, value, limit decimal.Decimal, now time.Time) {
	if !limit.IsPositive() {
		return
	}
	key := alertKey(st.meta.ID, kind)
	prev, active := e.risk.active[key]
	breach := value.GreaterThanOrEqual(limit)

	switch {
	case breach && !active:
		sev := domain.RiskSeverityWarning
		if kind == domain.RiskAlertDrawdown || value.GreaterThanOrEqual(limit.Mul(criticalMult)) {
			sev = domain.RiskSeverityCritical
		}
		alert := domain.RiskAlert{
			ID:       e.newID(),
			AgentID:  st.meta.ID,
			Kind:     kind,
			Severity: sev,
			Value:    value,
			Limit:    limit,
			Message:  fmt.Sprintf("%s %s %s at or above limit %s", st.meta.Name, kind, pct(value), pct(limit)),
			RaisedAt: now,
		}
		e.risk.active[key] = alert
		e.emit(domain.TopicRiskAlert, alert)
		e.logger.Warn("risk limit breached",
			slog.String("agent_id", st.meta.ID),
			slog.String("kind", string(kind)),
			slog.String("value", value.String()),
			slog.String("limit", limit.String()),
		)
		if kind == domain.RiskAlertDrawdown && e.risk.limits.AutoPauseOnDrawdown &&
			st.meta.Status == domain.AgentStatusActive {
			e.transitionLocked(st, domain.AgentStatusPaused, "drawdown limit breached")
		}
	case !breach && active:
		delete(e.risk.active, key)
		prev.Value = value
		prev.Cleared = true
		prev.Message = fmt.Sprintf("%s %s back within limit", st.meta.Name, kind)
		e.emit(domain.TopicRiskAlert, prev)
	}
}

// RiskAlerts returns the alerts currently in breach, oldest first.
func (e *Engine) RiskAlerts() []domain.RiskAlert {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]domain.RiskAlert, 0, len(e.risk.active))
	for _, a := range e.risk.active {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].RaisedAt.Equal(out[j].RaisedAt) {
			return out[i].RaisedAt.Before(out[j].RaisedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
