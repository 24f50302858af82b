package engine

import (
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/papersim/internal/domain"
)

// Summary aggregates every portfolio for the dashboard overview.
func (e *Engine) Summary() domain.EngineSummary {
	e.mu.RLock()
	defer e.mu.RUnlock()

	s := domain.EngineSummary{
		ByStatus:      make(map[domain.AgentStatus]int, 3),
		TotalValue:    decimal.Zero,
		TotalCash:     decimal.Zero,
		InitialValue:  decimal.Zero,
		TotalPnL:      decimal.Zero,
		UnrealizedPnL: decimal.Zero,
		Exposure:      decimal.Zero,
		OpenOrders:    len(e.book.openIDs),
		ActiveAlerts:  len(e.risk.active),
		Halted:        e.safety.halted,
		Tick:          e.tick,
		AsOf:          e.now(),
	}
	var perf domain.Performance
	for _, st := range e.agents.all() {
		pf := st.portfolio
		s.Agents++
		s.ByStatus[st.meta.Status]++
		s.TotalValue = s.TotalValue.Add(pf.TotalValue)
		s.TotalCash = s.TotalCash.Add(pf.Cash)
		s.InitialValue = s.InitialValue.Add(pf.InitialCash)
		s.TotalPnL = s.TotalPnL.Add(pf.Performance.TotalPnL)
		s.UnrealizedPnL = s.UnrealizedPnL.Add(pf.UnrealizedPnL)
		s.Exposure = s.Exposure.Add(pf.Exposure)
		s.TotalTrades += pf.Performance.TotalTrades
		perf.ClosingTrades += pf.Performance.ClosingTrades
		perf.WinningTrades += pf.Performance.WinningTrades
	}
	s.WinRate = perf.WinRate()
	return s
}

// Portfolio returns a snapshot of one agent's portfolio.
func (e *Engine) Portfolio(agentID string) (domain.Portfolio, error) {
	a, err := e.Agent(agentID)
	if err != nil {
		return domain.Portfolio{}, err
	}
	return a.Portfolio, nil
}
