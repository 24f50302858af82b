package engine

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/papersim/internal/domain"
)

// BuiltinScenarios are the stress scenarios available by name.
func BuiltinScenarios() []domain.StressScenario {
	return []domain.StressScenario{
		{
			Name:        "market_crash",
			Description: "every instrument drops 20%",
			Default:     decimal.RequireFromString("-0.20"),
		},
		{
			Name:        "crypto_winter",
			Description: "crypto drops 50%, everything else 10%",
			Default:     decimal.RequireFromString("-0.10"),
			ClassShocks: map[string]decimal.Decimal{"crypto": decimal.RequireFromString("-0.50")},
		},
		{
			Name:        "flash_rally",
			Description: "every instrument jumps 15%",
			Default:     decimal.RequireFromString("0.15"),
		},
	}
}

// ScenarioByName looks up a builtin scenario.
func ScenarioByName(name string) (domain.StressScenario, error) {
	for _, s := range BuiltinScenarios() {
		if strings.EqualFold(s.Name, name) {
			return s, nil
		}
	}
	return domain.StressScenario{}, fmt.Errorf("engine: scenario %q: %w", name, domain.ErrNotFound)
}

// StressTest values every portfolio under the scenario's shocked prices.
// It reads engine state only; nothing is mutated and no events are emitted.
func (e *Engine) StressTest(s domain.StressScenario) (domain.StressResult, error) {
	minShock := decimal.NewFromInt(-1)
	for sym, v := range s.SymbolShocks {
		if v.LessThan(minShock) {
			return domain.StressResult{}, fmt.Errorf("engine: stress test: %w",
				domain.Reject(domain.ErrValidation, "shock for "+sym+" below -100%"))
		}
	}
	if s.Default.LessThan(minShock) {
		return domain.StressResult{}, fmt.Errorf("engine: stress test: %w",
			domain.Reject(domain.ErrValidation, "default shock below -100%"))
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	shocked := make(map[string]decimal.Decimal, len(e.feed.order))
	for _, sym := range e.feed.order {
		shock, ok := s.SymbolShocks[sym]
		if !ok {
			shock, ok = s.ClassShocks[e.feed.specs[sym].Class]
		}
		if !ok {
			shock = s.Default
		}
		px := e.feed.prices[sym].Price.Mul(one.Add(shock))
		if px.IsNegative() {
			px = decimal.Zero
		}
		shocked[sym] = px
	}

	res := domain.StressResult{
		Scenario:      s,
		ShockedPrices: shocked,
		RunAt:         e.now(),
	}
	limit := e.risk.limits.MaxDrawdownPct
	current := e.feed.priceMap()
	for _, st := range e.agents.all() {
		pf := st.portfolio
		cur, shk := pf.Cash, pf.Cash
		for sym, pos := range pf.Positions {
			cur = cur.Add(pos.Quantity.Mul(current[sym]))
			shk = shk.Add(pos.Quantity.Mul(shocked[sym]))
		}

		ar := domain.AgentStressResult{
			AgentID:      st.meta.ID,
			CurrentValue: cur,
			ShockedValue: shk,
			Impact:       shk.Sub(cur),
		}
		if cur.IsPositive() {
			ar.ImpactPct = ar.Impact.Div(cur)
		}
		peak := decimal.Max(pf.Performance.PeakValue, cur)
		if peak.IsPositive() && shk.LessThan(peak) {
			ar.DrawdownPct = peak.Sub(shk).Div(peak)
		}
		ar.BreachesLimit = limit.IsPositive() && ar.DrawdownPct.GreaterThanOrEqual(limit)

		res.Agents = append(res.Agents, ar)
		res.CurrentValue = res.CurrentValue.Add(cur)
		res.ShockedValue = res.ShockedValue.Add(shk)
		if ar.BreachesLimit {
			res.Breaches++
		}
	}
	res.Impact = res.ShockedValue.Sub(res.CurrentValue)
	return res, nil
}
