package config

import (
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/papersim/internal/domain"
	"github.com/alanyoungcy/papersim/internal/engine"
)

// ToEngine converts the engine and risk sections into an engine.Config. The
// built-in instruments are used when no symbols are configured.
func (c *Config) ToEngine() engine.Config {
	ec := engine.Config{
		TickInterval: c.Engine.TickInterval.Duration,
		FeeRate:      decimal.NewFromFloat(c.Engine.FeeRate),
		AllowShort:   c.Engine.AllowShort,
		Seed:         uint64(c.Engine.Seed),
		Risk: engine.RiskLimits{
			MaxDrawdownPct:      decimal.NewFromFloat(c.Risk.MaxDrawdownPct),
			MaxMarginUsage:      decimal.NewFromFloat(c.Risk.MaxMarginUsage),
			MaxConcentration:    decimal.NewFromFloat(c.Risk.MaxConcentration),
			AutoPauseOnDrawdown: c.Risk.AutoPauseOnDrawdown,
			KillSwitchLoss:      decimal.NewFromFloat(c.Risk.KillSwitchLossUSD),
			MaxOrderNotional:    decimal.NewFromFloat(c.Risk.MaxOrderNotional),
			MaxOpenOrders:       c.Risk.MaxOpenOrders,
		},
	}
	if len(c.Engine.Symbols) == 0 {
		ec.Symbols = engine.DefaultSymbols()
		return ec
	}
	ec.Symbols = make([]engine.SymbolConfig, 0, len(c.Engine.Symbols))
	for _, s := range c.Engine.Symbols {
		ec.Symbols = append(ec.Symbols, engine.SymbolConfig{
			Symbol:         s.Symbol,
			Class:          s.Class,
			InitialPrice:   decimal.NewFromFloat(s.InitialPrice),
			Volatility:     decimal.NewFromFloat(s.Volatility),
			Precision:      int32(s.Precision),
			MaxFillPerTick: decimal.NewFromFloat(s.MaxFillPerTick),
		})
	}
	return ec
}

// AgentConfigs converts the seeded agents for Engine.CreateAgent.
func (c *Config) AgentConfigs() []domain.AgentConfig {
	out := make([]domain.AgentConfig, 0, len(c.Agents))
	for _, a := range c.Agents {
		out = append(out, domain.AgentConfig{
			ID:          a.ID,
			Name:        a.Name,
			Strategy:    a.Strategy,
			InitialCash: decimal.NewFromFloat(a.InitialCash),
			Paused:      a.Paused,
		})
	}
	return out
}
