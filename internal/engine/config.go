package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// SymbolConfig describes one simulated instrument.
type SymbolConfig struct {
	Symbol       string
	Class        string // "crypto", "equity", "fx"; used by stress scenarios
	InitialPrice decimal.Decimal
	// Volatility bounds the per-tick move as a fraction of price.
	Volatility decimal.Decimal
	// Precision is the number of decimal places prices are rounded to.
	Precision int32
	// MaxFillPerTick caps the quantity a single order can fill per
	// evaluation. Zero means unlimited.
	MaxFillPerTick decimal.Decimal
}

// RiskLimits configures alerting and pre-trade checks. Zero disables a
// limit.
type RiskLimits struct {
	MaxDrawdownPct      decimal.Decimal
	MaxMarginUsage      decimal.Decimal
	MaxConcentration    decimal.Decimal
	AutoPauseOnDrawdown bool
	// KillSwitchLoss triggers an emergency stop once the aggregate loss of
	// all agents reaches it.
	KillSwitchLoss   decimal.Decimal
	MaxOrderNotional decimal.Decimal
	MaxOpenOrders    int
}

// Config holds engine parameters.
type Config struct {
	TickInterval time.Duration
	FeeRate      decimal.Decimal
	AllowShort   bool
	// Seed makes the random walk reproducible. Zero seeds from the clock.
	Seed    uint64
	Symbols []SymbolConfig
	Risk    RiskLimits
}

// DefaultSymbols is the instrument set used when none is configured.
func DefaultSymbols() []SymbolConfig {
	mk := func(sym, class, price, vol string, prec int32) SymbolConfig {
		return SymbolConfig{
			Symbol:       sym,
			Class:        class,
			InitialPrice: decimal.RequireFromString(price),
			Volatility:   decimal.RequireFromString(vol),
			Precision:    prec,
		}
	}
	return []SymbolConfig{
		mk("BTC/USD", "crypto", "50000", "0.01", 2),
		mk("ETH/USD", "crypto", "3000", "0.012", 2),
		mk("SOL/USD", "crypto", "100", "0.015", 3),
		mk("AAPL", "equity", "190", "0.005", 2),
		mk("TSLA", "equity", "250", "0.008", 2),
		mk("SPY", "equity", "500", "0.003", 2),
		mk("EUR/USD", "fx", "1.08", "0.001", 5),
	}
}

// DefaultConfig returns a Config with the default instruments and no
// risk limits.
func DefaultConfig() Config {
	return Config{
		TickInterval: 2 * time.Second,
		FeeRate:      decimal.Zero,
		Symbols:      DefaultSymbols(),
	}
}

func (c Config) validate() error {
	var errs []string
	if c.TickInterval <= 0 {
		errs = append(errs, "tick interval must be positive")
	}
	if c.FeeRate.IsNegative() || c.FeeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		errs = append(errs, "fee rate must be in [0, 1)")
	}
	if len(c.Symbols) == 0 {
		errs = append(errs, "at least one symbol is required")
	}
	seen := make(map[string]bool, len(c.Symbols))
	for _, s := range c.Symbols {
		name := strings.TrimSpace(s.Symbol)
		switch {
		case name == "":
			errs = append(errs, "symbol name must not be empty")
			continue
		case seen[name]:
			errs = append(errs, fmt.Sprintf("duplicate symbol %q", name))
		}
		seen[name] = true
		if !s.InitialPrice.IsPositive() {
			errs = append(errs, fmt.Sprintf("%s: initial price must be positive", name))
		}
		if s.Volatility.IsNegative() || s.Volatility.GreaterThanOrEqual(decimal.NewFromInt(1)) {
			errs = append(errs, fmt.Sprintf("%s: volatility must be in [0, 1)", name))
		}
		if s.Precision < 0 || s.Precision > 12 {
			errs = append(errs, fmt.Sprintf("%s: precision must be 0-12", name))
		}
		if s.MaxFillPerTick.IsNegative() {
			errs = append(errs, fmt.Sprintf("%s: max fill per tick must not be negative", name))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("engine: invalid config: %s", strings.Join(errs, "; "))
	}
	return nil
}
