package domain

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Performance accumulates an agent's trading statistics.
type Performance struct {
	TotalTrades    int             `json:"total_trades"`
	ClosingTrades  int             `json:"closing_trades"` // fills that reduced or flipped a position
	WinningTrades  int             `json:"winning_trades"`
	RealizedPnL    decimal.Decimal `json:"realized_pnl"`
	FeesPaid       decimal.Decimal `json:"fees_paid"`
	TotalPnL       decimal.Decimal `json:"total_pnl"` // realized minus fees
	DailyPnL       decimal.Decimal `json:"daily_pnl"`
	DailyPnLDate   string          `json:"daily_pnl_date"` // UTC yyyy-mm-dd the daily figure belongs to
	PeakValue      decimal.Decimal `json:"peak_value"`
	MaxDrawdown    decimal.Decimal `json:"max_drawdown"`
	MaxDrawdownPct decimal.Decimal `json:"max_drawdown_pct"`
}

// WinRate is winning trades over closing trades, zero before any position
// has been reduced.
func (p Performance) WinRate() decimal.Decimal {
	if p.ClosingTrades == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(p.WinningTrades)).Div(decimal.NewFromInt(int64(p.ClosingTrades)))
}

// Portfolio is one agent's cash, positions and derived valuation.
type Portfolio struct {
	AgentID      string               `json:"agent_id"`
	InitialCash  decimal.Decimal      `json:"initial_cash"`
	Cash         decimal.Decimal      `json:"cash"`
	ReservedCash decimal.Decimal      `json:"reserved_cash"`
	Positions    map[string]*Position `json:"positions"`
	Performance  Performance          `json:"performance"`

	// Derived on every revaluation.
	TotalValue         decimal.Decimal `json:"total_value"`
	UnrealizedPnL      decimal.Decimal `json:"unrealized_pnl"`
	Exposure           decimal.Decimal `json:"exposure"`
	MarginUsage        decimal.Decimal `json:"margin_usage"`
	CurrentDrawdownPct decimal.Decimal `json:"current_drawdown_pct"`
	ValuedAt           time.Time       `json:"valued_at"`
}

// NewPortfolio creates an empty portfolio funded with cash.
func NewPortfolio(agentID string, cash decimal.Decimal, now time.Time) *Portfolio {
	return &Portfolio{
		AgentID:     agentID,
		InitialCash: cash,
		Cash:        cash,
		Positions:   make(map[string]*Position),
		Performance: Performance{
			PeakValue:    cash,
			DailyPnLDate: now.UTC().Format(time.DateOnly),
		},
		TotalValue: cash,
		ValuedAt:   now,
	}
}

// AvailableCash is cash not reserved by resting buy orders.
func (p *Portfolio) AvailableCash() decimal.Decimal {
	return p.Cash.Sub(p.ReservedCash)
}

// Clone returns a deep copy safe to hand outside the engine lock.
func (p *Portfolio) Clone() Portfolio {
	out := *p
	out.Positions = make(map[string]*Position, len(p.Positions))
	for sym, pos := range p.Positions {
		cp := *pos
		out.Positions[sym] = &cp
	}
	return out
}

// SortedPositions returns positions ordered by symbol.
func (p Portfolio) SortedPositions() []Position {
	out := make([]Position, 0, len(p.Positions))
	for _, pos := range p.Positions {
		out = append(out, *pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}
