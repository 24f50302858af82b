package engine

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/papersim/internal/domain"
)

var one = decimal.NewFromInt(1)

// applyFill books an execution into p and returns the realized P&L, before
// fees, of the part of the fill that reduced an existing position.
//
// Buys debit price*qty plus fee, sells credit price*qty less fee. A fill in
// the position's direction moves the entry price to the volume-weighted
// average; an opposing fill realizes P&L on the closed quantity, and any
// excess opens a reversed position at the fill price.
func applyFill(p *domain.Portfolio, f domain.Fill, now time.Time) decimal.Decimal {
	rollDaily(p, now)

	notional := f.Price.Mul(f.Quantity)
	if f.Side == domain.OrderSideBuy {
		p.Cash = p.Cash.Sub(notional).Sub(f.Fee)
	} else {
		p.Cash = p.Cash.Add(notional).Sub(f.Fee)
	}

	delta := f.Quantity
	if f.Side == domain.OrderSideSell {
		delta = delta.Neg()
	}

	realized := decimal.Zero
	closing := false
	pos, ok := p.Positions[f.Symbol]
	switch {
	case !ok || pos.Quantity.IsZero():
		p.Positions[f.Symbol] = &domain.Position{
			Symbol:       f.Symbol,
			Quantity:     delta,
			EntryPrice:   f.Price,
			CurrentPrice: f.Price,
			OpenedAt:     now,
			UpdatedAt:    now,
		}
	case pos.Quantity.Sign() == delta.Sign():
		held := pos.Quantity.Abs()
		cost := held.Mul(pos.EntryPrice).Add(f.Quantity.Mul(f.Price))
		pos.EntryPrice = cost.Div(held.Add(f.Quantity))
		pos.Quantity = pos.Quantity.Add(delta)
		pos.UpdatedAt = now
	default:
		held := pos.Quantity.Abs()
		closed := decimal.Min(held, f.Quantity)
		closing = true
		realized = f.Price.Sub(pos.EntryPrice).Mul(closed)
		if pos.Quantity.IsNegative() {
			realized = realized.Neg()
		}
		prevSign := pos.Quantity.Sign()
		pos.Quantity = pos.Quantity.Add(delta)
		pos.UpdatedAt = now
		switch {
		case pos.Quantity.IsZero():
			delete(p.Positions, f.Symbol)
		case pos.Quantity.Sign() != prevSign:
			pos.EntryPrice = f.Price
			pos.OpenedAt = now
		}
	}

	perf := &p.Performance
	perf.TotalTrades++
	if closing {
		perf.ClosingTrades++
	}
	if realized.IsPositive() {
		perf.WinningTrades++
	}
	perf.RealizedPnL = perf.RealizedPnL.Add(realized)
	perf.FeesPaid = perf.FeesPaid.Add(f.Fee)
	perf.TotalPnL = perf.RealizedPnL.Sub(perf.FeesPaid)
	perf.DailyPnL = perf.DailyPnL.Add(realized).Sub(f.Fee)
	return realized
}

// rollDaily resets the daily P&L when the UTC day changes.
func rollDaily(p *domain.Portfolio, now time.Time) {
	day := now.UTC().Format(time.DateOnly)
	if p.Performance.DailyPnLDate != day {
		p.Performance.DailyPnLDate = day
		p.Performance.DailyPnL = decimal.Zero
	}
}

// revalue marks every position to prices and refreshes the derived
// portfolio figures. Afterwards TotalValue equals Cash plus the sum of
// quantity times price over all positions.
func revalue(p *domain.Portfolio, prices map[string]decimal.Decimal, now time.Time) {
	rollDaily(p, now)

	marketValue := decimal.Zero
	unrealized := decimal.Zero
	exposure := decimal.Zero
	for sym, pos := range p.Positions {
		if px, ok := prices[sym]; ok {
			pos.CurrentPrice = px
		}
		pos.UnrealizedPnL = pos.CurrentPrice.Sub(pos.EntryPrice).Mul(pos.Quantity)
		mv := pos.Quantity.Mul(pos.CurrentPrice)
		marketValue = marketValue.Add(mv)
		unrealized = unrealized.Add(pos.UnrealizedPnL)
		exposure = exposure.Add(mv.Abs())
	}

	p.TotalValue = p.Cash.Add(marketValue)
	p.UnrealizedPnL = unrealized
	p.Exposure = exposure
	switch {
	case exposure.IsZero():
		p.MarginUsage = decimal.Zero
	case p.TotalValue.IsPositive():
		p.MarginUsage = exposure.Div(p.TotalValue)
	default:
		p.MarginUsage = one
	}

	perf := &p.Performance
	if p.TotalValue.GreaterThan(perf.PeakValue) {
		perf.PeakValue = p.TotalValue
	}
	drawdown := perf.PeakValue.Sub(p.TotalValue)
	p.CurrentDrawdownPct = decimal.Zero
	if perf.PeakValue.IsPositive() {
		p.CurrentDrawdownPct = drawdown.Div(perf.PeakValue)
	}
	if drawdown.GreaterThan(perf.MaxDrawdown) {
		perf.MaxDrawdown = drawdown
	}
	if p.CurrentDrawdownPct.GreaterThan(perf.MaxDrawdownPct) {
		perf.MaxDrawdownPct = p.CurrentDrawdownPct
	}
	p.ValuedAt = now
}

// concentration is the largest single position's share of total value.
func concentration(p *domain.Portfolio) decimal.Decimal {
	if !p.TotalValue.IsPositive() {
		return decimal.Zero
	}
	largest := decimal.Zero
	for _, pos := range p.Positions {
		if mv := pos.MarketValue().Abs(); mv.GreaterThan(largest) {
			largest = mv
		}
	}
	return largest.Div(p.TotalValue)
}
