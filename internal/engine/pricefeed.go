package engine

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/papersim/internal/domain"
)

// priceFeed holds the simulated price of every tracked symbol. It is only
// touched with the engine lock held.
type priceFeed struct {
	order  []string
	specs  map[string]SymbolConfig
	prices map[string]domain.SymbolPrice
	rng    *rand.Rand
}

func newPriceFeed(symbols []SymbolConfig, seed uint64, now time.Time) *priceFeed {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	f := &priceFeed{
		order:  make([]string, 0, len(symbols)),
		specs:  make(map[string]SymbolConfig, len(symbols)),
		prices: make(map[string]domain.SymbolPrice, len(symbols)),
		rng:    rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
	for _, s := range symbols {
		f.order = append(f.order, s.Symbol)
		f.specs[s.Symbol] = s
		f.prices[s.Symbol] = domain.SymbolPrice{
			Symbol:    s.Symbol,
			Price:     s.InitialPrice.Round(s.Precision),
			Timestamp: now,
		}
	}
	return f
}

func (f *priceFeed) known(symbol string) bool {
	_, ok := f.specs[symbol]
	return ok
}

func (f *priceFeed) price(symbol string) (decimal.Decimal, error) {
	p, ok := f.prices[symbol]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", domain.ErrUnknownSymbol, symbol)
	}
	return p.Price, nil
}

// minTick is the smallest representable price for the symbol.
func (f *priceFeed) minTick(symbol string) decimal.Decimal {
	return decimal.New(1, -f.specs[symbol].Precision)
}

// advance moves every symbol one step. Symbols present in overrides take the
// supplied value; the rest follow a bounded random walk. Overrides are
// checked before anything changes.
func (f *priceFeed) advance(overrides map[string]decimal.Decimal, now time.Time) ([]domain.SymbolPrice, error) {
	for sym, v := range overrides {
		if !f.known(sym) {
			return nil, fmt.Errorf("%w: %s", domain.ErrUnknownSymbol, sym)
		}
		if !v.IsPositive() {
			return nil, domain.Reject(domain.ErrValidation, fmt.Sprintf("price for %s must be positive", sym))
		}
	}

	out := make([]domain.SymbolPrice, 0, len(f.order))
	for _, sym := range f.order {
		spec := f.specs[sym]
		prev := f.prices[sym]

		next, ok := overrides[sym]
		if ok {
			next = next.Round(spec.Precision)
		} else {
			r := decimal.NewFromFloat(f.rng.Float64()*2 - 1)
			move := prev.Price.Mul(spec.Volatility).Mul(r)
			next = prev.Price.Add(move).Round(spec.Precision)
		}
		if floor := f.minTick(sym); next.LessThan(floor) {
			next = floor
		}

		sp := domain.SymbolPrice{
			Symbol:    sym,
			Price:     next,
			Change:    next.Sub(prev.Price),
			Timestamp: now,
		}
		f.prices[sym] = sp
		out = append(out, sp)
	}
	return out, nil
}

// seed replaces the current prices without a tick, e.g. from a cache of a
// previous run. Unknown symbols and non-positive values are skipped.
func (f *priceFeed) seed(prices map[string]decimal.Decimal, now time.Time) int {
	n := 0
	for sym, v := range prices {
		spec, ok := f.specs[sym]
		if !ok || !v.IsPositive() {
			continue
		}
		f.prices[sym] = domain.SymbolPrice{Symbol: sym, Price: v.Round(spec.Precision), Timestamp: now}
		n++
	}
	return n
}

func (f *priceFeed) snapshot() []domain.SymbolPrice {
	out := make([]domain.SymbolPrice, 0, len(f.order))
	for _, sym := range f.order {
		out = append(out, f.prices[sym])
	}
	return out
}

func (f *priceFeed) priceMap() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(f.prices))
	for sym, p := range f.prices {
		out[sym] = p.Price
	}
	return out
}
