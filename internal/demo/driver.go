// Package demo generates order flow for active agents so a fresh simulator
// has something to show. Each agent trades in the style its strategy name
// suggests: "momentum" follows the last move, "mean_reversion" fades it and
// anything else flips a coin.
package demo

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/papersim/internal/domain"
	"github.com/alanyoungcy/papersim/internal/events"
)

// Engine is the part of the engine the driver trades through.
type Engine interface {
	Subscribe(topic domain.Topic, h events.Handler) *events.Subscription
	Agents() []domain.Agent
	ExecuteOrder(ctx context.Context, agentID string, spec domain.OrderSpec) (domain.Order, error)
}

// Config tunes the generator.
type Config struct {
	// OrderProbability is the chance per active agent per tick of placing
	// an order.
	OrderProbability float64
	// MaxCashFraction bounds a buy's notional as a share of available cash.
	MaxCashFraction float64
	AllowShort      bool
	// Seed makes the order stream reproducible. Zero seeds from the clock.
	Seed int64
}

const qtyPlaces = 4

var limitOffset = decimal.RequireFromString("0.002")

// Driver places random orders on every price tick.
type Driver struct {
	eng    Engine
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	rng    *rand.Rand
	last   map[string]decimal.Decimal
	placed uint64
}

// New creates a Driver.
func New(eng Engine, cfg Config, logger *slog.Logger) *Driver {
	seed := uint64(cfg.Seed)
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &Driver{
		eng:    eng,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "demo")),
		rng:    rand.New(rand.NewPCG(seed, seed>>1|1)),
		last:   make(map[string]decimal.Decimal),
	}
}

// Attach starts generating orders on pricesUpdated. The returned func stops
// it.
func (d *Driver) Attach() func() {
	sub := d.eng.Subscribe(domain.TopicPricesUpdated, d.onPrices)
	d.logger.Info("demo order flow enabled",
		slog.Float64("order_probability", d.cfg.OrderProbability),
	)
	return sub.Cancel
}

// Placed returns how many orders the driver has submitted.
func (d *Driver) Placed() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.placed
}

func (d *Driver) onPrices(ctx context.Context, ev domain.Event) error {
	upd, ok := ev.Payload.(domain.PricesUpdated)
	if !ok || len(upd.Prices) == 0 {
		return nil
	}

	d.mu.Lock()
	var specs []agentOrder
	for _, a := range d.eng.Agents() {
		if a.Status != domain.AgentStatusActive || d.rng.Float64() >= d.cfg.OrderProbability {
			continue
		}
		if spec, ok := d.nextOrder(a, upd.Prices); ok {
			specs = append(specs, agentOrder{agentID: a.ID, spec: spec})
		}
	}
	for _, p := range upd.Prices {
		d.last[p.Symbol] = p.Price
	}
	d.mu.Unlock()

	for _, o := range specs {
		d.submit(ctx, o)
	}
	return nil
}

type agentOrder struct {
	agentID string
	spec    domain.OrderSpec
}

func (d *Driver) submit(ctx context.Context, o agentOrder) {
	order, err := d.eng.ExecuteOrder(ctx, o.agentID, o.spec)
	if err != nil {
		var rej *domain.RejectError
		if errors.As(err, &rej) {
			d.logger.DebugContext(ctx, "demo order rejected",
				slog.String("agent_id", o.agentID),
				slog.String("reason", rej.Reason),
			)
			return
		}
		d.logger.WarnContext(ctx, "demo order failed",
			slog.String("agent_id", o.agentID),
			slog.String("error", err.Error()),
		)
		return
	}
	d.mu.Lock()
	d.placed++
	d.mu.Unlock()
	d.logger.DebugContext(ctx, "demo order placed",
		slog.String("agent_id", o.agentID),
		slog.String("order_id", order.ID),
		slog.String("symbol", order.Symbol),
		slog.String("side", string(order.Side)),
	)
}

// nextOrder picks a symbol, side, size and type for agent a. Callers hold mu.
func (d *Driver) nextOrder(a domain.Agent, prices []domain.SymbolPrice) (domain.OrderSpec, bool) {
	sp := prices[d.rng.IntN(len(prices))]
	if !sp.Price.IsPositive() {
		return domain.OrderSpec{}, false
	}

	side := d.chooseSide(a.Strategy, sp)
	var qty decimal.Decimal
	held := decimal.Zero
	if pos, ok := a.Portfolio.Positions[sp.Symbol]; ok && pos != nil {
		held = pos.Quantity
	}
	if side == domain.OrderSideSell && !held.IsPositive() && !d.cfg.AllowShort {
		side = domain.OrderSideBuy
	}

	switch {
	case side == domain.OrderSideSell && held.IsPositive():
		frac := decimal.NewFromFloat(0.25 + 0.75*d.rng.Float64())
		qty = held.Mul(frac).RoundDown(qtyPlaces)
	default:
		budget := a.Portfolio.AvailableCash().
			Mul(decimal.NewFromFloat(d.cfg.MaxCashFraction * d.rng.Float64()))
		qty = budget.Div(sp.Price).RoundDown(qtyPlaces)
	}
	if !qty.IsPositive() {
		return domain.OrderSpec{}, false
	}

	spec := domain.OrderSpec{
		Symbol:      sp.Symbol,
		Side:        side,
		Quantity:    qty,
		TimeInForce: domain.TimeInForceGTC,
		Terms:       domain.MarketTerms{},
	}
	if d.rng.Float64() < 0.3 {
		spec.Terms = domain.LimitTerms{Limit: limitPrice(side, sp.Price)}
	}
	return spec, true
}

func (d *Driver) chooseSide(strategy string, sp domain.SymbolPrice) domain.OrderSide {
	prev, seen := d.last[sp.Symbol]
	up := seen && sp.Price.GreaterThanOrEqual(prev)
	switch {
	case strategy == "momentum" && seen:
		if up {
			return domain.OrderSideBuy
		}
		return domain.OrderSideSell
	case strategy == "mean_reversion" && seen:
		if up {
			return domain.OrderSideSell
		}
		return domain.OrderSideBuy
	}
	if d.rng.IntN(2) == 0 {
		return domain.OrderSideBuy
	}
	return domain.OrderSideSell
}

// limitPrice rests a limit slightly through the market: below it for buys,
// above it for sells.
func limitPrice(side domain.OrderSide, px decimal.Decimal) decimal.Decimal {
	places := -px.Exponent()
	if places < 2 {
		places = 2
	}
	if side == domain.OrderSideBuy {
		return px.Mul(decimal.NewFromInt(1).Sub(limitOffset)).Round(places)
	}
	return px.Mul(decimal.NewFromInt(1).Add(limitOffset)).Round(places)
}
