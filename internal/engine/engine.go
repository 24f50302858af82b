// Package engine is the paper-trading simulation core: a price feed,
// per-agent portfolios, order lifecycle, and the emergency stop, all
// serialized behind one lock.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/papersim/internal/domain"
	"github.com/alanyoungcy/papersim/internal/events"
)

// Option customizes an Engine.
type Option func(*Engine)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDGenerator replaces the UUID generator used for orders, fills,
// agents and alerts.
func WithIDGenerator(gen func() string) Option {
	return func(e *Engine) { e.newID = gen }
}

// WithBus supplies the event bus, e.g. to share it with other components.
func WithBus(bus *events.Bus) Option {
	return func(e *Engine) { e.bus = bus }
}

// Engine owns all simulation state. Every mutation, whether a tick or an
// external operation, runs to completion under mu before the next one
// starts. Events are queued on the bus while mu is held and delivered after
// it is released, so subscribers only ever see committed state and may call
// back into the engine.
type Engine struct {
	cfg    Config
	logger *slog.Logger
	bus    *events.Bus
	now    func() time.Time
	newID  func() string

	mu        sync.RWMutex
	feed      *priceFeed
	agents    *registry
	book      *orderBook
	safety    safety
	risk      riskMonitor
	tick      uint64
	startedAt time.Time

	running atomic.Bool
	runMu   sync.Mutex
	stop    context.CancelFunc
	done    chan struct{}
}

// New builds an engine from cfg. Nothing runs until Start or Run.
func New(cfg Config, logger *slog.Logger, opts ...Option) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "engine")),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, o := range opts {
		o(e)
	}
	if e.bus == nil {
		e.bus = events.NewBus(logger)
	}
	now := e.now()
	e.feed = newPriceFeed(cfg.Symbols, cfg.Seed, now)
	e.agents = newRegistry()
	e.book = newOrderBook()
	e.risk = newRiskMonitor(cfg.Risk)
	return e, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config { return e.cfg }

// Subscribe registers h for topic. Handlers run outside the engine lock,
// one event at a time, in subscription order.
func (e *Engine) Subscribe(topic domain.Topic, h events.Handler) *events.Subscription {
	return e.bus.Subscribe(topic, h)
}

// emit queues an event. Callers must hold mu.
func (e *Engine) emit(topic domain.Topic, payload any) {
	e.bus.Enqueue(domain.Event{Topic: topic, Time: e.now(), Payload: payload})
}

// Run drives the price feed on the configured interval until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return domain.ErrEngineRunning
	}
	defer e.running.Store(false)

	e.mu.Lock()
	e.startedAt = e.now()
	e.mu.Unlock()

	e.logger.InfoContext(ctx, "engine started",
		slog.Duration("tick_interval", e.cfg.TickInterval),
		slog.Int("symbols", len(e.cfg.Symbols)),
	)

	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("engine stopped")
			return nil
		case <-ticker.C:
			if _, err := e.Tick(ctx, nil); err != nil {
				e.logger.ErrorContext(ctx, "tick failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Start runs the tick loop in the background. It fails with
// domain.ErrEngineRunning when already started.
func (e *Engine) Start(ctx context.Context) error {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.stop != nil || e.running.Load() {
		return domain.ErrEngineRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	e.stop = cancel
	e.done = done
	go func() {
		defer close(done)
		if err := e.Run(ctx); err != nil {
			e.logger.Error("engine loop exited", slog.String("error", err.Error()))
		}
	}()
	return nil
}

// Stop halts the background tick loop and waits for it to exit. State is
// kept; Start may be called again.
func (e *Engine) Stop() {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.stop == nil {
		return
	}
	e.stop()
	<-e.done
	e.stop = nil
	e.done = nil
}

// Shutdown stops the loop and drops every subscriber.
func (e *Engine) Shutdown() {
	e.Stop()
	e.bus.Close()
}

// Tick advances the price feed once, re-evaluates pending orders against the
// new prices, revalues every portfolio and runs the risk checks. Symbols in
// overrides take the supplied price instead of the random walk.
func (e *Engine) Tick(ctx context.Context, overrides map[string]decimal.Decimal) (domain.PricesUpdated, error) {
	e.mu.Lock()
	upd, err := e.tickLocked(overrides)
	e.mu.Unlock()
	e.bus.Drain(ctx)
	if err != nil {
		return domain.PricesUpdated{}, fmt.Errorf("engine: tick: %w", err)
	}
	return upd, nil
}

func (e *Engine) tickLocked(overrides map[string]decimal.Decimal) (domain.PricesUpdated, error) {
	now := e.now()
	prices, err := e.feed.advance(overrides, now)
	if err != nil {
		return domain.PricesUpdated{}, err
	}
	e.tick++
	upd := domain.PricesUpdated{Tick: e.tick, Prices: prices}
	e.emit(domain.TopicPricesUpdated, upd)

	pm := e.feed.priceMap()
	for _, o := range e.book.open() {
		e.evaluateLocked(o, pm[o.Symbol], now)
	}
	for _, st := range e.agents.all() {
		revalue(st.portfolio, pm, now)
	}
	e.evaluateRiskLocked(now)
	return upd, nil
}

// SeedPrices overwrites current prices without ticking, e.g. from the
// price cache of a previous run. It returns how many symbols were applied.
func (e *Engine) SeedPrices(prices map[string]decimal.Decimal) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()
	n := e.feed.seed(prices, now)
	pm := e.feed.priceMap()
	for _, st := range e.agents.all() {
		revalue(st.portfolio, pm, now)
	}
	return n
}

// MarketPrices returns the latest price of every symbol in configuration
// order.
func (e *Engine) MarketPrices() []domain.SymbolPrice {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.feed.snapshot()
}

// Price returns the latest price for symbol.
func (e *Engine) Price(symbol string) (decimal.Decimal, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, err := e.feed.price(symbol)
	if err != nil {
		return decimal.Zero, fmt.Errorf("engine: price: %w", err)
	}
	return p, nil
}

// Status reports whether the loop runs and whether trading is halted.
func (e *Engine) Status() domain.EngineStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return domain.EngineStatus{
		Running:    e.running.Load(),
		Halted:     e.safety.halted,
		HaltReason: e.safety.reason,
		HaltedAt:   e.safety.haltedAt,
		Tick:       e.tick,
		StartedAt:  e.startedAt,
		Symbols:    len(e.feed.order),
		Agents:     e.agents.len(),
	}
}
