package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/papersim/internal/domain"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(dt time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(dt)
	c.mu.Unlock()
}

func testConfig() Config {
	return Config{
		TickInterval: 10 * time.Millisecond,
		Seed:         42,
		Symbols: []SymbolConfig{
			{Symbol: "BTC/USD", Class: "crypto", InitialPrice: d("50000"), Volatility: d("0.01"), Precision: 2},
			{Symbol: "ETH/USD", Class: "crypto", InitialPrice: d("3000"), Volatility: d("0.02"), Precision: 2},
			{Symbol: "AAPL", Class: "equity", InitialPrice: d("190"), Volatility: d("0.005"), Precision: 2},
		},
	}
}

type harness struct {
	t     *testing.T
	eng   *Engine
	clock *testClock
	ctx   context.Context
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	clock := &testClock{now: time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)}
	var n int
	var idMu sync.Mutex
	ids := func() string {
		idMu.Lock()
		defer idMu.Unlock()
		n++
		return fmt.Sprintf("id-%d", n)
	}
	eng, err := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)),
		WithClock(clock.Now), WithIDGenerator(ids))
	require.NoError(t, err)
	t.Cleanup(eng.Shutdown)
	return &harness{t: t, eng: eng, clock: clock, ctx: context.Background()}
}

func (h *harness) agent(name, cash string) domain.Agent {
	h.t.Helper()
	a, err := h.eng.CreateAgent(h.ctx, domain.AgentConfig{ID: name, Name: name, InitialCash: d(cash)})
	require.NoError(h.t, err)
	return a
}

func (h *harness) market(agentID, sym string, side domain.OrderSide, qty string) (domain.Order, error) {
	return h.eng.ExecuteOrder(h.ctx, agentID, domain.OrderSpec{
		Symbol: sym, Side: side, Quantity: d(qty), TimeInForce: domain.TimeInForceGTC, Terms: domain.MarketTerms{},
	})
}

func (h *harness) limit(agentID, sym string, side domain.OrderSide, qty, px string) domain.Order {
	h.t.Helper()
	o, err := h.eng.ExecuteOrder(h.ctx, agentID, domain.OrderSpec{
		Symbol: sym, Side: side, Quantity: d(qty), TimeInForce: domain.TimeInForceGTC,
		Terms: domain.LimitTerms{Limit: d(px)},
	})
	require.NoError(h.t, err)
	return o
}

func (h *harness) tick(prices map[string]string) {
	h.t.Helper()
	ov := make(map[string]decimal.Decimal, len(prices))
	for k, v := range prices {
		ov[k] = d(v)
	}
	h.clock.Advance(time.Second)
	_, err := h.eng.Tick(h.ctx, ov)
	require.NoError(h.t, err)
}

func (h *harness) portfolio(agentID string) domain.Portfolio {
	h.t.Helper()
	p, err := h.eng.Portfolio(agentID)
	require.NoError(h.t, err)
	return p
}

type recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recorder) handle(_ context.Context, ev domain.Event) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return nil
}

func (r *recorder) topics() []domain.Topic {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Topic, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Topic)
	}
	return out
}

func (r *recorder) count(topic domain.Topic) int {
	n := 0
	for _, t := range r.topics() {
		if t == topic {
			n++
		}
	}
	return n
}

func assertValueInvariant(t *testing.T, p domain.Portfolio) {
	t.Helper()
	sum := p.Cash
	for _, pos := range p.Positions {
		sum = sum.Add(pos.Quantity.Mul(pos.CurrentPrice))
	}
	assert.True(t, sum.Equal(p.TotalValue), "cash+positions %s != total %s", sum, p.TotalValue)
}

// Scenario A: buying one BTC at 50,000 with 10,000 cash is refused.
func TestScenario_InsufficientBalance(t *testing.T) {
	h := newHarness(t, nil)
	h.agent("alpha", "10000")

	o, err := h.market("alpha", "BTC/USD", domain.OrderSideBuy, "1")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
	assert.Equal(t, domain.OrderStatusRejected, o.Status)
	assert.NotEmpty(t, o.Reason)

	var re *domain.RejectError
	require.ErrorAs(t, err, &re)

	p := h.portfolio("alpha")
	assert.True(t, p.Cash.Equal(d("10000")))
	assert.Empty(t, p.Positions)
}

// Scenarios B and C: a market buy fills at the feed price, then a tick
// marks the position to market.
func TestScenario_MarketBuyThenRevalue(t *testing.T) {
	h := newHarness(t, nil)
	h.agent("alpha", "10000")

	o, err := h.market("alpha", "BTC/USD", domain.OrderSideBuy, "0.1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFilled, o.Status)
	assert.True(t, o.FilledQuantity.Equal(d("0.1")))
	assert.True(t, o.AvgFillPrice.Equal(d("50000")))

	p := h.portfolio("alpha")
	assert.True(t, p.Cash.Equal(d("5000")), "cash %s", p.Cash)
	require.Contains(t, p.Positions, "BTC/USD")
	assert.True(t, p.Positions["BTC/USD"].Quantity.Equal(d("0.1")))
	assert.True(t, p.Positions["BTC/USD"].EntryPrice.Equal(d("50000")))

	h.tick(map[string]string{"BTC/USD": "51000"})

	p = h.portfolio("alpha")
	assert.True(t, p.Positions["BTC/USD"].UnrealizedPnL.Equal(d("100")), "unrealized %s", p.Positions["BTC/USD"].UnrealizedPnL)
	assert.True(t, p.TotalValue.Equal(d("10100")), "total %s", p.TotalValue)
	assertValueInvariant(t, p)
}

// Scenarios D and E: emergency stop cancels everything and pauses agents;
// resuming clears the halt without reactivating them.
func TestScenario_EmergencyStopAndResume(t *testing.T) {
	h := newHarness(t, nil)
	h.agent("alpha", "100000")
	h.agent("beta", "100000")

	o1 := h.limit("alpha", "BTC/USD", domain.OrderSideBuy, "0.1", "40000")
	o2 := h.limit("alpha", "ETH/USD", domain.OrderSideBuy, "1", "2000")
	o3 := h.limit("beta", "AAPL", domain.OrderSideBuy, "10", "100")

	rec := &recorder{}
	h.eng.Subscribe(domain.TopicAll, rec.handle)

	sum := h.eng.EmergencyStop(h.ctx, "drill")
	assert.Equal(t, 3, sum.OrdersCancelled)
	assert.Equal(t, 2, sum.AgentsPaused)
	assert.Equal(t, "drill", sum.Reason)
	assert.False(t, sum.AlreadyHalted)
	assert.Equal(t, 1, rec.count(domain.TopicEmergencyStop))

	for _, id := range []string{o1.ID, o2.ID, o3.ID} {
		o, err := h.eng.Order(id)
		require.NoError(t, err)
		assert.Equal(t, domain.OrderStatusCancelled, o.Status)
	}
	for _, a := range h.eng.Agents() {
		assert.Equal(t, domain.AgentStatusPaused, a.Status)
		assert.True(t, a.Portfolio.ReservedCash.IsZero())
	}

	_, err := h.market("alpha", "BTC/USD", domain.OrderSideBuy, "0.01")
	assert.ErrorIs(t, err, domain.ErrSystemHalted)

	again := h.eng.EmergencyStop(h.ctx, "second")
	assert.True(t, again.AlreadyHalted)
	assert.Equal(t, 1, rec.count(domain.TopicEmergencyStop))

	_, err = h.eng.ActivateAgent(h.ctx, "alpha", "")
	assert.ErrorIs(t, err, domain.ErrSystemHalted)

	require.True(t, h.eng.ResumeTrading(h.ctx))
	assert.False(t, h.eng.Halted())
	for _, a := range h.eng.Agents() {
		assert.Equal(t, domain.AgentStatusPaused, a.Status)
	}

	// No longer halted: refusals are about the paused agent, not the system.
	_, err = h.market("alpha", "BTC/USD", domain.OrderSideBuy, "0.01")
	assert.ErrorIs(t, err, domain.ErrAgentNotEligible)
	assert.NotErrorIs(t, err, domain.ErrSystemHalted)

	_, err = h.eng.ActivateAgent(h.ctx, "alpha", "operator")
	require.NoError(t, err)
	o, err := h.market("alpha", "BTC/USD", domain.OrderSideBuy, "0.01")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFilled, o.Status)

	assert.False(t, h.eng.ResumeTrading(h.ctx))
}

func TestExecuteOrder_CashBoundary(t *testing.T) {
	h := newHarness(t, nil)
	h.agent("short", "4999.99")
	h.agent("exact", "5000")

	_, err := h.market("short", "BTC/USD", domain.OrderSideBuy, "0.1")
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

	o, err := h.market("exact", "BTC/USD", domain.OrderSideBuy, "0.1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFilled, o.Status)
	assert.True(t, h.portfolio("exact").Cash.IsZero())
}

func TestExecuteOrder_Validation(t *testing.T) {
	h := newHarness(t, nil)
	h.agent("alpha", "10000")
	_, err := h.eng.PauseAgent(h.ctx, h.agent("sleepy", "10000").ID, "test")
	require.NoError(t, err)

	tests := []struct {
		name    string
		agent   string
		spec    domain.OrderSpec
		wantErr error
	}{
		{
			name:    "zero quantity",
			agent:   "alpha",
			spec:    domain.OrderSpec{Symbol: "BTC/USD", Side: domain.OrderSideBuy, Quantity: decimal.Zero, TimeInForce: domain.TimeInForceGTC, Terms: domain.MarketTerms{}},
			wantErr: domain.ErrValidation,
		},
		{
			name:    "negative limit",
			agent:   "alpha",
			spec:    domain.OrderSpec{Symbol: "BTC/USD", Side: domain.OrderSideBuy, Quantity: d("1"), TimeInForce: domain.TimeInForceGTC, Terms: domain.LimitTerms{Limit: d("-1")}},
			wantErr: domain.ErrValidation,
		},
		{
			name:    "unknown symbol",
			agent:   "alpha",
			spec:    domain.OrderSpec{Symbol: "DOGE/USD", Side: domain.OrderSideBuy, Quantity: d("1"), TimeInForce: domain.TimeInForceGTC, Terms: domain.MarketTerms{}},
			wantErr: domain.ErrUnknownSymbol,
		},
		{
			name:    "unknown agent",
			agent:   "ghost",
			spec:    domain.OrderSpec{Symbol: "AAPL", Side: domain.OrderSideBuy, Quantity: d("1"), TimeInForce: domain.TimeInForceGTC, Terms: domain.MarketTerms{}},
			wantErr: domain.ErrAgentNotEligible,
		},
		{
			name:    "paused agent",
			agent:   "sleepy",
			spec:    domain.OrderSpec{Symbol: "AAPL", Side: domain.OrderSideBuy, Quantity: d("1"), TimeInForce: domain.TimeInForceGTC, Terms: domain.MarketTerms{}},
			wantErr: domain.ErrAgentNotEligible,
		},
		{
			name:    "sell without position",
			agent:   "alpha",
			spec:    domain.OrderSpec{Symbol: "AAPL", Side: domain.OrderSideSell, Quantity: d("1"), TimeInForce: domain.TimeInForceGTC, Terms: domain.MarketTerms{}},
			wantErr: domain.ErrInsufficientBalance,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, err := h.eng.ExecuteOrder(h.ctx, tt.agent, tt.spec)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, domain.OrderStatusRejected, o.Status)
		})
	}
	assert.True(t, h.portfolio("alpha").Cash.Equal(d("10000")))
}

func TestCancelOrder_TwiceIsNotCancellable(t *testing.T) {
	h := newHarness(t, nil)
	h.agent("alpha", "10000")
	o := h.limit("alpha", "AAPL", domain.OrderSideBuy, "10", "150")
	assert.True(t, h.portfolio("alpha").ReservedCash.Equal(d("1500")))

	c, err := h.eng.CancelOrder(h.ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, c.Status)
	assert.True(t, h.portfolio("alpha").ReservedCash.IsZero())

	rec := &recorder{}
	h.eng.Subscribe(domain.TopicAll, rec.handle)
	before := h.portfolio("alpha")

	for i := 0; i < 2; i++ {
		got, err := h.eng.CancelOrder(h.ctx, o.ID)
		assert.ErrorIs(t, err, domain.ErrOrderNotCancellable)
		assert.Equal(t, domain.OrderStatusCancelled, got.Status)
	}
	assert.Empty(t, rec.topics())
	assert.Equal(t, before, h.portfolio("alpha"))

	_, err = h.eng.CancelOrder(h.ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCancelOrder_FilledIsNotCancellable(t *testing.T) {
	h := newHarness(t, nil)
	h.agent("alpha", "10000")
	o, err := h.market("alpha", "AAPL", domain.OrderSideBuy, "1")
	require.NoError(t, err)

	_, err = h.eng.CancelOrder(h.ctx, o.ID)
	assert.ErrorIs(t, err, domain.ErrOrderNotCancellable)
}

func TestTick_PricesUpdatedPrecedesFills(t *testing.T) {
	h := newHarness(t, nil)
	h.agent("alpha", "10000")
	h.limit("alpha", "AAPL", domain.OrderSideBuy, "10", "180")

	rec := &recorder{}
	h.eng.Subscribe(domain.TopicPricesUpdated, rec.handle)
	h.eng.Subscribe(domain.TopicOrderFilled, rec.handle)

	h.tick(map[string]string{"AAPL": "179.50"})
	assert.Equal(t, []domain.Topic{domain.TopicPricesUpdated, domain.TopicOrderFilled}, rec.topics())

	fill := rec.events[1].Payload.(domain.OrderFilled)
	upd := rec.events[0].Payload.(domain.PricesUpdated)
	assert.Equal(t, upd.Tick, fill.Tick)
	assert.True(t, fill.Fill.Price.Equal(d("179.5")))
	assert.True(t, fill.Portfolio.Positions["AAPL"].CurrentPrice.Equal(d("179.5")))
	assertValueInvariant(t, fill.Portfolio)
}

func TestTick_ValueInvariantHoldsEveryTick(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.AllowShort = true
		c.FeeRate = d("0.001")
	})
	h.agent("alpha", "100000")
	h.agent("beta", "50000")

	_, err := h.market("alpha", "BTC/USD", domain.OrderSideBuy, "0.5")
	require.NoError(t, err)
	_, err = h.market("alpha", "ETH/USD", domain.OrderSideBuy, "3")
	require.NoError(t, err)
	_, err = h.market("beta", "AAPL", domain.OrderSideSell, "20")
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		h.clock.Advance(time.Second)
		_, err := h.eng.Tick(h.ctx, nil)
		require.NoError(t, err)
		for _, a := range h.eng.Agents() {
			assertValueInvariant(t, a.Portfolio)
		}
	}
}

func TestTick_RandomWalkStaysBounded(t *testing.T) {
	h := newHarness(t, nil)
	prev := domain.PriceMap(h.eng.MarketPrices())
	vols := map[string]decimal.Decimal{}
	for _, s := range testConfig().Symbols {
		vols[s.Symbol] = s.Volatility
	}
	for i := 0; i < 100; i++ {
		upd, err := h.eng.Tick(h.ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, uint64(i+1), upd.Tick)
		for _, p := range upd.Prices {
			bound := prev[p.Symbol].Mul(vols[p.Symbol]).Add(d("0.01"))
			assert.True(t, p.Price.Sub(prev[p.Symbol]).Abs().LessThanOrEqual(bound),
				"%s moved %s beyond %s", p.Symbol, p.Change, bound)
			assert.True(t, p.Price.IsPositive())
			prev[p.Symbol] = p.Price
		}
	}
}

func TestTick_UnknownOverrideChangesNothing(t *testing.T) {
	h := newHarness(t, nil)
	before := h.eng.MarketPrices()
	_, err := h.eng.Tick(h.ctx, map[string]decimal.Decimal{"NOPE": d("1")})
	assert.ErrorIs(t, err, domain.ErrUnknownSymbol)
	assert.Equal(t, before, h.eng.MarketPrices())
	assert.Equal(t, uint64(0), h.eng.Status().Tick)

	_, err = h.eng.Price("NOPE")
	assert.ErrorIs(t, err, domain.ErrUnknownSymbol)
}

func TestLimitOrders_FillOnlyWhenPriceCrosses(t *testing.T) {
	h := newHarness(t, nil)
	h.agent("alpha", "10000")
	_, err := h.market("alpha", "AAPL", domain.OrderSideBuy, "10")
	require.NoError(t, err)

	buy := h.limit("alpha", "AAPL", domain.OrderSideBuy, "5", "185")
	sell := h.limit("alpha", "AAPL", domain.OrderSideSell, "10", "200")

	h.tick(map[string]string{"AAPL": "188"})
	o, _ := h.eng.Order(buy.ID)
	assert.Equal(t, domain.OrderStatusPending, o.Status)

	h.tick(map[string]string{"AAPL": "185"})
	o, _ = h.eng.Order(buy.ID)
	assert.Equal(t, domain.OrderStatusFilled, o.Status)
	assert.True(t, o.AvgFillPrice.Equal(d("185")))

	h.tick(map[string]string{"AAPL": "199.99"})
	o, _ = h.eng.Order(sell.ID)
	assert.Equal(t, domain.OrderStatusPending, o.Status)

	h.tick(map[string]string{"AAPL": "201"})
	o, _ = h.eng.Order(sell.ID)
	assert.Equal(t, domain.OrderStatusFilled, o.Status)
	assert.True(t, o.AvgFillPrice.Equal(d("201")))
}

func TestStopOrders_TriggerOnAdverseCross(t *testing.T) {
	h := newHarness(t, nil)
	h.agent("alpha", "100000")
	_, err := h.market("alpha", "ETH/USD", domain.OrderSideBuy, "2")
	require.NoError(t, err)

	stop, err := h.eng.ExecuteOrder(h.ctx, "alpha", domain.OrderSpec{
		Symbol: "ETH/USD", Side: domain.OrderSideSell, Quantity: d("1"),
		TimeInForce: domain.TimeInForceGTC, Terms: domain.StopTerms{Stop: d("2900")},
	})
	require.NoError(t, err)
	stopLimit, err := h.eng.ExecuteOrder(h.ctx, "alpha", domain.OrderSpec{
		Symbol: "ETH/USD", Side: domain.OrderSideSell, Quantity: d("1"),
		TimeInForce: domain.TimeInForceGTC, Terms: domain.StopLimitTerms{Stop: d("2800"), Limit: d("2790")},
	})
	require.NoError(t, err)

	h.tick(map[string]string{"ETH/USD": "3100"})
	o, _ := h.eng.Order(stop.ID)
	assert.Equal(t, domain.OrderStatusPending, o.Status)
	assert.False(t, o.Triggered)

	h.tick(map[string]string{"ETH/USD": "2899"})
	o, _ = h.eng.Order(stop.ID)
	assert.Equal(t, domain.OrderStatusFilled, o.Status)
	assert.True(t, o.AvgFillPrice.Equal(d("2899")))

	// Gaps through the stop and below the limit: armed but not filled.
	h.tick(map[string]string{"ETH/USD": "2700"})
	o, _ = h.eng.Order(stopLimit.ID)
	assert.True(t, o.Triggered)
	assert.Equal(t, domain.OrderStatusPending, o.Status)

	h.tick(map[string]string{"ETH/USD": "2795"})
	o, _ = h.eng.Order(stopLimit.ID)
	assert.Equal(t, domain.OrderStatusFilled, o.Status)
	assert.Empty(t, h.portfolio("alpha").Positions)
}

func TestPartialFills_LiquidityCapAndTimeInForce(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.Symbols[2].MaxFillPerTick = d("4")
	})
	h.agent("alpha", "100000")

	gtc := h.limit("alpha", "AAPL", domain.OrderSideBuy, "10", "200")
	h.tick(map[string]string{"AAPL": "190"})
	o, _ := h.eng.Order(gtc.ID)
	assert.Equal(t, domain.OrderStatusPartiallyFilled, o.Status)
	assert.True(t, o.FilledQuantity.Equal(d("4")))
	assert.True(t, h.portfolio("alpha").ReservedCash.Equal(d("1200")), "reserved %s", h.portfolio("alpha").ReservedCash)

	c, err := h.eng.CancelOrder(h.ctx, gtc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, c.Status)
	assert.True(t, c.FilledQuantity.Equal(d("4")))
	assert.True(t, h.portfolio("alpha").ReservedCash.IsZero())

	ioc, err := h.eng.ExecuteOrder(h.ctx, "alpha", domain.OrderSpec{
		Symbol: "AAPL", Side: domain.OrderSideBuy, Quantity: d("10"),
		TimeInForce: domain.TimeInForceIOC, Terms: domain.MarketTerms{},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, ioc.Status)
	assert.True(t, ioc.FilledQuantity.Equal(d("4")))

	fok, err := h.eng.ExecuteOrder(h.ctx, "alpha", domain.OrderSpec{
		Symbol: "AAPL", Side: domain.OrderSideBuy, Quantity: d("10"),
		TimeInForce: domain.TimeInForceFOK, Terms: domain.MarketTerms{},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, fok.Status)
	assert.True(t, fok.FilledQuantity.IsZero())

	p := h.portfolio("alpha")
	assert.True(t, p.Positions["AAPL"].Quantity.Equal(d("8")))
}

func TestIOCLimit_NotMarketableIsCancelled(t *testing.T) {
	h := newHarness(t, nil)
	h.agent("alpha", "10000")
	o, err := h.eng.ExecuteOrder(h.ctx, "alpha", domain.OrderSpec{
		Symbol: "AAPL", Side: domain.OrderSideBuy, Quantity: d("1"),
		TimeInForce: domain.TimeInForceIOC, Terms: domain.LimitTerms{Limit: d("100")},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, o.Status)
	assert.True(t, h.portfolio("alpha").ReservedCash.IsZero())
}

func TestPausedAgent_ReceivesNoFills(t *testing.T) {
	h := newHarness(t, nil)
	h.agent("alpha", "10000")
	o := h.limit("alpha", "AAPL", domain.OrderSideBuy, "1", "180")

	_, err := h.eng.PauseAgent(h.ctx, "alpha", "test")
	require.NoError(t, err)
	h.tick(map[string]string{"AAPL": "170"})
	got, _ := h.eng.Order(o.ID)
	assert.Equal(t, domain.OrderStatusPending, got.Status)

	_, err = h.eng.ActivateAgent(h.ctx, "alpha", "test")
	require.NoError(t, err)
	h.tick(map[string]string{"AAPL": "175"})
	got, _ = h.eng.Order(o.ID)
	assert.Equal(t, domain.OrderStatusFilled, got.Status)
}

func TestStopAgent_CancelsOpenOrders(t *testing.T) {
	h := newHarness(t, nil)
	h.agent("alpha", "10000")
	o := h.limit("alpha", "AAPL", domain.OrderSideBuy, "1", "100")

	a, err := h.eng.StopAgent(h.ctx, "alpha", "retired")
	require.NoError(t, err)
	assert.Equal(t, domain.AgentStatusStopped, a.Status)
	got, _ := h.eng.Order(o.ID)
	assert.Equal(t, domain.OrderStatusCancelled, got.Status)

	require.NoError(t, h.eng.RemoveAgent(h.ctx, "alpha"))
	_, err = h.eng.Agent("alpha")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, h.eng.RemoveAgent(h.ctx, "alpha"), domain.ErrNotFound)
}

func TestReservation_BlocksOverspending(t *testing.T) {
	h := newHarness(t, nil)
	h.agent("alpha", "1000")
	h.limit("alpha", "AAPL", domain.OrderSideBuy, "5", "150")

	_, err := h.market("alpha", "AAPL", domain.OrderSideBuy, "2")
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

	o, err := h.market("alpha", "AAPL", domain.OrderSideBuy, "1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFilled, o.Status)
}

func TestAgents_CreationOrderAndDuplicates(t *testing.T) {
	h := newHarness(t, nil)
	h.agent("b", "1")
	h.agent("a", "1")
	h.agent("c", "1")

	var ids []string
	for _, a := range h.eng.Agents() {
		ids = append(ids, a.ID)
	}
	assert.Equal(t, []string{"b", "a", "c"}, ids)

	_, err := h.eng.CreateAgent(h.ctx, domain.AgentConfig{ID: "a", Name: "again"})
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
	_, err = h.eng.CreateAgent(h.ctx, domain.AgentConfig{Name: " "})
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = h.eng.SetAgentStatus(h.ctx, "a", "sleeping", "")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestRiskLimits_PreTrade(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.Risk.MaxOrderNotional = d("1000")
		c.Risk.MaxOpenOrders = 1
	})
	h.agent("alpha", "100000")

	_, err := h.market("alpha", "AAPL", domain.OrderSideBuy, "10")
	assert.ErrorIs(t, err, domain.ErrRiskLimitExceeded)

	h.limit("alpha", "AAPL", domain.OrderSideBuy, "1", "100")
	_, err = h.eng.ExecuteOrder(h.ctx, "alpha", domain.OrderSpec{
		Symbol: "AAPL", Side: domain.OrderSideBuy, Quantity: d("1"),
		TimeInForce: domain.TimeInForceGTC, Terms: domain.LimitTerms{Limit: d("101")},
	})
	assert.ErrorIs(t, err, domain.ErrRiskLimitExceeded)
}

func TestRiskAlerts_DrawdownRaisesOnceAndAutoPauses(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.Risk.MaxDrawdownPct = d("0.10")
		c.Risk.AutoPauseOnDrawdown = true
	})
	h.agent("alpha", "10000")
	_, err := h.market("alpha", "AAPL", domain.OrderSideBuy, "50")
	require.NoError(t, err)

	rec := &recorder{}
	h.eng.Subscribe(domain.TopicRiskAlert, rec.handle)

	h.tick(map[string]string{"AAPL": "185"}) // 500 + 9250, 2.5% drawdown
	assert.Empty(t, h.eng.RiskAlerts())

	h.tick(map[string]string{"AAPL": "170"}) // 500 + 8500, 10% drawdown
	h.tick(map[string]string{"AAPL": "160"})
	alerts := h.eng.RiskAlerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, domain.RiskAlertDrawdown, alerts[0].Kind)
	assert.Equal(t, domain.RiskSeverityCritical, alerts[0].Severity)
	assert.Equal(t, 1, rec.count(domain.TopicRiskAlert))

	a, _ := h.eng.Agent("alpha")
	assert.Equal(t, domain.AgentStatusPaused, a.Status)

	h.tick(map[string]string{"AAPL": "200"}) // new peak
	assert.Empty(t, h.eng.RiskAlerts())
	require.Equal(t, 2, rec.count(domain.TopicRiskAlert))
	cleared := rec.events[1].Payload.(domain.RiskAlert)
	assert.True(t, cleared.Cleared)
}

func TestRiskAlerts_KillSwitchHaltsTrading(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.Risk.KillSwitchLoss = d("1000")
	})
	h.agent("alpha", "10000")
	h.agent("beta", "10000")
	_, err := h.market("alpha", "BTC/USD", domain.OrderSideBuy, "0.1")
	require.NoError(t, err)
	_, err = h.market("beta", "BTC/USD", domain.OrderSideBuy, "0.1")
	require.NoError(t, err)
	h.limit("beta", "AAPL", domain.OrderSideBuy, "1", "100")

	rec := &recorder{}
	h.eng.Subscribe(domain.TopicAll, rec.handle)

	h.tick(map[string]string{"BTC/USD": "46000"}) // each agent down 400
	assert.False(t, h.eng.Halted())

	h.tick(map[string]string{"BTC/USD": "44000"}) // each agent down 600
	assert.True(t, h.eng.Halted())
	assert.Equal(t, 1, rec.count(domain.TopicEmergencyStop))
	assert.Empty(t, h.eng.OpenOrders())
	assert.Contains(t, h.eng.Status().HaltReason, "kill switch")
}

func TestRiskAlerts_KillSwitchStaysLatchedAfterResume(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.Risk.KillSwitchLoss = d("1000")
	})
	h.agent("alpha", "10000")
	h.agent("beta", "10000")
	_, err := h.market("alpha", "BTC/USD", domain.OrderSideBuy, "0.1")
	require.NoError(t, err)
	_, err = h.market("beta", "BTC/USD", domain.OrderSideBuy, "0.1")
	require.NoError(t, err)

	rec := &recorder{}
	h.eng.Subscribe(domain.TopicAll, rec.handle)

	h.tick(map[string]string{"BTC/USD": "44000"})
	require.True(t, h.eng.Halted())

	require.True(t, h.eng.ResumeTrading(h.ctx))
	_, err = h.eng.ActivateAgent(h.ctx, "alpha", "operator")
	require.NoError(t, err)

	// Same loss, no new trip.
	h.tick(map[string]string{"BTC/USD": "44000"})
	assert.False(t, h.eng.Halted())
	assert.Equal(t, 1, rec.count(domain.TopicEmergencyStop))

	sell, err := h.market("alpha", "BTC/USD", domain.OrderSideSell, "0.1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFilled, sell.Status)

	// Loss back under the threshold rearms the switch.
	h.tick(map[string]string{"BTC/USD": "49000"})
	assert.False(t, h.eng.Halted())
	h.tick(map[string]string{"BTC/USD": "40000"})
	assert.True(t, h.eng.Halted())
	assert.Equal(t, 2, rec.count(domain.TopicEmergencyStop))
}

func TestStressTest_DoesNotMutate(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.Risk.MaxDrawdownPct = d("0.2") })
	h.agent("alpha", "10000")
	h.agent("beta", "10000")
	_, err := h.market("alpha", "BTC/USD", domain.OrderSideBuy, "0.1")
	require.NoError(t, err)
	_, err = h.market("beta", "AAPL", domain.OrderSideBuy, "10")
	require.NoError(t, err)

	before := h.eng.Agents()
	prices := h.eng.MarketPrices()

	sc, err := ScenarioByName("crypto_winter")
	require.NoError(t, err)
	res, err := h.eng.StressTest(sc)
	require.NoError(t, err)

	assert.Equal(t, before, h.eng.Agents())
	assert.Equal(t, prices, h.eng.MarketPrices())

	require.Len(t, res.Agents, 2)
	assert.True(t, res.ShockedPrices["BTC/USD"].Equal(d("25000")))
	assert.True(t, res.ShockedPrices["AAPL"].Equal(d("171")))
	assert.True(t, res.Agents[0].Impact.Equal(d("-2500")))
	assert.True(t, res.Agents[0].BreachesLimit)
	assert.True(t, res.Agents[1].Impact.Equal(d("-190")))
	assert.False(t, res.Agents[1].BreachesLimit)
	assert.Equal(t, 1, res.Breaches)

	_, err = ScenarioByName("nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = h.eng.StressTest(domain.StressScenario{Name: "bad", Default: d("-2")})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestSummary_AggregatesPortfolios(t *testing.T) {
	h := newHarness(t, nil)
	h.agent("alpha", "10000")
	h.agent("beta", "5000")
	_, err := h.eng.PauseAgent(h.ctx, "beta", "")
	require.NoError(t, err)
	h.limit("alpha", "AAPL", domain.OrderSideBuy, "1", "100")
	_, err = h.market("alpha", "AAPL", domain.OrderSideBuy, "1")
	require.NoError(t, err)

	s := h.eng.Summary()
	assert.Equal(t, 2, s.Agents)
	assert.Equal(t, 1, s.ByStatus[domain.AgentStatusActive])
	assert.Equal(t, 1, s.ByStatus[domain.AgentStatusPaused])
	assert.Equal(t, 1, s.OpenOrders)
	assert.Equal(t, 1, s.TotalTrades)
	assert.True(t, s.WinRate.IsZero())
	assert.True(t, s.TotalValue.Equal(d("15000")))
	assert.True(t, s.TotalCash.Equal(d("14810")))
}

func TestSubscriber_CanCallBackIntoEngine(t *testing.T) {
	h := newHarness(t, nil)
	h.agent("alpha", "100000")

	var placed []domain.Order
	h.eng.Subscribe(domain.TopicPricesUpdated, func(ctx context.Context, _ domain.Event) error {
		o, err := h.market("alpha", "AAPL", domain.OrderSideBuy, "1")
		placed = append(placed, o)
		return err
	})
	h.eng.Subscribe(domain.TopicOrderFilled, func(context.Context, domain.Event) error {
		return errors.New("observer failure does not affect the engine")
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.tick(nil)
		h.tick(nil)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("engine deadlocked when a subscriber called back into it")
	}
	require.Len(t, placed, 2)
	assert.True(t, h.portfolio("alpha").Positions["AAPL"].Quantity.Equal(d("2")))
}

func TestRun_StartStop(t *testing.T) {
	h := newHarness(t, nil)

	ticked := make(chan struct{}, 1)
	h.eng.Subscribe(domain.TopicPricesUpdated, func(context.Context, domain.Event) error {
		select {
		case ticked <- struct{}{}:
		default:
		}
		return nil
	})

	require.NoError(t, h.eng.Start(h.ctx))
	assert.ErrorIs(t, h.eng.Start(h.ctx), domain.ErrEngineRunning)

	select {
	case <-ticked:
	case <-time.After(2 * time.Second):
		t.Fatal("no tick observed")
	}
	h.eng.Stop()
	assert.False(t, h.eng.Status().Running)
	h.eng.Stop()
}

func TestSeedPrices(t *testing.T) {
	h := newHarness(t, nil)
	n := h.eng.SeedPrices(map[string]decimal.Decimal{
		"BTC/USD": d("61000.123"),
		"NOPE":    d("1"),
		"AAPL":    d("-5"),
	})
	assert.Equal(t, 1, n)
	p, err := h.eng.Price("BTC/USD")
	require.NoError(t, err)
	assert.True(t, p.Equal(d("61000.12")))
}

func TestNew_RejectsBadConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Symbols = append(cfg.Symbols, cfg.Symbols[0])
	_, err := New(cfg, nil)
	assert.Error(t, err)

	cfg = testConfig()
	cfg.TickInterval = 0
	_, err = New(cfg, nil)
	assert.Error(t, err)
}
