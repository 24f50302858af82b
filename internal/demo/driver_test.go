package demo

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/papersim/internal/domain"
	"github.com/alanyoungcy/papersim/internal/engine"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newEngine(t *testing.T) *engine.Engine {
	t.Helper()
	cfg := engine.DefaultConfig()
	cfg.Seed = 3
	eng, err := engine.New(cfg, quietLogger())
	require.NoError(t, err)
	t.Cleanup(eng.Shutdown)
	return eng
}

func TestDriver_PlacesOrdersForActiveAgentsOnly(t *testing.T) {
	eng := newEngine(t)
	ctx := context.Background()
	_, err := eng.CreateAgent(ctx, domain.AgentConfig{ID: "m", Name: "M", Strategy: "momentum", InitialCash: decimal.NewFromInt(100_000)})
	require.NoError(t, err)
	_, err = eng.CreateAgent(ctx, domain.AgentConfig{ID: "p", Name: "P", InitialCash: decimal.NewFromInt(100_000), Paused: true})
	require.NoError(t, err)

	drv := New(eng, Config{OrderProbability: 1, MaxCashFraction: 0.1, Seed: 9}, quietLogger())
	defer drv.Attach()()

	for range 10 {
		_, err := eng.Tick(ctx, nil)
		require.NoError(t, err)
	}

	assert.Positive(t, drv.Placed())
	assert.NotEmpty(t, eng.Orders("m"))
	assert.Empty(t, eng.Orders("p"))
}

func TestDriver_ZeroProbabilityIsQuiet(t *testing.T) {
	eng := newEngine(t)
	ctx := context.Background()
	_, err := eng.CreateAgent(ctx, domain.AgentConfig{ID: "m", Name: "M", InitialCash: decimal.NewFromInt(100_000)})
	require.NoError(t, err)

	drv := New(eng, Config{OrderProbability: 0, MaxCashFraction: 0.1, Seed: 9}, quietLogger())
	defer drv.Attach()()
	_, err = eng.Tick(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, drv.Placed())
}

func TestDriver_SellsOnlyWhatIsHeldWithoutShorting(t *testing.T) {
	drv := New(nil, Config{OrderProbability: 1, MaxCashFraction: 0.5, Seed: 1}, quietLogger())
	prices := []domain.SymbolPrice{{Symbol: "AAPL", Price: decimal.NewFromInt(100), Timestamp: time.Now()}}
	drv.last["AAPL"] = decimal.NewFromInt(110) // momentum says sell

	flat := domain.Agent{ID: "a", Strategy: "momentum", Status: domain.AgentStatusActive,
		Portfolio: *domain.NewPortfolio("a", decimal.NewFromInt(1000), time.Now())}
	for range 20 {
		spec, ok := drv.nextOrder(flat, prices)
		if ok {
			assert.Equal(t, domain.OrderSideBuy, spec.Side)
			assert.True(t, spec.Quantity.Mul(decimal.NewFromInt(100)).LessThanOrEqual(decimal.NewFromInt(500)))
		}
	}

	long := flat
	long.Portfolio.Positions = map[string]*domain.Position{"AAPL": {Symbol: "AAPL", Quantity: decimal.NewFromInt(4)}}
	for range 20 {
		spec, ok := drv.nextOrder(long, prices)
		require.True(t, ok)
		assert.Equal(t, domain.OrderSideSell, spec.Side)
		assert.True(t, spec.Quantity.LessThanOrEqual(decimal.NewFromInt(4)))
		assert.True(t, spec.Quantity.GreaterThanOrEqual(decimal.NewFromInt(1)))
	}
}

func TestLimitPrice(t *testing.T) {
	assert.Equal(t, "99.8", limitPrice(domain.OrderSideBuy, decimal.RequireFromString("100.00")).String())
	assert.Equal(t, "1.08216", limitPrice(domain.OrderSideSell, decimal.RequireFromString("1.08000")).String())
}
