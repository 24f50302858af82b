package engine

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/papersim/internal/domain"
)

func TestPriceFeed_SameSeedSamePath(t *testing.T) {
	now := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	a := newPriceFeed(testConfig().Symbols, 7, now)
	b := newPriceFeed(testConfig().Symbols, 7, now)
	for range 20 {
		pa, err := a.advance(nil, now)
		require.NoError(t, err)
		pb, err := b.advance(nil, now)
		require.NoError(t, err)
		for i := range pa {
			assert.True(t, pa[i].Price.Equal(pb[i].Price))
		}
	}
}

func TestPriceFeed_FloorsAtMinTick(t *testing.T) {
	now := time.Now()
	f := newPriceFeed([]SymbolConfig{
		{Symbol: "PENNY", InitialPrice: d("0.01"), Volatility: d("0.9"), Precision: 2},
	}, 3, now)
	for range 100 {
		out, err := f.advance(nil, now)
		require.NoError(t, err)
		assert.True(t, out[0].Price.GreaterThanOrEqual(d("0.01")), "price %s", out[0].Price)
	}
}

func TestPriceFeed_OverrideRoundsAndReportsChange(t *testing.T) {
	now := time.Now()
	f := newPriceFeed(testConfig().Symbols, 1, now)
	out, err := f.advance(map[string]decimal.Decimal{"AAPL": d("200.456")}, now)
	require.NoError(t, err)

	var aapl domain.SymbolPrice
	for _, sp := range out {
		if sp.Symbol == "AAPL" {
			aapl = sp
		}
	}
	assert.True(t, aapl.Price.Equal(d("200.46")))
	assert.True(t, aapl.Change.Equal(d("10.46")))
}

func TestPriceFeed_BadOverrideLeavesPricesUntouched(t *testing.T) {
	now := time.Now()
	f := newPriceFeed(testConfig().Symbols, 1, now)
	before := f.priceMap()

	_, err := f.advance(map[string]decimal.Decimal{"AAPL": d("0")}, now)
	require.ErrorIs(t, err, domain.ErrValidation)
	_, err = f.advance(map[string]decimal.Decimal{"NOPE": d("1")}, now)
	require.ErrorIs(t, err, domain.ErrUnknownSymbol)

	assert.Equal(t, before, f.priceMap())
}

func TestPriceFeed_SeedSkipsUnknown(t *testing.T) {
	now := time.Now()
	f := newPriceFeed(testConfig().Symbols, 1, now)
	n := f.seed(map[string]decimal.Decimal{"BTC/USD": d("61000.129"), "NOPE": d("5"), "ETH/USD": d("-1")}, now)
	assert.Equal(t, 1, n)
	px, err := f.price("BTC/USD")
	require.NoError(t, err)
	assert.True(t, px.Equal(d("61000.13")))
}
