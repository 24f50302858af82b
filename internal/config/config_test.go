package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTOML = `
mode = "full"
log_level = "debug"

[engine]
tick_interval = "500ms"
fee_rate = 0.002
seed = 7

[[engine.symbols]]
symbol = "BTC/USD"
class = "crypto"
initial_price = 60000.0
volatility = 0.02
precision = 2
max_fill_per_tick = 0.5

[[agents]]
id = "alpha"
name = "Alpha"
initial_cash = 2500.0

[risk]
max_drawdown_pct = 0.1
auto_pause_on_drawdown = true
max_open_orders = 5

[redis]
enabled = true
addr = "redis:6379"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "papersim.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_MergesFileOverDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "full", cfg.Mode)
	assert.Equal(t, 500*time.Millisecond, cfg.Engine.TickInterval.Duration)
	require.Len(t, cfg.Agents, 1)
	assert.Equal(t, "alpha", cfg.Agents[0].ID)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, 30*time.Second, cfg.Redis.LockTTL.Duration, "unset fields keep defaults")
	assert.Equal(t, 8000, cfg.Server.Port)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PAPERSIM_MODE", "simulate")
	t.Setenv("PAPERSIM_ENGINE_TICK_INTERVAL", "3s")
	t.Setenv("PAPERSIM_RISK_MAX_OPEN_ORDERS", "9")
	t.Setenv("PAPERSIM_SERVER_CORS_ORIGINS", " https://a.example , ,https://b.example")
	t.Setenv("PAPERSIM_SERVER_PORT", "not-a-number")

	cfg, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)

	assert.Equal(t, "simulate", cfg.Mode)
	assert.Equal(t, 3*time.Second, cfg.Engine.TickInterval.Duration)
	assert.Equal(t, 9, cfg.Risk.MaxOpenOrders)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 8000, cfg.Server.Port, "unparsable values are ignored")
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "simulate", cfg.Mode)
}

func TestValidate_CollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "live"
	cfg.Engine.FeeRate = 1.5
	cfg.Engine.Symbols = []SymbolConfig{{Symbol: "X", InitialPrice: 0, Volatility: 0.1}, {Symbol: "X", InitialPrice: 1}}
	cfg.Agents = append(cfg.Agents, AgentConfig{ID: "momentum", Name: "dup"})
	cfg.Demo = DemoConfig{Enabled: true}

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	for _, want := range []string{
		`unknown mode "live"`,
		"fee_rate must be in [0, 1)",
		"X: initial_price must be > 0",
		`duplicate symbol "X"`,
		`agents: duplicate id "momentum"`,
		"demo: order_probability",
	} {
		assert.Contains(t, msg, want)
	}
}

func TestValidate_SideChannelsOnlyInFullMode(t *testing.T) {
	cfg := Defaults()
	cfg.S3.Enabled = true
	cfg.S3.Bucket = ""
	cfg.Redis.Enabled = true
	cfg.Redis.StreamMaxLen = -1
	require.NoError(t, cfg.Validate())

	cfg.Mode = "full"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3: bucket must not be empty")
	assert.Contains(t, err.Error(), "s3: archiving requires supabase.enabled")
	assert.Contains(t, err.Error(), "redis: stream_max_len must not be negative")
}

func TestToEngine(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)

	ec := cfg.ToEngine()
	require.Len(t, ec.Symbols, 1)
	assert.Equal(t, "BTC/USD", ec.Symbols[0].Symbol)
	assert.True(t, ec.Symbols[0].InitialPrice.Equal(decimal.NewFromInt(60000)))
	assert.True(t, ec.Symbols[0].MaxFillPerTick.Equal(decimal.RequireFromString("0.5")))
	assert.Equal(t, uint64(7), ec.Seed)
	assert.True(t, ec.Risk.AutoPauseOnDrawdown)
	assert.Equal(t, 5, ec.Risk.MaxOpenOrders)

	agents := cfg.AgentConfigs()
	require.Len(t, agents, 1)
	assert.True(t, agents[0].InitialCash.Equal(decimal.NewFromInt(2500)))

	cfg.Engine.Symbols = nil
	assert.NotEmpty(t, cfg.ToEngine().Symbols)
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Supabase.Password = "hunter2"
	cfg.Notify.TelegramToken = "tok"

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Supabase.Password)
	assert.Equal(t, "***", out.Notify.TelegramToken)
	assert.Empty(t, out.Redis.Password)
	assert.Equal(t, "hunter2", cfg.Supabase.Password)

	out.Server.CORSOrigins[0] = "changed"
	assert.NotEqual(t, "changed", cfg.Server.CORSOrigins[0])
}
