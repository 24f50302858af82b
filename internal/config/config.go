// Package config defines the top-level configuration for the paper-trading
// simulator and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by PAPERSIM_* environment variables.
type Config struct {
	Engine   EngineConfig   `toml:"engine"`
	Agents   []AgentConfig  `toml:"agents"`
	Risk     RiskConfig     `toml:"risk"`
	Demo     DemoConfig     `toml:"demo"`
	Supabase SupabaseConfig `toml:"supabase"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
	Log      LogConfig      `toml:"log"`
}

// EngineConfig holds simulation parameters.
type EngineConfig struct {
	TickInterval duration `toml:"tick_interval"`
	FeeRate      float64  `toml:"fee_rate"`
	AllowShort   bool     `toml:"allow_short"`
	// Seed makes the random walk reproducible. Zero seeds from the clock.
	Seed int64 `toml:"seed"`
	// Symbols replaces the built-in instrument set when non-empty.
	Symbols []SymbolConfig `toml:"symbols"`
	// SeedFromCache primes prices from the Redis price cache at startup
	// (full mode only).
	SeedFromCache bool `toml:"seed_from_cache"`
}

// SymbolConfig describes one simulated instrument.
type SymbolConfig struct {
	Symbol         string  `toml:"symbol"`
	Class          string  `toml:"class"`
	InitialPrice   float64 `toml:"initial_price"`
	Volatility     float64 `toml:"volatility"`
	Precision      int     `toml:"precision"`
	MaxFillPerTick float64 `toml:"max_fill_per_tick"`
}

// AgentConfig seeds an agent at startup.
type AgentConfig struct {
	ID          string  `toml:"id"`
	Name        string  `toml:"name"`
	Strategy    string  `toml:"strategy"`
	InitialCash float64 `toml:"initial_cash"`
	Paused      bool    `toml:"paused"`
}

// RiskConfig holds risk limits. Zero disables a limit.
type RiskConfig struct {
	MaxDrawdownPct      float64 `toml:"max_drawdown_pct"`
	MaxMarginUsage      float64 `toml:"max_margin_usage"`
	MaxConcentration    float64 `toml:"max_concentration"`
	AutoPauseOnDrawdown bool    `toml:"auto_pause_on_drawdown"`
	KillSwitchLossUSD   float64 `toml:"kill_switch_loss_usd"`
	MaxOrderNotional    float64 `toml:"max_order_notional"`
	MaxOpenOrders       int     `toml:"max_open_orders"`
}

// DemoConfig drives the random order generator.
type DemoConfig struct {
	Enabled bool `toml:"enabled"`
	// OrderProbability is the chance per active agent per tick of placing
	// an order.
	OrderProbability float64 `toml:"order_probability"`
	// MaxCashFraction bounds a buy's notional as a share of available cash.
	MaxCashFraction float64 `toml:"max_cash_fraction"`
	Seed            int64   `toml:"seed"`
}

// SupabaseConfig holds PostgreSQL / Supabase connection parameters.
type SupabaseConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
	// BufferSize bounds the recorder queue; events beyond it are dropped.
	BufferSize int `toml:"buffer_size"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	// LockTTL is the lifetime of the single-engine lock; it is extended at
	// a third of this interval.
	LockTTL duration `toml:"lock_ttl"`
	// StreamMaxLen caps the event stream; zero keeps the relay default.
	StreamMaxLen int64 `toml:"stream_max_len"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig controls moving old history from Postgres to S3.
type ArchiveConfig struct {
	Interval      duration `toml:"interval"`
	RetentionDays int      `toml:"retention_days"`
	Prefix        string   `toml:"prefix"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKeyHash is a bcrypt hash of the key mutating endpoints require.
	// Empty disables authentication.
	APIKeyHash string `toml:"api_key_hash"`
	// RateLimitPerSecond caps requests per client; zero disables it.
	RateLimitPerSecond int `toml:"rate_limit_per_second"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// LogConfig enables a rotated log file next to stdout.
type LogConfig struct {
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Compress   bool   `toml:"compress"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Engine: EngineConfig{
			TickInterval: duration{2 * time.Second},
			FeeRate:      0.001,
		},
		Agents: []AgentConfig{
			{ID: "momentum", Name: "Momentum", Strategy: "momentum", InitialCash: 100_000},
			{ID: "meanrev", Name: "Mean Reversion", Strategy: "mean_reversion", InitialCash: 100_000},
		},
		Risk: RiskConfig{
			MaxDrawdownPct:   0.20,
			MaxMarginUsage:   1.0,
			MaxConcentration: 0.50,
		},
		Demo: DemoConfig{
			Enabled:          false,
			OrderProbability: 0.2,
			MaxCashFraction:  0.05,
		},
		Supabase: SupabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
			BufferSize:    1024,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			LockTTL:    duration{30 * time.Second},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "papersim-data",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Interval:      duration{24 * time.Hour},
			RetentionDays: 30,
			Prefix:        "archive",
		},
		Server: ServerConfig{
			Enabled:            true,
			Port:               8000,
			CORSOrigins:        []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimitPerSecond: 20,
		},
		Notify: NotifyConfig{
			Events: []string{"emergency_stop", "kill_switch", "risk_alert"},
		},
		Mode:     "simulate",
		LogLevel: "info",
		Log: LogConfig{
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 14,
		},
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"simulate": true,
	"full":     true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: simulate, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Engine
	if c.Engine.TickInterval.Duration <= 0 {
		errs = append(errs, "engine: tick_interval must be positive")
	}
	if c.Engine.FeeRate < 0 || c.Engine.FeeRate >= 1 {
		errs = append(errs, "engine: fee_rate must be in [0, 1)")
	}
	seen := make(map[string]bool, len(c.Engine.Symbols))
	for i, s := range c.Engine.Symbols {
		if strings.TrimSpace(s.Symbol) == "" {
			errs = append(errs, fmt.Sprintf("engine: symbols[%d]: symbol must not be empty", i))
			continue
		}
		if seen[s.Symbol] {
			errs = append(errs, fmt.Sprintf("engine: duplicate symbol %q", s.Symbol))
		}
		seen[s.Symbol] = true
		if s.InitialPrice <= 0 {
			errs = append(errs, fmt.Sprintf("engine: %s: initial_price must be > 0", s.Symbol))
		}
		if s.Volatility < 0 || s.Volatility >= 1 {
			errs = append(errs, fmt.Sprintf("engine: %s: volatility must be in [0, 1)", s.Symbol))
		}
		if s.Precision < 0 || s.Precision > 12 {
			errs = append(errs, fmt.Sprintf("engine: %s: precision must be 0-12", s.Symbol))
		}
		if s.MaxFillPerTick < 0 {
			errs = append(errs, fmt.Sprintf("engine: %s: max_fill_per_tick must be >= 0", s.Symbol))
		}
	}

	// Agents
	ids := make(map[string]bool, len(c.Agents))
	for i, a := range c.Agents {
		if a.Name == "" {
			errs = append(errs, fmt.Sprintf("agents[%d]: name must not be empty", i))
		}
		if a.InitialCash < 0 {
			errs = append(errs, fmt.Sprintf("agents[%d]: initial_cash must be >= 0", i))
		}
		if a.ID != "" {
			if ids[a.ID] {
				errs = append(errs, fmt.Sprintf("agents: duplicate id %q", a.ID))
			}
			ids[a.ID] = true
		}
	}

	// Risk
	if c.Risk.MaxDrawdownPct < 0 || c.Risk.MaxDrawdownPct > 1 {
		errs = append(errs, "risk: max_drawdown_pct must be in [0, 1]")
	}
	if c.Risk.MaxMarginUsage < 0 {
		errs = append(errs, "risk: max_margin_usage must be >= 0")
	}
	if c.Risk.MaxConcentration < 0 || c.Risk.MaxConcentration > 1 {
		errs = append(errs, "risk: max_concentration must be in [0, 1]")
	}
	if c.Risk.KillSwitchLossUSD < 0 {
		errs = append(errs, "risk: kill_switch_loss_usd must be >= 0")
	}
	if c.Risk.MaxOrderNotional < 0 {
		errs = append(errs, "risk: max_order_notional must be >= 0")
	}
	if c.Risk.MaxOpenOrders < 0 {
		errs = append(errs, "risk: max_open_orders must be >= 0")
	}

	// Demo
	if c.Demo.Enabled {
		if c.Demo.OrderProbability <= 0 || c.Demo.OrderProbability > 1 {
			errs = append(errs, "demo: order_probability must be in (0, 1]")
		}
		if c.Demo.MaxCashFraction <= 0 || c.Demo.MaxCashFraction > 1 {
			errs = append(errs, "demo: max_cash_fraction must be in (0, 1]")
		}
	}

	// Side channels are only checked when full mode would start them.
	if strings.EqualFold(c.Mode, "full") {
		if c.Supabase.Enabled {
			if strings.TrimSpace(c.Supabase.DSN) == "" {
				if c.Supabase.Host == "" {
					errs = append(errs, "supabase: host must not be empty (or set supabase.dsn)")
				}
				if c.Supabase.Port <= 0 || c.Supabase.Port > 65535 {
					errs = append(errs, fmt.Sprintf("supabase: port must be 1-65535, got %d", c.Supabase.Port))
				}
				if c.Supabase.Database == "" {
					errs = append(errs, "supabase: database must not be empty")
				}
			}
			if c.Supabase.PoolMaxConns < 1 {
				errs = append(errs, "supabase: pool_max_conns must be >= 1")
			}
			if c.Supabase.PoolMinConns < 0 {
				errs = append(errs, "supabase: pool_min_conns must be >= 0")
			}
			if c.Supabase.PoolMinConns > c.Supabase.PoolMaxConns {
				errs = append(errs, "supabase: pool_min_conns must not exceed pool_max_conns")
			}
			if c.Supabase.BufferSize < 1 {
				errs = append(errs, "supabase: buffer_size must be >= 1")
			}
		}
		if c.Redis.Enabled {
			if c.Redis.Addr == "" {
				errs = append(errs, "redis: addr must not be empty")
			}
			if c.Redis.PoolSize < 1 {
				errs = append(errs, "redis: pool_size must be >= 1")
			}
			if c.Redis.LockTTL.Duration < 3*time.Second {
				errs = append(errs, "redis: lock_ttl must be at least 3s")
			}
			if c.Redis.StreamMaxLen < 0 {
				errs = append(errs, "redis: stream_max_len must not be negative")
			}
		}
		if c.S3.Enabled {
			if c.S3.Endpoint == "" {
				errs = append(errs, "s3: endpoint must not be empty")
			}
			if c.S3.Bucket == "" {
				errs = append(errs, "s3: bucket must not be empty")
			}
			if !c.Supabase.Enabled {
				errs = append(errs, "s3: archiving requires supabase.enabled")
			}
			if c.Archive.Interval.Duration <= 0 {
				errs = append(errs, "archive: interval must be positive")
			}
			if c.Archive.RetentionDays < 1 {
				errs = append(errs, "archive: retention_days must be >= 1")
			}
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimitPerSecond < 0 {
			errs = append(errs, "server: rate_limit_per_second must be >= 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
