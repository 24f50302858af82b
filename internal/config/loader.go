package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies PAPERSIM_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known PAPERSIM_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Engine ──
	setDuration(&cfg.Engine.TickInterval, "PAPERSIM_ENGINE_TICK_INTERVAL")
	setFloat64(&cfg.Engine.FeeRate, "PAPERSIM_ENGINE_FEE_RATE")
	setBool(&cfg.Engine.AllowShort, "PAPERSIM_ENGINE_ALLOW_SHORT")
	setInt64(&cfg.Engine.Seed, "PAPERSIM_ENGINE_SEED")
	setBool(&cfg.Engine.SeedFromCache, "PAPERSIM_ENGINE_SEED_FROM_CACHE")

	// ── Risk ──
	setFloat64(&cfg.Risk.MaxDrawdownPct, "PAPERSIM_RISK_MAX_DRAWDOWN_PCT")
	setFloat64(&cfg.Risk.MaxMarginUsage, "PAPERSIM_RISK_MAX_MARGIN_USAGE")
	setFloat64(&cfg.Risk.MaxConcentration, "PAPERSIM_RISK_MAX_CONCENTRATION")
	setBool(&cfg.Risk.AutoPauseOnDrawdown, "PAPERSIM_RISK_AUTO_PAUSE_ON_DRAWDOWN")
	setFloat64(&cfg.Risk.KillSwitchLossUSD, "PAPERSIM_RISK_KILL_SWITCH_LOSS_USD")
	setFloat64(&cfg.Risk.MaxOrderNotional, "PAPERSIM_RISK_MAX_ORDER_NOTIONAL")
	setInt(&cfg.Risk.MaxOpenOrders, "PAPERSIM_RISK_MAX_OPEN_ORDERS")

	// ── Demo ──
	setBool(&cfg.Demo.Enabled, "PAPERSIM_DEMO_ENABLED")
	setFloat64(&cfg.Demo.OrderProbability, "PAPERSIM_DEMO_ORDER_PROBABILITY")
	setFloat64(&cfg.Demo.MaxCashFraction, "PAPERSIM_DEMO_MAX_CASH_FRACTION")
	setInt64(&cfg.Demo.Seed, "PAPERSIM_DEMO_SEED")

	// ── Supabase ──
	setBool(&cfg.Supabase.Enabled, "PAPERSIM_SUPABASE_ENABLED")
	setStr(&cfg.Supabase.DSN, "PAPERSIM_SUPABASE_DSN")
	setStr(&cfg.Supabase.DSN, "PAPERSIM_SUPABASE_URL") // compatibility alias
	setStr(&cfg.Supabase.Host, "PAPERSIM_SUPABASE_HOST")
	setInt(&cfg.Supabase.Port, "PAPERSIM_SUPABASE_PORT")
	setStr(&cfg.Supabase.Database, "PAPERSIM_SUPABASE_DATABASE")
	setStr(&cfg.Supabase.User, "PAPERSIM_SUPABASE_USER")
	setStr(&cfg.Supabase.Password, "PAPERSIM_SUPABASE_PASSWORD")
	setStr(&cfg.Supabase.SSLMode, "PAPERSIM_SUPABASE_SSL_MODE")
	setInt(&cfg.Supabase.PoolMaxConns, "PAPERSIM_SUPABASE_POOL_MAX_CONNS")
	setInt(&cfg.Supabase.PoolMinConns, "PAPERSIM_SUPABASE_POOL_MIN_CONNS")
	setBool(&cfg.Supabase.RunMigrations, "PAPERSIM_SUPABASE_RUN_MIGRATIONS")
	setInt(&cfg.Supabase.BufferSize, "PAPERSIM_SUPABASE_BUFFER_SIZE")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "PAPERSIM_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "PAPERSIM_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PAPERSIM_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PAPERSIM_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "PAPERSIM_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "PAPERSIM_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "PAPERSIM_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.LockTTL, "PAPERSIM_REDIS_LOCK_TTL")
	setInt64(&cfg.Redis.StreamMaxLen, "PAPERSIM_REDIS_STREAM_MAX_LEN")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "PAPERSIM_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "PAPERSIM_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "PAPERSIM_S3_REGION")
	setStr(&cfg.S3.Bucket, "PAPERSIM_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "PAPERSIM_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "PAPERSIM_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "PAPERSIM_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "PAPERSIM_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setDuration(&cfg.Archive.Interval, "PAPERSIM_ARCHIVE_INTERVAL")
	setInt(&cfg.Archive.RetentionDays, "PAPERSIM_ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.Archive.Prefix, "PAPERSIM_ARCHIVE_PREFIX")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "PAPERSIM_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "PAPERSIM_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "PAPERSIM_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKeyHash, "PAPERSIM_SERVER_API_KEY_HASH")
	setInt(&cfg.Server.RateLimitPerSecond, "PAPERSIM_SERVER_RATE_LIMIT_PER_SECOND")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "PAPERSIM_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "PAPERSIM_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "PAPERSIM_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "PAPERSIM_NOTIFY_EVENTS")

	// ── Log ──
	setStr(&cfg.Log.File, "PAPERSIM_LOG_FILE")
	setInt(&cfg.Log.MaxSizeMB, "PAPERSIM_LOG_MAX_SIZE_MB")
	setInt(&cfg.Log.MaxBackups, "PAPERSIM_LOG_MAX_BACKUPS")
	setInt(&cfg.Log.MaxAgeDays, "PAPERSIM_LOG_MAX_AGE_DAYS")
	setBool(&cfg.Log.Compress, "PAPERSIM_LOG_COMPRESS")

	// ── Top-level ──
	setStr(&cfg.Mode, "PAPERSIM_MODE")
	setStr(&cfg.LogLevel, "PAPERSIM_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
