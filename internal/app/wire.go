package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	s3blob "github.com/alanyoungcy/papersim/internal/blob/s3"
	"github.com/alanyoungcy/papersim/internal/cache/memory"
	"github.com/alanyoungcy/papersim/internal/cache/redis"
	"github.com/alanyoungcy/papersim/internal/config"
	"github.com/alanyoungcy/papersim/internal/domain"
	"github.com/alanyoungcy/papersim/internal/notify"
	"github.com/alanyoungcy/papersim/internal/server/handler"
	"github.com/alanyoungcy/papersim/internal/store/postgres"
)

// priceCacheTTL bounds how long a stopped simulator's prices stay usable for
// seeding the next run.
const priceCacheTTL = 6 * time.Hour

// rateLimiterIdle is how long an unused in-memory bucket survives a sweep.
const rateLimiterIdle = 10 * time.Minute

// Dependencies bundles the optional side channels around the engine. A nil
// field means the channel is disabled; the engine never depends on any of
// them.
type Dependencies struct {
	// Postgres history
	Stores *postgres.Stores

	// Redis
	PriceCache  domain.PriceCache
	LockManager domain.LockManager
	Events      domain.EventRelay

	// Always set: Redis-backed in full mode with Redis, in-memory otherwise.
	RateLimiter domain.RateLimiter
	// MemoryLimiter is set when RateLimiter is the in-memory one and needs
	// its idle buckets swept.
	MemoryLimiter *memory.RateLimiter

	// Object storage
	Archiver      domain.Archiver
	ArchiveReader domain.ArchiveReader

	// Notifications; nil when no sender is configured.
	Notifier *notify.Notifier

	// Checks feeds the health endpoint, one entry per enabled channel.
	Checks map[string]handler.Checker
}

// Wire connects every side channel the configuration enables and returns
// them together with a cleanup function that releases them in reverse
// order. Simulate mode wires nothing but the in-memory rate limiter.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{Checks: make(map[string]handler.Checker)}
	full := strings.EqualFold(cfg.Mode, "full")

	// --- PostgreSQL ---
	if full && cfg.Supabase.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Supabase.DSN,
			Host:     cfg.Supabase.Host,
			Port:     cfg.Supabase.Port,
			Database: cfg.Supabase.Database,
			User:     cfg.Supabase.User,
			Password: cfg.Supabase.Password,
			SSLMode:  cfg.Supabase.SSLMode,
			MaxConns: cfg.Supabase.PoolMaxConns,
			MinConns: cfg.Supabase.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Supabase.RunMigrations {
			applied, err := pgClient.RunMigrations(ctx)
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
			if len(applied) > 0 {
				logger.Info("postgres migrations applied", slog.Any("migrations", applied))
			}
		}
		stores := pgClient.Stores()
		deps.Stores = &stores
		deps.Checks["postgres"] = pgClient.Ping
	}

	// --- Redis ---
	if full && cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.PriceCache = redis.NewPriceCache(redisClient, priceCacheTTL)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.Events = redis.NewEventRelay(redisClient, cfg.Redis.StreamMaxLen)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.Checks["redis"] = redisClient.Ping
	} else {
		deps.MemoryLimiter = memory.NewRateLimiter(rateLimiterIdle)
		deps.RateLimiter = deps.MemoryLimiter
	}

	// --- S3 archive (requires the Postgres history it drains) ---
	if full && cfg.S3.Enabled && deps.Stores != nil {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		reader := s3blob.NewReader(s3Client, cfg.Archive.Prefix)
		deps.ArchiveReader = reader
		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			reader,
			deps.Stores.Fills,
			deps.Stores.Orders,
			deps.Stores.Equity,
			deps.Stores.Audit,
			cfg.Archive.Prefix,
			0,
		)
		deps.Checks["s3"] = s3Client.Health
	}

	// --- Notifications ---
	if full {
		n := notify.NewNotifier(
			notify.FromConfig(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID, cfg.Notify.DiscordWebhookURL),
			cfg.Notify.Events,
			logger,
		)
		if n.Enabled() {
			deps.Notifier = n
		}
	}

	return deps, cleanup, nil
}
