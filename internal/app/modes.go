package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/papersim/internal/demo"
	"github.com/alanyoungcy/papersim/internal/domain"
	"github.com/alanyoungcy/papersim/internal/engine"
	"github.com/alanyoungcy/papersim/internal/server"
	"github.com/alanyoungcy/papersim/internal/server/handler"
	"github.com/alanyoungcy/papersim/internal/server/ws"
	"github.com/alanyoungcy/papersim/internal/service"
)

const (
	// equityEvery is how many ticks pass between equity snapshots.
	equityEvery = 10
	// limiterSweep is how often idle in-memory rate limit buckets are dropped.
	limiterSweep = time.Minute
	// shutdownGrace bounds how long in-flight HTTP requests may finish.
	shutdownGrace = 10 * time.Second
)

// SimulateMode runs the engine with the HTTP API, the WebSocket stream and,
// when enabled, the demo order generator. Nothing leaves the process.
func (a *App) SimulateMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting simulate mode")
	return a.run(ctx, deps)
}

// FullMode is SimulateMode plus every side channel the configuration
// enables: Postgres history, the Redis relay and lock, S3 archiving and
// operator notifications.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode",
		slog.Bool("postgres", deps.Stores != nil),
		slog.Bool("redis", deps.Events != nil),
		slog.Bool("s3", deps.Archiver != nil),
		slog.Bool("notify", deps.Notifier != nil),
	)
	return a.run(ctx, deps)
}

// run builds the engine, subscribes every consumer before the first agent
// exists so none of them misses an event, then runs all loops until ctx is
// cancelled or one of them fails.
func (a *App) run(ctx context.Context, deps *Dependencies) error {
	eng, err := engine.New(a.cfg.ToEngine(), a.logger)
	if err != nil {
		return fmt.Errorf("app: engine: %w", err)
	}
	defer eng.Shutdown()

	g, gctx := errgroup.WithContext(ctx)
	var loops []func(context.Context) error

	if deps.Stores != nil {
		rec := service.NewRecorder(service.RecorderStores{
			Orders: deps.Stores.Orders,
			Fills:  deps.Stores.Fills,
			Agents: deps.Stores.Agents,
			Equity: deps.Stores.Equity,
			Audit:  deps.Stores.Audit,
		}, eng, a.cfg.Supabase.BufferSize, equityEvery, a.logger)
		defer rec.Attach(eng)()
		loops = append(loops, rec.Run)
	}

	if deps.Events != nil {
		relay := service.NewRelay(deps.Events, deps.PriceCache, 0, a.logger)
		defer relay.Attach(eng)()
		loops = append(loops, relay.Run)
	}

	if deps.Notifier != nil {
		alerter := service.NewAlerter(deps.Notifier, a.logger)
		defer alerter.Attach(eng)()
		loops = append(loops, alerter.Run)
	}

	if deps.Archiver != nil {
		archive := service.NewArchiveLoop(deps.Archiver, a.cfg.Archive.Interval.Duration, a.cfg.Archive.RetentionDays, a.logger)
		loops = append(loops, archive.Run)
	}

	if a.cfg.Demo.Enabled {
		driver := demo.New(eng, demo.Config{
			OrderProbability: a.cfg.Demo.OrderProbability,
			MaxCashFraction:  a.cfg.Demo.MaxCashFraction,
			AllowShort:       a.cfg.Engine.AllowShort,
			Seed:             a.cfg.Demo.Seed,
		}, a.logger)
		defer driver.Attach()()
		a.logger.InfoContext(ctx, "demo order generator enabled",
			slog.Float64("order_probability", a.cfg.Demo.OrderProbability),
		)
	}

	if a.cfg.Server.Enabled {
		srvLoops, detach := a.buildServer(eng, deps)
		defer detach()
		loops = append(loops, srvLoops...)
	}

	if a.cfg.Engine.SeedFromCache && deps.PriceCache != nil {
		a.seedFromCache(ctx, eng, deps.PriceCache)
	}

	if err := a.createAgents(ctx, eng); err != nil {
		return err
	}

	if deps.LockManager != nil {
		keeper := service.NewLockKeeper(deps.LockManager, service.EngineLockKey, a.cfg.Redis.LockTTL.Duration, a.logger)
		if err := keeper.Acquire(ctx); err != nil {
			return fmt.Errorf("app: %w", err)
		}
		loops = append(loops, keeper.Run)
	}

	if deps.MemoryLimiter != nil {
		g.Go(func() error {
			deps.MemoryLimiter.Run(gctx, limiterSweep)
			return nil
		})
	}
	for _, loop := range loops {
		g.Go(func() error { return loop(gctx) })
	}
	g.Go(func() error { return eng.Run(gctx) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	a.logger.Info("engine summary at shutdown", slog.Any("summary", eng.Summary()))
	return ctx.Err()
}

// buildServer assembles the HTTP API and WebSocket hub. It returns the loops
// to run and a function detaching the hub from the engine.
func (a *App) buildServer(eng *engine.Engine, deps *Dependencies) ([]func(context.Context) error, func()) {
	hub := ws.NewHub(func() any { return eng.Status() }, a.cfg.Server.CORSOrigins, a.logger)
	detach := hub.Attach(eng)

	hs := server.Handlers{
		Health:  handler.NewHealthHandler(deps.Checks, a.logger),
		Status:  handler.NewStatusHandler(a.cfg.Mode, eng),
		Agents:  handler.NewAgentHandler(eng, a.logger),
		Markets: handler.NewMarketHandler(eng, a.logger),
		Orders:  handler.NewOrderHandler(eng, a.logger),
		Risk:    handler.NewRiskHandler(eng, engine.BuiltinScenarios, engine.ScenarioByName, a.logger),
	}
	if deps.Stores != nil {
		hs.History = handler.NewHistoryHandler(
			deps.Stores.Orders, deps.Stores.Fills, deps.Stores.Equity, deps.Stores.Audit, a.logger,
		)
	}
	if deps.ArchiveReader != nil {
		hs.Archives = handler.NewArchiveHandler(deps.ArchiveReader, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:               a.cfg.Server.Port,
		CORSOrigins:        a.cfg.Server.CORSOrigins,
		APIKeyHash:         a.cfg.Server.APIKeyHash,
		RateLimitPerSecond: a.cfg.Server.RateLimitPerSecond,
	}, hs, hub, deps.RateLimiter, a.logger)

	serve := func(context.Context) error { return srv.Start() }
	shutdown := func(ctx context.Context) error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutCtx)
	}
	return []func(context.Context) error{hub.Run, serve, shutdown}, detach
}

// createAgents registers the configured agents. An agent the engine already
// knows is skipped rather than treated as fatal.
func (a *App) createAgents(ctx context.Context, eng *engine.Engine) error {
	for _, cfg := range a.cfg.AgentConfigs() {
		agent, err := eng.CreateAgent(ctx, cfg)
		if errors.Is(err, domain.ErrAlreadyExists) {
			a.logger.WarnContext(ctx, "agent already registered", slog.String("agent_id", cfg.ID))
			continue
		}
		if err != nil {
			return fmt.Errorf("app: create agent %q: %w", cfg.Name, err)
		}
		a.logger.InfoContext(ctx, "agent created",
			slog.String("agent_id", agent.ID),
			slog.String("strategy", agent.Strategy),
			slog.String("initial_cash", cfg.InitialCash.String()),
		)
	}
	return nil
}

// seedFromCache primes engine prices from the previous run's cache. Failure
// only costs the continuity, so it is logged and ignored.
func (a *App) seedFromCache(ctx context.Context, eng *engine.Engine, cache domain.PriceCache) {
	symbols := make([]string, 0, len(a.cfg.ToEngine().Symbols))
	for _, s := range a.cfg.ToEngine().Symbols {
		symbols = append(symbols, s.Symbol)
	}
	prices, err := cache.GetPrices(ctx, symbols)
	if err != nil {
		a.logger.WarnContext(ctx, "seed prices from cache failed", slog.String("error", err.Error()))
		return
	}
	n := eng.SeedPrices(prices)
	a.logger.InfoContext(ctx, "seeded prices from cache", slog.Int("symbols", n))
}
