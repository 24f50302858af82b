// Command papersim runs the paper-trading simulator. It loads and validates
// the configuration, sets up logging and signal handling, and starts the
// application in the configured mode.
//
// Usage:
//
//	papersim [-config papersim.toml]
//	papersim tail [-config papersim.toml] [-replay] [-topic pricesUpdated]
//
// The tail subcommand prints the events a running full-mode simulator relays
// through Redis.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/alanyoungcy/papersim/internal/app"
	"github.com/alanyoungcy/papersim/internal/cache/redis"
	"github.com/alanyoungcy/papersim/internal/config"
	"github.com/alanyoungcy/papersim/internal/domain"
	"github.com/alanyoungcy/papersim/internal/service"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "tail" {
		os.Exit(runTail(os.Args[2:]))
	}
	os.Exit(runServe(os.Args[1:]))
}

func runServe(args []string) int {
	fs := flag.NewFlagSet("papersim", flag.ExitOnError)
	configPath := fs.String("config", "", "path to configuration file (empty uses built-in defaults)")
	_ = fs.Parse(args)

	cfg, logger, closeLog, ok := setup(*configPath)
	if !ok {
		return 1
	}
	defer closeLog()

	logger.Info("papersim starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
	)
	logger.Debug("active configuration", slog.Any("config", config.RedactedConfig(cfg)))

	application := app.New(cfg, logger)
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			logger.Error("application exited with error", slog.String("error", err.Error()))
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			return 1
		}
		logger.Info("application shut down gracefully")
	}

	logger.Info("papersim stopped")
	return 0
}

func runTail(args []string) int {
	fs := flag.NewFlagSet("papersim tail", flag.ExitOnError)
	configPath := fs.String("config", "", "path to configuration file (empty uses built-in defaults)")
	replay := fs.Bool("replay", false, "print the retained history of the topic before following")
	topic := fs.String("topic", string(domain.TopicAll), "event topic to follow")
	_ = fs.Parse(args)

	cfg, logger, closeLog, ok := setup(*configPath)
	if !ok {
		return 1
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   2,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		logger.Error("connect to redis", slog.String("error", err.Error()))
		return 1
	}
	defer func() { _ = client.Close() }()

	tailer := service.NewTailer(
		redis.NewEventRelay(client, cfg.Redis.StreamMaxLen),
		domain.Topic(*topic),
		os.Stdout,
		logger,
	)
	if *replay {
		_, n, err := tailer.Replay(ctx, "")
		if err != nil {
			logger.Error("replay failed", slog.String("error", err.Error()))
			return 1
		}
		logger.Info("replayed retained events", slog.Int("count", n))
	}
	if err := tailer.Follow(ctx); err != nil {
		logger.Error("follow failed", slog.String("error", err.Error()))
		return 1
	}
	return 0
}

// setup loads and validates the configuration and builds the logger. Logs
// go to stderr so tail output on stdout stays clean, and additionally to a
// rotated file when log.file is set.
func setup(path string) (*config.Config, *slog.Logger, func(), bool) {
	bootLogger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	cfg, err := config.Load(path)
	if err != nil {
		bootLogger.Error("failed to load config",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return nil, nil, nil, false
	}
	if err := cfg.Validate(); err != nil {
		bootLogger.Error("invalid configuration", slog.String("error", err.Error()))
		return nil, nil, nil, false
	}

	var (
		w        io.Writer = os.Stderr
		closeLog           = func() {}
	)
	if cfg.Log.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.Log.File,
			MaxSize:    cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAge:     cfg.Log.MaxAgeDays,
			Compress:   cfg.Log.Compress,
		}
		w = io.MultiWriter(os.Stderr, rotator)
		closeLog = func() { _ = rotator.Close() }
	}

	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)
	return cfg, logger, closeLog, true
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
