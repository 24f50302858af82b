package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/papersim/internal/domain"
)

// EngineLockKey is the lock a simulator holds while it publishes to the
// shared Redis channels.
const EngineLockKey = "engine"

// LockKeeper holds a distributed lock for the life of the process and
// extends it at a third of its TTL.
type LockKeeper struct {
	locks  domain.LockManager
	key    string
	ttl    time.Duration
	unlock func()
	logger *slog.Logger
}

// NewLockKeeper creates a LockKeeper for key.
func NewLockKeeper(locks domain.LockManager, key string, ttl time.Duration, logger *slog.Logger) *LockKeeper {
	return &LockKeeper{
		locks:  locks,
		key:    key,
		ttl:    ttl,
		logger: logger.With(slog.String("component", "lock"), slog.String("key", key)),
	}
}

// Acquire takes the lock. It fails with domain.ErrLockHeld when another
// process owns it.
func (k *LockKeeper) Acquire(ctx context.Context) error {
	unlock, err := k.locks.Acquire(ctx, k.key, k.ttl)
	if err != nil {
		return fmt.Errorf("lock: acquire %s: %w", k.key, err)
	}
	k.unlock = unlock
	k.logger.InfoContext(ctx, "lock acquired", slog.Duration("ttl", k.ttl))
	return nil
}

// Run extends the lock until ctx is cancelled, then releases it. It returns
// an error if the lock is lost, which should bring the process down.
func (k *LockKeeper) Run(ctx context.Context) error {
	defer k.release()

	ticker := time.NewTicker(k.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := k.locks.Extend(ctx, k.key, k.ttl); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("lock: extend %s: %w", k.key, err)
			}
		}
	}
}

func (k *LockKeeper) release() {
	if k.unlock != nil {
		k.unlock()
		k.unlock = nil
		k.logger.Info("lock released")
	}
}
