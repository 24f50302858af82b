package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/papersim/internal/domain"
)

// ArchiveLoop periodically moves history older than the retention window
// from Postgres to object storage.
type ArchiveLoop struct {
	archiver  domain.Archiver
	interval  time.Duration
	retention time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// NewArchiveLoop creates an ArchiveLoop.
func NewArchiveLoop(a domain.Archiver, interval time.Duration, retentionDays int, logger *slog.Logger) *ArchiveLoop {
	return &ArchiveLoop{
		archiver:  a,
		interval:  interval,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		now:       time.Now,
		logger:    logger.With(slog.String("component", "archive")),
	}
}

// ArchiveCounts reports how many rows one pass moved.
type ArchiveCounts struct {
	Fills  int64
	Orders int64
	Equity int64
}

// RunOnce archives one batch of each history kind. A failure in one kind
// does not skip the others.
func (l *ArchiveLoop) RunOnce(ctx context.Context) (ArchiveCounts, error) {
	cutoff := l.now().UTC().Add(-l.retention)
	var (
		counts ArchiveCounts
		errs   []error
		err    error
	)
	if counts.Fills, err = l.archiver.ArchiveFills(ctx, cutoff); err != nil {
		errs = append(errs, fmt.Errorf("fills: %w", err))
	}
	if counts.Orders, err = l.archiver.ArchiveOrders(ctx, cutoff); err != nil {
		errs = append(errs, fmt.Errorf("orders: %w", err))
	}
	if counts.Equity, err = l.archiver.ArchiveEquity(ctx, cutoff); err != nil {
		errs = append(errs, fmt.Errorf("equity: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		return counts, fmt.Errorf("archive: %w", err)
	}
	return counts, nil
}

// Run archives once at start and then on every interval until ctx is done.
func (l *ArchiveLoop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		l.pass(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (l *ArchiveLoop) pass(ctx context.Context) {
	counts, err := l.RunOnce(ctx)
	if err != nil && ctx.Err() == nil {
		l.logger.ErrorContext(ctx, "archive pass failed", slog.String("error", err.Error()))
	}
	l.logger.InfoContext(ctx, "archive pass complete",
		slog.Int64("fills", counts.Fills),
		slog.Int64("orders", counts.Orders),
		slog.Int64("equity", counts.Equity),
	)
}
