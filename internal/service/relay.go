package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/alanyoungcy/papersim/internal/domain"
)

// Relay republishes engine events to other processes through an
// EventRelay, and each price tick refreshes the price cache. Events arrive
// through a bounded queue and are dropped when the relay falls behind;
// Event.Seq lets consumers spot the gap.
type Relay struct {
	out    domain.EventRelay
	prices domain.PriceCache
	q      *queue[domain.Event]
	logger *slog.Logger
}

// NewRelay creates a Relay. prices may be nil to skip the cache.
func NewRelay(out domain.EventRelay, prices domain.PriceCache, bufferSize int, logger *slog.Logger) *Relay {
	return &Relay{
		out:    out,
		prices: prices,
		q:      newQueue[domain.Event](bufferSize),
		logger: logger.With(slog.String("component", "relay")),
	}
}

// Attach subscribes the relay to every engine topic.
func (r *Relay) Attach(src EventSource) func() {
	sub := src.Subscribe(domain.TopicAll, func(_ context.Context, ev domain.Event) error {
		if !r.q.offer(ev) {
			r.logger.Warn("relay queue full, dropping event",
				slog.String("topic", string(ev.Topic)),
				slog.Uint64("seq", ev.Seq),
			)
		}
		return nil
	})
	return sub.Cancel
}

// Dropped returns how many events were discarded.
func (r *Relay) Dropped() uint64 { return r.q.dropped.Load() }

// Run forwards queued events until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "relay started")
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("relay stopped", slog.Uint64("dropped", r.q.dropped.Load()))
			return nil
		case ev := <-r.q.ch:
			r.forward(ctx, ev)
		}
	}
}

func (r *Relay) forward(ctx context.Context, ev domain.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		r.logger.ErrorContext(ctx, "relay: marshal event failed",
			slog.String("topic", string(ev.Topic)),
			slog.String("error", err.Error()),
		)
		return
	}

	if err := r.out.Publish(ctx, ev.Topic, payload); err != nil {
		r.logger.WarnContext(ctx, "relay: publish failed",
			slog.String("topic", string(ev.Topic)),
			slog.Uint64("seq", ev.Seq),
			slog.String("error", err.Error()),
		)
	}

	if upd, ok := ev.Payload.(domain.PricesUpdated); ok && r.prices != nil {
		if err := r.prices.SetPrices(ctx, upd.Prices); err != nil {
			r.logger.WarnContext(ctx, "relay: price cache update failed",
				slog.Uint64("tick", upd.Tick),
				slog.String("error", err.Error()),
			)
		}
	}
}
