// Package events implements the in-process event channel between the
// simulation engine and its observers.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/alanyoungcy/papersim/internal/domain"
)

// Handler receives one event. A returned error or a panic is logged and
// does not affect other subscribers.
type Handler func(ctx context.Context, ev domain.Event) error

// Subscription is a registered handler. Cancel is idempotent.
type Subscription struct {
	id        uint64
	topic     domain.Topic
	handler   Handler
	bus       *Bus
	cancelled atomic.Bool
}

// Topic returns the subscribed topic.
func (s *Subscription) Topic() domain.Topic { return s.topic }

// Cancel stops delivery. Safe to call from inside a handler, including the
// subscription's own; later events are not delivered to it.
func (s *Subscription) Cancel() {
	if s.cancelled.Swap(true) {
		return
	}
	s.bus.remove(s.id)
}

// Bus delivers events to subscribers in subscription order. Events are
// queued and delivered FIFO by a single drainer at a time, so a handler that
// publishes (directly or by calling back into the engine) never re-enters
// another handler.
type Bus struct {
	mu       sync.Mutex
	subs     []*Subscription
	nextID   uint64
	seq      uint64
	queue    []domain.Event
	draining bool
	closed   bool
	logger   *slog.Logger
}

// NewBus creates an empty bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{logger: logger.With(slog.String("component", "event_bus"))}
}

// Subscribe registers h for topic. domain.TopicAll receives every event.
func (b *Bus) Subscribe(topic domain.Topic, h Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{id: b.nextID, topic: topic, handler: h, bus: b}
	if b.closed {
		sub.cancelled.Store(true)
		return sub
	}
	b.subs = append(b.subs, sub)
	return sub
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// Enqueue stamps and queues events without delivering them. The engine
// calls it while still holding its own lock so queue order equals commit
// order; Drain is called after the lock is released.
func (b *Bus) Enqueue(evs ...domain.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, ev := range evs {
		b.seq++
		ev.Seq = b.seq
		b.queue = append(b.queue, ev)
	}
}

// Drain delivers queued events until the queue is empty. If another
// goroutine (or an outer frame of this one) is already draining, Drain
// returns immediately and that drainer delivers the events.
func (b *Bus) Drain(ctx context.Context) {
	b.mu.Lock()
	if b.draining {
		b.mu.Unlock()
		return
	}
	b.draining = true

	for len(b.queue) > 0 {
		ev := b.queue[0]
		b.queue[0] = domain.Event{}
		b.queue = b.queue[1:]
		subs := make([]*Subscription, len(b.subs))
		copy(subs, b.subs)
		b.mu.Unlock()

		for _, s := range subs {
			if s.topic != ev.Topic && s.topic != domain.TopicAll {
				continue
			}
			if s.cancelled.Load() {
				continue
			}
			b.deliver(ctx, s, ev)
		}

		b.mu.Lock()
	}

	b.draining = false
	b.mu.Unlock()
}

// Publish enqueues ev and drains.
func (b *Bus) Publish(ctx context.Context, ev domain.Event) {
	b.Enqueue(ev)
	b.Drain(ctx)
}

func (b *Bus) deliver(ctx context.Context, s *Subscription, ev domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("subscriber panicked",
				slog.String("topic", string(ev.Topic)),
				slog.Uint64("subscription", s.id),
				slog.String("error", fmt.Sprint(r)),
			)
		}
	}()
	if err := s.handler(ctx, ev); err != nil {
		b.logger.Warn("subscriber failed",
			slog.String("topic", string(ev.Topic)),
			slog.Uint64("subscription", s.id),
			slog.String("error", err.Error()),
		)
	}
}

// Len returns the number of live subscriptions.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close cancels every subscription and discards queued events. Later
// subscriptions are born cancelled.
func (b *Bus) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.queue = nil
	b.closed = true
	b.mu.Unlock()
	for _, s := range subs {
		s.cancelled.Store(true)
	}
}
