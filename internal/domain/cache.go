package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// PriceCache mirrors the latest simulated prices for readers outside the
// process, and can seed a fresh engine on startup.
type PriceCache interface {
	SetPrices(ctx context.Context, prices []SymbolPrice) error
	GetPrice(ctx context.Context, symbol string) (decimal.Decimal, time.Time, error)
	GetPrices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error)
}

// RateLimiter provides request rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
	Extend(ctx context.Context, key string, ttl time.Duration) error
}

// RelayedEvent is one engine event read back from the relay's log.
type RelayedEvent struct {
	ID      string // log position; pass it back to resume after this event
	Topic   Topic
	Payload []byte // the JSON-encoded Event
}

// EventRelay carries serialized engine events to other processes. Publish
// delivers an event live to followers of its topic and appends it to a
// capped, ordered log that Replay reads back.
type EventRelay interface {
	Publish(ctx context.Context, topic Topic, payload []byte) error
	Follow(ctx context.Context, topic Topic) (<-chan []byte, error)
	Replay(ctx context.Context, afterID string, count int) ([]RelayedEvent, error)
}
