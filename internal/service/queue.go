// Package service holds the side channels that observe the engine: the
// Postgres recorder, the Redis relay, operator alerts and the archive loop.
// Each one consumes engine events through a bounded queue and drops on
// overflow, so a slow database or network never stalls a tick.
package service

import (
	"sync/atomic"

	"github.com/alanyoungcy/papersim/internal/domain"
	"github.com/alanyoungcy/papersim/internal/events"
)

// EventSource is the subscription half of the engine.
type EventSource interface {
	Subscribe(topic domain.Topic, h events.Handler) *events.Subscription
}

// queue is a bounded, lossy FIFO between an event handler and a worker.
type queue[T any] struct {
	ch      chan T
	dropped atomic.Uint64
}

func newQueue[T any](size int) *queue[T] {
	if size <= 0 {
		size = 1024
	}
	return &queue[T]{ch: make(chan T, size)}
}

// offer enqueues v without blocking and reports whether it was accepted.
func (q *queue[T]) offer(v T) bool {
	select {
	case q.ch <- v:
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}
