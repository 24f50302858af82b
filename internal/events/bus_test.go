package events

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/papersim/internal/domain"
)

func newTestBus() *Bus {
	return NewBus(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestBus_DeliversInSubscriptionOrder(t *testing.T) {
	bus := newTestBus()
	var got []string
	for _, name := range []string{"a", "b", "c"} {
		bus.Subscribe(domain.TopicPricesUpdated, func(_ context.Context, _ domain.Event) error {
			got = append(got, name)
			return nil
		})
	}

	bus.Publish(context.Background(), domain.Event{Topic: domain.TopicPricesUpdated})
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestBus_TopicFilterAndWildcard(t *testing.T) {
	bus := newTestBus()
	var fills, all int
	bus.Subscribe(domain.TopicOrderFilled, func(context.Context, domain.Event) error { fills++; return nil })
	bus.Subscribe(domain.TopicAll, func(context.Context, domain.Event) error { all++; return nil })

	ctx := context.Background()
	bus.Publish(ctx, domain.Event{Topic: domain.TopicPricesUpdated})
	bus.Publish(ctx, domain.Event{Topic: domain.TopicOrderFilled})

	assert.Equal(t, 1, fills)
	assert.Equal(t, 2, all)
}

func TestBus_FailingSubscriberIsIsolated(t *testing.T) {
	bus := newTestBus()
	var delivered []string
	bus.Subscribe(domain.TopicRiskAlert, func(context.Context, domain.Event) error {
		delivered = append(delivered, "first")
		return errors.New("boom")
	})
	bus.Subscribe(domain.TopicRiskAlert, func(context.Context, domain.Event) error {
		panic("worse")
	})
	bus.Subscribe(domain.TopicRiskAlert, func(context.Context, domain.Event) error {
		delivered = append(delivered, "third")
		return nil
	})

	require.NotPanics(t, func() {
		bus.Publish(context.Background(), domain.Event{Topic: domain.TopicRiskAlert})
		bus.Publish(context.Background(), domain.Event{Topic: domain.TopicRiskAlert})
	})
	assert.Equal(t, []string{"first", "third", "first", "third"}, delivered)
}

func TestBus_CancelDuringDelivery(t *testing.T) {
	bus := newTestBus()
	var second int
	var sub2 *Subscription
	bus.Subscribe(domain.TopicOrderPlaced, func(context.Context, domain.Event) error {
		sub2.Cancel()
		return nil
	})
	sub2 = bus.Subscribe(domain.TopicOrderPlaced, func(context.Context, domain.Event) error {
		second++
		return nil
	})

	bus.Publish(context.Background(), domain.Event{Topic: domain.TopicOrderPlaced})
	bus.Publish(context.Background(), domain.Event{Topic: domain.TopicOrderPlaced})

	assert.Equal(t, 0, second)
	assert.Equal(t, 1, bus.Len())
	sub2.Cancel() // idempotent
	assert.Equal(t, 1, bus.Len())
}

func TestBus_SelfCancelStopsLaterEvents(t *testing.T) {
	bus := newTestBus()
	var n int
	var sub *Subscription
	sub = bus.Subscribe(domain.TopicOrderFilled, func(context.Context, domain.Event) error {
		n++
		sub.Cancel()
		return nil
	})
	bus.Enqueue(domain.Event{Topic: domain.TopicOrderFilled}, domain.Event{Topic: domain.TopicOrderFilled})
	bus.Drain(context.Background())
	assert.Equal(t, 1, n)
}

func TestBus_PublishFromHandlerIsQueued(t *testing.T) {
	bus := newTestBus()
	var trace []string
	bus.Subscribe(domain.TopicPricesUpdated, func(ctx context.Context, ev domain.Event) error {
		trace = append(trace, "prices:start")
		bus.Publish(ctx, domain.Event{Topic: domain.TopicOrderFilled})
		trace = append(trace, "prices:end")
		return nil
	})
	bus.Subscribe(domain.TopicOrderFilled, func(context.Context, domain.Event) error {
		trace = append(trace, "filled")
		return nil
	})

	bus.Publish(context.Background(), domain.Event{Topic: domain.TopicPricesUpdated})
	assert.Equal(t, []string{"prices:start", "prices:end", "filled"}, trace)
}

func TestBus_SequenceIsMonotonic(t *testing.T) {
	bus := newTestBus()
	var seqs []uint64
	bus.Subscribe(domain.TopicAll, func(_ context.Context, ev domain.Event) error {
		seqs = append(seqs, ev.Seq)
		return nil
	})
	bus.Enqueue(
		domain.Event{Topic: domain.TopicPricesUpdated},
		domain.Event{Topic: domain.TopicOrderFilled},
		domain.Event{Topic: domain.TopicRiskAlert},
	)
	bus.Drain(context.Background())
	assert.Equal(t, []uint64{1, 2, 3}, seqs)
}

func TestBus_ConcurrentPublishDeliversEverything(t *testing.T) {
	bus := newTestBus()
	var mu sync.Mutex
	count := 0
	bus.Subscribe(domain.TopicAll, func(context.Context, domain.Event) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				bus.Publish(context.Background(), domain.Event{Topic: domain.TopicPricesUpdated})
			}
		}()
	}
	wg.Wait()
	bus.Drain(context.Background())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 400, count)
}

func TestBus_CloseCancelsSubscriptions(t *testing.T) {
	bus := newTestBus()
	var n int
	bus.Subscribe(domain.TopicAll, func(context.Context, domain.Event) error { n++; return nil })
	bus.Close()
	bus.Publish(context.Background(), domain.Event{Topic: domain.TopicPricesUpdated})
	late := bus.Subscribe(domain.TopicAll, func(context.Context, domain.Event) error { n++; return nil })
	bus.Publish(context.Background(), domain.Event{Topic: domain.TopicPricesUpdated})

	assert.Equal(t, 0, n)
	assert.Equal(t, 0, bus.Len())
	late.Cancel()
}
