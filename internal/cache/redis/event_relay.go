package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/papersim/internal/domain"
)

// DefaultStreamLen is how many events the replay stream retains, trimmed
// approximately by XADD MAXLEN ~.
const DefaultStreamLen int64 = 10_000

const (
	eventsKey   = keyPrefix + "events"
	followDepth = 128
)

// topicChannel is the Pub/Sub channel carrying one topic:
// papersim:events:orderFilled.
func topicChannel(topic domain.Topic) string {
	return eventsKey + ":" + string(topic)
}

// EventRelay implements domain.EventRelay. Every event is published on its
// topic's channel for live followers and appended, tagged with its topic, to
// one capped stream for replay. Both writes go out in a single pipeline.
type EventRelay struct {
	rdb    *redis.Client
	maxLen int64
}

// NewEventRelay creates an EventRelay retaining about maxLen events; zero
// means DefaultStreamLen.
func NewEventRelay(c *Client, maxLen int64) *EventRelay {
	if maxLen <= 0 {
		maxLen = DefaultStreamLen
	}
	return &EventRelay{rdb: c.rdb, maxLen: maxLen}
}

// Publish fans payload out on topic's channel and appends it to the stream.
func (r *EventRelay) Publish(ctx context.Context, topic domain.Topic, payload []byte) error {
	_, err := r.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		p.Publish(ctx, topicChannel(topic), payload)
		p.XAdd(ctx, &redis.XAddArgs{
			Stream: eventsKey,
			MaxLen: r.maxLen,
			Approx: true,
			Values: map[string]any{"topic": string(topic), "payload": payload},
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: relay %s: %w", topic, err)
	}
	return nil
}

// Follow streams live payloads of one topic, or of every topic for
// domain.TopicAll, until ctx is cancelled. The returned channel is closed
// when the subscription ends.
func (r *EventRelay) Follow(ctx context.Context, topic domain.Topic) (<-chan []byte, error) {
	var ps *redis.PubSub
	if topic == domain.TopicAll {
		ps = r.rdb.PSubscribe(ctx, topicChannel(domain.TopicAll))
	} else {
		ps = r.rdb.Subscribe(ctx, topicChannel(topic))
	}
	// Wait for the confirmation so no event published after Follow returns
	// is missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis: follow %s: %w", topic, err)
	}

	out := make(chan []byte, followDepth)
	go func() {
		defer close(out)
		defer ps.Close()
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- []byte(m.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Replay returns up to count retained events after afterID, oldest first.
// An empty afterID starts at the oldest retained event; an empty result
// means the caller has caught up.
func (r *EventRelay) Replay(ctx context.Context, afterID string, count int) ([]domain.RelayedEvent, error) {
	if afterID == "" {
		afterID = "0"
	}
	res, err := r.rdb.XRead(ctx, &redis.XReadArgs{
		Streams: []string{eventsKey, afterID},
		Count:   int64(count),
		Block:   -1,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis: replay after %s: %w", afterID, err)
	}

	var out []domain.RelayedEvent
	for _, s := range res {
		for _, m := range s.Messages {
			topic, _ := m.Values["topic"].(string)
			payload, ok := m.Values["payload"].(string)
			if !ok {
				continue
			}
			out = append(out, domain.RelayedEvent{ID: m.ID, Topic: domain.Topic(topic), Payload: []byte(payload)})
		}
	}
	return out, nil
}

var _ domain.EventRelay = (*EventRelay)(nil)
