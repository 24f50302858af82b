package service

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/papersim/internal/domain"
)

// memLog keeps an ordered event log and hands out one live channel.
type memLog struct {
	entries  []domain.RelayedEvent
	live     chan []byte
	followed domain.Topic
}

func (l *memLog) Publish(context.Context, domain.Topic, []byte) error { return nil }

func (l *memLog) Follow(_ context.Context, topic domain.Topic) (<-chan []byte, error) {
	l.followed = topic
	return l.live, nil
}

func (l *memLog) Replay(_ context.Context, afterID string, count int) ([]domain.RelayedEvent, error) {
	after, _ := strconv.Atoi(afterID)
	var out []domain.RelayedEvent
	for _, e := range l.entries {
		id, _ := strconv.Atoi(e.ID)
		if id > after && len(out) < count {
			out = append(out, e)
		}
	}
	return out, nil
}

type lockedBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (l *lockedBuffer) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.b.Write(p)
}

func (l *lockedBuffer) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.b.String()
}

func TestTailer_ReplayPagesThroughLog(t *testing.T) {
	log := &memLog{}
	for i := 1; i <= tailPage+3; i++ {
		log.entries = append(log.entries, domain.RelayedEvent{
			ID:      strconv.Itoa(i),
			Topic:   domain.TopicPricesUpdated,
			Payload: []byte(fmt.Sprintf(`{"seq":%d}`, i)),
		})
	}
	var out bytes.Buffer
	tl := NewTailer(log, domain.TopicAll, &out, quietLogger())

	last, n, err := tl.Replay(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, tailPage+3, n)
	assert.Equal(t, strconv.Itoa(tailPage+3), last)
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, tailPage+3)
	assert.Equal(t, `{"seq":1}`, lines[0])

	_, n, err = tl.Replay(context.Background(), last)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestTailer_ReplayFiltersByTopic(t *testing.T) {
	log := &memLog{entries: []domain.RelayedEvent{
		{ID: "1", Topic: domain.TopicPricesUpdated, Payload: []byte(`{"seq":1}`)},
		{ID: "2", Topic: domain.TopicOrderFilled, Payload: []byte(`{"seq":2}`)},
		{ID: "3", Topic: domain.TopicPricesUpdated, Payload: []byte(`{"seq":3}`)},
	}}
	var out bytes.Buffer
	tl := NewTailer(log, domain.TopicOrderFilled, &out, quietLogger())

	last, n, err := tl.Replay(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "3", last, "position advances past skipped events")
	assert.Equal(t, "{\"seq\":2}\n", out.String())
}

func TestTailer_FollowWritesLiveEvents(t *testing.T) {
	log := &memLog{live: make(chan []byte, 2)}
	out := &lockedBuffer{}
	tl := NewTailer(log, domain.TopicPricesUpdated, out, quietLogger())

	log.live <- []byte(`{"topic":"pricesUpdated"}`)
	close(log.live)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, tl.Follow(ctx))
	assert.Equal(t, domain.TopicPricesUpdated, log.followed)
	assert.Equal(t, "{\"topic\":\"pricesUpdated\"}\n", out.String())
}
