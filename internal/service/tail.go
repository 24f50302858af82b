package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/alanyoungcy/papersim/internal/domain"
)

const tailPage = 500

// Tailer writes relayed engine events of one topic (or every topic for
// domain.TopicAll) to out, one JSON document per line. It reads what another
// process's Relay published: the retained log for history and the live
// fan-out after that.
type Tailer struct {
	relay  domain.EventRelay
	topic  domain.Topic
	out    io.Writer
	logger *slog.Logger
}

// NewTailer creates a Tailer for topic.
func NewTailer(relay domain.EventRelay, topic domain.Topic, out io.Writer, logger *slog.Logger) *Tailer {
	return &Tailer{
		relay:  relay,
		topic:  topic,
		out:    out,
		logger: logger.With(slog.String("component", "tail"), slog.String("topic", string(topic))),
	}
}

// Replay writes the retained events after afterID ("" for all) that match
// the topic. It returns the log position reached, which covers skipped
// entries too, and how many events it wrote.
func (t *Tailer) Replay(ctx context.Context, afterID string) (string, int, error) {
	n := 0
	for {
		page, err := t.relay.Replay(ctx, afterID, tailPage)
		if err != nil {
			return afterID, n, fmt.Errorf("tail: replay: %w", err)
		}
		for _, ev := range page {
			afterID = ev.ID
			if t.topic != domain.TopicAll && ev.Topic != t.topic {
				continue
			}
			if err := t.write(ev.Payload); err != nil {
				return afterID, n, err
			}
			n++
		}
		if len(page) < tailPage {
			return afterID, n, nil
		}
	}
}

// Follow writes live events until ctx is cancelled or the subscription
// closes.
func (t *Tailer) Follow(ctx context.Context) error {
	ch, err := t.relay.Follow(ctx, t.topic)
	if err != nil {
		return fmt.Errorf("tail: follow: %w", err)
	}
	t.logger.InfoContext(ctx, "following events")
	for {
		select {
		case <-ctx.Done():
			return nil
		case payload, ok := <-ch:
			if !ok {
				return nil
			}
			if err := t.write(payload); err != nil {
				return err
			}
		}
	}
}

func (t *Tailer) write(payload []byte) error {
	if _, err := fmt.Fprintf(t.out, "%s\n", payload); err != nil {
		return fmt.Errorf("tail: write: %w", err)
	}
	return nil
}
