package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSender struct {
	name string
	err  error
	mu   sync.Mutex
	got  []string
}

func (s *stubSender) Send(_ context.Context, title, _ string) error {
	s.mu.Lock()
	s.got = append(s.got, title)
	s.mu.Unlock()
	return s.err
}

func (s *stubSender) Name() string { return s.name }

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestNotifier_FiltersByEvent(t *testing.T) {
	s := &stubSender{name: "stub"}
	n := NewNotifier([]Sender{s}, []string{"emergency_stop", " risk_alert "}, quietLogger())

	require.NoError(t, n.Notify(context.Background(), "risk_alert", "drawdown", "msg"))
	require.NoError(t, n.Notify(context.Background(), "order_filled", "fill", "msg"))
	assert.Equal(t, []string{"drawdown"}, s.got)
}

func TestNotifier_OneFailingSenderDoesNotStopOthers(t *testing.T) {
	bad := &stubSender{name: "bad", err: errors.New("boom")}
	good := &stubSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, quietLogger())

	err := n.Notify(context.Background(), "anything", "title", "msg")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: boom")
	assert.Equal(t, []string{"title"}, good.got)
}

func TestDiscordSender(t *testing.T) {
	var body map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, NewDiscordSender(srv.URL).Send(context.Background(), "Halted", "kill switch"))
	assert.Equal(t, "**Halted**\nkill switch", body["content"])
}

func TestTelegramSender_ReportsHTTPErrors(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"ok":false,"description":"chat not found"}`))
	}))
	defer srv.Close()

	s := NewTelegramSender("tok", "42")
	s.client.SetBaseURL(srv.URL)

	err := s.Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 400")
	assert.Contains(t, err.Error(), "chat not found")
	assert.Equal(t, "/bottok/sendMessage", path)
}

func TestFromConfig(t *testing.T) {
	assert.Empty(t, FromConfig("", "", ""))
	assert.Len(t, FromConfig("tok", "", "https://discord.example/hook"), 1)
	assert.Len(t, FromConfig("tok", "1", "https://discord.example/hook"), 2)
}
