package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/papersim/internal/domain"
)

// Notification event names, matched against notify.events in config.
const (
	AlertEmergencyStop  = "emergency_stop"
	AlertKillSwitch     = "kill_switch"
	AlertRisk           = "risk_alert"
	AlertTradingResumed = "trading_resumed"
)

// Notifier delivers an operator notification.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

type alert struct {
	event, title, message string
}

// Alerter turns halts and critical risk breaches into operator
// notifications. Delivery happens on its own goroutine so a slow webhook
// never holds up event delivery.
type Alerter struct {
	notifier Notifier
	q        *queue[alert]
	timeout  time.Duration
	logger   *slog.Logger
}

// NewAlerter creates an Alerter.
func NewAlerter(n Notifier, logger *slog.Logger) *Alerter {
	return &Alerter{
		notifier: n,
		q:        newQueue[alert](64),
		timeout:  15 * time.Second,
		logger:   logger.With(slog.String("component", "alerter")),
	}
}

// Attach subscribes to the topics that produce alerts.
func (a *Alerter) Attach(src EventSource) func() {
	subs := []interface{ Cancel() }{
		src.Subscribe(domain.TopicEmergencyStop, a.handle),
		src.Subscribe(domain.TopicTradingResumed, a.handle),
		src.Subscribe(domain.TopicRiskAlert, a.handle),
	}
	return func() {
		for _, s := range subs {
			s.Cancel()
		}
	}
}

func (a *Alerter) handle(_ context.Context, ev domain.Event) error {
	al, ok := alertFor(ev)
	if !ok {
		return nil
	}
	if !a.q.offer(al) {
		a.logger.Warn("alert queue full, dropping alert", slog.String("event", al.event))
	}
	return nil
}

// alertFor maps an engine event to a notification. Warnings and cleared
// alerts stay on the dashboard only.
func alertFor(ev domain.Event) (alert, bool) {
	switch p := ev.Payload.(type) {
	case domain.HaltSummary:
		return alert{
			event: AlertEmergencyStop,
			title: "Emergency stop",
			message: fmt.Sprintf("%s\nagents paused: %d, orders cancelled: %d",
				p.Reason, p.AgentsPaused, p.OrdersCancelled),
		}, true
	case domain.TradingResumed:
		return alert{
			event:   AlertTradingResumed,
			title:   "Trading resumed",
			message: fmt.Sprintf("halted since %s", p.HaltedSince.UTC().Format(time.RFC3339)),
		}, true
	case domain.RiskAlert:
		if p.Cleared || p.Severity != domain.RiskSeverityCritical {
			return alert{}, false
		}
		if p.Kind == domain.RiskAlertKillSwitch {
			return alert{event: AlertKillSwitch, title: "Kill switch tripped", message: p.Message}, true
		}
		title := fmt.Sprintf("Risk alert: %s", p.Kind)
		if p.AgentID != "" {
			title += " (" + p.AgentID + ")"
		}
		return alert{event: AlertRisk, title: title, message: p.Message}, true
	}
	return alert{}, false
}

// Run delivers queued alerts until ctx is cancelled.
func (a *Alerter) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case al := <-a.q.ch:
			sendCtx, cancel := context.WithTimeout(ctx, a.timeout)
			if err := a.notifier.Notify(sendCtx, al.event, al.title, al.message); err != nil {
				a.logger.WarnContext(ctx, "alert delivery failed",
					slog.String("event", al.event),
					slog.String("error", err.Error()),
				)
			}
			cancel()
		}
	}
}
