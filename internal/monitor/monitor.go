// Package monitor forwards bus alerts to an external sink and tracks the
// supervisor's own operational metrics. Grounded on the teacher's
// Monitor/AlertSink shape (subscribe to a risk-alert topic, format, hand
// off to a pluggable sink), generalized from the teacher's single
// risk-alert topic to every severity the supervisor raises
// (risk rejection, kill-switch, anomaly).
package monitor

import (
	"context"
	"fmt"
	"log"

	"sentinel/internal/bus"
	"sentinel/internal/store"
)

// AlertSink is a pluggable alert delivery destination (a future webhook
// or push channel). Monitor logs delivery failures but never blocks or
// retries — an undelivered alert is still recorded in the alerts table.
type AlertSink interface {
	Send(message string) error
}

// Monitor subscribes to bus.TopicAlert and forwards each one to Sink, if
// configured. With no Sink it still drains its own subscription and
// discards each alert.
type Monitor struct {
	Bus  *bus.Bus
	Sink AlertSink
}

// Start runs until ctx is canceled.
func (m *Monitor) Start(ctx context.Context) {
	if m.Bus == nil {
		log.Println("[monitor] no bus configured, skipping")
		return
	}
	sub := m.Bus.Subscribe([]bus.Topic{bus.TopicAlert}, 50)
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sub.Events:
			if !ok {
				return
			}
			if evt.Topic != bus.TopicAlert || m.Sink == nil {
				continue
			}
			if err := m.Sink.Send(formatAlert(evt.Payload)); err != nil {
				log.Printf("[monitor] alert delivery failed: %v", err)
			}
		}
	}
}

func formatAlert(payload any) string {
	a, ok := payload.(store.Alert)
	if !ok {
		return fmt.Sprintf("alert: %v", payload)
	}
	return fmt.Sprintf("[%s] %s: %s", a.Severity, a.Source, a.Message)
}
