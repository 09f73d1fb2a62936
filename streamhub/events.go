package streamhub

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// Lifecycle event types published alongside readings and health.
const (
	EventServiceStart    = "service_start"
	EventServiceStop     = "service_stop"
	EventUncleanShutdown = "unclean_shutdown"
)

// LifecycleEvent is a discrete start/stop marker for the service, published
// to the same NATS connection as the readings/health bridge so operators can
// reconstruct a run's history from one subject.
type LifecycleEvent struct {
	Timestamp  time.Time      `json:"ts"`
	Type       string         `json:"type"`
	InstanceID string         `json:"instance"`
	Message    string         `json:"msg,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
}

// EventPublisher publishes lifecycle events to a NATS subject and can detect
// whether the previous run ended without a service_stop event. Safe to call
// on a nil receiver, so the orchestrator can hold one unconditionally even
// when NATS is disabled.
type EventPublisher struct {
	conn       *nats.Conn
	subject    string
	instanceID string
	logger     *slog.Logger
}

// NewEventPublisher builds an EventPublisher. Returns nil if conn is nil.
func NewEventPublisher(conn *nats.Conn, subject, instanceID string, logger *slog.Logger) *EventPublisher {
	if conn == nil {
		return nil
	}
	return &EventPublisher{conn: conn, subject: subject, instanceID: instanceID, logger: logger}
}

// Publish sends event to NATS, filling in defaults. No-op on a nil receiver
// or disconnected connection.
func (e *EventPublisher) Publish(event LifecycleEvent) {
	if e == nil || e.conn == nil || !e.conn.IsConnected() {
		return
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.InstanceID == "" {
		event.InstanceID = e.instanceID
	}

	data, err := json.Marshal(event)
	if err != nil {
		e.logger.Error("failed to marshal lifecycle event", "error", err, "type", event.Type)
		return
	}
	if err := e.conn.Publish(e.subject, data); err != nil {
		e.logger.Warn("failed to publish lifecycle event", "error", err, "type", event.Type)
	}
}

// PublishServiceStart publishes a service_start event.
func (e *EventPublisher) PublishServiceStart(version string) {
	e.Publish(LifecycleEvent{
		Type:    EventServiceStart,
		Message: "adam-poller service started",
		Details: map[string]any{"version": version},
	})
}

// PublishServiceStop publishes a service_stop event.
func (e *EventPublisher) PublishServiceStop(reason string) {
	e.Publish(LifecycleEvent{
		Type:    EventServiceStop,
		Message: "adam-poller service stopping",
		Details: map[string]any{"reason": reason},
	})
}

// CheckAndPublishUncleanShutdown inspects the last lifecycle event on the
// subject; if it isn't a service_stop, the previous run didn't exit cleanly
// (power loss, crash, kill -9) and an unclean_shutdown event is published.
// Call once, right after Start, before the first PublishServiceStart.
func (e *EventPublisher) CheckAndPublishUncleanShutdown() {
	if e == nil || e.conn == nil {
		return
	}

	js, err := e.conn.JetStream()
	if err != nil {
		e.logger.Debug("jetstream not available for unclean shutdown check", "error", err)
		return
	}

	sub, err := js.PullSubscribe(e.subject, "", nats.DeliverLast(), nats.BindStream("events"))
	if err != nil {
		e.logger.Debug("could not subscribe to check last lifecycle event", "error", err)
		return
	}
	defer sub.Unsubscribe()

	msgs, err := sub.Fetch(1, nats.MaxWait(2*time.Second))
	if err != nil || len(msgs) == 0 {
		e.logger.Debug("no previous lifecycle events found, clean start")
		return
	}

	var last LifecycleEvent
	if err := json.Unmarshal(msgs[0].Data, &last); err != nil {
		e.logger.Debug("could not parse last lifecycle event", "error", err)
		msgs[0].Ack()
		return
	}
	msgs[0].Ack()

	if last.Type == EventServiceStop {
		e.logger.Debug("previous run ended cleanly")
		return
	}

	e.logger.Warn("previous run did not shut down cleanly", "last_event_type", last.Type, "last_event_time", last.Timestamp)
	e.Publish(LifecycleEvent{
		Type:    EventUncleanShutdown,
		Message: "previous run ended unexpectedly (power loss, crash, or kill)",
		Details: map[string]any{
			"last_event_type": last.Type,
			"last_event_time": last.Timestamp,
		},
	})
}
