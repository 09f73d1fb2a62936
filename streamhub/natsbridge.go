package streamhub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSConnection wraps a NATS connection with the reconnect/close logging
// the rest of the service expects, regardless of which bridge uses it.
type NATSConnection struct {
	Conn *nats.Conn
}

// DialNATS connects to url with bounded reconnect attempts and logs
// connection lifecycle events.
func DialNATS(url string, maxReconnects int, reconnectWait time.Duration, logger *slog.Logger) (*NATSConnection, error) {
	opts := []nats.Option{
		nats.MaxReconnects(maxReconnects),
		nats.ReconnectWait(reconnectWait),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("reconnected to NATS", "url", nc.ConnectedUrl())
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Warn("disconnected from NATS", "error", err)
			}
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info("NATS connection closed")
		}),
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}
	logger.Info("connected to NATS", "url", url)

	return &NATSConnection{Conn: conn}, nil
}

// NATSBridge mirrors in-process reading/health publications onto NATS
// subjects for fleet-wide consumers, alongside the in-process Hub fan-out.
type NATSBridge struct {
	conn          *NATSConnection
	subjectPrefix string
	logger        *slog.Logger
}

// NewNATSBridge creates a bridge publishing under subjectPrefix.readings
// and subjectPrefix.health.
func NewNATSBridge(conn *NATSConnection, subjectPrefix string, logger *slog.Logger) *NATSBridge {
	return &NATSBridge{conn: conn, subjectPrefix: subjectPrefix, logger: logger}
}

// Attach subscribes to the hub's readings and health streams and mirrors
// every record onto NATS until ctx is cancelled.
func (b *NATSBridge) Attach(ctx context.Context, hub *Hub) {
	readings := hub.SubscribeReadings()
	healthSub := hub.SubscribeHealth()

	go func() {
		defer readings.Unsubscribe()
		subject := b.subjectPrefix + ".readings"
		for {
			select {
			case <-ctx.Done():
				return
			case r, ok := <-readings.Chan():
				if !ok {
					return
				}
				b.publish(subject, r)
			}
		}
	}()

	go func() {
		defer healthSub.Unsubscribe()
		subject := b.subjectPrefix + ".health"
		for {
			select {
			case <-ctx.Done():
				return
			case h, ok := <-healthSub.Chan():
				if !ok {
					return
				}
				b.publish(subject, h)
			}
		}
	}()
}

func (b *NATSBridge) publish(subject string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		b.logger.Warn("failed to encode record for NATS bridge", "subject", subject, "error", err)
		return
	}
	if err := b.conn.Conn.Publish(subject, data); err != nil {
		b.logger.Warn("failed to publish to NATS", "subject", subject, "error", err)
	}
}
