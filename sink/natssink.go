package sink

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
)

// jetStreamBackend is the default concrete Backend: it JSON-encodes each
// batch and publishes it to a JetStream stream, durable across broker
// restarts. Grounded on the local-JetStream publish/forward shape used
// elsewhere for relaying acquired data onto NATS.
type jetStreamBackend struct {
	js      nats.JetStreamContext
	subject string
	logger  *slog.Logger
}

// NewJetStreamBackend wraps an existing NATS connection as a sink Backend,
// publishing batches to subject. The caller is responsible for the
// connection's lifecycle (reconnect options, credentials, Close).
func NewJetStreamBackend(conn *nats.Conn, streamName, subject string, logger *slog.Logger) (Backend, error) {
	js, err := conn.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream context: %w", err)
	}

	if _, err := js.StreamInfo(streamName); err != nil {
		_, err = js.AddStream(&nats.StreamConfig{
			Name:     streamName,
			Subjects: []string{subject},
		})
		if err != nil {
			return nil, fmt.Errorf("create stream %s: %w", streamName, err)
		}
	}

	return &jetStreamBackend{js: js, subject: subject, logger: logger}, nil
}

type wireBatch struct {
	Records []wireRecord `json:"records"`
}

type wireRecord struct {
	Measurement    string         `json:"measurement"`
	Tags           map[string]any `json:"tags"`
	RawValue       int64          `json:"raw_value"`
	ProcessedValue float64        `json:"processed_value"`
	Rate           *float64       `json:"rate_of_change,omitempty"`
	TimestampMs    int64          `json:"timestamp_ms"`
}

func (b *jetStreamBackend) WriteBatch(records []Record) error {
	batch := wireBatch{Records: make([]wireRecord, 0, len(records))}
	for _, r := range records {
		tags := make(map[string]any, len(r.Tags))
		for k, v := range r.Tags {
			if v.IsNumber {
				tags[k] = v.Num
			} else {
				tags[k] = v.Str
			}
		}

		wr := wireRecord{
			Measurement:    r.Measurement,
			Tags:           tags,
			RawValue:       r.RawValue,
			ProcessedValue: r.ProcessedValue,
			TimestampMs:    r.Timestamp.UnixMilli(),
		}
		if r.HasRate {
			rate := r.Rate
			wr.Rate = &rate
		}
		batch.Records = append(batch.Records, wr)
	}

	data, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("encode batch: %w", err)
	}

	_, err = b.js.Publish(b.subject, data)
	if err != nil {
		return fmt.Errorf("publish batch: %w", err)
	}
	return nil
}

func (b *jetStreamBackend) Ping() error {
	_, err := b.js.AccountInfo()
	return err
}
