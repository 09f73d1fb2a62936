package sink

import (
	"encoding/json"
	"fmt"

	"gopkg.in/natefinch/lumberjack.v2"
)

// logBackend is the fallback Backend used when no NATS/JetStream connection
// is configured: it appends each batch as a JSON line to a rotating log
// file, the same rotate-on-size/backups/compress shape the service uses for
// its own structured logs. Durability is weaker than JetStream (no broker,
// no replay to a downstream consumer) but it keeps the sink's retry/backoff
// behavior exercised in a NATS-less deployment.
type logBackend struct {
	writer *lumberjack.Logger
}

// NewLogBackend opens (creating directories as needed) a rotating log file
// at path as a Backend.
func NewLogBackend(path string, maxSizeMB, maxBackups int, compress bool) Backend {
	return &logBackend{writer: &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		Compress:   compress,
	}}
}

func (b *logBackend) WriteBatch(records []Record) error {
	for _, r := range records {
		tags := make(map[string]any, len(r.Tags))
		for k, v := range r.Tags {
			if v.IsNumber {
				tags[k] = v.Num
			} else {
				tags[k] = v.Str
			}
		}
		entry := struct {
			Measurement    string         `json:"measurement"`
			Tags           map[string]any `json:"tags"`
			RawValue       int64          `json:"raw_value"`
			ProcessedValue float64        `json:"processed_value"`
			Rate           *float64       `json:"rate_of_change,omitempty"`
			TimestampMs    int64          `json:"timestamp_ms"`
		}{
			Measurement:    r.Measurement,
			Tags:           tags,
			RawValue:       r.RawValue,
			ProcessedValue: r.ProcessedValue,
			TimestampMs:    r.Timestamp.UnixMilli(),
		}
		if r.HasRate {
			rate := r.Rate
			entry.Rate = &rate
		}
		line, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("encode record: %w", err)
		}
		if _, err := b.writer.Write(append(line, '\n')); err != nil {
			return fmt.Errorf("write record: %w", err)
		}
	}
	return nil
}

func (b *logBackend) Ping() error {
	return nil
}
