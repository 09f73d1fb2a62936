package modbusdev

import (
	"encoding/json"
	"log/slog"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// RawTraceLogger appends one JSON line per read attempt to a rotating log
// file, a per-device raw-frame record kept alongside the processed
// readings. Nil-safe: a nil *RawTraceLogger is a documented no-op so
// sessions can hold one unconditionally.
type RawTraceLogger struct {
	writer *lumberjack.Logger
	logger *slog.Logger
}

type traceEntry struct {
	Timestamp    time.Time `json:"timestamp"`
	DeviceID     string    `json:"device_id"`
	StartAddress uint16    `json:"start_address"`
	Quantity     uint16    `json:"quantity"`
	Registers    []uint16  `json:"registers,omitempty"`
	Error        string    `json:"error,omitempty"`
}

// NewRawTraceLogger opens a rotating trace file at path.
func NewRawTraceLogger(path string, maxSizeMB, maxBackups int, compress bool, logger *slog.Logger) *RawTraceLogger {
	return &RawTraceLogger{
		writer: &lumberjack.Logger{
			Filename:   path,
			MaxSize:    maxSizeMB,
			MaxBackups: maxBackups,
			Compress:   compress,
		},
		logger: logger,
	}
}

// Trace records one read attempt's raw registers (or its error) for a
// device. Failures to write the trace are logged but never surfaced: a full
// disk must not interrupt polling.
func (t *RawTraceLogger) Trace(deviceID string, start, quantity uint16, regs []uint16, readErr error) {
	if t == nil {
		return
	}

	entry := traceEntry{
		Timestamp:    time.Now(),
		DeviceID:     deviceID,
		StartAddress: start,
		Quantity:     quantity,
		Registers:    regs,
	}
	if readErr != nil {
		entry.Error = readErr.Error()
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return
	}
	line = append(line, '\n')

	if _, err := t.writer.Write(line); err != nil && t.logger != nil {
		t.logger.Warn("raw trace write failed", "device", deviceID, "error", err)
	}
}

// Close closes the underlying rotating file.
func (t *RawTraceLogger) Close() error {
	if t == nil {
		return nil
	}
	return t.writer.Close()
}
