package modbusdev

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRawTraceLoggerRecordsSuccessfulRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.jsonl")
	tracer := NewRawTraceLogger(path, 1, 1, false, testLogger())
	defer tracer.Close()

	client := &FakeClient{ReadFunc: func(unitID, start, quantity uint16) ([]uint16, error) {
		return []uint16{7, 0}, nil
	}}
	s := NewSessionForTesting(testDeviceConfig(), testLogger(), client)
	s.SetTracer(tracer)

	if _, err := s.ReadHoldingRegisters(context.Background(), 0, 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tracer.Close()

	lines := readLines(t, path)
	if len(lines) != 1 {
		t.Fatalf("expected 1 trace line, got %d: %v", len(lines), lines)
	}
	if !strings.Contains(lines[0], `"device_id":"D1"`) {
		t.Fatalf("expected trace line to name the device, got %s", lines[0])
	}
}

func TestNilRawTraceLoggerIsNoOp(t *testing.T) {
	var tracer *RawTraceLogger
	client := &FakeClient{ReadFunc: func(unitID, start, quantity uint16) ([]uint16, error) {
		return []uint16{1}, nil
	}}
	s := NewSessionForTesting(testDeviceConfig(), testLogger(), client)
	s.SetTracer(tracer)

	if _, err := s.ReadHoldingRegisters(context.Background(), 0, 1); err != nil {
		t.Fatalf("unexpected error with nil tracer: %v", err)
	}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open trace file: %v", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
