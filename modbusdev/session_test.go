package modbusdev

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"adampoller/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testDeviceConfig() config.DeviceConfig {
	return config.DeviceConfig{
		ID:           "D1",
		Host:         "127.0.0.1",
		Port:         502,
		UnitID:       1,
		TimeoutMs:    100,
		MaxRetries:   2,
		RetryDelayMs: 10,
	}
}

func TestReadSucceedsOnFirstAttempt(t *testing.T) {
	client := &FakeClient{ReadFunc: func(unitID, start, quantity uint16) ([]uint16, error) {
		return []uint16{100, 0}, nil
	}}
	s := NewSessionForTesting(testDeviceConfig(), testLogger(), client)

	result, err := s.ReadHoldingRegisters(context.Background(), 0, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Registers) != 2 || result.Registers[0] != 100 {
		t.Fatalf("unexpected registers: %v", result.Registers)
	}
}

func TestReadRetriesThenSucceeds(t *testing.T) {
	attempts := 0
	client := &FakeClient{ReadFunc: func(unitID, start, quantity uint16) ([]uint16, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("connection reset")
		}
		return []uint16{200, 0}, nil
	}}
	s := NewSessionForTesting(testDeviceConfig(), testLogger(), client)

	began := time.Now()
	result, err := s.ReadHoldingRegisters(context.Background(), 0, 2)
	elapsed := time.Since(began)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
	if elapsed < 20*time.Millisecond {
		t.Fatalf("expected acquisition duration to cover two retry delays, got %v", elapsed)
	}
	if result.Duration < 20*time.Millisecond {
		t.Fatalf("expected reported duration to include retries, got %v", result.Duration)
	}
}

func TestReadExhaustsRetries(t *testing.T) {
	client := &FakeClient{ReadFunc: func(unitID, start, quantity uint16) ([]uint16, error) {
		return nil, errors.New("connection refused")
	}}
	cfg := testDeviceConfig()
	cfg.MaxRetries = 1
	s := NewSessionForTesting(cfg, testLogger(), client)

	_, err := s.ReadHoldingRegisters(context.Background(), 0, 2)
	if err == nil {
		t.Fatalf("expected error after exhausting retries")
	}
}

func TestTestConnectivityReadsAddrZero(t *testing.T) {
	var gotStart uint16 = 99
	var gotQuantity uint16
	client := &FakeClient{ReadFunc: func(unitID, start, quantity uint16) ([]uint16, error) {
		gotStart, gotQuantity = start, quantity
		return []uint16{1}, nil
	}}
	s := NewSessionForTesting(testDeviceConfig(), testLogger(), client)

	if err := s.TestConnectivity(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotStart != 0 || gotQuantity != 1 {
		t.Fatalf("expected probe at addr=0 count=1, got addr=%d count=%d", gotStart, gotQuantity)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	client := &FakeClient{ReadFunc: func(unitID, start, quantity uint16) ([]uint16, error) {
		return []uint16{0}, nil
	}}
	s := NewSessionForTesting(testDeviceConfig(), testLogger(), client)
	s.Connect(context.Background())

	if err := s.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second close should be a no-op, got: %v", err)
	}
	if s.State() != StateClosed {
		t.Fatalf("expected Closed state, got %s", s.State())
	}
}

func TestCooldownSuppressesRapidReconnect(t *testing.T) {
	dialCount := 0
	cfg := testDeviceConfig()
	s := NewSession(cfg, testLogger())
	s.cooldown = time.Hour
	s.dial = func(host string, port int, timeout time.Duration, tuning socketTuning) (Client, error) {
		dialCount++
		return nil, errors.New("refused")
	}

	s.Connect(context.Background())
	s.Connect(context.Background())

	if dialCount != 1 {
		t.Fatalf("expected cooldown to suppress the second dial, got %d dials", dialCount)
	}
}
