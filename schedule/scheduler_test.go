package schedule

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"adampoller/config"
	"adampoller/health"
	"adampoller/modbusdev"
	"adampoller/pipeline"
	"adampoller/registry"
	"adampoller/streamhub"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAcquisitionTickPublishesReadings(t *testing.T) {
	hub := streamhub.New(16)
	tracker := health.NewTracker(3)
	processor := pipeline.NewProcessor()
	reg := registry.New(hub, tracker, processor, testLogger())

	cfg := config.DeviceConfig{
		ID:         "D1",
		Host:       "127.0.0.1",
		Port:       502,
		UnitID:     1,
		TimeoutMs:  100,
		MaxRetries: 0,
		Enabled:    true,
		Channels: []config.ChannelConfig{
			{Number: 0, Name: "prod_counter", Enabled: true, RegisterCount: 2, Scale: 1, Max: 4294967295},
		},
	}
	reg.AddDevice(cfg)

	var reads int32
	client := &modbusdev.FakeClient{ReadFunc: func(unitID, start, quantity uint16) ([]uint16, error) {
		atomic.AddInt32(&reads, 1)
		return []uint16{42, 0}, nil
	}}
	testSession := modbusdev.NewSessionForTesting(cfg, testLogger(), client)

	sub := hub.SubscribeReadings()
	defer sub.Unsubscribe()

	sched := New(reg, hub, tracker, processor, Config{
		PollInterval:         time.Hour,
		HealthCheckInterval:  time.Hour,
		DeviceTimeout:        time.Second,
		MaxConcurrentDevices: 2,
	}, testLogger())

	ctx := context.Background()
	sched.pollDevice(ctx, registry.Device{Config: cfg, Session: testSession}, "test-tick")

	select {
	case r := <-sub.Chan():
		if r.RawValue != 42 {
			t.Fatalf("expected raw_value=42, got %d", r.RawValue)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for a published reading")
	}

	if atomic.LoadInt32(&reads) != 1 {
		t.Fatalf("expected exactly 1 read, got %d", reads)
	}
}
