// Package schedule runs the two periodic loops that drive acquisition and
// health probing across the device fleet.
package schedule

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"adampoller/health"
	"adampoller/modbusdev"
	"adampoller/model"
	"adampoller/pipeline"
	"adampoller/registry"
	"adampoller/streamhub"
)

// Scheduler owns the acquisition and health loops. Concurrency across
// devices within one tick is bounded by a weighted semaphore sized to
// max_concurrent_devices.
type Scheduler struct {
	registry  *registry.Registry
	hub       *streamhub.Hub
	tracker   *health.Tracker
	processor *pipeline.Processor
	logger    *slog.Logger

	pollInterval        time.Duration
	healthCheckInterval time.Duration
	deviceTimeout       time.Duration
	sem                 *semaphore.Weighted

	mu         sync.Mutex
	inFlight   map[string]bool
	healthBusy map[string]bool
}

// Config carries the scheduler's tuning knobs, sourced from ServiceConfig.
type Config struct {
	PollInterval         time.Duration
	HealthCheckInterval  time.Duration
	DeviceTimeout        time.Duration
	MaxConcurrentDevices int
}

// New creates a Scheduler.
func New(reg *registry.Registry, hub *streamhub.Hub, tracker *health.Tracker, processor *pipeline.Processor, cfg Config, logger *slog.Logger) *Scheduler {
	maxConcurrent := cfg.MaxConcurrentDevices
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}

	return &Scheduler{
		registry:            reg,
		hub:                 hub,
		tracker:             tracker,
		processor:           processor,
		logger:              logger,
		pollInterval:        cfg.PollInterval,
		healthCheckInterval: cfg.HealthCheckInterval,
		deviceTimeout:       cfg.DeviceTimeout,
		sem:                 semaphore.NewWeighted(int64(maxConcurrent)),
		inFlight:            make(map[string]bool),
		healthBusy:          make(map[string]bool),
	}
}

// Run starts both loops and blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		s.acquisitionLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		s.healthLoop(ctx)
	}()

	wg.Wait()
}

func (s *Scheduler) acquisitionLoop(ctx context.Context) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.acquisitionTick(ctx)
		}
	}
}

// acquisitionTick fans out one read job per device, skipping any device
// whose previous tick's job hasn't finished yet, so at most one
// acquisition per device is outstanding at any time.
func (s *Scheduler) acquisitionTick(ctx context.Context) {
	devices := s.registry.Snapshot()
	tickID := uuid.New().String()

	for _, dev := range devices {
		dev := dev

		s.mu.Lock()
		if s.inFlight[dev.Config.ID] {
			s.mu.Unlock()
			s.logger.Warn("acquisition tick overrun, coalescing", "device", dev.Config.ID, "tick_id", tickID)
			continue
		}
		s.inFlight[dev.Config.ID] = true
		s.mu.Unlock()

		go func() {
			defer func() {
				s.mu.Lock()
				delete(s.inFlight, dev.Config.ID)
				s.mu.Unlock()
			}()
			defer s.recoverPanic(dev.Config.ID)

			if err := s.sem.Acquire(ctx, 1); err != nil {
				return
			}
			defer s.sem.Release(1)

			s.pollDevice(ctx, dev, tickID)
		}()
	}
}

// pollDevice reads every enabled channel of one device sequentially,
// preserving per-device ordering. tickID is stamped as the tick_id tag on
// every reading produced by this device's read job, tying it back to the
// acquisition tick that spawned it; health records carry no tick id.
func (s *Scheduler) pollDevice(ctx context.Context, dev registry.Device, tickID string) {
	for _, ch := range dev.Config.Channels {
		if !ch.Enabled {
			continue
		}
		if ctx.Err() != nil {
			return
		}

		now := time.Now()
		result, err := dev.Session.ReadHoldingRegisters(ctx, uint16(ch.StartRegister), uint16(ch.RegisterCount))
		latency := result.Duration

		if err != nil {
			if modbusdev.IsCancelled(err) || ctx.Err() != nil {
				return
			}
			reading := s.processor.ProcessFailure(dev.Config, ch, err, latency, now)
			reading.Tags["tick_id"] = model.StringTag(tickID)
			s.hub.PublishReading(reading)

			h := s.tracker.Update(dev.Config.ID, health.Outcome{
				Success:      false,
				ErrorMessage: err.Error(),
				NotConnected: modbusdev.IsConnectionFailed(err),
			}, now)
			s.hub.PublishHealth(h)
			continue
		}

		reading := s.processor.Process(dev.Config, ch, result.Registers, latency, now)
		reading.Tags["tick_id"] = model.StringTag(tickID)
		s.hub.PublishReading(reading)

		h := s.tracker.Update(dev.Config.ID, health.Outcome{Success: true, HasLatency: true, Latency: latency}, now)
		s.hub.PublishHealth(h)
	}
}

func (s *Scheduler) healthLoop(ctx context.Context) {
	ticker := time.NewTicker(s.healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.healthTick(ctx)
		}
	}
}

func (s *Scheduler) healthTick(ctx context.Context) {
	devices := s.registry.Snapshot()

	for _, dev := range devices {
		dev := dev

		s.mu.Lock()
		if s.healthBusy[dev.Config.ID] {
			s.mu.Unlock()
			continue
		}
		s.healthBusy[dev.Config.ID] = true
		s.mu.Unlock()

		go func() {
			defer func() {
				s.mu.Lock()
				delete(s.healthBusy, dev.Config.ID)
				s.mu.Unlock()
			}()
			defer s.recoverPanic(dev.Config.ID)

			if err := s.sem.Acquire(ctx, 1); err != nil {
				return
			}
			defer s.sem.Release(1)

			probeCtx, cancel := context.WithTimeout(ctx, s.deviceTimeout)
			defer cancel()

			err := dev.Session.TestConnectivity(probeCtx)
			now := time.Now()
			outcome := health.Outcome{Success: err == nil}
			if err != nil {
				if modbusdev.IsCancelled(err) {
					return
				}
				outcome.ErrorMessage = err.Error()
				outcome.NotConnected = modbusdev.IsConnectionFailed(err)
			}
			h := s.tracker.Update(dev.Config.ID, outcome, now)
			s.hub.PublishHealth(h)
		}()
	}
}

// recoverPanic keeps a programmer error in one device's read job from
// taking down the scheduler; the panic is logged with its stack and the
// device's next tick proceeds normally.
func (s *Scheduler) recoverPanic(deviceID string) {
	if r := recover(); r != nil {
		s.logger.Error("panic in device job", "device", deviceID, "panic", r, "stack", string(debug.Stack()))
	}
}
