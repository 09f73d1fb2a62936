// Package adampoller is the service facade: it wires DeviceRegistry,
// Scheduler, StreamHub, HealthTracker, and BatchSink into one runnable
// acquisition service.
package adampoller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"adampoller/config"
	"adampoller/health"
	"adampoller/modbusdev"
	"adampoller/model"
	"adampoller/pipeline"
	"adampoller/registry"
	"adampoller/schedule"
	"adampoller/sink"
	"adampoller/streamhub"
)

// Service is the orchestrator: Start, Stop, Subscribe,
// GetHealth, GetAllHealth, AddDevice, RemoveDevice, UpdateDevice, IsRunning.
type Service struct {
	cfg       *config.Config
	logger    *slog.Logger
	hub       *streamhub.Hub
	tracker   *health.Tracker
	processor *pipeline.Processor
	registry  *registry.Registry
	sink      *sink.Sink
	scheduler *schedule.Scheduler

	shutdownGrace time.Duration
	configPath    string

	events  *streamhub.EventPublisher
	version string

	mu      sync.Mutex
	running bool
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// SetEventPublisher attaches an optional lifecycle-event publisher (service
// start/stop/unclean-shutdown markers). version is stamped on the
// service_start event. Must be called before Start.
func (s *Service) SetEventPublisher(events *streamhub.EventPublisher, version string) {
	s.events = events
	s.version = version
}

// SetConfigPath enables persisting runtime device mutations back to the
// configuration file. Empty path (the default) disables persistence. Must
// be called before Start.
func (s *Service) SetConfigPath(path string) {
	s.configPath = path
}

// SetRawTracer attaches an optional per-device raw register trace logger,
// applied to every currently registered session and every one added
// afterward, so it covers devices loaded from configuration whether it is
// called before or after Start.
func (s *Service) SetRawTracer(tracer *modbusdev.RawTraceLogger) {
	s.registry.SetTracer(tracer)
}

// New builds a Service from configuration and an already-constructed
// Backend for the batch sink (a JetStream backend, a test double, etc.).
func New(cfg *config.Config, backend sink.Backend, logger *slog.Logger) *Service {
	hub := streamhub.New(cfg.Service.DataBufferSize)
	tracker := health.NewTracker(cfg.Service.MaxConsecutiveFailures)
	processor := pipeline.NewProcessor()
	reg := registry.New(hub, tracker, processor, logger)

	s := sink.New(backend, sink.Options{
		BatchSize:    cfg.Service.BatchSize,
		BatchTimeout: cfg.Service.BatchTimeout(),
	}, logger)

	scheduler := schedule.New(reg, hub, tracker, processor, schedule.Config{
		PollInterval:         cfg.Service.PollInterval(),
		HealthCheckInterval:  cfg.Service.HealthCheckInterval(),
		DeviceTimeout:        cfg.Service.DeviceTimeout(),
		MaxConcurrentDevices: cfg.Service.MaxConcurrentDevices,
	}, logger)

	return &Service{
		cfg:           cfg,
		logger:        logger,
		hub:           hub,
		tracker:       tracker,
		processor:     processor,
		registry:      reg,
		sink:          s,
		scheduler:     scheduler,
		shutdownGrace: 10 * time.Second,
	}
}

// Start launches all configured devices, the scheduler, and the sink.
// Idempotent: calling Start on an already-running service is a no-op.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	if s.stopped {
		return fmt.Errorf("service already stopped; create a new instance")
	}

	s.events.CheckAndPublishUncleanShutdown()
	s.events.PublishServiceStart(s.version)

	for _, dev := range s.cfg.Devices {
		if _, ok := s.registry.Get(dev.ID); ok {
			continue
		}
		if err := s.registry.AddDevice(dev); err != nil {
			return fmt.Errorf("add device %s: %w", dev.ID, err)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	sinkSub := s.hub.SubscribeReadings()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer sinkSub.Unsubscribe()
		for {
			select {
			case <-runCtx.Done():
				return
			case r, ok := <-sinkSub.Chan():
				if !ok {
					return
				}
				s.sink.Enqueue(r)
			}
		}
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.sink.Run(runCtx)
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.scheduler.Run(runCtx)
	}()

	s.running = true
	s.logger.Info("service started", "instance", s.cfg.App.InstanceID, "devices", len(s.cfg.Devices))
	return nil
}

// Stop cancels the loops, waits for them within a bounded grace window,
// flushes the sink with a bounded deadline, and closes every session.
func (s *Service) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.stopped = true
	cancel := s.cancel
	s.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(s.shutdownGrace):
		s.logger.Warn("shutdown grace period elapsed, loops may still be unwinding")
	}

	flushDeadline := time.Now().Add(s.shutdownGrace)
	if err := s.sink.Flush(context.Background(), flushDeadline); err != nil {
		stats := s.sink.Stats()
		s.logger.Warn("sink flush incomplete at shutdown", "dropped", stats.DroppedCount, "queue_depth", stats.QueueDepth)
	}

	s.registry.CloseAll()
	s.events.PublishServiceStop("graceful shutdown")
	s.logger.Info("service stopped")
	return nil
}

// IsRunning reports whether the service is currently running.
func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Hub returns the underlying stream hub, for collaborators (e.g. a NATS
// bridge) that need to attach their own subscriptions directly.
func (s *Service) Hub() *streamhub.Hub {
	return s.hub
}

// SubscribeReadings returns a live readings subscription.
func (s *Service) SubscribeReadings() *streamhub.ReadingSubscription {
	return s.hub.SubscribeReadings()
}

// SubscribeHealth returns a live health subscription.
func (s *Service) SubscribeHealth() *streamhub.HealthSubscription {
	return s.hub.SubscribeHealth()
}

// GetHealth returns the current Health snapshot for one device.
func (s *Service) GetHealth(id string) (model.Health, bool) {
	return s.tracker.Get(id)
}

// GetAllHealth returns the current Health snapshot for every device.
func (s *Service) GetAllHealth() []model.Health {
	return s.tracker.All()
}

// AddDevice registers a new device at runtime and persists it to the
// configuration file when a config path is set.
func (s *Service) AddDevice(cfg config.DeviceConfig) error {
	cfg.ApplyDefaults()
	if err := s.registry.AddDevice(cfg); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Devices = append(s.cfg.Devices, cfg)
	s.persistConfigLocked()
	return nil
}

// RemoveDevice unregisters a device at runtime.
func (s *Service) RemoveDevice(id string) error {
	if err := s.registry.RemoveDevice(id); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.cfg.Devices[:0]
	for _, d := range s.cfg.Devices {
		if d.ID != id {
			kept = append(kept, d)
		}
	}
	s.cfg.Devices = kept
	s.persistConfigLocked()
	return nil
}

// UpdateDevice replaces a device's configuration at runtime.
func (s *Service) UpdateDevice(cfg config.DeviceConfig) error {
	cfg.ApplyDefaults()
	if err := s.registry.UpdateDevice(cfg); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.cfg.Devices {
		if s.cfg.Devices[i].ID == cfg.ID {
			s.cfg.Devices[i] = cfg
			break
		}
	}
	s.persistConfigLocked()
	return nil
}

// EnableDevice re-enables polling for a device.
func (s *Service) EnableDevice(id string) error {
	if err := s.registry.EnableDevice(id); err != nil {
		return err
	}
	s.setDeviceEnabled(id, true)
	return nil
}

// DisableDevice stops polling a device without unregistering it.
func (s *Service) DisableDevice(id string) error {
	if err := s.registry.DisableDevice(id); err != nil {
		return err
	}
	s.setDeviceEnabled(id, false)
	return nil
}

func (s *Service) setDeviceEnabled(id string, enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.cfg.Devices {
		if s.cfg.Devices[i].ID == id {
			s.cfg.Devices[i].Enabled = enabled
			break
		}
	}
	s.persistConfigLocked()
}

// persistConfigLocked saves the configuration after a device mutation.
// Callers hold s.mu. A failed save is logged but does not undo the
// in-memory mutation.
func (s *Service) persistConfigLocked() {
	if s.configPath == "" {
		return
	}
	if err := s.cfg.Save(s.configPath); err != nil {
		s.logger.Warn("failed to persist config after device mutation", "path", s.configPath, "error", err)
	}
}

// SinkStats returns the batch sink's self-reported health.
func (s *Service) SinkStats() sink.Stats {
	return s.sink.Stats()
}
