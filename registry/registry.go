// Package registry owns the fleet of device sessions and their channel
// configurations, and serializes runtime add/remove/update mutations
// against the scheduler's periodic snapshot reads.
package registry

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"adampoller/config"
	"adampoller/health"
	"adampoller/model"
	"adampoller/modbusdev"
	"adampoller/pipeline"
	"adampoller/streamhub"
)

// Device is a read-only snapshot of one registered device, handed to the
// scheduler for a single tick's fan-out.
type Device struct {
	Config  config.DeviceConfig
	Session *modbusdev.Session
}

type entry struct {
	cfg     config.DeviceConfig
	session *modbusdev.Session
}

// Registry is the single-writer/multi-reader owner of the device fleet.
type Registry struct {
	hub       *streamhub.Hub
	tracker   *health.Tracker
	processor *pipeline.Processor
	logger    *slog.Logger

	mu      sync.RWMutex
	devices map[string]*entry
	tracer  *modbusdev.RawTraceLogger
}

// SetTracer attaches an optional raw-frame trace logger, applied to every
// session already registered and every one added afterward. Passing nil
// disables tracing.
func (r *Registry) SetTracer(tracer *modbusdev.RawTraceLogger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tracer = tracer
	for _, e := range r.devices {
		e.session.SetTracer(tracer)
	}
}

// New creates an empty Registry.
func New(hub *streamhub.Hub, tracker *health.Tracker, processor *pipeline.Processor, logger *slog.Logger) *Registry {
	return &Registry{
		hub:       hub,
		tracker:   tracker,
		processor: processor,
		logger:    logger,
		devices:   make(map[string]*entry),
	}
}

// AddDevice validates cfg, rejects a duplicate id, creates a session (its
// socket opens on the first connect or read), and publishes an initial
// Unknown-status Health record. It never preempts an
// in-progress scheduler tick: the new device simply isn't in the snapshot
// the current tick already took.
func (r *Registry) AddDevice(cfg config.DeviceConfig) error {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid device config: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.devices[cfg.ID]; exists {
		return fmt.Errorf("device %s already registered", cfg.ID)
	}

	session := modbusdev.NewSession(cfg, r.logger)
	session.SetTracer(r.tracer)
	r.devices[cfg.ID] = &entry{cfg: cfg, session: session}

	h := r.tracker.Register(cfg.ID, time.Now())
	r.hub.PublishHealth(h)

	r.logger.Info("device added", "device", cfg.ID, "host", cfg.Host, "port", cfg.Port)
	return nil
}

// RemoveDevice takes the device out of the registry so future ticks skip
// it, closes its session, and publishes a terminal Offline Health record.
func (r *Registry) RemoveDevice(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.devices[id]
	if !ok {
		return fmt.Errorf("device %s not found", id)
	}
	delete(r.devices, id)

	e.session.Close()
	r.processor.RemoveDevice(id)

	terminal := model.Health{
		DeviceID:    id,
		Timestamp:   time.Now(),
		Status:      model.StatusOffline,
		IsConnected: false,
	}
	r.hub.PublishHealth(terminal)
	r.tracker.Unregister(id)

	r.logger.Info("device removed", "device", id)
	return nil
}

// UpdateDevice atomically replaces a device's configuration. It preserves
// total_reads, successful_reads, and last_successful_read_age by leaving
// the tracker entry in place (only consecutive_failures and last_error are
// cleared), and invalidates rate history for any channel whose register
// layout or scaling changed.
func (r *Registry) UpdateDevice(cfg config.DeviceConfig) error {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid device config: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	old, ok := r.devices[cfg.ID]
	if !ok {
		return fmt.Errorf("device %s not found", cfg.ID)
	}

	old.session.Close()
	r.invalidateChangedChannels(cfg.ID, old.cfg.Channels, cfg.Channels)

	session := modbusdev.NewSession(cfg, r.logger)
	session.SetTracer(r.tracer)
	r.devices[cfg.ID] = &entry{cfg: cfg, session: session}

	r.tracker.ResetFailureState(cfg.ID)

	r.logger.Info("device updated", "device", cfg.ID)
	return nil
}

func (r *Registry) invalidateChangedChannels(deviceID string, oldChannels, newChannels []config.ChannelConfig) {
	byNumber := make(map[int]config.ChannelConfig, len(oldChannels))
	for _, ch := range oldChannels {
		byNumber[ch.Number] = ch
	}

	for _, newCh := range newChannels {
		oldCh, existed := byNumber[newCh.Number]
		if !existed {
			continue
		}
		if oldCh.StartRegister != newCh.StartRegister ||
			oldCh.RegisterCount != newCh.RegisterCount ||
			oldCh.Scale != newCh.Scale ||
			oldCh.Offset != newCh.Offset {
			r.processor.ResetChannel(deviceID, newCh.Number)
		}
	}
}

// EnableDevice re-enables polling for a previously disabled device without
// dropping its accumulated counters or rate history.
func (r *Registry) EnableDevice(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.devices[id]
	if !ok {
		return fmt.Errorf("device %s not found", id)
	}
	e.cfg.Enabled = true
	return nil
}

// DisableDevice stops scheduling reads for a device while keeping it
// registered, so its health and rate history survive a later re-enable.
func (r *Registry) DisableDevice(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.devices[id]
	if !ok {
		return fmt.Errorf("device %s not found", id)
	}
	e.cfg.Enabled = false
	return nil
}

// Snapshot returns a cheap read-only copy of every enabled device, for the
// scheduler's per-tick fan-out.
func (r *Registry) Snapshot() []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Device, 0, len(r.devices))
	for _, e := range r.devices {
		if !e.cfg.Enabled {
			continue
		}
		out = append(out, Device{Config: e.cfg, Session: e.session})
	}
	return out
}

// Get returns the current configuration and session for one device.
func (r *Registry) Get(id string) (Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.devices[id]
	if !ok {
		return Device{}, false
	}
	return Device{Config: e.cfg, Session: e.session}, true
}

// CloseAll closes every session concurrently, used during service shutdown.
// A slow or hung device's teardown must not delay the others; errgroup
// simply joins the fan-out rather than fanning out sequentially.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	var g errgroup.Group
	for _, e := range r.devices {
		e := e
		g.Go(func() error {
			return e.session.Close()
		})
	}
	if err := g.Wait(); err != nil {
		r.logger.Warn("error closing one or more device sessions", "error", err)
	}
}
