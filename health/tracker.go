// Package health maintains per-device status counters and derives the
// Online/Warning/Error/Offline/Unknown state machine from read outcomes.
package health

import (
	"sync"
	"time"

	"adampoller/model"
)

const latencyEWMAAlpha = 0.2

// Outcome describes one acquisition or connectivity-probe result.
type Outcome struct {
	Success       bool
	ErrorMessage  string
	Latency       time.Duration
	HasLatency    bool
	NotConnected  bool // a transport-level "not connected" fault, forces Offline
}

type deviceState struct {
	health              model.Health
	lastSuccessfulRead  time.Time
	hasLastSuccessful   bool
}

// Tracker owns Health state for every registered device.
type Tracker struct {
	maxConsecutiveFailures int64

	mu      sync.RWMutex
	devices map[string]*deviceState
}

// NewTracker creates a Tracker. maxConsecutiveFailures is the threshold at
// or above which a device's status becomes Error.
func NewTracker(maxConsecutiveFailures int) *Tracker {
	return &Tracker{
		maxConsecutiveFailures: int64(maxConsecutiveFailures),
		devices:                make(map[string]*deviceState),
	}
}

// Register adds a device in the Unknown state, as done on AddDevice before
// the first outcome arrives.
func (t *Tracker) Register(deviceID string, now time.Time) model.Health {
	t.mu.Lock()
	defer t.mu.Unlock()

	h := model.Health{
		DeviceID:  deviceID,
		Timestamp: now,
		Status:    model.StatusUnknown,
	}
	t.devices[deviceID] = &deviceState{health: h}
	return h
}

// Unregister drops all tracked state for a removed device.
func (t *Tracker) Unregister(deviceID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.devices, deviceID)
}

// Update applies the outcome update rule and returns the resulting
// Health snapshot.
func (t *Tracker) Update(deviceID string, outcome Outcome, now time.Time) model.Health {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.devices[deviceID]
	if !ok {
		st = &deviceState{health: model.Health{DeviceID: deviceID, Status: model.StatusUnknown}}
		t.devices[deviceID] = st
	}

	h := &st.health
	h.Timestamp = now
	h.IsConnected = outcome.Success
	h.TotalReads++

	if outcome.Success {
		h.SuccessfulReads++
		h.ConsecutiveFailures = 0
		h.LastError = ""
		st.lastSuccessfulRead = now
		st.hasLastSuccessful = true

		if outcome.HasLatency {
			latencyMs := float64(outcome.Latency) / float64(time.Millisecond)
			if h.HasAvgLatencyMs {
				h.AvgLatencyMs = latencyEWMAAlpha*latencyMs + (1-latencyEWMAAlpha)*h.AvgLatencyMs
			} else {
				h.AvgLatencyMs = latencyMs
				h.HasAvgLatencyMs = true
			}
		}
	} else {
		h.ConsecutiveFailures++
		h.LastError = outcome.ErrorMessage
	}

	if st.hasLastSuccessful {
		h.HasLastSuccessfulReadAge = true
		h.LastSuccessfulReadAge = now.Sub(st.lastSuccessfulRead)
	}

	h.Status = deriveStatus(outcome, h.ConsecutiveFailures, t.maxConsecutiveFailures)

	return *h
}

func deriveStatus(outcome Outcome, consecutiveFailures, maxConsecutiveFailures int64) model.Status {
	if outcome.NotConnected {
		return model.StatusOffline
	}
	if outcome.Success {
		return model.StatusOnline
	}
	if consecutiveFailures >= maxConsecutiveFailures {
		return model.StatusError
	}
	if consecutiveFailures > 0 {
		return model.StatusWarning
	}
	return model.StatusUnknown
}

// ResetFailureState clears consecutive_failures and last_error without
// touching total_reads, successful_reads, or last_successful_read_age, as
// required by a hot config update.
func (t *Tracker) ResetFailureState(deviceID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.devices[deviceID]
	if !ok {
		return
	}
	st.health.ConsecutiveFailures = 0
	st.health.LastError = ""
}

// Get returns the current Health snapshot for a device.
func (t *Tracker) Get(deviceID string) (model.Health, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st, ok := t.devices[deviceID]
	if !ok {
		return model.Health{}, false
	}
	return st.health, true
}

// All returns a snapshot of every tracked device's Health.
func (t *Tracker) All() []model.Health {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]model.Health, 0, len(t.devices))
	for _, st := range t.devices {
		out = append(out, st.health)
	}
	return out
}
