// Package modbusdev manages the per-device Modbus/TCP session lifecycle:
// connect, read-with-retry, connectivity probing, and teardown.
package modbusdev

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"adampoller/config"
)

// State is the session's connection state machine.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "disconnected"
	}
}

// defaultCooldown is the minimum spacing between a failed connect attempt
// and the next one, to prevent reconnection storms against a flapping
// device.
const defaultCooldown = 5 * time.Second

// dialFunc is overridable in tests to avoid real network dials.
type dialFunc func(host string, port int, timeout time.Duration, tuning socketTuning) (Client, error)

func defaultDial(host string, port int, timeout time.Duration, tuning socketTuning) (Client, error) {
	return dialTCP(host, port, timeout, tuning)
}

// Session represents one logical Modbus/TCP endpoint. All exported methods
// are safe for concurrent use; they serialize on an internal mutex.
type Session struct {
	cfg    config.DeviceConfig
	logger *slog.Logger
	dial   dialFunc
	tracer *RawTraceLogger

	mu                 sync.Mutex
	state              State
	client             Client
	lastConnectAttempt time.Time
	cooldown           time.Duration
}

// SetTracer attaches an optional raw-frame trace logger. Passing nil
// disables tracing; safe to call at any point in the session's lifetime.
func (s *Session) SetTracer(tracer *RawTraceLogger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracer = tracer
}

// NewSession creates a session for the given device configuration. The
// session starts Disconnected; Connect (or the first Read) opens the
// socket.
func NewSession(cfg config.DeviceConfig, logger *slog.Logger) *Session {
	return &Session{
		cfg:      cfg,
		logger:   logger,
		dial:     defaultDial,
		state:    StateDisconnected,
		cooldown: defaultCooldown,
	}
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connect opens the TCP connection and instantiates the Modbus master.
// Re-entrant: concurrent callers serialize on the session mutex. A call
// arriving within the cooldown window of the previous failed attempt is
// rejected without dialing; it returns the current connection state
// instead. A successful connect clears the cooldown, so a read retry after
// a dropped connection redials at once.
func (s *Session) Connect(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectLocked(ctx)
}

func (s *Session) connectLocked(ctx context.Context) (bool, error) {
	if s.state == StateClosed {
		return false, fmt.Errorf("session closed")
	}

	if s.state == StateConnected {
		return true, nil
	}

	if !s.lastConnectAttempt.IsZero() && time.Since(s.lastConnectAttempt) < s.cooldown {
		s.logger.Debug("connect suppressed by cooldown", "device", s.cfg.ID, "state", s.state)
		return s.state == StateConnected, nil
	}

	s.lastConnectAttempt = time.Now()
	s.state = StateConnecting

	tuning := socketTuning{
		RecvBufferBytes: s.cfg.Socket.RecvBufferBytes,
		SendBufferBytes: s.cfg.Socket.SendBufferBytes,
		Keepalive:       s.cfg.Socket.KeepaliveEnabled(),
		Nagle:           s.cfg.Socket.Nagle,
	}

	client, err := s.dial(s.cfg.Host, s.cfg.Port, s.cfg.Timeout(), tuning)
	if err != nil {
		s.state = StateDisconnected
		return false, newFailure(FailureConnectionFailed, err)
	}

	s.client = client
	s.state = StateConnected
	s.lastConnectAttempt = time.Time{}
	s.logger.Info("device connected", "device", s.cfg.ID, "host", s.cfg.Host, "port", s.cfg.Port)
	return true, nil
}

// ReadResult is the outcome of a successful ReadHoldingRegisters call.
type ReadResult struct {
	Registers []uint16
	Duration  time.Duration
}

// ReadHoldingRegisters reads count registers starting at start, retrying up
// to max_retries+1 total attempts with retry_delay between them. The
// reported duration spans the whole call, including retries.
func (s *Session) ReadHoldingRegisters(ctx context.Context, start, count uint16) (ReadResult, error) {
	began := time.Now()
	attempts := s.cfg.MaxRetries + 1

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return ReadResult{Duration: time.Since(began)}, newFailure(FailureCancelled, err)
		}

		regs, err := s.attemptRead(ctx, start, count)
		if err == nil {
			return ReadResult{Registers: regs, Duration: time.Since(began)}, nil
		}

		lastErr = err
		if IsCancelled(err) {
			return ReadResult{Duration: time.Since(began)}, err
		}

		s.markDisconnected()

		if attempt < attempts-1 {
			s.logger.Warn("read attempt failed, retrying", "device", s.cfg.ID, "attempt", attempt+1, "error", err)
			select {
			case <-ctx.Done():
				return ReadResult{Duration: time.Since(began)}, newFailure(FailureCancelled, ctx.Err())
			case <-time.After(s.cfg.RetryDelay()):
			}
		}
	}

	return ReadResult{Duration: time.Since(began)}, finalizeFailure(lastErr)
}

// finalizeFailure ensures a retry-exhausted read surfaces a typed Failure;
// an unclassified error becomes ConnectionFailed so the processor's own
// mapping stays centralized in one place.
func finalizeFailure(err error) error {
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	return newFailure(FailureConnectionFailed, err)
}

func (s *Session) attemptRead(ctx context.Context, start, count uint16) ([]uint16, error) {
	s.mu.Lock()
	if s.state != StateConnected {
		if _, err := s.connectLocked(ctx); err != nil {
			s.mu.Unlock()
			return nil, err
		}
	}
	client := s.client
	unitID := uint16(s.cfg.UnitID)
	tracer := s.tracer
	s.mu.Unlock()

	if client == nil {
		err := newFailure(FailureConnectionFailed, fmt.Errorf("no active client"))
		tracer.Trace(s.cfg.ID, start, count, nil, err)
		return nil, err
	}

	regs, err := client.ReadHoldingRegisters(unitID, start, count)
	if err != nil {
		classified := classifyReadError(ctx, err)
		tracer.Trace(s.cfg.ID, start, count, nil, classified)
		return nil, classified
	}
	tracer.Trace(s.cfg.ID, start, count, regs, nil)
	return regs, nil
}

// classifyReadError maps a raw transport/protocol error onto a Failure kind.
func classifyReadError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return newFailure(FailureCancelled, ctx.Err())
	}
	if isTimeoutErr(err) {
		return newFailure(FailureTimeout, err)
	}
	return newFailure(FailureProtocolError, err)
}

func isTimeoutErr(err error) bool {
	type timeouter interface{ Timeout() bool }
	var t timeouter
	if errors.As(err, &t) {
		return t.Timeout()
	}
	return false
}

// markDisconnected transitions to Disconnected and drops the client. Called
// after any non-cancellation read failure.
func (s *Session) markDisconnected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return
	}
	if s.client != nil {
		s.client.Close()
		s.client = nil
	}
	s.state = StateDisconnected
}

// TestConnectivity reads a single register at address 0 to probe whether
// the session is usable, without going through the retry policy.
func (s *Session) TestConnectivity(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateConnected {
		if _, err := s.connectLocked(ctx); err != nil {
			s.mu.Unlock()
			return err
		}
	}
	client := s.client
	unitID := uint16(s.cfg.UnitID)
	s.mu.Unlock()

	if client == nil {
		return newFailure(FailureConnectionFailed, fmt.Errorf("no active client"))
	}

	if _, err := client.ReadHoldingRegisters(unitID, 0, 1); err != nil {
		classified := classifyReadError(ctx, err)
		if !IsCancelled(classified) {
			s.markDisconnected()
		}
		return classified
	}
	return nil
}

// Close tears down the Modbus master and socket. Idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return nil
	}

	if s.client != nil {
		s.client.Close()
		s.client = nil
	}
	s.state = StateClosed
	s.logger.Info("device session closed", "device", s.cfg.ID)
	return nil
}

// Config returns the device configuration this session was built from.
func (s *Session) Config() config.DeviceConfig {
	return s.cfg
}
