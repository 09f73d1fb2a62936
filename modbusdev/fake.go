package modbusdev

import (
	"log/slog"
	"time"

	"adampoller/config"
)

// FakeClient is a test double for Client: ReadFunc supplies the registers
// (or error) for each call.
type FakeClient struct {
	ReadFunc func(unitID, startAddress, quantity uint16) ([]uint16, error)
	Closed   bool
}

func (f *FakeClient) ReadHoldingRegisters(unitID, startAddress, quantity uint16) ([]uint16, error) {
	return f.ReadFunc(unitID, startAddress, quantity)
}

func (f *FakeClient) Close() error {
	f.Closed = true
	return nil
}

// NewSessionForTesting builds a Session whose dial always succeeds with
// client, bypassing the real TCP/Modbus stack. For use by this package's
// own tests and by other packages' tests that need a Session without a
// live device.
func NewSessionForTesting(cfg config.DeviceConfig, logger *slog.Logger, client Client) *Session {
	s := NewSession(cfg, logger)
	s.dial = func(host string, port int, timeout time.Duration, tuning socketTuning) (Client, error) {
		return client, nil
	}
	return s
}
