package config

import (
	"fmt"
)

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate performs comprehensive validation of the configuration.
func (c *Config) Validate() error {
	if err := c.validateApp(); err != nil {
		return fmt.Errorf("app config: %w", err)
	}
	if err := c.validateService(); err != nil {
		return fmt.Errorf("service config: %w", err)
	}
	if err := c.validateNATS(); err != nil {
		return fmt.Errorf("nats config: %w", err)
	}
	if err := c.validateLogging(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	if err := c.validateDevices(); err != nil {
		return fmt.Errorf("devices config: %w", err)
	}
	return nil
}

func (c *Config) validateApp() error {
	if c.App.Name == "" {
		return fmt.Errorf("name is required")
	}
	if c.App.InstanceID == "" {
		return fmt.Errorf("instance_id is required")
	}
	return nil
}

func (c *Config) validateService() error {
	s := &c.Service
	if s.PollIntervalMs < 100 || s.PollIntervalMs > 300_000 {
		return fmt.Errorf("poll_interval_ms must be between 100 and 300000, got: %d", s.PollIntervalMs)
	}
	if s.HealthCheckIntervalMs < 5000 || s.HealthCheckIntervalMs > 300_000 {
		return fmt.Errorf("health_check_interval_ms must be between 5000 and 300000, got: %d", s.HealthCheckIntervalMs)
	}
	if s.MaxConcurrentDevices < 1 || s.MaxConcurrentDevices > 50 {
		return fmt.Errorf("max_concurrent_devices must be between 1 and 50, got: %d", s.MaxConcurrentDevices)
	}
	if s.BatchSize < 1 || s.BatchSize > 1000 {
		return fmt.Errorf("batch_size must be between 1 and 1000, got: %d", s.BatchSize)
	}
	if s.DataBufferSize < 1 {
		return fmt.Errorf("data_buffer_size must be positive, got: %d", s.DataBufferSize)
	}
	if s.MaxConsecutiveFailures < 1 {
		return fmt.Errorf("max_consecutive_failures must be positive, got: %d", s.MaxConsecutiveFailures)
	}
	return nil
}

func (c *Config) validateNATS() error {
	if !c.NATS.Enabled {
		return nil
	}
	if c.NATS.URL == "" {
		return fmt.Errorf("url is required when nats is enabled")
	}
	if c.NATS.MaxReconnects < -1 {
		return fmt.Errorf("max_reconnects must be -1 (unlimited) or non-negative, got: %d", c.NATS.MaxReconnects)
	}
	return nil
}

func (c *Config) validateLogging() error {
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level %s, must be one of: debug, info, warn, error", c.Logging.Level)
	}
	if c.Logging.MaxSizeMB <= 0 {
		return fmt.Errorf("max_size_mb must be positive, got: %d", c.Logging.MaxSizeMB)
	}
	return nil
}

func (c *Config) validateDevices() error {
	idsSeen := make(map[string]bool)

	for i := range c.Devices {
		d := &c.Devices[i]

		if err := d.Validate(); err != nil {
			return fmt.Errorf("device %d: %w", i, err)
		}

		if idsSeen[d.ID] {
			return fmt.Errorf("device %d: duplicate id %s", i, d.ID)
		}
		idsSeen[d.ID] = true
	}

	return nil
}

// Validate checks one device configuration in isolation (used both at load
// time and by the registry when a device is added or updated at runtime).
func (d *DeviceConfig) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("id is required")
	}
	if d.Host == "" {
		return fmt.Errorf("host is required")
	}
	if d.Port < 1 || d.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got: %d", d.Port)
	}
	if d.UnitID < 1 || d.UnitID > 255 {
		return fmt.Errorf("unit_id must be between 1 and 255, got: %d", d.UnitID)
	}
	if d.MaxRetries < 0 || d.MaxRetries > 10 {
		return fmt.Errorf("max_retries must be between 0 and 10, got: %d", d.MaxRetries)
	}
	if d.Socket.RecvBufferBytes != 0 && (d.Socket.RecvBufferBytes < 1024 || d.Socket.RecvBufferBytes > 64*1024) {
		return fmt.Errorf("socket.recv_buffer_bytes must be between 1KiB and 64KiB, got: %d", d.Socket.RecvBufferBytes)
	}
	if d.Socket.SendBufferBytes != 0 && (d.Socket.SendBufferBytes < 1024 || d.Socket.SendBufferBytes > 64*1024) {
		return fmt.Errorf("socket.send_buffer_bytes must be between 1KiB and 64KiB, got: %d", d.Socket.SendBufferBytes)
	}

	if len(d.Channels) == 0 {
		return fmt.Errorf("at least one channel must be configured")
	}

	numbersSeen := make(map[int]bool)
	for i := range d.Channels {
		ch := &d.Channels[i]
		if err := ch.Validate(); err != nil {
			return fmt.Errorf("channel %d: %w", i, err)
		}
		if numbersSeen[ch.Number] {
			return fmt.Errorf("channel %d: duplicate channel number %d", i, ch.Number)
		}
		numbersSeen[ch.Number] = true
	}

	return nil
}

// Validate checks one channel configuration in isolation.
func (ch *ChannelConfig) Validate() error {
	if ch.Number < 0 || ch.Number > 255 {
		return fmt.Errorf("number must be between 0 and 255, got: %d", ch.Number)
	}
	if ch.Name == "" {
		return fmt.Errorf("name is required")
	}
	if ch.StartRegister < 0 || ch.StartRegister > 65535 {
		return fmt.Errorf("start_register must be between 0 and 65535, got: %d", ch.StartRegister)
	}
	if ch.RegisterCount < 1 || ch.RegisterCount > 4 {
		return fmt.Errorf("register_count must be between 1 and 4, got: %d", ch.RegisterCount)
	}
	if ch.Min > ch.Max {
		return fmt.Errorf("min (%v) must not exceed max (%v)", ch.Min, ch.Max)
	}
	// Note: scale == 0 is a valid, distinct configuration that the
	// processor maps to ConfigurationError per reading rather than
	// a rejected configuration, since it can arise from a runtime update.
	return nil
}
