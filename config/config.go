// Package config loads and validates the acquisition service's configuration:
// device and channel definitions, and service-wide tuning knobs.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Config is the root configuration structure.
type Config struct {
	App        AppConfig        `json:"app"`
	Service    ServiceConfig    `json:"service"`
	NATS       NATSConfig       `json:"nats"`
	Logging    LoggingConfig    `json:"logging"`
	Monitoring MonitoringConfig `json:"monitoring"`
	Devices    []DeviceConfig   `json:"devices"`
}

// AppConfig contains application-level settings.
type AppConfig struct {
	Name       string `json:"name"`
	InstanceID string `json:"instance_id"`
}

// ServiceConfig contains scheduler and pipeline tuning.
type ServiceConfig struct {
	PollIntervalMs         int `json:"poll_interval_ms"`
	HealthCheckIntervalMs  int `json:"health_check_interval_ms"`
	MaxConcurrentDevices   int `json:"max_concurrent_devices"`
	DataBufferSize         int `json:"data_buffer_size"`
	BatchSize              int `json:"batch_size"`
	BatchTimeoutMs         int `json:"batch_timeout_ms"`
	MaxConsecutiveFailures int `json:"max_consecutive_failures"`
	DeviceTimeoutMs        int `json:"device_timeout_ms"`
}

func (s *ServiceConfig) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalMs) * time.Millisecond
}

func (s *ServiceConfig) HealthCheckInterval() time.Duration {
	return time.Duration(s.HealthCheckIntervalMs) * time.Millisecond
}

func (s *ServiceConfig) BatchTimeout() time.Duration {
	return time.Duration(s.BatchTimeoutMs) * time.Millisecond
}

func (s *ServiceConfig) DeviceTimeout() time.Duration {
	return time.Duration(s.DeviceTimeoutMs) * time.Millisecond
}

// NATSConfig contains NATS connection settings used by the stream hub bridge
// and the JetStream-backed sink.
type NATSConfig struct {
	URL              string `json:"url"`
	SubjectPrefix    string `json:"subject_prefix"`
	MaxReconnects    int    `json:"max_reconnects"`
	ReconnectWaitSec int    `json:"reconnect_wait_sec"`
	Enabled          bool   `json:"enabled"`
}

func (n *NATSConfig) ReconnectWait() time.Duration {
	return time.Duration(n.ReconnectWaitSec) * time.Second
}

// LoggingConfig contains logging and log rotation settings.
type LoggingConfig struct {
	BasePath        string `json:"base_path"`
	MaxSizeMB       int    `json:"max_size_mb"`
	MaxBackups      int    `json:"max_backups"`
	Compress        bool   `json:"compress"`
	Level           string `json:"level"`
	RawTraceEnabled bool   `json:"raw_trace_enabled"`
}

// MonitoringConfig controls the HTTP status/metrics/SSE server.
type MonitoringConfig struct {
	Enabled  bool   `json:"enabled"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// SocketConfig carries the TCP tuning knobs for a device session.
// Keepalive is a pointer so an omitted field is distinguishable from an
// explicit "keepalive": false; setDefaults resolves nil to on.
type SocketConfig struct {
	RecvBufferBytes int   `json:"recv_buffer_bytes"`
	SendBufferBytes int   `json:"send_buffer_bytes"`
	Keepalive       *bool `json:"keepalive,omitempty"`
	Nagle           bool  `json:"nagle"`
}

// KeepaliveEnabled reports the resolved keepalive setting: on unless the
// configuration explicitly disabled it.
func (s *SocketConfig) KeepaliveEnabled() bool {
	return s.Keepalive == nil || *s.Keepalive
}

// DeviceConfig describes one Modbus/TCP counter device.
type DeviceConfig struct {
	ID                string            `json:"id"`
	Host              string            `json:"host"`
	Port              int               `json:"port"`
	UnitID            int               `json:"unit_id"`
	TimeoutMs         int               `json:"timeout_ms"`
	MaxRetries        int               `json:"max_retries"`
	RetryDelayMs      int               `json:"retry_delay_ms"`
	Socket            SocketConfig      `json:"socket"`
	RateWindowSec     int               `json:"rate_window_sec"`
	OverflowThreshold int64             `json:"overflow_threshold"`
	Tags              map[string]string `json:"tags"`
	Channels          []ChannelConfig   `json:"channels"`
	Enabled           bool              `json:"enabled"`
}

func (d *DeviceConfig) Timeout() time.Duration {
	return time.Duration(d.TimeoutMs) * time.Millisecond
}

func (d *DeviceConfig) RetryDelay() time.Duration {
	return time.Duration(d.RetryDelayMs) * time.Millisecond
}

func (d *DeviceConfig) RateWindow() time.Duration {
	return time.Duration(d.RateWindowSec) * time.Second
}

// ChannelConfig describes one logical measurement on a device.
type ChannelConfig struct {
	Number          int               `json:"number"`
	Name            string            `json:"name"`
	Description     string            `json:"description"`
	Enabled         bool              `json:"enabled"`
	StartRegister   int               `json:"start_register"`
	RegisterCount   int               `json:"register_count"`
	Scale           float64           `json:"scale"`
	Offset          float64           `json:"offset"`
	Unit            string            `json:"unit"`
	DecimalPlaces   int               `json:"decimal_places"`
	Min             float64           `json:"min"`
	Max             float64           `json:"max"`
	MaxRateOfChange float64           `json:"max_rate_of_change"`
	Tags            map[string]string `json:"tags"`
}

// defaultOverflowThreshold is the default 32-bit counter wrap boundary.
const defaultOverflowThreshold int64 = 4294967295

// Load reads, defaults, and validates the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults fills in default values for optional fields.
func (c *Config) setDefaults() {
	if c.App.Name == "" {
		c.App.Name = "adam-poller"
	}
	if c.App.InstanceID == "" {
		c.App.InstanceID = "default"
	}

	if c.Service.PollIntervalMs == 0 {
		c.Service.PollIntervalMs = 1000
	}
	if c.Service.HealthCheckIntervalMs == 0 {
		c.Service.HealthCheckIntervalMs = 30000
	}
	if c.Service.MaxConcurrentDevices == 0 {
		c.Service.MaxConcurrentDevices = 5
	}
	if c.Service.DataBufferSize == 0 {
		c.Service.DataBufferSize = 256
	}
	if c.Service.BatchSize == 0 {
		c.Service.BatchSize = 100
	}
	if c.Service.BatchTimeoutMs == 0 {
		c.Service.BatchTimeoutMs = 5000
	}
	if c.Service.MaxConsecutiveFailures == 0 {
		c.Service.MaxConsecutiveFailures = 3
	}
	if c.Service.DeviceTimeoutMs == 0 {
		c.Service.DeviceTimeoutMs = 3000
	}

	if c.NATS.URL == "" {
		c.NATS.URL = "nats://localhost:4222"
	}
	if c.NATS.SubjectPrefix == "" {
		c.NATS.SubjectPrefix = "adam"
	}
	if c.NATS.MaxReconnects == 0 {
		c.NATS.MaxReconnects = 10
	}
	if c.NATS.ReconnectWaitSec == 0 {
		c.NATS.ReconnectWaitSec = 5
	}

	if c.Logging.BasePath == "" {
		c.Logging.BasePath = "/var/log/adam-poller"
	}
	if c.Logging.MaxSizeMB == 0 {
		c.Logging.MaxSizeMB = 50
	}
	if c.Logging.MaxBackups == 0 {
		c.Logging.MaxBackups = 10
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}

	if c.Monitoring.Port == 0 {
		c.Monitoring.Port = 8090
	}

	for i := range c.Devices {
		c.Devices[i].setDefaults()
	}
}

func (d *DeviceConfig) setDefaults() {
	if d.Port == 0 {
		d.Port = 502
	}
	if d.UnitID == 0 {
		d.UnitID = 1
	}
	if d.TimeoutMs == 0 {
		d.TimeoutMs = 3000
	}
	if d.RetryDelayMs == 0 {
		d.RetryDelayMs = 1000
	}
	if d.RateWindowSec == 0 {
		d.RateWindowSec = 300
	}
	if d.OverflowThreshold == 0 {
		d.OverflowThreshold = defaultOverflowThreshold
	}
	if d.Socket.RecvBufferBytes == 0 {
		d.Socket.RecvBufferBytes = 8 * 1024
	}
	if d.Socket.SendBufferBytes == 0 {
		d.Socket.SendBufferBytes = 8 * 1024
	}
	// Keepalive defaults on, Nagle defaults off (the JSON zero value).
	if d.Socket.Keepalive == nil {
		on := true
		d.Socket.Keepalive = &on
	}
	if d.Tags == nil {
		d.Tags = map[string]string{}
	}
	for i := range d.Channels {
		d.Channels[i].setDefaults()
	}
}

// ApplyDefaults fills in default values on a device configuration that
// arrived outside the normal Load path (a runtime add or update).
func (d *DeviceConfig) ApplyDefaults() { d.setDefaults() }

func (ch *ChannelConfig) setDefaults() {
	if ch.RegisterCount == 0 {
		ch.RegisterCount = 1
	}
	if ch.Max == 0 {
		ch.Max = float64(defaultOverflowThreshold)
	}
	if ch.Tags == nil {
		ch.Tags = map[string]string{}
	}
}

// Save writes the configuration to a file atomically.
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp config file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename config file: %w", err)
	}

	return nil
}
