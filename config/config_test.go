package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func sampleConfig() *Config {
	return &Config{
		App: AppConfig{Name: "adam-poller", InstanceID: "test"},
		Service: ServiceConfig{
			PollIntervalMs:         1000,
			HealthCheckIntervalMs:  30000,
			MaxConcurrentDevices:   5,
			DataBufferSize:         64,
			BatchSize:              100,
			BatchTimeoutMs:         5000,
			MaxConsecutiveFailures: 3,
			DeviceTimeoutMs:        3000,
		},
		Logging: LoggingConfig{BasePath: os.TempDir(), MaxSizeMB: 10, Level: "info"},
		Devices: []DeviceConfig{
			{
				ID: "ADAM_001", Host: "192.168.1.100", Port: 502, UnitID: 1,
				TimeoutMs: 3000, MaxRetries: 3, RetryDelayMs: 1000,
				Enabled: true,
				Channels: []ChannelConfig{
					{Number: 0, Name: "prod_counter", StartRegister: 0, RegisterCount: 2, Scale: 1, Max: 4294967295, Enabled: true},
				},
			},
		},
	}
}

func TestLoadAppliesDefaultsAndValidates(t *testing.T) {
	cfg := sampleConfig()
	cfg.Service.PollIntervalMs = 0 // force default path

	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if loaded.Service.PollIntervalMs != 1000 {
		t.Errorf("expected default poll interval 1000, got %d", loaded.Service.PollIntervalMs)
	}
	if loaded.App.Name != "adam-poller" {
		t.Errorf("unexpected app name: %s", loaded.App.Name)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	cfg := sampleConfig()
	cfg.Devices[0].Port = 70000 // out of range

	data, _ := json.Marshal(cfg)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	os.WriteFile(path, data, 0644)

	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for invalid port")
	}
}

func TestSocketKeepaliveDefaultsOn(t *testing.T) {
	cfg := sampleConfig()
	data, _ := json.Marshal(cfg)

	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	os.WriteFile(path, data, 0644)

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	sock := loaded.Devices[0].Socket
	if sock.Keepalive == nil || !*sock.Keepalive {
		t.Fatalf("expected keepalive to default on, got %v", sock.Keepalive)
	}
	if !sock.KeepaliveEnabled() {
		t.Fatalf("expected KeepaliveEnabled() true by default")
	}
	if sock.Nagle {
		t.Fatalf("expected Nagle to default off")
	}
}

func TestSocketKeepaliveExplicitOffSurvivesDefaults(t *testing.T) {
	cfg := sampleConfig()
	off := false
	cfg.Devices[0].Socket.Keepalive = &off

	cfg.setDefaults()

	sock := cfg.Devices[0].Socket
	if sock.Keepalive == nil || *sock.Keepalive {
		t.Fatalf("expected explicit keepalive=false to survive defaulting, got %v", sock.Keepalive)
	}
	if sock.KeepaliveEnabled() {
		t.Fatalf("expected KeepaliveEnabled() false when explicitly disabled")
	}
}

func TestSaveRoundTrips(t *testing.T) {
	cfg := sampleConfig()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load after Save: %v", err)
	}
	if loaded.Devices[0].ID != "ADAM_001" {
		t.Errorf("device id not preserved across save/load: %s", loaded.Devices[0].ID)
	}
}
