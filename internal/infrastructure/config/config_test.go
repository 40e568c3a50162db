package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_ValidConfig(t *testing.T) {
	content := `
device:
  id: "pond-feeder"
mqtt:
  broker:
    url: "tcp://localhost:1883"
    client_id_prefix: "test_"
  keepalive: 15
  reconnect_interval_ms: 1000
database:
  path: "/tmp/test.db"
api:
  host: "127.0.0.1"
  port: 9090
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Device.ID != "pond-feeder" {
		t.Errorf("Device.ID = %q, want %q", cfg.Device.ID, "pond-feeder")
	}
	if cfg.MQTT.Broker.URL != "tcp://localhost:1883" {
		t.Errorf("MQTT.Broker.URL = %q, want %q", cfg.MQTT.Broker.URL, "tcp://localhost:1883")
	}
	if cfg.MQTT.ReconnectInterval() != time.Second {
		t.Errorf("ReconnectInterval() = %v, want 1s", cfg.MQTT.ReconnectInterval())
	}

	// Values not present in the file keep their defaults.
	if cfg.MQTT.ConnectTimeoutMs != 30000 {
		t.Errorf("MQTT.ConnectTimeoutMs = %d, want 30000", cfg.MQTT.ConnectTimeoutMs)
	}
	if cfg.MQTT.Topics.Manual != "feed/manual" {
		t.Errorf("MQTT.Topics.Manual = %q, want feed/manual", cfg.MQTT.Topics.Manual)
	}
	if !cfg.MQTT.CleanSession {
		t.Error("MQTT.CleanSession = false, want default true")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("invalid: [yaml: content"), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	content := `
device:
  id: ""
mqtt:
  reconnect_interval_ms: 0
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() expected validation error, got nil")
	}

	// Both problems are reported together.
	for _, want := range []string{"device.id", "reconnect_interval_ms"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "defaults are valid",
			mutate:  func(*Config) {},
			wantErr: false,
		},
		{
			name:    "missing device ID",
			mutate:  func(c *Config) { c.Device.ID = "" },
			wantErr: true,
		},
		{
			name:    "missing broker URL",
			mutate:  func(c *Config) { c.MQTT.Broker.URL = "" },
			wantErr: true,
		},
		{
			name:    "relative broker URL",
			mutate:  func(c *Config) { c.MQTT.Broker.URL = "broker.local" },
			wantErr: true,
		},
		{
			name:    "unsupported scheme",
			mutate:  func(c *Config) { c.MQTT.Broker.URL = "http://broker.local:80" },
			wantErr: true,
		},
		{
			name:    "websocket scheme",
			mutate:  func(c *Config) { c.MQTT.Broker.URL = "ws://broker.local:8083/mqtt" },
			wantErr: false,
		},
		{
			name:    "negative keepalive",
			mutate:  func(c *Config) { c.MQTT.KeepAlive = -1 },
			wantErr: true,
		},
		{
			name:    "zero connect timeout",
			mutate:  func(c *Config) { c.MQTT.ConnectTimeoutMs = 0 },
			wantErr: true,
		},
		{
			name:    "missing manual topic",
			mutate:  func(c *Config) { c.MQTT.Topics.Manual = "" },
			wantErr: true,
		},
		{
			name:    "missing database path when enabled",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: true,
		},
		{
			name: "missing database path when disabled",
			mutate: func(c *Config) {
				c.Database.Enabled = false
				c.Database.Path = ""
			},
			wantErr: false,
		},
		{
			name:    "invalid port low",
			mutate:  func(c *Config) { c.API.Port = 0 },
			wantErr: true,
		},
		{
			name:    "invalid port high",
			mutate:  func(c *Config) { c.API.Port = 70000 },
			wantErr: true,
		},
		{
			name:    "influxdb enabled without URL",
			mutate:  func(c *Config) { c.InfluxDB.Enabled = true },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMQTTConfig_Durations(t *testing.T) {
	m := MQTTConfig{KeepAlive: 30, ReconnectIntervalMs: 4000, ConnectTimeoutMs: 30000}

	if got := m.KeepAliveDuration(); got != 30*time.Second {
		t.Errorf("KeepAliveDuration() = %v, want 30s", got)
	}
	if got := m.ReconnectInterval(); got != 4*time.Second {
		t.Errorf("ReconnectInterval() = %v, want 4s", got)
	}
	if got := m.ConnectTimeout(); got != 30*time.Second {
		t.Errorf("ConnectTimeout() = %v, want 30s", got)
	}
}

func TestAPIConfig_Timeouts(t *testing.T) {
	api := APIConfig{
		Timeouts: APITimeoutConfig{
			Read:  30,
			Write: 45,
			Idle:  60,
		},
	}

	if got := api.ReadTimeout(); got != 30*time.Second {
		t.Errorf("ReadTimeout() = %v, want 30s", got)
	}

	if got := api.WriteTimeout(); got != 45*time.Second {
		t.Errorf("WriteTimeout() = %v, want 45s", got)
	}

	if got := api.IdleTimeout(); got != 60*time.Second {
		t.Errorf("IdleTimeout() = %v, want 60s", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := Default()

	t.Setenv("FISHFEEDER_MQTT_URL", "tcp://mqtt.example.com:1883")
	t.Setenv("FISHFEEDER_MQTT_CLIENT_ID_PREFIX", "kiosk_")
	t.Setenv("FISHFEEDER_DATABASE_PATH", "/custom/path.db")
	t.Setenv("FISHFEEDER_API_HOST", "192.168.1.1")
	t.Setenv("FISHFEEDER_INFLUXDB_TOKEN", "secret-token")

	applyEnvOverrides(cfg)

	if cfg.MQTT.Broker.URL != "tcp://mqtt.example.com:1883" {
		t.Errorf("MQTT.Broker.URL = %q, want %q", cfg.MQTT.Broker.URL, "tcp://mqtt.example.com:1883")
	}
	if cfg.MQTT.Broker.ClientIDPrefix != "kiosk_" {
		t.Errorf("MQTT.Broker.ClientIDPrefix = %q, want %q", cfg.MQTT.Broker.ClientIDPrefix, "kiosk_")
	}
	if cfg.Database.Path != "/custom/path.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/custom/path.db")
	}
	if cfg.API.Host != "192.168.1.1" {
		t.Errorf("API.Host = %q, want %q", cfg.API.Host, "192.168.1.1")
	}
	if cfg.InfluxDB.Token != "secret-token" {
		t.Errorf("InfluxDB.Token = %q, want %q", cfg.InfluxDB.Token, "secret-token")
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.MQTT.Broker.URL != "wss://broker.emqx.io:8084/mqtt" {
		t.Errorf("default broker URL = %q", cfg.MQTT.Broker.URL)
	}
	if cfg.MQTT.Broker.ClientIDPrefix != "rn_feeder_" {
		t.Errorf("default client ID prefix = %q", cfg.MQTT.Broker.ClientIDPrefix)
	}
	if cfg.MQTT.KeepAlive != 30 {
		t.Errorf("default keepalive = %d, want 30", cfg.MQTT.KeepAlive)
	}
	if cfg.MQTT.ReconnectIntervalMs != 4000 {
		t.Errorf("default reconnect interval = %d, want 4000", cfg.MQTT.ReconnectIntervalMs)
	}
	if cfg.API.Port != 8080 {
		t.Errorf("default API.Port = %d, want 8080", cfg.API.Port)
	}
}
