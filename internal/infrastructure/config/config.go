package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the fish feeder client.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Device    DeviceConfig    `yaml:"device"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Database  DatabaseConfig  `yaml:"database"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// DeviceConfig identifies the single feeder this client talks to.
type DeviceConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker MQTTBrokerConfig `yaml:"broker"`
	Topics MQTTTopicsConfig `yaml:"topics"`

	// KeepAlive is the MQTT keepalive interval in seconds.
	KeepAlive int `yaml:"keepalive"`

	// ReconnectIntervalMs is the fixed wait between connection attempts.
	ReconnectIntervalMs int `yaml:"reconnect_interval_ms"`

	// ConnectTimeoutMs bounds a single connection handshake.
	ConnectTimeoutMs int `yaml:"connect_timeout_ms"`

	// CleanSession asks the broker to discard session state on every connect.
	CleanSession bool `yaml:"clean_session"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	// URL is the broker endpoint, e.g. "tcp://localhost:1883" or
	// "wss://broker.emqx.io:8084/mqtt".
	URL string `yaml:"url"`

	// ClientIDPrefix is prepended to the random suffix generated per attempt.
	ClientIDPrefix string `yaml:"client_id_prefix"`
}

// MQTTTopicsConfig names the feeder topics.
type MQTTTopicsConfig struct {
	Level    string `yaml:"level"`
	LastFeed string `yaml:"last_feed"`
	Status   string `yaml:"status"`
	Manual   string `yaml:"manual"`
}

// DatabaseConfig contains SQLite settings for the dispatch log.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings for diagnostics.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: FISHFEEDER_SECTION_KEY
// For example: FISHFEEDER_MQTT_URL, FISHFEEDER_DATABASE_PATH
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config with the defaults of the original feeder app:
// the public EMQX websocket endpoint, 30s keepalive and a 4s reconnect period.
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			ID:   "feeder-01",
			Name: "Fish Feeder",
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				URL:            "wss://broker.emqx.io:8084/mqtt",
				ClientIDPrefix: "rn_feeder_",
			},
			Topics: MQTTTopicsConfig{
				Level:    "feed/level",
				LastFeed: "feed/last",
				Status:   "feed/status",
				Manual:   "feed/manual",
			},
			KeepAlive:           30,
			ReconnectIntervalMs: 4000,
			ConnectTimeoutMs:    30000,
			CleanSession:        true,
		},
		Database: DatabaseConfig{
			Enabled:     true,
			Path:        "./data/fishfeeder.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FISHFEEDER_MQTT_URL"); v != "" {
		cfg.MQTT.Broker.URL = v
	}
	if v := os.Getenv("FISHFEEDER_MQTT_CLIENT_ID_PREFIX"); v != "" {
		cfg.MQTT.Broker.ClientIDPrefix = v
	}

	if v := os.Getenv("FISHFEEDER_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("FISHFEEDER_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	if v := os.Getenv("FISHFEEDER_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
// All problems are collected and reported together.
func (c *Config) Validate() error {
	var errs []string

	if c.Device.ID == "" {
		errs = append(errs, "device.id is required")
	}

	errs = append(errs, c.MQTT.validate()...)

	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when database is enabled")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// validate checks the MQTT section.
func (m MQTTConfig) validate() []string {
	var errs []string

	if m.Broker.URL == "" {
		errs = append(errs, "mqtt.broker.url is required")
	} else if u, err := url.Parse(m.Broker.URL); err != nil || u.Host == "" {
		errs = append(errs, "mqtt.broker.url must be an absolute URI")
	} else {
		switch u.Scheme {
		case "tcp", "mqtt", "ssl", "tls", "mqtts", "ws", "wss":
		default:
			errs = append(errs, fmt.Sprintf("mqtt.broker.url scheme %q is not supported", u.Scheme))
		}
	}

	if m.KeepAlive < 0 {
		errs = append(errs, "mqtt.keepalive cannot be negative")
	}
	if m.ReconnectIntervalMs <= 0 {
		errs = append(errs, "mqtt.reconnect_interval_ms must be positive")
	}
	if m.ConnectTimeoutMs <= 0 {
		errs = append(errs, "mqtt.connect_timeout_ms must be positive")
	}

	if m.Topics.Level == "" || m.Topics.LastFeed == "" || m.Topics.Status == "" || m.Topics.Manual == "" {
		errs = append(errs, "mqtt.topics must name level, last_feed, status and manual")
	}

	return errs
}

// KeepAliveDuration returns the keepalive interval as a Duration.
func (m MQTTConfig) KeepAliveDuration() time.Duration {
	return time.Duration(m.KeepAlive) * time.Second
}

// ReconnectInterval returns the fixed reconnect wait as a Duration.
func (m MQTTConfig) ReconnectInterval() time.Duration {
	return time.Duration(m.ReconnectIntervalMs) * time.Millisecond
}

// ConnectTimeout returns the handshake timeout as a Duration.
func (m MQTTConfig) ConnectTimeout() time.Duration {
	return time.Duration(m.ConnectTimeoutMs) * time.Millisecond
}

// ReadTimeout returns the API read timeout as a Duration.
func (a APIConfig) ReadTimeout() time.Duration {
	return time.Duration(a.Timeouts.Read) * time.Second
}

// WriteTimeout returns the API write timeout as a Duration.
func (a APIConfig) WriteTimeout() time.Duration {
	return time.Duration(a.Timeouts.Write) * time.Second
}

// IdleTimeout returns the API idle timeout as a Duration.
func (a APIConfig) IdleTimeout() time.Duration {
	return time.Duration(a.Timeouts.Idle) * time.Second
}

