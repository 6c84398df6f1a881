package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the capture service.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site     SiteConfig     `yaml:"site"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Storage  StorageConfig  `yaml:"storage"`
	Database DatabaseConfig `yaml:"database"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// MQTTConfig contains broker connection and subscription settings.
type MQTTConfig struct {
	// Brokers is the candidate list tried in priority order (lowest first).
	Brokers []BrokerConfig `yaml:"brokers"`

	// URL is a runtime-injected endpoint (flag or environment). When set it
	// is tried before every configured broker.
	URL string `yaml:"url"`

	ClientID string         `yaml:"client_id"`
	Auth     MQTTAuthConfig `yaml:"auth"`
	QoS      int            `yaml:"qos"`

	// BaseTopic is the root of the device topic tree (e.g. "zigbee2mqtt").
	BaseTopic string `yaml:"base_topic"`

	// Subscriptions is the full topic set (re)issued on every connect.
	// Empty means "<base_topic>/#".
	Subscriptions []string `yaml:"subscriptions"`

	// ConnectTimeout bounds a single candidate connection attempt (seconds).
	ConnectTimeout int `yaml:"connect_timeout"`

	// DeviceListRequestTopic receives an empty publish shortly after connect
	// to ask the bridge for a fresh device list. Empty disables the request.
	DeviceListRequestTopic string `yaml:"device_list_request_topic"`

	// DeviceListDelay is the wait between connect and the refresh request (milliseconds).
	DeviceListDelay int `yaml:"device_list_delay"`

	// StatusTopic carries the retained online/offline status and LWT. Empty disables it.
	StatusTopic string `yaml:"status_topic"`

	// MessageBuffer is the capacity of the queue between the broker and the router.
	MessageBuffer int `yaml:"message_buffer"`

	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// BrokerConfig is one candidate broker endpoint.
type BrokerConfig struct {
	URL      string `yaml:"url"`
	Priority int    `yaml:"priority"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains reconnection settings for dropped connections.
type MQTTReconnectConfig struct {
	InitialDelay int     `yaml:"initial_delay"` // seconds
	Multiplier   float64 `yaml:"multiplier"`
	MaxDelay     int     `yaml:"max_delay"` // seconds
	MaxAttempts  int     `yaml:"max_attempts"`
}

// StorageConfig contains session directory and durability settings.
type StorageConfig struct {
	SessionsDir     string   `yaml:"sessions_dir"`
	BackupInterval  int      `yaml:"backup_interval"` // seconds
	BackupRetention int      `yaml:"backup_retention"`
	FlushEvery      int      `yaml:"flush_every"`
	FlushInterval   int      `yaml:"flush_interval"` // seconds
	DeviceDataCap   int      `yaml:"device_data_cap"`
	DeviceFileCap   int      `yaml:"device_file_cap"`
	ConsolidatedCap int      `yaml:"consolidated_cap"`
	CriticalFields  []string `yaml:"critical_fields"`
}

// DatabaseConfig contains SQLite catalog settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
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
// Environment variables follow the pattern: CAPTURE_SECTION_KEY
// For example: CAPTURE_MQTT_URL, CAPTURE_STORAGE_SESSIONS_DIR
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

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

// Default returns the built-in configuration with environment overrides
// applied. Used when no config file exists.
func Default() (*Config, error) {
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "site-001",
			Name: "Sensor Capture",
		},
		MQTT: MQTTConfig{
			Brokers: []BrokerConfig{
				{URL: "tcp://localhost:1883", Priority: 0},
			},
			ClientID:        "graylogic-capture",
			QoS:             0,
			BaseTopic:       "zigbee2mqtt",
			ConnectTimeout:  5,
			DeviceListDelay: 2000,
			MessageBuffer:   1024,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 5,
				Multiplier:   1.5,
				MaxDelay:     60,
				MaxAttempts:  10,
			},
		},
		Storage: StorageConfig{
			SessionsDir:     "./sessions",
			BackupInterval:  30,
			BackupRetention: 5,
			FlushEvery:      3,
			FlushInterval:   5,
			DeviceDataCap:   5000,
			DeviceFileCap:   10000,
			ConsolidatedCap: 20000,
			CriticalFields: []string{
				"temperature", "humidity", "occupancy", "presence",
				"illuminance", "contact", "battery",
			},
		},
		Database: DatabaseConfig{
			Path:        "./data/capture.db",
			WALMode:     true,
			BusyTimeout: 5,
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
// Environment variables follow the pattern: CAPTURE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// MQTT
	if v := os.Getenv("CAPTURE_MQTT_URL"); v != "" {
		cfg.MQTT.URL = v
	}
	if v := os.Getenv("CAPTURE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("CAPTURE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}
	if v := os.Getenv("CAPTURE_MQTT_BASE_TOPIC"); v != "" {
		cfg.MQTT.BaseTopic = v
	}
	if v := os.Getenv("CAPTURE_MQTT_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Reconnect.MaxAttempts = n
		}
	}

	// Storage
	if v := os.Getenv("CAPTURE_STORAGE_SESSIONS_DIR"); v != "" {
		cfg.Storage.SessionsDir = v
	}

	// Database
	if v := os.Getenv("CAPTURE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// InfluxDB
	if v := os.Getenv("CAPTURE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("CAPTURE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	// MQTT validation. An empty candidate list is allowed: the service then
	// runs with no sensor data.
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if strings.TrimSpace(c.MQTT.BaseTopic) == "" {
		errs = append(errs, "mqtt.base_topic is required")
	}
	if c.MQTT.URL != "" {
		if err := validateBrokerURL(c.MQTT.URL); err != nil {
			errs = append(errs, fmt.Sprintf("mqtt.url: %v", err))
		}
	}
	for i, b := range c.MQTT.Brokers {
		if err := validateBrokerURL(b.URL); err != nil {
			errs = append(errs, fmt.Sprintf("mqtt.brokers[%d].url: %v", i, err))
		}
	}
	if c.MQTT.ConnectTimeout < 1 {
		errs = append(errs, "mqtt.connect_timeout must be at least 1 second")
	}
	if c.MQTT.Reconnect.Multiplier < 1 {
		errs = append(errs, "mqtt.reconnect.multiplier must be >= 1")
	}
	if c.MQTT.Reconnect.MaxAttempts < 0 {
		errs = append(errs, "mqtt.reconnect.max_attempts must not be negative")
	}
	if c.MQTT.MessageBuffer < 1 {
		errs = append(errs, "mqtt.message_buffer must be at least 1")
	}

	// Storage validation
	if c.Storage.SessionsDir == "" {
		errs = append(errs, "storage.sessions_dir is required")
	}
	if c.Storage.BackupInterval < 1 {
		errs = append(errs, "storage.backup_interval must be at least 1 second")
	}
	if c.Storage.BackupRetention < 1 {
		errs = append(errs, "storage.backup_retention must be at least 1")
	}
	if c.Storage.FlushEvery < 1 {
		errs = append(errs, "storage.flush_every must be at least 1")
	}
	if c.Storage.DeviceDataCap < 1 || c.Storage.DeviceFileCap < 1 || c.Storage.ConsolidatedCap < 1 {
		errs = append(errs, "storage caps must be positive")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// validateBrokerURL checks a broker endpoint has a scheme paho understands.
func validateBrokerURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "tcp", "mqtt", "ssl", "tls", "mqtts", "ws", "wss":
	default:
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}

// GetConnectTimeout returns the per-candidate connect timeout as a Duration.
func (c MQTTConfig) GetConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeout) * time.Second
}

// GetDeviceListDelay returns the post-connect device list delay as a Duration.
func (c MQTTConfig) GetDeviceListDelay() time.Duration {
	return time.Duration(c.DeviceListDelay) * time.Millisecond
}

// GetSubscriptions returns the subscription set, defaulting to the whole base tree.
func (c MQTTConfig) GetSubscriptions() []string {
	if len(c.Subscriptions) > 0 {
		return c.Subscriptions
	}
	return []string{strings.TrimSuffix(c.BaseTopic, "/") + "/#"}
}

// GetDeviceListRequestTopic returns the topic used to request a device list refresh.
func (c MQTTConfig) GetDeviceListRequestTopic() string {
	if c.DeviceListRequestTopic != "" {
		return c.DeviceListRequestTopic
	}
	return strings.TrimSuffix(c.BaseTopic, "/") + "/bridge/request/devices"
}

// GetBackupInterval returns the periodic backup interval as a Duration.
func (c StorageConfig) GetBackupInterval() time.Duration {
	return time.Duration(c.BackupInterval) * time.Second
}

// GetFlushInterval returns the maximum time between primary-file flushes.
func (c StorageConfig) GetFlushInterval() time.Duration {
	return time.Duration(c.FlushInterval) * time.Second
}
