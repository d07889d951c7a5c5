// Package config holds the daemon configuration: device identity, bus
// connection settings, and manager tuning. Configuration loads from a JSON
// or YAML file, with defaults suitable for a single-device deployment.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	sicerrors "github.com/WouterBesse/social-interaction-cloud/errors"
)

// Config represents the complete daemon configuration.
type Config struct {
	Device  DeviceConfig  `json:"device" yaml:"device"`
	NATS    NATSConfig    `json:"nats" yaml:"nats"`
	Manager ManagerConfig `json:"manager" yaml:"manager"`
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`
}

// DeviceConfig defines the device identity. When Address is empty the daemon
// resolves the device's primary IP at startup.
type DeviceConfig struct {
	Address string `json:"address,omitempty" yaml:"address,omitempty"`
	Name    string `json:"name,omitempty" yaml:"name,omitempty"`
}

// NATSConfig defines bus connection settings.
type NATSConfig struct {
	URL            string        `json:"url,omitempty" yaml:"url,omitempty"`
	Username       string        `json:"username,omitempty" yaml:"username,omitempty"`
	Password       string        `json:"password,omitempty" yaml:"password,omitempty"`
	Token          string        `json:"token,omitempty" yaml:"token,omitempty"`
	MaxReconnects  int           `json:"max_reconnects,omitempty" yaml:"max_reconnects,omitempty"`
	ConnectTimeout time.Duration `json:"connect_timeout,omitempty" yaml:"connect_timeout,omitempty"`
	RequestTimeout time.Duration `json:"request_timeout,omitempty" yaml:"request_timeout,omitempty"`
	TLS            TLSConfig     `json:"tls,omitempty" yaml:"tls,omitempty"`
}

// TLSConfig for secure bus connections.
type TLSConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	CertFile string `json:"cert_file,omitempty" yaml:"cert_file,omitempty"`
	KeyFile  string `json:"key_file,omitempty" yaml:"key_file,omitempty"`
	CAFile   string `json:"ca_file,omitempty" yaml:"ca_file,omitempty"`
}

// ManagerConfig tunes the component manager.
type ManagerConfig struct {
	PollInterval   time.Duration `json:"poll_interval,omitempty" yaml:"poll_interval,omitempty"`
	StartupTimeout time.Duration `json:"startup_timeout,omitempty" yaml:"startup_timeout,omitempty"`
	ShutdownGrace  time.Duration `json:"shutdown_grace,omitempty" yaml:"shutdown_grace,omitempty"`
	MaxInstances   int           `json:"max_instances,omitempty" yaml:"max_instances,omitempty"`
	RequestsPerSec float64       `json:"requests_per_sec,omitempty" yaml:"requests_per_sec,omitempty"`
	RequestBurst   int           `json:"request_burst,omitempty" yaml:"request_burst,omitempty"`
	Singleton      bool          `json:"singleton" yaml:"singleton"`
}

// MetricsConfig controls the Prometheus scrape endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Port    int    `json:"port,omitempty" yaml:"port,omitempty"`
	Path    string `json:"path,omitempty" yaml:"path,omitempty"`
}

// Default values applied when fields are unset.
const (
	DefaultNATSURL        = "nats://localhost:4222"
	DefaultPollInterval   = 100 * time.Millisecond
	DefaultStartupTimeout = 10 * time.Second
	DefaultShutdownGrace  = 5 * time.Second
	DefaultRequestBurst   = 1
	DefaultMetricsPort    = 9090
	DefaultMetricsPath    = "/metrics"
)

// Default returns a configuration populated with defaults.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.NATS.URL == "" {
		c.NATS.URL = DefaultNATSURL
	}
	if c.NATS.MaxReconnects == 0 {
		c.NATS.MaxReconnects = -1
	}
	if c.NATS.ConnectTimeout == 0 {
		c.NATS.ConnectTimeout = 10 * time.Second
	}
	if c.NATS.RequestTimeout == 0 {
		c.NATS.RequestTimeout = 5 * time.Second
	}
	if c.Manager.PollInterval == 0 {
		c.Manager.PollInterval = DefaultPollInterval
	}
	if c.Manager.StartupTimeout == 0 {
		c.Manager.StartupTimeout = DefaultStartupTimeout
	}
	if c.Manager.ShutdownGrace == 0 {
		c.Manager.ShutdownGrace = DefaultShutdownGrace
	}
	if c.Manager.RequestBurst == 0 {
		c.Manager.RequestBurst = DefaultRequestBurst
	}
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}

// Load reads a config file, applies defaults, and validates the result.
// Files ending in .yaml or .yml parse as YAML, anything else as JSON.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, sicerrors.WrapInvalid(err, "config", "Load", "read file")
	}

	cfg := &Config{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, sicerrors.WrapInvalid(err, "config", "Load", "parse yaml")
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, sicerrors.WrapInvalid(err, "config", "Load", "parse json")
		}
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks if the config is valid.
func (c *Config) Validate() error {
	if c.NATS.URL == "" {
		return fmt.Errorf("config.Validate: %w: nats.url is required",
			sicerrors.ErrMissingConfig)
	}

	if c.NATS.TLS.Enabled {
		if c.NATS.TLS.CertFile == "" || c.NATS.TLS.KeyFile == "" {
			return fmt.Errorf(
				"config.Validate: %w: tls cert_file and key_file are required when tls is enabled",
				sicerrors.ErrMissingConfig)
		}
		if _, err := os.Stat(c.NATS.TLS.CertFile); err != nil {
			return fmt.Errorf("config.Validate: %w: tls.cert_file: %v",
				sicerrors.ErrInvalidConfig, err)
		}
		if _, err := os.Stat(c.NATS.TLS.KeyFile); err != nil {
			return fmt.Errorf("config.Validate: %w: tls.key_file: %v",
				sicerrors.ErrInvalidConfig, err)
		}
	}

	if c.Manager.PollInterval <= 0 {
		return fmt.Errorf("config.Validate: %w: manager.poll_interval must be positive",
			sicerrors.ErrInvalidConfig)
	}
	if c.Manager.StartupTimeout <= 0 {
		return fmt.Errorf("config.Validate: %w: manager.startup_timeout must be positive",
			sicerrors.ErrInvalidConfig)
	}
	if c.Manager.ShutdownGrace < 0 {
		return fmt.Errorf("config.Validate: %w: manager.shutdown_grace cannot be negative",
			sicerrors.ErrInvalidConfig)
	}
	if c.Manager.MaxInstances < 0 {
		return fmt.Errorf("config.Validate: %w: manager.max_instances cannot be negative",
			sicerrors.ErrInvalidConfig)
	}
	if c.Manager.RequestsPerSec < 0 {
		return fmt.Errorf("config.Validate: %w: manager.requests_per_sec cannot be negative",
			sicerrors.ErrInvalidConfig)
	}
	if c.Manager.RequestBurst < 0 {
		return fmt.Errorf("config.Validate: %w: manager.request_burst cannot be negative",
			sicerrors.ErrInvalidConfig)
	}

	if c.Metrics.Enabled {
		if c.Metrics.Port <= 0 || c.Metrics.Port > 65535 {
			return fmt.Errorf("config.Validate: %w: metrics.port must be in 1..65535",
				sicerrors.ErrInvalidConfig)
		}
	}

	return nil
}

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	if c == nil {
		return &Config{}
	}

	data, err := json.Marshal(c)
	if err != nil {
		copied := *c
		return &copied
	}

	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		copied := *c
		return &copied
	}

	return &clone
}
