package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/c360/agentruntime/errors"
)

// Duration is a time.Duration that unmarshals from either a JSON number
// of nanoseconds or a string like "5s"
type Duration time.Duration

// UnmarshalJSON implements json.Unmarshaler
func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case float64:
		*d = Duration(time.Duration(v))
		return nil
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		*d = Duration(parsed)
		return nil
	default:
		return fmt.Errorf("duration must be a number or string, got %T", raw)
	}
}

// MarshalJSON implements json.Marshaler
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Std returns the value as a time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Store backend constants
const (
	StoreBackendMemory = "memory" // non-durable, for tests and demos
	StoreBackendFile   = "file"   // single JSON snapshot file
	StoreBackendNATS   = "nats"   // NATS JetStream key-value bucket
)

// Config is the complete application configuration for an agent runtime
// host process
type Config struct {
	Runtime  RuntimeConfig  `json:"runtime"`
	Registry RegistryConfig `json:"registry"`
	Store    StoreConfig    `json:"store"`
	NATS     NATSConfig     `json:"nats,omitempty"`
	Metrics  MetricsConfig  `json:"metrics,omitempty"`
}

// RuntimeConfig tunes the message router
type RuntimeConfig struct {
	// DeliverToSelf lets publications reach the agent that published them
	DeliverToSelf bool `json:"deliver_to_self"`
	// StopTimeout bounds each agent's mailbox drain during shutdown
	StopTimeout Duration `json:"stop_timeout,omitempty"`
}

// RegistryConfig tunes the registry's optimistic write cycle
type RegistryConfig struct {
	// MaxWriteAttempts caps compare-and-swap retries per mutation
	MaxWriteAttempts int `json:"max_write_attempts,omitempty"`
	// WriteRetryDelay is the initial backoff between conflicting writes
	WriteRetryDelay Duration `json:"write_retry_delay,omitempty"`
}

// StoreConfig selects and configures the registry's state store
type StoreConfig struct {
	// Backend is one of memory, file, nats
	Backend string `json:"backend"`
	// Path is the snapshot file for the file backend
	Path string `json:"path,omitempty"`
	// Bucket is the KV bucket for the nats backend
	Bucket string `json:"bucket,omitempty"`
	// Key is the KV entry holding the snapshot for the nats backend
	Key string `json:"key,omitempty"`
}

// NATSConfig defines the NATS connection for the nats store backend
type NATSConfig struct {
	URL           string        `json:"url,omitempty"`
	MaxReconnects int           `json:"max_reconnects,omitempty"`
	ReconnectWait Duration `json:"reconnect_wait,omitempty"`
	Username      string        `json:"username,omitempty"`
	Password      string        `json:"password,omitempty"`
	Token         string        `json:"token,omitempty"`
}

// MetricsConfig controls the Prometheus scrape endpoint
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Port    int    `json:"port,omitempty"`
	Path    string `json:"path,omitempty"`
}

// Default returns the configuration a host gets with no file and no
// environment overrides
func Default() *Config {
	return &Config{
		Runtime: RuntimeConfig{
			DeliverToSelf: false,
			StopTimeout:   Duration(5 * time.Second),
		},
		Registry: RegistryConfig{
			MaxWriteAttempts: 5,
			WriteRetryDelay:  Duration(10 * time.Millisecond),
		},
		Store: StoreConfig{
			Backend: StoreBackendMemory,
			Bucket:  "agent-registry",
			Key:     "registry-state",
		},
		NATS: NATSConfig{
			URL:           "nats://localhost:4222",
			MaxReconnects: 10,
			ReconnectWait: Duration(2 * time.Second),
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    9090,
			Path:    "/metrics",
		},
	}
}

// Load builds the effective configuration: defaults, then the optional
// JSON file, then environment overrides, then validation. An empty path
// skips the file layer.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "config", "Load", "file read")
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, errors.WrapInvalid(err, "config", "Load", "file decoding")
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration and normalizes defaults for fields
// left zero by a sparse file
func (c *Config) Validate() error {
	if c.Runtime.StopTimeout <= 0 {
		c.Runtime.StopTimeout = Duration(5 * time.Second)
	}
	if c.Registry.MaxWriteAttempts <= 0 {
		c.Registry.MaxWriteAttempts = 5
	}
	if c.Registry.WriteRetryDelay <= 0 {
		c.Registry.WriteRetryDelay = Duration(10 * time.Millisecond)
	}

	switch c.Store.Backend {
	case StoreBackendMemory:
	case StoreBackendFile:
		if c.Store.Path == "" {
			return errors.WrapInvalid(
				fmt.Errorf("%w: store.path is required for the file backend", errors.ErrMissingConfig),
				"config", "Validate", "store validation")
		}
	case StoreBackendNATS:
		if c.Store.Bucket == "" || c.Store.Key == "" {
			return errors.WrapInvalid(
				fmt.Errorf("%w: store.bucket and store.key are required for the nats backend", errors.ErrMissingConfig),
				"config", "Validate", "store validation")
		}
		if c.NATS.URL == "" {
			return errors.WrapInvalid(
				fmt.Errorf("%w: nats.url is required for the nats backend", errors.ErrMissingConfig),
				"config", "Validate", "nats validation")
		}
	default:
		return errors.WrapInvalid(
			fmt.Errorf("%w: unknown store backend %q", errors.ErrInvalidConfig, c.Store.Backend),
			"config", "Validate", "store validation")
	}

	if c.Metrics.Enabled {
		if c.Metrics.Port <= 0 || c.Metrics.Port > 65535 {
			return errors.WrapInvalid(
				fmt.Errorf("%w: metrics.port %d out of range", errors.ErrInvalidConfig, c.Metrics.Port),
				"config", "Validate", "metrics validation")
		}
		if c.Metrics.Path == "" {
			c.Metrics.Path = "/metrics"
		}
	}
	return nil
}

// applyEnvOverrides layers AGENTRUNTIME_* environment variables over the
// file configuration, for containerized deployments where editing the
// file is awkward.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("AGENTRUNTIME_STORE_BACKEND"); v != "" {
		cfg.Store.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("AGENTRUNTIME_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("AGENTRUNTIME_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("AGENTRUNTIME_METRICS_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Metrics.Enabled = enabled
		}
	}
	if v := os.Getenv("AGENTRUNTIME_METRICS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Metrics.Port = port
		}
	}
}
