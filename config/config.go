// Package config loads rdcastd/rdcast-client configuration from a YAML
// file, then lets environment variables override individual fields.
// Precedence order is file defaults, then environment.
//
// Grounded on nishisan-dev-n-backup/internal/config/server.go's
// LoadXConfig(path)-plus-validate(path) shape (read file, unmarshal,
// apply defaults/validate, wrap every error with fmt.Errorf %w) and its
// YAML struct-tag layout, extended with an environment-override pass for
// container-style deployment.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"rdcast/cipher"
	"rdcast/transport"
)

// Config is the orchestrator's full runtime configuration.
type Config struct {
	Listen         string        `yaml:"listen"`
	KeyHex         string        `yaml:"key"`
	InitialBitrate int64         `yaml:"initial_bitrate_bps"`
	LivenessWindow time.Duration `yaml:"liveness_window"`
	ExitAfter      time.Duration `yaml:"exit_after"`
	DSCP           string        `yaml:"dscp"`
	Metrics        MetricsConfig `yaml:"metrics"`

	// Key is the parsed 16-byte AES key, populated by validate().
	Key []byte `yaml:"-"`
}

// MetricsConfig configures the Prometheus metrics listener.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// Load reads path as YAML, applies environment overrides, then validates
// and derives the parsed key.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validating: %w", err)
	}
	return &cfg, nil
}

// applyEnv overrides fields named explicitly by the environment: RDCAST_KEY,
// RDCAST_BITRATE, RDCAST_LIVENESS_WINDOW, RDCAST_EXIT_AFTER.
func (c *Config) applyEnv() {
	if v := os.Getenv("RDCAST_KEY"); v != "" {
		c.KeyHex = v
	}
	if v := os.Getenv("RDCAST_BITRATE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.InitialBitrate = n
		}
	}
	if v := os.Getenv("RDCAST_LIVENESS_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.LivenessWindow = d
		}
	}
	if v := os.Getenv("RDCAST_EXIT_AFTER"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.ExitAfter = d
		}
	}
}

func (c *Config) validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen is required")
	}
	key, err := ParseKey(c.KeyHex)
	if err != nil {
		return fmt.Errorf("key: %w", err)
	}
	c.Key = key

	if c.InitialBitrate <= 0 {
		c.InitialBitrate = 5_000_000
	}
	if c.LivenessWindow <= 0 {
		c.LivenessWindow = 3 * time.Second
	}
	if c.ExitAfter == 0 {
		c.ExitAfter = -1 // disabled: never self-terminate while un-joined
	}
	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		c.Metrics.Listen = "127.0.0.1:9090"
	}
	if _, err := transport.ParseDSCP(c.DSCP); err != nil {
		return fmt.Errorf("dscp: %w", err)
	}
	return nil
}

// ParseKey accepts either 16 raw bytes encoded as 32 hex characters, or a
// literal 16-byte string.
func ParseKey(s string) ([]byte, error) {
	if len(s) == cipher.KeySize*2 {
		if b, err := hex.DecodeString(s); err == nil {
			return b, nil
		}
	}
	if len(s) == cipher.KeySize {
		return []byte(s), nil
	}
	return nil, fmt.Errorf("key must be %d raw bytes or %d hex characters, got %d bytes", cipher.KeySize, cipher.KeySize*2, len(s))
}
