// Package common provides configuration loading shared by the node's
// command binaries: a YAML file with flag overrides and defaults.
package common

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/BrightID/BrightID-Node-sub000/protocol"
	"github.com/BrightID/BrightID-Node-sub000/store/postgres"
)

// Config is the full node configuration.
type Config struct {
	// ListenAddr is the API listen address.
	ListenAddr string `yaml:"listen_addr"`

	// MetricsAddr is the metrics listen address; empty disables metrics.
	MetricsAddr string `yaml:"metrics_addr"`

	// EnablePprof mounts the pprof API under /debug.
	EnablePprof bool `yaml:"enable_pprof"`

	// LogJSON switches the log output to JSON.
	LogJSON bool `yaml:"log_json"`

	// LogDebug enables debug-level logging.
	LogDebug bool `yaml:"log_debug"`

	// StorageBackend selects "postgres" or "memory". The in-memory backend
	// loses all state on restart and exists for development.
	StorageBackend string `yaml:"storage_backend"`

	// Postgres holds the connection settings for the postgres backend.
	Postgres postgres.Config `yaml:"postgres"`

	// Protocol tunes the operation pipeline and verification windows.
	Protocol protocol.Config `yaml:"protocol"`

	// WISchnorrPassword seeds the blind signature issuer keypair. Nodes
	// sharing a password issue interchangeable verifications.
	WISchnorrPassword string `yaml:"wischnorr_password"`

	DrainDuration            time.Duration `yaml:"drain_duration"`
	GracefulShutdownDuration time.Duration `yaml:"graceful_shutdown_duration"`
	ReadTimeout              time.Duration `yaml:"read_timeout"`
	WriteTimeout             time.Duration `yaml:"write_timeout"`
}

// DefaultConfig returns the configuration used when no file or flags are
// given.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:     ":8529",
		MetricsAddr:    ":9090",
		StorageBackend: "memory",
		Postgres: postgres.Config{
			Host:     "localhost",
			Port:     5432,
			User:     "brightid",
			Database: "brightid",
		},
		Protocol:                 *protocol.DefaultConfig(),
		WISchnorrPassword:        "",
		DrainDuration:            5 * time.Second,
		GracefulShutdownDuration: 10 * time.Second,
		ReadTimeout:              15 * time.Second,
		WriteTimeout:             15 * time.Second,
	}
}

// LoadConfig reads a YAML config file over the defaults. An empty path
// returns the defaults unchanged.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

// Validate checks settings that would otherwise fail late.
func (c *Config) Validate() error {
	switch c.StorageBackend {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unknown storage backend %q", c.StorageBackend)
	}
	if c.WISchnorrPassword == "" {
		return fmt.Errorf("wischnorr_password is required")
	}
	if c.Protocol.RateLimit <= 0 || c.Protocol.RateLimitWindow <= 0 {
		return fmt.Errorf("rate limit and window must be positive")
	}
	return nil
}
