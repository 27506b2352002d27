package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Resolver kinds selectable in configuration.
const (
	ResolverRegistry   = "registry"
	ResolverContainerd = "containerd"
)

// Config holds the tagpin server configuration.
type Config struct {
	Listen   string `yaml:"listen"`
	DataDir  string `yaml:"data_dir"`
	Resolver string `yaml:"resolver"`

	ResolverTimeout time.Duration `yaml:"resolver_timeout"`

	Backoff Backoff `yaml:"backoff"`
	HA      HA      `yaml:"ha"`
}

// Backoff configures the backpressure resend schedule.
type Backoff struct {
	Initial    time.Duration `yaml:"initial"`
	Max        time.Duration `yaml:"max"`
	Multiplier float64       `yaml:"multiplier"`
}

// HA configures the optional raft-replicated pin store.
type HA struct {
	Enabled   bool   `yaml:"enabled"`
	NodeID    string `yaml:"node_id"`
	BindAddr  string `yaml:"bind_addr"`
	Bootstrap bool   `yaml:"bootstrap"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Listen:          ":8476",
		DataDir:         "./tagpin-data",
		Resolver:        ResolverRegistry,
		ResolverTimeout: 30 * time.Second,
		Backoff: Backoff{
			Initial:    2 * time.Second,
			Max:        10 * time.Minute,
			Multiplier: 2.0,
		},
		HA: HA{
			BindAddr: "127.0.0.1:8477",
		},
	}
}

// Load reads a YAML config file over the defaults. An empty path returns
// the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the server cannot run with.
func (c Config) Validate() error {
	switch c.Resolver {
	case ResolverRegistry, ResolverContainerd:
	default:
		return fmt.Errorf("unknown resolver %q (want %s or %s)", c.Resolver, ResolverRegistry, ResolverContainerd)
	}

	if c.ResolverTimeout <= 0 {
		return fmt.Errorf("resolver_timeout must be positive, got %s", c.ResolverTimeout)
	}
	if c.Backoff.Initial <= 0 {
		return fmt.Errorf("backoff.initial must be positive, got %s", c.Backoff.Initial)
	}
	if c.Backoff.Max < c.Backoff.Initial {
		return fmt.Errorf("backoff.max %s is below backoff.initial %s", c.Backoff.Max, c.Backoff.Initial)
	}
	if c.Backoff.Multiplier < 1 {
		return fmt.Errorf("backoff.multiplier must be at least 1, got %v", c.Backoff.Multiplier)
	}

	if c.HA.Enabled && c.HA.NodeID == "" {
		return fmt.Errorf("ha.node_id is required when ha.enabled is set")
	}
	return nil
}
