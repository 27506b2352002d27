package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tagpin.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8476", cfg.Listen)
	assert.Equal(t, ResolverRegistry, cfg.Resolver)
	assert.Equal(t, 30*time.Second, cfg.ResolverTimeout)
	assert.Equal(t, 2*time.Second, cfg.Backoff.Initial)
	assert.Equal(t, 10*time.Minute, cfg.Backoff.Max)
	assert.Equal(t, 2.0, cfg.Backoff.Multiplier)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
listen: ":9000"
resolver: containerd
resolver_timeout: 45s
backoff:
  initial: 1s
  max: 5m
  multiplier: 3.0
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Listen)
	assert.Equal(t, ResolverContainerd, cfg.Resolver)
	assert.Equal(t, 45*time.Second, cfg.ResolverTimeout)
	assert.Equal(t, time.Second, cfg.Backoff.Initial)
	assert.Equal(t, 5*time.Minute, cfg.Backoff.Max)
	assert.Equal(t, 3.0, cfg.Backoff.Multiplier)

	// Unset fields keep defaults.
	assert.Equal(t, "./tagpin-data", cfg.DataDir)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown resolver", func(c *Config) { c.Resolver = "dockerd" }},
		{"zero timeout", func(c *Config) { c.ResolverTimeout = 0 }},
		{"zero initial backoff", func(c *Config) { c.Backoff.Initial = 0 }},
		{"max below initial", func(c *Config) { c.Backoff.Max = time.Second; c.Backoff.Initial = time.Minute }},
		{"multiplier below one", func(c *Config) { c.Backoff.Multiplier = 0.5 }},
		{"ha without node id", func(c *Config) { c.HA.Enabled = true; c.HA.NodeID = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := writeConfig(t, "listen: [not a string")
	_, err := Load(path)
	assert.Error(t, err)
}
