package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/burrowd/burrow/pkg/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "burrowd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "/var/run/burrowd.sock", cfg.SocketPath)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 256, cfg.Completion.MaxOutstanding)
	assert.Equal(t, 8, cfg.Completion.Concurrency)
	assert.Equal(t, Duration(5*time.Minute), cfg.Completion.JobTimeout)
	assert.NoError(t, cfg.Validate())
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
socket_path: /tmp/test.sock
data_dir: ""
log:
  level: debug
  json: false
completion:
  max_outstanding: 10
  concurrency: 2
  job_timeout: 30s
  model: claude-haiku-3-5
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/test.sock", cfg.SocketPath)
	assert.Empty(t, cfg.DataDir)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.False(t, cfg.Log.JSON)
	assert.Equal(t, 10, cfg.Completion.MaxOutstanding)
	assert.Equal(t, Duration(30*time.Second), cfg.Completion.JobTimeout)
	assert.Equal(t, "claude-haiku-3-5", cfg.Completion.Model)

	// Untouched fields keep their defaults.
	assert.Equal(t, "127.0.0.1:9410", cfg.MetricsAddr)
	assert.Equal(t, int64(4096), cfg.Completion.MaxTokens)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, "sokcet_path: /tmp/test.sock\n")

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := writeConfig(t, "completion:\n  job_timeout: fast\n")

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty socket", func(c *Config) { c.SocketPath = "" }},
		{"bad log level", func(c *Config) { c.Log.Level = "verbose" }},
		{"zero outstanding", func(c *Config) { c.Completion.MaxOutstanding = 0 }},
		{"zero concurrency", func(c *Config) { c.Completion.Concurrency = 0 }},
		{"negative timeout", func(c *Config) { c.Completion.JobTimeout = Duration(-time.Second) }},
		{"temperature out of range", func(c *Config) { c.Completion.Temperature = 3 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.True(t, errdefs.IsValidation(cfg.Validate()))
		})
	}
}
