package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Fetch.LogLevel)
	assert.Equal(t, 0, cfg.Fetch.MaxConcurrent)
	assert.Equal(t, ".", cfg.Fetch.OutputDir)
	assert.Empty(t, cfg.Fetch.JournalPath)
	assert.Equal(t, 0, cfg.Fetch.TimeoutSeconds)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("NETOPS_FETCH_LOG_LEVEL", "debug")
	t.Setenv("NETOPS_FETCH_MAX_CONCURRENT", "8")
	t.Setenv("NETOPS_FETCH_OUTPUT_DIR", "/tmp/downloads")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Fetch.LogLevel)
	assert.Equal(t, 8, cfg.Fetch.MaxConcurrent)
	assert.Equal(t, "/tmp/downloads", cfg.Fetch.OutputDir)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "netops.yaml")
	content := []byte("fetch:\n  log_level: warn\n  max_concurrent: 3\n  output_dir: /var/data\n  journal_path: /var/data/journal.db\n")
	require.NoError(t, os.WriteFile(path, content, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Fetch.LogLevel)
	assert.Equal(t, 3, cfg.Fetch.MaxConcurrent)
	assert.Equal(t, "/var/data", cfg.Fetch.OutputDir)
	assert.Equal(t, "/var/data/journal.db", cfg.Fetch.JournalPath)
}

func TestLoadEnvironmentBeatsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "netops.yaml")
	require.NoError(t, os.WriteFile(path, []byte("fetch:\n  log_level: warn\n"), 0o600))
	t.Setenv("NETOPS_FETCH_LOG_LEVEL", "error")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.Fetch.LogLevel)
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"bad log level", "NETOPS_FETCH_LOG_LEVEL", "verbose"},
		{"negative timeout", "NETOPS_FETCH_TIMEOUT_SECONDS", "-1"},
		{"concurrency over limit", "NETOPS_FETCH_MAX_CONCURRENT", "1000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load("")
			require.Error(t, err)
			assert.Contains(t, err.Error(), "validating config")
		})
	}
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "netops.yaml")
	require.NoError(t, os.WriteFile(path, []byte("fetch: [not a map"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}
