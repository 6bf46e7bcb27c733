package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, 100, cfg.Bulk.MaxURLsPerJob)
	require.Equal(t, 3, cfg.Bulk.MaxActivePerUser)
	require.Equal(t, 5, cfg.Bulk.MaxConcurrentJobs)
	require.Equal(t, "bulk-job-completions", cfg.Bulk.CompletionTopic)
	require.Equal(t, 50, cfg.Autosave.HistoryCap)
	require.True(t, cfg.Realtime.Enabled)
	require.Equal(t, "memory", cfg.Export.Backend)
	require.Equal(t, "exports", cfg.Export.Prefix)
	require.False(t, cfg.Auth.Enabled)

	require.Equal(t, 15*time.Second, cfg.ScrapeTimeout())
	require.Equal(t, 30*time.Second, cfg.GeneratorTimeout())
	require.Equal(t, 7*24*time.Hour, cfg.Retention())
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte(`
server:
  port: 9090
bulk:
  max_urls_per_job: 25
export:
  backend: local
  base_dir: /tmp/exports
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, 25, cfg.Bulk.MaxURLsPerJob)
	require.Equal(t, "local", cfg.Export.Backend)
	// Unset keys still fall back to defaults.
	require.Equal(t, 3, cfg.Bulk.MaxActivePerUser)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	base, err := Load("")
	require.NoError(t, err)

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "auth enabled without key",
			mutate:  func(c *Config) { c.Auth.Enabled = true },
			wantErr: "auth.api_key",
		},
		{
			name:    "unknown export backend",
			mutate:  func(c *Config) { c.Export.Backend = "s3" },
			wantErr: "export.backend",
		},
		{
			name:    "local backend without base dir",
			mutate:  func(c *Config) { c.Export.Backend = "local" },
			wantErr: "export.base_dir",
		},
		{
			name:    "gcs backend without bucket",
			mutate:  func(c *Config) { c.Export.Backend = "gcs" },
			wantErr: "export.gcs_bucket",
		},
		{
			name:    "zero port",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: "server.port",
		},
		{
			name:    "zero history cap",
			mutate:  func(c *Config) { c.Autosave.HistoryCap = 0 },
			wantErr: "autosave.history_cap",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("SCHEMASMITH_SERVER_PORT", "7070")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 7070, cfg.Server.Port)
}
