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
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
database:
  path: /tmp/agrosync.db
remote:
  base_url: https://sync.example.com
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "agrosync", cfg.App.Name)
	assert.Equal(t, "/api/sync", cfg.Remote.SyncPath)
	assert.Equal(t, "/healthz", cfg.Remote.HealthPath)
	assert.Equal(t, 15*time.Second, cfg.Remote.Timeout.Std())
	assert.Equal(t, 3, cfg.Sync.MaxRetries)
	assert.Equal(t, 5*time.Second, cfg.Sync.RetryBackoff.Std())
	assert.Equal(t, 5*time.Minute, cfg.Sync.DrainInterval.Std())
	assert.Equal(t, time.Hour, cfg.Sync.StaleAfter.Std())
	assert.Equal(t, 7, cfg.Sync.RetentionDays)
	assert.Equal(t, "v1", cfg.Cache.Version)
	assert.Equal(t, []string{"/api/"}, cfg.Cache.APIPrefixes)
	assert.Equal(t, 8080, cfg.API.Port)
}

func TestLoadParsesDurations(t *testing.T) {
	path := writeConfig(t, `
database:
  path: /tmp/agrosync.db
remote:
  base_url: https://sync.example.com
  timeout: 3s
sync:
  retry_backoff: 10s
  drain_interval: 2m
  stale_after: 30m
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 3*time.Second, cfg.Remote.Timeout.Std())
	assert.Equal(t, 10*time.Second, cfg.Sync.RetryBackoff.Std())
	assert.Equal(t, 2*time.Minute, cfg.Sync.DrainInterval.Std())
	assert.Equal(t, 30*time.Minute, cfg.Sync.StaleAfter.Std())
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := writeConfig(t, `
database:
  path: /tmp/agrosync.db
remote:
  base_url: https://sync.example.com
  timeout: soon
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid duration")
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("TEST_REMOTE_URL", "https://sync.example.com")

	path := writeConfig(t, `
database:
  path: /tmp/agrosync.db
remote:
  base_url: ${TEST_REMOTE_URL}
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://sync.example.com", cfg.Remote.BaseURL)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name: "MissingDatabasePath",
			content: `
remote:
  base_url: https://sync.example.com
`,
			wantErr: "database path is required",
		},
		{
			name: "MissingBaseURL",
			content: `
database:
  path: /tmp/agrosync.db
`,
			wantErr: "remote base_url is required",
		},
		{
			name: "NonHTTPBaseURL",
			content: `
database:
  path: /tmp/agrosync.db
remote:
  base_url: sync.example.com
`,
			wantErr: "must be an http(s) URL",
		},
		{
			name: "RedisEnabledWithoutAddress",
			content: `
database:
  path: /tmp/agrosync.db
remote:
  base_url: https://sync.example.com
redis:
  enabled: true
`,
			wantErr: "redis address is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
