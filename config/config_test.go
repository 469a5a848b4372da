package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_FileValues(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
  rate_limit_per_sec: 2.5
database:
  driver: sqlite
  dsn: "file:test.db"
monitor:
  enabled: true
  interval_seconds: 60
catalog:
  areas: ["Front Desk"]
  specialists: ["Ana"]
log:
  level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 2.5, cfg.Server.RateLimitPerSec)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "file:test.db", cfg.Database.DSN)
	assert.True(t, cfg.Monitor.Enabled)
	assert.Equal(t, time.Minute, cfg.Monitor.Interval)
	assert.Equal(t, []string{"Front Desk"}, cfg.Catalog.Areas)
	assert.Equal(t, []string{"Ana"}, cfg.Catalog.Specialists)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_DefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 1, cfg.WorkerPool.Size)
	assert.Equal(t, 3600, cfg.Push.TTL)
	assert.Equal(t, 5*time.Minute, cfg.Monitor.Interval)
	assert.Equal(t, defaultAreas, cfg.Catalog.Areas)
	assert.Equal(t, defaultSpecialists, cfg.Catalog.Specialists)
	assert.False(t, cfg.Push.Enabled())
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
database:
  dsn: "postgres://from-file"
`)
	t.Setenv("SERVER_PORT", "7000")
	t.Setenv("DATABASE_DSN", "postgres://from-env")
	t.Setenv("VAPID_PUBLIC_KEY", "pub")
	t.Setenv("VAPID_PRIVATE_KEY", "priv")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, "postgres://from-env", cfg.Database.DSN)
	assert.True(t, cfg.Push.Enabled())
}

func TestLoad_InvalidPort(t *testing.T) {
	t.Setenv("SERVER_PORT", "eighty")
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoad_MalformedYAML(t *testing.T) {
	path := writeConfig(t, "server: [unterminated")
	_, err := Load(path)
	assert.Error(t, err)
}
