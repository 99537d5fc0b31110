package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `{
  "server": {"port": ${SIGIL_TEST_PORT:4000}},
  "registry": {
    "admin": "${SIGIL_TEST_ADMIN:root}",
    "treasury": "treasury",
    "reward_fund": "rewards",
    "sweep_interval": "30s"
  },
  "database": {
    "postgres": {"dsn": "postgres://localhost/sigil"},
    "redis": {"url": "${SIGIL_TEST_REDIS}"}
  }
}`

func TestParseSubstitutesEnvironment(t *testing.T) {
	t.Setenv("SIGIL_TEST_ADMIN", "ops")
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, 4000, cfg.Server.Port)
	assert.Equal(t, "ops", cfg.Registry.Admin)
	assert.Empty(t, cfg.Database.Redis.URL)

	assert.Equal(t, "info", cfg.Server.LogLevel)
	assert.Equal(t, "migrations", cfg.Server.MigrationsDir)
	assert.Equal(t, "postgres", cfg.Registry.Rail)
	d, err := cfg.Registry.SweepEvery()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, d)
}

func TestParseRejectsIncompleteConfig(t *testing.T) {
	_, err := Parse([]byte(`{"registry": {"rail": "carrier-pigeon", "sweep_interval": "soon"},
		"notify": {"slack": {"enabled": true}}}`))
	require.Error(t, err)
	for _, want := range []string{
		"registry.admin is required",
		"registry.treasury is required",
		"registry.reward_fund is required",
		`registry.rail "carrier-pigeon"`,
		"registry.sweep_interval",
		"notify.slack needs bot_token and channel_id",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestMemoryRailNeedsNoDatabase(t *testing.T) {
	cfg, err := Parse([]byte(`{"registry": {"admin": "a", "treasury": "t", "reward_fund": "r", "rail": "memory"}}`))
	require.NoError(t, err)
	assert.Equal(t, "1m", cfg.Registry.SweepInterval)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sigil.json")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "root", cfg.Registry.Admin)

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
