package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWithNoFileOrEnv(t *testing.T) {
	cfg, err := Load("/nonexistent/specforge.toml.does.not.exist")
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, "3000", cfg.Server.Port)
	assert.Equal(t, 24, cfg.Idempotency.TTLHours)
}

func TestLoad_EnvOverridesDefaults(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("HOST", "127.0.0.1")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load("/nonexistent/specforge.toml.does.not.exist")
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_FileThenEnvPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/specforge.toml"
	require.NoError(t, os.WriteFile(path, []byte("[server]\nport = \"9090\"\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Server.Port)

	t.Setenv("PORT", "9999")
	cfg, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, "9999", cfg.Server.Port)
}

func TestValidate_PostgresBackendRequiresDSN(t *testing.T) {
	cfg := &Config{Store: StoreConfig{Backend: "postgres", CASBackend: "memory"}}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.dsn")
}

func TestValidate_GCSCasBackendRequiresBucket(t *testing.T) {
	cfg := &Config{Store: StoreConfig{Backend: "memory", CASBackend: "gcs"}}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cas_bucket")
}

func TestValidate_CacheEnabledRequiresURL(t *testing.T) {
	cfg := &Config{Store: StoreConfig{Backend: "memory", CASBackend: "memory"}, Cache: CacheConfig{Enabled: true}}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cache.url")
}

func TestValidate_RejectsUnknownBackend(t *testing.T) {
	cfg := &Config{Store: StoreConfig{Backend: "sqlite", CASBackend: "memory"}}
	err := cfg.Validate()
	require.Error(t, err)
}
