package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultLiteConfig(t *testing.T) {
	cfg := DefaultLiteConfig()

	assert.NotEmpty(t, cfg.DataDir)
	assert.Equal(t, 128, cfg.RatingSetCacheSize)
	assert.Equal(t, "orphan", cfg.OrphanPolicy)
	assert.Equal(t, "stdio", cfg.Transport)
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestLoadLiteConfig_Defaults(t *testing.T) {
	clearEnvVars(t)

	cfg := LoadLiteConfig()

	assert.NotEmpty(t, cfg.DataDir)
	assert.Equal(t, 128, cfg.RatingSetCacheSize)
	assert.Equal(t, "stdio", cfg.Transport)
}

func TestLoadLiteConfig_EnvironmentOverrides(t *testing.T) {
	clearEnvVars(t)

	t.Setenv("RVS_DATA_DIR", "/tmp/test-rvs")
	t.Setenv("RVS_RATING_SET_CACHE_SIZE", "16")
	t.Setenv("RVS_ORPHAN_POLICY", "cascade")
	t.Setenv("RVS_TRANSPORT", "http")
	t.Setenv("RVS_HTTP_PORT", "9090")
	t.Setenv("RVS_LOG_LEVEL", "debug")

	cfg := LoadLiteConfig()

	assert.Equal(t, "/tmp/test-rvs", cfg.DataDir)
	assert.Equal(t, 16, cfg.RatingSetCacheSize)
	assert.Equal(t, "cascade", cfg.OrphanPolicy)
	assert.Equal(t, "http", cfg.Transport)
	assert.Equal(t, 9090, cfg.HTTPPort)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadLiteConfig_IgnoresBadNumbers(t *testing.T) {
	clearEnvVars(t)
	t.Setenv("RVS_HTTP_PORT", "not-a-port")
	t.Setenv("RVS_RATING_SET_CACHE_SIZE", "-3")

	cfg := LoadLiteConfig()

	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, 128, cfg.RatingSetCacheSize)
}

func TestLiteConfig_DatabasePath(t *testing.T) {
	cfg := &LiteConfig{DataDir: "/home/user/.report-variables"}

	assert.Equal(t, "/home/user/.report-variables/variables.db", cfg.DatabasePath())
}

func TestLiteConfig_EnsureDataDir(t *testing.T) {
	cfg := &LiteConfig{DataDir: filepath.Join(t.TempDir(), "rvs")}

	require.NoError(t, cfg.EnsureDataDir())

	_, err := os.Stat(cfg.DataDir)
	assert.NoError(t, err)
}

func TestLiteConfig_ToConfig(t *testing.T) {
	lite := DefaultLiteConfig()
	lite.DataDir = "/data"

	cfg := lite.ToConfig()

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "/data/variables.db", cfg.Database.SQLitePath)
	assert.Empty(t, cfg.Cache.RedisURL)
	assert.Equal(t, "sqlite:///data/variables.db", DatabaseURL(cfg.Database))
	require.NoError(t, Validate(cfg))
}

func clearEnvVars(t *testing.T) {
	t.Helper()
	vars := []string{
		"RVS_DATA_DIR",
		"RVS_RATING_SET_CACHE_SIZE",
		"RVS_ORPHAN_POLICY",
		"RVS_TRANSPORT",
		"RVS_HTTP_PORT",
		"RVS_LOG_LEVEL",
		"RVS_LOG_FORMAT",
	}
	for _, v := range vars {
		if old, ok := os.LookupEnv(v); ok {
			os.Unsetenv(v)
			t.Cleanup(func() { os.Setenv(v, old) })
		}
	}
}
