package app

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("SESSION_SECRET", "s")
	t.Setenv("CSRF_SECRET", "c")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.AppAddr)
	assert.Equal(t, "permissions:changed", cfg.RBACEventChannel)
	assert.Equal(t, 3*time.Second, cfg.RBACStoreTimeout)
	assert.Equal(t, 4, cfg.RBACResolveConcurrent)
	assert.Equal(t, int32(10), cfg.PGMaxConns)
	assert.True(t, cfg.RBACSeedOnStart)
	assert.Equal(t, 5*time.Minute, cfg.RBACSweepInterval)
	assert.False(t, cfg.IsProduction())
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("SESSION_SECRET", "s")
	t.Setenv("CSRF_SECRET", "c")
	t.Setenv("APP_ENV", "production")
	t.Setenv("RBAC_EVENT_CHANNEL", "rbac:events")
	t.Setenv("RBAC_STORE_TIMEOUT", "750ms")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, "rbac:events", cfg.RBACEventChannel)
	assert.Equal(t, 750*time.Millisecond, cfg.RBACStoreTimeout)
}

func TestLoadConfigRequiresSecrets(t *testing.T) {
	t.Setenv("SESSION_SECRET", "")
	t.Setenv("CSRF_SECRET", "c")

	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestNilConfigIsNotProduction(t *testing.T) {
	var cfg *Config
	assert.False(t, cfg.IsProduction())
}

func TestNewLoggerHonoursLevelAndFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&Config{LogFormat: "json", LogLevel: "warn"}, &buf)

	logger.Info("hidden")
	logger.Warn("shown", slog.String("k", "v"))

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
	assert.Contains(t, buf.String(), `"k":"v"`)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warning"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("nonsense"))
}
