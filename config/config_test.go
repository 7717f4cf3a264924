package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir()) // no .env

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Pool.MaxSize)
	assert.Equal(t, 3, cfg.Pool.FailureThreshold)
	assert.Equal(t, 60*time.Second, cfg.Pool.Timeout)
	assert.Equal(t, 30*time.Second, cfg.Pool.ResetTimeout)
	assert.False(t, cfg.Pool.ConcurrentProbes)
	assert.False(t, cfg.Pool.StrictShutdown)
	assert.Zero(t, cfg.Pool.AcquireTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Pool.MetricsWindow)
	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, []string{"Image", "Stylesheet", "Font", "Media"}, cfg.Render.BlockedResourceTypes)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("BROWSERPOOL_MAX_SIZE", "5")
	t.Setenv("BROWSERPOOL_RESET_TIMEOUT", "2s")
	t.Setenv("BROWSERPOOL_CONCURRENT_PROBES", "true")
	t.Setenv("BROWSERPOOL_API_KEYS", "a, b ,,c")
	t.Setenv("BROWSERPOOL_RATE_RPS", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Pool.MaxSize)
	assert.Equal(t, 2*time.Second, cfg.Pool.ResetTimeout)
	assert.True(t, cfg.Pool.ConcurrentProbes)
	assert.Equal(t, []string{"a", "b", "c"}, cfg.Auth.APIKeys)
	assert.Equal(t, 5.0, cfg.RateLimit.RequestsPerSecond, "malformed values fall back to the default")
}

func TestLoad_DotEnvFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("BROWSERPOOL_FAILURE_THRESHOLD=7\n"), 0o600))
	// godotenv never overrides a variable that exists, even when empty.
	t.Setenv("BROWSERPOOL_FAILURE_THRESHOLD", "")
	require.NoError(t, os.Unsetenv("BROWSERPOOL_FAILURE_THRESHOLD"))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Pool.FailureThreshold)
}

func TestValidate(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("BROWSERPOOL_MAX_SIZE", "0")
	t.Setenv("BROWSERPOOL_FAILURE_THRESHOLD", "0")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BROWSERPOOL_MAX_SIZE")
	assert.Contains(t, err.Error(), "BROWSERPOOL_FAILURE_THRESHOLD")
}

func TestPoolOptions(t *testing.T) {
	pc := PoolConfig{
		MaxSize:          2,
		FailureThreshold: 4,
		Timeout:          time.Second,
		ResetTimeout:     time.Minute,
		StrictShutdown:   true,
		MetricsWindow:    time.Hour,
		AcquireTimeout:   5 * time.Second,
	}
	got := pc.PoolOptions()
	assert.Equal(t, 2, got.MaxSize)
	assert.Equal(t, 4, got.Breaker.FailureThreshold)
	assert.Equal(t, time.Second, got.Breaker.Timeout)
	assert.Equal(t, time.Minute, got.Breaker.ResetTimeout)
	assert.True(t, got.StrictShutdown)
	assert.Equal(t, time.Hour, got.MetricsWindow)
	assert.Equal(t, 5*time.Second, got.AcquireTimeout)
}
