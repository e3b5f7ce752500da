package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/sceneflow/media/transport"
)

func TestLoader_Defaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, 10*time.Minute, cfg.Registry.Expiry)
	assert.Equal(t, 60*time.Second, cfg.Registry.CleanupInterval)
	assert.Equal(t, 5*time.Second, cfg.Registry.RetireDelay)
	assert.Equal(t, 60, cfg.Backends.Speech.MaxAttempts)
	assert.Equal(t, 150, cfg.Backends.Image.MaxAttempts)
	assert.Equal(t, 20, cfg.Backends.Transcribe.MaxAttempts)
	assert.Equal(t, 300, cfg.Backends.Timing.MaxAttempts)
	assert.Equal(t, transport.AuthBearer, cfg.Backends.Image.Backend.AuthStyle)
	assert.Equal(t, 4, cfg.Pipeline.MaxConcurrentScenes)
}

func TestLoader_YAMLOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log:
  level: debug
registry:
  expiry: 5m
backends:
  speech:
    backend:
      base_url: https://tts.internal.example.com
      api_key: yaml-key
    max_attempts: 30
`), 0o600))

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 5*time.Minute, cfg.Registry.Expiry)
	assert.Equal(t, "https://tts.internal.example.com", cfg.Backends.Speech.Backend.BaseURL)
	assert.Equal(t, 30, cfg.Backends.Speech.MaxAttempts)
	// 未覆盖的部分保持默认值
	assert.Equal(t, 2*time.Second, cfg.Backends.Speech.PollInterval)
	assert.Equal(t, 300, cfg.Backends.Timing.MaxAttempts)
}

func TestLoader_EnvOverride(t *testing.T) {
	t.Setenv("SCENEFLOW_LOG_LEVEL", "warn")
	t.Setenv("SCENEFLOW_REGISTRY_EXPIRY", "3m")
	t.Setenv("SCENEFLOW_REDIS_ENABLED", "true")
	t.Setenv("SCENEFLOW_REDIS_ADDR", "redis.internal:6379")
	t.Setenv("SCENEFLOW_BACKENDS_IMAGE_BACKEND_API_KEY", "env-key")
	t.Setenv("SCENEFLOW_BACKENDS_IMAGE_MAX_ATTEMPTS", "99")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 3*time.Minute, cfg.Registry.Expiry)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "redis.internal:6379", cfg.Redis.Addr)
	assert.Equal(t, "env-key", cfg.Backends.Image.Backend.APIKey)
	assert.Equal(t, 99, cfg.Backends.Image.MaxAttempts)
}

func TestLoader_EnvBeatsYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: debug\n"), 0o600))
	t.Setenv("SCENEFLOW_LOG_LEVEL", "error")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.Log.Level)
}

func TestLoader_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/nonexistent/config.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoader_Validator(t *testing.T) {
	_, err := NewLoader().
		WithValidator(func(c *Config) error { return c.Validate() }).
		Load()
	require.NoError(t, err)

	t.Setenv("SCENEFLOW_LOG_LEVEL", "verbose")
	_, err = NewLoader().
		WithValidator(func(c *Config) error { return c.Validate() }).
		Load()
	assert.ErrorContains(t, err, "invalid log level")
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Redis.Enabled = true
	cfg.Redis.Addr = ""
	assert.ErrorContains(t, cfg.Validate(), "redis mirror enabled")

	cfg = DefaultConfig()
	cfg.Pipeline.MaxConcurrentScenes = 0
	assert.ErrorContains(t, cfg.Validate(), "max_concurrent_scenes")
}
