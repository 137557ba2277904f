package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omarluq/quota-relay/internal/cache"
	"github.com/omarluq/quota-relay/internal/config"
	"github.com/omarluq/quota-relay/internal/store"
)

const sampleYAML = `
logging:
  level: debug
  format: json
limiter:
  backend: shared
  ttl_seconds: 7200
  ttl_mode: fixed
  shared:
    driver: redis
    timeout_ms: 250
    redis:
      addr: "${QR_TEST_REDIS}"
      prefix: "bots:"
  fallback:
    open_duration_ms: 10000
retry:
  max_retries: 5
  initial_backoff_ms: 2000
  min_interval_ms: 250
circuit_breaker:
  failure_threshold: 4
cache:
  mode: single
  ttl_seconds: 15
policies:
  taapi:
    max_tokens: 15
    refill_rate: 1.0
  binance:
    max_tokens: 1200
    window_seconds: 60
`

const sampleTOML = `
[logging]
level = "warn"

[limiter]
backend = "shared"
ttl_seconds = -1

[limiter.shared]
driver = "olric"

[limiter.shared.olric]
embedded = true
bind_addr = "127.0.0.1:3320"

[retry]
max_retries = 0

[policies.coinbase]
max_tokens = 10
`

func noEnv(string) (string, bool) { return "", false }

func envMap(m map[string]string) config.LookupFunc {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestLoadFromReader_YAML(t *testing.T) {
	t.Setenv("QR_TEST_REDIS", "redis.internal:6380")

	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML), config.FormatYAML)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, store.BackendShared, cfg.Limiter.Backend)
	assert.Equal(t, store.TTLFixed, cfg.Limiter.TTLMode)
	assert.Equal(t, 2*time.Hour, cfg.Limiter.TTL().TTL)
	assert.Equal(t, "redis.internal:6380", cfg.Limiter.Shared.Redis.Addr)
	assert.Equal(t, "bots:", cfg.Limiter.Shared.Redis.Prefix)
	assert.Equal(t, 250*time.Millisecond, cfg.Limiter.Shared.GetTimeout())
	assert.Equal(t, 5, cfg.Retry.GetMaxRetries())
	assert.Equal(t, 2*time.Second, cfg.Retry.GetInitialBackoff())
	assert.Equal(t, 4, cfg.CircuitBreaker.GetFailureThreshold())
	assert.Equal(t, cache.ModeSingle, cfg.Cache.Mode)
	assert.Equal(t, 15*time.Second, cfg.Cache.GetTTL())

	require.Contains(t, cfg.Policies, "binance")
	assert.Equal(t, 1200, cfg.Policies["binance"].MaxTokens)

	assert.True(t, cfg.Limiter.FallbackEnabled())
	fb := cfg.Limiter.FallbackBreaker()
	assert.Equal(t, 1, fb.FailureThreshold)
	assert.Equal(t, 10*time.Second, fb.GetOpenDuration())

	assert.Equal(t, 250*time.Millisecond, cfg.MinInterval().MustGet())
	assert.True(t, cfg.Policy("taapi").IsPresent())
	assert.True(t, cfg.Policy("grok").IsAbsent())
}

func TestLoadFromReader_TOML(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader(sampleTOML), config.FormatTOML)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, store.DriverOlric, cfg.Limiter.Shared.GetDriver())
	assert.True(t, cfg.Limiter.Shared.Olric.Embedded)
	assert.False(t, cfg.Limiter.TTL().Enabled())
	assert.Equal(t, 0, cfg.Retry.GetMaxRetries())
	assert.Equal(t, 10, cfg.Policies["coinbase"].MaxTokens)
	assert.Equal(t, cache.ModeDisabled, cfg.Cache.GetMode())
}

func TestLoadFromReader_InvalidSyntax(t *testing.T) {
	t.Parallel()

	_, err := config.LoadFromReader(strings.NewReader("limiter: [unterminated"), config.FormatYAML)
	require.ErrorContains(t, err, "YAML")

	_, err = config.LoadFromReader(strings.NewReader("[limiter\nbackend="), config.FormatTOML)
	require.ErrorContains(t, err, "TOML")
}

func TestLoad_PicksFormatByExtension(t *testing.T) {
	t.Setenv("QR_TEST_REDIS", "localhost:6379")
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "quota-relay.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(sampleYAML), 0o600))
	cfg, err := config.Load(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, store.DriverRedis, cfg.Limiter.Shared.Driver)

	tomlPath := filepath.Join(dir, "quota-relay.toml")
	require.NoError(t, os.WriteFile(tomlPath, []byte(sampleTOML), 0o600))
	cfg, err = config.Load(tomlPath)
	require.NoError(t, err)
	assert.Equal(t, store.DriverOlric, cfg.Limiter.Shared.Driver)

	_, err = config.Load(filepath.Join(dir, "missing.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoad_RejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("limiter:\n  backend: etcd\n"), 0o600))

	_, err := config.Load(path)
	var verr *config.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, err.Error(), "etcd")
}

func TestFormatFromPath(t *testing.T) {
	t.Parallel()

	assert.Equal(t, config.FormatTOML, config.FormatFromPath("/etc/quota-relay/config.TOML"))
	assert.Equal(t, config.FormatYAML, config.FormatFromPath("config.yml"))
	assert.Equal(t, config.FormatYAML, config.FormatFromPath("config"))
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	err := config.ApplyEnv(cfg, envMap(map[string]string{
		config.EnvBackend:        "SHARED",
		config.EnvSharedDriver:   "redis",
		config.EnvRedisAddr:      "10.0.0.7:6379",
		config.EnvMaxRetries:     "6",
		config.EnvInitialBackoff: "1.5",
		config.EnvLogLevel:       "DEBUG",
	}))
	require.NoError(t, err)

	assert.Equal(t, store.BackendShared, cfg.Limiter.Backend)
	assert.Equal(t, store.DriverRedis, cfg.Limiter.Shared.Driver)
	assert.Equal(t, "10.0.0.7:6379", cfg.Limiter.Shared.Redis.Addr)
	assert.Equal(t, 6, cfg.Retry.GetMaxRetries())
	assert.Equal(t, 1500*time.Millisecond, cfg.Retry.GetInitialBackoff())
	assert.Equal(t, "debug", cfg.Logging.Level)

	require.NoError(t, config.ApplyEnv(cfg, envMap(map[string]string{config.EnvInitialBackoff: "250ms"})))
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.GetInitialBackoff())
}

func TestApplyEnv_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"retries not a number", config.EnvMaxRetries, "three"},
		{"backoff not a duration", config.EnvInitialBackoff, "soon"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := config.ApplyEnv(config.Default(), envMap(map[string]string{tt.key: tt.value}))
			var envErr *config.EnvError
			require.ErrorAs(t, err, &envErr)
			assert.Equal(t, tt.key, envErr.Name)
			assert.NotNil(t, errors.Unwrap(err))
		})
	}
}

func TestApplyEnv_Unset(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	require.NoError(t, config.ApplyEnv(cfg, noEnv))
	assert.Equal(t, config.Default(), cfg)
}
