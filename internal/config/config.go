// Package config loads and validates the quota-relay configuration.
package config

import (
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/mo"

	"github.com/omarluq/quota-relay/internal/cache"
	"github.com/omarluq/quota-relay/internal/health"
	"github.com/omarluq/quota-relay/internal/ratelimit"
	"github.com/omarluq/quota-relay/internal/retry"
	"github.com/omarluq/quota-relay/internal/store"
)

// Log level constants.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Config represents the complete quota-relay configuration.
type Config struct {
	Policies       map[string]ratelimit.PolicyOverride `yaml:"policies" toml:"policies"`
	Logging        LoggingConfig                       `yaml:"logging" toml:"logging"`
	Cache          cache.Config                        `yaml:"cache" toml:"cache"`
	Limiter        LimiterConfig                       `yaml:"limiter" toml:"limiter"`
	CircuitBreaker health.CircuitBreakerConfig         `yaml:"circuit_breaker" toml:"circuit_breaker"`
	Retry          retry.Config                        `yaml:"retry" toml:"retry"`
}

// LimiterConfig configures the bucket store and its local fallback.
type LimiterConfig struct {
	store.Config `yaml:",inline"`

	// Fallback configures the breaker that moves calls to local buckets while
	// the shared store is down.
	Fallback health.CircuitBreakerConfig `yaml:"fallback" toml:"fallback"`

	// DisableFallback makes shared-store outages fail the caller instead.
	DisableFallback bool `yaml:"disable_fallback" toml:"disable_fallback"`
}

// FallbackEnabled reports whether a local fallback store should be built.
func (l *LimiterConfig) FallbackEnabled() bool {
	return l.GetBackend() == store.BackendShared && !l.DisableFallback
}

// FallbackBreaker returns the fallback breaker settings. Unlike API
// breakers, one backend failure is enough to switch to local buckets.
func (l *LimiterConfig) FallbackBreaker() health.CircuitBreakerConfig {
	cfg := l.Fallback
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 1
	}
	if cfg.HalfOpenProbes == 0 {
		cfg.HalfOpenProbes = 1
	}
	return cfg
}

// LoggingConfig defines logging behavior.
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`   // debug, info, warn, error
	Format string `yaml:"format" toml:"format"` // json, console, pretty
	Output string `yaml:"output" toml:"output"` // stdout, stderr, or file path
	Pretty bool   `yaml:"pretty" toml:"pretty"` // force colored console output
}

// ParseLevel converts the configured level to a zerolog.Level.
// Unknown levels fall back to info.
func (l *LoggingConfig) ParseLevel() zerolog.Level {
	switch strings.ToLower(l.Level) {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// LogFile returns the log file path when output goes to a file.
func (l *LoggingConfig) LogFile() mo.Option[string] {
	switch l.Output {
	case "", "stdout", "stderr":
		return mo.None[string]()
	default:
		return mo.Some(l.Output)
	}
}

// Policy returns the override configured for api, if any.
func (c *Config) Policy(api string) mo.Option[ratelimit.PolicyOverride] {
	o, ok := c.Policies[api]
	if !ok {
		return mo.None[ratelimit.PolicyOverride]()
	}
	return mo.Some(o)
}

// MinInterval returns the outbound pacing interval when pacing is on.
func (c *Config) MinInterval() mo.Option[time.Duration] {
	if d := c.Retry.GetMinInterval(); d > 0 {
		return mo.Some(d)
	}
	return mo.None[time.Duration]()
}

// Default returns the configuration used when no file is given: local
// buckets, default policies, retry defaults and no response cache.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: LevelInfo, Format: "console", Output: "stderr"},
		Limiter: LimiterConfig{Config: store.Config{Backend: store.BackendLocal, TTLMode: store.TTLSliding}},
		Cache:   cache.Config{Mode: cache.ModeDisabled},
	}
}
