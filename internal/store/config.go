package store

import (
	"errors"
	"fmt"
	"time"
)

// Backend selects where bucket state lives.
type Backend string

const (
	// BackendLocal keeps buckets in process memory (default).
	// State is lost on restart; buckets come back full.
	BackendLocal Backend = "local"

	// BackendShared keeps buckets in an external store so several processes
	// share one quota.
	BackendShared Backend = "shared"
)

// Driver selects the shared backend implementation.
type Driver string

const (
	// DriverRedis stores buckets in Redis (default shared driver).
	DriverRedis Driver = "redis"

	// DriverOlric stores buckets in an Olric DMap, embedded or clustered.
	DriverOlric Driver = "olric"
)

// TTLMode controls how bucket expiry is counted.
type TTLMode string

const (
	// TTLSliding restarts the TTL on every write (default).
	TTLSliding TTLMode = "sliding"

	// TTLFixed counts the TTL from bucket creation.
	TTLFixed TTLMode = "fixed"
)

// Default configuration values.
const (
	DefaultTTLSeconds      = 3600
	DefaultSharedTimeoutMS = 500
	DefaultRedisPrefix     = "rate_limit:"
	DefaultRedisAddr       = "localhost:6379"
	DefaultMaxTxRetries    = 64
	DefaultDMapName        = "quota-relay"
	DefaultLockLeaseMS     = 2000
)

// Config defines bucket store configuration.
// Use Validate() to check for configuration errors before creating a store.
type Config struct {
	Backend Backend      `yaml:"backend" toml:"backend"`
	TTLMode TTLMode      `yaml:"ttl_mode" toml:"ttl_mode"`
	Shared  SharedConfig `yaml:"shared" toml:"shared"`

	// TTLSeconds is the idle lifetime of a bucket. Zero means the default
	// (one hour); a negative value disables expiry.
	TTLSeconds int `yaml:"ttl_seconds" toml:"ttl_seconds"`
}

// SharedConfig configures the shared backend.
type SharedConfig struct {
	Driver Driver      `yaml:"driver" toml:"driver"`
	Redis  RedisConfig `yaml:"redis" toml:"redis"`
	Olric  OlricConfig `yaml:"olric" toml:"olric"`

	// TimeoutMS bounds every shared-backend operation so a dead backend never
	// blocks a caller. Default: 500ms.
	TimeoutMS int `yaml:"timeout_ms" toml:"timeout_ms"`
}

// RedisConfig configures the Redis driver.
type RedisConfig struct {
	Addr     string `yaml:"addr" toml:"addr"`
	Username string `yaml:"username" toml:"username"`
	Password string `yaml:"password" toml:"password"`
	Prefix   string `yaml:"prefix" toml:"prefix"`
	DB       int    `yaml:"db" toml:"db"`

	// MaxTxRetries bounds optimistic transaction retries under contention.
	MaxTxRetries int `yaml:"max_tx_retries" toml:"max_tx_retries"`
}

// OlricConfig configures the Olric driver.
// Olric provides a distributed in-memory key/value store with clustering support.
type OlricConfig struct {
	DMapName  string   `yaml:"dmap_name" toml:"dmap_name"`
	BindAddr  string   `yaml:"bind_addr" toml:"bind_addr"`
	Addresses []string `yaml:"addresses" toml:"addresses"`
	Peers     []string `yaml:"peers" toml:"peers"`
	Embedded  bool     `yaml:"embedded" toml:"embedded"`

	// LockLeaseMS is how long a bucket lock may be held before Olric frees it.
	LockLeaseMS int `yaml:"lock_lease_ms" toml:"lock_lease_ms"`
}

// Validate checks the configuration for errors.
// Returns nil if the configuration is valid.
func (c *Config) Validate() error {
	switch c.TTLMode {
	case "", TTLSliding, TTLFixed:
	default:
		return fmt.Errorf("store: unknown ttl_mode %q", c.TTLMode)
	}

	switch c.Backend {
	case "", BackendLocal:
		return nil
	case BackendShared:
		return c.Shared.validate()
	default:
		return fmt.Errorf("store: unknown backend %q", c.Backend)
	}
}

func (s *SharedConfig) validate() error {
	if s.TimeoutMS < 0 {
		return errors.New("store: shared.timeout_ms must be >= 0")
	}
	switch s.Driver {
	case "", DriverRedis:
		if s.Redis.DB < 0 {
			return errors.New("store: shared.redis.db must be >= 0")
		}
	case DriverOlric:
		if !s.Olric.Embedded && len(s.Olric.Addresses) == 0 {
			return errors.New("store: shared.olric.addresses required when not embedded")
		}
		if s.Olric.Embedded && s.Olric.BindAddr == "" {
			return errors.New("store: shared.olric.bind_addr required when embedded")
		}
	default:
		return fmt.Errorf("store: unknown shared driver %q", s.Driver)
	}
	return nil
}

// GetBackend returns the backend with default fallback.
func (c *Config) GetBackend() Backend {
	if c.Backend == "" {
		return BackendLocal
	}
	return c.Backend
}

// GetDriver returns the shared driver with default fallback.
func (s *SharedConfig) GetDriver() Driver {
	if s.Driver == "" {
		return DriverRedis
	}
	return s.Driver
}

// GetTimeout returns the shared operation timeout.
func (s *SharedConfig) GetTimeout() time.Duration {
	if s.TimeoutMS <= 0 {
		return time.Duration(DefaultSharedTimeoutMS) * time.Millisecond
	}
	return time.Duration(s.TimeoutMS) * time.Millisecond
}

// TTL returns the expiry policy described by the configuration.
func (c *Config) TTL() TTLPolicy {
	mode := c.TTLMode
	if mode == "" {
		mode = TTLSliding
	}
	switch {
	case c.TTLSeconds == 0:
		return TTLPolicy{TTL: time.Duration(DefaultTTLSeconds) * time.Second, Mode: mode}
	case c.TTLSeconds < 0:
		return TTLPolicy{Mode: mode}
	default:
		return TTLPolicy{TTL: time.Duration(c.TTLSeconds) * time.Second, Mode: mode}
	}
}

// TTLPolicy decides when an idle bucket may be evicted.
// A zero TTL disables expiry.
type TTLPolicy struct {
	Mode TTLMode
	TTL  time.Duration
}

// Enabled reports whether buckets expire at all.
func (p TTLPolicy) Enabled() bool {
	return p.TTL > 0
}

// Expired reports whether a bucket created at created and last written at
// touched is past its lifetime at now.
func (p TTLPolicy) Expired(created, touched, now time.Time) bool {
	if !p.Enabled() {
		return false
	}
	return !now.Before(p.deadline(created, touched))
}

// Remaining returns the expiry to set on a write performed at now.
func (p TTLPolicy) Remaining(created, now time.Time) time.Duration {
	if !p.Enabled() {
		return 0
	}
	remaining := p.deadline(created, now).Sub(now)
	if remaining < time.Millisecond {
		return time.Millisecond
	}
	return remaining
}

func (p TTLPolicy) deadline(created, touched time.Time) time.Time {
	if p.Mode == TTLFixed {
		return created.Add(p.TTL)
	}
	return touched.Add(p.TTL)
}

// DefaultRedisConfig returns a RedisConfig with sensible defaults.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         DefaultRedisAddr,
		Prefix:       DefaultRedisPrefix,
		MaxTxRetries: DefaultMaxTxRetries,
	}
}

// DefaultOlricConfig returns an OlricConfig with sensible defaults.
func DefaultOlricConfig() OlricConfig {
	return OlricConfig{
		DMapName:    DefaultDMapName,
		LockLeaseMS: DefaultLockLeaseMS,
	}
}
