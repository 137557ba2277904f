package cache

import (
	"errors"
	"fmt"
	"time"
)

// Mode represents the cache operating mode.
type Mode string

const (
	// ModeSingle uses a local Ristretto cache.
	ModeSingle Mode = "single"

	// ModeDisabled stores nothing (default).
	ModeDisabled Mode = "disabled"
)

// DefaultTTLSeconds is how long a response stays cached when ttl_seconds is unset.
const DefaultTTLSeconds = 30

// Config defines cache configuration.
type Config struct {
	Mode       Mode            `yaml:"mode" toml:"mode"`
	Ristretto  RistrettoConfig `yaml:"ristretto" toml:"ristretto"`
	TTLSeconds int             `yaml:"ttl_seconds" toml:"ttl_seconds"`
}

// RistrettoConfig configures the Ristretto local cache.
type RistrettoConfig struct {
	// NumCounters is the number of 4-bit access counters, about 10x the
	// expected number of items.
	NumCounters int64 `yaml:"num_counters" toml:"num_counters"`

	// MaxCost is the maximum total size of cached responses in bytes.
	MaxCost int64 `yaml:"max_cost" toml:"max_cost"`

	// BufferItems is the number of keys per Get buffer.
	BufferItems int64 `yaml:"buffer_items" toml:"buffer_items"`
}

// GetMode returns the mode, defaulting to disabled.
func (c *Config) GetMode() Mode {
	if c.Mode == "" {
		return ModeDisabled
	}
	return c.Mode
}

// GetTTL returns how long responses stay cached.
func (c *Config) GetTTL() time.Duration {
	if c.TTLSeconds <= 0 {
		return DefaultTTLSeconds * time.Second
	}
	return time.Duration(c.TTLSeconds) * time.Second
}

// Enabled reports whether responses are cached at all.
func (c *Config) Enabled() bool {
	return c.GetMode() != ModeDisabled
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.TTLSeconds < 0 {
		return errors.New("cache: ttl_seconds must not be negative")
	}
	switch c.GetMode() {
	case ModeSingle:
		r := c.Ristretto.withDefaults()
		if r.MaxCost <= 0 {
			return errors.New("cache: ristretto.max_cost must be positive")
		}
		if r.NumCounters <= 0 {
			return errors.New("cache: ristretto.num_counters must be positive")
		}
	case ModeDisabled:
	default:
		return fmt.Errorf("cache: unknown mode %q", c.Mode)
	}
	return nil
}

// DefaultRistrettoConfig returns a RistrettoConfig sized for about 10K responses.
func DefaultRistrettoConfig() RistrettoConfig {
	return RistrettoConfig{
		NumCounters: 100_000,
		MaxCost:     32 << 20, // 32 MB.
		BufferItems: 64,
	}
}

// withDefaults fills zero fields from DefaultRistrettoConfig.
func (r RistrettoConfig) withDefaults() RistrettoConfig {
	d := DefaultRistrettoConfig()
	if r.NumCounters == 0 {
		r.NumCounters = d.NumCounters
	}
	if r.MaxCost == 0 {
		r.MaxCost = d.MaxCost
	}
	if r.BufferItems <= 0 {
		r.BufferItems = d.BufferItems
	}
	return r
}
