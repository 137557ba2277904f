package retry

import (
	"errors"
	"time"
)

// Defaults applied when a Config field is unset.
const (
	DefaultMaxRetries       = 3
	DefaultInitialBackoffMS = 5000
	DefaultMaxWaitMS        = 60000
	DefaultTimeoutMS        = 10000
)

// Config defines the retry controller defaults. Per-call options override
// MaxRetries, InitialBackoffMS and MaxWaitMS.
type Config struct {
	// MaxRetries is the number of retries after the first attempt.
	// Nil means DefaultMaxRetries; zero disables retries.
	MaxRetries *int `yaml:"max_retries" toml:"max_retries"`

	// InitialBackoffMS is the wait before the first retry. Retry r waits
	// InitialBackoffMS * 2^(r-1).
	InitialBackoffMS int `yaml:"initial_backoff_ms" toml:"initial_backoff_ms"`

	// MaxWaitMS caps the quota wait before each attempt.
	MaxWaitMS int `yaml:"max_wait_ms" toml:"max_wait_ms"`

	// MinIntervalMS is the minimum spacing between outbound attempts across
	// all APIs. Zero disables pacing.
	MinIntervalMS int `yaml:"min_interval_ms" toml:"min_interval_ms"`

	// TimeoutMS bounds one attempt, including reading the body.
	TimeoutMS int `yaml:"timeout_ms" toml:"timeout_ms"`
}

// GetMaxRetries returns the configured retry count.
func (c *Config) GetMaxRetries() int {
	if c.MaxRetries == nil {
		return DefaultMaxRetries
	}
	return *c.MaxRetries
}

// GetInitialBackoff returns the wait before the first retry.
func (c *Config) GetInitialBackoff() time.Duration {
	if c.InitialBackoffMS <= 0 {
		return DefaultInitialBackoffMS * time.Millisecond
	}
	return time.Duration(c.InitialBackoffMS) * time.Millisecond
}

// GetMaxWait returns the quota wait ceiling per attempt.
func (c *Config) GetMaxWait() time.Duration {
	if c.MaxWaitMS <= 0 {
		return DefaultMaxWaitMS * time.Millisecond
	}
	return time.Duration(c.MaxWaitMS) * time.Millisecond
}

// GetMinInterval returns the pacing interval; zero means no pacing.
func (c *Config) GetMinInterval() time.Duration {
	if c.MinIntervalMS <= 0 {
		return 0
	}
	return time.Duration(c.MinIntervalMS) * time.Millisecond
}

// GetTimeout returns the per-attempt timeout.
func (c *Config) GetTimeout() time.Duration {
	if c.TimeoutMS <= 0 {
		return DefaultTimeoutMS * time.Millisecond
	}
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.MaxRetries != nil && *c.MaxRetries < 0 {
		return errors.New("retry: max_retries must not be negative")
	}
	if c.InitialBackoffMS < 0 || c.MaxWaitMS < 0 || c.MinIntervalMS < 0 || c.TimeoutMS < 0 {
		return errors.New("retry: durations must not be negative")
	}
	return nil
}
