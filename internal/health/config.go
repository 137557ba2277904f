// Package health guards calls to remote dependencies with circuit breakers.
//
// quota-relay keeps one breaker per external API, consulted by the retry
// controller before every attempt, and one breaker for the shared bucket
// store, consulted by the limiter to decide between the shared store and its
// local fallback. Breakers follow the usual CLOSED -> OPEN -> HALF-OPEN cycle
// provided by sony/gobreaker.
package health

import "time"

// Default configuration values.
const (
	DefaultFailureThreshold = 5     // consecutive failures to open the circuit
	DefaultOpenDurationMS   = 30000 // time spent open before probing again
	DefaultHalfOpenProbes   = 3     // calls let through while half-open
)

// CircuitBreakerConfig defines circuit breaker behavior.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the
	// circuit. Default: 5
	FailureThreshold int `yaml:"failure_threshold" toml:"failure_threshold"`

	// OpenDurationMS is how long the circuit rejects calls before letting
	// probes through. Default: 30000
	OpenDurationMS int `yaml:"open_duration_ms" toml:"open_duration_ms"`

	// HalfOpenProbes is the number of calls allowed while half-open. All must
	// succeed for the circuit to close. Default: 3
	HalfOpenProbes int `yaml:"half_open_probes" toml:"half_open_probes"`
}

// GetFailureThreshold returns the failure threshold or its default.
func (c *CircuitBreakerConfig) GetFailureThreshold() int {
	if c.FailureThreshold <= 0 {
		return DefaultFailureThreshold
	}
	return c.FailureThreshold
}

// GetOpenDuration returns the open duration or its default.
func (c *CircuitBreakerConfig) GetOpenDuration() time.Duration {
	if c.OpenDurationMS <= 0 {
		return time.Duration(DefaultOpenDurationMS) * time.Millisecond
	}
	return time.Duration(c.OpenDurationMS) * time.Millisecond
}

// GetHalfOpenProbes returns the half-open probe count or its default.
func (c *CircuitBreakerConfig) GetHalfOpenProbes() int {
	if c.HalfOpenProbes <= 0 {
		return DefaultHalfOpenProbes
	}
	return c.HalfOpenProbes
}
