package config

import (
	"github.com/omarluq/quota-relay/internal/health"
	"github.com/omarluq/quota-relay/internal/ratelimit"
)

var validLogLevels = map[string]bool{
	"":         true,
	LevelDebug: true,
	LevelInfo:  true,
	LevelWarn:  true,
	LevelError: true,
}

var validLogFormats = map[string]bool{
	"":        true,
	"json":    true,
	"console": true,
	"text":    true,
	"pretty":  true,
}

// Validate checks the whole configuration and reports every problem at once
// as a *ValidationError.
func (c *Config) Validate() error {
	errs := &ValidationError{}

	validateLogging(&c.Logging, errs)
	errs.AddErr(c.Limiter.Config.Validate())
	validateBreaker("limiter.fallback", &c.Limiter.Fallback, errs)
	validateBreaker("circuit_breaker", &c.CircuitBreaker, errs)
	errs.AddErr(c.Retry.Validate())
	errs.AddErr(c.Cache.Validate())

	if _, err := ratelimit.NewRegistry(c.Policies); err != nil {
		errs.Addf("policies: %v", err)
	}

	return errs.ToError()
}

func validateLogging(l *LoggingConfig, errs *ValidationError) {
	if !validLogLevels[l.Level] {
		errs.Addf("logging.level must be one of debug, info, warn, error; got %q", l.Level)
	}
	if !validLogFormats[l.Format] {
		errs.Addf("logging.format must be one of json, console, pretty; got %q", l.Format)
	}
}

func validateBreaker(section string, b *health.CircuitBreakerConfig, errs *ValidationError) {
	if b.FailureThreshold < 0 {
		errs.Addf("%s.failure_threshold must be >= 0", section)
	}
	if b.OpenDurationMS < 0 {
		errs.Addf("%s.open_duration_ms must be >= 0", section)
	}
	if b.HalfOpenProbes < 0 {
		errs.Addf("%s.half_open_probes must be >= 0", section)
	}
}
