package health

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

// State is the breaker state.
type State = gobreaker.State

// Breaker states.
const (
	StateClosed   = gobreaker.StateClosed
	StateOpen     = gobreaker.StateOpen
	StateHalfOpen = gobreaker.StateHalfOpen
)

// CircuitBreaker wraps a gobreaker two-step breaker. Callers ask Allow before
// the guarded call and report its outcome through the returned done func.
type CircuitBreaker struct {
	cb   *gobreaker.TwoStepCircuitBreaker[struct{}]
	name string
}

// NewCircuitBreaker creates a breaker named after the dependency it guards.
// A nil logger disables state change logging.
func NewCircuitBreaker(name string, cfg CircuitBreakerConfig, logger *zerolog.Logger) *CircuitBreaker {
	threshold := uint32(cfg.GetFailureThreshold()) //nolint:gosec // getter returns a positive value
	probes := uint32(cfg.GetHalfOpenProbes())      //nolint:gosec // getter returns a positive value

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: probes,
		Timeout:     cfg.GetOpenDuration(),
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsExcluded: func(err error) bool {
			return errors.Is(err, ErrNotAttempted)
		},
		IsSuccessful: func(err error) bool {
			// A caller giving up says nothing about the dependency.
			return err == nil || errors.Is(err, context.Canceled)
		},
	}
	if logger != nil {
		settings.OnStateChange = func(name string, from, to gobreaker.State) {
			event := logger.Info()
			if to == gobreaker.StateOpen {
				event = logger.Warn()
			}
			event.
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state change")
		}
	}

	return &CircuitBreaker{
		cb:   gobreaker.NewTwoStepCircuitBreaker[struct{}](settings),
		name: name,
	}
}

// Allow reports whether a call may proceed. On success the caller must invoke
// done exactly once with the call's error (nil for success).
func (c *CircuitBreaker) Allow() (done func(err error), err error) {
	d, err := c.cb.Allow()
	if err != nil {
		// gobreaker returns ErrOpenState or ErrTooManyRequests.
		return nil, fmt.Errorf("%s: %w", c.name, ErrCircuitOpen)
	}
	return d, nil
}

// State returns the current state.
func (c *CircuitBreaker) State() State {
	return c.cb.State()
}

// Name returns the breaker name.
func (c *CircuitBreaker) Name() string {
	return c.name
}

// Counts returns the counters of the current generation.
func (c *CircuitBreaker) Counts() gobreaker.Counts {
	return c.cb.Counts()
}

// ReportSuccess records a success outside an Allow/done pair.
// It returns false while the circuit is open, since gobreaker records nothing then.
func (c *CircuitBreaker) ReportSuccess() bool {
	return c.report(nil)
}

// ReportFailure records a failure outside an Allow/done pair.
// It returns false while the circuit is open.
func (c *CircuitBreaker) ReportFailure(err error) bool {
	return c.report(err)
}

func (c *CircuitBreaker) report(err error) bool {
	done, allowErr := c.Allow()
	if allowErr != nil {
		return false
	}
	done(err)
	return true
}

// ShouldCountAsFailure decides whether an HTTP outcome says the remote API is
// unhealthy: transport errors (other than cancellation), 5xx, and 429.
// 401 and other 4xx are the caller's problem and keep the circuit closed.
func ShouldCountAsFailure(statusCode int, err error) bool {
	if err != nil {
		return !errors.Is(err, context.Canceled)
	}
	return statusCode >= http.StatusInternalServerError || statusCode == http.StatusTooManyRequests
}
