// Package bucket implements the token bucket algorithm used by quota-relay.
//
// The package is pure: Evaluate takes the current bucket state and a point in
// time and returns the next state together with a Decision. It never reads the
// clock and never touches storage, so stores and the limiter facade can run it
// inside whatever atomic section their backend provides.
//
// Basic usage:
//
//	b := bucket.New(15, 1.0, time.Now()) // 15 tokens, 1 token/s
//
//	next, dec, err := bucket.Evaluate(b, time.Now(), 1)
//	if err != nil {
//		// configuration error: requested > capacity or bad limits
//	}
//	if !dec.Allowed {
//		time.Sleep(dec.Wait)
//	}
package bucket

import (
	"math"
	"time"
)

// Bucket is the quota state for one (api, endpoint) pair.
type Bucket struct {
	// LastRefill is the time of the last recalculation.
	LastRefill time.Time `json:"last_refill"`

	// Tokens is the number of call credits currently available.
	// Always within [0, MaxTokens] after Evaluate.
	Tokens float64 `json:"tokens"`

	// RefillRate is the number of tokens added per second.
	RefillRate float64 `json:"refill_rate"`

	// MaxTokens is the bucket capacity.
	MaxTokens int `json:"max_tokens"`
}

// Decision is the outcome of evaluating a request against a bucket.
type Decision struct {
	// Allowed reports whether the requested tokens were consumed.
	Allowed bool `json:"allowed"`

	// Wait is how long the caller must wait before the same request can succeed.
	// Zero when Allowed is true.
	Wait time.Duration `json:"wait"`

	// Remaining is the token balance after the decision was applied.
	Remaining float64 `json:"remaining"`
}

// WaitSeconds returns Wait as fractional seconds.
func (d Decision) WaitSeconds() float64 {
	return d.Wait.Seconds()
}

// New returns a full bucket with the given limits, last refilled at now.
func New(maxTokens int, refillRate float64, now time.Time) Bucket {
	return Bucket{
		Tokens:     float64(maxTokens),
		MaxTokens:  maxTokens,
		RefillRate: refillRate,
		LastRefill: now,
	}
}

// Validate checks the bucket limits.
func (b Bucket) Validate() error {
	return ValidateLimits(b.MaxTokens, b.RefillRate)
}

// PercentFull returns the fill level of the bucket in the range [0, 100].
func (b Bucket) PercentFull() float64 {
	if b.MaxTokens <= 0 {
		return 0
	}
	return b.Tokens / float64(b.MaxTokens) * 100
}

// ValidateLimits checks that a capacity and refill rate describe a usable bucket.
func ValidateLimits(maxTokens int, refillRate float64) error {
	if maxTokens <= 0 {
		return &ConfigurationError{Field: "max_tokens", Reason: "must be positive", Value: maxTokens}
	}
	if refillRate <= 0 || math.IsNaN(refillRate) || math.IsInf(refillRate, 0) {
		return &ConfigurationError{Field: "refill_rate", Reason: "must be a positive finite number", Value: refillRate}
	}
	return nil
}

// Peek returns the bucket refilled up to now without consuming anything.
// It is the read-only view used for status reporting.
func Peek(b Bucket, now time.Time) Bucket {
	b.Tokens = refill(b, now)
	if now.After(b.LastRefill) {
		b.LastRefill = now
	}
	return b
}

// Evaluate decides whether requested tokens can be consumed at now.
//
// The bucket is refilled for the elapsed time (negative elapsed time from clock
// skew counts as zero) and capped at MaxTokens. If enough tokens are available
// they are consumed; otherwise nothing is consumed and Wait reports how long
// the missing tokens take to refill. LastRefill is set to now in both cases.
//
// Requests that can never succeed (requested > MaxTokens, requested < 1) and
// invalid limits return a *ConfigurationError.
func Evaluate(b Bucket, now time.Time, requested int) (Bucket, Decision, error) {
	if err := b.Validate(); err != nil {
		return b, Decision{}, err
	}
	if requested < 1 {
		return b, Decision{}, &ConfigurationError{Field: "tokens", Reason: "must be at least 1", Value: requested}
	}
	if requested > b.MaxTokens {
		return b, Decision{}, &ConfigurationError{
			Field:  "tokens",
			Reason: "exceeds bucket capacity",
			Value:  requested,
			Limit:  b.MaxTokens,
		}
	}

	available := refill(b, now)
	next := b
	next.LastRefill = now

	need := float64(requested)
	if available+tolerance >= need {
		next.Tokens = clamp(available-need, b.MaxTokens)
		return next, Decision{Allowed: true, Remaining: next.Tokens}, nil
	}

	next.Tokens = available
	wait := (need - available) / b.RefillRate
	return next, Decision{
		Allowed:   false,
		Wait:      secondsToDuration(wait),
		Remaining: available,
	}, nil
}

// tolerance absorbs float rounding so that sleeping for a reported Wait is
// always enough to satisfy the same request.
const tolerance = 1e-9

// refill returns the token balance at now, capped at capacity.
func refill(b Bucket, now time.Time) float64 {
	elapsed := now.Sub(b.LastRefill).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	return clamp(b.Tokens+elapsed*b.RefillRate, b.MaxTokens)
}

func clamp(tokens float64, maxTokens int) float64 {
	if tokens < 0 {
		return 0
	}
	if limit := float64(maxTokens); tokens > limit {
		return limit
	}
	return tokens
}

// secondsToDuration converts fractional seconds to a Duration, rounding up to
// the next nanosecond so a caller sleeping for Wait never wakes up early.
func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(math.Ceil(seconds * float64(time.Second)))
}
