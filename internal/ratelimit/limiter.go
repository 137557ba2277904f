// Package ratelimit is the quota facade of quota-relay.
//
// A Limiter composes a bucket store with the token bucket algorithm: Consume
// reads, refills, decides and writes back one bucket as a single atomic unit,
// so concurrent callers sharing a quota never spend the same token twice.
// On top of Consume the package offers a bounded blocking form (Wait, Do),
// read-only introspection (Status) and operator resets (Reset).
//
// Basic usage:
//
//	registry, _ := ratelimit.NewRegistry(nil)
//	limiter := ratelimit.New(s, registry)
//
//	policy, _ := registry.Resolve("taapi")
//	rsi, err := ratelimit.Do(ctx, limiter, "taapi", "rsi", policy, time.Minute,
//		func(ctx context.Context) (float64, error) {
//			return fetchRSI(ctx)
//		})
//	var quotaErr *ratelimit.QuotaExceededError
//	if errors.As(err, &quotaErr) {
//		// retry after quotaErr.Wait
//	}
package ratelimit

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/omarluq/quota-relay/internal/bucket"
	"github.com/omarluq/quota-relay/internal/health"
	"github.com/omarluq/quota-relay/internal/store"
)

// SleepFunc blocks for d or until ctx is done, whichever comes first.
type SleepFunc func(ctx context.Context, d time.Duration) error

// EndpointStatus is the read-only view of one bucket.
type EndpointStatus struct {
	Tokens      float64 `json:"tokens"`
	MaxTokens   int     `json:"max_tokens"`
	PercentFull float64 `json:"percent_full"`
}

// Limiter is the rate limiter facade. Construct one per process and share it;
// it is safe for concurrent use.
type Limiter struct {
	primary  store.Store
	local    store.Store
	breaker  *health.CircuitBreaker
	registry *Registry
	now      func() time.Time
	sleep    SleepFunc
	log      zerolog.Logger
	degraded atomic.Bool
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithFallback enables local fallback. When the primary store reports
// store.ErrBackendUnavailable the call is served from local instead, and the
// breaker keeps calls on local until it lets a probe through again.
func WithFallback(local store.Store, breaker *health.CircuitBreaker) Option {
	return func(l *Limiter) {
		l.local = local
		l.breaker = breaker
	}
}

// WithClock replaces time.Now for bucket evaluation.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// WithSleeper replaces the context-aware sleep used by Wait and Do.
func WithSleeper(sleep SleepFunc) Option {
	return func(l *Limiter) {
		if sleep != nil {
			l.sleep = sleep
		}
	}
}

// WithLogger sets the limiter logger.
func WithLogger(logger *zerolog.Logger) Option {
	return func(l *Limiter) {
		if logger != nil {
			l.log = logger.With().Str("component", "ratelimit").Logger()
		}
	}
}

// New creates a Limiter on top of primary.
func New(primary store.Store, registry *Registry, opts ...Option) *Limiter {
	l := &Limiter{
		primary:  primary,
		registry: registry,
		now:      time.Now,
		sleep:    Sleep,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Registry returns the policy registry the limiter resolves names with.
func (l *Limiter) Registry() *Registry {
	return l.registry
}

// Degraded reports whether the last shared-store call fell back to local.
func (l *Limiter) Degraded() bool {
	return l.degraded.Load()
}

// Consume tries to take tokens from the (api, endpoint) bucket of policy.
// An empty endpoint means policy.DefaultEndpoint. A denied decision consumes
// nothing and carries the wait after which the same request would succeed.
func (l *Limiter) Consume(ctx context.Context, api, endpoint string, tokens int, policy Policy) (bucket.Decision, error) {
	if err := policy.Validate(); err != nil {
		return bucket.Decision{}, err
	}
	if api == "" {
		api = policy.Name
	}
	key := store.Key{API: api, Endpoint: policy.endpoint(endpoint)}

	var dec bucket.Decision
	_, err := l.update(ctx, key, policy.Limits(), func(current bucket.Bucket) (bucket.Bucket, error) {
		next, d, err := bucket.Evaluate(current, l.now(), tokens)
		if err != nil {
			return current, err
		}
		dec = d
		return next, nil
	})
	if err != nil {
		return bucket.Decision{}, err
	}

	l.log.Debug().
		Str("api", key.API).
		Str("endpoint", key.Endpoint).
		Int("tokens", tokens).
		Bool("allowed", dec.Allowed).
		Dur("wait", dec.Wait).
		Float64("remaining", dec.Remaining).
		Msg("quota consumed")
	return dec, nil
}

// ConsumeNamed is Consume with the policy resolved from the registry by api.
func (l *Limiter) ConsumeNamed(ctx context.Context, api, endpoint string, tokens int) (bucket.Decision, error) {
	policy, err := l.registry.Resolve(api)
	if err != nil {
		return bucket.Decision{}, err
	}
	return l.Consume(ctx, api, endpoint, tokens, policy)
}

// Wait consumes tokens, sleeping while the bucket refills as long as the total
// time slept stays within maxWait. After each sleep the bucket is consumed
// again, so a competing caller that took the refilled tokens first only costs
// another wait. When the next wait would cross maxWait, Wait returns a
// *QuotaExceededError without sleeping.
func (l *Limiter) Wait(ctx context.Context, api, endpoint string, tokens int, policy Policy, maxWait time.Duration) error {
	if api == "" {
		api = policy.Name
	}
	endpoint = policy.endpoint(endpoint)

	var waited time.Duration
	for {
		dec, err := l.Consume(ctx, api, endpoint, tokens, policy)
		if err != nil {
			return err
		}
		if dec.Allowed {
			return nil
		}

		if waited+dec.Wait > maxWait {
			qe := &QuotaExceededError{API: api, Endpoint: endpoint, Wait: dec.Wait}
			l.log.Info().
				Str("api", qe.API).
				Str("endpoint", qe.Endpoint).
				Dur("wait", dec.Wait).
				Dur("max_wait", maxWait).
				Msg("quota exceeded")
			return qe
		}

		l.log.Debug().
			Str("api", api).
			Str("endpoint", endpoint).
			Dur("wait", dec.Wait).
			Msg("waiting for quota")
		if err := l.sleep(ctx, dec.Wait); err != nil {
			return err
		}
		waited += dec.Wait
	}
}

// Do runs work once quota for one token is available, waiting at most
// maxWait for it. Work never runs unpaid: a call that cannot get its token
// within maxWait returns a *QuotaExceededError and work is not invoked.
func Do[T any](
	ctx context.Context,
	l *Limiter,
	api, endpoint string,
	policy Policy,
	maxWait time.Duration,
	work func(context.Context) (T, error),
) (T, error) {
	if err := l.Wait(ctx, api, endpoint, 1, policy, maxWait); err != nil {
		var zero T
		return zero, err
	}
	return work(ctx)
}

// Status returns the bucket of every endpoint of api projected to now.
// It never consumes tokens.
func (l *Limiter) Status(ctx context.Context, api string) (map[string]EndpointStatus, error) {
	if api == "" {
		return nil, &ConfigurationError{Field: "api", Reason: "is required"}
	}
	snap, err := l.snapshot(ctx, api)
	if err != nil {
		return nil, err
	}
	now := l.now()
	return lo.MapEntries(snap, func(key store.Key, b bucket.Bucket) (string, EndpointStatus) {
		return key.Endpoint, statusOf(bucket.Peek(b, now))
	}), nil
}

// StatusAll returns Status for every API with at least one live bucket.
func (l *Limiter) StatusAll(ctx context.Context) (map[string]map[string]EndpointStatus, error) {
	snap, err := l.snapshot(ctx, "")
	if err != nil {
		return nil, err
	}
	now := l.now()
	out := make(map[string]map[string]EndpointStatus)
	for key, b := range snap {
		if out[key.API] == nil {
			out[key.API] = make(map[string]EndpointStatus)
		}
		out[key.API][key.Endpoint] = statusOf(bucket.Peek(b, now))
	}
	return out, nil
}

// Reset deletes the bucket of (api, endpoint), or every bucket of api when
// endpoint is empty. The next call recreates them full.
func (l *Limiter) Reset(ctx context.Context, api, endpoint string) error {
	if api == "" {
		return &ConfigurationError{Field: "api", Reason: "is required"}
	}

	keys := []store.Key{{API: api, Endpoint: endpoint}}
	if endpoint == "" {
		snap, err := l.snapshot(ctx, api)
		if err != nil {
			return err
		}
		keys = lo.Keys(snap)
	}

	for _, key := range keys {
		if err := l.each(func(s store.Store) error { return s.Delete(ctx, key) }); err != nil {
			return err
		}
		l.log.Info().Str("api", key.API).Str("endpoint", key.Endpoint).Msg("bucket reset")
	}
	return nil
}

func statusOf(b bucket.Bucket) EndpointStatus {
	return EndpointStatus{Tokens: b.Tokens, MaxTokens: b.MaxTokens, PercentFull: b.PercentFull()}
}

// update runs fn on the primary store, falling back to the local store when
// the primary is unavailable or its breaker is open.
func (l *Limiter) update(ctx context.Context, key store.Key, limits store.Limits, fn store.UpdateFunc) (bucket.Bucket, error) {
	if l.local == nil {
		return l.primary.Update(ctx, key, limits, fn)
	}

	done, err := l.breaker.Allow()
	if err != nil {
		return l.local.Update(ctx, key, limits, fn)
	}

	b, err := l.primary.Update(ctx, key, limits, fn)
	if errors.Is(err, store.ErrBackendUnavailable) {
		done(err)
		l.degrade(err)
		return l.local.Update(ctx, key, limits, fn)
	}
	done(nil)
	if err == nil {
		l.recover()
	}
	return b, err
}

// snapshot reads buckets from the store currently serving calls.
func (l *Limiter) snapshot(ctx context.Context, api string) (map[Key]bucket.Bucket, error) {
	if l.local == nil {
		return l.primary.Snapshot(ctx, api)
	}
	if l.breaker.State() == health.StateOpen {
		return l.local.Snapshot(ctx, api)
	}

	snap, err := l.primary.Snapshot(ctx, api)
	if errors.Is(err, store.ErrBackendUnavailable) {
		l.degrade(err)
		return l.local.Snapshot(ctx, api)
	}
	return snap, err
}

// each applies op to the primary and, when configured, the local store, so a
// reset also clears state accumulated during a fallback episode.
func (l *Limiter) each(op func(store.Store) error) error {
	if l.local != nil {
		if err := op(l.local); err != nil {
			return err
		}
	}
	err := op(l.primary)
	if l.local != nil && errors.Is(err, store.ErrBackendUnavailable) {
		l.degrade(err)
		return nil
	}
	return err
}

// degrade logs the first fallback of an episode; repeats stay quiet.
func (l *Limiter) degrade(err error) {
	if l.degraded.CompareAndSwap(false, true) {
		l.log.Warn().Err(err).Msg("shared bucket store unavailable, using local buckets")
	}
}

func (l *Limiter) recover() {
	if l.degraded.CompareAndSwap(true, false) {
		l.log.Info().Msg("shared bucket store reachable again")
	}
}

// Key aliases store.Key for callers that only import ratelimit.
type Key = store.Key

// Sleep blocks for d or until ctx is done. It is the default SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
