package health

import (
	"sync"

	"github.com/rs/zerolog"
)

// Tracker owns one breaker per external API, created on first use with a
// shared configuration.
type Tracker struct {
	circuits map[string]*CircuitBreaker
	logger   *zerolog.Logger
	config   CircuitBreakerConfig
	mu       sync.RWMutex
}

// NewTracker creates an empty Tracker.
func NewTracker(cfg CircuitBreakerConfig, logger *zerolog.Logger) *Tracker {
	return &Tracker{
		circuits: make(map[string]*CircuitBreaker),
		config:   cfg,
		logger:   logger,
	}
}

// Circuit returns the breaker for api, creating it if needed.
func (t *Tracker) Circuit(api string) *CircuitBreaker {
	t.mu.RLock()
	cb, ok := t.circuits[api]
	t.mu.RUnlock()
	if ok {
		return cb
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if cb, ok = t.circuits[api]; ok {
		return cb
	}
	cb = NewCircuitBreaker(api, t.config, t.logger)
	t.circuits[api] = cb
	if t.logger != nil {
		t.logger.Debug().Str("api", api).Msg("circuit breaker created")
	}
	return cb
}

// State returns the state of api's breaker; APIs never seen are closed.
func (t *Tracker) State(api string) State {
	t.mu.RLock()
	cb, ok := t.circuits[api]
	t.mu.RUnlock()
	if !ok {
		return StateClosed
	}
	return cb.State()
}

// IsHealthy reports whether calls to api currently go through.
// Half-open counts as healthy because probes are allowed.
func (t *Tracker) IsHealthy(api string) bool {
	return t.State(api) != StateOpen
}

// States returns a snapshot of every known breaker state.
func (t *Tracker) States() map[string]State {
	t.mu.RLock()
	defer t.mu.RUnlock()

	states := make(map[string]State, len(t.circuits))
	for api, cb := range t.circuits {
		states[api] = cb.State()
	}
	return states
}
