package cache

import (
	"context"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// noopCache stores nothing. Every Get misses and every Put succeeds.
type noopCache struct {
	log    zerolog.Logger
	closed atomic.Bool
}

var (
	_ Cache         = (*noopCache)(nil)
	_ StatsProvider = (*noopCache)(nil)
)

func newNoopCache() *noopCache {
	log := logger().With().Str("backend", "noop").Logger()
	log.Debug().Msg("response caching is disabled")
	return &noopCache{log: log}
}

func (c *noopCache) Get(_ context.Context, _ string) (Entry, error) {
	if c.closed.Load() {
		return Entry{}, ErrClosed
	}
	return Entry{}, ErrNotFound
}

func (c *noopCache) Put(_ context.Context, _ string, _ Entry) error {
	if c.closed.Load() {
		return ErrClosed
	}
	return nil
}

func (c *noopCache) Delete(_ context.Context, _ string) error {
	if c.closed.Load() {
		return ErrClosed
	}
	return nil
}

func (c *noopCache) Close() error {
	if !c.closed.Swap(true) {
		c.log.Debug().Msg("noop cache closed")
	}
	return nil
}

func (c *noopCache) Stats() Stats {
	return Stats{}
}
