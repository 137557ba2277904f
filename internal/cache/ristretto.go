package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/rs/zerolog"
)

// ristrettoCache implements Cache on a Ristretto cache. Entry cost is the
// approximate byte size of the response, so MaxCost bounds memory.
type ristrettoCache struct {
	cache  *ristretto.Cache[string, Entry]
	log    zerolog.Logger
	ttl    time.Duration
	closed atomic.Bool
	mu     sync.RWMutex
}

var (
	_ Cache         = (*ristrettoCache)(nil)
	_ StatsProvider = (*ristrettoCache)(nil)
)

func newRistrettoCache(cfg RistrettoConfig, ttl time.Duration) (*ristrettoCache, error) {
	log := logger().With().Str("backend", "ristretto").Logger()
	cfg = cfg.withDefaults()

	c, err := ristretto.NewCache(&ristretto.Config[string, Entry]{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
		Metrics:     true,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to create ristretto cache")
		return nil, err
	}

	log.Info().
		Int64("num_counters", cfg.NumCounters).
		Int64("max_cost", cfg.MaxCost).
		Dur("ttl", ttl).
		Msg("ristretto cache created")

	return &ristrettoCache{cache: c, log: log, ttl: ttl}, nil
}

// guard runs fn under the read lock unless the cache is closed.
func (r *ristrettoCache) guard(ctx context.Context, fn func()) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed.Load() {
		return ErrClosed
	}
	fn()
	return nil
}

func (r *ristrettoCache) Get(ctx context.Context, key string) (Entry, error) {
	var (
		entry Entry
		found bool
	)
	if err := r.guard(ctx, func() { entry, found = r.cache.Get(key) }); err != nil {
		return Entry{}, err
	}

	r.log.Debug().Str("key", key).Bool("hit", found).Msg("cache get")
	if !found {
		return Entry{}, ErrNotFound
	}
	return entry.clone(), nil
}

func (r *ristrettoCache) Put(ctx context.Context, key string, entry Entry) error {
	entry = entry.clone()
	var admitted bool
	err := r.guard(ctx, func() {
		admitted = r.cache.SetWithTTL(key, entry, entry.cost(), r.ttl)
	})
	if err != nil {
		return err
	}

	r.log.Debug().
		Str("key", key).
		Int("status", entry.Status).
		Int64("cost", entry.cost()).
		Bool("admitted", admitted).
		Msg("cache put")
	return nil
}

func (r *ristrettoCache) Delete(ctx context.Context, key string) error {
	return r.guard(ctx, func() { r.cache.Del(key) })
}

// wait blocks until buffered writes are applied.
func (r *ristrettoCache) wait() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.closed.Load() {
		r.cache.Wait()
	}
}

func (r *ristrettoCache) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed.Swap(true) {
		return nil
	}

	r.cache.Wait()
	r.cache.Close()
	r.log.Info().Msg("ristretto cache closed")
	return nil
}

func (r *ristrettoCache) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed.Load() {
		return Stats{}
	}

	m := r.cache.Metrics
	return Stats{
		Hits:      m.Hits(),
		Misses:    m.Misses(),
		KeyCount:  m.KeysAdded() - m.KeysEvicted(),
		BytesUsed: m.CostAdded() - m.CostEvicted(),
		Evictions: m.KeysEvicted(),
	}
}
