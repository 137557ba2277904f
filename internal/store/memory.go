package store

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/omarluq/quota-relay/internal/bucket"
)

// memoryEntry is a stored record plus the time it was last written.
type memoryEntry struct {
	touched time.Time
	rec     record
}

// memoryStore implements Store with an in-process map.
// A single mutex covers read, evaluate, and write, which makes every Update
// atomic with respect to all other operations on the store.
type memoryStore struct {
	now     func() time.Time
	entries map[Key]memoryEntry
	stop    chan struct{}
	done    chan struct{}
	log     zerolog.Logger
	ttl     TTLPolicy
	mu      sync.Mutex
	closed  atomic.Bool
}

// Ensure memoryStore implements the required interfaces.
var (
	_ Store = (*memoryStore)(nil)
	_ Namer = (*memoryStore)(nil)
)

// NewMemory returns a local store. It never reports ErrBackendUnavailable,
// which makes it the fallback target for shared stores.
func NewMemory(ttl TTLPolicy, opts ...Option) Store {
	return newMemoryStore(ttl, buildOptions(opts))
}

func newMemoryStore(ttl TTLPolicy, o options) *memoryStore {
	m := &memoryStore{
		now:     o.clock,
		entries: make(map[Key]memoryEntry),
		log:     o.logger.With().Str("backend", "memory").Logger(),
		ttl:     ttl,
	}

	if ttl.Enabled() && o.janitorInterval > 0 {
		m.stop = make(chan struct{})
		m.done = make(chan struct{})
		go m.janitor(o.janitorInterval)
	}

	m.log.Debug().
		Dur("ttl", ttl.TTL).
		Str("ttl_mode", string(ttl.Mode)).
		Msg("memory store created")
	return m
}

// Name returns the backend name.
func (m *memoryStore) Name() string { return "memory" }

// GetOrCreate returns the bucket for key, creating a full one if missing.
func (m *memoryStore) GetOrCreate(ctx context.Context, key Key, limits Limits) (bucket.Bucket, error) {
	return m.Update(ctx, key, limits, identity)
}

// Save stores b under key.
func (m *memoryStore) Save(ctx context.Context, key Key, b bucket.Bucket) error {
	_, err := m.Update(ctx, key, limitsOf(b), replaceWith(b))
	return err
}

// Update runs read, fn, write under the store mutex.
func (m *memoryStore) Update(ctx context.Context, key Key, limits Limits, fn UpdateFunc) (bucket.Bucket, error) {
	if err := ctx.Err(); err != nil {
		return bucket.Bucket{}, err
	}
	if err := limits.Validate(); err != nil {
		return bucket.Bucket{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed.Load() {
		return bucket.Bucket{}, ErrClosed
	}

	now := m.now()
	entry, ok := m.entries[key]
	if !ok || m.ttl.Expired(entry.rec.CreatedAt, entry.touched, now) {
		entry.rec = record{CreatedAt: now, Bucket: bucket.New(limits.MaxTokens, limits.RefillRate, now)}
		m.log.Debug().Str("key", key.String()).Msg("bucket created")
	} else {
		entry.rec.Bucket = limits.apply(entry.rec.Bucket)
	}

	next, err := fn(entry.rec.Bucket)
	if err != nil {
		return entry.rec.Bucket, err
	}

	entry.rec.Bucket = next
	entry.touched = now
	m.entries[key] = entry
	return next, nil
}

// Snapshot returns the live buckets for api, or all of them when api is empty.
func (m *memoryStore) Snapshot(ctx context.Context, api string) (map[Key]bucket.Bucket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed.Load() {
		return nil, ErrClosed
	}

	now := m.now()
	out := make(map[Key]bucket.Bucket, len(m.entries))
	for key, entry := range m.entries {
		if api != "" && key.API != api {
			continue
		}
		if m.ttl.Expired(entry.rec.CreatedAt, entry.touched, now) {
			continue
		}
		out[key] = entry.rec.Bucket
	}
	return out, nil
}

// Delete removes a bucket.
func (m *memoryStore) Delete(ctx context.Context, key Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed.Load() {
		return ErrClosed
	}
	delete(m.entries, key)
	return nil
}

// Close stops the janitor and drops all buckets.
func (m *memoryStore) Close() error {
	m.mu.Lock()
	if m.closed.Swap(true) {
		m.mu.Unlock()
		return nil
	}
	m.entries = nil
	m.mu.Unlock()

	if m.stop != nil {
		close(m.stop)
		<-m.done
	}
	m.log.Debug().Msg("memory store closed")
	return nil
}

// janitor evicts expired buckets so idle keys do not accumulate.
func (m *memoryStore) janitor(interval time.Duration) {
	defer close(m.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			if n := m.sweep(); n > 0 {
				m.log.Debug().Int("evicted", n).Msg("expired buckets evicted")
			}
		}
	}
}

// sweep removes expired entries and returns how many were removed.
func (m *memoryStore) sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	evicted := 0
	for key, entry := range m.entries {
		if m.ttl.Expired(entry.rec.CreatedAt, entry.touched, now) {
			delete(m.entries, key)
			evicted++
		}
	}
	return evicted
}
