package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/omarluq/quota-relay/internal/bucket"
	"github.com/omarluq/quota-relay/internal/store"
)

var epoch = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

// testClock is a manual clock. Its sleeper advances time instead of blocking
// and records every requested sleep.
type testClock struct {
	sleeps []time.Duration
	nanos  atomic.Int64
	mu     sync.Mutex
}

func newTestClock() *testClock {
	c := &testClock{}
	c.nanos.Store(epoch.UnixNano())
	return c
}

func (c *testClock) Now() time.Time { return time.Unix(0, c.nanos.Load()) }

func (c *testClock) Advance(d time.Duration) { c.nanos.Add(int64(d)) }

func (c *testClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.mu.Unlock()
	c.Advance(d)
	return nil
}

func (c *testClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

func newTestStore(t *testing.T, clock *testClock) store.Store {
	t.Helper()
	s := store.NewMemory(store.TTLPolicy{TTL: time.Hour}, store.WithClock(clock.Now), store.WithJanitorInterval(0))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestLimiter(t *testing.T, clock *testClock, opts ...Option) *Limiter {
	t.Helper()
	registry, err := NewRegistry(nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	opts = append([]Option{WithClock(clock.Now), WithSleeper(clock.Sleep)}, opts...)
	return New(newTestStore(t, clock), registry, opts...)
}

// flakyStore wraps a store and reports it unavailable while down is set.
type flakyStore struct {
	store.Store
	down  atomic.Bool
	calls atomic.Int32
}

func (f *flakyStore) unavailable(op string) error {
	return &store.BackendUnavailableError{Backend: "flaky", Op: op, Err: context.DeadlineExceeded}
}

func (f *flakyStore) Update(ctx context.Context, key store.Key, limits store.Limits, fn store.UpdateFunc) (bucket.Bucket, error) {
	f.calls.Add(1)
	if f.down.Load() {
		return bucket.Bucket{}, f.unavailable("update")
	}
	return f.Store.Update(ctx, key, limits, fn)
}

func (f *flakyStore) Snapshot(ctx context.Context, api string) (map[store.Key]bucket.Bucket, error) {
	f.calls.Add(1)
	if f.down.Load() {
		return nil, f.unavailable("snapshot")
	}
	return f.Store.Snapshot(ctx, api)
}

func (f *flakyStore) Delete(ctx context.Context, key store.Key) error {
	f.calls.Add(1)
	if f.down.Load() {
		return f.unavailable("delete")
	}
	return f.Store.Delete(ctx, key)
}
