package store_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omarluq/quota-relay/internal/bucket"
	"github.com/omarluq/quota-relay/internal/store"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeClock is a manually advanced clock shared by a store and its test.
type fakeClock struct {
	nanos atomic.Int64
}

func newFakeClock() *fakeClock {
	c := &fakeClock{}
	c.nanos.Store(epoch.UnixNano())
	return c
}

func (c *fakeClock) Now() time.Time {
	return time.Unix(0, c.nanos.Load())
}

func (c *fakeClock) Advance(d time.Duration) {
	c.nanos.Add(int64(d))
}

// storeFactory builds a fresh, empty store driven by clock.
type storeFactory func(t *testing.T, clock *fakeClock) store.Store

// consumeOne evaluates a one-token request at the clock's time. The decision of
// the last invocation is written to last, since optimistic backends may call
// the function more than once per Update.
func consumeOne(clock *fakeClock, last *bucket.Decision) store.UpdateFunc {
	return func(current bucket.Bucket) (bucket.Bucket, error) {
		next, dec, err := bucket.Evaluate(current, clock.Now(), 1)
		if err != nil {
			return current, err
		}
		if last != nil {
			*last = dec
		}
		return next, nil
	}
}

// runStoreContract checks the behavior every Store implementation shares.
func runStoreContract(t *testing.T, newStore storeFactory) {
	t.Helper()

	limits := store.Limits{MaxTokens: 10, RefillRate: 1}

	t.Run("GetOrCreate returns a full bucket", func(t *testing.T) {
		clock := newFakeClock()
		s := newStore(t, clock)
		ctx := context.Background()

		b, err := s.GetOrCreate(ctx, store.Key{API: "coinbase", Endpoint: "ticker"}, limits)
		require.NoError(t, err)
		assert.InDelta(t, 10, b.Tokens, 1e-9)
		assert.Equal(t, 10, b.MaxTokens)
		assert.InDelta(t, 1, b.RefillRate, 1e-9)
		assert.True(t, b.LastRefill.Equal(clock.Now()))
	})

	t.Run("Update persists the returned bucket", func(t *testing.T) {
		clock := newFakeClock()
		s := newStore(t, clock)
		ctx := context.Background()
		key := store.Key{API: "taapi", Endpoint: "rsi"}

		for i := 0; i < 3; i++ {
			_, err := s.Update(ctx, key, limits, consumeOne(clock, nil))
			require.NoError(t, err)
		}

		b, err := s.GetOrCreate(ctx, key, limits)
		require.NoError(t, err)
		assert.InDelta(t, 7, b.Tokens, 1e-9)
	})

	t.Run("Update passes callback errors through", func(t *testing.T) {
		clock := newFakeClock()
		s := newStore(t, clock)
		ctx := context.Background()
		key := store.Key{API: "grok"}
		boom := errors.New("boom")

		_, err := s.Update(ctx, key, limits, func(b bucket.Bucket) (bucket.Bucket, error) {
			b.Tokens = 0
			return b, boom
		})
		require.ErrorIs(t, err, boom)
		assert.False(t, errors.Is(err, store.ErrBackendUnavailable))

		b, err := s.GetOrCreate(ctx, key, limits)
		require.NoError(t, err)
		assert.InDelta(t, 10, b.Tokens, 1e-9, "failed update must not be persisted")
	})

	t.Run("Update rejects invalid limits", func(t *testing.T) {
		s := newStore(t, newFakeClock())

		_, err := s.Update(context.Background(), store.Key{API: "x"}, store.Limits{MaxTokens: 5}, nil)
		require.ErrorIs(t, err, bucket.ErrConfiguration)
	})

	t.Run("stored bucket adopts new limits", func(t *testing.T) {
		clock := newFakeClock()
		s := newStore(t, clock)
		ctx := context.Background()
		key := store.Key{API: "anthropic"}

		_, err := s.GetOrCreate(ctx, key, limits)
		require.NoError(t, err)

		b, err := s.GetOrCreate(ctx, key, store.Limits{MaxTokens: 4, RefillRate: 2})
		require.NoError(t, err)
		assert.Equal(t, 4, b.MaxTokens)
		assert.InDelta(t, 2, b.RefillRate, 1e-9)
		assert.InDelta(t, 4, b.Tokens, 1e-9)
	})

	t.Run("Save overwrites state", func(t *testing.T) {
		clock := newFakeClock()
		s := newStore(t, clock)
		ctx := context.Background()
		key := store.Key{API: "twitter", Endpoint: "search"}

		saved := bucket.Bucket{Tokens: 2.5, MaxTokens: 100, RefillRate: 0.5, LastRefill: clock.Now()}
		require.NoError(t, s.Save(ctx, key, saved))

		b, err := s.GetOrCreate(ctx, key, store.Limits{MaxTokens: 100, RefillRate: 0.5})
		require.NoError(t, err)
		assert.InDelta(t, 2.5, b.Tokens, 1e-9)
		assert.True(t, b.LastRefill.Equal(saved.LastRefill))
	})

	t.Run("Snapshot filters by api", func(t *testing.T) {
		clock := newFakeClock()
		s := newStore(t, clock)
		ctx := context.Background()

		for _, key := range []store.Key{
			{API: "coinbase", Endpoint: "ticker"},
			{API: "coinbase", Endpoint: "candles"},
			{API: "taapi", Endpoint: "rsi"},
		} {
			_, err := s.GetOrCreate(ctx, key, limits)
			require.NoError(t, err)
		}

		coinbase, err := s.Snapshot(ctx, "coinbase")
		require.NoError(t, err)
		assert.Len(t, coinbase, 2)
		assert.Contains(t, coinbase, store.Key{API: "coinbase", Endpoint: "ticker"})
		assert.Contains(t, coinbase, store.Key{API: "coinbase", Endpoint: "candles"})

		all, err := s.Snapshot(ctx, "")
		require.NoError(t, err)
		assert.Len(t, all, 3)
	})

	t.Run("Delete resets the bucket", func(t *testing.T) {
		clock := newFakeClock()
		s := newStore(t, clock)
		ctx := context.Background()
		key := store.Key{API: "perplexity"}

		_, err := s.Update(ctx, key, limits, consumeOne(clock, nil))
		require.NoError(t, err)
		require.NoError(t, s.Delete(ctx, key))
		require.NoError(t, s.Delete(ctx, key), "deleting a missing key is not an error")

		b, err := s.GetOrCreate(ctx, key, limits)
		require.NoError(t, err)
		assert.InDelta(t, 10, b.Tokens, 1e-9)
	})

	t.Run("concurrent updates never oversubscribe", func(t *testing.T) {
		clock := newFakeClock()
		s := newStore(t, clock)
		ctx := context.Background()
		key := store.Key{API: "scrapingbee", Endpoint: "render"}

		const workers = 40
		var allowed atomic.Int32
		var wg sync.WaitGroup
		wg.Add(workers)
		for i := 0; i < workers; i++ {
			go func() {
				defer wg.Done()
				var dec bucket.Decision
				_, err := s.Update(ctx, key, limits, consumeOne(clock, &dec))
				assert.NoError(t, err)
				if err == nil && dec.Allowed {
					allowed.Add(1)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(limits.MaxTokens), allowed.Load())
		b, err := s.GetOrCreate(ctx, key, limits)
		require.NoError(t, err)
		assert.InDelta(t, 0, b.Tokens, 1e-9)
	})

	t.Run("canceled context", func(t *testing.T) {
		s := newStore(t, newFakeClock())
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := s.GetOrCreate(ctx, store.Key{API: "coindesk"}, limits)
		require.ErrorIs(t, err, context.Canceled)
	})

	t.Run("operations after Close", func(t *testing.T) {
		s := newStore(t, newFakeClock())
		require.NoError(t, s.Close())
		require.NoError(t, s.Close(), "Close is idempotent")

		_, err := s.GetOrCreate(context.Background(), store.Key{API: "coinbase"}, limits)
		require.ErrorIs(t, err, store.ErrClosed)
	})
}
