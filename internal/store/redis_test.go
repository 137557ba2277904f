package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omarluq/quota-relay/internal/store"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, client
}

func newTestRedisStore(t *testing.T, clock *fakeClock, ttl store.TTLPolicy) (store.Store, *miniredis.Miniredis) {
	t.Helper()
	mr, client := newTestRedis(t)
	s := store.NewRedisStoreForTest(client, store.DefaultRedisConfig(), ttl, clock.Now)
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestRedisStore_Contract(t *testing.T) {
	runStoreContract(t, func(t *testing.T, clock *fakeClock) store.Store {
		s, _ := newTestRedisStore(t, clock, store.TTLPolicy{TTL: time.Hour, Mode: store.TTLSliding})
		return s
	})
}

func TestRedisStore_HashLayout(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	s, mr := newTestRedisStore(t, clock, store.TTLPolicy{TTL: time.Hour, Mode: store.TTLSliding})
	ctx := context.Background()

	_, err := s.Update(ctx, store.Key{API: "taapi", Endpoint: "rsi"},
		store.Limits{MaxTokens: 15, RefillRate: 1}, consumeOne(clock, nil))
	require.NoError(t, err)

	key := "rate_limit:taapi:rsi"
	require.True(t, mr.Exists(key))
	assert.Equal(t, "14", mr.HGet(key, "tokens"))
	assert.Equal(t, "15", mr.HGet(key, "max_tokens"))
	assert.Equal(t, "1", mr.HGet(key, "refill_rate"))
	assert.NotEmpty(t, mr.HGet(key, "last_refill"))
	assert.Equal(t, time.Hour, mr.TTL(key))
}

func TestRedisStore_SlidingTTLRefreshedOnWrite(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	s, mr := newTestRedisStore(t, clock, store.TTLPolicy{TTL: time.Minute, Mode: store.TTLSliding})
	ctx := context.Background()
	key := store.Key{API: "grok"}
	limits := store.Limits{MaxTokens: 20, RefillRate: 1.0 / 3}

	_, err := s.Update(ctx, key, limits, consumeOne(clock, nil))
	require.NoError(t, err)

	mr.FastForward(40 * time.Second)
	clock.Advance(40 * time.Second)
	_, err = s.Update(ctx, key, limits, consumeOne(clock, nil))
	require.NoError(t, err)
	assert.Equal(t, time.Minute, mr.TTL("rate_limit:grok:default"))

	mr.FastForward(61 * time.Second)
	assert.False(t, mr.Exists("rate_limit:grok:default"))
}

func TestRedisStore_FixedTTLCountsFromCreation(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	s, mr := newTestRedisStore(t, clock, store.TTLPolicy{TTL: time.Minute, Mode: store.TTLFixed})
	ctx := context.Background()
	key := store.Key{API: "perplexity"}
	limits := store.Limits{MaxTokens: 20, RefillRate: 1.0 / 3}

	_, err := s.Update(ctx, key, limits, consumeOne(clock, nil))
	require.NoError(t, err)

	mr.FastForward(40 * time.Second)
	clock.Advance(40 * time.Second)
	_, err = s.Update(ctx, key, limits, consumeOne(clock, nil))
	require.NoError(t, err)
	assert.Equal(t, 20*time.Second, mr.TTL("rate_limit:perplexity:default"))
}

func TestRedisStore_NoExpiry(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	s, mr := newTestRedisStore(t, clock, store.TTLPolicy{})

	_, err := s.GetOrCreate(context.Background(), store.Key{API: "coindesk"}, store.Limits{MaxTokens: 100, RefillRate: 1})
	require.NoError(t, err)
	assert.Zero(t, mr.TTL("rate_limit:coindesk:default"))
}

func TestRedisStore_CorruptHashIsReplaced(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	s, mr := newTestRedisStore(t, clock, store.TTLPolicy{TTL: time.Hour})
	mr.HSet("rate_limit:coinbase:ticker", "tokens", "not-a-number")

	b, err := s.GetOrCreate(context.Background(), store.Key{API: "coinbase", Endpoint: "ticker"},
		store.Limits{MaxTokens: 30, RefillRate: 30})
	require.NoError(t, err)
	assert.InDelta(t, 30, b.Tokens, 1e-9)
}

func TestRedisStore_BackendDown(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	s, mr := newTestRedisStore(t, clock, store.TTLPolicy{TTL: time.Hour})
	mr.Close()

	ctx := context.Background()
	_, err := s.GetOrCreate(ctx, store.Key{API: "coinbase"}, store.Limits{MaxTokens: 30, RefillRate: 30})
	require.ErrorIs(t, err, store.ErrBackendUnavailable)

	var unavailable *store.BackendUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, "redis", unavailable.Backend)
	assert.Equal(t, "update", unavailable.Op)

	pinger, ok := s.(store.Pinger)
	require.True(t, ok)
	require.ErrorIs(t, pinger.Ping(ctx), store.ErrBackendUnavailable)
}

func TestRedisStore_SharedBetweenInstances(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	mr := miniredis.RunT(t)
	limits := store.Limits{MaxTokens: 6, RefillRate: 1}
	key := store.Key{API: "scrapingbee"}

	var stores []store.Store
	for i := 0; i < 2; i++ {
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		s := store.NewRedisStoreForTest(client, store.DefaultRedisConfig(), store.TTLPolicy{TTL: time.Hour}, clock.Now)
		t.Cleanup(func() { _ = s.Close() })
		stores = append(stores, s)
	}

	for i := 0; i < 3; i++ {
		for _, s := range stores {
			_, err := s.Update(context.Background(), key, limits, consumeOne(clock, nil))
			require.NoError(t, err)
		}
	}

	b, err := stores[0].GetOrCreate(context.Background(), key, limits)
	require.NoError(t, err)
	assert.InDelta(t, 0, b.Tokens, 1e-9)
}

func TestNew_SharedRedis(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	cfg := store.Config{
		Backend: store.BackendShared,
		Shared: store.SharedConfig{
			Driver: store.DriverRedis,
			Redis:  store.RedisConfig{Addr: mr.Addr(), Prefix: "test:"},
		},
	}

	s, err := store.New(context.Background(), &cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	namer, ok := s.(store.Namer)
	require.True(t, ok)
	assert.Equal(t, "redis", namer.Name())

	_, err = s.GetOrCreate(context.Background(), store.Key{API: "taapi"}, store.Limits{MaxTokens: 15, RefillRate: 1})
	require.NoError(t, err)
	assert.True(t, mr.Exists("test:taapi:default"))
}

func TestNew_SharedRedisUnreachable(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := store.Config{
		Backend: store.BackendShared,
		Shared:  store.SharedConfig{Redis: store.RedisConfig{Addr: addr}, TimeoutMS: 100},
	}

	_, err := store.New(context.Background(), &cfg)
	require.ErrorIs(t, err, store.ErrBackendUnavailable)
}

func TestNewUnverified_RedisConnectsLater(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := store.Config{
		Backend: store.BackendShared,
		Shared:  store.SharedConfig{Redis: store.RedisConfig{Addr: addr}, TimeoutMS: 100},
	}
	s, err := store.NewUnverified(&cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	limits := store.Limits{MaxTokens: 15, RefillRate: 1}
	_, err = s.GetOrCreate(ctx, store.Key{API: "taapi"}, limits)
	require.ErrorIs(t, err, store.ErrBackendUnavailable)

	revived := miniredis.NewMiniRedis()
	if err := revived.StartAddr(addr); err != nil {
		t.Skipf("cannot rebind %s: %v", addr, err)
	}
	t.Cleanup(revived.Close)

	require.Eventually(t, func() bool {
		_, err := s.GetOrCreate(ctx, store.Key{API: "taapi"}, limits)
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)
	assert.True(t, revived.Exists("rate_limit:taapi:default"))
}

func TestNewUnverified_Unsupported(t *testing.T) {
	t.Parallel()

	_, err := store.NewUnverified(&store.Config{Backend: store.BackendLocal})
	require.Error(t, err)

	_, err = store.NewUnverified(&store.Config{
		Backend: store.BackendShared,
		Shared: store.SharedConfig{
			Driver: store.DriverOlric,
			Olric:  store.OlricConfig{Addresses: []string{"127.0.0.1:3320"}},
		},
	})
	require.Error(t, err)
}
