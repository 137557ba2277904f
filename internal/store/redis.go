package store

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/omarluq/quota-relay/internal/bucket"
)

// redisStore implements Store on Redis hashes.
//
// Each bucket is one hash under prefix+"api:endpoint" with the fields tokens,
// max_tokens, refill_rate, last_refill and created_at. Updates run inside a
// WATCH/MULTI transaction and are retried when another writer touches the key
// first, so concurrent processes never lose a decrement.
type redisStore struct {
	now        func() time.Time
	client     *redis.Client
	log        zerolog.Logger
	prefix     string
	ttl        TTLPolicy
	timeout    time.Duration
	maxRetries int
	closed     atomic.Bool
}

// Ensure redisStore implements the required interfaces.
var (
	_ Store  = (*redisStore)(nil)
	_ Pinger = (*redisStore)(nil)
	_ Namer  = (*redisStore)(nil)
)

// newRedisStore connects to Redis and verifies the connection with PING.
func newRedisStore(ctx context.Context, cfg *RedisConfig, ttl TTLPolicy, timeout time.Duration, o options) (*redisStore, error) {
	addr := redisAddr(cfg)
	client := newRedisClient(cfg, timeout)
	s := newRedisStoreWithClient(client, cfg, ttl, timeout, o)

	if err := s.Ping(ctx); err != nil {
		s.log.Error().Err(err).Str("addr", addr).Msg("redis: initial ping failed")
		if closeErr := client.Close(); closeErr != nil {
			s.log.Debug().Err(closeErr).Msg("redis: close after failed ping")
		}
		return nil, err
	}

	s.log.Info().
		Str("addr", addr).
		Int("db", cfg.DB).
		Str("prefix", s.prefix).
		Msg("redis store connected")
	return s, nil
}

func redisAddr(cfg *RedisConfig) string {
	if cfg.Addr == "" {
		return DefaultRedisAddr
	}
	return cfg.Addr
}

// newRedisClient builds a client. go-redis dials on first use, so this never
// touches the network.
func newRedisClient(cfg *RedisConfig, timeout time.Duration) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         redisAddr(cfg),
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	})
}

// newRedisStoreWithClient wraps an existing client without pinging it.
func newRedisStoreWithClient(client *redis.Client, cfg *RedisConfig, ttl TTLPolicy, timeout time.Duration, o options) *redisStore {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	maxRetries := cfg.MaxTxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxTxRetries
	}
	return &redisStore{
		now:        o.clock,
		client:     client,
		log:        o.logger.With().Str("backend", "redis").Logger(),
		prefix:     prefix,
		ttl:        ttl,
		timeout:    timeout,
		maxRetries: maxRetries,
	}
}

// Name returns the backend name.
func (r *redisStore) Name() string { return "redis" }

func (r *redisStore) redisKey(key Key) string {
	return r.prefix + key.String()
}

// GetOrCreate returns the bucket for key, creating a full one if missing.
func (r *redisStore) GetOrCreate(ctx context.Context, key Key, limits Limits) (bucket.Bucket, error) {
	return r.Update(ctx, key, limits, identity)
}

// Save stores b under key.
func (r *redisStore) Save(ctx context.Context, key Key, b bucket.Bucket) error {
	_, err := r.Update(ctx, key, limitsOf(b), replaceWith(b))
	return err
}

// Update runs read, fn, write in an optimistic transaction.
func (r *redisStore) Update(ctx context.Context, key Key, limits Limits, fn UpdateFunc) (bucket.Bucket, error) {
	if err := ctx.Err(); err != nil {
		return bucket.Bucket{}, err
	}
	if err := limits.Validate(); err != nil {
		return bucket.Bucket{}, err
	}
	if r.closed.Load() {
		return bucket.Bucket{}, ErrClosed
	}

	opCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	rk := r.redisKey(key)
	var result bucket.Bucket
	txf := func(tx *redis.Tx) error {
		h, err := tx.HGetAll(opCtx, rk).Result()
		if err != nil {
			return err
		}

		now := r.now()
		rec, found, err := decodeHash(h)
		if err != nil {
			r.log.Warn().Err(err).Str("key", rk).Msg("redis: unreadable bucket replaced")
			found = false
		}
		if !found {
			rec = record{CreatedAt: now, Bucket: bucket.New(limits.MaxTokens, limits.RefillRate, now)}
		} else {
			rec.Bucket = limits.apply(rec.Bucket)
		}

		next, err := fn(rec.Bucket)
		if err != nil {
			result = rec.Bucket
			return &callbackError{err: err}
		}

		_, err = tx.TxPipelined(opCtx, func(pipe redis.Pipeliner) error {
			pipe.HSet(opCtx, rk, encodeHash(record{CreatedAt: rec.CreatedAt, Bucket: next}))
			if r.ttl.Enabled() {
				pipe.PExpire(opCtx, rk, r.ttl.Remaining(rec.CreatedAt, now))
			} else {
				pipe.Persist(opCtx, rk)
			}
			return nil
		})
		if err == nil {
			result = next
		}
		return err
	}

	for attempt := 0; attempt < r.maxRetries; attempt++ {
		err := r.client.Watch(opCtx, txf, rk)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		var cb *callbackError
		if errors.As(err, &cb) {
			return result, cb.err
		}
		return bucket.Bucket{}, r.failure(ctx, "update", err)
	}

	r.log.Warn().Str("key", rk).Int("retries", r.maxRetries).Msg("redis: update lost every transaction race")
	return bucket.Bucket{}, ErrConflict
}

// Snapshot scans every bucket hash for api, or every bucket when api is empty.
func (r *redisStore) Snapshot(ctx context.Context, api string) (map[Key]bucket.Bucket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.closed.Load() {
		return nil, ErrClosed
	}

	opCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	pattern := r.prefix + "*"
	if api != "" {
		pattern = r.prefix + api + ":*"
	}

	out := make(map[Key]bucket.Bucket)
	iter := r.client.Scan(opCtx, 0, pattern, 100).Iterator()
	for iter.Next(opCtx) {
		rk := iter.Val()
		key, ok := ParseKey(strings.TrimPrefix(rk, r.prefix))
		if !ok {
			continue
		}
		h, err := r.client.HGetAll(opCtx, rk).Result()
		if err != nil {
			return nil, r.failure(ctx, "snapshot", err)
		}
		rec, found, err := decodeHash(h)
		if err != nil {
			r.log.Debug().Err(err).Str("key", rk).Msg("redis: skipping unreadable bucket")
			continue
		}
		if found {
			out[key] = rec.Bucket
		}
	}
	if err := iter.Err(); err != nil {
		return nil, r.failure(ctx, "snapshot", err)
	}
	return out, nil
}

// Delete removes a bucket.
func (r *redisStore) Delete(ctx context.Context, key Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.closed.Load() {
		return ErrClosed
	}

	opCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.client.Del(opCtx, r.redisKey(key)).Err(); err != nil {
		return r.failure(ctx, "delete", err)
	}
	return nil
}

// Ping verifies the Redis connection is alive.
func (r *redisStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.closed.Load() {
		return ErrClosed
	}

	opCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.client.Ping(opCtx).Err(); err != nil {
		return r.failure(ctx, "ping", err)
	}
	return nil
}

// Close closes the Redis client. Close is idempotent.
func (r *redisStore) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	if err := r.client.Close(); err != nil {
		r.log.Error().Err(err).Msg("redis: client close error")
		return err
	}
	r.log.Info().Msg("redis store closed")
	return nil
}

// failure classifies an error: cancellation of the caller's context is
// reported as is, anything else means the backend could not serve us.
func (r *redisStore) failure(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	r.log.Debug().Err(err).Str("op", op).Msg("redis: backend error")
	return unavailable("redis", op, err)
}
