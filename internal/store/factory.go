package store

import (
	"context"
	"fmt"
	"time"
)

// New creates a Store from the configuration.
//
// Local mode never fails after validation. Shared mode connects to the
// configured driver and returns its error when the backend cannot be reached
// at startup; callers that want to start anyway can fall back to NewMemory.
//
// Example:
//
//	cfg := store.Config{
//		Backend: store.BackendShared,
//		Shared: store.SharedConfig{
//			Driver: store.DriverRedis,
//			Redis:  store.RedisConfig{Addr: "localhost:6379"},
//		},
//	}
//	s, err := store.New(ctx, &cfg)
func New(ctx context.Context, cfg *Config, opts ...Option) (Store, error) {
	o := buildOptions(opts)
	log := o.logger.With().Str("component", "store_factory").Logger()
	start := time.Now()

	if err := cfg.Validate(); err != nil {
		log.Debug().Err(err).Str("backend", string(cfg.Backend)).Msg("store factory: validation failed")
		return nil, err
	}

	ttl := cfg.TTL()
	backend := cfg.GetBackend()

	var s Store
	var err error
	switch backend {
	case BackendLocal:
		s = newMemoryStore(ttl, o)
	case BackendShared:
		s, err = newShared(ctx, &cfg.Shared, ttl, o)
	default:
		return nil, fmt.Errorf("store: unknown backend %q", backend)
	}

	if err != nil {
		log.Error().Err(err).Str("backend", string(backend)).Msg("store factory: backend initialization failed")
		return nil, err
	}

	log.Info().
		Str("backend", string(backend)).
		Dur("ttl", ttl.TTL).
		Str("ttl_mode", string(ttl.Mode)).
		Dur("init_time", time.Since(start)).
		Msg("store factory: backend initialized")
	return s, nil
}

func newShared(ctx context.Context, cfg *SharedConfig, ttl TTLPolicy, o options) (Store, error) {
	timeout := cfg.GetTimeout()
	switch driver := cfg.GetDriver(); driver {
	case DriverRedis:
		return newRedisStore(ctx, &cfg.Redis, ttl, timeout, o)
	case DriverOlric:
		return newOlricStore(ctx, &cfg.Olric, ttl, timeout, o)
	default:
		return nil, fmt.Errorf("store: unknown shared driver %q", driver)
	}
}

// NewUnverified creates a shared store without contacting the backend, for
// starting up while it is down. Calls fail with ErrBackendUnavailable until
// the backend is reachable. Only drivers that connect lazily support this;
// olric needs a live cluster or embedded node and returns an error.
func NewUnverified(cfg *Config, opts ...Option) (Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.GetBackend() != BackendShared {
		return nil, fmt.Errorf("store: backend %q has no unverified mode", cfg.GetBackend())
	}

	o := buildOptions(opts)
	shared := &cfg.Shared
	switch driver := shared.GetDriver(); driver {
	case DriverRedis:
		timeout := shared.GetTimeout()
		s := newRedisStoreWithClient(newRedisClient(&shared.Redis, timeout), &shared.Redis, cfg.TTL(), timeout, o)
		s.log.Warn().Str("addr", redisAddr(&shared.Redis)).Msg("redis store created without a connection check")
		return s, nil
	default:
		return nil, fmt.Errorf("store: shared driver %q cannot start disconnected", driver)
	}
}
