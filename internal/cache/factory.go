package cache

import (
	"fmt"
	"time"
)

// New creates a Cache for cfg. It returns an error if the configuration is
// invalid or the backend fails to initialize.
func New(cfg *Config) (Cache, error) {
	log := logger().With().Str("component", "cache_factory").Logger()
	start := time.Now()

	if err := cfg.Validate(); err != nil {
		log.Debug().Err(err).Str("mode", string(cfg.Mode)).Msg("cache factory: validation failed")
		return nil, err
	}

	var (
		c   Cache
		err error
	)
	switch cfg.GetMode() {
	case ModeSingle:
		c, err = newRistrettoCache(cfg.Ristretto, cfg.GetTTL())
	case ModeDisabled:
		c = newNoopCache()
	default:
		return nil, fmt.Errorf("cache: unknown mode %q", cfg.Mode)
	}
	if err != nil {
		log.Error().Err(err).Str("mode", string(cfg.Mode)).Msg("cache factory: backend initialization failed")
		return nil, err
	}

	log.Info().
		Str("mode", string(cfg.GetMode())).
		Dur("ttl", cfg.GetTTL()).
		Dur("init_time", time.Since(start)).
		Msg("cache factory: backend initialized")
	return c, nil
}
