package di

import (
	"fmt"

	"github.com/samber/do/v2"

	"github.com/omarluq/quota-relay/internal/cache"
)

// CacheService wraps the response cache.
type CacheService struct {
	Cache cache.Cache
}

// NewCache creates the response cache based on configuration.
func NewCache(i do.Injector) (*CacheService, error) {
	cfg := do.MustInvoke[*ConfigService](i).Config
	do.MustInvoke[*LoggerService](i)

	c, err := cache.New(&cfg.Cache)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}
	return &CacheService{Cache: c}, nil
}

// Shutdown closes the cache.
func (c *CacheService) Shutdown() error {
	if c.Cache != nil {
		return c.Cache.Close()
	}
	return nil
}
