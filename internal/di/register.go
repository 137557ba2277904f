package di

import "github.com/samber/do/v2"

// RegisterSingletons registers all service providers as singletons.
// Dependency order:
// 1. Config (no dependencies)
// 2. Logger (Config)
// 3. Store (Config, Logger)
// 4. Health (Config, Logger)
// 5. Limiter (Config, Logger, Store, Health)
// 6. Cache (Config, Logger)
// 7. Retry (Config, Logger, Limiter, Health, Cache).
func RegisterSingletons(i do.Injector) {
	do.Provide(i, NewConfig)
	do.Provide(i, NewLogger)
	do.Provide(i, NewStore)
	do.Provide(i, NewHealth)
	do.Provide(i, NewLimiter)
	do.Provide(i, NewCache)
	do.Provide(i, NewRetry)
}
