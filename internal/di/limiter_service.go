package di

import (
	"fmt"

	"github.com/samber/do/v2"

	"github.com/omarluq/quota-relay/internal/ratelimit"
)

// LimiterService holds the process-wide rate limiter.
type LimiterService struct {
	Limiter  *ratelimit.Limiter
	Registry *ratelimit.Registry
}

// NewLimiter builds the policy registry and the limiter on top of the store.
func NewLimiter(i do.Injector) (*LimiterService, error) {
	cfg := do.MustInvoke[*ConfigService](i).Config
	logger := do.MustInvoke[*LoggerService](i).Logger
	stores := do.MustInvoke[*StoreService](i)
	breakers := do.MustInvoke[*HealthService](i)

	registry, err := ratelimit.NewRegistry(cfg.Policies)
	if err != nil {
		return nil, fmt.Errorf("failed to build policy registry: %w", err)
	}

	opts := []ratelimit.Option{ratelimit.WithLogger(logger)}
	if stores.Local != nil && breakers.Fallback != nil {
		opts = append(opts, ratelimit.WithFallback(stores.Local, breakers.Fallback))
	}

	return &LimiterService{
		Limiter:  ratelimit.New(stores.Primary, registry, opts...),
		Registry: registry,
	}, nil
}
