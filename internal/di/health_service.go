package di

import (
	"github.com/samber/do/v2"

	"github.com/omarluq/quota-relay/internal/health"
)

// HealthService holds the per-API breakers and the bucket store fallback breaker.
type HealthService struct {
	Tracker  *health.Tracker
	Fallback *health.CircuitBreaker
}

// NewHealth creates the breakers from configuration.
func NewHealth(i do.Injector) (*HealthService, error) {
	cfg := do.MustInvoke[*ConfigService](i).Config
	logger := do.MustInvoke[*LoggerService](i).Logger

	svc := &HealthService{Tracker: health.NewTracker(cfg.CircuitBreaker, logger)}
	if cfg.Limiter.FallbackEnabled() {
		svc.Fallback = health.NewCircuitBreaker("bucket-store", cfg.Limiter.FallbackBreaker(), logger)
	}
	return svc, nil
}
