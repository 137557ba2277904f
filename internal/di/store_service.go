package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/do/v2"

	"github.com/omarluq/quota-relay/internal/store"
)

// storeInitTimeout bounds connecting to or starting a shared backend.
const storeInitTimeout = 30 * time.Second

// StoreService holds the primary bucket store and, when fallback is enabled,
// the local store used while the primary is unavailable.
type StoreService struct {
	Primary store.Store
	Local   store.Store
}

// NewStore creates the configured bucket store.
func NewStore(i do.Injector) (*StoreService, error) {
	cfg := do.MustInvoke[*ConfigService](i).Config
	logger := do.MustInvoke[*LoggerService](i).Logger

	ctx, cancel := context.WithTimeout(context.Background(), storeInitTimeout)
	defer cancel()

	primary, err := store.New(ctx, &cfg.Limiter.Config, store.WithLogger(logger))
	if err != nil {
		if !cfg.Limiter.FallbackEnabled() || !errors.Is(err, store.ErrBackendUnavailable) {
			return nil, fmt.Errorf("failed to create bucket store: %w", err)
		}
		return startDegraded(cfg.Limiter.Config, logger, err), nil
	}

	svc := &StoreService{Primary: primary}
	if cfg.Limiter.FallbackEnabled() {
		svc.Local = store.NewMemory(cfg.Limiter.TTL(), store.WithLogger(logger))
	}
	return svc, nil
}

// startDegraded keeps the process running when the shared backend is down at
// startup. A lazily connecting primary stays behind the fallback breaker and
// takes over again once reachable; otherwise buckets live in memory only.
func startDegraded(cfg store.Config, logger *zerolog.Logger, cause error) *StoreService {
	local := store.NewMemory(cfg.TTL(), store.WithLogger(logger))

	primary, err := store.NewUnverified(&cfg, store.WithLogger(logger))
	if err != nil {
		logger.Warn().
			AnErr("cause", cause).
			Err(err).
			Msg("shared bucket store unavailable at startup, running on local buckets only")
		return &StoreService{Primary: local}
	}

	logger.Warn().
		Err(cause).
		Msg("shared bucket store unavailable at startup, using local buckets until it recovers")
	return &StoreService{Primary: primary, Local: local}
}

// Shutdown closes both stores.
func (s *StoreService) Shutdown() error {
	var errs []error
	if s.Local != nil {
		errs = append(errs, s.Local.Close())
	}
	errs = append(errs, s.Primary.Close())
	return errors.Join(errs...)
}
