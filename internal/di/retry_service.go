package di

import (
	"net/http"

	"github.com/samber/do/v2"

	"github.com/omarluq/quota-relay/internal/retry"
)

// RetryService holds the retry controller.
type RetryService struct {
	Controller *retry.Controller
}

// NewRetry builds the retry controller on top of the limiter.
func NewRetry(i do.Injector) (*RetryService, error) {
	cfg := do.MustInvoke[*ConfigService](i).Config
	logger := do.MustInvoke[*LoggerService](i).Logger
	limiter := do.MustInvoke[*LimiterService](i).Limiter
	breakers := do.MustInvoke[*HealthService](i)

	opts := []retry.ControllerOption{
		retry.WithLogger(logger),
		retry.WithTracker(breakers.Tracker),
		retry.WithHTTPClient(&http.Client{}),
	}
	if cfg.Cache.Enabled() {
		responses := do.MustInvoke[*CacheService](i).Cache
		opts = append(opts, retry.WithCache(responses))
	}

	return &RetryService{Controller: retry.New(cfg.Retry, limiter, opts...)}, nil
}
