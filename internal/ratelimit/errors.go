package ratelimit

import (
	"errors"
	"fmt"
	"time"

	"github.com/omarluq/quota-relay/internal/bucket"
)

// ConfigurationError reports a request that can never succeed: more tokens
// than the bucket holds, non-positive limits, or an unknown policy name.
// It is fatal for the call and never retried.
type ConfigurationError = bucket.ConfigurationError

// Sentinel errors for kind checks with errors.Is.
var (
	// ErrConfiguration matches every *ConfigurationError.
	ErrConfiguration = bucket.ErrConfiguration

	// ErrQuotaExceeded matches every *QuotaExceededError.
	ErrQuotaExceeded = errors.New("ratelimit: quota exceeded")
)

// QuotaExceededError is returned when the wait needed for quota is longer
// than the caller agreed to wait. It is recoverable: the caller may retry
// after Wait, queue the work, or drop it.
type QuotaExceededError struct {
	API      string
	Endpoint string
	Wait     time.Duration
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("ratelimit: quota exceeded for %s:%s, retry after %.1fs", e.API, e.Endpoint, e.Wait.Seconds())
}

// Is lets errors.Is match ErrQuotaExceeded.
func (e *QuotaExceededError) Is(target error) bool {
	return target == ErrQuotaExceeded
}

// RetryAfter returns how long to wait before the same call can succeed.
func (e *QuotaExceededError) RetryAfter() time.Duration {
	return e.Wait
}
