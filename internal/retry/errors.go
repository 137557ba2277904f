package retry

import (
	"errors"
	"fmt"
	"time"

	"github.com/omarluq/quota-relay/internal/health"
	"github.com/omarluq/quota-relay/internal/ratelimit"
)

// Sentinel errors for kind checks with errors.Is.
var (
	// ErrAuthentication matches every *AuthenticationError.
	ErrAuthentication = errors.New("retry: authentication failed")

	// ErrExhausted matches every *ExhaustedRetriesError.
	ErrExhausted = errors.New("retry: retries exhausted")

	// ErrTransientNetwork matches every *TransientNetworkError.
	ErrTransientNetwork = errors.New("retry: transient network error")

	// ErrHTTPStatus matches every *HTTPError.
	ErrHTTPStatus = errors.New("retry: unexpected http status")
)

// AuthenticationError is returned for a 401 response. The credential is
// invalid, so the request is never retried.
type AuthenticationError struct {
	API    string
	Body   []byte
	Status int
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("retry: %s rejected credentials (status %d)", e.API, e.Status)
}

// Is lets errors.Is match ErrAuthentication.
func (e *AuthenticationError) Is(target error) bool {
	return target == ErrAuthentication
}

// TransientNetworkError wraps a transport failure: connection refused, reset,
// timeout. It is retried like a 429.
type TransientNetworkError struct {
	Err error
	API string
}

func (e *TransientNetworkError) Error() string {
	return fmt.Sprintf("retry: %s transport error: %v", e.API, e.Err)
}

func (e *TransientNetworkError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match ErrTransientNetwork.
func (e *TransientNetworkError) Is(target error) bool {
	return target == ErrTransientNetwork
}

// HTTPError is a non-2xx response that retrying cannot fix, such as 400 or 404.
type HTTPError struct {
	API    string
	Body   []byte
	Status int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("retry: %s returned status %d", e.API, e.Status)
}

// Is lets errors.Is match ErrHTTPStatus.
func (e *HTTPError) Is(target error) bool {
	return target == ErrHTTPStatus
}

// ExhaustedRetriesError is returned when every allowed attempt failed with a
// retryable outcome. LastErr is the transport error of the final attempt, if
// it had one; LastStatus is its HTTP status otherwise.
type ExhaustedRetriesError struct {
	LastErr    error
	API        string
	Attempts   []Attempt
	TotalWait  time.Duration
	LastStatus int
}

func (e *ExhaustedRetriesError) Error() string {
	last := fmt.Sprintf("status %d", e.LastStatus)
	if e.LastErr != nil {
		last = e.LastErr.Error()
	}
	return fmt.Sprintf("retry: %s failed after %d attempts and %s of backoff: %s",
		e.API, len(e.Attempts), e.TotalWait, last)
}

func (e *ExhaustedRetriesError) Unwrap() error {
	return e.LastErr
}

// Is lets errors.Is match ErrExhausted.
func (e *ExhaustedRetriesError) Is(target error) bool {
	return target == ErrExhausted
}

// Describe turns an Execute error into the message shown to an operator.
func Describe(err error) string {
	var (
		quota *ratelimit.QuotaExceededError
		httpE *HTTPError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &quota):
		return fmt.Sprintf("rate limited, retry after %.0fs", quota.RetryAfter().Seconds())
	case errors.Is(err, ErrAuthentication):
		return "authentication invalid, reconfigure credentials"
	case errors.Is(err, ErrExhausted):
		return "exhausted retries, service may be down"
	case errors.Is(err, health.ErrCircuitOpen):
		return "service unavailable, circuit open"
	case errors.Is(err, ratelimit.ErrConfiguration):
		return "configuration error: " + err.Error()
	case errors.As(err, &httpE):
		return fmt.Sprintf("request rejected with status %d", httpE.Status)
	default:
		return err.Error()
	}
}
