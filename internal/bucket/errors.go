package bucket

import (
	"errors"
	"fmt"
)

// ErrConfiguration is the sentinel matched by every *ConfigurationError.
//
//	if errors.Is(err, bucket.ErrConfiguration) {
//		// caller bug: fix limits or request size, do not retry
//	}
var ErrConfiguration = errors.New("quota: configuration error")

// ConfigurationError reports a request or limit that can never be satisfied.
// It is fatal for the call and must not be retried.
type ConfigurationError struct {
	Value  any
	Limit  any
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Limit != nil {
		return fmt.Sprintf("quota: invalid %s %v: %s (limit %v)", e.Field, e.Value, e.Reason, e.Limit)
	}
	if e.Value != nil {
		return fmt.Sprintf("quota: invalid %s %v: %s", e.Field, e.Value, e.Reason)
	}
	return fmt.Sprintf("quota: invalid %s: %s", e.Field, e.Reason)
}

// Is lets errors.Is match ErrConfiguration.
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}
