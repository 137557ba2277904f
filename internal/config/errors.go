package config

import (
	"fmt"
	"strings"
)

// ValidationError collects every problem found in a configuration.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "config validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("config validation failed: %s", e.Errors[0])
	}
	return fmt.Sprintf("config validation failed with %d errors:\n  - %s",
		len(e.Errors), strings.Join(e.Errors, "\n  - "))
}

// Addf appends a formatted error message.
func (e *ValidationError) Addf(format string, args ...any) {
	e.Errors = append(e.Errors, fmt.Sprintf(format, args...))
}

// Add appends an error message.
func (e *ValidationError) Add(msg string) {
	e.Errors = append(e.Errors, msg)
}

// AddErr appends err's message if err is not nil.
func (e *ValidationError) AddErr(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err.Error())
	}
}

// HasErrors reports whether any problem was recorded.
func (e *ValidationError) HasErrors() bool {
	return len(e.Errors) > 0
}

// ToError returns e if it holds errors, nil otherwise.
func (e *ValidationError) ToError() error {
	if e.HasErrors() {
		return e
	}
	return nil
}

// EnvError reports an environment override that could not be parsed.
type EnvError struct {
	Err   error
	Name  string
	Value string
}

func (e *EnvError) Error() string {
	return fmt.Sprintf("config: invalid %s=%q: %v", e.Name, e.Value, e.Err)
}

func (e *EnvError) Unwrap() error {
	return e.Err
}
