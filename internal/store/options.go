package store

import (
	"time"

	"github.com/rs/zerolog"
)

// Option configures store construction.
type Option func(*options)

type options struct {
	clock           func() time.Time
	logger          *zerolog.Logger
	janitorInterval time.Duration
}

// defaultJanitorInterval is how often the memory store sweeps expired buckets.
const defaultJanitorInterval = time.Minute

// WithClock replaces time.Now. Tests use it to freeze or advance time.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.clock = now
		}
	}
}

// WithLogger sets the logger used by the store instead of the package logger.
func WithLogger(l *zerolog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithJanitorInterval sets how often the memory store evicts expired buckets.
// Zero or negative disables the janitor; expired buckets are then only
// replaced when next touched.
func WithJanitorInterval(d time.Duration) Option {
	return func(o *options) {
		o.janitorInterval = d
	}
}

func buildOptions(opts []Option) options {
	o := options{
		clock:           time.Now,
		janitorInterval: defaultJanitorInterval,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		l := logger()
		o.logger = &l
	}
	return o
}
