package di

import (
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/samber/do/v2"

	"github.com/omarluq/quota-relay/internal/cache"
	"github.com/omarluq/quota-relay/internal/logging"
	"github.com/omarluq/quota-relay/internal/store"
)

// LoggerService wraps the application logger.
type LoggerService struct {
	Logger *zerolog.Logger
	closer io.Closer
}

// NewLogger builds the logger from configuration and hands it to the
// packages that log through a package-level logger.
func NewLogger(i do.Injector) (*LoggerService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)

	logger, closer, err := logging.New(cfgSvc.Config.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	store.SetLogger(&logger)
	cache.SetLogger(&logger)

	return &LoggerService{Logger: &logger, closer: closer}, nil
}

// Shutdown closes the log file, if any.
func (l *LoggerService) Shutdown() error {
	return l.closer.Close()
}
