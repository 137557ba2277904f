package store

import (
	"sync"

	"github.com/rs/zerolog"
)

var (
	loggerMu sync.RWMutex

	// Logger is the package-level logger for bucket stores.
	// It discards everything until SetLogger is called.
	Logger = zerolog.Nop()
)

// SetLogger installs the logger used by all stores created afterwards.
// Entries are tagged with component: store.
//
//	logger := zerolog.New(os.Stderr).Level(zerolog.InfoLevel)
//	store.SetLogger(&logger)
func SetLogger(l *zerolog.Logger) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	Logger = l.With().Str("component", "store").Logger()
}

func logger() zerolog.Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return Logger
}
