package di

import (
	"fmt"

	"github.com/samber/do/v2"

	"github.com/omarluq/quota-relay/internal/config"
)

// ConfigService holds the loaded configuration.
type ConfigService struct {
	Config *config.Config
	Path   string
}

// NewConfig loads the configuration file named by ConfigPathKey, or the
// defaults when the path is empty.
func NewConfig(i do.Injector) (*ConfigService, error) {
	path := do.MustInvokeNamed[string](i, ConfigPathKey)

	if path == "" {
		cfg, err := config.LoadDefault()
		if err != nil {
			return nil, fmt.Errorf("failed to load default config: %w", err)
		}
		return &ConfigService{Config: cfg}, nil
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
	}
	return &ConfigService{Config: cfg, Path: path}, nil
}
