package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/omarluq/quota-relay/internal/di"
)

const shutdownTimeout = 5 * time.Second

// findConfigFile returns the config path to load: the --config flag, then
// ./config.yaml, then ~/.config/quota-relay/config.yaml. An empty result
// means built-in defaults.
func findConfigFile() string {
	if cfgFile != "" {
		return cfgFile
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = ""
	}
	return findConfigInWithHome(".", home)
}

// findConfigInWithHome looks for the config file in dir, then under home.
func findConfigInWithHome(dir, home string) string {
	path := filepath.Join(dir, defaultConfigFile)
	if _, err := os.Stat(path); err == nil {
		return path
	}
	if home == "" {
		return ""
	}
	path = filepath.Join(home, ".config", "quota-relay", defaultConfigFile)
	if _, err := os.Stat(path); err == nil {
		return path
	}
	return ""
}

// withContainer builds the service container, runs fn and shuts the
// container down again.
func withContainer(ctx context.Context, fn func(ctx context.Context, c *di.Container) error) error {
	container, err := di.NewContainer(findConfigFile())
	if err != nil {
		return fmt.Errorf("failed to create container: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := container.ShutdownWithContext(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("container shutdown failed")
		}
	}()

	return fn(ctx, container)
}

func limiterFrom(c *di.Container) (*di.LimiterService, error) {
	svc, err := di.Invoke[*di.LimiterService](c)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize limiter: %w", err)
	}
	return svc, nil
}
