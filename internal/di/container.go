// Package di wires quota-relay services with samber/do v2.
package di

import (
	"context"
	"fmt"

	"github.com/samber/do/v2"

	"github.com/omarluq/quota-relay/internal/store"
)

// ConfigPathKey is the named key for the config path string.
// An empty path means built-in defaults plus environment overrides.
const ConfigPathKey = "config.path"

// Container wraps the do.Injector with quota-relay services.
type Container struct {
	injector *do.RootScope
}

// NewContainer creates the container and registers every service provider.
// Services are built lazily on first Invoke.
func NewContainer(configPath string) (*Container, error) {
	injector := do.New()
	do.ProvideNamedValue(injector, ConfigPathKey, configPath)
	RegisterSingletons(injector)

	return &Container{injector: injector}, nil
}

// Injector returns the underlying do.Injector for service resolution.
func (c *Container) Injector() *do.RootScope {
	return c.injector
}

// Invoke resolves a service from the container.
func Invoke[T any](c *Container) (T, error) {
	return do.Invoke[T](c.injector)
}

// MustInvoke resolves a service from the container or panics.
// Use this only during startup where errors are fatal.
func MustInvoke[T any](c *Container) T {
	return do.MustInvoke[T](c.injector)
}

// InvokeNamed resolves a named service from the container.
func InvokeNamed[T any](c *Container, name string) (T, error) {
	return do.InvokeNamed[T](c.injector, name)
}

// Shutdown shuts down all services in reverse order of initialization.
func (c *Container) Shutdown() error {
	report := c.injector.Shutdown()
	if report != nil && !report.Succeed {
		return fmt.Errorf("shutdown failed: %s", report.Error())
	}
	return nil
}

// ShutdownWithContext shuts down with a deadline.
func (c *Container) ShutdownWithContext(ctx context.Context) error {
	done := make(chan *do.ShutdownReport, 1)
	go func() {
		done <- c.injector.ShutdownWithContext(ctx)
	}()

	select {
	case report := <-done:
		if report != nil && !report.Succeed {
			return fmt.Errorf("shutdown failed: %s", report.Error())
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// HealthCheck resolves the core services and pings the shared bucket store.
func (c *Container) HealthCheck(ctx context.Context) error {
	if _, err := do.Invoke[*ConfigService](c.injector); err != nil {
		return fmt.Errorf("config service unhealthy: %w", err)
	}
	stores, err := do.Invoke[*StoreService](c.injector)
	if err != nil {
		return fmt.Errorf("store service unhealthy: %w", err)
	}
	if p, ok := stores.Primary.(store.Pinger); ok {
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("bucket store unhealthy: %w", err)
		}
	}
	if _, err := do.Invoke[*RetryService](c.injector); err != nil {
		return fmt.Errorf("retry service unhealthy: %w", err)
	}
	return nil
}
