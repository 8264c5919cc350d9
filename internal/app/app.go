// Package app is the composition root. It builds every service in a samber/do
// container and owns their lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nfrund/roomcast/internal/auth"
	"github.com/nfrund/roomcast/internal/config"
	"github.com/nfrund/roomcast/internal/notify"
	"github.com/nfrund/roomcast/internal/presence"
	"github.com/nfrund/roomcast/internal/server"
	"github.com/samber/do/v2"
	"github.com/spf13/afero"
)

// Option adjusts the container after the default providers are registered.
type Option func(do.Injector)

// WithStore replaces the configured store, for tests.
func WithStore(s Store) Option {
	return func(i do.Injector) { do.OverrideValue(i, s) }
}

// WithFs replaces the file system used to read key material.
func WithFs(fs afero.Fs) Option {
	return func(i do.Injector) { do.OverrideValue(i, fs) }
}

// App is a wired roomcast process.
type App struct {
	cfg      *config.Config
	injector *do.RootScope

	serverOnce sync.Once
	server     *server.Server
	serverErr  error

	// ctx scopes goroutines started while services are built, such as the
	// public key watcher. It ends when the App shuts down.
	ctx    context.Context
	cancel context.CancelFunc

	logger *slog.Logger
}

// New registers every provider. Nothing is built until a service is first
// resolved, so connection failures surface from Server or Revocations.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &App{
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
		logger: slog.Default().With("service", "app"),
	}

	a.injector = do.New(a.packages()...)
	for _, opt := range opts {
		opt(a.injector)
	}
	return a, nil
}

// Server resolves the HTTP server, which pulls in every other service, and
// registers its routes.
func (a *App) Server() (*server.Server, error) {
	a.serverOnce.Do(func() {
		srv, err := do.Invoke[*server.Server](a.injector)
		if err != nil {
			a.serverErr = fmt.Errorf("app: %w", err)
			return
		}
		srv.RegisterRoutes()
		a.server = srv
	})
	return a.server, a.serverErr
}

// Revocations resolves the revocation store without the HTTP surface.
func (a *App) Revocations() (*auth.RevocationStore, error) {
	revocations, err := do.Invoke[*auth.RevocationStore](a.injector)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	return revocations, nil
}

// Injector exposes the container, for tests and health reporting.
func (a *App) Injector() do.Injector {
	return a.injector
}

// Run serves until ctx is cancelled. It starts local notification delivery
// and the revocation purger, then blocks on the HTTP server.
func (a *App) Run(ctx context.Context) error {
	srv, err := a.Server()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	bridge, err := do.Invoke[notify.Bridge](a.injector)
	if err != nil {
		return err
	}
	registry, err := do.Invoke[*presence.Registry](a.injector)
	if err != nil {
		return err
	}
	if err := notify.NewDeliverer(registry).Start(ctx, bridge); err != nil {
		return fmt.Errorf("app: subscribe deliverer: %w", err)
	}

	purger, err := do.Invoke[*auth.Purger](a.injector)
	if err != nil {
		return err
	}
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		purger.Run(ctx)
	}()

	err = srv.Start(ctx)
	cancel()
	wg.Wait()
	return err
}

// Shutdown stops background work and shuts every built service down in
// reverse dependency order: server, pipeline, registry, bridge, store, tracing.
func (a *App) Shutdown(ctx context.Context) error {
	a.cancel()
	report := a.injector.ShutdownWithContext(ctx)
	if report != nil && !report.Succeed {
		a.logger.Error("Shutdown finished with errors", "error", report.Error())
		return report
	}
	a.logger.Info("Shutdown complete")
	return nil
}

// HealthCheck runs the health checks of every built service.
func (a *App) HealthCheck(ctx context.Context) map[string]error {
	return a.injector.HealthCheckWithContext(ctx)
}
