// Package app wires configuration into a ready service for the binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"vivarium/internal/blob"
	"vivarium/internal/config"
	"vivarium/internal/core"
	"vivarium/internal/infra/logging"
)

const traceRetention = 1000

// App holds the long-lived components of a process.
type App struct {
	Config   *config.Config
	Service  *core.Service
	Logger   *zap.Logger
	Registry *prometheus.Registry

	closers []func() error
}

// New opens storage and the archive and builds the service. Close releases
// everything New opened.
func New(ctx context.Context, cfg *config.Config, service string) (*App, error) {
	zl, err := logging.New(cfg.LogLevel, cfg.LogFormat, service)
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, Logger: zl, Registry: prometheus.NewRegistry()}
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	archive, err := blob.Open(ctx, cfg.Blob)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	store, closeStore, err := core.OpenPersistentStore(ctx, cfg.Storage, core.NewDefaultRulesEngine())
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	a.closers = append(a.closers, closeStore)

	opts := []core.Option{
		core.WithLogger(logging.NewAdapter(zl)),
		core.WithMetricsRecorder(core.NewPrometheusMetricsRecorder(a.Registry)),
		core.WithArchive(archive),
		core.WithPublicBaseURL(cfg.PublicBaseURL),
	}
	if cfg.Trace == config.TraceJSON {
		opts = append(opts, core.WithTracer(core.NewJSONTracer(os.Stderr, traceRetention)))
	}
	a.Service = core.NewService(store, opts...)
	zl.Info("service ready",
		zap.String("storage", string(cfg.Storage.Driver)),
		zap.String("archive", string(archive.Driver())),
	)
	return a, nil
}

// EnsureBootstrapAdmin creates the configured admin on first start. It is a
// no-op when no bootstrap email is configured.
func (a *App) EnsureBootstrapAdmin(ctx context.Context) (core.User, bool, error) {
	if a.Config.BootstrapAdminEmail == "" {
		return core.User{}, false, nil
	}
	return a.Service.EnsureAdmin(ctx, a.Config.BootstrapAdminEmail, a.Config.BootstrapAdminName)
}

// Close releases storage handles and flushes the logger.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	_ = a.Logger.Sync()
	return errors.Join(errs...)
}
