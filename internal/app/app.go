// Package app assembles the export service components from a Config. Both
// binaries build on it.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/celerix-dev/celerix-export/internal/audit"
	"github.com/celerix-dev/celerix-export/internal/config"
	"github.com/celerix-dev/celerix-export/internal/engine"
	"github.com/celerix-dev/celerix-export/internal/metrics"
	"github.com/celerix-dev/celerix-export/internal/portal"
	"github.com/celerix-dev/celerix-export/pkg/export"
	"github.com/celerix-dev/celerix-export/pkg/sdk"
	"go.uber.org/zap"
)

// App holds the wired components.
type App struct {
	Config  *config.Config
	Logger  *zap.Logger
	Backend sdk.Backend
	// Store is set when the backend is the embedded store.
	Store *engine.MemStore
	// Audit is nil when disabled.
	Audit *audit.Store
	// Metrics is nil when disabled.
	Metrics  *metrics.Collector
	Exporter *export.Exporter
	Service  *portal.Service
}

// New connects the backend and builds the exporter and portal service.
// actor names the caller in the audit log.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, actor string) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Config: cfg, Logger: logger}

	key, err := cfg.Store.Key()
	if err != nil {
		return nil, fmt.Errorf("store encryption key: %w", err)
	}
	backend, err := sdk.New(ctx, sdk.Config{
		BaseURL:       cfg.Backend.BaseURL,
		Role:          sdk.Role(cfg.Backend.Role),
		UserName:      cfg.Backend.UserName,
		Password:      cfg.Backend.Password,
		InsecureTLS:   cfg.Backend.InsecureTLS,
		Timeout:       cfg.Backend.Timeout,
		DataDir:       cfg.Store.DataDir,
		EncryptionKey: key,
		Owner:         cfg.Store.Owner,
		Logger:        logger.Named("backend"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open backend: %w", err)
	}
	a.Backend = backend
	if ms, ok := backend.(*engine.MemStore); ok {
		a.Store = ms
	}

	loc, err := cfg.Export.Location()
	if err != nil {
		return nil, err
	}
	opts := []export.Option{
		export.WithLogger(logger.Named("export")),
		export.WithLocation(loc),
		export.WithOrganization(cfg.Export.Organization),
		export.WithBrandingTimeout(cfg.Export.BrandingTimeout),
		export.WithCompression(!cfg.Export.DisableCompression),
	}
	if cfg.Export.BrandingImage != "" {
		opts = append(opts, export.WithBranding(export.FileBranding(cfg.Export.BrandingImage)))
	}

	if !cfg.Metrics.Disabled {
		a.Metrics = metrics.NewCollector()
		opts = append(opts, export.WithObserver(a.Metrics))
	}
	if !cfg.Audit.Disabled {
		a.Audit, err = audit.Open(cfg.Audit.Path, logger.Named("audit"))
		if err != nil {
			a.Close()
			return nil, err
		}
		opts = append(opts, export.WithObserver(a.Audit.Observer(actor)))
	}

	a.Exporter = export.New(nil, opts...)
	a.Service = portal.NewService(backend, a.Exporter, logger.Named("portal"))
	return a, nil
}

// Close flushes pending store writes and closes the audit log.
func (a *App) Close() error {
	var errs []error
	if a.Store != nil {
		a.Store.Wait()
	}
	if a.Audit != nil {
		errs = append(errs, a.Audit.Close())
	}
	return errors.Join(errs...)
}
