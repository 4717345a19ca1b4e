package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/celerix-dev/celerix-export/internal/api"
	"github.com/celerix-dev/celerix-export/internal/app"
	"github.com/celerix-dev/celerix-export/internal/config"
	"github.com/celerix-dev/celerix-export/internal/engine"
	"github.com/celerix-dev/celerix-export/internal/logging"
	"github.com/celerix-dev/celerix-export/internal/scheduler"
	"github.com/celerix-dev/celerix-export/internal/server"
	"github.com/celerix-dev/celerix-export/internal/vault"
	"github.com/celerix-dev/celerix-export/pkg/export"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "celerix-exportd",
	Short: "Serve submission exports over HTTP",
	Long: `celerix-exportd serves the submission listing and export API, runs
scheduled exports and keeps an audit trail of every export.

Configuration is read from --config (YAML) and CELERIX_EXPORT_* variables.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", os.Getenv("CELERIX_EXPORT_CONFIG"), "path to the YAML configuration file")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger, _, err := logging.New(logging.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	logger.Info("starting celerix export daemon", zap.String("config", configPath))

	a, err := app.New(ctx, cfg, logger, "api")
	if err != nil {
		return err
	}
	defer func() {
		logger.Info("finalizing disk writes")
		if err := a.Close(); err != nil {
			logger.Error("shutdown incomplete", zap.Error(err))
		}
	}()

	if a.Store != nil && cfg.Store.Watch {
		w, err := engine.NewWatcher(a.Store, engine.DefaultDebounce)
		if err != nil {
			return err
		}
		go func() {
			if err := w.Run(ctx); err != nil {
				logger.Error("store watcher stopped", zap.Error(err))
			}
		}()
	}

	if cfg.Schedule.Enabled {
		sched, err := startScheduler(ctx, a)
		if err != nil {
			return err
		}
		defer sched.Stop()
	}

	h := &api.Handler{Service: a.Service, Logger: logger.Named("api")}
	if a.Audit != nil {
		h.Audit = a.Audit
	}
	opts := server.Options{
		CORSOrigins:  cfg.Server.CORSOrigins,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		Metrics:      a.Metrics,
	}
	if a.Metrics != nil {
		opts.MetricsPath = cfg.Metrics.Path
	}
	router := server.NewRouter(h, opts, logger.Named("http"))

	if cfg.Server.TLS.Enabled {
		cert, err := vault.LoadOrCreateCert(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile, cfg.Server.TLS.Hosts)
		if err != nil {
			return fmt.Errorf("failed to load TLS certificate: %w", err)
		}
		router.SetCertificate(cert)
	} else {
		logger.Warn("TLS disabled; serving plain HTTP")
	}

	errCh := make(chan error, 1)
	go func() { errCh <- router.Listen(cfg.Server.ListenAddress) }()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := router.Stop(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return <-errCh
}

func startScheduler(ctx context.Context, a *app.App) (*scheduler.Scheduler, error) {
	cfg := a.Config
	formats, err := cfg.Schedule.ScheduleFormats()
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Export.Location()
	if err != nil {
		return nil, err
	}
	sink, err := export.NewFileSink(cfg.Export.OutputDir)
	if err != nil {
		return nil, err
	}
	sched := scheduler.New(a.Service, sink, scheduler.Config{
		Cron:     cfg.Schedule.Cron,
		Formats:  formats,
		Location: loc,
	}, a.Logger)
	if err := sched.Start(ctx); err != nil {
		return nil, err
	}
	if next := sched.NextRun(); next != nil {
		a.Logger.Info("next scheduled export", zap.Time("at", *next))
	}
	return sched, nil
}
