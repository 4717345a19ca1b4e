package config

import (
	"time"

	"github.com/celerix-dev/celerix-export/pkg/export"
)

// Default configuration values.
const (
	DefaultListenAddress   = ":7040"
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 2 * time.Minute
	DefaultShutdownTimeout = 15 * time.Second
	DefaultCertFile        = "./data/tls/cert.pem"
	DefaultKeyFile         = "./data/tls/key.pem"

	DefaultBackendRole    = "admin"
	DefaultBackendTimeout = 30 * time.Second

	DefaultDataDir   = "./data/store"
	DefaultOutputDir = "./exports"
	DefaultTimezone  = "UTC"

	DefaultScheduleCron = "0 2 * * *"

	DefaultAuditPath = "./data/audit.db"

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"

	DefaultMetricsPath = "/metrics"
)

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults sets defaults for any fields that have zero values. It is
// idempotent.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = DefaultListenAddress
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Server.TLS.CertFile == "" {
		cfg.Server.TLS.CertFile = DefaultCertFile
	}
	if cfg.Server.TLS.KeyFile == "" {
		cfg.Server.TLS.KeyFile = DefaultKeyFile
	}

	if cfg.Backend.Role == "" {
		cfg.Backend.Role = DefaultBackendRole
	}
	if cfg.Backend.Timeout == 0 {
		cfg.Backend.Timeout = DefaultBackendTimeout
	}

	if cfg.Store.DataDir == "" {
		cfg.Store.DataDir = DefaultDataDir
	}

	if cfg.Export.OutputDir == "" {
		cfg.Export.OutputDir = DefaultOutputDir
	}
	if cfg.Export.Organization == "" {
		cfg.Export.Organization = export.DefaultOrganization
	}
	if cfg.Export.Timezone == "" {
		cfg.Export.Timezone = DefaultTimezone
	}
	if cfg.Export.BrandingTimeout == 0 {
		cfg.Export.BrandingTimeout = export.DefaultBrandingTimeout
	}

	if cfg.Schedule.Cron == "" {
		cfg.Schedule.Cron = DefaultScheduleCron
	}
	if len(cfg.Schedule.Formats) == 0 {
		cfg.Schedule.Formats = []string{string(export.FormatCSV)}
	}

	if cfg.Audit.Path == "" {
		cfg.Audit.Path = DefaultAuditPath
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLogLevel
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = DefaultLogFormat
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = DefaultMetricsPath
	}
}
