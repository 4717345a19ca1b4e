// Package config loads the export service configuration from YAML with
// defaults and CELERIX_EXPORT_* environment overrides.
package config

import (
	"time"
)

// Config is the root configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Backend  BackendConfig  `yaml:"backend"`
	Store    StoreConfig    `yaml:"store"`
	Export   ExportConfig   `yaml:"export"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Audit    AuditConfig    `yaml:"audit"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig configures the HTTP API daemon.
type ServerConfig struct {
	ListenAddress   string        `yaml:"listen_address"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORSOrigins     []string      `yaml:"cors_origins"`
	TLS             TLSConfig     `yaml:"tls"`
}

// TLSConfig enables HTTPS with a self-signed certificate generated on
// first start when the files do not exist.
type TLSConfig struct {
	Enabled  bool     `yaml:"enabled"`
	CertFile string   `yaml:"cert_file"`
	KeyFile  string   `yaml:"key_file"`
	Hosts    []string `yaml:"hosts"`
}

// BackendConfig points at the remote portal API. An empty BaseURL uses the
// embedded store.
type BackendConfig struct {
	BaseURL     string        `yaml:"base_url"`
	Role        string        `yaml:"role"`
	UserName    string        `yaml:"username"`
	Password    string        `yaml:"password"`
	InsecureTLS bool          `yaml:"insecure_tls"`
	Timeout     time.Duration `yaml:"timeout"`
}

// StoreConfig configures the embedded submission store.
type StoreConfig struct {
	DataDir string `yaml:"data_dir"`
	// EncryptionKey is 32 raw bytes or 64 hex characters.
	EncryptionKey string `yaml:"encryption_key"`
	// Owner is the client ID the embedded store acts as for self exports.
	Owner string `yaml:"owner"`
	Watch bool   `yaml:"watch"`
}

// ExportConfig configures document rendering.
type ExportConfig struct {
	OutputDir          string        `yaml:"output_dir"`
	Organization       string        `yaml:"organization"`
	Timezone           string        `yaml:"timezone"`
	BrandingImage      string        `yaml:"branding_image"`
	BrandingTimeout    time.Duration `yaml:"branding_timeout"`
	DisableCompression bool          `yaml:"disable_compression"`
}

// ScheduleConfig configures recurring exports.
type ScheduleConfig struct {
	Enabled bool     `yaml:"enabled"`
	Cron    string   `yaml:"cron"`
	Formats []string `yaml:"formats"`
}

// AuditConfig configures the SQLite export audit trail. It is on unless
// disabled.
type AuditConfig struct {
	Disabled bool   `yaml:"disabled"`
	Path     string `yaml:"path"`
}

// LoggingConfig configures zap.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Disabled bool   `yaml:"disabled"`
	Path     string `yaml:"path"`
}
