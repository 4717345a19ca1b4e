package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/celerix-dev/celerix-export/internal/vault"
	"github.com/celerix-dev/celerix-export/pkg/export"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap/zapcore"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "server.listen_address").
	Field   string
	Message string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError collects every FieldError found in a configuration.
type ValidationError struct {
	Errors []FieldError
}

func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "configuration validation failed with %d errors:\n", len(e.Errors))
	for _, err := range e.Errors {
		fmt.Fprintf(&sb, "  - %s\n", err.Error())
	}
	return sb.String()
}

// Validate checks the whole configuration and returns a ValidationError
// listing every problem, or nil.
func Validate(cfg *Config) error {
	var errs []FieldError
	add := func(field, format string, args ...any) {
		errs = append(errs, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if cfg.Server.ListenAddress == "" {
		add("server.listen_address", "must not be empty")
	}
	if cfg.Server.TLS.Enabled && (cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "") {
		add("server.tls", "cert_file and key_file are required when TLS is enabled")
	}

	if cfg.Backend.BaseURL != "" {
		if u, err := url.Parse(cfg.Backend.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			add("backend.base_url", "must be an http or https URL")
		}
	}
	switch cfg.Backend.Role {
	case "admin", "client":
	default:
		add("backend.role", "must be admin or client, got %q", cfg.Backend.Role)
	}
	if cfg.Backend.Timeout < 0 {
		add("backend.timeout", "must not be negative")
	}

	if cfg.Store.EncryptionKey != "" {
		if _, err := vault.ParseKey(cfg.Store.EncryptionKey); err != nil {
			add("store.encryption_key", "%v", err)
		}
	}

	if _, err := time.LoadLocation(cfg.Export.Timezone); err != nil {
		add("export.timezone", "unknown time zone %q", cfg.Export.Timezone)
	}
	if cfg.Export.BrandingTimeout < 0 {
		add("export.branding_timeout", "must not be negative")
	}

	if cfg.Schedule.Enabled {
		if _, err := cron.ParseStandard(cfg.Schedule.Cron); err != nil {
			add("schedule.cron", "invalid expression %q: %v", cfg.Schedule.Cron, err)
		}
	}
	for _, f := range cfg.Schedule.Formats {
		if _, err := export.ParseFormat(f); err != nil {
			add("schedule.formats", "%v", err)
		}
	}

	if _, err := zapcore.ParseLevel(cfg.Logging.Level); err != nil {
		add("logging.level", "must be debug, info, warn or error, got %q", cfg.Logging.Level)
	}
	switch cfg.Logging.Format {
	case "json", "console":
	default:
		add("logging.format", "must be json or console, got %q", cfg.Logging.Format)
	}

	if !strings.HasPrefix(cfg.Metrics.Path, "/") {
		add("metrics.path", "must start with /")
	}

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}

// Location returns the configured export time zone.
func (c ExportConfig) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// Key returns the decoded store encryption key, or nil when unset.
func (c StoreConfig) Key() ([]byte, error) {
	if c.EncryptionKey == "" {
		return nil, nil
	}
	return vault.ParseKey(c.EncryptionKey)
}

// ScheduleFormats returns the parsed schedule formats.
func (c ScheduleConfig) ScheduleFormats() ([]export.Format, error) {
	out := make([]export.Format, 0, len(c.Formats))
	for _, s := range c.Formats {
		f, err := export.ParseFormat(s)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}
