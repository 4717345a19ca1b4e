package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CELERIX_EXPORT_"

// Load reads the YAML file at path, applies defaults and environment
// overrides, and validates the result. An empty path starts from defaults.
//
// The loading sequence is:
// 1. Load YAML from file
// 2. Apply default values
// 3. Apply environment variable overrides
// 4. Validate final configuration
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
		}
	}

	ApplyDefaults(&cfg)
	applyEnvOverrides(&cfg, os.Getenv)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides applies CELERIX_EXPORT_SECTION_FIELD variables. Values
// that fail to parse are ignored and caught by Validate when it matters.
func applyEnvOverrides(cfg *Config, getenv func(string) string) {
	str := func(name string, dst *string) {
		if v := getenv(EnvPrefix + name); v != "" {
			*dst = v
		}
	}
	boolean := func(name string, dst *bool) {
		if v := getenv(EnvPrefix + name); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}
	duration := func(name string, dst *time.Duration) {
		if v := getenv(EnvPrefix + name); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = d
			}
		}
	}
	list := func(name string, dst *[]string) {
		if v := getenv(EnvPrefix + name); v != "" {
			var out []string
			for _, s := range strings.Split(v, ",") {
				if s = strings.TrimSpace(s); s != "" {
					out = append(out, s)
				}
			}
			*dst = out
		}
	}

	str("SERVER_LISTEN_ADDRESS", &cfg.Server.ListenAddress)
	duration("SERVER_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	duration("SERVER_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	list("SERVER_CORS_ORIGINS", &cfg.Server.CORSOrigins)
	boolean("SERVER_TLS_ENABLED", &cfg.Server.TLS.Enabled)
	str("SERVER_TLS_CERT_FILE", &cfg.Server.TLS.CertFile)
	str("SERVER_TLS_KEY_FILE", &cfg.Server.TLS.KeyFile)

	str("BACKEND_BASE_URL", &cfg.Backend.BaseURL)
	str("BACKEND_ROLE", &cfg.Backend.Role)
	str("BACKEND_USERNAME", &cfg.Backend.UserName)
	str("BACKEND_PASSWORD", &cfg.Backend.Password)
	boolean("BACKEND_INSECURE_TLS", &cfg.Backend.InsecureTLS)
	duration("BACKEND_TIMEOUT", &cfg.Backend.Timeout)

	str("STORE_DATA_DIR", &cfg.Store.DataDir)
	str("STORE_ENCRYPTION_KEY", &cfg.Store.EncryptionKey)
	str("STORE_OWNER", &cfg.Store.Owner)
	boolean("STORE_WATCH", &cfg.Store.Watch)

	str("EXPORT_OUTPUT_DIR", &cfg.Export.OutputDir)
	str("EXPORT_ORGANIZATION", &cfg.Export.Organization)
	str("EXPORT_TIMEZONE", &cfg.Export.Timezone)
	str("EXPORT_BRANDING_IMAGE", &cfg.Export.BrandingImage)
	duration("EXPORT_BRANDING_TIMEOUT", &cfg.Export.BrandingTimeout)

	boolean("SCHEDULE_ENABLED", &cfg.Schedule.Enabled)
	str("SCHEDULE_CRON", &cfg.Schedule.Cron)
	list("SCHEDULE_FORMATS", &cfg.Schedule.Formats)

	boolean("AUDIT_DISABLED", &cfg.Audit.Disabled)
	str("AUDIT_PATH", &cfg.Audit.Path)

	str("LOG_LEVEL", &cfg.Logging.Level)
	str("LOG_FORMAT", &cfg.Logging.Format)

	boolean("METRICS_DISABLED", &cfg.Metrics.Disabled)
}
