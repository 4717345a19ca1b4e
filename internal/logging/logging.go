// Package logging builds the zap loggers used by the binaries.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options selects level and encoding.
type Options struct {
	// Level is debug, info, warn or error.
	Level string
	// Format is json or console.
	Format string
}

// New returns a logger and the atomic level backing it, so the level can be
// changed at runtime.
func New(opts Options) (*zap.Logger, zap.AtomicLevel, error) {
	level := zap.NewAtomicLevel()
	if opts.Level != "" {
		if err := level.UnmarshalText([]byte(opts.Level)); err != nil {
			return nil, level, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
	}

	var config zap.Config
	switch opts.Format {
	case "", "json":
		config = zap.NewProductionConfig()
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	case "console":
		config = zap.NewDevelopmentConfig()
	default:
		return nil, level, fmt.Errorf("invalid log format %q", opts.Format)
	}
	config.Level = level

	logger, err := config.Build()
	if err != nil {
		return nil, level, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, level, nil
}
