package sdk

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/celerix-dev/celerix-export/internal/engine"
	"go.uber.org/zap"
)

// Config selects and configures the submission backend.
type Config struct {
	// BaseURL of the remote portal API. Empty selects the embedded store.
	BaseURL     string
	Role        Role
	UserName    string
	Password    string
	InsecureTLS bool
	Timeout     time.Duration

	// DataDir of the embedded store.
	DataDir string
	// EncryptionKey, when set, encrypts embedded buckets at rest.
	EncryptionKey []byte
	// Owner is the client the embedded store acts as for Me.
	Owner string

	Logger *zap.Logger
}

// New initializes the backend based on cfg. It returns the Backend
// interface, so the caller doesn't care if it's local or remote. When the
// remote backend is unreachable it falls back to the embedded store; a
// rejected login is returned as an error.
func New(ctx context.Context, cfg Config) (Backend, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	if cfg.BaseURL != "" {
		client, err := connectRemote(ctx, cfg, logger)
		if err == nil {
			return client, nil
		}
		var apiErr *APIError
		if errors.Is(err, ErrUnauthorized) || errors.As(err, &apiErr) || cfg.DataDir == "" {
			return nil, err
		}
		logger.Warn("remote backend unavailable, using embedded store",
			zap.String("base_url", cfg.BaseURL),
			zap.String("data_dir", cfg.DataDir),
			zap.Error(err))
	}

	if cfg.DataDir == "" {
		return nil, fmt.Errorf("no backend configured: set a base URL or a data directory")
	}
	return OpenEmbedded(cfg.DataDir, cfg.EncryptionKey, cfg.Owner, logger)
}

// OpenEmbedded loads the embedded store from dir.
func OpenEmbedded(dir string, key []byte, owner string, logger *zap.Logger) (*engine.MemStore, error) {
	p, err := engine.NewPersistence(dir, key, logger)
	if err != nil {
		return nil, err
	}
	store, err := engine.Open(p)
	if err != nil {
		return nil, err
	}
	if owner != "" {
		store.SetOwner(owner)
	}
	return store, nil
}

func connectRemote(ctx context.Context, cfg Config, logger *zap.Logger) (*Client, error) {
	opts := []Option{WithLogger(logger)}
	if cfg.InsecureTLS {
		opts = append(opts, WithInsecureTLS())
	}
	client, err := Connect(cfg.BaseURL, opts...)
	if err != nil {
		return nil, err
	}
	if cfg.Timeout > 0 {
		client.http.Timeout = cfg.Timeout
	}
	if cfg.UserName != "" {
		role := cfg.Role
		if role == "" {
			role = RoleAdmin
		}
		if _, err := client.Login(ctx, role, cfg.UserName, cfg.Password); err != nil {
			return nil, fmt.Errorf("login as %s: %w", cfg.UserName, err)
		}
	}
	return client, nil
}
