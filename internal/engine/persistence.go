package engine

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/celerix-dev/celerix-export/internal/vault"
	"github.com/celerix-dev/celerix-export/pkg/schema"
	"go.uber.org/zap"
)

const (
	plainExt     = ".json"
	encryptedExt = ".json.enc"
)

// Bucket is the on-disk unit: one client descriptor and its submissions.
type Bucket struct {
	Client      *schema.Client      `json:"client,omitempty"`
	Submissions []schema.Submission `json:"submissions"`
}

// Persistence handles the disk I/O for the MemStore.
type Persistence struct {
	DataDir string
	key     []byte
	logger  *zap.Logger
	mu      sync.Mutex // Protects concurrent writes to the filesystem
}

// NewPersistence initializes a persistence handler. A non-nil key encrypts
// every bucket with AES-GCM.
func NewPersistence(dir string, key []byte, logger *zap.Logger) (*Persistence, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	if key != nil && len(key) != vault.KeySize {
		return nil, fmt.Errorf("encryption key must be %d bytes", vault.KeySize)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Persistence{DataDir: dir, key: key, logger: logger}, nil
}

// Encrypted reports whether buckets are written encrypted.
func (p *Persistence) Encrypted() bool { return p.key != nil }

func (p *Persistence) path(bucketID string) string {
	ext := plainExt
	if p.key != nil {
		ext = encryptedExt
	}
	return filepath.Join(p.DataDir, url.PathEscape(bucketID)+ext)
}

// SaveBucket writes one bucket atomically. An empty bucket removes its file.
func (p *Persistence) SaveBucket(bucketID string, b Bucket) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	filePath := p.path(bucketID)
	if b.Client == nil && len(b.Submissions) == 0 {
		if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}

	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return err
	}
	if p.key != nil {
		if data, err = vault.Seal(data, p.key); err != nil {
			return fmt.Errorf("encrypt bucket %s: %w", bucketID, err)
		}
	}

	tempPath := filePath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return err
	}
	// Readers see either the old file or the new one.
	return os.Rename(tempPath, filePath)
}

// LoadAll returns every readable bucket in the data directory keyed by
// bucket ID. Unreadable files are logged and skipped.
func (p *Persistence) LoadAll() (map[string]Bucket, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	files, err := os.ReadDir(p.DataDir)
	if err != nil {
		return nil, err
	}

	all := make(map[string]Bucket)
	for _, file := range files {
		name := file.Name()
		if file.IsDir() {
			continue
		}

		var escaped string
		var encrypted bool
		switch {
		case strings.HasSuffix(name, encryptedExt):
			escaped, encrypted = strings.TrimSuffix(name, encryptedExt), true
		case strings.HasSuffix(name, plainExt):
			escaped = strings.TrimSuffix(name, plainExt)
		default:
			continue
		}
		bucketID, err := url.PathUnescape(escaped)
		if err != nil {
			p.logger.Warn("skipping bucket with invalid name", zap.String("file", name))
			continue
		}

		content, err := os.ReadFile(filepath.Join(p.DataDir, name))
		if err != nil {
			p.logger.Warn("could not read bucket file", zap.String("file", name), zap.Error(err))
			continue
		}
		if encrypted {
			if p.key == nil {
				p.logger.Warn("skipping encrypted bucket, no key configured", zap.String("file", name))
				continue
			}
			if content, err = vault.Open(content, p.key); err != nil {
				p.logger.Warn("could not decrypt bucket file", zap.String("file", name), zap.Error(err))
				continue
			}
		}

		var b Bucket
		if err := json.Unmarshal(content, &b); err != nil {
			p.logger.Warn("could not unmarshal bucket file", zap.String("file", name), zap.Error(err))
			continue
		}
		all[bucketID] = b
	}
	return all, nil
}
