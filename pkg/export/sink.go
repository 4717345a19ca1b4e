package export

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// File is a finished export ready for delivery.
type File struct {
	Name        string
	ContentType string
	Body        []byte
}

// Sink delivers a finished export. It is called at most once per export and
// only with a complete document.
type Sink interface {
	Save(ctx context.Context, f File) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, f File) error

// Save calls fn.
func (fn SinkFunc) Save(ctx context.Context, f File) error { return fn(ctx, f) }

// MemorySink keeps saved files in memory.
type MemorySink struct {
	mu    sync.Mutex
	files []File
}

// Save records f.
func (m *MemorySink) Save(_ context.Context, f File) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files = append(m.files, f)
	return nil
}

// Files returns a copy of the saved files in save order.
func (m *MemorySink) Files() []File {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]File(nil), m.files...)
}

// FileSink writes exports into a directory.
type FileSink struct {
	Dir string
	mu  sync.Mutex
}

// NewFileSink creates dir if needed.
func NewFileSink(dir string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &FileSink{Dir: dir}, nil
}

// Save writes f under Dir atomically: readers see the old file or the new
// one, never a partial document.
func (s *FileSink) Save(ctx context.Context, f File) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	name := filepath.Base(f.Name)
	if name == "." || name == string(filepath.Separator) || name == "" {
		return errors.New("file sink: empty file name")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.Dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, f.Body, 0644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}
