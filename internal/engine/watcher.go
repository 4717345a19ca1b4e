package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce is the quiet period before a reload fires.
const DefaultDebounce = 200 * time.Millisecond

// Watcher reloads a MemStore when bucket files change on disk, for example
// when another process restores a backup into the data directory.
type Watcher struct {
	store    *MemStore
	watcher  *fsnotify.Watcher
	logger   *zap.Logger
	debounce time.Duration

	mu    sync.Mutex
	timer *time.Timer
}

// NewWatcher watches the store's data directory. The store must have a
// persister.
func NewWatcher(store *MemStore, debounce time.Duration) (*Watcher, error) {
	if store.persister == nil {
		return nil, fmt.Errorf("watcher needs a persistent store")
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := fw.Add(store.persister.DataDir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", store.persister.DataDir, err)
	}
	return &Watcher{store: store, watcher: fw, logger: store.logger, debounce: debounce}, nil
}

// Run processes events until ctx is done. It closes the underlying watcher
// on return.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.stop()
	w.logger.Info("store watcher started",
		zap.String("dir", w.store.persister.DataDir),
		zap.Duration("debounce", w.debounce))

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if !relevant(ev) {
				continue
			}
			w.logger.Debug("bucket file changed", zap.String("path", ev.Name), zap.String("op", ev.Op.String()))
			w.trigger()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			w.logger.Error("store watcher error", zap.Error(err))
		}
	}
}

func relevant(ev fsnotify.Event) bool {
	if ev.Op == fsnotify.Chmod {
		return false
	}
	name := filepath.Base(ev.Name)
	if strings.HasPrefix(name, ".") {
		return false
	}
	return strings.HasSuffix(name, plainExt) || strings.HasSuffix(name, encryptedExt)
}

func (w *Watcher) trigger() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		if err := w.store.Reload(); err != nil {
			w.logger.Error("store reload failed", zap.Error(err))
		}
	})
}

func (w *Watcher) stop() {
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.mu.Unlock()
	w.watcher.Close()
}
