package catalog

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"kilometers.ai/pluginhost/internal/core/ports"
)

// WatcherConfig configures a Watcher
type WatcherConfig struct {
	Path          string
	DebounceDelay time.Duration
	Logger        ports.DiagnosticSink
}

// Watcher calls a function whenever the catalog file changes. Bursts of
// events are collapsed into one call.
type Watcher struct {
	path     string
	debounce time.Duration
	logger   ports.DiagnosticSink
	watcher  *fsnotify.Watcher

	pendingMu sync.Mutex
	pending   bool

	stopOnce sync.Once
	done     chan struct{}
}

// NewWatcher creates a watcher for the catalog file at cfg.Path
func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	path, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("invalid catalog path %q: %w", cfg.Path, err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	// Watch the directory: editors replace files by rename, which drops a
	// watch on the file itself.
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}

	debounce := cfg.DebounceDelay
	if debounce <= 0 {
		debounce = 200 * time.Millisecond
	}

	return &Watcher{
		path:     path,
		debounce: debounce,
		logger:   cfg.Logger,
		watcher:  fsw,
		done:     make(chan struct{}),
	}, nil
}

// Run blocks until ctx is done or the watcher is stopped, calling onChange
// after each debounced change of the catalog file
func (w *Watcher) Run(ctx context.Context, onChange func(ctx context.Context)) {
	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleFSEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log(func(l ports.DiagnosticSink) {
				l.LogError(err, "[Catalog] Watcher error", map[string]interface{}{"path": w.path})
			})

		case <-ticker.C:
			if w.takePending() {
				w.log(func(l ports.DiagnosticSink) {
					l.LogInfo("[Catalog] Catalog file changed", map[string]interface{}{"path": w.path})
				})
				onChange(ctx)
			}
		}
	}
}

// Stop stops the watcher
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		err = w.watcher.Close()
	})
	return err
}

func (w *Watcher) handleFSEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.path {
		return
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return
	}

	w.pendingMu.Lock()
	w.pending = true
	w.pendingMu.Unlock()
}

func (w *Watcher) takePending() bool {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()
	pending := w.pending
	w.pending = false
	return pending
}

func (w *Watcher) log(fn func(ports.DiagnosticSink)) {
	if w.logger != nil {
		fn(w.logger)
	}
}
