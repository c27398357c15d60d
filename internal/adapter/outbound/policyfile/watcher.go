package policyfile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/lSAAGl/aegis-mcp/internal/domain/policy"
)

const defaultDebounce = 100 * time.Millisecond

// Watcher serves the last successfully loaded policy and reloads it when
// the file changes. A reload that fails keeps the previous document.
type Watcher struct {
	loader   *Loader
	logger   *slog.Logger
	debounce time.Duration
	onReload func(policy.Document)

	current atomic.Pointer[policy.Document]
	reloads atomic.Int64
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets the quiet period after the last file event before a
// reload runs (default 100ms).
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithReloadHook registers a callback run after every successful reload.
func WithReloadHook(fn func(policy.Document)) WatcherOption {
	return func(w *Watcher) {
		w.onReload = fn
	}
}

// NewWatcher loads the policy once and returns a watcher serving it.
// Call Run to start following changes.
func NewWatcher(ctx context.Context, loader *Loader, logger *slog.Logger, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		loader:   loader,
		logger:   logger,
		debounce: defaultDebounce,
	}
	for _, opt := range opts {
		opt(w)
	}

	doc, err := loader.Load(ctx)
	if err != nil {
		return nil, err
	}
	w.current.Store(&doc)
	return w, nil
}

// Load returns the current document.
func (w *Watcher) Load(_ context.Context) (policy.Document, error) {
	return *w.current.Load(), nil
}

// Reloads returns how many successful reloads have happened.
func (w *Watcher) Reloads() int64 {
	return w.reloads.Load()
}

// Run follows the policy file until ctx is cancelled. The parent directory
// is watched so that editors which replace the file by rename, and files
// created after startup, are both picked up.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer func() { _ = fw.Close() }()

	path := filepath.Clean(w.loader.Path())
	if err := fw.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	w.logger.Info("policy watcher started", "path", path, "debounce_ms", w.debounce.Milliseconds())

	var (
		timer  *time.Timer
		timerC <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("policy watcher stopped")
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return errors.New("fsnotify events channel closed")
			}
			if filepath.Clean(event.Name) != path || event.Op == fsnotify.Chmod {
				continue
			}
			w.logger.Debug("policy file event", "op", event.Op.String())
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			timerC = timer.C

		case <-timerC:
			timerC = nil
			w.reload(ctx)

		case err, ok := <-fw.Errors:
			if !ok {
				return errors.New("fsnotify errors channel closed")
			}
			w.logger.Error("policy watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	doc, err := w.loader.Load(ctx)
	if err != nil {
		w.logger.Error("policy reload failed, keeping previous policy", "error", err)
		return
	}
	w.current.Store(&doc)
	w.reloads.Add(1)
	w.logger.Info("policy reloaded", "path", doc.Path, "version", doc.Version(), "hash", doc.Hash)
	if w.onReload != nil {
		w.onReload(doc)
	}
}

// Compile-time interface verification.
var _ policy.Source = (*Watcher)(nil)
