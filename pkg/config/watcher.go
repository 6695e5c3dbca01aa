package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounceInterval is how long the watcher waits for writes to settle.
const DefaultDebounceInterval = 100 * time.Millisecond

// Watcher reloads a Store when its configuration file changes. A file that
// fails to load or validate is logged and ignored; the previous snapshot
// stays active.
type Watcher struct {
	path     string
	store    *Store
	loader   func(string) (*Config, error)
	logger   *slog.Logger
	debounce *Debouncer

	mu       sync.Mutex
	onReload []func(*Config)
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithLoader overrides the function used to load the file. The default is
// LoadConfigWithEnvOverrides.
func WithLoader(loader func(string) (*Config, error)) WatcherOption {
	return func(w *Watcher) {
		w.loader = loader
	}
}

// WithDebounce overrides the debounce interval.
func WithDebounce(interval time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.debounce = NewDebouncer(interval)
	}
}

// NewWatcher creates a watcher for the configuration file at path.
func NewWatcher(path string, store *Store, logger *slog.Logger, opts ...WatcherOption) (*Watcher, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %q: %w", path, err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	w := &Watcher{
		path:     abs,
		store:    store,
		loader:   LoadConfigWithEnvOverrides,
		logger:   logger.With("component", "config.watcher"),
		debounce: NewDebouncer(DefaultDebounceInterval),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// OnReload registers fn to be called with each successfully loaded snapshot.
func (w *Watcher) OnReload(fn func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onReload = append(w.onReload, fn)
}

// Reload loads the file immediately and swaps the Store on success.
func (w *Watcher) Reload() error {
	cfg, err := w.loader(w.path)
	if err != nil {
		return err
	}
	w.store.Set(cfg)

	w.mu.Lock()
	hooks := append([]func(*Config){}, w.onReload...)
	w.mu.Unlock()
	for _, fn := range hooks {
		fn(cfg)
	}

	w.logger.Info("configuration reloaded", "path", w.path, "version", w.store.Version())
	return nil
}

// Watch blocks until ctx is cancelled, reloading on every settled change to
// the file. The parent directory is watched so that editors which replace
// the file by rename are observed.
func (w *Watcher) Watch(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer fsw.Close()
	defer w.debounce.Stop()

	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch %q: %w", filepath.Dir(w.path), err)
	}

	w.logger.Info("config watcher started",
		"path", w.path,
		"debounce_ms", w.debounce.interval.Milliseconds(),
	)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("config watcher stopped")
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if !w.shouldProcessEvent(event) {
				continue
			}

			w.logger.Debug("config file event", "op", event.Op.String())
			w.debounce.Trigger(func() {
				if err := w.Reload(); err != nil {
					w.logger.Error("configuration reload rejected, keeping previous snapshot",
						"path", w.path,
						"error", err,
					)
				}
			})

		case err, ok := <-fsw.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			w.logger.Error("config watcher error", "error", err)
		}
	}
}

func (w *Watcher) shouldProcessEvent(event fsnotify.Event) bool {
	if event.Op&fsnotify.Chmod == fsnotify.Chmod {
		return false
	}
	return filepath.Clean(event.Name) == w.path
}

// Debouncer collects rapid events and runs only the last callback after a
// quiet period.
type Debouncer struct {
	interval time.Duration
	timer    *time.Timer
	mu       sync.Mutex
	callback func()
	stopped  bool
}

// NewDebouncer creates a new debouncer.
func NewDebouncer(interval time.Duration) *Debouncer {
	return &Debouncer{interval: interval}
}

// Trigger schedules callback after the debounce interval, replacing any
// pending callback.
func (d *Debouncer) Trigger(callback func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	d.callback = callback
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.interval, func() {
		d.mu.Lock()
		cb := d.callback
		stopped := d.stopped
		d.mu.Unlock()

		if cb != nil && !stopped {
			cb()
		}
	})
}

// Stop cancels any pending callback. Stop is idempotent.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.callback = nil
}
