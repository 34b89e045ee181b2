package config

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/vyrodovalexey/bearergate/internal/observability"
)

const defaultDebounceDelay = 100 * time.Millisecond

// ConfigCallback receives each configuration that loaded and validated.
type ConfigCallback func(*GateConfig)

// ErrorCallback receives reload and watch errors. The previous
// configuration stays in effect.
type ErrorCallback func(error)

// Watcher reloads the configuration file when it changes. It watches the
// parent directory, so editors that rename over the file and ConfigMap
// symlink swaps are both seen.
type Watcher struct {
	path          string
	fs            *fsnotify.Watcher
	onChange      ConfigCallback
	onError       ErrorCallback
	logger        observability.Logger
	debounceDelay time.Duration

	mu      sync.RWMutex
	current *GateConfig
	digest  [sha256.Size]byte
	running bool

	stopCh chan struct{}
	doneCh chan struct{}
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounceDelay sets how long the watcher waits for a burst of file
// events to settle before reloading.
func WithDebounceDelay(delay time.Duration) WatcherOption {
	return func(w *Watcher) { w.debounceDelay = delay }
}

func WithLogger(logger observability.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = logger }
}

func WithErrorCallback(callback ErrorCallback) WatcherOption {
	return func(w *Watcher) { w.onError = callback }
}

// NewWatcher prepares a watcher for path. Nothing is read until Start.
func NewWatcher(path string, callback ConfigCallback, opts ...WatcherOption) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path: %w", err)
	}
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}

	w := &Watcher{
		path:          abs,
		fs:            fs,
		onChange:      callback,
		logger:        observability.NopLogger(),
		debounceDelay: defaultDebounceDelay,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Start records the current file as the baseline and begins watching.
// The baseline is not passed to the callback. Calling Start twice is a no-op.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}

	cfg, digest, err := w.load()
	if err != nil {
		return err
	}
	if err := w.fs.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(w.path), err)
	}
	w.current, w.digest, w.running = cfg, digest, true

	w.logger.Info("watching configuration file", observability.String("path", w.path))
	go w.loop(ctx)
	return nil
}

// Stop ends watching and waits for the event loop to exit.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
	return w.fs.Close()
}

// GetLastConfig returns the most recent valid configuration, or nil
// before Start.
func (w *Watcher) GetLastConfig() *GateConfig {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.doneCh)

	debounce := time.NewTimer(w.debounceDelay)
	debounce.Stop()
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("config watcher stopped", observability.String("cause", "context done"))
			return
		case <-w.stopCh:
			w.logger.Info("config watcher stopped")
			return

		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if w.relevant(event) {
				w.logger.Debug("config file event",
					observability.String("path", event.Name),
					observability.String("op", event.Op.String()))
				debounce.Reset(w.debounceDelay)
			}

		case <-debounce.C:
			w.reload()

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Error("config watcher error", observability.Error(err))
			w.fail(err)
		}
	}
}

// relevant reports whether event may have changed the watched file. Any
// create or rename in the directory qualifies since a ConfigMap update
// swaps the "..data" symlink rather than touching the file.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
		return true
	}
	return event.Has(fsnotify.Write) && filepath.Clean(event.Name) == w.path
}

func (w *Watcher) load() (*GateConfig, [sha256.Size]byte, error) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, [sha256.Size]byte{}, err
	}
	digest := sha256.Sum256(data)

	cfg, err := parseConfig(data)
	if err == nil {
		err = ValidateConfig(cfg)
	}
	if err != nil {
		return nil, digest, err
	}
	return cfg, digest, nil
}

func (w *Watcher) fail(err error) {
	if w.onError != nil {
		w.onError(err)
	}
}

// reload publishes the file if it parses, validates and differs from the
// last published content.
func (w *Watcher) reload() {
	cfg, digest, err := w.load()
	if err != nil {
		w.logger.Error("configuration reload failed, keeping previous configuration",
			observability.String("path", w.path),
			observability.Error(err))
		w.fail(err)
		return
	}

	w.mu.Lock()
	unchanged := digest == w.digest
	if !unchanged {
		w.current, w.digest = cfg, digest
	}
	w.mu.Unlock()

	if unchanged {
		w.logger.Debug("configuration content unchanged")
		return
	}
	w.logger.Info("configuration reloaded", observability.String("path", w.path))
	if w.onChange != nil {
		w.onChange(cfg)
	}
}

// ForceReload loads the file now and always invokes the callback.
func (w *Watcher) ForceReload() error {
	cfg, digest, err := w.load()
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.current, w.digest = cfg, digest
	w.mu.Unlock()

	if w.onChange != nil {
		w.onChange(cfg)
	}
	return nil
}
