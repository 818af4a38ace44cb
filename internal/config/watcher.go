package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher hot-reloads configuration when the file changes. It is only
// active in development; in other environments Current always returns
// the initial config.
type Watcher struct {
	mu        sync.RWMutex
	path      string
	current   *Config
	callbacks []func(*Config)
	logger    *zap.Logger
	fs        *fsnotify.Watcher
	stopCh    chan struct{}
}

// NewWatcher creates a watcher around the config file at path.
func NewWatcher(path string, initial *Config, logger *zap.Logger) (*Watcher, error) {
	w := &Watcher{
		path:    path,
		current: initial,
		logger:  logger,
		stopCh:  make(chan struct{}),
	}

	if initial.Environment != Development || path == "" {
		logger.Info("configuration hot reloading disabled",
			zap.String("environment", string(initial.Environment)),
		)
		return w, nil
	}

	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fs.Add(path); err != nil {
		fs.Close()
		return nil, fmt.Errorf("failed to watch config file %s: %w", path, err)
	}
	w.fs = fs
	go w.loop()

	logger.Info("configuration hot reloading enabled", zap.String("path", path))
	return w, nil
}

// Current returns the most recently loaded configuration.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// OnReload registers a callback invoked after each successful reload.
func (w *Watcher) OnReload(fn func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, fn)
}

// Stop shuts the watcher down.
func (w *Watcher) Stop() {
	close(w.stopCh)
	if w.fs != nil {
		w.fs.Close()
	}
}

func (w *Watcher) loop() {
	// debounce rapid write bursts from editors
	const debounce = 500 * time.Millisecond
	var timer *time.Timer

	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, w.reload)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Warn("config reload failed, keeping previous configuration",
			zap.String("path", w.path),
			zap.Error(err),
		)
		return
	}

	w.mu.Lock()
	w.current = cfg
	callbacks := append(([]func(*Config))(nil), w.callbacks...)
	w.mu.Unlock()

	w.logger.Info("configuration reloaded",
		zap.String("path", w.path),
		zap.Bool("fail_open", cfg.Consistency.FailOpen),
	)
	for _, fn := range callbacks {
		fn(cfg)
	}
}
