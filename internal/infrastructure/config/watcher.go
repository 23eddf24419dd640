package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher reloads the configuration when the config file is written and hands
// the fresh values to onChange. Only settings that are safe to swap at runtime
// (the log level) are expected to be applied by callers.
type Watcher struct {
	path     string
	reload   func() (*Config, error)
	onChange func(*Config)
	watcher  *fsnotify.Watcher
	logger   *zap.Logger
}

// NewWatcher watches path. reload is normally Load.
func NewWatcher(path string, reload func() (*Config, error), onChange func(*Config), logger *zap.Logger) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	return &Watcher{
		path:     filepath.Clean(path),
		reload:   reload,
		onChange: onChange,
		watcher:  w,
		logger:   logger.With(zap.String("component", "config-watcher")),
	}, nil
}

// Start watches the directory containing the file, since editors often replace
// the file instead of writing it in place.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch config dir: %w", err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				w.handleEvent(event)
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				w.logger.Error("Watcher error", zap.Error(err))
			}
		}
	}()

	w.logger.Info("Config hot-reload watching started", zap.String("path", w.path))
	return nil
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.path {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}

	cfg, err := w.reload()
	if err != nil {
		w.logger.Warn("Config reload failed, keeping previous values", zap.Error(err))
		return
	}
	w.logger.Info("Config reloaded", zap.String("path", w.path), zap.String("log_level", cfg.Log.Level))
	w.onChange(cfg)
}

// Close stops the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
