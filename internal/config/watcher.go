package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher hot-reloads a department mapping file into a Registry
type Watcher struct {
	registry *Registry
	path     string
	debounce time.Duration
	onReload func(*Snapshot)
	logger   *zap.SugaredLogger
}

// NewWatcher creates a watcher for path
func NewWatcher(registry *Registry, path string, logger *zap.SugaredLogger) *Watcher {
	return &Watcher{registry: registry, path: path, debounce: 250 * time.Millisecond, logger: logger}
}

// OnReload registers fn to run after every accepted reload
func (w *Watcher) OnReload(fn func(*Snapshot)) {
	w.onReload = fn
}

// Start blocks until ctx is cancelled, reloading the file whenever it changes.
// The parent directory is watched so atomic editor renames are seen.
func (w *Watcher) Start(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	defer fw.Close()

	target := filepath.Clean(w.path)
	if err := fw.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}

	var timer *time.Timer
	reload := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Department mapping watcher stopped")
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})

		case <-reload:
			snap, err := w.registry.ReloadFile(target)
			if err != nil {
				w.logger.Warnw("Department mapping reload rejected, keeping previous version",
					"path", target,
					"version", w.registry.Current().Version,
					"error", err,
				)
				continue
			}
			w.logger.Infow("Department mappings reloaded",
				"path", target,
				"version", snap.Version,
				"mappings", len(snap.Mappings()),
			)
			if w.onReload != nil {
				w.onReload(snap)
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warnw("File watcher error", "error", err)
		}
	}
}
