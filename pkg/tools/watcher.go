package tools

import (
	"context"
	"path/filepath"
	"time"

	"scanpilot/pkg/logger"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a Catalog whenever its backing YAML file changes. A file
// that fails to parse leaves the previous catalog in place.
type Watcher struct {
	path     string
	catalog  *Catalog
	logger   *logger.Logger
	interval time.Duration
	onReload func(count int, err error)
}

func NewWatcher(path string, catalog *Catalog, log *logger.Logger) *Watcher {
	return &Watcher{
		path:     path,
		catalog:  catalog,
		logger:   log,
		interval: time.Second,
	}
}

// OnReload registers a callback invoked after every reload attempt.
func (w *Watcher) OnReload(fn func(count int, err error)) {
	w.onReload = fn
}

func (w *Watcher) Reload() error {
	defs, err := LoadFile(w.path)
	if err == nil {
		err = w.catalog.Replace(defs)
	}

	if err != nil {
		w.logger.WithFields(logger.Fields{"file": w.path, "error": err}).Error("Failed to reload tool catalog, keeping previous definitions")
	} else {
		w.logger.WithFields(logger.Fields{"file": w.path, "tools": len(defs)}).Info("Tool catalog reloaded")
	}
	if w.onReload != nil {
		w.onReload(len(defs), err)
	}
	return err
}

// Watch blocks until ctx is cancelled. The parent directory is watched so
// editors that replace the file via rename are still picked up.
func (w *Watcher) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		return err
	}

	w.logger.WithFields(logger.Fields{"file": w.path}).Info("Watching tool catalog")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	target := filepath.Clean(w.path)
	updatePending := false

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				updatePending = true
			}

		case <-ticker.C:
			if updatePending {
				w.Reload()
				updatePending = false
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.WithFields(logger.Fields{"error": err, "file": w.path}).Error("Tool catalog watcher error")

		case <-ctx.Done():
			w.logger.WithFields(logger.Fields{"file": w.path}).Info("Stopping tool catalog watcher")
			return nil
		}
	}
}
