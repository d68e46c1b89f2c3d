package app

import (
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"xonbot/internal/config"
)

// poolWatcher hot-reloads draft map pools when their files change. A pool
// that fails to load keeps the previous one; an in-flight draft keeps the
// pool it started with either way.
type poolWatcher struct {
	watcher *fsnotify.Watcher
	logger  *slog.Logger
	units   map[string]*serverUnit // keyed by absolute pool path
	done    chan struct{}
	wg      sync.WaitGroup
}

func newPoolWatcher(a *App, logger *slog.Logger) (*poolWatcher, error) {
	w := &poolWatcher{
		logger: logger,
		units:  make(map[string]*serverUnit),
		done:   make(chan struct{}),
	}
	for _, unit := range a.units {
		if unit.cfg.MapPoolPath == "" {
			continue
		}
		abs, err := filepath.Abs(unit.cfg.MapPoolPath)
		if err != nil {
			abs = unit.cfg.MapPoolPath
		}
		w.units[abs] = unit
	}
	if len(w.units) == 0 {
		return w, nil // nothing to watch
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w.watcher = watcher
	return w, nil
}

func (w *poolWatcher) start() {
	if w.watcher == nil {
		return
	}
	// Watch the containing directories: editors replace files by rename,
	// which drops a watch set on the file itself.
	dirs := make(map[string]bool)
	for path := range w.units {
		dir := filepath.Dir(path)
		if dirs[dir] {
			continue
		}
		dirs[dir] = true
		if err := w.watcher.Add(dir); err != nil {
			w.logger.Warn("cannot watch map pool directory", "dir", dir, "error", err)
		}
	}

	w.wg.Add(1)
	go w.loop()
}

func (w *poolWatcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			abs, err := filepath.Abs(event.Name)
			if err != nil {
				continue
			}
			unit, watched := w.units[abs]
			if !watched {
				continue
			}
			w.reload(abs, unit)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("map pool watcher error", "error", err)
		}
	}
}

func (w *poolWatcher) reload(path string, unit *serverUnit) {
	pool, err := config.LoadMapPool(path)
	if err != nil {
		w.logger.Warn("map pool reload failed, keeping previous pool",
			"server", unit.cfg.Name, "path", path, "error", err)
		return
	}
	unit.tossMu.Lock()
	unit.toss.SetPool(pool)
	unit.tossMu.Unlock()
	w.logger.Info("map pool reloaded", "server", unit.cfg.Name, "maps", len(pool))
}

func (w *poolWatcher) stop() {
	if w.watcher == nil {
		return
	}
	close(w.done)
	w.watcher.Close()
	w.wg.Wait()
}
