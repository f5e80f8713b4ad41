package server

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 200 * time.Millisecond

// ReloadWatcher watches the static asset tree in development mode and
// calls broadcast when anything changes, so connected browsers can
// reload without restarting the container.
type ReloadWatcher struct {
	logger    *slog.Logger
	dir       string
	broadcast func()
}

func NewReloadWatcher(logger *slog.Logger, dir string, broadcast func()) *ReloadWatcher {
	return &ReloadWatcher{logger: logger, dir: dir, broadcast: broadcast}
}

// Start watches until the context is cancelled. A missing asset
// directory disables the watcher rather than failing startup.
func (rw *ReloadWatcher) Start(ctx context.Context) {
	if _, err := os.Stat(rw.dir); os.IsNotExist(err) {
		rw.logger.Warn("Static directory does not exist, reload watcher disabled", "dir", rw.dir)
		return
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		rw.logger.Error("Failed to create reload watcher", "error", err)
		return
	}
	defer watcher.Close()

	if err = rw.addRecursive(watcher); err != nil {
		rw.logger.Error("Failed to watch static directory", "error", err, "dir", rw.dir)
		return
	}

	rw.logger.Info("Live-reload watcher active", "dir", rw.dir)

	var debounce *time.Timer
	for {
		select {
		case <-ctx.Done():
			rw.logger.Info("Reload watcher stopped")
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			// New subdirectories need watching too.
			if event.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(event.Name); statErr == nil && info.IsDir() {
					_ = watcher.Add(event.Name)
				}
			}
			rw.logger.Debug("Static asset changed", "path", event.Name, "op", event.Op.String())
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, rw.broadcast)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			rw.logger.Error("Reload watcher error", "error", err)
		}
	}
}

func (rw *ReloadWatcher) addRecursive(watcher *fsnotify.Watcher) error {
	return filepath.WalkDir(rw.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
}
