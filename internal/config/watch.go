package config

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce absorbs the burst of events an editor's atomic
// rename-based save produces, so a single edit triggers one reload.
const reloadDebounce = 500 * time.Millisecond

// WatchFile watches path for writes and calls onChange once, debounced,
// per burst of filesystem activity. It runs until ctx is cancelled.
// path is typically cfg.ConfigFile; callers pass "" to skip watching
// entirely (the default when config comes only from the environment).
func WatchFile(ctx context.Context, path string, logger *slog.Logger, onChange func()) error {
	if path == "" {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()

		var mu sync.Mutex
		var timer *time.Timer

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				// Atomic-rename saves drop the file from the watch list;
				// re-add so the next write is still seen.
				if event.Op&(fsnotify.Rename|fsnotify.Remove) != 0 {
					if err := watcher.Add(path); err != nil {
						logger.Debug("config: failed to re-add file watch", "path", path, "error", err)
					}
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}

				mu.Lock()
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(reloadDebounce, func() {
					logger.Info("config: file changed, reloading", "path", path)
					onChange()
				})
				mu.Unlock()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Error("config: file watcher error", "error", err)
			}
		}
	}()

	return nil
}
