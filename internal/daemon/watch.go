package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jandubois/shutter/internal/config"
)

const reloadDelay = 250 * time.Millisecond

// WatchConfig reloads the configuration file at path whenever it changes
// and swaps it into shared. Files that fail to load are logged and ignored.
// It returns when ctx is canceled.
func WatchConfig(ctx context.Context, path string, shared *config.Shared) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	// Editors and Save replace the file by renaming over it, so watch the
	// directory rather than the file itself.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	slog.Info("watching configuration", "path", path)

	name := filepath.Clean(path)
	timer := time.NewTimer(reloadDelay)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			// Coalesce bursts of events from one save.
			timer.Reset(reloadDelay)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("configuration watcher error", "error", err)

		case <-timer.C:
			reload(ctx, path, shared)
		}
	}
}

func reload(ctx context.Context, path string, shared *config.Shared) {
	loaded, err := config.Load(path)
	if err != nil {
		slog.Warn("ignoring configuration change", "path", path, "error", err)
		return
	}

	err = shared.Update(ctx, func(current *config.Config) error {
		// The counter never moves backwards, even when the file on disk
		// predates the latest upload.
		if loaded.LastIndex < current.LastIndex {
			loaded.LastIndex = current.LastIndex
		}
		*current = *loaded
		return nil
	})
	if err != nil {
		slog.Warn("configuration reload interrupted", "error", err)
		return
	}
	slog.Info("configuration reloaded", "path", path, "uploaders", len(loaded.Uploaders))
}
