package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

var watchDebounce = 300 * time.Millisecond

// Watch calls fn with freshly loaded settings whenever the file at path changes.
// It watches the parent directory so editors that save by renaming a temp file
// are picked up. Invalid files are logged and skipped. Watching stops when ctx
// is done.
func Watch(ctx context.Context, path string, fn func(*Settings)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return err
	}

	go watchLoop(ctx, watcher, filepath.Clean(path), fn)
	return nil
}

func watchLoop(ctx context.Context, watcher *fsnotify.Watcher, path string, fn func(*Settings)) {
	defer watcher.Close()

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	reload := func() {
		if ctx.Err() != nil {
			return
		}
		s, err := Load(path)
		if err != nil {
			slog.Warn("Ignoring invalid settings change", "path", path, "error", err)
			return
		}
		slog.Debug("Settings reloaded", "path", path)
		fn(s)
	}

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(watchDebounce, reload)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("Settings watcher error", "error", err)
		}
	}
}
