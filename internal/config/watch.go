package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce collapses the burst of events editors produce on save.
const watchDebounce = 150 * time.Millisecond

// Watch reloads path whenever it changes and hands every valid result to fn.
// Invalid reloads are logged and skipped. It blocks until ctx is done.
// The parent directory is watched so editors that replace the file by
// rename keep being followed.
func Watch(ctx context.Context, path string, log *slog.Logger, fn func(*Config)) error {
	if log == nil {
		log = slog.Default()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watch: %w", err)
	}
	defer func() { _ = w.Close() }()
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("config watch %s: %w", filepath.Dir(abs), err)
	}

	var (
		timer   *time.Timer
		timerCh <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(watchDebounce)
			} else {
				timer.Reset(watchDebounce)
			}
			timerCh = timer.C
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn("config watch error", "error", err)
		case <-timerCh:
			timerCh = nil
			cfg, err := Load(path)
			if err != nil {
				log.Error("config reload failed; keeping previous config", "path", path, "error", err)
				continue
			}
			log.Info("config reloaded", "path", path, "processes", len(cfg.Processes))
			fn(cfg)
		}
	}
}
