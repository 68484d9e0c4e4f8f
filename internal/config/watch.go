package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/teslashibe/segcam/internal/log"
)

// Watch reloads the file at path whenever it changes and calls fn with each
// valid result. Invalid edits are logged and skipped. It blocks until ctx
// ends.
//
// The parent directory is watched, not the file, so editors that replace
// the file through a rename keep working.
func Watch(ctx context.Context, path string, fn func(Config)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: watch: %w", err)
	}
	defer w.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("config: watch: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("config: watch %s: %w", filepath.Dir(abs), err)
	}

	logger := log.Component("config")
	logger.Info("watching config", "path", abs)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs || !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) {
				continue
			}

			cfg, err := Load(abs)
			if err != nil {
				logger.Warn("config reload failed", "error", err)
				continue
			}
			if errs := cfg.Validate(); len(errs) > 0 {
				logger.Warn("config reload rejected", "errors", errs)
				continue
			}
			logger.Info("config reloaded", "threshold", cfg.Mask.Threshold, "color", cfg.Mask.Color)
			fn(cfg)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("config watcher error", "error", err)
		}
	}
}
