// Copyright (C) 2025 SocialSpark AI (platform@socialspark.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package selfheal

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ConfigWatcher hot-reloads the orchestrator configuration when the
// config file changes on disk.
//
// # Description
//
// Watches the directory containing the config file (editors and config
// management tools typically replace files via rename, which a
// file-level watch would lose) and debounces bursts of events into a
// single reload. A reload that fails to parse or validate is logged and
// discarded; the live config is never partially updated.
//
// # Thread Safety
//
// Safe for concurrent use. Stop is idempotent.
type ConfigWatcher struct {
	path         string
	orchestrator *Orchestrator
	logger       *slog.Logger
	debounce     time.Duration

	watcher  *fsnotify.Watcher
	done     chan struct{}
	stopOnce sync.Once
}

// NewConfigWatcher creates a watcher for the config file at path. Call
// Start to begin watching and Stop during shutdown.
func NewConfigWatcher(path string, orchestrator *Orchestrator, logger *slog.Logger) (*ConfigWatcher, error) {
	if path == "" {
		return nil, fmt.Errorf("config path must not be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	return &ConfigWatcher{
		path:         abs,
		orchestrator: orchestrator,
		logger:       logger,
		debounce:     250 * time.Millisecond,
		done:         make(chan struct{}),
	}, nil
}

// Start begins watching the config file's directory.
func (w *ConfigWatcher) Start() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch config directory: %w", err)
	}
	w.watcher = watcher

	go w.runLoop()

	w.logger.Info("config watcher started", slog.String("path", w.path))
	return nil
}

// Stop halts the watcher. Safe to call multiple times.
func (w *ConfigWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		if w.watcher != nil {
			w.watcher.Close()
		}
	})
}

func (w *ConfigWatcher) runLoop() {
	var debounceTimer *time.Timer
	var debounceCh <-chan time.Time

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Rename) {
				continue
			}
			if debounceTimer == nil {
				debounceTimer = time.NewTimer(w.debounce)
			} else {
				debounceTimer.Reset(w.debounce)
			}
			debounceCh = debounceTimer.C

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", slog.String("error", err.Error()))

		case <-debounceCh:
			debounceCh = nil
			w.reload()
		}
	}
}

// reload parses and applies the config file. A bad file leaves the
// live config untouched.
func (w *ConfigWatcher) reload() {
	cfg, err := LoadConfigFile(w.path)
	if err != nil {
		w.logger.Error("config reload rejected",
			slog.String("path", w.path),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := w.orchestrator.ReplaceConfig(cfg); err != nil {
		w.logger.Error("config reload rejected", slog.String("error", err.Error()))
		return
	}
	w.logger.Info("configuration reloaded from file", slog.String("path", w.path))
}
