// Copyright (C) 2025 SocialSpark AI (platform@socialspark.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package logging provides structured logging for autoheal components.
//
// The package is a thin layer over the standard library slog package:
//
//   - Default: stderr output in text format (Unix CLI convention)
//   - Optional: JSON output for container deployments
//   - Optional: file logging with automatic directory creation
//
// # Basic Usage
//
//	logger := logging.Setup(logging.Config{Service: "autoheal", JSON: true})
//	logger.Info("service starting", "port", 9400)
//
// Setup also installs the logger as the slog default so packages that
// log through slog directly (the common case in this codebase) share
// the same destinations and service attribute.
//
// # Security Considerations
//
// This package does NOT redact sensitive data. Callers must ensure API
// keys and tenant content are not logged.
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config configures logging destinations and verbosity.
//
// The zero value logs Info and above to stderr in text format.
type Config struct {
	// Level is the minimum level: "debug", "info", "warn", "error".
	// Default: "info".
	Level string

	// Service is attached to every record as the "service" attribute.
	Service string

	// JSON switches stderr output to JSON (machine-parseable).
	JSON bool

	// LogDir enables file logging in addition to stderr. Files are named
	// {service}_{YYYY-MM-DD}.log and are always JSON.
	LogDir string
}

// Setup builds a logger from cfg and installs it as the slog default.
//
// File-logging failures degrade to stderr-only logging rather than
// failing startup; a daemon without a log file is more useful than no
// daemon at all.
func Setup(cfg Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var handlers []slog.Handler
	if cfg.JSON {
		handlers = append(handlers, slog.NewJSONHandler(os.Stderr, opts))
	} else {
		handlers = append(handlers, slog.NewTextHandler(os.Stderr, opts))
	}

	if cfg.LogDir != "" {
		if file, err := openLogFile(cfg.LogDir, cfg.Service); err == nil {
			handlers = append(handlers, slog.NewJSONHandler(file, opts))
		} else {
			fmt.Fprintf(os.Stderr, "logging: file logging disabled: %v\n", err)
		}
	}

	var handler slog.Handler
	if len(handlers) == 1 {
		handler = handlers[0]
	} else {
		handler = &multiHandler{handlers: handlers}
	}

	if cfg.Service != "" {
		handler = handler.WithAttrs([]slog.Attr{slog.String("service", cfg.Service)})
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// parseLevel maps a config string to a slog level, defaulting to Info.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// openLogFile creates the log directory and opens today's log file.
func openLogFile(dir, service string) (*os.File, error) {
	if service == "" {
		service = "autoheal"
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	name := fmt.Sprintf("%s_%s.log", service, time.Now().Format("2006-01-02"))
	file, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return file, nil
}

// multiHandler fans out records to several slog handlers, enabling
// simultaneous text output on stderr and JSON output to a file.
type multiHandler struct {
	handlers []slog.Handler
}

func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, r.Level) {
			if err := handler.Handle(ctx, r); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithAttrs(attrs)
	}
	return &multiHandler{handlers: handlers}
}

func (h *multiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithGroup(name)
	}
	return &multiHandler{handlers: handlers}
}
