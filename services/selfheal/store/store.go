// Copyright (C) 2025 SocialSpark AI (platform@socialspark.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package store persists the self-healing audit trail in BadgerDB.
//
// # Description
//
// The in-memory ring buffers held by the monitor, orchestrator, and
// executor are bounded and vanish on restart. The store is the durable
// complement: every completed diagnosis and every fix record is archived
// so operators can audit what the system changed and why, across
// restarts.
//
// Keys are time-prefixed for ordered scans:
//
//	fix:<RFC3339Nano timestamp>:<record id>
//	analysis:<RFC3339Nano timestamp>:<analysis id>
//
// BadgerDB gives local embedded storage with low-latency access; no
// external database is needed for a single-node deployment.
//
// # Thread Safety
//
// Safe for concurrent use. BadgerDB handles transaction isolation.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/socialsparkai/autoheal/services/selfheal/datatypes"
)

const (
	fixPrefix      = "fix:"
	analysisPrefix = "analysis:"
)

// Config holds configuration for the archive store.
type Config struct {
	// Path is the directory for BadgerDB files.
	// Required unless InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	// Useful for testing.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Retention bounds how far back Sweep keeps records.
	// Default: 30 days.
	Retention time.Duration

	// Logger receives BadgerDB's internal log lines. If nil,
	// BadgerDB's internal logging is disabled.
	Logger *slog.Logger
}

// DefaultConfig returns production defaults: durable writes, 30-day
// retention.
func DefaultConfig(path string) Config {
	return Config{
		Path:       path,
		SyncWrites: true,
		Retention:  30 * 24 * time.Hour,
	}
}

// InMemoryConfig returns a configuration for testing. Data is lost on
// Close.
func InMemoryConfig() Config {
	return Config{
		InMemory:  true,
		Retention: 30 * 24 * time.Hour,
	}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Archive is the durable record of diagnoses and fixes.
type Archive struct {
	db        *badger.DB
	retention time.Duration
}

// Open opens the archive at the configured path, creating the directory
// if needed. Caller must call Close when done.
func Open(cfg Config) (*Archive, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent archive")
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 30 * 24 * time.Hour
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create archive directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	opts = opts.WithNumVersionsToKeep(1)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open archive database: %w", err)
	}

	return &Archive{db: db, retention: cfg.Retention}, nil
}

// Close closes the underlying database.
func (a *Archive) Close() error {
	return a.db.Close()
}

// SaveFix archives a fix record.
func (a *Archive) SaveFix(ctx context.Context, record *datatypes.FixRecord) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	key := fmt.Sprintf("%s%s:%s", fixPrefix, record.Timestamp.UTC().Format(time.RFC3339Nano), record.ID)
	return a.put(key, record)
}

// SaveAnalysis archives a diagnosis.
func (a *Archive) SaveAnalysis(ctx context.Context, analysis *datatypes.Analysis) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	key := fmt.Sprintf("%s%s:%s", analysisPrefix, analysis.CreatedAt.UTC().Format(time.RFC3339Nano), analysis.ID)
	return a.put(key, analysis)
}

func (a *Archive) put(key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	err = a.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
	if err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

// RecentFixes returns up to limit archived fix records, newest first.
func (a *Archive) RecentFixes(ctx context.Context, limit int) ([]datatypes.FixRecord, error) {
	var records []datatypes.FixRecord
	err := a.scanReverse(ctx, fixPrefix, limit, func(data []byte) error {
		var record datatypes.FixRecord
		if err := json.Unmarshal(data, &record); err != nil {
			return err
		}
		records = append(records, record)
		return nil
	})
	return records, err
}

// RecentAnalyses returns up to limit archived diagnoses, newest first.
func (a *Archive) RecentAnalyses(ctx context.Context, limit int) ([]datatypes.Analysis, error) {
	var analyses []datatypes.Analysis
	err := a.scanReverse(ctx, analysisPrefix, limit, func(data []byte) error {
		var analysis datatypes.Analysis
		if err := json.Unmarshal(data, &analysis); err != nil {
			return err
		}
		analyses = append(analyses, analysis)
		return nil
	})
	return analyses, err
}

// scanReverse iterates the prefix newest-first (keys are time-ordered)
// and calls fn for each value until limit entries have been consumed.
func (a *Archive) scanReverse(ctx context.Context, prefix string, limit int, fn func(data []byte) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	if limit <= 0 {
		return nil
	}

	return a.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration seeks to the last possible key under the
		// prefix; 0xff sorts after every timestamp byte.
		seek := append([]byte(prefix), 0xff)

		count := 0
		for it.Seek(seek); it.ValidForPrefix([]byte(prefix)) && count < limit; it.Next() {
			err := it.Item().Value(func(val []byte) error {
				return fn(val)
			})
			if err != nil {
				return fmt.Errorf("read %s: %w", it.Item().Key(), err)
			}
			count++
		}
		return nil
	})
}

// Sweep deletes archived entries older than the retention window and
// returns how many were removed. Called by the maintenance task.
func (a *Archive) Sweep(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("context cancelled: %w", err)
	}
	cutoff := time.Now().Add(-a.retention).UTC().Format(time.RFC3339Nano)

	var stale [][]byte
	err := a.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for _, prefix := range []string{fixPrefix, analysisPrefix} {
			boundary := prefix + cutoff
			for it.Seek([]byte(prefix)); it.ValidForPrefix([]byte(prefix)); it.Next() {
				key := it.Item().KeyCopy(nil)
				if string(key) >= boundary {
					break
				}
				stale = append(stale, key)
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scan for stale entries: %w", err)
	}

	for _, key := range stale {
		err := a.db.Update(func(txn *badger.Txn) error {
			return txn.Delete(key)
		})
		if err != nil {
			return 0, fmt.Errorf("delete %s: %w", key, err)
		}
	}
	return len(stale), nil
}
