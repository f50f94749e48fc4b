// Copyright (C) 2025 PulmoLabs (engineering@pulmolabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package logstore persists captured API request logs in BadgerDB.
//
// BadgerDB gives the predictor an embedded, low-latency append-only log
// with no external service to operate. Entries are keyed by a
// monotonically increasing sequence number so listing newest-first is a
// reverse key scan.
//
// # Thread Safety
//
// Store is safe for concurrent use; BadgerDB transactions provide the
// isolation.
package logstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/pulmolabs/pulmoserve/services/predictor/datatypes"
)

// keyPrefix namespaces log entries; the sequence key lives outside it so
// Clear does not reset numbering.
const (
	keyPrefix   = "reqlog:"
	sequenceKey = "reqlog_seq"
)

// Config holds configuration for the log store's BadgerDB instance.
type Config struct {
	// Path is the directory for BadgerDB files. Required unless
	// InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence). Useful for
	// testing and for deployments that treat request logs as ephemeral.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger receives BadgerDB's internal messages. Nil disables them.
	Logger *slog.Logger
}

// DefaultConfig returns production defaults: persistent, synchronous.
func DefaultConfig(path string) Config {
	return Config{Path: path, SyncWrites: true}
}

// InMemoryConfig returns a configuration for ephemeral storage.
func InMemoryConfig() Config {
	return Config{InMemory: true}
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

// Store is the badger-backed request log.
type Store struct {
	db  *badger.DB
	seq *badger.Sequence
}

// Open creates the store, opening (or creating) the database directory.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("logstore: path is required for persistent storage")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("logstore: create directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("logstore: open badger database: %w", err)
	}

	seq, err := db.GetSequence([]byte(sequenceKey), 128)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("logstore: open sequence: %w", err)
	}

	return &Store{db: db, seq: seq}, nil
}

// Append writes one entry under the next sequence number.
func (s *Store) Append(entry datatypes.LogEntry) error {
	n, err := s.seq.Next()
	if err != nil {
		return fmt.Errorf("logstore: next sequence: %w", err)
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("logstore: encode entry: %w", err)
	}

	key := []byte(fmt.Sprintf("%s%020d", keyPrefix, n))
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, payload)
	})
	if err != nil {
		return fmt.Errorf("logstore: write entry: %w", err)
	}
	return nil
}

// List returns up to limit entries, newest first, skipping offset.
func (s *Store) List(limit, offset int) ([]datatypes.LogEntry, error) {
	return s.scan(limit, offset, nil)
}

// ListPredictions is List restricted to prediction calls, matching the
// POST requests against the predict endpoints.
func (s *Store) ListPredictions(limit, offset int) ([]datatypes.LogEntry, error) {
	return s.scan(limit, offset, func(e datatypes.LogEntry) bool {
		return e.Method == "POST" && strings.HasPrefix(e.Path, "/v1/predict")
	})
}

func (s *Store) scan(limit, offset int, keep func(datatypes.LogEntry) bool) ([]datatypes.LogEntry, error) {
	if limit <= 0 {
		return nil, nil
	}
	if offset < 0 {
		offset = 0
	}

	prefix := []byte(keyPrefix)
	entries := make([]datatypes.LogEntry, 0, limit)

	err := s.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Reverse = true
		iterOpts.Prefix = prefix
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		// Seek past the last possible key so the reverse scan starts at
		// the newest entry.
		seekKey := append(append([]byte{}, prefix...), 0xFF)
		skipped := 0
		for it.Seek(seekKey); it.ValidForPrefix(prefix); it.Next() {
			var entry datatypes.LogEntry
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			})
			if err != nil {
				return fmt.Errorf("decode entry %s: %w", it.Item().Key(), err)
			}
			if keep != nil && !keep(entry) {
				continue
			}
			if skipped < offset {
				skipped++
				continue
			}
			entries = append(entries, entry)
			if len(entries) == limit {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("logstore: list: %w", err)
	}
	return entries, nil
}

// Count returns the number of stored entries.
func (s *Store) Count() (int, error) {
	prefix := []byte(keyPrefix)
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.PrefetchValues = false
		iterOpts.Prefix = prefix
		it := txn.NewIterator(iterOpts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("logstore: count: %w", err)
	}
	return count, nil
}

// Clear removes every stored entry. Sequence numbering continues from
// where it was, keeping keys monotonic across clears.
func (s *Store) Clear() error {
	if err := s.db.DropPrefix([]byte(keyPrefix)); err != nil {
		return fmt.Errorf("logstore: clear: %w", err)
	}
	return nil
}

// Ping verifies the database is usable. Used by the health endpoint.
func (s *Store) Ping() bool {
	return s.db != nil && !s.db.IsClosed()
}

// Close releases the sequence lease and closes the database.
func (s *Store) Close() error {
	var errs []error
	if s.seq != nil {
		if err := s.seq.Release(); err != nil {
			errs = append(errs, fmt.Errorf("release sequence: %w", err))
		}
	}
	if err := s.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close database: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("logstore: %w", errs[0])
	}
	return nil
}
