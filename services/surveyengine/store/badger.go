// Copyright (C) 2025 Survey Sensei Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

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

	"github.com/surveysensei/sensei/services/surveyengine/datatypes"
)

const sessionKeyPrefix = "session/"

// =============================================================================
// Configuration
// =============================================================================

// Config holds configuration for the BadgerDB session store.
type Config struct {
	// Path is the directory for BadgerDB files.
	// Required unless InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	// Useful for testing.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger receives BadgerDB's internal logging. If nil, BadgerDB
	// logging is disabled.
	Logger *slog.Logger

	// GCInterval is how often to run value log garbage collection.
	// Set to 0 to disable.
	GCInterval time.Duration

	// GCDiscardRatio is the minimum ratio of discardable data before GC
	// runs. Only used when GCInterval is positive.
	GCDiscardRatio float64
}

// DefaultConfig returns production defaults: durable writes and value log
// GC every five minutes.
func DefaultConfig() Config {
	return Config{
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns a configuration for tests: in-memory, async
// writes, GC disabled.
func InMemoryConfig() Config {
	return Config{
		InMemory:   true,
		SyncWrites: false,
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

// =============================================================================
// BadgerStore
// =============================================================================

// BadgerStore is the embedded-database SessionStore.
type BadgerStore struct {
	db     *badger.DB
	stopGC chan struct{}
	doneGC chan struct{}
	logger *slog.Logger
}

var _ SessionStore = (*BadgerStore)(nil)

// Open creates and opens a session store with the given configuration.
//
// # Description
//
//	Opens a BadgerDB database at the configured path, or in memory when
//	InMemory is set. The directory is created if it is missing. When
//	GCInterval is positive a background value log GC loop is started;
//	Close stops it.
//
// # Outputs
//
//	*BadgerStore - The opened store. Caller must Close() when done.
//	error - Non-nil if the path is invalid or the database cannot open.
//
// Thread Safety: the returned store is safe for concurrent use.
func Open(cfg Config) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create store directory %s: %w", cfg.Path, err)
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
		return nil, fmt.Errorf("open session store: %w", err)
	}

	s := &BadgerStore{db: db, logger: cfg.Logger}
	if cfg.GCInterval > 0 {
		s.stopGC = make(chan struct{})
		s.doneGC = make(chan struct{})
		go s.runGC(cfg.GCInterval, cfg.GCDiscardRatio)
	}
	return s, nil
}

// OpenInMemory opens an in-memory store for testing. Data is lost on Close.
func OpenInMemory() (*BadgerStore, error) {
	return Open(InMemoryConfig())
}

func (s *BadgerStore) runGC(interval time.Duration, ratio float64) {
	defer close(s.doneGC)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopGC:
			return
		case <-ticker.C:
			// RunValueLogGC returns ErrNoRewrite when there is
			// nothing worth collecting.
			err := s.db.RunValueLogGC(ratio)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) && s.logger != nil {
				s.logger.Warn("session store gc failed", "error", err)
			}
		}
	}
}

func sessionKey(id string) []byte {
	return []byte(sessionKeyPrefix + id)
}

// Create persists a new snapshot at version 1.
func (s *BadgerStore) Create(ctx context.Context, snap *datatypes.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if snap.SessionID == "" {
		return errors.New("session id is required")
	}

	key := sessionKey(snap.SessionID)
	err := s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if err == nil {
			return ErrAlreadyExists
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		snap.Version = 1
		raw, err := json.Marshal(snap)
		if err != nil {
			return fmt.Errorf("marshal session %s: %w", snap.SessionID, err)
		}
		return txn.Set(key, raw)
	})
	if err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("create session %s: %w", snap.SessionID, err)
	}
	return nil
}

// Load fetches a private copy of the stored snapshot.
func (s *BadgerStore) Load(ctx context.Context, sessionID string) (*datatypes.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var snap datatypes.Snapshot
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(sessionKey(sessionID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &snap)
		})
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	return &snap, nil
}

// Replace overwrites the stored snapshot under optimistic version control.
// The stored version must equal snap.Version; on success both are bumped.
func (s *BadgerStore) Replace(ctx context.Context, snap *datatypes.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	key := sessionKey(snap.SessionID)
	nextVersion := snap.Version + 1
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		var stored struct {
			Version uint64 `json:"version"`
		}
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &stored)
		}); err != nil {
			return err
		}
		if stored.Version != snap.Version {
			return ErrVersionConflict
		}

		out := snap.Clone()
		out.Version = nextVersion
		raw, err := json.Marshal(out)
		if err != nil {
			return fmt.Errorf("marshal session %s: %w", snap.SessionID, err)
		}
		return txn.Set(key, raw)
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrVersionConflict) {
			return err
		}
		return fmt.Errorf("replace session %s: %w", snap.SessionID, err)
	}
	snap.Version = nextVersion
	return nil
}

// Delete removes a session. Absent ids are a no-op.
func (s *BadgerStore) Delete(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(sessionKey(sessionID))
	})
	if err != nil {
		return fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	return nil
}

// Close stops the GC loop and closes the database.
func (s *BadgerStore) Close() error {
	if s.stopGC != nil {
		close(s.stopGC)
		<-s.doneGC
		s.stopGC = nil
	}
	return s.db.Close()
}
