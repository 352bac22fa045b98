// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package runlog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/AleutianFlow/services/workflow/engine"
)

var runPrefix = []byte("run/")

// BadgerConfig holds configuration for a BadgerStore.
type BadgerConfig struct {
	// Path is the directory for BadgerDB files.
	// Ignored when InMemory is true.
	Path string `yaml:"path"`

	// InMemory enables in-memory mode (no disk persistence).
	InMemory bool `yaml:"in_memory"`

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool `yaml:"sync_writes"`

	// GCInterval is how often to run value log garbage collection.
	// Set to 0 to disable.
	GCInterval time.Duration `yaml:"gc_interval"`

	// GCDiscardRatio is the minimum ratio of discardable data before GC.
	GCDiscardRatio float64 `yaml:"gc_discard_ratio"`

	// Logger receives BadgerDB's own logs. If nil they are discarded.
	Logger *slog.Logger `yaml:"-"`
}

// DefaultBadgerConfig returns durable defaults with a 5 minute GC interval.
func DefaultBadgerConfig(path string) BadgerConfig {
	return BadgerConfig{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryBadgerConfig returns a configuration for tests.
func InMemoryBadgerConfig() BadgerConfig {
	return BadgerConfig{InMemory: true}
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

// BadgerStore keeps run records in an embedded BadgerDB, one JSON value per
// run under "run/<id>".
//
// Thread Safety: safe for concurrent use. Writes are serialised so that
// concurrent transitions of one run never conflict.
type BadgerStore struct {
	db     *badger.DB
	mu     sync.Mutex
	stopGC chan struct{}
	gcDone chan struct{}
	logger *slog.Logger
}

// OpenBadgerStore opens the database and starts value log GC if configured.
//
// Outputs:
//
//	*BadgerStore - The store. Caller must call Close() when done.
//	error - Non-nil if the path is missing or the database cannot be opened.
func OpenBadgerStore(cfg BadgerConfig) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &BadgerStore{db: db, logger: logger}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		ratio := cfg.GCDiscardRatio
		if ratio <= 0 || ratio > 1 {
			ratio = 0.5
		}
		s.stopGC = make(chan struct{})
		s.gcDone = make(chan struct{})
		go s.runGC(cfg.GCInterval, ratio)
	}
	return s, nil
}

func (s *BadgerStore) runGC(interval time.Duration, ratio float64) {
	defer close(s.gcDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopGC:
			return
		case <-ticker.C:
			// ErrNoRewrite means no GC was needed
			if err := s.db.RunValueLogGC(ratio); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				s.logger.Warn("badger value log GC error", slog.String("error", err.Error()))
			}
		}
	}
}

// Close stops GC and closes the database.
func (s *BadgerStore) Close() error {
	if s.stopGC != nil {
		close(s.stopGC)
		<-s.gcDone
	}
	return s.db.Close()
}

func runKey(runID string) []byte {
	return append(bytes.Clone(runPrefix), runID...)
}

func (s *BadgerStore) put(txn *badger.Txn, r *record) error {
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode run %s: %w", r.Run.RunID, err)
	}
	return txn.Set(runKey(r.Run.RunID), b)
}

func (s *BadgerStore) get(txn *badger.Txn, runID string) (*record, error) {
	item, err := txn.Get(runKey(runID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}
	var r record
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &r)
	})
	if err != nil {
		return nil, fmt.Errorf("decode run %s: %w", runID, err)
	}
	return &r, nil
}

// update applies fn to the stored record of runID.
func (s *BadgerStore) update(runID string, fn func(*record)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Update(func(txn *badger.Txn) error {
		r, err := s.get(txn, runID)
		if err != nil {
			return err
		}
		fn(r)
		return s.put(txn, r)
	})
}

func (s *BadgerStore) OnRunStart(_ context.Context, run engine.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Update(func(txn *badger.Txn) error {
		return s.put(txn, newRecord(run))
	})
}

func (s *BadgerStore) OnTransition(_ context.Context, t engine.Transition) error {
	return s.update(t.RunID, func(r *record) { r.apply(t) })
}

func (s *BadgerStore) OnRunComplete(_ context.Context, c engine.Completion) error {
	return s.update(c.RunID, func(r *record) { r.complete(c) })
}

func (s *BadgerStore) load(runID string) (*record, error) {
	var r *record
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		r, err = s.get(txn, runID)
		return err
	})
	return r, err
}

func (s *BadgerStore) GetRun(_ context.Context, runID string) (engine.Run, error) {
	r, err := s.load(runID)
	if err != nil {
		return engine.Run{}, err
	}
	return r.Run, nil
}

func (s *BadgerStore) ListNodes(_ context.Context, runID string) ([]engine.NodeState, error) {
	r, err := s.load(runID)
	if err != nil {
		return nil, err
	}
	return r.Nodes, nil
}

// ListRuns scans every run; the history is expected to stay small enough
// for that.
func (s *BadgerStore) ListRuns(_ context.Context, limit int) ([]engine.Run, error) {
	var runs []engine.Run
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = runPrefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var r record
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &r)
			}); err != nil {
				return err
			}
			runs = append(runs, r.Run)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(runs, func(i, j int) bool { return runs[i].CreatedAt.After(runs[j].CreatedAt) })
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

var _ Store = (*BadgerStore)(nil)
