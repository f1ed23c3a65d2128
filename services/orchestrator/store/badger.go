// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/AleutianAI/TraceDeck/services/orchestrator/datatypes"
	"github.com/dgraph-io/badger/v4"
)

// Key prefixes partition the single BadgerDB keyspace by record type.
const (
	analysisPrefix = "analysis/"
	datasetPrefix  = "dataset/"
	jobPrefix      = "job/"
)

// Config holds configuration for the BadgerDB-backed store.
type Config struct {
	// Path is the directory for BadgerDB files.
	// Required for persistent databases. Ignored when InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	// Useful for testing; uploaded corpora survive the process lifetime only.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	// Default: true for production, false for testing.
	SyncWrites bool

	// Logger is the logger for BadgerDB operations.
	// If nil, BadgerDB's internal logging is disabled.
	Logger *slog.Logger
}

// DefaultConfig returns sensible defaults for production use.
func DefaultConfig(path string) Config {
	return Config{
		Path:       path,
		SyncWrites: true,
	}
}

// InMemoryConfig returns configuration optimized for testing: no disk I/O,
// no sync writes.
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

// badgerStore implements Store on an embedded BadgerDB.
//
// Records are stored as JSON values under type-prefixed keys. Listing
// iterates a prefix and sorts by creation time; corpora are small enough
// (single uploaded files) that no secondary index is needed.
type badgerStore struct {
	db *badger.DB
}

// Open opens a BadgerDB-backed Store with the given configuration.
func Open(cfg Config) (Store, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, fmt.Errorf("store: path required for persistent database")
		}
		if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
			return nil, fmt.Errorf("store: create directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path).WithSyncWrites(cfg.SyncWrites)
	}
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("store: open badger: %w", err)
	}
	return &badgerStore{db: db}, nil
}

// OpenInMemory opens an in-memory Store for testing.
func OpenInMemory() (Store, error) {
	return Open(InMemoryConfig())
}

func (s *badgerStore) Close() error {
	return s.db.Close()
}

// put marshals value under key in one write transaction.
func (s *badgerStore) put(ctx context.Context, key string, value any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("store: marshal %s: %w", key, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
}

// get unmarshals the value under key into out. Maps badger.ErrKeyNotFound
// to ErrNotFound.
func (s *badgerStore) get(ctx context.Context, key string, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, out)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	return err
}

// listPrefix collects every value under prefix, appending decoded copies
// via decode.
func (s *badgerStore) listPrefix(ctx context.Context, prefix string, decode func([]byte) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			if err := it.Item().Value(func(val []byte) error {
				return decode(append([]byte(nil), val...))
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *badgerStore) CreateAnalysis(ctx context.Context, name string, traces []string) (*datatypes.AnalysisRecord, error) {
	record := datatypes.NewAnalysisRecord(name, traces)
	if err := s.put(ctx, analysisPrefix+record.ID, record); err != nil {
		return nil, err
	}
	slog.Info("Persisted trace corpus",
		"analysis_id", record.ID,
		"name", name,
		"trace_count", len(traces),
	)
	return record, nil
}

func (s *badgerStore) GetAnalysis(ctx context.Context, id string) (*datatypes.AnalysisRecord, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrNotFound
	}
	var record datatypes.AnalysisRecord
	if err := s.get(ctx, analysisPrefix+id, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *badgerStore) CreateDataset(ctx context.Context, name, content string) (*datatypes.DatasetRecord, error) {
	record := datatypes.NewDatasetRecord(name, content)
	if err := s.put(ctx, datasetPrefix+record.ID, record); err != nil {
		return nil, err
	}
	return record, nil
}

func (s *badgerStore) ListDatasets(ctx context.Context) ([]datatypes.DatasetRecord, error) {
	var records []datatypes.DatasetRecord
	err := s.listPrefix(ctx, datasetPrefix, func(val []byte) error {
		var record datatypes.DatasetRecord
		if err := json.Unmarshal(val, &record); err != nil {
			return err
		}
		records = append(records, record)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt < records[j].CreatedAt
	})
	return records, nil
}

func (s *badgerStore) CreateBatchJob(ctx context.Context, job *datatypes.BatchJob) error {
	return s.put(ctx, jobPrefix+job.ID, job)
}

func (s *badgerStore) GetBatchJob(ctx context.Context, id string) (*datatypes.BatchJob, error) {
	var job datatypes.BatchJob
	if err := s.get(ctx, jobPrefix+id, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *badgerStore) UpdateBatchJob(ctx context.Context, job *datatypes.BatchJob) error {
	if _, err := s.GetBatchJob(ctx, job.ID); err != nil {
		return err
	}
	return s.put(ctx, jobPrefix+job.ID, job)
}

func (s *badgerStore) ListBatchJobs(ctx context.Context) ([]datatypes.BatchJob, error) {
	var jobs []datatypes.BatchJob
	err := s.listPrefix(ctx, jobPrefix, func(val []byte) error {
		var job datatypes.BatchJob
		if err := json.Unmarshal(val, &job); err != nil {
			return err
		}
		jobs = append(jobs, job)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt < jobs[j].CreatedAt
	})
	return jobs, nil
}

// Compile-time interface check
var _ Store = (*badgerStore)(nil)
