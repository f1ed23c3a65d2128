// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store persists trace corpora, supplementary datasets, and batch
// jobs behind a repository interface.
//
// The orchestration layer depends only on this interface; id generation is
// delegated to the record constructors (UUID v4), never to an increment
// mechanism the pipeline could observe.
package store

import (
	"context"
	"errors"

	"github.com/AleutianAI/TraceDeck/services/orchestrator/datatypes"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("store: record not found")

// Store is the repository contract for all persisted TraceDeck entities.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use; the streaming endpoint
// reads corpora while batch jobs write results.
type Store interface {
	// CreateAnalysis persists an uploaded trace corpus and returns the
	// stored record with its generated id.
	CreateAnalysis(ctx context.Context, name string, traces []string) (*datatypes.AnalysisRecord, error)

	// GetAnalysis fetches a corpus by id. Returns ErrNotFound if absent.
	GetAnalysis(ctx context.Context, id string) (*datatypes.AnalysisRecord, error)

	// CreateDataset persists a supplementary dataset blob.
	CreateDataset(ctx context.Context, name, content string) (*datatypes.DatasetRecord, error)

	// ListDatasets returns all datasets, ordered by creation time.
	ListDatasets(ctx context.Context) ([]datatypes.DatasetRecord, error)

	// CreateBatchJob persists a new batch job record.
	CreateBatchJob(ctx context.Context, job *datatypes.BatchJob) error

	// GetBatchJob fetches a batch job by id. Returns ErrNotFound if absent.
	GetBatchJob(ctx context.Context, id string) (*datatypes.BatchJob, error)

	// UpdateBatchJob overwrites an existing batch job record.
	UpdateBatchJob(ctx context.Context, job *datatypes.BatchJob) error

	// ListBatchJobs returns all batch jobs, ordered by creation time.
	ListBatchJobs(ctx context.Context) ([]datatypes.BatchJob, error)

	// Close releases the underlying database.
	Close() error
}
