// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import "time"

// =============================================================================
// Batch Ranking Types
// =============================================================================

// Batch job lifecycle states.
const (
	BatchJobPending  = "pending"
	BatchJobRunning  = "running"
	BatchJobComplete = "complete"
	BatchJobFailed   = "failed"
)

// MaxBatchResults caps the number of results a single ranking call may
// request.
const MaxBatchResults = 500

// BatchRankRequest is the request body for one-shot batch ranking.
//
// The corpus comes either from a stored analysis (AnalysisID) or inline
// (Traces); AnalysisID wins when both are set. Batch ranking operates on
// the entire corpus with no sampling or truncation.
type BatchRankRequest struct {
	RequestID  string   `json:"request_id" validate:"omitempty,uuid4"`
	AnalysisID string   `json:"analysis_id,omitempty"`
	Traces     []string `json:"traces,omitempty" validate:"max=50000"`
	Query      string   `json:"query" validate:"required,maxbytes"`
	MaxResults int      `json:"max_results" validate:"gte=0,lte=500"`
	Model      string   `json:"model"`
}

// Validate validates the BatchRankRequest fields.
func (r *BatchRankRequest) Validate() error {
	return analysisValidate.Struct(r)
}

// EnsureDefaults populates default values for optional fields.
func (r *BatchRankRequest) EnsureDefaults() {
	if r.RequestID == "" {
		r.RequestID = generateUUID()
	}
	if r.MaxResults == 0 {
		r.MaxResults = 50
	}
}

// BatchResult is one ranked trace from a batch ranking call.
//
// # Fields
//
//   - Trace: The trace text.
//   - Index: Zero-based position of the trace in the full corpus.
//   - RelevanceScore: Model-assigned relevance in [0,1].
//   - Reasoning: Model-supplied justification string.
//
// Result lists are ordered descending by RelevanceScore.
type BatchResult struct {
	Trace          string  `json:"trace"`
	Index          int     `json:"index"`
	RelevanceScore float64 `json:"relevance_score"`
	Reasoning      string  `json:"reasoning"`
}

// BatchRankResponse is the response body for a batch ranking call.
type BatchRankResponse struct {
	RequestID        string        `json:"request_id"`
	Results          []BatchResult `json:"results"`
	ProcessingTimeMs int64         `json:"processing_time_ms,omitempty"`
}

// =============================================================================
// Batch Job Records
// =============================================================================

// BatchJob is a persisted batch ranking job.
//
// Jobs are created pending, then run individually or in a concurrent
// run-all pass. Each run is independent: no shared state, no ordering
// guarantee, no cross-job cancellation.
type BatchJob struct {
	ID         string        `json:"id"`
	AnalysisID string        `json:"analysis_id"`
	Query      string        `json:"query"`
	Model      string        `json:"model"`
	MaxResults int           `json:"max_results"`
	Status     string        `json:"status"`
	Error      string        `json:"error,omitempty"`
	Results    []BatchResult `json:"results,omitempty"`
	CreatedAt  int64         `json:"created_at"`
	UpdatedAt  int64         `json:"updated_at"`
}

// NewBatchJob creates a pending BatchJob with a generated id.
func NewBatchJob(analysisID, query, model string, maxResults int) *BatchJob {
	now := time.Now().UnixMilli()
	if maxResults <= 0 {
		maxResults = 50
	}
	return &BatchJob{
		ID:         generateUUID(),
		AnalysisID: analysisID,
		Query:      query,
		Model:      model,
		MaxResults: maxResults,
		Status:     BatchJobPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}
