// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/AleutianAI/TraceDeck/services/orchestrator/analysis"
	"github.com/AleutianAI/TraceDeck/services/orchestrator/datatypes"
	"github.com/AleutianAI/TraceDeck/services/orchestrator/observability"
	"github.com/AleutianAI/TraceDeck/services/orchestrator/store"
	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
)

// maxConcurrentJobs bounds the run-all pass. Each job issues one full-corpus
// completion; local backends degrade badly past a few concurrent requests.
const maxConcurrentJobs = 4

// HandleBatchRank runs a synchronous one-shot ranking over a full corpus.
//
// # Description
//
// Unlike the chat stream this is plain request/response: the entire corpus
// is scored in a single schema-constrained completion with no sampling, no
// truncation, and no streaming. The corpus comes from a stored analysis
// (analysis_id) or inline traces; analysis_id wins when both are set.
//
// # Edge Cases
//
//   - Empty corpus or empty query: 400.
//   - Unknown analysis id: 404.
//   - Provider failure: 502 (ranking has no degraded mode; there is no
//     partial result to return).
func HandleBatchRank(s store.Store, p *analysis.Pipeline) gin.HandlerFunc {
	return func(c *gin.Context) {
		metrics := observability.DefaultMetrics

		var req datatypes.BatchRankRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			if metrics != nil {
				metrics.RecordError(observability.EndpointBatchRank, observability.ErrorCodeValidation)
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if err := req.Validate(); err != nil {
			if metrics != nil {
				metrics.RecordError(observability.EndpointBatchRank, observability.ErrorCodeValidation)
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		req.EnsureDefaults()

		traces := req.Traces
		if req.AnalysisID != "" {
			record, err := s.GetAnalysis(c.Request.Context(), req.AnalysisID)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					if metrics != nil {
						metrics.RecordError(observability.EndpointBatchRank, observability.ErrorCodeNotFound)
					}
					c.JSON(http.StatusNotFound, gin.H{"error": "analysis not found"})
					return
				}
				slog.Error("Failed to load trace corpus for ranking",
					"analysis_id", req.AnalysisID, "error", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load analysis"})
				return
			}
			traces = record.Traces
		}

		start := time.Now()
		results, err := p.RankAll(c.Request.Context(), traces, req.Query, req.MaxResults, req.Model)
		if metrics != nil {
			metrics.RecordStageDuration(observability.StageBatch,
				time.Since(start).Seconds(), err == nil)
		}
		if err != nil {
			if errors.Is(err, analysis.ErrEmptyCorpus) || errors.Is(err, analysis.ErrEmptyQuery) {
				if metrics != nil {
					metrics.RecordError(observability.EndpointBatchRank, observability.ErrorCodeValidation)
				}
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			slog.Error("Batch ranking failed", "request_id", req.RequestID, "error", err)
			if metrics != nil {
				metrics.RecordError(observability.EndpointBatchRank, observability.ErrorCodeLLMError)
				metrics.RecordRequest(observability.EndpointBatchRank, false)
			}
			c.JSON(http.StatusBadGateway, gin.H{"error": "ranking failed"})
			return
		}

		if metrics != nil {
			metrics.RecordRequest(observability.EndpointBatchRank, true)
		}
		c.JSON(http.StatusOK, datatypes.BatchRankResponse{
			RequestID:        req.RequestID,
			Results:          results,
			ProcessingTimeMs: time.Since(start).Milliseconds(),
		})
	}
}

// CreateBatchJobRequest is the request body for persisting a batch job.
type CreateBatchJobRequest struct {
	AnalysisID string `json:"analysis_id" binding:"required"`
	Query      string `json:"query" binding:"required"`
	Model      string `json:"model"`
	MaxResults int    `json:"max_results"`
}

// CreateBatchJob persists a pending ranking job for a later run-all pass.
func CreateBatchJob(s store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateBatchJobRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		// The referenced corpus must exist up front; a job that can never
		// run is a client error, not a failed run.
		if _, err := s.GetAnalysis(c.Request.Context(), req.AnalysisID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "analysis not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load analysis"})
			return
		}

		job := datatypes.NewBatchJob(req.AnalysisID, req.Query, req.Model, req.MaxResults)
		if err := s.CreateBatchJob(c.Request.Context(), job); err != nil {
			slog.Error("Failed to persist batch job", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store job"})
			return
		}

		c.JSON(http.StatusCreated, job)
	}
}

// GetBatchJob fetches a batch job by id.
func GetBatchJob(s store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		job, err := s.GetBatchJob(c.Request.Context(), c.Param("id"))
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load job"})
			return
		}
		c.JSON(http.StatusOK, job)
	}
}

// ListBatchJobs returns all batch jobs, oldest first.
func ListBatchJobs(s store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobs, err := s.ListBatchJobs(c.Request.Context())
		if err != nil {
			slog.Error("Failed to list batch jobs", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list jobs"})
			return
		}
		if jobs == nil {
			jobs = []datatypes.BatchJob{}
		}
		c.JSON(http.StatusOK, gin.H{"jobs": jobs})
	}
}

// RunBatchJobs runs every pending batch job concurrently and returns the
// final state of all jobs.
//
// # Description
//
// Each pending job is run independently under a bounded worker group: one
// job's failure marks that job failed and never aborts its siblings. Jobs
// move pending -> running -> complete|failed, with each transition
// persisted so a crashed run leaves inspectable state.
func RunBatchJobs(s store.Store, p *analysis.Pipeline) gin.HandlerFunc {
	return func(c *gin.Context) {
		metrics := observability.DefaultMetrics

		jobs, err := s.ListBatchJobs(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list jobs"})
			return
		}

		var pending []datatypes.BatchJob
		for _, job := range jobs {
			if job.Status == datatypes.BatchJobPending {
				pending = append(pending, job)
			}
		}

		g, ctx := errgroup.WithContext(c.Request.Context())
		g.SetLimit(maxConcurrentJobs)
		for i := range pending {
			job := pending[i]
			g.Go(func() error {
				runBatchJob(ctx, s, p, &job)
				return nil
			})
		}
		// Workers never return errors; Wait only orders completion.
		_ = g.Wait()

		final, err := s.ListBatchJobs(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list jobs"})
			return
		}
		if final == nil {
			final = []datatypes.BatchJob{}
		}

		if metrics != nil {
			metrics.RecordRequest(observability.EndpointBatchJobs, true)
		}
		c.JSON(http.StatusOK, gin.H{
			"jobs_run": len(pending),
			"jobs":     final,
		})
	}
}

// runBatchJob executes one job and persists every state transition.
func runBatchJob(ctx context.Context, s store.Store, p *analysis.Pipeline, job *datatypes.BatchJob) {
	job.Status = datatypes.BatchJobRunning
	job.UpdatedAt = time.Now().UnixMilli()
	if err := s.UpdateBatchJob(ctx, job); err != nil {
		slog.Error("Failed to mark batch job running", "job_id", job.ID, "error", err)
		return
	}

	record, err := s.GetAnalysis(ctx, job.AnalysisID)
	if err != nil {
		finishBatchJob(ctx, s, job, nil, err)
		return
	}

	start := time.Now()
	results, err := p.RankAll(ctx, record.Traces, job.Query, job.MaxResults, job.Model)
	if observability.DefaultMetrics != nil {
		observability.DefaultMetrics.RecordStageDuration(observability.StageBatch,
			time.Since(start).Seconds(), err == nil)
	}
	finishBatchJob(ctx, s, job, results, err)
}

// finishBatchJob persists the terminal state of one job run.
func finishBatchJob(ctx context.Context, s store.Store, job *datatypes.BatchJob,
	results []datatypes.BatchResult, runErr error) {

	job.UpdatedAt = time.Now().UnixMilli()
	if runErr != nil {
		job.Status = datatypes.BatchJobFailed
		job.Error = runErr.Error()
		slog.Error("Batch job failed", "job_id", job.ID, "error", runErr)
	} else {
		job.Status = datatypes.BatchJobComplete
		job.Error = ""
		job.Results = results
	}
	if err := s.UpdateBatchJob(ctx, job); err != nil {
		slog.Error("Failed to persist batch job result", "job_id", job.ID, "error", err)
	}
}
