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
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// defaultStreamTimeout bounds one full two-stage turn end to end.
	defaultStreamTimeout = 5 * time.Minute
)

// =============================================================================
// Handler Definition
// =============================================================================

// StreamingAnalysisHandler serves the two-stage streaming analysis endpoint.
//
// # Description
//
// Handles POST /v1/analyses/:id/chat/stream and its inline-corpus variant.
// One request runs one analysis turn: sample the corpus, stream the free-text
// answer as content events, then run the schema-constrained reasoning stage
// and close with a complete event carrying the tagged trace selection.
//
// Event order per stream:
//
//	heartbeat, content*, streaming_complete, reasoning_start,
//	complete{taggedTraces} | error
//
// Reasoning failures degrade to an empty selection; the stream still ends
// with complete. Only pre-stream validation failures produce plain HTTP
// error responses.
//
// # Thread Safety
//
// The handler holds no per-request state and is safe for concurrent use.
type StreamingAnalysisHandler struct {
	store    store.Store
	pipeline *analysis.Pipeline
	timeout  time.Duration
	tracer   trace.Tracer
}

// NewStreamingAnalysisHandler creates the streaming handler.
// Panics if store or pipeline is nil (programming error).
func NewStreamingAnalysisHandler(s store.Store, p *analysis.Pipeline, timeout time.Duration) *StreamingAnalysisHandler {
	if s == nil {
		panic("NewStreamingAnalysisHandler: store must not be nil")
	}
	if p == nil {
		panic("NewStreamingAnalysisHandler: pipeline must not be nil")
	}
	if timeout <= 0 {
		timeout = defaultStreamTimeout
	}
	return &StreamingAnalysisHandler{
		store:    s,
		pipeline: p,
		timeout:  timeout,
		tracer:   otel.Tracer("tracedeck.orchestrator.handlers"),
	}
}

// =============================================================================
// HTTP Handler
// =============================================================================

// HandleAnalysisChatStream handles one streaming analysis turn.
//
// # Description
//
// Binds and validates the request, resolves the trace corpus (stored corpus
// when the URL carries an analysis id, inline traces otherwise), then runs
// the two-stage pipeline over SSE. Validation and lookup failures are
// reported as plain HTTP errors before any event is written; once the
// stream is open, failures surface as error events.
//
// # Inputs
//
//   - c: Gin context. Optional :id path parameter references a stored corpus.
//
// # Outputs
//
// SSE stream per the event order documented on the handler type.
//
// # Edge Cases
//
//   - Unknown analysis id: 404 before streaming.
//   - Empty query: 400 before streaming.
//   - Empty corpus: full event sequence with the no-data answer and an
//     empty selection; no model calls.
//   - Client disconnect: processing stops at the next checkpoint, no events
//     are written after cancellation.
func (h *StreamingAnalysisHandler) HandleAnalysisChatStream(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "HandleAnalysisChatStream")
	defer span.End()

	metrics := observability.DefaultMetrics

	var req datatypes.ChatStreamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		if metrics != nil {
			metrics.RecordError(observability.EndpointChatStream, observability.ErrorCodeValidation)
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := req.Validate(); err != nil {
		if metrics != nil {
			metrics.RecordError(observability.EndpointChatStream, observability.ErrorCodeValidation)
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req.EnsureDefaults()

	span.SetAttributes(attribute.String("request.id", req.RequestID))

	// Resolve the corpus before opening the stream so lookup failures can
	// still be plain HTTP errors.
	traces := req.Traces
	analysisID := c.Param("id")
	if analysisID != "" {
		record, err := h.store.GetAnalysis(ctx, analysisID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				if metrics != nil {
					metrics.RecordError(observability.EndpointChatStream, observability.ErrorCodeNotFound)
				}
				c.JSON(http.StatusNotFound, gin.H{"error": "analysis not found"})
				return
			}
			slog.Error("Failed to load trace corpus", "analysis_id", analysisID, "error", err)
			if metrics != nil {
				metrics.RecordError(observability.EndpointChatStream, observability.ErrorCodeInternal)
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load analysis"})
			return
		}
		traces = record.Traces
		span.SetAttributes(attribute.String("analysis.id", analysisID))
	}

	// Datasets enrich the prompt but are never required for a turn.
	datasets, err := h.store.ListDatasets(ctx)
	if err != nil {
		slog.Warn("Failed to list datasets, continuing without supplementary context", "error", err)
		datasets = nil
	}

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	SetSSEHeaders(c.Writer)
	writer, err := NewSSEWriter(c.Writer)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}

	if metrics != nil {
		metrics.StreamStarted(observability.EndpointChatStream)
		defer metrics.StreamEnded(observability.EndpointChatStream)
	}

	if err := writer.WriteHeartbeat(); err != nil {
		slog.Warn("Client gone before heartbeat", "request_id", req.RequestID)
		return
	}
	if metrics != nil {
		metrics.RecordHeartbeat(observability.EndpointChatStream)
	}

	// ---- Stage 1: free-text analysis, streamed as content events ----

	fragments := 0
	sink := func(fragment string) error {
		fragments++
		return writer.WriteContent(fragment)
	}

	analysisStart := time.Now()
	result, err := h.pipeline.Analyze(ctx, analysis.AnalysisInput{
		Traces:       traces,
		Conversation: req.Conversation,
		Query:        req.Query,
		Datasets:     datasets,
		Model:        req.Model,
		SampleSize:   req.SampleSize,
		Template:     req.AnalysisPrompt,
	}, sink)

	if metrics != nil {
		metrics.RecordFragments(observability.EndpointChatStream, fragments)
		metrics.RecordStageDuration(observability.StageAnalysis,
			time.Since(analysisStart).Seconds(), err == nil)
	}

	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			// Client disconnected or the turn timed out; nothing more is
			// writable. Already-sent fragments stand.
			slog.Info("Analysis stream aborted",
				"request_id", req.RequestID,
				"fragments_sent", fragments,
			)
			if metrics != nil {
				metrics.RecordClientDisconnect(observability.EndpointChatStream)
				metrics.RecordRequest(observability.EndpointChatStream, false)
			}
			span.SetStatus(codes.Error, "stream aborted")
			return
		}

		slog.Error("Analysis stage failed", "request_id", req.RequestID, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "analysis stage failed")
		if metrics != nil {
			metrics.RecordError(observability.EndpointChatStream, observability.ErrorCodeLLMError)
			metrics.RecordRequest(observability.EndpointChatStream, false)
		}
		_ = writer.WriteError("analysis failed")
		return
	}

	if err := writer.WriteStreamingComplete(); err != nil {
		if metrics != nil {
			metrics.RecordClientDisconnect(observability.EndpointChatStream)
			metrics.RecordRequest(observability.EndpointChatStream, false)
		}
		return
	}

	// ---- Stage 2: schema-constrained trace selection ----

	if err := writer.WriteReasoningStart(); err != nil {
		if metrics != nil {
			metrics.RecordClientDisconnect(observability.EndpointChatStream)
			metrics.RecordRequest(observability.EndpointChatStream, false)
		}
		return
	}

	reasoningModel := req.ReasoningModel
	if reasoningModel == "" {
		reasoningModel = req.Model
	}

	var tagged []datatypes.TaggedTrace
	status := analysis.StatusOK
	if result.Status == analysis.StatusNoData {
		// Empty corpus: preserve the event order with an empty selection and
		// skip the model call entirely.
		tagged = []datatypes.TaggedTrace{}
		status = analysis.StatusNoData
	} else {
		reasoningStart := time.Now()
		tagged, status = h.pipeline.SelectAndTag(ctx, analysis.ReasoningInput{
			Sample:       result.Sample,
			Corpus:       traces,
			Conversation: req.Conversation,
			Query:        req.Query,
			Answer:       result.Answer,
			Model:        reasoningModel,
			Template:     req.ReasoningPrompt,
		})
		if metrics != nil {
			metrics.RecordStageDuration(observability.StageReasoning,
				time.Since(reasoningStart).Seconds(), status == analysis.StatusOK)
		}
	}
	if metrics != nil {
		metrics.RecordReasoningOutcome(status)
	}

	if status == analysis.StatusCancelled {
		slog.Info("Reasoning stage cancelled", "request_id", req.RequestID)
		if metrics != nil {
			metrics.RecordClientDisconnect(observability.EndpointChatStream)
			metrics.RecordRequest(observability.EndpointChatStream, false)
		}
		return
	}

	if err := writer.WriteComplete(tagged); err != nil {
		slog.Warn("Client gone before complete event", "request_id", req.RequestID)
		if metrics != nil {
			metrics.RecordRequest(observability.EndpointChatStream, false)
		}
		return
	}

	slog.Info("Analysis turn complete",
		"request_id", req.RequestID,
		"corpus_size", len(traces),
		"sample_size", len(result.Sample),
		"fragments_sent", fragments,
		"tagged_count", len(tagged),
		"reasoning_status", status,
	)
	span.SetAttributes(
		attribute.Int("analysis.tagged_count", len(tagged)),
		attribute.String("analysis.reasoning_status", status),
	)
	if metrics != nil {
		metrics.RecordRequest(observability.EndpointChatStream, true)
	}
}
