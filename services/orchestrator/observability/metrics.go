// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides metrics and instrumentation for the orchestrator.
//
// # Description
//
// This package implements Prometheus metrics for monitoring trace analysis
// operations. Metrics include:
//   - Request counters (by endpoint, status, error type)
//   - Stage latency histograms (analysis, reasoning, batch ranking)
//   - Fragment and heartbeat counters for the streaming protocol
//   - Active stream gauges
//
// # Integration
//
// Metrics are exposed via /metrics endpoint. Use with Prometheus + Grafana
// for dashboards and alerting.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "tracedeck"

// Subsystem for analysis metrics
const analysisSubsystem = "analysis"

// AnalysisMetrics holds all Prometheus metrics for trace analysis operations.
//
// # Description
//
// Provides counters, histograms, and gauges for monitoring the two-stage
// streaming pipeline and batch ranking. Initialize once at startup via
// InitMetrics().
//
// # Fields
//
//   - RequestsTotal: Counter of requests by endpoint and status
//   - StageDurationSeconds: Histogram of per-stage latency
//   - FragmentsTotal: Counter of answer fragments emitted
//   - ActiveStreams: Gauge of currently active streams
//   - ErrorsTotal: Counter of errors by type and endpoint
//   - ReasoningOutcomesTotal: Counter of reasoning-stage outcomes
//
// # Thread Safety
//
// All operations are thread-safe.
type AnalysisMetrics struct {
	// RequestsTotal counts requests by endpoint and status.
	// Labels: endpoint (chat_stream, batch_rank), status (success, error)
	RequestsTotal *prometheus.CounterVec

	// StageDurationSeconds measures per-stage latency.
	// Labels: stage (analysis, reasoning, batch), status (success, error)
	StageDurationSeconds *prometheus.HistogramVec

	// FragmentsTotal counts answer fragments emitted to clients.
	// Labels: endpoint
	FragmentsTotal *prometheus.CounterVec

	// ActiveStreams tracks currently active streaming connections.
	// Labels: endpoint
	ActiveStreams *prometheus.GaugeVec

	// ErrorsTotal counts errors by type and endpoint.
	// Labels: endpoint, error_code (validation, llm_error, timeout, etc.)
	ErrorsTotal *prometheus.CounterVec

	// HeartbeatsTotal counts heartbeat events sent.
	// Labels: endpoint
	HeartbeatsTotal *prometheus.CounterVec

	// ClientDisconnectsTotal counts client disconnections during streaming.
	// Labels: endpoint
	ClientDisconnectsTotal *prometheus.CounterVec

	// ReasoningOutcomesTotal counts reasoning-stage outcomes.
	// Labels: outcome (ok, degraded_empty, cancelled)
	ReasoningOutcomesTotal *prometheus.CounterVec
}

// DefaultMetrics is the singleton instance of AnalysisMetrics.
// Initialized by InitMetrics().
var DefaultMetrics *AnalysisMetrics

// InitMetrics initializes the default metrics instance.
//
// # Description
//
// Creates and registers all Prometheus metrics. Should be called once
// at application startup, after Prometheus registry is available.
//
// # Outputs
//
//   - *AnalysisMetrics: The initialized metrics instance.
//
// # Examples
//
//	func main() {
//	    observability.InitMetrics()
//	    // ... start server ...
//	}
//
// # Limitations
//
//   - Panics if called twice (duplicate registration).
//
// # Assumptions
//
//   - Prometheus default registry is available.
func InitMetrics() *AnalysisMetrics {
	DefaultMetrics = &AnalysisMetrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: analysisSubsystem,
				Name:      "requests_total",
				Help:      "Total number of analysis requests by endpoint and status",
			},
			[]string{"endpoint", "status"},
		),

		StageDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: analysisSubsystem,
				Name:      "stage_duration_seconds",
				Help:      "Pipeline stage duration in seconds",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"stage", "status"},
		),

		FragmentsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: analysisSubsystem,
				Name:      "fragments_total",
				Help:      "Total answer fragments emitted to streaming clients",
			},
			[]string{"endpoint"},
		),

		ActiveStreams: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: analysisSubsystem,
				Name:      "active_streams",
				Help:      "Number of currently active streaming connections",
			},
			[]string{"endpoint"},
		),

		ErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: analysisSubsystem,
				Name:      "errors_total",
				Help:      "Total analysis errors by type and endpoint",
			},
			[]string{"endpoint", "error_code"},
		),

		HeartbeatsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: analysisSubsystem,
				Name:      "heartbeats_total",
				Help:      "Total heartbeat events sent",
			},
			[]string{"endpoint"},
		),

		ClientDisconnectsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: analysisSubsystem,
				Name:      "client_disconnects_total",
				Help:      "Total client disconnections during streaming",
			},
			[]string{"endpoint"},
		),

		ReasoningOutcomesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: analysisSubsystem,
				Name:      "reasoning_outcomes_total",
				Help:      "Total reasoning stage outcomes by result class",
			},
			[]string{"outcome"},
		),
	}

	return DefaultMetrics
}

// =============================================================================
// Error Codes
// =============================================================================

// ErrorCode represents a categorized error type for metrics.
type ErrorCode string

const (
	// ErrorCodeValidation indicates request validation failure.
	ErrorCodeValidation ErrorCode = "validation"

	// ErrorCodeNotFound indicates a referenced record does not exist.
	ErrorCodeNotFound ErrorCode = "not_found"

	// ErrorCodeLLMError indicates LLM API failure.
	ErrorCodeLLMError ErrorCode = "llm_error"

	// ErrorCodeTimeout indicates operation timeout.
	ErrorCodeTimeout ErrorCode = "timeout"

	// ErrorCodeInternal indicates internal server error.
	ErrorCodeInternal ErrorCode = "internal"

	// ErrorCodeClientDisconnect indicates client disconnected.
	ErrorCodeClientDisconnect ErrorCode = "client_disconnect"
)

// =============================================================================
// Endpoint Names
// =============================================================================

// Endpoint represents an endpoint for metrics labeling.
type Endpoint string

const (
	// EndpointChatStream is the two-stage streaming chat endpoint.
	EndpointChatStream Endpoint = "chat_stream"

	// EndpointBatchRank is the synchronous batch ranking endpoint.
	EndpointBatchRank Endpoint = "batch_rank"

	// EndpointBatchJobs is the persisted batch job surface.
	EndpointBatchJobs Endpoint = "batch_jobs"
)

// =============================================================================
// Pipeline Stages
// =============================================================================

// Stage represents a pipeline stage for latency labeling.
type Stage string

const (
	// StageAnalysis is the free-text analysis completion stage.
	StageAnalysis Stage = "analysis"

	// StageReasoning is the schema-constrained reasoning stage.
	StageReasoning Stage = "reasoning"

	// StageBatch is the one-shot batch ranking call.
	StageBatch Stage = "batch"
)

// =============================================================================
// Helper Methods
// =============================================================================

// RecordRequest records a completed request.
//
// # Inputs
//
//   - endpoint: The endpoint that handled the request.
//   - success: Whether the request completed successfully.
func (m *AnalysisMetrics) RecordRequest(endpoint Endpoint, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	m.RequestsTotal.WithLabelValues(string(endpoint), status).Inc()
}

// RecordError records an analysis error.
//
// # Inputs
//
//   - endpoint: The endpoint where the error occurred.
//   - code: The error type code.
func (m *AnalysisMetrics) RecordError(endpoint Endpoint, code ErrorCode) {
	m.ErrorsTotal.WithLabelValues(string(endpoint), string(code)).Inc()
}

// RecordStageDuration records the latency of one pipeline stage.
//
// # Inputs
//
//   - stage: The pipeline stage.
//   - seconds: The stage duration in seconds.
//   - success: Whether the stage completed successfully.
func (m *AnalysisMetrics) RecordStageDuration(stage Stage, seconds float64, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	m.StageDurationSeconds.WithLabelValues(string(stage), status).Observe(seconds)
}

// RecordFragments adds to the fragment counter.
//
// # Inputs
//
//   - endpoint: The endpoint emitting fragments.
//   - count: Number of fragments emitted.
func (m *AnalysisMetrics) RecordFragments(endpoint Endpoint, count int) {
	m.FragmentsTotal.WithLabelValues(string(endpoint)).Add(float64(count))
}

// StreamStarted increments the active streams gauge.
//
// # Inputs
//
//   - endpoint: The endpoint handling the stream.
func (m *AnalysisMetrics) StreamStarted(endpoint Endpoint) {
	m.ActiveStreams.WithLabelValues(string(endpoint)).Inc()
}

// StreamEnded decrements the active streams gauge.
//
// # Inputs
//
//   - endpoint: The endpoint that handled the stream.
func (m *AnalysisMetrics) StreamEnded(endpoint Endpoint) {
	m.ActiveStreams.WithLabelValues(string(endpoint)).Dec()
}

// RecordHeartbeat records a heartbeat event sent.
//
// # Inputs
//
//   - endpoint: The endpoint sending the heartbeat.
func (m *AnalysisMetrics) RecordHeartbeat(endpoint Endpoint) {
	m.HeartbeatsTotal.WithLabelValues(string(endpoint)).Inc()
}

// RecordClientDisconnect records a client disconnection.
//
// # Inputs
//
//   - endpoint: The endpoint where the disconnect occurred.
func (m *AnalysisMetrics) RecordClientDisconnect(endpoint Endpoint) {
	m.ClientDisconnectsTotal.WithLabelValues(string(endpoint)).Inc()
	m.RecordError(endpoint, ErrorCodeClientDisconnect)
}

// RecordReasoningOutcome records the outcome class of a reasoning stage.
//
// # Inputs
//
//   - outcome: The pipeline status string (ok, degraded_empty, cancelled).
func (m *AnalysisMetrics) RecordReasoningOutcome(outcome string) {
	m.ReasoningOutcomesTotal.WithLabelValues(outcome).Inc()
}
