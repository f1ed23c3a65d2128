// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides data structures for the orchestrator service.
//
// This file contains the core analysis types: traces, samples, conversation
// turns, and tagged traces. For batch ranking types, see batch.go. For
// SSE event types, see events.go.
package datatypes

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// =============================================================================
// Constants for Security Compliance
// =============================================================================

const (
	// MaxQueryBytes is the maximum size of a chat query.
	// Per SEC-003: Unbounded message input mitigation.
	MaxQueryBytes = 32 * 1024 // 32KB

	// MaxConversationTurns is the maximum number of conversation turns
	// accepted in a single request. Per SEC-004: Unbounded message history
	// mitigation.
	MaxConversationTurns = 100

	// MaxInlineTraces is the maximum number of inline traces accepted in a
	// request body. Larger corpora must be uploaded via POST /v1/analyses.
	MaxInlineTraces = 50000
)

// Conversation roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// analysisValidate is the validator instance for analysis datatypes.
// Initialized in init() with custom validators.
var analysisValidate *validator.Validate

func init() {
	analysisValidate = validator.New()

	// Register custom validator for query size (SEC-003)
	_ = analysisValidate.RegisterValidation("maxbytes", validateMaxBytes)
}

// validateMaxBytes validates that a string field does not exceed MaxQueryBytes.
// Checks byte length (not rune count) to prevent memory exhaustion with
// large payloads.
func validateMaxBytes(fl validator.FieldLevel) bool {
	content := fl.Field().String()
	return len(content) <= MaxQueryBytes
}

// generateUUID returns a new UUID v4 string.
func generateUUID() string {
	return uuid.New().String()
}

// =============================================================================
// Core Analysis Types
// =============================================================================

// SampledTrace is one trace drawn into the per-turn working set.
//
// # Description
//
// A SampledTrace pairs the trace text with its 1-based position in the
// uploaded file. OriginalIndex survives shuffling: the reasoning stage
// references traces by this index, never by array position.
//
// # Fields
//
//   - Text: The raw trace line, never mutated after upload.
//   - OriginalIndex: 1-based position in the uploaded file. The file's line
//     order is the only trace identity.
type SampledTrace struct {
	Text          string `json:"text"`
	OriginalIndex int    `json:"original_index"`
}

// TaggedTrace is the reasoning stage's output unit: one trace judged
// relevant to the current answer, with 1-3 category tags.
//
// Tags are expected to come from category labels present in the analysis
// answer text. This is a prompt instruction, not a mechanically enforced
// contract; the tags carry whatever the model returned.
type TaggedTrace struct {
	Trace string   `json:"trace"`
	Tags  []string `json:"tags"`
}

// ConversationTurn is one prior exchange in the analysis chat.
//
// The full ordered turn list is supplied by the client on every request;
// the orchestrator holds no conversation state between requests.
//
// # Fields
//
//   - Role: "user" or "assistant".
//   - Text: The turn's text content.
//   - Timestamp: Unix milliseconds, for ordering.
//   - TaggedTraces: Optional. The tagged traces attached to an assistant
//     turn when it was produced.
type ConversationTurn struct {
	Role         string        `json:"role" validate:"required,oneof=user assistant"`
	Text         string        `json:"text" validate:"maxbytes"`
	Timestamp    int64         `json:"timestamp"`
	TaggedTraces []TaggedTrace `json:"tagged_traces,omitempty"`
}

// =============================================================================
// Chat Stream Request
// =============================================================================

// ChatStreamRequest is the request body for the streaming analysis endpoint.
//
// # Description
//
// Carries one analysis turn: the question, the conversation so far, and
// either an analysis id (corpus loaded from the store) or inline traces.
// Every request includes a unique ID for audit trails and tracing.
//
// # Fields
//
//   - RequestID: Optional. UUID v4, generated server-side if absent.
//   - Query: Required. The user's natural-language question.
//   - Model: Optional. Model name for the analysis stage; backend default
//     applies when empty.
//   - ReasoningModel: Optional. Model name for the reasoning stage.
//   - Traces: Optional. Inline trace corpus; used when the URL carries no
//     analysis id.
//   - Conversation: Optional. Prior turns, oldest first, max 100.
//   - SampleSize: Optional. Per-turn sampling bound; server default when 0.
//   - AnalysisPrompt: Optional. Override for the analysis prompt template.
//   - ReasoningPrompt: Optional. Override for the reasoning prompt template.
//
// # Validation
//
// Uses go-playground/validator:
//   - Query: required, max 32768 bytes per SEC-003
//   - Conversation: max 100 elements, each element validated
//   - Traces: max 50000 elements
//   - SampleSize: 0-10000
//
// # Security References
//
//   - SEC-003: Message size limits
//   - SEC-005: Error message sanitization
type ChatStreamRequest struct {
	RequestID       string             `json:"request_id" validate:"omitempty,uuid4"`
	Query           string             `json:"query" validate:"required,maxbytes"`
	Model           string             `json:"model"`
	ReasoningModel  string             `json:"reasoning_model"`
	Traces          []string           `json:"traces,omitempty" validate:"max=50000"`
	Conversation    []ConversationTurn `json:"conversation,omitempty" validate:"max=100,dive"`
	SampleSize      int                `json:"sample_size" validate:"gte=0,lte=10000"`
	AnalysisPrompt  string             `json:"analysis_prompt,omitempty"`
	ReasoningPrompt string             `json:"reasoning_prompt,omitempty"`
}

// Validate validates the ChatStreamRequest fields.
//
// This method should be called after binding the JSON request.
func (r *ChatStreamRequest) Validate() error {
	return analysisValidate.Struct(r)
}

// EnsureDefaults populates default values for optional fields.
//
// Generates RequestID if not provided by the client so every turn has a
// proper identifier for tracing and auditing.
func (r *ChatStreamRequest) EnsureDefaults() {
	if r.RequestID == "" {
		r.RequestID = generateUUID()
	}
}

// =============================================================================
// Store Records
// =============================================================================

// AnalysisRecord is a persisted trace corpus.
//
// Traces hold the uploaded file's lines in order; line order is the only
// trace identity and is immutable once uploaded.
type AnalysisRecord struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Traces    []string `json:"traces"`
	CreatedAt int64    `json:"created_at"`
}

// NewAnalysisRecord creates an AnalysisRecord with a generated id and
// timestamp.
func NewAnalysisRecord(name string, traces []string) *AnalysisRecord {
	return &AnalysisRecord{
		ID:        generateUUID(),
		Name:      name,
		Traces:    traces,
		CreatedAt: time.Now().UnixMilli(),
	}
}

// DatasetRecord is a persisted supplementary dataset: an opaque content
// blob with a human-readable name, surfaced to the analysis prompt as a
// preview.
type DatasetRecord struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Content   string `json:"content"`
	CreatedAt int64  `json:"created_at"`
}

// NewDatasetRecord creates a DatasetRecord with a generated id and timestamp.
func NewDatasetRecord(name, content string) *DatasetRecord {
	return &DatasetRecord{
		ID:        generateUUID(),
		Name:      name,
		Content:   content,
		CreatedAt: time.Now().UnixMilli(),
	}
}
