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

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// ChatStreamRequest Validation Tests
// =============================================================================

func TestChatStreamRequest_Valid(t *testing.T) {
	req := ChatStreamRequest{
		Query: "what failed last night?",
		Conversation: []ConversationTurn{
			{Role: RoleUser, Text: "earlier question"},
			{Role: RoleAssistant, Text: "earlier answer"},
		},
	}
	assert.NoError(t, req.Validate())
}

func TestChatStreamRequest_QueryRequired(t *testing.T) {
	req := ChatStreamRequest{}
	assert.Error(t, req.Validate())
}

func TestChatStreamRequest_QueryTooLarge(t *testing.T) {
	req := ChatStreamRequest{Query: strings.Repeat("x", MaxQueryBytes+1)}
	assert.Error(t, req.Validate())

	req.Query = strings.Repeat("x", MaxQueryBytes)
	assert.NoError(t, req.Validate())
}

func TestChatStreamRequest_RequestIDMustBeUUID(t *testing.T) {
	req := ChatStreamRequest{Query: "q", RequestID: "not-a-uuid"}
	assert.Error(t, req.Validate())

	req.RequestID = uuid.New().String()
	assert.NoError(t, req.Validate())
}

func TestChatStreamRequest_ConversationRoleChecked(t *testing.T) {
	req := ChatStreamRequest{
		Query:        "q",
		Conversation: []ConversationTurn{{Role: "narrator", Text: "t"}},
	}
	assert.Error(t, req.Validate())
}

func TestChatStreamRequest_ConversationTurnLimit(t *testing.T) {
	turns := make([]ConversationTurn, MaxConversationTurns+1)
	for i := range turns {
		turns[i] = ConversationTurn{Role: RoleUser, Text: "t"}
	}
	req := ChatStreamRequest{Query: "q", Conversation: turns}
	assert.Error(t, req.Validate())
}

func TestChatStreamRequest_SampleSizeBounds(t *testing.T) {
	req := ChatStreamRequest{Query: "q", SampleSize: 10001}
	assert.Error(t, req.Validate())

	req.SampleSize = 10000
	assert.NoError(t, req.Validate())
}

func TestChatStreamRequest_EnsureDefaults(t *testing.T) {
	req := ChatStreamRequest{Query: "q"}
	req.EnsureDefaults()

	require.NotEmpty(t, req.RequestID)
	_, err := uuid.Parse(req.RequestID)
	assert.NoError(t, err)

	// A client-supplied id is kept.
	fixed := uuid.New().String()
	req = ChatStreamRequest{Query: "q", RequestID: fixed}
	req.EnsureDefaults()
	assert.Equal(t, fixed, req.RequestID)
}

// =============================================================================
// BatchRankRequest Tests
// =============================================================================

func TestBatchRankRequest_Valid(t *testing.T) {
	req := BatchRankRequest{Query: "find timeouts", Traces: []string{"t"}}
	assert.NoError(t, req.Validate())
}

func TestBatchRankRequest_QueryRequired(t *testing.T) {
	req := BatchRankRequest{Traces: []string{"t"}}
	assert.Error(t, req.Validate())
}

func TestBatchRankRequest_MaxResultsBounds(t *testing.T) {
	req := BatchRankRequest{Query: "q", MaxResults: MaxBatchResults + 1}
	assert.Error(t, req.Validate())

	req.MaxResults = MaxBatchResults
	assert.NoError(t, req.Validate())
}

func TestBatchRankRequest_EnsureDefaults(t *testing.T) {
	req := BatchRankRequest{Query: "q"}
	req.EnsureDefaults()

	assert.NotEmpty(t, req.RequestID)
	assert.Equal(t, 50, req.MaxResults)

	req = BatchRankRequest{Query: "q", MaxResults: 10}
	req.EnsureDefaults()
	assert.Equal(t, 10, req.MaxResults)
}

// =============================================================================
// Record Constructor Tests
// =============================================================================

func TestNewAnalysisRecord(t *testing.T) {
	record := NewAnalysisRecord("prod", []string{"a", "b"})

	_, err := uuid.Parse(record.ID)
	assert.NoError(t, err)
	assert.Equal(t, "prod", record.Name)
	assert.Equal(t, []string{"a", "b"}, record.Traces)
	assert.Positive(t, record.CreatedAt)
}

func TestNewBatchJob_Defaults(t *testing.T) {
	job := NewBatchJob("analysis-1", "q", "model-x", 0)

	assert.Equal(t, BatchJobPending, job.Status)
	assert.Equal(t, 50, job.MaxResults)
	assert.Equal(t, job.CreatedAt, job.UpdatedAt)
}
