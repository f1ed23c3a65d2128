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

// =============================================================================
// Stream Event Types
// =============================================================================

// SSE event types emitted by the streaming analysis endpoint, in protocol
// order: heartbeat, zero or more content events, streaming_complete,
// reasoning_start, then complete (or error terminating the sequence early).
const (
	EventHeartbeat         = "heartbeat"
	EventContent           = "content"
	EventStreamingComplete = "streaming_complete"
	EventReasoningStart    = "reasoning_start"
	EventComplete          = "complete"
	EventError             = "error"
)

// StreamEvent is a single event on the analysis SSE stream.
//
// # Description
//
// Each event is wire-formatted as `event: {type}\ndata: {json}\n\n`. The
// writer populates Id, CreatedAt, Hash, and PrevHash automatically; the
// hash chain provides chain of custody for streamed content.
//
// # Fields
//
//   - Id: UUID v4, assigned per event for ordering and deduplication.
//   - Type: One of the Event* constants.
//   - CreatedAt: Unix milliseconds.
//   - Content: Answer fragment (content events only).
//   - Message: Human-readable note (heartbeat and stage markers).
//   - Error: Sanitized failure description (error events only).
//   - TaggedTraces: Terminal payload (complete events only).
//   - Hash/PrevHash: SHA-256 chain over event content.
type StreamEvent struct {
	Id           string        `json:"id,omitempty"`
	Type         string        `json:"type"`
	CreatedAt    int64         `json:"created_at,omitempty"`
	Content      string        `json:"content,omitempty"`
	Message      string        `json:"message,omitempty"`
	Error        string        `json:"error,omitempty"`
	TaggedTraces []TaggedTrace `json:"tagged_traces,omitempty"`
	Hash         string        `json:"hash,omitempty"`
	PrevHash     string        `json:"prev_hash,omitempty"`
}
