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
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/AleutianAI/TraceDeck/services/orchestrator/datatypes"
	"github.com/google/uuid"
)

// =============================================================================
// Interface Definition
// =============================================================================

// SSEWriter defines the contract for writing Server-Sent Events to HTTP responses.
//
// # Description
//
// SSEWriter abstracts SSE event serialization and writing, enabling
// testability and separation from HTTP response mechanics. Implementations
// handle the SSE wire format (event: type\ndata: json\n\n) internally.
//
// Each event is automatically assigned:
//   - Id: UUID v4 for ordering and deduplication
//   - CreatedAt: Unix timestamp in milliseconds
//   - Hash: SHA-256 hash of event content for integrity
//   - PrevHash: Hash of previous event for chain verification
//
// The convenience methods mirror the analysis stream protocol: one heartbeat,
// any number of content fragments, streaming_complete, reasoning_start, then
// a terminal complete (with tagged traces) or error.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use by multiple goroutines.
//
// # Limitations
//
//   - Must be used with http.Flusher-compatible ResponseWriter
//   - Response headers must be set before first write
//
// # Assumptions
//
//   - Caller has set Content-Type: text/event-stream before writing
//   - Caller has disabled buffering (X-Accel-Buffering: no)
type SSEWriter interface {
	// WriteEvent writes a single SSE event to the response.
	//
	// # Inputs
	//
	//   - event: StreamEvent to write. Id, CreatedAt, Hash, PrevHash are auto-set.
	//
	// # Outputs
	//
	//   - error: Non-nil if JSON marshaling or writing failed.
	WriteEvent(event datatypes.StreamEvent) error

	// WriteHeartbeat writes the initial heartbeat event confirming the
	// stream is established.
	WriteHeartbeat() error

	// WriteContent writes a content event carrying one answer fragment.
	//
	// # Inputs
	//
	//   - content: Fragment text (word plus trailing space, except the last).
	WriteContent(content string) error

	// WriteStreamingComplete writes the streaming_complete event marking
	// the end of the free-text answer.
	WriteStreamingComplete() error

	// WriteReasoningStart writes the reasoning_start event announcing the
	// schema-constrained selection stage.
	WriteReasoningStart() error

	// WriteComplete writes the terminal complete event with the tagged
	// trace selection.
	//
	// # Inputs
	//
	//   - tagged: Selected traces with category tags. May be empty but is
	//     serialized as a list, never null.
	//
	// # Assumptions
	//
	//   - No more events will be written after complete
	WriteComplete(tagged []datatypes.TaggedTrace) error

	// WriteError writes an error event and signals stream failure.
	//
	// # Inputs
	//
	//   - errMsg: Error message for the client (sanitized, no internal details)
	//
	// # Assumptions
	//
	//   - Stream will be closed after error event
	WriteError(errMsg string) error
}

// =============================================================================
// Struct Definition
// =============================================================================

// sseWriter implements SSEWriter for HTTP SSE responses.
//
// # Description
//
// sseWriter wraps an http.ResponseWriter to emit SSE-formatted events.
// Each event is written in the format:
//
//	event: {type}
//	data: {json}
//
// The writer maintains a hash chain for integrity verification:
//   - Each event's Hash is SHA-256 of its content (including tagged traces)
//   - Each event's PrevHash links to the previous event
//
// This provides chain of custody for answers, selections, and timestamps.
//
// # Thread Safety
//
// Thread-safe via mutex. Hash chain integrity is maintained across
// concurrent writes.
//
// # Limitations
//
//   - Cannot be reused across requests
//
// # Assumptions
//
//   - Response headers already set by caller
//   - ResponseWriter supports http.Flusher interface
type sseWriter struct {
	writer   http.ResponseWriter
	flusher  http.Flusher
	prevHash string
	mu       sync.Mutex
}

// =============================================================================
// Constructor
// =============================================================================

// NewSSEWriter creates a new SSEWriter for the given ResponseWriter.
//
// # Inputs
//
//   - w: HTTP ResponseWriter. Must implement http.Flusher.
//
// # Outputs
//
//   - SSEWriter: Ready to write SSE events.
//   - error: Non-nil if ResponseWriter doesn't support flushing.
//
// # Examples
//
//	SetSSEHeaders(w)
//	writer, err := NewSSEWriter(w)
//	if err != nil {
//	    http.Error(w, "Streaming not supported", http.StatusInternalServerError)
//	    return
//	}
//	writer.WriteHeartbeat()
//
// # Assumptions
//
//   - Caller has set SSE headers via SetSSEHeaders()
func NewSSEWriter(w http.ResponseWriter) (SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}

	return &sseWriter{
		writer:   w,
		flusher:  flusher,
		prevHash: "",
	}, nil
}

// =============================================================================
// Methods
// =============================================================================

// WriteEvent writes a single SSE event to the response.
//
// # Description
//
// Populates event metadata (Id, CreatedAt, Hash, PrevHash), serializes
// to JSON, and writes in SSE format. Flushes immediately after writing.
//
// The hash covers all content fields including the tagged trace list for
// complete chain of custody.
func (w *sseWriter) WriteEvent(event datatypes.StreamEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	// Populate metadata
	event.Id = uuid.New().String()
	event.CreatedAt = time.Now().UnixMilli()
	event.PrevHash = w.prevHash

	// Compute hash of event content (before setting Hash field)
	event.Hash = w.computeEventHash(event)

	// Update chain for next event
	w.prevHash = event.Hash

	// Serialize to JSON
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	// Write SSE format: event: type\ndata: json\n\n
	if _, err := fmt.Fprintf(w.writer, "event: %s\ndata: %s\n\n", event.Type, data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}

	w.flusher.Flush()
	return nil
}

// computeEventHash computes SHA-256 hash of event content.
//
// # Description
//
// Hashes all content fields for complete chain of custody:
//   - Id, Type, CreatedAt, PrevHash (metadata)
//   - Content, Message, Error (content fields)
//   - TaggedTraces (serialized to JSON for consistent hashing)
//
// # Assumptions
//
//   - Called before setting event.Hash field.
func (w *sseWriter) computeEventHash(event datatypes.StreamEvent) string {
	// Serialize the selection for consistent hashing
	taggedJSON := ""
	if len(event.TaggedTraces) > 0 {
		if data, err := json.Marshal(event.TaggedTraces); err == nil {
			taggedJSON = string(data)
		}
	}

	hashInput := fmt.Sprintf("%s|%s|%d|%s|%s|%s|%s|%s",
		event.Id,
		event.Type,
		event.CreatedAt,
		event.PrevHash,
		event.Content,
		event.Message,
		event.Error,
		taggedJSON,
	)

	hash := sha256.Sum256([]byte(hashInput))
	return hex.EncodeToString(hash[:])
}

// WriteHeartbeat writes the initial heartbeat event.
func (w *sseWriter) WriteHeartbeat() error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type:    datatypes.EventHeartbeat,
		Message: "stream established",
	})
}

// WriteContent writes a content event with one answer fragment.
func (w *sseWriter) WriteContent(content string) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type:    datatypes.EventContent,
		Content: content,
	})
}

// WriteStreamingComplete writes the streaming_complete marker event.
func (w *sseWriter) WriteStreamingComplete() error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type: datatypes.EventStreamingComplete,
	})
}

// WriteReasoningStart writes the reasoning_start marker event.
func (w *sseWriter) WriteReasoningStart() error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type:    datatypes.EventReasoningStart,
		Message: "selecting supporting traces",
	})
}

// WriteComplete writes the terminal complete event with the tagged selection.
//
// An empty selection still serializes as [] so clients can distinguish
// "no supporting traces" from a malformed payload.
func (w *sseWriter) WriteComplete(tagged []datatypes.TaggedTrace) error {
	if tagged == nil {
		tagged = []datatypes.TaggedTrace{}
	}
	return w.WriteEvent(datatypes.StreamEvent{
		Type:         datatypes.EventComplete,
		TaggedTraces: tagged,
	})
}

// WriteError writes an error event.
//
// # Description
//
// Writes an error event to inform the client of a failure. Error messages
// must be sanitized before passing to this method; internal details stay
// in the server logs.
func (w *sseWriter) WriteError(errMsg string) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type:  datatypes.EventError,
		Error: errMsg,
	})
}

// =============================================================================
// Helper Functions
// =============================================================================

// SetSSEHeaders configures HTTP response headers for SSE streaming.
//
// # Description
//
// Sets the required headers for Server-Sent Events:
//   - Content-Type: text/event-stream
//   - Cache-Control: no-cache
//   - Connection: keep-alive
//   - X-Accel-Buffering: no (disables nginx buffering)
//
// Must be called before writing any response body.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// =============================================================================
// Compile-time Interface Check
// =============================================================================

var _ SSEWriter = (*sseWriter)(nil)
