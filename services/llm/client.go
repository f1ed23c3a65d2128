// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"encoding/json"
)

type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
	// Model overrides the client's default model for this call when non-empty.
	Model string `json:"model,omitempty"`
}

// SchemaDefinition names a JSON schema that a structured completion must
// conform to. Schema holds the raw JSON Schema document.
type SchemaDefinition struct {
	Name   string
	Schema json.RawMessage
}

// LLMClient defines the standard interface for any LLM backend.
//
// Generate returns one complete free-text completion for the prompt.
// GenerateStructured constrains the completion to the given JSON schema and
// returns the raw structured payload. Both respect context cancellation on
// a best-effort basis: once the outbound call is issued the provider is
// asked to abort, but buffered output is not retracted.
type LLMClient interface {
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)
	GenerateStructured(ctx context.Context, prompt string, schema SchemaDefinition,
		params GenerationParams) (json.RawMessage, error)
}
