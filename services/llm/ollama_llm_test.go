// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newOllamaTestClient points an OllamaClient at a stub /api/generate server.
func newOllamaTestClient(t *testing.T, handler http.HandlerFunc) (*OllamaClient, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return &OllamaClient{
		httpClient: &http.Client{Timeout: 5 * time.Second},
		baseURL:    server.URL,
		model:      "default-model",
	}, server
}

func TestOllamaGenerate_ReturnsResponse(t *testing.T) {
	var captured ollamaGenerateRequest
	client, _ := newOllamaTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/generate", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		json.NewEncoder(w).Encode(ollamaGenerateResponse{
			Model:    captured.Model,
			Response: "the answer",
			Done:     true,
		})
	})

	out, err := client.Generate(context.Background(), "the prompt", GenerationParams{})

	require.NoError(t, err)
	assert.Equal(t, "the answer", out)
	assert.Equal(t, "default-model", captured.Model)
	assert.Equal(t, "the prompt", captured.Prompt)
	assert.False(t, captured.Stream)
	assert.Empty(t, captured.Format)
}

func TestOllamaGenerate_ModelOverride(t *testing.T) {
	var captured ollamaGenerateRequest
	client, _ := newOllamaTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		json.NewEncoder(w).Encode(ollamaGenerateResponse{Response: "ok", Done: true})
	})

	_, err := client.Generate(context.Background(), "p", GenerationParams{Model: "per-call"})

	require.NoError(t, err)
	assert.Equal(t, "per-call", captured.Model)
}

func TestOllamaGenerate_ServerError(t *testing.T) {
	client, _ := newOllamaTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	_, err := client.Generate(context.Background(), "p", GenerationParams{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}

func TestOllamaGenerate_ModelNotFound(t *testing.T) {
	client, _ := newOllamaTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "model 'nope' not found"})
	})

	_, err := client.Generate(context.Background(), "p", GenerationParams{Model: "nope"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "ollama pull nope")
}

func TestOllamaGenerateStructured_PassesSchema(t *testing.T) {
	var captured ollamaGenerateRequest
	client, _ := newOllamaTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		json.NewEncoder(w).Encode(ollamaGenerateResponse{
			Response: `{"selections":[]}`,
			Done:     true,
		})
	})

	schema := SchemaDefinition{
		Name:   "page",
		Schema: json.RawMessage(`{"type":"object"}`),
	}
	raw, err := client.GenerateStructured(context.Background(), "p", schema, GenerationParams{})

	require.NoError(t, err)
	assert.JSONEq(t, `{"selections":[]}`, string(raw))
	assert.JSONEq(t, `{"type":"object"}`, string(captured.Format))
}

func TestOllamaGenerateStructured_RejectsNonJSON(t *testing.T) {
	client, _ := newOllamaTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ollamaGenerateResponse{Response: "not json", Done: true})
	})

	_, err := client.GenerateStructured(context.Background(), "p",
		SchemaDefinition{Name: "s", Schema: json.RawMessage(`{}`)}, GenerationParams{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "not valid JSON")
}

func TestOllamaGenerate_ContextCancellation(t *testing.T) {
	client, _ := newOllamaTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		// Outlive the client deadline, but return on our own so the test
		// server can close its connections.
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := client.Generate(ctx, "p", GenerationParams{})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBuildOptions_Defaults(t *testing.T) {
	options := buildOptions(GenerationParams{})

	assert.Equal(t, float32(0.2), options["temperature"])
	assert.Equal(t, 20, options["top_k"])
	assert.Equal(t, float32(0.9), options["top_p"])
	assert.Equal(t, 8192, options["num_predict"])
	assert.NotContains(t, options, "stop")
}

func TestBuildOptions_Overrides(t *testing.T) {
	temp := float32(0.7)
	topK := 40
	maxTokens := 1024
	options := buildOptions(GenerationParams{
		Temperature: &temp,
		TopK:        &topK,
		MaxTokens:   &maxTokens,
		Stop:        []string{"END"},
	})

	assert.Equal(t, float32(0.7), options["temperature"])
	assert.Equal(t, 40, options["top_k"])
	assert.Equal(t, 1024, options["num_predict"])
	assert.Equal(t, []string{"END"}, options["stop"])
}

func TestNewOllamaClient_RequiresBaseURL(t *testing.T) {
	t.Setenv("OLLAMA_BASE_URL", "")

	_, err := NewOllamaClient()
	assert.Error(t, err)
}

func TestNewOllamaClient_TrimsTrailingSlash(t *testing.T) {
	t.Setenv("OLLAMA_BASE_URL", "http://localhost:11434/")
	t.Setenv("OLLAMA_MODEL", "llama3")

	client, err := NewOllamaClient()
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:11434", client.baseURL)
	assert.Equal(t, "llama3", client.model)
}
