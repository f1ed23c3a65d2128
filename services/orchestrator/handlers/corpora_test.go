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
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/AleutianAI/TraceDeck/services/orchestrator/store"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newCorpusTestServer wires the corpus and dataset handlers onto a test
// router backed by an in-memory store.
func newCorpusTestServer(t *testing.T) (*gin.Engine, store.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	s, err := store.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	router := gin.New()
	router.POST("/v1/analyses", CreateAnalysis(s))
	router.GET("/v1/analyses/:id", GetAnalysis(s))
	router.POST("/v1/datasets", CreateDataset(s))
	router.GET("/v1/datasets", ListDatasets(s))
	return router, s
}

// =============================================================================
// splitTraces Tests
// =============================================================================

func TestSplitTraces(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    []string
	}{
		{"plain lines", "a\nb\nc", []string{"a", "b", "c"}},
		{"trailing newline dropped", "a\nb\n", []string{"a", "b"}},
		{"crlf endings", "a\r\nb\r\n", []string{"a", "b"}},
		{"interior empty lines kept", "a\n\nc", []string{"a", "", "c"}},
		{"empty content", "", []string{}},
		{"only newline", "\n", []string{}},
		{"single line no newline", "solo", []string{"solo"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, splitTraces(tt.content))
		})
	}
}

// =============================================================================
// Corpus Upload Tests
// =============================================================================

func TestCreateAnalysis_UploadsCorpus(t *testing.T) {
	router, s := newCorpusTestServer(t)

	rec := postJSON(t, router, "/v1/analyses", gin.H{
		"name":    "prod-errors",
		"content": "line one\nline two\nline three\n",
	})

	require.Equal(t, http.StatusCreated, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "prod-errors", body["name"])
	assert.Equal(t, float64(3), body["trace_count"])
	require.NotEmpty(t, body["id"])

	record, err := s.GetAnalysis(context.Background(), body["id"].(string))
	require.NoError(t, err)
	assert.Equal(t, []string{"line one", "line two", "line three"}, record.Traces)
}

func TestCreateAnalysis_MissingContent(t *testing.T) {
	router, _ := newCorpusTestServer(t)

	rec := postJSON(t, router, "/v1/analyses", gin.H{"name": "no-content"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid request body")
}

func TestGetAnalysis_ReturnsRecord(t *testing.T) {
	router, s := newCorpusTestServer(t)

	created, err := s.CreateAnalysis(context.Background(), "demo", []string{"x", "y"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/v1/analyses/"+created.ID, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, created.ID, body["id"])
	assert.Equal(t, "demo", body["name"])
}

func TestGetAnalysis_NotFound(t *testing.T) {
	router, _ := newCorpusTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/analyses/missing", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "analysis not found")
}

// =============================================================================
// Dataset Tests
// =============================================================================

func TestCreateDataset_AndList(t *testing.T) {
	router, _ := newCorpusTestServer(t)

	rec := postJSON(t, router, "/v1/datasets", gin.H{
		"name":    "labels",
		"content": `["a","b"]`,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/datasets", nil)
	listRec := httptest.NewRecorder()
	router.ServeHTTP(listRec, req)

	require.Equal(t, http.StatusOK, listRec.Code)
	var body struct {
		Datasets []map[string]any `json:"datasets"`
	}
	require.NoError(t, json.Unmarshal(listRec.Body.Bytes(), &body))
	require.Len(t, body.Datasets, 1)
	assert.Equal(t, "labels", body.Datasets[0]["name"])
}

func TestCreateDataset_RequiresNameAndContent(t *testing.T) {
	router, _ := newCorpusTestServer(t)

	rec := postJSON(t, router, "/v1/datasets", gin.H{"content": "orphan"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postJSON(t, router, "/v1/datasets", gin.H{"name": "empty"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListDatasets_EmptyIsListNotNull(t *testing.T) {
	router, _ := newCorpusTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/datasets", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"datasets":[]}`, rec.Body.String())
}
