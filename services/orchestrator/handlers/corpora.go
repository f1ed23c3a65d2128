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
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/AleutianAI/TraceDeck/services/orchestrator/datatypes"
	"github.com/AleutianAI/TraceDeck/services/orchestrator/store"
	"github.com/gin-gonic/gin"
)

// CreateCorpusRequest is the request body for uploading a trace corpus.
//
// Content is the raw uploaded file; it is split on newlines, one trace per
// line. Line order is the only trace identity and is immutable after upload.
type CreateCorpusRequest struct {
	Name    string `json:"name"`
	Content string `json:"content" binding:"required"`
}

// CreateDatasetRequest is the request body for uploading a supplementary
// dataset. Content is an opaque blob, surfaced to analysis prompts as a
// preview only.
type CreateDatasetRequest struct {
	Name    string `json:"name" binding:"required"`
	Content string `json:"content" binding:"required"`
}

// CreateAnalysis uploads a trace corpus and returns its generated id.
//
// Splits the uploaded content on newlines. A trailing newline does not
// produce an empty final trace, but empty lines inside the file are kept:
// they hold positions so line numbers keep matching the uploaded file.
func CreateAnalysis(s store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateCorpusRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		traces := splitTraces(req.Content)
		record, err := s.CreateAnalysis(c.Request.Context(), req.Name, traces)
		if err != nil {
			slog.Error("Failed to persist trace corpus", "name", req.Name, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store corpus"})
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"id":          record.ID,
			"name":        record.Name,
			"trace_count": len(record.Traces),
			"created_at":  record.CreatedAt,
		})
	}
}

// GetAnalysis fetches a stored corpus by id.
func GetAnalysis(s store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		record, err := s.GetAnalysis(c.Request.Context(), c.Param("id"))
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "analysis not found"})
				return
			}
			slog.Error("Failed to load trace corpus", "analysis_id", c.Param("id"), "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load analysis"})
			return
		}
		c.JSON(http.StatusOK, record)
	}
}

// CreateDataset uploads a supplementary dataset.
func CreateDataset(s store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateDatasetRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		record, err := s.CreateDataset(c.Request.Context(), req.Name, req.Content)
		if err != nil {
			slog.Error("Failed to persist dataset", "name", req.Name, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store dataset"})
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"id":         record.ID,
			"name":       record.Name,
			"created_at": record.CreatedAt,
		})
	}
}

// ListDatasets returns all supplementary datasets, oldest first.
func ListDatasets(s store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		records, err := s.ListDatasets(c.Request.Context())
		if err != nil {
			slog.Error("Failed to list datasets", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list datasets"})
			return
		}
		if records == nil {
			records = []datatypes.DatasetRecord{}
		}
		c.JSON(http.StatusOK, gin.H{"datasets": records})
	}
}

// splitTraces splits uploaded file content into one trace per line.
func splitTraces(content string) []string {
	content = strings.TrimSuffix(content, "\r\n")
	content = strings.TrimSuffix(content, "\n")
	if content == "" {
		return []string{}
	}
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSuffix(line, "\r")
	}
	return lines
}
