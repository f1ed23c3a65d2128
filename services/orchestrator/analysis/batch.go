// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/AleutianAI/TraceDeck/services/llm"
	"github.com/AleutianAI/TraceDeck/services/orchestrator/datatypes"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ErrEmptyCorpus is returned when batch ranking is requested with no traces.
var ErrEmptyCorpus = errors.New("analysis: trace corpus must not be empty")

// batchMatch is one item of the schema-constrained ranking payload.
type batchMatch struct {
	LineNumber     int     `json:"line_number"`
	RelevanceScore float64 `json:"relevance_score"`
	Reasoning      string  `json:"reasoning"`
}

// batchPage is the full structured ranking payload.
type batchPage struct {
	Matches []batchMatch `json:"matches"`
}

// RankAll scores the entire corpus against an arbitrary query.
//
// # Description
//
// Issues a single schema-constrained completion over the full trace list,
// with no sampling and no truncation, asking for up to maxResults matches
// with a relevance score and a reasoning string each. Returned line numbers
// outside [1, len(traces)] are filtered out before mapping; results are
// sorted descending by score. Scores are clamped into [0,1].
//
// Unlike the two-stage chat pipeline this call is synchronous
// request/response; the context is passed through to the provider for
// best-effort abort but no mid-call cancellation checkpoints exist.
func (p *Pipeline) RankAll(ctx context.Context, traces []string, query string,
	maxResults int, model string) ([]datatypes.BatchResult, error) {

	ctx, span := p.tracer.Start(ctx, "Pipeline.RankAll")
	defer span.End()
	span.SetAttributes(
		attribute.Int("batch.corpus_size", len(traces)),
		attribute.Int("batch.max_results", maxResults),
	)

	if len(traces) == 0 {
		span.SetStatus(codes.Error, "empty corpus")
		return nil, ErrEmptyCorpus
	}
	if strings.TrimSpace(query) == "" {
		span.SetStatus(codes.Error, "empty query")
		return nil, ErrEmptyQuery
	}
	if maxResults <= 0 {
		maxResults = 50
	}

	var b strings.Builder
	for i, t := range traces {
		fmt.Fprintf(&b, "Line %d: %s\n", i+1, t)
	}
	prompt := RenderTemplate(p.cfg.BatchTemplate, map[string]string{
		"query":       query,
		"traces":      b.String(),
		"max_results": strconv.Itoa(maxResults),
	})

	raw, err := p.client.GenerateStructured(ctx, prompt,
		batchSchema(maxResults), llm.GenerationParams{Model: model})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "batch ranking completion failed")
		return nil, fmt.Errorf("batch ranking completion failed: %w", err)
	}

	var page batchPage
	if err := json.Unmarshal(raw, &page); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "batch ranking payload failed to parse")
		return nil, fmt.Errorf("batch ranking payload failed to parse: %w", err)
	}

	results := make([]datatypes.BatchResult, 0, len(page.Matches))
	for _, m := range page.Matches {
		if m.LineNumber < 1 || m.LineNumber > len(traces) {
			continue
		}
		score := m.RelevanceScore
		if score < 0 {
			score = 0
		} else if score > 1 {
			score = 1
		}
		results = append(results, datatypes.BatchResult{
			Trace:          traces[m.LineNumber-1],
			Index:          m.LineNumber - 1,
			RelevanceScore: score,
			Reasoning:      m.Reasoning,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].RelevanceScore > results[j].RelevanceScore
	})
	if len(results) > maxResults {
		results = results[:maxResults]
	}

	span.SetAttributes(attribute.Int("batch.result_count", len(results)))
	return results, nil
}

// batchSchema builds the JSON schema for a ranking page of up to maxResults
// matches.
func batchSchema(maxResults int) llm.SchemaDefinition {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"matches": map[string]any{
				"type":     "array",
				"maxItems": maxResults,
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"line_number":     map[string]any{"type": "integer", "minimum": 1},
						"relevance_score": map[string]any{"type": "number", "minimum": 0, "maximum": 1},
						"reasoning":       map[string]any{"type": "string"},
					},
					"required":             []string{"line_number", "relevance_score", "reasoning"},
					"additionalProperties": false,
				},
			},
		},
		"required":             []string{"matches"},
		"additionalProperties": false,
	}
	raw, _ := json.Marshal(schema)
	return llm.SchemaDefinition{Name: "trace_ranking", Schema: raw}
}
