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
	"encoding/json"
	"fmt"
	"strings"

	"github.com/AleutianAI/TraceDeck/services/orchestrator/datatypes"
)

// =============================================================================
// Prompt Assembly
// =============================================================================

// Token-budget controls for the reasoning prompt. The analysis prompt is
// not truncated; the reasoning stage rides on a tighter budget because it
// also carries the full analysis answer.
const (
	// reasoningConversationChars caps the conversation context rendered into
	// the reasoning prompt. Tail-kept: the most recent exchange survives.
	reasoningConversationChars = 2000

	// reasoningTraceChars caps each trace rendered into the reasoning prompt.
	reasoningTraceChars = 200

	// datasetPreviewChars caps the JSON projection of a dataset preview.
	datasetPreviewChars = 1000

	// datasetPreviewItems is how many example items a dataset preview shows.
	datasetPreviewItems = 5
)

// RenderTemplate substitutes each {name} placeholder in template with its
// binding. Substitution is a single left-to-right pass over the template:
// substituted values are never rescanned, so a binding whose value contains
// placeholder-shaped text passes through verbatim, and output never depends
// on binding order. Unresolved placeholders are left in place rather than
// treated as errors.
func RenderTemplate(template string, bindings map[string]string) string {
	var b strings.Builder
	b.Grow(len(template))

	for i := 0; i < len(template); {
		open := strings.IndexByte(template[i:], '{')
		if open < 0 {
			b.WriteString(template[i:])
			break
		}
		open += i

		end := strings.IndexByte(template[open:], '}')
		if end < 0 {
			b.WriteString(template[i:])
			break
		}
		end += open

		if value, ok := bindings[template[open+1:end]]; ok {
			b.WriteString(template[i:open])
			b.WriteString(value)
			i = end + 1
			continue
		}

		// Not a bound placeholder. Emit through the brace and rescan from
		// the next byte so an inner placeholder can still match.
		b.WriteString(template[i : open+1])
		i = open + 1
	}
	return b.String()
}

// FormatConversation renders prior turns plus the current question into the
// prompt's conversation block.
//
// Each prior turn appears as "User: <text>" or "AI: <text>", joined by blank
// lines, with the current question appended as a trailing User line.
func FormatConversation(turns []datatypes.ConversationTurn, currentQuery string) string {
	parts := make([]string, 0, len(turns)+1)
	for _, turn := range turns {
		if turn.Role == datatypes.RoleAssistant {
			parts = append(parts, "AI: "+turn.Text)
		} else {
			parts = append(parts, "User: "+turn.Text)
		}
	}
	parts = append(parts, "User: "+currentQuery)
	return strings.Join(parts, "\n\n")
}

// FormatSampleForAnalysis renders the working set for the analysis prompt.
// Traces are shown untruncated, keyed by their original line number so the
// model's references stay stable across the two stages.
func FormatSampleForAnalysis(sample []datatypes.SampledTrace) string {
	var b strings.Builder
	for _, st := range sample {
		fmt.Fprintf(&b, "Line %d: %s\n", st.OriginalIndex, st.Text)
	}
	return b.String()
}

// FormatSampleForReasoning renders the working set for the reasoning prompt,
// truncating each trace to the reasoning budget.
func FormatSampleForReasoning(sample []datatypes.SampledTrace) string {
	var b strings.Builder
	for _, st := range sample {
		fmt.Fprintf(&b, "Line %d: %s\n", st.OriginalIndex, truncateWithEllipsis(st.Text, reasoningTraceChars))
	}
	return b.String()
}

// FormatDatasets renders supplementary datasets as human-readable previews
// for the analysis prompt's {datasets} placeholder.
//
// For a dataset whose content parses as a JSON array (or carries an
// "examples" array), the first 5 items are shown; otherwise a JSON
// projection capped at 1000 characters is used. Unparseable content falls
// back to the capped raw text.
func FormatDatasets(datasets []datatypes.DatasetRecord) string {
	if len(datasets) == 0 {
		return ""
	}
	var b strings.Builder
	for _, ds := range datasets {
		fmt.Fprintf(&b, "Dataset %q:\n%s\n\n", ds.Name, datasetPreview(ds.Content))
	}
	return strings.TrimRight(b.String(), "\n")
}

// datasetPreview builds the preview body for one dataset content blob.
func datasetPreview(content string) string {
	var parsed any
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return truncateWithEllipsis(content, datasetPreviewChars)
	}

	items := exampleArray(parsed)
	if items != nil {
		if len(items) > datasetPreviewItems {
			items = items[:datasetPreviewItems]
		}
		var b strings.Builder
		for i, item := range items {
			encoded, err := json.Marshal(item)
			if err != nil {
				continue
			}
			fmt.Fprintf(&b, "%d. %s\n", i+1, string(encoded))
		}
		return strings.TrimRight(b.String(), "\n")
	}

	projection, err := json.Marshal(parsed)
	if err != nil {
		return truncateWithEllipsis(content, datasetPreviewChars)
	}
	return truncateWithEllipsis(string(projection), datasetPreviewChars)
}

// exampleArray extracts the preview-worthy array from parsed dataset
// content: the content itself when it is an array, or its "examples" field.
func exampleArray(parsed any) []any {
	switch v := parsed.(type) {
	case []any:
		return v
	case map[string]any:
		if examples, ok := v["examples"].([]any); ok {
			return examples
		}
	}
	return nil
}

// TruncateConversationTail keeps the last max characters of a rendered
// conversation block, dropping the head. Used only by the reasoning prompt.
func TruncateConversationTail(conversation string, max int) string {
	if len(conversation) <= max {
		return conversation
	}
	return conversation[len(conversation)-max:]
}

func truncateWithEllipsis(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
