// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package analysis

// Default prompt templates. Placeholders use literal {name} substitution;
// requests and config may override either template, and unresolved
// placeholders pass through verbatim.

// DefaultAnalysisTemplate drives the free-text analysis stage.
const DefaultAnalysisTemplate = `You are a trace analyst. The user uploaded a file of recorded interaction traces, one per line, and is asking questions about it.

Supplementary context:
{datasets}

Conversation:
{conversation}

Trace sample (line numbers refer to the uploaded file):
{traces}

Answer the user's latest question based only on the trace sample above.
Organize your answer under markdown headers naming the categories of behavior you observe.`

// DefaultReasoningTemplate drives the schema-constrained reasoning stage.
// The only-established-categories instruction is advisory: nothing validates
// the returned tags against the answer text.
const DefaultReasoningTemplate = `You previously analyzed a sample of traces and produced the answer below. Now select the {page_size} traces from the sample that best support that answer, and tag each with 1-3 category labels.

Use only categories established in the answer (its headers or emphasized spans). Do not invent new categories.

Answer:
{answer}

Conversation:
{conversation}

Trace sample (line numbers refer to the uploaded file):
{traces}

For each selection return the trace's line number exactly as shown above, a relevance score between 0 and 1, and the tags.`

// DefaultBatchTemplate drives the one-shot batch ranking call.
const DefaultBatchTemplate = `You are scoring recorded traces for relevance to a query.

Query:
{query}

Traces (line numbers refer to the uploaded file):
{traces}

Return up to {max_results} traces that match the query. For each match return the trace's line number exactly as shown above, a relevance score between 0 and 1, and a one-sentence reasoning string.`
