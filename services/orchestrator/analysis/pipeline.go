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
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/AleutianAI/TraceDeck/services/llm"
	"github.com/AleutianAI/TraceDeck/services/orchestrator/datatypes"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// DefaultSampleSize bounds the per-turn working set.
	DefaultSampleSize = 250

	// DefaultPageSize is the number of items the reasoning stage asks the
	// model to return per turn.
	DefaultPageSize = 20

	// DefaultFragmentDelay paces simulated streaming of the analysis answer.
	DefaultFragmentDelay = 30 * time.Millisecond

	// NoDataAnswer is the sentinel answer returned when the corpus is empty.
	// No model call is made in that case.
	NoDataAnswer = "No trace data is available for analysis. Upload a trace file and ask again."
)

// Stage outcome statuses. Degraded outcomes must be distinguishable in logs
// and metrics from true successes even though the user-visible behavior is
// "fewer or no tagged traces, same answer text".
const (
	StatusOK            = "ok"
	StatusNoData        = "no_data"
	StatusDegradedEmpty = "degraded_empty"
	StatusCancelled     = "cancelled"
)

// ErrEmptyQuery is returned when an analysis turn carries no question.
var ErrEmptyQuery = errors.New("analysis: query must not be empty")

// =============================================================================
// Configuration
// =============================================================================

// Config tunes the pipeline. Zero values fall back to the defaults above.
type Config struct {
	// AnalysisTemplate and ReasoningTemplate override the default prompt
	// templates. Per-request overrides take precedence over both.
	AnalysisTemplate  string
	ReasoningTemplate string
	BatchTemplate     string

	// SampleSize bounds the per-turn working set.
	SampleSize int

	// PageSize is the reasoning stage's fixed item count.
	PageSize int

	// FallbackCorpusCap bounds the corpus slice the reasoning stage may
	// re-sample when invoked without a pre-existing sample.
	FallbackCorpusCap int

	// Emitter controls simulated streaming of the analysis answer.
	Emitter FragmentEmitter
}

// DefaultConfig returns the production pipeline configuration.
func DefaultConfig() Config {
	return Config{
		AnalysisTemplate:  DefaultAnalysisTemplate,
		ReasoningTemplate: DefaultReasoningTemplate,
		BatchTemplate:     DefaultBatchTemplate,
		SampleSize:        DefaultSampleSize,
		PageSize:          DefaultPageSize,
		FallbackCorpusCap: DefaultSampleSize,
		Emitter:           FragmentEmitter{Delay: DefaultFragmentDelay},
	}
}

func (c *Config) applyDefaults() {
	if c.AnalysisTemplate == "" {
		c.AnalysisTemplate = DefaultAnalysisTemplate
	}
	if c.ReasoningTemplate == "" {
		c.ReasoningTemplate = DefaultReasoningTemplate
	}
	if c.BatchTemplate == "" {
		c.BatchTemplate = DefaultBatchTemplate
	}
	if c.SampleSize <= 0 {
		c.SampleSize = DefaultSampleSize
	}
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if c.FallbackCorpusCap <= 0 {
		c.FallbackCorpusCap = DefaultSampleSize
	}
}

// =============================================================================
// Fragment Emitter
// =============================================================================

// FragmentSink receives incremental answer fragments during simulated
// streaming. Returning an error aborts emission.
type FragmentSink func(fragment string) error

// FragmentEmitter re-emits an already-complete answer in word-sized
// fragments with a fixed inter-fragment delay.
//
// # Description
//
// This is a UX affordance, not provider streaming: the model call buffers
// the full answer first, then the emitter paces its delivery. The delay is
// a cooperative yield point; cancellation between fragments stops emission
// as soon as practical and already-sent fragments are never retracted.
// Fragment boundaries carry no meaning. Delay 0 disables the pacing.
type FragmentEmitter struct {
	Delay time.Duration
}

// Emit feeds text to sink one whitespace-delimited word per fragment.
func (e FragmentEmitter) Emit(ctx context.Context, text string, sink FragmentSink) error {
	words := strings.Fields(text)
	for i, word := range words {
		if err := ctx.Err(); err != nil {
			return err
		}
		fragment := word
		if i < len(words)-1 {
			fragment += " "
		}
		if err := sink(fragment); err != nil {
			return err
		}
		if e.Delay > 0 && i < len(words)-1 {
			timer := time.NewTimer(e.Delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
	return nil
}

// =============================================================================
// Pipeline
// =============================================================================

// Pipeline sequences the analysis and reasoning stages over one completion
// provider.
//
// # Thread Safety
//
// Pipeline holds no per-request state; one instance serves all concurrent
// requests. All request-scoped values flow through the inputs and returns.
type Pipeline struct {
	client llm.LLMClient
	cfg    Config
	tracer trace.Tracer
}

// NewPipeline creates a Pipeline with the provided completion provider.
// Panics if client is nil (programming error).
func NewPipeline(client llm.LLMClient, cfg Config) *Pipeline {
	if client == nil {
		panic("NewPipeline: client must not be nil")
	}
	cfg.applyDefaults()
	return &Pipeline{
		client: client,
		cfg:    cfg,
		tracer: otel.Tracer("tracedeck.orchestrator.analysis"),
	}
}

// PageSize exposes the reasoning stage's fixed item count.
func (p *Pipeline) PageSize() int {
	return p.cfg.PageSize
}

// =============================================================================
// Analysis Stage
// =============================================================================

// AnalysisInput carries one analysis turn's request-scoped values.
type AnalysisInput struct {
	Traces       []string
	Conversation []datatypes.ConversationTurn
	Query        string
	Datasets     []datatypes.DatasetRecord
	Model        string
	// SampleSize overrides the configured bound when > 0.
	SampleSize int
	// Template overrides the analysis prompt template when non-empty.
	Template string
}

// AnalysisResult is the analysis stage's output: the untruncated answer
// text and the exact sample used, both required by the reasoning stage
// downstream.
type AnalysisResult struct {
	Answer string
	Sample []datatypes.SampledTrace
	Status string
}

// Analyze runs the free-text analysis stage.
//
// # Description
//
// Samples the corpus, renders the analysis prompt from the conversation and
// the working set, obtains one complete completion, then re-emits the
// answer through the fragment emitter to sink. The returned sample must be
// passed unchanged to SelectAndTag: the reasoning stage never re-samples
// independently of the stage that produced the answer it reasons about.
//
// # Edge Cases
//
//   - Empty corpus: returns the NoDataAnswer sentinel (emitted through the
//     sink like a real answer) with an empty sample and no model call.
//   - Cancellation mid-emission: emission stops, already-sent fragments
//     stand; the context error is returned.
//
// # Failure
//
// Provider failure is fatal to the turn and propagates; there is no retry.
func (p *Pipeline) Analyze(ctx context.Context, in AnalysisInput, sink FragmentSink) (*AnalysisResult, error) {
	ctx, span := p.tracer.Start(ctx, "Pipeline.Analyze")
	defer span.End()
	span.SetAttributes(
		attribute.Int("analysis.corpus_size", len(in.Traces)),
		attribute.Int("analysis.conversation_turns", len(in.Conversation)),
	)

	if strings.TrimSpace(in.Query) == "" {
		span.SetStatus(codes.Error, "empty query")
		return nil, ErrEmptyQuery
	}

	if len(in.Traces) == 0 {
		slog.Warn("Analysis requested against an empty corpus")
		span.SetAttributes(attribute.String("analysis.status", StatusNoData))
		if sink != nil {
			if err := p.cfg.Emitter.Emit(ctx, NoDataAnswer, sink); err != nil {
				return nil, err
			}
		}
		return &AnalysisResult{
			Answer: NoDataAnswer,
			Sample: []datatypes.SampledTrace{},
			Status: StatusNoData,
		}, nil
	}

	bound := in.SampleSize
	if bound <= 0 {
		bound = p.cfg.SampleSize
	}
	sample := Sample(in.Traces, bound)
	span.SetAttributes(attribute.Int("analysis.sample_size", len(sample)))

	template := in.Template
	if template == "" {
		template = p.cfg.AnalysisTemplate
	}
	prompt := RenderTemplate(template, map[string]string{
		"conversation": FormatConversation(in.Conversation, in.Query),
		"traces":       FormatSampleForAnalysis(sample),
		"datasets":     FormatDatasets(in.Datasets),
	})

	answer, err := p.client.Generate(ctx, prompt, llm.GenerationParams{Model: in.Model})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "analysis completion failed")
		return nil, fmt.Errorf("analysis completion failed: %w", err)
	}

	if sink != nil {
		if err := p.cfg.Emitter.Emit(ctx, answer, sink); err != nil {
			// Emission aborted (client gone). The answer still returns so the
			// caller can decide what, if anything, remains writable.
			span.SetAttributes(attribute.String("analysis.status", StatusCancelled))
			return &AnalysisResult{Answer: answer, Sample: sample, Status: StatusCancelled}, err
		}
	}

	span.SetAttributes(attribute.String("analysis.status", StatusOK))
	return &AnalysisResult{Answer: answer, Sample: sample, Status: StatusOK}, nil
}

// =============================================================================
// Reasoning Stage
// =============================================================================

// ReasoningInput carries the reasoning stage's request-scoped values.
//
// Sample is the working set produced by Analyze in the same turn (the
// shared-sample invariant). Corpus feeds the documented fallback path only:
// when Sample is empty the stage re-samples over at most the first
// FallbackCorpusCap corpus entries. The fallback is less consistent than
// the primary path and is not the default.
type ReasoningInput struct {
	Sample       []datatypes.SampledTrace
	Corpus       []string
	Conversation []datatypes.ConversationTurn
	Query        string
	Answer       string
	Model        string
	// Template overrides the reasoning prompt template when non-empty.
	Template string
}

// reasonedSelection is one item of the schema-constrained reasoning page.
type reasonedSelection struct {
	LineNumber int      `json:"line_number"`
	Relevance  float64  `json:"relevance"`
	Tags       []string `json:"tags"`
}

// reasonedPage is the full structured payload.
type reasonedPage struct {
	Selections []reasonedSelection `json:"selections"`
}

// SelectAndTag runs the schema-constrained reasoning stage.
//
// # Description
//
// Issues exactly one structured completion asking for a fixed-size page of
// selections, then maps each returned line number back to trace text via
// the sample's original indexes. A line number absent from the sample is
// dropped silently. Tag conformance to the answer's categories is a prompt
// instruction only; returned tags are accepted as-is.
//
// # Failure
//
// Reasoning failures are non-fatal to the turn: any provider or parse
// failure degrades to an empty list with status StatusDegradedEmpty, logged
// but never propagated. Cancellation is checked once before the call (the
// call itself is request/response, not streamed); an already-cancelled
// context yields an empty list with status StatusCancelled and no model
// call.
func (p *Pipeline) SelectAndTag(ctx context.Context, in ReasoningInput) ([]datatypes.TaggedTrace, string) {
	ctx, span := p.tracer.Start(ctx, "Pipeline.SelectAndTag")
	defer span.End()

	if err := ctx.Err(); err != nil {
		span.SetAttributes(attribute.String("reasoning.status", StatusCancelled))
		return []datatypes.TaggedTrace{}, StatusCancelled
	}

	sample := in.Sample
	if len(sample) == 0 {
		// Fallback path: no pre-existing sample. Re-sample over a capped
		// prefix of the corpus. Kept as a documented fallback, not the
		// default; tag references are only guaranteed consistent on the
		// shared-sample path.
		corpus := in.Corpus
		if len(corpus) > p.cfg.FallbackCorpusCap {
			corpus = corpus[:p.cfg.FallbackCorpusCap]
		}
		sample = Sample(corpus, p.cfg.SampleSize)
		span.SetAttributes(attribute.Bool("reasoning.fallback_sample", true))
		slog.Warn("Reasoning stage invoked without a sample, using capped fallback",
			"corpus_size", len(in.Corpus),
			"capped_size", len(corpus),
		)
	}
	if len(sample) == 0 {
		span.SetAttributes(attribute.String("reasoning.status", StatusDegradedEmpty))
		return []datatypes.TaggedTrace{}, StatusDegradedEmpty
	}

	template := in.Template
	if template == "" {
		template = p.cfg.ReasoningTemplate
	}
	conversation := TruncateConversationTail(
		FormatConversation(in.Conversation, in.Query), reasoningConversationChars)
	prompt := RenderTemplate(template, map[string]string{
		"answer":       in.Answer,
		"conversation": conversation,
		"traces":       FormatSampleForReasoning(sample),
		"page_size":    strconv.Itoa(p.cfg.PageSize),
	})

	raw, err := p.client.GenerateStructured(ctx, prompt,
		reasoningSchema(p.cfg.PageSize), llm.GenerationParams{Model: in.Model})
	if err != nil {
		span.RecordError(err)
		slog.Error("Reasoning completion failed, degrading to empty tag list", "error", err)
		span.SetAttributes(attribute.String("reasoning.status", StatusDegradedEmpty))
		return []datatypes.TaggedTrace{}, StatusDegradedEmpty
	}

	var page reasonedPage
	if err := json.Unmarshal(raw, &page); err != nil {
		slog.Error("Reasoning payload failed to parse, degrading to empty tag list", "error", err)
		span.SetAttributes(attribute.String("reasoning.status", StatusDegradedEmpty))
		return []datatypes.TaggedTrace{}, StatusDegradedEmpty
	}

	byLine := make(map[int]string, len(sample))
	for _, st := range sample {
		byLine[st.OriginalIndex] = st.Text
	}

	tagged := make([]datatypes.TaggedTrace, 0, len(page.Selections))
	for _, sel := range page.Selections {
		text, ok := byLine[sel.LineNumber]
		if !ok {
			// Reference to a line never shown to the model; drop, don't fail.
			continue
		}
		tagged = append(tagged, datatypes.TaggedTrace{Trace: text, Tags: sel.Tags})
	}

	span.SetAttributes(
		attribute.Int("reasoning.selected", len(tagged)),
		attribute.String("reasoning.status", StatusOK),
	)
	return tagged, StatusOK
}

// reasoningSchema builds the JSON schema for one reasoning page of exactly
// pageSize selections.
func reasoningSchema(pageSize int) llm.SchemaDefinition {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"selections": map[string]any{
				"type":     "array",
				"minItems": pageSize,
				"maxItems": pageSize,
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"line_number": map[string]any{"type": "integer", "minimum": 1},
						"relevance":   map[string]any{"type": "number", "minimum": 0, "maximum": 1},
						"tags": map[string]any{
							"type":     "array",
							"minItems": 1,
							"maxItems": 3,
							"items":    map[string]any{"type": "string"},
						},
					},
					"required":             []string{"line_number", "relevance", "tags"},
					"additionalProperties": false,
				},
			},
		},
		"required":             []string{"selections"},
		"additionalProperties": false,
	}
	raw, _ := json.Marshal(schema)
	return llm.SchemaDefinition{Name: "trace_selection_page", Schema: raw}
}
