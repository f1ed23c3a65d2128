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
	"strings"
	"testing"

	"github.com/AleutianAI/TraceDeck/services/llm"
	"github.com/AleutianAI/TraceDeck/services/orchestrator/datatypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Mock LLM Client
// =============================================================================

// mockLLMClient records prompts and returns canned completions.
type mockLLMClient struct {
	generateResponse string
	generateErr      error
	generateCalls    int
	lastPrompt       string

	structuredResponse json.RawMessage
	structuredErr      error
	structuredCalls    int
	lastStructPrompt   string
	lastSchema         llm.SchemaDefinition
	lastParams         llm.GenerationParams
}

func (m *mockLLMClient) Generate(ctx context.Context, prompt string,
	params llm.GenerationParams) (string, error) {
	m.generateCalls++
	m.lastPrompt = prompt
	m.lastParams = params
	if m.generateErr != nil {
		return "", m.generateErr
	}
	return m.generateResponse, nil
}

func (m *mockLLMClient) GenerateStructured(ctx context.Context, prompt string,
	schema llm.SchemaDefinition, params llm.GenerationParams) (json.RawMessage, error) {
	m.structuredCalls++
	m.lastStructPrompt = prompt
	m.lastSchema = schema
	m.lastParams = params
	if m.structuredErr != nil {
		return nil, m.structuredErr
	}
	return m.structuredResponse, nil
}

// newTestPipeline builds a pipeline with pacing disabled so tests run fast.
func newTestPipeline(client llm.LLMClient) *Pipeline {
	return NewPipeline(client, Config{Emitter: FragmentEmitter{Delay: 0}})
}

// collectSink appends fragments to dst.
func collectSink(dst *[]string) FragmentSink {
	return func(fragment string) error {
		*dst = append(*dst, fragment)
		return nil
	}
}

// =============================================================================
// Fragment Emitter Tests
// =============================================================================

func TestFragmentEmitter_WordFragments(t *testing.T) {
	var got []string
	e := FragmentEmitter{Delay: 0}

	err := e.Emit(context.Background(), "one two three", collectSink(&got))

	require.NoError(t, err)
	assert.Equal(t, []string{"one ", "two ", "three"}, got)
	assert.Equal(t, "one two three", strings.Join(got, ""))
}

func TestFragmentEmitter_SinkErrorAborts(t *testing.T) {
	sinkErr := errors.New("client gone")
	calls := 0
	e := FragmentEmitter{Delay: 0}

	err := e.Emit(context.Background(), "a b c", func(string) error {
		calls++
		if calls == 2 {
			return sinkErr
		}
		return nil
	})

	assert.ErrorIs(t, err, sinkErr)
	assert.Equal(t, 2, calls)
}

func TestFragmentEmitter_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var got []string
	err := FragmentEmitter{Delay: 0}.Emit(ctx, "a b c", collectSink(&got))

	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, got)
}

// =============================================================================
// Analyze Tests
// =============================================================================

func TestAnalyze_EmitsAnswerFragments(t *testing.T) {
	client := &mockLLMClient{generateResponse: "answer with three words extra"}
	p := newTestPipeline(client)

	var got []string
	result, err := p.Analyze(context.Background(), AnalysisInput{
		Traces: []string{"trace a", "trace b"},
		Query:  "what happened",
	}, collectSink(&got))

	require.NoError(t, err)
	assert.Equal(t, StatusOK, result.Status)
	assert.Equal(t, "answer with three words extra", result.Answer)
	assert.Equal(t, "answer with three words extra", strings.Join(got, ""))
	assert.Equal(t, 1, client.generateCalls)
	assert.Len(t, result.Sample, 2)
}

func TestAnalyze_PromptCarriesQueryAndTraces(t *testing.T) {
	client := &mockLLMClient{generateResponse: "ok"}
	p := newTestPipeline(client)

	_, err := p.Analyze(context.Background(), AnalysisInput{
		Traces: []string{"unique trace payload"},
		Query:  "distinctive question",
	}, nil)

	require.NoError(t, err)
	assert.Contains(t, client.lastPrompt, "distinctive question")
	assert.Contains(t, client.lastPrompt, "unique trace payload")
}

func TestAnalyze_EmptyQuery(t *testing.T) {
	client := &mockLLMClient{}
	p := newTestPipeline(client)

	_, err := p.Analyze(context.Background(), AnalysisInput{
		Traces: []string{"x"},
		Query:  "   ",
	}, nil)

	assert.ErrorIs(t, err, ErrEmptyQuery)
	assert.Zero(t, client.generateCalls)
}

func TestAnalyze_EmptyCorpusNoModelCall(t *testing.T) {
	client := &mockLLMClient{}
	p := newTestPipeline(client)

	var got []string
	result, err := p.Analyze(context.Background(), AnalysisInput{
		Query: "anything there?",
	}, collectSink(&got))

	require.NoError(t, err)
	assert.Equal(t, StatusNoData, result.Status)
	assert.Equal(t, NoDataAnswer, result.Answer)
	assert.Equal(t, NoDataAnswer, strings.Join(got, ""))
	require.NotNil(t, result.Sample)
	assert.Empty(t, result.Sample)
	assert.Zero(t, client.generateCalls)
}

func TestAnalyze_ProviderFailureIsFatal(t *testing.T) {
	providerErr := errors.New("backend unreachable")
	client := &mockLLMClient{generateErr: providerErr}
	p := newTestPipeline(client)

	result, err := p.Analyze(context.Background(), AnalysisInput{
		Traces: []string{"x"},
		Query:  "q",
	}, nil)

	assert.Nil(t, result)
	require.Error(t, err)
	assert.ErrorIs(t, err, providerErr)
	assert.Contains(t, err.Error(), "analysis completion failed")
}

func TestAnalyze_CancellationMidEmission(t *testing.T) {
	client := &mockLLMClient{generateResponse: "one two three four"}
	p := newTestPipeline(client)

	ctx, cancel := context.WithCancel(context.Background())
	var got []string
	result, err := p.Analyze(ctx, AnalysisInput{
		Traces: []string{"x"},
		Query:  "q",
	}, func(fragment string) error {
		got = append(got, fragment)
		if len(got) == 2 {
			cancel()
		}
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, result)
	assert.Equal(t, StatusCancelled, result.Status)
	// Already-sent fragments stand; the full answer is still returned.
	assert.Equal(t, "one two three four", result.Answer)
	assert.Len(t, got, 2)
}

func TestAnalyze_SampleSizeOverride(t *testing.T) {
	client := &mockLLMClient{generateResponse: "ok"}
	p := newTestPipeline(client)

	result, err := p.Analyze(context.Background(), AnalysisInput{
		Traces:     makeTraces(100),
		Query:      "q",
		SampleSize: 7,
	}, nil)

	require.NoError(t, err)
	assert.Len(t, result.Sample, 7)
}

func TestAnalyze_TemplateOverride(t *testing.T) {
	client := &mockLLMClient{generateResponse: "ok"}
	p := newTestPipeline(client)

	_, err := p.Analyze(context.Background(), AnalysisInput{
		Traces:   []string{"x"},
		Query:    "q",
		Template: "CUSTOM {conversation}",
	}, nil)

	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(client.lastPrompt, "CUSTOM "))
}

// =============================================================================
// SelectAndTag Tests
// =============================================================================

func reasoningPayload(selections ...reasonedSelection) json.RawMessage {
	raw, _ := json.Marshal(reasonedPage{Selections: selections})
	return raw
}

func TestSelectAndTag_MapsLineNumbersToSampleText(t *testing.T) {
	client := &mockLLMClient{
		structuredResponse: reasoningPayload(
			reasonedSelection{LineNumber: 2, Relevance: 0.9, Tags: []string{"Timeout"}},
		),
	}
	p := newTestPipeline(client)

	tagged, status := p.SelectAndTag(context.Background(), ReasoningInput{
		Sample: []datatypes.SampledTrace{
			{Text: "a", OriginalIndex: 1},
			{Text: "b", OriginalIndex: 2},
		},
		Query:  "q",
		Answer: "### Timeout\nslow calls",
	})

	assert.Equal(t, StatusOK, status)
	require.Len(t, tagged, 1)
	assert.Equal(t, "b", tagged[0].Trace)
	assert.Equal(t, []string{"Timeout"}, tagged[0].Tags)
}

func TestSelectAndTag_UnknownLineDroppedSilently(t *testing.T) {
	client := &mockLLMClient{
		structuredResponse: reasoningPayload(
			reasonedSelection{LineNumber: 1, Relevance: 0.8, Tags: []string{"A"}},
			reasonedSelection{LineNumber: 99, Relevance: 0.7, Tags: []string{"B"}},
		),
	}
	p := newTestPipeline(client)

	tagged, status := p.SelectAndTag(context.Background(), ReasoningInput{
		Sample: []datatypes.SampledTrace{{Text: "only", OriginalIndex: 1}},
		Query:  "q",
		Answer: "a",
	})

	assert.Equal(t, StatusOK, status)
	require.Len(t, tagged, 1)
	assert.Equal(t, "only", tagged[0].Trace)
}

func TestSelectAndTag_ProviderFailureDegrades(t *testing.T) {
	client := &mockLLMClient{structuredErr: errors.New("backend unreachable")}
	p := newTestPipeline(client)

	tagged, status := p.SelectAndTag(context.Background(), ReasoningInput{
		Sample: []datatypes.SampledTrace{{Text: "x", OriginalIndex: 1}},
		Query:  "q",
		Answer: "a",
	})

	assert.Equal(t, StatusDegradedEmpty, status)
	require.NotNil(t, tagged)
	assert.Empty(t, tagged)
}

func TestSelectAndTag_ParseFailureDegrades(t *testing.T) {
	client := &mockLLMClient{structuredResponse: json.RawMessage(`not json`)}
	p := newTestPipeline(client)

	tagged, status := p.SelectAndTag(context.Background(), ReasoningInput{
		Sample: []datatypes.SampledTrace{{Text: "x", OriginalIndex: 1}},
		Query:  "q",
		Answer: "a",
	})

	assert.Equal(t, StatusDegradedEmpty, status)
	assert.Empty(t, tagged)
}

func TestSelectAndTag_CancelledBeforeCall(t *testing.T) {
	client := &mockLLMClient{}
	p := newTestPipeline(client)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tagged, status := p.SelectAndTag(ctx, ReasoningInput{
		Sample: []datatypes.SampledTrace{{Text: "x", OriginalIndex: 1}},
		Query:  "q",
		Answer: "a",
	})

	assert.Equal(t, StatusCancelled, status)
	assert.Empty(t, tagged)
	assert.Zero(t, client.structuredCalls)
}

func TestSelectAndTag_FallbackCorpusIsCapped(t *testing.T) {
	client := &mockLLMClient{structuredResponse: reasoningPayload()}
	p := newTestPipeline(client)

	corpus := makeTraces(500)
	tagged, status := p.SelectAndTag(context.Background(), ReasoningInput{
		Corpus: corpus,
		Query:  "q",
		Answer: "a",
	})

	assert.Equal(t, StatusOK, status)
	assert.Empty(t, tagged)
	assert.Equal(t, 1, client.structuredCalls)
	// The fallback re-samples from a capped corpus prefix; entries past the
	// cap never reach the prompt.
	assert.Contains(t, client.lastStructPrompt, corpus[0])
	assert.NotContains(t, client.lastStructPrompt, corpus[300])
}

func TestSelectAndTag_NoSampleNoCorpusDegrades(t *testing.T) {
	client := &mockLLMClient{}
	p := newTestPipeline(client)

	tagged, status := p.SelectAndTag(context.Background(), ReasoningInput{
		Query:  "q",
		Answer: "a",
	})

	assert.Equal(t, StatusDegradedEmpty, status)
	assert.Empty(t, tagged)
	assert.Zero(t, client.structuredCalls)
}

func TestSelectAndTag_SchemaRequestsFixedPage(t *testing.T) {
	client := &mockLLMClient{structuredResponse: reasoningPayload()}
	p := NewPipeline(client, Config{PageSize: 5, Emitter: FragmentEmitter{Delay: 0}})

	p.SelectAndTag(context.Background(), ReasoningInput{
		Sample: []datatypes.SampledTrace{{Text: "x", OriginalIndex: 1}},
		Query:  "q",
		Answer: "a",
	})

	assert.Equal(t, "trace_selection_page", client.lastSchema.Name)
	var schema map[string]any
	require.NoError(t, json.Unmarshal(client.lastSchema.Schema, &schema))
	selections := schema["properties"].(map[string]any)["selections"].(map[string]any)
	assert.Equal(t, float64(5), selections["minItems"])
	assert.Equal(t, float64(5), selections["maxItems"])
}

// =============================================================================
// Constructor Tests
// =============================================================================

func TestNewPipeline_NilClientPanics(t *testing.T) {
	assert.Panics(t, func() { NewPipeline(nil, Config{}) })
}

func TestNewPipeline_DefaultsApplied(t *testing.T) {
	p := NewPipeline(&mockLLMClient{}, Config{})

	assert.Equal(t, DefaultPageSize, p.PageSize())
	assert.Equal(t, DefaultSampleSize, p.cfg.SampleSize)
	assert.Equal(t, DefaultSampleSize, p.cfg.FallbackCorpusCap)
	assert.NotEmpty(t, p.cfg.AnalysisTemplate)
	assert.NotEmpty(t, p.cfg.ReasoningTemplate)
	assert.NotEmpty(t, p.cfg.BatchTemplate)
}
