// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package analysis implements the trace sampling and two-stage AI
// orchestration pipeline.
//
// The pipeline deterministically downsamples a trace corpus to a bounded
// working set, issues a free-form analysis completion over that working set,
// then issues a schema-constrained reasoning completion that selects and
// tags a fixed-size subset of the same working set. Batch ranking (batch.go)
// shares the structured-call contract but operates over the full corpus
// with no sampling.
package analysis

import "github.com/AleutianAI/TraceDeck/services/orchestrator/datatypes"

// =============================================================================
// Deterministic Sampling
// =============================================================================

// Linear-congruential generator constants. Together with the seed derivation
// they make the shuffle a pure function of corpus content: same corpus, same
// bound, same sample, across processes and restarts.
const (
	seedModulus   = 100000
	lcgMultiplier = 9301
	lcgIncrement  = 49297
	lcgModulus    = 233280
)

// lcg is a tiny deterministic PRNG. Not suitable for anything but
// reproducible shuffling.
type lcg struct {
	state int64
}

// next returns a pseudo-random float in [0,1).
func (l *lcg) next() float64 {
	l.state = (l.state*lcgMultiplier + lcgIncrement) % lcgModulus
	return float64(l.state) / float64(lcgModulus)
}

// SampleSeed derives the shuffle seed from corpus content.
//
// # Description
//
// The seed is the sum of the character lengths of all traces modulo 100000.
// This is intentionally a cheap scalar, not a cryptographic hash: two
// corpora of equal total length and trace count collide on seed. The seed
// is a reproducibility device only and must never be used as a content
// fingerprint.
func SampleSeed(traces []string) int64 {
	var total int64
	for _, t := range traces {
		total += int64(len(t))
	}
	return total % seedModulus
}

// Sample produces the deterministic bounded working set for one analysis
// turn.
//
// # Description
//
// Pairs each trace with its 1-based position in the input, Fisher-Yates
// shuffles the pairs with an LCG seeded from SampleSeed, and truncates to
// min(maxCount, len(traces)). Calling Sample twice with the same inputs
// yields byte-identical output: no wall clock, no external entropy.
//
// # Inputs
//
//   - traces: Full ordered trace corpus. Line order is trace identity.
//   - maxCount: Sampling bound. Values <= 0 yield an empty sample.
//
// # Outputs
//
//   - []datatypes.SampledTrace: Shuffled, truncated working set. Empty input
//     yields an empty (non-nil error free) output; callers treat that as a
//     terminal no-data condition, not a sampler error.
func Sample(traces []string, maxCount int) []datatypes.SampledTrace {
	if len(traces) == 0 || maxCount <= 0 {
		return []datatypes.SampledTrace{}
	}

	indexed := make([]datatypes.SampledTrace, len(traces))
	for i, t := range traces {
		indexed[i] = datatypes.SampledTrace{Text: t, OriginalIndex: i + 1}
	}

	rng := &lcg{state: SampleSeed(traces)}

	// Standard backward-swap Fisher-Yates.
	for i := len(indexed) - 1; i > 0; i-- {
		j := int(rng.next() * float64(i+1))
		indexed[i], indexed[j] = indexed[j], indexed[i]
	}

	if maxCount < len(indexed) {
		indexed = indexed[:maxCount]
	}
	return indexed
}
