// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sequence

import (
	"fmt"

	"github.com/AleutianAI/memnet/services/memnet/graph"
)

// DefaultLinkType is the link type sequences follow unless told otherwise.
const DefaultLinkType = graph.LinkHasNext

// PrimaryUtterances flattens chains to the first utterance of every step,
// across all paths in order. Steps without utterances are skipped.
func PrimaryUtterances(paths []Path) []string {
	var out []string
	for _, path := range paths {
		for _, step := range path {
			if !step.HasAttr {
				continue
			}
			first, ok := step.Value.First()
			if !ok {
				continue
			}
			if s, ok := first.(string); ok {
				out = append(out, s)
			} else {
				out = append(out, fmt.Sprint(first))
			}
		}
	}
	return out
}

// Utterances extracts the primary-utterance sequence of a pattern.
func Utterances(p *graph.Graph, linkType graph.LinkType) ([]string, error) {
	paths, err := ExtractLongestPaths(p, linkType, graph.KeyUtterances)
	if err != nil {
		return nil, err
	}
	return PrimaryUtterances(paths), nil
}

// LCS returns the length of the longest common subsequence of a and b.
func LCS(a, b []string) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			switch {
			case a[i-1] == b[j-1]:
				cur[j] = prev[j-1] + 1
			case prev[j] >= cur[j-1]:
				cur[j] = prev[j]
			default:
				cur[j] = cur[j-1]
			}
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}

// Score returns LCS(a, b) / max(len(a), len(b)), or 0 when both are empty.
func Score(a, b []string) float64 {
	longest := max(len(a), len(b))
	if longest == 0 {
		return 0
	}
	return float64(LCS(a, b)) / float64(longest)
}

// Similarity compares the chains of two patterns.
//
// Outputs:
//
//	float64 - In [0, 1]; 1 means identical primary-utterance sequences.
//	error - graph.ErrCycleDetected if either pattern's chain is cyclic.
func Similarity(p1, p2 *graph.Graph, linkType graph.LinkType) (float64, error) {
	a, err := Utterances(p1, linkType)
	if err != nil {
		return 0, fmt.Errorf("first pattern: %w", err)
	}
	b, err := Utterances(p2, linkType)
	if err != nil {
		return 0, fmt.Errorf("second pattern: %w", err)
	}
	return Score(a, b), nil
}

// SimilarityToSequence compares a raw utterance sequence with a pattern's
// chain.
func SimilarityToSequence(seq []string, p *graph.Graph, linkType graph.LinkType) (float64, error) {
	b, err := Utterances(p, linkType)
	if err != nil {
		return 0, err
	}
	return Score(seq, b), nil
}
