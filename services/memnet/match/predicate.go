// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package match

import "github.com/AleutianAI/memnet/services/memnet/graph"

// Compatible reports whether a memory-graph node may stand in for a query
// placeholder.
//
// Description:
//
//	1. If both sides carry a role tag and the tags differ, reject.
//	2. If both sides carry a memory tier and the tiers differ, reject.
//	   A missing tier on either side is a wildcard.
//	3. Walk the placeholder's keys in definition order, skipping the role
//	   tag. The first key the candidate also has decides the outcome: the
//	   two values are compared as sets and the node is accepted iff they
//	   intersect. Later keys are never looked at.
//	4. If no key is shared, reject.
//
//	Step 3 is intentionally a single-key test. A placeholder built from
//	{utterances: [glass], color: red} accepts any candidate whose
//	utterances include "glass", whatever its color. Put the most selective
//	filter first.
//
// Inputs:
//
//	candidate - Attributes of the memory-graph node.
//	pattern - Attributes of the query placeholder.
//
// Outputs:
//
//	bool - True if the node is compatible.
func Compatible(candidate, pattern graph.Attributes) bool {
	if !tagsAgree(candidate, pattern, graph.KeyRole) {
		return false
	}
	if !tagsAgree(candidate, pattern, graph.KeyTier) {
		return false
	}
	for _, key := range pattern.Keys() {
		if key == graph.KeyRole {
			continue
		}
		cv, ok := candidate.Get(key)
		if !ok {
			continue
		}
		pv, _ := pattern.Get(key)
		return cv.Intersects(pv)
	}
	return false
}

// tagsAgree is false only when both sides define key with unequal values.
func tagsAgree(a, b graph.Attributes, key string) bool {
	av, aok := a.Get(key)
	bv, bok := b.Get(key)
	if !aok || !bok {
		return true
	}
	return av.Equal(bv)
}
