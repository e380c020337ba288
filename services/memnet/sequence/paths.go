// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sequence extracts ordered chains from patterns and scores how
// similar two chains are.
//
// A chain is a longest path over links of a single type (usually has_next).
// Similarity is the longest common subsequence of the chains' primary
// utterances, normalised by the longer chain.
package sequence

import (
	"fmt"
	"sort"

	"github.com/AleutianAI/memnet/services/memnet/graph"
)

// Step is one node of an extracted chain, projected on an attribute.
type Step struct {
	// NodeID is the pattern node this step came from.
	NodeID string

	// Value is the projected attribute value. Zero when HasAttr is false.
	Value graph.Value

	// HasAttr is false when the node lacks the projection attribute.
	HasAttr bool

	// Attributes is a copy of the full attribute map, set only when
	// HasAttr is false.
	Attributes graph.Attributes
}

// Path is an ordered chain of steps.
type Path []Step

// NodeIDs returns the node IDs along the path.
func (p Path) NodeIDs() []string {
	ids := make([]string, len(p))
	for i, s := range p {
		ids[i] = s.NodeID
	}
	return ids
}

// chainGraph is a pattern restricted to links of one type.
type chainGraph struct {
	order []string
	succ  map[string][]string
	indeg map[string]int
}

func restrict(p *graph.Graph, linkType graph.LinkType) *chainGraph {
	cg := &chainGraph{succ: make(map[string][]string), indeg: make(map[string]int)}
	incident := make(map[string]bool)
	seen := make(map[[2]string]bool)
	for _, l := range p.Links() {
		if l.Type != linkType {
			continue
		}
		incident[l.From] = true
		incident[l.To] = true
		k := [2]string{l.From, l.To}
		if seen[k] {
			continue
		}
		seen[k] = true
		cg.succ[l.From] = append(cg.succ[l.From], l.To)
		cg.indeg[l.To]++
	}
	for _, id := range p.NodeIDs() {
		if incident[id] {
			cg.order = append(cg.order, id)
		}
	}
	return cg
}

// topoSort returns a Kahn ordering that starts from zero in-degree nodes in
// pattern order and releases successors in link order.
func (cg *chainGraph) topoSort() ([]string, error) {
	indeg := make(map[string]int, len(cg.indeg))
	for k, v := range cg.indeg {
		indeg[k] = v
	}
	queue := make([]string, 0, len(cg.order))
	for _, id := range cg.order {
		if indeg[id] == 0 {
			queue = append(queue, id)
		}
	}
	sorted := make([]string, 0, len(cg.order))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		sorted = append(sorted, id)
		for _, next := range cg.succ[id] {
			indeg[next]--
			if indeg[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	if len(sorted) != len(cg.order) {
		return nil, fmt.Errorf("%w: %d of %d chain nodes unordered",
			graph.ErrCycleDetected, len(cg.order)-len(sorted), len(cg.order))
	}
	return sorted, nil
}

// longestPath returns the longest path of the DAG by node count. The first
// maximum in topological order wins, and a node keeps the first predecessor
// that reached its best length.
func (cg *chainGraph) longestPath(topo []string) []string {
	if len(topo) == 0 {
		return nil
	}
	dist := make(map[string]int, len(topo))
	prev := make(map[string]string, len(topo))
	for _, id := range topo {
		dist[id] = 1
	}
	for _, id := range topo {
		for _, next := range cg.succ[id] {
			if dist[id]+1 > dist[next] {
				dist[next] = dist[id] + 1
				prev[next] = id
			}
		}
	}
	end := topo[0]
	for _, id := range topo[1:] {
		if dist[id] > dist[end] {
			end = id
		}
	}
	path := make([]string, dist[end])
	for i, cur := len(path)-1, end; i >= 0; i-- {
		path[i] = cur
		cur = prev[cur]
	}
	return path
}

func (cg *chainGraph) descendantCount(source string) int {
	seen := map[string]bool{source: true}
	stack := []string{source}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, next := range cg.succ[id] {
			if !seen[next] {
				seen[next] = true
				stack = append(stack, next)
			}
		}
	}
	return len(seen) - 1
}

// ExtractLongestPaths returns the chains of a pattern over one link type.
//
// Description:
//
//	The pattern is restricted to links of linkType and the nodes they touch.
//	For every source (zero in-degree) and every descendant of that source
//	the single longest path of the restricted graph is collected; the
//	collection is then deduplicated with Dedup. In practice the result is
//	either empty or one path: the longest chain of the pattern.
//
//	Each node is projected on attr. Nodes without attr keep their full
//	attribute map instead.
//
// Inputs:
//
//	p - The pattern. Not modified.
//	linkType - The link type chains follow.
//	attr - The projection attribute, e.g. "utterances".
//
// Outputs:
//
//	[]Path - Deduplicated chains, longest first.
//	error - graph.ErrCycleDetected if the restricted graph has a cycle.
func ExtractLongestPaths(p *graph.Graph, linkType graph.LinkType, attr string) ([]Path, error) {
	cg := restrict(p, linkType)
	topo, err := cg.topoSort()
	if err != nil {
		return nil, err
	}
	longest := cg.longestPath(topo)

	var raw [][]string
	for _, id := range cg.order {
		if cg.indeg[id] != 0 {
			continue
		}
		for range cg.descendantCount(id) {
			raw = append(raw, longest)
		}
	}

	kept := Dedup(raw)
	out := make([]Path, 0, len(kept))
	for _, ids := range kept {
		out = append(out, project(p, ids, attr))
	}
	return out, nil
}

// Dedup drops every path whose node set is a subset of a longer (or
// earlier, equally long) kept path. Paths are returned longest first; equal
// lengths keep their input order.
func Dedup(paths [][]string) [][]string {
	sorted := make([][]string, len(paths))
	copy(sorted, paths)
	sort.SliceStable(sorted, func(i, j int) bool { return len(sorted[i]) > len(sorted[j]) })

	var kept [][]string
	var keptSets []map[string]bool
	for _, path := range sorted {
		redundant := false
		for _, set := range keptSets {
			if subset(path, set) {
				redundant = true
				break
			}
		}
		if redundant {
			continue
		}
		set := make(map[string]bool, len(path))
		for _, id := range path {
			set[id] = true
		}
		kept = append(kept, path)
		keptSets = append(keptSets, set)
	}
	return kept
}

func subset(path []string, set map[string]bool) bool {
	for _, id := range path {
		if !set[id] {
			return false
		}
	}
	return true
}

func project(p *graph.Graph, ids []string, attr string) Path {
	path := make(Path, 0, len(ids))
	for _, id := range ids {
		node, ok := p.GetNode(id)
		if !ok {
			continue
		}
		step := Step{NodeID: id}
		if v, ok := node.Attrs.Get(attr); ok {
			step.Value = v
			step.HasAttr = true
		} else {
			step.Attributes = node.Attrs.Clone()
		}
		path = append(path, step)
	}
	return path
}
