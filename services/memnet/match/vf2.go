// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package match finds occurrences of a query graph inside the memory graph.
//
// The search is a VF2-style backtracking over partial mappings from query
// placeholders to memory nodes. A mapping is kept when every mapped pair
// passes Compatible and the links among the mapped nodes mirror the query
// edges exactly: each query edge lands on a memory link (any link type),
// and two placeholders the query leaves unconnected must be unconnected in
// memory too. Each kept mapping is returned as an induced subgraph copy.
package match

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/memnet/services/memnet/graph"
	"github.com/AleutianAI/memnet/services/memnet/pattern"
)

// contextCheckInterval is how many search states pass between context checks.
const contextCheckInterval = 256

// Config configures the matcher. Zero values mean "no limit".
type Config struct {
	// MaxMatches stops the search after this many matches.
	MaxMatches int

	// MaxIterations stops the search after this many visited states.
	MaxIterations int

	// Timeout bounds a single search on top of the caller's context.
	Timeout time.Duration
}

// DefaultConfig returns an unbounded configuration: every mapping is
// enumerated and only the caller's context can stop the search.
func DefaultConfig() Config {
	return Config{}
}

// Option configures a Matcher.
type Option func(*Matcher)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(m *Matcher) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// Matcher runs subgraph isomorphism searches.
//
// Thread Safety: Safe for concurrent use as long as the graph passed to
// Find is not mutated during the call.
type Matcher struct {
	config Config
	logger *slog.Logger
}

// New creates a Matcher.
func New(cfg Config, opts ...Option) *Matcher {
	m := &Matcher{config: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Match is one occurrence of the query graph.
type Match struct {
	// Mapping maps placeholder names to memory node IDs.
	Mapping map[string]string

	// Pattern is the induced subgraph over the mapped nodes (a copy).
	Pattern *graph.Graph
}

// Result is the outcome of one search.
type Result struct {
	// Matches in discovery order.
	Matches []Match

	// Iterations is the number of search states visited.
	Iterations int

	// Pruned is the number of candidate pairs rejected by feasibility.
	Pruned int

	// Complete is false if a limit or the context stopped the search early.
	Complete bool
}

// Patterns returns the match subgraphs in discovery order.
func (r *Result) Patterns() []*graph.Graph {
	out := make([]*graph.Graph, len(r.Matches))
	for i, m := range r.Matches {
		out[i] = m.Pattern
	}
	return out
}

// Find enumerates every occurrence of q in g.
//
// Description:
//
//	Placeholders are mapped in query order. The first placeholder tries
//	every memory node in insertion order; later placeholders try only the
//	neighbours of already-mapped nodes when the query connects them, in
//	link insertion order. Because every iteration follows insertion order,
//	repeated calls on an unchanged graph return identical results.
//
// Inputs:
//
//	ctx - Bounds the search. Checked every contextCheckInterval states.
//	g - The memory graph. Must not be mutated during the call.
//	q - The query graph.
//
// Outputs:
//
//	*Result - Matches found. Always non-nil.
//	error - Non-nil only if ctx ended the search; Result then holds the
//	        matches found so far.
func (m *Matcher) Find(ctx context.Context, g *graph.Graph, q *pattern.Query) (*Result, error) {
	if m.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.config.Timeout)
		defer cancel()
	}

	ctx, span := startMatchSpan(ctx, q.Len(), g.NodeCount())
	defer span.End()
	start := time.Now()

	result := &Result{Complete: true}
	if err := ctx.Err(); err != nil {
		result.Complete = false
		return result, fmt.Errorf("match search: %w", err)
	}
	if q.Len() == 0 || q.Len() > g.NodeCount() {
		recordMatchMetrics(ctx, time.Since(start), q.Len(), 0, 0, true)
		return result, nil
	}

	st := &vf2State{
		g:       g,
		q:       q,
		targets: g.NodeIDs(),
		mapping: make([]string, q.Len()),
		used:    make(map[string]bool, q.Len()),
		ctx:     ctx,
		cfg:     m.config,
		result:  result,
	}
	st.match(0)

	result.Iterations = st.iterations
	result.Pruned = st.pruned
	result.Complete = !st.stopped

	span.SetAttributes(
		attribute.Int("match.found", len(result.Matches)),
		attribute.Int("match.iterations", st.iterations),
		attribute.Bool("match.complete", result.Complete),
	)
	recordMatchMetrics(ctx, time.Since(start), q.Len(), len(result.Matches), st.iterations, result.Complete)

	if st.ctxErr != nil {
		span.RecordError(st.ctxErr)
		span.SetStatus(codes.Error, "search interrupted")
		m.logger.Warn("Match search interrupted",
			"error", st.ctxErr,
			"found", len(result.Matches),
			"iterations", st.iterations)
		return result, fmt.Errorf("match search: %w", st.ctxErr)
	}
	if !result.Complete {
		m.logger.Warn("Match search stopped at limit",
			"found", len(result.Matches),
			"iterations", st.iterations,
			"max_matches", m.config.MaxMatches,
			"max_iterations", m.config.MaxIterations)
	}
	m.logger.Debug("Match search finished",
		"pattern_size", q.Len(),
		"found", len(result.Matches),
		"iterations", st.iterations,
		"duration", time.Since(start))
	return result, nil
}

// vf2State holds the search state.
type vf2State struct {
	g       *graph.Graph
	q       *pattern.Query
	targets []string

	mapping []string        // placeholder index -> node ID ("" if unmapped)
	used    map[string]bool // node IDs already mapped

	iterations int
	pruned     int
	stopped    bool
	ctxErr     error

	ctx    context.Context
	cfg    Config
	result *Result
}

// match extends the mapping at placeholder index depth. Recursion depth is
// bounded by the query size.
func (s *vf2State) match(depth int) {
	s.iterations++
	if s.iterations%contextCheckInterval == 0 {
		if err := s.ctx.Err(); err != nil {
			s.ctxErr = err
			s.stopped = true
			return
		}
	}
	if s.cfg.MaxIterations > 0 && s.iterations > s.cfg.MaxIterations {
		s.stopped = true
		return
	}

	if depth == s.q.Len() {
		s.emit()
		if s.cfg.MaxMatches > 0 && len(s.result.Matches) >= s.cfg.MaxMatches {
			s.stopped = true
		}
		return
	}

	for _, target := range s.candidates(depth) {
		if !s.feasible(depth, target) {
			s.pruned++
			continue
		}
		s.mapping[depth] = target
		s.used[target] = true

		s.match(depth + 1)

		delete(s.used, target)
		s.mapping[depth] = ""

		if s.stopped {
			return
		}
	}
}

// candidates returns target nodes to try for placeholder p.
//
// If p is adjacent in the query to an already-mapped placeholder, only the
// matching neighbours of that placeholder's target are tried; otherwise all
// unmapped targets are tried.
func (s *vf2State) candidates(p int) []string {
	var out []string
	seen := make(map[string]bool)
	connected := false

	for _, pred := range s.q.Predecessors(p) {
		if pred >= p {
			continue
		}
		connected = true
		for _, t := range s.g.Successors(s.mapping[pred]) {
			if !s.used[t] && !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	for _, succ := range s.q.Successors(p) {
		if succ >= p {
			continue
		}
		connected = true
		for _, t := range s.g.Predecessors(s.mapping[succ]) {
			if !s.used[t] && !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	if connected {
		return out
	}

	out = make([]string, 0, len(s.targets))
	for _, t := range s.targets {
		if !s.used[t] {
			out = append(out, t)
		}
	}
	return out
}

// feasible checks whether mapping placeholder p to target keeps the mapped
// nodes node-induced: a query edge between mapped placeholders exists iff a
// memory link joins their targets in the same direction.
func (s *vf2State) feasible(p int, target string) bool {
	if s.used[target] {
		return false
	}
	node, ok := s.g.GetNode(target)
	if !ok {
		return false
	}

	// Degree pruning: distinct query neighbours need distinct targets.
	if len(s.q.Successors(p)) > s.g.OutDegree(target) ||
		len(s.q.Predecessors(p)) > s.g.InDegree(target) {
		return false
	}

	if !Compatible(node.Attrs, s.q.Nodes[p].Attrs) {
		return false
	}

	if s.q.HasEdge(p, p) != s.g.Connected(target, target) {
		return false
	}
	for other := 0; other < p; other++ {
		t := s.mapping[other]
		if s.q.HasEdge(other, p) != s.g.Connected(t, target) {
			return false
		}
		if s.q.HasEdge(p, other) != s.g.Connected(target, t) {
			return false
		}
	}
	return true
}

// emit records the current complete mapping.
func (s *vf2State) emit() {
	mapping := make(map[string]string, len(s.mapping))
	ids := make([]string, 0, len(s.mapping))
	for i, id := range s.mapping {
		mapping[s.q.Nodes[i].Name] = id
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return
	}
	s.result.Matches = append(s.result.Matches, Match{
		Mapping: mapping,
		Pattern: s.g.Subgraph(ids),
	})
}
