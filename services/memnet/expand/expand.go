// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package expand grows raw matches into full patterns.
//
// For each node of a match the expander picks closure roots (the node
// itself if it has the hub role, otherwise everything reachable upward over
// non-spec_to links) and then collects, from every root, the descendants
// starting at the first hub-role node on each downward path. The induced
// subgraph over the union is the full pattern.
//
// Both walks use explicit stacks and visited sets, so cyclic input
// terminates.
package expand

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/memnet/services/memnet/graph"
)

var tracer = otel.Tracer("memnet.expand")

// Expander computes full patterns over a memory graph.
//
// Thread Safety: Safe for concurrent use as long as the graph is not
// mutated during a call.
type Expander struct {
	g      *graph.Graph
	logger *slog.Logger
}

// New creates an Expander over g. A nil logger uses slog.Default().
func New(g *graph.Graph, logger *slog.Logger) *Expander {
	if logger == nil {
		logger = slog.Default()
	}
	return &Expander{g: g, logger: logger}
}

// Expand returns one full pattern per raw match, in match order.
//
// Description:
//
//	Match nodes that no longer exist in the memory graph are skipped. A
//	match whose closure is empty (no hub-role node reachable) is dropped
//	silently.
//
// Inputs:
//
//	ctx - Used for tracing only; expansion does not block.
//	matches - Raw matches (any graphs whose node IDs exist in the memory graph).
//	hub - The hub role, usually the role the caller asked for.
//
// Outputs:
//
//	[]*graph.Graph - Full patterns, deep copies.
func (e *Expander) Expand(ctx context.Context, matches []*graph.Graph, hub graph.Role) []*graph.Graph {
	_, span := tracer.Start(ctx, "Expander.Expand")
	defer span.End()
	start := time.Now()

	out := make([]*graph.Graph, 0, len(matches))
	dropped := 0
	for _, m := range matches {
		nodes := e.Closure(m.NodeIDs(), hub)
		if len(nodes) == 0 {
			dropped++
			continue
		}
		out = append(out, e.g.SubgraphOf(nodes))
	}

	span.SetAttributes(
		attribute.String("expand.hub_role", string(hub)),
		attribute.Int("expand.matches", len(matches)),
		attribute.Int("expand.patterns", len(out)),
	)
	e.logger.Debug("Expanded matches",
		"hub_role", hub,
		"matches", len(matches),
		"patterns", len(out),
		"dropped", dropped,
		"duration", time.Since(start))
	return out
}

// Closure returns the full-pattern node set for a set of seed nodes.
func (e *Expander) Closure(seeds []string, hub graph.Role) map[string]bool {
	result := make(map[string]bool)
	for _, id := range seeds {
		node, ok := e.g.GetNode(id)
		if !ok {
			continue
		}
		var roots []string
		if node.Role() == hub {
			roots = []string{id}
		} else {
			roots = e.Ancestors(id)
		}
		for _, root := range roots {
			e.collectDownward(root, hub, result)
		}
	}
	return result
}

// Ancestors returns id and every node reachable from it by walking
// predecessors over links that are not spec_to, in discovery order.
//
// A predecessor joined to the node by several links is followed if any of
// them is not spec_to.
func (e *Expander) Ancestors(id string) []string {
	if !e.g.HasNode(id) {
		return nil
	}
	visited := map[string]bool{id: true}
	order := []string{id}
	stack := []string{id}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		node, _ := e.g.GetNode(cur)
		for _, l := range node.Incoming {
			if l.Type == graph.LinkSpecTo || visited[l.From] {
				continue
			}
			visited[l.From] = true
			order = append(order, l.From)
			stack = append(stack, l.From)
		}
	}
	return order
}

type walkState struct {
	id    string
	found bool
}

// collectDownward walks successors depth-first from root. A node is
// included once a node with the hub role has been seen on the path to it
// (inclusive). The seen set is keyed by (node, found) so a node first
// reached before the hub can still be included when reached after it.
func (e *Expander) collectDownward(root string, hub graph.Role, into map[string]bool) {
	seen := make(map[walkState]bool)
	stack := []walkState{{id: root}}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		node, ok := e.g.GetNode(cur.id)
		if !ok {
			continue
		}
		if !cur.found && node.Role() == hub {
			cur.found = true
		}
		if seen[cur] {
			continue
		}
		seen[cur] = true
		if cur.found {
			into[cur.id] = true
		}

		succ := e.g.Successors(cur.id)
		for i := len(succ) - 1; i >= 0; i-- {
			next := walkState{id: succ[i], found: cur.found}
			if !seen[next] {
				stack = append(stack, next)
			}
		}
	}
}
