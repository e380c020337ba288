// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package query

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/memnet/services/memnet/graph"
)

// Ancestry is the generalisation chain above one hub node.
type Ancestry struct {
	// Hub is the hub node the walk started from.
	Hub string `json:"hub"`

	// Root holds the attributes of the terminal ancestor. It is the hub
	// itself when the hub has no spec_to parents.
	Root graph.Attributes `json:"root"`

	// Chain is the induced subgraph over every node on the walk.
	Chain *graph.Graph `json:"-"`
}

// Parents walks spec_to links upward from every hub of every pattern.
//
// Description:
//
//	Hubs are the zero in-degree nodes of each pattern. From each hub the
//	walk follows predecessors joined by a spec_to link until it reaches
//	nodes without such predecessors. Exactly one terminal is expected.
//
// Outputs:
//
//	[]Ancestry - One entry per hub, pattern order then hub order.
//	error - *AmbiguityError (matches ErrAmbiguousAncestor) when a hub
//	        reaches several terminals; graph.ErrCycleDetected when the walk
//	        finds no terminal at all; graph.ErrNodeNotFound when a hub is no
//	        longer in the graph.
func (e *Engine) Parents(ctx context.Context, patterns []*graph.Graph) ([]Ancestry, error) {
	_, span := tracer.Start(ctx, "Engine.Parents")
	defer span.End()

	e.mu.RLock()
	defer e.mu.RUnlock()

	hubs := HubNodes(patterns)
	span.SetAttributes(attribute.Int("query.hubs", len(hubs)))
	out := make([]Ancestry, 0, len(hubs))
	for _, hub := range hubs {
		a, err := e.ancestry(hub)
		if err != nil {
			queryErrors.WithLabelValues("parents").Inc()
			span.RecordError(err)
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func (e *Engine) ancestry(hub string) (Ancestry, error) {
	if !e.g.HasNode(hub) {
		return Ancestry{}, fmt.Errorf("%w: hub %s", graph.ErrNodeNotFound, hub)
	}
	visited := map[string]bool{hub: true}
	stack := []string{hub}
	var terminals []string
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		node, _ := e.g.GetNode(cur)
		hasParent := false
		for _, l := range node.Incoming {
			if l.Type != graph.LinkSpecTo {
				continue
			}
			hasParent = true
			if !visited[l.From] {
				visited[l.From] = true
				stack = append(stack, l.From)
			}
		}
		if !hasParent {
			terminals = append(terminals, cur)
		}
	}

	switch len(terminals) {
	case 0:
		return Ancestry{}, fmt.Errorf("%w: spec_to ancestors of %s", graph.ErrCycleDetected, hub)
	case 1:
		root, _ := e.g.GetNode(terminals[0])
		return Ancestry{
			Hub:   hub,
			Root:  root.Attrs.Clone(),
			Chain: e.g.SubgraphOf(visited),
		}, nil
	default:
		return Ancestry{}, &AmbiguityError{Hub: hub, Roots: terminals}
	}
}
