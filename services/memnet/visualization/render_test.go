// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package visualization

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/memnet/services/memnet/graph"
)

func pourPattern(t *testing.T) *graph.Graph {
	t.Helper()
	g := graph.New()
	for _, a := range []graph.Attributes{
		graph.MustAttrs("uuid", "a1", "type", "action", "memory", "stm", "utterances", []string{"pour"}),
		graph.MustAttrs("uuid", "o1", "type", "object", "memory", "ltm", "accessid", "glass.n.02",
			"utterances", []string{"glass"}),
		graph.MustAttrs("uuid", "l1", "type", "location", "utterances", []string{`the "bar"`}),
	} {
		_, err := g.AddNode(a)
		require.NoError(t, err)
	}
	_, err := g.AddLink("a1", "o1", graph.LinkHasPart)
	require.NoError(t, err)
	_, err = g.AddLink("a1", "l1", graph.LinkHasPart)
	require.NoError(t, err)
	return g
}

func TestRender_DOT(t *testing.T) {
	r := NewRenderer(nil)
	out, err := r.Render(context.Background(), []*graph.Graph{pourPattern(t)}, FormatDOT)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(out, "digraph MemNet {"))
	assert.Contains(t, out, `p0n0 [label="pour", fillcolor="#ff6b6b", color="#d63031"];`)
	assert.Contains(t, out, `p0n1 [label="glass.n.02", fillcolor="#74b9ff", color="#74b9ff80"];`)
	assert.Contains(t, out, `p0n2 [label="the \"bar\"", fillcolor="#b2bec3", color="#333333"];`)
	assert.Contains(t, out, `p0n0 -> p0n1 [label="has_part"];`)
}

func TestRender_Mermaid(t *testing.T) {
	r := NewRenderer(&Options{Direction: "LR", MaxNodes: 2, LabelWidth: 40})
	out, err := r.Render(context.Background(), []*graph.Graph{pourPattern(t), nil}, FormatMermaid)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(out, "flowchart LR\n"))
	assert.Contains(t, out, "style p0n0 fill:#ff6b6b,stroke:#d63031")
	assert.Contains(t, out, "p0n0 -->|has_part| p0n1")
	assert.Contains(t, out, "p0_more[...1 more]")
	assert.NotContains(t, out, "p0n2", "hidden node is not drawn")
}

func TestRender_D3(t *testing.T) {
	r := NewRenderer(nil)
	out, err := r.Render(context.Background(), []*graph.Graph{pourPattern(t)}, FormatD3)
	require.NoError(t, err)

	var doc D3Graph
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	require.Len(t, doc.Nodes, 3)
	assert.Equal(t, "o1", doc.Nodes[1].NodeKey)
	assert.Equal(t, "ltm", doc.Nodes[1].Tier)
	assert.Len(t, doc.Links, 2)
}

func TestRender_Errors(t *testing.T) {
	r := NewRenderer(nil)
	_, err := r.Render(context.Background(), nil, "svg")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.Render(ctx, nil, FormatDOT)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestColors(t *testing.T) {
	tests := []struct {
		role   graph.Role
		tier   graph.Tier
		fill   string
		border string
	}{
		{graph.RoleAction, graph.TierShortTerm, "#ff6b6b", "#d63031"},
		{graph.RoleObject, graph.TierMidTerm, "#74b9ff", "#636e72"},
		{graph.RoleTool, graph.TierLongTerm, "#10ac84", "#10ac8480"},
		{graph.RoleAgent, graph.TierUntagged, "#b2bec3", "#333333"},
	}
	for _, tc := range tests {
		t.Run(string(tc.role), func(t *testing.T) {
			fill := RoleColor(tc.role)
			assert.Equal(t, tc.fill, fill)
			assert.Equal(t, tc.border, TierBorder(tc.tier, fill))
		})
	}
}

func TestTruncateLabel(t *testing.T) {
	assert.Equal(t, "short", truncateLabel("short", 10))
	assert.Equal(t, "abcdefg...", truncateLabel("abcdefghijklmnop", 10))
}
