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

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/AleutianAI/memnet/services/memnet/graph"
	"github.com/AleutianAI/memnet/services/memnet/pattern"
)

// kitchenGraph builds:
//
//	a1 "hand over" (stm) -has_part-> o1 "glass" (stm)
//	a2 "pour"      (stm) -has_part-> o2 "glass" (stm)
//	o3 "glass" (ltm), o4 "cup" (stm)
func kitchenGraph(t *testing.T) *graph.Graph {
	t.Helper()
	g := graph.New()
	add := func(id, role, tier string, utterances ...string) {
		a := graph.MustAttrs("uuid", id, "type", role, "utterances", utterances, "memory", tier)
		if _, err := g.AddNode(a); err != nil {
			t.Fatalf("AddNode(%s): %v", id, err)
		}
	}
	link := func(from, to string) {
		if _, err := g.AddLink(from, to, graph.LinkHasPart); err != nil {
			t.Fatalf("AddLink(%s, %s): %v", from, to, err)
		}
	}
	add("a1", "action", "stm", "hand over")
	add("o1", "object", "stm", "glass")
	add("a2", "action", "stm", "pour")
	add("o2", "object", "stm", "glass")
	add("o3", "object", "ltm", "glass")
	add("o4", "object", "stm", "cup")
	link("a1", "o1")
	link("a2", "o2")
	return g
}

func buildQuery(t *testing.T, req pattern.Request, tier graph.Tier) *pattern.Query {
	t.Helper()
	q, err := pattern.Build(req, tier)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	return q
}

func matchedIDs(r *Result) [][]string {
	out := make([][]string, len(r.Matches))
	for i, m := range r.Matches {
		out[i] = m.Pattern.NodeIDs()
	}
	return out
}

func TestMatcher_ActionWithObject(t *testing.T) {
	g := kitchenGraph(t)
	m := New(DefaultConfig())

	q := buildQuery(t, pattern.Request{
		"action-filters": graph.MustAttrs("utterances", []string{"hand over"}),
		"object-filters": graph.MustAttrs("utterances", []string{"glass"}),
	}, graph.TierUntagged)

	res, err := m.Find(context.Background(), g, q)
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if len(res.Matches) != 1 {
		t.Fatalf("expected exactly 1 match, got %d: %v", len(res.Matches), matchedIDs(res))
	}
	got := res.Matches[0]
	if got.Mapping["action_node"] != "a1" || got.Mapping["object_node"] != "o1" {
		t.Errorf("Mapping = %v", got.Mapping)
	}
	if !got.Pattern.HasLink("a1", "o1", graph.LinkHasPart) {
		t.Error("match pattern lost the induced link")
	}
	if !res.Complete {
		t.Error("expected complete search")
	}
}

func TestMatcher_ObjectsInTier(t *testing.T) {
	g := kitchenGraph(t)
	m := New(DefaultConfig())

	q := buildQuery(t, pattern.Request{
		"object-filters": graph.MustAttrs("utterances", []string{"glass"}),
	}, graph.TierShortTerm)

	res, err := m.Find(context.Background(), g, q)
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	want := [][]string{{"o1"}, {"o2"}}
	if got := matchedIDs(res); !reflect.DeepEqual(got, want) {
		t.Errorf("matches = %v, want %v", got, want)
	}
}

func TestMatcher_UntaggedTierIsWildcard(t *testing.T) {
	g := kitchenGraph(t)
	m := New(DefaultConfig())

	q := buildQuery(t, pattern.Request{
		"object-filters": graph.MustAttrs("utterances", []string{"glass"}),
	}, graph.TierUntagged)

	res, err := m.Find(context.Background(), g, q)
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if len(res.Matches) != 3 {
		t.Errorf("expected 3 glass objects across tiers, got %v", matchedIDs(res))
	}
}

func TestMatcher_EdgeTopologyRequired(t *testing.T) {
	g := kitchenGraph(t)
	m := New(DefaultConfig())

	// "hand over" is not linked to the ltm glass or the cup.
	q := buildQuery(t, pattern.Request{
		"action-filters": graph.MustAttrs("utterances", []string{"hand over"}),
		"object-filters": graph.MustAttrs("utterances", []string{"cup"}),
	}, graph.TierUntagged)

	res, err := m.Find(context.Background(), g, q)
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if len(res.Matches) != 0 {
		t.Errorf("expected no match, got %v", matchedIDs(res))
	}
}

func TestMatcher_AnyLinkTypeSatisfiesEdge(t *testing.T) {
	g := kitchenGraph(t)
	if _, err := g.AddLink("a1", "o4", graph.LinkHasNext); err != nil {
		t.Fatal(err)
	}
	m := New(DefaultConfig())
	q := buildQuery(t, pattern.Request{
		"action-filters": graph.MustAttrs("utterances", []string{"hand over"}),
		"object-filters": graph.MustAttrs("utterances", []string{"cup"}),
	}, graph.TierUntagged)

	res, err := m.Find(context.Background(), g, q)
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if len(res.Matches) != 1 {
		t.Errorf("expected has_next to satisfy the has_part query edge, got %v", matchedIDs(res))
	}
}

func TestMatcher_ExtraLinksRejectMapping(t *testing.T) {
	// a -has_part-> o, a -has_part-> t; the query has no object/tool edge.
	build := func(t *testing.T) *graph.Graph {
		t.Helper()
		g := graph.New()
		for _, n := range []struct{ id, role, utt string }{
			{"a", "action", "cut"},
			{"o", "object", "bread"},
			{"t", "tool", "knife"},
		} {
			if _, err := g.AddNode(graph.MustAttrs("uuid", n.id, "type", n.role, "utterances", []string{n.utt})); err != nil {
				t.Fatal(err)
			}
		}
		for _, to := range []string{"o", "t"} {
			if _, err := g.AddLink("a", to, graph.LinkHasPart); err != nil {
				t.Fatal(err)
			}
		}
		return g
	}
	req := pattern.Request{
		"action-filters": graph.MustAttrs("utterances", []string{"cut"}),
		"object-filters": graph.MustAttrs("utterances", []string{"bread"}),
		"tool-filters":   graph.MustAttrs("utterances", []string{"knife"}),
	}

	tests := []struct {
		name  string
		from  string
		to    string
		match int
	}{
		{"exact structure", "", "", 1},
		{"object to tool", "o", "t", 0},
		{"object back to action", "o", "a", 0},
		{"self-loop on tool", "t", "t", 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			g := build(t)
			if tc.from != "" {
				if _, err := g.AddLink(tc.from, tc.to, graph.LinkHasNext); err != nil {
					t.Fatal(err)
				}
			}
			res, err := New(DefaultConfig()).Find(context.Background(), g, buildQuery(t, req, graph.TierUntagged))
			if err != nil {
				t.Fatalf("Find failed: %v", err)
			}
			if len(res.Matches) != tc.match {
				t.Errorf("matches = %v, want %d", matchedIDs(res), tc.match)
			}
		})
	}
}

func TestMatcher_Injective(t *testing.T) {
	g := graph.New()
	for _, id := range []string{"x", "y"} {
		if _, err := g.AddNode(graph.MustAttrs("uuid", id, "tag", "t")); err != nil {
			t.Fatal(err)
		}
	}

	// Two placeholders with the same filter must land on distinct nodes.
	q := pattern.NewQuery([]pattern.Node{
		{Name: "p1", Attrs: graph.MustAttrs("tag", "t")},
		{Name: "p2", Attrs: graph.MustAttrs("tag", "t")},
	}, nil)

	res, err := New(DefaultConfig()).Find(context.Background(), g, q)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Matches) != 2 {
		t.Fatalf("expected both orderings of x,y; got %v", matchedIDs(res))
	}
	for _, m := range res.Matches {
		if m.Mapping["p1"] == m.Mapping["p2"] {
			t.Errorf("non-injective mapping %v", m.Mapping)
		}
	}
}

func TestMatcher_SelfLoopQuery(t *testing.T) {
	g := graph.New()
	for _, id := range []string{"x", "y"} {
		if _, err := g.AddNode(graph.MustAttrs("uuid", id, "tag", "t")); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := g.AddLink("x", "x", "loop"); err != nil {
		t.Fatal(err)
	}

	q := pattern.NewQuery(
		[]pattern.Node{{Name: "p", Attrs: graph.MustAttrs("tag", "t")}},
		[]pattern.Edge{{From: 0, To: 0, Type: "loop"}},
	)
	res, err := New(DefaultConfig()).Find(context.Background(), g, q)
	if err != nil {
		t.Fatal(err)
	}
	if got := matchedIDs(res); !reflect.DeepEqual(got, [][]string{{"x"}}) {
		t.Errorf("matches = %v, want [[x]]", got)
	}
}

func TestMatcher_Deterministic(t *testing.T) {
	g := graph.New()
	for i := 0; i < 30; i++ {
		_, err := g.AddNode(graph.MustAttrs(
			"uuid", fmt.Sprintf("n%02d", i),
			"type", "object",
			"utterances", []string{"glass"},
		))
		if err != nil {
			t.Fatal(err)
		}
	}
	m := New(DefaultConfig())
	q := buildQuery(t, pattern.Request{
		"object-filters": graph.MustAttrs("utterances", []string{"glass"}),
	}, graph.TierUntagged)

	first, err := m.Find(context.Background(), g, q)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		again, err := m.Find(context.Background(), g, q)
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(matchedIDs(first), matchedIDs(again)) {
			t.Fatalf("run %d differs", i)
		}
	}
}

func TestMatcher_Limits(t *testing.T) {
	g := kitchenGraph(t)
	q := buildQuery(t, pattern.Request{
		"object-filters": graph.MustAttrs("utterances", []string{"glass"}),
	}, graph.TierUntagged)

	t.Run("max matches", func(t *testing.T) {
		res, err := New(Config{MaxMatches: 1}).Find(context.Background(), g, q)
		if err != nil {
			t.Fatal(err)
		}
		if len(res.Matches) != 1 || res.Complete {
			t.Errorf("matches=%d complete=%v", len(res.Matches), res.Complete)
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		res, err := New(DefaultConfig()).Find(ctx, g, q)
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
		if res == nil || res.Complete {
			t.Error("expected incomplete non-nil result")
		}
	})

	t.Run("empty query", func(t *testing.T) {
		res, err := New(DefaultConfig()).Find(context.Background(), g, &pattern.Query{})
		if err != nil || len(res.Matches) != 0 {
			t.Errorf("expected no matches, got %d, %v", len(res.Matches), err)
		}
	})
}

func TestMatcher_MatchesAreCopies(t *testing.T) {
	g := kitchenGraph(t)
	q := buildQuery(t, pattern.Request{
		"object-filters": graph.MustAttrs("utterances", []string{"cup"}),
	}, graph.TierUntagged)

	res, err := New(DefaultConfig()).Find(context.Background(), g, q)
	if err != nil || len(res.Matches) != 1 {
		t.Fatalf("setup: %v, %d", err, len(res.Matches))
	}
	g.RemoveNode("o4")
	if !res.Matches[0].Pattern.HasNode("o4") {
		t.Error("match changed after memory graph mutation")
	}
}
