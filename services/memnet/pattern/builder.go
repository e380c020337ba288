// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pattern turns declarative attribute-filter requests into small
// query graphs for the matcher.
//
// A request maps suffixed role keys ("object-filters", or the exchange
// spelling "object_attributes") to attribute filters. Each present role
// becomes one placeholder node; when an action is present it gets a
// has_part edge to every other placeholder.
package pattern

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/AleutianAI/memnet/services/memnet/graph"
)

// Request key suffixes.
const (
	FilterSuffix       = "-filters"
	LegacyFilterSuffix = "_attributes"
)

// Sentinel errors for pattern building.
var (
	// ErrInvalidAttributeName is returned for a request key that does not
	// name a role of the fixed role set.
	ErrInvalidAttributeName = errors.New("invalid attribute name")

	// ErrConflictingRole is returned when a filter carries a role tag that
	// differs from the role named by its key.
	ErrConflictingRole = errors.New("conflicting role in filters")
)

// Request maps "<role>-filters" keys to attribute filters.
type Request map[string]graph.Attributes

// FilterKey returns the canonical request key for a role.
func FilterKey(r graph.Role) string {
	return string(r) + FilterSuffix
}

// ParseFilterKey extracts the role from a request key.
func ParseFilterKey(key string) (graph.Role, error) {
	var name string
	switch {
	case strings.HasSuffix(key, FilterSuffix):
		name = strings.TrimSuffix(key, FilterSuffix)
	case strings.HasSuffix(key, LegacyFilterSuffix):
		name = strings.TrimSuffix(key, LegacyFilterSuffix)
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidAttributeName, key)
	}
	role := graph.Role(name)
	if !graph.ValidRoles[role] {
		return "", fmt.Errorf("%w: %q", ErrInvalidAttributeName, key)
	}
	return role, nil
}

// Node is a query-graph placeholder.
type Node struct {
	// Name identifies the placeholder, e.g. "action_node".
	Name string

	// Attrs are the filter attributes, role tag first.
	Attrs graph.Attributes
}

// Role returns the placeholder's role tag, or "" if absent.
func (n Node) Role() graph.Role {
	s, _ := n.Attrs.String(graph.KeyRole)
	return graph.Role(s)
}

// Edge is a directed query-graph edge between placeholder indexes.
type Edge struct {
	From, To int
	Type     graph.LinkType
}

// Query is a small ephemeral graph matched against the memory graph.
//
// Thread Safety: A Query is immutable once built and safe to share.
type Query struct {
	Nodes []Node
	Edges []Edge

	out [][]int
	in  [][]int
}

// Len returns the number of placeholders.
func (q *Query) Len() int { return len(q.Nodes) }

// Successors returns the indexes reachable by one edge from i.
func (q *Query) Successors(i int) []int { return q.out[i] }

// Predecessors returns the indexes with an edge into i.
func (q *Query) Predecessors(i int) []int { return q.in[i] }

// HasEdge reports whether an edge from i to j exists.
func (q *Query) HasEdge(i, j int) bool {
	for _, s := range q.out[i] {
		if s == j {
			return true
		}
	}
	return false
}

// Key returns a canonical string for caching.
func (q *Query) Key() string {
	var b strings.Builder
	for i, n := range q.Nodes {
		if i > 0 {
			b.WriteByte('|')
		}
		b.WriteString(n.Name)
		b.WriteString(n.Attrs.Key())
	}
	for _, e := range q.Edges {
		fmt.Fprintf(&b, "|%d>%d:%s", e.From, e.To, e.Type)
	}
	return b.String()
}

func (q *Query) index() {
	q.out = make([][]int, len(q.Nodes))
	q.in = make([][]int, len(q.Nodes))
	for _, e := range q.Edges {
		if !contains(q.out[e.From], e.To) {
			q.out[e.From] = append(q.out[e.From], e.To)
			q.in[e.To] = append(q.in[e.To], e.From)
		}
	}
}

func contains(xs []int, x int) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

// Build turns a filter request into a query graph.
//
// Description:
//
//	Every key must name a role of the fixed role set. Each role becomes one
//	placeholder carrying {type: role}, then the caller's filters in their
//	own order, then {memory: tier} when tier is tagged. A caller-supplied
//	memory filter keeps its position and is overridden by a tagged tier; an
//	untagged tier leaves it alone. Placeholders follow the canonical role
//	order (action first) so the result is deterministic.
//
// Inputs:
//
//	req - The filter request. May be empty.
//	tier - Global memory tier. TierUntagged means wildcard.
//
// Outputs:
//
//	*Query - The query graph.
//	error - ErrInvalidAttributeName or ErrConflictingRole.
func Build(req Request, tier graph.Tier) (*Query, error) {
	byRole := make(map[graph.Role]graph.Attributes, len(req))
	keys := make([]string, 0, len(req))
	for k := range req {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		role, err := ParseFilterKey(key)
		if err != nil {
			return nil, err
		}
		if _, dup := byRole[role]; dup {
			return nil, fmt.Errorf("%w: %q duplicates role %s", ErrInvalidAttributeName, key, role)
		}
		byRole[role] = req[key]
	}

	q := &Query{}
	actionIdx := -1
	for _, role := range graph.Roles() {
		filters, ok := byRole[role]
		if !ok {
			continue
		}
		attrs, err := placeholderAttrs(role, filters, tier)
		if err != nil {
			return nil, err
		}
		if role == graph.RoleAction {
			actionIdx = len(q.Nodes)
		}
		q.Nodes = append(q.Nodes, Node{Name: string(role) + "_node", Attrs: attrs})
	}

	if actionIdx >= 0 {
		for i := range q.Nodes {
			if i != actionIdx {
				q.Edges = append(q.Edges, Edge{From: actionIdx, To: i, Type: graph.LinkHasPart})
			}
		}
	}
	q.index()
	return q, nil
}

func placeholderAttrs(role graph.Role, filters graph.Attributes, tier graph.Tier) (graph.Attributes, error) {
	attrs := graph.NewAttributes(filters.Len() + 2)
	attrs.SetString(graph.KeyRole, string(role))
	for _, k := range filters.Keys() {
		v, _ := filters.Get(k)
		if k == graph.KeyRole {
			if !v.Equal(graph.Scalar(string(role))) {
				return graph.Attributes{}, fmt.Errorf("%w: %s-filters has %s=%s", ErrConflictingRole, role, k, v)
			}
			continue
		}
		attrs.Set(k, v)
	}
	if tier != graph.TierUntagged {
		attrs.SetString(graph.KeyTier, string(tier))
	}
	return attrs, nil
}

// NewQuery builds a query graph from explicit placeholders and edges.
func NewQuery(nodes []Node, edges []Edge) *Query {
	q := &Query{Nodes: nodes, Edges: edges}
	q.index()
	return q
}

// FromGraph turns an existing pattern into a query graph. Placeholders carry
// the nodes' attributes verbatim and every link becomes a query edge.
func FromGraph(g *graph.Graph) *Query {
	q := &Query{}
	pos := make(map[string]int, g.NodeCount())
	for n := range g.Nodes() {
		pos[n.ID] = len(q.Nodes)
		q.Nodes = append(q.Nodes, Node{Name: n.ID, Attrs: n.Attrs.Clone()})
	}
	for _, l := range g.Links() {
		q.Edges = append(q.Edges, Edge{From: pos[l.From], To: pos[l.To], Type: l.Type})
	}
	q.index()
	return q
}
