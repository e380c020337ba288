// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"fmt"

	"github.com/AleutianAI/memnet/services/memnet/graph"
	"github.com/AleutianAI/memnet/services/memnet/pattern"
	"github.com/AleutianAI/memnet/services/memnet/query"
)

// =============================================================================
// Wire types
// =============================================================================

// Pattern is the JSON form of a pattern graph.
type Pattern struct {
	// Nodes holds each node's full attribute map, uuid included.
	Nodes []graph.Attributes `json:"nodes" binding:"required,min=1"`

	// Links are the typed links between those nodes.
	Links []Link `json:"links" binding:"dive"`
}

// Link is one typed link inside a Pattern.
type Link struct {
	From string         `json:"from" binding:"required"`
	To   string         `json:"to" binding:"required"`
	Type graph.LinkType `json:"type" binding:"required"`
}

// PatternFromGraph converts a graph to its wire form.
func PatternFromGraph(g *graph.Graph) Pattern {
	p := Pattern{
		Nodes: make([]graph.Attributes, 0, g.NodeCount()),
		Links: make([]Link, 0, g.LinkCount()),
	}
	for n := range g.Nodes() {
		p.Nodes = append(p.Nodes, n.Attrs.Clone())
	}
	for _, l := range g.Links() {
		p.Links = append(p.Links, Link{From: l.From, To: l.To, Type: l.Type})
	}
	return p
}

// Graph builds a graph from the wire form.
//
// Errors:
//
//	graph.ErrInvalidNode, graph.ErrDuplicateNode, graph.ErrNodeNotFound and
//	the other graph errors, wrapped with the offending index.
func (p Pattern) Graph() (*graph.Graph, error) {
	g := graph.New()
	for i, attrs := range p.Nodes {
		if _, err := g.AddNode(attrs); err != nil {
			return nil, fmt.Errorf("node %d: %w", i, err)
		}
	}
	for i, l := range p.Links {
		if _, err := g.AddLink(l.From, l.To, l.Type); err != nil {
			return nil, fmt.Errorf("link %d: %w", i, err)
		}
	}
	return g, nil
}

func patternsFromGraphs(gs []*graph.Graph) []Pattern {
	out := make([]Pattern, len(gs))
	for i, g := range gs {
		out[i] = PatternFromGraph(g)
	}
	return out
}

func graphsFromPatterns(ps []Pattern) ([]*graph.Graph, error) {
	out := make([]*graph.Graph, len(ps))
	for i, p := range ps {
		g, err := p.Graph()
		if err != nil {
			return nil, fmt.Errorf("pattern %d: %w", i, err)
		}
		out[i] = g
	}
	return out, nil
}

// =============================================================================
// Requests
// =============================================================================

// QueryRequest is the body of POST /v1/memnet/query.
type QueryRequest struct {
	// Role is the role of the hub to return (action, object, ...).
	Role string `json:"role" binding:"required"`

	// Tier restricts the hub's memory tier. Empty matches any tier.
	Tier string `json:"tier"`

	// Filters maps "<role>-filters" keys to attribute filters.
	Filters pattern.Request `json:"filters" binding:"required"`
}

// NodesRequest is the body of POST /v1/memnet/nodes.
type NodesRequest struct {
	Tier    string          `json:"tier"`
	Filters pattern.Request `json:"filters" binding:"required"`
}

// PatternsRequest carries patterns for delete, insert and parents.
type PatternsRequest struct {
	Patterns []Pattern `json:"patterns" binding:"required,min=1,dive"`
}

// RecordsRequest is the body of POST /v1/memnet/records.
type RecordsRequest struct {
	Records []Record `json:"records" binding:"required,min=1,dive"`
}

// Record is one linked insert.
type Record struct {
	Node   graph.Attributes `json:"node_attributes"`
	Parent graph.Attributes `json:"parent_attributes"`
	Link   graph.LinkType   `json:"link"`
}

// validate checks what struct tags cannot express on attribute maps.
func (r Record) validate() error {
	if r.Node.Len() == 0 {
		return fmt.Errorf("%w: empty node_attributes", ErrInvalidRequest)
	}
	if r.Parent.Len() > 0 && r.Link == "" {
		return fmt.Errorf("%w: link is required with parent_attributes", ErrInvalidRequest)
	}
	return nil
}

func (r Record) linkedNode() query.LinkedNode {
	return query.LinkedNode{Parent: r.Parent, Node: r.Node, LinkType: r.Link}
}

// ScoreRequest is the body of POST /v1/memnet/score. Exactly one of Target
// and Sequence must be set.
type ScoreRequest struct {
	// Target is the pattern the candidates are compared to.
	Target *Pattern `json:"target" binding:"required_without=Sequence"`

	// Sequence is a raw utterance sequence to score against instead.
	Sequence []string `json:"sequence" binding:"required_without=Target"`

	// Candidates are scored in order.
	Candidates []Pattern `json:"candidates" binding:"required,min=1,dive"`
}

// =============================================================================
// Responses
// =============================================================================

// PatternsResponse returns matched patterns.
type PatternsResponse struct {
	Count    int       `json:"count"`
	Patterns []Pattern `json:"patterns"`

	// Hubs lists the hub node IDs of every returned pattern.
	Hubs []string `json:"hubs"`
}

// InsertResponse reports a mutation.
type InsertResponse struct {
	Nodes    int    `json:"nodes"`
	Links    int    `json:"links,omitempty"`
	Revision uint64 `json:"revision"`
}

// DeleteResponse reports a pattern delete.
type DeleteResponse struct {
	Deleted  int    `json:"deleted"`
	Revision uint64 `json:"revision"`
}

// AncestryResponse is one hub's generalisation chain.
type AncestryResponse struct {
	Hub   string           `json:"hub"`
	Root  graph.Attributes `json:"root"`
	Chain Pattern          `json:"chain"`
}

// ParentsResponse is the response for POST /v1/memnet/parents.
type ParentsResponse struct {
	Ancestors []AncestryResponse `json:"ancestors"`
}

// ScoredCandidate is one candidate's similarity.
type ScoredCandidate struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

// ScoreResponse is the response for POST /v1/memnet/score.
type ScoreResponse struct {
	Scores []ScoredCandidate `json:"scores"`

	// Best is the index of the first highest-scoring candidate.
	Best int `json:"best"`
}

// StatsResponse is the response for GET /v1/memnet/stats.
type StatsResponse struct {
	Graph graph.GraphStats `json:"graph"`
	Cache query.CacheStats `json:"cache"`
}

// SnapshotResponse is the response for POST /v1/memnet/snapshot.
type SnapshotResponse struct {
	Name     string `json:"name"`
	Nodes    int    `json:"nodes"`
	Links    int    `json:"links"`
	Revision uint64 `json:"revision"`
}

// HealthResponse is the response for GET /v1/memnet/health.
type HealthResponse struct {
	// Status is "healthy".
	Status string `json:"status"`

	// Version is the service version.
	Version string `json:"version"`

	// Nodes is the current node count.
	Nodes int `json:"nodes"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is the error code.
	Code string `json:"code,omitempty"`
}
