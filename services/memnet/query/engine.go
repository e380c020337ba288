// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package query is the single entry point to a memory graph.
//
// An Engine owns one graph and runs the full retrieval pipeline over it:
// build a query graph from filters, match it, and expand the matches into
// full patterns. It also exposes the role-agnostic mutations (linked
// inserts, pattern insert and delete) and sequence scoring.
//
// # Thread Safety
//
// The Engine is the graph's only writer. Queries share a read lock and may
// run concurrently; mutations take the write lock and run to completion.
// Every pattern handed out is a deep copy.
package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/memnet/services/memnet/expand"
	"github.com/AleutianAI/memnet/services/memnet/graph"
	"github.com/AleutianAI/memnet/services/memnet/match"
	"github.com/AleutianAI/memnet/services/memnet/pattern"
	"github.com/AleutianAI/memnet/services/memnet/sequence"
)

// DefaultCacheSize is the default number of cached query results.
const DefaultCacheSize = 256

// Config configures an Engine.
type Config struct {
	// Match bounds each isomorphism search.
	Match match.Config

	// CacheSize is the number of cached query results. 0 disables caching.
	CacheSize int

	// ScoreLinkType is the link type chains follow when scoring.
	// Default: has_next.
	ScoreLinkType graph.LinkType

	// ScoreWorkers bounds concurrent candidate scoring. 0 means GOMAXPROCS.
	ScoreWorkers int
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		Match:         match.DefaultConfig(),
		CacheSize:     DefaultCacheSize,
		ScoreLinkType: sequence.DefaultLinkType,
	}
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithGraph starts the engine on an existing graph. The engine takes
// ownership; the caller must not use g afterwards.
func WithGraph(g *graph.Graph) Option {
	return func(e *Engine) {
		if g != nil {
			e.g = g
		}
	}
}

// Engine is the query facade over one memory graph.
type Engine struct {
	mu sync.RWMutex
	g  *graph.Graph

	config  Config
	logger  *slog.Logger
	matcher *match.Matcher
	ranker  *sequence.Ranker
	cache   *resultCache
	fills   singleflight.Group
}

// New creates an Engine. Without WithGraph it starts on an empty graph.
func New(cfg Config, opts ...Option) *Engine {
	e := &Engine{
		g:      graph.New(),
		config: cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.matcher = match.New(cfg.Match, match.WithLogger(e.logger))
	e.ranker = sequence.NewRanker(
		sequence.WithLinkType(cfg.ScoreLinkType),
		sequence.WithWorkers(cfg.ScoreWorkers),
		sequence.WithLogger(e.logger),
	)
	e.cache = newResultCache(cfg.CacheSize)
	return e
}

// Find returns the full patterns of sel.Role in sel.Tier that satisfy req.
//
// Description:
//
//	Builds a query graph from req with the selector's tier, matches it
//	against the memory graph and expands every match with sel.Role as the
//	hub role. Complete results are cached per graph revision.
//
// Inputs:
//
//	ctx - Bounds the search.
//	sel - An entry of the query table, see Selectors.
//	req - Filter request keyed "<role>-filters". May name any roles.
//
// Outputs:
//
//	[]*graph.Graph - Full patterns in match order. Deep copies.
//	error - ErrUnknownSelector, pattern.ErrInvalidAttributeName, or a
//	        context error from the matcher.
func (e *Engine) Find(ctx context.Context, sel Selector, req pattern.Request) ([]*graph.Graph, error) {
	if err := sel.Validate(); err != nil {
		queryErrors.WithLabelValues("find").Inc()
		return nil, err
	}
	return e.run(ctx, "find", sel, req, true)
}

// GetNodes returns raw matches for req without expansion. Each match is the
// induced subgraph over the mapped nodes.
func (e *Engine) GetNodes(ctx context.Context, req pattern.Request, tier graph.Tier) ([]*graph.Graph, error) {
	if err := (Selector{Role: graph.RoleAction, Tier: tier}).Validate(); err != nil {
		queryErrors.WithLabelValues("nodes").Inc()
		return nil, err
	}
	return e.run(ctx, "nodes", Selector{Tier: tier}, req, false)
}

// fill runs compute once per key across concurrent callers. A caller that
// joined a fill which ended with a context error while its own ctx is still
// live runs the fill once more under its own ctx.
func (e *Engine) fill(ctx context.Context, key string, compute func(context.Context) ([]*graph.Graph, error)) ([]*graph.Graph, bool, error) {
	for attempt := 0; ; attempt++ {
		resultI, err, shared := e.fills.Do(key, func() (any, error) {
			if cached, ok := e.cache.get(key); ok {
				return cached, nil
			}
			return compute(ctx)
		})
		if err != nil {
			if attempt == 0 && shared && ctx.Err() == nil && isContextErr(err) {
				e.logger.Debug("Retrying shared query fill", "error", err)
				continue
			}
			return nil, shared, err
		}
		patterns, ok := resultI.([]*graph.Graph)
		if !ok {
			return nil, shared, fmt.Errorf("unexpected type from query fill: got %T", resultI)
		}
		return patterns, shared, nil
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (e *Engine) run(ctx context.Context, op string, sel Selector, req pattern.Request, expandMatches bool) ([]*graph.Graph, error) {
	ctx, span := tracer.Start(ctx, "Engine."+op)
	defer span.End()
	start := time.Now()
	defer func() { queryDuration.WithLabelValues(op).Observe(time.Since(start).Seconds()) }()
	span.SetAttributes(attribute.String("query.selector", sel.String()))

	q, err := pattern.Build(req, sel.Tier)
	if err != nil {
		queryErrors.WithLabelValues(op).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid request")
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	key := fmt.Sprintf("%d|%s|%s|%s", e.g.Revision(), op, sel, q.Key())
	if cached, ok := e.cache.get(key); ok {
		queryTotal.WithLabelValues(string(sel.Role), tierLabel(sel), "hit").Inc()
		span.SetAttributes(attribute.Bool("cache_hit", true), attribute.Int("query.patterns", len(cached)))
		return clonePatterns(cached), nil
	}

	patterns, shared, err := e.fill(ctx, key, func(ctx context.Context) ([]*graph.Graph, error) {
		res, err := e.matcher.Find(ctx, e.g, q)
		if err != nil {
			return nil, err
		}
		patterns := res.Patterns()
		if expandMatches {
			patterns = expand.New(e.g, e.logger).Expand(ctx, patterns, sel.Role)
		}
		if res.Complete {
			e.cache.set(key, patterns)
		}
		return patterns, nil
	})
	if err != nil {
		queryErrors.WithLabelValues(op).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "query failed")
		e.logger.Warn("Query failed", "operation", op, "selector", sel.String(), "error", err)
		return nil, err
	}

	queryTotal.WithLabelValues(string(sel.Role), tierLabel(sel), "miss").Inc()
	span.SetAttributes(
		attribute.Bool("cache_hit", false),
		attribute.Bool("shared", shared),
		attribute.Int("query.patterns", len(patterns)),
	)
	e.logger.Debug("Query finished",
		"operation", op,
		"selector", sel.String(),
		"patterns", len(patterns),
		"duration", time.Since(start))
	return clonePatterns(patterns), nil
}

// InsertLinkedNode adds a node and links it under a parent.
//
// Description:
//
//	The parent is the first node, in insertion order, whose attributes
//	contain every key of parent with an equal value. An empty parent, or
//	one that matches nothing, inserts the node unlinked. When node has no
//	uuid a random one is generated and placed first.
//
// Outputs:
//
//	graph.Attributes - The stored attributes, uuid included.
//	error - graph.ErrDuplicateNode, graph.ErrInvalidRole, graph.ErrInvalidLink
//	        (parent found but linkType empty), ...
//
// Thread Safety: Takes the write lock.
func (e *Engine) InsertLinkedNode(parent, node graph.Attributes, linkType graph.LinkType) (graph.Attributes, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.insertLinkedNode(parent, node, linkType)
}

func (e *Engine) insertLinkedNode(parent, node graph.Attributes, linkType graph.LinkType) (graph.Attributes, error) {
	var parentID string
	if p, ok := e.g.FindFirst(parent); ok {
		parentID = p.ID
		if linkType == "" {
			queryErrors.WithLabelValues("insert").Inc()
			return graph.Attributes{}, fmt.Errorf("%w: parent %s found but link type is empty", graph.ErrInvalidLink, parentID)
		}
	}

	attrs := node
	if !node.Has(graph.KeyID) {
		attrs = graph.NewAttributes(node.Len() + 1)
		attrs.SetString(graph.KeyID, uuid.NewString())
		for _, k := range node.Keys() {
			v, _ := node.Get(k)
			attrs.Set(k, v)
		}
	}

	stored, err := e.g.AddNode(attrs)
	if err != nil {
		queryErrors.WithLabelValues("insert").Inc()
		return graph.Attributes{}, err
	}
	if parentID != "" {
		if _, err := e.g.AddLink(parentID, stored.ID, linkType); err != nil {
			e.g.RemoveNode(stored.ID)
			queryErrors.WithLabelValues("insert").Inc()
			return graph.Attributes{}, err
		}
	}
	mutationTotal.WithLabelValues("insert").Inc()
	return stored.Attrs.Clone(), nil
}

// InsertLinkedNodes runs InsertLinkedNode for each record in order under
// one write lock, stopping at the first error.
func (e *Engine) InsertLinkedNodes(records []LinkedNode) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, r := range records {
		if _, err := e.insertLinkedNode(r.Parent, r.Node, r.LinkType); err != nil {
			return i, fmt.Errorf("record %d: %w", i, err)
		}
	}
	return len(records), nil
}

// LinkedNode is one input to InsertLinkedNodes.
type LinkedNode struct {
	Parent   graph.Attributes
	Node     graph.Attributes
	LinkType graph.LinkType
}

// InsertPatterns merges each pattern into the graph. Nodes and links that
// already exist are kept as they are.
//
// Outputs:
//
//	nodes, links - Counts of new elements.
func (e *Engine) InsertPatterns(patterns []*graph.Graph) (nodes, links int, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, p := range patterns {
		n, l, err := e.g.Merge(p)
		nodes += n
		links += l
		if err != nil {
			queryErrors.WithLabelValues("insert_patterns").Inc()
			return nodes, links, fmt.Errorf("pattern %d: %w", i, err)
		}
	}
	mutationTotal.WithLabelValues("insert_patterns").Add(float64(len(patterns)))
	e.logger.Debug("Inserted patterns", "patterns", len(patterns), "nodes", nodes, "links", links)
	return nodes, links, nil
}

// DeletePatterns removes every node of each pattern from the graph, with
// the links touching them. Unknown nodes are ignored.
//
// Outputs:
//
//	int - Number of nodes removed.
func (e *Engine) DeletePatterns(patterns []*graph.Graph) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	var ids []string
	for _, p := range patterns {
		ids = append(ids, p.NodeIDs()...)
	}
	removed := e.g.RemoveNodes(ids)
	mutationTotal.WithLabelValues("delete_patterns").Add(float64(len(patterns)))
	e.logger.Debug("Deleted patterns", "patterns", len(patterns), "nodes_removed", removed)
	return removed
}

// HubNodes returns the zero in-degree node IDs of each pattern, in pattern
// order and then node order.
func HubNodes(patterns []*graph.Graph) []string {
	var hubs []string
	for _, p := range patterns {
		hubs = append(hubs, p.HubNodes()...)
	}
	return hubs
}

// NodeAttributes returns a copy of a node's attributes, restricted to keys
// when any are given.
func (e *Engine) NodeAttributes(id string, keys ...string) (graph.Attributes, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	n, ok := e.g.GetNode(id)
	if !ok {
		return graph.Attributes{}, false
	}
	if len(keys) == 0 {
		return n.Attrs.Clone(), true
	}
	return n.Attrs.Select(keys...), true
}

// Score returns the chain similarity of two patterns, in [0, 1].
func (e *Engine) Score(p1, p2 *graph.Graph) (float64, error) {
	return sequence.Similarity(p1, p2, e.ranker.LinkType())
}

// ScoreSequence returns the similarity of a raw utterance sequence to a
// pattern's chain.
func (e *Engine) ScoreSequence(seq []string, p *graph.Graph) (float64, error) {
	return sequence.SimilarityToSequence(seq, p, e.ranker.LinkType())
}

// BestMatch returns the candidate whose chain is most similar to target's.
// Ties go to the earliest candidate; ok is false only without candidates.
func (e *Engine) BestMatch(ctx context.Context, target *graph.Graph, candidates []*graph.Graph) (sequence.Ranked, bool, error) {
	return e.ranker.BestMatch(ctx, target, candidates)
}

// Rank scores every candidate against target, in input order.
func (e *Engine) Rank(ctx context.Context, target *graph.Graph, candidates []*graph.Graph) ([]sequence.Ranked, error) {
	return e.ranker.RankAll(ctx, target, candidates)
}

// Do runs fn with exclusive access to the graph. Mutations made by fn are
// visible to later queries; fn must not retain g.
func (e *Engine) Do(fn func(g *graph.Graph) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(e.g)
}

// View runs fn with shared read access to the graph. fn must not mutate or
// retain g.
func (e *Engine) View(fn func(g *graph.Graph) error) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return fn(e.g)
}

// Replace swaps in a new graph, e.g. after a reload, and drops cached
// results. The engine takes ownership of g.
func (e *Engine) Replace(g *graph.Graph) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.g = g
	e.cache.purge()
	mutationTotal.WithLabelValues("replace").Inc()
	e.logger.Info("Memory graph replaced", "nodes", g.NodeCount(), "links", g.LinkCount())
}

// Graph returns a deep copy of the memory graph.
func (e *Engine) Graph() *graph.Graph {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.g.Clone()
}

// Stats returns graph statistics.
func (e *Engine) Stats() graph.GraphStats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.g.Stats()
}

// CacheStats returns result cache statistics.
func (e *Engine) CacheStats() CacheStats {
	return e.cache.stats()
}
