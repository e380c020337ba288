// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package api exposes a memory graph engine over HTTP.
package api

import (
	"bytes"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/memnet/services/memnet/codec"
	"github.com/AleutianAI/memnet/services/memnet/graph"
	"github.com/AleutianAI/memnet/services/memnet/query"
	"github.com/AleutianAI/memnet/services/memnet/sequence"
	"github.com/AleutianAI/memnet/services/memnet/storage/badger"
	"github.com/AleutianAI/memnet/services/memnet/telemetry"
	"github.com/AleutianAI/memnet/services/memnet/visualization"
)

// ServiceVersion is reported by the health endpoint.
const ServiceVersion = "0.1.0"

// Handlers serves the /v1/memnet endpoints.
//
// Thread Safety: Safe for concurrent use. All graph access goes through
// the engine's lock.
type Handlers struct {
	engine    *query.Engine
	snapshots *badger.SnapshotStore
	snapshot  string
	renderer  *visualization.Renderer
	logger    *slog.Logger
}

// NewHandlers creates handlers over engine.
func NewHandlers(engine *query.Engine, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		engine:   engine,
		renderer: visualization.NewRenderer(nil),
		logger:   logger,
	}
}

// WithSnapshots enables POST /snapshot, saving under name.
func (h *Handlers) WithSnapshots(store *badger.SnapshotStore, name string) *Handlers {
	h.snapshots = store
	h.snapshot = name
	return h
}

// getOrCreateRequestID gets or creates a request ID.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}

func (h *Handlers) requestLogger(c *gin.Context, handler string) *slog.Logger {
	return telemetry.LoggerWithTrace(c.Request.Context(), h.logger).
		With("request_id", getOrCreateRequestID(c), "handler", handler)
}

func badRequest(c *gin.Context, logger *slog.Logger, err error) {
	logger.Warn("Invalid request body", "error", err)
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error: err.Error(),
		Code:  "INVALID_REQUEST",
	})
}

func fail(c *gin.Context, logger *slog.Logger, msg string, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error(msg, "error", err)
	} else {
		logger.Warn(msg, "error", err)
	}
	c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
}

func respondPatterns(c *gin.Context, patterns []*graph.Graph) {
	hubs := query.HubNodes(patterns)
	if hubs == nil {
		hubs = []string{}
	}
	c.JSON(http.StatusOK, PatternsResponse{
		Count:    len(patterns),
		Patterns: patternsFromGraphs(patterns),
		Hubs:     hubs,
	})
}

// HandleQuery handles POST /v1/memnet/query.
//
// Description:
//
//	Runs one entry of the role × tier query table and returns the full
//	patterns around every matching hub.
//
// Response:
//
//	200 OK: PatternsResponse
//	400 Bad Request: Unknown selector or invalid filters
//	504 Gateway Timeout: Search deadline exceeded
func (h *Handlers) HandleQuery(c *gin.Context) {
	logger := h.requestLogger(c, "HandleQuery")

	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, logger, err)
		return
	}
	sel, err := query.ParseSelector(req.Role, req.Tier)
	if err != nil {
		fail(c, logger, "Bad selector", err)
		return
	}

	patterns, err := h.engine.Find(c.Request.Context(), sel, req.Filters)
	if err != nil {
		fail(c, logger, "Query failed", err)
		return
	}
	logger.Info("Query served", "selector", sel.String(), "patterns", len(patterns))
	respondPatterns(c, patterns)
}

// HandleNodes handles POST /v1/memnet/nodes. It returns the raw matches
// without expansion.
func (h *Handlers) HandleNodes(c *gin.Context) {
	logger := h.requestLogger(c, "HandleNodes")

	var req NodesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, logger, err)
		return
	}
	tier, err := graph.ParseTier(req.Tier)
	if err != nil {
		fail(c, logger, "Bad tier", err)
		return
	}
	matches, err := h.engine.GetNodes(c.Request.Context(), req.Filters, tier)
	if err != nil {
		fail(c, logger, "Node lookup failed", err)
		return
	}
	respondPatterns(c, matches)
}

// HandleInsertRecords handles POST /v1/memnet/records.
//
// Description:
//
//	Inserts nodes in order, each optionally linked under a parent located
//	by attribute match. Records before the first failure stay inserted.
//
// Response:
//
//	200 OK: InsertResponse
//	400 Bad Request: Invalid record; the error names its index
func (h *Handlers) HandleInsertRecords(c *gin.Context) {
	logger := h.requestLogger(c, "HandleInsertRecords")

	var req RecordsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, logger, err)
		return
	}
	batch := make([]query.LinkedNode, len(req.Records))
	for i, r := range req.Records {
		if err := r.validate(); err != nil {
			badRequest(c, logger, err)
			return
		}
		batch[i] = r.linkedNode()
	}

	n, err := h.engine.InsertLinkedNodes(batch)
	if err != nil {
		fail(c, logger, "Insert failed", err)
		return
	}
	logger.Info("Records inserted", "records", n)
	c.JSON(http.StatusOK, InsertResponse{Nodes: n, Revision: h.engine.Stats().Revision})
}

// HandleInsertPatterns handles POST /v1/memnet/patterns.
func (h *Handlers) HandleInsertPatterns(c *gin.Context) {
	logger := h.requestLogger(c, "HandleInsertPatterns")

	patterns, ok := h.bindPatterns(c, logger)
	if !ok {
		return
	}
	nodes, links, err := h.engine.InsertPatterns(patterns)
	if err != nil {
		fail(c, logger, "Pattern insert failed", err)
		return
	}
	c.JSON(http.StatusOK, InsertResponse{Nodes: nodes, Links: links, Revision: h.engine.Stats().Revision})
}

// HandleDeletePatterns handles POST /v1/memnet/patterns/delete. Every node
// of every pattern is removed with its links.
func (h *Handlers) HandleDeletePatterns(c *gin.Context) {
	logger := h.requestLogger(c, "HandleDeletePatterns")

	patterns, ok := h.bindPatterns(c, logger)
	if !ok {
		return
	}
	removed := h.engine.DeletePatterns(patterns)
	logger.Info("Patterns deleted", "patterns", len(patterns), "nodes_removed", removed)
	c.JSON(http.StatusOK, DeleteResponse{Deleted: removed, Revision: h.engine.Stats().Revision})
}

// HandleParents handles POST /v1/memnet/parents.
//
// Response:
//
//	200 OK: ParentsResponse
//	404 Not Found: A hub is not in the memory graph
//	409 Conflict: A hub reaches more than one terminal ancestor
//	422 Unprocessable Entity: The spec_to walk is cyclic
func (h *Handlers) HandleParents(c *gin.Context) {
	logger := h.requestLogger(c, "HandleParents")

	patterns, ok := h.bindPatterns(c, logger)
	if !ok {
		return
	}
	ancestry, err := h.engine.Parents(c.Request.Context(), patterns)
	if err != nil {
		fail(c, logger, "Parents failed", err)
		return
	}
	resp := ParentsResponse{Ancestors: make([]AncestryResponse, len(ancestry))}
	for i, a := range ancestry {
		resp.Ancestors[i] = AncestryResponse{Hub: a.Hub, Root: a.Root}
		if a.Chain != nil {
			resp.Ancestors[i].Chain = PatternFromGraph(a.Chain)
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handlers) bindPatterns(c *gin.Context, logger *slog.Logger) ([]*graph.Graph, bool) {
	var req PatternsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, logger, err)
		return nil, false
	}
	patterns, err := graphsFromPatterns(req.Patterns)
	if err != nil {
		fail(c, logger, "Bad pattern", err)
		return nil, false
	}
	return patterns, true
}

// HandleScore handles POST /v1/memnet/score.
//
// Description:
//
//	Scores each candidate's has_next chain against either a target
//	pattern or a raw utterance sequence. Best is the first candidate with
//	the highest score.
//
// Response:
//
//	200 OK: ScoreResponse
//	400 Bad Request: Neither or both of target and sequence given
func (h *Handlers) HandleScore(c *gin.Context) {
	logger := h.requestLogger(c, "HandleScore")

	var req ScoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, logger, err)
		return
	}
	if req.Target != nil && len(req.Sequence) > 0 {
		badRequest(c, logger, ErrInvalidRequest)
		return
	}
	candidates, err := graphsFromPatterns(req.Candidates)
	if err != nil {
		fail(c, logger, "Bad candidate", err)
		return
	}

	var ranked []sequence.Ranked
	if req.Target != nil {
		target, err := req.Target.Graph()
		if err != nil {
			fail(c, logger, "Bad target", err)
			return
		}
		ranked, err = h.engine.Rank(c.Request.Context(), target, candidates)
		if err != nil {
			fail(c, logger, "Scoring failed", err)
			return
		}
	} else {
		ranked = make([]sequence.Ranked, len(candidates))
		for i, p := range candidates {
			score, err := h.engine.ScoreSequence(req.Sequence, p)
			if err != nil {
				fail(c, logger, "Scoring failed", err)
				return
			}
			ranked[i] = sequence.Ranked{Index: i, Pattern: p, Score: score}
		}
	}

	resp := ScoreResponse{Scores: make([]ScoredCandidate, len(ranked))}
	for i, r := range ranked {
		resp.Scores[i] = ScoredCandidate{Index: r.Index, Score: r.Score}
	}
	if best, ok := sequence.Best(ranked); ok {
		resp.Best = best.Index
	}
	c.JSON(http.StatusOK, resp)
}

// HandleStats handles GET /v1/memnet/stats.
func (h *Handlers) HandleStats(c *gin.Context) {
	c.JSON(http.StatusOK, StatsResponse{
		Graph: h.engine.Stats(),
		Cache: h.engine.CacheStats(),
	})
}

// HandleHealth handles GET /v1/memnet/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: ServiceVersion,
		Nodes:   h.engine.Stats().NodeCount,
	})
}

// HandleGraphGML handles GET /v1/memnet/graph.gml.
func (h *Handlers) HandleGraphGML(c *gin.Context) {
	logger := h.requestLogger(c, "HandleGraphGML")

	var buf bytes.Buffer
	err := h.engine.View(func(g *graph.Graph) error {
		return codec.WriteGML(&buf, g)
	})
	if err != nil {
		fail(c, logger, "GML export failed", err)
		return
	}
	c.Data(http.StatusOK, "text/plain; charset=utf-8", buf.Bytes())
}

// HandleGraphDOT handles GET /v1/memnet/graph.dot. The query parameter
// format selects dot (default), mermaid or d3.
func (h *Handlers) HandleGraphDOT(c *gin.Context) {
	logger := h.requestLogger(c, "HandleGraphDOT")

	format := visualization.OutputFormat(c.DefaultQuery("format", string(visualization.FormatDOT)))
	out, err := h.renderer.Render(c.Request.Context(), []*graph.Graph{h.engine.Graph()}, format)
	if err != nil {
		fail(c, logger, "Render failed", err)
		return
	}
	contentType := "text/vnd.graphviz; charset=utf-8"
	switch format {
	case visualization.FormatMermaid:
		contentType = "text/plain; charset=utf-8"
	case visualization.FormatD3:
		contentType = "application/json"
	}
	c.Data(http.StatusOK, contentType, []byte(out))
}

// HandleSnapshot handles POST /v1/memnet/snapshot.
//
// Response:
//
//	200 OK: SnapshotResponse
//	503 Service Unavailable: No snapshot store configured
func (h *Handlers) HandleSnapshot(c *gin.Context) {
	logger := h.requestLogger(c, "HandleSnapshot")

	if h.snapshots == nil {
		fail(c, logger, "Snapshot rejected", ErrSnapshotsDisabled)
		return
	}
	name := c.DefaultQuery("name", h.snapshot)
	info, err := h.snapshots.Save(c.Request.Context(), name, h.engine.Graph())
	if err != nil {
		fail(c, logger, "Snapshot failed", err)
		return
	}
	logger.Info("Snapshot saved", "name", info.Name, "nodes", info.Nodes)
	c.JSON(http.StatusOK, SnapshotResponse{
		Name:     info.Name,
		Nodes:    info.Nodes,
		Links:    info.Links,
		Revision: info.Revision,
	})
}
