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
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/memnet/services/memnet/graph"
	"github.com/AleutianAI/memnet/services/memnet/query"
	"github.com/AleutianAI/memnet/services/memnet/storage/badger"
)

func init() {
	// Set Gin to test mode to reduce noise
	gin.SetMode(gin.TestMode)
}

const kitchenRecords = `{"records": [
  {"node_attributes": {"uuid": "a1", "type": "action", "memory": "stm", "utterances": ["hand over"]}},
  {"node_attributes": {"uuid": "o1", "type": "object", "memory": "stm", "utterances": ["glass"]},
   "parent_attributes": {"uuid": "a1"}, "link": "has_part"},
  {"node_attributes": {"uuid": "a2", "type": "action", "memory": "stm", "utterances": ["pour"]}},
  {"node_attributes": {"uuid": "o2", "type": "object", "memory": "stm", "utterances": ["glass"]},
   "parent_attributes": {"uuid": "a2"}, "link": "has_part"},
  {"node_attributes": {"uuid": "o3", "type": "object", "memory": "ltm", "utterances": ["glass"]}}
]}`

func setupTestRouter(t *testing.T, cfg RouterConfig) (*gin.Engine, *Handlers) {
	t.Helper()
	e := query.New(query.DefaultConfig())
	h := NewHandlers(e, nil)
	return NewRouter(cfg, h), h
}

func do(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func kitchenRouter(t *testing.T) (*gin.Engine, *Handlers) {
	t.Helper()
	router, h := setupTestRouter(t, RouterConfig{})
	w := do(t, router, http.MethodPost, "/v1/memnet/records", kitchenRecords)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp InsertResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 5, resp.Nodes)
	return router, h
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestHandlers_HandleHealth(t *testing.T) {
	router, _ := kitchenRouter(t)

	w := do(t, router, http.MethodGet, "/v1/memnet/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[HealthResponse](t, w)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, ServiceVersion, resp.Version)
	assert.Equal(t, 5, resp.Nodes)
}

func TestHandlers_HandleQuery(t *testing.T) {
	router, _ := kitchenRouter(t)

	t.Run("short-term objects", func(t *testing.T) {
		w := do(t, router, http.MethodPost, "/v1/memnet/query",
			`{"role": "object", "tier": "stm", "filters": {"object-filters": {"utterances": ["glass"]}}}`)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		resp := decode[PatternsResponse](t, w)
		assert.Equal(t, 2, resp.Count)
		assert.Equal(t, []string{"o1", "o2"}, resp.Hubs)
	})

	t.Run("action with object", func(t *testing.T) {
		w := do(t, router, http.MethodPost, "/v1/memnet/query", `{"role": "action", "tier": "stm", "filters": {
			"action-filters": {"utterances": ["hand over"]},
			"object-filters": {"utterances": ["glass"]}}}`)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		resp := decode[PatternsResponse](t, w)
		require.Equal(t, 1, resp.Count)
		assert.Equal(t, []string{"a1"}, resp.Hubs)
		assert.Len(t, resp.Patterns[0].Nodes, 2)
		assert.Equal(t, []Link{{From: "a1", To: "o1", Type: graph.LinkHasPart}}, resp.Patterns[0].Links)
	})

	t.Run("errors", func(t *testing.T) {
		tests := []struct {
			name string
			body string
			code string
		}{
			{"malformed json", `{"role":`, "INVALID_REQUEST"},
			{"missing role", `{"filters": {}}`, "INVALID_REQUEST"},
			{"unknown role", `{"role": "verb", "filters": {}}`, "INVALID_REQUEST"},
			{"unknown tier", `{"role": "object", "tier": "forever", "filters": {}}`, "INVALID_REQUEST"},
			{"bad filter key", `{"role": "object", "filters": {"colour-filters": {}}}`, "INVALID_REQUEST"},
		}
		for _, tc := range tests {
			t.Run(tc.name, func(t *testing.T) {
				w := do(t, router, http.MethodPost, "/v1/memnet/query", tc.body)
				assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
				assert.Equal(t, tc.code, decode[ErrorResponse](t, w).Code)
			})
		}
	})
}

func TestHandlers_HandleNodes(t *testing.T) {
	router, _ := kitchenRouter(t)

	w := do(t, router, http.MethodPost, "/v1/memnet/nodes",
		`{"tier": "ltm", "filters": {"object-filters": {"utterances": ["glass"]}}}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[PatternsResponse](t, w)
	assert.Equal(t, []string{"o3"}, resp.Hubs)
}

func TestHandlers_HandleInsertRecords_Invalid(t *testing.T) {
	router, _ := setupTestRouter(t, RouterConfig{})

	tests := []struct {
		name string
		body string
	}{
		{"no records", `{"records": []}`},
		{"empty node", `{"records": [{"node_attributes": {}}]}`},
		{"parent without link", `{"records": [{"node_attributes": {"uuid": "x"}, "parent_attributes": {"uuid": "y"}}]}`},
		{"bad role", `{"records": [{"node_attributes": {"uuid": "x", "type": "verb"}}]}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := do(t, router, http.MethodPost, "/v1/memnet/records", tc.body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}
}

func TestHandlers_PatternsRoundTrip(t *testing.T) {
	router, h := kitchenRouter(t)

	w := do(t, router, http.MethodPost, "/v1/memnet/query",
		`{"role": "action", "filters": {"action-filters": {"utterances": ["pour"]}}}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	found := decode[PatternsResponse](t, w)
	require.Equal(t, 1, found.Count)

	body, err := json.Marshal(PatternsRequest{Patterns: found.Patterns})
	require.NoError(t, err)

	w = do(t, router, http.MethodPost, "/v1/memnet/patterns/delete", string(body))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 2, decode[DeleteResponse](t, w).Deleted)
	assert.Equal(t, 3, h.engine.Stats().NodeCount)

	w = do(t, router, http.MethodPost, "/v1/memnet/patterns", string(body))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	ins := decode[InsertResponse](t, w)
	assert.Equal(t, 2, ins.Nodes)
	assert.Equal(t, 1, ins.Links)
	assert.True(t, h.engine.Graph().HasLink("a2", "o2", graph.LinkHasPart))

	t.Run("bad link", func(t *testing.T) {
		w := do(t, router, http.MethodPost, "/v1/memnet/patterns",
			`{"patterns": [{"nodes": [{"uuid": "z"}], "links": [{"from": "z", "to": "missing", "type": "has_part"}]}]}`)
		assert.Equal(t, http.StatusNotFound, w.Code, w.Body.String())
	})
}

func TestHandlers_HandleParents(t *testing.T) {
	router, h := kitchenRouter(t)
	require.NoError(t, h.engine.Do(func(g *graph.Graph) error {
		if _, err := g.AddNode(graph.MustAttrs("uuid", "container", "type", "object", "memory", "ltm")); err != nil {
			return err
		}
		_, err := g.AddLink("container", "o1", graph.LinkSpecTo)
		return err
	}))

	w := do(t, router, http.MethodPost, "/v1/memnet/parents",
		`{"patterns": [{"nodes": [{"uuid": "o1", "type": "object"}]}]}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[ParentsResponse](t, w)
	require.Len(t, resp.Ancestors, 1)
	assert.Equal(t, "o1", resp.Ancestors[0].Hub)
	root, _ := resp.Ancestors[0].Root.String(graph.KeyID)
	assert.Equal(t, "container", root)
	assert.Len(t, resp.Ancestors[0].Chain.Nodes, 2)

	t.Run("ambiguous", func(t *testing.T) {
		require.NoError(t, h.engine.Do(func(g *graph.Graph) error {
			if _, err := g.AddNode(graph.MustAttrs("uuid", "tableware", "type", "object")); err != nil {
				return err
			}
			_, err := g.AddLink("tableware", "o1", graph.LinkSpecTo)
			return err
		}))
		w := do(t, router, http.MethodPost, "/v1/memnet/parents",
			`{"patterns": [{"nodes": [{"uuid": "o1", "type": "object"}]}]}`)
		assert.Equal(t, http.StatusConflict, w.Code, w.Body.String())
		assert.Equal(t, "AMBIGUOUS_ANCESTOR", decode[ErrorResponse](t, w).Code)
	})
}

const chains = `"candidates": [
  {"nodes": [{"uuid": "a-open", "type": "action", "utterances": ["open"]}]},
  {"nodes": [{"uuid": "b-grasp", "type": "action", "utterances": ["grasp"]},
             {"uuid": "b-pour", "type": "action", "utterances": ["pour"]}],
   "links": [{"from": "b-grasp", "to": "b-pour", "type": "has_next"}]}
]`

func TestHandlers_HandleScore(t *testing.T) {
	router, _ := setupTestRouter(t, RouterConfig{})

	t.Run("target", func(t *testing.T) {
		w := do(t, router, http.MethodPost, "/v1/memnet/score", `{"target":
			{"nodes": [{"uuid": "t-grasp", "type": "action", "utterances": ["grasp"]},
			           {"uuid": "t-lift", "type": "action", "utterances": ["lift"]},
			           {"uuid": "t-pour", "type": "action", "utterances": ["pour"]}],
			 "links": [{"from": "t-grasp", "to": "t-lift", "type": "has_next"},
			           {"from": "t-lift", "to": "t-pour", "type": "has_next"}]}, `+chains+`}`)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		resp := decode[ScoreResponse](t, w)
		require.Len(t, resp.Scores, 2)
		assert.Equal(t, 1, resp.Best)
		assert.Greater(t, resp.Scores[1].Score, resp.Scores[0].Score)
	})

	t.Run("sequence", func(t *testing.T) {
		w := do(t, router, http.MethodPost, "/v1/memnet/score", `{"sequence": ["grasp", "pour"], `+chains+`}`)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		resp := decode[ScoreResponse](t, w)
		assert.Equal(t, 1, resp.Best)
		assert.Equal(t, 1.0, resp.Scores[1].Score)
	})

	t.Run("neither", func(t *testing.T) {
		w := do(t, router, http.MethodPost, "/v1/memnet/score", `{`+chains+`}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("both", func(t *testing.T) {
		w := do(t, router, http.MethodPost, "/v1/memnet/score",
			`{"sequence": ["open"], "target": {"nodes": [{"uuid": "t"}]}, `+chains+`}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestHandlers_Exports(t *testing.T) {
	router, _ := kitchenRouter(t)

	t.Run("stats", func(t *testing.T) {
		w := do(t, router, http.MethodGet, "/v1/memnet/stats", "")
		require.Equal(t, http.StatusOK, w.Code)
		resp := decode[StatsResponse](t, w)
		assert.Equal(t, 5, resp.Graph.NodeCount)
		assert.Equal(t, 2, resp.Graph.LinkCount)
	})

	t.Run("gml", func(t *testing.T) {
		w := do(t, router, http.MethodGet, "/v1/memnet/graph.gml", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.True(t, strings.HasPrefix(w.Body.String(), "graph ["))
		assert.Contains(t, w.Body.String(), `label "a1"`)
	})

	t.Run("dot", func(t *testing.T) {
		w := do(t, router, http.MethodGet, "/v1/memnet/graph.dot", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "digraph")
	})

	t.Run("mermaid", func(t *testing.T) {
		w := do(t, router, http.MethodGet, "/v1/memnet/graph.dot?format=mermaid", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "flowchart TB")
	})

	t.Run("unknown format", func(t *testing.T) {
		w := do(t, router, http.MethodGet, "/v1/memnet/graph.dot?format=svg", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "UNSUPPORTED_FORMAT", decode[ErrorResponse](t, w).Code)
	})

	t.Run("metrics", func(t *testing.T) {
		w := do(t, router, http.MethodGet, "/metrics", "")
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestHandlers_HandleSnapshot(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		router, _ := setupTestRouter(t, RouterConfig{})
		w := do(t, router, http.MethodPost, "/v1/memnet/snapshot", "")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("saved", func(t *testing.T) {
		db, err := badger.OpenInMemory()
		require.NoError(t, err)
		defer db.Close()
		store := badger.NewSnapshotStore(db, nil)

		router, h := kitchenRouter(t)
		h.WithSnapshots(store, "default")

		w := do(t, router, http.MethodPost, "/v1/memnet/snapshot", "")
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		resp := decode[SnapshotResponse](t, w)
		assert.Equal(t, "default", resp.Name)
		assert.Equal(t, 5, resp.Nodes)

		w = do(t, router, http.MethodPost, "/v1/memnet/snapshot?name=a/b", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestRateLimit(t *testing.T) {
	router, _ := setupTestRouter(t, RouterConfig{RateLimit: 0.001, Burst: 1})

	w := do(t, router, http.MethodGet, "/v1/memnet/health", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, router, http.MethodGet, "/v1/memnet/health", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Equal(t, "RATE_LIMITED", decode[ErrorResponse](t, w).Code)
}
