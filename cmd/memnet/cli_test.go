// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/memnet/services/memnet/api"
)

const kitchenRecords = `[
  {"node_attributes": {"uuid": "a1", "type": "action", "memory": "stm", "utterances": ["hand over"]}},
  {"node_attributes": {"uuid": "o1", "type": "object", "memory": "stm", "utterances": ["glass"]},
   "parent_attributes": {"uuid": "a1"}, "link": "has_part"},
  {"node_attributes": {"uuid": "a2", "type": "action", "memory": "stm", "utterances": ["pour"]}},
  {"node_attributes": {"uuid": "o2", "type": "object", "memory": "stm", "utterances": ["glass"]},
   "parent_attributes": {"uuid": "a2"}, "link": "has_part"},
  {"node_attributes": {"uuid": "o3", "type": "object", "memory": "ltm", "utterances": ["glass"]}}
]`

const hierarchy = `- name: cup.n.01
  pos: n
  lemmas: [cup]
- name: mug.n.01
  pos: n
  lemmas: [mug]
  hypernyms: [cup.n.01]
`

// run executes one CLI invocation and returns its stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd, a := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"--log-level", "error"}, args...))
	err := cmd.Execute()
	require.NoError(t, a.close())
	return out.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func loadedStore(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	store := filepath.Join(dir, "db")
	records := writeFile(t, dir, "kitchen.json", kitchenRecords)

	out, err := run(t, "--store", store, "load", records)
	require.NoError(t, err)
	assert.Contains(t, out, "loaded 5 nodes")
	return store
}

func TestCLI_LoadPersistsAcrossRuns(t *testing.T) {
	store := loadedStore(t)

	out, err := run(t, "--store", store, "stats")
	require.NoError(t, err)

	var stats api.StatsResponse
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, 5, stats.Graph.NodeCount)
	assert.Equal(t, 2, stats.Graph.LinkCount)
}

func TestCLI_Query(t *testing.T) {
	store := loadedStore(t)

	t.Run("stm objects", func(t *testing.T) {
		out, err := run(t, "--store", store, "query", "object", "--tier", "stm")
		require.NoError(t, err)

		var resp api.PatternsResponse
		require.NoError(t, json.Unmarshal([]byte(out), &resp))
		assert.Equal(t, 2, resp.Count)
		assert.ElementsMatch(t, []string{"o1", "o2"}, resp.Hubs)
	})

	t.Run("raw ltm", func(t *testing.T) {
		out, err := run(t, "--store", store, "query", "object", "--raw", "--tier", "ltm")
		require.NoError(t, err)

		var resp api.PatternsResponse
		require.NoError(t, json.Unmarshal([]byte(out), &resp))
		assert.Equal(t, []string{"o3"}, resp.Hubs)
	})

	t.Run("unknown role", func(t *testing.T) {
		_, err := run(t, "--store", store, "query", "weather")
		assert.Error(t, err)
	})

	t.Run("bad filters", func(t *testing.T) {
		_, err := run(t, "--store", store, "query", "object", "--filters", "{not json")
		assert.Error(t, err)
	})
}

func TestCLI_Export(t *testing.T) {
	store := loadedStore(t)

	out, err := run(t, "--store", store, "export")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "graph ["), out)
	assert.Contains(t, out, `label "o3"`)

	// The exported GML loads back into a fresh store.
	dir := t.TempDir()
	gml := writeFile(t, dir, "memory.gml", out)
	out, err = run(t, "--store", filepath.Join(dir, "db"), "load", gml)
	require.NoError(t, err)
	assert.Contains(t, out, "graph has 5 nodes, 2 links")
}

func TestCLI_Render(t *testing.T) {
	store := loadedStore(t)

	out, err := run(t, "--store", store, "render", "--format", "mermaid")
	require.NoError(t, err)
	assert.Contains(t, out, "flowchart TB")

	_, err = run(t, "--store", store, "render", "--format", "svg")
	assert.Error(t, err)
}

func TestCLI_Import(t *testing.T) {
	dir := t.TempDir()
	store := filepath.Join(dir, "db")
	path := writeFile(t, dir, "hierarchy.yaml", hierarchy)

	out, err := run(t, "--store", store, "import", path)
	require.NoError(t, err)
	assert.Contains(t, out, "imported")

	out, err = run(t, "--store", store, "stats")
	require.NoError(t, err)
	var stats api.StatsResponse
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, 2, stats.Graph.NodeCount)
}

func TestCLI_Snapshot(t *testing.T) {
	store := loadedStore(t)

	out, err := run(t, "--store", store, "snapshot", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "default")

	_, err = run(t, "--store", store, "--snapshot", "nightly", "snapshot", "save")
	require.NoError(t, err)

	out, err = run(t, "--store", store, "snapshot", "delete", "nightly")
	require.NoError(t, err)
	assert.Contains(t, out, "deleted nightly")

	_, err = run(t, "--store", store, "snapshot", "delete", "nightly")
	assert.Error(t, err)
}

func TestCLI_SnapshotWithoutStore(t *testing.T) {
	_, err := run(t, "snapshot", "list")
	assert.ErrorIs(t, err, errNoStore)
}

func TestCLI_LoadUnknownExtension(t *testing.T) {
	path := writeFile(t, t.TempDir(), "memory.txt", "nothing")
	_, err := run(t, "load", path)
	assert.Error(t, err)
}
