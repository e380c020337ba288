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
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/memnet/services/memnet/api"
	"github.com/AleutianAI/memnet/services/memnet/codec"
	"github.com/AleutianAI/memnet/services/memnet/graph"
	"github.com/AleutianAI/memnet/services/memnet/pattern"
	"github.com/AleutianAI/memnet/services/memnet/query"
	"github.com/AleutianAI/memnet/services/memnet/sequence"
	"github.com/AleutianAI/memnet/services/memnet/visualization"
)

// queryFlags are shared by query, parents and render.
type queryFlags struct {
	tier    string
	filters string
}

func (q *queryFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&q.tier, "tier", "t", "", "Memory tier: stm, mtm, ltm (default untagged)")
	cmd.Flags().StringVarP(&q.filters, "filters", "f", "", `Role filters as JSON, e.g. '{"object-filters":{"utterances":["mug"]}}' (default: an empty ROLE filter)`)
}

func (q *queryFlags) request(role graph.Role) (pattern.Request, error) {
	req := pattern.Request{}
	if strings.TrimSpace(q.filters) == "" {
		req[string(role)+"-filters"] = graph.NewAttributes(0)
		return req, nil
	}
	if err := json.Unmarshal([]byte(q.filters), &req); err != nil {
		return nil, fmt.Errorf("parse --filters: %w", err)
	}
	return req, nil
}

// find runs the selector query for role with the parsed flags.
func (q *queryFlags) find(a *app, cmd *cobra.Command, role string) ([]*graph.Graph, error) {
	sel, err := query.ParseSelector(role, q.tier)
	if err != nil {
		return nil, err
	}
	req, err := q.request(sel.Role)
	if err != nil {
		return nil, err
	}
	return a.engine.Find(cmd.Context(), sel, req)
}

func newQueryCmd(a *app) *cobra.Command {
	var (
		qf  queryFlags
		raw bool
	)
	cmd := &cobra.Command{
		Use:   "query ROLE",
		Short: "Find full patterns for a role and tier",
		Long: `Find every pattern matching the filters and return the expanded
pattern around each hub of the requested role.

ROLE is one of: action, object, tool, location, time, agent.

A node matches a filter on the first key both share, role excluded, so a
query needs --tier or at least one filter attribute to match anything.

Examples:
  memnet query object --tier stm
  memnet query action -f '{"action-filters":{"utterances":["pour"]},"object-filters":{}}'
  memnet query object --raw --tier ltm`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				patterns []*graph.Graph
				err      error
			)
			if raw {
				sel, perr := query.ParseSelector(args[0], qf.tier)
				if perr != nil {
					return perr
				}
				req, rerr := qf.request(sel.Role)
				if rerr != nil {
					return rerr
				}
				patterns, err = a.engine.GetNodes(cmd.Context(), req, sel.Tier)
			} else {
				patterns, err = qf.find(a, cmd, args[0])
			}
			if err != nil {
				return err
			}
			resp := api.PatternsResponse{
				Count:    len(patterns),
				Patterns: make([]api.Pattern, len(patterns)),
				Hubs:     query.HubNodes(patterns),
			}
			for i, p := range patterns {
				resp.Patterns[i] = api.PatternFromGraph(p)
			}
			return writeJSON(cmd.OutOrStdout(), resp)
		},
	}
	qf.register(cmd)
	cmd.Flags().BoolVar(&raw, "raw", false, "Return raw matches without pattern expansion")
	return cmd
}

func newParentsCmd(a *app) *cobra.Command {
	var qf queryFlags
	cmd := &cobra.Command{
		Use:   "parents ROLE",
		Short: "Walk spec_to ancestry above query hubs",
		Long: `Run a query, then follow spec_to links upward from each hub of the
result to its single terminal ancestor.

Examples:
  memnet parents object -f '{"object-filters":{"utterances":["mug"]}}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patterns, err := qf.find(a, cmd, args[0])
			if err != nil {
				return err
			}
			ancestry, err := a.engine.Parents(cmd.Context(), patterns)
			if err != nil {
				return err
			}
			resp := api.ParentsResponse{Ancestors: make([]api.AncestryResponse, len(ancestry))}
			for i, anc := range ancestry {
				resp.Ancestors[i] = api.AncestryResponse{Hub: anc.Hub, Root: anc.Root}
				if anc.Chain != nil {
					resp.Ancestors[i].Chain = api.PatternFromGraph(anc.Chain)
				}
			}
			return writeJSON(cmd.OutOrStdout(), resp)
		},
	}
	qf.register(cmd)
	return cmd
}

func newScoreCmd(a *app) *cobra.Command {
	var seq string
	cmd := &cobra.Command{
		Use:   "score [TARGET.gml] CANDIDATE.gml...",
		Short: "Compare has_next chains",
		Long: `Score the has_next utterance chain of each candidate pattern against a
target pattern, or against a comma-separated --sequence. The score is the
longest common subsequence divided by the longer length.

Examples:
  memnet score target.gml c1.gml c2.gml
  memnet score --sequence take,pour,drink c1.gml c2.gml`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			files := args
			var target *graph.Graph
			if seq == "" {
				if len(args) < 2 {
					return fmt.Errorf("need a target and at least one candidate")
				}
				t, err := readPattern(args[0])
				if err != nil {
					return err
				}
				target, files = t, args[1:]
			}

			candidates := make([]*graph.Graph, len(files))
			for i, path := range files {
				p, err := readPattern(path)
				if err != nil {
					return err
				}
				candidates[i] = p
			}

			var ranked []sequence.Ranked
			if target != nil {
				r, err := a.engine.Rank(cmd.Context(), target, candidates)
				if err != nil {
					return err
				}
				ranked = r
			} else {
				steps := strings.Split(seq, ",")
				for i, c := range candidates {
					s, err := a.engine.ScoreSequence(steps, c)
					if err != nil {
						return fmt.Errorf("%s: %w", files[i], err)
					}
					ranked = append(ranked, sequence.Ranked{Index: i, Pattern: c, Score: s})
				}
			}

			resp := api.ScoreResponse{Scores: make([]api.ScoredCandidate, len(ranked)), Best: -1}
			for i, r := range ranked {
				resp.Scores[i] = api.ScoredCandidate{Index: r.Index, Score: r.Score}
			}
			if best, ok := sequence.Best(ranked); ok {
				resp.Best = best.Index
			}
			return writeJSON(cmd.OutOrStdout(), resp)
		},
	}
	cmd.Flags().StringVar(&seq, "sequence", "", "Comma-separated utterances to score against instead of a target file")
	return cmd
}

func readPattern(path string) (*graph.Graph, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	g, err := codec.ReadGML(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return g, nil
}

func newRenderCmd(a *app) *cobra.Command {
	var (
		qf        queryFlags
		format    string
		maxNodes  int
		direction string
	)
	cmd := &cobra.Command{
		Use:   "render [ROLE]",
		Short: "Draw patterns as DOT, Mermaid or D3 JSON",
		Long: `Render the result of a query, or the whole graph when ROLE is omitted.

Examples:
  memnet render --format dot > memory.dot
  memnet render object --tier stm --format mermaid
  memnet render action --format d3 --max-nodes 50`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var patterns []*graph.Graph
			if len(args) == 0 {
				patterns = []*graph.Graph{a.engine.Graph()}
			} else {
				p, err := qf.find(a, cmd, args[0])
				if err != nil {
					return err
				}
				patterns = p
			}

			opts := visualization.DefaultOptions()
			if maxNodes > 0 {
				opts.MaxNodes = maxNodes
			}
			if direction != "" {
				opts.Direction = strings.ToUpper(direction)
			}
			out, err := visualization.NewRenderer(&opts).
				Render(cmd.Context(), patterns, visualization.OutputFormat(format))
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), out)
			return err
		},
	}
	qf.register(cmd)
	cmd.Flags().StringVar(&format, "format", string(visualization.FormatDOT), "Output format: dot, mermaid, d3")
	cmd.Flags().IntVar(&maxNodes, "max-nodes", 0, "Maximum nodes drawn per pattern (default 100)")
	cmd.Flags().StringVar(&direction, "direction", "", "Layout direction: TB, LR, BT, RL")
	return cmd
}
