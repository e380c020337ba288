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
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/memnet/services/memnet/api"
	"github.com/AleutianAI/memnet/services/memnet/codec"
	"github.com/AleutianAI/memnet/services/memnet/graph"
	"github.com/AleutianAI/memnet/services/memnet/taxonomy"
)

func newLoadCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "load FILE...",
		Short: "Bulk-load GML, JSON or YAML into the graph",
		Long: `Load files into the memory graph, in order.

A .gml file replaces the whole graph. A .json, .yaml or .yml file holds
bulk records which are inserted after whatever is already loaded:

  [{"node_attributes": {...}, "parent_attributes": {...}, "link": "has_part"}]

Examples:
  memnet load kitchen.gml
  memnet --store ~/.memnet/db load base.gml episodes.yaml`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			total := 0
			for _, path := range args {
				n, err := loadPath(a, path)
				if err != nil {
					return err
				}
				total += n
			}
			fmt.Fprintf(cmd.OutOrStdout(), "loaded %d nodes from %d file(s); graph has %d nodes, %d links\n",
				total, len(args), a.engine.Stats().NodeCount, a.engine.Stats().LinkCount)
			return a.persist(cmd.Context())
		},
	}
}

func loadPath(a *app, path string) (int, error) {
	format, err := codec.FormatFromPath(path)
	if err != nil {
		return 0, err
	}
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	n, err := codec.LoadFile(a.engine, f, format, a.logger.Slog())
	if err != nil {
		return n, fmt.Errorf("%s: %w", path, err)
	}
	return n, nil
}

func newImportCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Import a concept hierarchy",
		Long: `Import a concept hierarchy as long-term nodes linked by spec_to.

Each record names a concept, its part of speech (n or v), its lemmas and
its hypernyms:

  - name: mug.n.01
    pos: n
    lemmas: [mug]
    hypernyms: [cup.n.01]

Nouns become objects and verbs become actions; other parts of speech are
skipped. The imported graph is merged into the current one.

Examples:
  memnet import hierarchy.yaml
  memnet import hierarchy.json --limit 5000`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := codec.FormatFromPath(args[0])
			if err != nil {
				return err
			}
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			synsets, err := taxonomy.Read(f, format)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			g, err := taxonomy.Build(synsets,
				taxonomy.WithLimit(limit),
				taxonomy.WithLogger(a.logger.Slog()))
			if err != nil {
				return err
			}
			nodes, links, err := a.engine.InsertPatterns([]*graph.Graph{g})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d concepts, %d spec_to links\n", nodes, links)
			return a.persist(cmd.Context())
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of concept nodes (0 = no limit)")
	return cmd
}

func newExportCmd(a *app) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the graph as GML",
		Long: `Write the whole memory graph as GML, to stdout or --out.

Examples:
  memnet export > memory.gml
  memnet export --out memory.gml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var w io.Writer = cmd.OutOrStdout()
			if out != "" {
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			return a.engine.View(func(g *graph.Graph) error {
				return codec.WriteGML(w, g)
			})
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output file (default stdout)")
	return cmd
}

func newStatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Graph statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return writeJSON(cmd.OutOrStdout(), api.StatsResponse{
				Graph: a.engine.Stats(),
				Cache: a.engine.CacheStats(),
			})
		},
	}
}
