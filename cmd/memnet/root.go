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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/memnet/pkg/logging"
	"github.com/AleutianAI/memnet/services/memnet/config"
	"github.com/AleutianAI/memnet/services/memnet/query"
	"github.com/AleutianAI/memnet/services/memnet/storage/badger"
)

// app is the state shared by every subcommand for one invocation.
type app struct {
	// Flag values.
	configPath string
	logLevel   string
	storePath  string
	snapshot   string

	cfg    config.Config
	logger *logging.Logger
	engine *query.Engine
	db     *badger.DB
	store  *badger.SnapshotStore
}

// newRootCmd builds the command tree. The caller must call app.close after
// Execute returns, whether or not it failed.
func newRootCmd() (*cobra.Command, *app) {
	a := &app{}
	rootCmd := &cobra.Command{
		Use:   "memnet",
		Short: "Concept memory graph for action patterns",
		Long: `memnet stores concepts (actions, objects, tools, locations, times,
agents) in a typed graph and answers structural queries over it.

Subcommands:
  load      - Bulk-load GML, JSON or YAML into the graph
  import    - Import a concept hierarchy
  export    - Write the graph as GML
  query     - Find full patterns for a role and tier
  parents   - Walk spec_to ancestry above query hubs
  score     - Compare has_next chains
  stats     - Graph statistics
  render    - Draw patterns as DOT, Mermaid or D3 JSON
  serve     - Run the HTTP API
  snapshot  - Manage stored snapshots`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd.Context())
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "Path to a YAML or JSON config file")
	flags.StringVar(&a.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flags.StringVar(&a.storePath, "store", "", "BadgerDB directory for snapshots (overrides storage.path)")
	flags.StringVar(&a.snapshot, "snapshot", "", "Snapshot name to restore and save (overrides storage.snapshot)")

	rootCmd.AddCommand(
		newLoadCmd(a),
		newImportCmd(a),
		newExportCmd(a),
		newQueryCmd(a),
		newParentsCmd(a),
		newScoreCmd(a),
		newStatsCmd(a),
		newRenderCmd(a),
		newServeCmd(a),
		newSnapshotCmd(a),
	)
	return rootCmd, a
}

// setup loads configuration, applies flag overrides, builds the logger and
// engine, and restores the configured snapshot.
func (a *app) setup(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if a.storePath != "" {
		cfg.Storage.Path = a.storePath
	}
	if a.snapshot != "" {
		cfg.Storage.Snapshot = a.snapshot
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	a.logger = logging.New(logging.Config{
		Level:   level,
		Service: cfg.Telemetry.ServiceName,
		JSON:    cfg.Log.JSON || !logging.IsTerminal(os.Stderr),
		LogDir:  cfg.Log.Dir,
	})
	a.engine = query.New(cfg.ToQueryConfig(), query.WithLogger(a.logger.Slog()))

	bcfg, ok := cfg.ToBadgerConfig()
	if !ok {
		return nil
	}
	bcfg.Logger = a.logger.Slog()
	db, err := badger.Open(bcfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	a.db = db
	a.store = badger.NewSnapshotStore(db, a.logger.Slog())
	return a.restore(ctx)
}

func (a *app) restore(ctx context.Context) error {
	g, err := a.store.Load(ctx, a.cfg.Storage.Snapshot)
	if errors.Is(err, badger.ErrSnapshotNotFound) {
		a.logger.Debug("No snapshot to restore", "snapshot", a.cfg.Storage.Snapshot)
		return nil
	}
	if err != nil {
		return fmt.Errorf("restore snapshot %s: %w", a.cfg.Storage.Snapshot, err)
	}
	a.engine.Replace(g)
	return nil
}

// persist saves the graph to the configured snapshot, if storage is on.
func (a *app) persist(ctx context.Context) error {
	if a.store == nil {
		return nil
	}
	info, err := a.store.Save(ctx, a.cfg.Storage.Snapshot, a.engine.Graph())
	if err != nil {
		return fmt.Errorf("save snapshot %s: %w", a.cfg.Storage.Snapshot, err)
	}
	a.logger.Info("Snapshot saved", "name", info.Name, "nodes", info.Nodes, "links", info.Links)
	return nil
}

func (a *app) close() error {
	var errs []error
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
		a.db = nil
	}
	if a.logger != nil {
		if err := a.logger.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
