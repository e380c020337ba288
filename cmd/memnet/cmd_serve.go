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
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/memnet/services/memnet/api"
	"github.com/AleutianAI/memnet/services/memnet/telemetry"
	"github.com/AleutianAI/memnet/services/memnet/watch"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(a *app) *cobra.Command {
	var (
		addr      string
		watchPath string
		debug     bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Serve the /v1/memnet API and /metrics.

With --watch, the given GML, JSON or YAML file is loaded at startup and
reloaded whenever it changes. On shutdown the graph is saved to the
configured snapshot when a store is set.

Examples:
  memnet serve --addr :12217
  memnet serve --watch kitchen.gml --store ~/.memnet/db`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				a.cfg.Server.Addr = addr
			}
			if watchPath != "" {
				a.cfg.Watch.Path = watchPath
			}
			if !debug {
				gin.SetMode(gin.ReleaseMode)
			}
			return a.serve(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.addr)")
	cmd.Flags().StringVar(&watchPath, "watch", "", "File to load and hot-reload (overrides watch.path)")
	cmd.Flags().BoolVar(&debug, "debug", false, "Gin debug mode")
	return cmd
}

func (a *app) serve(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, a.cfg.ToTelemetryConfig())
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			a.logger.Warn("Telemetry shutdown failed", "error", err)
		}
	}()

	if a.cfg.Watch.Path != "" {
		reloader, err := watch.New(a.cfg.Watch.Path, a.engine,
			watch.WithDebounce(a.cfg.Watch.Debounce),
			watch.WithLogger(a.logger.Slog()))
		if err != nil {
			return err
		}
		if err := reloader.Reload(ctx); err != nil {
			return fmt.Errorf("initial load of %s: %w", a.cfg.Watch.Path, err)
		}
		if err := reloader.Start(ctx); err != nil {
			return err
		}
		defer reloader.Stop()
	}

	handlers := api.NewHandlers(a.engine, a.logger.Slog())
	if a.store != nil {
		handlers = handlers.WithSnapshots(a.store, a.cfg.Storage.Snapshot)
	}
	router := api.NewRouter(api.RouterConfig{
		ServiceName: a.cfg.Telemetry.ServiceName,
		RateLimit:   a.cfg.Server.RateLimit,
		Burst:       a.cfg.Server.Burst,
	}, handlers)

	srv := &http.Server{
		Addr:              a.cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("Starting MemNet server", "address", srv.Addr, "nodes", a.engine.Stats().NodeCount)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("Shutting down MemNet server")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	if err := g.Wait(); err != nil {
		return err
	}
	return a.persist(context.Background())
}
