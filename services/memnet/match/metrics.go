// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package match

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for matcher operations.
var (
	tracer = otel.Tracer("memnet.match")
	meter  = otel.Meter("memnet.match")
)

var (
	matchLatency    metric.Float64Histogram
	matchTotal      metric.Int64Counter
	matchesFound    metric.Int64Histogram
	matchIterations metric.Int64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		matchLatency, err = meter.Float64Histogram(
			"memnet_match_duration_seconds",
			metric.WithDescription("Duration of subgraph isomorphism searches"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		matchTotal, err = meter.Int64Counter(
			"memnet_match_total",
			metric.WithDescription("Total number of subgraph isomorphism searches"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		matchesFound, err = meter.Int64Histogram(
			"memnet_match_results",
			metric.WithDescription("Number of matches returned per search"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		matchIterations, err = meter.Int64Histogram(
			"memnet_match_iterations",
			metric.WithDescription("Search states visited per search"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordMatchMetrics records metrics for one search.
func recordMatchMetrics(ctx context.Context, duration time.Duration, patternSize, found, iterations int, complete bool) {
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.Int("pattern_size", patternSize),
		attribute.Bool("complete", complete),
	)
	matchLatency.Record(ctx, duration.Seconds(), attrs)
	matchTotal.Add(ctx, 1, attrs)
	matchesFound.Record(ctx, int64(found))
	matchIterations.Record(ctx, int64(iterations))
}

// startMatchSpan creates a span for one search.
func startMatchSpan(ctx context.Context, patternSize, graphSize int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Matcher.Find",
		trace.WithAttributes(
			attribute.Int("match.pattern_size", patternSize),
			attribute.Int("match.graph_size", graphSize),
		),
	)
}
