// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package query

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("memnet.query")

var (
	// queryTotal counts queries by role, tier and cache outcome.
	queryTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "memnet_query_total",
		Help: "Total pattern queries by role, tier and cache outcome",
	}, []string{"role", "tier", "cache"})

	// queryDuration tracks end-to-end query latency.
	queryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "memnet_query_duration_seconds",
		Help:    "Pattern query duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14), // 0.1ms to ~1.6s
	}, []string{"operation"})

	// queryErrors counts failed engine operations.
	queryErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "memnet_query_errors_total",
		Help: "Total failed engine operations by operation",
	}, []string{"operation"})

	// mutationTotal counts graph mutations by operation.
	mutationTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "memnet_mutation_total",
		Help: "Total graph mutations by operation",
	}, []string{"operation"})
)

func tierLabel(s Selector) string {
	if s.Tier == "" {
		return "untagged"
	}
	return string(s.Tier)
}
