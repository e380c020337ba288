// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sequence

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/memnet/services/memnet/graph"
)

var (
	tracer = otel.Tracer("memnet.sequence")
	meter  = otel.Meter("memnet.sequence")

	rankLatency metric.Float64Histogram
	rankOnce    sync.Once
)

func recordRank(ctx context.Context, d time.Duration, candidates int) {
	rankOnce.Do(func() {
		var err error
		rankLatency, err = meter.Float64Histogram(
			"memnet_score_duration_seconds",
			metric.WithDescription("Duration of candidate ranking"),
			metric.WithUnit("s"),
		)
		if err != nil {
			rankLatency = nil
		}
	})
	if rankLatency != nil {
		rankLatency.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.Int("candidates", candidates)))
	}
}

// Ranked is one scored candidate.
type Ranked struct {
	// Index is the candidate's position in the input.
	Index int

	// Pattern is the candidate itself.
	Pattern *graph.Graph

	// Score is the similarity to the target, in [0, 1].
	Score float64
}

// Ranker scores candidate patterns against a target.
//
// Thread Safety: Safe for concurrent use. Patterns must not be mutated
// while they are being scored.
type Ranker struct {
	linkType graph.LinkType
	workers  int
	logger   *slog.Logger
}

// RankerOption configures a Ranker.
type RankerOption func(*Ranker)

// WithLinkType sets the chain link type. Default: has_next.
func WithLinkType(lt graph.LinkType) RankerOption {
	return func(r *Ranker) {
		if lt != "" {
			r.linkType = lt
		}
	}
}

// WithWorkers bounds concurrent scoring. Default: GOMAXPROCS.
func WithWorkers(n int) RankerOption {
	return func(r *Ranker) {
		if n > 0 {
			r.workers = n
		}
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) RankerOption {
	return func(r *Ranker) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRanker creates a Ranker.
func NewRanker(opts ...RankerOption) *Ranker {
	r := &Ranker{
		linkType: DefaultLinkType,
		workers:  runtime.GOMAXPROCS(0),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// LinkType returns the chain link type in use.
func (r *Ranker) LinkType() graph.LinkType { return r.linkType }

// RankAll scores every candidate against target.
//
// Description:
//
//	Candidates are scored concurrently with at most the configured number
//	of workers. Scores are returned in input order, so the result does not
//	depend on scheduling.
//
// Outputs:
//
//	[]Ranked - One entry per candidate, input order.
//	error - The first scoring error (e.g. a cyclic chain) or ctx.Err().
func (r *Ranker) RankAll(ctx context.Context, target *graph.Graph, candidates []*graph.Graph) ([]Ranked, error) {
	ctx, span := tracer.Start(ctx, "Ranker.RankAll")
	defer span.End()
	start := time.Now()
	span.SetAttributes(attribute.Int("sequence.candidates", len(candidates)))

	want, err := Utterances(target, r.linkType)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("target pattern: %w", err)
	}

	out := make([]Ranked, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for i, c := range candidates {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			got, err := Utterances(c, r.linkType)
			if err != nil {
				return fmt.Errorf("candidate %d: %w", i, err)
			}
			out[i] = Ranked{Index: i, Pattern: c, Score: Score(want, got)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		r.logger.Warn("Ranking failed", "error", err, "candidates", len(candidates))
		return nil, err
	}

	recordRank(ctx, time.Since(start), len(candidates))
	r.logger.Debug("Ranked candidates",
		"candidates", len(candidates),
		"duration", time.Since(start))
	return out, nil
}

// BestMatch returns the highest-scoring candidate. Ties go to the earliest
// candidate; ok is false only when there are no candidates.
func (r *Ranker) BestMatch(ctx context.Context, target *graph.Graph, candidates []*graph.Graph) (best Ranked, ok bool, err error) {
	ranked, err := r.RankAll(ctx, target, candidates)
	if err != nil {
		return Ranked{}, false, err
	}
	best, ok = Best(ranked)
	return best, ok, nil
}

// Best reduces ranked candidates to the first maximum.
func Best(ranked []Ranked) (Ranked, bool) {
	if len(ranked) == 0 {
		return Ranked{}, false
	}
	best := ranked[0]
	for _, c := range ranked[1:] {
		if c.Score > best.Score {
			best = c
		}
	}
	return best, true
}
