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
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/memnet/services/memnet/telemetry"
)

// RegisterRoutes registers all MemNet routes with the router.
//
// Description:
//
//	Registers the /memnet/* endpoints under rg. The group should already
//	have any required middleware applied.
//
// Query Endpoints:
//
//	POST /v1/memnet/query - Full patterns for one role × tier selector
//	POST /v1/memnet/nodes - Raw matches without expansion
//	POST /v1/memnet/parents - spec_to ancestry of each pattern hub
//	POST /v1/memnet/score - Chain similarity of candidates
//
// Mutation Endpoints:
//
//	POST /v1/memnet/records - Linked node inserts
//	POST /v1/memnet/patterns - Merge patterns into the graph
//	POST /v1/memnet/patterns/delete - Remove pattern nodes
//	POST /v1/memnet/snapshot - Persist the graph
//
// Inspection Endpoints:
//
//	GET  /v1/memnet/stats - Graph and cache statistics
//	GET  /v1/memnet/health - Health check
//	GET  /v1/memnet/graph.gml - Whole graph as GML
//	GET  /v1/memnet/graph.dot - Whole graph as DOT (?format=mermaid|d3)
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	memnet := rg.Group("/memnet")
	{
		memnet.POST("/query", handlers.HandleQuery)
		memnet.POST("/nodes", handlers.HandleNodes)
		memnet.POST("/parents", handlers.HandleParents)
		memnet.POST("/score", handlers.HandleScore)

		memnet.POST("/records", handlers.HandleInsertRecords)
		memnet.POST("/patterns", handlers.HandleInsertPatterns)
		memnet.POST("/patterns/delete", handlers.HandleDeletePatterns)
		memnet.POST("/snapshot", handlers.HandleSnapshot)

		memnet.GET("/stats", handlers.HandleStats)
		memnet.GET("/health", handlers.HandleHealth)
		memnet.GET("/graph.gml", handlers.HandleGraphGML)
		memnet.GET("/graph.dot", handlers.HandleGraphDOT)
	}
}

// RouterConfig configures NewRouter.
type RouterConfig struct {
	// ServiceName names the otelgin server spans.
	ServiceName string

	// RateLimit is the sustained request rate per second. 0 disables limiting.
	RateLimit float64

	// Burst is the limiter's bucket size.
	Burst int
}

// NewRouter builds the gin engine with tracing, rate limiting, the
// /v1/memnet routes and /metrics.
func NewRouter(cfg RouterConfig, handlers *Handlers) *gin.Engine {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "memnet"
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.ServiceName))
	if cfg.RateLimit > 0 {
		router.Use(RateLimit(rate.NewLimiter(rate.Limit(cfg.RateLimit), max(cfg.Burst, 1))))
	}

	v1 := router.Group("/v1")
	RegisterRoutes(v1, handlers)
	router.GET("/metrics", gin.WrapH(telemetry.MetricsHandler()))
	return router
}

// RateLimit rejects requests with 429 when limiter has no token.
func RateLimit(limiter *rate.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow() {
			retry := limiter.Reserve()
			delay := retry.Delay()
			retry.Cancel()
			c.Header("Retry-After", strconv.Itoa(int(delay.Seconds())+1))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{
				Error: "rate limit exceeded",
				Code:  "RATE_LIMITED",
			})
			return
		}
		c.Next()
	}
}
