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
	"context"
	"errors"
	"net/http"

	"github.com/AleutianAI/memnet/services/memnet/graph"
	"github.com/AleutianAI/memnet/services/memnet/pattern"
	"github.com/AleutianAI/memnet/services/memnet/query"
	"github.com/AleutianAI/memnet/services/memnet/storage/badger"
	"github.com/AleutianAI/memnet/services/memnet/visualization"
)

// Sentinel errors for the HTTP API.
var (
	// ErrInvalidRequest indicates a body that binds but is not usable.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrSnapshotsDisabled indicates the server runs without a snapshot store.
	ErrSnapshotsDisabled = errors.New("snapshots not configured")
)

// statusFor maps a domain error to an HTTP status and error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, query.ErrUnknownSelector),
		errors.Is(err, pattern.ErrInvalidAttributeName),
		errors.Is(err, pattern.ErrConflictingRole),
		errors.Is(err, graph.ErrInvalidNode),
		errors.Is(err, graph.ErrInvalidLink),
		errors.Is(err, graph.ErrInvalidRole),
		errors.Is(err, graph.ErrInvalidTier),
		errors.Is(err, graph.ErrInvalidValue),
		errors.Is(err, graph.ErrDuplicateNode),
		errors.Is(err, graph.ErrDuplicateLink),
		errors.Is(err, badger.ErrInvalidSnapshotName):
		return http.StatusBadRequest, "INVALID_REQUEST"
	case errors.Is(err, visualization.ErrUnsupportedFormat):
		return http.StatusBadRequest, "UNSUPPORTED_FORMAT"
	case errors.Is(err, graph.ErrNodeNotFound):
		return http.StatusNotFound, "NODE_NOT_FOUND"
	case errors.Is(err, badger.ErrSnapshotNotFound):
		return http.StatusNotFound, "SNAPSHOT_NOT_FOUND"
	case errors.Is(err, query.ErrAmbiguousAncestor):
		return http.StatusConflict, "AMBIGUOUS_ANCESTOR"
	case errors.Is(err, graph.ErrCycleDetected):
		return http.StatusUnprocessableEntity, "CYCLE_DETECTED"
	case errors.Is(err, graph.ErrMaxNodesExceeded), errors.Is(err, graph.ErrMaxLinksExceeded):
		return http.StatusInsufficientStorage, "CAPACITY_EXCEEDED"
	case errors.Is(err, ErrSnapshotsDisabled):
		return http.StatusServiceUnavailable, "SNAPSHOTS_DISABLED"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "TIMEOUT"
	case errors.Is(err, context.Canceled):
		return 499, "CANCELED"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}
