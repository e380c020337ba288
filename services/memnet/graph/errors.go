// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graph provides the typed memory graph and its value types.
//
// The memory graph is a directed multigraph whose nodes are concepts
// (actions, objects, tools, locations, times, agents) and whose links carry
// exactly one link type (spec_to, has_part, has_next, has_element, ...).
// Parallel links of different types between the same ordered pair are
// allowed; a second link of the same type between the same pair is not.
//
// # Attributes
//
// Every node carries an ordered attribute mapping. A handful of keys are
// well known (uuid, type, memory, utterances, accessid); all others are free
// form match filters. Values are scalars or flat lists, modelled by Value.
//
// # Ownership Model
//
// The graph copies attribute maps on insert and every subgraph or clone it
// hands out is a deep copy. Callers may freely mutate what they get back
// without affecting the graph.
//
// # Thread Safety
//
// Graph is NOT safe for concurrent use. It is designed for a single owner
// that serializes mutation and queries (see the query package Engine).
package graph

import "errors"

// Sentinel errors for graph operations.
var (
	// ErrNodeNotFound is returned when a link references a non-existent node.
	ErrNodeNotFound = errors.New("node not found")

	// ErrDuplicateNode is returned when adding a node whose identifier
	// already exists in the graph.
	ErrDuplicateNode = errors.New("duplicate node ID")

	// ErrDuplicateLink is returned when a link of the same type already
	// connects the same ordered pair of nodes.
	ErrDuplicateLink = errors.New("duplicate link")

	// ErrInvalidNode is returned when a node has no usable identifier.
	ErrInvalidNode = errors.New("invalid node")

	// ErrInvalidLink is returned when a link has an empty link type.
	ErrInvalidLink = errors.New("invalid link")

	// ErrInvalidRole is returned when a role tag is not one of the fixed roles.
	ErrInvalidRole = errors.New("invalid role")

	// ErrInvalidTier is returned when a memory tier tag is not recognized.
	ErrInvalidTier = errors.New("invalid memory tier")

	// ErrInvalidValue is returned when an attribute value is nested or of an
	// unsupported type.
	ErrInvalidValue = errors.New("invalid attribute value")

	// ErrMaxNodesExceeded is returned when the graph has reached its
	// configured maximum node capacity.
	ErrMaxNodesExceeded = errors.New("maximum node count exceeded")

	// ErrMaxLinksExceeded is returned when the graph has reached its
	// configured maximum link capacity.
	ErrMaxLinksExceeded = errors.New("maximum link count exceeded")

	// ErrCycleDetected is returned by walks that require acyclic input.
	ErrCycleDetected = errors.New("cycle detected")
)
