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
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for engine operations.
var (
	// ErrUnknownSelector is returned for a selector outside the role × tier table.
	ErrUnknownSelector = errors.New("unknown selector")

	// ErrAmbiguousAncestor is returned when a hub reaches more than one
	// terminal ancestor over spec_to links.
	ErrAmbiguousAncestor = errors.New("ambiguous ancestor")
)

// AmbiguityError carries the hub and the competing terminal ancestors.
// It matches ErrAmbiguousAncestor with errors.Is.
type AmbiguityError struct {
	Hub   string
	Roots []string
}

func (e *AmbiguityError) Error() string {
	return fmt.Sprintf("%v: hub %s reaches %s", ErrAmbiguousAncestor, e.Hub, strings.Join(e.Roots, ", "))
}

func (e *AmbiguityError) Unwrap() error { return ErrAmbiguousAncestor }
