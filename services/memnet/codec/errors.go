// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package codec reads and writes memory graphs.
//
// Two formats are supported: GML for whole-graph exchange, and ordered
// bulk-load records (JSON or YAML) that are replayed through linked inserts.
package codec

import "errors"

// Sentinel errors for codec operations.
var (
	// ErrMalformedGML is returned when a GML document cannot be parsed or
	// describes an invalid graph.
	ErrMalformedGML = errors.New("malformed GML")

	// ErrUnsupportedKey is returned when an attribute key cannot be written
	// as a GML key.
	ErrUnsupportedKey = errors.New("attribute key not representable in GML")

	// ErrMalformedRecord is returned for a bulk-load record without node
	// attributes, or with parent attributes but no link type.
	ErrMalformedRecord = errors.New("malformed record")

	// ErrUnknownFormat is returned for an unrecognised bulk-load format.
	ErrUnknownFormat = errors.New("unknown format")
)
