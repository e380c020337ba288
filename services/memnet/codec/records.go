// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package codec

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/memnet/services/memnet/graph"
	"github.com/AleutianAI/memnet/services/memnet/query"
)

// Format names a bulk-load encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatGML  Format = "gml"
)

// FormatFromPath infers the format from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".gml":
		return FormatGML, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, filepath.Ext(path))
	}
}

// recordValidate is the validator instance for bulk-load records.
var recordValidate *validator.Validate

var linkTypePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_\-]*$`)

func init() {
	recordValidate = validator.New()
	_ = recordValidate.RegisterValidation("linktype", validateLinkType)
}

// validateLinkType accepts identifier-like link types such as has_part.
func validateLinkType(fl validator.FieldLevel) bool {
	return linkTypePattern.MatchString(fl.Field().String())
}

// Record is one bulk-load entry: a node and, optionally, the parent it
// hangs under.
//
// Validation:
//   - NodeAttributes: required and non-empty
//   - Link: required when ParentAttributes is set; identifier-like
type Record struct {
	NodeAttributes   *graph.Attributes `json:"node_attributes" yaml:"node_attributes" validate:"required"`
	ParentAttributes *graph.Attributes `json:"parent_attributes,omitempty" yaml:"parent_attributes,omitempty"`
	Link             graph.LinkType    `json:"link,omitempty" yaml:"link,omitempty" validate:"required_with=ParentAttributes,omitempty,linktype"`
}

// Validate checks the record. An empty parent mapping counts as no parent.
func (r *Record) Validate() error {
	if r.ParentAttributes != nil && r.ParentAttributes.Len() == 0 {
		r.ParentAttributes = nil
	}
	if err := recordValidate.Struct(r); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	if r.NodeAttributes.Len() == 0 {
		return fmt.Errorf("%w: empty node_attributes", ErrMalformedRecord)
	}
	return nil
}

// LinkedNode converts the record for query.Engine.InsertLinkedNodes.
func (r *Record) LinkedNode() query.LinkedNode {
	ln := query.LinkedNode{Node: *r.NodeAttributes, LinkType: r.Link}
	if r.ParentAttributes != nil {
		ln.Parent = *r.ParentAttributes
	}
	return ln
}

// ReadRecords decodes and validates an ordered list of records.
//
// Errors:
//
//	ErrMalformedRecord - a record failed validation; the error names its index
//	ErrUnknownFormat - f is neither JSON nor YAML
func ReadRecords(r io.Reader, f Format) ([]Record, error) {
	var records []Record
	switch f {
	case FormatJSON:
		if err := json.NewDecoder(r).Decode(&records); err != nil {
			return nil, fmt.Errorf("decoding JSON records: %w", err)
		}
	case FormatYAML:
		if err := yaml.NewDecoder(r).Decode(&records); err != nil && err != io.EOF {
			return nil, fmt.Errorf("decoding YAML records: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, f)
	}
	for i := range records {
		if err := records[i].Validate(); err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
	}
	return records, nil
}

// Load replays records through linked inserts, in order. A record whose
// parent is not (yet) in the graph is inserted unlinked.
//
// Outputs:
//
//	int - Number of records inserted before any error.
func Load(e *query.Engine, records []Record, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}
	start := time.Now()
	batch := make([]query.LinkedNode, len(records))
	for i := range records {
		batch[i] = records[i].LinkedNode()
	}
	n, err := e.InsertLinkedNodes(batch)
	if err != nil {
		logger.Error("Bulk load failed", "inserted", n, "error", err)
		return n, err
	}
	logger.Info("Bulk load finished", "records", n, "duration", time.Since(start))
	return n, nil
}

// LoadFile reads a GML or bulk-record file into the engine. GML replaces
// the whole graph; records are appended.
func LoadFile(e *query.Engine, r io.Reader, f Format, logger *slog.Logger) (int, error) {
	if f == FormatGML {
		g, err := ReadGML(r)
		if err != nil {
			return 0, err
		}
		e.Replace(g)
		return g.NodeCount(), nil
	}
	records, err := ReadRecords(r, f)
	if err != nil {
		return 0, err
	}
	return Load(e, records, logger)
}
