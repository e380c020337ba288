// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package taxonomy turns a concept hierarchy into long-term memory.
//
// The input is a list of synsets: a name such as "cup.n.01", a part of
// speech, the lemmas that name the concept, and the names of its
// hypernyms. Nouns become object nodes and verbs become action nodes, each
// tagged ltm. Every hypernym gets a spec_to link down to its hyponym.
package taxonomy

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/memnet/services/memnet/codec"
	"github.com/AleutianAI/memnet/services/memnet/graph"
)

// ErrInvalidSynset is returned for a synset without a name or part of speech.
var ErrInvalidSynset = errors.New("invalid synset")

// Part-of-speech tags with a role mapping. Everything else is skipped.
const (
	PosNoun = "n"
	PosVerb = "v"
)

var validate = validator.New()

// Synset is one concept of the hierarchy.
type Synset struct {
	Name      string   `json:"name" yaml:"name" validate:"required"`
	Pos       string   `json:"pos" yaml:"pos" validate:"required"`
	Lemmas    []string `json:"lemmas,omitempty" yaml:"lemmas,omitempty"`
	Hypernyms []string `json:"hypernyms,omitempty" yaml:"hypernyms,omitempty"`
}

// Role maps the part of speech to a role; ok is false for skipped synsets.
func (s Synset) Role() (graph.Role, bool) {
	switch s.Pos {
	case PosNoun:
		return graph.RoleObject, true
	case PosVerb:
		return graph.RoleAction, true
	default:
		return "", false
	}
}

// Read decodes a synset list from JSON or YAML.
func Read(r io.Reader, f codec.Format) ([]Synset, error) {
	var synsets []Synset
	switch f {
	case codec.FormatJSON:
		if err := json.NewDecoder(r).Decode(&synsets); err != nil {
			return nil, fmt.Errorf("decoding JSON synsets: %w", err)
		}
	case codec.FormatYAML:
		if err := yaml.NewDecoder(r).Decode(&synsets); err != nil && err != io.EOF {
			return nil, fmt.Errorf("decoding YAML synsets: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", codec.ErrUnknownFormat, f)
	}
	for i := range synsets {
		if err := validate.Struct(&synsets[i]); err != nil {
			return nil, fmt.Errorf("%w: synset %d: %v", ErrInvalidSynset, i, err)
		}
	}
	return synsets, nil
}

// BuildOption configures Build.
type BuildOption func(*builder)

// WithLimit stops adding synsets once the graph holds n nodes. 0 means no
// limit. Hypernyms of the last synset may push the count past n.
func WithLimit(n int) BuildOption {
	return func(b *builder) { b.limit = n }
}

// WithIDFunc sets the node id generator. Default: uuid.NewString.
func WithIDFunc(fn func() string) BuildOption {
	return func(b *builder) {
		if fn != nil {
			b.newID = fn
		}
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) BuildOption {
	return func(b *builder) {
		if logger != nil {
			b.logger = logger
		}
	}
}

type builder struct {
	limit  int
	newID  func() string
	logger *slog.Logger

	g      *graph.Graph
	byName map[string]*Synset
	ids    map[string]string
}

// Build creates the hierarchy graph.
//
// Description:
//
//	Synsets are visited in input order. Each mapped synset gets one node;
//	a hypernym not yet seen gets its node on first reference, taking its
//	lemmas from its own record when present and its role from the hyponym.
//	Links run hypernym -> hyponym with link type spec_to.
//
// Outputs:
//
//	*graph.Graph - The hierarchy; every node tagged ltm.
//	error - graph errors only.
func Build(synsets []Synset, opts ...BuildOption) (*graph.Graph, error) {
	b := &builder{
		newID:  uuid.NewString,
		logger: slog.Default(),
		g:      graph.New(),
		byName: make(map[string]*Synset, len(synsets)),
		ids:    make(map[string]string, len(synsets)),
	}
	for _, opt := range opts {
		opt(b)
	}
	for i := range synsets {
		if _, dup := b.byName[synsets[i].Name]; !dup {
			b.byName[synsets[i].Name] = &synsets[i]
		}
	}

	skipped := 0
	for _, s := range synsets {
		if b.limit > 0 && b.g.NodeCount() >= b.limit {
			break
		}
		role, ok := s.Role()
		if !ok {
			skipped++
			continue
		}
		id, err := b.node(s.Name, role)
		if err != nil {
			return nil, err
		}
		for _, h := range s.Hypernyms {
			hid, err := b.node(h, role)
			if err != nil {
				return nil, err
			}
			if b.g.HasLink(hid, id, graph.LinkSpecTo) {
				continue
			}
			if _, err := b.g.AddLink(hid, id, graph.LinkSpecTo); err != nil {
				return nil, fmt.Errorf("linking %s -> %s: %w", h, s.Name, err)
			}
		}
	}
	b.logger.Info("Taxonomy built",
		"nodes", b.g.NodeCount(),
		"links", b.g.LinkCount(),
		"skipped", skipped)
	return b.g, nil
}

func (b *builder) node(name string, role graph.Role) (string, error) {
	if id, ok := b.ids[name]; ok {
		return id, nil
	}
	lemmas := lemmaOf(name)
	if s, ok := b.byName[name]; ok && len(s.Lemmas) > 0 {
		lemmas = s.Lemmas
	}
	id := b.newID()
	attrs := graph.MustAttrs(
		graph.KeyID, id,
		graph.KeyAccessID, name,
		graph.KeyUtterances, lemmas,
		graph.KeyRole, string(role),
		graph.KeyTier, string(graph.TierLongTerm),
	)
	if _, err := b.g.AddNode(attrs); err != nil {
		return "", fmt.Errorf("adding %s: %w", name, err)
	}
	b.ids[name] = id
	return id, nil
}

// lemmaOf derives a lemma from a synset name: "cup.n.01" -> "cup".
func lemmaOf(name string) []string {
	if i := strings.IndexByte(name, '.'); i > 0 {
		return []string{name[:i]}
	}
	return []string{name}
}
