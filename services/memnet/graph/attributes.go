// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Well-known attribute keys. These match the graph exchange format.
const (
	KeyID         = "uuid"
	KeyRole       = "type"
	KeyTier       = "memory"
	KeyUtterances = "utterances"
	KeyAccessID   = "accessid"
	KeyLinkType   = "link_type"
)

// Role is the functional slot a concept occupies in an action pattern.
type Role string

const (
	RoleAction   Role = "action"
	RoleObject   Role = "object"
	RoleTool     Role = "tool"
	RoleLocation Role = "location"
	RoleTime     Role = "time"
	RoleAgent    Role = "agent"
)

// roleOrder is the fixed role set in canonical order.
var roleOrder = []Role{RoleAction, RoleObject, RoleTool, RoleLocation, RoleTime, RoleAgent}

// ValidRoles is the set of valid roles.
var ValidRoles = map[Role]bool{
	RoleAction:   true,
	RoleObject:   true,
	RoleTool:     true,
	RoleLocation: true,
	RoleTime:     true,
	RoleAgent:    true,
}

// Roles returns the fixed role set in canonical order.
func Roles() []Role {
	out := make([]Role, len(roleOrder))
	copy(out, roleOrder)
	return out
}

// ParseRole validates a role name.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !ValidRoles[r] {
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
	}
	return r, nil
}

// Tier is the temporal persistence class of a node.
type Tier string

const (
	TierShortTerm Tier = "stm"
	TierMidTerm   Tier = "mtm"
	TierLongTerm  Tier = "ltm"

	// TierUntagged means no tier; in a query it is a wildcard.
	TierUntagged Tier = ""
)

var tierOrder = []Tier{TierShortTerm, TierMidTerm, TierLongTerm, TierUntagged}

// Tiers returns every tier including TierUntagged, in canonical order.
func Tiers() []Tier {
	out := make([]Tier, len(tierOrder))
	copy(out, tierOrder)
	return out
}

// ParseTier accepts both the short tags (stm, mtm, ltm) and the long names
// (short-term, mid-term, long-term). Empty, "none" and "untagged" map to
// TierUntagged.
func ParseTier(s string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "stm", "short-term", "short_term", "shortterm":
		return TierShortTerm, nil
	case "mtm", "mid-term", "mid_term", "midterm":
		return TierMidTerm, nil
	case "ltm", "long-term", "long_term", "longterm":
		return TierLongTerm, nil
	case "", "none", "untagged":
		return TierUntagged, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidTier, s)
	}
}

// Name returns the long form of the tier.
func (t Tier) Name() string {
	switch t {
	case TierShortTerm:
		return "short-term"
	case TierMidTerm:
		return "mid-term"
	case TierLongTerm:
		return "long-term"
	case TierUntagged:
		return "untagged"
	default:
		return string(t)
	}
}

// LinkType names the relationship carried by a link. The vocabulary is open.
type LinkType string

const (
	// LinkSpecTo is a specialization link from a general concept to a
	// more specific one.
	LinkSpecTo LinkType = "spec_to"

	// LinkHasPart is compositional membership (action -> object/tool).
	LinkHasPart LinkType = "has_part"

	// LinkHasNext orders action steps.
	LinkHasNext LinkType = "has_next"

	// LinkHasElement places a step inside a higher-level pattern.
	LinkHasElement LinkType = "has_element"
)

// Attributes is an ordered attribute mapping.
//
// Description:
//
//	Keys keep their definition order. Setting an existing key replaces its
//	value in place without moving it. The zero value is an empty mapping
//	ready for use.
//
// Thread Safety:
//
//	Not safe for concurrent mutation. Copying an Attributes value shares
//	storage; use Clone for an independent copy.
type Attributes struct {
	keys   []string
	values map[string]Value
}

// NewAttributes returns an empty mapping with room for n keys.
func NewAttributes(n int) Attributes {
	return Attributes{
		keys:   make([]string, 0, n),
		values: make(map[string]Value, n),
	}
}

// MustAttrs builds an Attributes from alternating key/value arguments.
//
// Values may be a Value or anything accepted by ValueOf. Panics on an odd
// argument count, a non-string key or an unsupported value; intended for
// literals in code and tests.
func MustAttrs(kv ...any) Attributes {
	if len(kv)%2 != 0 {
		panic("graph.MustAttrs: odd argument count")
	}
	a := NewAttributes(len(kv) / 2)
	for i := 0; i < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			panic(fmt.Sprintf("graph.MustAttrs: key %v is not a string", kv[i]))
		}
		val, err := ValueOf(kv[i+1])
		if err != nil {
			panic(fmt.Sprintf("graph.MustAttrs: key %s: %v", key, err))
		}
		a.Set(key, val)
	}
	return a
}

// FromMap converts an unordered map. Keys are sorted to keep the result
// deterministic.
func FromMap(m map[string]any) (Attributes, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	a := NewAttributes(len(keys))
	for _, k := range keys {
		v, err := ValueOf(m[k])
		if err != nil {
			return Attributes{}, fmt.Errorf("key %s: %w", k, err)
		}
		a.Set(k, v)
	}
	return a, nil
}

// Len returns the number of keys.
func (a Attributes) Len() int { return len(a.keys) }

// Keys returns the keys in definition order.
func (a Attributes) Keys() []string {
	out := make([]string, len(a.keys))
	copy(out, a.keys)
	return out
}

// Get returns the value stored under key.
func (a Attributes) Get(key string) (Value, bool) {
	v, ok := a.values[key]
	return v, ok
}

// Has reports whether key is present.
func (a Attributes) Has(key string) bool {
	_, ok := a.values[key]
	return ok
}

// Set stores a value, appending the key if new.
func (a *Attributes) Set(key string, v Value) {
	if a.values == nil {
		a.values = make(map[string]Value)
	}
	if _, exists := a.values[key]; !exists {
		a.keys = append(a.keys, key)
	}
	a.values[key] = v
}

// SetString is shorthand for Set(key, Scalar(s)).
func (a *Attributes) SetString(key, s string) {
	a.Set(key, Scalar(s))
}

// Delete removes key if present.
func (a *Attributes) Delete(key string) {
	if _, ok := a.values[key]; !ok {
		return
	}
	delete(a.values, key)
	for i, k := range a.keys {
		if k == key {
			a.keys = append(a.keys[:i:i], a.keys[i+1:]...)
			break
		}
	}
}

// Clone returns an independent copy. Values are immutable and shared.
func (a Attributes) Clone() Attributes {
	out := NewAttributes(len(a.keys))
	for _, k := range a.keys {
		out.Set(k, a.values[k])
	}
	return out
}

// Select returns a copy restricted to the given keys, in the mapping's own
// order. Missing keys are skipped. No keys selects everything.
func (a Attributes) Select(keys ...string) Attributes {
	if len(keys) == 0 {
		return a.Clone()
	}
	want := make(map[string]bool, len(keys))
	for _, k := range keys {
		want[k] = true
	}
	out := NewAttributes(len(keys))
	for _, k := range a.keys {
		if want[k] {
			out.Set(k, a.values[k])
		}
	}
	return out
}

// Contains reports whether every key of sub is present in a with an Equal
// value. An empty sub is contained in everything.
func (a Attributes) Contains(sub Attributes) bool {
	for _, k := range sub.keys {
		v, ok := a.values[k]
		if !ok || !v.Equal(sub.values[k]) {
			return false
		}
	}
	return true
}

// Equal reports whether both mappings hold the same keys in the same order
// with Equal values.
func (a Attributes) Equal(b Attributes) bool {
	if len(a.keys) != len(b.keys) {
		return false
	}
	for i, k := range a.keys {
		if b.keys[i] != k || !a.values[k].Equal(b.values[k]) {
			return false
		}
	}
	return true
}

// String returns the first string element stored under key.
func (a Attributes) String(key string) (string, bool) {
	v, ok := a.values[key]
	if !ok {
		return "", false
	}
	first, ok := v.First()
	if !ok {
		return "", false
	}
	s, ok := first.(string)
	return s, ok
}

// Map returns a plain map for encoding. Order is lost.
func (a Attributes) Map() map[string]any {
	out := make(map[string]any, len(a.keys))
	for _, k := range a.keys {
		out[k] = a.values[k].Interface()
	}
	return out
}

// Key returns a canonical, order-sensitive string form.
func (a Attributes) Key() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, k := range a.keys {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(a.values[k].Key())
	}
	b.WriteByte('}')
	return b.String()
}

// MarshalJSON writes an object with keys in definition order.
func (a Attributes) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range a.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := a.values[k].MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("key %s: %w", k, err)
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads an object, preserving key order.
func (a *Attributes) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*a = Attributes{}
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("%w: attributes must be an object", ErrInvalidValue)
	}

	out := NewAttributes(8)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("%w: non-string key", ErrInvalidValue)
		}
		var raw any
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("key %s: %w", key, err)
		}
		v, err := ValueOf(raw)
		if err != nil {
			return fmt.Errorf("key %s: %w", key, err)
		}
		out.Set(key, v)
	}
	if _, err := dec.Token(); err != nil && err != io.EOF {
		return err
	}
	*a = out
	return nil
}

// MarshalYAML writes a mapping node with keys in definition order.
func (a Attributes) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, k := range a.keys {
		var valNode yaml.Node
		if err := valNode.Encode(a.values[k].Interface()); err != nil {
			return nil, fmt.Errorf("key %s: %w", k, err)
		}
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: k},
			&valNode,
		)
	}
	return node, nil
}

// UnmarshalYAML reads a mapping node, preserving key order.
func (a *Attributes) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode && node.Tag == "!!null" {
		*a = Attributes{}
		return nil
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("%w: attributes must be a mapping (line %d)", ErrInvalidValue, node.Line)
	}
	out := NewAttributes(len(node.Content) / 2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		var raw any
		if err := node.Content[i+1].Decode(&raw); err != nil {
			return fmt.Errorf("key %s: %w", key, err)
		}
		v, err := ValueOf(raw)
		if err != nil {
			return fmt.Errorf("key %s (line %d): %w", key, node.Content[i].Line, err)
		}
		out.Set(key, v)
	}
	*a = out
	return nil
}

// MarshalYAML encodes a scalar as its element and a set as a sequence.
func (v Value) MarshalYAML() (any, error) {
	return v.Interface(), nil
}

// UnmarshalYAML decodes a scalar or a flat sequence.
func (v *Value) UnmarshalYAML(node *yaml.Node) error {
	var raw any
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := ValueOf(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}
