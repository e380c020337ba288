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
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ValueKind distinguishes a single scalar from an "any of" set.
type ValueKind int

const (
	// KindScalar is a single string, integer, float or boolean.
	KindScalar ValueKind = iota

	// KindSet is an ordered list of scalars, matched as "any of".
	KindSet
)

// String returns the string representation of the ValueKind.
func (k ValueKind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindSet:
		return "set"
	default:
		return fmt.Sprintf("ValueKind(%d)", k)
	}
}

// Value is an attribute value: either Scalar(v) or AnySet(values...).
//
// Description:
//
//	Scalars are normalized on construction so that all integer kinds become
//	int64 and all float kinds become float64. A set keeps the order of its
//	elements (the first element of an utterance list is the primary label)
//	and may contain duplicates.
//
// Thread Safety:
//
//	Value is immutable once built. Items returns a copy.
type Value struct {
	kind  ValueKind
	items []any
}

// Scalar builds a single-element value.
//
// Unsupported types are stored as their fmt.Sprint string form.
func Scalar(v any) Value {
	return Value{kind: KindScalar, items: []any{normalizeScalar(v)}}
}

// AnySet builds a set value. An empty set is legal and intersects nothing.
func AnySet(values ...any) Value {
	items := make([]any, len(values))
	for i, v := range values {
		items[i] = normalizeScalar(v)
	}
	return Value{kind: KindSet, items: items}
}

// Strings is shorthand for AnySet over string labels.
func Strings(values ...string) Value {
	items := make([]any, len(values))
	for i, v := range values {
		items[i] = v
	}
	return Value{kind: KindSet, items: items}
}

// ValueOf converts a decoded JSON/YAML value into a Value.
//
// Inputs:
//
//	v - A scalar, json.Number, or a flat slice of scalars.
//
// Outputs:
//
//	Value - The converted value.
//	error - ErrInvalidValue if v is nil, nested, or of an unsupported type.
func ValueOf(v any) (Value, error) {
	switch t := v.(type) {
	case Value:
		return t, nil
	case []string:
		return Strings(t...), nil
	case []any:
		items := make([]any, 0, len(t))
		for i, e := range t {
			s, err := scalarOf(e)
			if err != nil {
				return Value{}, fmt.Errorf("%w: element %d: %v", ErrInvalidValue, i, err)
			}
			items = append(items, s)
		}
		return Value{kind: KindSet, items: items}, nil
	case []int:
		items := make([]any, len(t))
		for i, e := range t {
			items[i] = int64(e)
		}
		return Value{kind: KindSet, items: items}, nil
	case []int64:
		items := make([]any, len(t))
		for i, e := range t {
			items[i] = e
		}
		return Value{kind: KindSet, items: items}, nil
	case []float64:
		items := make([]any, len(t))
		for i, e := range t {
			items[i] = e
		}
		return Value{kind: KindSet, items: items}, nil
	default:
		s, err := scalarOf(v)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %v", ErrInvalidValue, err)
		}
		return Value{kind: KindScalar, items: []any{s}}, nil
	}
}

func scalarOf(v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, fmt.Errorf("null value")
	case string, bool, int64, float64:
		return t, nil
	case int, int8, int16, int32, uint, uint8, uint16, uint32, uint64, float32, json.Number:
		return normalizeScalar(t), nil
	default:
		return nil, fmt.Errorf("unsupported type %T", v)
	}
}

func normalizeScalar(v any) any {
	switch t := v.(type) {
	case string, bool, int64, float64:
		return t
	case int:
		return int64(t)
	case int8:
		return int64(t)
	case int16:
		return int64(t)
	case int32:
		return int64(t)
	case uint:
		return int64(t)
	case uint8:
		return int64(t)
	case uint16:
		return int64(t)
	case uint32:
		return int64(t)
	case uint64:
		if t > math.MaxInt64 {
			return float64(t)
		}
		return int64(t)
	case float32:
		return float64(t)
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	default:
		return fmt.Sprint(v)
	}
}

// Kind reports whether the value is a scalar or a set.
func (v Value) Kind() ValueKind { return v.kind }

// IsSet reports whether the value is a set.
func (v Value) IsSet() bool { return v.kind == KindSet }

// IsZero reports whether v is the zero Value (no items, scalar kind).
func (v Value) IsZero() bool { return v.kind == KindScalar && len(v.items) == 0 }

// Len returns the number of elements; 1 for a scalar.
func (v Value) Len() int { return len(v.items) }

// Items returns a copy of the elements.
func (v Value) Items() []any {
	out := make([]any, len(v.items))
	copy(out, v.items)
	return out
}

// First returns the first element.
func (v Value) First() (any, bool) {
	if len(v.items) == 0 {
		return nil, false
	}
	return v.items[0], true
}

// Strings returns the string elements, skipping non-strings.
func (v Value) Strings() []string {
	out := make([]string, 0, len(v.items))
	for _, it := range v.items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Interface returns the plain Go form: the element for a scalar, []any for
// a set.
func (v Value) Interface() any {
	if v.kind == KindScalar {
		if len(v.items) == 0 {
			return nil
		}
		return v.items[0]
	}
	return v.Items()
}

// Intersects reports whether the two values share at least one element.
//
// A scalar is treated as a one-element set. Integral floats compare equal to
// the matching integer.
func (v Value) Intersects(other Value) bool {
	if len(v.items) == 0 || len(other.items) == 0 {
		return false
	}
	seen := make(map[string]struct{}, len(v.items))
	for _, it := range v.items {
		seen[scalarKey(it)] = struct{}{}
	}
	for _, it := range other.items {
		if _, ok := seen[scalarKey(it)]; ok {
			return true
		}
	}
	return false
}

// Equal reports exact equality: same kind, same elements in the same order.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind || len(v.items) != len(other.items) {
		return false
	}
	for i := range v.items {
		if scalarKey(v.items[i]) != scalarKey(other.items[i]) {
			return false
		}
	}
	return true
}

// Key returns a canonical string form, stable across runs. Used for cache
// keys and deterministic ordering.
func (v Value) Key() string {
	var b strings.Builder
	if v.kind == KindSet {
		b.WriteByte('[')
	}
	for i, it := range v.items {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(scalarKey(it))
	}
	if v.kind == KindSet {
		b.WriteByte(']')
	}
	return b.String()
}

// String implements fmt.Stringer.
func (v Value) String() string {
	if v.kind == KindScalar {
		if len(v.items) == 0 {
			return ""
		}
		return fmt.Sprint(v.items[0])
	}
	parts := make([]string, len(v.items))
	for i, it := range v.items {
		parts[i] = fmt.Sprint(it)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

func scalarKey(v any) string {
	switch t := v.(type) {
	case string:
		return "s:" + t
	case bool:
		return "b:" + strconv.FormatBool(t)
	case int64:
		return "n:" + strconv.FormatInt(t, 10)
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1<<53 {
			return "n:" + strconv.FormatInt(int64(t), 10)
		}
		return "f:" + strconv.FormatFloat(t, 'g', -1, 64)
	default:
		return "?:" + fmt.Sprint(t)
	}
}

// MarshalJSON encodes a scalar as its element and a set as an array.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

// UnmarshalJSON decodes a scalar or a flat array.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	parsed, err := ValueOf(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}
