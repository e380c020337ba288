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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestValue_Intersects(t *testing.T) {
	tests := []struct {
		name string
		a, b Value
		want bool
	}{
		{"equal scalars", Scalar("glass"), Scalar("glass"), true},
		{"disjoint scalars", Scalar("glass"), Scalar("cup"), false},
		{"scalar in set", Scalar("glass"), Strings("cup", "glass"), true},
		{"overlapping sets", Strings("a", "b"), Strings("c", "b"), true},
		{"disjoint sets", Strings("a", "b"), Strings("c", "d"), false},
		{"empty set", AnySet(), Strings("a"), false},
		{"int and integral float", Scalar(3), Scalar(3.0), true},
		{"string and int differ", Scalar("3"), Scalar(3), false},
		{"bools", AnySet(true, false), Scalar(false), true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.a.Intersects(tc.b))
			assert.Equal(t, tc.want, tc.b.Intersects(tc.a), "Intersects must be symmetric")
		})
	}
}

func TestValue_Equal(t *testing.T) {
	assert.True(t, Strings("a", "b").Equal(Strings("a", "b")))
	assert.False(t, Strings("a", "b").Equal(Strings("b", "a")), "order matters")
	assert.False(t, Scalar("a").Equal(Strings("a")), "kind matters")
	assert.True(t, Scalar(int32(7)).Equal(Scalar(int64(7))))
}

func TestValueOf(t *testing.T) {
	v, err := ValueOf([]any{"a", json.Number("2"), 1.5, true})
	require.NoError(t, err)
	assert.True(t, v.IsSet())
	assert.Equal(t, []any{"a", int64(2), 1.5, true}, v.Items())

	_, err = ValueOf(map[string]any{"nested": 1})
	assert.ErrorIs(t, err, ErrInvalidValue)

	_, err = ValueOf([]any{[]any{"nested"}})
	assert.ErrorIs(t, err, ErrInvalidValue)

	_, err = ValueOf(nil)
	assert.ErrorIs(t, err, ErrInvalidValue)
}

func TestAttributes_OrderPreserved(t *testing.T) {
	a := MustAttrs("z", 1, "a", 2, "m", 3)
	a.Set("a", Scalar(9))
	assert.Equal(t, []string{"z", "a", "m"}, a.Keys())

	a.Delete("a")
	assert.Equal(t, []string{"z", "m"}, a.Keys())
}

func TestAttributes_JSONRoundTrip(t *testing.T) {
	in := `{"type":"object","utterances":["glass","tumbler"],"weight":2,"memory":"stm"}`

	var a Attributes
	require.NoError(t, json.Unmarshal([]byte(in), &a))
	assert.Equal(t, []string{"type", "utterances", "weight", "memory"}, a.Keys())

	out, err := json.Marshal(a)
	require.NoError(t, err)
	assert.JSONEq(t, in, string(out))
	assert.Equal(t, in, string(out), "key order must survive")
}

func TestAttributes_YAMLRoundTrip(t *testing.T) {
	in := "type: action\nutterances:\n    - hand over\nsteps: 3\n"

	var a Attributes
	require.NoError(t, yaml.Unmarshal([]byte(in), &a))
	assert.Equal(t, []string{"type", "utterances", "steps"}, a.Keys())

	steps, ok := a.Get("steps")
	require.True(t, ok)
	assert.True(t, steps.Equal(Scalar(3)))

	out, err := yaml.Marshal(a)
	require.NoError(t, err)

	var back Attributes
	require.NoError(t, yaml.Unmarshal(out, &back))
	assert.True(t, a.Equal(back))
}

func TestAttributes_Contains(t *testing.T) {
	a := MustAttrs("type", "object", "utterances", []string{"glass"})
	assert.True(t, a.Contains(MustAttrs("type", "object")))
	assert.False(t, a.Contains(MustAttrs("type", "action")))
	assert.False(t, a.Contains(MustAttrs("color", "red")))
	assert.True(t, a.Contains(Attributes{}))
}

func TestParseTier(t *testing.T) {
	tests := map[string]Tier{
		"stm":        TierShortTerm,
		"short-term": TierShortTerm,
		"MTM":        TierMidTerm,
		"long-term":  TierLongTerm,
		"":           TierUntagged,
		"untagged":   TierUntagged,
	}
	for in, want := range tests {
		got, err := ParseTier(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseTier("forever")
	assert.ErrorIs(t, err, ErrInvalidTier)
}

func TestParseRole(t *testing.T) {
	for _, r := range Roles() {
		got, err := ParseRole(string(r))
		require.NoError(t, err)
		assert.Equal(t, r, got)
	}
	_, err := ParseRole("state")
	assert.ErrorIs(t, err, ErrInvalidRole)
}
