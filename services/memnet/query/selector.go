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
	"fmt"
	"strings"

	"github.com/AleutianAI/memnet/services/memnet/graph"
)

// Selector names one entry of the query table: the role whose patterns are
// returned, and the memory tier they must live in.
type Selector struct {
	Role graph.Role `json:"role"`
	Tier graph.Tier `json:"tier,omitempty"`
}

// Selectors returns the full query table, roles outer and tiers inner, both
// in canonical order.
func Selectors() []Selector {
	roles := graph.Roles()
	tiers := graph.Tiers()
	out := make([]Selector, 0, len(roles)*len(tiers))
	for _, r := range roles {
		for _, t := range tiers {
			out = append(out, Selector{Role: r, Tier: t})
		}
	}
	return out
}

// ParseSelector builds a selector from a role name and a tier name.
func ParseSelector(role, tier string) (Selector, error) {
	r, err := graph.ParseRole(role)
	if err != nil {
		return Selector{}, fmt.Errorf("%w: %w", ErrUnknownSelector, err)
	}
	t, err := graph.ParseTier(tier)
	if err != nil {
		return Selector{}, fmt.Errorf("%w: %w", ErrUnknownSelector, err)
	}
	return Selector{Role: r, Tier: t}, nil
}

// Validate reports whether s is in the table.
func (s Selector) Validate() error {
	if !graph.ValidRoles[s.Role] {
		return fmt.Errorf("%w: role %q", ErrUnknownSelector, s.Role)
	}
	switch s.Tier {
	case graph.TierShortTerm, graph.TierMidTerm, graph.TierLongTerm, graph.TierUntagged:
		return nil
	}
	return fmt.Errorf("%w: tier %q", ErrUnknownSelector, s.Tier)
}

// String renders "tier/role", or just the role when untagged.
func (s Selector) String() string {
	if s.Tier == graph.TierUntagged {
		return string(s.Role)
	}
	var b strings.Builder
	b.WriteString(string(s.Tier))
	b.WriteByte('/')
	b.WriteString(string(s.Role))
	return b.String()
}
