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
	"bufio"
	"fmt"
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/AleutianAI/memnet/services/memnet/graph"
)

// Marker suffixes that carry type information GML cannot express.
const (
	listMarker = "__list"
	boolMarker = "__bool"
)

// attrMarker escapes node attributes named like the structural GML keys.
const attrMarker = "__attr"

// gmlName returns the GML key an attribute is written under.
func gmlName(key string) string {
	if key == "id" || key == "label" {
		return key + attrMarker
	}
	return key
}

// attrName reverses gmlName.
func attrName(name string) string {
	switch name {
	case "id" + attrMarker:
		return "id"
	case "label" + attrMarker:
		return "label"
	}
	return name
}

var gmlKey = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

var gmlEscaper = strings.NewReplacer(`&`, `&amp;`, `"`, `&quot;`)

// WriteGML writes g as a directed multigraph GML document.
//
// Description:
//
//	Nodes are numbered in insertion order and labelled with their ID. Every
//	attribute is written in definition order. Lists become repeated keys;
//	a one-element or empty list also gets a "<key>__list" marker, and
//	boolean values a "<key>__bool" marker, so ReadGML restores them
//	exactly. Attributes named id or label are written as id__attr and
//	label__attr so they do not collide with the node's structural keys.
//	Each link becomes an edge carrying link_type.
//
// Errors:
//
//	ErrUnsupportedKey - an attribute key is not a GML identifier
//	graph.ErrInvalidValue - a non-finite float, or a list mixing booleans
//	                        with other types
func WriteGML(w io.Writer, g *graph.Graph) error {
	bw := bufio.NewWriter(w)
	index := make(map[string]int, g.NodeCount())

	bw.WriteString("graph [\n  directed 1\n  multigraph 1\n")
	i := 0
	for n := range g.Nodes() {
		index[n.ID] = i
		fmt.Fprintf(bw, "  node [\n    id %d\n    label %s\n", i, quote(n.ID))
		for _, k := range n.Attrs.Keys() {
			v, _ := n.Attrs.Get(k)
			if err := writeAttr(bw, k, v); err != nil {
				return fmt.Errorf("node %s: %w", n.ID, err)
			}
		}
		bw.WriteString("  ]\n")
		i++
	}
	for _, l := range g.Links() {
		fmt.Fprintf(bw, "  edge [\n    source %d\n    target %d\n    %s %s\n  ]\n",
			index[l.From], index[l.To], graph.KeyLinkType, quote(string(l.Type)))
	}
	bw.WriteString("]\n")
	return bw.Flush()
}

func writeAttr(w *bufio.Writer, key string, v graph.Value) error {
	if !gmlKey.MatchString(key) ||
		strings.HasSuffix(key, listMarker) ||
		strings.HasSuffix(key, boolMarker) ||
		strings.HasSuffix(key, attrMarker) {
		return fmt.Errorf("%w: %q", ErrUnsupportedKey, key)
	}
	name := gmlName(key)
	items := v.Items()
	bools := 0
	for _, item := range items {
		if _, ok := item.(bool); ok {
			bools++
		}
	}
	if bools > 0 && bools != len(items) {
		return fmt.Errorf("%w: %s mixes booleans with other values", graph.ErrInvalidValue, key)
	}
	for _, item := range items {
		lit, err := literal(item)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		fmt.Fprintf(w, "    %s %s\n", name, lit)
	}
	if v.IsSet() && len(items) <= 1 {
		fmt.Fprintf(w, "    %s%s %d\n", name, listMarker, len(items))
	}
	if bools > 0 {
		fmt.Fprintf(w, "    %s%s 1\n", name, boolMarker)
	}
	return nil
}

func literal(item any) (string, error) {
	switch t := item.(type) {
	case string:
		return quote(t), nil
	case bool:
		if t {
			return "1", nil
		}
		return "0", nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return "", fmt.Errorf("%w: non-finite float", graph.ErrInvalidValue)
		}
		s := strconv.FormatFloat(t, 'g', -1, 64)
		if !strings.ContainsAny(s, ".eE") {
			s += ".0"
		}
		return s, nil
	default:
		return quote(fmt.Sprint(t)), nil
	}
}

func quote(s string) string {
	return `"` + gmlEscaper.Replace(s) + `"`
}
