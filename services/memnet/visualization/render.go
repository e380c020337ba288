// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package visualization

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/AleutianAI/memnet/services/memnet/graph"
)

// OutputFormat specifies the visualization output format.
type OutputFormat string

const (
	FormatMermaid OutputFormat = "mermaid"
	FormatDOT     OutputFormat = "dot"
	FormatD3      OutputFormat = "d3"
)

// ErrUnsupportedFormat is returned by Render for an unknown format.
var ErrUnsupportedFormat = errors.New("unsupported format")

// Role fill colours.
const (
	colorAction = "#ff6b6b"
	colorObject = "#74b9ff"
	colorTool   = "#10ac84"
	colorOther  = "#b2bec3"
)

// Tier border colours. Long-term borders use the faded fill colour.
const (
	borderShortTerm = "#d63031"
	borderMidTerm   = "#636e72"
	borderUntagged  = "#333333"
	fadeSuffix      = "80"
)

// Renderer draws memory patterns.
//
// # Description
//
// Each pattern becomes its own cluster. Node fill follows the role and the
// border follows the memory tier. Labels prefer the accessid, then the
// first utterance, then the node ID. Edges are labelled with their link type.
//
// # Thread Safety
//
// Safe for concurrent use.
type Renderer struct {
	options Options
}

// Options configures rendering.
type Options struct {
	// MaxNodes limits the nodes drawn per pattern.
	// Default: 100
	MaxNodes int

	// Direction is the layout direction (TB, LR, BT, RL).
	// Default: "TB"
	Direction string

	// LabelWidth truncates labels longer than this many runes.
	// Default: 40
	LabelWidth int
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		MaxNodes:   100,
		Direction:  "TB",
		LabelWidth: 40,
	}
}

// NewRenderer creates a renderer. A nil opts uses DefaultOptions.
func NewRenderer(opts *Options) *Renderer {
	if opts == nil {
		defaults := DefaultOptions()
		opts = &defaults
	}
	return &Renderer{options: *opts}
}

// Render draws patterns in the requested format.
//
// # Inputs
//
//   - ctx: Context for cancellation.
//   - patterns: The patterns to draw; nil entries are skipped.
//   - format: The output format.
//
// # Outputs
//
//   - string: The rendered document.
//   - error: ErrUnsupportedFormat, or ctx.Err().
func (r *Renderer) Render(ctx context.Context, patterns []*graph.Graph, format OutputFormat) (string, error) {
	if ctx == nil {
		return "", fmt.Errorf("context is required")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	switch format {
	case FormatMermaid:
		return r.mermaid(patterns), nil
	case FormatDOT:
		return r.dot(patterns), nil
	case FormatD3:
		return r.d3(patterns)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}

type drawn struct {
	id     string
	label  string
	fill   string
	border string
}

// nodesOf returns the drawable nodes of one pattern, prefixing local ids
// so clusters never collide.
func (r *Renderer) nodesOf(p *graph.Graph, prefix string) ([]drawn, map[string]string, int) {
	var out []drawn
	ids := make(map[string]string)
	hidden := 0
	i := 0
	for n := range p.Nodes() {
		if r.options.MaxNodes > 0 && i >= r.options.MaxNodes {
			hidden++
			continue
		}
		fill := RoleColor(n.Role())
		d := drawn{
			id:     fmt.Sprintf("%sn%d", prefix, i),
			label:  truncateLabel(n.Label(), r.options.LabelWidth),
			fill:   fill,
			border: TierBorder(n.Tier(), fill),
		}
		ids[n.ID] = d.id
		out = append(out, d)
		i++
	}
	return out, ids, hidden
}

func (r *Renderer) mermaid(patterns []*graph.Graph) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "flowchart %s\n", r.options.Direction)
	for pi, p := range patterns {
		if p == nil {
			continue
		}
		prefix := fmt.Sprintf("p%d", pi)
		nodes, ids, hidden := r.nodesOf(p, prefix)
		fmt.Fprintf(&sb, "    subgraph %s[\"pattern %d\"]\n", prefix, pi)
		for _, d := range nodes {
			fmt.Fprintf(&sb, "        %s[\"%s\"]\n", d.id, escapeMermaidLabel(d.label))
			fmt.Fprintf(&sb, "        style %s fill:%s,stroke:%s,stroke-width:2px\n", d.id, d.fill, d.border)
		}
		if hidden > 0 {
			fmt.Fprintf(&sb, "        %s_more[...%d more]\n", prefix, hidden)
		}
		sb.WriteString("    end\n")
		for _, l := range p.Links() {
			from, ok1 := ids[l.From]
			to, ok2 := ids[l.To]
			if !ok1 || !ok2 {
				continue
			}
			fmt.Fprintf(&sb, "    %s -->|%s| %s\n", from, escapeMermaidLabel(string(l.Type)), to)
		}
	}
	return sb.String()
}

func (r *Renderer) dot(patterns []*graph.Graph) string {
	var sb strings.Builder
	sb.WriteString("digraph MemNet {\n")
	fmt.Fprintf(&sb, "    rankdir=%s;\n", r.options.Direction)
	sb.WriteString("    node [shape=box, style=\"filled,rounded\", penwidth=2];\n")
	for pi, p := range patterns {
		if p == nil {
			continue
		}
		prefix := fmt.Sprintf("p%d", pi)
		nodes, ids, hidden := r.nodesOf(p, prefix)
		fmt.Fprintf(&sb, "\n    subgraph cluster_%d {\n        label=\"pattern %d\";\n", pi, pi)
		for _, d := range nodes {
			fmt.Fprintf(&sb, "        %s [label=\"%s\", fillcolor=\"%s\", color=\"%s\"];\n",
				d.id, escapeDOTLabel(d.label), d.fill, d.border)
		}
		if hidden > 0 {
			fmt.Fprintf(&sb, "        %s_more [label=\"+%d more\", shape=plaintext, style=\"\"];\n", prefix, hidden)
		}
		sb.WriteString("    }\n")
		for _, l := range p.Links() {
			from, ok1 := ids[l.From]
			to, ok2 := ids[l.To]
			if !ok1 || !ok2 {
				continue
			}
			fmt.Fprintf(&sb, "    %s -> %s [label=\"%s\"];\n", from, to, escapeDOTLabel(string(l.Type)))
		}
	}
	sb.WriteString("}\n")
	return sb.String()
}

// D3Node is a node in the D3 force-layout document.
type D3Node struct {
	ID      string `json:"id"`
	Label   string `json:"label"`
	Group   int    `json:"group"`
	Role    string `json:"role,omitempty"`
	Tier    string `json:"tier,omitempty"`
	Fill    string `json:"fill"`
	Border  string `json:"border"`
	NodeKey string `json:"uuid"`
}

// D3Link is a link in the D3 force-layout document.
type D3Link struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Type   string `json:"link_type"`
}

// D3Graph is the D3 force-layout document.
type D3Graph struct {
	Nodes []D3Node `json:"nodes"`
	Links []D3Link `json:"links"`
}

func (r *Renderer) d3(patterns []*graph.Graph) (string, error) {
	doc := D3Graph{Nodes: []D3Node{}, Links: []D3Link{}}
	for pi, p := range patterns {
		if p == nil {
			continue
		}
		prefix := fmt.Sprintf("p%d", pi)
		nodes, ids, _ := r.nodesOf(p, prefix)
		k := 0
		for n := range p.Nodes() {
			if k >= len(nodes) {
				break
			}
			d := nodes[k]
			doc.Nodes = append(doc.Nodes, D3Node{
				ID: d.id, Label: d.label, Group: pi,
				Role: string(n.Role()), Tier: string(n.Tier()),
				Fill: d.fill, Border: d.border, NodeKey: n.ID,
			})
			k++
		}
		for _, l := range p.Links() {
			from, ok1 := ids[l.From]
			to, ok2 := ids[l.To]
			if ok1 && ok2 {
				doc.Links = append(doc.Links, D3Link{Source: from, Target: to, Type: string(l.Type)})
			}
		}
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling D3 document: %w", err)
	}
	return string(data), nil
}

// RoleColor returns the fill colour for a role.
func RoleColor(role graph.Role) string {
	switch role {
	case graph.RoleAction:
		return colorAction
	case graph.RoleObject:
		return colorObject
	case graph.RoleTool:
		return colorTool
	default:
		return colorOther
	}
}

// TierBorder returns the border colour for a tier given the node's fill.
func TierBorder(tier graph.Tier, fill string) string {
	switch tier {
	case graph.TierShortTerm:
		return borderShortTerm
	case graph.TierMidTerm:
		return borderMidTerm
	case graph.TierLongTerm:
		return fill + fadeSuffix
	default:
		return borderUntagged
	}
}

func escapeMermaidLabel(s string) string {
	replacer := strings.NewReplacer(
		"\"", "#quot;",
		"<", "&lt;",
		">", "&gt;",
		"|", "#124;",
	)
	return replacer.Replace(s)
}

func escapeDOTLabel(s string) string {
	replacer := strings.NewReplacer(
		"\\", "\\\\",
		"\"", "\\\"",
		"\n", "\\n",
	)
	return replacer.Replace(s)
}

func truncateLabel(s string, max int) string {
	runes := []rune(s)
	if max <= 3 || len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}
