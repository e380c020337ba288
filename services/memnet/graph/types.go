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
	"fmt"
)

// Default configuration values.
const (
	// DefaultMaxNodes is the default maximum number of nodes a graph can hold.
	DefaultMaxNodes = 1_000_000

	// DefaultMaxLinks is the default maximum number of links a graph can hold.
	DefaultMaxLinks = 10_000_000
)

// Link is a directed, typed relationship between two concept nodes.
type Link struct {
	// From is the ID of the source node.
	From string

	// To is the ID of the target node.
	To string

	// Type is the relationship type (spec_to, has_part, ...).
	Type LinkType
}

type linkKey struct {
	from, to string
	typ      LinkType
}

// Node is a concept in the memory graph with its links.
type Node struct {
	// ID is the unique identifier, same as the uuid attribute.
	ID string

	// Attrs holds every attribute including the well-known ones.
	Attrs Attributes

	// Outgoing contains links where this node is the source, in insertion order.
	Outgoing []*Link

	// Incoming contains links where this node is the target, in insertion order.
	Incoming []*Link
}

// Role returns the node's role tag, or "" if absent.
func (n *Node) Role() Role {
	s, _ := n.Attrs.String(KeyRole)
	return Role(s)
}

// Tier returns the node's memory tier, or TierUntagged if absent.
func (n *Node) Tier() Tier {
	s, _ := n.Attrs.String(KeyTier)
	return Tier(s)
}

// Utterances returns the node's lexical labels in order.
func (n *Node) Utterances() []string {
	v, ok := n.Attrs.Get(KeyUtterances)
	if !ok {
		return nil
	}
	return v.Strings()
}

// AccessID returns the canonical access id, or "" if absent.
func (n *Node) AccessID() string {
	s, _ := n.Attrs.String(KeyAccessID)
	return s
}

// Label returns the display label: the access id when present, otherwise
// the primary utterance, otherwise the ID.
func (n *Node) Label() string {
	if id := n.AccessID(); id != "" {
		return id
	}
	if u := n.Utterances(); len(u) > 0 {
		return u[0]
	}
	return n.ID
}

// GraphOptions configures Graph limits.
type GraphOptions struct {
	// MaxNodes is the maximum number of nodes the graph can hold.
	// Default: 1,000,000
	MaxNodes int

	// MaxLinks is the maximum number of links the graph can hold.
	// Default: 10,000,000
	MaxLinks int
}

// DefaultGraphOptions returns sensible defaults for graph configuration.
func DefaultGraphOptions() GraphOptions {
	return GraphOptions{
		MaxNodes: DefaultMaxNodes,
		MaxLinks: DefaultMaxLinks,
	}
}

// GraphOption is a functional option for configuring Graph.
type GraphOption func(*GraphOptions)

// WithMaxNodes sets the maximum number of nodes the graph can hold.
func WithMaxNodes(n int) GraphOption {
	return func(o *GraphOptions) {
		o.MaxNodes = n
	}
}

// WithMaxLinks sets the maximum number of links the graph can hold.
func WithMaxLinks(n int) GraphOption {
	return func(o *GraphOptions) {
		o.MaxLinks = n
	}
}

// Graph is the typed directed memory multigraph.
//
// Thread Safety:
//
//	Graph is NOT safe for concurrent use. One owner serializes all
//	mutation and query calls.
//
// Ordering:
//
//	Nodes and links are kept in insertion order. Every iteration the graph
//	offers follows that order, which makes matching and first-match lookups
//	deterministic.
type Graph struct {
	// nodes maps node ID to Node. Unexported to prevent direct access.
	nodes map[string]*Node

	// order holds nodes in insertion order.
	order []*Node

	// links holds all links in insertion order.
	links []*Link

	// linkIndex rejects same-type parallel links in O(1).
	linkIndex map[linkKey]*Link

	// revision increments on every successful mutation.
	revision uint64

	options GraphOptions
}

// New creates an empty graph.
//
// Example:
//
//	g := graph.New()
//	g := graph.New(graph.WithMaxNodes(10_000))
func New(opts ...GraphOption) *Graph {
	options := DefaultGraphOptions()
	for _, opt := range opts {
		opt(&options)
	}
	return &Graph{
		nodes:     make(map[string]*Node),
		order:     make([]*Node, 0),
		links:     make([]*Link, 0),
		linkIndex: make(map[linkKey]*Link),
		options:   options,
	}
}

// NodeCount returns the number of nodes.
func (g *Graph) NodeCount() int { return len(g.order) }

// LinkCount returns the number of links.
func (g *Graph) LinkCount() int { return len(g.links) }

// Revision returns a counter that changes whenever the graph is mutated.
func (g *Graph) Revision() uint64 { return g.revision }

// AddNode inserts a concept node.
//
// Description:
//
//	The node ID is taken from the uuid attribute, which must be a non-empty
//	string. The role tag, if present, must be one of the fixed roles and the
//	tier tag, if present, one of stm/mtm/ltm. Attributes are copied.
//
// Inputs:
//
//	attrs - The node's attributes, including uuid.
//
// Outputs:
//
//	*Node - The stored node.
//	error - Non-nil if the node is invalid, a duplicate, or over capacity.
//
// Errors:
//
//	ErrInvalidNode - uuid missing or not a string
//	ErrInvalidRole - role tag not in the fixed role set
//	ErrInvalidTier - tier tag not recognized
//	ErrDuplicateNode - Node with same ID already exists
//	ErrMaxNodesExceeded - Graph is at node capacity
func (g *Graph) AddNode(attrs Attributes) (*Node, error) {
	id, ok := attrs.String(KeyID)
	if !ok || id == "" {
		return nil, fmt.Errorf("%w: missing %s", ErrInvalidNode, KeyID)
	}
	if v, ok := attrs.Get(KeyID); ok && v.IsSet() {
		return nil, fmt.Errorf("%w: %s must be a scalar", ErrInvalidNode, KeyID)
	}
	if err := validateTags(attrs); err != nil {
		return nil, err
	}
	if len(g.order) >= g.options.MaxNodes {
		return nil, ErrMaxNodesExceeded
	}
	if _, exists := g.nodes[id]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateNode, id)
	}

	node := &Node{
		ID:       id,
		Attrs:    attrs.Clone(),
		Outgoing: make([]*Link, 0),
		Incoming: make([]*Link, 0),
	}
	g.nodes[id] = node
	g.order = append(g.order, node)
	g.revision++
	return node, nil
}

func validateTags(attrs Attributes) error {
	if v, ok := attrs.Get(KeyRole); ok {
		s, isStr := attrs.String(KeyRole)
		if v.IsSet() || !isStr || !ValidRoles[Role(s)] {
			return fmt.Errorf("%w: %s", ErrInvalidRole, v)
		}
	}
	if v, ok := attrs.Get(KeyTier); ok {
		s, isStr := attrs.String(KeyTier)
		if v.IsSet() || !isStr {
			return fmt.Errorf("%w: %s", ErrInvalidTier, v)
		}
		switch Tier(s) {
		case TierShortTerm, TierMidTerm, TierLongTerm:
		default:
			return fmt.Errorf("%w: %q", ErrInvalidTier, s)
		}
	}
	return nil
}

// GetNode retrieves a node by its ID.
func (g *Graph) GetNode(id string) (*Node, bool) {
	node, exists := g.nodes[id]
	return node, exists
}

// HasNode reports whether a node with the ID exists.
func (g *Graph) HasNode(id string) bool {
	_, ok := g.nodes[id]
	return ok
}

// AddLink creates a typed link between two existing nodes.
//
// Errors:
//
//	ErrInvalidLink - Link type is empty
//	ErrNodeNotFound - Source or target node doesn't exist
//	ErrDuplicateLink - Same-type link already connects the pair
//	ErrMaxLinksExceeded - Graph is at link capacity
func (g *Graph) AddLink(fromID, toID string, linkType LinkType) (*Link, error) {
	if linkType == "" {
		return nil, fmt.Errorf("%w: empty link type", ErrInvalidLink)
	}
	fromNode, ok := g.nodes[fromID]
	if !ok {
		return nil, fmt.Errorf("%w: source %s", ErrNodeNotFound, fromID)
	}
	toNode, ok := g.nodes[toID]
	if !ok {
		return nil, fmt.Errorf("%w: target %s", ErrNodeNotFound, toID)
	}
	key := linkKey{from: fromID, to: toID, typ: linkType}
	if _, exists := g.linkIndex[key]; exists {
		return nil, fmt.Errorf("%w: %s -[%s]-> %s", ErrDuplicateLink, fromID, linkType, toID)
	}
	if len(g.links) >= g.options.MaxLinks {
		return nil, ErrMaxLinksExceeded
	}

	link := &Link{From: fromID, To: toID, Type: linkType}
	g.links = append(g.links, link)
	g.linkIndex[key] = link
	fromNode.Outgoing = append(fromNode.Outgoing, link)
	toNode.Incoming = append(toNode.Incoming, link)
	g.revision++
	return link, nil
}

// HasLink reports whether a link of the given type connects from to to.
func (g *Graph) HasLink(fromID, toID string, linkType LinkType) bool {
	_, ok := g.linkIndex[linkKey{from: fromID, to: toID, typ: linkType}]
	return ok
}

// Connected reports whether any link, of any type, goes from fromID to toID.
func (g *Graph) Connected(fromID, toID string) bool {
	from, ok := g.nodes[fromID]
	if !ok {
		return false
	}
	for _, l := range from.Outgoing {
		if l.To == toID {
			return true
		}
	}
	return false
}

// LinksBetween returns every link from fromID to toID in insertion order.
func (g *Graph) LinksBetween(fromID, toID string) []*Link {
	from, ok := g.nodes[fromID]
	if !ok {
		return nil
	}
	var out []*Link
	for _, l := range from.Outgoing {
		if l.To == toID {
			out = append(out, l)
		}
	}
	return out
}

// RemoveNode deletes a node and every link touching it.
//
// Returns false if the node does not exist. Other endpoints keep their
// attributes; only the incident links go.
func (g *Graph) RemoveNode(id string) bool {
	return g.RemoveNodes([]string{id}) > 0
}

// RemoveNodes deletes a set of nodes and their incident links in one pass.
// Unknown IDs are ignored. Returns the number of nodes removed.
func (g *Graph) RemoveNodes(ids []string) int {
	removed := make(map[string]bool, len(ids))
	for _, id := range ids {
		if _, ok := g.nodes[id]; ok {
			removed[id] = true
		}
	}
	if len(removed) == 0 {
		return 0
	}

	for id := range removed {
		delete(g.nodes, id)
	}
	g.order = filterNodes(g.order, removed)

	kept := g.links[:0]
	for _, l := range g.links {
		if removed[l.From] || removed[l.To] {
			delete(g.linkIndex, linkKey{from: l.From, to: l.To, typ: l.Type})
			continue
		}
		kept = append(kept, l)
	}
	clearTail(g.links, len(kept))
	g.links = kept

	for _, n := range g.order {
		n.Outgoing = filterLinks(n.Outgoing, removed)
		n.Incoming = filterLinks(n.Incoming, removed)
	}
	g.revision++
	return len(removed)
}

// RemoveLink deletes a single typed link. Returns false if absent.
func (g *Graph) RemoveLink(fromID, toID string, linkType LinkType) bool {
	key := linkKey{from: fromID, to: toID, typ: linkType}
	link, ok := g.linkIndex[key]
	if !ok {
		return false
	}
	delete(g.linkIndex, key)
	g.links = dropLink(g.links, link)
	if n, ok := g.nodes[fromID]; ok {
		n.Outgoing = dropLink(n.Outgoing, link)
	}
	if n, ok := g.nodes[toID]; ok {
		n.Incoming = dropLink(n.Incoming, link)
	}
	g.revision++
	return true
}

func filterNodes(nodes []*Node, removed map[string]bool) []*Node {
	kept := nodes[:0]
	for _, n := range nodes {
		if !removed[n.ID] {
			kept = append(kept, n)
		}
	}
	for i := len(kept); i < len(nodes); i++ {
		nodes[i] = nil
	}
	return kept
}

func filterLinks(links []*Link, removed map[string]bool) []*Link {
	kept := links[:0]
	for _, l := range links {
		if !removed[l.From] && !removed[l.To] {
			kept = append(kept, l)
		}
	}
	clearTail(links, len(kept))
	return kept
}

func dropLink(links []*Link, target *Link) []*Link {
	for i, l := range links {
		if l == target {
			copy(links[i:], links[i+1:])
			links[len(links)-1] = nil
			return links[:len(links)-1]
		}
	}
	return links
}

func clearTail(links []*Link, from int) {
	for i := from; i < len(links); i++ {
		links[i] = nil
	}
}

// Nodes returns an iterator over all nodes in insertion order.
//
// Example:
//
//	for node := range g.Nodes() {
//	    fmt.Println(node.ID)
//	}
func (g *Graph) Nodes() func(yield func(*Node) bool) {
	return func(yield func(*Node) bool) {
		for _, node := range g.order {
			if !yield(node) {
				return
			}
		}
	}
}

// NodeIDs returns all node IDs in insertion order.
func (g *Graph) NodeIDs() []string {
	ids := make([]string, len(g.order))
	for i, n := range g.order {
		ids[i] = n.ID
	}
	return ids
}

// Links returns a copy of the link slice in insertion order.
func (g *Graph) Links() []*Link {
	out := make([]*Link, len(g.links))
	copy(out, g.links)
	return out
}

// Successors returns distinct successor IDs in link insertion order.
func (g *Graph) Successors(id string) []string {
	n, ok := g.nodes[id]
	if !ok {
		return nil
	}
	return distinct(n.Outgoing, func(l *Link) string { return l.To })
}

// Predecessors returns distinct predecessor IDs in link insertion order.
func (g *Graph) Predecessors(id string) []string {
	n, ok := g.nodes[id]
	if !ok {
		return nil
	}
	return distinct(n.Incoming, func(l *Link) string { return l.From })
}

func distinct(links []*Link, end func(*Link) string) []string {
	out := make([]string, 0, len(links))
	seen := make(map[string]bool, len(links))
	for _, l := range links {
		id := end(l)
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// InDegree returns the number of distinct predecessors of a node.
func (g *Graph) InDegree(id string) int { return len(g.Predecessors(id)) }

// OutDegree returns the number of distinct successors of a node.
func (g *Graph) OutDegree(id string) int { return len(g.Successors(id)) }

// FindFirst returns the first node, in insertion order, whose attributes
// contain every key of match with an equal value.
//
// This is a linear scan with no index. An empty match returns false: an
// empty locator names no node.
func (g *Graph) FindFirst(match Attributes) (*Node, bool) {
	if match.Len() == 0 {
		return nil, false
	}
	for _, n := range g.order {
		if n.Attrs.Contains(match) {
			return n, true
		}
	}
	return nil, false
}

// Subgraph returns a deep copy of the subgraph induced by ids.
//
// Description:
//
//	Nodes keep this graph's insertion order regardless of the order of ids.
//	Every link of this graph whose endpoints are both selected is copied.
//	Unknown IDs are ignored.
func (g *Graph) Subgraph(ids []string) *Graph {
	keep := make(map[string]bool, len(ids))
	for _, id := range ids {
		if _, ok := g.nodes[id]; ok {
			keep[id] = true
		}
	}
	return g.induced(keep)
}

// SubgraphOf is Subgraph over a set.
func (g *Graph) SubgraphOf(ids map[string]bool) *Graph {
	return g.induced(ids)
}

func (g *Graph) induced(keep map[string]bool) *Graph {
	out := New(func(o *GraphOptions) { *o = g.options })
	for _, n := range g.order {
		if !keep[n.ID] {
			continue
		}
		cp := &Node{
			ID:       n.ID,
			Attrs:    n.Attrs.Clone(),
			Outgoing: make([]*Link, 0),
			Incoming: make([]*Link, 0),
		}
		out.nodes[n.ID] = cp
		out.order = append(out.order, cp)
	}
	for _, l := range g.links {
		if !keep[l.From] || !keep[l.To] {
			continue
		}
		cp := &Link{From: l.From, To: l.To, Type: l.Type}
		out.links = append(out.links, cp)
		out.linkIndex[linkKey{from: l.From, to: l.To, typ: l.Type}] = cp
		out.nodes[l.From].Outgoing = append(out.nodes[l.From].Outgoing, cp)
		out.nodes[l.To].Incoming = append(out.nodes[l.To].Incoming, cp)
	}
	out.revision = 1
	return out
}

// Clone returns a deep copy of the whole graph.
func (g *Graph) Clone() *Graph {
	all := make(map[string]bool, len(g.nodes))
	for id := range g.nodes {
		all[id] = true
	}
	return g.induced(all)
}

// Merge copies every node and link of other that this graph does not yet
// have. Existing nodes keep their attributes.
//
// Outputs:
//
//	nodesAdded, linksAdded - Counts of new elements.
//	error - Non-nil if a capacity limit or validation failed; elements added
//	        before the failure stay.
func (g *Graph) Merge(other *Graph) (nodesAdded, linksAdded int, err error) {
	for _, n := range other.order {
		if g.HasNode(n.ID) {
			continue
		}
		if _, err := g.AddNode(n.Attrs); err != nil {
			return nodesAdded, linksAdded, err
		}
		nodesAdded++
	}
	for _, l := range other.links {
		if g.HasLink(l.From, l.To, l.Type) {
			continue
		}
		if _, err := g.AddLink(l.From, l.To, l.Type); err != nil {
			return nodesAdded, linksAdded, err
		}
		linksAdded++
	}
	return nodesAdded, linksAdded, nil
}

// HubNodes returns the IDs of nodes with zero in-degree, in insertion order.
func (g *Graph) HubNodes() []string {
	var hubs []string
	for _, n := range g.order {
		if len(n.Incoming) == 0 {
			hubs = append(hubs, n.ID)
		}
	}
	return hubs
}

// GraphStats contains statistics about the graph.
type GraphStats struct {
	// NodeCount is the total number of nodes.
	NodeCount int `json:"node_count"`

	// LinkCount is the total number of links.
	LinkCount int `json:"link_count"`

	// NodesByRole counts nodes per role tag; untagged nodes count under "".
	NodesByRole map[Role]int `json:"nodes_by_role"`

	// NodesByTier counts nodes per memory tier; untagged under "".
	NodesByTier map[Tier]int `json:"nodes_by_tier"`

	// LinksByType counts links per link type.
	LinksByType map[LinkType]int `json:"links_by_type"`

	// Revision is the graph revision when the stats were taken.
	Revision uint64 `json:"revision"`
}

// Stats returns statistics about the graph. O(V + E).
func (g *Graph) Stats() GraphStats {
	stats := GraphStats{
		NodeCount:   len(g.order),
		LinkCount:   len(g.links),
		NodesByRole: make(map[Role]int),
		NodesByTier: make(map[Tier]int),
		LinksByType: make(map[LinkType]int),
		Revision:    g.revision,
	}
	for _, n := range g.order {
		stats.NodesByRole[n.Role()]++
		stats.NodesByTier[n.Tier()]++
	}
	for _, l := range g.links {
		stats.LinksByType[l.Type]++
	}
	return stats
}
