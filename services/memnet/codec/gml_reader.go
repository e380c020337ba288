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
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode"

	"github.com/AleutianAI/memnet/services/memnet/graph"
)

var gmlUnescaper = strings.NewReplacer(`&quot;`, `"`, `&amp;`, `&`)

type tokenKind int

const (
	tokKey tokenKind = iota
	tokOpen
	tokClose
	tokString
	tokInt
	tokFloat
	tokEOF
)

type token struct {
	kind tokenKind
	text string
	line int
}

type lexer struct {
	src  []byte
	pos  int
	line int
}

func (l *lexer) next() (token, error) {
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch {
		case c == '\n':
			l.line++
			l.pos++
		case c == ' ' || c == '\t' || c == '\r':
			l.pos++
		case c == '#':
			for l.pos < len(l.src) && l.src[l.pos] != '\n' {
				l.pos++
			}
		default:
			return l.scan()
		}
	}
	return token{kind: tokEOF, line: l.line}, nil
}

func (l *lexer) scan() (token, error) {
	start := l.pos
	c := l.src[l.pos]
	switch {
	case c == '[':
		l.pos++
		return token{kind: tokOpen, line: l.line}, nil
	case c == ']':
		l.pos++
		return token{kind: tokClose, line: l.line}, nil
	case c == '"':
		line := l.line
		l.pos++
		for l.pos < len(l.src) && l.src[l.pos] != '"' {
			if l.src[l.pos] == '\n' {
				l.line++
			}
			l.pos++
		}
		if l.pos >= len(l.src) {
			return token{}, fmt.Errorf("%w: unterminated string at line %d", ErrMalformedGML, line)
		}
		text := string(l.src[start+1 : l.pos])
		l.pos++
		return token{kind: tokString, text: gmlUnescaper.Replace(text), line: line}, nil
	case c == '_' || unicode.IsLetter(rune(c)):
		for l.pos < len(l.src) && (l.src[l.pos] == '_' || isAlnum(l.src[l.pos])) {
			l.pos++
		}
		return token{kind: tokKey, text: string(l.src[start:l.pos]), line: l.line}, nil
	case c == '-' || c == '+' || c == '.' || (c >= '0' && c <= '9'):
		for l.pos < len(l.src) && strings.IndexByte("+-.eE0123456789", l.src[l.pos]) >= 0 {
			l.pos++
		}
		text := string(l.src[start:l.pos])
		if strings.ContainsAny(text, ".eE") {
			return token{kind: tokFloat, text: text, line: l.line}, nil
		}
		return token{kind: tokInt, text: text, line: l.line}, nil
	default:
		return token{}, fmt.Errorf("%w: unexpected %q at line %d", ErrMalformedGML, c, l.line)
	}
}

func isAlnum(c byte) bool {
	return c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

// entry is one key/value pair of a GML list. Exactly one of scalar or list
// is meaningful.
type entry struct {
	key    string
	scalar any
	list   []entry
	isList bool
	line   int
}

type parser struct {
	lex *lexer
	tok token
}

func (p *parser) advance() error {
	t, err := p.lex.next()
	if err != nil {
		return err
	}
	p.tok = t
	return nil
}

// parseList reads key/value pairs until ']' (nested) or EOF (top level).
func (p *parser) parseList(nested bool) ([]entry, error) {
	var out []entry
	for {
		switch p.tok.kind {
		case tokEOF:
			if nested {
				return nil, fmt.Errorf("%w: unexpected end of input", ErrMalformedGML)
			}
			return out, nil
		case tokClose:
			if !nested {
				return nil, fmt.Errorf("%w: unbalanced ']' at line %d", ErrMalformedGML, p.tok.line)
			}
			return out, p.advance()
		case tokKey:
		default:
			return nil, fmt.Errorf("%w: expected key at line %d", ErrMalformedGML, p.tok.line)
		}

		e := entry{key: p.tok.text, line: p.tok.line}
		if err := p.advance(); err != nil {
			return nil, err
		}
		switch p.tok.kind {
		case tokOpen:
			if err := p.advance(); err != nil {
				return nil, err
			}
			list, err := p.parseList(true)
			if err != nil {
				return nil, err
			}
			e.list, e.isList = list, true
			out = append(out, e)
			continue
		case tokString:
			e.scalar = p.tok.text
		case tokInt:
			n, err := strconv.ParseInt(p.tok.text, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: bad integer %q at line %d", ErrMalformedGML, p.tok.text, p.tok.line)
			}
			e.scalar = n
		case tokFloat:
			f, err := strconv.ParseFloat(p.tok.text, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: bad number %q at line %d", ErrMalformedGML, p.tok.text, p.tok.line)
			}
			e.scalar = f
		default:
			return nil, fmt.Errorf("%w: missing value for %s at line %d", ErrMalformedGML, e.key, e.line)
		}
		out = append(out, e)
		if err := p.advance(); err != nil {
			return nil, err
		}
	}
}

// ReadGML parses a GML document into a memory graph.
//
// Description:
//
//	The first top-level "graph" block is read; other top-level keys are
//	ignored. Node keys come from "label" (falling back to a uuid
//	attribute). Repeated keys become lists, and the markers written by
//	WriteGML restore one-element lists and booleans. Every edge must carry
//	link_type; other edge attributes are ignored.
//
// Errors:
//
//	ErrMalformedGML - syntax errors, unknown edge endpoints, missing labels
//	graph errors - invalid roles or tiers, duplicate nodes or links
func ReadGML(r io.Reader, opts ...graph.GraphOption) (*graph.Graph, error) {
	src, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading GML: %w", err)
	}
	p := &parser{lex: &lexer{src: src, line: 1}}
	if err := p.advance(); err != nil {
		return nil, err
	}
	top, err := p.parseList(false)
	if err != nil {
		return nil, err
	}

	var body []entry
	found := false
	for _, e := range top {
		if e.key == "graph" && e.isList {
			body, found = e.list, true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: no graph block", ErrMalformedGML)
	}

	g := graph.New(opts...)
	ids := make(map[int64]string)
	for _, e := range body {
		if e.key != "node" || !e.isList {
			continue
		}
		gmlID, attrs, err := nodeAttrs(e)
		if err != nil {
			return nil, err
		}
		n, err := g.AddNode(attrs)
		if err != nil {
			return nil, fmt.Errorf("node at line %d: %w", e.line, err)
		}
		if _, dup := ids[gmlID]; dup {
			return nil, fmt.Errorf("%w: duplicate node id %d at line %d", ErrMalformedGML, gmlID, e.line)
		}
		ids[gmlID] = n.ID
	}
	for _, e := range body {
		if e.key != "edge" || !e.isList {
			continue
		}
		if err := addEdge(g, ids, e); err != nil {
			return nil, err
		}
	}
	return g, nil
}

func nodeAttrs(e entry) (int64, graph.Attributes, error) {
	var (
		gmlID  int64
		hasID  bool
		label  string
		order  []string
		values = make(map[string][]any)
		lists  = make(map[string]bool)
		bools  = make(map[string]bool)
	)
	for _, kv := range e.list {
		if kv.isList {
			return 0, graph.Attributes{}, fmt.Errorf("%w: nested attribute %s at line %d", ErrMalformedGML, kv.key, kv.line)
		}
		switch {
		case kv.key == "id":
			n, ok := kv.scalar.(int64)
			if !ok {
				return 0, graph.Attributes{}, fmt.Errorf("%w: non-integer node id at line %d", ErrMalformedGML, kv.line)
			}
			gmlID, hasID = n, true
		case kv.key == "label":
			label = fmt.Sprint(kv.scalar)
		case strings.HasSuffix(kv.key, listMarker):
			base := attrName(strings.TrimSuffix(kv.key, listMarker))
			lists[base] = true
			if _, seen := values[base]; !seen {
				order = append(order, base)
				values[base] = nil
			}
		case strings.HasSuffix(kv.key, boolMarker):
			bools[attrName(strings.TrimSuffix(kv.key, boolMarker))] = true
		default:
			key := attrName(kv.key)
			if _, seen := values[key]; !seen {
				order = append(order, key)
			}
			values[key] = append(values[key], kv.scalar)
		}
	}
	if !hasID {
		return 0, graph.Attributes{}, fmt.Errorf("%w: node without id at line %d", ErrMalformedGML, e.line)
	}

	attrs := graph.NewAttributes(len(order) + 1)
	if label != "" && !containsKey(order, graph.KeyID) {
		attrs.SetString(graph.KeyID, label)
	}
	for _, k := range order {
		items := values[k]
		if bools[k] {
			for i, item := range items {
				if n, ok := item.(int64); ok {
					items[i] = n != 0
				}
			}
		}
		if len(items) > 1 || lists[k] {
			attrs.Set(k, graph.AnySet(items...))
		} else if len(items) == 1 {
			attrs.Set(k, graph.Scalar(items[0]))
		}
	}
	if !attrs.Has(graph.KeyID) {
		return 0, graph.Attributes{}, fmt.Errorf("%w: node %d has no label", ErrMalformedGML, gmlID)
	}
	return gmlID, attrs, nil
}

func containsKey(keys []string, k string) bool {
	for _, key := range keys {
		if key == k {
			return true
		}
	}
	return false
}

func addEdge(g *graph.Graph, ids map[int64]string, e entry) error {
	var (
		src, dst       int64
		hasSrc, hasDst bool
		linkType       string
	)
	for _, kv := range e.list {
		switch kv.key {
		case "source":
			src, hasSrc = kv.scalar.(int64)
		case "target":
			dst, hasDst = kv.scalar.(int64)
		case graph.KeyLinkType:
			linkType = fmt.Sprint(kv.scalar)
		}
	}
	if !hasSrc || !hasDst {
		return fmt.Errorf("%w: edge without source/target at line %d", ErrMalformedGML, e.line)
	}
	from, ok1 := ids[src]
	to, ok2 := ids[dst]
	if !ok1 || !ok2 {
		return fmt.Errorf("%w: edge at line %d references unknown node", ErrMalformedGML, e.line)
	}
	if linkType == "" {
		return fmt.Errorf("%w: edge at line %d has no %s", ErrMalformedGML, e.line, graph.KeyLinkType)
	}
	if _, err := g.AddLink(from, to, graph.LinkType(linkType)); err != nil {
		return fmt.Errorf("edge at line %d: %w", e.line, err)
	}
	return nil
}
