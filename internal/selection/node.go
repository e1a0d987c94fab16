// Package selection composes leaf matchers into named selection trees and
// evaluates the boolean condition expression that combines them.
package selection

import (
	"fmt"

	"evtxsigma/internal/match"
	"evtxsigma/pkg/models"
)

// Kind identifies the shape of one selection tree node.
type Kind int

const (
	KindLeaf Kind = iota
	KindAnd
	KindOr
	KindNot
)

// Node is one selection tree, built by walking the YAML under a selection
// key: a mapping becomes And, a sequence becomes Or, a bare scalar becomes a
// keyword Leaf.
type Node struct {
	Kind     Kind
	Leaf     *match.LeafNode
	Children []*Node
}

// Evaluate walks the tree against one record, short-circuiting And/Or.
func (n *Node) Evaluate(rec *models.EventRecord, resolve func(string) models.FieldValue) bool {
	if n == nil {
		return false
	}
	switch n.Kind {
	case KindLeaf:
		return n.Leaf.Evaluate(rec, resolve)
	case KindAnd:
		for _, c := range n.Children {
			if !c.Evaluate(rec, resolve) {
				return false
			}
		}
		return true
	case KindOr:
		for _, c := range n.Children {
			if c.Evaluate(rec, resolve) {
				return true
			}
		}
		return false
	case KindNot:
		return !n.Children[0].Evaluate(rec, resolve)
	}
	return false
}

// Hints is the set of literal Channel/EventID equality values a rule's
// selections test for, used by the scan pipeline as a pre-filter.
type Hints struct {
	Channels map[string]struct{}
	EventIDs map[int64]struct{}
}

func newHints() *Hints {
	return &Hints{Channels: map[string]struct{}{}, EventIDs: map[int64]struct{}{}}
}

func (h *Hints) merge(other *Hints) {
	for c := range other.Channels {
		h.Channels[c] = struct{}{}
	}
	for e := range other.EventIDs {
		h.EventIDs[e] = struct{}{}
	}
}

// Compile builds a Node tree from one selection's raw YAML value (already
// decoded to interface{} by gopkg.in/yaml.v3: map[string]interface{} for a
// mapping, []interface{} for a sequence, a scalar otherwise) plus the hints
// gathered while compiling it.
func Compile(value interface{}, ctx *match.CompileContext) (*Node, *Hints, error) {
	hints := newHints()
	node, err := compileValue(value, ctx, hints)
	if err != nil {
		return nil, nil, err
	}
	return node, hints, nil
}

func compileValue(value interface{}, ctx *match.CompileContext, hints *Hints) (*Node, error) {
	switch v := value.(type) {
	case map[string]interface{}:
		return compileMapping(v, ctx, hints)
	case []interface{}:
		return compileSequence(v, ctx, hints)
	case nil:
		return nil, fmt.Errorf("empty selection")
	default:
		return &Node{Kind: KindLeaf, Leaf: match.NewKeywordLeaf(models.ScalarString(v))}, nil
	}
}

// compileMapping composes sibling keys of a mapping under AND.
func compileMapping(m map[string]interface{}, ctx *match.CompileContext, hints *Hints) (*Node, error) {
	if len(m) == 0 {
		return nil, fmt.Errorf("empty selection mapping")
	}
	node := &Node{Kind: KindAnd}
	for key, val := range m {
		child, err := compileField(key, val, ctx, hints)
		if err != nil {
			return nil, err
		}
		node.Children = append(node.Children, child)
	}
	return node, nil
}

// compileSequence composes sequence elements under OR. An element that is
// itself a mapping is the AND of its own entries; a bare scalar is a
// keyword leaf.
func compileSequence(items []interface{}, ctx *match.CompileContext, hints *Hints) (*Node, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("empty selection sequence")
	}
	node := &Node{Kind: KindOr}
	for _, item := range items {
		switch v := item.(type) {
		case map[string]interface{}:
			child, err := compileMapping(v, ctx, hints)
			if err != nil {
				return nil, err
			}
			node.Children = append(node.Children, child)
		default:
			node.Children = append(node.Children, &Node{Kind: KindLeaf, Leaf: match.NewKeywordLeaf(models.ScalarString(v))})
		}
	}
	return node, nil
}

// compileField builds one `field|pipe1|pipe2: pattern(s)` entry into a Leaf
// node, resolving `|expand` against the expansion table first and
// recording Channel/EventID hints on plain equality leaves.
func compileField(key string, val interface{}, ctx *match.CompileContext, hints *Hints) (*Node, error) {
	field, pipes, err := match.SplitKey(key)
	if err != nil {
		return nil, fmt.Errorf("selection key %q: %w", key, err)
	}

	patterns, pipes, err := applyExpand(field, pipes, valueToPatterns(val), ctx)
	if err != nil {
		return nil, fmt.Errorf("selection key %q: %w", key, err)
	}

	leaf, err := match.CompileLeaf(field, pipes, patterns, ctx)
	if err != nil {
		return nil, fmt.Errorf("selection key %q: %w", key, err)
	}

	if field == "Channel" || field == "EventID" {
		if literals, ok := leaf.LiteralValues(); ok {
			recordHint(hints, field, literals)
		}
	}

	return &Node{Kind: KindLeaf, Leaf: leaf}, nil
}

func recordHint(hints *Hints, field string, literals []string) {
	switch field {
	case "Channel":
		for _, l := range literals {
			hints.Channels[l] = struct{}{}
		}
	case "EventID":
		for _, l := range literals {
			if eid, ok := parseInt(l); ok {
				hints.EventIDs[eid] = struct{}{}
			}
		}
	}
}

func parseInt(s string) (int64, bool) {
	var n int64
	var neg bool
	if s == "" {
		return 0, false
	}
	i := 0
	if s[0] == '-' {
		neg = true
		i = 1
	}
	if i == len(s) {
		return 0, false
	}
	for ; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int64(c-'0')
	}
	if neg {
		n = -n
	}
	return n, true
}

func valueToPatterns(val interface{}) []interface{} {
	switch v := val.(type) {
	case []interface{}:
		return v
	default:
		return []interface{}{v}
	}
}

// applyExpand strips the first |expand pipe (wherever it sits in the pipe
// list) and replaces the raw patterns
// with their expanded literal set, one per %NAME% combination.
func applyExpand(field string, pipes []match.Pipe, rawPatterns []interface{}, ctx *match.CompileContext) ([]interface{}, []match.Pipe, error) {
	idx := -1
	for i, p := range pipes {
		if p == match.PipeExpand {
			idx = i
			break
		}
	}
	if idx < 0 {
		return rawPatterns, pipes, nil
	}
	remaining := make([]match.Pipe, 0, len(pipes)-1)
	remaining = append(remaining, pipes[:idx]...)
	remaining = append(remaining, pipes[idx+1:]...)

	var expanded []interface{}
	for _, raw := range rawPatterns {
		s, ok := raw.(string)
		if !ok {
			return nil, nil, fmt.Errorf("expand pipe on %q requires string patterns", field)
		}
		results, _, err := ctx.Expansions.Expand(s)
		if err != nil {
			return nil, nil, fmt.Errorf("expand pipe on %q: %w", field, err)
		}
		for _, r := range results {
			expanded = append(expanded, r)
		}
	}
	return expanded, remaining, nil
}
