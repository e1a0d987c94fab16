package scan

import (
	"strings"

	"evtxsigma/internal/ruleset"
	"evtxsigma/pkg/models"
)

// RuleIndex groups rules by their Channel/EventID hints so the pipeline
// only evaluates the selection/condition of rules that could possibly match
// a given record.
type RuleIndex struct {
	byChannel     map[string][]*ruleset.RuleNode
	byEventID     map[int64][]*ruleset.RuleNode
	unconditional []*ruleset.RuleNode
	enableAll     bool
}

// NewRuleIndex builds an index from a loaded rule set. When enableAll is
// set, every rule is treated as unconditional.
func NewRuleIndex(rules []*ruleset.RuleNode, enableAll bool) *RuleIndex {
	idx := &RuleIndex{
		byChannel: make(map[string][]*ruleset.RuleNode),
		byEventID: make(map[int64][]*ruleset.RuleNode),
		enableAll: enableAll,
	}
	for _, r := range rules {
		if r.Hidden {
			continue
		}
		if enableAll || (len(r.ChannelHints) == 0 && len(r.EIDHints) == 0) {
			idx.unconditional = append(idx.unconditional, r)
			continue
		}
		for c := range r.ChannelHints {
			lc := strings.ToLower(c)
			idx.byChannel[lc] = append(idx.byChannel[lc], r)
		}
		for e := range r.EIDHints {
			idx.byEventID[e] = append(idx.byEventID[e], r)
		}
	}
	return idx
}

// Candidates returns the superset of rules that might match rec: every
// unconditional rule, plus rules hinting on rec's channel or event id.
// Duplicates (a rule hinting on both a matching channel and a matching
// event id) are suppressed.
func (idx *RuleIndex) Candidates(rec *models.EventRecord) []*ruleset.RuleNode {
	seen := make(map[*ruleset.RuleNode]struct{}, len(idx.unconditional))
	out := make([]*ruleset.RuleNode, 0, len(idx.unconditional))

	add := func(r *ruleset.RuleNode) {
		if _, ok := seen[r]; ok {
			return
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}

	for _, r := range idx.unconditional {
		add(r)
	}
	for _, r := range idx.byChannel[strings.ToLower(rec.Channel())] {
		add(r)
	}
	if eventID, ok := rec.EventID(); ok {
		for _, r := range idx.byEventID[eventID] {
			add(r)
		}
	}
	return out
}
