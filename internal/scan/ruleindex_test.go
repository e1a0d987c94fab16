package scan

import (
	"testing"
	"time"

	"evtxsigma/internal/ruleset"
)

func hintedRule(id string, channels []string, eids []int64) *ruleset.RuleNode {
	r := &ruleset.RuleNode{ID: id, ChannelHints: map[string]struct{}{}, EIDHints: map[int64]struct{}{}}
	for _, c := range channels {
		r.ChannelHints[c] = struct{}{}
	}
	for _, e := range eids {
		r.EIDHints[e] = struct{}{}
	}
	return r
}

func TestRuleIndexCandidates(t *testing.T) {
	security := hintedRule("sec", []string{"Security"}, nil)
	eid1 := hintedRule("eid1", nil, []int64{1})
	both := hintedRule("both", []string{"Security"}, []int64{1})
	always := hintedRule("always", nil, nil)

	idx := NewRuleIndex([]*ruleset.RuleNode{security, eid1, both, always}, false)

	rec := filterRecord(time.Now(), "Security", 1, "A")
	got := map[string]bool{}
	for _, r := range idx.Candidates(rec) {
		if got[r.ID] {
			t.Fatalf("rule %s returned twice", r.ID)
		}
		got[r.ID] = true
	}
	for _, want := range []string{"sec", "eid1", "both", "always"} {
		if !got[want] {
			t.Fatalf("expected candidate %s, got %v", want, got)
		}
	}

	rec = filterRecord(time.Now(), "System", 7, "A")
	cands := idx.Candidates(rec)
	if len(cands) != 1 || cands[0].ID != "always" {
		t.Fatalf("expected only the unconditional rule, got %d candidates", len(cands))
	}
}

func TestRuleIndexEnableAll(t *testing.T) {
	security := hintedRule("sec", []string{"Security"}, nil)
	idx := NewRuleIndex([]*ruleset.RuleNode{security}, true)

	rec := filterRecord(time.Now(), "System", 7, "A")
	if len(idx.Candidates(rec)) != 1 {
		t.Fatal("enable_all_rules must make every rule a candidate")
	}
}

func TestRuleIndexSkipsHiddenRules(t *testing.T) {
	hidden := hintedRule("hidden", nil, nil)
	hidden.Hidden = true
	idx := NewRuleIndex([]*ruleset.RuleNode{hidden}, false)

	rec := filterRecord(time.Now(), "Security", 1, "A")
	if len(idx.Candidates(rec)) != 0 {
		t.Fatal("hidden rules must not be evaluated directly")
	}
}
