package ruleset

import "evtxsigma/pkg/models"

// Filter narrows a loaded rule set by level, status, and tag before the
// scan starts. Zero-value fields admit everything.
type Filter struct {
	MinLevel models.Level
	Statuses map[string]struct{}
	Tags     map[string]struct{}
}

// NewFilter builds a Filter from config-style slices.
func NewFilter(minLevel models.Level, statuses, tags []string) *Filter {
	f := &Filter{MinLevel: minLevel}
	if len(statuses) > 0 {
		f.Statuses = make(map[string]struct{}, len(statuses))
		for _, s := range statuses {
			f.Statuses[s] = struct{}{}
		}
	}
	if len(tags) > 0 {
		f.Tags = make(map[string]struct{}, len(tags))
		for _, t := range tags {
			f.Tags[t] = struct{}{}
		}
	}
	return f
}

// Apply returns the rules that pass the filter, preserving order. Correlation
// rules keep their referenced children regardless of the children's own
// level, since dropping a child would silently change the parent's
// semantics; hidden children are excluded from direct output by the rule
// index instead.
func (f *Filter) Apply(rules []*RuleNode) []*RuleNode {
	if f == nil {
		return rules
	}
	out := make([]*RuleNode, 0, len(rules))
	keep := make(map[*RuleNode]bool, len(rules))
	for _, r := range rules {
		if f.admits(r) {
			keep[r] = true
		}
	}
	for _, r := range rules {
		if !keep[r] && !referencedByKept(r, rules, keep) {
			continue
		}
		out = append(out, r)
	}
	return out
}

func (f *Filter) admits(r *RuleNode) bool {
	if r.Level < f.MinLevel {
		return false
	}
	if len(f.Statuses) > 0 {
		if _, ok := f.Statuses[r.Status]; !ok {
			return false
		}
	}
	if len(f.Tags) > 0 {
		found := false
		for _, t := range r.Tags {
			if _, ok := f.Tags[t]; ok {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func referencedByKept(r *RuleNode, rules []*RuleNode, keep map[*RuleNode]bool) bool {
	for _, candidate := range rules {
		if !keep[candidate] {
			continue
		}
		for _, ref := range candidate.Referenced {
			if ref == r {
				return true
			}
		}
	}
	return false
}
