package ruleset

import (
	"sort"

	"evtxsigma/internal/aggregation"
	"evtxsigma/internal/selection"
	"evtxsigma/pkg/models"
)

// RuleNode is one compiled rule.
type RuleNode struct {
	ID       string
	Title    string
	Level    models.Level
	Status   string
	Tags     []string
	Channel  string // Logsource.product, kept for diagnostics
	Category string

	ChannelHints map[string]struct{}
	EIDHints     map[int64]struct{}

	Selections     map[string]*selection.Node
	selectionNames []string // sorted, cached for deterministic glob iteration
	Condition      *selection.Expr

	Agg *aggregation.Clause

	// ReferencedRuleIDs names the rules a correlation rule draws from;
	// empty for a plain rule.
	ReferencedRuleIDs []string
	Referenced        []*RuleNode // resolved during the loader's second pass
	Hidden            bool        // correlation child rules may be hidden via `generate: false`

	ExpandApplied bool // diagnostic only; the loader does not set it, so it is always false

	RawYAML string
	Path    string
}

// SelectionNames returns the sorted selection names, used by condition glob
// expansion for deterministic iteration order.
func (r *RuleNode) SelectionNames() []string {
	if r.selectionNames == nil {
		names := make([]string, 0, len(r.Selections))
		for n := range r.Selections {
			names = append(names, n)
		}
		sort.Strings(names)
		r.selectionNames = names
	}
	return r.selectionNames
}

// Evaluate runs the rule's condition expression against a record. For a
// correlation rule, the effective selection is the OR of every referenced
// rule's own condition.
func (r *RuleNode) Evaluate(rec *models.EventRecord, resolve func(string) models.FieldValue) bool {
	if len(r.Referenced) > 0 {
		for _, ref := range r.Referenced {
			if ref.Evaluate(rec, resolve) {
				return true
			}
		}
		return false
	}
	return r.Condition.Evaluate(r.Selections, r.SelectionNames(), rec, resolve)
}
