package ruleset

import (
	"fmt"
	"strings"

	"evtxsigma/internal/aggregation"
)

// compileCorrelationDoc compiles a rule whose top-level key is `correlation`
// rather than `detection`. Its own
// Selections/Condition stay nil; ReferencedRuleIDs is resolved to concrete
// RuleNodes in the loader's second pass (bindCorrelation).
func compileCorrelationDoc(path, raw string, doc *rawRuleDoc, ctx *Context) (*RuleNode, error) {
	corr := doc.Correlation
	if len(corr.Rules) == 0 {
		return nil, fmt.Errorf("correlation rule lists no referenced rules")
	}

	level, err := resolveLevel(doc.Level, strings.TrimSpace(doc.ID), ctx)
	if err != nil {
		return nil, err
	}

	agg, err := compileCorrelationClause(corr)
	if err != nil {
		return nil, err
	}

	rule := &RuleNode{
		ID:                strings.TrimSpace(doc.ID),
		Title:             doc.Title,
		Status:            doc.Status,
		Level:             level,
		Tags:              doc.Tags,
		ReferencedRuleIDs: append([]string(nil), corr.Rules...),
		Agg:               agg,
		RawYAML:           raw,
		Path:              path,
	}
	if doc.Generate != nil && !*doc.Generate {
		rule.Hidden = true
	}
	if err := validateRule(rule); err != nil {
		return nil, err
	}
	return rule, nil
}

func compileCorrelationClause(corr *rawCorrelation) (*aggregation.Clause, error) {
	timeframe, err := aggregation.ParseTimespan(corr.Timespan)
	if err != nil {
		return nil, fmt.Errorf("correlation timespan: %w", err)
	}

	kind := aggregation.KindEventCount
	switch corr.Type {
	case "event_count", "":
		kind = aggregation.KindEventCount
	case "value_count":
		kind = aggregation.KindValueCount
	default:
		return nil, fmt.Errorf("unsupported correlation type %q", corr.Type)
	}

	op, num, err := correlationCmp(corr.Condition)
	if err != nil {
		return nil, err
	}

	return &aggregation.Clause{
		CountField: corr.Condition.Field,
		ByField:    strings.Join(corr.GroupBy, ","),
		CmpOp:      op,
		CmpNum:     num,
		Timeframe:  timeframe,
		Kind:       kind,
	}, nil
}

func correlationCmp(c rawCorrelationCondition) (aggregation.CmpOp, int64, error) {
	set := 0
	for _, v := range []*int64{c.Eq, c.Lt, c.Lte, c.Gt, c.Gte} {
		if v != nil {
			set++
		}
	}
	if set != 1 {
		return 0, 0, fmt.Errorf("correlation condition must set exactly one of eq/lt/lte/gt/gte")
	}
	switch {
	case c.Eq != nil:
		return aggregation.CmpEq, *c.Eq, nil
	case c.Lt != nil:
		return aggregation.CmpLT, *c.Lt, nil
	case c.Lte != nil:
		return aggregation.CmpLTE, *c.Lte, nil
	case c.Gt != nil:
		return aggregation.CmpGT, *c.Gt, nil
	case c.Gte != nil:
		return aggregation.CmpGTE, *c.Gte, nil
	}
	return 0, 0, fmt.Errorf("correlation condition must set exactly one of eq/lt/lte/gt/gte")
}

// bindCorrelation resolves a correlation rule's referenced rule IDs (each
// may be a rule id or a rule title) into concrete RuleNodes.
func bindCorrelation(rule *RuleNode, byID, byTitle map[string]*RuleNode) error {
	referenced := make([]*RuleNode, 0, len(rule.ReferencedRuleIDs))
	for _, ref := range rule.ReferencedRuleIDs {
		target, ok := byID[ref]
		if !ok {
			target, ok = byTitle[ref]
		}
		if !ok {
			return fmt.Errorf("correlation rule references unknown rule %q", ref)
		}
		referenced = append(referenced, target)
	}
	rule.Referenced = referenced
	return nil
}
