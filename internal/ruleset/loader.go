package ruleset

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"evtxsigma/internal/aggregation"
	"evtxsigma/internal/selection"
	"evtxsigma/pkg/models"
)

// Diagnostic is one load-time rule failure: the offending file and why it
// was skipped.
type Diagnostic struct {
	Path   string
	Reason string
}

func (d Diagnostic) Error() string {
	return fmt.Sprintf("%s: %s", d.Path, d.Reason)
}

// Stats tracks load outcomes across a rule directory.
type Stats struct {
	TotalFiles int
	Loaded     int
	Skipped    int
	Errors     []Diagnostic
}

var ruleIDPattern = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

type rawLogsource struct {
	Product    string `yaml:"product"`
	Service    string `yaml:"service"`
	Category   string `yaml:"category"`
	Definition string `yaml:"definition"`
}

type rawCorrelationCondition struct {
	Eq    *int64 `yaml:"eq"`
	Lt    *int64 `yaml:"lt"`
	Lte   *int64 `yaml:"lte"`
	Gt    *int64 `yaml:"gt"`
	Gte   *int64 `yaml:"gte"`
	Field string `yaml:"field"`
}

type rawCorrelation struct {
	Type      string                  `yaml:"type"`
	Rules     []string                `yaml:"rules"`
	GroupBy   []string                `yaml:"group-by"`
	Timespan  string                  `yaml:"timespan"`
	Condition rawCorrelationCondition `yaml:"condition"`
}

type rawRuleDoc struct {
	Title          string                 `yaml:"title"`
	ID             string                 `yaml:"id"`
	Status         string                 `yaml:"status"`
	Description    string                 `yaml:"description"`
	Author         string                 `yaml:"author"`
	Date           string                 `yaml:"date"`
	Modified       string                 `yaml:"modified"`
	Level          string                 `yaml:"level"`
	Tags           []string               `yaml:"tags"`
	Logsource      rawLogsource           `yaml:"logsource"`
	Detection      map[string]interface{} `yaml:"detection"`
	Falsepositives []string               `yaml:"falsepositives"`
	Correlation    *rawCorrelation        `yaml:"correlation"`
	Generate       *bool                  `yaml:"generate"`
}

// LoadDirectory walks dir for *.yml/*.yaml files, compiles each as a rule,
// and resolves correlation references across the whole set. A bad rule is
// skipped and counted; it never aborts the load.
func LoadDirectory(dir string, ctx *Context) ([]*RuleNode, Stats, error) {
	var stats Stats

	var files []string
	err := filepath.WalkDir(dir, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if entry.IsDir() {
			return nil
		}
		if isYAMLFile(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, stats, fmt.Errorf("walk rule directory %s: %w", dir, err)
	}
	stats.TotalFiles = len(files)

	byID := make(map[string]*RuleNode)
	byTitle := make(map[string]*RuleNode)
	var correlating []*RuleNode
	var rules []*RuleNode

	for _, path := range files {
		rule, err := compileFile(path, ctx)
		if err != nil {
			stats.Skipped++
			stats.Errors = append(stats.Errors, Diagnostic{Path: path, Reason: err.Error()})
			continue
		}
		if len(rule.ReferencedRuleIDs) > 0 {
			correlating = append(correlating, rule)
		}
		rules = append(rules, rule)
		if rule.ID != "" {
			byID[rule.ID] = rule
		}
		if rule.Title != "" {
			byTitle[rule.Title] = rule
		}
		stats.Loaded++
	}

	for _, corr := range correlating {
		if err := bindCorrelation(corr, byID, byTitle); err != nil {
			stats.Loaded--
			stats.Skipped++
			stats.Errors = append(stats.Errors, Diagnostic{Path: corr.Path, Reason: err.Error()})
			rules = removeRule(rules, corr)
		}
	}

	return rules, stats, nil
}

func removeRule(rules []*RuleNode, target *RuleNode) []*RuleNode {
	out := rules[:0]
	for _, r := range rules {
		if r != target {
			out = append(out, r)
		}
	}
	return out
}

func isYAMLFile(path string) bool {
	lower := strings.ToLower(path)
	return strings.HasSuffix(lower, ".yml") || strings.HasSuffix(lower, ".yaml")
}

// compileFile parses and compiles one rule file end to end.
func compileFile(path string, ctx *Context) (*RuleNode, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rule file: %w", err)
	}

	var doc rawRuleDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}

	if doc.Correlation != nil {
		return compileCorrelationDoc(path, string(raw), &doc, ctx)
	}

	if len(doc.Detection) == 0 {
		return nil, fmt.Errorf("missing or empty detection mapping")
	}

	rule := &RuleNode{
		ID:       strings.TrimSpace(doc.ID),
		Title:    doc.Title,
		Status:   doc.Status,
		Tags:     doc.Tags,
		Channel:  doc.Logsource.Product,
		Category: doc.Logsource.Category,
		RawYAML:  string(raw),
		Path:     path,
	}
	if doc.Generate != nil && !*doc.Generate {
		rule.Hidden = true
	}

	level, err := resolveLevel(doc.Level, rule.ID, ctx)
	if err != nil {
		return nil, err
	}
	rule.Level = level

	selections, hints, err := compileSelections(doc.Detection, ctx)
	if err != nil {
		return nil, err
	}
	rule.Selections = selections
	rule.ChannelHints = hints.Channels
	rule.EIDHints = hints.EventIDs

	condStr, aggStr, err := extractCondition(doc.Detection, selections)
	if err != nil {
		return nil, err
	}

	cond, err := compileCondition(condStr, selections)
	if err != nil {
		return nil, err
	}
	rule.Condition = cond

	if aggStr != "" {
		agg, err := compileAggregationSuffix(aggStr, doc.Detection)
		if err != nil {
			return nil, fmt.Errorf("aggregation clause: %w", err)
		}
		rule.Agg = agg
	}

	if err := validateRule(rule); err != nil {
		return nil, err
	}
	return rule, nil
}

// resolveLevel parses the rule's level, applies a level-tuning overlay, and
// validates it against the allowed set.
func resolveLevel(levelStr, ruleID string, ctx *Context) (models.Level, error) {
	if tuned, ok := ctx.LevelTuning[ruleID]; ok {
		return tuned, nil
	}
	level, ok := models.ParseLevel(strings.ToLower(strings.TrimSpace(levelStr)))
	if !ok {
		return 0, fmt.Errorf("invalid level %q", levelStr)
	}
	return level, nil
}

// compileSelections compiles every detection key except "condition" and
// "timeframe" into a named SelectionNode.
func compileSelections(detection map[string]interface{}, ctx *Context) (map[string]*selection.Node, *selection.Hints, error) {
	selections := make(map[string]*selection.Node)
	merged := &selection.Hints{Channels: map[string]struct{}{}, EventIDs: map[int64]struct{}{}}

	for key, val := range detection {
		if key == "condition" || key == "timeframe" {
			continue
		}
		node, hints, err := selection.Compile(val, ctx.CompileContext())
		if err != nil {
			return nil, nil, fmt.Errorf("selection %q: %w", key, err)
		}
		selections[key] = node
		for c := range hints.Channels {
			merged.Channels[c] = struct{}{}
		}
		for e := range hints.EventIDs {
			merged.EventIDs[e] = struct{}{}
		}
	}
	if len(selections) == 0 {
		return nil, nil, fmt.Errorf("detection has no selections")
	}
	return selections, merged, nil
}

// extractCondition splits the raw condition string (if any) into its boolean
// part and its aggregation-clause suffix after the first top-level `|`.
// If condition is absent and exactly one selection exists, it defaults to
// that selection's name.
func extractCondition(detection map[string]interface{}, selections map[string]*selection.Node) (conditionText, aggText string, err error) {
	raw, ok := detection["condition"]
	if !ok {
		if len(selections) != 1 {
			return "", "", fmt.Errorf("condition is required when more than one selection is defined")
		}
		for name := range selections {
			return name, "", nil
		}
	}
	s, ok := raw.(string)
	if !ok {
		return "", "", fmt.Errorf("condition must be a string")
	}
	before, after, found := strings.Cut(s, "|")
	if !found {
		return strings.TrimSpace(s), "", nil
	}
	return strings.TrimSpace(before), strings.TrimSpace(after), nil
}

func compileCondition(condText string, selections map[string]*selection.Node) (*selection.Expr, error) {
	expr, err := selection.Parse(condText)
	if err != nil {
		return nil, fmt.Errorf("condition: %w", err)
	}
	for _, name := range expr.Names() {
		if _, ok := selections[name]; !ok {
			return nil, fmt.Errorf("condition references undefined selection %q", name)
		}
	}
	return expr, nil
}

// aggClauseRe matches the `count(FIELD?) by FIELD? <cmp> NUM` grammar.
var aggClauseRe = regexp.MustCompile(`^count\(\s*([A-Za-z0-9_.]*)\s*\)(?:\s+by\s+([A-Za-z0-9_.]+))?\s*(==|<=|>=|<|>)\s*(\d+)\s*$`)

func compileAggregationSuffix(aggText string, detection map[string]interface{}) (*aggregation.Clause, error) {
	m := aggClauseRe.FindStringSubmatch(aggText)
	if m == nil {
		return nil, fmt.Errorf("unrecognized aggregation clause %q", aggText)
	}
	countField, byField, opStr, numStr := m[1], m[2], m[3], m[4]

	op, err := parseCmpSymbol(opStr)
	if err != nil {
		return nil, err
	}
	num, err := strconv.ParseInt(numStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid count %q: %w", numStr, err)
	}

	var timeframe time.Duration
	if raw, ok := detection["timeframe"]; ok {
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("timeframe must be a string")
		}
		timeframe, err = aggregation.ParseTimespan(s)
		if err != nil {
			return nil, err
		}
	}

	kind := aggregation.KindEventCount
	if countField != "" {
		kind = aggregation.KindValueCount
	}

	return &aggregation.Clause{
		CountField: countField,
		ByField:    byField,
		CmpOp:      op,
		CmpNum:     num,
		Timeframe:  timeframe,
		Kind:       kind,
	}, nil
}

func parseCmpSymbol(s string) (aggregation.CmpOp, error) {
	switch s {
	case "==":
		return aggregation.CmpEq, nil
	case "<":
		return aggregation.CmpLT, nil
	case "<=":
		return aggregation.CmpLTE, nil
	case ">":
		return aggregation.CmpGT, nil
	case ">=":
		return aggregation.CmpGTE, nil
	}
	return 0, fmt.Errorf("unknown comparison operator %q", s)
}

func validateRule(rule *RuleNode) error {
	if rule.ID != "" && !ruleIDPattern.MatchString(rule.ID) {
		return fmt.Errorf("id %q is not a UUID", rule.ID)
	}
	return nil
}
