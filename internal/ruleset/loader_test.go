package ruleset

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"evtxsigma/internal/fieldaccess"
	"evtxsigma/internal/match"
	"evtxsigma/pkg/models"
)

func testContext(t *testing.T) *Context {
	t.Helper()
	et, err := fieldaccess.LoadExpansionTable("")
	if err != nil {
		t.Fatalf("LoadExpansionTable: %v", err)
	}
	return &Context{
		Windash:     match.DefaultWindashChars,
		Expansions:  et,
		LevelTuning: map[string]models.Level{},
	}
}

func writeRule(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatalf("write rule %s: %v", name, err)
	}
}

func newRule(fields map[string]interface{}) *models.EventRecord {
	return &models.EventRecord{Fields: fields}
}

func resolver(rec *models.EventRecord) func(string) models.FieldValue {
	acc := fieldaccess.NewAccessor(nil)
	return func(key string) models.FieldValue { return acc.Resolve(rec, key) }
}

func sysRecord(eventID int64, fields map[string]interface{}) *models.EventRecord {
	eventData := map[string]interface{}{}
	for k, v := range fields {
		eventData[k] = v
	}
	return newRule(map[string]interface{}{
		"Event": map[string]interface{}{
			"System":    map[string]interface{}{"EventID": eventID},
			"EventData": eventData,
		},
	})
}

// TestLoadSimpleMatch loads and evaluates a minimal process-creation rule.
func TestLoadSimpleMatch(t *testing.T) {
	dir := t.TempDir()
	writeRule(t, dir, "whoami.yml", `
title: Whoami Execution
id: 11111111-1111-1111-1111-111111111111
status: test
level: medium
logsource:
  category: process_creation
detection:
  selection:
    EventID: 4688
    CommandLine|contains: whoami
  condition: selection
`)
	rules, stats, err := LoadDirectory(dir, testContext(t))
	if err != nil {
		t.Fatalf("LoadDirectory: %v", err)
	}
	if stats.Loaded != 1 || stats.Skipped != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if len(rules) != 1 {
		t.Fatalf("expected 1 rule, got %d", len(rules))
	}
	rule := rules[0]
	if _, ok := rule.EIDHints[4688]; !ok {
		t.Fatalf("expected EventID hint 4688, got %v", rule.EIDHints)
	}

	rec := sysRecord(4688, map[string]interface{}{"CommandLine": `C:\Windows\whoami.exe /all`})
	if !rule.Evaluate(rec, resolver(rec)) {
		t.Fatal("expected rule to match")
	}

	recNoMatch := sysRecord(4688, map[string]interface{}{"CommandLine": `notepad.exe`})
	if rule.Evaluate(recNoMatch, resolver(recNoMatch)) {
		t.Fatal("expected rule not to match")
	}
}

// TestLoadNegationAndGrouping exercises condition (s1 or s2) and not s3.
func TestLoadNegationAndGrouping(t *testing.T) {
	dir := t.TempDir()
	writeRule(t, dir, "grouping.yml", `
title: Grouping Test
id: 22222222-2222-2222-2222-222222222222
status: test
level: low
logsource:
  category: test
detection:
  s1:
    EventID: 1
  s2:
    EventID: 2
  s3:
    EventID: 3
  condition: (s1 or s2) and not s3
`)
	rules, stats, err := LoadDirectory(dir, testContext(t))
	if err != nil {
		t.Fatalf("LoadDirectory: %v", err)
	}
	if stats.Loaded != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	rule := rules[0]

	cases := []struct {
		eventID int64
		want    bool
	}{
		{1, true},
		{2, true},
		{3, false},
		{4, false},
	}
	for _, c := range cases {
		rec := sysRecord(c.eventID, nil)
		if got := rule.Evaluate(rec, resolver(rec)); got != c.want {
			t.Fatalf("EventID=%d: got %v, want %v", c.eventID, got, c.want)
		}
	}
}

// TestLoadEmptySelectionsIsLoadError checks that a detection mapping with
// no selections is a load-time error.
func TestLoadEmptySelectionsIsLoadError(t *testing.T) {
	dir := t.TempDir()
	writeRule(t, dir, "empty.yml", `
title: Empty Detection
id: 33333333-3333-3333-3333-333333333333
status: test
level: low
logsource:
  category: test
detection:
  condition: selection
`)
	rules, stats, err := LoadDirectory(dir, testContext(t))
	if err != nil {
		t.Fatalf("LoadDirectory: %v", err)
	}
	if len(rules) != 0 || stats.Loaded != 0 || stats.Skipped != 1 {
		t.Fatalf("expected the rule to be skipped, got stats=%+v rules=%d", stats, len(rules))
	}
}

// TestLoadUndefinedConditionNameIsLoadError checks that a condition
// referencing an undefined name is a load-time error.
func TestLoadUndefinedConditionNameIsLoadError(t *testing.T) {
	dir := t.TempDir()
	writeRule(t, dir, "undefined.yml", `
title: Undefined Reference
id: 44444444-4444-4444-4444-444444444444
status: test
level: low
logsource:
  category: test
detection:
  selection:
    EventID: 1
  condition: selection_does_not_exist
`)
	_, stats, err := LoadDirectory(dir, testContext(t))
	if err != nil {
		t.Fatalf("LoadDirectory: %v", err)
	}
	if stats.Loaded != 0 || stats.Skipped != 1 {
		t.Fatalf("expected the rule to be skipped, got stats=%+v", stats)
	}
}

// TestLoadCountAggregationSuffix exercises compiling the `| count() >= N,
// timeframe` pipe-clause grammar.
func TestLoadCountAggregationSuffix(t *testing.T) {
	dir := t.TempDir()
	writeRule(t, dir, "count.yml", `
title: Count Aggregation
id: 55555555-5555-5555-5555-555555555555
status: test
level: low
logsource:
  category: test
detection:
  sel:
    EventID: 4625
  condition: sel | count() >= 3
  timeframe: 1m
`)
	rules, stats, err := LoadDirectory(dir, testContext(t))
	if err != nil {
		t.Fatalf("LoadDirectory: %v", err)
	}
	if stats.Loaded != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	agg := rules[0].Agg
	if agg == nil {
		t.Fatal("expected an aggregation clause")
	}
	if agg.CmpNum != 3 || agg.Timeframe != time.Minute {
		t.Fatalf("unexpected clause: %+v", agg)
	}
}

// TestLoadCorrelationResolvesReferences checks that a correlation rule
// resolves its child rule by id.
func TestLoadCorrelationResolvesReferences(t *testing.T) {
	dir := t.TempDir()
	writeRule(t, dir, "failed-logon.yml", `
title: Failed Logon
id: 66666666-6666-6666-6666-666666666666
status: test
level: low
logsource:
  category: test
detection:
  sel:
    EventID: 4625
  condition: sel
`)
	writeRule(t, dir, "failed-logon-corr.yml", `
title: Failed Logon Correlation
id: 77777777-7777-7777-7777-777777777777
status: test
level: high
correlation:
  type: value_count
  rules:
    - 66666666-6666-6666-6666-666666666666
  group-by:
    - Computer
  timespan: 5m
  condition:
    field: TargetUserName
    gte: 3
`)
	rules, stats, err := LoadDirectory(dir, testContext(t))
	if err != nil {
		t.Fatalf("LoadDirectory: %v", err)
	}
	if stats.Loaded != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	var corr *RuleNode
	for _, r := range rules {
		if len(r.ReferencedRuleIDs) > 0 {
			corr = r
		}
	}
	if corr == nil {
		t.Fatal("expected a correlation rule")
	}
	if len(corr.Referenced) != 1 || corr.Referenced[0].ID != "66666666-6666-6666-6666-666666666666" {
		t.Fatalf("correlation rule did not resolve its reference: %+v", corr.Referenced)
	}
	if corr.Agg == nil || corr.Agg.CountField != "TargetUserName" || corr.Agg.ByField != "Computer" {
		t.Fatalf("unexpected correlation clause: %+v", corr.Agg)
	}

	rec := sysRecord(4625, nil)
	if !corr.Evaluate(rec, resolver(rec)) {
		t.Fatal("expected the correlation rule's OR-of-referenced evaluation to match")
	}
}
