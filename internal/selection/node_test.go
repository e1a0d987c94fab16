package selection

import (
	"testing"

	"evtxsigma/internal/fieldaccess"
	"evtxsigma/internal/match"
	"evtxsigma/pkg/models"
)

func testContext() *match.CompileContext {
	et, _ := fieldaccess.LoadExpansionTable("")
	return &match.CompileContext{Windash: match.DefaultWindashChars, Expansions: et}
}

func newRecord(fields map[string]interface{}) *models.EventRecord {
	return &models.EventRecord{Fields: fields}
}

func resolverFor(rec *models.EventRecord) func(string) models.FieldValue {
	acc := fieldaccess.NewAccessor(nil)
	return func(key string) models.FieldValue { return acc.Resolve(rec, key) }
}

func TestCompileMappingIsAnd(t *testing.T) {
	node, hints, err := Compile(map[string]interface{}{
		"EventID":            4688,
		"CommandLine|contains": "whoami",
	}, testContext())
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if node.Kind != KindAnd {
		t.Fatalf("expected AND, got %v", node.Kind)
	}
	if _, ok := hints.EventIDs[4688]; !ok {
		t.Fatalf("expected EventID hint 4688, got %v", hints.EventIDs)
	}

	rec := newRecord(map[string]interface{}{
		"Event": map[string]interface{}{
			"System":    map[string]interface{}{"EventID": int64(4688)},
			"EventData": map[string]interface{}{"CommandLine": `C:\Windows\whoami.exe /all`},
		},
	})
	if !node.Evaluate(rec, resolverFor(rec)) {
		t.Fatal("expected match")
	}

	rec2 := newRecord(map[string]interface{}{
		"Event": map[string]interface{}{
			"System":    map[string]interface{}{"EventID": int64(4688)},
			"EventData": map[string]interface{}{"CommandLine": `notepad.exe`},
		},
	})
	if node.Evaluate(rec2, resolverFor(rec2)) {
		t.Fatal("expected no match")
	}
}

func TestCompileSequenceIsOr(t *testing.T) {
	node, _, err := Compile([]interface{}{
		map[string]interface{}{"EventID": 4624},
		map[string]interface{}{"EventID": 4625},
	}, testContext())
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if node.Kind != KindOr {
		t.Fatalf("expected OR, got %v", node.Kind)
	}

	rec := newRecord(map[string]interface{}{
		"Event": map[string]interface{}{"System": map[string]interface{}{"EventID": int64(4625)}},
	})
	if !node.Evaluate(rec, resolverFor(rec)) {
		t.Fatal("expected match on second alternative")
	}
}

func TestCompileKeywordLeaf(t *testing.T) {
	node, _, err := Compile([]interface{}{"mimikatz"}, testContext())
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	rec := newRecord(map[string]interface{}{
		"Event": map[string]interface{}{"EventData": map[string]interface{}{"CommandLine": "run MIMIKATZ now"}},
	})
	if !node.Evaluate(rec, resolverFor(rec)) {
		t.Fatal("expected grep match to be case-insensitive")
	}
}
