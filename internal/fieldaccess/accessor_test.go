package fieldaccess

import (
	"testing"

	"evtxsigma/pkg/models"
)

func recordFrom(fields map[string]interface{}) *models.EventRecord {
	return &models.EventRecord{Fields: fields}
}

func sampleRecord() *models.EventRecord {
	return recordFrom(map[string]interface{}{
		"Event": map[string]interface{}{
			"System": map[string]interface{}{
				"EventID":  int64(4688),
				"Channel":  "Security",
				"Computer": "WIN-HOST",
			},
			"EventData": map[string]interface{}{
				"CommandLine": `C:\Windows\whoami.exe /all`,
				"Data": []interface{}{
					map[string]interface{}{"Name": "SubjectUserName", "#text": "alice"},
					"positional-value",
				},
			},
		},
	})
}

func TestResolveDottedPath(t *testing.T) {
	a := NewAccessor(nil)
	rec := sampleRecord()

	v := a.Resolve(rec, "Event.System.EventID")
	if v.IsMissing() || v.Scalar != int64(4688) {
		t.Fatalf("expected EventID 4688, got %+v", v)
	}
}

func TestResolveViaAlias(t *testing.T) {
	a := NewAccessor(NewAliasTable(map[string]string{
		"EventID": "Event.System.EventID",
	}))
	rec := sampleRecord()

	v := a.Resolve(rec, "EventID")
	if v.IsMissing() || v.Scalar != int64(4688) {
		t.Fatalf("expected alias resolution to find EventID, got %+v", v)
	}
}

func TestResolveFallsBackToEventDataThenSystem(t *testing.T) {
	a := NewAccessor(nil)
	rec := sampleRecord()

	if v := a.Resolve(rec, "CommandLine"); v.IsMissing() {
		t.Fatalf("expected CommandLine fallback to EventData to succeed")
	}
	if v := a.Resolve(rec, "Computer"); v.IsMissing() {
		t.Fatalf("expected Computer fallback to System to succeed")
	}
	if v := a.Resolve(rec, "NoSuchField"); !v.IsMissing() {
		t.Fatalf("expected missing field to resolve to NoValue, got %+v", v)
	}
}

func TestResolveNamedDataChild(t *testing.T) {
	a := NewAccessor(nil)
	rec := sampleRecord()

	v := a.Resolve(rec, "Event.EventData.SubjectUserName")
	if v.IsMissing() || v.Scalar != "alice" {
		t.Fatalf("expected named Data[] lookup to find alice, got %+v", v)
	}
}

func TestResolvePositionalDataIndex(t *testing.T) {
	a := NewAccessor(nil)
	rec := sampleRecord()

	v := a.Resolve(rec, "Event.EventData.Data[2]")
	if v.IsMissing() || v.Scalar != "positional-value" {
		t.Fatalf("expected Data[2] to resolve positionally, got %+v", v)
	}
}

func TestResolveArrayFanOut(t *testing.T) {
	a := NewAccessor(nil)
	rec := recordFrom(map[string]interface{}{
		"Event": map[string]interface{}{
			"EventData": map[string]interface{}{
				"Hashes": []interface{}{
					map[string]interface{}{"Algorithm": "sha1"},
					map[string]interface{}{"Algorithm": "md5"},
				},
			},
		},
	})

	v := a.Resolve(rec, "Event.EventData.Hashes.Algorithm")
	if v.Kind != models.Array {
		t.Fatalf("expected array fan-out, got %+v", v)
	}
	got := v.Strings()
	if len(got) != 2 || got[0] != "sha1" || got[1] != "md5" {
		t.Fatalf("unexpected fan-out result: %v", got)
	}
}

func TestResolveMissingOnNilRecord(t *testing.T) {
	a := NewAccessor(nil)
	if v := a.Resolve(nil, "EventID"); !v.IsMissing() {
		t.Fatalf("expected nil record to resolve to NoValue")
	}
}
