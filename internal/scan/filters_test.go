package scan

import (
	"testing"
	"time"

	"evtxsigma/pkg/models"
)

func filterRecord(ts time.Time, channel string, eventID int64, computer string) *models.EventRecord {
	return &models.EventRecord{
		Fields: map[string]interface{}{
			"Event": map[string]interface{}{
				"System": map[string]interface{}{
					"Channel":  channel,
					"EventID":  eventID,
					"Computer": computer,
				},
			},
		},
		Timestamp: ts,
	}
}

func TestParseOffset(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
		ok   bool
	}{
		{"1y", 365 * 24 * time.Hour, true},
		{"3M", 3 * 30 * 24 * time.Hour, true},
		{"30d", 30 * 24 * time.Hour, true},
		{"24h", 24 * time.Hour, true},
		{"30m", 30 * time.Minute, true},
		{"", 0, true},
		{"1h30m", 0, false},
		{"d", 0, false},
		{"10x", 0, false},
	}
	for _, c := range cases {
		got, err := ParseOffset(c.in)
		if c.ok && err != nil {
			t.Fatalf("ParseOffset(%q): unexpected error %v", c.in, err)
		}
		if !c.ok {
			if err == nil {
				t.Fatalf("ParseOffset(%q): expected error", c.in)
			}
			continue
		}
		if got != c.want {
			t.Fatalf("ParseOffset(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestFiltersTimeWindow(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	f := &Filters{Window: TimeWindow{Start: base, End: base.Add(time.Hour)}}

	if f.Admit(filterRecord(base.Add(-time.Second), "Security", 1, "A")) {
		t.Fatal("record before window admitted")
	}
	if !f.Admit(filterRecord(base, "Security", 1, "A")) {
		t.Fatal("record at window start rejected")
	}
	if !f.Admit(filterRecord(base.Add(59*time.Minute), "Security", 1, "A")) {
		t.Fatal("record inside window rejected")
	}
	if f.Admit(filterRecord(base.Add(time.Hour), "Security", 1, "A")) {
		t.Fatal("record at window end admitted (end is exclusive)")
	}
}

func TestFiltersIncludeExclude(t *testing.T) {
	f := &Filters{
		ChannelInclude: map[string]struct{}{"Security": {}},
		EventIDExclude: map[int64]struct{}{4672: {}},
		ComputerExclude: map[string]struct{}{
			"NOISY01": {},
		},
	}

	if !f.Admit(filterRecord(time.Now(), "Security", 4624, "HOST01")) {
		t.Fatal("matching record rejected")
	}
	if f.Admit(filterRecord(time.Now(), "System", 4624, "HOST01")) {
		t.Fatal("channel outside include list admitted")
	}
	if f.Admit(filterRecord(time.Now(), "Security", 4672, "HOST01")) {
		t.Fatal("excluded event id admitted")
	}
	if f.Admit(filterRecord(time.Now(), "Security", 4624, "NOISY01")) {
		t.Fatal("excluded computer admitted")
	}
}

func TestNilFiltersAdmitEverything(t *testing.T) {
	var f *Filters
	if !f.Admit(filterRecord(time.Now(), "Anything", 99, "X")) {
		t.Fatal("nil filters must admit every record")
	}
}
