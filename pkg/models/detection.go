package models

import "time"

// Level is a rule severity, ordered from least to most urgent.
type Level int

const (
	LevelInformational Level = iota
	LevelLow
	LevelMedium
	LevelHigh
	LevelCritical
)

var levelNames = [...]string{"informational", "low", "medium", "high", "critical"}

// String renders the level the way rule YAML and Detection output expect.
func (l Level) String() string {
	if l < 0 || int(l) >= len(levelNames) {
		return "unknown"
	}
	return levelNames[l]
}

// ParseLevel parses a Sigma level string; ok is false for anything outside
// the allowed set.
func ParseLevel(s string) (Level, bool) {
	for i, name := range levelNames {
		if name == s {
			return Level(i), true
		}
	}
	return 0, false
}

// Detection is one emitted match, produced by the scan pipeline and consumed
// by external writers (CSV/JSON/HTML — out of core scope).
type Detection struct {
	Timestamp     time.Time         `json:"timestamp"`
	RuleID        string            `json:"rule_id"`
	RuleTitle     string            `json:"rule_title"`
	Level         Level             `json:"level"`
	Computer      string            `json:"computer"`
	Channel       string            `json:"channel"`
	EventID       int64             `json:"event_id"`
	RecordID      string            `json:"record_id"`
	SourcePath    string            `json:"source_path"`
	MatchedFields map[string]string `json:"matched_fields,omitempty"`

	// AggregationValue carries the measured count for aggregating/correlating
	// rules; zero for plain per-record matches.
	AggregationValue int64  `json:"aggregation_value,omitempty"`
	AggregationKey   string `json:"aggregation_key,omitempty"`
}
