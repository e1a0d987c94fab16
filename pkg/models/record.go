package models

import (
	"sort"
	"time"
)

// EventRecord is the parsed representation of one Windows event. It is a
// recursive tree of object/array/string/number/bool/null nodes, conventionally
// rooted at a top-level "Event" key with System/EventData children. Nothing
// under internal/match or internal/selection mutates Fields; internal/scan
// runs the PowerShell field extraction and the field-data map over Fields in
// place before any rule is evaluated.
type EventRecord struct {
	// Fields is the decoded record tree, normally {"Event": {"System": {...}, "EventData": {...}}}.
	Fields map[string]interface{}

	// SourcePath is the file or stream this record was read from.
	SourcePath string

	// Timestamp is the canonical UTC event time, usually Event.System.TimeCreated.SystemTime.
	Timestamp time.Time

	// RecordID is Event.System.EventRecordID, kept denormalized for fast access
	// by the scan pipeline and for Detection.RecordID.
	RecordID string

	// raw is the pre-serialized string form of the record, used for grep/keyword
	// (no-key) selection matching. It is computed lazily by Grep() and cached.
	raw string
	rawSet bool
}

// Grep returns the case-preserved serialized form of the record, computing it
// on first use from Fields via a deterministic JSON-like rendering.
func (e *EventRecord) Grep() string {
	if e == nil {
		return ""
	}
	if e.rawSet {
		return e.raw
	}
	e.raw = renderGrep(e.Fields)
	e.rawSet = true
	return e.raw
}

// SetGrep overrides the cached grep string, used when the decoder already has
// the original serialized bytes and re-rendering from Fields would be wasteful
// or lossy (e.g. preserving original key order or whitespace).
func (e *EventRecord) SetGrep(s string) {
	e.raw = s
	e.rawSet = true
}

func renderGrep(node interface{}) string {
	var b []byte
	b = appendGrep(b, node)
	return string(b)
}

func appendGrep(b []byte, node interface{}) []byte {
	switch v := node.(type) {
	case map[string]interface{}:
		b = append(b, '{')
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for i, k := range keys {
			if i > 0 {
				b = append(b, ',')
			}
			b = append(b, '"')
			b = append(b, k...)
			b = append(b, '"', ':')
			b = appendGrep(b, v[k])
		}
		b = append(b, '}')
	case []interface{}:
		b = append(b, '[')
		for i, val := range v {
			if i > 0 {
				b = append(b, ',')
			}
			b = appendGrep(b, val)
		}
		b = append(b, ']')
	case string:
		b = append(b, '"')
		b = append(b, v...)
		b = append(b, '"')
	case nil:
		b = append(b, "null"...)
	default:
		b = append(b, ScalarString(v)...)
	}
	return b
}

// Channel resolves the conventional Event.System.Channel field, used by the
// scan pipeline's channel/EID index without going through the full alias
// resolution path.
func (e *EventRecord) Channel() string {
	return e.stringAt("Event", "System", "Channel")
}

// EventID resolves Event.System.EventID.
func (e *EventRecord) EventID() (int64, bool) {
	v := e.at("Event", "System", "EventID")
	switch t := v.(type) {
	case int64:
		return t, true
	case int:
		return int64(t), true
	case float64:
		return int64(t), true
	case string:
		return 0, false
	}
	return 0, false
}

// Computer resolves Event.System.Computer.
func (e *EventRecord) Computer() string {
	return e.stringAt("Event", "System", "Computer")
}

func (e *EventRecord) at(path ...string) interface{} {
	if e == nil || e.Fields == nil {
		return nil
	}
	var cur interface{} = e.Fields
	for _, p := range path {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil
		}
		cur, ok = m[p]
		if !ok {
			return nil
		}
	}
	return cur
}

func (e *EventRecord) stringAt(path ...string) string {
	v := e.at(path...)
	s, _ := v.(string)
	return s
}
