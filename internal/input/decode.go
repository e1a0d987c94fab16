// Package input provides the scan pipeline's record sources: JSON-lines
// event files and a Redis list-queue consumer. Both decode into
// models.EventRecord; evtx binary decoding itself is out of scope and
// assumed to have happened upstream.
package input

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"evtxsigma/pkg/models"
)

// timestampLayouts covers the SystemTime renderings seen across evtx-to-JSON
// converters.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999999 MST",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// Decode parses one serialized event record. The raw bytes are retained on
// the record for keyword/grep matching.
func Decode(raw []byte, sourcePath string) (*models.EventRecord, error) {
	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}

	rec := &models.EventRecord{
		Fields:     fields,
		SourcePath: sourcePath,
	}
	rec.SetGrep(string(raw))
	rec.Timestamp = extractTimestamp(fields)
	rec.RecordID = extractRecordID(fields)
	return rec, nil
}

func extractTimestamp(fields map[string]interface{}) time.Time {
	system, ok := dig(fields, "Event", "System")
	if !ok {
		return time.Time{}
	}
	for _, path := range [][]string{
		{"TimeCreated", "SystemTime"},
		{"TimeCreated", "#attributes", "SystemTime"},
		{"TimeCreated_attributes", "SystemTime"},
	} {
		v, ok := dig(system, path...)
		if !ok {
			continue
		}
		s, ok := v.(string)
		if !ok {
			continue
		}
		for _, layout := range timestampLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts.UTC()
			}
		}
	}
	return time.Time{}
}

func extractRecordID(fields map[string]interface{}) string {
	v, ok := dig(fields, "Event", "System", "EventRecordID")
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatInt(int64(t), 10)
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	}
	return ""
}

func dig(node interface{}, path ...string) (interface{}, bool) {
	cur := node
	for _, p := range path {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}
