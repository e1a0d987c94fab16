package fieldaccess

import (
	"strings"

	"evtxsigma/pkg/models"
)

// pwshDataIndex maps a classic PowerShell EventID to the 1-based Data element
// that carries the key=value payload.
var pwshDataIndex = map[int64]int{
	400: 2,
	403: 2,
	600: 2,
	800: 1,
}

// ExtractPowerShellFields injects key=value pairs parsed out of the classic
// PowerShell log's Data payload as top-level EventData fields, in place, so
// later alias/path resolution sees them like any other field. A no-op if the
// record isn't a recognized PowerShell channel/EventID pair, if extraction is
// disabled, or if the payload is missing or malformed.
func ExtractPowerShellFields(rec *models.EventRecord, disabled bool) {
	if disabled || rec == nil {
		return
	}
	if rec.Channel() != "Windows PowerShell" {
		return
	}
	eid, ok := rec.EventID()
	if !ok {
		return
	}
	idx, ok := pwshDataIndex[eid]
	if !ok {
		return
	}

	event, _ := rec.Fields["Event"].(map[string]interface{})
	if event == nil {
		return
	}
	eventData, _ := event["EventData"].(map[string]interface{})
	if eventData == nil {
		return
	}
	data, _ := eventData["Data"].([]interface{})
	if idx < 1 || idx > len(data) {
		return
	}

	payload := dataText(data[idx-1])
	if payload == "" {
		return
	}

	for _, line := range strings.Split(payload, "\t\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		eventData[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
}

func dataText(el interface{}) string {
	switch t := el.(type) {
	case string:
		return t
	case map[string]interface{}:
		if s, ok := t["#text"].(string); ok {
			return s
		}
	}
	return ""
}
