package fieldaccess

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"evtxsigma/pkg/models"
)

// fieldRewrite is one `{from: to}` entry under RewriteFieldData.
type fieldRewrite struct {
	From string
	To   string
}

// fieldDataRule is one compiled field-data-mapping document.
type fieldDataRule struct {
	Channel  string
	EventID  int64
	hasEID   bool
	Rewrites map[string][]fieldRewrite
	HexToDec []string
}

type rawFieldDataDoc struct {
	Channel          string                          `yaml:"Channel"`
	EventID          *int64                          `yaml:"EventID"`
	RewriteFieldData map[string][]map[string]string   `yaml:"RewriteFieldData"`
	HexToDecimal     []string                        `yaml:"HexToDecimal"`
}

// FieldDataMap is the compiled set of field-data-mapping rules, applied to a
// record's EventData fields after PowerShell extraction and before rule
// evaluation.
type FieldDataMap struct {
	rules []fieldDataRule
}

// LoadFieldDataMap reads every *.yml/*.yaml document in dir as a field-data
// mapping rule. An empty or absent dir yields an empty, harmless map.
func LoadFieldDataMap(dir string) (*FieldDataMap, error) {
	fdm := &FieldDataMap{}
	if dir == "" {
		return fdm, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return fdm, nil
		}
		return nil, fmt.Errorf("read field data map dir: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yml" && ext != ".yaml" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read field data map file %s: %w", path, err)
		}
		var doc rawFieldDataDoc
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("parse field data map file %s: %w", path, err)
		}

		rule := fieldDataRule{
			Channel:  doc.Channel,
			HexToDec: doc.HexToDecimal,
		}
		if doc.EventID != nil {
			rule.EventID = *doc.EventID
			rule.hasEID = true
		}
		if len(doc.RewriteFieldData) > 0 {
			rule.Rewrites = make(map[string][]fieldRewrite, len(doc.RewriteFieldData))
			for field, entries := range doc.RewriteFieldData {
				for _, m := range entries {
					for from, to := range m {
						rule.Rewrites[field] = append(rule.Rewrites[field], fieldRewrite{From: from, To: to})
					}
				}
			}
		}
		fdm.rules = append(fdm.rules, rule)
	}
	return fdm, nil
}

// Apply rewrites and hex-decodes matching EventData fields on rec in place.
func (fdm *FieldDataMap) Apply(rec *models.EventRecord) {
	if fdm == nil || len(fdm.rules) == 0 || rec == nil {
		return
	}
	channel := rec.Channel()
	eid, hasEID := rec.EventID()

	event, _ := rec.Fields["Event"].(map[string]interface{})
	if event == nil {
		return
	}
	eventData, _ := event["EventData"].(map[string]interface{})
	if eventData == nil {
		return
	}

	for _, rule := range fdm.rules {
		if rule.Channel != "" && rule.Channel != channel {
			continue
		}
		if rule.hasEID && (!hasEID || rule.EventID != eid) {
			continue
		}
		for field, rewrites := range rule.Rewrites {
			v, ok := eventData[field]
			if !ok {
				continue
			}
			s := models.ScalarString(v)
			for _, rw := range rewrites {
				if s == rw.From {
					eventData[field] = rw.To
					break
				}
			}
		}
		for _, field := range rule.HexToDec {
			v, ok := eventData[field]
			if !ok {
				continue
			}
			s := models.ScalarString(v)
			if dec, ok := hexToDecimal(s); ok {
				eventData[field] = dec
			}
		}
	}
}

func hexToDecimal(s string) (string, bool) {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if trimmed == s {
		return "", false
	}
	n, err := strconv.ParseInt(trimmed, 16, 64)
	if err != nil {
		return "", false
	}
	return strconv.FormatInt(n, 10), true
}
