// Package ruleset implements the Rule Loader: parsing one Sigma
// YAML document into a compiled RuleNode, including expand substitution,
// selection/condition/aggregation compilation, and channel/EID hinting.
package ruleset

import (
	"fmt"

	"evtxsigma/internal/fieldaccess"
	"evtxsigma/internal/match"
	"evtxsigma/pkg/models"
)

// Context bundles every immutable, load-time collaborator a rule needs to
// compile and later evaluate: the alias table, abbreviation tables, the
// expansion table, the field-data map, the windash character set, and level
// tuning overrides. Built once at startup and threaded by reference into
// every rule and every matcher.
type Context struct {
	Aliases               *fieldaccess.AliasTable
	ChannelAbbreviations  *fieldaccess.AbbreviationTable
	ProviderAbbreviations *fieldaccess.AbbreviationTable
	GenericAbbreviations  *fieldaccess.AbbreviationTable
	Expansions            *fieldaccess.ExpansionTable
	FieldData             *fieldaccess.FieldDataMap
	Windash               []rune
	LevelTuning           map[string]models.Level
	NoPwshFieldExtraction bool
}

// CompileContext projects the subset of Context the leaf matcher needs.
func (c *Context) CompileContext() *match.CompileContext {
	return &match.CompileContext{Windash: c.Windash, Expansions: c.Expansions}
}

// LoadLevelTuning reads a `(rule_id, level)` CSV overlay that forces a
// given rule to a different severity, applied after a rule's level is
// parsed and before validation. An empty path yields an empty overlay.
func LoadLevelTuning(path string) (map[string]models.Level, error) {
	tuning := make(map[string]models.Level)
	if path == "" {
		return tuning, nil
	}
	rows, err := readCSVPairs(path)
	if err != nil {
		return nil, fmt.Errorf("read level tuning file: %w", err)
	}
	for _, row := range rows {
		level, ok := models.ParseLevel(row[1])
		if !ok {
			return nil, fmt.Errorf("level tuning file %s: unknown level %q for rule %q", path, row[1], row[0])
		}
		tuning[row[0]] = level
	}
	return tuning, nil
}
