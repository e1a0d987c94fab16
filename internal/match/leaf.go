package match

import (
	"encoding/base64"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"evtxsigma/internal/fieldaccess"
	"evtxsigma/pkg/models"
)

// numericOp identifies a numeric-compare pipe.
type numericOp int

const (
	opNone numericOp = iota
	opLT
	opLTE
	opGT
	opGTE
)

// CompileContext carries the load-time collaborators a leaf needs to
// compile: the configured windash character set and the expansion table for
// `|expand`. It is part of the immutable EngineContext.
type CompileContext struct {
	Windash    []rune
	Expansions *fieldaccess.ExpansionTable
}

// LeafNode is one compiled `(field, pipes, patterns)` triple. A
// keyword/grep leaf (no key) has Field == "" and matches against the
// record's serialized form instead.
type LeafNode struct {
	Field string

	isKeyword    bool
	keywordLower string

	// patternGroups has one entry per raw YAML pattern; each entry is the set
	// of variants that pattern expanded to (windash/base64offset fan-out),
	// OR'd within the group. Groups are OR'd across each other, unless |all
	// requires every group to be independently satisfied (AND).
	patternGroups [][]*CompiledPattern
	all           bool

	regexGroups [][]*regexp.Regexp // one group per raw pattern; same AND/OR rule

	existsWant   bool
	hasExists    bool
	fieldRefName string // set by fieldref/equalsfield
	isFieldRef   bool

	numOp   numericOp
	numVals []float64
}

// CompileLeaf builds a LeafNode from a raw field key, its pipes, and its
// YAML pattern values (string | number | bool | null | list). Regex
// compilation, base64 pre-computation, and wildcard classification all
// happen here so the scan loop never parses at match time.
func CompileLeaf(field string, pipes []Pipe, rawPatterns []interface{}, ctx *CompileContext) (*LeafNode, error) {
	leaf := &LeafNode{Field: field}

	cased := false
	useAll := false
	var regexFlags struct{ i, m, s bool }
	kind := struct {
		contains, startswith, endswith, re, base64, base64o, windash bool
		utf16le, utf16be, wide, utf16                                bool
	}{}

	for _, p := range pipes {
		switch p {
		case PipeCased:
			cased = true
		case PipeAll:
			useAll = true
		case PipeContains:
			kind.contains = true
		case PipeStartsWith:
			kind.startswith = true
		case PipeEndsWith:
			kind.endswith = true
		case PipeRe, PipeRegex:
			kind.re = true
		case PipeCaseInsensitive:
			regexFlags.i = true
		case PipeMultiline:
			regexFlags.m = true
		case PipeDotAll:
			regexFlags.s = true
		case PipeBase64:
			kind.base64 = true
		case PipeBase64Offset:
			kind.base64o = true
		case PipeUTF16LE:
			kind.utf16le = true
		case PipeUTF16BE:
			kind.utf16be = true
		case PipeWide:
			kind.wide = true
		case PipeUTF16:
			kind.utf16 = true
		case PipeWindash:
			kind.windash = true
		case PipeExists:
			leaf.hasExists = true
		case PipeFieldRef, PipeEqualsField:
			leaf.isFieldRef = true
		case PipeExpand:
			// handled by the Rule Loader before compilation reaches here
		case PipeLT, PipeLTE, PipeGT, PipeGTE:
			leaf.numOp = numericOpFor(p)
		}
	}
	leaf.all = useAll

	if leaf.hasExists {
		want, err := existsBool(rawPatterns)
		if err != nil {
			return nil, err
		}
		leaf.existsWant = want
		return leaf, nil
	}

	if leaf.isFieldRef {
		if len(rawPatterns) != 1 {
			return nil, fmt.Errorf("fieldref/equalsfield on %q requires exactly one pattern", field)
		}
		name, ok := rawPatterns[0].(string)
		if !ok {
			return nil, fmt.Errorf("fieldref/equalsfield on %q requires a string field name", field)
		}
		leaf.fieldRefName = name
		return leaf, nil
	}

	if leaf.numOp != opNone {
		for _, raw := range rawPatterns {
			f, err := toFloat(raw)
			if err != nil {
				return nil, fmt.Errorf("numeric pipe on %q: %w", field, err)
			}
			leaf.numVals = append(leaf.numVals, f)
		}
		return leaf, nil
	}

	if kind.re {
		expr := ""
		flags := ""
		if regexFlags.i || !cased {
			flags += "i"
		}
		if regexFlags.m {
			flags += "m"
		}
		if regexFlags.s {
			flags += "s"
		}
		for _, raw := range rawPatterns {
			s, ok := raw.(string)
			if !ok {
				return nil, fmt.Errorf("re/regex pipe on %q requires string patterns", field)
			}
			expr = s
			if flags != "" {
				expr = "(?" + flags + ")" + expr
			}
			re, err := regexp.Compile(expr)
			if err != nil {
				return nil, fmt.Errorf("compile regex on %q: %w", field, err)
			}
			leaf.regexGroups = append(leaf.regexGroups, []*regexp.Regexp{re})
		}
		return leaf, nil
	}

	var windash []rune
	if kind.windash {
		windash = ctx.Windash
	}

	for _, raw := range rawPatterns {
		variants, err := expandTransforms(raw, kind, windash)
		if err != nil {
			return nil, fmt.Errorf("compile pattern on %q: %w", field, err)
		}
		group := make([]*CompiledPattern, 0, len(variants))
		for _, v := range variants {
			group = append(group, compileOneVariant(v, kind, cased))
		}
		leaf.patternGroups = append(leaf.patternGroups, group)
	}
	return leaf, nil
}

func numericOpFor(p Pipe) numericOp {
	switch p {
	case PipeLT:
		return opLT
	case PipeLTE:
		return opLTE
	case PipeGT:
		return opGT
	case PipeGTE:
		return opGTE
	}
	return opNone
}

func existsBool(raw []interface{}) (bool, error) {
	if len(raw) != 1 {
		return false, fmt.Errorf("exists pipe requires exactly one boolean pattern")
	}
	b, ok := raw[0].(bool)
	if !ok {
		return false, fmt.Errorf("exists pipe requires a boolean pattern")
	}
	return b, nil
}

func toFloat(raw interface{}) (float64, error) {
	switch t := raw.(type) {
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case float64:
		return t, nil
	case string:
		if f, err := strconv.ParseFloat(t, 64); err == nil {
			return f, nil
		}
		if i, err := strconv.ParseInt(t, 10, 64); err == nil {
			return float64(i), nil
		}
		return 0, fmt.Errorf("cannot parse %q as a number", t)
	}
	return 0, fmt.Errorf("unsupported numeric pattern type %T", raw)
}

// expandTransforms applies base64/base64offset/utf16 transforms and windash
// substitution to one raw pattern, returning the resulting OR'd literal
// variants (plain string patterns pass through one variant per windash
// substitution, or just themselves).
func expandTransforms(raw interface{}, kind struct {
	contains, startswith, endswith, re, base64, base64o, windash bool
	utf16le, utf16be, wide, utf16                                bool
}, windash []rune) ([]string, error) {
	s := models.ScalarString(raw)

	if kind.base64 || kind.base64o {
		bytes := []byte(s)
		if kind.utf16le || kind.wide || kind.utf16 {
			bytes = utf16Encode(s, false)
		} else if kind.utf16be {
			bytes = utf16Encode(s, true)
		}
		if kind.base64o {
			offs := base64Offsets(bytes)
			return []string{offs[0], offs[1], offs[2]}, nil
		}
		return []string{base64.StdEncoding.EncodeToString(bytes)}, nil
	}

	if kind.windash {
		return windashVariants(s, windash), nil
	}
	return []string{s}, nil
}

func compileOneVariant(raw string, kind struct {
	contains, startswith, endswith, re, base64, base64o, windash bool
	utf16le, utf16be, wide, utf16                                bool
}, cased bool) *CompiledPattern {
	switch {
	case kind.contains, kind.base64, kind.base64o:
		return &CompiledPattern{kind: wcContains, literal: foldCase(raw, cased), cased: cased}
	case kind.startswith:
		return &CompiledPattern{kind: wcStartsWith, literal: foldCase(raw, cased), cased: cased}
	case kind.endswith:
		return &CompiledPattern{kind: wcEndsWith, literal: foldCase(raw, cased), cased: cased}
	default:
		return compileWildcard(raw, cased)
	}
}

// Evaluate tests this leaf against a record. resolve looks up a dotted/alias
// field key (the leaf's own field, and the target field for
// fieldref/equalsfield); keyword leaves match against rec.Grep(), the
// record's serialized form.
func (l *LeafNode) Evaluate(rec *models.EventRecord, resolve func(string) models.FieldValue) bool {
	if l.isKeyword {
		return strings.Contains(strings.ToLower(rec.Grep()), l.keywordLower)
	}

	value := resolve(l.Field)

	if l.hasExists {
		return !value.IsMissing() == l.existsWant
	}

	if l.isFieldRef {
		other := resolve(l.fieldRefName)
		if value.IsMissing() || other.IsMissing() {
			return false
		}
		return anyCrossEqual(value.Strings(), other.Strings())
	}

	if value.IsMissing() {
		return false
	}

	if l.numOp != opNone {
		return l.evaluateNumeric(value)
	}

	if len(l.regexGroups) > 0 {
		return l.evaluateGroups(value.Strings(), len(l.regexGroups), func(groupIdx int, candidate string) bool {
			for _, re := range l.regexGroups[groupIdx] {
				if re.MatchString(candidate) {
					return true
				}
			}
			return false
		})
	}

	return l.evaluateGroups(value.Strings(), len(l.patternGroups), func(groupIdx int, candidate string) bool {
		for _, p := range l.patternGroups[groupIdx] {
			if p.Match(candidate) {
				return true
			}
		}
		return false
	})
}

// evaluateGroups tests each pattern group against the resolved field values:
// a group is satisfied if any candidate value matches any variant in that
// group (array fan-out is OR). Groups themselves are OR'd across each other,
// unless |all requires every group to be independently satisfied (AND).
func (l *LeafNode) evaluateGroups(candidates []string, numGroups int, groupMatches func(groupIdx int, candidate string) bool) bool {
	if len(candidates) == 0 || numGroups == 0 {
		return false
	}
	if l.all {
		for g := 0; g < numGroups; g++ {
			satisfied := false
			for _, c := range candidates {
				if groupMatches(g, c) {
					satisfied = true
					break
				}
			}
			if !satisfied {
				return false
			}
		}
		return true
	}
	for g := 0; g < numGroups; g++ {
		for _, c := range candidates {
			if groupMatches(g, c) {
				return true
			}
		}
	}
	return false
}

func (l *LeafNode) evaluateNumeric(value models.FieldValue) bool {
	for _, c := range value.Strings() {
		f, err := toFloat(c)
		if err != nil {
			continue
		}
		for _, want := range l.numVals {
			if numericCompare(l.numOp, f, want) {
				return true
			}
		}
	}
	return false
}

func numericCompare(op numericOp, got, want float64) bool {
	switch op {
	case opLT:
		return got < want
	case opLTE:
		return got <= want
	case opGT:
		return got > want
	case opGTE:
		return got >= want
	}
	return false
}

func anyCrossEqual(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if strings.EqualFold(x, y) {
				return true
			}
		}
	}
	return false
}

// LiteralValues returns the literal values this leaf matches by exact
// equality, when it is a plain equality leaf with no contains/startswith/
// endswith/wildcard/regex/numeric/fieldref/exists semantics. Used by the Rule
// Loader to build the Channel/EventID hint index; ok is
// false for anything that isn't a closed set of literal equality checks.
func (l *LeafNode) LiteralValues() (values []string, ok bool) {
	if l.isKeyword || l.hasExists || l.isFieldRef || l.numOp != opNone || len(l.regexGroups) > 0 {
		return nil, false
	}
	for _, group := range l.patternGroups {
		for _, p := range group {
			if p.kind != wcExact {
				return nil, false
			}
			values = append(values, p.literal)
		}
	}
	return values, len(values) > 0
}

// NewKeywordLeaf builds a grep/no-key leaf.
func NewKeywordLeaf(keyword string) *LeafNode {
	return &LeafNode{isKeyword: true, keywordLower: strings.ToLower(keyword)}
}
