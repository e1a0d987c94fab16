package match

import (
	"regexp"
	"strings"
)

// wildcardKind classifies a literal pattern's wildcard shape so the matcher
// can use substring/equality comparisons instead of regex for the common
// Exact/StartsWith/EndsWith/Contains cases.
type wildcardKind int

const (
	wcExact wildcardKind = iota
	wcStartsWith
	wcEndsWith
	wcContains
	wcRegex // contains wildcards elsewhere; needs a real regex
)

// CompiledPattern is a precompiled match target, built once at load time.
type CompiledPattern struct {
	kind    wildcardKind
	literal string // unescaped literal, case already folded if !cased
	re      *regexp.Regexp
	cased   bool
}

// compileWildcard classifies and compiles a YAML scalar pattern containing
// `*`/`?` glob syntax (or none) into a CompiledPattern. Escapes `\*`, `\?`,
// `\\` are honored.
func compileWildcard(pattern string, cased bool) *CompiledPattern {
	literal, hasGlob, kind := classifyGlob(pattern)
	cp := &CompiledPattern{kind: kind, cased: cased}

	if !hasGlob {
		cp.kind = wcExact
		cp.literal = foldCase(literal, cased)
		return cp
	}

	switch kind {
	case wcStartsWith, wcEndsWith, wcContains:
		cp.literal = foldCase(literal, cased)
		return cp
	default:
		cp.kind = wcRegex
		cp.re = regexp.MustCompile(globToRegex(pattern, cased))
		return cp
	}
}

// classifyGlob strips a single leading/trailing bare "*" (not escaped) and
// reports whether the remaining literal is glob-free, enabling the
// substring/prefix/suffix fast paths. Any other "*"/"?" placement, or any
// interior one, falls back to full regex classification.
func classifyGlob(pattern string) (literal string, hasGlob bool, kind wildcardKind) {
	runes := []rune(pattern)
	n := len(runes)

	// Detect escaped-only occurrences of * and ? first: if none of them
	// appear unescaped, this is a plain exact match.
	unescaped := unescapedWildcardPositions(runes)
	if len(unescaped) == 0 {
		return unescapeLiteral(pattern), false, wcExact
	}

	leadingStar := n > 0 && runes[0] == '*' && contains(unescaped, 0)
	trailingStar := n > 0 && runes[n-1] == '*' && contains(unescaped, n-1)

	switch {
	case leadingStar && trailingStar && len(unescaped) == 2:
		return unescapeLiteral(string(runes[1 : n-1])), true, wcContains
	case leadingStar && len(unescaped) == 1:
		return unescapeLiteral(string(runes[1:])), true, wcEndsWith
	case trailingStar && len(unescaped) == 1:
		return unescapeLiteral(string(runes[:n-1])), true, wcStartsWith
	default:
		return "", true, wcRegex
	}
}

func contains(xs []int, v int) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

func unescapedWildcardPositions(runes []rune) []int {
	var out []int
	for i := 0; i < len(runes); i++ {
		if runes[i] == '\\' {
			i++
			continue
		}
		if runes[i] == '*' || runes[i] == '?' {
			out = append(out, i)
		}
	}
	return out
}

func unescapeLiteral(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		if runes[i] == '\\' && i+1 < len(runes) {
			switch runes[i+1] {
			case '*', '?', '\\':
				b.WriteRune(runes[i+1])
				i++
				continue
			}
		}
		b.WriteRune(runes[i])
	}
	return b.String()
}

func globToRegex(pattern string, cased bool) string {
	var b strings.Builder
	b.WriteString("^")
	runes := []rune(pattern)
	for i := 0; i < len(runes); i++ {
		switch runes[i] {
		case '\\':
			if i+1 < len(runes) && (runes[i+1] == '*' || runes[i+1] == '?' || runes[i+1] == '\\') {
				b.WriteString(regexp.QuoteMeta(string(runes[i+1])))
				i++
			} else {
				b.WriteString(regexp.QuoteMeta(string(runes[i])))
			}
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(runes[i])))
		}
	}
	b.WriteString("$")
	expr := b.String()
	if !cased {
		expr = "(?i)" + expr
	}
	return expr
}

func foldCase(s string, cased bool) string {
	if cased {
		return s
	}
	return strings.ToLower(s)
}

// Match tests one candidate string against the compiled pattern.
func (cp *CompiledPattern) Match(candidate string) bool {
	switch cp.kind {
	case wcExact:
		return foldCase(candidate, cp.cased) == cp.literal
	case wcStartsWith:
		return strings.HasPrefix(foldCase(candidate, cp.cased), cp.literal)
	case wcEndsWith:
		return strings.HasSuffix(foldCase(candidate, cp.cased), cp.literal)
	case wcContains:
		return strings.Contains(foldCase(candidate, cp.cased), cp.literal)
	case wcRegex:
		return cp.re.MatchString(candidate)
	}
	return false
}
