package match

import (
	"bufio"
	"os"
	"strings"
)

// DefaultWindashChars is the dash-variant set used when no windash character
// file is configured.
var DefaultWindashChars = []rune{'-', '–', '—', '―'}

// LoadWindashChars reads a one-character-per-line file, taking the first
// rune of each non-empty line. A missing path yields DefaultWindashChars.
func LoadWindashChars(path string) ([]rune, error) {
	if path == "" {
		return DefaultWindashChars, nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultWindashChars, nil
		}
		return nil, err
	}
	defer f.Close()

	var chars []rune
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		chars = append(chars, []rune(line)[0])
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(chars) == 0 {
		return DefaultWindashChars, nil
	}
	return chars, nil
}

// windashVariants expands pattern into one variant per configured dash
// character, substituting at the conventional flag boundary: a leading
// "-" or "/".
func windashVariants(pattern string, chars []rune) []string {
	if len(pattern) == 0 {
		return []string{pattern}
	}
	first := pattern[0]
	if first != '-' && first != '/' {
		return []string{pattern}
	}
	rest := pattern[1:]
	out := make([]string, 0, len(chars)+1)
	out = append(out, pattern)
	for _, c := range chars {
		out = append(out, string(c)+rest)
	}
	return out
}
