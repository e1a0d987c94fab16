package fieldaccess

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// ExpansionTable holds named literal lists loaded from a directory of .txt
// files: the file name without extension is the list's key, and each
// non-empty line is one literal.
type ExpansionTable struct {
	lists map[string][]string
}

// LoadExpansionTable reads every .txt file directly under dir. An empty or
// absent dir yields an empty table.
func LoadExpansionTable(dir string) (*ExpansionTable, error) {
	et := &ExpansionTable{lists: make(map[string][]string)}
	if dir == "" {
		return et, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return et, nil
		}
		return nil, fmt.Errorf("read expansion dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || strings.ToLower(filepath.Ext(entry.Name())) != ".txt" {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		path := filepath.Join(dir, entry.Name())
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open expansion file %s: %w", path, err)
		}
		var lines []string
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line != "" {
				lines = append(lines, line)
			}
		}
		scanErr := scanner.Err()
		f.Close()
		if scanErr != nil {
			return nil, fmt.Errorf("read expansion file %s: %w", path, scanErr)
		}
		et.lists[name] = lines
	}
	return et, nil
}

// Lookup returns the literal list for a named expansion.
func (et *ExpansionTable) Lookup(name string) ([]string, bool) {
	if et == nil {
		return nil, false
	}
	v, ok := et.lists[name]
	return v, ok
}

var placeholderRe = regexp.MustCompile(`%([A-Za-z0-9_]+)%`)

// Expand replaces every %NAME% occurrence in value with each possible
// combination of the named lists' literals, returning the cross product.
// A value with no placeholders returns itself unchanged. An unresolved NAME is a load-time
// error (returned as err), surfaced by the Rule Loader.
func (et *ExpansionTable) Expand(value string) (results []string, expanded bool, err error) {
	matches := placeholderRe.FindAllStringSubmatchIndex(value, -1)
	if len(matches) == 0 {
		return []string{value}, false, nil
	}

	type segment struct {
		literal string
		choices []string
	}
	var segments []segment
	last := 0
	for _, m := range matches {
		start, end := m[0], m[1]
		nameStart, nameEnd := m[2], m[3]
		if start > last {
			segments = append(segments, segment{literal: value[last:start]})
		}
		name := value[nameStart:nameEnd]
		list, ok := et.Lookup(name)
		if !ok {
			return nil, false, fmt.Errorf("unresolved expansion placeholder %%%s%%", name)
		}
		segments = append(segments, segment{choices: list})
		last = end
	}
	if last < len(value) {
		segments = append(segments, segment{literal: value[last:]})
	}

	results = []string{""}
	for _, seg := range segments {
		var next []string
		if seg.choices == nil {
			for _, r := range results {
				next = append(next, r+seg.literal)
			}
		} else {
			for _, r := range results {
				for _, c := range seg.choices {
					next = append(next, r+c)
				}
			}
		}
		results = next
	}
	return results, true, nil
}
