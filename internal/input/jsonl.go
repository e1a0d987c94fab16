package input

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"

	"evtxsigma/pkg/models"
)

// JSONLSource reads JSON-lines event files in order, one record per line.
// It implements the scan pipeline's RecordSource contract: a line that fails
// to decode is reported as an error with ok=true so the pipeline counts it
// and keeps going.
type JSONLSource struct {
	paths   []string
	current *os.File
	scanner *bufio.Scanner
	next    int
}

// NewJSONLSource builds a source over one or more files. Files are opened
// lazily; a missing file surfaces as a record error when its turn comes.
func NewJSONLSource(paths []string) *JSONLSource {
	return &JSONLSource{paths: paths}
}

// Next returns the next decoded record. ok=false signals end of input.
func (s *JSONLSource) Next(ctx context.Context) (*models.EventRecord, error, bool) {
	for {
		if s.scanner == nil {
			if s.next >= len(s.paths) {
				return nil, nil, false
			}
			path := s.paths[s.next]
			s.next++
			f, err := os.Open(path)
			if err != nil {
				return nil, fmt.Errorf("open event file: %w", err), true
			}
			s.current = f
			s.scanner = bufio.NewScanner(f)
			s.scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		}

		if !s.scanner.Scan() {
			err := s.scanner.Err()
			s.closeCurrent()
			if err != nil {
				return nil, fmt.Errorf("read event file: %w", err), true
			}
			continue
		}

		line := s.scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		rec, err := Decode(line, s.currentPath())
		if err != nil {
			return nil, err, true
		}
		return rec, nil, true
	}
}

func (s *JSONLSource) currentPath() string {
	if s.next == 0 || s.next > len(s.paths) {
		return ""
	}
	return s.paths[s.next-1]
}

func (s *JSONLSource) closeCurrent() {
	if s.current != nil {
		s.current.Close()
		s.current = nil
	}
	s.scanner = nil
}

// Close releases the currently open file, if any.
func (s *JSONLSource) Close() error {
	s.closeCurrent()
	return nil
}
