package input

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleRecord = `{"Event":{"System":{"Channel":"Security","EventID":4625,"Computer":"HOST01","EventRecordID":4321,"TimeCreated":{"SystemTime":"2024-05-01T12:00:00.1234567Z"}},"EventData":{"TargetUserName":"alice"}}}`

func TestDecode(t *testing.T) {
	rec, err := Decode([]byte(sampleRecord), "sample.jsonl")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if rec.SourcePath != "sample.jsonl" {
		t.Fatalf("unexpected source path %q", rec.SourcePath)
	}
	if rec.RecordID != "4321" {
		t.Fatalf("unexpected record id %q", rec.RecordID)
	}
	want := time.Date(2024, 5, 1, 12, 0, 0, 123456700, time.UTC)
	if !rec.Timestamp.Equal(want) {
		t.Fatalf("unexpected timestamp %v, want %v", rec.Timestamp, want)
	}
	if rec.Channel() != "Security" {
		t.Fatalf("unexpected channel %q", rec.Channel())
	}
	if eid, ok := rec.EventID(); !ok || eid != 4625 {
		t.Fatalf("unexpected event id %d ok=%v", eid, ok)
	}
}

func TestDecodeAttributeVariants(t *testing.T) {
	variants := []string{
		`{"Event":{"System":{"TimeCreated":{"#attributes":{"SystemTime":"2024-05-01T12:00:00Z"}}}}}`,
		`{"Event":{"System":{"TimeCreated_attributes":{"SystemTime":"2024-05-01T12:00:00Z"}}}}`,
	}
	want := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for _, v := range variants {
		rec, err := Decode([]byte(v), "x")
		if err != nil {
			t.Fatalf("Decode(%s): %v", v, err)
		}
		if !rec.Timestamp.Equal(want) {
			t.Fatalf("Decode(%s): timestamp %v, want %v", v, rec.Timestamp, want)
		}
	}
}

func TestDecodeKeepsRawForGrep(t *testing.T) {
	rec, err := Decode([]byte(sampleRecord), "x")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if rec.Grep() != sampleRecord {
		t.Fatal("grep form must be the original serialized record")
	}
}

func TestJSONLSource(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.jsonl")
	content := sampleRecord + "\n\n" + `not json` + "\n" + sampleRecord + "\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write events: %v", err)
	}

	src := NewJSONLSource([]string{path})
	defer src.Close()

	var records, errors int
	for {
		rec, err, ok := src.Next(context.Background())
		if !ok {
			break
		}
		if err != nil {
			errors++
			continue
		}
		if rec.SourcePath != path {
			t.Fatalf("unexpected source path %q", rec.SourcePath)
		}
		records++
	}
	if records != 2 || errors != 1 {
		t.Fatalf("expected 2 records and 1 error, got %d and %d", records, errors)
	}
}

func TestJSONLSourceMultipleFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.jsonl", "b.jsonl"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(sampleRecord+"\n"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	src := NewJSONLSource([]string{filepath.Join(dir, "a.jsonl"), filepath.Join(dir, "b.jsonl")})
	defer src.Close()

	var paths []string
	for {
		rec, err, ok := src.Next(context.Background())
		if !ok {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		paths = append(paths, rec.SourcePath)
	}
	if len(paths) != 2 || filepath.Base(paths[0]) != "a.jsonl" || filepath.Base(paths[1]) != "b.jsonl" {
		t.Fatalf("unexpected file order: %v", paths)
	}
}

func TestJSONLSourceMissingFileIsRecordError(t *testing.T) {
	src := NewJSONLSource([]string{"/nonexistent/events.jsonl"})
	defer src.Close()

	_, err, ok := src.Next(context.Background())
	if !ok || err == nil {
		t.Fatalf("expected a record error for a missing file, got ok=%v err=%v", ok, err)
	}
	if _, _, ok := src.Next(context.Background()); ok {
		t.Fatal("expected end of input after the missing file")
	}
}
