package fieldaccess

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func TestLoadAliasTableSkipsHeaderAndResolves(t *testing.T) {
	path := writeTempFile(t, "alias.csv", "alias,dotted.path\nEventID,Event.System.EventID\nCommandLine,Event.EventData.CommandLine\n")

	tbl, err := LoadAliasTable(path)
	if err != nil {
		t.Fatalf("LoadAliasTable: %v", err)
	}
	if tbl.Len() != 2 {
		t.Fatalf("expected 2 aliases, got %d", tbl.Len())
	}
	got, ok := tbl.Resolve("EventID")
	if !ok || got != "Event.System.EventID" {
		t.Fatalf("expected EventID to resolve, got %q, %v", got, ok)
	}
}

func TestLoadAliasTableRejectsDuplicates(t *testing.T) {
	path := writeTempFile(t, "alias.csv", "EventID,Event.System.EventID\nEventID,Event.System.Other\n")

	if _, err := LoadAliasTable(path); err == nil {
		t.Fatalf("expected duplicate alias to error")
	}
}

func TestAliasTableResolveOnNilTable(t *testing.T) {
	var tbl *AliasTable
	if _, ok := tbl.Resolve("EventID"); ok {
		t.Fatalf("expected nil alias table to never resolve")
	}
}

func TestAbbreviationTableExpandFallsBackToValue(t *testing.T) {
	path := writeTempFile(t, "abbrev.csv", "Microsoft-Windows-Sysmon/Operational,Sysmon\n")

	tbl, err := LoadAbbreviationTable(path)
	if err != nil {
		t.Fatalf("LoadAbbreviationTable: %v", err)
	}
	if got := tbl.Expand("Microsoft-Windows-Sysmon/Operational"); got != "Sysmon" {
		t.Fatalf("expected Sysmon, got %q", got)
	}
	if got := tbl.Expand("Unknown-Channel"); got != "Unknown-Channel" {
		t.Fatalf("expected pass-through on miss, got %q", got)
	}
}
