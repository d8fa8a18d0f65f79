package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestPrintfAppendsTimestampedLines(t *testing.T) {
	dir := t.TempDir()
	log, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	log.Printf("agent %s launched", "w1")
	log.Printf("agent %s finished", "w1")
	if err := log.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "conductor.log"))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2: %q", len(lines), lines)
	}
	if !strings.HasSuffix(lines[0], "agent w1 launched") {
		t.Errorf("line 0 = %q", lines[0])
	}
	// Each line carries an RFC3339 timestamp prefix.
	if !strings.Contains(lines[1], "T") || !strings.HasSuffix(lines[1], "agent w1 finished") {
		t.Errorf("line 1 = %q", lines[1])
	}
}

func TestNilLoggerIsSafe(t *testing.T) {
	var log *Logger
	log.Printf("ignored")
	if err := log.Close(); err != nil {
		t.Errorf("Close on nil = %v", err)
	}
}
