package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// =============================================================================
// Logger
// =============================================================================

func TestFileLoggerRedactsCredentialFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sentineld.log")
	logger, err := New(&Config{
		Level:     LevelInfo,
		Format:    FormatJSON,
		Output:    "file",
		FilePath:  path,
		Component: "test",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	logger.Info("session resumed", "session_token", "sess-abc123", "user", "alice")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	line := string(data)
	if strings.Contains(line, "sess-abc123") {
		t.Error("token value reached the log file")
	}
	if !strings.Contains(line, "[REDACTED]") {
		t.Error("redaction marker missing")
	}
	if !strings.Contains(line, "alice") {
		t.Error("non-sensitive attribute lost")
	}

	var entry map[string]any
	if err := json.Unmarshal(data, &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if entry["component"] != "test" {
		t.Errorf("component = %v", entry["component"])
	}
}

func TestWithComponentTagsLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	logger, err := New(&Config{Format: FormatJSON, Output: "file", FilePath: path})
	if err != nil {
		t.Fatal(err)
	}
	logger.WithComponent("trust").Info("score updated")
	logger.Close()

	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), `"component":"trust"`) {
		t.Errorf("component tag missing: %s", data)
	}
}

func TestLevelFiltersBelowThreshold(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	logger, err := New(&Config{Level: LevelWarn, Output: "file", FilePath: path})
	if err != nil {
		t.Fatal(err)
	}
	logger.Debug("noise")
	logger.Info("also noise")
	logger.Warn("kept")
	logger.Close()

	data, _ := os.ReadFile(path)
	if strings.Contains(string(data), "noise") {
		t.Error("sub-threshold lines written")
	}
	if !strings.Contains(string(data), "kept") {
		t.Error("warn line missing")
	}
}

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"verbose", LevelInfo, true},
	}
	for _, tc := range cases {
		got, err := ParseLevel(tc.in)
		if (err != nil) != tc.wantErr {
			t.Errorf("ParseLevel(%q) err = %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestFileOutputRequiresPath(t *testing.T) {
	if _, err := New(&Config{Output: "file"}); err == nil {
		t.Error("file output without a path must fail")
	}
}

// =============================================================================
// Rotation
// =============================================================================

func TestRotatorRotatesAtSizeAndPrunes(t *testing.T) {
	dir := t.TempDir()
	r := &rotator{
		path:       filepath.Join(dir, "s.log"),
		maxBytes:   32,
		maxBackups: 2,
	}
	if err := r.open(); err != nil {
		t.Fatal(err)
	}

	line := []byte(strings.Repeat("x", 20) + "\n")
	for i := 0; i < 6; i++ {
		if _, err := r.Write(line); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	r.prune()

	matches, err := filepath.Glob(filepath.Join(dir, "s-*.log"))
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) == 0 {
		t.Fatal("no rotated files produced")
	}
	if len(matches) > r.maxBackups {
		t.Errorf("%d backups survive pruning, cap is %d", len(matches), r.maxBackups)
	}

	info, err := os.Stat(r.path)
	if err != nil {
		t.Fatalf("live file: %v", err)
	}
	if info.Size() > r.maxBytes {
		t.Errorf("live file is %d bytes, cap is %d", info.Size(), r.maxBytes)
	}
}

// =============================================================================
// Crash dumps
// =============================================================================

func TestBackToBackPanicsEachLeaveADump(t *testing.T) {
	dir := t.TempDir()
	h := NewCrashHandler(&CrashHandlerConfig{
		CrashDir:  dir,
		Version:   "test",
		Component: "sentineld",
	})

	// All within the same wall-clock second; every panic must still
	// land in its own file.
	h.HandlePanic("first")
	h.HandlePanic("second")
	h.HandlePanic("third")

	reports, err := h.Reports()
	if err != nil {
		t.Fatalf("Reports: %v", err)
	}
	if len(reports) != 3 {
		t.Fatalf("got %d reports, want 3", len(reports))
	}

	seen := map[string]bool{}
	for _, r := range reports {
		seen[r.PanicValue] = true
		if r.Component != "sentineld" || r.Version != "test" {
			t.Errorf("report metadata = %q/%q", r.Component, r.Version)
		}
		if !strings.Contains(r.StackTrace, "goroutine") {
			t.Error("report has no stack trace")
		}
	}
	for _, v := range []string{"first", "second", "third"} {
		if !seen[v] {
			t.Errorf("panic %q lost", v)
		}
	}
}

func TestCleanupOldRemovesOnlyStaleDumps(t *testing.T) {
	dir := t.TempDir()
	h := NewCrashHandler(&CrashHandlerConfig{CrashDir: dir, Component: "sentineld"})

	h.HandlePanic("stale")
	h.HandlePanic("fresh")

	files, err := filepath.Glob(filepath.Join(dir, "crash-*.json"))
	if err != nil || len(files) != 2 {
		t.Fatalf("dumps on disk = %d (%v), want 2", len(files), err)
	}
	old := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(files[0], old, old); err != nil {
		t.Fatal(err)
	}

	if err := h.CleanupOld(24 * time.Hour); err != nil {
		t.Fatalf("CleanupOld: %v", err)
	}
	reports, err := h.Reports()
	if err != nil {
		t.Fatal(err)
	}
	if len(reports) != 1 {
		t.Fatalf("got %d reports after cleanup, want 1", len(reports))
	}
}
