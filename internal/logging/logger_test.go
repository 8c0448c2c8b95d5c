package logging_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"audiorouter/internal/logging"
)

func TestConsoleLoggerOmitsCallerForInfo(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console-info.log")

	logger, err := logging.New(logging.Options{
		Format:           "console",
		Level:            "info",
		OutputPaths:      []string{logPath},
		ErrorOutputPaths: []string{logPath},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logger.Info("message without caller")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if strings.Contains(string(content), ".go:") {
		t.Fatalf("expected no caller information in info logs, got %q", content)
	}
}

func TestConsoleLoggerIncludesCallerForDebug(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console-debug.log")

	logger, err := logging.New(logging.Options{
		Format:           "console",
		Level:            "debug",
		OutputPaths:      []string{logPath},
		ErrorOutputPaths: []string{logPath},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logger.Info("message with caller")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(content), ".go:") {
		t.Fatalf("expected caller information in debug logs, got %q", content)
	}
}

func TestConsoleLoggerRendersComponentAndPassID(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console.log")
	logger, err := logging.New(logging.Options{Format: "console", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	ctx := logging.WithPassID(context.Background(), "0123456789abcdef")
	component := logging.NewComponentLogger(logger, "reconcile")
	logging.WithContext(ctx, component).Info("pass complete", logging.Int("streams_moved", 2))

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	line := string(content)
	for _, want := range []string{"reconcile: ", "[01234567]", "pass complete", "streams_moved=2"} {
		if !strings.Contains(line, want) {
			t.Fatalf("expected %q in %q", want, line)
		}
	}
	if strings.Contains(line, "component=") {
		t.Fatalf("component should render as prefix, got %q", line)
	}
}

func TestJSONLoggerUsesTSKey(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "json.log")
	logger, err := logging.New(logging.Options{Format: "json", Level: "debug", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Info("json message", logging.String("bus", "vsink.music"))

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var record map[string]any
	if err := json.Unmarshal(content, &record); err != nil {
		t.Fatalf("decode json record: %v", err)
	}
	if _, ok := record["ts"]; !ok {
		t.Fatalf("expected ts key, got %v", record)
	}
	if record["level"] != "info" {
		t.Fatalf("expected lowercase level, got %v", record["level"])
	}
	if record["bus"] != "vsink.music" {
		t.Fatalf("expected bus attribute, got %v", record["bus"])
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestWarnWithContextInjectsDefaults(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "warn.log")
	logger, err := logging.New(logging.Options{Format: "json", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logging.WarnWithContext(logger, "route skipped", "route_skipped")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var record map[string]any
	if err := json.Unmarshal(content, &record); err != nil {
		t.Fatalf("decode json record: %v", err)
	}
	for _, key := range []string{logging.FieldEventType, logging.FieldErrorHint, logging.FieldImpact} {
		if _, ok := record[key]; !ok {
			t.Fatalf("expected %s in %v", key, record)
		}
	}
}

func writeAged(t *testing.T, path string, age time.Duration) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	stamp := time.Now().Add(-age)
	if err := os.Chtimes(path, stamp, stamp); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestRetentionPrunesExpiredRuns(t *testing.T) {
	dir := t.TempDir()
	month := 30 * 24 * time.Hour
	run := func(id string) string { return filepath.Join(dir, logging.RunLogName(id)) }
	snapshot := func(id string) string { return filepath.Join(dir, logging.SnapshotDir, logging.SnapshotName(id)) }

	writeAged(t, run("20260101T000000.000Z"), month)
	writeAged(t, snapshot("20260101T000000.000Z"), month)
	writeAged(t, run("20260102T000000.000Z"), month)
	writeAged(t, run("20260103T000000.000Z"), month)
	writeAged(t, snapshot("20260103T000000.000Z"), month)
	writeAged(t, run("20260104T000000.000Z"), month)
	writeAged(t, run("20260105T000000.000Z"), time.Hour)
	current := run("20260106T000000.000Z")
	writeAged(t, current, month)

	// The pointer still resolves to an expired run.
	pointer := filepath.Join(dir, "audiorouter.log")
	if err := os.Symlink(filepath.Base(run("20260102T000000.000Z")), pointer); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	removed := logging.Retention{
		Dir:      dir,
		Days:     7,
		KeepRuns: 3,
		Current:  current,
		Pointer:  pointer,
	}.Prune(logging.NewNop())

	gone := []string{run("20260101T000000.000Z"), snapshot("20260101T000000.000Z"), run("20260103T000000.000Z"), snapshot("20260103T000000.000Z")}
	kept := []string{run("20260102T000000.000Z"), run("20260104T000000.000Z"), run("20260105T000000.000Z"), current, pointer}
	for _, path := range gone {
		if exists(path) {
			t.Errorf("expected %s pruned", filepath.Base(path))
		}
	}
	for _, path := range kept {
		if !exists(path) {
			t.Errorf("expected %s kept", filepath.Base(path))
		}
	}
	if removed != len(gone) {
		t.Fatalf("Prune removed %d files, want %d", removed, len(gone))
	}
}

func TestRetentionKeepsSnapshotOfKeptRun(t *testing.T) {
	dir := t.TempDir()
	old := 30 * 24 * time.Hour
	writeAged(t, filepath.Join(dir, logging.RunLogName("a")), time.Hour)
	snap := filepath.Join(dir, logging.SnapshotDir, logging.SnapshotName("a"))
	writeAged(t, snap, old)

	logging.Retention{Dir: dir, Days: 7}.Prune(logging.NewNop())
	if !exists(snap) {
		t.Fatal("snapshot removed while its run log is kept")
	}
}

func TestRetentionDisabled(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, logging.RunLogName("a"))
	writeAged(t, path, 365*24*time.Hour)
	if n := (logging.Retention{Dir: dir}).Prune(logging.NewNop()); n != 0 || !exists(path) {
		t.Fatalf("retention with Days=0 removed %d files", n)
	}
}
