package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

const (
	runLogPrefix   = "audiorouter-"
	runLogSuffix   = ".log"
	snapshotPrefix = "snapshot-"
	snapshotSuffix = ".txt"
	// SnapshotDir is the LogDir subdirectory holding diagnostic snapshots.
	SnapshotDir = "debug"
)

// RunLogName is the file name of one daemon run's log.
func RunLogName(runID string) string { return runLogPrefix + runID + runLogSuffix }

// SnapshotName is the file name of one run's diagnostic snapshot.
func SnapshotName(runID string) string { return snapshotPrefix + runID + snapshotSuffix }

// Retention prunes per-run daemon logs and diagnostic snapshots in Dir.
type Retention struct {
	Dir string
	// Days is the age past which a run is pruned; 0 disables pruning.
	Days int
	// KeepRuns is the number of newest runs kept regardless of age.
	KeepRuns int
	// Current is this process's log. It and whatever Pointer resolves to are
	// never removed.
	Current string
	Pointer string
}

type runFile struct {
	runID string
	path  string
	info  os.FileInfo
}

// Prune removes expired run logs, then snapshots whose run log is gone and
// which are themselves expired. It returns the number of files removed.
func (r Retention) Prune(logger *slog.Logger) int {
	if r.Days <= 0 || strings.TrimSpace(r.Dir) == "" {
		return 0
	}
	cutoff := time.Now().AddDate(0, 0, -r.Days)

	logsByRun := listRunFiles(r.Dir, runLogPrefix, runLogSuffix)
	// Run IDs are UTC timestamps, so names sort oldest first.
	slices.SortFunc(logsByRun, func(a, b runFile) int { return strings.Compare(a.runID, b.runID) })

	var pinned []os.FileInfo
	for _, path := range []string{r.Current, r.Pointer} {
		if path == "" {
			continue
		}
		if info, err := os.Stat(path); err == nil {
			pinned = append(pinned, info)
		}
	}

	kept := make(map[string]bool, len(logsByRun))
	removed := 0
	for i, f := range logsByRun {
		newest := len(logsByRun)-i <= r.KeepRuns
		if newest || !f.info.ModTime().Before(cutoff) || isPinned(f.info, pinned) {
			kept[f.runID] = true
			continue
		}
		if r.remove(logger, f.path, "run_log") {
			removed++
		} else {
			kept[f.runID] = true
		}
	}

	for _, f := range listRunFiles(filepath.Join(r.Dir, SnapshotDir), snapshotPrefix, snapshotSuffix) {
		if kept[f.runID] || !f.info.ModTime().Before(cutoff) {
			continue
		}
		if r.remove(logger, f.path, "snapshot") {
			removed++
		}
	}
	return removed
}

func (r Retention) remove(logger *slog.Logger, path, kind string) bool {
	if err := os.Remove(path); err != nil {
		WarnWithContext(logger, "log retention remove failed; file remains", "log_retention_failed",
			String("path", path),
			Error(err),
			String(FieldErrorHint, "check file permissions and log_dir ownership"),
			String(FieldImpact, "old log file remains on disk"),
		)
		return false
	}
	if logger != nil {
		logger.Debug("log pruned",
			String("path", path),
			String("kind", kind),
			String(FieldEventType, "log_pruned"),
		)
	}
	return true
}

func isPinned(info os.FileInfo, pinned []os.FileInfo) bool {
	for _, p := range pinned {
		if os.SameFile(info, p) {
			return true
		}
	}
	return false
}

// listRunFiles returns regular files named prefix<runID>suffix. The pointer
// link is a symlink (or has no run id) and is never listed.
func listRunFiles(dir, prefix, suffix string) []runFile {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var files []runFile
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, suffix) {
			continue
		}
		runID := strings.TrimSuffix(strings.TrimPrefix(name, prefix), suffix)
		if runID == "" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, runFile{runID: runID, path: filepath.Join(dir, name), info: info})
	}
	return files
}
