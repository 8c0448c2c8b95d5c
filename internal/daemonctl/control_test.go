package daemonctl

import (
	"context"
	"errors"
	"os"
	"strconv"
	"strings"
	"testing"

	"audiorouter/internal/instance"
	"audiorouter/internal/pulse/pulsetest"
	"audiorouter/internal/reconcile"
	"audiorouter/internal/testsupport"
)

func TestBuildDependencySummary(t *testing.T) {
	if got := BuildDependencySummary(nil); got.Severity != "info" {
		t.Fatalf("expected info for no deps, got %+v", got)
	}

	summary := BuildDependencySummary([]DependencyStatus{
		{Name: "pactl", Available: true},
		{Name: "flatpak-spawn", Optional: true},
	})
	if summary.Severity != "warn" || summary.Available != 1 || summary.MissingOptional != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}

	summary = BuildDependencySummary([]DependencyStatus{{Name: "pactl"}})
	if summary.Severity != "error" || summary.MissingRequired != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

func TestBuildStatusSnapshotOffline(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	store := testsupport.MustOpenStore(t, cfg)
	if err := store.RecordPass(context.Background(), reconcile.Result{PassID: "p1", Reason: "startup", SinksCreated: 2}, nil); err != nil {
		t.Fatalf("RecordPass: %v", err)
	}

	srv := pulsetest.New()
	srv.AddDevice("alsa_output.speakers")

	snapshot, err := BuildStatusSnapshot(context.Background(), cfg, srv)
	if err != nil {
		t.Fatalf("BuildStatusSnapshot: %v", err)
	}
	if snapshot.Running() {
		t.Fatal("expected daemon not running")
	}
	if snapshot.LastPass == nil || snapshot.LastPass.PassID != "p1" {
		t.Fatalf("expected stored pass fallback, got %+v", snapshot.LastPass)
	}
	if snapshot.DependencySummary.Severity != "ok" {
		t.Fatalf("expected stubbed pactl available, got %+v", snapshot.DependencySummary)
	}

	labels := map[string]StatusLine{}
	for _, line := range snapshot.SystemChecks {
		labels[line.Label] = line
	}
	if labels["Daemon"].Severity != "warn" {
		t.Fatalf("unexpected daemon line %+v", labels["Daemon"])
	}
	if labels["Audio Server"].Severity != "ok" {
		t.Fatalf("unexpected audio server line %+v", labels["Audio Server"])
	}
	if labels["Companion"].Detail != "Disabled" {
		t.Fatalf("unexpected companion line %+v", labels["Companion"])
	}
}

func TestBuildStatusSnapshotReportsLockHolder(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	guard := instance.New(cfg.LockPath(), cfg.PIDPath())
	if err := guard.Acquire(); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer guard.Release()

	snapshot, err := BuildStatusSnapshot(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("BuildStatusSnapshot: %v", err)
	}
	if snapshot.HolderPID != os.Getpid() || !snapshot.HolderAlive {
		t.Fatalf("expected own pid as live holder, got %d alive=%v", snapshot.HolderPID, snapshot.HolderAlive)
	}
	if detail := snapshot.SystemChecks[0].Detail; !strings.Contains(detail, strconv.Itoa(os.Getpid())) {
		t.Fatalf("expected holder pid in daemon line, got %q", detail)
	}
}

func TestStopAndTerminateWithoutDaemon(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if _, err := StopAndTerminate(cfg, 0); !errors.Is(err, ErrDaemonNotRunning) {
		t.Fatalf("expected ErrDaemonNotRunning, got %v", err)
	}
}

func TestForceKillProcessRefusesSelf(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	if err := os.WriteFile(cfg.PIDPath(), []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		t.Fatalf("write pid: %v", err)
	}
	if _, err := ForceKillProcess(cfg.PIDPath(), 0); err == nil || !strings.Contains(err.Error(), "refusing") {
		t.Fatalf("expected refusal, got %v", err)
	}
}

func TestForceKillProcessWithoutPID(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if _, err := ForceKillProcess(cfg.PIDPath(), 0); err == nil {
		t.Fatal("expected error without pid")
	}
}
