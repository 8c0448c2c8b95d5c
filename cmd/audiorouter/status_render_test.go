package main

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"testing"

	"audiorouter/internal/daemonctl"
	"audiorouter/internal/ipc"
	"audiorouter/internal/reconcile"
	"audiorouter/internal/state"
)

func plainWriter() (*statusWriter, *bytes.Buffer) {
	var buf bytes.Buffer
	return &statusWriter{w: &buf}, &buf
}

func outputLines(buf *bytes.Buffer) []string {
	return strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
}

func TestStatusLineNoColor(t *testing.T) {
	s, _ := plainWriter()
	got := s.format("Daemon", sevError, "Not running")
	want := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, "Daemon:", "[ERROR] Not running")
	if got != want {
		t.Fatalf("format mismatch\n got: %q\nwant: %q", got, want)
	}
}

func TestStatusLineWithColor(t *testing.T) {
	s := &statusWriter{w: io.Discard, colorize: true}
	got := s.format("Daemon", sevOK, "Running")
	if !strings.HasPrefix(got, severityColors[sevOK]) || !strings.HasSuffix(got, ansiReset) {
		t.Fatalf("expected green line with reset, got %q", got)
	}
	if got := s.format("Daemon", severity("bogus"), ""); !strings.HasPrefix(got, severityColors[sevInfo]) || !strings.Contains(got, "[INFO]") {
		t.Fatalf("unknown severity should render as info, got %q", got)
	}
}

func TestWriteDependencies(t *testing.T) {
	deps := []daemonctl.DependencyStatus{
		{Name: "pactl", Available: false, Severity: "error"},
		{Name: "flatpak-spawn", Available: true, Command: "flatpak-spawn"},
	}
	s, buf := plainWriter()
	writeDependencies(s, deps, daemonctl.BuildDependencySummary(deps))
	lines := outputLines(buf)
	if len(lines) != 4 {
		t.Fatalf("expected 4 lines, got %d: %v", len(lines), lines)
	}
	if !strings.Contains(lines[0], "[ERROR]") || !strings.Contains(lines[0], "Summary") {
		t.Fatalf("expected summary line first, got %q", lines[0])
	}
	if !strings.Contains(lines[1], "[ERROR] not available") {
		t.Fatalf("expected error detail in second line, got %q", lines[1])
	}
	if !strings.Contains(lines[2], "[OK] Ready (command: flatpak-spawn)") {
		t.Fatalf("expected ready detail in third line, got %q", lines[2])
	}
	if !strings.Contains(lines[3], "Missing dependencies:") || !strings.Contains(lines[3], "pactl") {
		t.Fatalf("expected missing dependencies summary, got %q", lines[3])
	}
}

func TestWriteLastPassFromStoredHistory(t *testing.T) {
	s, buf := plainWriter()
	writeLastPass(s, &daemonctl.StatusSnapshot{LastPass: &state.PassRecord{Reason: "startup", Error: "audio server unavailable"}})
	lines := outputLines(buf)
	if len(lines) != 3 || !strings.Contains(lines[2], "[ERROR] audio server unavailable") {
		t.Fatalf("unexpected lines %v", lines)
	}

	s, buf = plainWriter()
	writeLastPass(s, &daemonctl.StatusSnapshot{})
	if lines := outputLines(buf); len(lines) != 1 || !strings.Contains(lines[0], "None recorded") {
		t.Fatalf("unexpected empty lines %v", lines)
	}
}

func TestRenderStatusListsBuses(t *testing.T) {
	pass := &reconcile.Result{
		Reason: "startup",
		Buses: []reconcile.BusState{
			{Key: "vsink.music", RoutedTo: "alsa_output.speakers", Volume: 80},
			{Key: "vsink.chat", Volume: 100, Mute: true},
			{Key: "vsink.loose", Volume: 50},
		},
		Unresolved: []reconcile.UnresolvedReference{{Kind: reconcile.BusWithoutDevice, Bus: "vsink.chat", Device: "headset"}},
		Rejected:   []reconcile.CommandFailure{{Phase: reconcile.PhaseAssign, Target: "42", Error: "no such sink input"}},
	}
	s, buf := plainWriter()
	renderStatus(s, &daemonctl.StatusSnapshot{Daemon: &ipc.StatusResponse{Running: true, LastPass: pass}})
	out := buf.String()
	for _, want := range []string{
		"== Buses ==",
		"[OK] -> alsa_output.speakers (vol 80%)",
		"[WARN] unrouted, headset not available (vol 100%, muted)",
		"[INFO] no device (vol 50%)",
		"[WARN] assign 42: no such sink input",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in:\n%s", want, out)
		}
	}
}

func TestShouldColorizeNonFile(t *testing.T) {
	if shouldColorize(io.Discard) {
		t.Fatalf("expected non-file writer to disable color")
	}
}

func TestResolveBusKey(t *testing.T) {
	if got := resolveBusKey(nil, " music "); got != "music" {
		t.Fatalf("nil config should pass through, got %q", got)
	}
}
