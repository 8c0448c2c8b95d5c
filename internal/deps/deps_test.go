package deps

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func stubLookPath(t *testing.T, present ...string) {
	t.Helper()
	orig := lookPath
	lookPath = func(file string) (string, error) {
		if slices.Contains(present, file) {
			return "/usr/bin/" + file, nil
		}
		return "", errors.New("not found")
	}
	t.Cleanup(func() { lookPath = orig })
}

func TestCheckResolvesBinaries(t *testing.T) {
	binDir := t.TempDir()
	present := filepath.Join(binDir, "pactl")
	if err := os.WriteFile(present, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}

	results := Check([]Requirement{
		{Name: "pactl", Command: present},
		{Name: "missing", Command: "clearly-not-present-binary", Optional: true},
		{Name: "blank", Command: "  "},
	})
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if !results[0].Available || results[0].Detail != "" || results[0].Severity() != "ok" {
		t.Fatalf("unexpected status for present binary %#v", results[0])
	}
	if results[1].Available || results[1].Severity() != "warn" || results[1].Detail == "" {
		t.Fatalf("unexpected status for optional missing binary %#v", results[1])
	}
	if results[2].Detail != "command not configured" || results[2].Severity() != "error" {
		t.Fatalf("unexpected status for blank command %#v", results[2])
	}
}

func TestAudioRequirementsDirect(t *testing.T) {
	stubLookPath(t)
	reqs := AudioRequirements(AudioSetup{Binary: "pactl"})
	if len(reqs) != 1 || reqs[0].Via != "" {
		t.Fatalf("unexpected requirements %#v", reqs)
	}
	statuses := Check(reqs)
	if statuses[0].Available || statuses[0].Hint == "" {
		t.Fatalf("expected missing pactl with hint, got %#v", statuses[0])
	}
	if got := Missing(statuses); !slices.Equal(got, []string{"pactl"}) {
		t.Fatalf("Missing = %v", got)
	}
}

func TestForwardedPactlFollowsFlatpakSpawn(t *testing.T) {
	stubLookPath(t, FlatpakSpawn)
	statuses := Check(AudioRequirements(AudioSetup{Binary: "pactl", Forward: true}))
	if len(statuses) != 2 {
		t.Fatalf("expected pactl and flatpak-spawn, got %#v", statuses)
	}
	if !statuses[0].Available || statuses[0].Via != FlatpakSpawn {
		t.Fatalf("forwarded pactl should resolve through flatpak-spawn: %#v", statuses[0])
	}
	if statuses[1].Optional {
		t.Fatal("flatpak-spawn should be required when forwarding is forced")
	}

	stubLookPath(t)
	statuses = Check(AudioRequirements(AudioSetup{Binary: "pactl", Forward: true, ForwardOptional: true}))
	if statuses[0].Available || statuses[0].Severity() != "error" {
		t.Fatalf("pactl should be unusable without its forwarder: %#v", statuses[0])
	}
	if statuses[1].Severity() != "warn" {
		t.Fatalf("optional forwarder severity = %s", statuses[1].Severity())
	}
	if got := Missing(statuses); !slices.Equal(got, []string{"pactl", FlatpakSpawn}) {
		t.Fatalf("Missing = %v", got)
	}
}
