package deps

import (
	"fmt"
	"os/exec"
	"strings"
)

// FlatpakSpawn forwards commands from a Flatpak sandbox to the host.
const FlatpakSpawn = "flatpak-spawn"

// Requirement defines an external program audiorouter invokes.
type Requirement struct {
	Name        string
	Command     string
	Description string
	// Hint is the operator's next step when the program is missing.
	Hint     string
	Optional bool
	// Via names the forwarder the command runs through. Such commands live on
	// the host and cannot be resolved from here.
	Via string
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string
	Command     string
	Description string
	Hint        string
	Optional    bool
	Available   bool
	Via         string
	Detail      string
}

// Severity maps availability to the status vocabulary: ok, warn for a missing
// optional program, error for a missing required one.
func (s Status) Severity() string {
	switch {
	case s.Available:
		return "ok"
	case s.Optional:
		return "warn"
	default:
		return "error"
	}
}

// AudioSetup describes how pactl is reached.
type AudioSetup struct {
	Binary string
	// Forward runs pactl on the host through flatpak-spawn.
	Forward bool
	// ForwardOptional downgrades a missing flatpak-spawn to a warning, for
	// sandbox auto-detection.
	ForwardOptional bool
}

// AudioRequirements lists the programs every pass depends on.
func AudioRequirements(setup AudioSetup) []Requirement {
	pactl := Requirement{
		Name:        "pactl",
		Command:     setup.Binary,
		Description: "Required to query and control the audio server",
		Hint:        "install pulseaudio-utils (provides pactl)",
	}
	if !setup.Forward {
		return []Requirement{pactl}
	}
	pactl.Via = FlatpakSpawn
	pactl.Hint = "install pulseaudio-utils on the host"
	return []Requirement{
		pactl,
		{
			Name:        FlatpakSpawn,
			Command:     FlatpakSpawn,
			Description: "Forwards pactl to the host from inside the Flatpak sandbox",
			Hint:        "grant the sandbox --talk-name=org.freedesktop.Flatpak",
			Optional:    setup.ForwardOptional,
		},
	}
}

var lookPath = exec.LookPath

// Check evaluates the requirements in order. A forwarded command is reported
// available when its forwarder resolves.
func Check(requirements []Requirement) []Status {
	found := make(map[string]bool, len(requirements))
	results := make([]Status, len(requirements))
	for i, req := range requirements {
		results[i] = resolve(req)
		found[req.Command] = results[i].Available
	}
	for i := range results {
		via := results[i].Via
		if via == "" || results[i].Command == "" {
			continue
		}
		available, listed := found[via]
		if !listed {
			_, err := lookPath(via)
			available = err == nil
		}
		results[i].Available = available
		if available {
			results[i].Detail = "runs on the host through " + via
		} else {
			results[i].Detail = fmt.Sprintf("forwarder %q not found", via)
		}
	}
	return results
}

func resolve(req Requirement) Status {
	cmd := strings.TrimSpace(req.Command)
	status := Status{
		Name:        req.Name,
		Command:     cmd,
		Description: strings.TrimSpace(req.Description),
		Hint:        req.Hint,
		Optional:    req.Optional,
		Via:         req.Via,
	}
	switch {
	case cmd == "":
		status.Detail = "command not configured"
	case req.Via != "":
		// resolved against the forwarder by Check
	default:
		if _, err := lookPath(cmd); err != nil {
			status.Detail = fmt.Sprintf("binary %q not found", cmd)
		} else {
			status.Available = true
		}
	}
	return status
}

// Missing returns the names of unavailable requirements, required ones first.
func Missing(statuses []Status) []string {
	var required, optional []string
	for _, s := range statuses {
		switch {
		case s.Available:
		case s.Optional:
			optional = append(optional, s.Name)
		default:
			required = append(required, s.Name)
		}
	}
	return append(required, optional...)
}
