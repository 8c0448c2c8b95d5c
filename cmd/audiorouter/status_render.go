package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"audiorouter/internal/daemonctl"
	"audiorouter/internal/reconcile"
)

// severity uses the daemonctl vocabulary so snapshot rows print unchanged.
type severity string

const (
	sevInfo  severity = "info"
	sevOK    severity = "ok"
	sevWarn  severity = "warn"
	sevError severity = "error"
)

const ansiReset = "\x1b[0m"

var severityColors = map[severity]string{
	sevOK:    "\x1b[32m",
	sevWarn:  "\x1b[33m",
	sevError: "\x1b[31m",
	sevInfo:  "\x1b[34m",
}

const (
	statusLabelWidth = 20
	statusIndent     = "  "
)

func (s severity) label() string {
	switch s {
	case sevOK, sevWarn, sevError:
		return strings.ToUpper(string(s))
	default:
		return "INFO"
	}
}

// statusWriter prints labelled, optionally colored status rows.
type statusWriter struct {
	w        io.Writer
	colorize bool
}

func newStatusWriter(w io.Writer) *statusWriter {
	return &statusWriter{w: w, colorize: shouldColorize(w)}
}

func (s *statusWriter) paint(sev severity, text string) string {
	if !s.colorize {
		return text
	}
	color, ok := severityColors[sev]
	if !ok {
		color = severityColors[sevInfo]
	}
	return color + text + ansiReset
}

func (s *statusWriter) format(label string, sev severity, detail string) string {
	tag := "[" + sev.label() + "]"
	if detail != "" {
		tag += " " + detail
	}
	return s.paint(sev, fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, label+":", tag))
}

func (s *statusWriter) line(label string, sev severity, detail string) {
	fmt.Fprintln(s.w, s.format(label, sev, detail))
}

func (s *statusWriter) section(title string) {
	heading := fmt.Sprintf("== %s ==", strings.TrimSpace(title))
	fmt.Fprintln(s.w, s.paint(sevInfo, heading))
	fmt.Fprintln(s.w, s.paint(sevInfo, strings.Repeat("-", len(heading))))
}

func renderStatus(s *statusWriter, snapshot *daemonctl.StatusSnapshot) {
	s.section("System Status")
	for _, row := range snapshot.SystemChecks {
		s.line(row.Label, severity(row.Severity), row.Detail)
	}
	fmt.Fprintln(s.w)

	s.section("Dependencies")
	writeDependencies(s, snapshot.Dependencies, snapshot.DependencySummary)
	fmt.Fprintln(s.w)

	s.section("Last Pass")
	writeLastPass(s, snapshot)

	if d := snapshot.Daemon; d != nil && d.LastPass != nil && len(d.LastPass.Buses) > 0 {
		fmt.Fprintln(s.w)
		s.section("Buses")
		writeBuses(s, d.LastPass)
	}
}

func writeLastPass(s *statusWriter, snapshot *daemonctl.StatusSnapshot) {
	if d := snapshot.Daemon; d != nil && d.LastPass != nil {
		pass := d.LastPass
		outcome := sevOK
		if len(pass.Rejected) > 0 || len(pass.Unresolved) > 0 {
			outcome = sevWarn
		}
		s.line("Reason", sevInfo, pass.Reason)
		s.line("Started", sevInfo, formatTime(pass.StartedAt))
		s.line("Outcome", outcome, pass.Summary())
		for _, failure := range pass.Rejected {
			s.line("Rejected", sevWarn, fmt.Sprintf("%s %s: %s", failure.Phase, failure.Target, failure.Error))
		}
		if d.LastError != "" {
			s.line("Last error", sevError, d.LastError)
		}
		return
	}
	if pass := snapshot.LastPass; pass != nil {
		outcome, detail := sevInfo, "completed"
		if pass.Failed() {
			outcome, detail = sevError, pass.Error
		}
		s.line("Reason", sevInfo, pass.Reason)
		s.line("Started", sevInfo, formatTime(pass.StartedAt))
		s.line("Outcome", outcome, detail)
		return
	}
	s.line("Passes", sevInfo, "None recorded")
}

// writeBuses lists each bus with its device; unrouted buses carry the
// unresolved reference that explains them.
func writeBuses(s *statusWriter, pass *reconcile.Result) {
	missing := make(map[string]string)
	for _, ref := range pass.Unresolved {
		if ref.Kind == reconcile.BusWithoutDevice {
			missing[ref.Bus] = ref.Device
		}
	}
	for _, bus := range pass.Buses {
		state := fmt.Sprintf("vol %d%%", bus.Volume)
		if bus.Mute {
			state += ", muted"
		}
		switch {
		case bus.RoutedTo != "":
			s.line(bus.Key, sevOK, fmt.Sprintf("-> %s (%s)", bus.RoutedTo, state))
		case missing[bus.Key] != "":
			s.line(bus.Key, sevWarn, fmt.Sprintf("unrouted, %s not available (%s)", missing[bus.Key], state))
		default:
			s.line(bus.Key, sevInfo, fmt.Sprintf("no device (%s)", state))
		}
	}
}

func writeDependencies(s *statusWriter, deps []daemonctl.DependencyStatus, summary daemonctl.DependencySummary) {
	s.line("Summary", severity(summary.Severity), summary.Detail)
	var missing []string
	for _, dep := range deps {
		if dep.Available {
			detail := "Ready"
			if dep.Command != "" {
				detail = fmt.Sprintf("Ready (command: %s)", dep.Command)
			}
			s.line(dep.Name, sevOK, detail)
			continue
		}
		detail := strings.TrimSpace(dep.Detail)
		if detail == "" {
			detail = "not available"
		}
		s.line(dep.Name, severity(dep.Severity), detail)
		missing = append(missing, dep.Name)
	}
	if len(missing) > 0 {
		s.line("Missing dependencies", sevWarn, strings.Join(missing, ", "))
	}
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
