package pulse

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

var (
	// ErrServerUnavailable means the sound server cannot be reached. It aborts
	// the current pass; the daemon reconnects with backoff.
	ErrServerUnavailable = errors.New("audio server unavailable")
	// ErrCommandRejected means one command failed (including timeouts). The
	// pass continues with the remaining entities.
	ErrCommandRejected = errors.New("audio server rejected command")
)

// Wrap builds an error message naming the operation while tagging it with
// marker for later classification. marker should be one of the sentinels above.
func Wrap(marker error, operation, message string, err error) error {
	detail := buildDetail(operation, message)
	if marker == nil {
		marker = ErrCommandRejected
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// IsUnavailable reports whether err means the server connection is unusable.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrServerUnavailable)
}

func buildDetail(operation, message string) string {
	parts := make([]string, 0, 2)
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "pactl failure"
	}
	return strings.Join(parts, ": ")
}

// CommandError carries the stderr of a failed pactl invocation.
type CommandError struct {
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	if e.Stderr == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%v: %s", e.Err, e.Stderr)
}

func (e *CommandError) Unwrap() error { return e.Err }

var connectionFailureMarkers = []string{
	"connection failure",
	"connection refused",
	"connection terminated",
	"no pulseaudio daemon running",
	"pa_context_connect() failed",
	"failed to connect",
}

func stderrOf(err error) string {
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.Stderr
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return string(exitErr.Stderr)
	}
	return ""
}

// classify maps an execution failure onto the sentinel kinds.
func classify(operation string, err error) error {
	if errors.Is(err, exec.ErrNotFound) {
		return Wrap(ErrServerUnavailable, operation, "pactl not found", err)
	}
	stderr := strings.TrimSpace(stderrOf(err))
	lower := strings.ToLower(stderr)
	for _, marker := range connectionFailureMarkers {
		if strings.Contains(lower, marker) {
			return Wrap(ErrServerUnavailable, operation, "", err)
		}
	}
	return Wrap(ErrCommandRejected, operation, "", err)
}
