package pulse

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Executor abstracts command execution for testability.
type Executor interface {
	// Run executes binary and returns its stdout.
	Run(ctx context.Context, binary string, args []string) ([]byte, error)
	// Stream executes binary, calling onLine for each stdout line until the
	// process exits or ctx is cancelled.
	Stream(ctx context.Context, binary string, args []string, onLine func(string)) error
}

type commandExecutor struct{}

func (commandExecutor) Run(ctx context.Context, binary string, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return out, &CommandError{Stderr: strings.TrimSpace(stderr.String()), Err: err}
	}
	return out, nil
}

func (commandExecutor) Stream(ctx context.Context, binary string, args []string, onLine func(string)) error {
	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start command: %w", err)
	}
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		onLine(scanner.Text())
	}
	scanErr := scanner.Err()
	waitErr := cmd.Wait()
	if waitErr != nil {
		return &CommandError{Stderr: strings.TrimSpace(stderr.String()), Err: waitErr}
	}
	if scanErr != nil {
		return fmt.Errorf("read output: %w", scanErr)
	}
	return errors.New("event stream closed")
}
