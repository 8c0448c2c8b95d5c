package daemonctl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"audiorouter/internal/config"
	"audiorouter/internal/instance"
	"audiorouter/internal/ipc"
	"audiorouter/internal/preflight"
	"audiorouter/internal/pulse"
	"audiorouter/internal/state"
)

// LaunchOptions controls daemon process launch behavior.
type LaunchOptions struct {
	ConfigPath string
	SocketPath string
	Diagnostic bool
}

type StartState string

const (
	StartStateStarted        StartState = "started"
	StartStateAlreadyRunning StartState = "already_running"
)

// StartResult captures daemon start orchestration state.
type StartResult struct {
	State    StartState
	Launched bool
	PID      int
}

// Launch starts a detached audiorouter daemon process.
func Launch(executablePath string, opts LaunchOptions) error {
	if strings.TrimSpace(executablePath) == "" {
		return fmt.Errorf("resolve executable: executable path is empty")
	}

	args := []string{"daemon"}
	if cfg := strings.TrimSpace(opts.ConfigPath); cfg != "" {
		args = append(args, "--config", cfg)
	}
	if socket := strings.TrimSpace(opts.SocketPath); socket != "" {
		args = append(args, "--socket", socket)
	}
	if opts.Diagnostic {
		args = append(args, "--diagnostic")
	}

	proc := exec.Command(executablePath, args...)
	proc.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := proc.Start(); err != nil {
		return fmt.Errorf("launch daemon: %w", err)
	}
	return proc.Process.Release()
}

// WaitForClient waits for IPC socket availability and returns a connected client.
func WaitForClient(socketPath string, timeout time.Duration) (*ipc.Client, error) {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		client, err := ipc.Dial(socketPath)
		if err == nil {
			return client, nil
		}
		lastErr = err
		time.Sleep(200 * time.Millisecond)
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("timeout waiting for daemon")
	}
	return nil, fmt.Errorf("daemon failed to start: %w", lastErr)
}

// EnsureStarted launches the daemon unless one already answers on the socket.
func EnsureStarted(socketPath, executablePath string, opts LaunchOptions, waitTimeout time.Duration) (StartResult, error) {
	if client, err := ipc.Dial(socketPath); err == nil {
		defer client.Close()
		if status, statusErr := client.Status(); statusErr == nil && status.Running {
			return StartResult{State: StartStateAlreadyRunning, PID: status.PID}, nil
		}
	}

	if err := Launch(executablePath, opts); err != nil {
		return StartResult{}, err
	}
	client, err := WaitForClient(socketPath, waitTimeout)
	if err != nil {
		return StartResult{}, err
	}
	defer client.Close()

	result := StartResult{State: StartStateStarted, Launched: true}
	if status, statusErr := client.Status(); statusErr == nil {
		result.PID = status.PID
	}
	return result, nil
}

// WaitForShutdown waits for daemon IPC to disappear or report not-running.
func WaitForShutdown(socketPath string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		client, err := ipc.Dial(socketPath)
		if err != nil {
			if isDaemonUnavailable(err) {
				return nil
			}
			lastErr = err
			time.Sleep(200 * time.Millisecond)
			continue
		}
		status, statusErr := client.Status()
		_ = client.Close()
		if statusErr == nil && !status.Running {
			return nil
		}
		if statusErr != nil {
			lastErr = statusErr
		} else {
			lastErr = fmt.Errorf("daemon still running")
		}
		time.Sleep(200 * time.Millisecond)
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("timeout waiting for shutdown")
	}
	return fmt.Errorf("daemon did not stop: %w", lastErr)
}

// ProcessInfo returns whether daemon IPC is reachable and the daemon PID when available.
func ProcessInfo(socketPath string) (bool, int, error) {
	client, err := ipc.Dial(socketPath)
	if err != nil {
		if isDaemonUnavailable(err) {
			return false, 0, nil
		}
		return false, 0, err
	}
	defer client.Close()
	status, statusErr := client.Status()
	if statusErr != nil {
		return true, 0, statusErr
	}
	return true, status.PID, nil
}

// ForceKillProcess sends SIGKILL to the daemon and removes its pid file. The
// lock needs no cleanup: the kernel drops it with the process.
func ForceKillProcess(pidPath string, fallbackPID int) (int, error) {
	pid := fallbackPID
	if parsed, err := instance.ReadPID(pidPath); err == nil && parsed > 0 {
		pid = parsed
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return 0, fmt.Errorf("read daemon pid file %q: %w", pidPath, err)
	}
	if pid <= 0 {
		return 0, fmt.Errorf("unable to determine daemon pid (pid file: %s)", pidPath)
	}
	if pid == os.Getpid() {
		return 0, fmt.Errorf("refusing to kill current process (pid %d)", pid)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return 0, fmt.Errorf("locate daemon process %d: %w", pid, err)
	}
	if err := proc.Kill(); err != nil {
		return 0, fmt.Errorf("kill daemon process %d: %w", pid, err)
	}
	if err := os.Remove(pidPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return 0, fmt.Errorf("remove pid file %q: %w", pidPath, err)
	}
	return pid, nil
}

// ErrDaemonNotRunning indicates daemon IPC is unavailable.
var ErrDaemonNotRunning = errors.New("daemon not running")

// StopResult captures daemon stop/termination outcome.
type StopResult struct {
	StopAcknowledged bool
	ForcedKill       bool
	PID              int
}

// RestartResult captures stop/start outcomes for daemon restart.
type RestartResult struct {
	WasRunning bool
	Stop       StopResult
	Start      StartResult
}

// StopAndTerminate requests daemon stop and force-kills the process if still alive after gracePeriod.
func StopAndTerminate(cfg *config.Config, gracePeriod time.Duration) (StopResult, error) {
	socketPath := cfg.Paths.SocketPath
	client, err := ipc.Dial(socketPath)
	if err != nil {
		if isDaemonUnavailable(err) {
			return StopResult{}, ErrDaemonNotRunning
		}
		return StopResult{}, err
	}
	pid := 0
	if status, statusErr := client.Status(); statusErr == nil {
		pid = status.PID
	}
	resp, err := client.Stop()
	_ = client.Close()
	if err != nil {
		return StopResult{}, err
	}
	result := StopResult{PID: pid, StopAcknowledged: resp.Stopped}

	_ = WaitForShutdown(socketPath, gracePeriod)
	alive, livePID, aliveErr := ProcessInfo(socketPath)
	if aliveErr != nil {
		alive = false
	}
	if !alive {
		return result, nil
	}

	currentPID := livePID
	if currentPID == 0 {
		currentPID = pid
	}
	killedPID, killErr := ForceKillProcess(cfg.PIDPath(), currentPID)
	if killErr != nil {
		return result, fmt.Errorf("failed to stop daemon process: %w", killErr)
	}
	_ = os.Remove(socketPath)
	result.ForcedKill = true
	result.PID = killedPID
	return result, nil
}

// Restart stops the daemon if running, then ensures it is started.
func Restart(cfg *config.Config, executablePath string, opts LaunchOptions, stopGracePeriod, startWaitTimeout time.Duration) (RestartResult, error) {
	stopResult, stopErr := StopAndTerminate(cfg, stopGracePeriod)
	if stopErr != nil && !errors.Is(stopErr, ErrDaemonNotRunning) {
		return RestartResult{}, stopErr
	}

	startResult, err := EnsureStarted(cfg.Paths.SocketPath, executablePath, opts, startWaitTimeout)
	if err != nil {
		return RestartResult{}, err
	}

	return RestartResult{
		WasRunning: stopErr == nil,
		Stop:       stopResult,
		Start:      startResult,
	}, nil
}

func isDaemonUnavailable(err error) bool {
	return os.IsNotExist(err) ||
		errors.Is(err, os.ErrNotExist) ||
		errors.Is(err, syscall.ENOENT) ||
		errors.Is(err, syscall.ECONNREFUSED)
}

// DependencyStatus is one external program check with display severity.
type DependencyStatus struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
	Severity    string `json:"severity"`
}

// DependencySummary aggregates dependency readiness.
type DependencySummary struct {
	Total           int    `json:"total"`
	Available       int    `json:"available"`
	MissingRequired int    `json:"missing_required"`
	MissingOptional int    `json:"missing_optional"`
	Severity        string `json:"severity"`
	Detail          string `json:"detail"`
}

// StatusLine is one labelled row of status output.
type StatusLine struct {
	Label    string `json:"label"`
	Severity string `json:"severity"`
	Detail   string `json:"detail"`
}

// StatusSnapshot combines daemon-reported state with local checks.
type StatusSnapshot struct {
	Daemon            *ipc.StatusResponse `json:"daemon,omitempty"`
	HolderPID         int                 `json:"holder_pid,omitempty"`
	HolderAlive       bool                `json:"holder_alive"`
	LastPass          *state.PassRecord   `json:"last_pass,omitempty"`
	Dependencies      []DependencyStatus  `json:"dependencies"`
	DependencySummary DependencySummary   `json:"dependency_summary"`
	SystemChecks      []StatusLine        `json:"system_checks"`
}

// Running reports whether a daemon answered on the socket.
func (s *StatusSnapshot) Running() bool {
	return s.Daemon != nil && s.Daemon.Running
}

// BuildStatusSnapshot collects daemon status and falls back to the lock
// holder and stored history when the daemon does not answer.
func BuildStatusSnapshot(ctx context.Context, cfg *config.Config, server pulse.Server) (*StatusSnapshot, error) {
	if cfg == nil {
		return nil, errors.New("configuration not available")
	}
	snapshot := &StatusSnapshot{}

	if client, err := ipc.Dial(cfg.Paths.SocketPath); err == nil {
		if resp, statusErr := client.Status(); statusErr == nil {
			snapshot.Daemon = resp
		}
		_ = client.Close()
	}

	guard := instance.New(cfg.LockPath(), cfg.PIDPath())
	if pid := guard.HolderPID(); pid > 0 {
		snapshot.HolderPID = pid
		snapshot.HolderAlive = instance.ProcessAlive(pid)
	}

	if !snapshot.Running() {
		queryCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if _, statErr := os.Stat(cfg.StatePath()); statErr == nil {
			if store, openErr := state.Open(cfg); openErr == nil {
				if passes, err := store.RecentPasses(queryCtx, 1); err == nil && len(passes) > 0 {
					snapshot.LastPass = &passes[0]
				}
				_ = store.Close()
			}
		}
	}

	snapshot.Dependencies = ResolveDependencies(ctx, cfg)
	snapshot.DependencySummary = BuildDependencySummary(snapshot.Dependencies)
	snapshot.SystemChecks = BuildSystemChecks(ctx, cfg, snapshot, server)
	return snapshot, nil
}

// ResolveDependencies returns current dependency availability for status output.
func ResolveDependencies(ctx context.Context, cfg *config.Config) []DependencyStatus {
	if cfg == nil {
		return nil
	}

	checks := preflight.CheckSystemDeps(ctx, cfg)
	statuses := make([]DependencyStatus, 0, len(checks))
	for _, check := range checks {
		detail := check.Detail
		if !check.Available && check.Hint != "" {
			detail += "; " + check.Hint
		}
		statuses = append(statuses, DependencyStatus{
			Name:        check.Name,
			Command:     check.Command,
			Description: check.Description,
			Optional:    check.Optional,
			Available:   check.Available,
			Detail:      detail,
			Severity:    check.Severity(),
		})
	}
	return statuses
}

// BuildSystemChecks resolves status lines that combine runtime state and config checks.
func BuildSystemChecks(ctx context.Context, cfg *config.Config, snapshot *StatusSnapshot, server pulse.Server) []StatusLine {
	lines := make([]StatusLine, 0, 6)
	d := snapshot.Daemon
	switch {
	case snapshot.Running():
		lines = append(lines, StatusLine{Label: "Daemon", Severity: "ok", Detail: fmt.Sprintf("Running (pid %d, %s)", d.PID, d.State)})
		if d.Connected {
			lines = append(lines, StatusLine{Label: "Audio Server", Severity: "ok", Detail: "Subscribed"})
		} else {
			lines = append(lines, StatusLine{Label: "Audio Server", Severity: "error", Detail: "Disconnected (reconnecting)"})
		}
	case snapshot.HolderAlive:
		lines = append(lines, StatusLine{Label: "Daemon", Severity: "warn", Detail: fmt.Sprintf("Lock held by pid %d but socket not answering", snapshot.HolderPID)})
	default:
		lines = append(lines, StatusLine{Label: "Daemon", Severity: "warn", Detail: "Not running (run `audiorouter start`)"})
	}
	if !snapshot.Running() && server != nil {
		probe := preflight.CheckAudioServer(ctx, server)
		severity := "ok"
		if !probe.Passed {
			severity = "error"
		}
		lines = append(lines, StatusLine{Label: "Audio Server", Severity: severity, Detail: probe.Detail})
	}

	routingCheck := preflight.CheckRouting(cfg.Paths.RoutingFile, cfg.Pulse.ManagedPrefix)
	switch {
	case d != nil && d.RoutingError != "":
		lines = append(lines, StatusLine{Label: "Routing", Severity: "warn", Detail: "Reload rejected; serving last valid document: " + d.RoutingError})
	case routingCheck.Passed:
		lines = append(lines, StatusLine{Label: "Routing", Severity: "ok", Detail: routingCheck.Detail})
	default:
		lines = append(lines, StatusLine{Label: "Routing", Severity: "error", Detail: routingCheck.Detail})
	}

	companion := preflight.CheckCompanionFromConfig(ctx, cfg)
	switch {
	case companion.Passed && companion.Detail == "Disabled":
		lines = append(lines, StatusLine{Label: "Companion", Severity: "info", Detail: companion.Detail})
	case companion.Passed:
		lines = append(lines, StatusLine{Label: "Companion", Severity: "ok", Detail: companion.Detail})
	default:
		lines = append(lines, StatusLine{Label: "Companion", Severity: "warn", Detail: companion.Detail})
	}

	if d != nil && d.Running {
		if d.UdevMonitoring {
			lines = append(lines, StatusLine{Label: "Hotplug", Severity: "ok", Detail: "Netlink monitoring active"})
		} else if cfg.Daemon.UdevMonitor {
			lines = append(lines, StatusLine{Label: "Hotplug", Severity: "warn", Detail: "Netlink unavailable (audio server events only)"})
		}
	}

	stateDir := preflight.CheckDirectoryAccess("State", cfg.Paths.StateDir)
	if stateDir.Passed {
		lines = append(lines, StatusLine{Label: "State", Severity: "ok", Detail: stateDir.Detail})
	} else {
		lines = append(lines, StatusLine{Label: "State", Severity: "error", Detail: stateDir.Detail})
	}
	return lines
}

// BuildDependencySummary computes aggregate dependency readiness.
func BuildDependencySummary(deps []DependencyStatus) DependencySummary {
	if len(deps) == 0 {
		return DependencySummary{
			Severity: "info",
			Detail:   "No dependency checks configured",
		}
	}

	missingRequired := 0
	missingOptional := 0
	for _, dep := range deps {
		if dep.Available {
			continue
		}
		if dep.Optional {
			missingOptional++
		} else {
			missingRequired++
		}
	}

	missingCount := missingRequired + missingOptional
	available := len(deps) - missingCount
	severity := "ok"
	if missingRequired > 0 {
		severity = "error"
	} else if missingOptional > 0 {
		severity = "warn"
	}
	detail := fmt.Sprintf("%d/%d available (missing: %d required, %d optional)", available, len(deps), missingRequired, missingOptional)
	if missingCount == 0 {
		detail = fmt.Sprintf("%d/%d available", available, len(deps))
	}

	return DependencySummary{
		Total:           len(deps),
		Available:       available,
		MissingRequired: missingRequired,
		MissingOptional: missingOptional,
		Severity:        severity,
		Detail:          detail,
	}
}
