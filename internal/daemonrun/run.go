package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"audiorouter/internal/config"
	"audiorouter/internal/daemon"
	"audiorouter/internal/deps"
	"audiorouter/internal/instance"
	"audiorouter/internal/ipc"
	"audiorouter/internal/logging"
	"audiorouter/internal/notifications"
	"audiorouter/internal/preflight"
	"audiorouter/internal/pulse"
	"audiorouter/internal/state"
)

// keepRunLogs is how many recent run logs survive retention regardless of age.
const keepRunLogs = 5

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
	Diagnostic  bool
}

// NewServer builds the pactl adapter from config.
func NewServer(cfg *config.Config) *pulse.Pactl {
	mode := pulse.FlatpakAuto
	switch cfg.Pulse.FlatpakSpawn {
	case "always":
		mode = pulse.FlatpakAlways
	case "never":
		mode = pulse.FlatpakNever
	}
	return pulse.New(
		pulse.WithBinary(cfg.Pulse.Binary),
		pulse.WithTimeout(cfg.CommandTimeout()),
		pulse.WithManagedPrefix(cfg.Pulse.ManagedPrefix),
		pulse.WithLoopbackLatency(cfg.Pulse.LoopbackLatencyMS),
		pulse.WithFlatpakMode(mode),
	)
}

// Run starts the audiorouter daemon and blocks until SIGINT, SIGTERM, an IPC
// stop request, or a fatal startup error.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Take the lock before touching the socket so a second daemon cannot
	// unlink the first one's listener.
	guard := instance.New(cfg.LockPath(), cfg.PIDPath())
	if err := guard.Acquire(); err != nil {
		return err
	}
	defer guard.Release()

	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, logging.RunLogName(runID))

	level := opts.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	if opts.Diagnostic {
		level = "debug"
	}
	logger, err := logging.New(logging.Options{
		Level:            level,
		Format:           cfg.Logging.Format,
		OutputPaths:      []string{"stdout", logPath},
		ErrorOutputPaths: []string{"stderr", logPath},
		Development:      opts.Development || opts.Diagnostic,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	if err := ensureCurrentLogPointer(cfg.LogPath(), logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update audiorouter.log link: %v\n", err)
	}
	logging.Retention{
		Dir:      cfg.Paths.LogDir,
		Days:     cfg.Logging.RetentionDays,
		KeepRuns: keepRunLogs,
		Current:  logPath,
		Pointer:  cfg.LogPath(),
	}.Prune(logger)

	server := NewServer(cfg)
	logStartupChecks(signalCtx, logger, cfg, server)
	if opts.Diagnostic {
		writeDiagnosticSnapshot(signalCtx, logger, cfg, server, runID)
	}

	store, err := state.Open(cfg)
	if err != nil {
		logging.ErrorWithContext(logger, "open state store", "state_open_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check state_dir permissions or delete "+cfg.StatePath()))
		return err
	}
	defer store.Close()

	d, err := daemon.New(cfg, server, logger,
		daemon.WithStore(store),
		daemon.WithNotifier(notifications.NewService(cfg)),
		daemon.WithGuard(guard),
	)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}

	ipcServer, err := ipc.NewServer(signalCtx, cfg.Paths.SocketPath, d, logger)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	err = d.Run(signalCtx)
	logger.Info("audiorouter daemon shutting down")
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func ensureCurrentLogPointer(current, target string) error {
	if current == "" || target == "" {
		return nil
	}
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

// logStartupChecks records dependency and readiness results. Failures are
// warnings: the daemon keeps retrying the server and reloading the document.
func logStartupChecks(ctx context.Context, logger *slog.Logger, cfg *config.Config, server *pulse.Pactl) {
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "dependency_snapshot"),
		logging.Bool("flatpak", pulse.InFlatpak()),
		logging.Bool("flatpak_spawn", server.UsesFlatpakSpawn()),
		logging.String("managed_prefix", server.ManagedPrefix()),
	}
	statuses := preflight.CheckSystemDeps(ctx, cfg)
	if missing := deps.Missing(statuses); len(missing) > 0 {
		attrs = append(attrs, logging.Strings("missing", missing))
	}
	for _, dep := range statuses {
		attrs = append(attrs, logging.Bool(dep.Name+"_available", dep.Available))
		if !dep.Available && !dep.Optional {
			logging.WarnWithContext(logger, "required program missing", "dependency_missing",
				logging.String("dependency", dep.Name),
				logging.String("detail", dep.Detail),
				logging.String(logging.FieldErrorHint, dep.Hint),
				logging.String(logging.FieldImpact, "every pass will fail until it is installed"),
			)
		}
	}
	logger.Info("dependency snapshot", logging.Args(attrs...)...)

	for _, result := range preflight.RunAll(ctx, cfg) {
		if result.Passed {
			logger.Debug("preflight check passed",
				logging.String("check", result.Name),
				logging.String("detail", result.Detail))
			continue
		}
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
		)
	}
}

func writeDiagnosticSnapshot(ctx context.Context, logger *slog.Logger, cfg *config.Config, server *pulse.Pactl, runID string) {
	dir := filepath.Join(cfg.Paths.LogDir, logging.SnapshotDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logger.Warn("create debug directory", logging.Error(err))
		return
	}
	path := filepath.Join(dir, logging.SnapshotName(runID))
	if err := os.WriteFile(path, []byte(server.DebugSnapshot(ctx)), 0o644); err != nil {
		logger.Warn("write diagnostic snapshot", logging.Error(err))
		return
	}
	logger.Info("diagnostic mode enabled",
		logging.String(logging.FieldEventType, "diagnostic_mode_enabled"),
		logging.String("snapshot_path", path),
	)
}
