package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"audiorouter/internal/config"
	"audiorouter/internal/daemon"
	"audiorouter/internal/instance"
	"audiorouter/internal/ipc"
	"audiorouter/internal/logging"
	"audiorouter/internal/notifications"
	"audiorouter/internal/reconcile"
	"audiorouter/internal/routing"
	"audiorouter/internal/state"
)

func newApplyCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Run one reconciliation pass now",
		Long: "Ask the running daemon for an immediate pass. When no daemon is running, " +
			"the pass runs in this process under the instance lock.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			var result reconcile.Result
			var passErr error
			via := "daemon"
			client, dialErr := ipc.Dial(ctx.socketPath())
			switch {
			case dialErr == nil:
				defer client.Close()
				resp, err := client.Apply()
				if err != nil {
					return err
				}
				result = resp.Result
				if resp.Error != "" {
					passErr = errors.New(resp.Error)
				}
			case daemonUnreachable(dialErr):
				via = "one-shot"
				result, passErr = applyOnce(cmd.Context(), cfg)
				if passErr != nil && result.PassID == "" {
					return passErr
				}
			default:
				return wrapDialError(dialErr, ctx.socketPath())
			}

			if asJSON {
				if err := writeJSON(cmd, applyOutput{Via: via, Result: result, Error: errorString(passErr)}); err != nil {
					return err
				}
				return passErr
			}
			renderResult(cmd.OutOrStdout(), result, via)
			if passErr != nil {
				return fmt.Errorf("pass aborted: %w", passErr)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

type applyOutput struct {
	Via    string           `json:"via"`
	Result reconcile.Result `json:"result"`
	Error  string           `json:"error,omitempty"`
}

// applyOnce runs a single pass without a daemon. It holds the instance lock
// for the duration so it never races a daemon that starts concurrently.
func applyOnce(ctx context.Context, cfg *config.Config) (reconcile.Result, error) {
	guard := instance.New(cfg.LockPath(), cfg.PIDPath())
	if err := guard.Acquire(); err != nil {
		if errors.Is(err, instance.ErrAlreadyRunning) {
			return reconcile.Result{}, fmt.Errorf("daemon holds the instance lock but its socket did not answer: %w", err)
		}
		return reconcile.Result{}, err
	}
	defer guard.Release()

	desired, err := routing.Load(cfg.Paths.RoutingFile, cfg.Pulse.ManagedPrefix)
	if err != nil {
		return reconcile.Result{}, err
	}
	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return reconcile.Result{}, err
	}

	store, storeErr := state.Open(cfg)
	if storeErr != nil {
		logging.WarnWithContext(logger, "pass history unavailable", "state_open_failed",
			logging.Error(storeErr),
			logging.String(logging.FieldImpact, "this pass is not recorded"))
	} else {
		defer store.Close()
	}

	engine := reconcile.New(newAudioServer(cfg), cfg.Pulse.ManagedPrefix, logger)
	result, passErr := engine.Apply(ctx, desired, daemon.SourceControl)
	if store == nil {
		return result, passErr
	}
	if err := store.RecordPass(ctx, result, passErr); err != nil {
		logger.Warn("record pass", logging.Error(err))
	}
	if passErr != nil {
		return result, passErr
	}

	previous, _ := store.LoadSnapshot(ctx)
	if err := notifications.NewService(cfg).PublishChanges(ctx, previous, result.Buses); err != nil {
		logging.WarnWithContext(logger, "companion publish failed", "companion_publish_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "companion variables may be stale"))
	}
	if err := store.SaveAppliedSnapshot(ctx, result.Buses); err != nil {
		logger.Warn("save applied snapshot", logging.Error(err))
	}
	return result, nil
}

func renderResult(out io.Writer, result reconcile.Result, via string) {
	fmt.Fprintf(out, "Pass %s (%s, %s) finished in %s\n", shortID(result.PassID), result.Reason, via, result.Duration.Round(time.Millisecond))
	rows := [][]string{
		{"Sinks created", fmt.Sprint(result.SinksCreated)},
		{"Sinks removed", fmt.Sprint(result.SinksRemoved)},
		{"Attributes changed", fmt.Sprint(result.AttributesChanged)},
		{"Routes changed", fmt.Sprint(result.RoutesChanged)},
		{"Streams moved", fmt.Sprint(result.StreamsMoved)},
	}
	fmt.Fprint(out, renderTable([]string{"Change", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
	fmt.Fprintln(out)
	for _, ref := range result.Unresolved {
		fmt.Fprintf(out, "unresolved: %s\n", ref)
	}
	for _, rej := range result.Rejected {
		fmt.Fprintf(out, "rejected: %s %s: %s\n", rej.Phase, rej.Target, rej.Error)
	}
}

func errorString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	if id == "" {
		return "-"
	}
	return id
}
