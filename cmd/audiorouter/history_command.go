package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"audiorouter/internal/config"
	"audiorouter/internal/ipc"
	"audiorouter/internal/state"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent reconciliation passes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			passes, err := loadHistory(cmd.Context(), ctx, cfg, limit)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, passes)
			}
			out := cmd.OutOrStdout()
			if len(passes) == 0 {
				fmt.Fprintln(out, "No passes recorded")
				return nil
			}
			fmt.Fprint(out, renderTable(
				[]string{"Started", "Pass", "Reason", "Changes", "Unresolved", "Rejected", "Outcome"},
				historyRows(passes),
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft},
			))
			fmt.Fprintln(out)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of passes to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

// loadHistory asks the daemon first and reads the state database directly
// when no daemon answers.
func loadHistory(ctx context.Context, cmdCtx *commandContext, cfg *config.Config, limit int) ([]state.PassRecord, error) {
	client, err := ipc.Dial(cmdCtx.socketPath())
	if err == nil {
		defer client.Close()
		resp, err := client.History(limit)
		if err != nil {
			return nil, err
		}
		return resp.Passes, nil
	}
	if !daemonUnreachable(err) {
		return nil, wrapDialError(err, cmdCtx.socketPath())
	}
	if _, statErr := os.Stat(cfg.StatePath()); statErr != nil {
		return nil, nil
	}
	store, err := state.Open(cfg)
	if err != nil {
		return nil, err
	}
	defer store.Close()
	return store.RecentPasses(ctx, limit)
}

func historyRows(passes []state.PassRecord) [][]string {
	rows := make([][]string, 0, len(passes))
	for _, p := range passes {
		outcome := "ok"
		if p.Failed() {
			outcome = p.Error
		}
		changes := p.SinksCreated + p.SinksRemoved + p.AttributesChanged + p.RoutesChanged + p.StreamsMoved
		rows = append(rows, []string{
			formatTime(p.StartedAt),
			shortID(p.PassID),
			p.Reason,
			fmt.Sprint(changes),
			fmt.Sprint(len(p.Unresolved)),
			fmt.Sprint(len(p.Rejected)),
			outcome,
		})
	}
	return rows
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
