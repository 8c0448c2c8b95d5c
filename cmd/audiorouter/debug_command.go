package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

type debugSnapshotter interface {
	DebugSnapshot(ctx context.Context) string
}

func newDebugCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "debug",
		Short: "Dump what the audio server reports: server info, sinks, modules, and streams",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			server, ok := newAudioServer(cfg).(debugSnapshotter)
			if !ok {
				return fmt.Errorf("audio server adapter does not support snapshots")
			}
			fmt.Fprint(cmd.OutOrStdout(), server.DebugSnapshot(cmd.Context()))
			return nil
		},
	}
}
