package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"audiorouter/internal/daemon"
	"audiorouter/internal/ipc"
)

func newStreamsCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	var all bool
	cmd := &cobra.Command{
		Use:   "streams",
		Short: "List application streams and the rule each one matches",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Streams()
				if err != nil {
					return err
				}
				streams := resp.Streams
				if !all {
					streams = visibleStreams(streams)
				}
				if asJSON {
					return writeJSON(cmd, streams)
				}
				out := cmd.OutOrStdout()
				if len(streams) == 0 {
					fmt.Fprintln(out, "No application streams")
					return nil
				}
				fmt.Fprint(out, renderTable(
					[]string{"ID", "Application", "Sink", "Rule", "Target"},
					streamRows(streams),
					[]columnAlignment{alignRight},
				))
				fmt.Fprintln(out)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	cmd.Flags().BoolVarP(&all, "all", "a", false, "Include audiorouter's own loopback streams")
	return cmd
}

func visibleStreams(streams []daemon.StreamInfo) []daemon.StreamInfo {
	out := make([]daemon.StreamInfo, 0, len(streams))
	for _, s := range streams {
		if !s.Internal {
			out = append(out, s)
		}
	}
	return out
}

func streamRows(streams []daemon.StreamInfo) [][]string {
	rows := make([][]string, 0, len(streams))
	for _, s := range streams {
		rule := s.MatchedRule
		if rule == "" {
			rule = "-"
		}
		target := s.TargetBus
		if target == "" {
			target = "-"
		}
		rows = append(rows, []string{strconv.FormatUint(uint64(s.ID), 10), s.Label, s.Sink, rule, target})
	}
	return rows
}

func newMoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "move <stream-id> <bus>",
		Short: "Move a stream to a bus or device",
		Long: "Move a stream by hand. The next pass moves it back when a rule matches it; " +
			"streams no rule matches stay where they were put.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(strings.TrimSpace(args[0]), 10, 32)
			if err != nil {
				return fmt.Errorf("invalid stream id %q", args[0])
			}
			return ctx.withClient(func(client *ipc.Client) error {
				target := strings.TrimSpace(args[1])
				if buses, err := client.Buses(); err == nil {
					candidate := resolveBusKey(ctx.configValue(), target)
					for _, bus := range buses.Buses {
						if bus.Key == candidate {
							target = candidate
							break
						}
					}
				}
				if _, err := client.MoveStream(uint32(id), target); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Stream %d moved to %s\n", id, target)
				return nil
			})
		},
	}
}
