package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"audiorouter/internal/config"
	"audiorouter/internal/ipc"
	"audiorouter/internal/reconcile"
)

func newBusesCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "buses",
		Short: "List managed buses and their live state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Buses()
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp.Buses)
				}
				out := cmd.OutOrStdout()
				if len(resp.Buses) == 0 {
					fmt.Fprintln(out, "No managed buses")
					return nil
				}
				fmt.Fprint(out, renderTable(
					[]string{"Bus", "Name", "Routed To", "Volume", "Mute"},
					busRows(resp.Buses),
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
				))
				fmt.Fprintln(out)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func busRows(buses []reconcile.BusState) [][]string {
	rows := make([][]string, 0, len(buses))
	for _, bus := range buses {
		routed := bus.RoutedTo
		if routed == "" {
			routed = "-"
		}
		rows = append(rows, []string{bus.Key, bus.Name, routed, fmt.Sprintf("%d%%", bus.Volume), yesNo(bus.Mute)})
	}
	return rows
}

func newVolumeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "volume <bus> <percent>",
		Short: "Set a bus volume until the routing document next reloads",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			volume, err := strconv.Atoi(strings.TrimSuffix(strings.TrimSpace(args[1]), "%"))
			if err != nil || volume < 0 || volume > 100 {
				return fmt.Errorf("invalid volume %q (expected 0-100)", args[1])
			}
			key := resolveBusKey(ctx.configValue(), args[0])
			return ctx.withClient(func(client *ipc.Client) error {
				if _, err := client.SetVolume(key, volume); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s volume set to %d%%\n", key, volume)
				return nil
			})
		},
	}
}

func newMuteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "mute <bus> [on|off]",
		Short: "Mute or unmute a bus until the routing document next reloads",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			mute := true
			if len(args) == 2 {
				parsed, err := parseOnOff(args[1])
				if err != nil {
					return err
				}
				mute = parsed
			}
			key := resolveBusKey(ctx.configValue(), args[0])
			return ctx.withClient(func(client *ipc.Client) error {
				if _, err := client.SetMute(key, mute); err != nil {
					return err
				}
				state := "unmuted"
				if mute {
					state = "muted"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", key, state)
				return nil
			})
		},
	}
}

func parseOnOff(value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "on", "true", "yes", "1":
		return true, nil
	case "off", "false", "no", "0":
		return false, nil
	default:
		return false, fmt.Errorf("invalid mute value %q (expected on or off)", value)
	}
}

// resolveBusKey lets users omit the managed prefix: "music" becomes
// "vsink.music".
func resolveBusKey(cfg *config.Config, arg string) string {
	arg = strings.TrimSpace(arg)
	if cfg == nil {
		return arg
	}
	prefix := cfg.Pulse.ManagedPrefix
	if prefix == "" || strings.HasPrefix(arg, prefix) {
		return arg
	}
	return prefix + arg
}
