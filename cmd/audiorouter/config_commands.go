package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"audiorouter/internal/config"
	"audiorouter/internal/fileutil"
	"audiorouter/internal/routing"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}

	configCmd.AddCommand(newConfigValidateCommand(ctx))
	configCmd.AddCommand(newConfigInitCommand())
	configCmd.AddCommand(newConfigImportLegacyCommand(ctx))

	return configCmd
}

func newConfigInitCommand() *cobra.Command {
	var targetPath string
	var overwrite bool

	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Create a sample configuration file",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := resolveTarget(targetPath, config.DefaultConfigPath)
			if err != nil {
				return err
			}
			if err := prepareTarget(target, overwrite); err != nil {
				return err
			}
			if err := config.CreateSample(target); err != nil {
				return fmt.Errorf("create sample config: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrote sample configuration to %s\n", target)
			fmt.Fprintln(out, "Declare buses and rules in the routing file it points at, then run `audiorouter start`.")
			return nil
		},
	}

	cmd.Flags().StringVarP(&targetPath, "path", "p", "", "Destination for the configuration file")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Overwrite existing configuration if present")
	return cmd
}

func newConfigValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:         "validate",
		Short:       "Validate the configuration and routing document",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, exists, err := config.Load(ctx.configPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return fmt.Errorf("ensure directories: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config path: %s\n", path)
			if !exists {
				fmt.Fprintln(out, "Config file did not exist; defaults were used")
			}

			desired, err := routing.Load(cfg.Paths.RoutingFile, cfg.Pulse.ManagedPrefix)
			if err != nil {
				return fmt.Errorf("routing document: %w", err)
			}
			fmt.Fprintf(out, "Routing file: %s (%d buses, %d rules)\n",
				cfg.Paths.RoutingFile, len(desired.Buses()), len(desired.Rules()))
			fmt.Fprintln(out, "Configuration valid")
			return nil
		},
	}
}

func newConfigImportLegacyCommand(ctx *commandContext) *cobra.Command {
	var targetPath string
	var overwrite bool

	cmd := &cobra.Command{
		Use:   "import-legacy <dir>",
		Short: "Convert vsinks.json and routing-rules.json into a routing document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			dir, err := config.ExpandPath(args[0])
			if err != nil {
				return err
			}
			desired, ok, err := routing.LoadLegacy(dir, cfg.Pulse.ManagedPrefix)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no legacy configuration found in %s", dir)
			}

			target, err := resolveTarget(targetPath, func() (string, error) { return cfg.Paths.RoutingFile, nil })
			if err != nil {
				return err
			}
			if ext := strings.ToLower(filepath.Ext(target)); ext != ".toml" {
				return fmt.Errorf("import writes TOML; choose a .toml destination (got %s)", target)
			}
			if err := prepareTarget(target, overwrite); err != nil {
				return err
			}
			data, err := routing.Marshal(desired)
			if err != nil {
				return err
			}
			if err := fileutil.WriteFileAtomic(target, data, 0o644); err != nil {
				return fmt.Errorf("write routing document: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d buses and %d rules into %s\n",
				len(desired.Buses()), len(desired.Rules()), target)
			return nil
		},
	}
	cmd.Flags().StringVarP(&targetPath, "path", "p", "", "Destination routing document (defaults to the configured routing_file)")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Overwrite the destination if present")
	return cmd
}

func resolveTarget(flagValue string, fallback func() (string, error)) (string, error) {
	target := strings.TrimSpace(flagValue)
	if target == "" {
		path, err := fallback()
		if err != nil {
			return "", fmt.Errorf("determine default path: %w", err)
		}
		return path, nil
	}
	expanded, err := config.ExpandPath(target)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	return expanded, nil
}

func prepareTarget(target string, overwrite bool) error {
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	if overwrite {
		return nil
	}
	if _, err := os.Stat(target); err == nil {
		return fmt.Errorf("file already exists at %s (use --overwrite to replace it)", target)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("check path: %w", err)
	}
	return nil
}
