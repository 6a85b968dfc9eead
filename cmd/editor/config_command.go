package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/heimdex/heimdex-editor/internal/config"
	"github.com/heimdex/heimdex-editor/internal/logging"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}

	configCmd.AddCommand(newConfigShowCommand(ctx))
	configCmd.AddCommand(newConfigInitCommand())

	return configCmd
}

func newConfigInitCommand() *cobra.Command {
	var targetPath string

	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Create a sample configuration file",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			target := strings.TrimSpace(targetPath)
			if target == "" {
				home, err := os.UserHomeDir()
				if err != nil {
					return fmt.Errorf("determine default config path: %w", err)
				}
				target = filepath.Join(home, config.DefaultDataDir, "config.toml")
			}
			if err := config.CreateSample(target); err != nil {
				return fmt.Errorf("create sample config: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrote sample configuration to %s\n", target)
			fmt.Fprintf(out, "Point %s (or --config) at it to use it.\n", config.EnvConfigFile)
			return nil
		},
	}

	cmd.Flags().StringVarP(&targetPath, "path", "p", "", "Destination for the configuration file")
	return cmd
}

func newConfigShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Validate and print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			source := cfg.ConfigFile()
			if source == "" {
				source = "(defaults and environment)"
			}
			seg := cfg.Segmentation()
			rows := [][]string{
				{"config file", logging.SanitizePath(source)},
				{"port", strconv.Itoa(cfg.Port())},
				{"log level", cfg.LogLevel()},
				{"data dir", logging.SanitizePath(cfg.DataDir())},
				{"database", logging.SanitizePath(cfg.DBPath())},
				{"macros dir", logging.SanitizePath(cfg.MacrosDir())},
				{"min ripple confidence", strconv.FormatFloat(cfg.MinConfidenceForRipple(), 'f', -1, 64)},
				{"min plan confidence", strconv.FormatFloat(cfg.MinPlanConfidence(), 'f', -1, 64)},
				{"snapshot compression", strconv.Itoa(cfg.SnapshotCompressionLevel())},
				{"segmentation", fmt.Sprintf("%+v", seg)},
				{"pipelines module", cfg.PipelinesModule()},
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable(out, []string{"Setting", "Value"}, rows, nil))
			fmt.Fprintln(out, "Configuration valid")
			return nil
		},
	}
}
