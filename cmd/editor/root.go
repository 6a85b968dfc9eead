package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/heimdex/heimdex-editor/internal/config"
)

func newRootCommand() *cobra.Command {
	var configFlag string

	ctx := newCommandContext(&configFlag)

	rootCmd := &cobra.Command{
		Use:           "heimdex-editor",
		Short:         "Timeline and transcript edit engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if shouldSkipConfig(cmd) {
				return nil
			}
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path (defaults to $"+config.EnvConfigFile+")")

	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newProjectsCommand(ctx))
	rootCmd.AddCommand(newTimelineCommand(ctx))
	rootCmd.AddCommand(newAutopilotCommand(ctx))
	rootCmd.AddCommand(newMacrosCommand(ctx))
	rootCmd.AddCommand(newExportCommand(ctx))
	rootCmd.AddCommand(newConfigCommand(ctx))
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print version information",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "heimdex-editor %s (commit %s, built %s)\n", config.Version, config.GitCommit, config.BuildTime)
			return nil
		},
	}
}
