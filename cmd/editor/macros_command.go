package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/heimdex/heimdex-editor/internal/autopilot"
	"github.com/heimdex/heimdex-editor/internal/logging"
)

func newMacrosCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "macros",
		Short: "Inspect autopilot macros",
	}
	cmd.AddCommand(newMacrosListCommand(ctx))
	cmd.AddCommand(newMacrosCheckCommand())
	return cmd
}

func newMacrosListCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List built-in and configured macros",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			planner := autopilot.NewMacroPlanner(logging.NewLoggerTo(cmd.ErrOrStderr(), cfg.LogLevel()))
			if err := planner.Reload(cfg.MacrosDir()); err != nil {
				return err
			}
			macros := planner.Macros()
			if asJSON {
				return writeJSON(cmd, macros)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable(out, []string{"Name", "Keywords", "Steps", "Confidence", "Source"}, macroRows(macros),
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight}))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}

func newMacrosCheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "check <file>",
		Short:       "Validate a macro definition file",
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read macros: %w", err)
			}
			macros, err := autopilot.ParseMacros(data, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable(out, []string{"Name", "Keywords", "Steps", "Confidence", "Source"}, macroRows(macros),
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight}))
			fmt.Fprintf(out, "%d macro(s) valid\n", len(macros))
			return nil
		},
	}
}

func macroRows(macros []autopilot.Macro) [][]string {
	rows := make([][]string, 0, len(macros))
	for _, m := range macros {
		rows = append(rows, []string{
			m.Name,
			strings.Join(m.Keywords, ", "),
			strconv.Itoa(len(m.Steps)),
			strconv.FormatFloat(m.Confidence, 'f', 2, 64),
			logging.SanitizePath(m.Source),
		})
	}
	return rows
}
