package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/heimdex/heimdex-editor/internal/project"
)

func newProjectsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "projects",
		Short: "List and create projects",
	}
	cmd.AddCommand(newProjectsListCommand(ctx))
	cmd.AddCommand(newProjectsCreateCommand(ctx))
	cmd.AddCommand(newProjectsAddAssetCommand(ctx))
	return cmd
}

func newProjectsListCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := ctx.openEngine(cmd, false)
			if err != nil {
				return err
			}
			defer e.Close()

			projects, err := e.projects.ListProjects(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				if projects == nil {
					projects = []*project.Project{}
				}
				return writeJSON(cmd, projects)
			}
			rows := make([][]string, 0, len(projects))
			for _, p := range projects {
				rows = append(rows, []string{p.ID, p.Name, p.UpdatedAt.Format("2006-01-02 15:04")})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable(out, []string{"ID", "Name", "Updated"}, rows, nil))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}

func newProjectsCreateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "create <name>",
		Short: "Create a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := ctx.openEngine(cmd, true)
			if err != nil {
				return err
			}
			defer e.Close()

			p, err := e.projects.CreateProject(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), p.ID)
			return nil
		},
	}
}

func newProjectsAddAssetCommand(ctx *commandContext) *cobra.Command {
	var a project.Asset
	cmd := &cobra.Command{
		Use:   "add-asset <project-id>",
		Short: "Attach a media asset to a project slot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := ctx.openEngine(cmd, true)
			if err != nil {
				return err
			}
			defer e.Close()

			created, err := e.projects.AddAsset(cmd.Context(), args[0], a)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n", created.ID, created.Kind, strconv.FormatFloat(created.DurationSec, 'f', -1, 64))
			return nil
		},
	}
	cmd.Flags().StringVar(&a.ID, "id", "", "Asset id (generated when empty)")
	cmd.Flags().StringVar(&a.SlotKey, "slot", "", "Slot key")
	cmd.Flags().StringVar(&a.Kind, "kind", "video", "Asset kind: video, image, audio, music or voiceover")
	cmd.Flags().Float64Var(&a.DurationSec, "duration", 0, "Duration in seconds")
	cmd.Flags().StringVar(&a.Path, "path", "", "Media file path")
	return cmd
}
