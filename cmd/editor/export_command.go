package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/heimdex/heimdex-editor/internal/config"
	"github.com/heimdex/heimdex-editor/internal/export"
)

func newExportCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Render a timeline EDL or transcript SRT",
	}
	cmd.AddCommand(newExportEDLCommand(ctx))
	cmd.AddCommand(newExportSRTCommand(ctx))
	return cmd
}

func newExportEDLCommand(ctx *commandContext) *cobra.Command {
	var (
		outDir string
		fps    float64
	)
	cmd := &cobra.Command{
		Use:   "edl <project-id>",
		Short: "Export the timeline as a CMX3600 EDL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if fps < 0 || fps > 120 {
				return fmt.Errorf("--fps must be between 0 and 120")
			}
			e, err := ctx.openEngine(cmd, false)
			if err != nil {
				return err
			}
			defer e.Close()

			c := cmd.Context()
			p, err := e.projects.GetProject(c, args[0])
			if err != nil {
				return err
			}
			blob, _, err := e.projects.Timeline(c, p.ID)
			if err != nil {
				return err
			}
			assets, err := e.projects.ListAssets(c, p.ID)
			if err != nil {
				return err
			}
			media := make(map[string]string, len(assets))
			for _, a := range assets {
				media[a.ID] = a.Path
			}
			return emitArtifact(cmd, outDir, export.TimelineEDL(p.Name, blob.Timeline, media, fps))
		},
	}
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "Directory to write into (default stdout)")
	cmd.Flags().Float64Var(&fps, "fps", 0, "Frame rate for timecodes (default the timeline's)")
	return cmd
}

func newExportSRTCommand(ctx *commandContext) *cobra.Command {
	var (
		outDir   string
		language string
	)
	cmd := &cobra.Command{
		Use:   "srt <project-id>",
		Short: "Export one transcript language as SubRip captions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := ctx.openEngine(cmd, false)
			if err != nil {
				return err
			}
			defer e.Close()

			c := cmd.Context()
			p, err := e.projects.GetProject(c, args[0])
			if err != nil {
				return err
			}
			tr, err := e.projects.Transcript(c, p.ID, language)
			if err != nil {
				return err
			}
			return emitArtifact(cmd, outDir, export.TranscriptSRT(p.Name, language, tr.Captions))
		},
	}
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "Directory to write into (default stdout)")
	cmd.Flags().StringVarP(&language, "language", "l", "", "Transcript language")
	return cmd
}

func emitArtifact(cmd *cobra.Command, outDir string, a export.Artifact) error {
	if outDir == "" {
		_, err := cmd.OutOrStdout().Write(a.Body)
		return err
	}
	dir, err := config.ExpandPath(outDir)
	if err != nil {
		return fmt.Errorf("resolve output dir: %w", err)
	}
	path, err := a.WriteTo(dir)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d entries to %s\n", a.Entries, path)
	return nil
}
