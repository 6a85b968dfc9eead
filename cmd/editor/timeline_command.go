package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/heimdex/heimdex-editor/internal/issues"
	"github.com/heimdex/heimdex-editor/internal/project"
	"github.com/heimdex/heimdex-editor/internal/revision"
	"github.com/heimdex/heimdex-editor/internal/timeline"
)

const cliActor = "cli"

func newTimelineCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "timeline",
		Short: "Inspect and edit a project timeline",
	}
	cmd.AddCommand(newTimelineShowCommand(ctx))
	cmd.AddCommand(newTimelinePatchCommand(ctx))
	cmd.AddCommand(newTimelineRevisionsCommand(ctx))
	return cmd
}

func newTimelineShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <project-id>",
		Short: "Print the current timeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := ctx.openEngine(cmd, false)
			if err != nil {
				return err
			}
			defer e.Close()

			blob, assets, err := e.projects.Timeline(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			found := timeline.Validate(blob.Timeline, assets)
			if asJSON {
				return writeJSON(cmd, struct {
					revision.Blob
					Issues []issues.Issue `json:"issues"`
				}{blob, found})
			}
			printTimeline(cmd.OutOrStdout(), blob, found)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}

func newTimelinePatchCommand(ctx *commandContext) *cobra.Command {
	var (
		file     string
		expected int64
		actor    string
	)
	cmd := &cobra.Command{
		Use:   "patch <project-id>",
		Short: "Apply a JSON array of operations",
		Long:  "Reads a JSON array of timeline operations from --file, or stdin when --file is - or empty.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raws, err := readOperations(cmd, file)
			if err != nil {
				return err
			}
			ops, err := timeline.DecodeOperations(raws)
			if err != nil {
				return err
			}

			e, err := ctx.openEngine(cmd, true)
			if err != nil {
				return err
			}
			defer e.Close()

			patch := project.TimelinePatch{Operations: ops, Actor: actor}
			if cmd.Flags().Changed("expected-revision") {
				patch.ExpectedRevision = &expected
			}
			blob, found, err := e.projects.PatchTimeline(cmd.Context(), args[0], patch)
			if err != nil {
				var ie *issues.Error
				if errors.As(err, &ie) && len(ie.Issues) > 0 {
					printIssues(cmd.ErrOrStderr(), ie.Issues)
				}
				return err
			}
			printTimeline(cmd.OutOrStdout(), blob, found)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Operations file (default stdin)")
	cmd.Flags().Int64Var(&expected, "expected-revision", 0, "Reject the patch unless the timeline is at this revision")
	cmd.Flags().StringVar(&actor, "actor", cliActor, "Actor recorded on the revision")
	return cmd
}

func newTimelineRevisionsCommand(ctx *commandContext) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "revisions <project-id>",
		Short: "List committed revisions, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := ctx.openEngine(cmd, false)
			if err != nil {
				return err
			}
			defer e.Close()

			revs, err := e.projects.Revisions(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(revs))
			for _, r := range revs {
				rows = append(rows, []string{
					strconv.FormatInt(r.Revision, 10),
					r.Source,
					r.Actor,
					shortHash(r.TimelineHash),
					r.CreatedAt.Format("2006-01-02 15:04:05"),
				})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable(out, []string{"Rev", "Source", "Actor", "Hash", "Created"}, rows, []columnAlignment{alignRight}))
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum revisions to list")
	return cmd
}

func readOperations(cmd *cobra.Command, file string) ([]json.RawMessage, error) {
	var r io.Reader = cmd.InOrStdin()
	if file != "" && file != "-" {
		f, err := os.Open(file)
		if err != nil {
			return nil, fmt.Errorf("open operations: %w", err)
		}
		defer f.Close()
		r = f
	}
	var raws []json.RawMessage
	if err := json.NewDecoder(r).Decode(&raws); err != nil {
		return nil, issues.New(issues.CodeSchemaInvalid, -1, "operations must be a JSON array: %v", err)
	}
	return raws, nil
}

func printTimeline(w io.Writer, blob revision.Blob, found []issues.Issue) {
	s := blob.Timeline
	fmt.Fprintf(w, "revision %d  hash %s  %dfps %dx%d\n", blob.Revision, shortHash(blob.TimelineHash), s.FPS, s.Resolution.Width, s.Resolution.Height)

	var rows [][]string
	for _, t := range s.Tracks {
		kind := string(t.Kind)
		if t.Muted {
			kind += " (muted)"
		}
		for _, c := range t.Clips {
			rows = append(rows, []string{
				t.ID, kind, c.ID, c.Label,
				formatMs(c.TimelineInMs), formatMs(c.TimelineOutMs),
				formatMs(c.SourceInMs), formatMs(c.SourceOutMs),
			})
		}
		if len(t.Clips) == 0 {
			rows = append(rows, []string{t.ID, kind, "", "", "", "", "", ""})
		}
	}
	fmt.Fprintln(w, renderTable(w,
		[]string{"Track", "Kind", "Clip", "Label", "In", "Out", "Src In", "Src Out"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight},
	))
	if len(found) > 0 {
		printIssues(w, found)
	}
}

func printIssues(w io.Writer, list []issues.Issue) {
	rows := make([][]string, 0, len(list))
	for _, is := range list {
		rows = append(rows, []string{string(is.Severity), is.Code, is.Message})
	}
	fmt.Fprintln(w, renderTable(w, []string{"Severity", "Code", "Message"}, rows, nil))
}

func formatMs(ms int64) string {
	return strconv.FormatFloat(float64(ms)/1000, 'f', 3, 64)
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
