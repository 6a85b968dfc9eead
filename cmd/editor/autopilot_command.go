package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/heimdex/heimdex-editor/internal/autopilot"
)

func newAutopilotCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "autopilot",
		Short: "Plan, apply and undo macro-driven edits",
	}
	cmd.AddCommand(newAutopilotPlanCommand(ctx))
	cmd.AddCommand(newAutopilotApplyCommand(ctx))
	cmd.AddCommand(newAutopilotUndoCommand(ctx))
	return cmd
}

func newAutopilotPlanCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "plan <project-id> <prompt...>",
		Short: "Dry-run a prompt against the timeline",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := ctx.openEngine(cmd, true)
			if err != nil {
				return err
			}
			defer e.Close()

			res, err := e.pilot.Plan(cmd.Context(), args[0], strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			return writeJSON(cmd, res)
		},
	}
}

func newAutopilotApplyCommand(ctx *commandContext) *cobra.Command {
	var (
		req      autopilot.ApplyRequest
		rejected []int
	)
	cmd := &cobra.Command{
		Use:   "apply <project-id> <plan-id>",
		Short: "Commit a planned edit",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := ctx.openEngine(cmd, true)
			if err != nil {
				return err
			}
			defer e.Close()

			req.PlanID = args[1]
			if req.PlanRevisionHash == "" {
				p, err := e.pilot.GetPlan(cmd.Context(), args[0], req.PlanID)
				if err != nil {
					return err
				}
				req.PlanRevisionHash = p.PlanRevisionHash
			}
			for _, idx := range rejected {
				req.OperationDecisions = append(req.OperationDecisions, autopilot.OperationDecision{Index: idx, Accepted: false})
			}
			req.Actor = cliActor

			res, err := e.pilot.Apply(cmd.Context(), args[0], req)
			if err != nil {
				return err
			}
			return writeJSON(cmd, res)
		},
	}
	cmd.Flags().BoolVarP(&req.Confirmed, "yes", "y", false, "Confirm the apply")
	cmd.Flags().StringVar(&req.PlanRevisionHash, "hash", "", "Expected plan revision hash (defaults to the stored plan's)")
	cmd.Flags().IntSliceVar(&rejected, "reject", nil, "Operation indexes to drop")
	return cmd
}

func newAutopilotUndoCommand(ctx *commandContext) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "undo <project-id> <undo-token>",
		Short: "Revert an applied plan",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := ctx.openEngine(cmd, true)
			if err != nil {
				return err
			}
			defer e.Close()

			res, err := e.pilot.Undo(cmd.Context(), args[0], autopilot.UndoRequest{
				UndoToken: args[1],
				Force:     force,
				Actor:     cliActor,
			})
			if err != nil {
				return err
			}
			return writeJSON(cmd, res)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Undo even if the timeline changed since the apply")
	return cmd
}
