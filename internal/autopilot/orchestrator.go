package autopilot

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/heimdex/heimdex-editor/internal/issues"
	"github.com/heimdex/heimdex-editor/internal/logging"
	"github.com/heimdex/heimdex-editor/internal/revision"
	"github.com/heimdex/heimdex-editor/internal/timeline"
)

// DefaultMinPlanConfidence demotes plans below it to suggestions only.
const DefaultMinPlanConfidence = 0.6

// Timelines is the slice of the project service the orchestrator needs.
type Timelines interface {
	Timeline(ctx context.Context, projectID string) (revision.Blob, []timeline.Asset, error)
	CommitState(ctx context.Context, projectID string, expectedRevision int64, next timeline.State, e revision.Entry, hooks ...revision.Hook) (revision.Blob, timeline.RevisionRecord, error)
}

type Orchestrator struct {
	timelines     Timelines
	store         Store
	planner       Planner
	codec         *revision.Codec
	minConfidence float64
	logger        *slog.Logger
	now           func() time.Time
}

func NewOrchestrator(timelines Timelines, store Store, planner Planner, codec *revision.Codec, minConfidence float64, logger *slog.Logger) *Orchestrator {
	if minConfidence <= 0 {
		minConfidence = DefaultMinPlanConfidence
	}
	return &Orchestrator{
		timelines:     timelines,
		store:         store,
		planner:       planner,
		codec:         codec,
		minConfidence: minConfidence,
		logger:        logger,
		now:           time.Now,
	}
}

type PlanResult struct {
	PlanID           string         `json:"plan_id"`
	PlanRevisionHash string         `json:"plan_revision_hash"`
	ExecutionMode    string         `json:"execution_mode"`
	DiffGroups       []DiffGroup    `json:"diff_groups"`
	Issues           []issues.Issue `json:"issues"`
	Confidence       float64        `json:"confidence"`
	Macro            string         `json:"macro,omitempty"`
	Rationale        string         `json:"rationale,omitempty"`
}

// OperationDecision accepts or drops one planned operation by index.
type OperationDecision struct {
	Index    int  `json:"index"`
	Accepted bool `json:"accepted"`
}

type ApplyRequest struct {
	PlanID             string              `json:"plan_id"`
	PlanRevisionHash   string              `json:"plan_revision_hash"`
	Confirmed          bool                `json:"confirmed"`
	OperationDecisions []OperationDecision `json:"operation_decisions,omitempty"`
	Actor              string              `json:"-"`
}

type ApplyResult struct {
	Applied         bool           `json:"applied"`
	SuggestionsOnly bool           `json:"suggestions_only"`
	Issues          []issues.Issue `json:"issues"`
	RevisionID      string         `json:"revision_id,omitempty"`
	Revision        int64          `json:"revision"`
	UndoToken       string         `json:"undo_token,omitempty"`
}

type UndoRequest struct {
	UndoToken string `json:"undo_token"`
	Force     bool   `json:"force,omitempty"`
	Actor     string `json:"-"`
}

type UndoResult struct {
	Restored bool `json:"restored"`
	// AppliedRevisionID is the revision the undo committed.
	AppliedRevisionID string `json:"applied_revision_id"`
	// RevertedRevisionID is the plan apply revision that was undone.
	RevertedRevisionID string `json:"reverted_revision_id"`
	Revision           int64  `json:"revision"`
	TimelineHash       string `json:"timeline_hash"`
}

func (o *Orchestrator) record(ctx context.Context, projectID, planID, action, detail string, rev int64) {
	err := o.store.AppendAction(ctx, &ActionLogEntry{
		ProjectID: projectID,
		PlanID:    planID,
		Action:    action,
		Detail:    detail,
		Revision:  rev,
		CreatedAt: o.now().UTC(),
	})
	if err != nil && o.logger != nil {
		o.logger.Error("failed to append action log", "project_id", projectID, "action", action, "error", err)
	}
}

func notFound(kind, id string) error {
	return issues.New(issues.CodeNotFound, -1, "%s %q not found", kind, id)
}

// operationIssue turns an apply failure into a blocking issue.
func operationIssue(err error) issues.Issue {
	code := issues.CodeOf(err)
	if code == "" {
		code = issues.CodeOperationInvalid
	}
	return issues.Errorf(code, "%v", err)
}

// Plan asks the planner for a batch, dry-runs it against the live timeline
// and stores the result. A plan with any blocking issue, no operations, or a
// confidence under the threshold is stored as suggestions only.
func (o *Orchestrator) Plan(ctx context.Context, projectID, prompt string) (*PlanResult, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, issues.New(issues.CodeSchemaInvalid, -1, "prompt is required")
	}
	live, assets, err := o.timelines.Timeline(ctx, projectID)
	if err != nil {
		return nil, err
	}

	proposal, err := o.planner.Plan(ctx, live.Timeline, prompt)
	if err != nil {
		return nil, fmt.Errorf("planner: %w", err)
	}

	list := []issues.Issue{}
	if len(proposal.Operations) == 0 {
		list = append(list, issues.Warnf(issues.CodePlanNoOperations, "the plan proposes no operations"))
	} else {
		_, found, err := timeline.ApplyAndValidate(live.Timeline, proposal.Operations, assets)
		if err != nil {
			list = append(list, operationIssue(err))
		} else {
			list = append(list, found...)
		}
	}
	if proposal.Confidence < o.minConfidence {
		list = append(list, issues.Warnf(issues.CodePlanLowConfidence,
			"plan confidence %.2f is below the threshold %.2f", proposal.Confidence, o.minConfidence))
	}

	mode, status := ModeApplied, StatusPlanned
	if issues.HasErrors(list) || len(proposal.Operations) == 0 || proposal.Confidence < o.minConfidence {
		mode, status = ModeSuggestionsOnly, StatusSuggestionsOnly
	}

	raw, err := timeline.EncodeOperations(proposal.Operations)
	if err != nil {
		return nil, err
	}
	groups := BuildDiffGroups(live.Timeline, proposal.Operations)

	now := o.now().UTC()
	plan := &Plan{
		ID:               uuid.New().String(),
		ProjectID:        projectID,
		Prompt:           prompt,
		Macro:            proposal.Macro,
		Status:           status,
		Confidence:       proposal.Confidence,
		BaseRevision:     live.Revision,
		PlanRevisionHash: live.TimelineHash,
		Payload: PlanPayload{
			ExecutionMode:     mode,
			AppliedOperations: raw,
			InvariantIssues:   list,
			DiffGroups:        groups,
			PlanRevisionHash:  live.TimelineHash,
			Rationale:         proposal.Rationale,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := o.store.CreatePlan(ctx, plan); err != nil {
		return nil, fmt.Errorf("store plan: %w", err)
	}

	action := ActionPlanned
	if mode == ModeSuggestionsOnly {
		action = ActionSuggested
	}
	o.record(ctx, projectID, plan.ID, action, prompt, live.Revision)
	if o.logger != nil {
		logging.WithPlanID(logging.WithProjectID(o.logger, projectID), plan.ID).Info("plan created",
			"macro", proposal.Macro,
			"mode", mode,
			"operations", len(proposal.Operations),
		)
	}

	return &PlanResult{
		PlanID:           plan.ID,
		PlanRevisionHash: plan.PlanRevisionHash,
		ExecutionMode:    mode,
		DiffGroups:       groups,
		Issues:           list,
		Confidence:       proposal.Confidence,
		Macro:            proposal.Macro,
		Rationale:        proposal.Rationale,
	}, nil
}

// selectOperations drops the operations the caller declined. Indexes not
// named in decisions stay accepted.
func selectOperations(ops []timeline.Operation, decisions []OperationDecision) ([]timeline.Operation, int, error) {
	declined := make(map[int]bool, len(decisions))
	for _, d := range decisions {
		if d.Index < 0 || d.Index >= len(ops) {
			return nil, 0, issues.New(issues.CodeSchemaInvalid, -1, "operation decision index %d out of range", d.Index)
		}
		declined[d.Index] = !d.Accepted
	}
	out := make([]timeline.Operation, 0, len(ops))
	dropped := 0
	for i, op := range ops {
		if declined[i] {
			dropped++
			continue
		}
		out = append(out, op)
	}
	return out, dropped, nil
}

// Apply commits a stored plan. The caller must confirm and echo the plan's
// revision hash, and the live timeline must still carry that hash. A batch
// that no longer validates is demoted to suggestions only without a commit.
func (o *Orchestrator) Apply(ctx context.Context, projectID string, req ApplyRequest) (*ApplyResult, error) {
	if !req.Confirmed {
		return nil, issues.New(issues.CodeSchemaInvalid, -1, "apply requires confirmed=true")
	}
	plan, err := o.store.GetPlan(ctx, req.PlanID)
	if err != nil {
		return nil, err
	}
	if plan == nil || plan.ProjectID != projectID {
		return nil, notFound("plan", req.PlanID)
	}
	if plan.Status != StatusPlanned {
		return nil, issues.New(issues.CodeOperationInvalid, -1, "plan %s is %s and cannot be applied", plan.ID, plan.Status)
	}

	live, assets, err := o.timelines.Timeline(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if req.PlanRevisionHash != plan.PlanRevisionHash || live.TimelineHash != plan.PlanRevisionHash {
		o.record(ctx, projectID, plan.ID, ActionApplyRejected, "stale plan revision hash", live.Revision)
		return nil, issues.New(issues.CodeConcurrencyConflict, -1,
			"plan %s was made against a different timeline; re-plan and try again", plan.ID)
	}

	ops, err := timeline.ParseOperations(plan.Payload.AppliedOperations)
	if err != nil {
		return nil, fmt.Errorf("plan %s: %w", plan.ID, err)
	}
	ops, dropped, err := selectOperations(ops, req.OperationDecisions)
	if err != nil {
		return nil, err
	}

	res := &ApplyResult{Issues: []issues.Issue{}, Revision: live.Revision}
	if dropped > 0 {
		res.Issues = append(res.Issues, issues.Infof(issues.CodeOperationsDiscarded, "%d operation(s) declined", dropped))
	}
	if len(ops) == 0 {
		res.Issues = append(res.Issues, issues.Warnf(issues.CodePlanNoOperations, "every operation was declined; nothing to apply"))
		return res, nil
	}

	next, list, err := timeline.ApplyAndValidate(live.Timeline, ops, assets)
	if err != nil {
		list = append(list, operationIssue(err))
	}
	res.Issues = append(res.Issues, list...)
	if issues.HasErrors(list) {
		res.SuggestionsOnly = true
		if err := o.store.UpdatePlanStatus(ctx, plan.ID, StatusSuggestionsOnly); err != nil {
			return nil, err
		}
		o.record(ctx, projectID, plan.ID, ActionDemoted, "selected operations fail validation", live.Revision)
		return res, nil
	}

	snapshot, err := o.codec.SnapshotBlob(live)
	if err != nil {
		return nil, fmt.Errorf("snapshot timeline: %w", err)
	}
	raw, err := timeline.EncodeOperations(ops)
	if err != nil {
		return nil, err
	}
	// The undo entry and plan status commit with the revision or not at all.
	entry := &UndoEntry{
		Token:     uuid.New().String(),
		ProjectID: projectID,
		PlanID:    plan.ID,
		Prompt:    plan.Prompt,
		Snapshot:  snapshot,
		CreatedAt: o.now().UTC(),
	}
	committed, rec, err := o.timelines.CommitState(ctx, projectID, live.Revision, next, revision.Entry{
		Source:     revision.SourcePlanApply,
		Operations: raw,
		Actor:      req.Actor,
	}, func(ctx context.Context, tx *sql.Tx, committed revision.Blob, rec timeline.RevisionRecord) error {
		entry.Lineage = Lineage{
			BaseRevision:    live.Revision,
			BaseHash:        live.TimelineHash,
			AppliedRevision: committed.Revision,
			AppliedHash:     committed.TimelineHash,
		}
		entry.AppliedRevisionID = rec.ID
		store := o.store.WithTx(tx)
		if err := store.CreateUndo(ctx, entry); err != nil {
			return fmt.Errorf("store undo entry: %w", err)
		}
		return store.UpdatePlanStatus(ctx, plan.ID, StatusApplied)
	})
	if err != nil {
		return nil, err
	}
	o.record(ctx, projectID, plan.ID, ActionApplied, fmt.Sprintf("%d operation(s)", len(ops)), committed.Revision)

	if o.logger != nil {
		logging.WithPlanID(logging.WithProjectID(o.logger, projectID), plan.ID).Info("plan applied",
			"revision", committed.Revision,
			"operations", len(ops),
		)
	}

	res.Applied = true
	res.RevisionID = rec.ID
	res.Revision = committed.Revision
	res.UndoToken = entry.Token
	return res, nil
}

// Undo restores the state captured before a plan was applied. Unless forced,
// the live timeline must still be exactly what the apply produced. The
// restore is committed as a new revision; the counter never rewinds.
func (o *Orchestrator) Undo(ctx context.Context, projectID string, req UndoRequest) (*UndoResult, error) {
	if strings.TrimSpace(req.UndoToken) == "" {
		return nil, issues.New(issues.CodeSchemaInvalid, -1, "undo_token is required")
	}
	entry, err := o.store.GetUndo(ctx, req.UndoToken)
	if err != nil {
		return nil, err
	}
	if entry == nil || entry.ProjectID != projectID {
		return nil, notFound("undo token", req.UndoToken)
	}
	if entry.ConsumedAt != nil {
		return nil, issues.New(issues.CodeOperationInvalid, -1, "undo token was already used")
	}

	live, assets, err := o.timelines.Timeline(ctx, projectID)
	if err != nil {
		return nil, err
	}
	diverged := live.Revision != entry.Lineage.AppliedRevision || live.TimelineHash != entry.Lineage.AppliedHash
	if diverged && !req.Force {
		o.record(ctx, projectID, entry.PlanID, ActionUndoRejected, "timeline changed after apply", live.Revision)
		return nil, issues.New(issues.CodeConcurrencyConflict, -1,
			"project is at revision %d, the plan produced revision %d; pass force to discard the newer edits",
			live.Revision, entry.Lineage.AppliedRevision)
	}

	prior, err := o.codec.RestoreBlob(entry.Snapshot, assets)
	if err != nil {
		return nil, fmt.Errorf("restore snapshot: %w", err)
	}
	ops, _ := json.Marshal(map[string]any{"undo_token": entry.Token, "plan_id": entry.PlanID, "forced": diverged})
	committed, rec, err := o.timelines.CommitState(ctx, projectID, live.Revision, prior.Timeline, revision.Entry{
		Source:     revision.SourceUndo,
		Operations: ops,
		Actor:      req.Actor,
	}, func(ctx context.Context, tx *sql.Tx, _ revision.Blob, _ timeline.RevisionRecord) error {
		store := o.store.WithTx(tx)
		if err := store.ConsumeUndo(ctx, entry.Token, o.now()); err != nil {
			return err
		}
		return store.UpdatePlanStatus(ctx, entry.PlanID, StatusReverted)
	})
	if errors.Is(err, ErrUndoConsumed) {
		return nil, issues.New(issues.CodeOperationInvalid, -1, "undo token was already used")
	}
	if err != nil {
		return nil, err
	}
	detail := "restored"
	if diverged {
		detail = "restored (forced)"
	}
	o.record(ctx, projectID, entry.PlanID, ActionReverted, detail, committed.Revision)

	if o.logger != nil {
		logging.WithPlanID(logging.WithProjectID(o.logger, projectID), entry.PlanID).Info("plan undone",
			"revision", committed.Revision,
			"forced", diverged,
		)
	}

	return &UndoResult{
		Restored:           true,
		AppliedRevisionID:  rec.ID,
		RevertedRevisionID: entry.AppliedRevisionID,
		Revision:           committed.Revision,
		TimelineHash:       committed.TimelineHash,
	}, nil
}

func (o *Orchestrator) GetPlan(ctx context.Context, projectID, planID string) (*Plan, error) {
	p, err := o.store.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if p == nil || p.ProjectID != projectID {
		return nil, notFound("plan", planID)
	}
	return p, nil
}

func (o *Orchestrator) Actions(ctx context.Context, projectID string, limit int) ([]*ActionLogEntry, error) {
	if _, _, err := o.timelines.Timeline(ctx, projectID); err != nil {
		return nil, err
	}
	return o.store.ListActions(ctx, projectID, limit)
}
