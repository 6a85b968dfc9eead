// Package autopilot runs the plan, apply and undo lifecycle for proposed
// timeline edits. A plan is computed against a hash of the live timeline and
// can only be applied while that hash still holds; an applied plan stores a
// compressed snapshot of the prior state under a random undo token.
package autopilot

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/heimdex/heimdex-editor/internal/issues"
)

// Plan statuses.
const (
	StatusPlanned         = "PLANNED"
	StatusApplied         = "APPLIED"
	StatusReverted        = "REVERTED"
	StatusSuggestionsOnly = "SUGGESTIONS_ONLY"
)

// Execution modes reported with a plan.
const (
	ModeApplied         = "APPLIED"
	ModeSuggestionsOnly = "SUGGESTIONS_ONLY"
)

// Action log entries.
const (
	ActionPlanned       = "planned"
	ActionSuggested     = "suggested"
	ActionApplied       = "applied"
	ActionApplyRejected = "apply_rejected"
	ActionDemoted       = "demoted"
	ActionReverted      = "reverted"
	ActionUndoRejected  = "undo_rejected"
)

var ErrUndoConsumed = errors.New("undo token already used")

// PlanPayload is the stored body of a plan.
type PlanPayload struct {
	ExecutionMode     string          `json:"execution_mode"`
	AppliedOperations json.RawMessage `json:"applied_operations"`
	InvariantIssues   []issues.Issue  `json:"invariant_issues"`
	DiffGroups        []DiffGroup     `json:"diff_groups"`
	PlanRevisionHash  string          `json:"plan_revision_hash"`
	Rationale         string          `json:"rationale,omitempty"`
}

type Plan struct {
	ID               string      `json:"id"`
	ProjectID        string      `json:"project_id"`
	Prompt           string      `json:"prompt"`
	Macro            string      `json:"macro,omitempty"`
	Status           string      `json:"status"`
	Confidence       float64     `json:"confidence"`
	BaseRevision     int64       `json:"base_revision"`
	PlanRevisionHash string      `json:"plan_revision_hash"`
	Payload          PlanPayload `json:"payload"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// Lineage ties an undo entry to the revision it was taken from and the one
// the apply produced.
type Lineage struct {
	BaseRevision    int64  `json:"base_revision"`
	BaseHash        string `json:"base_hash"`
	AppliedRevision int64  `json:"applied_revision"`
	AppliedHash     string `json:"applied_hash"`
}

type UndoEntry struct {
	Token             string     `json:"token"`
	ProjectID         string     `json:"project_id"`
	PlanID            string     `json:"plan_id"`
	Prompt            string     `json:"prompt"`
	Snapshot          []byte     `json:"-"`
	Lineage           Lineage    `json:"lineage"`
	AppliedRevisionID string     `json:"applied_revision_id"`
	ConsumedAt        *time.Time `json:"consumed_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

type ActionLogEntry struct {
	ID        int64     `json:"id"`
	ProjectID string    `json:"project_id"`
	PlanID    string    `json:"plan_id,omitempty"`
	Action    string    `json:"action"`
	Detail    string    `json:"detail,omitempty"`
	Revision  int64     `json:"revision"`
	CreatedAt time.Time `json:"created_at"`
}
