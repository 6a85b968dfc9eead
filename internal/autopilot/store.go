package autopilot

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

type Store interface {
	CreatePlan(ctx context.Context, p *Plan) error
	GetPlan(ctx context.Context, id string) (*Plan, error)
	UpdatePlanStatus(ctx context.Context, id, status string) error

	CreateUndo(ctx context.Context, e *UndoEntry) error
	GetUndo(ctx context.Context, token string) (*UndoEntry, error)
	ConsumeUndo(ctx context.Context, token string, at time.Time) error

	AppendAction(ctx context.Context, e *ActionLogEntry) error
	ListActions(ctx context.Context, projectID string, limit int) ([]*ActionLogEntry, error)

	// WithTx returns a Store whose writes join tx.
	WithTx(tx *sql.Tx) Store
}

// querier is the part of *sql.DB and *sql.Tx the store uses.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type SQLiteStore struct {
	db querier
}

func NewStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) WithTx(tx *sql.Tx) Store {
	return &SQLiteStore{db: tx}
}

func (s *SQLiteStore) CreatePlan(ctx context.Context, p *Plan) error {
	payload, err := json.Marshal(p.Payload)
	if err != nil {
		return fmt.Errorf("encode plan payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO ai_plans (id, project_id, prompt, macro, status, confidence, base_revision,
			plan_revision_hash, payload, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.ProjectID, p.Prompt, nullString(p.Macro), p.Status, p.Confidence, p.BaseRevision,
		p.PlanRevisionHash, string(payload),
		p.CreatedAt.Format(time.RFC3339), p.UpdatedAt.Format(time.RFC3339))
	return err
}

func (s *SQLiteStore) GetPlan(ctx context.Context, id string) (*Plan, error) {
	var p Plan
	var macro sql.NullString
	var payload, createdAt, updatedAt string

	err := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, prompt, macro, status, confidence, base_revision,
			plan_revision_hash, payload, created_at, updated_at
		FROM ai_plans WHERE id = ?
	`, id).Scan(&p.ID, &p.ProjectID, &p.Prompt, &macro, &p.Status, &p.Confidence, &p.BaseRevision,
		&p.PlanRevisionHash, &payload, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(payload), &p.Payload); err != nil {
		return nil, fmt.Errorf("plan %s: decode payload: %w", id, err)
	}
	p.Macro = macro.String
	p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	p.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &p, nil
}

func (s *SQLiteStore) UpdatePlanStatus(ctx context.Context, id, status string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE ai_plans SET status = ?, updated_at = ? WHERE id = ?
	`, status, time.Now().UTC().Format(time.RFC3339), id)
	return err
}

func (s *SQLiteStore) CreateUndo(ctx context.Context, e *UndoEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO undo_entries (token, project_id, plan_id, prompt, snapshot, base_revision, base_hash,
			applied_revision, applied_hash, applied_revision_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.Token, e.ProjectID, e.PlanID, e.Prompt, e.Snapshot,
		e.Lineage.BaseRevision, e.Lineage.BaseHash, e.Lineage.AppliedRevision, e.Lineage.AppliedHash,
		e.AppliedRevisionID, e.CreatedAt.Format(time.RFC3339))
	return err
}

func (s *SQLiteStore) GetUndo(ctx context.Context, token string) (*UndoEntry, error) {
	var e UndoEntry
	var consumedAt sql.NullString
	var createdAt string

	err := s.db.QueryRowContext(ctx, `
		SELECT token, project_id, plan_id, prompt, snapshot, base_revision, base_hash,
			applied_revision, applied_hash, applied_revision_id, consumed_at, created_at
		FROM undo_entries WHERE token = ?
	`, token).Scan(&e.Token, &e.ProjectID, &e.PlanID, &e.Prompt, &e.Snapshot,
		&e.Lineage.BaseRevision, &e.Lineage.BaseHash, &e.Lineage.AppliedRevision, &e.Lineage.AppliedHash,
		&e.AppliedRevisionID, &consumedAt, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if consumedAt.Valid {
		t, _ := time.Parse(time.RFC3339, consumedAt.String)
		e.ConsumedAt = &t
	}
	e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &e, nil
}

// ConsumeUndo marks a token used. A token can be consumed once; later calls
// return ErrUndoConsumed.
func (s *SQLiteStore) ConsumeUndo(ctx context.Context, token string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE undo_entries SET consumed_at = ? WHERE token = ? AND consumed_at IS NULL
	`, at.UTC().Format(time.RFC3339), token)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrUndoConsumed
	}
	return nil
}

func (s *SQLiteStore) AppendAction(ctx context.Context, e *ActionLogEntry) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO action_log (project_id, plan_id, action, detail, revision, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.ProjectID, nullString(e.PlanID), e.Action, nullString(e.Detail), e.Revision,
		e.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return err
	}
	if id, err := res.LastInsertId(); err == nil {
		e.ID = id
	}
	return nil
}

// ListActions returns a project's action log, oldest first.
func (s *SQLiteStore) ListActions(ctx context.Context, projectID string, limit int) ([]*ActionLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, plan_id, action, detail, revision, created_at
		FROM action_log WHERE project_id = ? ORDER BY id ASC LIMIT ?
	`, projectID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ActionLogEntry
	for rows.Next() {
		var e ActionLogEntry
		var planID, detail sql.NullString
		var revision sql.NullInt64
		var createdAt string
		if err := rows.Scan(&e.ID, &e.ProjectID, &planID, &e.Action, &detail, &revision, &createdAt); err != nil {
			return nil, err
		}
		e.PlanID = planID.String
		e.Detail = detail.String
		e.Revision = revision.Int64
		e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		out = append(out, &e)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
