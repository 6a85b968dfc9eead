package project

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/heimdex/heimdex-editor/internal/db"
	"github.com/heimdex/heimdex-editor/internal/timeline"
	"github.com/heimdex/heimdex-editor/internal/transcript"
)

type Repository interface {
	CreateProject(ctx context.Context, p *Project) error
	GetProject(ctx context.Context, id string) (*Project, error)
	ListProjects(ctx context.Context) ([]*Project, error)

	LoadTimeline(ctx context.Context, projectID string) (*StoredTimeline, error)
	CommitTimeline(ctx context.Context, projectID string, w TimelineWrite) error
	ListRevisions(ctx context.Context, projectID string, limit int) ([]timeline.RevisionRecord, error)

	CreateAsset(ctx context.Context, a *Asset) error
	GetAsset(ctx context.Context, id string) (*Asset, error)
	ListAssets(ctx context.Context, projectID string) ([]*Asset, error)

	LoadTranscript(ctx context.Context, projectID, language string) (*Transcript, error)
	CommitTranscript(ctx context.Context, projectID string, t *Transcript, w *TimelineWrite) error

	CreateCheckpoint(ctx context.Context, c *Checkpoint, snapshot []byte) error
	GetCheckpoint(ctx context.Context, id string) (*Checkpoint, []byte, error)
	ListCheckpoints(ctx context.Context, projectID, language string) ([]*Checkpoint, error)

	CreateJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, id string) (*Job, error)
	ListJobs(ctx context.Context, limit int) ([]*Job, error)
	ListPendingJobs(ctx context.Context) ([]*Job, error)
	UpdateJobStatus(ctx context.Context, id, status, errorMsg string) error
	UpdateJobProgress(ctx context.Context, id string, progress int) error

	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (r *SQLiteRepository) CreateProject(ctx context.Context, p *Project) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO projects (id, name, created_at, updated_at)
		VALUES (?, ?, ?, ?)
	`, p.ID, p.Name, p.CreatedAt.Format(time.RFC3339), p.UpdatedAt.Format(time.RFC3339))
	return err
}

func (r *SQLiteRepository) GetProject(ctx context.Context, id string) (*Project, error) {
	var p Project
	var createdAt, updatedAt string
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, created_at, updated_at FROM projects WHERE id = ?
	`, id).Scan(&p.ID, &p.Name, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	p.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &p, nil
}

func (r *SQLiteRepository) ListProjects(ctx context.Context) ([]*Project, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, created_at, updated_at FROM projects ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []*Project
	for rows.Next() {
		var p Project
		var createdAt, updatedAt string
		if err := rows.Scan(&p.ID, &p.Name, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		p.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		projects = append(projects, &p)
	}
	return projects, rows.Err()
}

func (r *SQLiteRepository) LoadTimeline(ctx context.Context, projectID string) (*StoredTimeline, error) {
	var st StoredTimeline
	var blob string
	err := r.db.QueryRowContext(ctx, `
		SELECT timeline_blob, revision, timeline_hash FROM projects WHERE id = ?
	`, projectID).Scan(&blob, &st.Revision, &st.TimelineHash)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	st.Blob = []byte(blob)
	return &st, nil
}

func (r *SQLiteRepository) CommitTimeline(ctx context.Context, projectID string, w TimelineWrite) error {
	return db.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		if err := writeTimeline(ctx, tx, projectID, w); err != nil {
			return err
		}
		if w.After != nil {
			return w.After(ctx, tx)
		}
		return nil
	})
}

// writeTimeline updates the project row only while it is still at the
// expected revision, then appends the audit row.
func writeTimeline(ctx context.Context, ex execer, projectID string, w TimelineWrite) error {
	rec := w.Record
	res, err := ex.ExecContext(ctx, `
		UPDATE projects SET timeline_blob = ?, revision = ?, timeline_hash = ?, updated_at = ?
		WHERE id = ? AND revision = ?
	`, string(w.Blob), rec.Revision, rec.TimelineHash, rec.CreatedAt.Format(time.RFC3339),
		projectID, w.ExpectedRevision)
	if err != nil {
		return fmt.Errorf("update project timeline: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConcurrencyConflict
	}

	_, err = ex.ExecContext(ctx, `
		INSERT INTO timeline_revisions (id, project_id, revision, timeline_hash, source, operations, actor, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, projectID, rec.Revision, rec.TimelineHash, rec.Source,
		nullString(string(rec.Operations)), nullString(rec.Actor), rec.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("insert revision: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) ListRevisions(ctx context.Context, projectID string, limit int) ([]timeline.RevisionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, revision, timeline_hash, source, operations, actor, created_at
		FROM timeline_revisions WHERE project_id = ? ORDER BY revision DESC LIMIT ?
	`, projectID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []timeline.RevisionRecord
	for rows.Next() {
		var rec timeline.RevisionRecord
		var ops, actor sql.NullString
		var createdAt string
		if err := rows.Scan(&rec.ID, &rec.Revision, &rec.TimelineHash, &rec.Source, &ops, &actor, &createdAt); err != nil {
			return nil, err
		}
		if ops.Valid {
			rec.Operations = []byte(ops.String)
		}
		rec.Actor = actor.String
		rec.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func (r *SQLiteRepository) CreateAsset(ctx context.Context, a *Asset) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO assets (id, project_id, slot_key, kind, duration_sec, path, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.ProjectID, a.SlotKey, a.Kind, a.DurationSec, nullString(a.Path), a.CreatedAt.Format(time.RFC3339))
	return err
}

func (r *SQLiteRepository) GetAsset(ctx context.Context, id string) (*Asset, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, project_id, slot_key, kind, duration_sec, path, created_at
		FROM assets WHERE id = ?
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	assets, err := scanAssets(rows)
	if err != nil || len(assets) == 0 {
		return nil, err
	}
	return assets[0], nil
}

func (r *SQLiteRepository) ListAssets(ctx context.Context, projectID string) ([]*Asset, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, project_id, slot_key, kind, duration_sec, path, created_at
		FROM assets WHERE project_id = ? ORDER BY slot_key, id
	`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAssets(rows)
}

func scanAssets(rows *sql.Rows) ([]*Asset, error) {
	var assets []*Asset
	for rows.Next() {
		var a Asset
		var path sql.NullString
		var createdAt string
		if err := rows.Scan(&a.ID, &a.ProjectID, &a.SlotKey, &a.Kind, &a.DurationSec, &path, &createdAt); err != nil {
			return nil, err
		}
		a.Path = path.String
		a.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		assets = append(assets, &a)
	}
	return assets, rows.Err()
}

// LoadTranscript returns empty slices for a language without rows.
func (r *SQLiteRepository) LoadTranscript(ctx context.Context, projectID, language string) (*Transcript, error) {
	t := &Transcript{
		Language: language,
		Segments: []transcript.Segment{},
		Words:    []transcript.Word{},
		Captions: []transcript.Caption{},
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, text, start_ms, end_ms, speaker_label, confidence_avg, source
		FROM transcript_segments WHERE project_id = ? AND language = ?
		ORDER BY start_ms, id
	`, projectID, language)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		s := transcript.Segment{Language: language}
		var speaker sql.NullString
		var conf sql.NullFloat64
		if err := rows.Scan(&s.ID, &s.Text, &s.StartMs, &s.EndMs, &speaker, &conf, &s.Source); err != nil {
			rows.Close()
			return nil, err
		}
		s.SpeakerLabel = speaker.String
		s.ConfidenceAvg = floatPtr(conf)
		t.Segments = append(t.Segments, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = r.db.QueryContext(ctx, `
		SELECT text, start_ms, end_ms, confidence, speaker_label, segment_id
		FROM transcript_words WHERE project_id = ? AND language = ?
		ORDER BY position
	`, projectID, language)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var w transcript.Word
		var conf sql.NullFloat64
		var speaker, segID sql.NullString
		if err := rows.Scan(&w.Text, &w.StartMs, &w.EndMs, &conf, &speaker, &segID); err != nil {
			rows.Close()
			return nil, err
		}
		w.Confidence = floatPtr(conf)
		w.SpeakerLabel = speaker.String
		w.SegmentID = segID.String
		t.Words = append(t.Words, w)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = r.db.QueryContext(ctx, `
		SELECT idx, segment_id, start_ms, end_ms, text
		FROM transcript_captions WHERE project_id = ? AND language = ?
		ORDER BY idx
	`, projectID, language)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		c := transcript.Caption{Language: language}
		var text string
		if err := rows.Scan(&c.Index, &c.SegmentID, &c.StartMs, &c.EndMs, &text); err != nil {
			return nil, err
		}
		c.Lines = strings.Split(text, "\n")
		t.Captions = append(t.Captions, c)
	}
	return t, rows.Err()
}

// CommitTranscript replaces every segment, word and caption row of the
// transcript's language. When w is non-nil the guarded timeline write runs in
// the same transaction.
func (r *SQLiteRepository) CommitTranscript(ctx context.Context, projectID string, t *Transcript, w *TimelineWrite) error {
	return db.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		if w != nil {
			if err := writeTimeline(ctx, tx, projectID, *w); err != nil {
				return err
			}
		}

		for _, table := range []string{"transcript_segments", "transcript_words", "transcript_captions"} {
			if _, err := tx.ExecContext(ctx,
				"DELETE FROM "+table+" WHERE project_id = ? AND language = ?", projectID, t.Language); err != nil {
				return fmt.Errorf("clear %s: %w", table, err)
			}
		}

		for _, s := range t.Segments {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO transcript_segments (project_id, language, id, text, start_ms, end_ms, speaker_label, confidence_avg, source)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, projectID, t.Language, s.ID, s.Text, s.StartMs, s.EndMs, nullString(s.SpeakerLabel), nullFloat(s.ConfidenceAvg), s.Source)
			if err != nil {
				return fmt.Errorf("insert segment %s: %w", s.ID, err)
			}
		}
		for i, wd := range t.Words {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO transcript_words (project_id, language, position, text, start_ms, end_ms, confidence, speaker_label, segment_id)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, projectID, t.Language, i, wd.Text, wd.StartMs, wd.EndMs, nullFloat(wd.Confidence), nullString(wd.SpeakerLabel), nullString(wd.SegmentID))
			if err != nil {
				return fmt.Errorf("insert word %d: %w", i, err)
			}
		}
		for _, c := range t.Captions {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO transcript_captions (project_id, language, idx, segment_id, start_ms, end_ms, text)
				VALUES (?, ?, ?, ?, ?, ?, ?)
			`, projectID, t.Language, c.Index, c.SegmentID, c.StartMs, c.EndMs, c.Text())
			if err != nil {
				return fmt.Errorf("insert caption %d: %w", c.Index, err)
			}
		}
		return nil
	})
}

func (r *SQLiteRepository) CreateCheckpoint(ctx context.Context, c *Checkpoint, snapshot []byte) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO transcript_checkpoints (id, project_id, language, label, segment_count, snapshot, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.ProjectID, c.Language, nullString(c.Label), c.SegmentCount, snapshot, c.CreatedAt.Format(time.RFC3339))
	return err
}

func (r *SQLiteRepository) GetCheckpoint(ctx context.Context, id string) (*Checkpoint, []byte, error) {
	var c Checkpoint
	var label sql.NullString
	var createdAt string
	var snapshot []byte
	err := r.db.QueryRowContext(ctx, `
		SELECT id, project_id, language, label, segment_count, snapshot, created_at
		FROM transcript_checkpoints WHERE id = ?
	`, id).Scan(&c.ID, &c.ProjectID, &c.Language, &label, &c.SegmentCount, &snapshot, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	c.Label = label.String
	c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &c, snapshot, nil
}

func (r *SQLiteRepository) ListCheckpoints(ctx context.Context, projectID, language string) ([]*Checkpoint, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, project_id, language, label, segment_count, created_at
		FROM transcript_checkpoints WHERE project_id = ? AND language = ?
		ORDER BY created_at DESC, id
	`, projectID, language)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Checkpoint
	for rows.Next() {
		var c Checkpoint
		var label sql.NullString
		var createdAt string
		if err := rows.Scan(&c.ID, &c.ProjectID, &c.Language, &label, &c.SegmentCount, &createdAt); err != nil {
			return nil, err
		}
		c.Label = label.String
		c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		out = append(out, &c)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) CreateJob(ctx context.Context, j *Job) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO jobs (id, type, status, project_id, asset_id, language, progress, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, j.ID, j.Type, j.Status, nullString(j.ProjectID), nullString(j.AssetID), nullString(j.Language),
		j.Progress, nullString(j.Error),
		j.CreatedAt.Format(time.RFC3339), j.UpdatedAt.Format(time.RFC3339))
	return err
}

const jobColumns = `id, type, status, project_id, asset_id, language, progress, error, created_at, updated_at`

func (r *SQLiteRepository) GetJob(ctx context.Context, id string) (*Job, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs, err := r.scanJobs(rows)
	if err != nil || len(jobs) == 0 {
		return nil, err
	}
	return jobs[0], nil
}

func (r *SQLiteRepository) ListJobs(ctx context.Context, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return r.scanJobs(rows)
}

func (r *SQLiteRepository) ListPendingJobs(ctx context.Context) ([]*Job, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM jobs WHERE status = 'pending' ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return r.scanJobs(rows)
}

func (r *SQLiteRepository) scanJobs(rows *sql.Rows) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		var j Job
		var projectID, assetID, language, errMsg sql.NullString
		var createdAt, updatedAt string

		if err := rows.Scan(&j.ID, &j.Type, &j.Status, &projectID, &assetID, &language, &j.Progress, &errMsg, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		j.ProjectID = projectID.String
		j.AssetID = assetID.String
		j.Language = language.String
		j.Error = errMsg.String
		j.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		j.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		jobs = append(jobs, &j)
	}
	return jobs, rows.Err()
}

func (r *SQLiteRepository) UpdateJobStatus(ctx context.Context, id, status, errorMsg string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, error = ?, updated_at = ? WHERE id = ?
	`, status, nullString(errorMsg), time.Now().UTC().Format(time.RFC3339), id)
	return err
}

func (r *SQLiteRepository) UpdateJobProgress(ctx context.Context, id string, progress int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET progress = ?, updated_at = ? WHERE id = ?
	`, progress, time.Now().UTC().Format(time.RFC3339), id)
	return err
}

func (r *SQLiteRepository) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, "SELECT value FROM config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (r *SQLiteRepository) SetConfig(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func floatPtr(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Float64
	return &v
}
