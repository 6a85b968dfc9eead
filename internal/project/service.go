package project

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/heimdex/heimdex-editor/internal/issues"
	"github.com/heimdex/heimdex-editor/internal/revision"
	"github.com/heimdex/heimdex-editor/internal/ripple"
	"github.com/heimdex/heimdex-editor/internal/timeline"
	"github.com/heimdex/heimdex-editor/internal/transcript"
)

// Options tunes the edit flows.
type Options struct {
	Segmentation           transcript.Options
	MinConfidenceForRipple float64
}

func DefaultOptions() Options {
	return Options{
		Segmentation:           transcript.DefaultOptions(),
		MinConfidenceForRipple: ripple.DefaultMinConfidence,
	}
}

type Service struct {
	repo   Repository
	codec  *revision.Codec
	opts   Options
	logger *slog.Logger
	now    func() time.Time
}

func NewService(repo Repository, codec *revision.Codec, opts Options, logger *slog.Logger) *Service {
	if opts.MinConfidenceForRipple <= 0 {
		opts.MinConfidenceForRipple = ripple.DefaultMinConfidence
	}
	return &Service{repo: repo, codec: codec, opts: opts, logger: logger, now: time.Now}
}

func (s *Service) Repository() Repository { return s.repo }

func notFound(kind, id string) error {
	return issues.New(issues.CodeNotFound, -1, "%s %q not found", kind, id)
}

func conflict(format string, args ...any) error {
	return issues.New(issues.CodeConcurrencyConflict, -1, format, args...)
}

func (s *Service) CreateProject(ctx context.Context, name string) (*Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, issues.New(issues.CodeSchemaInvalid, -1, "name is required")
	}
	now := s.now().UTC()
	p := &Project{ID: NewID(), Name: name, CreatedAt: now, UpdatedAt: now}
	if err := s.repo.CreateProject(ctx, p); err != nil {
		return nil, fmt.Errorf("create project: %w", err)
	}
	if s.logger != nil {
		s.logger.Info("project created", "project_id", p.ID)
	}
	return p, nil
}

func (s *Service) GetProject(ctx context.Context, id string) (*Project, error) {
	p, err := s.repo.GetProject(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, notFound("project", id)
	}
	return p, nil
}

func (s *Service) ListProjects(ctx context.Context) ([]*Project, error) {
	return s.repo.ListProjects(ctx)
}

func (s *Service) AddAsset(ctx context.Context, projectID string, a Asset) (*Asset, error) {
	if _, err := s.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	a.Kind = strings.ToLower(strings.TrimSpace(a.Kind))
	if !AssetKinds[a.Kind] {
		return nil, issues.New(issues.CodeSchemaInvalid, -1, "unknown asset kind %q", a.Kind)
	}
	if a.DurationSec < 0 {
		return nil, issues.New(issues.CodeSchemaInvalid, -1, "duration_sec must be >= 0")
	}
	if a.ID == "" {
		a.ID = NewID()
	}
	a.ProjectID = projectID
	a.CreatedAt = s.now().UTC()
	if err := s.repo.CreateAsset(ctx, &a); err != nil {
		return nil, fmt.Errorf("create asset: %w", err)
	}
	return &a, nil
}

func (s *Service) ListAssets(ctx context.Context, projectID string) ([]*Asset, error) {
	return s.repo.ListAssets(ctx, projectID)
}

// Asset returns one of the project's assets.
func (s *Service) Asset(ctx context.Context, projectID, assetID string) (*Asset, error) {
	a, err := s.repo.GetAsset(ctx, assetID)
	if err != nil {
		return nil, err
	}
	if a == nil || a.ProjectID != projectID {
		return nil, notFound("asset", assetID)
	}
	return a, nil
}

func (s *Service) timelineAssets(ctx context.Context, projectID string) ([]timeline.Asset, error) {
	rows, err := s.repo.ListAssets(ctx, projectID)
	if err != nil {
		return nil, err
	}
	out := make([]timeline.Asset, 0, len(rows))
	for _, a := range rows {
		out = append(out, a.TimelineAsset())
	}
	return out, nil
}

// Timeline loads the project's current blob. The row's revision column is
// authoritative over the one embedded in the document.
func (s *Service) Timeline(ctx context.Context, projectID string) (revision.Blob, []timeline.Asset, error) {
	stored, err := s.repo.LoadTimeline(ctx, projectID)
	if err != nil {
		return revision.Blob{}, nil, err
	}
	if stored == nil {
		return revision.Blob{}, nil, notFound("project", projectID)
	}
	assets, err := s.timelineAssets(ctx, projectID)
	if err != nil {
		return revision.Blob{}, nil, err
	}
	blob, err := revision.Decode(stored.Blob, assets)
	if err != nil {
		return revision.Blob{}, nil, fmt.Errorf("project %s: %w", projectID, err)
	}
	blob.Revision = stored.Revision
	return blob, assets, nil
}

// prepare builds the guarded write that moves cur to next.
func (s *Service) prepare(cur revision.Blob, next timeline.State, e revision.Entry) (revision.Blob, TimelineWrite, error) {
	committed, rec, err := revision.Commit(cur, next, e, s.now())
	if err != nil {
		return revision.Blob{}, TimelineWrite{}, err
	}
	raw, err := revision.Encode(committed)
	if err != nil {
		return revision.Blob{}, TimelineWrite{}, err
	}
	return committed, TimelineWrite{ExpectedRevision: cur.Revision, Blob: raw, Record: rec}, nil
}

func mapConflict(err error, projectID string) error {
	if errors.Is(err, ErrConcurrencyConflict) {
		return conflict("project %s changed while the request was processed", projectID)
	}
	return err
}

// CommitState commits next as a new revision provided the project is still
// at expectedRevision. Hooks run in the commit's transaction, in order.
func (s *Service) CommitState(ctx context.Context, projectID string, expectedRevision int64, next timeline.State, e revision.Entry, hooks ...revision.Hook) (revision.Blob, timeline.RevisionRecord, error) {
	cur, _, err := s.Timeline(ctx, projectID)
	if err != nil {
		return revision.Blob{}, timeline.RevisionRecord{}, err
	}
	if cur.Revision != expectedRevision {
		return revision.Blob{}, timeline.RevisionRecord{}, conflict("project %s is at revision %d, expected %d", projectID, cur.Revision, expectedRevision)
	}
	committed, w, err := s.prepare(cur, next, e)
	if err != nil {
		return revision.Blob{}, timeline.RevisionRecord{}, err
	}
	if len(hooks) > 0 {
		rec := w.Record
		w.After = func(ctx context.Context, tx *sql.Tx) error {
			for _, h := range hooks {
				if err := h(ctx, tx, committed, rec); err != nil {
					return err
				}
			}
			return nil
		}
	}
	if err := s.repo.CommitTimeline(ctx, projectID, w); err != nil {
		return revision.Blob{}, timeline.RevisionRecord{}, mapConflict(err, projectID)
	}
	return committed, w.Record, nil
}

type TimelinePatch struct {
	Operations       []timeline.Operation
	ExpectedRevision *int64
	Actor            string
}

// PatchTimeline applies a direct operation batch. Any ERROR issue rejects the
// batch as INVARIANT_VIOLATION; WARN and INFO issues are returned with the
// committed blob.
func (s *Service) PatchTimeline(ctx context.Context, projectID string, p TimelinePatch) (revision.Blob, []issues.Issue, error) {
	cur, assets, err := s.Timeline(ctx, projectID)
	if err != nil {
		return revision.Blob{}, nil, err
	}
	if p.ExpectedRevision != nil && *p.ExpectedRevision != cur.Revision {
		return revision.Blob{}, nil, conflict("project %s is at revision %d, expected %d", projectID, cur.Revision, *p.ExpectedRevision)
	}
	if len(p.Operations) == 0 {
		return revision.Blob{}, nil, issues.New(issues.CodeSchemaInvalid, -1, "operations must not be empty")
	}

	next, list, err := timeline.ApplyAndValidate(cur.Timeline, p.Operations, assets)
	if err != nil {
		return revision.Blob{}, nil, err
	}
	if issues.HasErrors(list) {
		return revision.Blob{}, list, issues.Invariant(list)
	}

	raw, err := timeline.EncodeOperations(p.Operations)
	if err != nil {
		return revision.Blob{}, nil, err
	}
	committed, w, err := s.prepare(cur, next, revision.Entry{Source: revision.SourceTimelinePatch, Operations: raw, Actor: p.Actor})
	if err != nil {
		return revision.Blob{}, nil, err
	}
	if err := s.repo.CommitTimeline(ctx, projectID, w); err != nil {
		return revision.Blob{}, nil, mapConflict(err, projectID)
	}

	if s.logger != nil {
		s.logger.Info("timeline patched",
			"project_id", projectID,
			"revision", committed.Revision,
			"operations", len(p.Operations),
		)
	}
	return committed, list, nil
}

func (s *Service) Revisions(ctx context.Context, projectID string, limit int) ([]timeline.RevisionRecord, error) {
	if _, err := s.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	return s.repo.ListRevisions(ctx, projectID, limit)
}

func (s *Service) Transcript(ctx context.Context, projectID, language string) (*Transcript, error) {
	if _, err := s.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	if language == "" {
		return nil, issues.New(issues.CodeSchemaInvalid, -1, "language is required")
	}
	return s.repo.LoadTranscript(ctx, projectID, language)
}

type TranscriptPatch struct {
	Language               string
	Operations             []transcript.Operation
	MinConfidenceForRipple float64
	PreviewOnly            bool
	Actor                  string
}

// TranscriptPatchResult reports what a transcript patch did. TimelineOps
// lists the proposed footage cut; it was committed only when Applied is true
// and SuggestionsOnly is false.
type TranscriptPatchResult struct {
	Applied         bool            `json:"applied"`
	SuggestionsOnly bool            `json:"suggestions_only"`
	Issues          []issues.Issue  `json:"issues"`
	RevisionID      string          `json:"revision_id,omitempty"`
	Revision        int64           `json:"revision"`
	TimelineOps     json.RawMessage `json:"timeline_ops"`
	Confidence      *float64        `json:"confidence,omitempty"`
	Transcript      *Transcript     `json:"transcript"`
}

// PatchTranscript applies a transcript batch for one language. Deleted
// ranges are evaluated for ripple safety against the pre-patch transcript;
// when the cut is not safe nothing is committed and the whole request is
// reported as suggestions only, so transcript and footage never diverge.
// Applied patches always commit a timeline revision, even when the timeline
// itself is unchanged.
func (s *Service) PatchTranscript(ctx context.Context, projectID string, p TranscriptPatch) (*TranscriptPatchResult, error) {
	if strings.TrimSpace(p.Language) == "" {
		return nil, issues.New(issues.CodeSchemaInvalid, -1, "language is required")
	}
	cur, _, err := s.Timeline(ctx, projectID)
	if err != nil {
		return nil, err
	}
	tr, err := s.repo.LoadTranscript(ctx, projectID, p.Language)
	if err != nil {
		return nil, err
	}

	patched, err := transcript.ApplyPatch(tr.Segments, tr.Words, p.Operations)
	if err != nil {
		return nil, err
	}

	res := &TranscriptPatchResult{
		Issues:      patched.Issues,
		Revision:    cur.Revision,
		TimelineOps: json.RawMessage("[]"),
		Transcript:  tr,
	}
	if res.Issues == nil {
		res.Issues = []issues.Issue{}
	}
	if !patched.Applied {
		res.SuggestionsOnly = true
		return res, nil
	}

	segs, words := patched.Segments, patched.Words
	next := cur.Timeline
	if len(patched.Deleted) > 0 {
		minConf := p.MinConfidenceForRipple
		if minConf <= 0 {
			minConf = s.opts.MinConfidenceForRipple
		}
		rr := ripple.EvaluateRanges(cur.Timeline, tr.Segments, tr.Words, patched.Deleted, minConf)
		res.Issues = append(res.Issues, rr.Issues...)
		res.Confidence = rr.Confidence
		if len(rr.Operations) > 0 {
			if res.TimelineOps, err = timeline.EncodeOperations(rr.Operations); err != nil {
				return nil, err
			}
		}
		if rr.SuggestionsOnly {
			res.SuggestionsOnly = true
			if s.logger != nil {
				s.logger.Info("transcript delete demoted to suggestions",
					"project_id", projectID,
					"language", p.Language,
					"ranges", len(patched.Deleted),
				)
			}
			return res, nil
		}
		next = rr.Next
		for _, r := range ripple.Normalize(patched.Deleted) {
			segs = transcript.ShiftAfter(segs, r)
		}
		words = transcript.RebuildWords(segs)
		if shifted := transcript.ValidateSegments(segs, words); issues.HasErrors(shifted) {
			res.Issues = append(res.Issues, shifted...)
			res.SuggestionsOnly = true
			return res, nil
		}
	}

	out := &Transcript{
		Language: p.Language,
		Segments: segs,
		Words:    words,
		Captions: transcript.Captions(segs, s.opts.Segmentation),
	}
	if p.PreviewOnly {
		res.Transcript = out
		return res, nil
	}

	raw, err := transcript.EncodeOperations(p.Operations)
	if err != nil {
		return nil, err
	}
	committed, w, err := s.prepare(cur, next, revision.Entry{Source: revision.SourceTranscriptPatch, Operations: raw, Actor: p.Actor})
	if err != nil {
		return nil, err
	}
	if err := s.repo.CommitTranscript(ctx, projectID, out, &w); err != nil {
		return nil, mapConflict(err, projectID)
	}

	res.Applied = true
	res.RevisionID = w.Record.ID
	res.Revision = committed.Revision
	res.Transcript = out
	if s.logger != nil {
		s.logger.Info("transcript patched",
			"project_id", projectID,
			"language", p.Language,
			"revision", committed.Revision,
			"rippled", len(patched.Deleted) > 0,
		)
	}
	return res, nil
}

// ImportWords replaces a language's transcript with segments built from an
// ASR word stream.
func (s *Service) ImportWords(ctx context.Context, projectID, language string, words []transcript.Word) (*Transcript, error) {
	if _, err := s.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	segs, linked := transcript.BuildSegments(words, language, s.opts.Segmentation)
	t := &Transcript{
		Language: language,
		Segments: segs,
		Words:    linked,
		Captions: transcript.Captions(segs, s.opts.Segmentation),
	}
	if err := s.repo.CommitTranscript(ctx, projectID, t, nil); err != nil {
		return nil, fmt.Errorf("store transcript: %w", err)
	}
	if s.logger != nil {
		s.logger.Info("transcript imported",
			"project_id", projectID,
			"language", language,
			"segments", len(segs),
			"words", len(linked),
		)
	}
	return t, nil
}

type checkpointDoc struct {
	Segments []transcript.Segment `json:"segments"`
	Words    []transcript.Word    `json:"words"`
}

// CreateCheckpoint stores a compressed snapshot of a language's transcript.
func (s *Service) CreateCheckpoint(ctx context.Context, projectID, language, label string) (*Checkpoint, error) {
	tr, err := s.Transcript(ctx, projectID, language)
	if err != nil {
		return nil, err
	}
	snap, err := s.codec.SnapshotJSON(checkpointDoc{Segments: tr.Segments, Words: tr.Words})
	if err != nil {
		return nil, fmt.Errorf("snapshot transcript: %w", err)
	}
	c := &Checkpoint{
		ID:           NewID(),
		ProjectID:    projectID,
		Language:     language,
		Label:        strings.TrimSpace(label),
		SegmentCount: len(tr.Segments),
		CreatedAt:    s.now().UTC(),
	}
	if err := s.repo.CreateCheckpoint(ctx, c, snap); err != nil {
		return nil, fmt.Errorf("store checkpoint: %w", err)
	}
	return c, nil
}

func (s *Service) ListCheckpoints(ctx context.Context, projectID, language string) ([]*Checkpoint, error) {
	if _, err := s.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	return s.repo.ListCheckpoints(ctx, projectID, language)
}

// RestoreCheckpoint rewrites the checkpoint's language from its snapshot and
// records the restore as a new timeline revision.
func (s *Service) RestoreCheckpoint(ctx context.Context, projectID, checkpointID, actor string) (*TranscriptPatchResult, error) {
	c, snap, err := s.repo.GetCheckpoint(ctx, checkpointID)
	if err != nil {
		return nil, err
	}
	if c == nil || c.ProjectID != projectID {
		return nil, notFound("checkpoint", checkpointID)
	}

	var doc checkpointDoc
	if err := s.codec.RestoreJSON(snap, &doc); err != nil {
		return nil, fmt.Errorf("checkpoint %s: %w", checkpointID, err)
	}
	if doc.Segments == nil {
		doc.Segments = []transcript.Segment{}
	}
	if doc.Words == nil {
		doc.Words = []transcript.Word{}
	}
	if list := transcript.ValidateSegments(doc.Segments, doc.Words); issues.HasErrors(list) {
		return nil, issues.Invariant(list)
	}

	cur, _, err := s.Timeline(ctx, projectID)
	if err != nil {
		return nil, err
	}
	ops, _ := json.Marshal(map[string]string{"checkpoint_id": checkpointID})
	committed, w, err := s.prepare(cur, cur.Timeline, revision.Entry{Source: revision.SourceCheckpoint, Operations: ops, Actor: actor})
	if err != nil {
		return nil, err
	}
	out := &Transcript{
		Language: c.Language,
		Segments: doc.Segments,
		Words:    doc.Words,
		Captions: transcript.Captions(doc.Segments, s.opts.Segmentation),
	}
	if err := s.repo.CommitTranscript(ctx, projectID, out, &w); err != nil {
		return nil, mapConflict(err, projectID)
	}

	if s.logger != nil {
		s.logger.Info("checkpoint restored", "project_id", projectID, "checkpoint_id", checkpointID)
	}
	return &TranscriptPatchResult{
		Applied:     true,
		Issues:      []issues.Issue{},
		RevisionID:  w.Record.ID,
		Revision:    committed.Revision,
		TimelineOps: json.RawMessage("[]"),
		Transcript:  out,
	}, nil
}

// Transcribe queues an ASR job for one of the project's assets.
func (s *Service) Transcribe(ctx context.Context, projectID, assetID, language string) (*Job, error) {
	if _, err := s.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	if language == "" {
		return nil, issues.New(issues.CodeSchemaInvalid, -1, "language is required")
	}
	asset, err := s.Asset(ctx, projectID, assetID)
	if err != nil {
		return nil, err
	}
	if asset.Kind == "image" {
		return nil, issues.New(issues.CodeSchemaInvalid, -1, "asset %q has no audio to transcribe", assetID)
	}
	if asset.Path == "" {
		return nil, issues.New(issues.CodeSchemaInvalid, -1, "asset %q has no media path", assetID)
	}

	now := s.now().UTC()
	job := &Job{
		ID:        NewID(),
		Type:      JobTypeTranscribe,
		Status:    JobStatusPending,
		ProjectID: projectID,
		AssetID:   assetID,
		Language:  language,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	if s.logger != nil {
		s.logger.Info("transcription queued", "job_id", job.ID, "project_id", projectID, "asset_id", assetID)
	}
	return job, nil
}
