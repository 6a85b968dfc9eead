// Package revision turns timeline states into committed, hashed, numbered
// revisions and back.
package revision

import (
	"bytes"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/heimdex/heimdex-editor/internal/timeline"
)

// Revision sources.
const (
	SourceTimelinePatch   = "timeline_patch"
	SourceTranscriptPatch = "transcript_patch"
	SourcePlanApply       = "plan_apply"
	SourceUndo            = "undo"
	SourceCheckpoint      = "checkpoint_restore"
)

// MaxEmbeddedRevisions bounds the audit entries carried inside the blob. The
// full history lives in the timeline_revisions table.
const MaxEmbeddedRevisions = 50

// Blob is the persisted project timeline document.
type Blob struct {
	Timeline     timeline.State `json:"timeline"`
	Revision     int64          `json:"revision"`
	TimelineHash string         `json:"timeline_hash"`
}

// Entry describes why a revision is being committed.
type Entry struct {
	Source     string
	Operations json.RawMessage
	Actor      string
}

// Hook runs inside the transaction that stores a commit. An error rolls the
// commit back.
type Hook func(ctx context.Context, tx *sql.Tx, committed Blob, rec timeline.RevisionRecord) error

// Hash returns the hex sha256 of the canonical serialization of s, excluding
// its revision log.
func Hash(s timeline.State) (string, error) {
	c := s.Clone()
	c.Revisions = nil
	data, err := timeline.Serialize(c)
	if err != nil {
		return "", fmt.Errorf("serialize timeline: %w", err)
	}
	return CalculateHash(data), nil
}

func CalculateHash(data []byte) string {
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h)
}

// Decode rebuilds a blob from its persisted form. An empty document yields
// revision 0 with state synthesized from assets. The hash is always
// recomputed from the rebuilt state.
func Decode(raw []byte, assets []timeline.Asset) (Blob, error) {
	var doc struct {
		Timeline json.RawMessage `json:"timeline"`
		Revision int64           `json:"revision"`
	}
	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
		if err := json.Unmarshal(trimmed, &doc); err != nil {
			return Blob{}, fmt.Errorf("decode timeline blob: %w", err)
		}
	}

	state, err := timeline.Build(doc.Timeline, assets)
	if err != nil {
		return Blob{}, err
	}
	hash, err := Hash(state)
	if err != nil {
		return Blob{}, err
	}
	return Blob{Timeline: state, Revision: doc.Revision, TimelineHash: hash}, nil
}

// Encode renders a blob in canonical form.
func Encode(b Blob) ([]byte, error) {
	state, err := timeline.Serialize(b.Timeline)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		Timeline     json.RawMessage `json:"timeline"`
		Revision     int64           `json:"revision"`
		TimelineHash string          `json:"timeline_hash"`
	}{state, b.Revision, b.TimelineHash})
}

// Commit produces the blob following b with next as its state. The revision
// number always advances by one and the new record is appended to b's
// revision log, so restoring an older state never rewinds the counter.
func Commit(b Blob, next timeline.State, e Entry, now time.Time) (Blob, timeline.RevisionRecord, error) {
	hash, err := Hash(next)
	if err != nil {
		return Blob{}, timeline.RevisionRecord{}, err
	}

	rec := timeline.RevisionRecord{
		ID:           uuid.New().String(),
		Revision:     b.Revision + 1,
		TimelineHash: hash,
		Source:       e.Source,
		Operations:   e.Operations,
		Actor:        e.Actor,
		CreatedAt:    now.UTC(),
	}

	state := next.Clone()
	log := make([]timeline.RevisionRecord, 0, len(b.Timeline.Revisions)+1)
	log = append(log, b.Timeline.Revisions...)
	log = append(log, rec)
	if len(log) > MaxEmbeddedRevisions {
		log = log[len(log)-MaxEmbeddedRevisions:]
	}
	state.Revisions = log

	return Blob{Timeline: state, Revision: rec.Revision, TimelineHash: hash}, rec, nil
}
