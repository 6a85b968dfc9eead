// Package project persists editor projects and serves the timeline and
// transcript edit flows on top of the pure engine packages.
package project

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/heimdex/heimdex-editor/internal/timeline"
	"github.com/heimdex/heimdex-editor/internal/transcript"
)

// ErrConcurrencyConflict is returned when a guarded write finds the project
// at a different revision than the caller loaded.
var ErrConcurrencyConflict = errors.New("project revision changed concurrently")

type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Asset is a media file attached to a project slot.
type Asset struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"project_id"`
	SlotKey     string    `json:"slot_key"`
	Kind        string    `json:"kind"`
	DurationSec float64   `json:"duration_sec"`
	Path        string    `json:"path,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func (a *Asset) TimelineAsset() timeline.Asset {
	return timeline.Asset{ID: a.ID, SlotKey: a.SlotKey, Kind: a.Kind, DurationSec: a.DurationSec}
}

// StoredTimeline is the raw project row as persisted.
type StoredTimeline struct {
	Blob         []byte
	Revision     int64
	TimelineHash string
}

// Transcript is the persisted transcript of one language.
type Transcript struct {
	Language string               `json:"language"`
	Segments []transcript.Segment `json:"segments"`
	Words    []transcript.Word    `json:"words"`
	Captions []transcript.Caption `json:"captions"`
}

// TimelineWrite is a guarded timeline update. The row is only written while
// the project is still at ExpectedRevision.
type TimelineWrite struct {
	ExpectedRevision int64
	Blob             []byte
	Record           timeline.RevisionRecord
	// After runs in the write's transaction once the revision row is stored.
	After func(ctx context.Context, tx *sql.Tx) error
}

type Checkpoint struct {
	ID           string    `json:"id"`
	ProjectID    string    `json:"project_id"`
	Language     string    `json:"language"`
	Label        string    `json:"label,omitempty"`
	SegmentCount int       `json:"segment_count"`
	CreatedAt    time.Time `json:"created_at"`
}

const (
	JobTypeTranscribe = "transcribe"

	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

type Job struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Status    string    `json:"status"`
	ProjectID string    `json:"project_id,omitempty"`
	AssetID   string    `json:"asset_id,omitempty"`
	Language  string    `json:"language,omitempty"`
	Progress  int       `json:"progress"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Asset kinds accepted by AddAsset.
var AssetKinds = map[string]bool{
	"video":     true,
	"image":     true,
	"audio":     true,
	"music":     true,
	"voiceover": true,
}

func NewID() string {
	return uuid.New().String()
}
