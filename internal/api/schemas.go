package api

import (
	"encoding/json"
	"time"

	"github.com/heimdex/heimdex-editor/internal/autopilot"
	"github.com/heimdex/heimdex-editor/internal/issues"
	"github.com/heimdex/heimdex-editor/internal/project"
	"github.com/heimdex/heimdex-editor/internal/revision"
	"github.com/heimdex/heimdex-editor/internal/timeline"
)

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	UptimeS int64  `json:"uptime_s"`
}

type StatusResponse struct {
	State         string                  `json:"state"`
	LastError     string                  `json:"last_error,omitempty"`
	ProjectsCount int                     `json:"projects_count"`
	MacrosCount   int                     `json:"macros_count"`
	JobsRunning   int                     `json:"jobs_running"`
	ActiveJob     *JobResponse            `json:"active_job,omitempty"`
	Pipelines     *PipelineStatusResponse `json:"pipelines,omitempty"`
}

type PipelineStatusResponse struct {
	HasSpeech      bool   `json:"has_speech"`
	HasDiarization bool   `json:"has_diarization"`
	LastProbeAt    string `json:"last_probe_at,omitempty"`
	DepsAvail      int    `json:"deps_available"`
	DepsTotal      int    `json:"deps_total"`
}

type ErrorResponse struct {
	Error  string         `json:"error"`
	Code   string         `json:"code,omitempty"`
	Index  *int           `json:"index,omitempty"`
	Issues []issues.Issue `json:"issues,omitempty"`
}

type CreateProjectRequest struct {
	Name string `json:"name"`
}

type ProjectsResponse struct {
	Projects []*project.Project `json:"projects"`
}

type ProjectResponse struct {
	*project.Project
	Assets []*project.Asset `json:"assets"`
}

type AddAssetRequest struct {
	ID          string  `json:"id,omitempty"`
	SlotKey     string  `json:"slot_key"`
	Kind        string  `json:"kind"`
	DurationSec float64 `json:"duration_sec"`
	Path        string  `json:"path,omitempty"`
}

// TimelineResponse is the live timeline without its embedded history.
type TimelineResponse struct {
	Tracks       []timeline.Track    `json:"tracks"`
	Revision     int64               `json:"revision"`
	TimelineHash string              `json:"timeline_hash"`
	FPS          int                 `json:"fps"`
	Resolution   timeline.Resolution `json:"resolution"`
	ExportPreset string              `json:"export_preset"`
	Issues       []issues.Issue      `json:"issues,omitempty"`
}

type PatchTimelineRequest struct {
	Operations       []json.RawMessage `json:"operations"`
	ExpectedRevision *int64            `json:"expected_revision,omitempty"`
}

type RevisionsResponse struct {
	Revisions []timeline.RevisionRecord `json:"revisions"`
}

type PatchTranscriptRequest struct {
	Language               string            `json:"language"`
	Operations             []json.RawMessage `json:"operations"`
	MinConfidenceForRipple float64           `json:"min_confidence_for_ripple,omitempty"`
	PreviewOnly            bool              `json:"preview_only,omitempty"`
}

type CheckpointRequest struct {
	Language string `json:"language"`
	Label    string `json:"label,omitempty"`
}

type CheckpointsResponse struct {
	Checkpoints []*project.Checkpoint `json:"checkpoints"`
}

type TranscribeRequest struct {
	AssetID  string `json:"asset_id"`
	Language string `json:"language"`
}

type PlanRequest struct {
	Prompt string `json:"prompt"`
}

type ActionsResponse struct {
	Actions []*autopilot.ActionLogEntry `json:"actions"`
}

type MacroResponse struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Keywords    []string `json:"keywords"`
	Confidence  float64  `json:"confidence"`
	Steps       int      `json:"steps"`
	Source      string   `json:"source"`
}

type MacrosResponse struct {
	Macros []MacroResponse `json:"macros"`
}

type JobResponse struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Status    string `json:"status"`
	ProjectID string `json:"project_id,omitempty"`
	AssetID   string `json:"asset_id,omitempty"`
	Language  string `json:"language,omitempty"`
	Progress  int    `json:"progress"`
	Error     string `json:"error,omitempty"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

type JobsResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

func TimelineToResponse(b revision.Blob, list []issues.Issue) TimelineResponse {
	tracks := b.Timeline.Tracks
	if tracks == nil {
		tracks = []timeline.Track{}
	}
	return TimelineResponse{
		Tracks:       tracks,
		Revision:     b.Revision,
		TimelineHash: b.TimelineHash,
		FPS:          b.Timeline.FPS,
		Resolution:   b.Timeline.Resolution,
		ExportPreset: b.Timeline.ExportPreset,
		Issues:       list,
	}
}

func MacroToResponse(m autopilot.Macro) MacroResponse {
	return MacroResponse{
		Name:        m.Name,
		Description: m.Description,
		Keywords:    m.Keywords,
		Confidence:  m.Confidence,
		Steps:       len(m.Steps),
		Source:      m.Source,
	}
}

func JobToResponse(j *project.Job) JobResponse {
	return JobResponse{
		ID:        j.ID,
		Type:      j.Type,
		Status:    j.Status,
		ProjectID: j.ProjectID,
		AssetID:   j.AssetID,
		Language:  j.Language,
		Progress:  j.Progress,
		Error:     j.Error,
		CreatedAt: j.CreatedAt.Format(time.RFC3339),
		UpdatedAt: j.UpdatedAt.Format(time.RFC3339),
	}
}
