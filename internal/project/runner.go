package project

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/heimdex/heimdex-editor/internal/logging"
	"github.com/heimdex/heimdex-editor/internal/pipelines"
	"github.com/heimdex/heimdex-editor/internal/transcript"
)

// Runner polls for pending transcription jobs and feeds the recognized words
// into the project's transcript.
type Runner struct {
	service      *Service
	repo         Repository
	pipeRunner   pipelines.Runner
	doctor       *pipelines.CachedDoctor
	logger       *slog.Logger
	pollInterval time.Duration
	running      atomic.Bool
	paused       atomic.Bool
}

func NewRunner(service *Service, pipeRunner pipelines.Runner, doctor *pipelines.CachedDoctor, logger *slog.Logger) *Runner {
	return &Runner{
		service:      service,
		repo:         service.repo,
		pipeRunner:   pipeRunner,
		doctor:       doctor,
		logger:       logger,
		pollInterval: 5 * time.Second,
	}
}

func (r *Runner) Start(ctx context.Context) {
	if r.running.Swap(true) {
		return
	}

	r.logger.Info("job runner started")

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("job runner stopping")
			r.running.Store(false)
			return
		case <-ticker.C:
			if !r.paused.Load() {
				r.processNextJob(ctx)
			}
		}
	}
}

func (r *Runner) Pause() {
	r.paused.Store(true)
	r.logger.Info("job runner paused")
}

func (r *Runner) Resume() {
	r.paused.Store(false)
	r.logger.Info("job runner resumed")
}

func (r *Runner) IsPaused() bool {
	return r.paused.Load()
}

func (r *Runner) IsRunning() bool {
	return r.running.Load()
}

func (r *Runner) processNextJob(ctx context.Context) {
	jobs, err := r.repo.ListPendingJobs(ctx)
	if err != nil {
		r.logger.Error("failed to list pending jobs", "error", err)
		return
	}
	if len(jobs) == 0 {
		return
	}

	job := jobs[0]
	r.logger.Info("processing job", "job_id", job.ID, "type", job.Type)

	switch job.Type {
	case JobTypeTranscribe:
		r.processTranscribeJob(ctx, job)
	default:
		r.logger.Warn("unknown job type", "type", job.Type)
		r.fail(ctx, job, "unknown job type")
	}
}

func (r *Runner) fail(ctx context.Context, job *Job, msg string) {
	if err := r.repo.UpdateJobStatus(ctx, job.ID, JobStatusFailed, msg); err != nil {
		r.logger.Error("failed to mark job failed", "job_id", job.ID, "error", err)
	}
}

func (r *Runner) setStatus(ctx context.Context, job *Job, status string) bool {
	if err := r.repo.UpdateJobStatus(ctx, job.ID, status, ""); err != nil {
		r.logger.Error("failed to update job status", "job_id", job.ID, "status", status, "error", err)
		return false
	}
	return true
}

func (r *Runner) setProgress(ctx context.Context, job *Job, progress int) {
	if err := r.repo.UpdateJobProgress(ctx, job.ID, progress); err != nil {
		r.logger.Warn("failed to update job progress", "job_id", job.ID, "progress", progress, "error", err)
	}
}

func (r *Runner) processTranscribeJob(ctx context.Context, job *Job) {
	if r.pipeRunner == nil || r.doctor == nil {
		r.fail(ctx, job, "speech runner not configured")
		return
	}

	asset, err := r.repo.GetAsset(ctx, job.AssetID)
	if err != nil || asset == nil {
		r.fail(ctx, job, "asset not found")
		return
	}

	if !r.setStatus(ctx, job, JobStatusRunning) {
		return
	}

	if err := r.doctor.RequireSpeech(ctx); err != nil {
		r.fail(ctx, job, err.Error())
		return
	}

	log := logging.WithJobID(r.logger, job.ID)
	outPath := filepath.Join(r.pipeRunner.ArtifactsDir(), asset.ID, job.Language, "speech.json")
	log.Info("running speech pipeline", "asset_id", asset.ID, "language", job.Language)

	result, err := r.pipeRunner.RunSpeech(ctx, asset.Path, job.Language, outPath)
	if err != nil {
		r.fail(ctx, job, fmt.Sprintf("speech pipeline error: %v", err))
		return
	}
	if !result.IsSuccess() {
		r.doctor.Invalidate()
		r.fail(ctx, job, fmt.Sprintf("speech pipeline exited %d: %s", result.ExitCode, truncateStr(result.StderrTail, 512)))
		return
	}
	r.setProgress(ctx, job, 50)

	out, err := r.pipeRunner.ReadSpeech(outPath)
	if err != nil {
		r.fail(ctx, job, fmt.Sprintf("speech output invalid: %v", err))
		return
	}

	words := make([]transcript.Word, 0, len(out.Words))
	for _, w := range out.Words {
		words = append(words, transcript.Word{
			Text:         w.Text,
			StartMs:      w.StartMs,
			EndMs:        w.EndMs,
			Confidence:   w.Confidence,
			SpeakerLabel: w.Speaker,
		})
	}
	t, err := r.service.ImportWords(ctx, job.ProjectID, job.Language, words)
	if err != nil {
		r.fail(ctx, job, fmt.Sprintf("import transcript: %v", err))
		return
	}

	r.setProgress(ctx, job, 100)
	r.setStatus(ctx, job, JobStatusCompleted)
	log.Info("transcription completed",
		"segments", len(t.Segments),
		"duration", result.Duration,
	)
}

func truncateStr(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[len(s)-maxLen:]
}

func (r *Runner) GetActiveJobCount(ctx context.Context) int {
	jobs, err := r.repo.ListJobs(ctx, 100)
	if err != nil {
		return 0
	}
	count := 0
	for _, j := range jobs {
		if j.Status == JobStatusRunning {
			count++
		}
	}
	return count
}
