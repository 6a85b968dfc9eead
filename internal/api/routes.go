package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/heimdex/heimdex-editor/internal/playback"
	"github.com/heimdex/heimdex-editor/internal/project"
	"github.com/heimdex/heimdex-editor/internal/timeline"
	"github.com/heimdex/heimdex-editor/internal/transcript"
)

func NewRouter(cfg ServerConfig) *chi.Mux {
	if cfg.Playback == nil {
		cfg.Playback = playback.NewServer(cfg.Logger)
	}
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(CORSAllowlist())

	r.Get("/health", healthHandler(cfg))

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Repository, cfg.Logger))

		r.Get("/status", statusHandler(cfg))
		r.Get("/jobs", listJobsHandler(cfg))
		r.Get("/jobs/{id}", getJobHandler(cfg))
		r.Get("/macros", listMacrosHandler(cfg))

		r.Post("/projects", createProjectHandler(cfg))
		r.Get("/projects", listProjectsHandler(cfg))
		r.Route("/projects/{id}", func(r chi.Router) {
			r.Get("/", getProjectHandler(cfg))
			r.Post("/assets", addAssetHandler(cfg))
			r.Get("/assets/{aid}/media", assetMediaHandler(cfg))
			r.Head("/assets/{aid}/media", assetMediaHandler(cfg))

			r.Get("/timeline", getTimelineHandler(cfg))
			r.Patch("/timeline", patchTimelineHandler(cfg))
			r.Get("/revisions", listRevisionsHandler(cfg))

			r.Get("/transcript", getTranscriptHandler(cfg))
			r.Patch("/transcript", patchTranscriptHandler(cfg))
			r.Post("/transcript/checkpoints", createCheckpointHandler(cfg))
			r.Get("/transcript/checkpoints", listCheckpointsHandler(cfg))
			r.Post("/transcript/checkpoints/{cid}/restore", restoreCheckpointHandler(cfg))
			r.Post("/transcribe", transcribeHandler(cfg))

			r.Post("/plan", planHandler(cfg))
			r.Get("/plans/{pid}", getPlanHandler(cfg))
			r.Post("/apply", applyHandler(cfg))
			r.Post("/undo", undoHandler(cfg))
			r.Get("/actions", listActionsHandler(cfg))

			r.Get("/export.edl", exportEDLHandler(cfg))
			r.Get("/export.srt", exportSRTHandler(cfg))
		})
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := int64(time.Since(cfg.StartTime).Seconds())
		version := cfg.Version
		if version == "" {
			version = "dev"
		}
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Version: version,
			UptimeS: uptime,
		})
	}
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		projects, _ := cfg.Repository.ListProjects(ctx)
		jobs, _ := cfg.Repository.ListJobs(ctx, 10)

		state := "idle"
		var activeJob *JobResponse
		jobsRunning := 0
		lastError := ""

		if cfg.Runner != nil && cfg.Runner.IsPaused() {
			state = "paused"
		}

		for _, j := range jobs {
			if j.Status == project.JobStatusRunning {
				state = "transcribing"
				resp := JobToResponse(j)
				activeJob = &resp
				jobsRunning++
			}
			if j.Status == project.JobStatusFailed && lastError == "" {
				lastError = j.Error
			}
		}

		if lastError != "" && state == "idle" {
			state = "error"
		}

		resp := StatusResponse{
			State:         state,
			LastError:     lastError,
			ProjectsCount: len(projects),
			JobsRunning:   jobsRunning,
			ActiveJob:     activeJob,
		}
		if cfg.Macros != nil {
			resp.MacrosCount = len(cfg.Macros.Macros())
		}

		if cfg.Doctor != nil {
			caps, err := cfg.Doctor.Get(ctx)
			if err == nil && caps != nil {
				ps := &PipelineStatusResponse{
					HasSpeech:      caps.HasSpeech,
					HasDiarization: caps.HasDiarization,
					DepsAvail:      caps.Summary.Available,
					DepsTotal:      caps.Summary.Total,
				}
				if !caps.ProbedAt.IsZero() {
					ps.LastProbeAt = caps.ProbedAt.Format(time.RFC3339)
				}
				resp.Pipelines = ps
			}
		}

		WriteJSON(w, http.StatusOK, resp)
	}
}

func listJobsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobs, err := cfg.Repository.ListJobs(r.Context(), 50)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list jobs", "INTERNAL_ERROR")
			return
		}

		resp := JobsResponse{Jobs: make([]JobResponse, len(jobs))}
		for i, j := range jobs {
			resp.Jobs[i] = JobToResponse(j)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func getJobHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		job, err := cfg.Repository.GetJob(r.Context(), id)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if job == nil {
			WriteError(w, http.StatusNotFound, "job not found", "NOT_FOUND")
			return
		}

		WriteJSON(w, http.StatusOK, JobToResponse(job))
	}
}

func listMacrosHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := MacrosResponse{Macros: []MacroResponse{}}
		if cfg.Macros != nil {
			for _, m := range cfg.Macros.Macros() {
				resp.Macros = append(resp.Macros, MacroToResponse(m))
			}
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func createProjectHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateProjectRequest
		if err := decodeBody(r, &req); err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		p, err := cfg.Projects.CreateProject(r.Context(), req.Name)
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusCreated, p)
	}
}

func listProjectsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ps, err := cfg.Projects.ListProjects(r.Context())
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		if ps == nil {
			ps = []*project.Project{}
		}
		WriteJSON(w, http.StatusOK, ProjectsResponse{Projects: ps})
	}
}

func getProjectHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		p, err := cfg.Projects.GetProject(r.Context(), id)
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		assets, err := cfg.Projects.ListAssets(r.Context(), id)
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		if assets == nil {
			assets = []*project.Asset{}
		}
		WriteJSON(w, http.StatusOK, ProjectResponse{Project: p, Assets: assets})
	}
}

func addAssetHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AddAssetRequest
		if err := decodeBody(r, &req); err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		a, err := cfg.Projects.AddAsset(r.Context(), chi.URLParam(r, "id"), project.Asset{
			ID:          req.ID,
			SlotKey:     req.SlotKey,
			Kind:        req.Kind,
			DurationSec: req.DurationSec,
			Path:        req.Path,
		})
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusCreated, a)
	}
}

func getTimelineHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		blob, assets, err := cfg.Projects.Timeline(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, TimelineToResponse(blob, timeline.Validate(blob.Timeline, assets)))
	}
}

func patchTimelineHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req PatchTimelineRequest
		if err := decodeBody(r, &req); err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		ops, err := timeline.DecodeOperations(req.Operations)
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		blob, list, err := cfg.Projects.PatchTimeline(r.Context(), chi.URLParam(r, "id"), project.TimelinePatch{
			Operations:       ops,
			ExpectedRevision: req.ExpectedRevision,
			Actor:            actorOf(r),
		})
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, TimelineToResponse(blob, list))
	}
}

func listRevisionsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := queryInt(r, "limit", 50)
		revs, err := cfg.Projects.Revisions(r.Context(), chi.URLParam(r, "id"), limit)
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		if revs == nil {
			revs = []timeline.RevisionRecord{}
		}
		WriteJSON(w, http.StatusOK, RevisionsResponse{Revisions: revs})
	}
}

func getTranscriptHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tr, err := cfg.Projects.Transcript(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("language"))
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, tr)
	}
}

func patchTranscriptHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req PatchTranscriptRequest
		if err := decodeBody(r, &req); err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		ops, err := transcript.DecodeOperations(req.Operations)
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		res, err := cfg.Projects.PatchTranscript(r.Context(), chi.URLParam(r, "id"), project.TranscriptPatch{
			Language:               req.Language,
			Operations:             ops,
			MinConfidenceForRipple: req.MinConfidenceForRipple,
			PreviewOnly:            req.PreviewOnly,
			Actor:                  actorOf(r),
		})
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, res)
	}
}

func createCheckpointHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CheckpointRequest
		if err := decodeBody(r, &req); err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		c, err := cfg.Projects.CreateCheckpoint(r.Context(), chi.URLParam(r, "id"), req.Language, req.Label)
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusCreated, c)
	}
}

func listCheckpointsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cs, err := cfg.Projects.ListCheckpoints(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("language"))
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		if cs == nil {
			cs = []*project.Checkpoint{}
		}
		WriteJSON(w, http.StatusOK, CheckpointsResponse{Checkpoints: cs})
	}
}

func restoreCheckpointHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := cfg.Projects.RestoreCheckpoint(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "cid"), actorOf(r))
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, res)
	}
}

func transcribeHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req TranscribeRequest
		if err := decodeBody(r, &req); err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		job, err := cfg.Projects.Transcribe(r.Context(), chi.URLParam(r, "id"), req.AssetID, req.Language)
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusAccepted, JobToResponse(job))
	}
}

func queryInt(r *http.Request, key string, def int) int {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
