package api

import (
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/heimdex/heimdex-editor/internal/export"
	"github.com/heimdex/heimdex-editor/internal/issues"
)

// ExportResponse is returned instead of the file body when the request
// names an output_dir to write into.
type ExportResponse struct {
	Status     string `json:"status"`
	Format     string `json:"format"`
	OutputPath string `json:"output_path"`
	Entries    int    `json:"entries"`
}

func exportEDLHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		id := chi.URLParam(r, "id")

		var frameRate float64
		if v := r.URL.Query().Get("fps"); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil || f <= 0 || f > 120 {
				WriteError(w, http.StatusBadRequest, "fps must be a number in (0, 120]", issues.CodeSchemaInvalid)
				return
			}
			frameRate = f
		}

		p, err := cfg.Projects.GetProject(ctx, id)
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		blob, _, err := cfg.Projects.Timeline(ctx, id)
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		assets, err := cfg.Projects.ListAssets(ctx, id)
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		media := make(map[string]string, len(assets))
		for _, a := range assets {
			media[a.ID] = a.Path
		}

		writeArtifact(w, r, cfg, "edl", export.TimelineEDL(p.Name, blob.Timeline, media, frameRate))
	}
}

func exportSRTHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		id := chi.URLParam(r, "id")
		language := r.URL.Query().Get("language")

		p, err := cfg.Projects.GetProject(ctx, id)
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		tr, err := cfg.Projects.Transcript(ctx, id, language)
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}

		writeArtifact(w, r, cfg, "srt", export.TranscriptSRT(p.Name, language, tr.Captions))
	}
}

func writeArtifact(w http.ResponseWriter, r *http.Request, cfg ServerConfig, format string, a export.Artifact) {
	if dir := r.URL.Query().Get("output_dir"); dir != "" {
		path, err := a.WriteTo(dir)
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}
		if cfg.Logger != nil {
			cfg.Logger.Info("export written", "format", format, "entries", a.Entries)
		}
		WriteJSON(w, http.StatusOK, ExportResponse{
			Status:     "ok",
			Format:     format,
			OutputPath: path,
			Entries:    a.Entries,
		})
		return
	}

	w.Header().Set("Content-Type", a.ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": a.FileName}))
	w.WriteHeader(http.StatusOK)
	w.Write(a.Body)
}
