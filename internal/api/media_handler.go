package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/heimdex/heimdex-editor/internal/playback"
)

// assetMediaHandler streams an asset's source file for preview players.
func assetMediaHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		asset, err := cfg.Projects.Asset(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "aid"))
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		if asset.Path == "" {
			WriteError(w, http.StatusNotFound, "asset has no media path", "MEDIA_MISSING")
			return
		}

		// Media bodies outlive the server's write timeout.
		if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
			cfg.Logger.Debug("clear write deadline failed", "error", err)
		}

		err = cfg.Playback.ServeMedia(w, r, asset.Path)
		if errors.Is(err, playback.ErrNoMedia) {
			WriteError(w, http.StatusNotFound, "media file not found", "MEDIA_MISSING")
			return
		}
		if err != nil {
			cfg.Logger.Error("media playback failed", "asset_id", asset.ID, "error", err)
			WriteError(w, http.StatusInternalServerError, "failed to serve media", "INTERNAL_ERROR")
		}
	}
}
