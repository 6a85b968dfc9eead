package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/heimdex/heimdex-editor/internal/autopilot"
)

func planHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req PlanRequest
		if err := decodeBody(r, &req); err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		res, err := cfg.Autopilot.Plan(r.Context(), chi.URLParam(r, "id"), req.Prompt)
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusCreated, res)
	}
}

func getPlanHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := cfg.Autopilot.GetPlan(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "pid"))
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, p)
	}
}

func applyHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req autopilot.ApplyRequest
		if err := decodeBody(r, &req); err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		req.Actor = actorOf(r)
		res, err := cfg.Autopilot.Apply(r.Context(), chi.URLParam(r, "id"), req)
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, res)
	}
}

func undoHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req autopilot.UndoRequest
		if err := decodeBody(r, &req); err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		req.Actor = actorOf(r)
		res, err := cfg.Autopilot.Undo(r.Context(), chi.URLParam(r, "id"), req)
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, res)
	}
}

func listActionsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actions, err := cfg.Autopilot.Actions(r.Context(), chi.URLParam(r, "id"), queryInt(r, "limit", 100))
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		if actions == nil {
			actions = []*autopilot.ActionLogEntry{}
		}
		WriteJSON(w, http.StatusOK, ActionsResponse{Actions: actions})
	}
}
