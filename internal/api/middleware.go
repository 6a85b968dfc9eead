package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/heimdex/heimdex-editor/internal/issues"
	"github.com/heimdex/heimdex-editor/internal/logging"
	"github.com/heimdex/heimdex-editor/internal/project"
)

type contextKey string

const RequestIDKey contextKey = "request_id"

// ActorHeader names who made an edit; it is recorded on revisions.
const ActorHeader = "X-Heimdex-Actor"

const defaultActor = "api"

func AuthMiddleware(repo project.Repository, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if auth == "" {
				WriteError(w, http.StatusUnauthorized, "missing authorization header", "UNAUTHORIZED")
				return
			}

			if !strings.HasPrefix(auth, "Bearer ") {
				WriteError(w, http.StatusUnauthorized, "invalid authorization format", "UNAUTHORIZED")
				return
			}

			token := strings.TrimPrefix(auth, "Bearer ")

			storedToken, err := repo.GetConfig(r.Context(), "auth_token")
			if err != nil || storedToken == "" {
				logger.Error("failed to get auth token from config", "error", err)
				WriteError(w, http.StatusInternalServerError, "auth configuration error", "INTERNAL_ERROR")
				return
			}

			if token != storedToken {
				logger.Warn("invalid auth token", "provided", logging.SanitizeToken(token))
				WriteError(w, http.StatusUnauthorized, "invalid token", "UNAUTHORIZED")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// CORSAllowlist answers browser clients served from the local machine.
// Other origins still get their response but without CORS headers, and
// their preflights are refused.
func CORSAllowlist() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}

			allowed := isAllowedOrigin(origin)
			if allowed {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
				h.Set("Access-Control-Expose-Headers", "X-Request-ID, Content-Range, Accept-Ranges, Content-Length")
			}

			if r.Method == http.MethodOptions {
				if !allowed {
					w.WriteHeader(http.StatusForbidden)
					return
				}
				h := w.Header()
				h.Set("Access-Control-Allow-Methods", "GET, HEAD, POST, PATCH, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, Range, "+ActorHeader)
				h.Set("Access-Control-Max-Age", "600")
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func isAllowedOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	if u.Path != "" || u.RawQuery != "" || u.User != nil {
		return false
	}
	if p := u.Port(); p != "" {
		if n, err := strconv.Atoi(p); err != nil || n < 1 || n > 65535 {
			return false
		}
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func LoggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			requestID, _ := r.Context().Value(RequestIDKey).(string)
			logging.WithRequestID(logger, requestID).Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", wrapped.status,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}

func RecoveryMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					requestID, _ := r.Context().Value(RequestIDKey).(string)
					logger.Error("panic recovered", "error", err, "request_id", requestID)
					WriteError(w, http.StatusInternalServerError, "internal server error", "INTERNAL_ERROR")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func RequestIDMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := project.NewID()[:8]
			ctx := context.WithValue(r.Context(), RequestIDKey, requestID)
			w.Header().Set("X-Request-ID", requestID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (w *responseWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Unwrap lets http.ResponseController reach the connection's deadlines.
func (w *responseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func WriteError(w http.ResponseWriter, status int, message, code string) {
	WriteJSON(w, status, ErrorResponse{Error: message, Code: code})
}

func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// StatusFor maps an engine error to its HTTP status.
func StatusFor(err error) int {
	var e *issues.Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError
	}
	switch e.ErrorKind() {
	case "validation":
		return http.StatusBadRequest
	case "conflict":
		return http.StatusConflict
	}
	if e.Code == issues.CodeNotFound {
		return http.StatusNotFound
	}
	return http.StatusUnprocessableEntity
}

// writeServiceError renders err with its code, offending operation index and
// validator issues. Unclassified errors are logged and hidden.
func writeServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var e *issues.Error
	if !errors.As(err, &e) {
		if logger != nil {
			logger.Error("request failed", "error", err)
		}
		WriteError(w, http.StatusInternalServerError, "internal error", "INTERNAL_ERROR")
		return
	}
	resp := ErrorResponse{Error: e.Error(), Code: e.Code, Issues: e.Issues}
	if e.Index >= 0 {
		idx := e.Index
		resp.Index = &idx
	}
	WriteJSON(w, StatusFor(err), resp)
}

func actorOf(r *http.Request) string {
	if a := strings.TrimSpace(r.Header.Get(ActorHeader)); a != "" {
		return a
	}
	return defaultActor
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return issues.New(issues.CodeSchemaInvalid, -1, "invalid request body: %v", err)
	}
	return nil
}
