// Package logging builds the editor's structured JSON loggers on log/slog.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewLogger creates a JSON logger on stdout at the given level.
// Supported levels: debug, info, warn, error
func NewLogger(level string) *slog.Logger {
	return NewLoggerTo(os.Stdout, level)
}

// NewLoggerTo is NewLogger writing to w. The CLI logs to stderr so command
// output on stdout stays machine-readable.
func NewLoggerTo(w io.Writer, level string) *slog.Logger {
	lvl := ParseLevel(level)
	opts := &slog.HandlerOptions{
		Level: lvl,
		// Add source location for debug level
		AddSource: lvl == slog.LevelDebug,
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithRequestID returns a logger with request_id attribute
func WithRequestID(logger *slog.Logger, requestID string) *slog.Logger {
	return logger.With("request_id", requestID)
}

// WithComponent returns a logger with component attribute
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	return logger.With("component", component)
}

// WithJobID returns a logger with job_id attribute
func WithJobID(logger *slog.Logger, jobID string) *slog.Logger {
	return logger.With("job_id", jobID)
}

// WithProjectID returns a logger with project_id attribute
func WithProjectID(logger *slog.Logger, projectID string) *slog.Logger {
	return logger.With("project_id", projectID)
}

// WithPlanID returns a logger with plan_id attribute
func WithPlanID(logger *slog.Logger, planID string) *slog.Logger {
	return logger.With("plan_id", planID)
}

// SanitizeToken masks a token for safe logging.
// Shows first 4 and last 4 characters only.
// Returns "****" for tokens shorter than 8 characters.
func SanitizeToken(token string) string {
	if len(token) <= 8 {
		return "****"
	}
	return token[:4] + "..." + token[len(token)-4:]
}

// SanitizePath masks sensitive parts of a file path.
// Replaces home directory with ~ for privacy.
func SanitizePath(path string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if strings.HasPrefix(path, home) {
		return "~" + path[len(home):]
	}
	return path
}
