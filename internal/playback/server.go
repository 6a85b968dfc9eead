// Package playback streams project source media to local preview clients
// with byte range support so browsers can scrub without downloading whole
// files.
package playback

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
)

// ErrNoMedia is returned when the media file is gone from disk.
var ErrNoMedia = errors.New("media file not found")

type Server struct {
	logger *slog.Logger
}

func NewServer(logger *slog.Logger) *Server {
	return &Server{logger: logger}
}

// ServeMedia writes the file at path. HEAD requests get headers only.
// Nothing is written when ErrNoMedia is returned so callers can render
// their own error.
func (s *Server) ServeMedia(w http.ResponseWriter, r *http.Request, path string) error {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNoMedia
		}
		return fmt.Errorf("failed to open media: %w", err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat media: %w", err)
	}
	if stat.IsDir() {
		return ErrNoMedia
	}
	size := stat.Size()

	h := w.Header()
	h.Set("Accept-Ranges", "bytes")
	h.Set("Content-Type", contentType(path))
	h.Set("Last-Modified", stat.ModTime().UTC().Format(http.TimeFormat))
	h.Set("Cache-Control", "no-cache")

	rng, partial, err := ParseRange(r.Header.Get("Range"), size)
	switch {
	case errors.Is(err, ErrUnsatisfiable):
		h.Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return nil
	case err != nil:
		// A malformed header is ignored and the full file is sent.
		partial = false
	}

	if !partial {
		h.Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodHead {
			return nil
		}
		_, err := io.Copy(w, file)
		s.logCopy(path, size, err)
		return nil
	}

	h.Set("Content-Length", strconv.FormatInt(rng.Length(), 10))
	h.Set("Content-Range", rng.Header(size))
	w.WriteHeader(http.StatusPartialContent)
	if r.Method == http.MethodHead {
		return nil
	}
	if _, err := file.Seek(rng.Start, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek: %w", err)
	}
	_, err = io.CopyN(w, file, rng.Length())
	s.logCopy(path, rng.Length(), err)
	return nil
}

// logCopy notes aborted transfers; players cancel range reads while
// scrubbing.
func (s *Server) logCopy(path string, n int64, err error) {
	if err != nil && s.logger != nil {
		s.logger.Debug("media transfer interrupted", "file", filepath.Base(path), "bytes", n, "error", err)
	}
}

func contentType(path string) string {
	if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
