package playback

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestParseRange(t *testing.T) {
	tests := []struct {
		name      string
		header    string
		size      int64
		wantStart int64
		wantEnd   int64
		wantOK    bool
		wantErr   error
	}{
		{"empty header", "", 1000, 0, 0, false, nil},
		{"full range", "bytes=0-999", 1000, 0, 999, true, nil},
		{"open end", "bytes=500-", 1000, 500, 999, true, nil},
		{"suffix", "bytes=-500", 1000, 500, 999, true, nil},
		{"single byte", "bytes=0-0", 1000, 0, 0, true, nil},
		{"end clamped", "bytes=0-2000", 1000, 0, 999, true, nil},
		{"suffix larger than file", "bytes=-2000", 500, 0, 499, true, nil},
		{"multi span takes first", "bytes=0-99, 200-299", 1000, 0, 99, true, nil},

		{"start at size", "bytes=1000-", 1000, 0, 0, false, ErrUnsatisfiable},
		{"beyond size", "bytes=1500-2000", 1000, 0, 0, false, ErrUnsatisfiable},
		{"empty file suffix", "bytes=-10", 0, 0, 0, false, ErrUnsatisfiable},
		{"no unit", "invalid", 1000, 0, 0, false, ErrInvalidRange},
		{"wrong unit", "chars=0-100", 1000, 0, 0, false, ErrInvalidRange},
		{"bad start", "bytes=abc-100", 1000, 0, 0, false, ErrInvalidRange},
		{"bad end", "bytes=0-abc", 1000, 0, 0, false, ErrInvalidRange},
		{"zero suffix", "bytes=-0", 1000, 0, 0, false, ErrInvalidRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok, err := ParseRange(tt.header, tt.size)
			if err != tt.wantErr {
				t.Fatalf("ParseRange() error = %v, want %v", err, tt.wantErr)
			}
			if ok != tt.wantOK {
				t.Fatalf("ParseRange() ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && (got.Start != tt.wantStart || got.End != tt.wantEnd) {
				t.Errorf("ParseRange() = {%d, %d}, want {%d, %d}", got.Start, got.End, tt.wantStart, tt.wantEnd)
			}
		})
	}
}

func TestByteRange_Header(t *testing.T) {
	r := ByteRange{Start: 500, End: 999}
	if got := r.Length(); got != 500 {
		t.Errorf("Length() = %d, want 500", got)
	}
	if got := r.Header(1000); got != "bytes 500-999/1000" {
		t.Errorf("Header() = %s", got)
	}
}

func writeMedia(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestServeMedia(t *testing.T) {
	path := writeMedia(t, "clip.wav", []byte("0123456789"))
	s := NewServer(nil)

	tests := []struct {
		name         string
		method       string
		rangeHeader  string
		status       int
		body         string
		contentRange string
	}{
		{"full", http.MethodGet, "", http.StatusOK, "0123456789", ""},
		{"partial", http.MethodGet, "bytes=2-4", http.StatusPartialContent, "234", "bytes 2-4/10"},
		{"suffix", http.MethodGet, "bytes=-3", http.StatusPartialContent, "789", "bytes 7-9/10"},
		{"malformed falls back to full", http.MethodGet, "items=1-2", http.StatusOK, "0123456789", ""},
		{"unsatisfiable", http.MethodGet, "bytes=20-", http.StatusRequestedRangeNotSatisfiable, "", "bytes */10"},
		{"head", http.MethodHead, "", http.StatusOK, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/media", nil)
			if tt.rangeHeader != "" {
				req.Header.Set("Range", tt.rangeHeader)
			}
			rr := httptest.NewRecorder()
			if err := s.ServeMedia(rr, req, path); err != nil {
				t.Fatalf("ServeMedia() error = %v", err)
			}
			if rr.Code != tt.status {
				t.Fatalf("status = %d, want %d", rr.Code, tt.status)
			}
			if rr.Body.String() != tt.body {
				t.Errorf("body = %q, want %q", rr.Body.String(), tt.body)
			}
			if got := rr.Header().Get("Content-Range"); got != tt.contentRange {
				t.Errorf("Content-Range = %q, want %q", got, tt.contentRange)
			}
			if got := rr.Header().Get("Accept-Ranges"); tt.status != http.StatusRequestedRangeNotSatisfiable && got != "bytes" {
				t.Errorf("Accept-Ranges = %q", got)
			}
		})
	}
}

func TestServeMedia_Missing(t *testing.T) {
	s := NewServer(nil)
	rr := httptest.NewRecorder()
	err := s.ServeMedia(rr, httptest.NewRequest(http.MethodGet, "/media", nil), filepath.Join(t.TempDir(), "gone.mp4"))
	if err != ErrNoMedia {
		t.Fatalf("ServeMedia() error = %v, want ErrNoMedia", err)
	}
	if rr.Body.Len() != 0 {
		t.Errorf("nothing should be written, got %q", rr.Body.String())
	}
}
