package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestExportEDL_Download(t *testing.T) {
	env := setupAPI(t)

	rr := env.do(t, http.MethodGet, "/projects/"+env.pid+"/export.edl", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", rr.Code, rr.Body.String())
	}
	if got := rr.Header().Get("Content-Disposition"); got != `attachment; filename=Demo_Cut.edl` {
		t.Errorf("Content-Disposition = %q", got)
	}
	body := rr.Body.String()
	for _, want := range []string{"TITLE: Demo Cut", "FCM: NON-DROP FRAME", "* MEDIA PATH:  /media/v1.mp4"} {
		if !strings.Contains(body, want) {
			t.Errorf("EDL missing %q:\n%s", want, body)
		}
	}
}

func TestExportEDL_FrameRate(t *testing.T) {
	env := setupAPI(t)
	base := "/projects/" + env.pid + "/export.edl"

	rr := env.do(t, http.MethodGet, base+"?fps=29.97", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "FCM: DROP FRAME") {
		t.Errorf("29.97 should render drop frame:\n%s", rr.Body.String())
	}

	for _, fps := range []string{"abc", "0", "-5", "500"} {
		rr := env.do(t, http.MethodGet, base+"?fps="+fps, nil)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("fps=%s status = %d, want 400", fps, rr.Code)
		}
	}
}

func TestExportEDL_OutputDir(t *testing.T) {
	env := setupAPI(t)
	dir := t.TempDir()

	rr := env.do(t, http.MethodGet, "/projects/"+env.pid+"/export.edl?output_dir="+url.QueryEscape(dir), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", rr.Code, rr.Body.String())
	}
	var resp ExportResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(dir, "Demo_Cut.edl")
	if resp.OutputPath != want || resp.Format != "edl" || resp.Entries == 0 {
		t.Errorf("response = %+v", resp)
	}
	data, err := os.ReadFile(want)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.HasPrefix(string(data), "TITLE: Demo Cut") {
		t.Errorf("written file = %q", data)
	}

	for _, bad := range []string{filepath.Join(dir, "missing"), dir + "/../x"} {
		rr := env.do(t, http.MethodGet, "/projects/"+env.pid+"/export.edl?output_dir="+url.QueryEscape(bad), nil)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("output_dir=%s status = %d, want 400", bad, rr.Code)
		}
	}
}

func TestExportSRT(t *testing.T) {
	env := setupAPI(t)
	base := "/projects/" + env.pid + "/export.srt"

	if rr := env.do(t, http.MethodGet, base, nil); rr.Code != http.StatusBadRequest {
		t.Errorf("missing language status = %d, want 400", rr.Code)
	}

	rr := env.do(t, http.MethodGet, base+"?language=en", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", rr.Code, rr.Body.String())
	}
	if got := rr.Header().Get("Content-Type"); !strings.HasPrefix(got, "application/x-subrip") {
		t.Errorf("Content-Type = %q", got)
	}
	if got := rr.Header().Get("Content-Disposition"); !strings.Contains(got, "Demo_Cut.en.srt") {
		t.Errorf("Content-Disposition = %q", got)
	}
}

func TestExport_UnknownProject(t *testing.T) {
	env := setupAPI(t)
	for _, path := range []string{"/projects/ghost/export.edl", "/projects/ghost/export.srt?language=en"} {
		rr := env.do(t, http.MethodGet, path, nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("%s status = %d, want 404", path, rr.Code)
		}
	}
}
