package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/heimdex/heimdex-editor/internal/autopilot"
	"github.com/heimdex/heimdex-editor/internal/db"
	"github.com/heimdex/heimdex-editor/internal/pipelines"
	"github.com/heimdex/heimdex-editor/internal/project"
	"github.com/heimdex/heimdex-editor/internal/revision"
)

const testToken = "test-token-0123456789"

type apiEnv struct {
	cfg    ServerConfig
	router http.Handler
	pid    string
}

func setupAPI(t *testing.T) *apiEnv {
	t.Helper()
	database, err := db.New(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	repo := project.NewRepository(database.Conn())
	ctx := context.Background()
	if err := repo.SetConfig(ctx, "auth_token", testToken); err != nil {
		t.Fatalf("SetConfig() error = %v", err)
	}

	codec, err := revision.NewCodec(3)
	if err != nil {
		t.Fatalf("NewCodec() error = %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := project.NewService(repo, codec, project.DefaultOptions(), logger)
	macros := autopilot.NewMacroPlanner(logger)
	orch := autopilot.NewOrchestrator(svc, autopilot.NewStore(database.Conn()), macros, codec, 0.6, logger)

	p, err := svc.CreateProject(ctx, "Demo Cut")
	if err != nil {
		t.Fatalf("CreateProject() error = %v", err)
	}
	for _, a := range []project.Asset{
		{ID: "v1", SlotKey: "a", Kind: "video", DurationSec: 4, Path: "/media/v1.mp4"},
		{ID: "m1", SlotKey: "b", Kind: "music", DurationSec: 4, Path: "/media/m1.wav"},
	} {
		if _, err := svc.AddAsset(ctx, p.ID, a); err != nil {
			t.Fatalf("AddAsset() error = %v", err)
		}
	}

	cfg := ServerConfig{
		Projects:   svc,
		Autopilot:  orch,
		Macros:     macros,
		Repository: repo,
		Logger:     logger,
		StartTime:  time.Now().Add(-10 * time.Second),
		Version:    "test",
	}
	return &apiEnv{cfg: cfg, router: NewRouter(cfg), pid: p.ID}
}

func (e *apiEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return e.doWithHeaders(t, method, path, nil, body)
}

func (e *apiEnv) doWithHeaders(t *testing.T, method, path string, headers map[string]string, body ...any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if len(body) > 0 && body[0] != nil {
		switch b := body[0].(type) {
		case string:
			rd = strings.NewReader(b)
		default:
			data, err := json.Marshal(b)
			if err != nil {
				t.Fatalf("json.Marshal error: %v", err)
			}
			rd = bytes.NewReader(data)
		}
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set(ActorHeader, "tester")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func decodeJSONBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()

	var body map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response body: %v (%s)", err, rr.Body.String())
	}

	return body
}

func TestHealth_NoAuth(t *testing.T) {
	env := setupAPI(t)
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status code = %d, want %d", rr.Code, http.StatusOK)
	}
	body := decodeJSONBody(t, rr)
	if body["version"] != "test" {
		t.Errorf("version = %v", body["version"])
	}
}

func TestRouter_RequiresAuth(t *testing.T) {
	env := setupAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/projects/"+env.pid+"/timeline", nil)
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status code = %d, want %d", rr.Code, http.StatusUnauthorized)
	}
}

func TestStatusHandler_NilDoctor(t *testing.T) {
	env := setupAPI(t)

	rr := env.do(t, http.MethodGet, "/status", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status code = %d, want %d", rr.Code, http.StatusOK)
	}

	body := decodeJSONBody(t, rr)
	if _, ok := body["pipelines"]; ok {
		t.Fatal("pipelines should be omitted when doctor is nil")
	}
	if body["state"] != "idle" || body["projects_count"] != float64(1) {
		t.Errorf("status = %v", body)
	}
	if n, _ := body["macros_count"].(float64); n < 1 {
		t.Errorf("macros_count = %v", body["macros_count"])
	}
}

func TestStatusHandler_WithCachedCaps(t *testing.T) {
	env := setupAPI(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	doctor := pipelines.NewCachedDoctor(&fakeDoctorPipelineRunner{
		caps: &pipelines.Capabilities{
			HasSpeech: true,
			ProbedAt:  time.Now(),
			Summary:   pipelines.SummaryInfo{Available: 4, Total: 6},
		},
	}, logger)
	if _, err := doctor.Refresh(context.Background()); err != nil {
		t.Fatalf("doctor.Refresh() error = %v", err)
	}
	env.cfg.Doctor = doctor

	rr := httptest.NewRecorder()
	statusHandler(env.cfg).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/status", nil))

	body := decodeJSONBody(t, rr)
	pipelinesMap, ok := body["pipelines"].(map[string]interface{})
	if !ok {
		t.Fatal("pipelines missing from response")
	}
	if got, ok := pipelinesMap["has_speech"].(bool); !ok || !got {
		t.Fatalf("pipelines.has_speech = %v, want true", pipelinesMap["has_speech"])
	}
	if _, ok := pipelinesMap["last_probe_at"]; !ok {
		t.Error("last_probe_at missing")
	}
}

func TestStatusHandler_ZeroProbedAt(t *testing.T) {
	env := setupAPI(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	doctor := pipelines.NewCachedDoctor(&fakeDoctorPipelineRunner{
		caps: &pipelines.Capabilities{HasSpeech: true, Summary: pipelines.SummaryInfo{Available: 3, Total: 5}},
	}, logger)
	if _, err := doctor.Refresh(context.Background()); err != nil {
		t.Fatalf("doctor.Refresh() error = %v", err)
	}
	env.cfg.Doctor = doctor

	rr := httptest.NewRecorder()
	statusHandler(env.cfg).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/status", nil))

	body := decodeJSONBody(t, rr)
	pipelinesMap, ok := body["pipelines"].(map[string]interface{})
	if !ok {
		t.Fatal("pipelines missing from response")
	}
	if _, ok := pipelinesMap["last_probe_at"]; ok {
		t.Fatal("last_probe_at should be omitted when ProbedAt is zero")
	}
}

func TestProjects_CreateAndGet(t *testing.T) {
	env := setupAPI(t)

	rr := env.do(t, http.MethodPost, "/projects", CreateProjectRequest{Name: "Second"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status = %d (%s)", rr.Code, rr.Body.String())
	}
	id, _ := decodeJSONBody(t, rr)["id"].(string)

	rr = env.do(t, http.MethodPost, "/projects/"+id+"/assets", AddAssetRequest{SlotKey: "a", Kind: "video", DurationSec: 2})
	if rr.Code != http.StatusCreated {
		t.Fatalf("asset status = %d (%s)", rr.Code, rr.Body.String())
	}

	rr = env.do(t, http.MethodGet, "/projects/"+id, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("get status = %d", rr.Code)
	}
	var resp ProjectResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Name != "Second" || len(resp.Assets) != 1 {
		t.Errorf("project = %+v", resp)
	}

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"missing name", http.MethodPost, "/projects", CreateProjectRequest{}, http.StatusBadRequest, "SCHEMA_INVALID"},
		{"bad json", http.MethodPost, "/projects", "{", http.StatusBadRequest, "SCHEMA_INVALID"},
		{"unknown project", http.MethodGet, "/projects/nope", nil, http.StatusNotFound, "NOT_FOUND"},
		{"bad kind", http.MethodPost, "/projects/" + id + "/assets", AddAssetRequest{Kind: "hologram"}, http.StatusBadRequest, "SCHEMA_INVALID"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, tt.method, tt.path, tt.body)
			if rr.Code != tt.status {
				t.Fatalf("status = %d, want %d (%s)", rr.Code, tt.status, rr.Body.String())
			}
			if got := decodeJSONBody(t, rr)["code"]; got != tt.code {
				t.Errorf("code = %v, want %s", got, tt.code)
			}
		})
	}
}

func TestTimeline_PatchFlow(t *testing.T) {
	env := setupAPI(t)
	base := "/projects/" + env.pid

	rr := env.do(t, http.MethodGet, base+"/timeline", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var tl TimelineResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &tl); err != nil {
		t.Fatal(err)
	}
	if tl.Revision != 0 || len(tl.Tracks) != 2 || tl.TimelineHash == "" {
		t.Fatalf("timeline = %+v", tl)
	}

	rr = env.do(t, http.MethodPatch, base+"/timeline",
		`{"expected_revision": 0, "operations": [{"op": "split_clip", "clip_id": "clip_v1", "split_ms": 1000}]}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("patch status = %d (%s)", rr.Code, rr.Body.String())
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &tl); err != nil {
		t.Fatal(err)
	}
	if tl.Revision != 1 || len(tl.Tracks[0].Clips) != 2 {
		t.Errorf("after split = %+v", tl)
	}

	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"unknown op", `{"operations": [{"op": "explode"}]}`, http.StatusBadRequest, "SCHEMA_INVALID"},
		{"overlap", `{"operations": [{"op": "add_clip", "track_id": "track_video", "in_ms": 500, "duration_ms": 1000}]}`, http.StatusUnprocessableEntity, "INVARIANT_VIOLATION"},
		{"missing clip", `{"operations": [{"op": "remove_clip", "clip_id": "ghost"}]}`, http.StatusUnprocessableEntity, "REFERENCE_NOT_FOUND"},
		{"stale", `{"expected_revision": 0, "operations": [{"op": "set_clip_label", "clip_id": "clip_v1", "label": "x"}]}`, http.StatusConflict, "CONCURRENCY_CONFLICT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, http.MethodPatch, base+"/timeline", tt.body)
			if rr.Code != tt.status {
				t.Fatalf("status = %d, want %d (%s)", rr.Code, tt.status, rr.Body.String())
			}
			body := decodeJSONBody(t, rr)
			if body["code"] != tt.code {
				t.Errorf("code = %v, want %s", body["code"], tt.code)
			}
			if tt.code == "INVARIANT_VIOLATION" {
				if list, _ := body["issues"].([]interface{}); len(list) == 0 {
					t.Error("invariant rejection should list issues")
				}
			}
		})
	}

	rr = env.do(t, http.MethodGet, base+"/revisions", nil)
	var revs RevisionsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &revs); err != nil {
		t.Fatal(err)
	}
	if len(revs.Revisions) != 1 || revs.Revisions[0].Actor != "tester" {
		t.Errorf("revisions = %+v", revs.Revisions)
	}
}

func TestTranscript_Routes(t *testing.T) {
	env := setupAPI(t)
	base := "/projects/" + env.pid

	rr := env.do(t, http.MethodGet, base+"/transcript", nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("transcript without language = %d, want 400", rr.Code)
	}

	rr = env.do(t, http.MethodPatch, base+"/transcript", `{"language": "en", "operations": [{"op": "replace_text", "segment_id": "nope", "text": "x"}]}`)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("patch missing segment = %d (%s)", rr.Code, rr.Body.String())
	}
	if decodeJSONBody(t, rr)["code"] != "SEGMENT_NOT_FOUND" {
		t.Errorf("body = %s", rr.Body.String())
	}

	rr = env.do(t, http.MethodPost, base+"/transcript/checkpoints", CheckpointRequest{Language: "en", Label: "empty"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("checkpoint status = %d (%s)", rr.Code, rr.Body.String())
	}
	rr = env.do(t, http.MethodGet, base+"/transcript/checkpoints?language=en", nil)
	var cps CheckpointsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &cps); err != nil {
		t.Fatal(err)
	}
	if len(cps.Checkpoints) != 1 {
		t.Fatalf("checkpoints = %+v", cps)
	}
	rr = env.do(t, http.MethodPost, base+"/transcript/checkpoints/"+cps.Checkpoints[0].ID+"/restore", nil)
	if rr.Code != http.StatusOK {
		t.Errorf("restore status = %d (%s)", rr.Code, rr.Body.String())
	}

	rr = env.do(t, http.MethodPost, base+"/transcribe", TranscribeRequest{AssetID: "v1", Language: "en"})
	if rr.Code != http.StatusAccepted {
		t.Fatalf("transcribe status = %d (%s)", rr.Code, rr.Body.String())
	}
	jobID, _ := decodeJSONBody(t, rr)["id"].(string)
	rr = env.do(t, http.MethodGet, "/jobs/"+jobID, nil)
	if rr.Code != http.StatusOK || decodeJSONBody(t, rr)["status"] != project.JobStatusPending {
		t.Errorf("job = %d %s", rr.Code, rr.Body.String())
	}
	if rr := env.do(t, http.MethodGet, "/jobs/missing", nil); rr.Code != http.StatusNotFound {
		t.Errorf("missing job = %d", rr.Code)
	}
}

func TestAutopilot_PlanApplyUndo(t *testing.T) {
	env := setupAPI(t)
	base := "/projects/" + env.pid

	rr := env.do(t, http.MethodPost, base+"/plan", PlanRequest{Prompt: "mute the audio"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("plan status = %d (%s)", rr.Code, rr.Body.String())
	}
	var plan autopilot.PlanResult
	if err := json.Unmarshal(rr.Body.Bytes(), &plan); err != nil {
		t.Fatal(err)
	}
	if plan.ExecutionMode != autopilot.ModeApplied || len(plan.DiffGroups) != 1 {
		t.Fatalf("plan = %+v", plan)
	}

	rr = env.do(t, http.MethodGet, base+"/plans/"+plan.PlanID, nil)
	if rr.Code != http.StatusOK {
		t.Errorf("get plan status = %d", rr.Code)
	}

	rr = env.do(t, http.MethodPost, base+"/apply", autopilot.ApplyRequest{PlanID: plan.PlanID, PlanRevisionHash: "stale", Confirmed: true})
	if rr.Code != http.StatusConflict {
		t.Fatalf("stale apply = %d (%s)", rr.Code, rr.Body.String())
	}

	rr = env.do(t, http.MethodPost, base+"/apply", autopilot.ApplyRequest{PlanID: plan.PlanID, PlanRevisionHash: plan.PlanRevisionHash, Confirmed: true})
	if rr.Code != http.StatusOK {
		t.Fatalf("apply = %d (%s)", rr.Code, rr.Body.String())
	}
	var applied autopilot.ApplyResult
	if err := json.Unmarshal(rr.Body.Bytes(), &applied); err != nil {
		t.Fatal(err)
	}
	if !applied.Applied || applied.UndoToken == "" || applied.Revision != 1 {
		t.Fatalf("apply result = %+v", applied)
	}

	rr = env.do(t, http.MethodPost, base+"/undo", autopilot.UndoRequest{UndoToken: applied.UndoToken})
	if rr.Code != http.StatusOK {
		t.Fatalf("undo = %d (%s)", rr.Code, rr.Body.String())
	}
	var undone autopilot.UndoResult
	if err := json.Unmarshal(rr.Body.Bytes(), &undone); err != nil {
		t.Fatal(err)
	}
	if !undone.Restored || undone.Revision != 2 || undone.RevertedRevisionID != applied.RevisionID {
		t.Errorf("undo result = %+v", undone)
	}

	rr = env.do(t, http.MethodGet, base+"/actions", nil)
	var actions ActionsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &actions); err != nil {
		t.Fatal(err)
	}
	want := []string{autopilot.ActionPlanned, autopilot.ActionApplyRejected, autopilot.ActionApplied, autopilot.ActionReverted}
	if len(actions.Actions) != len(want) {
		t.Fatalf("actions = %+v", actions.Actions)
	}
	for i, a := range actions.Actions {
		if a.Action != want[i] {
			t.Errorf("action %d = %s, want %s", i, a.Action, want[i])
		}
	}
}

func TestMacros_List(t *testing.T) {
	env := setupAPI(t)
	rr := env.do(t, http.MethodGet, "/macros", nil)
	var resp MacrosResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Macros) == 0 || resp.Macros[0].Source != "builtin" {
		t.Errorf("macros = %+v", resp.Macros)
	}
}

type fakeDoctorPipelineRunner struct {
	caps *pipelines.Capabilities
}

func (f *fakeDoctorPipelineRunner) RunDoctor(ctx context.Context) (*pipelines.Capabilities, error) {
	if f.caps == nil {
		return &pipelines.Capabilities{}, nil
	}
	return f.caps, nil
}

func (f *fakeDoctorPipelineRunner) RunSpeech(ctx context.Context, mediaPath, language, outPath string) (pipelines.RunResult, error) {
	return pipelines.RunResult{}, nil
}

func (f *fakeDoctorPipelineRunner) ReadSpeech(path string) (*pipelines.SpeechOutput, error) {
	return nil, nil
}

func (f *fakeDoctorPipelineRunner) ArtifactsDir() string {
	return "/tmp/test-artifacts"
}
