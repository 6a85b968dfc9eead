package timeline

import (
	"bytes"
	"errors"
	"testing"

	"github.com/heimdex/heimdex-editor/internal/issues"
)

func asError(err error, target **issues.Error) bool {
	return errors.As(err, target)
}

func legacyAssets() []Asset {
	return []Asset{
		{ID: "v2", SlotKey: "b_roll", Kind: "video", DurationSec: 4.2},
		{ID: "v1", SlotKey: "a_intro", Kind: "video", DurationSec: 2},
		{ID: "img", SlotKey: "c_logo", Kind: "image"},
		{ID: "m1", SlotKey: "music", Kind: "music", DurationSec: 30},
		{ID: "doc", SlotKey: "notes", Kind: "document"},
	}
}

func TestBuild_Defaults(t *testing.T) {
	s := mustBuild(t, "", nil)
	if s.Version != DefaultVersion || s.FPS != DefaultFPS || s.ExportPreset != DefaultExportPreset {
		t.Errorf("defaults = %+v", s)
	}
	if s.Resolution.Width != 1920 || s.Resolution.Height != 1080 {
		t.Errorf("resolution = %+v", s.Resolution)
	}
	if s.Tracks == nil || len(s.Tracks) != 0 {
		t.Errorf("Tracks = %v, want empty non-nil", s.Tracks)
	}
}

func TestBuild_LegacySynthesis(t *testing.T) {
	s := mustBuild(t, `{"fps": 25}`, legacyAssets())

	if s.FPS != 25 {
		t.Errorf("FPS = %d, want 25", s.FPS)
	}
	if len(s.Tracks) != 2 {
		t.Fatalf("len(Tracks) = %d, want 2", len(s.Tracks))
	}

	video := s.Tracks[0]
	if video.ID != "track_video" || video.Kind != TrackVideo {
		t.Errorf("track 0 = %s/%s", video.ID, video.Kind)
	}
	wantIDs := []string{"clip_v1", "clip_v2", "clip_img"}
	wantOut := []int64{2000, 6200, 9200}
	if len(video.Clips) != len(wantIDs) {
		t.Fatalf("video clips = %d, want %d", len(video.Clips), len(wantIDs))
	}
	for i, c := range video.Clips {
		if c.ID != wantIDs[i] || c.TimelineOutMs != wantOut[i] {
			t.Errorf("clip %d = %s ending %d, want %s ending %d", i, c.ID, c.TimelineOutMs, wantIDs[i], wantOut[i])
		}
	}

	audio := s.Tracks[1]
	if audio.ID != "track_audio" || len(audio.Clips) != 1 || audio.Clips[0].DurationMs() != 30000 {
		t.Errorf("audio track = %+v", audio)
	}
}

func TestBuild_Idempotent(t *testing.T) {
	first := mustBuild(t, "", legacyAssets())
	second := mustBuild(t, "", legacyAssets())
	if !bytes.Equal(serialized(t, first), serialized(t, second)) {
		t.Error("two builds from identical input differ")
	}
}

func TestBuild_RoundTrip(t *testing.T) {
	s := mustApply(t, mustBuild(t, "", legacyAssets()), mustParse(t, `[
		{"op": "add_effect", "clip_id": "clip_v1", "type": "fade", "config": {"dir": "in"}},
		{"op": "set_keyframe", "effect_id": "fx_1", "property": "opacity", "time_ms": 500, "value": 1},
		{"op": "set_keyframe", "effect_id": "fx_1", "property": "opacity", "time_ms": 0, "value": 0},
		{"op": "set_transition", "clip_id": "clip_v2", "type": "dissolve", "duration_ms": 250},
		{"op": "set_track_audio", "track_id": "track_audio", "volume": 0}
	]`))

	raw := serialized(t, s)
	rebuilt := mustBuild(t, string(raw), legacyAssets())
	if !bytes.Equal(raw, serialized(t, rebuilt)) {
		t.Errorf("round trip differs:\n%s\n%s", raw, serialized(t, rebuilt))
	}
	if rebuilt.Tracks[1].Volume != 0 {
		t.Errorf("explicit zero volume lost: %v", rebuilt.Tracks[1].Volume)
	}
}

func TestBuild_ExplicitTracksWin(t *testing.T) {
	raw := `{"tracks": [
		{"id": "b", "kind": "AUDIO", "order": 3, "clips": []},
		{"id": "a", "kind": "VIDEO", "order": 3, "clips": [
			{"id": "c2", "timeline_in_ms": 500, "timeline_out_ms": 900, "source_out_ms": 400},
			{"id": "c1", "timeline_in_ms": 0, "timeline_out_ms": 500, "source_out_ms": 500}
		]}
	]}`
	s := mustBuild(t, raw, legacyAssets())

	if s.Tracks[0].ID != "a" || s.Tracks[0].Order != 0 || s.Tracks[1].Order != 1 {
		t.Errorf("track order = %s(%d) %s(%d)", s.Tracks[0].ID, s.Tracks[0].Order, s.Tracks[1].ID, s.Tracks[1].Order)
	}
	if s.Tracks[0].Clips[0].ID != "c1" {
		t.Errorf("clips not sorted by in-time: %s first", s.Tracks[0].Clips[0].ID)
	}
	if s.Tracks[1].Volume != 1 {
		t.Errorf("missing volume = %v, want 1", s.Tracks[1].Volume)
	}
}

func TestBuild_InvalidJSON(t *testing.T) {
	if _, err := Build([]byte(`{"tracks": 7}`), nil); err == nil {
		t.Error("Build() should fail on malformed document")
	}
}
