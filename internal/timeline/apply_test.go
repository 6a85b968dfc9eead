package timeline

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/heimdex/heimdex-editor/internal/issues"
)

func mustParse(t *testing.T, data string) []Operation {
	t.Helper()
	ops, err := ParseOperations([]byte(data))
	if err != nil {
		t.Fatalf("ParseOperations() error = %v", err)
	}
	return ops
}

func mustBuild(t *testing.T, raw string, assets []Asset) State {
	t.Helper()
	s, err := Build([]byte(raw), assets)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	return s
}

func mustApply(t *testing.T, s State, ops []Operation) State {
	t.Helper()
	next, err := Apply(s, ops)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	return next
}

func serialized(t *testing.T, s State) []byte {
	t.Helper()
	b, err := Serialize(s)
	if err != nil {
		t.Fatalf("Serialize() error = %v", err)
	}
	return b
}

// baseState has one video track with two adjacent clips of the same asset.
func baseState(t *testing.T) State {
	return mustApply(t, mustBuild(t, "", nil), mustParse(t, `[
		{"op": "create_track", "kind": "VIDEO"},
		{"op": "add_clip", "track_id": "track_1", "asset_id": "a1", "in_ms": 0, "duration_ms": 1000},
		{"op": "add_clip", "track_id": "track_1", "asset_id": "a1", "in_ms": 1000, "duration_ms": 1000, "source_in_ms": 1000, "source_out_ms": 2000}
	]`))
}

func TestApply_ScenarioA(t *testing.T) {
	empty := mustBuild(t, "", nil)
	ops := mustParse(t, `[
		{"op": "create_track", "kind": "VIDEO"},
		{"op": "add_clip", "track_id": "track_1", "in_ms": 0, "duration_ms": 2000},
		{"op": "split_clip", "clip_id": "clip_1", "split_ms": 500}
	]`)

	got := mustApply(t, empty, ops)

	if len(got.Tracks) != 1 {
		t.Fatalf("len(Tracks) = %d, want 1", len(got.Tracks))
	}
	clips := got.Tracks[0].Clips
	if len(clips) != 2 {
		t.Fatalf("len(Clips) = %d, want 2", len(clips))
	}
	if clips[0].TimelineInMs != 0 || clips[0].TimelineOutMs != 500 {
		t.Errorf("first clip = [%d,%d), want [0,500)", clips[0].TimelineInMs, clips[0].TimelineOutMs)
	}
	if clips[1].TimelineInMs != 500 || clips[1].TimelineOutMs != 2000 {
		t.Errorf("second clip = [%d,%d), want [500,2000)", clips[1].TimelineInMs, clips[1].TimelineOutMs)
	}
	if clips[0].SourceOutMs != 500 || clips[1].SourceInMs != 500 {
		t.Errorf("source split = %d/%d, want 500/500", clips[0].SourceOutMs, clips[1].SourceInMs)
	}
	if issues.HasErrors(Validate(got, nil)) {
		t.Errorf("Validate() reported errors: %+v", Validate(got, nil))
	}
}

func TestApply_DoesNotMutateInput(t *testing.T) {
	s := baseState(t)
	before := serialized(t, s)

	mustApply(t, s, mustParse(t, `[
		{"op": "set_clip_label", "clip_id": "clip_1", "label": "intro"},
		{"op": "remove_clip", "clip_id": "clip_2"}
	]`))

	if !bytes.Equal(before, serialized(t, s)) {
		t.Error("Apply() mutated its input state")
	}
}

func TestApply_Deterministic(t *testing.T) {
	s := baseState(t)
	ops := mustParse(t, `[
		{"op": "split_clip", "clip_id": "clip_1", "split_ms": 400},
		{"op": "add_effect", "clip_id": "clip_2", "type": "blur", "config": {"radius": 4}},
		{"op": "create_track", "kind": "AUDIO"}
	]`)

	a := serialized(t, mustApply(t, s, ops))
	b := serialized(t, mustApply(t, s, ops))
	if !bytes.Equal(a, b) {
		t.Errorf("Apply() not deterministic:\n%s\n%s", a, b)
	}
}

func TestApply_NonCommutative(t *testing.T) {
	s := baseState(t)
	move := `{"op": "move_clip", "clip_id": "clip_1", "in_ms": 5000}`
	split := `{"op": "split_clip", "clip_id": "clip_1", "split_ms": 500}`

	moveThenSplit, err := Apply(s, mustParse(t, "["+move+","+split+"]"))
	if err == nil {
		t.Fatalf("split at 500 after moving clip to 5000 should fail, got %+v", moveThenSplit.Tracks)
	}
	if !issues.Is(err, issues.CodeOperationInvalid) {
		t.Errorf("error code = %s, want %s", issues.CodeOf(err), issues.CodeOperationInvalid)
	}

	if _, err := Apply(s, mustParse(t, "["+split+","+move+"]")); err != nil {
		t.Errorf("split then move error = %v", err)
	}
}

func TestApply_SplitTrimOrderMatters(t *testing.T) {
	s := baseState(t)
	split := &SplitClip{ClipID: "clip_1", SplitMs: 600}
	trim := &TrimClip{ClipID: "clip_1", TrimEndMs: 200}

	a := mustApply(t, s, []Operation{split, trim})
	b := mustApply(t, s, []Operation{trim, split})

	span := func(st State, id string) [2]int64 {
		track, idx := st.FindClip(id)
		if track == nil {
			t.Fatalf("clip %s missing", id)
		}
		c := track.Clips[idx]
		return [2]int64{c.TimelineInMs, c.TimelineOutMs}
	}

	if got := span(a, "clip_1"); got != [2]int64{0, 400} {
		t.Errorf("split,trim clip_1 = %v, want [0 400]", got)
	}
	if got := span(a, "clip_3"); got != [2]int64{600, 1000} {
		t.Errorf("split,trim clip_3 = %v, want [600 1000]", got)
	}
	if got := span(b, "clip_1"); got != [2]int64{0, 600} {
		t.Errorf("trim,split clip_1 = %v, want [0 600]", got)
	}
	if got := span(b, "clip_3"); got != [2]int64{600, 800} {
		t.Errorf("trim,split clip_3 = %v, want [600 800]", got)
	}
}

func TestApply_ErrorCarriesIndex(t *testing.T) {
	s := baseState(t)
	_, err := Apply(s, mustParse(t, `[
		{"op": "set_clip_label", "clip_id": "clip_1", "label": "ok"},
		{"op": "remove_clip", "clip_id": "clip_missing"}
	]`))

	var e *issues.Error
	if !asError(err, &e) {
		t.Fatalf("error = %v, want *issues.Error", err)
	}
	if e.Code != issues.CodeReferenceNotFound {
		t.Errorf("Code = %s, want %s", e.Code, issues.CodeReferenceNotFound)
	}
	if e.Index != 1 {
		t.Errorf("Index = %d, want 1", e.Index)
	}
}

func TestApply_TrimClampsToFloor(t *testing.T) {
	tests := []struct {
		name             string
		start, end       int64
		wantIn, wantOut  int64
		wantSrcIn, wantS int64
	}{
		{"head only", 200, 0, 200, 1000, 200, 1000},
		{"both", 100, 300, 100, 700, 100, 700},
		{"tail reduced first", 100, 900, 100, 220, 100, 220},
		{"head reduced after tail", 950, 200, 880, 1000, 880, 1000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := baseState(t)
			op := &TrimClip{ClipID: "clip_1", TrimStartMs: tt.start, TrimEndMs: tt.end}
			got := mustApply(t, s, []Operation{op})

			track, idx := got.FindClip("clip_1")
			c := track.Clips[idx]
			if c.TimelineInMs != tt.wantIn || c.TimelineOutMs != tt.wantOut {
				t.Errorf("timeline = [%d,%d), want [%d,%d)", c.TimelineInMs, c.TimelineOutMs, tt.wantIn, tt.wantOut)
			}
			if c.SourceInMs != tt.wantSrcIn || c.SourceOutMs != tt.wantS {
				t.Errorf("source = [%d,%d], want [%d,%d]", c.SourceInMs, c.SourceOutMs, tt.wantSrcIn, tt.wantS)
			}
			if c.DurationMs() < MinClipDurationMs {
				t.Errorf("duration = %d, below floor", c.DurationMs())
			}
		})
	}
}

func TestApply_SplitOutsideSpan(t *testing.T) {
	s := baseState(t)
	for _, at := range []int64{1000, 2500} {
		_, err := Apply(s, []Operation{&SplitClip{ClipID: "clip_1", SplitMs: at}})
		if !issues.Is(err, issues.CodeOperationInvalid) {
			t.Errorf("split at %d error = %v, want OPERATION_INVALID", at, err)
		}
	}
}

func TestApply_SplitPartitionsEffects(t *testing.T) {
	s := mustApply(t, baseState(t), mustParse(t, `[
		{"op": "add_effect", "clip_id": "clip_1", "type": "fade", "config": {"color": "black"}},
		{"op": "set_keyframe", "effect_id": "fx_1", "property": "opacity", "time_ms": 100, "value": 0},
		{"op": "set_keyframe", "effect_id": "fx_1", "property": "opacity", "time_ms": 800, "value": 1},
		{"op": "split_clip", "clip_id": "clip_1", "split_ms": 500}
	]`))

	track, idx := s.FindClip("clip_1")
	left := track.Clips[idx]
	if len(left.Effects[0].Keyframes) != 1 || left.Effects[0].Keyframes[0].TimeMs != 100 {
		t.Errorf("left keyframes = %+v, want one at 100", left.Effects[0].Keyframes)
	}

	track, idx = s.FindClip("clip_3")
	if track == nil {
		t.Fatal("split did not mint clip_3")
	}
	right := track.Clips[idx]
	if right.Effects[0].ID != "fx_2" {
		t.Errorf("right effect id = %s, want fx_2", right.Effects[0].ID)
	}
	if len(right.Effects[0].Keyframes) != 1 || right.Effects[0].Keyframes[0].TimeMs != 300 {
		t.Errorf("right keyframes = %+v, want one at 300", right.Effects[0].Keyframes)
	}
	if issues.HasErrors(Validate(s, nil)) {
		t.Errorf("Validate() errors = %+v", Validate(s, nil))
	}
}

func TestApply_MergeClipWithNext(t *testing.T) {
	s := mustApply(t, baseState(t), []Operation{&MergeClipWithNext{ClipID: "clip_1"}})

	clips := s.Tracks[0].Clips
	if len(clips) != 1 {
		t.Fatalf("len(Clips) = %d, want 1", len(clips))
	}
	if clips[0].TimelineOutMs != 2000 || clips[0].SourceOutMs != 2000 {
		t.Errorf("merged clip = %+v", clips[0])
	}
}

func TestApply_MergeRejectsGapAndAssetMismatch(t *testing.T) {
	gap := mustApply(t, baseState(t), []Operation{&MoveClip{ClipID: "clip_2", InMs: 1500}})
	if _, err := Apply(gap, []Operation{&MergeClipWithNext{ClipID: "clip_1"}}); !issues.Is(err, issues.CodeOperationInvalid) {
		t.Errorf("merge across gap error = %v, want OPERATION_INVALID", err)
	}

	mixed := mustApply(t, mustBuild(t, "", nil), mustParse(t, `[
		{"op": "create_track", "kind": "VIDEO"},
		{"op": "add_clip", "track_id": "track_1", "asset_id": "a1", "in_ms": 0, "duration_ms": 1000},
		{"op": "add_clip", "track_id": "track_1", "asset_id": "a2", "in_ms": 1000, "duration_ms": 1000}
	]`))
	if _, err := Apply(mixed, []Operation{&MergeClipWithNext{ClipID: "clip_1"}}); !issues.Is(err, issues.CodeOperationInvalid) {
		t.Errorf("merge across assets error = %v, want OPERATION_INVALID", err)
	}

	// A cut removes source [1000, 2000) and closes the gap; the two pieces
	// touch on the timeline but not in the source.
	cut := mustApply(t, mustBuild(t, "", nil), mustParse(t, `[
		{"op": "create_track", "kind": "VIDEO"},
		{"op": "add_clip", "track_id": "track_1", "clip_id": "a", "asset_id": "a1", "in_ms": 0, "duration_ms": 3000, "source_in_ms": 0, "source_out_ms": 3000},
		{"op": "split_clip", "clip_id": "a", "split_ms": 1000, "new_clip_id": "b"},
		{"op": "split_clip", "clip_id": "b", "split_ms": 2000, "new_clip_id": "c"},
		{"op": "remove_clip", "clip_id": "b"},
		{"op": "move_clip", "clip_id": "c", "in_ms": 1000}
	]`))
	if _, err := Apply(cut, []Operation{&MergeClipWithNext{ClipID: "a"}}); !issues.Is(err, issues.CodeOperationInvalid) {
		t.Errorf("merge across source discontinuity error = %v, want OPERATION_INVALID", err)
	}
}

func TestApply_SplitMovesTransitionToRightHalf(t *testing.T) {
	s := mustApply(t, baseState(t), mustParse(t, `[
		{"op": "set_transition", "clip_id": "clip_1", "type": "crossfade", "duration_ms": 300},
		{"op": "split_clip", "clip_id": "clip_1", "split_ms": 500, "new_clip_id": "clip_half"}
	]`))

	left, li := s.FindClip("clip_1")
	right, ri := s.FindClip("clip_half")
	if left == nil || right == nil {
		t.Fatal("split clips not found")
	}
	if tr := left.Clips[li].Transition; tr != nil {
		t.Errorf("left transition = %+v, want nil", tr)
	}
	if tr := right.Clips[ri].Transition; tr == nil || tr.Type != "crossfade" || tr.DurationMs != 300 {
		t.Errorf("right transition = %+v, want crossfade 300", tr)
	}
}

func TestApply_MergeKeepsNeighbourTransition(t *testing.T) {
	s := mustApply(t, baseState(t), mustParse(t, `[
		{"op": "set_transition", "clip_id": "clip_1", "type": "wipe", "duration_ms": 200},
		{"op": "set_transition", "clip_id": "clip_2", "type": "crossfade", "duration_ms": 300},
		{"op": "merge_clip_with_next", "clip_id": "clip_1"}
	]`))

	clips := s.Tracks[0].Clips
	if len(clips) != 1 {
		t.Fatalf("len(Clips) = %d, want 1", len(clips))
	}
	if tr := clips[0].Transition; tr == nil || tr.Type != "crossfade" {
		t.Errorf("merged transition = %+v, want crossfade", tr)
	}
}

func TestApply_AddEffectReplacesUpsertMerges(t *testing.T) {
	s := mustApply(t, baseState(t), mustParse(t, `[
		{"op": "add_effect", "clip_id": "clip_1", "type": "color", "config": {"saturation": 1.2, "contrast": 1.1}},
		{"op": "upsert_effect", "clip_id": "clip_1", "type": "color", "config": {"saturation": 0.8}}
	]`))
	cfg := s.Tracks[0].Clips[0].Effects[0].Config
	if cfg["saturation"] != 0.8 || cfg["contrast"] != 1.1 {
		t.Errorf("upsert config = %v, want merged", cfg)
	}

	s = mustApply(t, s, mustParse(t, `[
		{"op": "add_effect", "clip_id": "clip_1", "type": "color", "config": {"gamma": 2}}
	]`))
	effects := s.Tracks[0].Clips[0].Effects
	if len(effects) != 1 {
		t.Fatalf("len(Effects) = %d, want 1", len(effects))
	}
	if _, ok := effects[0].Config["contrast"]; ok {
		t.Errorf("add_effect config = %v, want replaced", effects[0].Config)
	}
}

func TestApply_SetKeyframeUpdatesInPlace(t *testing.T) {
	s := mustApply(t, baseState(t), mustParse(t, `[
		{"op": "add_effect", "clip_id": "clip_1", "type": "zoom"},
		{"op": "set_keyframe", "effect_id": "fx_1", "property": "scale", "time_ms": 0, "value": 1},
		{"op": "set_keyframe", "effect_id": "fx_1", "property": "scale", "time_ms": 0, "value": 1.5, "easing": "ease_in"}
	]`))
	kfs := s.Tracks[0].Clips[0].Effects[0].Keyframes
	if len(kfs) != 1 || kfs[0].Value != 1.5 || kfs[0].Easing != "ease_in" {
		t.Errorf("keyframes = %+v, want single updated keyframe", kfs)
	}
}

func TestApply_ReorderTrackClampsIndex(t *testing.T) {
	s := mustApply(t, baseState(t), mustParse(t, `[
		{"op": "create_track", "kind": "AUDIO"},
		{"op": "create_track", "kind": "CAPTION"},
		{"op": "reorder_track", "track_id": "track_1", "to_index": 9}
	]`))
	if s.Tracks[2].ID != "track_1" || s.Tracks[2].Order != 2 {
		t.Errorf("tracks = %s %s %s, want track_1 last", s.Tracks[0].ID, s.Tracks[1].ID, s.Tracks[2].ID)
	}
}

func TestApply_DuplicateIDRejected(t *testing.T) {
	s := baseState(t)
	_, err := Apply(s, []Operation{&CreateTrack{TrackID: "clip_1", Kind: TrackAudio}})
	if !issues.Is(err, issues.CodeOperationInvalid) {
		t.Errorf("error = %v, want OPERATION_INVALID", err)
	}
}

func TestApply_InvariantClosure(t *testing.T) {
	s := baseState(t)
	batches := []string{
		`[{"op": "split_clip", "clip_id": "clip_2", "split_ms": 1500}]`,
		`[{"op": "trim_clip", "clip_id": "clip_1", "trim_start_ms": 900, "trim_end_ms": 900}]`,
		`[{"op": "set_transition", "clip_id": "clip_2", "type": "crossfade", "duration_ms": 300}]`,
		`[{"op": "set_export_preset", "preset": "720p", "width": 1280, "height": 720}]`,
		`[{"op": "set_track_audio", "track_id": "track_1", "muted": true}]`,
	}
	for _, b := range batches {
		s = mustApply(t, s, mustParse(t, b))
		if got := issues.Filter(Validate(s, nil), issues.SeverityError); len(got) > 0 {
			t.Fatalf("after %s: errors %+v", b, got)
		}
	}
}

func TestApply_OverlapReportedNotResolved(t *testing.T) {
	s := mustApply(t, baseState(t), []Operation{&MoveClip{ClipID: "clip_2", InMs: 500}})
	var found bool
	for _, is := range Validate(s, nil) {
		if is.Code == issues.CodeClipOverlap && is.ClipID == "clip_2" {
			found = true
		}
	}
	if !found {
		t.Error("expected CLIP_OVERLAP on clip_2")
	}
	if s.Tracks[0].Clips[1].TimelineInMs != 500 {
		t.Errorf("clip_2 was shifted to %d", s.Tracks[0].Clips[1].TimelineInMs)
	}
}

func TestParseOperations_SchemaInvalid(t *testing.T) {
	tests := []struct {
		name  string
		data  string
		index int
	}{
		{"unknown op", `[{"op": "explode"}]`, 0},
		{"unknown field", `[{"op": "remove_clip", "clip_id": "c", "force": true}]`, 0},
		{"bad trim", `[{"op": "remove_clip", "clip_id": "c"}, {"op": "trim_clip", "clip_id": "c"}]`, 1},
		{"bad kind", `[{"op": "create_track", "kind": "SUBTITLE"}]`, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseOperations([]byte(tt.data))
			var e *issues.Error
			if !asError(err, &e) {
				t.Fatalf("error = %v, want *issues.Error", err)
			}
			if e.Code != issues.CodeSchemaInvalid || e.Index != tt.index {
				t.Errorf("got %s at %d, want SCHEMA_INVALID at %d", e.Code, e.Index, tt.index)
			}
		})
	}
}

func TestEncodeOperations_RoundTrip(t *testing.T) {
	ops := mustParse(t, `[
		{"op": "create_track", "kind": "VIDEO", "name": "Main"},
		{"op": "set_track_audio", "track_id": "track_1", "volume": 0.5}
	]`)
	raw, err := EncodeOperations(ops)
	if err != nil {
		t.Fatalf("EncodeOperations() error = %v", err)
	}
	again := mustParse(t, string(raw))
	raw2, _ := EncodeOperations(again)
	if !bytes.Equal(raw, raw2) {
		t.Errorf("encoding unstable:\n%s\n%s", raw, raw2)
	}

	var decoded []map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded[0]["name"] != "Main" {
		t.Errorf("name = %v, want Main", decoded[0]["name"])
	}
}
