package ripple

import (
	"bytes"
	"testing"

	"github.com/heimdex/heimdex-editor/internal/issues"
	"github.com/heimdex/heimdex-editor/internal/timeline"
	"github.com/heimdex/heimdex-editor/internal/transcript"
)

func conf(v float64) *float64 { return &v }

func project(t *testing.T) timeline.State {
	t.Helper()
	s, err := timeline.Build([]byte(`{"tracks": [
		{"id": "track_1", "kind": "VIDEO", "order": 0, "clips": [
			{"id": "clip_1", "asset_id": "a", "timeline_in_ms": 0, "timeline_out_ms": 3000, "source_in_ms": 0, "source_out_ms": 3000},
			{"id": "clip_2", "asset_id": "b", "timeline_in_ms": 3000, "timeline_out_ms": 6000, "source_in_ms": 0, "source_out_ms": 3000}
		]},
		{"id": "track_2", "kind": "AUDIO", "order": 1, "clips": [
			{"id": "clip_3", "asset_id": "m", "timeline_in_ms": 0, "timeline_out_ms": 6000, "source_in_ms": 0, "source_out_ms": 6000}
		]},
		{"id": "track_3", "kind": "CAPTION", "order": 2, "clips": [
			{"id": "cap_1", "timeline_in_ms": 0, "timeline_out_ms": 6000, "source_in_ms": 0, "source_out_ms": 6000}
		]}
	]}`), nil)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	return s
}

func segment(start, end int64, c *float64) []transcript.Segment {
	return []transcript.Segment{{ID: "seg_1", Language: "en", Text: "words here", StartMs: start, EndMs: end, ConfidenceAvg: c}}
}

func span(t *testing.T, s timeline.State, id string) [2]int64 {
	t.Helper()
	track, idx := s.FindClip(id)
	if track == nil {
		t.Fatalf("clip %s missing", id)
	}
	c := track.Clips[idx]
	return [2]int64{c.TimelineInMs, c.TimelineOutMs}
}

func hasCode(list []issues.Issue, code string) bool {
	for _, is := range list {
		if is.Code == code {
			return true
		}
	}
	return false
}

func serialize(t *testing.T, s timeline.State) []byte {
	t.Helper()
	b, err := timeline.Serialize(s)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestEvaluate_ScenarioB(t *testing.T) {
	state := project(t)
	res := Evaluate(state, segment(0, 1000, conf(0.40)), nil, Request{StartMs: 0, EndMs: 1000, MinConfidenceForRipple: 0.86})

	if !res.SuggestionsOnly || res.Safe {
		t.Fatalf("SuggestionsOnly = %v, Safe = %v, want suggestions only", res.SuggestionsOnly, res.Safe)
	}
	if !hasCode(res.Issues, issues.CodeLowConfidenceRipple) {
		t.Errorf("Issues = %+v, want LOW_CONFIDENCE_RIPPLE", res.Issues)
	}
	if !bytes.Equal(serialize(t, res.Next), serialize(t, state)) {
		t.Error("timeline changed under a low-confidence ripple")
	}
	if len(res.Operations) == 0 {
		t.Error("expected the proposed cut to be reported as suggestions")
	}
}

func TestEvaluate_LowConfidenceNeverApplies(t *testing.T) {
	state := project(t)
	for _, c := range []float64{0, 0.2, 0.5, 0.85} {
		for _, r := range []Request{{StartMs: 0, EndMs: 500}, {StartMs: 1000, EndMs: 2000}, {StartMs: 2500, EndMs: 3500}} {
			r.MinConfidenceForRipple = 0.86
			res := Evaluate(state, segment(0, 6000, conf(c)), nil, r)
			if !res.SuggestionsOnly || res.Safe {
				t.Errorf("confidence %.2f range %+v: applied", c, r)
			}
			if !bytes.Equal(serialize(t, res.Next), serialize(t, state)) {
				t.Errorf("confidence %.2f range %+v: state changed", c, r)
			}
		}
	}
}

func TestEvaluate_InteriorCut(t *testing.T) {
	res := Evaluate(project(t), segment(0, 3000, conf(0.95)), nil, Request{StartMs: 1000, EndMs: 2000, MinConfidenceForRipple: 0.86})
	if !res.Safe {
		t.Fatalf("Safe = false, issues %+v", res.Issues)
	}

	want := map[string][2]int64{
		"clip_1": {0, 1000},
		"clip_5": {1000, 2000},
		"clip_2": {2000, 5000},
		"clip_7": {1000, 5000},
		"cap_1":  {0, 6000},
	}
	for id, w := range want {
		if got := span(t, res.Next, id); got != w {
			t.Errorf("%s = %v, want %v", id, got, w)
		}
	}
	if _, idx := res.Next.FindClip("clip_4"); idx >= 0 {
		t.Error("middle piece clip_4 was not removed")
	}
	if issues.HasErrors(timeline.Validate(res.Next, nil)) {
		t.Errorf("Validate() = %+v", timeline.Validate(res.Next, nil))
	}
}

func TestEvaluate_HeadCut(t *testing.T) {
	res := Evaluate(project(t), segment(0, 3000, conf(0.9)), nil, Request{StartMs: 0, EndMs: 500, MinConfidenceForRipple: 0.86})
	if !res.Safe {
		t.Fatalf("Safe = false, issues %+v", res.Issues)
	}
	if got := span(t, res.Next, "clip_1"); got != [2]int64{0, 2500} {
		t.Errorf("clip_1 = %v, want [0 2500]", got)
	}
	if got := span(t, res.Next, "clip_2"); got != [2]int64{2500, 5500} {
		t.Errorf("clip_2 = %v, want [2500 5500]", got)
	}
	track, idx := res.Next.FindClip("clip_1")
	if src := track.Clips[idx].SourceInMs; src != 500 {
		t.Errorf("clip_1 source in = %d, want 500", src)
	}
}

func TestEvaluate_AmbiguousBoundary(t *testing.T) {
	state := project(t)
	res := Evaluate(state, segment(0, 3000, conf(0.99)), nil, Request{StartMs: 50, EndMs: 1000, MinConfidenceForRipple: 0.86})
	if !res.SuggestionsOnly {
		t.Fatal("SuggestionsOnly = false for a cut leaving a 50ms fragment")
	}
	if !hasCode(res.Issues, issues.CodeRippleAmbiguousBoundary) {
		t.Errorf("Issues = %+v, want RIPPLE_AMBIGUOUS_BOUNDARY", res.Issues)
	}
	if !bytes.Equal(serialize(t, res.Next), serialize(t, state)) {
		t.Error("state changed")
	}
}

func TestEvaluate_UnknownConfidence(t *testing.T) {
	res := Evaluate(project(t), segment(0, 3000, nil), nil, Request{StartMs: 1000, EndMs: 2000, MinConfidenceForRipple: 0.5})
	if !res.SuggestionsOnly || !hasCode(res.Issues, issues.CodeConfidenceUnknown) {
		t.Errorf("res = %+v, want CONFIDENCE_UNKNOWN suggestions", res)
	}
}

func TestEvaluateRanges_LatestFirst(t *testing.T) {
	ranges := []transcript.Range{{StartMs: 1000, EndMs: 1500}, {StartMs: 4000, EndMs: 4500}}
	res := EvaluateRanges(project(t), segment(0, 6000, conf(0.9)), nil, ranges, 0.86)
	if !res.Safe {
		t.Fatalf("Safe = false, issues %+v", res.Issues)
	}
	for _, tr := range res.Next.Tracks {
		if tr.Kind == timeline.TrackCaption {
			continue
		}
		var end int64
		for _, c := range tr.Clips {
			end = max(end, c.TimelineOutMs)
		}
		if end != 5000 {
			t.Errorf("track %s ends at %d, want 5000", tr.ID, end)
		}
	}
	if issues.HasErrors(timeline.Validate(res.Next, nil)) {
		t.Errorf("Validate() = %+v", timeline.Validate(res.Next, nil))
	}
}

func TestConfidence_WordsWeightedByOverlap(t *testing.T) {
	words := []transcript.Word{
		{Text: "a", StartMs: 0, EndMs: 1000, Confidence: conf(1)},
		{Text: "b", StartMs: 1000, EndMs: 2000, SegmentID: "seg_1"},
		{Text: "c", StartMs: 5000, EndMs: 6000, Confidence: conf(0)},
	}
	segs := segment(0, 2000, conf(0.5))
	got := Confidence(segs, words, []transcript.Range{{StartMs: 500, EndMs: 2000}})
	if got == nil {
		t.Fatal("Confidence() = nil")
	}
	// a contributes 500ms at 1.0, b 1000ms at its segment's 0.5.
	want := (500*1.0 + 1000*0.5) / 1500
	if *got != want {
		t.Errorf("Confidence() = %v, want %v", *got, want)
	}
}

func TestNormalize(t *testing.T) {
	got := Normalize([]transcript.Range{{StartMs: 500, EndMs: 900}, {StartMs: 0, EndMs: 600}, {StartMs: 2000, EndMs: 2000}, {StartMs: 3000, EndMs: 3100}})
	want := []transcript.Range{{StartMs: 3000, EndMs: 3100}, {StartMs: 0, EndMs: 900}}
	if len(got) != len(want) {
		t.Fatalf("Normalize() = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Normalize()[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}
