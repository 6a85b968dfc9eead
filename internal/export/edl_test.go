package export

import (
	"strings"
	"testing"

	"github.com/heimdex/heimdex-editor/internal/timeline"
)

func TestGenerateEDL_SingleEvent(t *testing.T) {
	events := []Event{{
		Reel:        "AX",
		Channel:     "V",
		ClipName:    "Intro",
		MediaPath:   "/media/intro.mp4",
		SourceOutMs: 2000,
		RecordOutMs: 2000,
	}}

	edl := GenerateEDL(events, "Project One", 30.0)

	if !strings.Contains(edl, "TITLE: Project One") {
		t.Fatalf("missing title in EDL: %q", edl)
	}
	if !strings.Contains(edl, "FCM: NON-DROP FRAME") {
		t.Fatalf("missing non-drop-frame FCM: %q", edl)
	}
	if !strings.Contains(edl, "001  AX       V     C        00:00:00:00 00:00:02:00 00:00:00:00 00:00:02:00") {
		t.Fatalf("missing event line: %q", edl)
	}
	if !strings.Contains(edl, "* FROM CLIP NAME:  Intro") {
		t.Fatalf("missing clip name comment: %q", edl)
	}
	if !strings.Contains(edl, "* MEDIA PATH:  /media/intro.mp4") {
		t.Fatalf("missing media path comment: %q", edl)
	}
}

func TestGenerateEDL_DropFrame(t *testing.T) {
	events := []Event{{Reel: "AX", Channel: "V", ClipName: "Clip", SourceOutMs: 1000, RecordOutMs: 1000}}
	edl := GenerateEDL(events, "Drop", 29.97)

	if !strings.Contains(edl, "FCM: DROP FRAME") {
		t.Fatalf("expected drop frame FCM, got: %q", edl)
	}
}

func TestEventsFromTimeline(t *testing.T) {
	s := timeline.State{
		FPS: 30,
		Tracks: []timeline.Track{
			{ID: "track_video", Kind: timeline.TrackVideo, Clips: []timeline.Clip{
				{ID: "clip_1", AssetID: "v1", Label: "Opening", TimelineInMs: 0, TimelineOutMs: 1000, SourceInMs: 500, SourceOutMs: 1500,
					Transition: &timeline.Transition{Type: "crossfade", DurationMs: 500}},
				{ID: "clip_2", AssetID: "v2", TimelineInMs: 2000, TimelineOutMs: 2500, SourceOutMs: 500},
			}},
			{ID: "track_audio", Kind: timeline.TrackAudio, Clips: []timeline.Clip{
				{ID: "clip_m", AssetID: "m1", TimelineInMs: 0, TimelineOutMs: 2500, SourceOutMs: 2500},
			}},
			{ID: "track_vo", Kind: timeline.TrackAudio, Muted: true, Clips: []timeline.Clip{
				{ID: "clip_vo", AssetID: "vo", TimelineInMs: 0, TimelineOutMs: 1000, SourceOutMs: 1000},
			}},
			{ID: "track_caption", Kind: timeline.TrackCaption, Clips: []timeline.Clip{
				{ID: "clip_c", TimelineInMs: 0, TimelineOutMs: 1000},
			}},
		},
	}

	events := EventsFromTimeline(s, map[string]string{"v1": "/media/v1.mp4"})
	if len(events) != 3 {
		t.Fatalf("events = %+v, want 3", events)
	}
	if events[0].ClipName != "Opening" || events[0].Reel != "v1" || events[0].MediaPath != "/media/v1.mp4" {
		t.Errorf("first event = %+v", events[0])
	}
	if events[1].Channel != "A" || events[2].ClipName != "clip_2" {
		t.Errorf("record order wrong: %+v", events)
	}

	edl := GenerateEDL(events, "Gaps", 30)
	if !strings.Contains(edl, "003  v2       V     C        00:00:00:00 00:00:00:15 00:00:02:00 00:00:02:15") {
		t.Errorf("gap not preserved: %q", edl)
	}
	if !strings.Contains(edl, "* TRANSITION OUT:  CROSSFADE 15 FRAMES") {
		t.Errorf("missing transition note: %q", edl)
	}
	if strings.Contains(edl, "clip_vo") || strings.Contains(edl, "clip_c") {
		t.Errorf("muted or caption clips exported: %q", edl)
	}
}

func TestMsToTimecode(t *testing.T) {
	tests := []struct {
		name string
		ms   int64
		fps  int
		want string
	}{
		{name: "zero", ms: 0, fps: 30, want: "00:00:00:00"},
		{name: "one second", ms: 1000, fps: 30, want: "00:00:01:00"},
		{name: "fractional second", ms: 500, fps: 30, want: "00:00:00:15"},
		{name: "one minute", ms: 60000, fps: 30, want: "00:01:00:00"},
		{name: "one hour", ms: 3600000, fps: 30, want: "01:00:00:00"},
		{name: "24fps", ms: 1500, fps: 24, want: "00:00:01:12"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := msToTimecode(tc.ms, tc.fps)
			if got != tc.want {
				t.Fatalf("msToTimecode(%d, %d) = %q, want %q", tc.ms, tc.fps, got, tc.want)
			}
		})
	}
}
