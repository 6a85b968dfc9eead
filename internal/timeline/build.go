package timeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

const (
	legacyVideoTrackID = "track_video"
	legacyAudioTrackID = "track_audio"

	// DefaultStillDurationMs is used for images and assets without a probed duration.
	DefaultStillDurationMs int64 = 3000
)

// Build constructs canonical state from a persisted timeline document and the
// project's legacy per-slot assets. An empty or null document yields the
// defaults. When the document carries no tracks, default VIDEO and AUDIO
// tracks are synthesized from the assets.
//
// Build is deterministic and idempotent: identical input yields identical
// state, and Build(Serialize(s), assets) equals s.
func Build(raw []byte, assets []Asset) (State, error) {
	s := State{}
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && !bytes.Equal(raw, []byte("null")) {
		if err := json.Unmarshal(raw, &s); err != nil {
			return State{}, fmt.Errorf("decode timeline: %w", err)
		}
		if err := restoreVolumes(raw, &s); err != nil {
			return State{}, err
		}
	}

	applyDefaults(&s)
	if len(s.Tracks) == 0 {
		s.Tracks = synthesizeTracks(assets)
	}
	canonicalize(&s)
	return s, nil
}

// Serialize renders state in canonical JSON.
func Serialize(s State) ([]byte, error) {
	c := s.Clone()
	canonicalize(&c)
	return json.Marshal(c)
}

// restoreVolumes defaults a track's volume to unity when the document omits
// it, so a missing key is not read as silence.
func restoreVolumes(raw []byte, s *State) error {
	var probe struct {
		Tracks []struct {
			Volume *float64 `json:"volume"`
		} `json:"tracks"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return fmt.Errorf("decode timeline: %w", err)
	}
	for i := range probe.Tracks {
		if i < len(s.Tracks) && probe.Tracks[i].Volume == nil {
			s.Tracks[i].Volume = 1
		}
	}
	return nil
}

func applyDefaults(s *State) {
	if s.Version == 0 {
		s.Version = DefaultVersion
	}
	if s.FPS == 0 {
		s.FPS = DefaultFPS
	}
	if s.Resolution.Width == 0 {
		s.Resolution.Width = DefaultWidth
	}
	if s.Resolution.Height == 0 {
		s.Resolution.Height = DefaultHeight
	}
	if s.ExportPreset == "" {
		s.ExportPreset = DefaultExportPreset
	}
}

func legacyTrackKind(assetKind string) (TrackKind, bool) {
	switch assetKind {
	case "video", "image":
		return TrackVideo, true
	case "audio", "music", "voiceover":
		return TrackAudio, true
	}
	return "", false
}

func legacyDurationMs(a Asset) int64 {
	if a.Kind == "image" || a.DurationSec <= 0 {
		return DefaultStillDurationMs
	}
	return max(int64(math.Round(a.DurationSec*1000)), MinClipDurationMs)
}

func synthesizeTracks(assets []Asset) []Track {
	sorted := make([]Asset, len(assets))
	copy(sorted, assets)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].SlotKey != sorted[j].SlotKey {
			return sorted[i].SlotKey < sorted[j].SlotKey
		}
		return sorted[i].ID < sorted[j].ID
	})

	video := Track{ID: legacyVideoTrackID, Kind: TrackVideo, Name: "Video 1", Volume: 1, Clips: []Clip{}}
	audio := Track{ID: legacyAudioTrackID, Kind: TrackAudio, Name: "Audio 1", Volume: 1, Clips: []Clip{}}
	var videoEnd, audioEnd int64

	for _, a := range sorted {
		kind, ok := legacyTrackKind(a.Kind)
		if !ok {
			continue
		}
		dur := legacyDurationMs(a)
		track, cursor := &video, &videoEnd
		if kind == TrackAudio {
			track, cursor = &audio, &audioEnd
		}
		track.Clips = append(track.Clips, Clip{
			ID:            "clip_" + a.ID,
			AssetID:       a.ID,
			SlotKey:       a.SlotKey,
			Label:         a.SlotKey,
			TimelineInMs:  *cursor,
			TimelineOutMs: *cursor + dur,
			SourceInMs:    0,
			SourceOutMs:   dur,
			Effects:       []Effect{},
		})
		*cursor += dur
	}

	var tracks []Track
	if len(video.Clips) > 0 {
		tracks = append(tracks, video)
	}
	if len(audio.Clips) > 0 {
		audio.Order = len(tracks)
		tracks = append(tracks, audio)
	}
	return tracks
}

// canonicalize fixes ordering and replaces nil collections so that equal
// states always serialize to equal bytes.
func canonicalize(s *State) {
	if s.Tracks == nil {
		s.Tracks = []Track{}
	}
	sort.SliceStable(s.Tracks, func(i, j int) bool {
		if s.Tracks[i].Order != s.Tracks[j].Order {
			return s.Tracks[i].Order < s.Tracks[j].Order
		}
		return s.Tracks[i].ID < s.Tracks[j].ID
	})
	renumberTracks(s)

	for ti := range s.Tracks {
		t := &s.Tracks[ti]
		if t.Clips == nil {
			t.Clips = []Clip{}
		}
		sortClips(t)
		for ci := range t.Clips {
			c := &t.Clips[ci]
			if c.Effects == nil {
				c.Effects = []Effect{}
			}
			for ei := range c.Effects {
				e := &c.Effects[ei]
				if e.Config == nil {
					e.Config = map[string]any{}
				}
				if e.Keyframes == nil {
					e.Keyframes = []Keyframe{}
				}
				sortKeyframes(e.Keyframes)
			}
		}
	}
}
