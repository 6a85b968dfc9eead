// Package timeline implements the timeline edit engine: canonical state
// construction, the closed operation vocabulary, in-order application and
// post-batch invariant validation. Everything here is pure and synchronous.
package timeline

import (
	"encoding/json"
	"time"
)

type TrackKind string

const (
	TrackVideo   TrackKind = "VIDEO"
	TrackAudio   TrackKind = "AUDIO"
	TrackCaption TrackKind = "CAPTION"
)

// MinClipDurationMs is the duration floor every committed clip must respect.
const MinClipDurationMs int64 = 120

const (
	DefaultVersion      = 1
	DefaultFPS          = 30
	DefaultWidth        = 1920
	DefaultHeight       = 1080
	DefaultExportPreset = "1080p"
)

func (k TrackKind) Valid() bool {
	switch k {
	case TrackVideo, TrackAudio, TrackCaption:
		return true
	}
	return false
}

type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type State struct {
	Version      int              `json:"version"`
	FPS          int              `json:"fps"`
	Resolution   Resolution       `json:"resolution"`
	ExportPreset string           `json:"export_preset"`
	Tracks       []Track          `json:"tracks"`
	Revisions    []RevisionRecord `json:"revisions,omitempty"`
}

type Track struct {
	ID     string    `json:"id"`
	Kind   TrackKind `json:"kind"`
	Name   string    `json:"name"`
	Order  int       `json:"order"`
	Muted  bool      `json:"muted"`
	Volume float64   `json:"volume"`
	Clips  []Clip    `json:"clips"`
}

type Clip struct {
	ID            string      `json:"id"`
	AssetID       string      `json:"asset_id,omitempty"`
	SlotKey       string      `json:"slot_key,omitempty"`
	Label         string      `json:"label"`
	TimelineInMs  int64       `json:"timeline_in_ms"`
	TimelineOutMs int64       `json:"timeline_out_ms"`
	SourceInMs    int64       `json:"source_in_ms"`
	SourceOutMs   int64       `json:"source_out_ms"`
	Effects       []Effect    `json:"effects"`
	Transition    *Transition `json:"transition,omitempty"`
}

func (c Clip) DurationMs() int64 { return c.TimelineOutMs - c.TimelineInMs }

type Transition struct {
	Type       string `json:"type"`
	DurationMs int64  `json:"duration_ms"`
}

type Effect struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Config    map[string]any `json:"config"`
	Keyframes []Keyframe     `json:"keyframes"`
}

type Keyframe struct {
	Property string  `json:"property"`
	TimeMs   int64   `json:"time_ms"`
	Value    float64 `json:"value"`
	Easing   string  `json:"easing,omitempty"`
}

// RevisionRecord is one entry of the append-only audit log carried with the
// persisted state. It is never replayed to rebuild state.
type RevisionRecord struct {
	ID           string          `json:"id"`
	Revision     int64           `json:"revision"`
	TimelineHash string          `json:"timeline_hash"`
	Source       string          `json:"source"`
	Operations   json.RawMessage `json:"operations,omitempty"`
	Actor        string          `json:"actor,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Asset is a legacy per-slot asset row used by the builder.
type Asset struct {
	ID          string  `json:"id"`
	SlotKey     string  `json:"slot_key"`
	Kind        string  `json:"kind"`
	DurationSec float64 `json:"duration_sec"`
}

func (s *State) FindTrack(id string) (int, *Track) {
	for i := range s.Tracks {
		if s.Tracks[i].ID == id {
			return i, &s.Tracks[i]
		}
	}
	return -1, nil
}

// FindClip returns the owning track and the clip index within it.
func (s *State) FindClip(id string) (*Track, int) {
	for ti := range s.Tracks {
		for ci := range s.Tracks[ti].Clips {
			if s.Tracks[ti].Clips[ci].ID == id {
				return &s.Tracks[ti], ci
			}
		}
	}
	return nil, -1
}

// FindEffect returns the clip owning the effect and the effect index.
func (s *State) FindEffect(id string) (*Clip, int) {
	for ti := range s.Tracks {
		for ci := range s.Tracks[ti].Clips {
			clip := &s.Tracks[ti].Clips[ci]
			for ei := range clip.Effects {
				if clip.Effects[ei].ID == id {
					return clip, ei
				}
			}
		}
	}
	return nil, -1
}

// DurationMs is the end of the latest clip on any track.
func (s *State) DurationMs() int64 {
	var end int64
	for _, t := range s.Tracks {
		for _, c := range t.Clips {
			if c.TimelineOutMs > end {
				end = c.TimelineOutMs
			}
		}
	}
	return end
}

// Clone returns a deep copy so applied batches never alias the input.
func (s State) Clone() State {
	out := s
	out.Tracks = make([]Track, len(s.Tracks))
	for i, t := range s.Tracks {
		out.Tracks[i] = t.clone()
	}
	if s.Revisions != nil {
		out.Revisions = make([]RevisionRecord, len(s.Revisions))
		copy(out.Revisions, s.Revisions)
	}
	return out
}

func (t Track) clone() Track {
	out := t
	out.Clips = make([]Clip, len(t.Clips))
	for i, c := range t.Clips {
		out.Clips[i] = c.clone()
	}
	return out
}

func (c Clip) clone() Clip {
	out := c
	out.Effects = make([]Effect, len(c.Effects))
	for i, e := range c.Effects {
		out.Effects[i] = e.clone()
	}
	if c.Transition != nil {
		tr := *c.Transition
		out.Transition = &tr
	}
	return out
}

func (e Effect) clone() Effect {
	out := e
	out.Config = cloneConfig(e.Config)
	out.Keyframes = make([]Keyframe, len(e.Keyframes))
	copy(out.Keyframes, e.Keyframes)
	return out
}

func cloneConfig(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch tv := v.(type) {
	case map[string]any:
		return cloneConfig(tv)
	case []any:
		cp := make([]any, len(tv))
		for i := range tv {
			cp[i] = cloneValue(tv[i])
		}
		return cp
	default:
		return v
	}
}
