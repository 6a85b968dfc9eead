package timeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/heimdex/heimdex-editor/internal/opcodec"
)

// Operation names of the timeline vocabulary.
const (
	OpCreateTrack       = "create_track"
	OpAddClip           = "add_clip"
	OpSplitClip         = "split_clip"
	OpTrimClip          = "trim_clip"
	OpReorderTrack      = "reorder_track"
	OpRemoveClip        = "remove_clip"
	OpMoveClip          = "move_clip"
	OpSetClipTiming     = "set_clip_timing"
	OpMergeClipWithNext = "merge_clip_with_next"
	OpSetClipLabel      = "set_clip_label"
	OpSetTrackAudio     = "set_track_audio"
	OpAddEffect         = "add_effect"
	OpUpsertEffect      = "upsert_effect"
	OpSetTransition     = "set_transition"
	OpSetKeyframe       = "set_keyframe"
	OpSetExportPreset   = "set_export_preset"
)

// Operation is one variant of the closed timeline vocabulary.
type Operation interface {
	opcodec.Op
	apply(s *State) error
}

var registry = opcodec.Registry[Operation]{
	OpCreateTrack:       func() Operation { return &CreateTrack{} },
	OpAddClip:           func() Operation { return &AddClip{} },
	OpSplitClip:         func() Operation { return &SplitClip{} },
	OpTrimClip:          func() Operation { return &TrimClip{} },
	OpReorderTrack:      func() Operation { return &ReorderTrack{} },
	OpRemoveClip:        func() Operation { return &RemoveClip{} },
	OpMoveClip:          func() Operation { return &MoveClip{} },
	OpSetClipTiming:     func() Operation { return &SetClipTiming{} },
	OpMergeClipWithNext: func() Operation { return &MergeClipWithNext{} },
	OpSetClipLabel:      func() Operation { return &SetClipLabel{} },
	OpSetTrackAudio:     func() Operation { return &SetTrackAudio{} },
	OpAddEffect:         func() Operation { return &AddEffect{} },
	OpUpsertEffect:      func() Operation { return &UpsertEffect{} },
	OpSetTransition:     func() Operation { return &SetTransition{} },
	OpSetKeyframe:       func() Operation { return &SetKeyframe{} },
	OpSetExportPreset:   func() Operation { return &SetExportPreset{} },
}

// DecodeOperations decodes and shape-validates a batch. Any failure rejects
// the whole batch as SCHEMA_INVALID before anything is applied.
func DecodeOperations(raws []json.RawMessage) ([]Operation, error) {
	return registry.DecodeBatch(raws)
}

// ParseOperations decodes a JSON array of operations.
func ParseOperations(data []byte) ([]Operation, error) {
	return registry.ParseBatch(data)
}

// EncodeOperations renders a batch in wire form.
func EncodeOperations(ops []Operation) (json.RawMessage, error) {
	return opcodec.EncodeBatch(ops)
}

func requireID(field, v string) error {
	if strings.TrimSpace(v) == "" {
		return fmt.Errorf("%s is required", field)
	}
	return nil
}

func nonNegative(field string, v int64) error {
	if v < 0 {
		return fmt.Errorf("%s must be >= 0", field)
	}
	return nil
}

type CreateTrack struct {
	TrackID   string    `json:"track_id,omitempty"`
	Kind      TrackKind `json:"kind"`
	TrackName string    `json:"name,omitempty"`
}

func (o *CreateTrack) Name() string { return OpCreateTrack }

func (o *CreateTrack) Validate() error {
	if !o.Kind.Valid() {
		return fmt.Errorf("unknown track kind %q", o.Kind)
	}
	return nil
}

type AddClip struct {
	TrackID     string `json:"track_id"`
	ClipID      string `json:"clip_id,omitempty"`
	AssetID     string `json:"asset_id,omitempty"`
	SlotKey     string `json:"slot_key,omitempty"`
	Label       string `json:"label,omitempty"`
	InMs        int64  `json:"in_ms"`
	DurationMs  int64  `json:"duration_ms"`
	SourceInMs  *int64 `json:"source_in_ms,omitempty"`
	SourceOutMs *int64 `json:"source_out_ms,omitempty"`
}

func (o *AddClip) Name() string { return OpAddClip }

func (o *AddClip) Validate() error {
	if err := requireID("track_id", o.TrackID); err != nil {
		return err
	}
	if err := nonNegative("in_ms", o.InMs); err != nil {
		return err
	}
	if o.DurationMs <= 0 {
		return errors.New("duration_ms must be > 0")
	}
	if o.SourceInMs != nil && *o.SourceInMs < 0 {
		return errors.New("source_in_ms must be >= 0")
	}
	if o.SourceOutMs != nil && o.SourceInMs != nil && *o.SourceOutMs < *o.SourceInMs {
		return errors.New("source_out_ms must be >= source_in_ms")
	}
	if o.SourceOutMs != nil && *o.SourceOutMs < 0 {
		return errors.New("source_out_ms must be >= 0")
	}
	return nil
}

type SplitClip struct {
	ClipID    string `json:"clip_id"`
	SplitMs   int64  `json:"split_ms"`
	NewClipID string `json:"new_clip_id,omitempty"`
}

func (o *SplitClip) Name() string { return OpSplitClip }

func (o *SplitClip) Validate() error {
	if err := requireID("clip_id", o.ClipID); err != nil {
		return err
	}
	if o.SplitMs <= 0 {
		return errors.New("split_ms must be > 0")
	}
	return nil
}

type TrimClip struct {
	ClipID      string `json:"clip_id"`
	TrimStartMs int64  `json:"trim_start_ms,omitempty"`
	TrimEndMs   int64  `json:"trim_end_ms,omitempty"`
}

func (o *TrimClip) Name() string { return OpTrimClip }

func (o *TrimClip) Validate() error {
	if err := requireID("clip_id", o.ClipID); err != nil {
		return err
	}
	if err := nonNegative("trim_start_ms", o.TrimStartMs); err != nil {
		return err
	}
	if err := nonNegative("trim_end_ms", o.TrimEndMs); err != nil {
		return err
	}
	if o.TrimStartMs == 0 && o.TrimEndMs == 0 {
		return errors.New("trim_start_ms or trim_end_ms must be > 0")
	}
	return nil
}

type ReorderTrack struct {
	TrackID string `json:"track_id"`
	ToIndex int    `json:"to_index"`
}

func (o *ReorderTrack) Name() string { return OpReorderTrack }

func (o *ReorderTrack) Validate() error {
	if err := requireID("track_id", o.TrackID); err != nil {
		return err
	}
	if o.ToIndex < 0 {
		return errors.New("to_index must be >= 0")
	}
	return nil
}

type RemoveClip struct {
	ClipID string `json:"clip_id"`
}

func (o *RemoveClip) Name() string    { return OpRemoveClip }
func (o *RemoveClip) Validate() error { return requireID("clip_id", o.ClipID) }

type MoveClip struct {
	ClipID    string `json:"clip_id"`
	ToTrackID string `json:"to_track_id,omitempty"`
	InMs      int64  `json:"in_ms"`
}

func (o *MoveClip) Name() string { return OpMoveClip }

func (o *MoveClip) Validate() error {
	if err := requireID("clip_id", o.ClipID); err != nil {
		return err
	}
	return nonNegative("in_ms", o.InMs)
}

type SetClipTiming struct {
	ClipID      string `json:"clip_id"`
	InMs        int64  `json:"in_ms"`
	OutMs       int64  `json:"out_ms"`
	SourceInMs  *int64 `json:"source_in_ms,omitempty"`
	SourceOutMs *int64 `json:"source_out_ms,omitempty"`
}

func (o *SetClipTiming) Name() string { return OpSetClipTiming }

func (o *SetClipTiming) Validate() error {
	if err := requireID("clip_id", o.ClipID); err != nil {
		return err
	}
	if err := nonNegative("in_ms", o.InMs); err != nil {
		return err
	}
	if o.OutMs <= o.InMs {
		return errors.New("out_ms must be > in_ms")
	}
	if o.SourceInMs != nil && *o.SourceInMs < 0 {
		return errors.New("source_in_ms must be >= 0")
	}
	if o.SourceInMs != nil && o.SourceOutMs != nil && *o.SourceOutMs < *o.SourceInMs {
		return errors.New("source_out_ms must be >= source_in_ms")
	}
	return nil
}

type MergeClipWithNext struct {
	ClipID string `json:"clip_id"`
}

func (o *MergeClipWithNext) Name() string    { return OpMergeClipWithNext }
func (o *MergeClipWithNext) Validate() error { return requireID("clip_id", o.ClipID) }

type SetClipLabel struct {
	ClipID string `json:"clip_id"`
	Label  string `json:"label"`
}

func (o *SetClipLabel) Name() string { return OpSetClipLabel }

func (o *SetClipLabel) Validate() error {
	if err := requireID("clip_id", o.ClipID); err != nil {
		return err
	}
	if len(o.Label) > 200 {
		return errors.New("label must be at most 200 bytes")
	}
	return nil
}

type SetTrackAudio struct {
	TrackID string   `json:"track_id"`
	Muted   *bool    `json:"muted,omitempty"`
	Volume  *float64 `json:"volume,omitempty"`
}

func (o *SetTrackAudio) Name() string { return OpSetTrackAudio }

func (o *SetTrackAudio) Validate() error {
	if err := requireID("track_id", o.TrackID); err != nil {
		return err
	}
	if o.Muted == nil && o.Volume == nil {
		return errors.New("muted or volume is required")
	}
	if o.Volume != nil && (*o.Volume < 0 || *o.Volume > 2) {
		return errors.New("volume must be within [0, 2]")
	}
	return nil
}

type AddEffect struct {
	ClipID   string         `json:"clip_id"`
	EffectID string         `json:"effect_id,omitempty"`
	Type     string         `json:"type"`
	Config   map[string]any `json:"config,omitempty"`
}

func (o *AddEffect) Name() string { return OpAddEffect }

func (o *AddEffect) Validate() error { return validateEffect(o.ClipID, o.Type) }

type UpsertEffect struct {
	ClipID   string         `json:"clip_id"`
	EffectID string         `json:"effect_id,omitempty"`
	Type     string         `json:"type"`
	Config   map[string]any `json:"config,omitempty"`
}

func (o *UpsertEffect) Name() string { return OpUpsertEffect }

func (o *UpsertEffect) Validate() error { return validateEffect(o.ClipID, o.Type) }

func validateEffect(clipID, typ string) error {
	if err := requireID("clip_id", clipID); err != nil {
		return err
	}
	return requireID("type", typ)
}

type SetTransition struct {
	ClipID     string `json:"clip_id"`
	Type       string `json:"type"`
	DurationMs int64  `json:"duration_ms"`
}

// TransitionNone clears a clip's transition.
const TransitionNone = "none"

func (o *SetTransition) Name() string { return OpSetTransition }

func (o *SetTransition) Validate() error {
	if err := requireID("clip_id", o.ClipID); err != nil {
		return err
	}
	if err := requireID("type", o.Type); err != nil {
		return err
	}
	return nonNegative("duration_ms", o.DurationMs)
}

var easings = map[string]bool{
	"":            true,
	"linear":      true,
	"ease_in":     true,
	"ease_out":    true,
	"ease_in_out": true,
	"hold":        true,
}

type SetKeyframe struct {
	EffectID string  `json:"effect_id"`
	Property string  `json:"property"`
	TimeMs   int64   `json:"time_ms"`
	Value    float64 `json:"value"`
	Easing   string  `json:"easing,omitempty"`
}

func (o *SetKeyframe) Name() string { return OpSetKeyframe }

func (o *SetKeyframe) Validate() error {
	if err := requireID("effect_id", o.EffectID); err != nil {
		return err
	}
	if err := requireID("property", o.Property); err != nil {
		return err
	}
	if err := nonNegative("time_ms", o.TimeMs); err != nil {
		return err
	}
	if !easings[o.Easing] {
		return fmt.Errorf("unknown easing %q", o.Easing)
	}
	return nil
}

type SetExportPreset struct {
	Preset string `json:"preset,omitempty"`
	FPS    *int   `json:"fps,omitempty"`
	Width  *int   `json:"width,omitempty"`
	Height *int   `json:"height,omitempty"`
}

func (o *SetExportPreset) Name() string { return OpSetExportPreset }

func (o *SetExportPreset) Validate() error {
	if o.Preset == "" && o.FPS == nil && o.Width == nil && o.Height == nil {
		return errors.New("at least one of preset, fps, width, height is required")
	}
	if o.FPS != nil && (*o.FPS < 1 || *o.FPS > 120) {
		return errors.New("fps must be within [1, 120]")
	}
	if o.Width != nil && (*o.Width < 16 || *o.Width > 8192) {
		return errors.New("width must be within [16, 8192]")
	}
	if o.Height != nil && (*o.Height < 16 || *o.Height > 8192) {
		return errors.New("height must be within [16, 8192]")
	}
	return nil
}
