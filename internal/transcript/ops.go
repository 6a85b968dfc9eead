package transcript

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/heimdex/heimdex-editor/internal/opcodec"
)

const (
	OpReplaceText          = "replace_text"
	OpSplitSegment         = "split_segment"
	OpMergeSegments        = "merge_segments"
	OpDeleteRange          = "delete_range"
	OpSetSpeaker           = "set_speaker"
	OpNormalizePunctuation = "normalize_punctuation"
)

// Operation is one variant of the transcript patch vocabulary.
type Operation interface {
	opcodec.Op
	apply(d *doc) error
}

var registry = opcodec.Registry[Operation]{
	OpReplaceText:          func() Operation { return &ReplaceText{} },
	OpSplitSegment:         func() Operation { return &SplitSegment{} },
	OpMergeSegments:        func() Operation { return &MergeSegments{} },
	OpDeleteRange:          func() Operation { return &DeleteRange{} },
	OpSetSpeaker:           func() Operation { return &SetSpeaker{} },
	OpNormalizePunctuation: func() Operation { return &NormalizePunctuation{} },
}

func DecodeOperations(raws []json.RawMessage) ([]Operation, error) {
	return registry.DecodeBatch(raws)
}

func ParseOperations(data []byte) ([]Operation, error) {
	return registry.ParseBatch(data)
}

func EncodeOperations(ops []Operation) (json.RawMessage, error) {
	return opcodec.EncodeBatch(ops)
}

func requireSegment(id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("segment_id is required")
	}
	return nil
}

type ReplaceText struct {
	SegmentID string `json:"segment_id"`
	Text      string `json:"text"`
}

func (o *ReplaceText) Name() string    { return OpReplaceText }
func (o *ReplaceText) Validate() error { return requireSegment(o.SegmentID) }

type SplitSegment struct {
	SegmentID string `json:"segment_id"`
	SplitMs   int64  `json:"split_ms"`
}

func (o *SplitSegment) Name() string { return OpSplitSegment }

func (o *SplitSegment) Validate() error {
	if err := requireSegment(o.SegmentID); err != nil {
		return err
	}
	if o.SplitMs < 0 {
		return errors.New("split_ms must be >= 0")
	}
	return nil
}

type MergeSegments struct {
	SegmentIDs []string `json:"segment_ids"`
}

func (o *MergeSegments) Name() string { return OpMergeSegments }

func (o *MergeSegments) Validate() error {
	if len(o.SegmentIDs) != 2 {
		return errors.New("segment_ids must name exactly two segments")
	}
	if o.SegmentIDs[0] == o.SegmentIDs[1] {
		return errors.New("segment_ids must be distinct")
	}
	for _, id := range o.SegmentIDs {
		if err := requireSegment(id); err != nil {
			return err
		}
	}
	return nil
}

type DeleteRange struct {
	StartMs int64 `json:"start_ms"`
	EndMs   int64 `json:"end_ms"`
}

func (o *DeleteRange) Name() string { return OpDeleteRange }

func (o *DeleteRange) Validate() error {
	if o.StartMs < 0 {
		return errors.New("start_ms must be >= 0")
	}
	if o.EndMs <= o.StartMs {
		return errors.New("end_ms must be > start_ms")
	}
	return nil
}

type SetSpeaker struct {
	SegmentID    string `json:"segment_id"`
	SpeakerLabel string `json:"speaker_label"`
}

func (o *SetSpeaker) Name() string    { return OpSetSpeaker }
func (o *SetSpeaker) Validate() error { return requireSegment(o.SegmentID) }

// NormalizePunctuation applies to SegmentIDs, or to every segment when empty.
type NormalizePunctuation struct {
	SegmentIDs []string `json:"segment_ids,omitempty"`
}

func (o *NormalizePunctuation) Name() string { return OpNormalizePunctuation }

func (o *NormalizePunctuation) Validate() error {
	for _, id := range o.SegmentIDs {
		if err := requireSegment(id); err != nil {
			return err
		}
	}
	return nil
}
