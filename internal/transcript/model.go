// Package transcript derives caption-sized segments from an ASR word stream
// and applies segment-level patch operations. Segments are the source of
// truth; words are a derived cache rebuilt wholesale after every patch.
package transcript

import (
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Segment sources.
const (
	SourceASR    = "asr"
	SourceManual = "manual"
	SourceEdited = "edited"
)

const segmentPrefix = "seg_"

type Segment struct {
	ID            string   `json:"id"`
	Language      string   `json:"language"`
	Text          string   `json:"text"`
	StartMs       int64    `json:"start_ms"`
	EndMs         int64    `json:"end_ms"`
	SpeakerLabel  string   `json:"speaker_label,omitempty"`
	ConfidenceAvg *float64 `json:"confidence_avg,omitempty"`
	Source        string   `json:"source"`
}

func (s Segment) DurationMs() int64 { return s.EndMs - s.StartMs }

// Word is one recognized token. SegmentID is a lookup key into the segment
// list, empty when the word belongs to no segment.
type Word struct {
	Text         string   `json:"text"`
	StartMs      int64    `json:"start_ms"`
	EndMs        int64    `json:"end_ms"`
	Confidence   *float64 `json:"confidence,omitempty"`
	SpeakerLabel string   `json:"speaker_label,omitempty"`
	SegmentID    string   `json:"segment_id,omitempty"`
}

func (w Word) DurationMs() int64 { return w.EndMs - w.StartMs }

// Range is a half-open millisecond interval [StartMs, EndMs).
type Range struct {
	StartMs int64 `json:"start_ms"`
	EndMs   int64 `json:"end_ms"`
}

func (r Range) DurationMs() int64 { return r.EndMs - r.StartMs }

// Overlap returns how many milliseconds of [start, end) fall inside r.
func (r Range) Overlap(start, end int64) int64 {
	lo := max(r.StartMs, start)
	hi := min(r.EndMs, end)
	if hi <= lo {
		return 0
	}
	return hi - lo
}

// NormalizeText applies NFC and collapses runs of whitespace.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(norm.NFC.String(s)), " ")
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }

// SortSegments orders segments by (language, start, id) in place.
func SortSegments(segs []Segment) {
	sort.SliceStable(segs, func(i, j int) bool {
		if segs[i].Language != segs[j].Language {
			return segs[i].Language < segs[j].Language
		}
		if segs[i].StartMs != segs[j].StartMs {
			return segs[i].StartMs < segs[j].StartMs
		}
		return segs[i].ID < segs[j].ID
	})
}

func nextSegmentID(segs []Segment) string {
	n := 0
	for _, s := range segs {
		if !strings.HasPrefix(s.ID, segmentPrefix) {
			continue
		}
		if v, err := strconv.Atoi(s.ID[len(segmentPrefix):]); err == nil && v > n {
			n = v
		}
	}
	return segmentPrefix + strconv.Itoa(n+1)
}

func cloneSegments(in []Segment) []Segment {
	out := make([]Segment, len(in))
	for i, s := range in {
		if s.ConfidenceAvg != nil {
			c := *s.ConfidenceAvg
			s.ConfidenceAvg = &c
		}
		out[i] = s
	}
	return out
}

func cloneWords(in []Word) []Word {
	out := make([]Word, len(in))
	for i, w := range in {
		if w.Confidence != nil {
			c := *w.Confidence
			w.Confidence = &c
		}
		out[i] = w
	}
	return out
}

// weightedConfidence is the duration-weighted mean of the words' confidences,
// or nil when none of them carries one.
func weightedConfidence(words []Word) *float64 {
	var sum, weight float64
	for _, w := range words {
		if w.Confidence == nil {
			continue
		}
		d := float64(max(w.DurationMs(), 1))
		sum += *w.Confidence * d
		weight += d
	}
	if weight == 0 {
		return nil
	}
	v := sum / weight
	return &v
}

// RebuildWords derives an evenly spaced word list from segments. Timing is an
// approximation: each token receives an equal share of its segment's span.
func RebuildWords(segs []Segment) []Word {
	var out []Word
	for _, s := range segs {
		out = append(out, synthesizeWords(s)...)
	}
	if out == nil {
		out = []Word{}
	}
	return out
}

func synthesizeWords(s Segment) []Word {
	tokens := strings.Fields(s.Text)
	n := int64(len(tokens))
	if n == 0 {
		return nil
	}
	span := s.DurationMs()
	out := make([]Word, 0, n)
	for i, tok := range tokens {
		k := int64(i)
		w := Word{
			Text:         tok,
			StartMs:      s.StartMs + span*k/n,
			EndMs:        s.StartMs + span*(k+1)/n,
			SpeakerLabel: s.SpeakerLabel,
			SegmentID:    s.ID,
		}
		if s.ConfidenceAvg != nil {
			c := *s.ConfidenceAvg
			w.Confidence = &c
		}
		out = append(out, w)
	}
	return out
}

// ShiftAfter closes the gap left by a removed range: segments starting at or
// after r.EndMs move earlier by its duration, and a segment straddling
// r.EndMs loses the same amount from its end.
func ShiftAfter(segs []Segment, r Range) []Segment {
	delta := r.DurationMs()
	out := cloneSegments(segs)
	if delta <= 0 {
		return out
	}
	for i := range out {
		switch {
		case out[i].StartMs >= r.EndMs:
			out[i].StartMs -= delta
			out[i].EndMs -= delta
		case out[i].EndMs > r.EndMs:
			out[i].EndMs -= delta
		}
	}
	return out
}
