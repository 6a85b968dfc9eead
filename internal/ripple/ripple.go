// Package ripple decides whether a transcript deletion may cut the matching
// footage out of the timeline. Skipping a cut is always preferred to making a
// wrong one, so anything short of confident and unambiguous demotes the
// request to suggestions only.
package ripple

import (
	"fmt"
	"sort"

	"github.com/heimdex/heimdex-editor/internal/issues"
	"github.com/heimdex/heimdex-editor/internal/timeline"
	"github.com/heimdex/heimdex-editor/internal/transcript"
)

// DefaultMinConfidence is the ripple threshold used when the caller gives none.
const DefaultMinConfidence = 0.86

type Request struct {
	StartMs                int64   `json:"start_ms"`
	EndMs                  int64   `json:"end_ms"`
	MinConfidenceForRipple float64 `json:"min_confidence_for_ripple"`
}

// Result describes the proposed cut. Operations are always the full proposal;
// they were applied to Next only when Safe is true. When SuggestionsOnly is
// set, Next is the unchanged input state.
type Result struct {
	Safe            bool                 `json:"safe"`
	SuggestionsOnly bool                 `json:"suggestions_only"`
	Confidence      *float64             `json:"confidence,omitempty"`
	Operations      []timeline.Operation `json:"-"`
	Issues          []issues.Issue       `json:"issues"`
	Next            timeline.State       `json:"-"`
}

// Evaluate checks a single deleted range.
func Evaluate(state timeline.State, segs []transcript.Segment, words []transcript.Word, req Request) Result {
	return EvaluateRanges(state, segs, words,
		[]transcript.Range{{StartMs: req.StartMs, EndMs: req.EndMs}}, req.MinConfidenceForRipple)
}

// EvaluateRanges checks every deleted range of a patch together. Ranges are
// merged and cut from the latest to the earliest so that closing one gap
// never shifts the coordinates of a range still to be cut. Transcript and
// timeline share one millisecond clock.
func EvaluateRanges(state timeline.State, segs []transcript.Segment, words []transcript.Word, ranges []transcript.Range, minConfidence float64) Result {
	res := Result{Next: state, Issues: []issues.Issue{}}
	ranges = Normalize(ranges)
	if len(ranges) == 0 {
		res.Safe = true
		return res
	}
	if minConfidence <= 0 {
		minConfidence = DefaultMinConfidence
	}

	demote := false
	res.Confidence = Confidence(segs, words, ranges)
	switch {
	case res.Confidence == nil:
		res.Issues = append(res.Issues, issues.Warnf(issues.CodeConfidenceUnknown,
			"no confidence data covers the deleted range; footage left untouched"))
		demote = true
	case *res.Confidence < minConfidence:
		res.Issues = append(res.Issues, issues.Warnf(issues.CodeLowConfidenceRipple,
			"transcript confidence %.2f is below the ripple threshold %.2f", *res.Confidence, minConfidence))
		demote = true
	}

	cur := state
	for _, r := range ranges {
		ops, list := planCut(cur, r)
		res.Operations = append(res.Operations, ops...)
		res.Issues = append(res.Issues, list...)
		if issues.HasErrors(list) {
			demote = true
		}
		next, err := timeline.Apply(cur, ops)
		if err != nil {
			res.Issues = append(res.Issues, issues.Errorf(issues.CodeOperationInvalid, "ripple dry run failed: %v", err))
			demote = true
			break
		}
		cur = next
	}

	if !demote {
		if introduced := newErrors(timeline.Validate(state, nil), timeline.Validate(cur, nil)); len(introduced) > 0 {
			res.Issues = append(res.Issues, introduced...)
			demote = true
		}
	}

	if demote {
		res.SuggestionsOnly = true
		res.Next = state
		return res
	}
	res.Safe = true
	res.Next = cur
	return res
}

// Normalize drops empty ranges, merges overlapping or touching ones and
// returns them latest first.
func Normalize(in []transcript.Range) []transcript.Range {
	var rs []transcript.Range
	for _, r := range in {
		if r.EndMs > r.StartMs {
			rs = append(rs, r)
		}
	}
	sort.Slice(rs, func(i, j int) bool { return rs[i].StartMs < rs[j].StartMs })

	var merged []transcript.Range
	for _, r := range rs {
		if n := len(merged); n > 0 && r.StartMs <= merged[n-1].EndMs {
			merged[n-1].EndMs = max(merged[n-1].EndMs, r.EndMs)
			continue
		}
		merged = append(merged, r)
	}
	for i, j := 0, len(merged)-1; i < j; i, j = i+1, j-1 {
		merged[i], merged[j] = merged[j], merged[i]
	}
	return merged
}

// Confidence is the overlap-weighted mean confidence of the words inside the
// ranges. A word without its own confidence borrows its segment's average;
// segments stand in for words when no word overlaps at all. Nil means no
// confidence data exists for the ranges.
func Confidence(segs []transcript.Segment, words []transcript.Word, ranges []transcript.Range) *float64 {
	segConf := map[string]*float64{}
	for _, s := range segs {
		segConf[s.ID] = s.ConfidenceAvg
	}

	var sum, weight float64
	wordHit := false
	for _, w := range words {
		ov := overlap(ranges, w.StartMs, w.EndMs)
		if ov == 0 {
			continue
		}
		wordHit = true
		c := w.Confidence
		if c == nil {
			c = segConf[w.SegmentID]
		}
		if c == nil {
			continue
		}
		sum += *c * float64(ov)
		weight += float64(ov)
	}

	if !wordHit {
		for _, s := range segs {
			ov := overlap(ranges, s.StartMs, s.EndMs)
			if ov == 0 || s.ConfidenceAvg == nil {
				continue
			}
			sum += *s.ConfidenceAvg * float64(ov)
			weight += float64(ov)
		}
	}

	if weight == 0 {
		return nil
	}
	v := sum / weight
	return &v
}

func overlap(ranges []transcript.Range, start, end int64) int64 {
	var total int64
	for _, r := range ranges {
		total += r.Overlap(start, end)
	}
	return total
}

// planCut proposes the operations removing [r.StartMs, r.EndMs) from every
// VIDEO and AUDIO track and closing the gap. Caption tracks are derived from
// the transcript and never cut here.
func planCut(s timeline.State, r transcript.Range) ([]timeline.Operation, []issues.Issue) {
	var (
		ops      []timeline.Operation
		list     []issues.Issue
		reserved []string
		touched  bool
	)
	d := r.DurationMs()

	for _, t := range s.Tracks {
		if t.Kind == timeline.TrackCaption {
			continue
		}

		var moves []timeline.Operation
		for _, c := range t.Clips {
			switch {
			case c.TimelineOutMs <= r.StartMs:
				continue

			case c.TimelineInMs >= r.EndMs:
				moves = append(moves, &timeline.MoveClip{ClipID: c.ID, InMs: c.TimelineInMs - d})
				continue
			}

			touched = true
			ambiguous := func(piece int64) {
				is := issues.Errorf(issues.CodeRippleAmbiguousBoundary,
					"cutting [%d, %d) would leave a %dms fragment of clip %q", r.StartMs, r.EndMs, piece, c.ID)
				is.TrackID, is.ClipID = t.ID, c.ID
				list = append(list, is)
			}

			head := r.StartMs - c.TimelineInMs
			tail := c.TimelineOutMs - r.EndMs

			switch {
			case head <= 0 && tail <= 0:
				ops = append(ops, &timeline.RemoveClip{ClipID: c.ID})

			case head <= 0:
				if tail < timeline.MinClipDurationMs {
					ambiguous(tail)
					continue
				}
				ops = append(ops, &timeline.TrimClip{ClipID: c.ID, TrimStartMs: r.EndMs - c.TimelineInMs})
				moves = append(moves, &timeline.MoveClip{ClipID: c.ID, InMs: r.StartMs})

			case tail <= 0:
				if head < timeline.MinClipDurationMs {
					ambiguous(head)
					continue
				}
				ops = append(ops, &timeline.TrimClip{ClipID: c.ID, TrimEndMs: c.TimelineOutMs - r.StartMs})

			default:
				if head < timeline.MinClipDurationMs || tail < timeline.MinClipDurationMs {
					ambiguous(min(head, tail))
					continue
				}
				middle := s.NextClipID(reserved...)
				reserved = append(reserved, middle)
				right := s.NextClipID(reserved...)
				reserved = append(reserved, right)
				ops = append(ops,
					&timeline.SplitClip{ClipID: c.ID, SplitMs: r.StartMs, NewClipID: middle},
					&timeline.SplitClip{ClipID: middle, SplitMs: r.EndMs, NewClipID: right},
					&timeline.RemoveClip{ClipID: middle},
				)
				moves = append(moves, &timeline.MoveClip{ClipID: right, InMs: r.StartMs})
			}
		}
		ops = append(ops, moves...)
	}

	if !touched {
		list = append(list, issues.Infof(issues.CodeRippleNoFootage,
			"no footage lies under [%d, %d)", r.StartMs, r.EndMs))
	}
	return ops, list
}

// newErrors returns the ERROR issues of after that were not already present
// in before.
func newErrors(before, after []issues.Issue) []issues.Issue {
	key := func(is issues.Issue) string {
		return fmt.Sprintf("%s|%s|%s", is.Code, is.TrackID, is.ClipID)
	}
	seen := map[string]bool{}
	for _, is := range before {
		seen[key(is)] = true
	}
	var out []issues.Issue
	for _, is := range issues.Filter(after, issues.SeverityError) {
		if !seen[key(is)] {
			out = append(out, is)
		}
	}
	return out
}
