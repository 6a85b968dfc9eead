package transcript

import (
	"github.com/heimdex/heimdex-editor/internal/issues"
)

// ValidateSegments checks that segments of each language are non-empty,
// non-overlapping and uniquely identified, and that every word's segment id
// resolves.
func ValidateSegments(segs []Segment, words []Word) []issues.Issue {
	var out []issues.Issue
	add := func(is issues.Issue, segID string) {
		is.Segment = segID
		out = append(out, is)
	}

	sorted := cloneSegments(segs)
	SortSegments(sorted)

	type key struct{ lang, id string }
	seen := map[key]bool{}
	known := map[string]bool{}
	for i, s := range sorted {
		k := key{s.Language, s.ID}
		if seen[k] {
			add(issues.Errorf(issues.CodeDuplicateID, "segment id %q is used more than once", s.ID), s.ID)
		}
		seen[k] = true
		known[s.ID] = true

		if s.StartMs < 0 || s.EndMs <= s.StartMs {
			add(issues.Errorf(issues.CodeSegmentRangeInvalid, "segment %q span [%d, %d) is invalid", s.ID, s.StartMs, s.EndMs), s.ID)
		}
		if NormalizeText(s.Text) == "" {
			add(issues.Errorf(issues.CodeSegmentTextEmpty, "segment %q has no text", s.ID), s.ID)
		}
		if i > 0 {
			prev := sorted[i-1]
			if prev.Language == s.Language && s.StartMs < prev.EndMs {
				add(issues.Errorf(issues.CodeSegmentOverlap, "segment %q overlaps %q", s.ID, prev.ID), s.ID)
			}
		}
	}

	for _, w := range words {
		if w.SegmentID != "" && !known[w.SegmentID] {
			add(issues.Errorf(issues.CodeSegmentRefDangling, "word %q references missing segment %q", w.Text, w.SegmentID), w.SegmentID)
		}
	}
	return out
}
