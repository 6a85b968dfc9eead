package transcript

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/heimdex/heimdex-editor/internal/issues"
	"github.com/heimdex/heimdex-editor/internal/opcodec"
)

// SplitEdgeMs is the minimum distance a split point keeps from either edge of
// the segment being split.
const SplitEdgeMs int64 = 80

// PatchResult is the outcome of a transcript patch. When Applied is false the
// segments and words are the unchanged input and Issues explains why.
type PatchResult struct {
	Applied  bool           `json:"applied"`
	Segments []Segment      `json:"segments"`
	Words    []Word         `json:"words"`
	Issues   []issues.Issue `json:"issues"`
	Deleted  []Range        `json:"deleted_ranges,omitempty"`
}

type patchError struct {
	issue issues.Issue
}

func (e *patchError) Error() string { return e.issue.Code + ": " + e.issue.Message }

func fail(code, segmentID, format string, args ...any) error {
	is := issues.Errorf(code, format, args...)
	is.Segment = segmentID
	return &patchError{issue: is}
}

// doc is the working copy a batch mutates. words holds each segment's
// current words so a delete_range later in the batch can cut at real word
// boundaries.
type doc struct {
	segs    []Segment
	words   map[string][]Word
	deleted []Range
	notes   []issues.Issue
}

func newDoc(segs []Segment, words []Word) *doc {
	d := &doc{segs: cloneSegments(segs), words: map[string][]Word{}}
	SortSegments(d.segs)
	known := make(map[string]bool, len(d.segs))
	for _, s := range d.segs {
		known[s.ID] = true
	}
	for _, w := range cloneWords(words) {
		if known[w.SegmentID] {
			d.words[w.SegmentID] = append(d.words[w.SegmentID], w)
		}
	}
	return d
}

func (d *doc) find(id string) int {
	for i := range d.segs {
		if d.segs[i].ID == id {
			return i
		}
	}
	return -1
}

func (d *doc) wordsFor(s Segment) []Word {
	if ws := d.words[s.ID]; len(ws) > 0 {
		return ws
	}
	return synthesizeWords(s)
}

func (d *doc) remove(i int) {
	delete(d.words, d.segs[i].ID)
	d.segs = append(d.segs[:i], d.segs[i+1:]...)
}

// ApplyPatch applies ops in order to the segments of one language. The batch
// stops at the first ERROR and nothing is applied; on success words are
// rebuilt wholesale from the resulting segments. A malformed operation
// returns SCHEMA_INVALID as an error.
func ApplyPatch(segs []Segment, words []Word, ops []Operation) (PatchResult, error) {
	if err := opcodec.ValidateBatch(ops); err != nil {
		return PatchResult{}, err
	}

	rejected := func(list []issues.Issue) PatchResult {
		return PatchResult{
			Segments: cloneSegments(segs),
			Words:    cloneWords(words),
			Issues:   list,
		}
	}

	d := newDoc(segs, words)
	for i, op := range ops {
		if err := op.apply(d); err != nil {
			var pe *patchError
			if !errors.As(err, &pe) {
				return PatchResult{}, fmt.Errorf("operation %d: %w", i, err)
			}
			pe.issue.Message = fmt.Sprintf("operation %d (%s): %s", i, op.Name(), pe.issue.Message)
			return rejected(append(d.notes, pe.issue)), nil
		}
	}

	SortSegments(d.segs)
	rebuilt := RebuildWords(d.segs)
	list := append(d.notes, ValidateSegments(d.segs, rebuilt)...)
	if issues.HasErrors(list) {
		return rejected(list), nil
	}
	if d.segs == nil {
		d.segs = []Segment{}
	}
	return PatchResult{
		Applied:  true,
		Segments: d.segs,
		Words:    rebuilt,
		Issues:   list,
		Deleted:  d.deleted,
	}, nil
}

func (o *ReplaceText) apply(d *doc) error {
	i := d.find(o.SegmentID)
	if i < 0 {
		return fail(issues.CodeSegmentNotFound, o.SegmentID, "segment %q not found", o.SegmentID)
	}
	text := NormalizeText(o.Text)
	if text == "" {
		return fail(issues.CodeSegmentTextEmpty, o.SegmentID, "segment %q text would be empty", o.SegmentID)
	}
	d.segs[i].Text = text
	d.segs[i].Source = SourceEdited
	d.words[o.SegmentID] = synthesizeWords(d.segs[i])
	return nil
}

func (o *SetSpeaker) apply(d *doc) error {
	i := d.find(o.SegmentID)
	if i < 0 {
		return fail(issues.CodeSegmentNotFound, o.SegmentID, "segment %q not found", o.SegmentID)
	}
	label := strings.TrimSpace(o.SpeakerLabel)
	d.segs[i].SpeakerLabel = label
	for k := range d.words[o.SegmentID] {
		d.words[o.SegmentID][k].SpeakerLabel = label
	}
	return nil
}

func (o *SplitSegment) apply(d *doc) error {
	i := d.find(o.SegmentID)
	if i < 0 {
		return fail(issues.CodeSegmentNotFound, o.SegmentID, "segment %q not found", o.SegmentID)
	}
	seg := d.segs[i]
	tokens := strings.Fields(seg.Text)
	if len(tokens) < 2 {
		return fail(issues.CodeSegmentSplitInvalid, seg.ID, "segment %q has fewer than two tokens", seg.ID)
	}
	if seg.DurationMs() < 2*SplitEdgeMs {
		return fail(issues.CodeSegmentSplitInvalid, seg.ID, "segment %q is too short to split (%dms)", seg.ID, seg.DurationMs())
	}

	at := min(max(o.SplitMs, seg.StartMs+SplitEdgeMs), seg.EndMs-SplitEdgeMs)
	k := nearestBoundary(tokens, seg, at)

	left, right := seg, seg
	left.Text = strings.Join(tokens[:k], " ")
	left.EndMs = at
	left.Source = SourceEdited
	right.ID = nextSegmentID(d.segs)
	right.Text = strings.Join(tokens[k:], " ")
	right.StartMs = at
	right.Source = SourceEdited
	if seg.ConfidenceAvg != nil {
		c := *seg.ConfidenceAvg
		right.ConfidenceAvg = &c
	}

	ws := d.wordsFor(seg)
	if len(ws) == len(tokens) {
		leftWords := cloneWords(ws[:k])
		rightWords := cloneWords(ws[k:])
		for j := range rightWords {
			rightWords[j].SegmentID = right.ID
		}
		d.words[left.ID] = leftWords
		d.words[right.ID] = rightWords
	} else {
		d.words[left.ID] = synthesizeWords(left)
		d.words[right.ID] = synthesizeWords(right)
	}

	d.segs[i] = left
	d.segs = append(d.segs, right)
	SortSegments(d.segs)
	return nil
}

// nearestBoundary picks the token boundary whose character-proportional time
// is closest to at. Ties go to the earlier boundary.
func nearestBoundary(tokens []string, seg Segment, at int64) int {
	total := int64(runeLen(strings.Join(tokens, " ")))
	best, bestDiff := 1, int64(-1)
	for k := 1; k < len(tokens); k++ {
		p := int64(runeLen(strings.Join(tokens[:k], " ")))
		t := seg.StartMs + seg.DurationMs()*p/total
		diff := t - at
		if diff < 0 {
			diff = -diff
		}
		if bestDiff < 0 || diff < bestDiff {
			best, bestDiff = k, diff
		}
	}
	return best
}

func (o *MergeSegments) apply(d *doc) error {
	ia, ib := d.find(o.SegmentIDs[0]), d.find(o.SegmentIDs[1])
	for n, idx := range []int{ia, ib} {
		if idx < 0 {
			id := o.SegmentIDs[n]
			return fail(issues.CodeSegmentNotFound, id, "segment %q not found", id)
		}
	}
	if ia > ib {
		ia, ib = ib, ia
	}
	a, b := d.segs[ia], d.segs[ib]
	if ib != ia+1 || a.Language != b.Language {
		return fail(issues.CodeSegmentMergeInvalid, a.ID, "segments %q and %q are not adjacent", a.ID, b.ID)
	}

	if a.SpeakerLabel != "" && b.SpeakerLabel != "" && a.SpeakerLabel != b.SpeakerLabel {
		is := issues.Warnf(issues.CodeSpeakerConflict, "merging %q (%s) into %q (%s) keeps speaker %s",
			b.ID, b.SpeakerLabel, a.ID, a.SpeakerLabel, a.SpeakerLabel)
		is.Segment = a.ID
		d.notes = append(d.notes, is)
	}

	merged := a
	merged.Text = NormalizeText(a.Text + " " + b.Text)
	merged.EndMs = max(a.EndMs, b.EndMs)
	merged.Source = SourceEdited
	if merged.SpeakerLabel == "" {
		merged.SpeakerLabel = b.SpeakerLabel
	}
	merged.ConfidenceAvg = mergeConfidence(a, b)

	ws := append(cloneWords(d.wordsFor(a)), cloneWords(d.wordsFor(b))...)
	for j := range ws {
		ws[j].SegmentID = merged.ID
	}

	d.segs[ia] = merged
	d.remove(ib)
	d.words[merged.ID] = ws
	return nil
}

func mergeConfidence(a, b Segment) *float64 {
	switch {
	case a.ConfidenceAvg == nil && b.ConfidenceAvg == nil:
		return nil
	case a.ConfidenceAvg == nil:
		c := *b.ConfidenceAvg
		return &c
	case b.ConfidenceAvg == nil:
		c := *a.ConfidenceAvg
		return &c
	}
	wa, wb := float64(max(a.DurationMs(), 1)), float64(max(b.DurationMs(), 1))
	c := (*a.ConfidenceAvg*wa + *b.ConfidenceAvg*wb) / (wa + wb)
	return &c
}

// apply removes segments fully inside the range and cuts the covered words
// out of partially covered ones. A word is covered when its midpoint falls in
// the range.
func (o *DeleteRange) apply(d *doc) error {
	r := Range{StartMs: o.StartMs, EndMs: o.EndMs}
	d.deleted = append(d.deleted, r)

	for i := 0; i < len(d.segs); {
		seg := d.segs[i]
		if r.Overlap(seg.StartMs, seg.EndMs) == 0 {
			i++
			continue
		}
		if seg.StartMs >= r.StartMs && seg.EndMs <= r.EndMs {
			d.remove(i)
			continue
		}

		var keep []Word
		for _, w := range d.wordsFor(seg) {
			mid := w.StartMs + w.DurationMs()/2
			if mid >= r.StartMs && mid < r.EndMs {
				continue
			}
			keep = append(keep, w)
		}
		if len(keep) == 0 {
			d.remove(i)
			continue
		}

		start, end := keep[0].StartMs, keep[len(keep)-1].EndMs
		if r.StartMs <= seg.StartMs && start < r.EndMs {
			start = r.EndMs
		}
		if r.EndMs >= seg.EndMs && end > r.StartMs {
			end = r.StartMs
		}
		if end <= start {
			d.remove(i)
			continue
		}

		texts := make([]string, 0, len(keep))
		for _, w := range keep {
			texts = append(texts, w.Text)
		}
		seg.Text = strings.Join(texts, " ")
		seg.StartMs, seg.EndMs = start, end
		seg.Source = SourceEdited
		if c := weightedConfidence(keep); c != nil {
			seg.ConfidenceAvg = c
		}
		d.segs[i] = seg
		d.words[seg.ID] = keep
		i++
	}
	return nil
}

func (o *NormalizePunctuation) apply(d *doc) error {
	targets := o.SegmentIDs
	if len(targets) == 0 {
		for _, s := range d.segs {
			targets = append(targets, s.ID)
		}
	}
	for _, id := range targets {
		i := d.find(id)
		if i < 0 {
			return fail(issues.CodeSegmentNotFound, id, "segment %q not found", id)
		}
		text := normalizePunctuation(d.segs[i].Text)
		if text == "" || text == d.segs[i].Text {
			continue
		}
		d.segs[i].Text = text
		d.segs[i].Source = SourceEdited

		tokens := strings.Fields(text)
		ws := d.words[id]
		if len(ws) == len(tokens) {
			for k := range ws {
				ws[k].Text = tokens[k]
			}
		} else {
			d.words[id] = synthesizeWords(d.segs[i])
		}
	}
	return nil
}

func isTerminal(r rune) bool {
	switch r {
	case '.', '!', '?', '…', '。', '！', '？':
		return true
	}
	return false
}

func normalizePunctuation(s string) string {
	s = NormalizeText(s)
	if s == "" {
		return ""
	}
	first, size := utf8.DecodeRuneInString(s)
	s = string(unicode.ToUpper(first)) + s[size:]
	last, _ := utf8.DecodeLastRuneInString(s)
	if !isTerminal(last) {
		s += "."
	}
	return s
}
