package transcript

import (
	"sort"
	"strconv"
	"strings"
)

// Options bound how many words a segment may hold and how its text wraps.
type Options struct {
	MaxWordsPerSegment int   `toml:"max_words_per_segment"`
	MaxCharsPerLine    int   `toml:"max_chars_per_line"`
	MaxLinesPerSegment int   `toml:"max_lines_per_segment"`
	MaxGapMs           int64 `toml:"max_gap_ms"`
}

func DefaultOptions() Options {
	return Options{
		MaxWordsPerSegment: 12,
		MaxCharsPerLine:    42,
		MaxLinesPerSegment: 2,
		MaxGapMs:           1200,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxWordsPerSegment <= 0 {
		o.MaxWordsPerSegment = d.MaxWordsPerSegment
	}
	if o.MaxCharsPerLine <= 0 {
		o.MaxCharsPerLine = d.MaxCharsPerLine
	}
	if o.MaxLinesPerSegment <= 0 {
		o.MaxLinesPerSegment = d.MaxLinesPerSegment
	}
	if o.MaxGapMs <= 0 {
		o.MaxGapMs = d.MaxGapMs
	}
	return o
}

// BuildSegments groups an ordered word stream into segments for one language.
// A segment closes when adding the next word would exceed the word limit or
// the wrapped line limit, when the speaker changes, or when the silence
// before the next word is longer than MaxGapMs. Every returned word carries
// the id of the segment it landed in.
func BuildSegments(words []Word, language string, opts Options) ([]Segment, []Word) {
	opts = opts.withDefaults()

	in := make([]Word, 0, len(words))
	for _, w := range cloneWords(words) {
		w.Text = NormalizeText(w.Text)
		if w.Text == "" {
			continue
		}
		if w.EndMs < w.StartMs {
			w.EndMs = w.StartMs
		}
		in = append(in, w)
	}
	sort.SliceStable(in, func(i, j int) bool { return in[i].StartMs < in[j].StartMs })

	var (
		segs  []Segment
		out   []Word
		group []Word
	)
	flush := func() {
		if len(group) == 0 {
			return
		}
		seg := segmentFrom(group, language, len(segs)+1)
		if n := len(segs); n > 0 && seg.StartMs < segs[n-1].EndMs {
			seg.StartMs = segs[n-1].EndMs
			if seg.EndMs <= seg.StartMs {
				seg.EndMs = seg.StartMs + 1
			}
		}
		for i := range group {
			group[i].SegmentID = seg.ID
		}
		segs = append(segs, seg)
		out = append(out, group...)
		group = nil
	}

	for _, w := range in {
		if len(group) > 0 && shouldBreak(group, w, opts) {
			flush()
		}
		group = append(group, w)
	}
	flush()

	if segs == nil {
		segs = []Segment{}
	}
	if out == nil {
		out = []Word{}
	}
	return segs, out
}

func shouldBreak(group []Word, next Word, opts Options) bool {
	last := group[len(group)-1]
	if len(group) >= opts.MaxWordsPerSegment {
		return true
	}
	if last.SpeakerLabel != "" && next.SpeakerLabel != "" && last.SpeakerLabel != next.SpeakerLabel {
		return true
	}
	if next.StartMs-last.EndMs > opts.MaxGapMs {
		return true
	}
	tokens := make([]string, 0, len(group)+1)
	for _, w := range group {
		tokens = append(tokens, w.Text)
	}
	tokens = append(tokens, next.Text)
	return len(wrap(tokens, opts.MaxCharsPerLine)) > opts.MaxLinesPerSegment
}

func segmentFrom(group []Word, language string, n int) Segment {
	tokens := make([]string, 0, len(group))
	end := group[0].EndMs
	speaker := ""
	for _, w := range group {
		tokens = append(tokens, w.Text)
		end = max(end, w.EndMs)
		if speaker == "" {
			speaker = w.SpeakerLabel
		}
	}
	start := group[0].StartMs
	if end <= start {
		end = start + 1
	}
	return Segment{
		ID:            segmentPrefix + strconv.Itoa(n),
		Language:      language,
		Text:          strings.Join(tokens, " "),
		StartMs:       start,
		EndMs:         end,
		SpeakerLabel:  speaker,
		ConfidenceAvg: weightedConfidence(group),
		Source:        SourceASR,
	}
}

// wrap fills lines greedily up to maxChars runes. A token longer than
// maxChars gets a line of its own.
func wrap(tokens []string, maxChars int) []string {
	var lines []string
	cur := ""
	for _, tok := range tokens {
		switch {
		case cur == "":
			cur = tok
		case runeLen(cur)+1+runeLen(tok) <= maxChars:
			cur += " " + tok
		default:
			lines = append(lines, cur)
			cur = tok
		}
	}
	if cur != "" {
		lines = append(lines, cur)
	}
	return lines
}
