package transcript

import "strings"

// Caption is one display row derived from a segment.
type Caption struct {
	Index     int      `json:"index"`
	SegmentID string   `json:"segment_id"`
	Language  string   `json:"language"`
	StartMs   int64    `json:"start_ms"`
	EndMs     int64    `json:"end_ms"`
	Lines     []string `json:"lines"`
}

func (c Caption) Text() string { return strings.Join(c.Lines, "\n") }

// Captions wraps each segment's text into caption lines. Captions are a pure
// function of the segments and are rebuilt with them.
func Captions(segs []Segment, opts Options) []Caption {
	opts = opts.withDefaults()
	sorted := cloneSegments(segs)
	SortSegments(sorted)

	out := make([]Caption, 0, len(sorted))
	for _, s := range sorted {
		lines := wrap(strings.Fields(s.Text), opts.MaxCharsPerLine)
		if len(lines) == 0 {
			continue
		}
		out = append(out, Caption{
			Index:     len(out) + 1,
			SegmentID: s.ID,
			Language:  s.Language,
			StartMs:   s.StartMs,
			EndMs:     s.EndMs,
			Lines:     lines,
		})
	}
	return out
}
