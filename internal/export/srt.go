package export

import (
	"fmt"
	"strings"

	"github.com/heimdex/heimdex-editor/internal/transcript"
)

// GenerateSRT renders captions as SubRip. Cues are renumbered from 1 in the
// order given.
func GenerateSRT(captions []transcript.Caption) string {
	var b strings.Builder
	n := 0
	for _, c := range captions {
		text := strings.TrimSpace(c.Text())
		if text == "" || c.EndMs <= c.StartMs {
			continue
		}
		n++
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n", n, srtTimestamp(c.StartMs), srtTimestamp(c.EndMs), text)
	}
	return b.String()
}

func srtTimestamp(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	h := ms / 3_600_000
	m := ms / 60_000 % 60
	s := ms / 1000 % 60
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms%1000)
}
