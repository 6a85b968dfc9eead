package export

import (
	"testing"

	"github.com/heimdex/heimdex-editor/internal/transcript"
)

func TestGenerateSRT(t *testing.T) {
	captions := []transcript.Caption{
		{Index: 1, StartMs: 0, EndMs: 1500, Lines: []string{"hello there"}},
		{Index: 2, StartMs: 1500, EndMs: 1500, Lines: []string{"zero length"}},
		{Index: 3, StartMs: 61_250, EndMs: 3_723_004, Lines: []string{"first line", "second line"}},
	}

	got := GenerateSRT(captions)
	want := "1\n00:00:00,000 --> 00:00:01,500\nhello there\n\n" +
		"2\n00:01:01,250 --> 01:02:03,004\nfirst line\nsecond line\n\n"
	if got != want {
		t.Errorf("GenerateSRT() =\n%q\nwant\n%q", got, want)
	}
}

func TestGenerateSRT_Empty(t *testing.T) {
	if got := GenerateSRT(nil); got != "" {
		t.Errorf("GenerateSRT(nil) = %q, want empty", got)
	}
}
