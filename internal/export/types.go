// Package export renders a timeline as a CMX3600 edit decision list and a
// transcript as SubRip captions.
package export

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/heimdex/heimdex-editor/internal/timeline"
	"github.com/heimdex/heimdex-editor/internal/transcript"
)

// Event is one EDL line: a source range placed at a record range on a
// channel.
type Event struct {
	Reel        string
	Channel     string // "V", "A", "A2", ...
	ClipName    string
	MediaPath   string
	SourceInMs  int64
	SourceOutMs int64
	RecordInMs  int64
	RecordOutMs int64
	Transition  *timeline.Transition
}

// EventsFromTimeline lists the clips of every unmuted VIDEO and AUDIO track
// in record order. media maps asset ids to file paths; clips without a known
// asset keep an empty media path. CAPTION tracks carry no footage and are
// skipped.
func EventsFromTimeline(s timeline.State, media map[string]string) []Event {
	var events []Event
	audioN := 0
	for _, t := range s.Tracks {
		var channel string
		switch t.Kind {
		case timeline.TrackVideo:
			channel = "V"
		case timeline.TrackAudio:
			audioN++
			channel = "A"
			if audioN > 1 {
				channel = "A" + strconv.Itoa(audioN)
			}
			if t.Muted {
				continue
			}
		default:
			continue
		}
		for _, c := range t.Clips {
			name := c.Label
			if name == "" {
				name = c.ID
			}
			events = append(events, Event{
				Reel:        reelName(c),
				Channel:     channel,
				ClipName:    name,
				MediaPath:   media[c.AssetID],
				SourceInMs:  c.SourceInMs,
				SourceOutMs: c.SourceOutMs,
				RecordInMs:  c.TimelineInMs,
				RecordOutMs: c.TimelineOutMs,
				Transition:  c.Transition,
			})
		}
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].RecordInMs < events[j].RecordInMs
	})
	return events
}

// reelName derives an 8 character reel from the asset id, AX when unknown.
func reelName(c timeline.Clip) string {
	if c.AssetID == "" {
		return "AX"
	}
	r := SanitizeName(c.AssetID, 8)
	if r == "" {
		return "AX"
	}
	return r
}

// Artifact is a rendered export file.
type Artifact struct {
	FileName    string
	ContentType string
	Body        []byte
	Entries     int
}

// TimelineEDL renders the project's timeline. frameRate <= 0 uses the
// timeline's own fps.
func TimelineEDL(projectName string, s timeline.State, media map[string]string, frameRate float64) Artifact {
	if frameRate <= 0 {
		frameRate = float64(s.FPS)
	}
	events := EventsFromTimeline(s, media)
	return Artifact{
		FileName:    FileName(projectName, "edl"),
		ContentType: "text/plain; charset=utf-8",
		Body:        []byte(GenerateEDL(events, projectName, frameRate)),
		Entries:     len(events),
	}
}

// TranscriptSRT renders one language's captions.
func TranscriptSRT(projectName, language string, captions []transcript.Caption) Artifact {
	return Artifact{
		FileName:    FileName(projectName+"."+language, "srt"),
		ContentType: "application/x-subrip; charset=utf-8",
		Body:        []byte(GenerateSRT(captions)),
		Entries:     len(captions),
	}
}

// WriteTo stores the artifact in dir and returns the written path.
func (a Artifact) WriteTo(dir string) (string, error) {
	if err := ValidateOutputDir(dir); err != nil {
		return "", err
	}
	path := filepath.Join(dir, a.FileName)
	if err := os.WriteFile(path, a.Body, 0o644); err != nil {
		return "", fmt.Errorf("failed to write export file: %w", err)
	}
	return path, nil
}
