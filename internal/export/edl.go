package export

import (
	"fmt"
	"math"
	"strings"
)

// GenerateEDL renders events as a CMX3600 list. Record positions come from
// the timeline itself, so gaps are preserved.
func GenerateEDL(events []Event, title string, frameRate float64) string {
	fps := int(math.Round(frameRate))
	if fps <= 0 {
		fps = 30
	}

	isDropFrame := math.Abs(frameRate-29.97) < 0.01 || math.Abs(frameRate-59.94) < 0.01

	lines := []string{fmt.Sprintf("TITLE: %s", title)}
	if isDropFrame {
		lines = append(lines, "FCM: DROP FRAME")
	} else {
		lines = append(lines, "FCM: NON-DROP FRAME")
	}
	lines = append(lines, "")

	for i, ev := range events {
		srcIn := msToTimecode(ev.SourceInMs, fps)
		srcOut := msToTimecode(ev.SourceOutMs, fps)
		recIn := msToTimecode(ev.RecordInMs, fps)
		recOut := msToTimecode(ev.RecordOutMs, fps)

		lines = append(lines,
			fmt.Sprintf("%03d  %-8s %-5s C        %s %s %s %s", i+1, ev.Reel, ev.Channel, srcIn, srcOut, recIn, recOut),
			fmt.Sprintf("* FROM CLIP NAME:  %s", ev.ClipName),
		)
		if ev.MediaPath != "" {
			lines = append(lines, fmt.Sprintf("* MEDIA PATH:  %s", ev.MediaPath))
		}
		if ev.Transition != nil {
			frames := int(math.Round(float64(ev.Transition.DurationMs) * float64(fps) / 1000.0))
			lines = append(lines, fmt.Sprintf("* TRANSITION OUT:  %s %d FRAMES", strings.ToUpper(ev.Transition.Type), frames))
		}
	}

	lines = append(lines, "")
	return strings.Join(lines, "\n")
}

func msToTimecode(ms int64, fps int) string {
	f := int64(fps)
	totalFrames := int64(math.Round(float64(ms) * float64(fps) / 1000.0))
	frames := totalFrames % f
	totalSeconds := totalFrames / f
	seconds := totalSeconds % 60
	totalMinutes := totalSeconds / 60
	minutes := totalMinutes % 60
	hours := totalMinutes / 60
	return fmt.Sprintf("%02d:%02d:%02d:%02d", hours, minutes, seconds, frames)
}
