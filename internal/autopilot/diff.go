package autopilot

import (
	"fmt"
	"sort"

	"github.com/heimdex/heimdex-editor/internal/timeline"
)

const projectGroup = "project"

// DiffGroup collects the operations of a plan that touch one track. Project
// level operations land in the "project" group.
type DiffGroup struct {
	Key              string   `json:"key"`
	Title            string   `json:"title"`
	OperationIndexes []int    `json:"operation_indexes"`
	Lines            []string `json:"lines"`
}

// BuildDiffGroups describes ops against the state they were planned on.
// Operations are walked in order on a scratch copy so clips created earlier
// in the batch resolve to their track. Groups follow track display order
// with the project group last.
func BuildDiffGroups(state timeline.State, ops []timeline.Operation) []DiffGroup {
	cur := state.Clone()
	groups := map[string]*DiffGroup{}
	titles := map[string]string{}
	order := map[string]int{}
	for _, t := range state.Tracks {
		order[t.ID] = t.Order
	}

	for i, op := range ops {
		key := targetTrack(cur, op)
		g, ok := groups[key]
		if !ok {
			g = &DiffGroup{Key: key, OperationIndexes: []int{}, Lines: []string{}}
			groups[key] = g
		}
		g.OperationIndexes = append(g.OperationIndexes, i)
		g.Lines = append(g.Lines, describe(cur, op))

		if next, err := timeline.Apply(cur, []timeline.Operation{op}); err == nil {
			cur = next
		}
		for _, t := range cur.Tracks {
			if _, seen := order[t.ID]; !seen {
				order[t.ID] = t.Order
			}
			titles[t.ID] = fmt.Sprintf("%s (%s)", t.Name, t.Kind)
		}
	}

	out := make([]DiffGroup, 0, len(groups))
	for key, g := range groups {
		g.Title = titles[key]
		if key == projectGroup || g.Title == "" {
			g.Title = "Project settings"
		}
		out = append(out, *g)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Key, out[j].Key
		if (a == projectGroup) != (b == projectGroup) {
			return b == projectGroup
		}
		if order[a] != order[b] {
			return order[a] < order[b]
		}
		return a < b
	})
	return out
}

func clipTrack(s timeline.State, clipID string) string {
	if t, _ := s.FindClip(clipID); t != nil {
		return t.ID
	}
	return projectGroup
}

func targetTrack(s timeline.State, op timeline.Operation) string {
	switch o := op.(type) {
	case *timeline.CreateTrack:
		if o.TrackID != "" {
			return o.TrackID
		}
		return projectGroup
	case *timeline.AddClip:
		return o.TrackID
	case *timeline.ReorderTrack:
		return o.TrackID
	case *timeline.SetTrackAudio:
		return o.TrackID
	case *timeline.SplitClip:
		return clipTrack(s, o.ClipID)
	case *timeline.TrimClip:
		return clipTrack(s, o.ClipID)
	case *timeline.RemoveClip:
		return clipTrack(s, o.ClipID)
	case *timeline.MoveClip:
		if o.ToTrackID != "" {
			return o.ToTrackID
		}
		return clipTrack(s, o.ClipID)
	case *timeline.SetClipTiming:
		return clipTrack(s, o.ClipID)
	case *timeline.MergeClipWithNext:
		return clipTrack(s, o.ClipID)
	case *timeline.SetClipLabel:
		return clipTrack(s, o.ClipID)
	case *timeline.AddEffect:
		return clipTrack(s, o.ClipID)
	case *timeline.UpsertEffect:
		return clipTrack(s, o.ClipID)
	case *timeline.SetTransition:
		return clipTrack(s, o.ClipID)
	case *timeline.SetKeyframe:
		if c, _ := s.FindEffect(o.EffectID); c != nil {
			return clipTrack(s, c.ID)
		}
	}
	return projectGroup
}

func clipName(s timeline.State, id string) string {
	if t, i := s.FindClip(id); t != nil && t.Clips[i].Label != "" {
		return fmt.Sprintf("%q (%s)", t.Clips[i].Label, id)
	}
	return id
}

func describe(s timeline.State, op timeline.Operation) string {
	switch o := op.(type) {
	case *timeline.CreateTrack:
		return fmt.Sprintf("Create %s track %s", o.Kind, o.TrackName)
	case *timeline.AddClip:
		return fmt.Sprintf("Add clip at %s for %s", msLabel(o.InMs), msLabel(o.DurationMs))
	case *timeline.SplitClip:
		return fmt.Sprintf("Split %s at %s", clipName(s, o.ClipID), msLabel(o.SplitMs))
	case *timeline.TrimClip:
		return fmt.Sprintf("Trim %s by %s at the start and %s at the end", clipName(s, o.ClipID), msLabel(o.TrimStartMs), msLabel(o.TrimEndMs))
	case *timeline.ReorderTrack:
		return fmt.Sprintf("Move track %s to position %d", o.TrackID, o.ToIndex)
	case *timeline.RemoveClip:
		return fmt.Sprintf("Remove %s", clipName(s, o.ClipID))
	case *timeline.MoveClip:
		return fmt.Sprintf("Move %s to %s", clipName(s, o.ClipID), msLabel(o.InMs))
	case *timeline.SetClipTiming:
		return fmt.Sprintf("Retime %s to %s-%s", clipName(s, o.ClipID), msLabel(o.InMs), msLabel(o.OutMs))
	case *timeline.MergeClipWithNext:
		return fmt.Sprintf("Merge %s with the next clip", clipName(s, o.ClipID))
	case *timeline.SetClipLabel:
		return fmt.Sprintf("Label %s as %q", clipName(s, o.ClipID), o.Label)
	case *timeline.SetTrackAudio:
		switch {
		case o.Muted != nil && *o.Muted:
			return fmt.Sprintf("Mute track %s", o.TrackID)
		case o.Muted != nil:
			return fmt.Sprintf("Unmute track %s", o.TrackID)
		case o.Volume != nil:
			return fmt.Sprintf("Set track %s volume to %.2f", o.TrackID, *o.Volume)
		}
		return fmt.Sprintf("Update audio of track %s", o.TrackID)
	case *timeline.AddEffect:
		return fmt.Sprintf("Add %s effect to %s", o.Type, clipName(s, o.ClipID))
	case *timeline.UpsertEffect:
		return fmt.Sprintf("Apply %s effect to %s", o.Type, clipName(s, o.ClipID))
	case *timeline.SetTransition:
		if o.Type == timeline.TransitionNone {
			return fmt.Sprintf("Remove the transition after %s", clipName(s, o.ClipID))
		}
		return fmt.Sprintf("Add %s transition (%s) after %s", o.Type, msLabel(o.DurationMs), clipName(s, o.ClipID))
	case *timeline.SetKeyframe:
		return fmt.Sprintf("Keyframe %s=%.2f at %s on effect %s", o.Property, o.Value, msLabel(o.TimeMs), o.EffectID)
	case *timeline.SetExportPreset:
		line := "Export"
		if o.Preset != "" {
			line += " preset " + o.Preset
		}
		if o.Width != nil && o.Height != nil {
			line += fmt.Sprintf(" at %dx%d", *o.Width, *o.Height)
		}
		if o.FPS != nil {
			line += fmt.Sprintf(" %dfps", *o.FPS)
		}
		return line
	}
	return op.Name()
}

func msLabel(ms int64) string {
	if ms%1000 == 0 {
		return fmt.Sprintf("%ds", ms/1000)
	}
	return fmt.Sprintf("%.2fs", float64(ms)/1000)
}
