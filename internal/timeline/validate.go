package timeline

import (
	"sort"

	"github.com/heimdex/heimdex-editor/internal/issues"
)

// Validate checks structural invariants over a whole state and reports every
// violation it finds. It never corrects anything. When assets is nil the asset
// reference check is skipped.
func Validate(s State, assets []Asset) []issues.Issue {
	var out []issues.Issue

	var known map[string]bool
	if assets != nil {
		known = make(map[string]bool, len(assets))
		for _, a := range assets {
			known[a.ID] = true
		}
	}

	seen := map[string]bool{}
	dup := func(id string, trackID, clipID string) {
		if id == "" {
			return
		}
		if seen[id] {
			is := issues.Errorf(issues.CodeDuplicateID, "id %q is used more than once", id)
			is.TrackID, is.ClipID = trackID, clipID
			out = append(out, is)
		}
		seen[id] = true
	}

	for _, t := range s.Tracks {
		dup(t.ID, t.ID, "")
		if !t.Kind.Valid() {
			is := issues.Errorf(issues.CodeTrackKindInvalid, "track %q has invalid kind %q", t.ID, t.Kind)
			is.TrackID = t.ID
			out = append(out, is)
		}
		if len(t.Clips) == 0 {
			is := issues.Infof(issues.CodeTrackEmpty, "track %q has no clips", t.ID)
			is.TrackID = t.ID
			out = append(out, is)
			continue
		}

		for _, c := range t.Clips {
			dup(c.ID, t.ID, c.ID)
			for _, e := range c.Effects {
				dup(e.ID, t.ID, c.ID)
			}
			out = append(out, validateClip(t.ID, c, known)...)
		}
		out = append(out, overlaps(t)...)
	}
	return out
}

func validateClip(trackID string, c Clip, known map[string]bool) []issues.Issue {
	var out []issues.Issue
	add := func(is issues.Issue) {
		is.TrackID, is.ClipID = trackID, c.ID
		out = append(out, is)
	}

	switch {
	case c.TimelineInMs < 0 || c.SourceInMs < 0:
		add(issues.Errorf(issues.CodeClipRangeInvalid, "clip %q has a negative time", c.ID))
	case c.TimelineOutMs <= c.TimelineInMs:
		add(issues.Errorf(issues.CodeClipRangeInvalid, "clip %q ends at %d before it starts at %d", c.ID, c.TimelineOutMs, c.TimelineInMs))
	case c.SourceInMs > c.SourceOutMs:
		add(issues.Errorf(issues.CodeClipRangeInvalid, "clip %q source range [%d, %d] is inverted", c.ID, c.SourceInMs, c.SourceOutMs))
	case c.DurationMs() < MinClipDurationMs:
		add(issues.Errorf(issues.CodeClipTooShort, "clip %q is %dms, minimum is %dms", c.ID, c.DurationMs(), MinClipDurationMs))
	}

	dur := c.DurationMs()
	for _, e := range c.Effects {
		for _, kf := range e.Keyframes {
			if kf.TimeMs < 0 || kf.TimeMs > dur {
				add(issues.Errorf(issues.CodeKeyframeOutOfRange,
					"keyframe %s@%d on effect %q is outside clip %q (0..%d)", kf.Property, kf.TimeMs, e.ID, c.ID, dur))
			}
		}
	}

	if c.Transition != nil && c.Transition.DurationMs > dur {
		add(issues.Warnf(issues.CodeTransitionTooLong, "transition on clip %q is %dms, longer than the clip", c.ID, c.Transition.DurationMs))
	}
	if known != nil && c.AssetID != "" && !known[c.AssetID] {
		add(issues.Warnf(issues.CodeAssetMissing, "clip %q references unknown asset %q", c.ID, c.AssetID))
	}
	return out
}

// overlaps reports each clip that starts before the furthest end seen so far
// on the same track.
func overlaps(t Track) []issues.Issue {
	clips := make([]Clip, len(t.Clips))
	copy(clips, t.Clips)
	sort.SliceStable(clips, func(i, j int) bool {
		if clips[i].TimelineInMs != clips[j].TimelineInMs {
			return clips[i].TimelineInMs < clips[j].TimelineInMs
		}
		return clips[i].ID < clips[j].ID
	})

	var out []issues.Issue
	prev := clips[0]
	for _, c := range clips[1:] {
		if c.TimelineInMs < prev.TimelineOutMs {
			is := issues.Errorf(issues.CodeClipOverlap, "clip %q overlaps clip %q on track %q", c.ID, prev.ID, t.ID)
			is.TrackID, is.ClipID = t.ID, c.ID
			out = append(out, is)
		}
		if c.TimelineOutMs > prev.TimelineOutMs {
			prev = c
		}
	}
	return out
}
