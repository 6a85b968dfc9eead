package timeline

import (
	"errors"
	"fmt"
	"sort"

	"github.com/heimdex/heimdex-editor/internal/issues"
	"github.com/heimdex/heimdex-editor/internal/opcodec"
)

// Apply runs ops strictly left to right against a deep copy of s, each
// operation seeing the output of the previous one. The first failing
// operation aborts the batch; the input state is never modified.
//
// Overlap is not resolved here: moving a clip onto an occupied span succeeds
// and is reported by Validate.
func Apply(s State, ops []Operation) (State, error) {
	if err := opcodec.ValidateBatch(ops); err != nil {
		return State{}, err
	}

	next := s.Clone()
	for i, op := range ops {
		if err := op.apply(&next); err != nil {
			var e *issues.Error
			if errors.As(err, &e) {
				e.Index = i
				return State{}, e
			}
			return State{}, &issues.Error{Code: issues.CodeOperationInvalid, Index: i, Message: err.Error()}
		}
	}
	return next, nil
}

// ApplyAndValidate applies ops and runs the invariant validator over the
// result. The returned issues may contain ERRORs; callers decide whether that
// is a hard reject or a demotion to suggestions-only.
func ApplyAndValidate(s State, ops []Operation, assets []Asset) (State, []issues.Issue, error) {
	next, err := Apply(s, ops)
	if err != nil {
		return State{}, nil, err
	}
	return next, Validate(next, assets), nil
}

func notFound(kind, id string) error {
	return issues.New(issues.CodeReferenceNotFound, -1, "%s %q not found", kind, id)
}

func invalid(format string, args ...any) error {
	return issues.New(issues.CodeOperationInvalid, -1, format, args...)
}

func (s *State) claimID(prefix, requested string, existing []string) (string, error) {
	if requested == "" {
		return NextID(prefix, existing), nil
	}
	if s.hasID(requested) {
		return "", invalid("id %q already exists", requested)
	}
	return requested, nil
}

func sortClips(t *Track) {
	sort.SliceStable(t.Clips, func(i, j int) bool {
		if t.Clips[i].TimelineInMs != t.Clips[j].TimelineInMs {
			return t.Clips[i].TimelineInMs < t.Clips[j].TimelineInMs
		}
		return t.Clips[i].ID < t.Clips[j].ID
	})
}

func sortKeyframes(kfs []Keyframe) {
	sort.SliceStable(kfs, func(i, j int) bool {
		if kfs[i].TimeMs != kfs[j].TimeMs {
			return kfs[i].TimeMs < kfs[j].TimeMs
		}
		return kfs[i].Property < kfs[j].Property
	})
}

func renumberTracks(s *State) {
	for i := range s.Tracks {
		s.Tracks[i].Order = i
	}
}

// sourceAt maps a timeline offset inside c to a source position, scaling by
// the clip's source/timeline ratio.
func sourceAt(c Clip, offset int64) int64 {
	span := c.DurationMs()
	if span <= 0 {
		return c.SourceInMs
	}
	src := c.SourceOutMs - c.SourceInMs
	return c.SourceInMs + (offset*src+span/2)/span
}

func kindLabel(k TrackKind) string {
	switch k {
	case TrackVideo:
		return "Video"
	case TrackAudio:
		return "Audio"
	case TrackCaption:
		return "Captions"
	}
	return string(k)
}

func (o *CreateTrack) apply(s *State) error {
	id, err := s.claimID(trackPrefix, o.TrackID, s.trackIDs())
	if err != nil {
		return err
	}
	name := o.TrackName
	if name == "" {
		n := 1
		for _, t := range s.Tracks {
			if t.Kind == o.Kind {
				n++
			}
		}
		name = fmt.Sprintf("%s %d", kindLabel(o.Kind), n)
	}
	s.Tracks = append(s.Tracks, Track{
		ID:     id,
		Kind:   o.Kind,
		Name:   name,
		Order:  len(s.Tracks),
		Volume: 1,
		Clips:  []Clip{},
	})
	return nil
}

func (o *AddClip) apply(s *State) error {
	_, track := s.FindTrack(o.TrackID)
	if track == nil {
		return notFound("track", o.TrackID)
	}
	id, err := s.claimID(clipPrefix, o.ClipID, s.ClipIDs())
	if err != nil {
		return err
	}

	var srcIn int64
	if o.SourceInMs != nil {
		srcIn = *o.SourceInMs
	}
	srcOut := srcIn + o.DurationMs
	if o.SourceOutMs != nil {
		srcOut = *o.SourceOutMs
	}

	track.Clips = append(track.Clips, Clip{
		ID:            id,
		AssetID:       o.AssetID,
		SlotKey:       o.SlotKey,
		Label:         o.Label,
		TimelineInMs:  o.InMs,
		TimelineOutMs: o.InMs + o.DurationMs,
		SourceInMs:    srcIn,
		SourceOutMs:   srcOut,
		Effects:       []Effect{},
	})
	sortClips(track)
	return nil
}

func (o *SplitClip) apply(s *State) error {
	track, idx := s.FindClip(o.ClipID)
	if track == nil {
		return notFound("clip", o.ClipID)
	}
	left := track.Clips[idx]
	if o.SplitMs <= left.TimelineInMs || o.SplitMs >= left.TimelineOutMs {
		return invalid("split point %d outside clip %q span [%d, %d)", o.SplitMs, left.ID, left.TimelineInMs, left.TimelineOutMs)
	}

	rightID, err := s.claimID(clipPrefix, o.NewClipID, s.ClipIDs())
	if err != nil {
		return err
	}

	offset := o.SplitMs - left.TimelineInMs
	srcSplit := sourceAt(left, offset)

	right := left.clone()
	right.ID = rightID
	right.TimelineInMs = o.SplitMs
	right.SourceInMs = srcSplit

	// Transitions are outgoing, so the right half keeps the original tail.
	left.TimelineOutMs = o.SplitMs
	left.SourceOutMs = srcSplit
	left.Transition = nil

	fxIDs := s.effectIDs()
	for i := range right.Effects {
		right.Effects[i].ID = NextID(effectPrefix, fxIDs)
		fxIDs = append(fxIDs, right.Effects[i].ID)
		right.Effects[i].Keyframes = keyframesFrom(right.Effects[i].Keyframes, offset)
	}
	for i := range left.Effects {
		left.Effects[i].Keyframes = keyframesUntil(left.Effects[i].Keyframes, offset)
	}

	track.Clips[idx] = left
	track.Clips = append(track.Clips, right)
	sortClips(track)
	return nil
}

func keyframesUntil(kfs []Keyframe, limit int64) []Keyframe {
	out := []Keyframe{}
	for _, kf := range kfs {
		if kf.TimeMs <= limit {
			out = append(out, kf)
		}
	}
	return out
}

func keyframesFrom(kfs []Keyframe, offset int64) []Keyframe {
	out := []Keyframe{}
	for _, kf := range kfs {
		if kf.TimeMs >= offset {
			kf.TimeMs -= offset
			out = append(out, kf)
		}
	}
	return out
}

func (o *TrimClip) apply(s *State) error {
	track, idx := s.FindClip(o.ClipID)
	if track == nil {
		return notFound("clip", o.ClipID)
	}
	c := track.Clips[idx]
	dur := c.DurationMs()

	head, tail := o.TrimStartMs, o.TrimEndMs
	if excess := MinClipDurationMs - (dur - head - tail); excess > 0 {
		r := min(tail, excess)
		tail -= r
		excess -= r
		head -= min(head, excess)
	}
	if head == 0 && tail == 0 {
		return nil
	}

	srcIn := sourceAt(c, head)
	srcOut := sourceAt(c, dur-tail)
	c.TimelineInMs += head
	c.TimelineOutMs -= tail
	c.SourceInMs = srcIn
	c.SourceOutMs = srcOut
	if head > 0 {
		for i := range c.Effects {
			for k := range c.Effects[i].Keyframes {
				c.Effects[i].Keyframes[k].TimeMs -= head
			}
		}
	}
	track.Clips[idx] = c
	sortClips(track)
	return nil
}

func (o *ReorderTrack) apply(s *State) error {
	from, track := s.FindTrack(o.TrackID)
	if track == nil {
		return notFound("track", o.TrackID)
	}
	moved := *track
	to := min(o.ToIndex, len(s.Tracks)-1)

	rest := make([]Track, 0, len(s.Tracks))
	rest = append(rest, s.Tracks[:from]...)
	rest = append(rest, s.Tracks[from+1:]...)

	out := make([]Track, 0, len(s.Tracks))
	out = append(out, rest[:to]...)
	out = append(out, moved)
	out = append(out, rest[to:]...)
	s.Tracks = out
	renumberTracks(s)
	return nil
}

func (o *RemoveClip) apply(s *State) error {
	track, idx := s.FindClip(o.ClipID)
	if track == nil {
		return notFound("clip", o.ClipID)
	}
	track.Clips = append(track.Clips[:idx], track.Clips[idx+1:]...)
	return nil
}

func (o *MoveClip) apply(s *State) error {
	track, idx := s.FindClip(o.ClipID)
	if track == nil {
		return notFound("clip", o.ClipID)
	}
	c := track.Clips[idx]
	dur := c.DurationMs()
	c.TimelineInMs = o.InMs
	c.TimelineOutMs = o.InMs + dur

	if o.ToTrackID == "" || o.ToTrackID == track.ID {
		track.Clips[idx] = c
		sortClips(track)
		return nil
	}

	_, target := s.FindTrack(o.ToTrackID)
	if target == nil {
		return notFound("track", o.ToTrackID)
	}
	track.Clips = append(track.Clips[:idx], track.Clips[idx+1:]...)
	target.Clips = append(target.Clips, c)
	sortClips(target)
	return nil
}

func (o *SetClipTiming) apply(s *State) error {
	track, idx := s.FindClip(o.ClipID)
	if track == nil {
		return notFound("clip", o.ClipID)
	}
	c := &track.Clips[idx]
	c.TimelineInMs = o.InMs
	c.TimelineOutMs = o.OutMs
	if o.SourceInMs != nil {
		c.SourceInMs = *o.SourceInMs
	}
	if o.SourceOutMs != nil {
		c.SourceOutMs = *o.SourceOutMs
	}
	sortClips(track)
	return nil
}

func (o *MergeClipWithNext) apply(s *State) error {
	track, idx := s.FindClip(o.ClipID)
	if track == nil {
		return notFound("clip", o.ClipID)
	}
	sortClips(track)
	_, idx = s.FindClip(o.ClipID)
	if idx+1 >= len(track.Clips) {
		return invalid("clip %q has no right neighbour on track %q", o.ClipID, track.ID)
	}

	left := track.Clips[idx]
	next := track.Clips[idx+1]
	if next.TimelineInMs != left.TimelineOutMs {
		return invalid("clip %q and %q are separated by a %dms gap", left.ID, next.ID, next.TimelineInMs-left.TimelineOutMs)
	}
	if left.AssetID != next.AssetID {
		return invalid("clip %q and %q reference different assets", left.ID, next.ID)
	}
	if next.SourceInMs != left.SourceOutMs {
		return invalid("clip %q source resumes at %dms, not where %q ends (%dms)", next.ID, next.SourceInMs, left.ID, left.SourceOutMs)
	}

	leftDur := left.DurationMs()
	left.TimelineOutMs = next.TimelineOutMs
	left.SourceOutMs = next.SourceOutMs
	left.Transition = next.Transition

	have := make(map[string]bool, len(left.Effects))
	for _, e := range left.Effects {
		have[e.Type] = true
	}
	for _, e := range next.Effects {
		if have[e.Type] {
			continue
		}
		e = e.clone()
		for k := range e.Keyframes {
			e.Keyframes[k].TimeMs += leftDur
		}
		left.Effects = append(left.Effects, e)
	}

	track.Clips[idx] = left
	track.Clips = append(track.Clips[:idx+1], track.Clips[idx+2:]...)
	return nil
}

func (o *SetClipLabel) apply(s *State) error {
	track, idx := s.FindClip(o.ClipID)
	if track == nil {
		return notFound("clip", o.ClipID)
	}
	track.Clips[idx].Label = o.Label
	return nil
}

func (o *SetTrackAudio) apply(s *State) error {
	_, track := s.FindTrack(o.TrackID)
	if track == nil {
		return notFound("track", o.TrackID)
	}
	if o.Muted != nil {
		track.Muted = *o.Muted
	}
	if o.Volume != nil {
		track.Volume = *o.Volume
	}
	return nil
}

func effectByType(c *Clip, typ string) *Effect {
	for i := range c.Effects {
		if c.Effects[i].Type == typ {
			return &c.Effects[i]
		}
	}
	return nil
}

func (s *State) newEffect(c *Clip, requestedID, typ string, config map[string]any) error {
	id, err := s.claimID(effectPrefix, requestedID, s.effectIDs())
	if err != nil {
		return err
	}
	c.Effects = append(c.Effects, Effect{
		ID:        id,
		Type:      typ,
		Config:    cloneConfig(config),
		Keyframes: []Keyframe{},
	})
	return nil
}

// apply replaces the config of an existing effect of the same type wholesale.
func (o *AddEffect) apply(s *State) error {
	track, idx := s.FindClip(o.ClipID)
	if track == nil {
		return notFound("clip", o.ClipID)
	}
	c := &track.Clips[idx]
	if e := effectByType(c, o.Type); e != nil {
		e.Config = cloneConfig(o.Config)
		return nil
	}
	return s.newEffect(c, o.EffectID, o.Type, o.Config)
}

// apply merges config keys into an existing effect of the same type.
func (o *UpsertEffect) apply(s *State) error {
	track, idx := s.FindClip(o.ClipID)
	if track == nil {
		return notFound("clip", o.ClipID)
	}
	c := &track.Clips[idx]
	if e := effectByType(c, o.Type); e != nil {
		if e.Config == nil {
			e.Config = map[string]any{}
		}
		for k, v := range o.Config {
			e.Config[k] = cloneValue(v)
		}
		return nil
	}
	return s.newEffect(c, o.EffectID, o.Type, o.Config)
}

func (o *SetTransition) apply(s *State) error {
	track, idx := s.FindClip(o.ClipID)
	if track == nil {
		return notFound("clip", o.ClipID)
	}
	if o.Type == TransitionNone {
		track.Clips[idx].Transition = nil
		return nil
	}
	track.Clips[idx].Transition = &Transition{Type: o.Type, DurationMs: o.DurationMs}
	return nil
}

func (o *SetKeyframe) apply(s *State) error {
	clip, ei := s.FindEffect(o.EffectID)
	if clip == nil {
		return notFound("effect", o.EffectID)
	}
	e := &clip.Effects[ei]
	for k := range e.Keyframes {
		kf := &e.Keyframes[k]
		if kf.Property == o.Property && kf.TimeMs == o.TimeMs {
			kf.Value = o.Value
			kf.Easing = o.Easing
			return nil
		}
	}
	e.Keyframes = append(e.Keyframes, Keyframe{
		Property: o.Property,
		TimeMs:   o.TimeMs,
		Value:    o.Value,
		Easing:   o.Easing,
	})
	sortKeyframes(e.Keyframes)
	return nil
}

func (o *SetExportPreset) apply(s *State) error {
	if o.Preset != "" {
		s.ExportPreset = o.Preset
	}
	if o.FPS != nil {
		s.FPS = *o.FPS
	}
	if o.Width != nil {
		s.Resolution.Width = *o.Width
	}
	if o.Height != nil {
		s.Resolution.Height = *o.Height
	}
	return nil
}
