package autopilot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/heimdex/heimdex-editor/internal/timeline"
)

// Proposal is what a planner suggests for a prompt. Operations are not yet
// applied or validated.
type Proposal struct {
	Macro      string               `json:"macro,omitempty"`
	Operations []timeline.Operation `json:"-"`
	Confidence float64              `json:"confidence"`
	Rationale  string               `json:"rationale,omitempty"`
}

// Planner turns a free-text prompt into a proposed operation batch against
// a timeline state. Implementations must not mutate state.
type Planner interface {
	Plan(ctx context.Context, state timeline.State, prompt string) (Proposal, error)
}

// MacroPlanner matches prompts against keyword-triggered macros. Built-in
// macros can be overridden or extended from a directory of YAML files.
type MacroPlanner struct {
	logger *slog.Logger

	mu     sync.RWMutex
	macros []Macro
}

func NewMacroPlanner(logger *slog.Logger) *MacroPlanner {
	return &MacroPlanner{logger: logger, macros: DefaultMacros()}
}

// Macros returns the active macro set.
func (p *MacroPlanner) Macros() []Macro {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Macro(nil), p.macros...)
}

// Reload rebuilds the macro set from the built-ins plus dir. An empty dir
// resets to the built-ins. On error the previous set stays active.
func (p *MacroPlanner) Reload(dir string) error {
	set := DefaultMacros()
	if dir != "" {
		extra, err := LoadMacroDir(dir)
		if err != nil {
			if p.logger != nil {
				p.logger.Warn("macro reload failed, keeping previous set", "dir", dir, "error", err)
			}
			return fmt.Errorf("load macros: %w", err)
		}
		set = mergeMacros(set, extra)
	}

	p.mu.Lock()
	p.macros = set
	p.mu.Unlock()

	if p.logger != nil {
		p.logger.Info("macros loaded", "count", len(set), "dir", dir)
	}
	return nil
}

// Match returns the macro with the most keyword hits in prompt. Ties go to
// the macro listed first. ok is false when nothing matches.
func (p *MacroPlanner) Match(prompt string) (m Macro, hits int, ok bool) {
	folded := fold(prompt)
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, cand := range p.macros {
		if n := cand.score(folded); n > hits {
			m, hits, ok = cand, n, true
		}
	}
	return m, hits, ok
}

// Plan expands the best matching macro against state. Confidence is the
// macro's own confidence, discounted when only some of its keywords match.
func (p *MacroPlanner) Plan(ctx context.Context, state timeline.State, prompt string) (Proposal, error) {
	if err := ctx.Err(); err != nil {
		return Proposal{}, err
	}
	m, hits, ok := p.Match(prompt)
	if !ok {
		return Proposal{Rationale: "no macro matched the prompt"}, nil
	}

	ops := Expand(m, state)
	coverage := float64(hits) / float64(len(m.Keywords))
	conf := m.Confidence * (0.75 + 0.25*coverage)
	if conf > 1 {
		conf = 1
	}
	return Proposal{
		Macro:      m.Name,
		Operations: ops,
		Confidence: conf,
		Rationale:  fmt.Sprintf("matched macro %q (%d of %d keywords)", m.Name, hits, len(m.Keywords)),
	}, nil
}

// Expand turns a macro's steps into concrete operations for state. Steps
// only address clips that exist in state, so a step with nothing to act on
// contributes no operations.
func Expand(m Macro, state timeline.State) []timeline.Operation {
	var ops []timeline.Operation
	for _, s := range m.Steps {
		ops = append(ops, expandStep(s, state)...)
	}
	return ops
}

func expandStep(s Step, state timeline.State) []timeline.Operation {
	var ops []timeline.Operation
	switch s.Action {
	case StepMuteAudio:
		for _, t := range state.Tracks {
			if t.Kind == timeline.TrackAudio && !t.Muted {
				muted := true
				ops = append(ops, &timeline.SetTrackAudio{TrackID: t.ID, Muted: &muted})
			}
		}

	case StepTrimEdges:
		for _, t := range videoTracks(state) {
			first, last := t.Clips[0], t.Clips[len(t.Clips)-1]
			if first.ID == last.ID {
				ops = append(ops, &timeline.TrimClip{ClipID: first.ID, TrimStartMs: s.HeadMs, TrimEndMs: s.TailMs})
				continue
			}
			if s.HeadMs > 0 {
				ops = append(ops, &timeline.TrimClip{ClipID: first.ID, TrimStartMs: s.HeadMs})
			}
			if s.TailMs > 0 {
				ops = append(ops, &timeline.TrimClip{ClipID: last.ID, TrimEndMs: s.TailMs})
			}
		}

	case StepApplyEffect:
		for _, t := range videoTracks(state) {
			for _, c := range t.Clips {
				ops = append(ops, &timeline.UpsertEffect{ClipID: c.ID, Type: s.Type, Config: cloneConfig(s.Config)})
			}
		}

	case StepTransitions:
		for _, t := range videoTracks(state) {
			for _, c := range t.Clips[:len(t.Clips)-1] {
				ops = append(ops, &timeline.SetTransition{ClipID: c.ID, Type: s.Type, DurationMs: s.DurationMs})
			}
		}

	case StepLabelClips:
		n := 0
		prefix := strings.TrimSpace(s.Prefix)
		for _, t := range videoTracks(state) {
			for _, c := range t.Clips {
				n++
				ops = append(ops, &timeline.SetClipLabel{ClipID: c.ID, Label: fmt.Sprintf("%s %d", prefix, n)})
			}
		}

	case StepExportPreset:
		op := &timeline.SetExportPreset{Preset: s.Preset}
		if s.FPS > 0 {
			op.FPS = &s.FPS
		}
		if s.Width > 0 {
			op.Width = &s.Width
		}
		if s.Height > 0 {
			op.Height = &s.Height
		}
		ops = append(ops, op)
	}
	return ops
}

// videoTracks returns the non-empty VIDEO tracks in display order.
func videoTracks(state timeline.State) []timeline.Track {
	var out []timeline.Track
	for _, t := range state.Tracks {
		if t.Kind == timeline.TrackVideo && len(t.Clips) > 0 {
			out = append(out, t)
		}
	}
	return out
}

func cloneConfig(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
