package autopilot

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"gopkg.in/yaml.v3"
)

//go:embed default_macros.yaml
var defaultMacrosYAML []byte

// Macro step actions.
const (
	StepMuteAudio    = "mute_audio"
	StepTrimEdges    = "trim_edges"
	StepApplyEffect  = "apply_effect"
	StepTransitions  = "transitions"
	StepLabelClips   = "label_clips"
	StepExportPreset = "export_preset"
)

const defaultMacroConfidence = 0.75

// Macro is a named, keyword-triggered recipe of timeline edits.
type Macro struct {
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Keywords    []string `json:"keywords" yaml:"keywords"`
	Confidence  float64  `json:"confidence" yaml:"confidence"`
	Steps       []Step   `json:"steps" yaml:"steps"`
	Source      string   `json:"source,omitempty" yaml:"-"`
}

// Step is one macro action. Only the fields relevant to Action are read.
type Step struct {
	Action     string         `json:"action" yaml:"action"`
	HeadMs     int64          `json:"head_ms,omitempty" yaml:"head_ms,omitempty"`
	TailMs     int64          `json:"tail_ms,omitempty" yaml:"tail_ms,omitempty"`
	Type       string         `json:"type,omitempty" yaml:"type,omitempty"`
	Config     map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
	DurationMs int64          `json:"duration_ms,omitempty" yaml:"duration_ms,omitempty"`
	Prefix     string         `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	Preset     string         `json:"preset,omitempty" yaml:"preset,omitempty"`
	FPS        int            `json:"fps,omitempty" yaml:"fps,omitempty"`
	Width      int            `json:"width,omitempty" yaml:"width,omitempty"`
	Height     int            `json:"height,omitempty" yaml:"height,omitempty"`
}

type macroFile struct {
	Macros []Macro `yaml:"macros"`
}

// ParseMacros decodes a macro file and checks every definition.
func ParseMacros(data []byte, source string) ([]Macro, error) {
	var f macroFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	for i := range f.Macros {
		m := &f.Macros[i]
		m.Source = source
		if m.Confidence == 0 {
			m.Confidence = defaultMacroConfidence
		}
		if err := m.check(); err != nil {
			return nil, fmt.Errorf("%s: macro %d: %w", source, i, err)
		}
	}
	return f.Macros, nil
}

func (m Macro) check() error {
	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if len(m.Keywords) == 0 {
		return fmt.Errorf("%s: at least one keyword is required", m.Name)
	}
	if m.Confidence < 0 || m.Confidence > 1 {
		return fmt.Errorf("%s: confidence %.2f outside [0, 1]", m.Name, m.Confidence)
	}
	if len(m.Steps) == 0 {
		return fmt.Errorf("%s: at least one step is required", m.Name)
	}
	for i, s := range m.Steps {
		if err := s.check(); err != nil {
			return fmt.Errorf("%s: step %d: %w", m.Name, i, err)
		}
	}
	return nil
}

func (s Step) check() error {
	switch s.Action {
	case StepMuteAudio:
	case StepTrimEdges:
		if s.HeadMs < 0 || s.TailMs < 0 || s.HeadMs+s.TailMs == 0 {
			return fmt.Errorf("trim_edges needs a positive head_ms or tail_ms")
		}
	case StepApplyEffect:
		if s.Type == "" {
			return fmt.Errorf("apply_effect needs a type")
		}
	case StepTransitions:
		if s.Type == "" || s.DurationMs < 0 {
			return fmt.Errorf("transitions needs a type and a non-negative duration_ms")
		}
	case StepLabelClips:
		if strings.TrimSpace(s.Prefix) == "" {
			return fmt.Errorf("label_clips needs a prefix")
		}
	case StepExportPreset:
		if s.Preset == "" && s.FPS == 0 && s.Width == 0 && s.Height == 0 {
			return fmt.Errorf("export_preset sets nothing")
		}
		if s.FPS < 0 || s.Width < 0 || s.Height < 0 {
			return fmt.Errorf("export_preset values must be positive")
		}
	default:
		return fmt.Errorf("unknown action %q", s.Action)
	}
	return nil
}

// DefaultMacros returns the macros compiled into the binary.
func DefaultMacros() []Macro {
	ms, err := ParseMacros(defaultMacrosYAML, "builtin")
	if err != nil {
		panic(err)
	}
	return ms
}

// LoadMacroDir reads every .yaml/.yml file in dir. Files are read in name
// order; a later definition replaces an earlier one with the same name.
func LoadMacroDir(dir string) ([]Macro, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !IsMacroFile(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var out []Macro
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		ms, err := ParseMacros(data, name)
		if err != nil {
			return nil, err
		}
		out = append(out, ms...)
	}
	return out, nil
}

// IsMacroFile reports whether name looks like a macro definition file.
func IsMacroFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return (ext == ".yaml" || ext == ".yml") && !strings.HasPrefix(name, ".")
}

// mergeMacros overlays extra onto base by name, keeping base order and
// appending new names.
func mergeMacros(base, extra []Macro) []Macro {
	out := append([]Macro(nil), base...)
	index := make(map[string]int, len(out))
	for i, m := range out {
		index[m.Name] = i
	}
	for _, m := range extra {
		if i, ok := index[m.Name]; ok {
			out[i] = m
			continue
		}
		index[m.Name] = len(out)
		out = append(out, m)
	}
	return out
}

// fold case-folds s for keyword matching. A Caser is stateful, so each call
// builds its own.
func fold(s string) string { return cases.Fold().String(s) }

// score counts the macro keywords present in the folded prompt.
func (m Macro) score(prompt string) int {
	hits := 0
	for _, k := range m.Keywords {
		if k = strings.TrimSpace(fold(k)); k != "" && strings.Contains(prompt, k) {
			hits++
		}
	}
	return hits
}
