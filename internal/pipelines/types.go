// Package pipelines runs the external speech recognition collaborator as a
// subprocess and parses the word stream it writes.
package pipelines

import (
	"fmt"
	"time"
)

// Capabilities is what `doctor --json` reports about the installed ASR
// environment.
type Capabilities struct {
	PackageVersion string             `json:"package_version"`
	Python         PythonInfo         `json:"python"`
	Dependencies   map[string]DepInfo `json:"dependencies"`
	Executables    map[string]DepInfo `json:"executables"`
	GPU            GPUInfo            `json:"gpu"`
	Summary        SummaryInfo        `json:"summary"`

	HasSpeech      bool      `json:"-"`
	HasDiarization bool      `json:"-"`
	ProbedAt       time.Time `json:"-"`
}

type PythonInfo struct {
	Version    string `json:"version"`
	Executable string `json:"executable"`
}

// DepInfo represents the availability status of a single dependency.
type DepInfo struct {
	Available bool   `json:"available"`
	Version   string `json:"version,omitempty"`
	Path      string `json:"path,omitempty"`
	Error     string `json:"error,omitempty"`
}

type GPUInfo struct {
	CUDAAvailable bool   `json:"cuda_available"`
	DeviceCount   int    `json:"device_count,omitempty"`
	Error         string `json:"error,omitempty"`
}

type SummaryInfo struct {
	Available int  `json:"available"`
	Total     int  `json:"total"`
	AllOK     bool `json:"all_ok"`
}

// RunResult is the structured outcome of executing a pipeline subprocess.
type RunResult struct {
	ExitCode   int           `json:"exit_code"`
	OutputPath string        `json:"output_path,omitempty"` // path to the --out JSON file
	StderrTail string        `json:"stderr_tail,omitempty"` // last N bytes of stderr
	Duration   time.Duration `json:"duration"`
}

func (r RunResult) IsSuccess() bool { return r.ExitCode == 0 }

// PipelineOutput holds the metadata every output file must carry.
type PipelineOutput struct {
	SchemaVersion   string `json:"schema_version"`
	PipelineVersion string `json:"pipeline_version"`
	ModelVersion    string `json:"model_version"`
}

func (p PipelineOutput) RequiredFieldsPresent() bool {
	return p.SchemaVersion != "" && p.PipelineVersion != "" && p.ModelVersion != ""
}

// SpeechOutput is the speech pipeline's result file.
type SpeechOutput struct {
	PipelineOutput
	Language   string       `json:"language"`
	DurationMs int64        `json:"duration_ms"`
	Words      []SpeechWord `json:"words"`
}

// SpeechWord is one recognized token with millisecond timing.
type SpeechWord struct {
	Text       string   `json:"text"`
	StartMs    int64    `json:"start_ms"`
	EndMs      int64    `json:"end_ms"`
	Confidence *float64 `json:"confidence,omitempty"`
	Speaker    string   `json:"speaker,omitempty"`
}

// CheckWords rejects timings the segmenter cannot use.
func (o *SpeechOutput) CheckWords() error {
	for i, w := range o.Words {
		if w.StartMs < 0 || w.EndMs < w.StartMs {
			return fmt.Errorf("word %d has invalid span [%d, %d)", i, w.StartMs, w.EndMs)
		}
		if w.Confidence != nil && (*w.Confidence < 0 || *w.Confidence > 1) {
			return fmt.Errorf("word %d confidence %.3f outside [0, 1]", i, *w.Confidence)
		}
	}
	return nil
}
