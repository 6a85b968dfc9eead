package pipelines

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const maxStderrBytes = 8 * 1024

// Runner is the transcription collaborator contract.
type Runner interface {
	// RunDoctor executes `python -m <module> doctor --json --out <path>`.
	RunDoctor(ctx context.Context) (*Capabilities, error)

	// RunSpeech transcribes mediaPath with word timestamps into outPath.
	RunSpeech(ctx context.Context, mediaPath, language, outPath string) (RunResult, error)

	// ReadSpeech parses and checks a speech result file.
	ReadSpeech(path string) (*SpeechOutput, error)

	ArtifactsDir() string
}

type Config struct {
	PythonPath    string // empty = auto-detect
	ModuleName    string
	ArtifactsBase string
	DoctorTimeout time.Duration
	SpeechTimeout time.Duration
	Logger        *slog.Logger
	DebugPaths    bool // log full file paths instead of sanitised ones
}

func DefaultConfig(dataDir string, logger *slog.Logger) Config {
	return Config{
		ModuleName:    "heimdex_media_pipelines",
		ArtifactsBase: filepath.Join(dataDir, "artifacts"),
		DoctorTimeout: 30 * time.Second,
		SpeechTimeout: 30 * time.Minute,
		Logger:        logger,
	}
}

// SubprocessRunner is the production Runner.
type SubprocessRunner struct {
	cfg    Config
	python string
}

func NewRunner(cfg Config) (*SubprocessRunner, error) {
	python, err := resolvePython(cfg.PythonPath)
	if err != nil {
		return nil, fmt.Errorf("cannot locate python: %w", err)
	}
	if err := os.MkdirAll(cfg.ArtifactsBase, 0755); err != nil {
		return nil, fmt.Errorf("cannot create artifacts dir: %w", err)
	}

	r := &SubprocessRunner{cfg: cfg, python: python}
	r.log().Info("speech runner initialised",
		"python", python,
		"module", cfg.ModuleName,
		"artifacts_dir", r.safePath(cfg.ArtifactsBase),
	)
	return r, nil
}

func (r *SubprocessRunner) log() *slog.Logger {
	if r.cfg.Logger == nil {
		return slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return r.cfg.Logger
}

func (r *SubprocessRunner) ArtifactsDir() string {
	return r.cfg.ArtifactsBase
}

func (r *SubprocessRunner) RunDoctor(ctx context.Context) (*Capabilities, error) {
	outPath := filepath.Join(r.cfg.ArtifactsBase, ".doctor.json")

	ctx, cancel := context.WithTimeout(ctx, r.cfg.DoctorTimeout)
	defer cancel()

	result := r.exec(ctx, outPath, "doctor", "--json", "--out", outPath)
	if !result.IsSuccess() {
		return nil, fmt.Errorf("doctor exited %d: %s", result.ExitCode, truncate(result.StderrTail, 512))
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("cannot read doctor output: %w", err)
	}
	var caps Capabilities
	if err := json.Unmarshal(data, &caps); err != nil {
		return nil, fmt.Errorf("cannot parse doctor JSON: %w", err)
	}

	caps.HasSpeech = isAvailable(caps.Dependencies, "whisper") && isAvailable(caps.Executables, "ffmpeg")
	caps.HasDiarization = caps.HasSpeech && isAvailable(caps.Dependencies, "pyannote")
	caps.ProbedAt = time.Now()

	r.log().Info("doctor probe complete",
		"speech", caps.HasSpeech,
		"diarization", caps.HasDiarization,
		"deps_available", caps.Summary.Available,
		"deps_total", caps.Summary.Total,
	)
	return &caps, nil
}

func (r *SubprocessRunner) RunSpeech(ctx context.Context, mediaPath, language, outPath string) (RunResult, error) {
	if mediaPath == "" {
		return RunResult{}, errors.New("media path is required")
	}
	ctx, cancel := context.WithTimeout(ctx, r.cfg.SpeechTimeout)
	defer cancel()

	args := []string{"speech", "transcribe", "--media", mediaPath, "--word-timestamps", "--out", outPath}
	if language != "" {
		args = append(args, "--language", language)
	}
	return r.exec(ctx, outPath, args...), nil
}

func (r *SubprocessRunner) ReadSpeech(path string) (*SpeechOutput, error) {
	return readSpeech(path, r.safePath(path))
}

func readSpeech(path, display string) (*SpeechOutput, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read output file %s: %w", display, err)
	}

	var out SpeechOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("cannot parse output JSON: %w", err)
	}
	if !out.RequiredFieldsPresent() {
		var missing []string
		if out.SchemaVersion == "" {
			missing = append(missing, "schema_version")
		}
		if out.PipelineVersion == "" {
			missing = append(missing, "pipeline_version")
		}
		if out.ModelVersion == "" {
			missing = append(missing, "model_version")
		}
		return &out, fmt.Errorf("pipeline output missing required fields: %s", strings.Join(missing, ", "))
	}
	if err := out.CheckWords(); err != nil {
		return &out, err
	}
	return &out, nil
}

// exec runs one pipeline command, keeping a bounded tail of stderr.
func (r *SubprocessRunner) exec(ctx context.Context, outPath string, args ...string) RunResult {
	start := time.Now()
	logger := r.log()

	if outPath != "" {
		if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
			logger.Error("cannot create output dir", "error", err)
			return RunResult{ExitCode: -1, StderrTail: err.Error(), Duration: time.Since(start)}
		}
	}

	cmdArgs := append([]string{"-m", r.cfg.ModuleName}, args...)
	cmd := exec.CommandContext(ctx, r.python, cmdArgs...)

	var stderrBuf bytes.Buffer
	cmd.Stderr = &limitedWriter{w: &stderrBuf, limit: maxStderrBytes}
	cmd.Stdout = io.Discard // results go to --out

	logger.Info("executing pipeline command", "command", args[0])

	err := cmd.Run()
	elapsed := time.Since(start)

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	stderrTail := stderrBuf.String()
	if exitCode != 0 {
		logger.Warn("pipeline command failed",
			"exit_code", exitCode,
			"duration_ms", elapsed.Milliseconds(),
			"stderr_tail", truncate(stderrTail, 512),
		)
	} else {
		logger.Info("pipeline command succeeded",
			"duration_ms", elapsed.Milliseconds(),
			"output", r.safePath(outPath),
		)
	}

	return RunResult{
		ExitCode:   exitCode,
		OutputPath: outPath,
		StderrTail: stderrTail,
		Duration:   elapsed,
	}
}

func (r *SubprocessRunner) safePath(path string) string {
	if r.cfg.DebugPaths {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Base(path)
	}
	if strings.HasPrefix(path, home) {
		return "~" + path[len(home):]
	}
	return filepath.Base(path)
}

func resolvePython(preferred string) (string, error) {
	if preferred != "" {
		if p, err := exec.LookPath(preferred); err == nil {
			return p, nil
		}
		return "", fmt.Errorf("configured python %q not found", preferred)
	}
	for _, name := range []string{"python3", "python"} {
		if p, err := exec.LookPath(name); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("no python binary found on PATH (tried python3, python)")
}

func isAvailable(deps map[string]DepInfo, name string) bool {
	d, ok := deps[name]
	return ok && d.Available
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// limitedWriter keeps only the last limit bytes written to it.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		b := lw.w.Bytes()
		tail := append([]byte(nil), b[len(b)-lw.limit:]...)
		lw.w.Reset()
		lw.w.Write(tail)
	}
	return n, nil
}
