// Package config provides configuration management for the editor service.
// Values come from built-in defaults, then an optional TOML file, then
// environment variables.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/heimdex/heimdex-editor/internal/transcript"
)

//go:embed sample_config.toml
var sampleConfig string

const (
	// Default values
	DefaultPort     = 8787
	DefaultLogLevel = "info"
	DefaultDataDir  = ".heimdex-editor"

	// Environment variable names
	EnvPort       = "HEIMDEX_PORT"
	EnvLogLevel   = "HEIMDEX_LOG_LEVEL"
	EnvDataDir    = "HEIMDEX_DATA_DIR"
	EnvConfigFile = "HEIMDEX_CONFIG"

	// Pipeline environment variable names
	EnvPipelinesPython = "HEIMDEX_PIPELINES_PYTHON"
	EnvPipelinesModule = "HEIMDEX_PIPELINES_MODULE"

	// Database filename
	DBFilename   = "editor.db"
	LockFilename = "editor.lock"

	// Editor defaults
	DefaultMinConfidenceForRipple   = 0.86
	DefaultMinPlanConfidence        = 0.6
	DefaultSnapshotCompressionLevel = 3

	// Pipeline defaults
	DefaultPipelinesModule        = "heimdex_media_pipelines"
	DefaultPipelinesTimeoutDoctor = 30   // seconds
	DefaultPipelinesTimeoutSpeech = 1800 // 30 minutes
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	DataDir() string
	DBPath() string
	LockPath() string
	ArtifactsDir() string
	ConfigFile() string
	PipelinesPython() string
	PipelinesModule() string
	PipelinesTimeoutDoctor() time.Duration
	PipelinesTimeoutSpeech() time.Duration
	MinConfidenceForRipple() float64
	MinPlanConfidence() float64
	SnapshotCompressionLevel() int
	MacrosDir() string
	Segmentation() transcript.Options
}

// File is the on-disk TOML layout. Zero values mean "use the default".
type File struct {
	Server       Server             `toml:"server"`
	Editor       Editor             `toml:"editor"`
	Segmentation transcript.Options `toml:"segmentation"`
	Pipelines    Pipelines          `toml:"pipelines"`
}

type Server struct {
	Port     int    `toml:"port"`
	LogLevel string `toml:"log_level"`
	DataDir  string `toml:"data_dir"`
}

type Editor struct {
	MinConfidenceForRipple   float64 `toml:"min_confidence_for_ripple"`
	MinPlanConfidence        float64 `toml:"min_plan_confidence"`
	SnapshotCompressionLevel int     `toml:"snapshot_compression_level"`
	MacrosDir                string  `toml:"macros_dir"`
}

type Pipelines struct {
	Python               string `toml:"python"`
	Module               string `toml:"module"`
	DoctorTimeoutSeconds int    `toml:"doctor_timeout_seconds"`
	SpeechTimeoutSeconds int    `toml:"speech_timeout_seconds"`
}

// EnvConfig is the resolved configuration.
type EnvConfig struct {
	port       int
	logLevel   string
	dataDir    string
	configFile string

	pipelinesPython string
	pipelinesModule string
	doctorTimeout   time.Duration
	speechTimeout   time.Duration

	minConfidenceForRipple   float64
	minPlanConfidence        float64
	snapshotCompressionLevel int
	macrosDir                string
	segmentation             transcript.Options
}

// New loads the file named by HEIMDEX_CONFIG, if any, and applies
// environment overrides.
func New() (*EnvConfig, error) {
	return Load(os.Getenv(EnvConfigFile))
}

// Load reads path (empty means no file) and applies environment overrides.
// A path that does not exist is an error; a missing default is not.
func Load(path string) (*EnvConfig, error) {
	cfg := &EnvConfig{
		port:                     DefaultPort,
		logLevel:                 DefaultLogLevel,
		dataDir:                  defaultDataDir(),
		doctorTimeout:            DefaultPipelinesTimeoutDoctor * time.Second,
		speechTimeout:            DefaultPipelinesTimeoutSpeech * time.Second,
		minConfidenceForRipple:   DefaultMinConfidenceForRipple,
		minPlanConfidence:        DefaultMinPlanConfidence,
		snapshotCompressionLevel: DefaultSnapshotCompressionLevel,
		segmentation:             transcript.DefaultOptions(),
	}

	if path != "" {
		expanded, err := ExpandPath(path)
		if err != nil {
			return nil, err
		}
		f, err := readFile(expanded)
		if err != nil {
			return nil, err
		}
		if err := cfg.overlay(f); err != nil {
			return nil, fmt.Errorf("config %s: %w", expanded, err)
		}
		cfg.configFile = expanded
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func readFile(path string) (File, error) {
	var f File
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return f, fmt.Errorf("config file %s does not exist", path)
		}
		return f, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := toml.NewDecoder(file)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&f); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return f, fmt.Errorf("parse config: %s", strings.TrimSpace(strict.String()))
		}
		return f, fmt.Errorf("parse config: %w", err)
	}
	return f, nil
}

func (c *EnvConfig) overlay(f File) error {
	if f.Server.Port != 0 {
		c.port = f.Server.Port
	}
	if f.Server.LogLevel != "" {
		c.logLevel = f.Server.LogLevel
	}
	if f.Server.DataDir != "" {
		dir, err := ExpandPath(f.Server.DataDir)
		if err != nil {
			return err
		}
		c.dataDir = dir
	}

	if f.Editor.MinConfidenceForRipple != 0 {
		c.minConfidenceForRipple = f.Editor.MinConfidenceForRipple
	}
	if f.Editor.MinPlanConfidence != 0 {
		c.minPlanConfidence = f.Editor.MinPlanConfidence
	}
	if f.Editor.SnapshotCompressionLevel != 0 {
		c.snapshotCompressionLevel = f.Editor.SnapshotCompressionLevel
	}
	if f.Editor.MacrosDir != "" {
		dir, err := ExpandPath(f.Editor.MacrosDir)
		if err != nil {
			return err
		}
		c.macrosDir = dir
	}

	seg := f.Segmentation
	if seg.MaxWordsPerSegment != 0 {
		c.segmentation.MaxWordsPerSegment = seg.MaxWordsPerSegment
	}
	if seg.MaxCharsPerLine != 0 {
		c.segmentation.MaxCharsPerLine = seg.MaxCharsPerLine
	}
	if seg.MaxLinesPerSegment != 0 {
		c.segmentation.MaxLinesPerSegment = seg.MaxLinesPerSegment
	}
	if seg.MaxGapMs != 0 {
		c.segmentation.MaxGapMs = seg.MaxGapMs
	}

	c.pipelinesPython = f.Pipelines.Python
	c.pipelinesModule = f.Pipelines.Module
	if f.Pipelines.DoctorTimeoutSeconds > 0 {
		c.doctorTimeout = time.Duration(f.Pipelines.DoctorTimeoutSeconds) * time.Second
	}
	if f.Pipelines.SpeechTimeoutSeconds > 0 {
		c.speechTimeout = time.Duration(f.Pipelines.SpeechTimeoutSeconds) * time.Second
	}
	return nil
}

func (c *EnvConfig) applyEnv() error {
	// Override port from environment
	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		c.port = port
	}

	if ll := os.Getenv(EnvLogLevel); ll != "" {
		c.logLevel = ll
	}

	if dd := os.Getenv(EnvDataDir); dd != "" {
		c.dataDir = dd
	}

	if py := os.Getenv(EnvPipelinesPython); py != "" {
		c.pipelinesPython = py
	}
	if pm := os.Getenv(EnvPipelinesModule); pm != "" {
		c.pipelinesModule = pm
	}
	return nil
}

// Validate rejects values the services cannot run with.
func (c *EnvConfig) Validate() error {
	var problems []string
	if c.port < 1 || c.port > 65535 {
		problems = append(problems, "port must be between 1 and 65535")
	}
	if c.minConfidenceForRipple <= 0 || c.minConfidenceForRipple > 1 {
		problems = append(problems, "editor.min_confidence_for_ripple must be in (0, 1]")
	}
	if c.minPlanConfidence < 0 || c.minPlanConfidence > 1 {
		problems = append(problems, "editor.min_plan_confidence must be in [0, 1]")
	}
	if c.snapshotCompressionLevel < 1 || c.snapshotCompressionLevel > 22 {
		problems = append(problems, "editor.snapshot_compression_level must be between 1 and 22")
	}
	seg := c.segmentation
	if seg.MaxWordsPerSegment < 1 || seg.MaxCharsPerLine < 1 || seg.MaxLinesPerSegment < 1 || seg.MaxGapMs < 0 {
		problems = append(problems, "segmentation limits must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

// LockPath is the file the server holds an exclusive lock on.
func (c *EnvConfig) LockPath() string {
	return filepath.Join(c.dataDir, LockFilename)
}

func (c *EnvConfig) ArtifactsDir() string {
	return filepath.Join(c.dataDir, "artifacts")
}

// ConfigFile is the TOML file that was loaded, or "".
func (c *EnvConfig) ConfigFile() string {
	return c.configFile
}

func (c *EnvConfig) PipelinesPython() string {
	return c.pipelinesPython
}

func (c *EnvConfig) PipelinesModule() string {
	if c.pipelinesModule != "" {
		return c.pipelinesModule
	}
	return DefaultPipelinesModule
}

func (c *EnvConfig) PipelinesTimeoutDoctor() time.Duration {
	return c.doctorTimeout
}

func (c *EnvConfig) PipelinesTimeoutSpeech() time.Duration {
	return c.speechTimeout
}

func (c *EnvConfig) MinConfidenceForRipple() float64 {
	return c.minConfidenceForRipple
}

func (c *EnvConfig) MinPlanConfidence() float64 {
	return c.minPlanConfidence
}

func (c *EnvConfig) SnapshotCompressionLevel() int {
	return c.snapshotCompressionLevel
}

// MacrosDir is the directory of user macro files; empty disables loading.
func (c *EnvConfig) MacrosDir() string {
	return c.macrosDir
}

func (c *EnvConfig) Segmentation() transcript.Options {
	return c.segmentation
}

// ExpandPath resolves a leading ~ and makes the path absolute.
func ExpandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return "", nil
	}
	if pathValue == "~" || strings.HasPrefix(pathValue, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		pathValue = filepath.Join(home, strings.TrimPrefix(pathValue, "~"))
	}
	abs, err := filepath.Abs(pathValue)
	if err != nil {
		return "", fmt.Errorf("resolve path %s: %w", pathValue, err)
	}
	return abs, nil
}

// CreateSample writes the commented sample configuration to path. It
// refuses to overwrite an existing file.
func CreateSample(path string) error {
	expanded, err := ExpandPath(path)
	if err != nil {
		return err
	}
	if _, err := os.Stat(expanded); err == nil {
		return fmt.Errorf("config file %s already exists", expanded)
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(expanded, []byte(sampleConfig), 0644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
