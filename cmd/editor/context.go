package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/heimdex/heimdex-editor/internal/autopilot"
	"github.com/heimdex/heimdex-editor/internal/config"
	"github.com/heimdex/heimdex-editor/internal/db"
	"github.com/heimdex/heimdex-editor/internal/logging"
	"github.com/heimdex/heimdex-editor/internal/project"
	"github.com/heimdex/heimdex-editor/internal/revision"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.EnvConfig
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.EnvConfig, error) {
	c.configOnce.Do(func() {
		path := os.Getenv(config.EnvConfigFile)
		if c.configFlag != nil && strings.TrimSpace(*c.configFlag) != "" {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := os.MkdirAll(cfg.DataDir(), 0o755); err != nil {
			c.configErr = fmt.Errorf("create data dir: %w", err)
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// engine is the set of services a command works against.
type engine struct {
	cfg      *config.EnvConfig
	db       *db.DB
	repo     project.Repository
	codec    *revision.Codec
	projects *project.Service
	macros   *autopilot.MacroPlanner
	pilot    *autopilot.Orchestrator
	logger   *slog.Logger
	lock     *flock.Flock
}

// openEngine opens the database. Commands that write take the data dir lock
// first so they never race a running server.
func (c *commandContext) openEngine(cmd *cobra.Command, write bool) (*engine, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger := logging.WithComponent(logging.NewLoggerTo(cmd.ErrOrStderr(), cfg.LogLevel()), "cli")

	var lock *flock.Flock
	if write {
		lock = flock.New(cfg.LockPath())
		ok, err := lock.TryLock()
		if err != nil {
			return nil, fmt.Errorf("acquire lock: %w", err)
		}
		if !ok {
			return nil, fmt.Errorf("data dir %s is locked by a running server; use the HTTP API instead", cfg.DataDir())
		}
	}

	e, err := buildEngine(cfg, logger)
	if err != nil {
		if lock != nil {
			_ = lock.Unlock()
		}
		return nil, err
	}
	e.lock = lock
	return e, nil
}

func buildEngine(cfg *config.EnvConfig, logger *slog.Logger) (*engine, error) {
	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	codec, err := revision.NewCodec(cfg.SnapshotCompressionLevel())
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("snapshot codec: %w", err)
	}

	repo := project.NewRepository(database.Conn())
	svc := project.NewService(repo, codec, project.Options{
		Segmentation:           cfg.Segmentation(),
		MinConfidenceForRipple: cfg.MinConfidenceForRipple(),
	}, logger)

	macros := autopilot.NewMacroPlanner(logger)
	if err := macros.Reload(cfg.MacrosDir()); err != nil {
		logger.Warn("using built-in macros only", "error", err)
	}
	pilot := autopilot.NewOrchestrator(svc, autopilot.NewStore(database.Conn()), macros, codec, cfg.MinPlanConfidence(), logger)

	return &engine{
		cfg:      cfg,
		db:       database,
		repo:     repo,
		codec:    codec,
		projects: svc,
		macros:   macros,
		pilot:    pilot,
		logger:   logger,
	}, nil
}

func (e *engine) Close() error {
	err := e.db.Close()
	if e.lock != nil {
		if uerr := e.lock.Unlock(); uerr != nil && err == nil {
			err = uerr
		}
	}
	return err
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
