package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/heimdex/heimdex-editor/internal/api"
	"github.com/heimdex/heimdex-editor/internal/autopilot"
	"github.com/heimdex/heimdex-editor/internal/config"
	"github.com/heimdex/heimdex-editor/internal/logging"
	"github.com/heimdex/heimdex-editor/internal/pipelines"
	"github.com/heimdex/heimdex-editor/internal/project"
	"github.com/heimdex/heimdex-editor/internal/watcher"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the local HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return serve(cmd, cfg)
		},
	}
}

func serve(cmd *cobra.Command, cfg *config.EnvConfig) error {
	startTime := time.Now()
	logger := logging.NewLogger(cfg.LogLevel())
	logger.Info("starting heimdex editor", "version", config.Version, "data_dir", logging.SanitizePath(cfg.DataDir()))

	lock := flock.New(cfg.LockPath())
	ok, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("another editor is already serving %s", cfg.DataDir())
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			logger.Warn("failed to release lock", "error", err)
		}
	}()

	e, err := buildEngine(cfg, logger)
	if err != nil {
		return err
	}
	defer e.Close()

	authToken, err := ensureAuthToken(e.repo)
	if err != nil {
		return fmt.Errorf("failed to ensure auth token: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  API URL:    http://127.0.0.1:%d\n", cfg.Port())
	fmt.Fprintf(out, "  Auth Token: %s\n", authToken)
	fmt.Fprintln(out)

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pipeCfg := pipelines.Config{
		PythonPath:    cfg.PipelinesPython(),
		ModuleName:    cfg.PipelinesModule(),
		ArtifactsBase: cfg.ArtifactsDir(),
		DoctorTimeout: cfg.PipelinesTimeoutDoctor(),
		SpeechTimeout: cfg.PipelinesTimeoutSpeech(),
		Logger:        logger,
	}

	var pipeRunner pipelines.Runner
	var doctor *pipelines.CachedDoctor

	pr, err := pipelines.NewRunner(pipeCfg)
	if err != nil {
		logger.Warn("speech runner unavailable, transcription disabled", "error", err)
	} else {
		pipeRunner = pr
		doctor = pipelines.NewCachedDoctor(pr, logger)

		initCtx, initCancel := context.WithTimeout(runCtx, pipeCfg.DoctorTimeout)
		if caps, err := doctor.Refresh(initCtx); err != nil {
			logger.Warn("initial doctor probe failed", "error", err)
		} else {
			logger.Info("pipeline capabilities detected",
				"speech", caps.HasSpeech,
				"diarization", caps.HasDiarization,
				"deps", fmt.Sprintf("%d/%d", caps.Summary.Available, caps.Summary.Total),
			)
		}
		initCancel()
	}

	runner := project.NewRunner(e.projects, pipeRunner, doctor, logging.WithComponent(logger, "runner"))
	go runner.Start(runCtx)

	if dir := cfg.MacrosDir(); dir != "" {
		w := watchMacros(runCtx, dir, e.macros, logger)
		if w != nil {
			defer w.Stop()
		}
	}

	apiServer := api.NewServer(api.ServerConfig{
		Port:       cfg.Port(),
		Projects:   e.projects,
		Autopilot:  e.pilot,
		Macros:     e.macros,
		Repository: e.repo,
		Runner:     runner,
		Doctor:     doctor,
		Logger:     logger,
		StartTime:  startTime,
		Version:    config.Version,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- apiServer.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var serveErr error
	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
	case serveErr = <-errCh:
		if serveErr != nil {
			logger.Error("HTTP server error", "error", serveErr)
		}
	}

	logger.Info("initiating graceful shutdown")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}

	logger.Info("shutdown complete")
	return serveErr
}

// watchMacros reloads the macro set whenever a macro file in dir changes.
func watchMacros(ctx context.Context, dir string, macros *autopilot.MacroPlanner, logger *slog.Logger) *watcher.FSWatcher {
	logger = logging.WithComponent(logger, "macros")
	w := watcher.NewFSWatcher(logger, watcher.DefaultDebounce, func(path string) bool {
		return autopilot.IsMacroFile(filepath.Base(path))
	})
	w.OnChange(func(path string, event watcher.EventType) {
		logger.Info("macro file changed", "path", logging.SanitizePath(path), "event", event.String())
		_ = macros.Reload(dir)
	})
	if err := w.Watch(ctx, dir); err != nil {
		logger.Warn("macro directory not watched", "dir", dir, "error", err)
		return nil
	}
	return w
}

func ensureAuthToken(repo project.Repository) (string, error) {
	ctx := context.Background()

	existing, err := repo.GetConfig(ctx, "auth_token")
	if err == nil && existing != "" {
		return existing, nil
	}

	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", err
	}
	token := hex.EncodeToString(tokenBytes)

	if err := repo.SetConfig(ctx, "auth_token", token); err != nil {
		return "", err
	}

	return token, nil
}
