package pipelines

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const defaultCacheTTL = 5 * time.Minute

var ErrSpeechUnavailable = errors.New("speech recognition not available")

// CachedDoctor memoizes doctor probes so queued transcription jobs do not
// each spawn a probe subprocess.
type CachedDoctor struct {
	runner Runner
	ttl    time.Duration
	logger *slog.Logger

	mu     sync.RWMutex
	cached *Capabilities
}

func NewCachedDoctor(runner Runner, logger *slog.Logger) *CachedDoctor {
	return &CachedDoctor{runner: runner, ttl: defaultCacheTTL, logger: logger}
}

// Get returns the cached capabilities while fresh, otherwise probes again.
func (d *CachedDoctor) Get(ctx context.Context) (*Capabilities, error) {
	d.mu.RLock()
	caps := d.cached
	d.mu.RUnlock()
	if caps != nil && time.Since(caps.ProbedAt) < d.ttl {
		return caps, nil
	}
	return d.Refresh(ctx)
}

// Refresh probes unconditionally. A failed probe falls back to the stale
// cache when one exists.
func (d *CachedDoctor) Refresh(ctx context.Context) (*Capabilities, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	caps, err := d.runner.RunDoctor(ctx)
	if err != nil {
		if d.logger != nil {
			d.logger.Warn("doctor probe failed", "error", err, "stale_cache", d.cached != nil)
		}
		if d.cached != nil {
			return d.cached, nil
		}
		return nil, err
	}
	d.cached = caps
	return caps, nil
}

// RequireSpeech fails unless the last fresh probe reports a working speech
// pipeline.
func (d *CachedDoctor) RequireSpeech(ctx context.Context) error {
	caps, err := d.Get(ctx)
	if err != nil {
		return fmt.Errorf("doctor probe failed: %w", err)
	}
	if !caps.HasSpeech {
		return ErrSpeechUnavailable
	}
	return nil
}

// Invalidate drops the cached probe so the next job probes again, used after
// a speech run fails in a way the probe did not predict.
func (d *CachedDoctor) Invalidate() {
	d.mu.Lock()
	d.cached = nil
	d.mu.Unlock()
}
