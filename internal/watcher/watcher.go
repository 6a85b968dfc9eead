// Package watcher reports debounced file changes in a directory.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

type Watcher interface {
	Watch(ctx context.Context, path string) error
	Stop() error
	OnChange(callback func(path string, event EventType))
}

type EventType int

const (
	EventCreate EventType = iota
	EventModify
	EventDelete
)

func (e EventType) String() string {
	switch e {
	case EventCreate:
		return "create"
	case EventModify:
		return "modify"
	case EventDelete:
		return "delete"
	}
	return "unknown"
}

const DefaultDebounce = 250 * time.Millisecond

var ErrStopped = errors.New("watcher stopped")

// FSWatcher watches one directory with fsnotify. Bursts of events for the
// same path collapse into a single callback after the debounce interval.
type FSWatcher struct {
	logger   *slog.Logger
	debounce time.Duration
	filter   func(path string) bool

	mu       sync.Mutex
	callback func(path string, event EventType)
	fsw      *fsnotify.Watcher
	timers   map[string]*time.Timer
	stopped  bool
}

// NewFSWatcher builds a watcher. filter, when non-nil, drops paths it
// rejects before debouncing.
func NewFSWatcher(logger *slog.Logger, debounce time.Duration, filter func(path string) bool) *FSWatcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &FSWatcher{
		logger:   logger,
		debounce: debounce,
		filter:   filter,
		timers:   make(map[string]*time.Timer),
	}
}

func (w *FSWatcher) OnChange(callback func(path string, event EventType)) {
	w.mu.Lock()
	w.callback = callback
	w.mu.Unlock()
}

// Watch starts watching path and returns once the watch is registered.
// Events are delivered until ctx is done or Stop is called.
func (w *FSWatcher) Watch(ctx context.Context, path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return ErrStopped
	}
	if w.fsw != nil {
		return w.fsw.Add(path)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := fsw.Add(path); err != nil {
		fsw.Close()
		return fmt.Errorf("failed to watch path %s: %w", path, err)
	}
	w.fsw = fsw

	if w.logger != nil {
		w.logger.Info("watching directory", "path", path, "debounce_ms", w.debounce.Milliseconds())
	}
	go w.loop(ctx, fsw)
	return nil
}

func (w *FSWatcher) loop(ctx context.Context, fsw *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			if w.logger != nil {
				w.logger.Warn("watcher error", "error", err)
			}
		}
	}
}

func (w *FSWatcher) handle(ev fsnotify.Event) {
	var kind EventType
	switch {
	case ev.Op&fsnotify.Create != 0:
		kind = EventCreate
	case ev.Op&fsnotify.Write != 0:
		kind = EventModify
	case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		kind = EventDelete
	default:
		return
	}
	if w.filter != nil && !w.filter(ev.Name) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	if t, ok := w.timers[ev.Name]; ok {
		t.Stop()
	}
	path := ev.Name
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, path)
		cb, stopped := w.callback, w.stopped
		w.mu.Unlock()
		if cb != nil && !stopped {
			cb(path, kind)
		}
	})
}

func (w *FSWatcher) Stop() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	for _, t := range w.timers {
		t.Stop()
	}
	w.timers = map[string]*time.Timer{}
	fsw := w.fsw
	w.mu.Unlock()

	if fsw == nil {
		return nil
	}
	if w.logger != nil {
		w.logger.Info("watcher stopped")
	}
	return fsw.Close()
}
