package endpoint

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Clickin/querygate/errors"
)

// ReloadFunc is invoked with the changed file path after the debounce
// window closes. Errors are logged, never fatal; the previously published
// state stays in effect.
type ReloadFunc func(path string) error

// Watcher observes configuration files and triggers debounced reloads.
// Parent directories are watched rather than the files themselves so that
// atomic rename-over-write (the common editor and orchestrator pattern)
// still produces events.
type Watcher struct {
	logger   *slog.Logger
	debounce time.Duration

	mu      sync.Mutex
	targets map[string]ReloadFunc // absolute file path -> reload callback
	timers  map[string]*time.Timer

	fsw        *fsnotify.Watcher
	shutdownCh chan struct{}
	wg         sync.WaitGroup
	started    atomic.Bool
	stopped    atomic.Bool
}

// NewWatcher creates a watcher with the given debounce window.
func NewWatcher(logger *slog.Logger, debounce time.Duration) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	if debounce <= 0 {
		debounce = 100 * time.Millisecond
	}
	return &Watcher{
		logger:     logger,
		debounce:   debounce,
		targets:    make(map[string]ReloadFunc),
		timers:     make(map[string]*time.Timer),
		shutdownCh: make(chan struct{}),
	}
}

// Watch registers a file for change notification. Must be called before
// Start.
func (w *Watcher) Watch(path string, reload ReloadFunc) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return errors.Wrap(err, "Watcher", "Watch", "resolve path")
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.targets[abs] = reload
	return nil
}

// Start begins observing the parent directories of all registered files.
func (w *Watcher) Start(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return errors.ErrAlreadyStarted
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "Watcher", "Start", "create file watcher")
	}
	w.fsw = fsw

	dirs := make(map[string]bool)
	w.mu.Lock()
	for path := range w.targets {
		dirs[filepath.Dir(path)] = true
	}
	w.mu.Unlock()

	for dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			_ = fsw.Close()
			return errors.Wrap(err, "Watcher", "Start", "watch directory")
		}
		w.logger.Debug("watching directory", "dir", dir)
	}

	w.wg.Add(1)
	go w.processEvents(ctx)

	w.logger.Info("configuration watcher started",
		"files", len(w.targets), "debounce", w.debounce)
	return nil
}

// Stop shuts the watcher down, waiting up to timeout for the event loop.
func (w *Watcher) Stop(timeout time.Duration) error {
	if !w.stopped.CompareAndSwap(false, true) {
		return nil
	}

	close(w.shutdownCh)
	if w.fsw != nil {
		_ = w.fsw.Close()
	}

	w.mu.Lock()
	for path, timer := range w.timers {
		timer.Stop()
		delete(w.timers, path)
	}
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		w.logger.Warn("watcher shutdown timeout", "timeout", timeout)
	}
	return nil
}

func (w *Watcher) processEvents(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdownCh:
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			abs, err := filepath.Abs(event.Name)
			if err != nil {
				continue
			}
			w.mu.Lock()
			reload, watched := w.targets[abs]
			w.mu.Unlock()
			if !watched {
				continue
			}
			w.scheduleReload(abs, reload)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("file watcher error", "error", err)
		}
	}
}

// scheduleReload starts or resets the per-file debounce timer. Bursts of
// events within the window collapse into one reload.
func (w *Watcher) scheduleReload(path string, reload ReloadFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, ok := w.timers[path]; ok {
		timer.Reset(w.debounce)
		return
	}

	w.timers[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()

		if w.stopped.Load() {
			return
		}

		w.logger.Info("configuration change detected", "path", path)
		if err := reload(path); err != nil {
			w.logger.Error("configuration reload failed, keeping previous state",
				"path", path, "error", err)
			return
		}
		w.logger.Info("configuration reloaded", "path", path)
	})
}
