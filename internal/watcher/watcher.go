// Package watcher implements the Watcher component: an event-driven plus
// polling detection layer over the vault directory, emitting QueueEvents.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/kdyer/vaultrelay/internal/queue"
	"github.com/kdyer/vaultrelay/internal/turn"
)

// Watcher watches vaultDir for task file changes and emits QueueEvents.
type Watcher struct {
	vaultDir         string
	stabilityTimeout time.Duration
	pollInterval     time.Duration
	settleDelay      time.Duration
	events           *queue.EventQueue
	log              *zap.Logger

	fsw *fsnotify.Watcher

	mu          sync.Mutex
	debounceMap map[string]time.Time
	running     bool
	stopCh      chan struct{}
	doneCh      chan struct{}
}

// Config controls Watcher timing.
type Config struct {
	VaultDir         string
	StabilityTimeout time.Duration
	PollInterval     time.Duration
	SettleDelay      time.Duration
}

// New constructs a Watcher. Callers must call Start to begin watching.
func New(cfg Config, events *queue.EventQueue, log *zap.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		vaultDir:         cfg.VaultDir,
		stabilityTimeout: cfg.StabilityTimeout,
		pollInterval:     cfg.PollInterval,
		settleDelay:      cfg.SettleDelay,
		events:           events,
		log:              log,
		fsw:              fsw,
		debounceMap:      make(map[string]time.Time),
		stopCh:           make(chan struct{}),
		doneCh:           make(chan struct{}),
	}, nil
}

// Start begins watching in a background goroutine. Non-blocking.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := os.MkdirAll(w.vaultDir, 0o755); err != nil {
		w.log.Warn("failed to create vault dir", zap.Error(err))
	}

	if err := w.addTaskDirs(); err != nil {
		w.log.Warn("initial watch setup failed", zap.Error(err))
	}

	go w.run(ctx)
	return nil
}

// Stop halts the watcher and waits for its goroutine to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
	_ = w.fsw.Close()
}

func (w *Watcher) addTaskDirs() error {
	entries, err := os.ReadDir(w.vaultDir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if !e.IsDir() || skipDir(e.Name()) {
			continue
		}
		_ = w.fsw.Add(filepath.Join(w.vaultDir, e.Name()))
	}
	return nil
}

func skipDir(name string) bool {
	return strings.HasPrefix(name, ".")
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	debounceTicker := time.NewTicker(100 * time.Millisecond)
	defer debounceTicker.Stop()

	pollTicker := time.NewTicker(w.pollInterval)
	defer pollTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("fsnotify error", zap.Error(err))
		case <-debounceTicker.C:
			w.processSettled(ctx)
		case <-pollTicker.C:
			if err := w.pollOnce(ctx); err != nil {
				w.log.Warn("poll scan failed", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !strings.HasSuffix(event.Name, ".md") {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return
	}
	if shouldSkipFile(w.vaultDir, event.Name) {
		return
	}

	w.mu.Lock()
	w.debounceMap[event.Name] = time.Now()
	w.mu.Unlock()
}

func (w *Watcher) processSettled(ctx context.Context) {
	w.mu.Lock()
	now := time.Now()
	var ready []string
	for path, seen := range w.debounceMap {
		if now.Sub(seen) >= w.settleDelay {
			ready = append(ready, path)
			delete(w.debounceMap, path)
		}
	}
	w.mu.Unlock()

	for _, path := range ready {
		w.evaluate(path)
	}
	_ = ctx
}

// pollOnce scans every task directory for candidate files, independent of
// fsnotify events, as a fallback for filesystems that don't deliver
// reliable close-after-write notifications.
func (w *Watcher) pollOnce(ctx context.Context) error {
	entries, err := os.ReadDir(w.vaultDir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if !e.IsDir() || skipDir(e.Name()) {
			continue
		}
		taskDir := filepath.Join(w.vaultDir, e.Name())
		latest, ok, err := turn.LatestFile(taskDir)
		if err != nil || !ok {
			continue
		}
		w.evaluate(latest.Path)
	}
	_ = ctx
	return nil
}

// evaluate runs TurnDetector against the file at path (pollOnce passes
// each task's latest file) and queues the appropriate event.
func (w *Watcher) evaluate(path string) {
	taskDir := filepath.Dir(path)
	taskName := filepath.Base(taskDir)
	filename := filepath.Base(path)

	if _, err := os.Stat(path); err != nil {
		return
	}

	stop, err := turn.DetectStop(taskDir, filename)
	if err != nil {
		w.log.Warn("detect_stop failed", zap.String("task", taskName), zap.Error(err))
		return
	}
	if stop {
		if err := w.events.Write(queue.KindStopSignal, taskName, filename, ""); err != nil {
			w.log.Warn("failed to queue stop_signal", zap.Error(err))
		}
		return
	}

	kind, err := turn.Classify(taskDir, filename)
	if err != nil {
		w.log.Warn("classify failed", zap.String("task", taskName), zap.Error(err))
		return
	}
	if kind == turn.KindBackend {
		return
	}

	ready, err := turn.IsReady(taskDir, filename, w.stabilityTimeout)
	if err != nil {
		w.log.Warn("is_ready failed", zap.String("task", taskName), zap.Error(err))
		return
	}
	if !ready {
		return
	}

	if err := w.events.Write(queue.KindFileReady, taskName, filename, ""); err != nil {
		w.log.Warn("failed to queue file_ready", zap.Error(err))
	}
}

// shouldSkipFile applies the vault-root/_status.md/hidden-directory skip
// rules.
func shouldSkipFile(vaultDir, path string) bool {
	rel, err := filepath.Rel(vaultDir, path)
	if err != nil {
		return true
	}
	parts := strings.Split(rel, string(filepath.Separator))
	if len(parts) < 2 {
		// Directly under the vault root: no task directory.
		return true
	}
	if filepath.Base(path) == "_status.md" {
		return true
	}
	for _, part := range parts[:len(parts)-1] {
		if strings.HasPrefix(part, ".") {
			return true
		}
	}
	return false
}
