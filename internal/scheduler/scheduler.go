// Package scheduler implements the Scheduler component: a single
// threaded coordinator that drains the event queue, routes work to
// backends, admits it through the lock registry, and spawns invoker
// subprocesses with unbounded fan-out.
package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kdyer/vaultrelay/internal/audit"
	"github.com/kdyer/vaultrelay/internal/backend"
	"github.com/kdyer/vaultrelay/internal/config"
	"github.com/kdyer/vaultrelay/internal/continuation"
	"github.com/kdyer/vaultrelay/internal/invoker"
	"github.com/kdyer/vaultrelay/internal/lockreg"
	"github.com/kdyer/vaultrelay/internal/notify"
	"github.com/kdyer/vaultrelay/internal/procutil"
	"github.com/kdyer/vaultrelay/internal/queue"
	"github.com/kdyer/vaultrelay/internal/tokenstate"
	"github.com/kdyer/vaultrelay/internal/turn"
)

// Scheduler is the single-threaded control loop described by
// spec.md §4.10.
type Scheduler struct {
	cfg           *config.Config
	vaultDir      string
	stateDir      string
	events        *queue.EventQueue
	backends      *backend.Registry
	locks         *lockreg.Registry
	tokens        *tokenstate.Store
	journal       *audit.Journal
	continuations *continuation.Store
	invokers      map[string]invoker.Invoker
	notifier      notify.Notifier
	log           *zap.Logger

	retry *retryQueue

	mu                 sync.Mutex
	liveWorkers        sync.WaitGroup
	notifiedExhaustion map[string]bool
	stopCh             chan struct{}
	doneCh             chan struct{}
}

// Deps bundles everything the Scheduler needs, assembled at startup by
// the scheduler subcommand (buildSchedulerDeps in cmd/vaultrelay).
type Deps struct {
	Config        *config.Config
	Events        *queue.EventQueue
	Backends      *backend.Registry
	Locks         *lockreg.Registry
	Tokens        *tokenstate.Store
	Journal       *audit.Journal
	Continuations *continuation.Store
	Invokers      map[string]invoker.Invoker
	Notifier      notify.Notifier
	Logger        *zap.Logger
}

// New constructs a Scheduler from its dependencies.
func New(d Deps) *Scheduler {
	return &Scheduler{
		cfg:                d.Config,
		vaultDir:           d.Config.VaultTasksDir,
		stateDir:           d.Config.StateDir,
		events:             d.Events,
		backends:           d.Backends,
		locks:              d.Locks,
		tokens:             d.Tokens,
		journal:            d.Journal,
		continuations:      d.Continuations,
		invokers:           d.Invokers,
		notifier:           d.Notifier,
		log:                d.Logger,
		retry:              newRetryQueue(),
		notifiedExhaustion: make(map[string]bool),
		stopCh:             make(chan struct{}),
		doneCh:             make(chan struct{}),
	}
}

// Run executes the scheduler's main loop until ctx is cancelled or Stop
// is called. Blocking; callers run this in a goroutine.
func (s *Scheduler) Run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.cfg.SchedulerCycle)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.liveWorkers.Wait()
			return
		case <-s.stopCh:
			s.liveWorkers.Wait()
			return
		case <-ticker.C:
			s.cycle(ctx)
		}
	}
}

// Stop requests the main loop to exit after finishing in-flight workers.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

func (s *Scheduler) cycle(ctx context.Context) {
	events, err := s.events.Drain()
	if err != nil {
		s.log.Warn("drain failed", zap.Error(err))
	}
	for _, ev := range events {
		s.dispatch(ctx, ev)
	}

	for _, ev := range s.retry.drain() {
		s.dispatch(ctx, ev)
	}

	if n, err := s.locks.ReapStale(); err != nil {
		s.log.Warn("reap_stale failed", zap.Error(err))
	} else if n > 0 {
		s.log.Info("reaped stale locks", zap.Int("count", n))
	}
}

func (s *Scheduler) dispatch(ctx context.Context, ev queue.Event) {
	switch ev.Kind {
	case queue.KindFileReady:
		s.handleFileReady(ctx, ev)
	case queue.KindStopSignal:
		s.handleStopSignal(ev)
	default:
		s.log.Info("dropping unhandled event kind", zap.String("kind", string(ev.Kind)))
	}
}

func failureSentinelPath(stateDir, task, file string) string {
	return filepath.Join(stateDir, "failures", task, file+".failed")
}

// taskLink builds the vault:// link NotifyOptions.Link carries back to the
// originating task directory.
func taskLink(task string) string {
	return "vault://tasks/" + task
}

func (s *Scheduler) handleFileReady(ctx context.Context, ev queue.Event) {
	taskDir := filepath.Join(s.vaultDir, ev.Task)

	resumeSession := ""
	if strings.HasPrefix(ev.Metadata, "continuation:") {
		resumeSession = strings.TrimPrefix(ev.Metadata, "continuation:")
	}

	contents, err := os.ReadFile(filepath.Join(taskDir, ev.File))
	if err != nil {
		s.log.Warn("could not read file for complexity resolution", zap.String("task", ev.Task), zap.Error(err))
		return
	}
	complexity, err := s.backends.ResolveComplexity(ev.Task, contents)
	if err != nil {
		s.log.Warn("resolve_complexity failed", zap.String("task", ev.Task), zap.Error(err))
	}

	route := s.backends.Route(complexity)
	if route.Queued {
		if complexity == 3 && s.backends.IsExhausted("claude") {
			s.notifyExhaustionOnce("claude")
		}
		s.retry.push(ev)
		return
	}
	backendName := route.Backend

	if s.locks.Check(backendName, ev.Task) {
		return
	}
	sentinel := failureSentinelPath(s.stateDir, ev.Task, ev.File)
	if _, err := os.Stat(sentinel); err == nil {
		return
	}

	selfPID := os.Getpid()
	ok, err := s.locks.Acquire(backendName, ev.Task, selfPID)
	if err != nil {
		s.log.Warn("lock acquire failed", zap.String("task", ev.Task), zap.Error(err))
		return
	}
	if !ok {
		return
	}

	if s.cfg.DryRun {
		s.log.Info("dry_run: would invoke backend", zap.String("task", ev.Task), zap.String("backend", backendName))
		if err := s.locks.Release(backendName, ev.Task); err != nil {
			s.log.Warn("release after dry_run failed", zap.Error(err))
		}
		return
	}

	b, _ := s.backends.Get(backendName)
	if _, ok := s.invokers[backendName]; !ok {
		s.log.Warn("no invoker registered for backend", zap.String("backend", backendName))
		if err := s.locks.Release(backendName, ev.Task); err != nil {
			s.log.Warn("release failed", zap.Error(err))
		}
		return
	}

	outputFile, err := turn.NextFilename(ev.File, ev.Task)
	if err != nil {
		s.log.Warn("next_filename failed", zap.String("task", ev.Task), zap.Error(err))
		if relErr := s.locks.Release(backendName, ev.Task); relErr != nil {
			s.log.Warn("release failed", zap.Error(relErr))
		}
		return
	}

	params := invoker.Params{
		TaskDir:       taskDir,
		TaskName:      ev.Task,
		InputFile:     ev.File,
		OutputFile:    outputFile,
		ResumeSession: resumeSession,
		MaxTurns:      s.cfg.DefaultMaxTurns,
		Complexity:    complexity,
	}

	if err := s.journal.JournalStart(ev.Task, ev.File, backendName, selfPID, resumeSession); err != nil {
		s.log.Warn("journal_start failed", zap.Error(err))
	}

	s.liveWorkers.Add(1)
	go s.superviseInvocation(ctx, b, backendName, ev, params)
}

func (s *Scheduler) notifyExhaustionOnce(backendName string) {
	s.mu.Lock()
	already := s.notifiedExhaustion[backendName]
	s.notifiedExhaustion[backendName] = true
	s.mu.Unlock()
	if already {
		return
	}

	resetAt, _ := s.tokens.ResetAt(backendName)
	title := fmt.Sprintf("%s exhausted", backendName)
	msg := fmt.Sprintf("%s is exhausted; resets at %s", backendName, resetAt.Format(time.RFC3339))
	if err := s.notifier.Notify(title, msg, notify.NotifyOptions{Priority: true}); err != nil {
		s.log.Warn("notify failed", zap.Error(err))
	}
}

func (s *Scheduler) superviseInvocation(ctx context.Context, b backend.Backend, backendName string, ev queue.Event, params invoker.Params) {
	defer s.liveWorkers.Done()

	inv := s.invokers[backendName]

	result, err := inv.Invoke(ctx, params, func(pid int) {
		if rerr := s.locks.Rewrite(backendName, ev.Task, pid); rerr != nil {
			s.log.Warn("lock rewrite failed", zap.Error(rerr))
		}
	})
	if err != nil {
		s.log.Warn("invocation failed", zap.String("task", ev.Task), zap.Error(err))
	}

	if result.RateLimited {
		resetAt := time.Now().Add(time.Duration(result.ResetSeconds) * time.Second)
		if err := s.tokens.MarkExhausted(backendName, resetAt); err != nil {
			s.log.Warn("mark_exhausted failed", zap.Error(err))
		}
		s.mu.Lock()
		s.notifiedExhaustion[backendName] = false
		s.mu.Unlock()
	}

	// The END line carries the same pid as the START line written in
	// handleFileReady, so CheckIncomplete can pair them by (task, pid).
	if err := s.journal.JournalEnd(ev.Task, ev.File, backendName, os.Getpid(), result.ExitCode, result.TurnsUsed); err != nil {
		s.log.Warn("journal_end failed", zap.Error(err))
	}

	rec := audit.Record{
		Task:          ev.Task,
		File:          ev.File,
		Backend:       backendName,
		SessionID:     result.SessionID,
		Turns:         result.TurnsUsed,
		ExitCode:      result.ExitCode,
		Timestamp:     time.Now(),
		StderrExcerpt: result.StderrExcerpt,
	}
	if err := s.journal.WriteRecord(rec); err != nil {
		s.log.Warn("write_record failed", zap.Error(err))
	}
	if err := s.journal.UpdateUsage(backendName, result.TurnsUsed, ev.Task); err != nil {
		s.log.Warn("update_usage failed", zap.Error(err))
	}

	if releaseErr := s.locks.Release(backendName, ev.Task); releaseErr != nil {
		s.log.Warn("release failed", zap.Error(releaseErr))
	}

	sentinel := failureSentinelPath(s.stateDir, ev.Task, ev.File)
	if result.ExitCode == 0 {
		_ = os.Remove(sentinel)
	} else {
		if err := os.MkdirAll(filepath.Dir(sentinel), 0o755); err == nil {
			_ = os.WriteFile(sentinel, []byte(strconv.Itoa(result.ExitCode)), 0o644)
		}
	}

	title := fmt.Sprintf("task %s finished", ev.Task)
	if result.ExitCode != 0 {
		title = fmt.Sprintf("task %s failed", ev.Task)
	}
	msg := fmt.Sprintf("task %s: backend %s exited %d", ev.Task, backendName, result.ExitCode)
	opts := notify.NotifyOptions{Priority: result.ExitCode != 0, Link: taskLink(ev.Task)}
	if notifyErr := s.notifier.Notify(title, msg, opts); notifyErr != nil {
		s.log.Warn("notify failed", zap.Error(notifyErr))
	}

	if result.ExitCode == 0 && result.TurnsUsed == params.MaxTurns && params.MaxTurns > 0 {
		s.handleContinuationDecision(ev.Task, params.OutputFile, result)
	}
	_ = b
}

func (s *Scheduler) handleContinuationDecision(task, responseFile string, result invoker.Result) {
	taskDir := filepath.Join(s.vaultDir, task)

	kind, err := turn.Classify(taskDir, responseFile)
	if err != nil {
		s.log.Warn("re-classify for continuation failed", zap.String("task", task), zap.Error(err))
		return
	}

	if kind == turn.KindEdited {
		if err := s.continuations.Clear(task); err != nil {
			s.log.Warn("clear continuation failed", zap.Error(err))
		}
		if err := s.events.Write(queue.KindFileReady, task, responseFile, ""); err != nil {
			s.log.Warn("re-queue after edit failed", zap.Error(err))
		}
		return
	}

	stop, err := turn.DetectStop(taskDir, responseFile)
	if err != nil {
		s.log.Warn("detect_stop for continuation failed", zap.Error(err))
		return
	}
	if stop {
		if err := s.continuations.Clear(task); err != nil {
			s.log.Warn("clear continuation failed", zap.Error(err))
		}
		return
	}

	if s.continuations.ShouldContinueWithLimit(task, s.cfg.ContinuationLimit) {
		if err := s.continuations.Mark(task, result.SessionID, result.TurnsUsed, result.TurnsMax, responseFile); err != nil {
			s.log.Warn("mark continuation failed", zap.Error(err))
		}
		metadata := "continuation:" + result.SessionID
		if err := s.events.Write(queue.KindFileReady, task, responseFile, metadata); err != nil {
			s.log.Warn("re-queue continuation failed", zap.Error(err))
		}
		return
	}

	s.log.Info("continuation limit reached", zap.String("task", task))
	if err := s.continuations.Clear(task); err != nil {
		s.log.Warn("clear continuation failed", zap.Error(err))
	}
}

func (s *Scheduler) handleStopSignal(ev queue.Event) {
	var liveBackend string
	for _, name := range s.backends.List() {
		if s.locks.Check(name, ev.Task) {
			liveBackend = name
			break
		}
	}
	if liveBackend == "" {
		return
	}

	pid, ok := s.locks.PIDOf(liveBackend, ev.Task)
	if !ok {
		return
	}

	if err := procutil.Terminate(pid); err != nil {
		s.log.Warn("terminate failed", zap.Int("pid", pid), zap.Error(err))
	}
	time.Sleep(5 * time.Second)
	if procutil.IsAlive(pid) {
		if err := procutil.Kill(pid); err != nil {
			s.log.Warn("kill failed", zap.Int("pid", pid), zap.Error(err))
		}
		time.Sleep(time.Second)
	}

	s.copyPartial(ev.Task, ev.File)

	if err := invoker.InvalidateSession(s.stateDir, ev.Task); err != nil {
		s.log.Warn("invalidate session failed", zap.Error(err))
	}

	rec := audit.Record{
		Task:        ev.Task,
		File:        ev.File,
		Backend:     liveBackend,
		Interrupted: true,
		ExitCode:    130,
		Timestamp:   time.Now(),
	}
	if err := s.journal.WriteRecord(rec); err != nil {
		s.log.Warn("write interrupt record failed", zap.Error(err))
	}

	if err := s.locks.Release(liveBackend, ev.Task); err != nil {
		s.log.Warn("release after stop_signal failed", zap.Error(err))
	}

	title := fmt.Sprintf("task %s stopped", ev.Task)
	msg := fmt.Sprintf("task %s stopped by user", ev.Task)
	if err := s.notifier.Notify(title, msg, notify.NotifyOptions{Priority: true, Link: taskLink(ev.Task)}); err != nil {
		s.log.Warn("notify failed", zap.Error(err))
	}
}

func (s *Scheduler) copyPartial(task, file string) {
	src := filepath.Join(s.vaultDir, task, file)
	data, err := os.ReadFile(src)
	if err != nil {
		return
	}
	safeTask := safeName(task)
	safeFile := safeName(file)
	dir := filepath.Join(s.stateDir, "partial")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		s.log.Warn("mkdir partial failed", zap.Error(err))
		return
	}
	dest := filepath.Join(dir, fmt.Sprintf("%s_%s_%d.md", safeTask, safeFile, time.Now().Unix()))
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		s.log.Warn("write partial failed", zap.Error(err))
	}
}

func safeName(s string) string {
	r := strings.NewReplacer("/", "_", "..", "_")
	return r.Replace(s)
}

// NewInvocationID generates an identifier for one scheduler-spawned
// invocation, used in log correlation.
func NewInvocationID() string {
	return uuid.NewString()
}
