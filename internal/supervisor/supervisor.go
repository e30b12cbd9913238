// Package supervisor implements the Supervisor component: it launches
// the watcher and scheduler as long-lived child processes, restarts them
// on death with rate-limited backoff, and owns graceful shutdown.
package supervisor

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kdyer/vaultrelay/internal/procutil"
)

// Child describes one supervised subprocess: the same binary re-invoked
// with a different subcommand.
type Child struct {
	Name string
	Args []string
}

// Config controls restart and shutdown behavior.
type Config struct {
	StateDir        string
	MonitorInterval time.Duration
	MaxRestarts     int
	RestartWindow   time.Duration
	ShutdownTimeout time.Duration
}

// ReapFunc is called once during shutdown, after all children have
// exited, to sweep any locks left behind.
type ReapFunc func() (int, error)

// Supervisor manages a fixed set of Children.
type Supervisor struct {
	cfg      Config
	binary   string
	children []Child
	log      *zap.Logger
	reap     ReapFunc

	mu       sync.Mutex
	procs    map[string]*os.Process
	restarts map[string][]time.Time
	downed   map[string]bool
}

// New builds a Supervisor for the given children, re-invoking the
// current binary with each child's args.
func New(cfg Config, children []Child, log *zap.Logger, reap ReapFunc) *Supervisor {
	binary, err := os.Executable()
	if err != nil {
		binary = os.Args[0]
	}
	return &Supervisor{
		cfg:      cfg,
		binary:   binary,
		children: children,
		log:      log,
		reap:     reap,
		procs:    make(map[string]*os.Process),
		restarts: make(map[string][]time.Time),
		downed:   make(map[string]bool),
	}
}

// Run creates required state subdirectories, launches every child, and
// monitors them until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.ensureStateDirs(); err != nil {
		return err
	}

	for _, c := range s.children {
		if err := s.launch(c); err != nil {
			s.log.Error("failed to launch child", zap.String("child", c.Name), zap.Error(err))
		}
	}

	ticker := time.NewTicker(s.cfg.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return nil
		case <-ticker.C:
			s.monitor()
		}
	}
}

func (s *Supervisor) ensureStateDirs() error {
	for _, sub := range []string{
		"events", "locks", "sessions", "continuations", "audit", "audit/usage",
		"complexity", "logs", "partial", "failures",
	} {
		if err := os.MkdirAll(filepath.Join(s.cfg.StateDir, sub), 0o755); err != nil {
			return err
		}
	}
	return nil
}

func (s *Supervisor) launch(c Child) error {
	logPath := filepath.Join(s.cfg.StateDir, "logs", c.Name+".log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}

	cmd := exec.Command(s.binary, c.Args...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	procutil.Configure(cmd)

	if err := cmd.Start(); err != nil {
		_ = logFile.Close()
		return err
	}

	s.mu.Lock()
	s.procs[c.Name] = cmd.Process
	s.downed[c.Name] = false
	s.mu.Unlock()

	s.log.Info("launched child", zap.String("child", c.Name), zap.Int("pid", cmd.Process.Pid))

	go func() {
		_ = cmd.Wait()
		_ = logFile.Close()
	}()

	return nil
}

func (s *Supervisor) monitor() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.children {
		if s.downed[c.Name] {
			continue
		}
		proc := s.procs[c.Name]
		if proc == nil || !procutil.IsAlive(proc.Pid) {
			s.recordRestartLocked(c)
		}
	}
}

// recordRestartLocked assumes s.mu is held.
func (s *Supervisor) recordRestartLocked(c Child) {
	now := time.Now()
	window := now.Add(-s.cfg.RestartWindow)

	var recent []time.Time
	for _, t := range s.restarts[c.Name] {
		if t.After(window) {
			recent = append(recent, t)
		}
	}
	recent = append(recent, now)
	s.restarts[c.Name] = recent

	if len(recent) > s.cfg.MaxRestarts {
		s.log.Error("child exceeded restart budget, leaving down",
			zap.String("child", c.Name), zap.Int("restarts", len(recent)))
		s.downed[c.Name] = true
		return
	}

	s.mu.Unlock()
	err := s.launch(c)
	s.mu.Lock()
	if err != nil {
		s.log.Error("restart failed", zap.String("child", c.Name), zap.Error(err))
	}
}

func (s *Supervisor) shutdown() {
	s.mu.Lock()
	procs := make(map[string]*os.Process, len(s.procs))
	for name, p := range s.procs {
		procs[name] = p
	}
	s.mu.Unlock()

	for name, p := range procs {
		if p == nil {
			continue
		}
		if err := procutil.Terminate(p.Pid); err != nil {
			s.log.Warn("terminate failed", zap.String("child", name), zap.Error(err))
		}
	}

	deadline := time.After(s.cfg.ShutdownTimeout)
	tick := time.NewTicker(200 * time.Millisecond)
	defer tick.Stop()

waitLoop:
	for {
		select {
		case <-deadline:
			break waitLoop
		case <-tick.C:
			allDead := true
			for _, p := range procs {
				if p != nil && procutil.IsAlive(p.Pid) {
					allDead = false
					break
				}
			}
			if allDead {
				break waitLoop
			}
		}
	}

	for name, p := range procs {
		if p != nil && procutil.IsAlive(p.Pid) {
			if err := procutil.Kill(p.Pid); err != nil {
				s.log.Warn("kill failed", zap.String("child", name), zap.Error(err))
			}
		}
	}

	if s.reap != nil {
		if n, err := s.reap(); err != nil {
			s.log.Warn("final reap_stale failed", zap.Error(err))
		} else {
			s.log.Info("final reap_stale", zap.Int("count", n))
		}
	}
}
