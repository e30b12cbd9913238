// Package lockreg implements LockRegistry: per-backend, per-task
// PID-bearing mutual exclusion with staleness reaping.
package lockreg

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kdyer/vaultrelay/internal/procutil"
)

// Registry manages lock files under <state>/locks/<backend>/<task>.lock.
type Registry struct {
	dir string
}

// New returns a Registry rooted at <stateDir>/locks.
func New(stateDir string) *Registry {
	return &Registry{dir: filepath.Join(stateDir, "locks")}
}

func (r *Registry) path(backend, task string) string {
	return filepath.Join(r.dir, backend, task+".lock")
}

// Acquire writes a lock file for (backend, task) owning pid, unless a live
// lock already exists, in which case it reports busy.
func (r *Registry) Acquire(backend, task string, pid int) (ok bool, err error) {
	if !validName(backend) || !validName(task) {
		return false, fmt.Errorf("lockreg: invalid backend/task name")
	}

	path := r.path(backend, task)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, err
	}

	if existing, ok := r.readPID(path); ok && procutil.IsAlive(existing) {
		return false, nil
	}

	if err := writePID(path, pid); err != nil {
		return false, err
	}

	// Simple race check: re-read and confirm we still own it.
	if got, ok := r.readPID(path); !ok || got != pid {
		return false, nil
	}
	return true, nil
}

// Rewrite overwrites an already-held lock's PID, used once the invoker
// subprocess has actually been spawned.
func (r *Registry) Rewrite(backend, task string, pid int) error {
	return writePID(r.path(backend, task), pid)
}

// Release removes the lock file for (backend, task). Idempotent.
func (r *Registry) Release(backend, task string) error {
	err := os.Remove(r.path(backend, task))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Check reports whether (backend, task) currently holds a live lock.
func (r *Registry) Check(backend, task string) bool {
	pid, ok := r.readPID(r.path(backend, task))
	return ok && procutil.IsAlive(pid)
}

// PIDOf returns the PID recorded for (backend, task), if any.
func (r *Registry) PIDOf(backend, task string) (int, bool) {
	return r.readPID(r.path(backend, task))
}

// Count returns the number of live locks held for backend.
func (r *Registry) Count(backend string) (int, error) {
	entries, err := os.ReadDir(filepath.Join(r.dir, backend))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	count := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		pid, ok := r.readPID(filepath.Join(r.dir, backend, e.Name()))
		if ok && procutil.IsAlive(pid) {
			count++
		}
	}
	return count, nil
}

// ReapStale sweeps all backends and deletes any lock whose PID is dead,
// returning the number reaped.
func (r *Registry) ReapStale() (int, error) {
	backends, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	reaped := 0
	for _, b := range backends {
		if !b.IsDir() {
			continue
		}
		backendDir := filepath.Join(r.dir, b.Name())
		locks, err := os.ReadDir(backendDir)
		if err != nil {
			continue
		}
		for _, l := range locks {
			path := filepath.Join(backendDir, l.Name())
			pid, ok := r.readPID(path)
			if !ok || !procutil.IsAlive(pid) {
				if err := os.Remove(path); err == nil {
					reaped++
				}
			}
		}
	}
	return reaped, nil
}

func (r *Registry) readPID(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, false
	}
	return pid, true
}

func writePID(path string, pid int) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.Itoa(pid)), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// validName rejects names that could escape the locks directory.
func validName(name string) bool {
	if name == "" {
		return false
	}
	return !strings.Contains(name, "/") && !strings.Contains(name, "..")
}
