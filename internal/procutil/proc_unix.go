//go:build !windows

// Package procutil provides process lifecycle helpers shared by the lock
// registry, the invoker adapters, and the scheduler's stop_signal handling.
package procutil

import (
	"os/exec"
	"syscall"
)

// Configure detaches a subprocess into its own session so the scheduler can
// signal it (and only it) without affecting its own process group.
func Configure(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}

// IsAlive reports whether pid refers to a live process, using the
// zero-signal probe convention (no signal is actually delivered).
func IsAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	if err == nil {
		return true
	}
	return err != syscall.ESRCH
}

// Terminate sends SIGTERM for a graceful shutdown request.
func Terminate(pid int) error {
	return syscall.Kill(pid, syscall.SIGTERM)
}

// Kill sends SIGKILL to force-stop a process.
func Kill(pid int) error {
	return syscall.Kill(pid, syscall.SIGKILL)
}
