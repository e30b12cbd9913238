//go:build windows

package procutil

import (
	"os"
	"os/exec"
	"syscall"
)

// Configure is a no-op on Windows; process-group detachment is not
// required for the signaling primitives available there.
func Configure(cmd *exec.Cmd) {}

// IsAlive reports whether pid refers to a live process: it opens the
// process and checks that its exit code is still STILL_ACTIVE. A process
// that exists but cannot be opened for lack of access counts as alive;
// any other error counts as "not alive".
func IsAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	h, err := syscall.OpenProcess(syscall.PROCESS_QUERY_INFORMATION, false, uint32(pid))
	if err != nil {
		return err == syscall.ERROR_ACCESS_DENIED
	}
	defer syscall.CloseHandle(h)
	var code uint32
	if err := syscall.GetExitCodeProcess(h, &code); err != nil {
		return false
	}
	const stillActive = 259 // STILL_ACTIVE
	return code == stillActive
}

// Terminate asks a process to exit. Windows has no SIGTERM equivalent
// available without extra syscalls, so this forcibly kills the process;
// callers treat Terminate and Kill as the same two-step escalation on
// unix and accept the coarser behavior here.
func Terminate(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Kill()
}

// Kill force-stops a process.
func Kill(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Kill()
}
