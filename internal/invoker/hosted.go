package invoker

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/kdyer/vaultrelay/internal/procutil"
)

// HostedInvoker spawns a hosted backend CLI (one that supports sessions
// and is subject to rate limiting).
type HostedInvoker struct {
	Backend  string
	Command  string
	Flags    []string
	StateDir string
	Parser   StderrParser
}

// NewHostedInvoker returns a HostedInvoker for the named backend. log may
// be nil.
func NewHostedInvoker(backend, command string, flags []string, stateDir string, log *zap.Logger) *HostedInvoker {
	return &HostedInvoker{
		Backend:  backend,
		Command:  command,
		Flags:    flags,
		StateDir: stateDir,
		Parser:   NewRegexParser(log),
	}
}

// Invoke spawns the hosted CLI with -p <prompt>, --max-turns N, any
// configured flags, and --resume <sid> when a session is available.
func (h *HostedInvoker) Invoke(ctx context.Context, p Params, onStart func(pid int)) (Result, error) {
	if err := validatePaths(p.InputFile, p.OutputFile); err != nil {
		return Result{ExitCode: ExitArgError}, err
	}

	prompt, err := readPrompt(p.TaskDir, p.InputFile)
	if err != nil {
		return Result{ExitCode: ExitArgError}, err
	}

	session := p.ResumeSession
	if session == "" {
		if sid, ok := loadFreshSession(h.StateDir, p.TaskName); ok {
			session = sid
		}
	}

	args := []string{"-p", prompt, "--max-turns", strconv.Itoa(p.MaxTurns)}
	args = append(args, h.Flags...)
	if session != "" {
		args = append(args, "--resume", session)
	}

	cmd := exec.CommandContext(ctx, h.Command, args...)
	cmd.Env = append(os.Environ(), "CLAUDE_NO_NESTED_SESSION=1")
	procutil.Configure(cmd)

	var stderrBuf bytes.Buffer
	cmd.Stderr = &stderrBuf
	cmd.Stdout = &bytes.Buffer{}

	if err := cmd.Start(); err != nil {
		return Result{ExitCode: ExitArgError}, err
	}
	if onStart != nil {
		onStart(cmd.Process.Pid)
	}

	runErr := cmd.Wait()
	stderr := stderrBuf.String()
	if _, logErr := writeStderrLog(h.StateDir, p.TaskName, p.OutputFile, stderr); logErr != nil {
		return Result{}, logErr
	}

	res := Result{StderrExcerpt: excerpt(stderr, 2000)}

	if seconds, found := h.Parser.DetectRateLimit(stderr); found {
		res.RateLimited = true
		res.ResetSeconds = seconds
		res.ExitCode = ExitRateLimited
		return res, nil
	}

	exitCode := 0
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return res, fmt.Errorf("hosted invoker: %w", runErr)
		}
	}
	res.ExitCode = exitCode

	if used, max, ok := h.Parser.ParseTurns(stderr); ok {
		res.TurnsUsed = used
		res.TurnsMax = max
	}

	projectDir := h.StateDir
	if sid, ok := h.Parser.ParseSession(stderr, projectDir); ok {
		res.SessionID = sid
		if err := saveSession(h.StateDir, p.TaskName, sid); err != nil {
			return res, err
		}
	}

	if exitCode == 0 {
		stdout := cmd.Stdout.(*bytes.Buffer).String()
		body := firstNonEmpty(stdout, stripProtocolLines(stderr))
		if err := WriteFrame(filepath.Join(p.TaskDir, p.OutputFile), body); err != nil {
			return res, err
		}
	}

	return res, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// stripProtocolLines removes the SESSION_ID:/TURNS_USED:/TOKEN_EXHAUSTED:
// protocol lines from a backend's stderr before using it as fallback
// response body text.
func stripProtocolLines(s string) string {
	var kept []string
	for _, line := range strings.Split(s, "\n") {
		t := strings.TrimSpace(line)
		if strings.HasPrefix(t, "SESSION_ID:") || strings.HasPrefix(t, "TURNS_USED:") || strings.HasPrefix(t, "TOKEN_EXHAUSTED:") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}
