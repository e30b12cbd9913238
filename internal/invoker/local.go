package invoker

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/kdyer/vaultrelay/internal/procutil"
)

// terseSystemPrompt and elaboratedSystemPrompt are chosen by
// Params.Complexity (1 = terse, any other value = elaborated) when
// invoking the local daemon backend.
const (
	terseSystemPrompt      = "Answer directly and concisely. Do not explain your reasoning."
	elaboratedSystemPrompt = "Think through the problem carefully, show your reasoning, and then give a complete answer."
)

// localProbeAllowlist restricts which daemon-probe commands the local
// adapter is willing to run before invoking the model itself.
var localProbeAllowlist = map[string][]string{
	"ollama": {"list"},
}

// LocalInvoker spawns a local daemon-backed model with no session
// concept; resume flags are accepted but ignored.
type LocalInvoker struct {
	Backend  string
	Command  string
	Flags    []string
	StateDir string
	Parser   StderrParser
}

// NewLocalInvoker returns a LocalInvoker for the named backend. log may
// be nil.
func NewLocalInvoker(backend, command string, flags []string, stateDir string, log *zap.Logger) *LocalInvoker {
	return &LocalInvoker{
		Backend:  backend,
		Command:  command,
		Flags:    flags,
		StateDir: stateDir,
		Parser:   NewRegexParser(log),
	}
}

// probe tests that the local daemon is reachable with a cheap allowlisted
// command, returning an error if not; Invoke reports that as
// ExitDaemonDown.
func (l *LocalInvoker) probe(ctx context.Context) error {
	subcmds, ok := localProbeAllowlist[l.Command]
	if !ok || len(subcmds) == 0 {
		return nil
	}
	cmd := exec.CommandContext(ctx, l.Command, subcmds[0])
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("local invoker: daemon unreachable: %w", err)
	}
	return nil
}

// Invoke builds a system prompt from Params.Complexity, concatenates with the
// stripped input, and pipes it to the model. Resume is ignored.
func (l *LocalInvoker) Invoke(ctx context.Context, p Params, onStart func(pid int)) (Result, error) {
	if err := validatePaths(p.InputFile, p.OutputFile); err != nil {
		return Result{ExitCode: ExitArgError}, err
	}

	if err := l.probe(ctx); err != nil {
		return Result{ExitCode: ExitDaemonDown}, err
	}

	prompt, err := readPrompt(p.TaskDir, p.InputFile)
	if err != nil {
		return Result{ExitCode: ExitArgError}, err
	}

	systemPrompt := elaboratedSystemPrompt
	if p.Complexity == 1 {
		systemPrompt = terseSystemPrompt
	}
	fullPrompt := systemPrompt + "\n\n" + prompt

	args := append([]string{}, l.Flags...)
	cmd := exec.CommandContext(ctx, l.Command, args...)
	cmd.Stdin = strings.NewReader(fullPrompt)
	procutil.Configure(cmd)

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	if err := cmd.Start(); err != nil {
		return Result{ExitCode: ExitArgError}, err
	}
	if onStart != nil {
		onStart(cmd.Process.Pid)
	}

	runErr := cmd.Wait()
	stderr := stderrBuf.String()
	if _, logErr := writeStderrLog(l.StateDir, p.TaskName, p.OutputFile, stderr); logErr != nil {
		return Result{}, logErr
	}

	res := Result{StderrExcerpt: excerpt(stderr, 2000)}

	if seconds, found := l.Parser.DetectRateLimit(stderr); found {
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
			return res, fmt.Errorf("local invoker: %w", runErr)
		}
	}
	res.ExitCode = exitCode

	if used, max, ok := l.Parser.ParseTurns(stderr); ok {
		res.TurnsUsed = used
		res.TurnsMax = max
	}

	if exitCode == 0 {
		if err := WriteFrame(filepath.Join(p.TaskDir, p.OutputFile), stdoutBuf.String()); err != nil {
			return res, err
		}
	}

	return res, nil
}
