package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kdyer/vaultrelay/internal/queue"
)

func TestShouldSkipFileRootLevel(t *testing.T) {
	if !shouldSkipFile("/vault", "/vault/loose.md") {
		t.Error("expected a file directly under the vault root to be skipped")
	}
}

func TestShouldSkipFileStatus(t *testing.T) {
	if !shouldSkipFile("/vault", "/vault/task-a/_status.md") {
		t.Error("expected _status.md to be skipped")
	}
}

func TestShouldSkipFileHiddenDir(t *testing.T) {
	if !shouldSkipFile("/vault", "/vault/.git/task-a/001_task-a.md") {
		t.Error("expected hidden directory to be skipped")
	}
}

func TestShouldSkipFileNormalTask(t *testing.T) {
	if shouldSkipFile("/vault", "/vault/task-a/001_task-a.md") {
		t.Error("expected a normal task file to not be skipped")
	}
}

func TestEvaluateQueuesFileReadyForReadyUserFile(t *testing.T) {
	vaultDir := t.TempDir()
	taskDir := filepath.Join(vaultDir, "task-a")
	if err := os.MkdirAll(taskDir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(taskDir, "001_task-a.md")
	if err := os.WriteFile(path, []byte("do the thing\n<User>\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	stateDir := t.TempDir()
	q := queue.New(stateDir)
	w := &Watcher{
		vaultDir:         vaultDir,
		stabilityTimeout: time.Hour,
		events:           q,
		log:              zap.NewNop(),
	}

	w.evaluate(path)

	events, err := q.Drain()
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].Kind != queue.KindFileReady {
		t.Errorf("events = %+v, want one file_ready", events)
	}
}

func TestEvaluateQueuesStopSignal(t *testing.T) {
	vaultDir := t.TempDir()
	taskDir := filepath.Join(vaultDir, "task-a")
	if err := os.MkdirAll(taskDir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(taskDir, "001_task-a.md")
	if err := os.WriteFile(path, []byte("never mind\n<Stop>\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	stateDir := t.TempDir()
	q := queue.New(stateDir)
	w := &Watcher{
		vaultDir:         vaultDir,
		stabilityTimeout: time.Hour,
		events:           q,
		log:              zap.NewNop(),
	}

	w.evaluate(path)

	events, err := q.Drain()
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].Kind != queue.KindStopSignal {
		t.Errorf("events = %+v, want one stop_signal", events)
	}
}

func TestEvaluateSkipsBackendAwaitingUser(t *testing.T) {
	vaultDir := t.TempDir()
	taskDir := filepath.Join(vaultDir, "task-a")
	if err := os.MkdirAll(taskDir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(taskDir, "001_task-a.md")
	body := "<!-- CLAUDE-RESPONSE -->\n\nhere's the answer\n\n# <User>\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	stateDir := t.TempDir()
	q := queue.New(stateDir)
	w := &Watcher{
		vaultDir:         vaultDir,
		stabilityTimeout: time.Hour,
		events:           q,
		log:              zap.NewNop(),
	}

	w.evaluate(path)

	events, err := q.Drain()
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 0 {
		t.Errorf("events = %+v, want none for a backend file awaiting the user", events)
	}
}
