package lockreg

import (
	"os"
	"testing"
)

func TestAcquireAndCheck(t *testing.T) {
	r := New(t.TempDir())
	ok, err := r.Acquire("ollama", "task-a", os.Getpid())
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected acquire to succeed")
	}
	if !r.Check("ollama", "task-a") {
		t.Fatal("expected lock to be live")
	}
}

func TestAcquireBusyWhenHeldByLiveProcess(t *testing.T) {
	r := New(t.TempDir())
	if ok, err := r.Acquire("ollama", "task-a", os.Getpid()); err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}
	ok, err := r.Acquire("ollama", "task-a", os.Getpid())
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected second acquire to report busy")
	}
}

func TestAcquireSucceedsOverStalePID(t *testing.T) {
	r := New(t.TempDir())
	// PID 999999 is extremely unlikely to be alive.
	if ok, err := r.Acquire("ollama", "task-a", 999999); err != nil || !ok {
		t.Fatalf("seed acquire: ok=%v err=%v", ok, err)
	}
	ok, err := r.Acquire("ollama", "task-a", os.Getpid())
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected acquire over a stale PID to succeed")
	}
}

func TestReleaseIdempotent(t *testing.T) {
	r := New(t.TempDir())
	if err := r.Release("ollama", "task-a"); err != nil {
		t.Fatalf("release of nonexistent lock should be a no-op: %v", err)
	}
	if _, err := r.Acquire("ollama", "task-a", os.Getpid()); err != nil {
		t.Fatal(err)
	}
	if err := r.Release("ollama", "task-a"); err != nil {
		t.Fatal(err)
	}
	if err := r.Release("ollama", "task-a"); err != nil {
		t.Fatalf("second release should still be a no-op: %v", err)
	}
}

func TestCountOnlyCountsLive(t *testing.T) {
	r := New(t.TempDir())
	if _, err := r.Acquire("ollama", "task-a", os.Getpid()); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Acquire("ollama", "task-b", 999999); err != nil {
		t.Fatal(err)
	}
	n, err := r.Count("ollama")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("count = %d, want 1", n)
	}
}

func TestReapStale(t *testing.T) {
	r := New(t.TempDir())
	if _, err := r.Acquire("ollama", "task-a", os.Getpid()); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Acquire("ollama", "task-b", 999999); err != nil {
		t.Fatal(err)
	}
	reaped, err := r.ReapStale()
	if err != nil {
		t.Fatal(err)
	}
	if reaped != 1 {
		t.Errorf("reaped = %d, want 1", reaped)
	}
	if !r.Check("ollama", "task-a") {
		t.Error("expected live lock to survive reap")
	}
	if r.Check("ollama", "task-b") {
		t.Error("expected stale lock to be removed")
	}
}

func TestAcquireRejectsTraversal(t *testing.T) {
	r := New(t.TempDir())
	if _, err := r.Acquire("../escape", "task-a", 1); err == nil {
		t.Fatal("expected error for traversing backend name")
	}
}
