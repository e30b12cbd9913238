package turn

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLatestFileEmptyDir(t *testing.T) {
	dir := t.TempDir()
	_, ok, err := LatestFile(dir)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected no file in empty dir")
	}
}

func TestLatestFileMissingDir(t *testing.T) {
	_, ok, err := LatestFile(filepath.Join(t.TempDir(), "nope"))
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected no file for missing dir")
	}
}

func TestLatestFileNumericOrder(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "002_foo.md", "x")
	writeFile(t, dir, "010_foo.md", "x")
	writeFile(t, dir, "001_foo.md", "x")

	f, ok, err := LatestFile(dir)
	if err != nil || !ok {
		t.Fatalf("LatestFile: ok=%v err=%v", ok, err)
	}
	if f.Name != "010_foo.md" {
		t.Errorf("latest = %q, want 010_foo.md (numeric not lexical order)", f.Name)
	}
}

func TestClassifyBackendAwaitingUser(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "001_foo.md", "<!-- CLAUDE-RESPONSE -->\nsome text\n# <User>\n")
	k, err := Classify(dir, "001_foo.md")
	if err != nil {
		t.Fatal(err)
	}
	if k != KindBackend {
		t.Errorf("kind = %v, want backend", k)
	}
}

func TestClassifyEditedBackend(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "001_foo.md", "<!-- CLAUDE-RESPONSE -->\nuser changed this\n")
	k, err := Classify(dir, "001_foo.md")
	if err != nil {
		t.Fatal(err)
	}
	if k != KindEdited {
		t.Errorf("kind = %v, want edited", k)
	}
}

func TestClassifyUser(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "001_foo.md", "hello\n<User>\n")
	k, err := Classify(dir, "001_foo.md")
	if err != nil {
		t.Fatal(err)
	}
	if k != KindUser {
		t.Errorf("kind = %v, want user", k)
	}
}

func TestIsReadySentinel(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "001_foo.md", "hello\n<User>\n")
	ready, err := IsReady(dir, "001_foo.md", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if !ready {
		t.Error("expected ready via sentinel")
	}
}

func TestIsReadyStabilityFallback(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "001_foo.md", "hello, no sentinel\n")
	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(filepath.Join(dir, "001_foo.md"), old, old); err != nil {
		t.Fatal(err)
	}
	ready, err := IsReady(dir, "001_foo.md", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if !ready {
		t.Error("expected ready via stability timeout")
	}
}

func TestIsReadyNotYetStable(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "001_foo.md", "fresh, no sentinel\n")
	ready, err := IsReady(dir, "001_foo.md", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if ready {
		t.Error("expected not ready yet")
	}
}

func TestDetectStop(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "001_foo.md", "done here\n<Stop>\n")
	stop, err := DetectStop(dir, "001_foo.md")
	if err != nil {
		t.Fatal(err)
	}
	if !stop {
		t.Error("expected stop detected")
	}
}

func TestNextFilename(t *testing.T) {
	next, err := NextFilename("003_foo.md", "foo")
	if err != nil {
		t.Fatal(err)
	}
	if next != "004_foo.md" {
		t.Errorf("next = %q, want 004_foo.md", next)
	}
}

func TestNextFilenameWidensPast999(t *testing.T) {
	next, err := NextFilename("999_foo.md", "foo")
	if err != nil {
		t.Fatal(err)
	}
	if next != "1000_foo.md" {
		t.Errorf("next = %q, want 1000_foo.md", next)
	}
}

func TestNextFilenameInvalid(t *testing.T) {
	if _, err := NextFilename("nope.md", "foo"); err == nil {
		t.Fatal("expected error for invalid filename")
	}
}
