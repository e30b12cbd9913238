package invoker

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteFrameRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "002_task.md")
	if err := WriteFrame(path, "the answer is 4"); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	content := string(data)
	if !strings.HasPrefix(content, responseHeader) {
		t.Errorf("expected header prefix, got %q", content)
	}
	if !strings.Contains(content, "# <User>") {
		t.Error("expected trailing # <User> sentinel")
	}
	if !strings.Contains(content, "the answer is 4") {
		t.Error("expected body to be present")
	}
}

func TestStripSentinelsBackendFrame(t *testing.T) {
	raw := responseHeader + "\n\nhello world\n\n# <User>\n"
	got := StripSentinels(raw)
	if got != "hello world" {
		t.Errorf("got %q", got)
	}
}

func TestStripSentinelsUserFile(t *testing.T) {
	raw := "please do X\n<User>\n"
	got := StripSentinels(raw)
	if got != "please do X" {
		t.Errorf("got %q", got)
	}
}
