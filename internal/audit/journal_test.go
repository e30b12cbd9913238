package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestJournalStartEndAndIncomplete(t *testing.T) {
	j := New(t.TempDir())

	if err := j.JournalStart("task-a", "001_task-a.md", "claude", 123, "sess-1"); err != nil {
		t.Fatal(err)
	}
	if err := j.JournalStart("task-b", "001_task-b.md", "ollama", 456, ""); err != nil {
		t.Fatal(err)
	}
	if err := j.JournalEnd("task-a", "001_task-a.md", "claude", 123, 0, 3); err != nil {
		t.Fatal(err)
	}

	incomplete, err := j.CheckIncomplete()
	if err != nil {
		t.Fatal(err)
	}
	if len(incomplete) != 1 || incomplete[0] != "task-b" {
		t.Errorf("incomplete = %v, want [task-b]", incomplete)
	}
}

func TestWriteRecord(t *testing.T) {
	j := New(t.TempDir())
	rec := Record{
		Task:      "task-a",
		File:      "001_task-a.md",
		Backend:   "claude",
		SessionID: "sess-1",
		Turns:     2,
		ExitCode:  0,
		Timestamp: time.Now(),
	}
	if err := j.WriteRecord(rec); err != nil {
		t.Fatal(err)
	}
}

func TestUpdateUsageAccumulates(t *testing.T) {
	j := New(t.TempDir())
	if err := j.UpdateUsage("claude", 3, "task-a"); err != nil {
		t.Fatal(err)
	}
	if err := j.UpdateUsage("claude", 2, "task-a"); err != nil {
		t.Fatal(err)
	}
	if err := j.UpdateUsage("claude", 1, "task-b"); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(j.stateDir, "audit", "usage", now().Format("2006-01-02")+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var counters map[string]usageCounters
	if err := json.Unmarshal(data, &counters); err != nil {
		t.Fatal(err)
	}
	got := counters["claude"]
	if got.TotalTurns != 6 || got.TaskCount != 2 {
		t.Errorf("claude usage = %+v, want total_turns 6 and task_count 2", got)
	}
}
