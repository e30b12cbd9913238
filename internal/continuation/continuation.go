// Package continuation implements ContinuationStore: tracking in-flight
// multi-round conversations so the scheduler knows when to auto-resume.
package continuation

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// Record is the per-task continuation state.
type Record struct {
	Task              string    `json:"task"`
	SessionID         string    `json:"session_id"`
	TurnsUsed         int       `json:"turns_used"`
	MaxTurns          int       `json:"max_turns"`
	File              string    `json:"file"`
	ContinuationCount int       `json:"continuation_count"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// limit is the maximum number of auto-continuations before giving up,
// matching spec.md's default; callers that need a configured limit use
// ShouldContinueWithLimit.
const limit = 5

// Store manages <state>/continuations/<task>.json files.
type Store struct {
	dir string
}

// New returns a Store rooted at <stateDir>/continuations.
func New(stateDir string) *Store {
	return &Store{dir: filepath.Join(stateDir, "continuations")}
}

func (s *Store) path(task string) string {
	return filepath.Join(s.dir, task+".json")
}

// Mark records a continuation, incrementing continuation_count.
func (s *Store) Mark(task, session string, turnsUsed, maxTurns int, file string) error {
	rec, _ := s.load(task)
	rec.Task = task
	rec.SessionID = session
	rec.TurnsUsed = turnsUsed
	rec.MaxTurns = maxTurns
	rec.File = file
	rec.ContinuationCount++
	rec.UpdatedAt = time.Now()
	return s.save(rec)
}

// Clear removes the continuation record for task, if any.
func (s *Store) Clear(task string) error {
	err := os.Remove(s.path(task))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// SessionID returns the tracked session id for task, if any.
func (s *Store) SessionID(task string) (string, bool) {
	rec, ok := s.load(task)
	if !ok {
		return "", false
	}
	return rec.SessionID, true
}

// TurnsUsed returns the tracked turns-used count for task, if any.
func (s *Store) TurnsUsed(task string) (int, bool) {
	rec, ok := s.load(task)
	if !ok {
		return 0, false
	}
	return rec.TurnsUsed, true
}

// ShouldContinue reports whether task may be auto-continued again, using
// the package default limit of 5.
func (s *Store) ShouldContinue(task string) bool {
	return s.ShouldContinueWithLimit(task, limit)
}

// ShouldContinueWithLimit is ShouldContinue parameterized by a configured
// continuation limit (Config.ContinuationLimit).
func (s *Store) ShouldContinueWithLimit(task string, max int) bool {
	rec, ok := s.load(task)
	if !ok {
		return true
	}
	return rec.ContinuationCount < max
}

func (s *Store) load(task string) (Record, bool) {
	data, err := os.ReadFile(s.path(task))
	if err != nil {
		return Record{}, false
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, false
	}
	return rec, true
}

func (s *Store) save(rec Record) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	path := s.path(rec.Task)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
