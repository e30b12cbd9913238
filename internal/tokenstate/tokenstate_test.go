package tokenstate

import (
	"testing"
	"time"
)

func TestInitCreatesFile(t *testing.T) {
	s := New(t.TempDir())
	if err := s.Init(); err != nil {
		t.Fatal(err)
	}
	if s.IsExhausted("claude") {
		t.Error("expected no backend exhausted right after init")
	}
}

func TestMarkExhaustedAndIsExhausted(t *testing.T) {
	s := New(t.TempDir())
	future := time.Now().Add(time.Hour)
	if err := s.MarkExhausted("claude", future); err != nil {
		t.Fatal(err)
	}
	if !s.IsExhausted("claude") {
		t.Error("expected claude to be exhausted")
	}
	if s.IsExhausted("ollama") {
		t.Error("expected ollama to be unaffected")
	}
}

func TestExhaustionExpiresAfterResetAt(t *testing.T) {
	s := New(t.TempDir())
	past := time.Now().Add(-time.Hour)
	if err := s.MarkExhausted("claude", past); err != nil {
		t.Fatal(err)
	}
	if s.IsExhausted("claude") {
		t.Error("expected exhaustion to have expired")
	}
}

func TestClearRemovesExhaustion(t *testing.T) {
	s := New(t.TempDir())
	if err := s.MarkExhausted("claude", time.Now().Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	if err := s.Clear("claude"); err != nil {
		t.Fatal(err)
	}
	if s.IsExhausted("claude") {
		t.Error("expected claude to no longer be exhausted")
	}
}

func TestResetAt(t *testing.T) {
	s := New(t.TempDir())
	future := time.Now().Add(time.Hour).Truncate(time.Second)
	if err := s.MarkExhausted("claude", future); err != nil {
		t.Fatal(err)
	}
	got, ok := s.ResetAt("claude")
	if !ok {
		t.Fatal("expected reset_at to be set")
	}
	if !got.Equal(future) {
		t.Errorf("reset_at = %v, want %v", got, future)
	}
}
