package backend

import "testing"

type fakeLocks struct {
	counts map[string]int
}

func (f fakeLocks) Count(name string) (int, error) {
	return f.counts[name], nil
}

type fakeTokens struct {
	exhausted map[string]bool
}

func (f fakeTokens) IsExhausted(name string) bool {
	return f.exhausted[name]
}

func newTestRegistry(t *testing.T, counts map[string]int, exhausted map[string]bool) *Registry {
	t.Helper()
	backends := []Backend{
		{Name: "ollama", Kind: KindLocal, MaxParallel: 2},
		{Name: "claude", Kind: KindHosted, MaxParallel: 1},
	}
	return New(backends, t.TempDir(), fakeLocks{counts: counts}, fakeTokens{exhausted: exhausted})
}

func TestSlotsAvailableFloorsAtZero(t *testing.T) {
	r := newTestRegistry(t, map[string]int{"ollama": 5}, nil)
	slots, err := r.SlotsAvailable("ollama")
	if err != nil {
		t.Fatal(err)
	}
	if slots != 0 {
		t.Errorf("slots = %d, want 0", slots)
	}
}

func TestRouteComplexity1OllamaOnly(t *testing.T) {
	r := newTestRegistry(t, nil, nil)
	route := r.Route(1)
	if route.Queued || route.Backend != "ollama" {
		t.Errorf("route = %+v, want ollama", route)
	}
}

func TestRouteComplexity1QueuedWhenOllamaBusy(t *testing.T) {
	r := newTestRegistry(t, map[string]int{"ollama": 2}, nil)
	route := r.Route(1)
	if !route.Queued {
		t.Errorf("route = %+v, want queued", route)
	}
}

func TestRouteComplexity2OverflowsToClaudeWhenOllamaBusy(t *testing.T) {
	r := newTestRegistry(t, map[string]int{"ollama": 2}, nil)
	route := r.Route(2)
	if route.Queued || route.Backend != "claude" {
		t.Errorf("route = %+v, want claude overflow", route)
	}
}

func TestRouteComplexity2QueuedWhenBothUnavailable(t *testing.T) {
	r := newTestRegistry(t, map[string]int{"ollama": 2, "claude": 1}, nil)
	route := r.Route(2)
	if !route.Queued {
		t.Errorf("route = %+v, want queued", route)
	}
}

func TestRouteComplexity3ClaudeOnly(t *testing.T) {
	r := newTestRegistry(t, nil, nil)
	route := r.Route(3)
	if route.Queued || route.Backend != "claude" {
		t.Errorf("route = %+v, want claude", route)
	}
}

func TestRouteComplexity3QueuedWhenExhausted(t *testing.T) {
	r := newTestRegistry(t, nil, map[string]bool{"claude": true})
	route := r.Route(3)
	if !route.Queued {
		t.Errorf("route = %+v, want queued", route)
	}
}

func TestResolveComplexityFromComment(t *testing.T) {
	r := newTestRegistry(t, nil, nil)
	n, err := r.ResolveComplexity("task-a", []byte("hello\n<!-- complexity: 2 -->\nworld"))
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("complexity = %d, want 2", n)
	}
}

func TestResolveComplexityFallsBackToCacheThenDefault(t *testing.T) {
	r := newTestRegistry(t, nil, nil)
	// Seed the cache via a file carrying the comment.
	if _, err := r.ResolveComplexity("task-a", []byte("<!-- complexity: 1 -->")); err != nil {
		t.Fatal(err)
	}
	n, err := r.ResolveComplexity("task-a", []byte("no comment here"))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("complexity = %d, want cached 1", n)
	}

	n2, err := r.ResolveComplexity("task-never-seen", []byte("no comment"))
	if err != nil {
		t.Fatal(err)
	}
	if n2 != 3 {
		t.Errorf("complexity = %d, want default 3", n2)
	}
}
