package flow

import (
	"errors"
	"testing"
	"time"
)

func TestFlowOrdered(t *testing.T) {
	f := Flow{
		Name: "test",
		Tasks: []Task{
			{Name: "c", DependsOn: []string{"a", "b"}},
			{Name: "a"},
			{Name: "b", DependsOn: []string{"a"}},
		},
	}
	waves, err := f.ordered()
	if err != nil {
		t.Fatalf("ordered: %v", err)
	}
	if len(waves) != 3 {
		t.Fatalf("waves = %d, want 3", len(waves))
	}
	if waves[0][0].Name != "a" || waves[1][0].Name != "b" || waves[2][0].Name != "c" {
		t.Errorf("wave order = %v %v %v", waves[0][0].Name, waves[1][0].Name, waves[2][0].Name)
	}
}

func TestFlowOrderedIndependentWave(t *testing.T) {
	f := Flow{
		Name: "test",
		Tasks: []Task{
			{Name: "a"},
			{Name: "b"},
			{Name: "c", DependsOn: []string{"a"}},
		},
	}
	waves, err := f.ordered()
	if err != nil {
		t.Fatalf("ordered: %v", err)
	}
	if len(waves) != 2 || len(waves[0]) != 2 {
		t.Fatalf("waves = %v", waves)
	}
}

func TestFlowOrderedCycle(t *testing.T) {
	f := Flow{
		Name: "test",
		Tasks: []Task{
			{Name: "a", DependsOn: []string{"b"}},
			{Name: "b", DependsOn: []string{"a"}},
		},
	}
	if _, err := f.ordered(); err == nil {
		t.Fatal("expected cycle error")
	}
}

func TestFlowOrderedUnknownDep(t *testing.T) {
	f := Flow{Name: "test", Tasks: []Task{{Name: "a", DependsOn: []string{"ghost"}}}}
	if _, err := f.ordered(); err == nil {
		t.Fatal("expected unknown-dependency error")
	}
}

func TestTaskCacheKey(t *testing.T) {
	task := Task{Name: "sync-bills"}
	k1 := task.CacheKey(map[string]any{"parliament": 44, "session": 1})
	k2 := task.CacheKey(map[string]any{"session": 1, "parliament": 44})
	if k1 != k2 {
		t.Error("cache key must be insensitive to map iteration order")
	}
	k3 := task.CacheKey(map[string]any{"parliament": 45, "session": 1})
	if k1 == k3 {
		t.Error("different inputs must produce different keys")
	}
	other := Task{Name: "sync-votes"}
	if other.CacheKey(map[string]any{"parliament": 44, "session": 1}) == k1 {
		t.Error("different tasks must produce different keys")
	}
}

func TestTaskDefaults(t *testing.T) {
	var task Task
	if task.retries() != DefaultRetries {
		t.Errorf("retries = %d", task.retries())
	}
	if task.retryDelay() != DefaultRetryDelay {
		t.Errorf("retryDelay = %v", task.retryDelay())
	}
	if task.cacheTTL() != DefaultCacheTTL {
		t.Errorf("cacheTTL = %v", task.cacheTTL())
	}
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	if err := reg.AddFlow(Flow{Name: "f1", Tasks: []Task{{Name: "t1"}}}); err != nil {
		t.Fatalf("AddFlow: %v", err)
	}
	if err := reg.AddFlow(Flow{Name: "f1"}); err == nil {
		t.Error("duplicate flow should be rejected")
	}

	err := reg.AddDeployment(Deployment{Name: "d1", FlowName: "f1", Schedule: "15 * * * *", Pool: "default"})
	if err != nil {
		t.Fatalf("AddDeployment: %v", err)
	}
	if err := reg.AddDeployment(Deployment{Name: "d2", FlowName: "ghost"}); err == nil {
		t.Error("deployment with unknown flow should be rejected")
	}
	if err := reg.AddDeployment(Deployment{Name: "d3", FlowName: "f1", Schedule: "not cron"}); err == nil {
		t.Error("invalid schedule should be rejected")
	}

	d, ok := reg.Deployment("d1")
	if !ok {
		t.Fatal("d1 missing")
	}
	base := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	next := d.Next(base)
	want := time.Date(2026, 8, 24, 10, 15, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("Next = %v, want %v", next, want)
	}
}

func TestRunStateTerminal(t *testing.T) {
	for _, s := range []RunState{StateCompleted, StateFailed, StateCrashed, StateCancelled} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []RunState{StatePending, StateRunning} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

var errBoom = errors.New("boom")
