package flow

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/OpenParlCA/OP-Backend/internal/cache"
)

func testStore(t *testing.T) *RunStore {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	d, err := gorm.Open(sqlite.Open("file:flow_"+name+"?mode=memory&cache=shared"),
		&gorm.Config{Logger: logger.Discard})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := d.AutoMigrate(&FlowRun{}, &TaskRun{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewRunStore(d)
}

func testWorker(t *testing.T, reg *Registry) (*Worker, *RunStore) {
	store := testStore(t)
	w := &Worker{
		Store:        store,
		Registry:     reg,
		Cache:        cache.NewMemory(),
		Pool:         "default",
		Name:         "worker-test",
		PollInterval: 10 * time.Millisecond,
		TaskLimit:    4,
		TaskTimeout:  5 * time.Second,
	}
	return w, store
}

func enqueue(t *testing.T, store *RunStore, reg *Registry, deployment string) *FlowRun {
	t.Helper()
	d, ok := reg.Deployment(deployment)
	if !ok {
		t.Fatalf("deployment %q not registered", deployment)
	}
	run, err := store.Enqueue(context.Background(), d, nil, time.Now().UTC())
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	return run
}

func TestWorkerExecutesFlow(t *testing.T) {
	var aRan, bRan atomic.Bool
	reg := NewRegistry()
	err := reg.AddFlow(Flow{
		Name: "two-step",
		Tasks: []Task{
			{Name: "a", Run: func(ctx context.Context, params map[string]any) (map[string]any, error) {
				aRan.Store(true)
				return map[string]any{"rows": 3}, nil
			}},
			{Name: "b", DependsOn: []string{"a"}, Run: func(ctx context.Context, params map[string]any) (map[string]any, error) {
				if !aRan.Load() {
					t.Error("b ran before its dependency")
				}
				bRan.Store(true)
				return nil, nil
			}},
		},
	})
	if err != nil {
		t.Fatalf("AddFlow: %v", err)
	}
	if err := reg.AddDeployment(Deployment{Name: "two-step-adhoc", FlowName: "two-step", Pool: "default"}); err != nil {
		t.Fatalf("AddDeployment: %v", err)
	}

	w, store := testWorker(t, reg)
	run := enqueue(t, store, reg, "two-step-adhoc")

	claimed, err := store.Claim(context.Background(), "default", w.Name)
	if err != nil || claimed == nil {
		t.Fatalf("Claim: %v %v", claimed, err)
	}
	if claimed.ID != run.ID {
		t.Fatalf("claimed wrong run")
	}
	w.execute(context.Background(), claimed)

	if !aRan.Load() || !bRan.Load() {
		t.Fatal("not all tasks ran")
	}
	final, err := store.Get(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if final.State != StateCompleted {
		t.Errorf("state = %q, want Completed", final.State)
	}
	if final.FinishedAt == nil {
		t.Error("FinishedAt not set")
	}

	trs, err := store.TaskRuns(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("TaskRuns: %v", err)
	}
	if len(trs) != 2 {
		t.Fatalf("task runs = %d, want 2", len(trs))
	}
	for _, tr := range trs {
		if tr.State != StateCompleted {
			t.Errorf("task %s state = %q", tr.TaskName, tr.State)
		}
	}
}

func TestWorkerRetriesThenFails(t *testing.T) {
	var calls atomic.Int32
	reg := NewRegistry()
	err := reg.AddFlow(Flow{
		Name: "flaky",
		Tasks: []Task{
			{
				Name:       "always-fails",
				Retries:    2,
				RetryDelay: time.Millisecond,
				Run: func(ctx context.Context, params map[string]any) (map[string]any, error) {
					calls.Add(1)
					return nil, errBoom
				},
			},
		},
	})
	if err != nil {
		t.Fatalf("AddFlow: %v", err)
	}
	if err := reg.AddDeployment(Deployment{Name: "flaky-adhoc", FlowName: "flaky", Pool: "default"}); err != nil {
		t.Fatalf("AddDeployment: %v", err)
	}

	w, store := testWorker(t, reg)
	enqueue(t, store, reg, "flaky-adhoc")
	claimed, _ := store.Claim(context.Background(), "default", w.Name)
	w.execute(context.Background(), claimed)

	if got := calls.Load(); got != 3 {
		t.Errorf("attempts = %d, want initial + 2 retries", got)
	}
	final, _ := store.Get(context.Background(), claimed.ID)
	if final.State != StateFailed {
		t.Errorf("state = %q, want Failed", final.State)
	}

	trs, _ := store.TaskRuns(context.Background(), claimed.ID)
	if len(trs) != 1 || trs[0].Attempts != 3 || trs[0].Error == "" {
		t.Errorf("task run = %+v", trs)
	}
}

func TestWorkerTaskCache(t *testing.T) {
	var calls atomic.Int32
	reg := NewRegistry()
	err := reg.AddFlow(Flow{
		Name: "cached",
		Tasks: []Task{
			{
				Name:      "expensive",
				Cacheable: true,
				CacheTTL:  time.Minute,
				Run: func(ctx context.Context, params map[string]any) (map[string]any, error) {
					calls.Add(1)
					return map[string]any{"value": 42}, nil
				},
			},
		},
	})
	if err != nil {
		t.Fatalf("AddFlow: %v", err)
	}
	if err := reg.AddDeployment(Deployment{Name: "cached-adhoc", FlowName: "cached", Pool: "default"}); err != nil {
		t.Fatalf("AddDeployment: %v", err)
	}

	w, store := testWorker(t, reg)
	for i := 0; i < 2; i++ {
		enqueue(t, store, reg, "cached-adhoc")
		claimed, _ := store.Claim(context.Background(), "default", w.Name)
		w.execute(context.Background(), claimed)
	}

	if got := calls.Load(); got != 1 {
		t.Errorf("task body ran %d times, want 1 (second run served from cache)", got)
	}
	runs, _ := store.Recent(context.Background(), "cached", 10)
	if len(runs) != 2 {
		t.Fatalf("run history = %d rows, want 2", len(runs))
	}
	for _, r := range runs {
		if r.State != StateCompleted {
			t.Errorf("run %s state = %q", r.ID, r.State)
		}
	}
}

func TestWorkerPanicIsCrashed(t *testing.T) {
	reg := NewRegistry()
	err := reg.AddFlow(Flow{
		Name: "panics",
		Tasks: []Task{
			{Name: "kaboom", Run: func(ctx context.Context, params map[string]any) (map[string]any, error) {
				panic("kaboom")
			}},
		},
	})
	if err != nil {
		t.Fatalf("AddFlow: %v", err)
	}
	if err := reg.AddDeployment(Deployment{Name: "panics-adhoc", FlowName: "panics", Pool: "default"}); err != nil {
		t.Fatalf("AddDeployment: %v", err)
	}

	w, store := testWorker(t, reg)
	enqueue(t, store, reg, "panics-adhoc")
	claimed, _ := store.Claim(context.Background(), "default", w.Name)
	w.execute(context.Background(), claimed)

	final, _ := store.Get(context.Background(), claimed.ID)
	if final.State != StateCrashed {
		t.Errorf("state = %q, want Crashed", final.State)
	}
}

func TestCancelPendingRun(t *testing.T) {
	reg := NewRegistry()
	if err := reg.AddFlow(Flow{Name: "noop", Tasks: []Task{{Name: "t", Run: func(ctx context.Context, params map[string]any) (map[string]any, error) { return nil, nil }}}}); err != nil {
		t.Fatalf("AddFlow: %v", err)
	}
	if err := reg.AddDeployment(Deployment{Name: "noop-adhoc", FlowName: "noop", Pool: "default"}); err != nil {
		t.Fatalf("AddDeployment: %v", err)
	}
	_, store := testWorker(t, reg)
	run := enqueue(t, store, reg, "noop-adhoc")

	if err := store.RequestCancel(context.Background(), run.ID); err != nil {
		t.Fatalf("RequestCancel: %v", err)
	}
	final, _ := store.Get(context.Background(), run.ID)
	if final.State != StateCancelled {
		t.Errorf("state = %q, want Cancelled", final.State)
	}

	// A cancelled run is no longer claimable.
	claimed, err := store.Claim(context.Background(), "default", "other-worker")
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if claimed != nil {
		t.Error("cancelled run should not be claimable")
	}
}

func TestExclusiveDeploymentSkipsOverlap(t *testing.T) {
	reg := NewRegistry()
	if err := reg.AddFlow(Flow{Name: "slow", Tasks: []Task{{Name: "t", Run: func(ctx context.Context, params map[string]any) (map[string]any, error) { return nil, nil }}}}); err != nil {
		t.Fatalf("AddFlow: %v", err)
	}
	if err := reg.AddDeployment(Deployment{Name: "slow-hourly", FlowName: "slow", Schedule: "0 * * * *", Pool: "default", Exclusive: true}); err != nil {
		t.Fatalf("AddDeployment: %v", err)
	}
	_, store := testWorker(t, reg)
	enqueue(t, store, reg, "slow-hourly")

	active, err := store.HasActiveRun(context.Background(), "slow-hourly")
	if err != nil {
		t.Fatalf("HasActiveRun: %v", err)
	}
	if !active {
		t.Error("pending run should count as active for exclusive deployments")
	}
}
