package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/OpenParlCA/OP-Backend/internal/cache"
)

// Worker polls one work pool for due runs and executes them. Task-level
// concurrency within a run is bounded by TaskLimit; the worker itself
// executes one run at a time so a pool scales by adding workers.
type Worker struct {
	Store    *RunStore
	Registry *Registry
	Cache    cache.Store

	Pool         string
	Name         string
	PollInterval time.Duration
	TaskLimit    int
	TaskTimeout  time.Duration
}

// Start verifies connectivity, launches the schedule loop, and polls for runs
// until ctx is cancelled. A startup check failure returns without claiming
// anything.
func (w *Worker) Start(ctx context.Context) error {
	if err := w.Store.Ping(ctx); err != nil {
		return fmt.Errorf("run-history store unreachable: %w", err)
	}
	if err := w.Cache.Ping(ctx); err != nil {
		return fmt.Errorf("task cache unreachable: %w", err)
	}

	poll := w.PollInterval
	if poll <= 0 {
		poll = 5 * time.Second
	}
	log.Printf("[flow] worker %s polling pool %q every %s", w.Name, w.Pool, poll)

	go w.scheduleLoop(ctx, poll)

	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		run, err := w.Store.Claim(ctx, w.Pool, w.Name)
		if err != nil {
			log.Printf("[flow] claim: %v", err)
		} else if run != nil {
			w.execute(ctx, run)
			continue // drain the queue before sleeping
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// scheduleLoop enqueues runs for scheduled deployments when their cron
// expressions fire. Exclusive deployments skip the tick while a prior run is
// active.
func (w *Worker) scheduleLoop(ctx context.Context, poll time.Duration) {
	next := make(map[string]time.Time)
	now := time.Now().UTC()
	for _, d := range w.Registry.Deployments() {
		if t := d.Next(now); !t.IsZero() {
			next[d.Name] = t
		}
	}

	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		now := time.Now().UTC()
		for _, d := range w.Registry.Deployments() {
			due, ok := next[d.Name]
			if !ok || now.Before(due) {
				continue
			}
			next[d.Name] = d.Next(now)

			if d.Exclusive {
				active, err := w.Store.HasActiveRun(ctx, d.Name)
				if err != nil {
					log.Printf("[flow] %s: active-run check: %v", d.Name, err)
					continue
				}
				if active {
					log.Printf("[flow] %s: prior run still active, skipping tick", d.Name)
					continue
				}
			}
			if _, err := w.Store.Enqueue(ctx, d, nil, due); err != nil {
				log.Printf("[flow] %s: enqueue: %v", d.Name, err)
			}
		}
	}
}

// execute runs one claimed flow run to a terminal state. Panics surface as
// Crashed, never as a dead worker.
func (w *Worker) execute(ctx context.Context, run *FlowRun) {
	fl, ok := w.Registry.Flow(run.FlowName)
	if !ok {
		w.finish(ctx, run, StateFailed, nil, fmt.Sprintf("unknown flow %q", run.FlowName))
		return
	}
	waves, err := fl.ordered()
	if err != nil {
		w.finish(ctx, run, StateFailed, nil, err.Error())
		return
	}

	defer func() {
		if r := recover(); r != nil {
			log.Printf("[flow] run %s crashed: %v\n%s", run.ID, r, debug.Stack())
			w.finish(ctx, run, StateCrashed, nil, fmt.Sprintf("panic: %v", r))
		}
	}()

	log.Printf("[flow] run %s: %s (%d tasks)", run.ID, run.FlowName, len(fl.Tasks))

	var (
		mu       sync.Mutex
		results  = map[string]any{}
		logLines []string
		failed   bool
	)
	logf := func(format string, args ...any) {
		line := fmt.Sprintf(format, args...)
		log.Printf("[flow] run %s: %s", run.ID, line)
		mu.Lock()
		logLines = append(logLines, line)
		mu.Unlock()
	}

	limit := w.TaskLimit
	if limit <= 0 {
		limit = DefaultTaskLimit
	}

	for _, wave := range waves {
		// Scheduling point: honor cooperative cancellation between waves.
		cancelled, err := w.Store.CancelRequested(ctx, run.ID)
		if err != nil {
			logf("cancellation check: %v", err)
		}
		if cancelled || ctx.Err() != nil {
			w.finish(ctx, run, StateCancelled, results, strings.Join(logLines, "\n"))
			return
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(limit)
		for _, task := range wave {
			task := task
			g.Go(func() error {
				result, err := w.runTask(gctx, run, task, logf)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					failed = true
					results[task.Name] = map[string]any{"error": err.Error()}
					return nil // siblings in the wave finish
				}
				results[task.Name] = result
				return nil
			})
		}
		g.Wait()
		if failed {
			break
		}
	}

	state := StateCompleted
	if failed {
		state = StateFailed
	}
	w.finish(ctx, run, state, results, strings.Join(logLines, "\n"))
}

// runTask executes one task with cache lookup and the retry policy.
func (w *Worker) runTask(ctx context.Context, run *FlowRun, task Task, logf func(string, ...any)) (map[string]any, error) {
	tr, err := w.Store.CreateTaskRun(ctx, run.ID, task.Name)
	if err != nil {
		return nil, err
	}

	if task.Cacheable {
		key := task.CacheKey(run.Parameters)
		if raw, ok := w.Cache.Get(ctx, key); ok {
			var cached map[string]any
			if json.Unmarshal(raw, &cached) == nil {
				logf("task %s: cache hit", task.Name)
				_ = w.Store.FinishTaskRun(ctx, tr.ID, StateCompleted, 0, true, cached, "")
				return cached, nil
			}
		}
	}

	var (
		result  map[string]any
		lastErr error
	)
	attempts := 0
	delay := task.retryDelay()
	for attempts < task.retries()+1 {
		attempts++
		result, lastErr = w.attemptTask(ctx, task, run.Parameters)
		if lastErr == nil {
			break
		}
		logf("task %s: attempt %d failed: %v", task.Name, attempts, lastErr)
		if attempts >= task.retries()+1 || ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
		case <-time.After(delay):
		}
		delay *= 2
	}

	if lastErr != nil {
		_ = w.Store.FinishTaskRun(ctx, tr.ID, StateFailed, attempts, false, nil, lastErr.Error())
		return nil, lastErr
	}

	if task.Cacheable {
		if raw, err := json.Marshal(result); err == nil {
			w.Cache.Set(ctx, task.CacheKey(run.Parameters), raw, task.cacheTTL())
		}
	}
	logf("task %s: completed after %d attempt(s)", task.Name, attempts)
	_ = w.Store.FinishTaskRun(ctx, tr.ID, StateCompleted, attempts, false, result, "")
	return result, nil
}

// attemptTask runs one attempt under the soft task timeout.
func (w *Worker) attemptTask(ctx context.Context, task Task, params map[string]any) (map[string]any, error) {
	timeout := w.TaskTimeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return task.Run(tctx, params)
}

func (w *Worker) finish(ctx context.Context, run *FlowRun, state RunState, results map[string]any, logTail string) {
	// The run ctx may already be cancelled; the terminal state must still land.
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
	}
	if err := w.Store.Finish(ctx, run.ID, state, results, logTail); err != nil {
		log.Printf("[flow] run %s: persist %s: %v", run.ID, state, err)
	}
	log.Printf("[flow] run %s: %s", run.ID, state)
}
