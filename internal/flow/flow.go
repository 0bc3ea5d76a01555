// Package flow is the durable ingestion runtime: named flows composed of
// retryable tasks, deployments binding flows to cron schedules and work
// pools, and workers that poll for runs and execute them with bounded task
// concurrency.
package flow

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/crypto/blake2b"
)

// Task defaults.
const (
	DefaultRetries    = 3
	DefaultRetryDelay = 60 * time.Second
	DefaultCacheTTL   = time.Hour
	DefaultTaskLimit  = 10
)

// TaskFunc is the unit of work. Params are the flow run's parameters; the
// returned map is persisted as the task's structured result.
type TaskFunc func(ctx context.Context, params map[string]any) (map[string]any, error)

// Task declares one retryable unit inside a flow.
type Task struct {
	Name string
	Run  TaskFunc

	// DependsOn lists task names that must complete first. Independent tasks
	// may execute concurrently.
	DependsOn []string

	// Retries and RetryDelay govern re-execution after failure; zero values
	// take the defaults. RetryDelay grows exponentially per attempt.
	Retries    int
	RetryDelay time.Duration

	// Cacheable tasks reuse a prior result when the input hash matches within
	// CacheTTL.
	Cacheable bool
	CacheTTL  time.Duration
}

func (t Task) retries() int {
	if t.Retries > 0 {
		return t.Retries
	}
	return DefaultRetries
}

func (t Task) retryDelay() time.Duration {
	if t.RetryDelay > 0 {
		return t.RetryDelay
	}
	return DefaultRetryDelay
}

func (t Task) cacheTTL() time.Duration {
	if t.CacheTTL > 0 {
		return t.CacheTTL
	}
	return DefaultCacheTTL
}

// CacheKey hashes the task identity plus its inputs. Two runs with equal
// parameters share one key.
func (t Task) CacheKey(params map[string]any) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	h, _ := blake2b.New256(nil)
	h.Write([]byte(t.Name))
	for _, k := range keys {
		raw, _ := json.Marshal(params[k])
		h.Write([]byte(k))
		h.Write(raw)
	}
	return "task:" + hex.EncodeToString(h.Sum(nil))
}

// Flow is a named, versioned ingestion program.
type Flow struct {
	Name    string
	Version string
	Tasks   []Task
}

// ordered returns tasks in dependency-respecting waves; tasks within a wave
// are independent of each other.
func (f Flow) ordered() ([][]Task, error) {
	byName := make(map[string]Task, len(f.Tasks))
	for _, t := range f.Tasks {
		if _, dup := byName[t.Name]; dup {
			return nil, fmt.Errorf("flow %s: duplicate task %q", f.Name, t.Name)
		}
		byName[t.Name] = t
	}

	done := make(map[string]bool, len(f.Tasks))
	var waves [][]Task
	remaining := len(f.Tasks)
	for remaining > 0 {
		var wave []Task
		for _, t := range f.Tasks {
			if done[t.Name] {
				continue
			}
			ready := true
			for _, dep := range t.DependsOn {
				if _, ok := byName[dep]; !ok {
					return nil, fmt.Errorf("flow %s: task %q depends on unknown task %q", f.Name, t.Name, dep)
				}
				if !done[dep] {
					ready = false
					break
				}
			}
			if ready {
				wave = append(wave, t)
			}
		}
		if len(wave) == 0 {
			return nil, fmt.Errorf("flow %s: dependency cycle", f.Name)
		}
		for _, t := range wave {
			done[t.Name] = true
		}
		remaining -= len(wave)
		waves = append(waves, wave)
	}
	return waves, nil
}

// Deployment binds a flow to a schedule and a work pool.
type Deployment struct {
	Name     string
	FlowName string
	// Schedule is a standard 5-field cron expression evaluated in UTC. Empty
	// means ad-hoc only.
	Schedule      string
	Pool          string
	DefaultParams map[string]any
	// Exclusive deployments never overlap: a schedule firing while a prior
	// run is still in flight is skipped.
	Exclusive bool

	schedule cron.Schedule
}

// Next returns the next fire time strictly after t, or zero for ad-hoc
// deployments.
func (d *Deployment) Next(t time.Time) time.Time {
	if d.schedule == nil {
		return time.Time{}
	}
	return d.schedule.Next(t.UTC())
}

// Registry holds the flows and deployments a worker can execute, assembled at
// startup.
type Registry struct {
	flows       map[string]Flow
	deployments map[string]*Deployment
}

func NewRegistry() *Registry {
	return &Registry{
		flows:       make(map[string]Flow),
		deployments: make(map[string]*Deployment),
	}
}

func (r *Registry) AddFlow(f Flow) error {
	if f.Name == "" {
		return fmt.Errorf("flow needs a name")
	}
	if _, err := f.ordered(); err != nil {
		return err
	}
	if _, dup := r.flows[f.Name]; dup {
		return fmt.Errorf("flow %q already registered", f.Name)
	}
	r.flows[f.Name] = f
	return nil
}

func (r *Registry) AddDeployment(d Deployment) error {
	if d.Name == "" || d.FlowName == "" {
		return fmt.Errorf("deployment needs a name and a flow")
	}
	if _, ok := r.flows[d.FlowName]; !ok {
		return fmt.Errorf("deployment %q references unknown flow %q", d.Name, d.FlowName)
	}
	if _, dup := r.deployments[d.Name]; dup {
		return fmt.Errorf("deployment %q already registered", d.Name)
	}
	if d.Schedule != "" {
		sched, err := cron.ParseStandard(d.Schedule)
		if err != nil {
			return fmt.Errorf("deployment %q schedule: %w", d.Name, err)
		}
		d.schedule = sched
	}
	r.deployments[d.Name] = &d
	return nil
}

func (r *Registry) Flow(name string) (Flow, bool) {
	f, ok := r.flows[name]
	return f, ok
}

func (r *Registry) Deployment(name string) (*Deployment, bool) {
	d, ok := r.deployments[name]
	return d, ok
}

// Deployments returns all registered deployments in name order.
func (r *Registry) Deployments() []*Deployment {
	names := make([]string, 0, len(r.deployments))
	for name := range r.deployments {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]*Deployment, 0, len(names))
	for _, name := range names {
		out = append(out, r.deployments[name])
	}
	return out
}
