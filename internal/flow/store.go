package flow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/OpenParlCA/OP-Backend/internal/db"
)

// RunStore persists run history. All state transitions go through it so every
// run row tells the full story.
type RunStore struct {
	db *gorm.DB
}

func NewRunStore(d *gorm.DB) *RunStore { return &RunStore{db: d} }

// RegisterMigrations adds the runtime's schema to the shared migration chain.
func RegisterMigrations() {
	db.Register(
		db.Migration{
			Version: 20,
			Name:    "create flow run tables",
			Run: func(d *gorm.DB) error {
				return d.AutoMigrate(&FlowRun{}, &TaskRun{})
			},
		},
	)
}

// Ping verifies the run-history store is reachable; workers refuse to start
// without it.
func (s *RunStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Enqueue creates a Pending run for a deployment.
func (s *RunStore) Enqueue(ctx context.Context, d *Deployment, params map[string]any, scheduledAt time.Time) (*FlowRun, error) {
	merged := make(map[string]any, len(d.DefaultParams)+len(params))
	for k, v := range d.DefaultParams {
		merged[k] = v
	}
	for k, v := range params {
		merged[k] = v
	}
	run := &FlowRun{
		ID:             uuid.New(),
		FlowName:       d.FlowName,
		DeploymentName: d.Name,
		Pool:           d.Pool,
		State:          StatePending,
		Parameters:     merged,
		ScheduledAt:    scheduledAt.UTC(),
	}
	if err := s.db.WithContext(ctx).Create(run).Error; err != nil {
		return nil, fmt.Errorf("enqueue run: %w", err)
	}
	return run, nil
}

// Claim atomically moves the oldest due Pending run in the pool to Running
// for this worker. Returns nil when nothing is due. The compare-and-set WHERE
// keeps two workers from claiming the same run.
func (s *RunStore) Claim(ctx context.Context, pool, worker string) (*FlowRun, error) {
	now := time.Now().UTC()
	for {
		var run FlowRun
		err := s.db.WithContext(ctx).
			Where("pool = ? AND state = ? AND scheduled_at <= ?", pool, StatePending, now).
			Order("scheduled_at ASC").
			First(&run).Error
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("find pending run: %w", err)
		}

		res := s.db.WithContext(ctx).Model(&FlowRun{}).
			Where("id = ? AND state = ?", run.ID, StatePending).
			Updates(map[string]any{
				"state":       StateRunning,
				"worker_name": worker,
				"started_at":  now,
			})
		if res.Error != nil {
			return nil, fmt.Errorf("claim run: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			continue // another worker won, try the next run
		}
		run.State = StateRunning
		run.WorkerName = worker
		run.StartedAt = &now
		return &run, nil
	}
}

// HasActiveRun reports whether a deployment has a Pending or Running run,
// used to serialize exclusive deployments.
func (s *RunStore) HasActiveRun(ctx context.Context, deployment string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&FlowRun{}).
		Where("deployment_name = ? AND state IN ?", deployment, []RunState{StatePending, StateRunning}).
		Count(&n).Error
	return n > 0, err
}

// Finish moves a run to a terminal state with its structured result.
func (s *RunStore) Finish(ctx context.Context, id uuid.UUID, state RunState, result map[string]any, logTail string) error {
	if !state.Terminal() {
		return fmt.Errorf("finish with non-terminal state %q", state)
	}
	now := time.Now().UTC()
	return s.db.WithContext(ctx).Model(&FlowRun{}).
		Where("id = ?", id).
		Select("state", "finished_at", "result", "log_tail").
		Updates(FlowRun{State: state, FinishedAt: &now, Result: result, LogTail: logTail}).Error
}

// RequestCancel flags a run for cooperative cancellation. Pending runs are
// cancelled outright; Running runs stop dispatching at the next scheduling
// point.
func (s *RunStore) RequestCancel(ctx context.Context, id uuid.UUID) error {
	res := s.db.WithContext(ctx).Model(&FlowRun{}).
		Where("id = ? AND state = ?", id, StatePending).
		Updates(map[string]any{"state": StateCancelled, "finished_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}
	return s.db.WithContext(ctx).Model(&FlowRun{}).
		Where("id = ? AND state = ?", id, StateRunning).
		Update("cancel_requested", true).Error
}

// CancelRequested re-reads the cooperative cancellation flag.
func (s *RunStore) CancelRequested(ctx context.Context, id uuid.UUID) (bool, error) {
	var run FlowRun
	err := s.db.WithContext(ctx).Select("cancel_requested").First(&run, "id = ?", id).Error
	if err != nil {
		return false, err
	}
	return run.CancelRequested, nil
}

func (s *RunStore) Get(ctx context.Context, id uuid.UUID) (*FlowRun, error) {
	var run FlowRun
	err := s.db.WithContext(ctx).First(&run, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// Recent returns the newest runs, optionally filtered by flow name.
func (s *RunStore) Recent(ctx context.Context, flowName string, limit int) ([]FlowRun, error) {
	if limit <= 0 {
		limit = 50
	}
	q := s.db.WithContext(ctx).Model(&FlowRun{})
	if flowName != "" {
		q = q.Where("flow_name = ?", flowName)
	}
	var runs []FlowRun
	err := q.Order("created_at DESC").Limit(limit).Find(&runs).Error
	return runs, err
}

// CreateTaskRun records the start of a task execution.
func (s *RunStore) CreateTaskRun(ctx context.Context, flowRunID uuid.UUID, taskName string) (*TaskRun, error) {
	now := time.Now().UTC()
	tr := &TaskRun{
		ID:        uuid.New(),
		FlowRunID: flowRunID,
		TaskName:  taskName,
		State:     StateRunning,
		StartedAt: &now,
	}
	if err := s.db.WithContext(ctx).Create(tr).Error; err != nil {
		return nil, fmt.Errorf("create task run: %w", err)
	}
	return tr, nil
}

// FinishTaskRun records a task's terminal state.
func (s *RunStore) FinishTaskRun(ctx context.Context, id uuid.UUID, state RunState, attempts int, cacheHit bool, result map[string]any, taskErr string) error {
	now := time.Now().UTC()
	return s.db.WithContext(ctx).Model(&TaskRun{}).
		Where("id = ?", id).
		Select("state", "attempts", "cache_hit", "finished_at", "result", "error").
		Updates(TaskRun{State: state, Attempts: attempts, CacheHit: cacheHit, FinishedAt: &now, Result: result, Error: taskErr}).Error
}

// TaskRuns lists a run's task executions in start order.
func (s *RunStore) TaskRuns(ctx context.Context, flowRunID uuid.UUID) ([]TaskRun, error) {
	var trs []TaskRun
	err := s.db.WithContext(ctx).
		Where("flow_run_id = ?", flowRunID).
		Order("created_at ASC").Find(&trs).Error
	return trs, err
}
