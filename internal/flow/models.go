package flow

import (
	"time"

	"github.com/google/uuid"
)

// RunState is the lifecycle of a flow or task run.
type RunState string

const (
	StatePending   RunState = "Pending"
	StateRunning   RunState = "Running"
	StateCompleted RunState = "Completed"
	StateFailed    RunState = "Failed"
	StateCrashed   RunState = "Crashed"
	StateCancelled RunState = "Cancelled"
)

// Terminal reports whether the state admits no further transitions.
func (s RunState) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCrashed, StateCancelled:
		return true
	}
	return false
}

// FlowRun is one durable execution of a deployment. History is append-only:
// re-running a flow creates a new row.
type FlowRun struct {
	ID uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`

	FlowName       string `json:"flow_name" gorm:"size:128;index"`
	DeploymentName string `json:"deployment_name" gorm:"size:128;index"`
	Pool           string `json:"pool" gorm:"size:64;index:idx_pool_state"`
	State          RunState `json:"state" gorm:"size:16;index:idx_pool_state"`

	Parameters map[string]any `json:"parameters" gorm:"serializer:json"`

	ScheduledAt time.Time  `json:"scheduled_at" gorm:"index"`
	StartedAt   *time.Time `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at"`

	WorkerName string `json:"worker_name" gorm:"size:128"`
	// CancelRequested is the cooperative cancellation flag; dispatch stops at
	// the next scheduling point.
	CancelRequested bool `json:"cancel_requested"`

	Result  map[string]any `json:"result" gorm:"serializer:json"`
	LogTail string         `json:"log_tail" gorm:"type:text"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TaskRun is one attempt-set of a task within a flow run.
type TaskRun struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	FlowRunID uuid.UUID `json:"flow_run_id" gorm:"type:uuid;index"`

	TaskName string   `json:"task_name" gorm:"size:128"`
	State    RunState `json:"state" gorm:"size:16"`
	Attempts int      `json:"attempts"`
	CacheHit bool     `json:"cache_hit"`

	StartedAt  *time.Time `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at"`

	Result map[string]any `json:"result" gorm:"serializer:json"`
	Error  string         `json:"error" gorm:"type:text"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (FlowRun) TableName() string { return "flow_runs" }
func (TaskRun) TableName() string { return "task_runs" }
