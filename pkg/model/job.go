package model

import (
	"encoding/json"
	"time"
)

// JobStatus is the lifecycle state of a queued operation.
type JobStatus string

// Job statuses. Progression is monotonic:
// pending -> processing -> (completed | failed | cancelled),
// with failed attempts returning to pending while retries remain.
const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobCancelled  JobStatus = "cancelled"
)

// Terminal reports whether the status is a terminal state.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobCancelled:
		return true
	default:
		return false
	}
}

// OperationJob is a persistent unit of device work. Rows survive process
// restarts; transitions from pending to processing are serialized by the
// single queue worker.
type OperationJob struct {
	ID          string          `json:"job_id"`
	DeviceID    string          `json:"device_id"`
	DeviceKind  DeviceKind      `json:"device_kind"`
	Operation   string          `json:"operation"`
	Params      json.RawMessage `json:"params,omitempty"`
	Status      JobStatus       `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Error       string          `json:"error,omitempty"`
	RetryCount  int             `json:"retry_count"`
}
