package types

import (
	"time"
)

// Priority is the queue class of a task
type Priority int

const (
	// PriorityNormal tasks are appended to the queue tail
	PriorityNormal Priority = iota
	// PriorityHigh tasks are inserted at the queue head
	PriorityHigh
)

// String returns the string representation of Priority
func (p Priority) String() string {
	switch p {
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	default:
		return "unknown"
	}
}

// ParsePriority parses "normal" or "high"; the empty string means normal
func ParsePriority(s string) (Priority, bool) {
	switch s {
	case "", "normal":
		return PriorityNormal, true
	case "high":
		return PriorityHigh, true
	default:
		return PriorityNormal, false
	}
}

// Status is the lifecycle state of a task
type Status string

const (
	StatusQueued      Status = "queued"
	StatusActive      Status = "active"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusTimeout     Status = "timeout"
	StatusWorkerError Status = "worker-error"
	StatusCancelled   Status = "cancelled"
)

// Terminal reports whether no further transition can happen from s
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimeout, StatusWorkerError, StatusCancelled:
		return true
	default:
		return false
	}
}

// StatusForKind maps a failure kind to the terminal status it produces
func StatusForKind(k ErrorKind) Status {
	switch k {
	case KindHandler:
		return StatusFailed
	case KindWorker:
		return StatusWorkerError
	case KindTimeout:
		return StatusTimeout
	case KindCancelled:
		return StatusCancelled
	default:
		return StatusFailed
	}
}

// Descriptor describes one unit of work. It is not modified after submission.
type Descriptor struct {
	// ID is a unique, sortable identifier
	ID string

	// Type selects the handler that processes the payload
	Type string

	// Payload is passed to the handler untouched
	Payload any

	// Priority is the queue class
	Priority Priority

	// Timeout is the deadline measured from submission
	Timeout time.Duration

	// CreatedAt is the submission time
	CreatedAt time.Time
}

// Record is the terminal outcome of a task
type Record struct {
	TaskID string `json:"task_id"`
	Type   string `json:"type"`
	Status Status `json:"status"`

	// Value is the handler output for completed tasks
	Value any `json:"value,omitempty"`

	// Err is set for every status except completed
	Err error `json:"-"`

	// WorkerID is -1 when the task never reached a worker
	WorkerID int `json:"worker_id"`

	CreatedAt   time.Time `json:"created_at"`
	AssignedAt  time.Time `json:"assigned_at,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}

// Succeeded reports whether the task completed normally
func (r Record) Succeeded() bool {
	return r.Status == StatusCompleted
}

// WorkerStats is a snapshot of one worker slot
type WorkerStats struct {
	ID             int       `json:"id"`
	Busy           bool      `json:"busy"`
	TaskID         string    `json:"task_id,omitempty"`
	TasksCompleted int64     `json:"tasks_completed"`
	Faults         int64     `json:"faults"`
	LastUsed       time.Time `json:"last_used"`
}

// BatchResult is the settled outcome of one batch member
type BatchResult struct {
	// Index is the position of the request in the batch
	Index int `json:"index"`

	// TaskID is empty when the request was rejected before queueing
	TaskID string `json:"task_id,omitempty"`

	Success bool `json:"success"`

	// Value is the handler output
	Value any `json:"value,omitempty"`

	// Err is the failure, nil on success
	Err error `json:"-"`

	// Duration is the time from submission to settlement
	Duration time.Duration `json:"duration"`
}

// BatchReport aggregates a batch submission
type BatchReport struct {
	Results      []BatchResult `json:"results"`
	SuccessCount int           `json:"success_count"`
	TotalCount   int           `json:"total_count"`
}
