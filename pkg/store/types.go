package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// TaskStatus is the dispatch-level lifecycle of a task record. It is
// coarser than the vendor status carried in provider.StatusResponse.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskProcessing TaskStatus = "processing"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// Terminal reports whether the record can no longer change state.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// ErrTaskNotFound is returned when no record exists for a task id.
var ErrTaskNotFound = errors.New("task not found")

// TaskRecord is the persisted dispatch record: one intake request, one
// provider, one outcome.
type TaskRecord struct {
	TaskID         string          `json:"task_id"`
	TaskType       string          `json:"task_type"`
	Provider       string          `json:"provider"`
	Status         TaskStatus      `json:"status"`
	Progress       int             `json:"progress"`
	Params         json.RawMessage `json:"params,omitempty"`
	Result         json.RawMessage `json:"result,omitempty"`
	Error          string          `json:"error,omitempty"`
	ProviderTaskID string          `json:"provider_task_id,omitempty"`
	Priority       string          `json:"priority"`
	CallbackURL    string          `json:"callback_url,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// TaskUpdate carries the fields a transition may change. Nil pointers are
// left untouched.
type TaskUpdate struct {
	Status         TaskStatus
	Progress       *int
	Result         json.RawMessage
	Error          *string
	ProviderTaskID *string
}

// TaskMessage is the queue payload. Re-queuing after a rate-gate denial
// pushes the identical message so the internal task id is preserved.
type TaskMessage struct {
	TaskID      string          `json:"task_id"`
	TaskType    string          `json:"task_type"`
	Provider    string          `json:"provider"`
	Params      json.RawMessage `json:"params"`
	Priority    string          `json:"priority"`
	CallbackURL string          `json:"callback_url,omitempty"`

	// ProviderTaskID is set on a resume message: the vendor already accepted
	// the task, so the worker tracks it instead of submitting again.
	ProviderTaskID string `json:"provider_task_id,omitempty"`
}

// TaskEvent is the status snapshot cached and published after every
// transition.
type TaskEvent struct {
	TaskID    string          `json:"task_id"`
	Status    TaskStatus      `json:"status"`
	Progress  int             `json:"progress"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Lease is a named, expiring claim held by one process.
type Lease struct {
	Name      string    `json:"name"`
	HolderID  string    `json:"holder_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// LeaseStore hands out exclusive leases so that only one process runs a
// periodic job at a time.
type LeaseStore interface {
	// Acquire takes the lease, or renews it if holderID already holds it.
	Acquire(ctx context.Context, name, holderID string, ttl time.Duration) (bool, error)

	// Release drops the lease if holderID holds it.
	Release(ctx context.Context, name, holderID string) error

	// Get returns the current holder, or nil if the lease is free.
	Get(ctx context.Context, name string) (*Lease, error)
}
