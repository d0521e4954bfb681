package client

import (
	"encoding/json"
	"time"
)

// Task statuses reported by the gateway.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// SubmitRequest describes one generation job.
type SubmitRequest struct {
	// TaskType selects the vendor operation, e.g. "text-to-video".
	TaskType string `json:"task_type"`
	// Provider is the backend name, e.g. "kling" or "mock".
	Provider string `json:"provider"`
	// Params are passed to the provider adapter. Base64 data URIs are
	// uploaded by the gateway and replaced with URLs.
	Params map[string]any `json:"params,omitempty"`
	// Priority is "high", "normal" (default) or "low".
	Priority string `json:"priority,omitempty"`
	// CallbackURL receives the terminal task event.
	CallbackURL string `json:"callback_url,omitempty"`
}

// Accepted is returned by Submit.
type Accepted struct {
	TaskID  string `json:"task_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Task is the gateway's view of one task.
type Task struct {
	TaskID         string          `json:"task_id"`
	TaskType       string          `json:"task_type,omitempty"`
	Provider       string          `json:"provider,omitempty"`
	Status         string          `json:"status"`
	Progress       int             `json:"progress"`
	Result         json.RawMessage `json:"result,omitempty"`
	Error          string          `json:"error,omitempty"`
	ProviderTaskID string          `json:"provider_task_id,omitempty"`
	Priority       string          `json:"priority,omitempty"`
	CreatedAt      *time.Time      `json:"created_at,omitempty"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Done reports whether the task reached a terminal status.
func (t Task) Done() bool {
	return t.Status == StatusCompleted || t.Status == StatusFailed
}

// Artifact is the result of a completed task.
type Artifact struct {
	URL   string         `json:"url,omitempty"`
	URLs  []string       `json:"urls,omitempty"`
	Usage map[string]any `json:"usage,omitempty"`
	Extra map[string]any `json:"extra,omitempty"`
}

// Artifact decodes the result of a completed task.
func (t Task) Artifact() (*Artifact, error) {
	if t.Status != StatusCompleted || len(t.Result) == 0 {
		return nil, nil
	}
	var a Artifact
	if err := json.Unmarshal(t.Result, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// Upload is returned by Upload.
type Upload struct {
	URL         string `json:"url"`
	Key         string `json:"key"`
	ContentType string `json:"content_type"`
}

// Status represents the health check response.
type Status struct {
	Status string `json:"status"`
}
