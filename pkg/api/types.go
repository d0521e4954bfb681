package api

import (
	"encoding/json"
	"time"

	"github.com/isWangjianhua/GenPulse/pkg/store"
)

// TaskView is the body of GET /v1/tasks/{id} and each element of
// GET /v1/tasks. Fields only the record knows are empty when the answer
// came from the status cache.
type TaskView struct {
	TaskID         string           `json:"task_id"`
	TaskType       string           `json:"task_type,omitempty"`
	Provider       string           `json:"provider,omitempty"`
	Status         store.TaskStatus `json:"status"`
	Progress       int              `json:"progress"`
	Result         json.RawMessage  `json:"result,omitempty"`
	Error          string           `json:"error,omitempty"`
	ProviderTaskID string           `json:"provider_task_id,omitempty"`
	Priority       string           `json:"priority,omitempty"`
	CreatedAt      *time.Time       `json:"created_at,omitempty"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// UploadResponse is the body of POST /v1/storage/upload.
type UploadResponse struct {
	URL         string `json:"url"`
	Key         string `json:"key"`
	ContentType string `json:"content_type"`
}

func viewFromRecord(rec *store.TaskRecord) TaskView {
	created := rec.CreatedAt
	return TaskView{
		TaskID:         rec.TaskID,
		TaskType:       rec.TaskType,
		Provider:       rec.Provider,
		Status:         rec.Status,
		Progress:       rec.Progress,
		Result:         rec.Result,
		Error:          rec.Error,
		ProviderTaskID: rec.ProviderTaskID,
		Priority:       rec.Priority,
		CreatedAt:      &created,
		UpdatedAt:      rec.UpdatedAt,
	}
}

func viewFromEvent(ev *store.TaskEvent) TaskView {
	return TaskView{
		TaskID:    ev.TaskID,
		Status:    ev.Status,
		Progress:  ev.Progress,
		Result:    ev.Result,
		Error:     ev.Error,
		UpdatedAt: ev.UpdatedAt,
	}
}
