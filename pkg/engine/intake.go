package engine

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/isWangjianhua/GenPulse/pkg/blob"
	"github.com/isWangjianhua/GenPulse/pkg/provider"
	"github.com/isWangjianhua/GenPulse/pkg/store"
)

var dataURIPattern = regexp.MustCompile(`^data:(image|video|audio)/([a-zA-Z0-9]+);base64,(.+)$`)

var validPriorities = map[string]bool{"high": true, "normal": true, "low": true}

// SubmitRequest is the intake payload.
type SubmitRequest struct {
	TaskType    string          `json:"task_type"`
	Provider    string          `json:"provider"`
	Params      json.RawMessage `json:"params"`
	Priority    string          `json:"priority,omitempty"`
	CallbackURL string          `json:"callback_url,omitempty"`
}

// SubmitResponse acknowledges an accepted task.
type SubmitResponse struct {
	TaskID  string           `json:"task_id"`
	Status  store.TaskStatus `json:"status"`
	Message string           `json:"message"`
}

// ValidationError is a client mistake in a SubmitRequest. Code is a
// snake_case identifier suitable for an API error body.
type ValidationError struct {
	Code   string
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Detail)
}

// TaskCreator persists new records.
type TaskCreator interface {
	CreateTask(ctx context.Context, rec *store.TaskRecord) error
}

// IntakeDeps wires an Intake. Uploads is optional; without it data URIs
// are passed through untouched.
type IntakeDeps struct {
	Tasks   TaskCreator
	Queue   Requeuer
	Status  StatusPublisher
	Uploads blob.ArtifactStore
	Known   func(provider.Name) bool
	Logger  *slog.Logger
}

// Intake turns submit requests into a persisted pending record plus a
// queued message.
type Intake struct {
	deps   IntakeDeps
	logger *slog.Logger
	newID  func() string
}

func NewIntake(deps IntakeDeps) *Intake {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Intake{deps: deps, logger: logger, newID: uuid.NewString}
}

// Submit validates req, uploads inline media, stores the record and
// enqueues it. Errors other than *ValidationError are infrastructure
// failures.
func (in *Intake) Submit(ctx context.Context, req SubmitRequest) (*SubmitResponse, error) {
	if err := in.validate(&req); err != nil {
		return nil, err
	}

	taskID := in.newID()
	params, err := in.uploadInline(ctx, req.Params)
	if err != nil {
		return nil, err
	}

	rec := &store.TaskRecord{
		TaskID:      taskID,
		TaskType:    req.TaskType,
		Provider:    req.Provider,
		Status:      store.TaskPending,
		Params:      params,
		Priority:    req.Priority,
		CallbackURL: req.CallbackURL,
	}
	if err := in.deps.Tasks.CreateTask(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to persist task: %w", err)
	}

	msg := store.TaskMessage{
		TaskID:      taskID,
		TaskType:    req.TaskType,
		Provider:    req.Provider,
		Params:      params,
		Priority:    req.Priority,
		CallbackURL: req.CallbackURL,
	}
	if err := in.deps.Queue.Push(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to enqueue task: %w", err)
	}

	if in.deps.Status != nil {
		ev := store.TaskEvent{TaskID: taskID, Status: store.TaskPending, UpdatedAt: time.Now().UTC()}
		if err := in.deps.Status.Publish(ctx, ev); err != nil {
			in.logger.Warn("failed to publish initial status", "task_id", taskID, "error", err)
		}
	}

	in.logger.Info("task queued", "task_id", taskID, "provider", req.Provider, "task_type", req.TaskType, "priority", req.Priority)
	return &SubmitResponse{TaskID: taskID, Status: store.TaskPending, Message: "Task received and queued"}, nil
}

func (in *Intake) validate(req *SubmitRequest) error {
	req.TaskType = strings.TrimSpace(req.TaskType)
	req.Provider = strings.ToLower(strings.TrimSpace(req.Provider))
	if req.TaskType == "" {
		return &ValidationError{Code: "missing_task_type", Detail: "task_type is required"}
	}
	if req.Provider == "" {
		return &ValidationError{Code: "missing_provider", Detail: "provider is required"}
	}
	if in.deps.Known != nil && !in.deps.Known(provider.Name(req.Provider)) {
		return &ValidationError{Code: "unknown_provider", Detail: req.Provider}
	}
	if len(req.Params) == 0 || string(req.Params) == "null" {
		req.Params = json.RawMessage(`{}`)
	}
	if !json.Valid(req.Params) {
		return &ValidationError{Code: "invalid_params", Detail: "params must be valid JSON"}
	}
	if req.Priority == "" {
		req.Priority = "normal"
	}
	if !validPriorities[req.Priority] {
		return &ValidationError{Code: "invalid_priority", Detail: req.Priority}
	}
	if req.CallbackURL != "" && !strings.HasPrefix(req.CallbackURL, "http://") && !strings.HasPrefix(req.CallbackURL, "https://") {
		return &ValidationError{Code: "invalid_callback_url", Detail: req.CallbackURL}
	}
	return nil
}

// uploadInline replaces base64 data URIs anywhere in params with artifact
// URLs.
func (in *Intake) uploadInline(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	if in.deps.Uploads == nil || !bytes.Contains(params, []byte("data:")) {
		return params, nil
	}
	var doc any
	if err := json.Unmarshal(params, &doc); err != nil {
		return nil, &ValidationError{Code: "invalid_params", Detail: err.Error()}
	}
	out, err := json.Marshal(in.walk(ctx, doc))
	if err != nil {
		return nil, fmt.Errorf("failed to re-encode params: %w", err)
	}
	return out, nil
}

func (in *Intake) walk(ctx context.Context, v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			t[k] = in.walk(ctx, child)
		}
		return t
	case []any:
		for i, child := range t {
			t[i] = in.walk(ctx, child)
		}
		return t
	case string:
		if !strings.HasPrefix(t, "data:") || !dataURIPattern.MatchString(t) {
			return t
		}
		url, err := in.uploadDataURI(ctx, t)
		if err != nil {
			// Leave the value as is; the vendor rejects it downstream.
			in.logger.Error("failed to upload inline media", "error", err)
			return t
		}
		return url
	default:
		return v
	}
}

func (in *Intake) uploadDataURI(ctx context.Context, s string) (string, error) {
	m := dataURIPattern.FindStringSubmatch(s)
	if m == nil {
		return "", errors.New("not a base64 media data uri")
	}
	contentType := m[1] + "/" + m[2]
	data, err := base64.StdEncoding.DecodeString(m[3])
	if err != nil {
		return "", fmt.Errorf("invalid base64 payload: %w", err)
	}

	ext := m[2]
	if ext == "jpeg" {
		ext = "jpg"
	}
	key := path.Join("uploads", "b64_"+uuid.NewString()+"."+ext)
	return in.deps.Uploads.Save(ctx, key, bytes.NewReader(data), contentType)
}
