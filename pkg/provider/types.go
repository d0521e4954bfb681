package provider

import (
	"context"
	"encoding/json"
	"time"
)

// Name identifies a generation backend (e.g., "kling", "minimax").
type Name string

// Status is the normalized lifecycle state every adapter maps its vendor
// vocabulary onto.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
	StatusCanceled  Status = "CANCELED"
	StatusExpired   Status = "EXPIRED"
)

// Terminal reports whether no further transitions can happen from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCanceled, StatusExpired:
		return true
	}
	return false
}

// ErrorInfo is the structured error a vendor attached to a failed task.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Result holds references to generated artifacts. Binary payloads are never
// inlined here.
type Result struct {
	URL   string         `json:"url,omitempty"`
	URLs  []string       `json:"urls,omitempty"`
	Usage map[string]any `json:"usage,omitempty"`
	Extra map[string]any `json:"extra,omitempty"`
}

// PrimaryURL returns the first artifact URL, if any.
func (r *Result) PrimaryURL() string {
	if r == nil {
		return ""
	}
	if r.URL != "" {
		return r.URL
	}
	if len(r.URLs) > 0 {
		return r.URLs[0]
	}
	return ""
}

// StatusResponse is one observation of a remote task. It is built fresh on
// every fetch and not modified afterwards.
type StatusResponse struct {
	TaskID       string     `json:"task_id"`
	Status       Status     `json:"status"`
	VendorStatus string     `json:"vendor_status,omitempty"`
	Progress     int        `json:"progress,omitempty"`
	Result       *Result    `json:"result,omitempty"`
	Error        *ErrorInfo `json:"error,omitempty"`

	// SubTaskErrCode is set by vendors that report an outer "done" state
	// with a failed inner task.
	SubTaskErrCode int `json:"sub_task_err_code,omitempty"`
}

// IsFinished is true for SUCCEEDED, FAILED, CANCELED and EXPIRED.
func (r StatusResponse) IsFinished() bool {
	return r.Status.Terminal()
}

// IsSucceeded is true only for SUCCEEDED with no inner error code.
func (r StatusResponse) IsSucceeded() bool {
	return r.Status == StatusSucceeded && r.SubTaskErrCode == 0
}

// IsFailed is the default failure predicate: finished but not succeeded.
func (r StatusResponse) IsFailed() bool {
	return r.IsFinished() && !r.IsSucceeded()
}

// Request is the vendor-agnostic submission payload.
type Request struct {
	TaskType string          `json:"task_type"`
	Params   json.RawMessage `json:"params"`

	// IdempotencyKey carries the internal task id to vendors that accept an
	// external id. Not every vendor honours it.
	IdempotencyKey string `json:"-"`
}

// DecodeParams unmarshals the raw params into v.
func (r Request) DecodeParams(v any) error {
	if len(r.Params) == 0 {
		return nil
	}
	return json.Unmarshal(r.Params, v)
}

// PollConfig is the per-adapter polling cadence.
type PollConfig struct {
	Interval time.Duration
	Timeout  time.Duration
}

// DefaultPollConfig is used by adapters that do not declare their own.
var DefaultPollConfig = PollConfig{
	Interval: 2 * time.Second,
	Timeout:  300 * time.Second,
}

// Adapter translates generic requests into one vendor's API.
//
// Submit creates remote work and is not deduplicated here: a caller that
// retries after a network failure may create a second remote task.
type Adapter interface {
	Name() Name
	Submit(ctx context.Context, req Request) (string, error)
	FetchStatus(ctx context.Context, taskID string) (StatusResponse, error)
	PollConfig() PollConfig
}

// Classifier lets an adapter override the default success/failure
// predicates handed to the polling engine.
type Classifier interface {
	IsSucceeded(StatusResponse) bool
	IsFailed(StatusResponse) bool
}

// Predicates returns the success and failure checks for a.
func Predicates(a Adapter) (func(StatusResponse) bool, func(StatusResponse) bool) {
	if c, ok := a.(Classifier); ok {
		return c.IsSucceeded, c.IsFailed
	}
	return StatusResponse.IsSucceeded, StatusResponse.IsFailed
}
