package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultEndpoint is used when NewClient receives an empty endpoint.
const DefaultEndpoint = "http://127.0.0.1:8080"

// Client is the GenPulse SDK client.
type Client struct {
	endpoint string
	token    string
	http     *http.Client
}

// Option customizes a Client.
type Option func(*Client)

// WithToken sends "Authorization: Bearer <token>" on every call.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient replaces the default 30s-timeout HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// NewClient creates a new GenPulse client.
func NewClient(endpoint string, opts ...Option) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	c := &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		http:     &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIError is a non-2xx answer from the gateway.
type APIError struct {
	StatusCode int
	Code       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("genpulse: %s (http %d)", e.Code, e.StatusCode)
	}
	return fmt.Sprintf("genpulse: unexpected status: %d", e.StatusCode)
}

// Ping checks the health of the gateway.
func (c *Client) Ping(ctx context.Context) (Status, error) {
	var status Status
	err := c.do(ctx, http.MethodGet, "/v1/health", nil, "", &status)
	return status, err
}

// Submit queues a task and returns its id.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (Accepted, error) {
	if req.TaskType == "" || req.Provider == "" {
		return Accepted{}, fmt.Errorf("invalid request: task_type and provider are required")
	}
	body, err := json.Marshal(req)
	if err != nil {
		return Accepted{}, fmt.Errorf("failed to marshal request: %w", err)
	}
	var out Accepted
	err = c.do(ctx, http.MethodPost, "/v1/tasks", bytes.NewReader(body), "application/json", &out)
	return out, err
}

// Get returns the current state of a task.
func (c *Client) Get(ctx context.Context, taskID string) (Task, error) {
	var task Task
	err := c.do(ctx, http.MethodGet, "/v1/tasks/"+url.PathEscape(taskID), nil, "", &task)
	return task, err
}

// List returns the most recent tasks, newest first.
func (c *Client) List(ctx context.Context, limit int) ([]Task, error) {
	if limit <= 0 {
		limit = 50
	}
	var tasks []Task
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/v1/tasks?limit=%d", limit), nil, "", &tasks)
	return tasks, err
}

// Wait polls a task until it is completed or failed. A nil strategy uses
// DefaultBackoff. onUpdate, if set, sees every observed state.
func (c *Client) Wait(ctx context.Context, taskID string, strategy BackoffStrategy, onUpdate func(Task)) (Task, error) {
	if strategy == nil {
		strategy = DefaultBackoff()
	}
	for attempt := 0; ; attempt++ {
		task, err := c.Get(ctx, taskID)
		if err != nil {
			return Task{}, err
		}
		if onUpdate != nil {
			onUpdate(task)
		}
		if task.Done() {
			return task, nil
		}

		select {
		case <-time.After(strategy.Next(attempt)):
		case <-ctx.Done():
			return task, ctx.Err()
		}
	}
}

// Upload stores a file on the gateway and returns its public URL.
func (c *Client) Upload(ctx context.Context, filename string, r io.Reader) (Upload, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return Upload{}, err
	}
	if _, err := io.Copy(part, r); err != nil {
		return Upload{}, fmt.Errorf("failed to read upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return Upload{}, err
	}

	var out Upload
	err = c.do(ctx, http.MethodPost, "/v1/storage/upload", &buf, mw.FormDataContentType(), &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var payload struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&payload) == nil {
			apiErr.Code = payload.Error
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
