package kling

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/pkg/errors"

	"github.com/isWangjianhua/GenPulse/pkg/provider"
)

const (
	Name           provider.Name = "kling"
	defaultBaseURL               = "https://api.klingai.com"

	kindText2Video  = "text2video"
	kindImage2Video = "image2video"
	kindMultiImage  = "multi-image2video"

	// codeNotFound is the business code for a task id Kling does not know.
	codeNotFound = 1203
)

// Adapter talks to the Kling video API. Every request carries a short-lived
// JWT signed with the secret key.
type Adapter struct {
	accessKey string
	secretKey string
	baseURL   string
	http      *provider.JSONClient
	poll      provider.PollConfig
	now       func() time.Time
}

// New builds the adapter from its provider configuration.
func New(cfg provider.ProviderConfig) (provider.Adapter, error) {
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("kling: access key and secret key are required")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Adapter{
		accessKey: cfg.APIKey,
		secretKey: cfg.SecretKey,
		baseURL:   strings.TrimRight(baseURL, "/"),
		http:      provider.NewJSONClient(Name, 30*time.Second),
		poll: cfg.Apply(provider.PollConfig{
			Interval: 15 * time.Second,
			Timeout:  40 * time.Minute,
		}),
		now: time.Now,
	}, nil
}

func (a *Adapter) Name() provider.Name { return Name }

func (a *Adapter) PollConfig() provider.PollConfig { return a.poll }

type envelope struct {
	Code      int       `json:"code"`
	Message   string    `json:"message"`
	RequestID string    `json:"request_id"`
	Data      *taskData `json:"data"`
}

type taskData struct {
	TaskID        string      `json:"task_id"`
	TaskStatus    string      `json:"task_status"` // submitted, processing, succeed, failed
	TaskStatusMsg string      `json:"task_status_msg"`
	TaskResult    *taskResult `json:"task_result"`
}

type taskResult struct {
	Videos []struct {
		ID       string `json:"id"`
		URL      string `json:"url"`
		Duration string `json:"duration"`
	} `json:"videos"`
}

// Submit routes the request to the endpoint matching its task type. The
// returned id is "<kind>:<kling task id>" so FetchStatus can find the
// matching query endpoint without keeping state.
func (a *Adapter) Submit(ctx context.Context, req provider.Request) (string, error) {
	kind, err := endpointFor(req.TaskType)
	if err != nil {
		return "", &provider.SubmissionError{Provider: Name, Code: "unsupported_task_type", Message: err.Error()}
	}

	var body map[string]any
	if err := req.DecodeParams(&body); err != nil {
		return "", &provider.SubmissionError{Provider: Name, Code: "invalid_params", Message: err.Error()}
	}
	if body == nil {
		body = make(map[string]any)
	}
	if _, ok := body["external_task_id"]; !ok && req.IdempotencyKey != "" {
		body["external_task_id"] = req.IdempotencyKey
	}

	headers, err := a.headers()
	if err != nil {
		return "", err
	}

	var resp envelope
	url := fmt.Sprintf("%s/v1/videos/%s", a.baseURL, kind)
	if err := a.http.Do(ctx, http.MethodPost, url, headers, body, &resp); err != nil {
		return "", a.http.SubmitErr(err)
	}
	if resp.Code != 0 || resp.Data == nil || resp.Data.TaskID == "" {
		return "", &provider.SubmissionError{Provider: Name, Code: fmt.Sprint(resp.Code), Message: resp.Message}
	}
	return kind + ":" + resp.Data.TaskID, nil
}

func (a *Adapter) FetchStatus(ctx context.Context, taskID string) (provider.StatusResponse, error) {
	kind, id := splitTaskID(taskID)

	headers, err := a.headers()
	if err != nil {
		return provider.StatusResponse{}, err
	}

	var resp envelope
	url := fmt.Sprintf("%s/v1/videos/%s/%s", a.baseURL, kind, id)
	if err := a.http.Do(ctx, http.MethodGet, url, headers, nil, &resp); err != nil {
		return provider.StatusResponse{}, a.http.FetchErr(taskID, err)
	}
	if resp.Code == codeNotFound {
		return provider.StatusResponse{}, &provider.FatalError{Provider: Name, TaskID: taskID, Message: resp.Message}
	}
	if resp.Code != 0 || resp.Data == nil {
		return provider.StatusResponse{}, errors.Errorf("kling: query %s: code %d: %s", taskID, resp.Code, resp.Message)
	}
	return toStatus(taskID, resp.Data), nil
}

func toStatus(taskID string, d *taskData) provider.StatusResponse {
	out := provider.StatusResponse{TaskID: taskID, VendorStatus: d.TaskStatus}
	switch d.TaskStatus {
	case "submitted":
		out.Status = provider.StatusPending
	case "processing":
		out.Status = provider.StatusRunning
	case "succeed":
		out.Status = provider.StatusSucceeded
		out.Progress = 100
		res := &provider.Result{}
		if d.TaskResult != nil {
			for _, v := range d.TaskResult.Videos {
				res.URLs = append(res.URLs, v.URL)
			}
		}
		if len(res.URLs) > 0 {
			res.URL = res.URLs[0]
		}
		out.Result = res
	case "failed":
		out.Status = provider.StatusFailed
		out.Error = &provider.ErrorInfo{Code: "failed", Message: d.TaskStatusMsg}
	default:
		out.Status = provider.StatusRunning
	}
	return out
}

func (a *Adapter) headers() (map[string]string, error) {
	token, err := a.token()
	if err != nil {
		return nil, err
	}
	return map[string]string{"Authorization": "Bearer " + token}, nil
}

// token issues a 30 minute HS256 JWT with the access key as issuer.
func (a *Adapter) token() (string, error) {
	now := a.now().Unix()
	claims := jwt.MapClaims{
		"iss": a.accessKey,
		"exp": now + 1800,
		"nbf": now - 5,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["typ"] = "JWT"
	signed, err := token.SignedString([]byte(a.secretKey))
	if err != nil {
		return "", errors.Wrap(err, "kling: sign token")
	}
	return signed, nil
}

func endpointFor(taskType string) (string, error) {
	switch taskType {
	case "", "text-to-video":
		return kindText2Video, nil
	case "image-to-video":
		return kindImage2Video, nil
	case "multi-image-to-video":
		return kindMultiImage, nil
	}
	return "", fmt.Errorf("task type %q is not supported by kling", taskType)
}

func splitTaskID(taskID string) (kind, id string) {
	if i := strings.Index(taskID, ":"); i > 0 {
		return taskID[:i], taskID[i+1:]
	}
	return kindText2Video, taskID
}

