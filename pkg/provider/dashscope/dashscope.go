package dashscope

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/isWangjianhua/GenPulse/pkg/provider"
)

const (
	Name           provider.Name = "dashscope"
	defaultBaseURL               = "https://dashscope.aliyuncs.com/api/v1"
)

var endpoints = map[string]string{
	"":               "/services/aigc/text2image/image-synthesis",
	"text-to-image":  "/services/aigc/text2image/image-synthesis",
	"image-to-image": "/services/aigc/image2image/image-synthesis",
	"text-to-video":  "/services/aigc/video-generation/video-synthesis",
	"image-to-video": "/services/aigc/video-generation/video-synthesis",
}

// Adapter submits asynchronous DashScope (Bailian) synthesis tasks.
type Adapter struct {
	apiKey  string
	model   string
	baseURL string
	http    *provider.JSONClient
	poll    provider.PollConfig
}

func New(cfg provider.ProviderConfig) (provider.Adapter, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("dashscope: api key is required")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Adapter{
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    provider.NewJSONClient(Name, 30*time.Second),
		poll: cfg.Apply(provider.PollConfig{
			Interval: 5 * time.Second,
			Timeout:  10 * time.Minute,
		}),
	}, nil
}

func (a *Adapter) Name() provider.Name { return Name }

func (a *Adapter) PollConfig() provider.PollConfig { return a.poll }

type params struct {
	Model          string         `json:"model"`
	Prompt         string         `json:"prompt"`
	NegativePrompt string         `json:"negative_prompt,omitempty"`
	ImageURL       string         `json:"img_url,omitempty"`
	Input          map[string]any `json:"input,omitempty"`
	Parameters     map[string]any `json:"parameters,omitempty"`
}

type createBody struct {
	Model      string         `json:"model"`
	Input      map[string]any `json:"input"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

type taskResponse struct {
	RequestID string `json:"request_id"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Output    struct {
		TaskID     string `json:"task_id"`
		TaskStatus string `json:"task_status"`
		Results    []struct {
			URL     string `json:"url"`
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"results"`
		VideoURL string `json:"video_url"`
		Code     string `json:"code"`
		Message  string `json:"message"`
	} `json:"output"`
	Usage map[string]any `json:"usage"`
}

func (a *Adapter) Submit(ctx context.Context, req provider.Request) (string, error) {
	path, ok := endpoints[req.TaskType]
	if !ok {
		return "", &provider.SubmissionError{Provider: Name, Code: "unsupported_task_type", Message: req.TaskType}
	}

	var p params
	if err := req.DecodeParams(&p); err != nil {
		return "", &provider.SubmissionError{Provider: Name, Code: "invalid_params", Message: err.Error()}
	}
	body := createBody{Model: p.Model, Input: p.Input, Parameters: p.Parameters}
	if body.Model == "" {
		body.Model = a.model
	}
	if body.Input == nil {
		body.Input = make(map[string]any)
	}
	if p.Prompt != "" {
		body.Input["prompt"] = p.Prompt
	}
	if p.NegativePrompt != "" {
		body.Input["negative_prompt"] = p.NegativePrompt
	}
	if p.ImageURL != "" {
		body.Input["img_url"] = p.ImageURL
	}
	if body.Model == "" {
		return "", &provider.SubmissionError{Provider: Name, Code: "invalid_params", Message: "model is required"}
	}

	headers := a.headers()
	headers["X-DashScope-Async"] = "enable"

	var resp taskResponse
	if err := a.http.Do(ctx, http.MethodPost, a.baseURL+path, headers, body, &resp); err != nil {
		return "", a.http.SubmitErr(err)
	}
	if resp.Code != "" {
		return "", &provider.SubmissionError{Provider: Name, Code: resp.Code, Message: resp.Message}
	}
	if resp.Output.TaskID == "" {
		return "", &provider.SubmissionError{Provider: Name, Code: "missing_task_id", Message: "empty task id in response"}
	}
	return resp.Output.TaskID, nil
}

func (a *Adapter) FetchStatus(ctx context.Context, taskID string) (provider.StatusResponse, error) {
	var resp taskResponse
	u := a.baseURL + "/tasks/" + url.PathEscape(taskID)
	if err := a.http.Do(ctx, http.MethodGet, u, a.headers(), nil, &resp); err != nil {
		return provider.StatusResponse{}, a.http.FetchErr(taskID, err)
	}

	status := resp.Output.TaskStatus
	out := provider.StatusResponse{TaskID: taskID, VendorStatus: status}
	switch status {
	case "PENDING":
		out.Status = provider.StatusPending
	case "RUNNING", "SUSPENDED":
		out.Status = provider.StatusRunning
	case "SUCCEEDED":
		out.Status = provider.StatusSucceeded
		out.Progress = 100
		res := &provider.Result{Usage: resp.Usage}
		for _, r := range resp.Output.Results {
			if r.URL != "" {
				res.URLs = append(res.URLs, r.URL)
			}
		}
		if resp.Output.VideoURL != "" {
			res.URL = resp.Output.VideoURL
		} else if len(res.URLs) > 0 {
			res.URL = res.URLs[0]
		}
		out.Result = res
	case "FAILED":
		out.Status = provider.StatusFailed
		out.Error = &provider.ErrorInfo{Code: resp.Output.Code, Message: resp.Output.Message}
	case "CANCELED":
		out.Status = provider.StatusCanceled
		out.Error = &provider.ErrorInfo{Code: "canceled", Message: "task canceled"}
	case "UNKNOWN":
		// DashScope answers UNKNOWN for ids it never issued or has expired.
		return provider.StatusResponse{}, &provider.FatalError{Provider: Name, TaskID: taskID, Message: "task unknown or expired"}
	default:
		out.Status = provider.StatusRunning
	}
	return out, nil
}

func (a *Adapter) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + a.apiKey}
}
