package volcengine

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
	Name           provider.Name = "volcengine"
	defaultBaseURL               = "https://ark.cn-beijing.volces.com/api/v3"
)

// Adapter drives Ark content-generation tasks (video).
type Adapter struct {
	apiKey  string
	model   string
	baseURL string
	http    *provider.JSONClient
	poll    provider.PollConfig
}

func New(cfg provider.ProviderConfig) (provider.Adapter, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("volcengine: api key is required")
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

type contentItem struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type params struct {
	Model       string        `json:"model"`
	Content     []contentItem `json:"content,omitempty"`
	Prompt      string        `json:"prompt,omitempty"`
	ImageURL    string        `json:"image_url,omitempty"`
	CallbackURL string        `json:"callback_url,omitempty"`
}

type createBody struct {
	Model       string        `json:"model"`
	Content     []contentItem `json:"content"`
	CallbackURL string        `json:"callback_url,omitempty"`
}

type taskResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Status  string `json:"status"` // queued, running, cancelled, succeeded, failed, expired
	Content *struct {
		VideoURL string `json:"video_url"`
	} `json:"content"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Usage map[string]any `json:"usage"`
}

// Submit accepts either Ark's native content list or the simpler
// prompt/image_url pair, which is folded into content.
func (a *Adapter) Submit(ctx context.Context, req provider.Request) (string, error) {
	var p params
	if err := req.DecodeParams(&p); err != nil {
		return "", &provider.SubmissionError{Provider: Name, Code: "invalid_params", Message: err.Error()}
	}

	body := createBody{Model: p.Model, Content: p.Content, CallbackURL: p.CallbackURL}
	if body.Model == "" {
		body.Model = a.model
	}
	if len(body.Content) == 0 {
		if p.ImageURL != "" {
			body.Content = append(body.Content, contentItem{Type: "image_url", ImageURL: &imageURL{URL: p.ImageURL}})
		}
		if p.Prompt != "" {
			body.Content = append(body.Content, contentItem{Type: "text", Text: p.Prompt})
		}
	}
	if body.Model == "" || len(body.Content) == 0 {
		return "", &provider.SubmissionError{Provider: Name, Code: "invalid_params", Message: "model and content (or prompt) are required"}
	}

	var resp taskResponse
	if err := a.http.Do(ctx, http.MethodPost, a.baseURL+"/contents/generations/tasks", a.headers(), body, &resp); err != nil {
		return "", a.http.SubmitErr(err)
	}
	if resp.ID == "" {
		return "", &provider.SubmissionError{Provider: Name, Code: "missing_task_id", Message: "empty task id in response"}
	}
	return resp.ID, nil
}

func (a *Adapter) FetchStatus(ctx context.Context, taskID string) (provider.StatusResponse, error) {
	var resp taskResponse
	u := a.baseURL + "/contents/generations/tasks/" + url.PathEscape(taskID)
	if err := a.http.Do(ctx, http.MethodGet, u, a.headers(), nil, &resp); err != nil {
		return provider.StatusResponse{}, a.http.FetchErr(taskID, err)
	}

	out := provider.StatusResponse{TaskID: taskID, VendorStatus: resp.Status}
	switch resp.Status {
	case "queued":
		out.Status = provider.StatusPending
	case "running":
		out.Status = provider.StatusRunning
	case "succeeded":
		out.Status = provider.StatusSucceeded
		out.Progress = 100
		out.Result = &provider.Result{Usage: resp.Usage}
		if resp.Content != nil {
			out.Result.URL = resp.Content.VideoURL
		}
	case "failed":
		out.Status = provider.StatusFailed
	case "cancelled":
		out.Status = provider.StatusCanceled
	case "expired":
		out.Status = provider.StatusExpired
	default:
		out.Status = provider.StatusRunning
	}
	if out.IsFailed() {
		out.Error = &provider.ErrorInfo{Code: resp.Status, Message: "task " + resp.Status}
		if resp.Error != nil {
			out.Error = &provider.ErrorInfo{Code: resp.Error.Code, Message: resp.Error.Message}
		}
	}
	return out, nil
}

func (a *Adapter) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + a.apiKey}
}
