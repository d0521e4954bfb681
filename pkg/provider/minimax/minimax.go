package minimax

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/isWangjianhua/GenPulse/pkg/provider"
)

const (
	Name           provider.Name = "minimax"
	defaultBaseURL               = "https://api.minimaxi.com"

	kindVideo  = "video"
	kindSpeech = "speech"
)

// Adapter covers MiniMax asynchronous video and speech generation. Both
// report a file_id on success which is resolved to a download URL before the
// status is returned.
type Adapter struct {
	apiKey  string
	baseURL string
	http    *provider.JSONClient
	poll    provider.PollConfig
	log     *slog.Logger
}

func New(cfg provider.ProviderConfig) (provider.Adapter, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("minimax: api key is required")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Adapter{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    provider.NewJSONClient(Name, 30*time.Second),
		poll: cfg.Apply(provider.PollConfig{
			Interval: 10 * time.Second,
			Timeout:  20 * time.Minute,
		}),
		log: slog.Default().With("provider", string(Name)),
	}, nil
}

func (a *Adapter) Name() provider.Name { return Name }

func (a *Adapter) PollConfig() provider.PollConfig { return a.poll }

type baseResp struct {
	StatusCode int    `json:"status_code"`
	StatusMsg  string `json:"status_msg"`
}

type submitResponse struct {
	TaskID   string   `json:"task_id"`
	BaseResp baseResp `json:"base_resp"`
}

type queryResponse struct {
	TaskID   string   `json:"task_id"`
	Status   string   `json:"status"`
	FileID   any      `json:"file_id"`
	BaseResp baseResp `json:"base_resp"`
}

type fileResponse struct {
	File struct {
		FileID      any    `json:"file_id"`
		Filename    string `json:"filename"`
		DownloadURL string `json:"download_url"`
	} `json:"file"`
	BaseResp baseResp `json:"base_resp"`
}

func (a *Adapter) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + a.apiKey}
}

func (a *Adapter) Submit(ctx context.Context, req provider.Request) (string, error) {
	var kind, path string
	switch req.TaskType {
	case "", "text-to-video", "image-to-video":
		kind, path = kindVideo, "/v1/video_generation"
	case "text-to-speech":
		kind, path = kindSpeech, "/v1/t2a_async_v2"
	default:
		return "", &provider.SubmissionError{Provider: Name, Code: "unsupported_task_type", Message: req.TaskType}
	}

	var body map[string]any
	if err := req.DecodeParams(&body); err != nil {
		return "", &provider.SubmissionError{Provider: Name, Code: "invalid_params", Message: err.Error()}
	}

	var resp submitResponse
	if err := a.http.Do(ctx, http.MethodPost, a.baseURL+path, a.headers(), body, &resp); err != nil {
		return "", a.http.SubmitErr(err)
	}
	if resp.BaseResp.StatusCode != 0 {
		return "", &provider.SubmissionError{
			Provider: Name,
			Code:     fmt.Sprint(resp.BaseResp.StatusCode),
			Message:  resp.BaseResp.StatusMsg,
		}
	}
	if resp.TaskID == "" {
		return "", &provider.SubmissionError{Provider: Name, Code: "missing_task_id", Message: "empty task id in response"}
	}
	return kind + ":" + resp.TaskID, nil
}

func (a *Adapter) FetchStatus(ctx context.Context, taskID string) (provider.StatusResponse, error) {
	kind, id := splitTaskID(taskID)
	path := "/v1/query/video_generation"
	if kind == kindSpeech {
		path = "/v1/query/t2a_async_query_v2"
	}

	var resp queryResponse
	u := fmt.Sprintf("%s%s?task_id=%s", a.baseURL, path, url.QueryEscape(id))
	if err := a.http.Do(ctx, http.MethodGet, u, a.headers(), nil, &resp); err != nil {
		return provider.StatusResponse{}, a.http.FetchErr(taskID, err)
	}
	if resp.BaseResp.StatusCode != 0 && resp.Status == "" {
		return provider.StatusResponse{}, &provider.FatalError{Provider: Name, TaskID: taskID, Message: resp.BaseResp.StatusMsg}
	}

	out := provider.StatusResponse{TaskID: taskID, VendorStatus: resp.Status}
	switch strings.ToLower(resp.Status) {
	case "preparing", "queueing":
		out.Status = provider.StatusPending
	case "processing":
		out.Status = provider.StatusRunning
	case "success":
		out.Status = provider.StatusSucceeded
		out.Progress = 100
	case "fail", "failed":
		out.Status = provider.StatusFailed
		out.Error = &provider.ErrorInfo{Code: fmt.Sprint(resp.BaseResp.StatusCode), Message: resp.BaseResp.StatusMsg}
		if out.Error.Message == "" {
			out.Error.Message = "generation failed"
		}
	case "expired":
		out.Status = provider.StatusExpired
		out.Error = &provider.ErrorInfo{Code: "expired", Message: "task expired"}
	default:
		out.Status = provider.StatusRunning
	}

	if out.Status == provider.StatusSucceeded {
		fileID := fileIDString(resp.FileID)
		result := &provider.Result{Extra: map[string]any{"file_id": fileID}}
		if fileID != "" {
			// A lookup failure is reported as transient so the next poll
			// cycle retries it instead of finishing without a URL.
			downloadURL, err := a.resolveFile(ctx, fileID)
			if err != nil {
				a.log.Warn("file lookup failed", "task_id", taskID, "file_id", fileID, "error", err)
				return provider.StatusResponse{}, &provider.TransientError{Provider: Name, Err: err}
			}
			result.URL = downloadURL
		}
		out.Result = result
	}
	return out, nil
}

func (a *Adapter) resolveFile(ctx context.Context, fileID string) (string, error) {
	var resp fileResponse
	u := fmt.Sprintf("%s/v1/files/retrieve?file_id=%s", a.baseURL, url.QueryEscape(fileID))
	if err := a.http.Do(ctx, http.MethodGet, u, a.headers(), nil, &resp); err != nil {
		return "", errors.Wrapf(err, "minimax: retrieve file %s", fileID)
	}
	if resp.BaseResp.StatusCode != 0 {
		return "", errors.Errorf("minimax: retrieve file %s: %s", fileID, resp.BaseResp.StatusMsg)
	}
	if resp.File.DownloadURL == "" {
		return "", errors.Errorf("minimax: file %s has no download url", fileID)
	}
	return resp.File.DownloadURL, nil
}

// MiniMax returns file ids as numbers for some endpoints and strings for
// others.
func fileIDString(v any) string {
	switch id := v.(type) {
	case nil:
		return ""
	case string:
		return id
	case float64:
		return fmt.Sprintf("%.0f", id)
	default:
		return fmt.Sprint(id)
	}
}

func splitTaskID(taskID string) (kind, id string) {
	if i := strings.Index(taskID, ":"); i > 0 {
		return taskID[:i], taskID[i+1:]
	}
	return kindVideo, taskID
}
