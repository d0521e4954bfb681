package tencent

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/isWangjianhua/GenPulse/pkg/provider"
)

const (
	Name           provider.Name = "tencent"
	defaultBaseURL               = "https://vod.tencentcloudapi.com"
	apiVersion                   = "2018-07-17"
)

var actions = map[string]string{
	"":               "CreateAigcVideoTask",
	"text-to-video":  "CreateAigcVideoTask",
	"image-to-video": "CreateAigcVideoTask",
	"text-to-image":  "CreateAigcImageTask",
	"image-to-image": "CreateAigcImageTask",
}

// Adapter drives VOD AIGC tasks. Params are passed through in the vendor's
// own PascalCase shape; SubAppId is filled from config when absent.
type Adapter struct {
	baseURL  string
	subAppID int64
	signer   signer
	http     *provider.JSONClient
	poll     provider.PollConfig
	now      func() time.Time
}

func New(cfg provider.ProviderConfig) (provider.Adapter, error) {
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("tencent: secret id (api_key) and secret key are required")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("tencent: invalid base url %q", baseURL)
	}
	var subAppID int64
	if v := cfg.Extra["sub_app_id"]; v != "" {
		subAppID, err = strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("tencent: invalid sub_app_id %q", v)
		}
	}

	return &Adapter{
		baseURL:  strings.TrimRight(baseURL, "/"),
		subAppID: subAppID,
		signer: signer{
			secretID:  cfg.APIKey,
			secretKey: cfg.SecretKey,
			service:   "vod",
			host:      u.Host,
			version:   apiVersion,
			region:    cfg.Region,
		},
		http: provider.NewJSONClient(Name, 30*time.Second),
		poll: cfg.Apply(provider.PollConfig{
			Interval: 15 * time.Second,
			Timeout:  30 * time.Minute,
		}),
		now: time.Now,
	}, nil
}

func (a *Adapter) Name() provider.Name { return Name }

func (a *Adapter) PollConfig() provider.PollConfig { return a.poll }

type apiError struct {
	Code    string `json:"Code"`
	Message string `json:"Message"`
}

type createResponse struct {
	Response struct {
		TaskID    string    `json:"TaskId"`
		RequestID string    `json:"RequestId"`
		Error     *apiError `json:"Error"`
	} `json:"Response"`
}

type fileInfo struct {
	FileID  string `json:"FileId"`
	FileURL string `json:"FileUrl"`
}

type aigcTask struct {
	Status   string `json:"Status"`
	ErrCode  int    `json:"ErrCode"`
	Message  string `json:"Message"`
	Progress int    `json:"Progress"`
	Output   struct {
		FileInfos []fileInfo `json:"FileInfos"`
	} `json:"Output"`
}

type describeResponse struct {
	Response struct {
		TaskType      string    `json:"TaskType"`
		Status        string    `json:"Status"` // WAITING, PROCESSING, FINISH
		AigcVideoTask *aigcTask `json:"AigcVideoTask"`
		AigcImageTask *aigcTask `json:"AigcImageTask"`
		RequestID     string    `json:"RequestId"`
		Error         *apiError `json:"Error"`
	} `json:"Response"`
}

func (a *Adapter) Submit(ctx context.Context, req provider.Request) (string, error) {
	action, ok := actions[req.TaskType]
	if !ok {
		return "", &provider.SubmissionError{Provider: Name, Code: "unsupported_task_type", Message: req.TaskType}
	}

	body := make(map[string]any)
	if err := req.DecodeParams(&body); err != nil {
		return "", &provider.SubmissionError{Provider: Name, Code: "invalid_params", Message: err.Error()}
	}
	if _, ok := body["SubAppId"]; !ok && a.subAppID != 0 {
		body["SubAppId"] = a.subAppID
	}

	var resp createResponse
	if err := a.call(ctx, action, body, &resp); err != nil {
		return "", a.http.SubmitErr(err)
	}
	if e := resp.Response.Error; e != nil {
		if retryable(e.Code) {
			return "", errors.Errorf("tencent: submit: %s: %s", e.Code, e.Message)
		}
		return "", &provider.SubmissionError{Provider: Name, Code: e.Code, Message: e.Message}
	}
	if resp.Response.TaskID == "" {
		return "", &provider.SubmissionError{Provider: Name, Code: "missing_task_id", Message: "empty task id in response"}
	}
	return resp.Response.TaskID, nil
}

func (a *Adapter) FetchStatus(ctx context.Context, taskID string) (provider.StatusResponse, error) {
	body := map[string]any{"TaskId": taskID}
	if a.subAppID != 0 {
		body["SubAppId"] = a.subAppID
	}

	var resp describeResponse
	if err := a.call(ctx, "DescribeTaskDetail", body, &resp); err != nil {
		return provider.StatusResponse{}, a.http.FetchErr(taskID, err)
	}
	if e := resp.Response.Error; e != nil {
		switch {
		case notFound(e.Code):
			return provider.StatusResponse{}, &provider.FatalError{Provider: Name, TaskID: taskID, Message: e.Message}
		case retryable(e.Code):
			return provider.StatusResponse{}, &provider.TransientError{Provider: Name, Err: errors.New(e.Code + ": " + e.Message)}
		default:
			return provider.StatusResponse{}, errors.Errorf("tencent: fetch %s: %s: %s", taskID, e.Code, e.Message)
		}
	}

	r := resp.Response
	out := provider.StatusResponse{TaskID: taskID, VendorStatus: r.Status}
	inner := r.AigcVideoTask
	if inner == nil {
		inner = r.AigcImageTask
	}
	if inner != nil {
		out.Progress = inner.Progress
	}

	switch r.Status {
	case "WAITING":
		out.Status = provider.StatusPending
	case "PROCESSING":
		out.Status = provider.StatusRunning
	case "FINISH":
		// FINISH only says the task stopped; the inner ErrCode says how.
		out.Status = provider.StatusSucceeded
		if inner == nil {
			out.SubTaskErrCode = -1
			out.Error = &provider.ErrorInfo{Code: "missing_output", Message: "finished task has no " + r.TaskType + " detail"}
			break
		}
		if inner.ErrCode != 0 {
			out.SubTaskErrCode = inner.ErrCode
			out.Error = &provider.ErrorInfo{Code: strconv.Itoa(inner.ErrCode), Message: inner.Message}
			break
		}
		out.Progress = 100
		res := &provider.Result{}
		for _, f := range inner.Output.FileInfos {
			if f.FileURL != "" {
				res.URLs = append(res.URLs, f.FileURL)
			}
		}
		if len(res.URLs) > 0 {
			res.URL = res.URLs[0]
		}
		out.Result = res
	default:
		out.Status = provider.StatusRunning
	}
	return out, nil
}

// IsSucceeded requires both the outer FINISH and a zero inner ErrCode.
func (a *Adapter) IsSucceeded(r provider.StatusResponse) bool {
	return r.Status == provider.StatusSucceeded && r.SubTaskErrCode == 0
}

// IsFailed treats a FINISH carrying an inner ErrCode as failure.
func (a *Adapter) IsFailed(r provider.StatusResponse) bool {
	if r.Status == provider.StatusSucceeded {
		return r.SubTaskErrCode != 0
	}
	return r.Status.Terminal()
}

func (a *Adapter) call(ctx context.Context, action string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "tencent: marshal request")
	}
	headers := a.signer.headers(action, payload, a.now())
	return a.http.Do(ctx, http.MethodPost, a.baseURL+"/", headers, json.RawMessage(payload), out)
}

func notFound(code string) bool {
	return strings.HasPrefix(code, "ResourceNotFound") ||
		code == "InvalidParameterValue.TaskId" ||
		strings.HasPrefix(code, "AuthFailure")
}

func retryable(code string) bool {
	return strings.HasPrefix(code, "InternalError") ||
		strings.HasPrefix(code, "RequestLimitExceeded") ||
		code == "ResourceUnavailable"
}
