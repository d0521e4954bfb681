package provider

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

const maxErrorBody = 512

// HTTPError is a non-2xx response from a vendor.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the vendor may succeed if asked again.
func (e *HTTPError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// JSONClient is the small HTTP helper shared by the vendor adapters.
type JSONClient struct {
	Provider Name
	HTTP     *http.Client
}

// NewJSONClient returns a client with a bounded per-request timeout.
func NewJSONClient(name Name, timeout time.Duration) *JSONClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &JSONClient{
		Provider: name,
		HTTP:     &http.Client{Timeout: timeout},
	}
}

// Do sends in (if non-nil) as JSON and decodes the response into out (if
// non-nil). Non-2xx responses come back as *HTTPError.
func (c *JSONClient) Do(ctx context.Context, method, url string, headers map[string]string, in, out any) error {
	var body io.Reader
	var raw []byte
	if in != nil {
		var err error
		raw, err = json.Marshal(in)
		if err != nil {
			return errors.Wrapf(err, "%s: marshal request", c.Provider)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return errors.Wrapf(err, "%s: build request", c.Provider)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s: %s %s", c.Provider, method, url)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &HTTPError{StatusCode: resp.StatusCode, Body: string(b)}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "%s: decode response", c.Provider)
	}
	return nil
}

// SubmitErr classifies an error from a submission call. Vendor 4xx answers
// become SubmissionError; anything else is wrapped with the vendor name.
func (c *JSONClient) SubmitErr(err error) error {
	if err == nil {
		return nil
	}
	var he *HTTPError
	if stderrors.As(err, &he) && !he.Retryable() {
		return &SubmissionError{
			Provider: c.Provider,
			Code:     fmt.Sprintf("http_%d", he.StatusCode),
			Message:  he.Body,
		}
	}
	return errors.Wrapf(err, "%s: submit", c.Provider)
}

// FetchErr classifies an error from a status call: 404 is fatal, 5xx, 429
// and transport errors are transient.
func (c *JSONClient) FetchErr(taskID string, err error) error {
	if err == nil {
		return nil
	}
	var he *HTTPError
	if stderrors.As(err, &he) {
		switch {
		case he.StatusCode == http.StatusNotFound:
			return &FatalError{Provider: c.Provider, TaskID: taskID, Message: "task not found"}
		case he.Retryable():
			return &TransientError{Provider: c.Provider, Err: err}
		default:
			return errors.Wrapf(err, "%s: fetch %s", c.Provider, taskID)
		}
	}
	return &TransientError{Provider: c.Provider, Err: err}
}
