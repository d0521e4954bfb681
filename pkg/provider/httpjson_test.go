package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestJSONClientDo(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer k" {
			t.Errorf("missing auth header")
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("expected JSON content type, got %s", r.Header.Get("Content-Type"))
		}
		w.Write([]byte(`{"id":"t-1"}`))
	}))
	defer server.Close()

	c := NewJSONClient("test", time.Second)
	var out struct {
		ID string `json:"id"`
	}
	err := c.Do(context.Background(), http.MethodPost, server.URL, map[string]string{"Authorization": "Bearer k"}, map[string]string{"a": "b"}, &out)
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if out.ID != "t-1" {
		t.Errorf("expected id t-1, got %s", out.ID)
	}
}

func TestJSONClientErrorClassification(t *testing.T) {
	status := http.StatusOK
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		w.Write([]byte(`{"message":"nope"}`))
	}))
	defer server.Close()

	c := NewJSONClient("vendor", time.Second)
	call := func(code int) error {
		status = code
		return c.Do(context.Background(), http.MethodGet, server.URL, nil, nil, nil)
	}

	t.Run("submit 400 is a submission error", func(t *testing.T) {
		err := c.SubmitErr(call(http.StatusBadRequest))
		var se *SubmissionError
		if !errors.As(err, &se) {
			t.Fatalf("expected SubmissionError, got %T %v", err, err)
		}
		if se.Code != "http_400" || se.Provider != "vendor" {
			t.Errorf("unexpected submission error %+v", se)
		}
	})

	t.Run("submit 503 is wrapped", func(t *testing.T) {
		err := c.SubmitErr(call(http.StatusServiceUnavailable))
		if IsSubmission(err) {
			t.Fatal("5xx should not be a submission rejection")
		}
		var he *HTTPError
		if !errors.As(err, &he) || he.StatusCode != 503 {
			t.Errorf("expected wrapped HTTPError, got %v", err)
		}
	})

	t.Run("fetch 404 is fatal", func(t *testing.T) {
		err := c.FetchErr("t-9", call(http.StatusNotFound))
		if !IsFatal(err) {
			t.Fatalf("expected FatalError, got %v", err)
		}
	})

	t.Run("fetch 429 is transient", func(t *testing.T) {
		err := c.FetchErr("t-9", call(http.StatusTooManyRequests))
		var te *TransientError
		if !errors.As(err, &te) {
			t.Fatalf("expected TransientError, got %v", err)
		}
	})

	t.Run("nil passes through", func(t *testing.T) {
		if c.FetchErr("x", nil) != nil || c.SubmitErr(nil) != nil {
			t.Error("nil errors must stay nil")
		}
	})
}

func TestJSONClientNetworkErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	c := NewJSONClient("vendor", 200*time.Millisecond)
	err := c.FetchErr("t", c.Do(context.Background(), http.MethodGet, url, nil, nil, nil))
	var te *TransientError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransientError for a refused connection, got %v", err)
	}
}
