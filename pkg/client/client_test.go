package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestClient_Submit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/tasks" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("missing bearer token")
		}
		var req SubmitRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Provider != "mock" || req.Params["prompt"] != "cat" {
			t.Errorf("unexpected body %+v", req)
		}
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(Accepted{TaskID: "t-1", Status: StatusPending, Message: "Task received and queued"})
	}))
	defer server.Close()

	c := NewClient(server.URL, WithToken("tok"))
	got, err := c.Submit(context.Background(), SubmitRequest{
		TaskType: "text-to-image",
		Provider: "mock",
		Params:   map[string]any{"prompt": "cat"},
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if got.TaskID != "t-1" || got.Status != StatusPending {
		t.Errorf("unexpected response %+v", got)
	}

	if _, err := c.Submit(context.Background(), SubmitRequest{Provider: "mock"}); err == nil {
		t.Error("expected validation error for missing task type")
	}
}

func TestClient_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"task_not_found"}`))
	}))
	defer server.Close()

	_, err := NewClient(server.URL).Get(context.Background(), "nope")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusNotFound || apiErr.Code != "task_not_found" {
		t.Errorf("unexpected error %+v", apiErr)
	}
}

func TestClient_Wait(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		task := Task{TaskID: "t-1", Status: StatusProcessing, Progress: int(n) * 30}
		if n >= 3 {
			task = Task{TaskID: "t-1", Status: StatusCompleted, Progress: 100, Result: json.RawMessage(`{"url":"https://cdn/a.mp4"}`)}
		}
		json.NewEncoder(w).Encode(task)
	}))
	defer server.Close()

	var seen []int
	c := NewClient(server.URL)
	task, err := c.Wait(context.Background(), "t-1", &ExponentialBackoff{Base: time.Millisecond, Max: 5 * time.Millisecond, Factor: 2}, func(t Task) {
		seen = append(seen, t.Progress)
	})
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if !task.Done() || len(seen) != 3 {
		t.Errorf("expected completion after 3 polls, got %+v after %v", task, seen)
	}
	art, err := task.Artifact()
	if err != nil || art == nil || art.URL != "https://cdn/a.mp4" {
		t.Errorf("unexpected artifact %+v, %v", art, err)
	}
}

func TestClient_WaitCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Task{TaskID: "t-1", Status: StatusPending})
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := NewClient(server.URL).Wait(ctx, "t-1", &ExponentialBackoff{Base: 10 * time.Millisecond, Max: 10 * time.Millisecond, Factor: 1}, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestClient_ListAndUpload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/tasks":
			if r.URL.Query().Get("limit") != "5" {
				t.Errorf("unexpected limit %q", r.URL.Query().Get("limit"))
			}
			json.NewEncoder(w).Encode([]Task{{TaskID: "b"}, {TaskID: "a"}})
		case "/v1/storage/upload":
			file, header, err := r.FormFile("file")
			if err != nil {
				t.Errorf("missing file: %v", err)
				return
			}
			data, _ := io.ReadAll(file)
			if header.Filename != "cat.png" || string(data) != "img" {
				t.Errorf("unexpected upload %s %q", header.Filename, data)
			}
			json.NewEncoder(w).Encode(Upload{URL: "http://gw/files/uploads/x.png", Key: "uploads/x.png", ContentType: "image/png"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	c := NewClient(server.URL)
	tasks, err := c.List(context.Background(), 5)
	if err != nil || len(tasks) != 2 || tasks[0].TaskID != "b" {
		t.Errorf("unexpected list %+v, %v", tasks, err)
	}

	up, err := c.Upload(context.Background(), "cat.png", strings.NewReader("img"))
	if err != nil || up.Key != "uploads/x.png" {
		t.Errorf("unexpected upload %+v, %v", up, err)
	}
}
