package volcengine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/isWangjianhua/GenPulse/pkg/provider"
)

func TestSubmitFoldsPromptIntoContent(t *testing.T) {
	var got createBody
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/contents/generations/tasks" || r.Method != http.MethodPost {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"id":"cgt-1"}`))
	}))
	defer server.Close()

	a, err := New(provider.ProviderConfig{APIKey: "ark", BaseURL: server.URL, Model: "seedance-1"})
	if err != nil {
		t.Fatal(err)
	}
	id, err := a.Submit(context.Background(), provider.Request{
		TaskType: "image-to-video",
		Params:   []byte(`{"prompt":"a dog runs","image_url":"https://x/dog.png"}`),
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if id != "cgt-1" {
		t.Errorf("unexpected id %s", id)
	}
	if got.Model != "seedance-1" {
		t.Errorf("expected configured model, got %q", got.Model)
	}
	if len(got.Content) != 2 || got.Content[0].Type != "image_url" || got.Content[1].Text != "a dog runs" {
		t.Errorf("unexpected content %+v", got.Content)
	}
}

func TestSubmitRequiresContent(t *testing.T) {
	a, _ := New(provider.ProviderConfig{APIKey: "ark", BaseURL: "http://unused"})
	_, err := a.Submit(context.Background(), provider.Request{Params: []byte(`{"model":"m"}`)})
	if !provider.IsSubmission(err) {
		t.Fatalf("expected SubmissionError, got %v", err)
	}
}

func TestFetchStatusMapping(t *testing.T) {
	bodies := map[string]string{
		"q": `{"id":"q","status":"queued"}`,
		"r": `{"id":"r","status":"running"}`,
		"s": `{"id":"s","status":"succeeded","content":{"video_url":"https://ark/v.mp4"},"usage":{"completion_tokens":10}}`,
		"f": `{"id":"f","status":"failed","error":{"code":"OutputVideoSensitiveContentDetected","message":"blocked"}}`,
		"c": `{"id":"c","status":"cancelled"}`,
		"e": `{"id":"e","status":"expired"}`,
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Path[len("/contents/generations/tasks/"):]
		body, ok := bodies[id]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(body))
	}))
	defer server.Close()

	a, _ := New(provider.ProviderConfig{APIKey: "ark", BaseURL: server.URL})
	ctx := context.Background()

	want := map[string]provider.Status{
		"q": provider.StatusPending,
		"r": provider.StatusRunning,
		"s": provider.StatusSucceeded,
		"f": provider.StatusFailed,
		"c": provider.StatusCanceled,
		"e": provider.StatusExpired,
	}
	for id, status := range want {
		resp, err := a.FetchStatus(ctx, id)
		if err != nil {
			t.Fatalf("FetchStatus(%s) failed: %v", id, err)
		}
		if resp.Status != status {
			t.Errorf("%s: got %s, want %s", id, resp.Status, status)
		}
		if resp.IsFailed() && resp.Error == nil {
			t.Errorf("%s: terminal failure without error", id)
		}
	}

	resp, _ := a.FetchStatus(ctx, "s")
	if resp.Result.URL != "https://ark/v.mp4" {
		t.Errorf("unexpected result %+v", resp.Result)
	}
	resp, _ = a.FetchStatus(ctx, "f")
	if resp.Error.Code != "OutputVideoSensitiveContentDetected" {
		t.Errorf("expected vendor error code, got %+v", resp.Error)
	}

	if _, err := a.FetchStatus(ctx, "unknown"); !provider.IsFatal(err) {
		t.Errorf("expected FatalError for 404, got %v", err)
	}
}
