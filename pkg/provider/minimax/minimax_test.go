package minimax

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/isWangjianhua/GenPulse/pkg/provider"
)

func TestVideoFlowWithFileLookup(t *testing.T) {
	fileLookups := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer mm-key" {
			t.Errorf("unexpected auth header %q", r.Header.Get("Authorization"))
		}
		switch r.URL.Path {
		case "/v1/video_generation":
			w.Write([]byte(`{"task_id":"106916","base_resp":{"status_code":0,"status_msg":"success"}}`))
		case "/v1/query/video_generation":
			switch r.URL.Query().Get("task_id") {
			case "106916":
				w.Write([]byte(`{"task_id":"106916","status":"Success","file_id":205258526306433,"base_resp":{"status_code":0}}`))
			case "queued":
				w.Write([]byte(`{"task_id":"queued","status":"Queueing","base_resp":{"status_code":0}}`))
			default:
				w.Write([]byte(`{"task_id":"","status":"","base_resp":{"status_code":1004,"status_msg":"task not found"}}`))
			}
		case "/v1/files/retrieve":
			fileLookups++
			if r.URL.Query().Get("file_id") != "205258526306433" {
				t.Errorf("unexpected file id %s", r.URL.Query().Get("file_id"))
			}
			w.Write([]byte(`{"file":{"file_id":205258526306433,"download_url":"https://cdn.minimax/out.mp4"},"base_resp":{"status_code":0}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	a, err := New(provider.ProviderConfig{APIKey: "mm-key", BaseURL: server.URL})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	id, err := a.Submit(ctx, provider.Request{TaskType: "text-to-video", Params: []byte(`{"model":"MiniMax-Hailuo-02","prompt":"waves"}`)})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if id != "video:106916" {
		t.Fatalf("unexpected id %s", id)
	}

	resp, err := a.FetchStatus(ctx, id)
	if err != nil {
		t.Fatalf("FetchStatus failed: %v", err)
	}
	if !resp.IsSucceeded() {
		t.Fatalf("expected success, got %+v", resp)
	}
	if resp.Result.URL != "https://cdn.minimax/out.mp4" {
		t.Errorf("expected resolved download url, got %q", resp.Result.URL)
	}
	if fileLookups != 1 {
		t.Errorf("expected one file lookup, got %d", fileLookups)
	}

	resp, err = a.FetchStatus(ctx, "queued")
	if err != nil {
		t.Fatal(err)
	}
	if resp.Status != provider.StatusPending || resp.VendorStatus != "Queueing" {
		t.Errorf("expected PENDING/Queueing, got %s/%s", resp.Status, resp.VendorStatus)
	}

	if _, err := a.FetchStatus(ctx, "video:missing"); !provider.IsFatal(err) {
		t.Errorf("expected FatalError, got %v", err)
	}
}

func TestSubmitBaseRespError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"task_id":"","base_resp":{"status_code":1008,"status_msg":"insufficient balance"}}`))
	}))
	defer server.Close()

	a, _ := New(provider.ProviderConfig{APIKey: "k", BaseURL: server.URL})
	_, err := a.Submit(context.Background(), provider.Request{TaskType: "text-to-video"})
	var se *provider.SubmissionError
	if !errors.As(err, &se) {
		t.Fatalf("expected SubmissionError, got %v", err)
	}
	if se.Code != "1008" || se.Message != "insufficient balance" {
		t.Errorf("unexpected error %+v", se)
	}
}

func TestFileLookupFailureIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/query/t2a_async_query_v2":
			w.Write([]byte(`{"task_id":"s1","status":"success","file_id":"f-1","base_resp":{"status_code":0}}`))
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer server.Close()

	a, _ := New(provider.ProviderConfig{APIKey: "k", BaseURL: server.URL})
	_, err := a.FetchStatus(context.Background(), "speech:s1")
	var te *provider.TransientError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransientError, got %v", err)
	}
}

func TestFileIDString(t *testing.T) {
	if fileIDString(nil) != "" || fileIDString("abc") != "abc" || fileIDString(float64(12)) != "12" {
		t.Error("unexpected file id conversion")
	}
}
