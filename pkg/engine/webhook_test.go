package engine

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/isWangjianhua/GenPulse/pkg/store"
)

func TestWebhookNotifierSignsPayload(t *testing.T) {
	var got store.TaskEvent
	var sig, taskHeader string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		sig = r.Header.Get("X-GenPulse-Signature")
		taskHeader = r.Header.Get("X-GenPulse-Task-ID")
		json.Unmarshal(body, &got)
		if sig != Sign("s3cret", body) {
			t.Errorf("signature mismatch: %s", sig)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	n := NewWebhookNotifier("s3cret", nil)
	ev := store.TaskEvent{TaskID: "t-1", Status: store.TaskCompleted, Progress: 100, UpdatedAt: time.Now()}
	if err := n.Notify(context.Background(), server.URL, ev); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}
	if got.TaskID != "t-1" || got.Status != store.TaskCompleted || taskHeader != "t-1" {
		t.Errorf("unexpected delivery %+v (header %q)", got, taskHeader)
	}
}

func TestWebhookNotifierRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := NewWebhookNotifier("", nil)
	n.backoff = time.Millisecond
	if err := n.Notify(context.Background(), server.URL, store.TaskEvent{TaskID: "t-1"}); err != nil {
		t.Fatalf("expected delivery on third attempt, got %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestWebhookNotifierClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Header.Get("X-GenPulse-Signature") != "" {
			t.Error("unsigned notifier should not send a signature")
		}
		w.WriteHeader(http.StatusGone)
	}))
	defer server.Close()

	n := NewWebhookNotifier("", nil)
	n.backoff = time.Millisecond
	if err := n.Notify(context.Background(), server.URL, store.TaskEvent{TaskID: "t-1"}); err == nil {
		t.Fatal("expected error for 410")
	}
	if calls.Load() != 1 {
		t.Errorf("4xx should not be retried, got %d attempts", calls.Load())
	}
}
