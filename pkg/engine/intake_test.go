package engine

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/isWangjianhua/GenPulse/pkg/blob"
	"github.com/isWangjianhua/GenPulse/pkg/provider"
	"github.com/isWangjianhua/GenPulse/pkg/store"
)

func TestIntakeSubmit(t *testing.T) {
	h := newHarness(t)
	uploads := blob.NewLocalStore(t.TempDir(), "http://localhost:8080/files")
	in := NewIntake(IntakeDeps{
		Tasks:   h.store,
		Queue:   h.queue,
		Status:  h.status,
		Uploads: uploads,
		Known:   func(n provider.Name) bool { return n == provider.MockName },
	})
	in.newID = func() string { return "fixed-id" }
	ctx := context.Background()

	img := "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("png-bytes"))
	params := `{"prompt":"cat","image":"` + img + `","refs":[{"url":"` + img + `"},"data:text/plain;base64,aGk="]}`

	resp, err := in.Submit(ctx, SubmitRequest{TaskType: "image-to-video", Provider: " Mock ", Params: json.RawMessage(params)})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if resp.TaskID != "fixed-id" || resp.Status != store.TaskPending || resp.Message != "Task received and queued" {
		t.Errorf("unexpected response %+v", resp)
	}

	rec, err := h.store.GetTask(ctx, "fixed-id")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != store.TaskPending || rec.Priority != "normal" || rec.Provider != "mock" {
		t.Errorf("unexpected record %+v", rec)
	}

	var stored struct {
		Image string `json:"image"`
		Refs  []any  `json:"refs"`
	}
	if err := json.Unmarshal(rec.Params, &stored); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(stored.Image, "http://localhost:8080/files/uploads/b64_") || !strings.HasSuffix(stored.Image, ".png") {
		t.Errorf("data uri not replaced: %q", stored.Image)
	}
	nested := stored.Refs[0].(map[string]any)["url"].(string)
	if !strings.HasPrefix(nested, "http://localhost:8080/files/uploads/") {
		t.Errorf("nested data uri not replaced: %q", nested)
	}
	if stored.Refs[1] != "data:text/plain;base64,aGk=" {
		t.Errorf("non-media data uri should pass through, got %v", stored.Refs[1])
	}

	key := strings.TrimPrefix(stored.Image, "http://localhost:8080/files/")
	rc, err := uploads.Open(ctx, key)
	if err != nil {
		t.Fatalf("uploaded blob missing: %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "png-bytes" {
		t.Errorf("unexpected blob content %q", data)
	}

	msg, err := h.queue.Pop(ctx, time.Second)
	if err != nil || msg == nil {
		t.Fatalf("expected queued message, got %v, %v", msg, err)
	}
	if msg.TaskID != "fixed-id" || string(msg.Params) != string(rec.Params) {
		t.Errorf("queued message differs from record: %+v", msg)
	}

	ev, err := h.status.Get(ctx, "fixed-id")
	if err != nil || ev == nil || ev.Status != store.TaskPending {
		t.Errorf("expected pending status snapshot, got %+v, %v", ev, err)
	}
}

func TestIntakeValidation(t *testing.T) {
	h := newHarness(t)
	in := NewIntake(IntakeDeps{
		Tasks: h.store,
		Queue: h.queue,
		Known: func(n provider.Name) bool { return n == provider.MockName },
	})

	tests := []struct {
		name string
		req  SubmitRequest
		code string
	}{
		{"missing task type", SubmitRequest{Provider: "mock"}, "missing_task_type"},
		{"missing provider", SubmitRequest{TaskType: "text-to-image"}, "missing_provider"},
		{"unknown provider", SubmitRequest{TaskType: "text-to-image", Provider: "nope"}, "unknown_provider"},
		{"bad params", SubmitRequest{TaskType: "text-to-image", Provider: "mock", Params: json.RawMessage(`{bad`)}, "invalid_params"},
		{"bad priority", SubmitRequest{TaskType: "text-to-image", Provider: "mock", Priority: "urgent"}, "invalid_priority"},
		{"bad callback", SubmitRequest{TaskType: "text-to-image", Provider: "mock", CallbackURL: "ftp://x"}, "invalid_callback_url"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := in.Submit(context.Background(), tt.req)
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if ve.Code != tt.code {
				t.Errorf("expected code %s, got %s", tt.code, ve.Code)
			}
		})
	}

	if n, _ := h.queue.Len(context.Background()); n != 0 {
		t.Errorf("invalid requests must not be queued, queue has %d", n)
	}
}
