package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

type fakeGateway struct {
	mu        sync.Mutex
	submitted map[string]any
	gets      int
	auth      string
}

func (g *fakeGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.auth = r.Header.Get("Authorization")
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/v1/tasks":
		json.NewDecoder(r.Body).Decode(&g.submitted)
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte(`{"task_id":"t-1","status":"pending","message":"Task received and queued"}`))
	case r.URL.Path == "/v1/tasks":
		w.Write([]byte(`[{"task_id":"t-1","provider":"mock","task_type":"text-to-image","status":"completed","progress":100,"updated_at":"2026-01-02T03:04:05Z"}]`))
	case r.URL.Path == "/v1/tasks/t-1":
		g.gets++
		if g.gets < 2 {
			w.Write([]byte(`{"task_id":"t-1","status":"processing","progress":50,"updated_at":"2026-01-02T03:04:05Z"}`))
			return
		}
		w.Write([]byte(`{"task_id":"t-1","provider":"mock","task_type":"text-to-image","status":"completed","progress":100,"result":{"url":"https://cdn/a.png"},"updated_at":"2026-01-02T03:04:05Z"}`))
	case r.URL.Path == "/v1/tasks/t-bad":
		w.Write([]byte(`{"task_id":"t-bad","status":"failed","error":"mock rejected the request","updated_at":"2026-01-02T03:04:05Z"}`))
	case r.URL.Path == "/v1/storage/upload":
		w.Write([]byte(`{"url":"http://gw/files/uploads/x.png","key":"uploads/x.png","content_type":"image/png"}`))
	default:
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"task_not_found"}`))
	}
}

func runCLI(t *testing.T, endpoint string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--endpoint", endpoint}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestSubmitCommand(t *testing.T) {
	gw := &fakeGateway{}
	srv := httptest.NewServer(gw)
	defer srv.Close()

	out, err := runCLI(t, srv.URL, "submit", "-p", "mock", "-t", "text-to-image",
		"--param", "prompt=a red fox", "--param", "steps=3", "--priority", "high", "--token", "secret")
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if strings.TrimSpace(out) != "t-1 pending" {
		t.Errorf("unexpected output %q", out)
	}

	gw.mu.Lock()
	defer gw.mu.Unlock()
	params, _ := gw.submitted["params"].(map[string]any)
	if params["prompt"] != "a red fox" || params["steps"] != float64(3) {
		t.Errorf("unexpected params %v", params)
	}
	if gw.submitted["priority"] != "high" || gw.auth != "Bearer secret" {
		t.Errorf("unexpected request %v auth=%q", gw.submitted, gw.auth)
	}
}

func TestSubmitRequiresProvider(t *testing.T) {
	if _, err := runCLI(t, "http://127.0.0.1:1", "submit", "-t", "text-to-image"); err == nil {
		t.Fatal("expected missing flag error")
	}
}

func TestBuildParams(t *testing.T) {
	params, err := buildParams(`{"prompt":"x","n":1}`, []string{"n=2", "tags=[\"a\"]", "note=hello world"})
	if err != nil {
		t.Fatal(err)
	}
	if params["prompt"] != "x" || params["n"] != float64(2) || params["note"] != "hello world" {
		t.Errorf("unexpected params %v", params)
	}
	if tags, ok := params["tags"].([]any); !ok || len(tags) != 1 {
		t.Errorf("expected decoded array, got %v", params["tags"])
	}

	if _, err := buildParams(`[1]`, nil); err == nil {
		t.Error("expected error for non-object params")
	}
	if _, err := buildParams("", []string{"novalue"}); err == nil {
		t.Error("expected error for pair without '='")
	}
}

func TestWatchAndStatus(t *testing.T) {
	gw := &fakeGateway{}
	srv := httptest.NewServer(gw)
	defer srv.Close()

	out, err := runCLI(t, srv.URL, "watch", "t-1")
	if err != nil {
		t.Fatalf("watch failed: %v", err)
	}
	if !strings.Contains(out, "Status:   completed") || !strings.Contains(out, "Result:   https://cdn/a.png") {
		t.Errorf("unexpected output %q", out)
	}

	if _, err := runCLI(t, srv.URL, "watch", "t-bad"); err == nil || !strings.Contains(err.Error(), "failed") {
		t.Errorf("expected failure error, got %v", err)
	}

	out, err = runCLI(t, srv.URL, "status", "t-1", "--json")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, `"task_id":"t-1"`) {
		t.Errorf("expected json output, got %q", out)
	}

	if _, err := runCLI(t, srv.URL, "status", "missing"); err == nil {
		t.Error("expected not found error")
	}
}

func TestListCommand(t *testing.T) {
	srv := httptest.NewServer(&fakeGateway{})
	defer srv.Close()

	out, err := runCLI(t, srv.URL, "list", "-n", "5")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "TASK ID") || !strings.Contains(out, "t-1") || !strings.Contains(out, "100%") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestUploadCommand(t *testing.T) {
	srv := httptest.NewServer(&fakeGateway{})
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "x.png")
	if err := os.WriteFile(path, []byte("png"), 0o644); err != nil {
		t.Fatal(err)
	}
	out, err := runCLI(t, srv.URL, "upload", path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out) != "http://gw/files/uploads/x.png" {
		t.Errorf("unexpected output %q", out)
	}
}

func TestConfigFileAndEnv(t *testing.T) {
	gw := &fakeGateway{}
	srv := httptest.NewServer(gw)
	defer srv.Close()

	cfgPath := filepath.Join(t.TempDir(), "genpulse.yaml")
	if err := os.WriteFile(cfgPath, []byte("endpoint: "+srv.URL+"\ntoken: from-file\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("GENPULSE_TOKEN", "from-env")

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--config", cfgPath, "list"})
	if err := cmd.Execute(); err != nil {
		t.Fatal(err)
	}

	gw.mu.Lock()
	defer gw.mu.Unlock()
	if gw.auth != "Bearer from-env" {
		t.Errorf("env should override config file, got %q", gw.auth)
	}
}

func TestExplainUnreachable(t *testing.T) {
	_, err := runCLI(t, "http://127.0.0.1:1", "status", "t-1")
	if err == nil || !strings.Contains(err.Error(), "is genpulse-d running") {
		t.Errorf("expected hint, got %v", err)
	}
}

