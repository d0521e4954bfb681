package provider

import (
	"testing"
)

func TestStatusResponsePredicates(t *testing.T) {
	tests := []struct {
		name      string
		resp      StatusResponse
		finished  bool
		succeeded bool
	}{
		{"pending", StatusResponse{Status: StatusPending}, false, false},
		{"running", StatusResponse{Status: StatusRunning}, false, false},
		{"succeeded", StatusResponse{Status: StatusSucceeded}, true, true},
		{"failed", StatusResponse{Status: StatusFailed}, true, false},
		{"canceled", StatusResponse{Status: StatusCanceled}, true, false},
		{"expired", StatusResponse{Status: StatusExpired}, true, false},
		{"done with inner error", StatusResponse{Status: StatusSucceeded, SubTaskErrCode: 70000}, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.resp.IsFinished(); got != tt.finished {
				t.Errorf("IsFinished() = %v, want %v", got, tt.finished)
			}
			if got := tt.resp.IsSucceeded(); got != tt.succeeded {
				t.Errorf("IsSucceeded() = %v, want %v", got, tt.succeeded)
			}
			if got := tt.resp.IsFailed(); got != (tt.finished && !tt.succeeded) {
				t.Errorf("IsFailed() = %v", got)
			}
		})
	}
}

func TestResultPrimaryURL(t *testing.T) {
	var nilResult *Result
	if nilResult.PrimaryURL() != "" {
		t.Error("expected empty URL for nil result")
	}
	r := &Result{URLs: []string{"https://a", "https://b"}}
	if r.PrimaryURL() != "https://a" {
		t.Errorf("expected first URL, got %s", r.PrimaryURL())
	}
	r.URL = "https://main"
	if r.PrimaryURL() != "https://main" {
		t.Errorf("expected URL field to win, got %s", r.PrimaryURL())
	}
}

type strictAdapter struct{ *MockAdapter }

func (strictAdapter) IsSucceeded(r StatusResponse) bool { return r.VendorStatus == "ok" }
func (strictAdapter) IsFailed(r StatusResponse) bool    { return r.VendorStatus == "bad" }

func TestPredicatesUsesClassifier(t *testing.T) {
	ok, bad := Predicates(strictAdapter{NewMockAdapter(MockConfig{})})
	if !ok(StatusResponse{VendorStatus: "ok"}) || bad(StatusResponse{VendorStatus: "ok"}) {
		t.Error("classifier predicates were not used")
	}

	ok, bad = Predicates(NewMockAdapter(MockConfig{}))
	if !ok(StatusResponse{Status: StatusSucceeded}) {
		t.Error("default success predicate should accept SUCCEEDED")
	}
	if !bad(StatusResponse{Status: StatusExpired}) {
		t.Error("default failure predicate should accept EXPIRED")
	}
}

func TestRequestDecodeParams(t *testing.T) {
	req := Request{Params: []byte(`{"prompt":"a cat"}`)}
	var p struct {
		Prompt string `json:"prompt"`
	}
	if err := req.DecodeParams(&p); err != nil {
		t.Fatalf("DecodeParams failed: %v", err)
	}
	if p.Prompt != "a cat" {
		t.Errorf("expected prompt 'a cat', got %q", p.Prompt)
	}

	if err := (Request{}).DecodeParams(&p); err != nil {
		t.Errorf("empty params should decode to nothing, got %v", err)
	}
}
