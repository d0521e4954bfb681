package provider

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"time"
)

// MockName is the built-in synthetic backend used for local runs and tests.
const MockName Name = "mock"

// MockAdapter simulates a vendor: every task runs for a few status checks and
// then succeeds (or fails when asked to).
type MockAdapter struct {
	mu     sync.Mutex
	seq    int
	tasks  map[string]*mockTask
	config MockConfig
}

// MockConfig tunes the synthetic behaviour.
type MockConfig struct {
	Steps     int           // RUNNING observations before the terminal one
	ErrorRate float64       // share of FetchStatus calls that fail transiently
	Latency   time.Duration // simulated network latency
	BaseURL   string        // prefix for artifact URLs
	Poll      PollConfig
}

type mockTask struct {
	checks int
	steps  int
	fail   bool
	prompt string
}

type mockParams struct {
	Prompt string `json:"prompt"`
	Steps  *int   `json:"steps"`
	Fail   bool   `json:"fail"`
}

// NewMockAdapter creates a mock with sane defaults.
func NewMockAdapter(cfg MockConfig) *MockAdapter {
	if cfg.Steps <= 0 {
		cfg.Steps = 2
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://mock.genpulse.local/artifacts"
	}
	if cfg.Poll.Interval <= 0 {
		cfg.Poll = PollConfig{Interval: 500 * time.Millisecond, Timeout: 30 * time.Second}
	}
	return &MockAdapter{
		tasks:  make(map[string]*mockTask),
		config: cfg,
	}
}

// NewMockFromConfig is the registry constructor.
func NewMockFromConfig(cfg ProviderConfig) (Adapter, error) {
	mc := MockConfig{BaseURL: cfg.BaseURL}
	if v, ok := cfg.Extra["steps"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid mock steps %q: %w", v, err)
		}
		mc.Steps = n
	}
	if v, ok := cfg.Extra["error_rate"]; ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid mock error_rate %q: %w", v, err)
		}
		mc.ErrorRate = f
	}
	m := NewMockAdapter(mc)
	m.config.Poll = cfg.Apply(m.config.Poll)
	return m, nil
}

func (m *MockAdapter) Name() Name { return MockName }

func (m *MockAdapter) PollConfig() PollConfig { return m.config.Poll }

func (m *MockAdapter) Submit(ctx context.Context, req Request) (string, error) {
	var p mockParams
	if err := req.DecodeParams(&p); err != nil {
		return "", &SubmissionError{Provider: MockName, Code: "invalid_params", Message: err.Error()}
	}
	if err := m.sleep(ctx); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	id := fmt.Sprintf("mock-%d", m.seq)
	steps := m.config.Steps
	if p.Steps != nil {
		steps = *p.Steps
	}
	m.tasks[id] = &mockTask{steps: steps, fail: p.Fail, prompt: p.Prompt}
	return id, nil
}

func (m *MockAdapter) FetchStatus(ctx context.Context, taskID string) (StatusResponse, error) {
	if err := m.sleep(ctx); err != nil {
		return StatusResponse{}, &TransientError{Provider: MockName, Err: err}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	task, ok := m.tasks[taskID]
	if !ok {
		return StatusResponse{}, &FatalError{Provider: MockName, TaskID: taskID, Message: "task not found"}
	}
	if m.config.ErrorRate > 0 && rand.Float64() < m.config.ErrorRate {
		return StatusResponse{}, &TransientError{Provider: MockName, Err: fmt.Errorf("simulated network error")}
	}

	task.checks++
	if task.checks <= task.steps {
		return StatusResponse{
			TaskID:       taskID,
			Status:       StatusRunning,
			VendorStatus: "running",
			Progress:     task.checks * 100 / (task.steps + 1),
		}, nil
	}
	if task.fail {
		return StatusResponse{
			TaskID:       taskID,
			Status:       StatusFailed,
			VendorStatus: "failed",
			Error:        &ErrorInfo{Code: "mock_failure", Message: "generation failed"},
		}, nil
	}
	return StatusResponse{
		TaskID:       taskID,
		Status:       StatusSucceeded,
		VendorStatus: "succeeded",
		Progress:     100,
		Result: &Result{
			URL:   fmt.Sprintf("%s/%s.png", m.config.BaseURL, taskID),
			Extra: map[string]any{"prompt": task.prompt},
		},
	}, nil
}

func (m *MockAdapter) sleep(ctx context.Context) error {
	if m.config.Latency <= 0 {
		return nil
	}
	select {
	case <-time.After(m.config.Latency):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
