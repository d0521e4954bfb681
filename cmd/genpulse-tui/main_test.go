package main

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/isWangjianhua/GenPulse/pkg/client"
)

type stubLister struct {
	tasks []client.Task
	err   error
	limit int
}

func (s *stubLister) List(ctx context.Context, limit int) ([]client.Task, error) {
	s.limit = limit
	return s.tasks, s.err
}

func TestFetchAndRender(t *testing.T) {
	now := time.Now()
	api := &stubLister{tasks: []client.Task{
		{TaskID: "t-1", Provider: "kling", Status: client.StatusCompleted, Progress: 100, UpdatedAt: now},
		{TaskID: "t-2", Provider: "kling", Status: client.StatusFailed, Error: "kling rejected the request", UpdatedAt: now},
		{TaskID: "t-3", Provider: "mock", Status: client.StatusProcessing, Progress: 40, UpdatedAt: now},
	}}
	m := initialModel(api, "http://gw")

	if !strings.Contains(m.View(), "Connecting to http://gw") {
		t.Errorf("expected connecting view, got %q", m.View())
	}

	msg := fetchTasks(api)()
	if api.limit != maxTasks {
		t.Errorf("expected limit %d, got %d", maxTasks, api.limit)
	}
	next, _ := m.Update(msg)
	view := next.(model).View()

	for _, want := range []string{"kling", "completed 1", "failed 1", "mock", "processing 1", "3 Tasks"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
}

func TestOfflineKeepsLastTasks(t *testing.T) {
	m := initialModel(&stubLister{}, "http://gw")
	next, _ := m.Update(dataMsg{tasks: []client.Task{{TaskID: "t-1", Provider: "mock", Status: client.StatusPending}}})
	next, _ = next.Update(dataMsg{err: errors.New("connection refused")})

	mm := next.(model)
	if len(mm.tasks) != 1 {
		t.Errorf("tasks should survive a failed poll, got %d", len(mm.tasks))
	}
	if !strings.Contains(mm.View(), "Offline: connection refused") {
		t.Errorf("expected offline footer, got %q", mm.View())
	}
}

func TestQuitKey(t *testing.T) {
	m := initialModel(&stubLister{}, "http://gw")
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("expected tea.QuitMsg")
	}
}

func TestSummarize(t *testing.T) {
	got := summarize([]client.Task{
		{Provider: "a", Status: client.StatusPending},
		{Provider: "a", Status: client.StatusPending},
		{Status: client.StatusFailed},
	})
	if got["a"][client.StatusPending] != 2 || got["unknown"][client.StatusFailed] != 1 {
		t.Errorf("unexpected summary %v", got)
	}
}
