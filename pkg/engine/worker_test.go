package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/isWangjianhua/GenPulse/pkg/store"
)

type chanSource struct {
	ch   chan store.TaskMessage
	errs int
	mu   sync.Mutex
}

func (s *chanSource) Pop(ctx context.Context, timeout time.Duration) (*store.TaskMessage, error) {
	s.mu.Lock()
	if s.errs > 0 {
		s.errs--
		s.mu.Unlock()
		return nil, errors.New("connection refused")
	}
	s.mu.Unlock()

	select {
	case msg := <-s.ch:
		return &msg, nil
	case <-time.After(timeout):
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type recordingHandler struct {
	mu   sync.Mutex
	seen map[string]int
	done chan struct{}
	want int
}

func (h *recordingHandler) Dispatch(ctx context.Context, msg store.TaskMessage) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seen[msg.TaskID]++
	total := 0
	for _, n := range h.seen {
		total += n
	}
	if total == h.want {
		close(h.done)
	}
	if msg.TaskID == "panic" {
		panic("boom")
	}
	return nil
}

func TestWorkerPoolProcessesEveryMessage(t *testing.T) {
	src := &chanSource{ch: make(chan store.TaskMessage, 10), errs: 1}
	h := &recordingHandler{seen: make(map[string]int), done: make(chan struct{}), want: 5}

	for _, id := range []string{"a", "b", "panic", "c", "d"} {
		src.ch <- store.TaskMessage{TaskID: id}
	}

	pool := NewWorkerPool(src, h, 3, nil)
	pool.popTimeout = 10 * time.Millisecond
	pool.backoff = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(stopped)
	}()

	select {
	case <-h.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for messages")
	}
	cancel()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("pool did not stop after cancel")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, id := range []string{"a", "b", "panic", "c", "d"} {
		if h.seen[id] != 1 {
			t.Errorf("message %s handled %d times", id, h.seen[id])
		}
	}
}

func TestNewWorkerPoolDefaults(t *testing.T) {
	pool := NewWorkerPool(&chanSource{}, &recordingHandler{}, 0, nil)
	if pool.size != DefaultWorkers {
		t.Errorf("expected %d workers, got %d", DefaultWorkers, pool.size)
	}
}
