package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/isWangjianhua/GenPulse/pkg/store"
)

const (
	DefaultWorkers    = 4
	defaultPopTimeout = 5 * time.Second
)

// MessageSource yields queued task messages. Pop returns (nil, nil) when
// nothing arrived within timeout.
type MessageSource interface {
	Pop(ctx context.Context, timeout time.Duration) (*store.TaskMessage, error)
}

// Handler processes one message.
type Handler interface {
	Dispatch(ctx context.Context, msg store.TaskMessage) error
}

// WorkerPool runs N goroutines that each pull one message at a time.
type WorkerPool struct {
	source     MessageSource
	handler    Handler
	size       int
	popTimeout time.Duration
	backoff    time.Duration
	logger     *slog.Logger
}

func NewWorkerPool(source MessageSource, handler Handler, size int, logger *slog.Logger) *WorkerPool {
	if size <= 0 {
		size = DefaultWorkers
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkerPool{
		source:     source,
		handler:    handler,
		size:       size,
		popTimeout: defaultPopTimeout,
		backoff:    time.Second,
		logger:     logger,
	}
}

// Run blocks until ctx is cancelled and every worker has returned.
func (p *WorkerPool) Run(ctx context.Context) {
	p.logger.Info("worker pool started", "workers", p.size)
	var wg sync.WaitGroup
	for i := 0; i < p.size; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.loop(ctx, id)
		}(i)
	}
	wg.Wait()
	p.logger.Info("worker pool stopped")
}

func (p *WorkerPool) loop(ctx context.Context, id int) {
	log := p.logger.With("worker", id)
	for ctx.Err() == nil {
		msg, err := p.source.Pop(ctx, p.popTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error("failed to pop task", "error", err)
			if sleepCtx(ctx, p.backoff) != nil {
				return
			}
			continue
		}
		if msg == nil {
			continue
		}
		p.handle(ctx, log, *msg)
	}
}

func (p *WorkerPool) handle(ctx context.Context, log *slog.Logger, msg store.TaskMessage) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("dispatch panicked", "task_id", msg.TaskID, "panic", r)
		}
	}()

	err := p.handler.Dispatch(ctx, msg)
	var rl *RateLimitExceeded
	switch {
	case err == nil:
	case errors.As(err, &rl):
		log.Debug("task re-queued", "task_id", msg.TaskID, "key", rl.Key)
	case errors.Is(err, context.Canceled):
	default:
		log.Error("dispatch failed", "task_id", msg.TaskID, "error", err)
	}
}
