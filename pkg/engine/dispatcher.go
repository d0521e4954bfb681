package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/isWangjianhua/GenPulse/pkg/provider"
	"github.com/isWangjianhua/GenPulse/pkg/store"
)

// Adapters resolves provider names to adapters and their admission rate.
// *provider.Factory satisfies it.
type Adapters interface {
	Get(name provider.Name) (provider.Adapter, error)
	RateFor(name provider.Name) float64
}

// TaskStore is the slice of the record store the dispatcher writes.
type TaskStore interface {
	UpdateTask(ctx context.Context, taskID string, u store.TaskUpdate) error
}

// Requeuer puts a message back on the work queue.
type Requeuer interface {
	Push(ctx context.Context, msg store.TaskMessage) error
}

// StatusPublisher caches and announces status snapshots.
type StatusPublisher interface {
	Publish(ctx context.Context, ev store.TaskEvent) error
}

// DispatcherDeps wires a Dispatcher. Gate, Notifier and Mirror are optional.
type DispatcherDeps struct {
	Adapters Adapters
	Tasks    TaskStore
	Queue    Requeuer
	Status   StatusPublisher
	Gate     Gate
	Notifier *WebhookNotifier
	Mirror   *Mirror
	Logger   *slog.Logger

	// RequeueDelay is the pause before a rate-limited message is pushed
	// back, so a saturated bucket does not spin the queue.
	RequeueDelay time.Duration
}

// Dispatcher owns the task record state machine:
// pending -> processing -> completed | failed. A rate-gate denial keeps the
// record pending and re-queues the same message.
type Dispatcher struct {
	adapters     Adapters
	tasks        TaskStore
	queue        Requeuer
	status       StatusPublisher
	gate         Gate
	notifier     *WebhookNotifier
	mirror       *Mirror
	logger       *slog.Logger
	requeueDelay time.Duration
}

func NewDispatcher(deps DispatcherDeps) *Dispatcher {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	delay := deps.RequeueDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	return &Dispatcher{
		adapters:     deps.Adapters,
		tasks:        deps.Tasks,
		queue:        deps.Queue,
		status:       deps.Status,
		gate:         deps.Gate,
		notifier:     deps.Notifier,
		mirror:       deps.Mirror,
		logger:       logger,
		requeueDelay: delay,
	}
}

// Dispatch runs one message to a terminal record state. It returns
// *RateLimitExceeded when the message was re-queued, ctx.Err() when the
// worker is shutting down mid-poll, and nil otherwise; task failures are
// recorded, not returned. A message carrying ProviderTaskID skips Submit
// and resumes tracking; one is queued whenever tracking is interrupted.
func (d *Dispatcher) Dispatch(ctx context.Context, msg store.TaskMessage) error {
	name := provider.Name(msg.Provider)
	log := d.logger.With("task_id", msg.TaskID, "provider", msg.Provider, "task_type", msg.TaskType)

	adapter, err := d.adapters.Get(name)
	if err != nil {
		log.Error("adapter unavailable", "error", err)
		d.fail(ctx, msg, &provider.ErrorInfo{Code: "provider_unavailable", Message: userMessage(name, err)})
		return nil
	}

	if err := Admit(ctx, d.gate, string(name), d.adapters.RateFor(name)); err != nil {
		log.Info("rate limited, re-queuing")
		return d.requeue(ctx, msg, err)
	}

	submitted := time.Now()
	vendorID := msg.ProviderTaskID
	if vendorID != "" {
		log = log.With("provider_task_id", vendorID)
		log.Info("resuming tracking")
	} else {
		vendorID, err = adapter.Submit(ctx, provider.Request{
			TaskType:       msg.TaskType,
			Params:         msg.Params,
			IdempotencyKey: msg.TaskID,
		})
		if err != nil {
			log.Error("submit failed", "error", err)
			d.fail(ctx, msg, &provider.ErrorInfo{Code: errorCode(err), Message: userMessage(name, err)})
			return nil
		}
		log = log.With("provider_task_id", vendorID)
		log.Info("submitted")

		zero := 0
		d.transition(ctx, msg, store.TaskUpdate{
			Status:         store.TaskProcessing,
			Progress:       &zero,
			ProviderTaskID: &vendorID,
		}, store.TaskEvent{Status: store.TaskProcessing})
	}

	tasksInFlight.WithLabelValues(msg.Provider).Inc()
	resp, err := Track(ctx, adapter, vendorID, d.observer(ctx, msg))
	tasksInFlight.WithLabelValues(msg.Provider).Dec()
	taskDuration.WithLabelValues(msg.Provider).Observe(time.Since(submitted).Seconds())

	if err != nil {
		if ctx.Err() != nil {
			resume := msg
			resume.ProviderTaskID = vendorID
			if perr := d.push(ctx, resume); perr != nil {
				log.Error("dispatch interrupted and resume message lost", "error", perr)
			} else {
				log.Warn("dispatch interrupted, queued for resume", "error", err)
			}
			return ctx.Err()
		}
		log.Error("poll ended without a result", "error", err)
		d.fail(ctx, msg, &provider.ErrorInfo{Code: errorCode(err), Message: userMessage(name, err)})
		return nil
	}

	isSucceeded, _ := provider.Predicates(adapter)
	if !isSucceeded(resp) {
		info := resp.Error
		if info == nil || info.Message == "" {
			info = &provider.ErrorInfo{Code: string(resp.Status), Message: "generation " + string(resp.Status)}
		}
		log.Warn("task failed at provider", "vendor_status", resp.VendorStatus, "code", info.Code)
		d.fail(ctx, msg, info)
		return nil
	}

	if d.mirror != nil {
		d.mirror.Rehost(ctx, msg.TaskID, resp.Result)
	}
	d.complete(ctx, msg, resp.Result)
	log.Info("completed", "url", resp.Result.PrimaryURL())
	return nil
}

func (d *Dispatcher) requeue(ctx context.Context, msg store.TaskMessage, cause error) error {
	select {
	case <-ctx.Done():
	case <-time.After(d.requeueDelay):
	}
	if err := d.push(ctx, msg); err != nil {
		return fmt.Errorf("failed to re-queue rate limited task %s: %w", msg.TaskID, err)
	}
	return cause
}

// push re-queues msg. Shutdown must not lose the message, so it uses a
// context detached from ctx's cancellation.
func (d *Dispatcher) push(ctx context.Context, msg store.TaskMessage) error {
	pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	return d.queue.Push(pushCtx, msg)
}

// observer records progress; it never changes the record status.
func (d *Dispatcher) observer(ctx context.Context, msg store.TaskMessage) ObserveFunc {
	last := -1
	return func(resp provider.StatusResponse) error {
		if resp.Progress == last {
			return nil
		}
		last = resp.Progress
		progress := resp.Progress
		if err := d.tasks.UpdateTask(ctx, msg.TaskID, store.TaskUpdate{Progress: &progress}); err != nil {
			return err
		}
		return d.status.Publish(ctx, store.TaskEvent{
			TaskID:    msg.TaskID,
			Status:    store.TaskProcessing,
			Progress:  progress,
			UpdatedAt: time.Now().UTC(),
		})
	}
}

func (d *Dispatcher) complete(ctx context.Context, msg store.TaskMessage, res *provider.Result) {
	result, _ := json.Marshal(res)
	hundred := 100
	ev := d.transition(ctx, msg, store.TaskUpdate{
		Status:   store.TaskCompleted,
		Progress: &hundred,
		Result:   result,
	}, store.TaskEvent{Status: store.TaskCompleted, Progress: 100, Result: result})
	tasksTotal.WithLabelValues(msg.Provider, string(store.TaskCompleted)).Inc()
	d.notify(ctx, msg, ev)
}

func (d *Dispatcher) fail(ctx context.Context, msg store.TaskMessage, info *provider.ErrorInfo) {
	result, _ := json.Marshal(map[string]*provider.ErrorInfo{"error": info})
	ev := d.transition(ctx, msg, store.TaskUpdate{
		Status: store.TaskFailed,
		Result: result,
		Error:  &info.Message,
	}, store.TaskEvent{Status: store.TaskFailed, Result: result, Error: info.Message})
	tasksTotal.WithLabelValues(msg.Provider, string(store.TaskFailed)).Inc()
	d.notify(ctx, msg, ev)
}

// transition writes the record first, then the status cache. Failures are
// logged; the record is the source of truth.
func (d *Dispatcher) transition(ctx context.Context, msg store.TaskMessage, u store.TaskUpdate, ev store.TaskEvent) store.TaskEvent {
	ev.TaskID = msg.TaskID
	ev.UpdatedAt = time.Now().UTC()
	if err := d.tasks.UpdateTask(ctx, msg.TaskID, u); err != nil {
		d.logger.Error("failed to update task record", "task_id", msg.TaskID, "status", u.Status, "error", err)
	}
	if err := d.status.Publish(ctx, ev); err != nil {
		d.logger.Error("failed to publish task status", "task_id", msg.TaskID, "status", ev.Status, "error", err)
	}
	return ev
}

func (d *Dispatcher) notify(ctx context.Context, msg store.TaskMessage, ev store.TaskEvent) {
	if d.notifier == nil || msg.CallbackURL == "" {
		return
	}
	if err := d.notifier.Notify(ctx, msg.CallbackURL, ev); err != nil {
		d.logger.Warn("callback delivery failed", "task_id", msg.TaskID, "url", msg.CallbackURL, "error", err)
	}
}

// errorCode maps an error to the short code stored on the record.
func errorCode(err error) string {
	var se *provider.SubmissionError
	var te *PollTimeoutError
	switch {
	case errors.As(err, &se):
		return "submission_rejected"
	case errors.As(err, &te):
		return "poll_timeout"
	case provider.IsFatal(err):
		return "task_lost"
	case errors.Is(err, provider.ErrUnknownProvider):
		return "unknown_provider"
	default:
		return "provider_error"
	}
}

// userMessage is the human-readable error stored on the record. Raw vendor
// bodies stay in the logs.
func userMessage(name provider.Name, err error) string {
	var se *provider.SubmissionError
	var te *PollTimeoutError
	switch {
	case errors.Is(err, provider.ErrUnknownProvider):
		return fmt.Sprintf("unknown provider %q", name)
	case errors.As(err, &se):
		if se.Code == "" || len(se.Message) > 200 || isHTTPCode(se.Code) {
			return fmt.Sprintf("%s rejected the request (%s)", name, se.Code)
		}
		return fmt.Sprintf("%s rejected the request: %s", name, se.Message)
	case errors.As(err, &te):
		return fmt.Sprintf("%s did not finish within %s", name, te.Elapsed.Round(time.Second))
	case provider.IsFatal(err):
		return fmt.Sprintf("%s no longer recognizes the task", name)
	default:
		return fmt.Sprintf("unexpected error from %s", name)
	}
}

func isHTTPCode(code string) bool {
	return len(code) > 5 && code[:5] == "http_"
}
