package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/isWangjianhua/GenPulse/pkg/provider"
)

// FetchFunc performs one status observation.
type FetchFunc func(ctx context.Context, taskID string) (provider.StatusResponse, error)

// Predicate classifies an observation.
type Predicate func(provider.StatusResponse) bool

// ObserveFunc is called once per successful observation, before the
// terminal checks.
type ObserveFunc func(provider.StatusResponse) error

// PollTimeoutError is returned when no terminal state was observed within
// the timeout.
type PollTimeoutError struct {
	TaskID  string
	Elapsed time.Duration
}

func (e *PollTimeoutError) Error() string {
	return fmt.Sprintf("task %s did not finish within %s", e.TaskID, e.Elapsed.Round(time.Millisecond))
}

// Poll drives fetch until isSucceeded or isFailed holds, or until timeout
// elapses from the start of the call.
//
// Fetch errors are logged and retried on the next interval, except
// *provider.FatalError which is returned at once. A failed observation is
// a normal return. Observer errors and panics are logged and never stop
// the loop. ctx is checked between cycles.
func Poll(
	ctx context.Context,
	taskID string,
	fetch FetchFunc,
	isSucceeded, isFailed Predicate,
	onObserve ObserveFunc,
	interval, timeout time.Duration,
) (provider.StatusResponse, error) {
	return poller{logger: slog.Default(), now: time.Now, sleep: sleepCtx}.
		run(ctx, taskID, fetch, isSucceeded, isFailed, onObserve, interval, timeout)
}

type poller struct {
	logger *slog.Logger
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
}

func (p poller) run(
	ctx context.Context,
	taskID string,
	fetch FetchFunc,
	isSucceeded, isFailed Predicate,
	onObserve ObserveFunc,
	interval, timeout time.Duration,
) (provider.StatusResponse, error) {
	start := p.now()
	deadline := start.Add(timeout)
	log := p.logger.With("task_id", taskID)

	for p.now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return provider.StatusResponse{}, err
		}

		resp, err := fetch(ctx, taskID)
		if err != nil {
			if provider.IsFatal(err) {
				log.Error("status check failed permanently", "error", err)
				return provider.StatusResponse{}, err
			}
			pollErrors.Inc()
			log.Warn("status check failed, retrying", "error", err)
		} else {
			p.observe(log, onObserve, resp)

			if isSucceeded(resp) {
				return resp, nil
			}
			if isFailed(resp) {
				return resp, nil
			}
		}

		wait := interval
		if remaining := deadline.Sub(p.now()); remaining < wait {
			wait = remaining
		}
		if wait <= 0 {
			break
		}
		if err := p.sleep(ctx, wait); err != nil {
			return provider.StatusResponse{}, err
		}
	}

	return provider.StatusResponse{}, &PollTimeoutError{TaskID: taskID, Elapsed: p.now().Sub(start)}
}

func (p poller) observe(log *slog.Logger, onObserve ObserveFunc, resp provider.StatusResponse) {
	if onObserve == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error("observer panicked", "panic", r)
		}
	}()
	if err := onObserve(resp); err != nil {
		log.Warn("observer failed", "error", err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// IsPollTimeout reports whether err is a *PollTimeoutError.
func IsPollTimeout(err error) bool {
	var pe *PollTimeoutError
	return errors.As(err, &pe)
}
