package engine

import (
	"context"

	"github.com/isWangjianhua/GenPulse/pkg/provider"
)

// Generate submits req through a. Without wait it returns a PENDING
// response carrying the vendor task id; with wait it polls the task to a
// terminal state using the adapter's predicates and cadence.
func Generate(ctx context.Context, a provider.Adapter, req provider.Request, wait bool, onObserve ObserveFunc) (provider.StatusResponse, error) {
	taskID, err := a.Submit(ctx, req)
	if err != nil {
		return provider.StatusResponse{}, err
	}
	if !wait {
		return provider.StatusResponse{TaskID: taskID, Status: provider.StatusPending}, nil
	}
	return Track(ctx, a, taskID, onObserve)
}

// Track polls an already submitted vendor task.
func Track(ctx context.Context, a provider.Adapter, taskID string, onObserve ObserveFunc) (provider.StatusResponse, error) {
	isSucceeded, isFailed := provider.Predicates(a)
	cfg := a.PollConfig()
	return Poll(ctx, taskID, a.FetchStatus, isSucceeded, isFailed, onObserve, cfg.Interval, cfg.Timeout)
}
