package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/isWangjianhua/GenPulse/pkg/store"
)

// StatusTTL bounds how long a status snapshot stays readable in Redis.
const StatusTTL = time.Hour

// StatusCache keeps the latest status of every task and fans updates out
// over pub/sub.
type StatusCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

func NewStatusCache(client redis.UniversalClient, prefix string, logger *slog.Logger) *StatusCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatusCache{client: client, prefix: prefix, ttl: StatusTTL, logger: logger}
}

func (c *StatusCache) statusKey(taskID string) string {
	return c.prefix + "task_status:" + taskID
}

func (c *StatusCache) channel(taskID string) string {
	return c.prefix + "task_updates:" + taskID
}

// Publish stores ev as the task's current status and announces it.
func (c *StatusCache) Publish(ctx context.Context, ev store.TaskEvent) error {
	if ev.UpdatedAt.IsZero() {
		ev.UpdatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal task event: %w", err)
	}

	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, c.statusKey(ev.TaskID), data, c.ttl)
		pipe.Publish(ctx, c.channel(ev.TaskID), data)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to publish status for %s: %w", ev.TaskID, err)
	}
	return nil
}

// Get returns the cached status, or (nil, nil) if it expired or was never
// written.
func (c *StatusCache) Get(ctx context.Context, taskID string) (*store.TaskEvent, error) {
	data, err := c.client.Get(ctx, c.statusKey(taskID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read status for %s: %w", taskID, err)
	}
	var ev store.TaskEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("malformed status for %s: %w", taskID, err)
	}
	return &ev, nil
}

// Subscribe streams updates for taskID until ctx is cancelled. The returned
// channel is closed when the subscription ends.
func (c *StatusCache) Subscribe(ctx context.Context, taskID string) (<-chan store.TaskEvent, error) {
	ps := c.client.Subscribe(ctx, c.channel(taskID))
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", taskID, err)
	}

	out := make(chan store.TaskEvent, 16)
	go func() {
		defer close(out)
		defer ps.Close()

		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev store.TaskEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					c.logger.Warn("dropping malformed task update", "task_id", taskID, "error", err)
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
