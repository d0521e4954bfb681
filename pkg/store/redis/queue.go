package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/isWangjianhua/GenPulse/pkg/store"
)

// Queue is a FIFO of task messages: LPUSH on intake, BRPOP in workers.
type Queue struct {
	client redis.UniversalClient
	key    string
}

func NewQueue(client redis.UniversalClient, prefix string) *Queue {
	return &Queue{client: client, key: prefix + "task_queue"}
}

// Key is the Redis list backing the queue.
func (q *Queue) Key() string { return q.key }

func (q *Queue) Push(ctx context.Context, msg store.TaskMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal task message: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, data).Err(); err != nil {
		return fmt.Errorf("failed to push task %s: %w", msg.TaskID, err)
	}
	return nil
}

// Pop blocks up to timeout for the next message. It returns (nil, nil)
// when the queue stayed empty.
func (q *Queue) Pop(ctx context.Context, timeout time.Duration) (*store.TaskMessage, error) {
	res, err := q.client.BRPop(ctx, timeout, q.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to pop task: %w", err)
	}
	// BRPOP answers [key, value].
	if len(res) != 2 {
		return nil, fmt.Errorf("unexpected BRPOP reply %v", res)
	}
	var msg store.TaskMessage
	if err := json.Unmarshal([]byte(res[1]), &msg); err != nil {
		return nil, fmt.Errorf("malformed task message: %w", err)
	}
	return &msg, nil
}

// Len is the number of queued messages.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}
