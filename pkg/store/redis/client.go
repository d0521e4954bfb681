// Package redis holds the Redis-backed pieces shared by API and worker
// processes: the dispatch queue, the status cache, the rate-gate bucket and
// job leases.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewClient parses a redis:// URL and verifies the connection.
func NewClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// PrefixFor maps a deployment environment to its key prefix.
func PrefixFor(env string) string {
	switch env {
	case "prod", "production":
		return "prod:"
	case "test":
		return "test:"
	default:
		return "dev:"
	}
}
