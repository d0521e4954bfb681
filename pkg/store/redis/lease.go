package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/isWangjianhua/GenPulse/pkg/store"
)

// Extend the TTL only while the caller still holds the lease.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Leases implements store.LeaseStore on plain Redis keys.
type Leases struct {
	client redis.UniversalClient
	prefix string
}

var _ store.LeaseStore = (*Leases)(nil)

func NewLeases(client redis.UniversalClient, prefix string) *Leases {
	return &Leases{client: client, prefix: prefix}
}

func (l *Leases) key(name string) string {
	return l.prefix + "lease:" + name
}

func (l *Leases) Acquire(ctx context.Context, name, holderID string, ttl time.Duration) (bool, error) {
	key := l.key(name)
	ok, err := l.client.SetNX(ctx, key, holderID, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lease %s: %w", name, err)
	}
	if ok {
		return true, nil
	}

	n, err := renewScript.Run(ctx, l.client, []string{key}, holderID, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to renew lease %s: %w", name, err)
	}
	return n == 1, nil
}

func (l *Leases) Release(ctx context.Context, name, holderID string) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key(name)}, holderID).Err(); err != nil {
		return fmt.Errorf("failed to release lease %s: %w", name, err)
	}
	return nil
}

func (l *Leases) Get(ctx context.Context, name string) (*store.Lease, error) {
	key := l.key(name)
	holder, err := l.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get lease %s: %w", name, err)
	}
	ttl, err := l.client.PTTL(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get lease ttl %s: %w", name, err)
	}
	return &store.Lease{Name: name, HolderID: holder, ExpiresAt: time.Now().Add(ttl)}, nil
}
