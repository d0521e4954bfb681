package redis

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

const (
	bucketKeyPrefix = "genpulse:ratelimit:"
	bucketTTL       = 3600
)

// KEYS[1] bucket hash; ARGV capacity, rate, now (unix seconds), ttl.
// Returns {allowed, tokens-as-string}; Lua numbers would be truncated.
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local state = redis.call("HMGET", key, "tokens", "last_refreshed")
local tokens = tonumber(state[1])
local last = tonumber(state[2])
if tokens == nil or last == nil then
	tokens = capacity
	last = now
end

local filled = tokens + math.max(0, now - last) * rate
if filled > capacity then
	filled = capacity
end

local allowed = 0
if filled >= 1 then
	allowed = 1
	filled = filled - 1
end

redis.call("HSET", key, "tokens", tostring(filled), "last_refreshed", ARGV[3])
redis.call("EXPIRE", key, ARGV[4])
return {allowed, tostring(filled)}
`)

var rateGateErrors = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "genpulse_rate_gate_errors_total",
	Help: "Rate-gate evaluations that failed against Redis and were allowed through",
})

func init() {
	prometheus.MustRegister(rateGateErrors)
}

// TokenBucket is a distributed token bucket shared by every worker that
// talks to the same Redis.
type TokenBucket struct {
	client redis.UniversalClient
	logger *slog.Logger
	now    func() time.Time
}

func NewTokenBucket(client redis.UniversalClient, logger *slog.Logger) *TokenBucket {
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenBucket{client: client, logger: logger, now: time.Now}
}

// Acquire takes one token from the bucket for key, refilling at
// ratePerSecond with capacity max(1, ratePerSecond). Redis failures allow
// the request through.
func (b *TokenBucket) Acquire(ctx context.Context, key string, ratePerSecond float64) bool {
	allowed, _, err := b.take(ctx, key, ratePerSecond)
	if err != nil {
		rateGateErrors.Inc()
		b.logger.Error("rate gate unavailable, allowing request", "key", key, "error", err)
		return true
	}
	return allowed
}

// Remaining reports the tokens left after the last evaluation. It does not
// refill or consume.
func (b *TokenBucket) Remaining(ctx context.Context, key string) (float64, error) {
	return b.client.HGet(ctx, bucketKeyPrefix+key, "tokens").Float64()
}

func (b *TokenBucket) take(ctx context.Context, key string, rate float64) (bool, float64, error) {
	capacity := math.Max(1, rate)
	now := float64(b.now().UnixNano()) / 1e9

	res, err := tokenBucketScript.Run(ctx, b.client, []string{bucketKeyPrefix + key},
		strconv.FormatFloat(capacity, 'f', -1, 64),
		strconv.FormatFloat(rate, 'f', -1, 64),
		strconv.FormatFloat(now, 'f', 6, 64),
		bucketTTL,
	).Slice()
	if err != nil {
		return false, 0, err
	}
	if len(res) != 2 {
		return false, 0, fmt.Errorf("unexpected token bucket reply %v", res)
	}
	allowed, _ := res[0].(int64)
	var tokens float64
	if s, ok := res[1].(string); ok {
		tokens, _ = strconv.ParseFloat(s, 64)
	}
	return allowed == 1, tokens, nil
}
