package middleware

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenBucketScript refills and consumes one bucket atomically. State is a
// hash of {tokens, ts}; ts is the caller's clock in milliseconds.
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local state = redis.call("HMGET", key, "tokens", "ts")
local tokens = tonumber(state[1])
local ts = tonumber(state[2])
if tokens == nil or ts == nil then
  tokens = burst
  ts = now
end
if now > ts then
  tokens = math.min(burst, tokens + ((now - ts) / 1000) * rate)
  ts = now
end

local allowed = 0
local retry = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
else
  retry = math.ceil(((1 - tokens) / rate) * 1000)
end

redis.call("HSET", key, "tokens", tostring(tokens), "ts", tostring(ts))
redis.call("PEXPIRE", key, ttl)
return {allowed, math.floor(tokens), retry}
`)

// RedisTokenBucketLimiter shares buckets between instances through Redis.
type RedisTokenBucketLimiter struct {
	client redis.UniversalClient
	policy RateLimitPolicy
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

func NewRedisTokenBucketLimiter(client redis.UniversalClient, policy RateLimitPolicy, prefix string) *RedisTokenBucketLimiter {
	policy = normalizePolicy(policy)
	if prefix == "" {
		prefix = "asklp:ratelimit"
	}
	// A bucket left alone this long is full again, so dropping it loses nothing.
	fill := time.Duration(float64(policy.Burst) / policy.RatePerSecond * float64(time.Second))
	ttl := max(fill, time.Second) + time.Second
	return &RedisTokenBucketLimiter{client: client, policy: policy, prefix: prefix, ttl: ttl, now: time.Now}
}

func (l *RedisTokenBucketLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	res, err := tokenBucketScript.Run(ctx, l.client,
		[]string{l.prefix + ":" + key},
		l.policy.RatePerSecond,
		l.policy.Burst,
		l.now().UnixMilli(),
		l.ttl.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("redis token bucket: %w", err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("redis token bucket: unexpected reply length %d", len(res))
	}
	return Decision{
		Allowed:    res[0] == 1,
		Limit:      l.policy.Burst,
		Remaining:  int(math.Max(float64(res[1]), 0)),
		RetryAfter: time.Duration(res[2]) * time.Millisecond,
	}, nil
}
