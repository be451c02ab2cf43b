package service

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// slidingWindowScript counts issuance events in the trailing window and
// records the new event only when the count is under the limit, so check and
// record are one atomic step on the Redis side.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now_ms = tonumber(ARGV[1])
local window_ms = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local seq_key = key .. ":seq"

redis.call("ZREMRANGEBYSCORE", key, "-inf", now_ms - window_ms)
local count = redis.call("ZCARD", key)
if count >= limit then
  return 0
end
local seq = redis.call("INCR", seq_key)
redis.call("ZADD", key, now_ms, tostring(now_ms) .. "-" .. tostring(seq))
redis.call("PEXPIRE", key, window_ms)
redis.call("PEXPIRE", seq_key, window_ms)
return 1
`)

// RedisWindowLimiter enforces a per-user sliding-window issuance limit in
// Redis. It is a soft limit shared across instances; when Redis is not
// configured the issuer falls back to its database counters alone.
type RedisWindowLimiter struct {
	client redis.UniversalClient
	prefix string
	window time.Duration
	limit  int
}

// NewRedisWindowLimiter returns a limiter allowing limit events per window
// for each key.
func NewRedisWindowLimiter(client redis.UniversalClient, prefix string, window time.Duration, limit int) *RedisWindowLimiter {
	if prefix == "" {
		prefix = "voicegate:challenge"
	}
	return &RedisWindowLimiter{client: client, prefix: prefix, window: window, limit: limit}
}

// Allow records one issuance for key and reports whether it was under the
// limit. The event is only recorded when allowed.
func (l *RedisWindowLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if l.client == nil {
		return false, fmt.Errorf("ratelimit: redis client is nil")
	}
	raw, err := slidingWindowScript.Run(ctx, l.client,
		[]string{fmt.Sprintf("%s:%s", l.prefix, key)},
		time.Now().UnixMilli(),
		l.window.Milliseconds(),
		l.limit,
	).Result()
	if err != nil {
		return false, err
	}
	n, ok := raw.(int64)
	if !ok {
		return false, fmt.Errorf("ratelimit: unexpected redis script response %T", raw)
	}
	return n == 1, nil
}
