package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenBucketScript runs the bucket atomically in Redis so several processes
// share one budget. Keys self-expire after two idle hours.
//
// KEYS[1] = bucket key
// ARGV[1] = refill rate (tokens per second)
// ARGV[2] = capacity
// ARGV[3] = current unix time (seconds, fractional)
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local state = redis.call("HMGET", key, "tokens", "last_refill")
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

if not tokens or not last_refill then
    tokens = capacity
    last_refill = now
end

local elapsed = now - last_refill
if elapsed > 0 then
    tokens = tokens + elapsed * rate
    if tokens > capacity then
        tokens = capacity
    end
    last_refill = now
end

local allowed = 0
if tokens >= 1 then
    tokens = tokens - 1
    allowed = 1
end

redis.call("HMSET", key, "tokens", tokens, "last_refill", last_refill)
redis.call("EXPIRE", key, 7200)

return {allowed, tostring(tokens)}
`)

// SharedHourly is the redis-backed counterpart of Hourly for deployments with
// more than one API process. Consistency across processes is best-effort.
type SharedHourly struct {
	client *redis.Client
}

func NewSharedHourly(client *redis.Client) *SharedHourly {
	return &SharedHourly{client: client}
}

// Check consumes one request from key's shared budget. On a redis error the
// request is allowed: losing the counter store degrades enforcement, not
// availability.
func (s *SharedHourly) Check(ctx context.Context, key string, perHour int) (Decision, error) {
	now := float64(time.Now().UnixMicro()) / 1e6
	refill := float64(perHour) / 3600.0

	res, err := tokenBucketScript.Run(ctx, s.client, []string{"ratelimit:" + key}, refill, perHour, now).Result()
	if err != nil {
		return Decision{Allowed: true, Limit: perHour, Remaining: perHour, Reset: time.Now().Add(time.Hour)}, fmt.Errorf("redis limiter: %w", err)
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) != 2 {
		return Decision{Allowed: true, Limit: perHour, Remaining: perHour}, fmt.Errorf("redis limiter: unexpected script result %T", res)
	}
	allowed, _ := vals[0].(int64)

	d := Decision{
		Allowed: allowed == 1,
		Limit:   perHour,
		Reset:   time.Now().Add(time.Hour),
	}
	if s, ok := vals[1].(string); ok {
		var tokens float64
		fmt.Sscanf(s, "%f", &tokens)
		if tokens > 0 {
			d.Remaining = int(tokens)
		}
	}
	if !d.Allowed {
		d.RetryAfter = time.Duration(float64(time.Hour) / float64(perHour))
	}
	return d, nil
}
