package httpserver

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenBucket is a Redis-backed rate limiter. The Lua script makes
// the read-refill-consume step atomic, so concurrent gateways share
// one bucket per key without races.
type tokenBucket struct {
	client     redis.Cmdable
	bucketSize int64
	refillRate float64 // tokens per second
}

var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local bucket_size = tonumber(ARGV[1])
local refill_rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local tokens = tonumber(redis.call('HGET', key, 'tokens'))
local last_refill = tonumber(redis.call('HGET', key, 'last_refill'))

if tokens == nil then
    tokens = bucket_size
    last_refill = now
end

local elapsed = now - last_refill
tokens = math.min(bucket_size, tokens + elapsed * refill_rate)

local allowed = 0
if tokens >= 1 then
    tokens = tokens - 1
    allowed = 1
end

redis.call('HSET', key, 'tokens', tokens, 'last_refill', now)
redis.call('EXPIRE', key, 3600)

return allowed
`)

func newTokenBucket(client redis.Cmdable, bucketSize int64, refillRate float64) *tokenBucket {
	return &tokenBucket{client: client, bucketSize: bucketSize, refillRate: refillRate}
}

// Allow consumes one token for key. Redis being down fails open:
// rate limiting degrades before order flow does.
func (tb *tokenBucket) Allow(ctx context.Context, key string) bool {
	now := float64(time.Now().UnixNano()) / float64(time.Second)
	allowed, err := tokenBucketScript.Run(ctx, tb.client, []string{"rate:" + key},
		tb.bucketSize, tb.refillRate, now,
	).Int64()
	if err != nil {
		return true
	}
	return allowed == 1
}
