package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	ipBucketPrefix = "ratelimit:ip:"
	// minBucketTTL keeps fast-refilling buckets around long enough to matter.
	minBucketTTL = 10 * time.Second
)

// RateLimitResult is the outcome of one bucket check.
type RateLimitResult struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

// ipBucketScript takes one token from the bucket at KEYS[1] if it has one.
// Clock and refill rate are in milliseconds so sub-second refills are not
// lost to rounding. Returns {allowed, retry_after_ms, remaining}.
var ipBucketScript = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local per_ms   = tonumber(ARGV[2])
local now_ms   = tonumber(ARGV[3])
local ttl      = tonumber(ARGV[4])

local state  = redis.call('HMGET', KEYS[1], 't', 'at')
local tokens = tonumber(state[1])
local at     = tonumber(state[2])
if tokens == nil then
	tokens = capacity
	at = now_ms
end

if now_ms > at then
	tokens = math.min(capacity, tokens + (now_ms - at) * per_ms)
end

local allowed = 0
local wait_ms = 0
if tokens >= 1 then
	tokens = tokens - 1
	allowed = 1
else
	wait_ms = math.ceil((1 - tokens) / per_ms)
end

redis.call('HSET', KEYS[1], 't', tostring(tokens), 'at', now_ms)
redis.call('EXPIRE', KEYS[1], ttl)

return {allowed, wait_ms, math.floor(tokens)}
`)

// CheckIPRateLimit takes one token from ip's bucket, which holds burst
// tokens and refills at perHour tokens per hour. A non-positive perHour
// disables limiting. Addresses are stored hashed.
func (c *Cache) CheckIPRateLimit(ctx context.Context, ip string, perHour, burst int) (*RateLimitResult, error) {
	if perHour <= 0 {
		return &RateLimitResult{Allowed: true, Remaining: int64(burst)}, nil
	}

	perMs := float64(perHour) / float64(time.Hour/time.Millisecond)
	out, err := ipBucketScript.Run(ctx, c.client,
		[]string{ipBucketPrefix + hashIP(ip)},
		burst, perMs, time.Now().UnixMilli(), bucketTTL(perHour, burst),
	).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("ip bucket: %w", err)
	}
	if len(out) != 3 {
		return nil, fmt.Errorf("ip bucket: unexpected reply of length %d", len(out))
	}

	return &RateLimitResult{
		Allowed:    out[0] == 1,
		RetryAfter: time.Duration(out[1]) * time.Millisecond,
		Remaining:  out[2],
	}, nil
}

// bucketTTL is the number of seconds an empty bucket needs to refill
// completely, never less than minBucketTTL.
func bucketTTL(perHour, burst int) int {
	secs := (burst*3600 + perHour - 1) / perHour
	return max(secs, int(minBucketTTL/time.Second))
}

// hashIP returns the first 8 bytes of the address's SHA-256 as hex.
func hashIP(ip string) string {
	sum := sha256.Sum256([]byte(ip))
	return hex.EncodeToString(sum[:8])
}
