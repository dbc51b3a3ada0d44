package httpx

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRateLimiter is a fixed-window limiter shared by every replica through Redis.
// Each bucket allows PerMinute requests per key per minute; Burst is ignored.
type RedisRateLimiter struct {
	rdb     redis.Scripter
	buckets map[string]BucketConfig
	window  time.Duration
	prefix  string
}

var redisFixedWindowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return current
`)

func NewRedisRateLimiter(rdb redis.Scripter, buckets map[string]BucketConfig, prefix string) *RedisRateLimiter {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "rl"
	}
	cfg := make(map[string]BucketConfig, len(buckets))
	for name, b := range buckets {
		if b.PerMinute > 0 {
			cfg[name] = b
		}
	}
	return &RedisRateLimiter{rdb: rdb, buckets: cfg, window: time.Minute, prefix: prefix}
}

func (rl *RedisRateLimiter) Allow(ctx context.Context, bucket, key string) (bool, error) {
	cfg, ok := rl.buckets[bucket]
	if !ok {
		return true, nil
	}
	count, err := rl.incr(ctx, rl.prefix+":"+bucket+":"+key)
	if err != nil {
		return false, err
	}
	return count <= int64(cfg.PerMinute), nil
}

func (rl *RedisRateLimiter) incr(ctx context.Context, key string) (int64, error) {
	res, err := redisFixedWindowScript.Run(ctx, rl.rdb, []string{key}, rl.window.Milliseconds()).Result()
	if err != nil {
		return 0, err
	}
	switch v := res.(type) {
	case int64:
		return v, nil
	case string:
		return strconv.ParseInt(v, 10, 64)
	default:
		return 0, fmt.Errorf("unexpected redis script result type %T", res)
	}
}
