package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var fixedWindowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return current
`)

// RedisLimiter allows at most limit calls per key in each window, shared across replicas.
type RedisLimiter struct {
	client redis.UniversalClient
	prefix string
	limit  int
	window time.Duration
}

func NewRedisLimiter(client redis.UniversalClient, prefix string, limit int, window time.Duration) *RedisLimiter {
	p := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if p == "" {
		p = "submission-hub:proof_fetch"
	}
	return &RedisLimiter{client: client, prefix: p, limit: limit, window: window}
}

// Allow consumes one call for key. A disabled limiter always allows.
func (r *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if r == nil || r.client == nil || r.limit <= 0 || r.window <= 0 {
		return true, nil
	}
	k := strings.TrimSpace(key)
	if k == "" {
		return true, nil
	}
	windowMs := r.window.Milliseconds()
	if windowMs < 1000 {
		windowMs = 1000
	}

	raw, err := fixedWindowScript.Run(ctx, r.client, []string{r.prefix + ":" + k}, windowMs).Result()
	if err != nil {
		return false, err
	}
	count, ok := raw.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected redis limiter response type: %T", raw)
	}
	return count <= int64(r.limit), nil
}
