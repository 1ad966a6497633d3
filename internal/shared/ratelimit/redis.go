package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// fixedWindowScript increments the counter and starts its expiry on the
// first hit of a window, atomically on the server.
// KEYS[1] counter key, ARGV[1] window in milliseconds.
var fixedWindowScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
return {count, ttl}
`)

// Redis is a fixed-window limiter shared by every instance of the service.
// Redis key expiry does the sweeping.
type Redis struct {
	client redis.UniversalClient
	prefix string
	limit  int
	window time.Duration
}

func NewRedis(client redis.UniversalClient, prefix string, limit int, window time.Duration) *Redis {
	return &Redis{client: client, prefix: prefix, limit: limit, window: window}
}

func (r *Redis) Allow(ctx context.Context, key string) (Decision, error) {
	res, err := fixedWindowScript.Run(ctx, r.client, []string{r.prefix + key}, r.window.Milliseconds()).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("failed to run rate limit script: %w", err)
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("unexpected rate limit script result %v", res)
	}
	ttl := time.Duration(res[1]) * time.Millisecond
	if ttl < 0 {
		ttl = r.window
	}
	return decide(int(res[0]), r.limit, time.Now().Add(ttl)), nil
}
