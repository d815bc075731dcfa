package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"electorate/pkg/platform/sentinel"
)

// RedisStore is a fixed-window store shared across replicas. Fixed windows
// trade the boundary-burst precision of the in-memory store for a single
// round trip; the budgets are coarse enough that this does not matter.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore creates a store on an existing client.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// allowScript increments the window counter, starting the window on first
// use. Returns {count, remaining window in ms}.
var allowScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
return {count, ttl}
`)

func (s *RedisStore) Allow(ctx context.Context, key string, limit int, window time.Duration) (*Result, error) {
	vals, err := allowScript.Run(ctx, s.client,
		[]string{"electorate:ratelimit:" + key}, window.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("%w: rate limit check: %v", sentinel.ErrUnavailable, err)
	}
	if len(vals) != 2 {
		return nil, fmt.Errorf("rate limit check: unexpected script reply %v", vals)
	}

	count, ttl := int(vals[0]), time.Duration(vals[1])*time.Millisecond
	res := &Result{
		Limit:   limit,
		ResetAt: time.Now().Add(ttl),
	}
	if count > limit {
		return res, nil
	}
	res.Allowed = true
	res.Remaining = limit - count
	return res, nil
}
