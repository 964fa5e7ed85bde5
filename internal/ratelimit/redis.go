package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisLimiter implements sliding-window rate limiting on Redis, for
// deployments running more than one collector instance against a shared
// budget.
type redisLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

// NewRedisLimiter connects to Redis and verifies the connection before
// returning a shared sliding-window limiter.
func NewRedisLimiter(redisURL string, limit int, window time.Duration) (Limiter, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &redisLimiter{
		client: client,
		limit:  int64(limit),
		window: window,
	}, nil
}

// allowScript atomically expires old entries, checks the remaining budget,
// and records the admission. Nothing is recorded on rejection.
const allowScript = `
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local window_start = tonumber(ARGV[2])
	local limit = tonumber(ARGV[3])
	local cost = tonumber(ARGV[4])

	redis.call('ZREMRANGEBYSCORE', key, 0, window_start)

	local current = redis.call('ZCARD', key)

	if current + cost <= limit then
		for i = 1, cost do
			redis.call('ZADD', key, now, now .. '-' .. i)
		end
		redis.call('EXPIRE', key, 60)
		return 1
	else
		return 0
	end
`

func (r *redisLimiter) Allow(ctx context.Context, key string, cost int) (bool, error) {
	if cost <= 0 {
		cost = 1
	}

	now := time.Now().UnixNano()
	windowStart := now - r.window.Nanoseconds()

	result, err := r.client.Eval(ctx, allowScript,
		[]string{"ratelimit:" + key},
		now, windowStart, r.limit, cost,
	).Int()
	if err != nil {
		return false, fmt.Errorf("rate limit check failed: %w", err)
	}

	return result == 1, nil
}

func (r *redisLimiter) Close() error {
	return r.client.Close()
}
