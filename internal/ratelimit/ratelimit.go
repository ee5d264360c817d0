// Package ratelimit limits raw event submissions per user.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Limiter decides whether one more request under key is allowed now.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Close() error
}

// slidingWindow keeps one sorted set per key scored by request time.
// Members carry a unique suffix so concurrent requests in the same
// nanosecond are counted separately.
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, 0, ARGV[2])
if redis.call('ZCARD', key) < limit then
	redis.call('ZADD', key, ARGV[1], ARGV[5])
	redis.call('PEXPIRE', key, ARGV[4])
	return 1
end
return 0
`)

// Redis is a sliding-window limiter backed by Redis.
type Redis struct {
	client *redis.Client
	limit  int64
	window time.Duration
	prefix string
	now    func() time.Time
}

// Option configures a Redis limiter.
type Option func(*Redis)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Redis) {
		if now != nil {
			r.now = now
		}
	}
}

// WithPrefix sets the key prefix. Default "ratelimit:".
func WithPrefix(prefix string) Option {
	return func(r *Redis) { r.prefix = prefix }
}

// NewRedis allows limit requests per key within any window.
func NewRedis(client *redis.Client, limit int, window time.Duration, opts ...Option) (*Redis, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("rate limit must be positive, got %d", limit)
	}
	if window <= 0 {
		return nil, fmt.Errorf("rate limit window must be positive, got %s", window)
	}
	r := &Redis{
		client: client,
		limit:  int64(limit),
		window: window,
		prefix: "ratelimit:",
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Dial parses redisURL, pings the server and returns a limiter that owns the
// client.
func Dial(ctx context.Context, redisURL string, limit int, window time.Duration, opts ...Option) (*Redis, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	r, err := NewRedis(client, limit, window, opts...)
	if err != nil {
		client.Close()
		return nil, err
	}
	return r, nil
}

func (r *Redis) Allow(ctx context.Context, key string) (bool, error) {
	now := r.now().UnixNano()
	windowStart := now - r.window.Nanoseconds()
	member := strconv.FormatInt(now, 10) + "-" + uuid.NewString()

	res, err := slidingWindow.Run(ctx, r.client,
		[]string{r.prefix + key},
		now, windowStart, r.limit, r.window.Milliseconds(), member,
	).Int()
	if err != nil {
		return false, fmt.Errorf("rate limit check: %w", err)
	}
	return res == 1, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

// Disabled allows everything.
type Disabled struct{}

func (Disabled) Allow(context.Context, string) (bool, error) { return true, nil }

func (Disabled) Close() error { return nil }
