package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter implements the sliding window on a Redis sorted set, for
// deployments with more than one instance sharing the admission budget.
type RedisLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
}

func NewRedisLimiter(redisURL string, limit int, window time.Duration) (*RedisLimiter, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisLimiter{client: client, limit: limit, window: window}, nil
}

func (r *RedisLimiter) Allow(ctx context.Context, key string) (bool, int, time.Time, error) {
	zkey := "ratelimit:" + key
	now := time.Now()
	member := strconv.FormatInt(now.UnixNano(), 10)

	pipe := r.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, zkey, "0", strconv.FormatInt(now.Add(-r.window).UnixNano(), 10))
	pipe.ZAdd(ctx, zkey, redis.Z{Score: float64(now.UnixNano()), Member: member})
	countCmd := pipe.ZCard(ctx, zkey)
	pipe.Expire(ctx, zkey, r.window)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, time.Time{}, err
	}

	count := int(countCmd.Val())
	if count > r.limit {
		// Over the limit: denied requests must not consume window slots.
		if err := r.client.ZRem(ctx, zkey, member).Err(); err != nil {
			return false, 0, time.Time{}, err
		}
		return false, 0, now.Add(r.window), nil
	}

	return true, r.limit - count, now.Add(r.window), nil
}

func (r *RedisLimiter) Close() error {
	return r.client.Close()
}
