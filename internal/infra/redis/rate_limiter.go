package redis

import (
	"context"
	"fmt"
	"time"
)

// RateLimiter is a fixed-window counter shared by all worker processes.
type RateLimiter struct {
	client RedisClient
}

func NewRateLimiter(client RedisClient) *RateLimiter {
	return &RateLimiter{client: client}
}

func (r *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	count, err := r.client.Incr(ctx, key)
	if err != nil {
		return false, err
	}

	if count == 1 {
		err = r.client.Expire(ctx, key, window)
		if err != nil {
			return false, err
		}
	}

	if count > int64(limit) {
		return false, nil
	}

	return true, nil
}

// ProviderKey buckets calls per provider per window start so a stuck key
// from a crashed Expire never throttles forever.
func ProviderKey(provider string, window time.Duration, now time.Time) string {
	bucket := now.Truncate(window).Unix()
	return fmt.Sprintf("rate_limit:ai:%s:%d", provider, bucket)
}
