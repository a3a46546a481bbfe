package redis

import (
	"context"
	"fmt"
	"time"
)

// RateLimiter throttles payment initiations per user with a fixed window
// counter. Session initiation is the only gateway call a user can trigger
// at will, so it is the only one throttled.
type RateLimiter struct {
	client *Client
}

func NewRateLimiter(client *Client) *RateLimiter {
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

func UserPaymentKey(userID string) string {
	return fmt.Sprintf("rate_limit:payment:%s", userID)
}
