package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrThrottled indicates too many failed login attempts for one source.
var ErrThrottled = errors.New("too many login attempts")

// LoginThrottle counts login attempts per source in Redis with a rolling
// expiry window.
type LoginThrottle struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

// NewLoginThrottle constructs a throttle allowing limit attempts per window.
func NewLoginThrottle(client *redis.Client, limit int64, window time.Duration) *LoginThrottle {
	return &LoginThrottle{client: client, limit: limit, window: window}
}

// Allow records an attempt for key and reports whether it is within the limit.
// A nil throttle allows everything.
func (t *LoginThrottle) Allow(ctx context.Context, key string) (bool, error) {
	if t == nil || t.client == nil {
		return true, nil
	}
	counter := "login_attempts:" + key
	count, err := t.client.Incr(ctx, counter).Result()
	if err != nil {
		return false, fmt.Errorf("auth: throttle incr: %w", err)
	}
	if count == 1 {
		if err := t.client.Expire(ctx, counter, t.window).Err(); err != nil {
			return false, fmt.Errorf("auth: throttle expire: %w", err)
		}
	}
	return count <= t.limit, nil
}

// Reset clears the attempt counter after a successful login.
func (t *LoginThrottle) Reset(ctx context.Context, key string) error {
	if t == nil || t.client == nil {
		return nil
	}
	return t.client.Del(ctx, "login_attempts:"+key).Err()
}
