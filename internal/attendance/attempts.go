package attendance

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// AttemptLimiter counts scan attempts per (user, day) in Redis so repeated
// taps and retried clients run out of budget instead of hammering the ledger.
type AttemptLimiter struct {
	client *redis.Client
}

// NewAttemptLimiter creates a limiter.
func NewAttemptLimiter(client *redis.Client) *AttemptLimiter {
	return &AttemptLimiter{client: client}
}

// Bump records one attempt for userID today and rejects with
// ErrTooManyAttempts once max is exceeded. Redis outages fail open: attendance
// must keep working when the cache is down.
func (l *AttemptLimiter) Bump(ctx context.Context, userID string, max int) error {
	if l == nil || l.client == nil || max <= 0 {
		return nil
	}
	key := fmt.Sprintf("facetrack:attempts:%s:%s", userID, time.Now().Format("2006-01-02"))
	n, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		log.Printf("attempt counter unavailable: %v", err)
		return nil
	}
	if n == 1 {
		l.client.Expire(ctx, key, 24*time.Hour)
	}
	if n > int64(max) {
		return ErrTooManyAttempts
	}
	return nil
}
