package httpmiddleware

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// RateLimiter bounds requests per client IP with a fixed one-minute window
// counted in Redis, so the limit holds across API replicas. Redis outages fail
// open: a cache blip never blocks the kiosk.
type RateLimiter struct {
	limit int

	// bump increments key and returns the new count; replaced in tests.
	bump func(ctx context.Context, key string) (int64, error)
}

// NewRateLimiter creates a limiter allowing perMinute requests per IP.
func NewRateLimiter(client *redis.Client, perMinute int) *RateLimiter {
	l := &RateLimiter{limit: perMinute}
	l.bump = func(ctx context.Context, key string) (int64, error) {
		n, err := client.Incr(ctx, key).Result()
		if err == nil && n == 1 {
			client.Expire(ctx, key, 2*time.Minute)
		}
		return n, err
	}
	return l
}

// GinMiddleware returns a gin handler enforcing the per-IP limit.
func (l *RateLimiter) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if l.limit <= 0 {
			c.Next()
			return
		}
		ip := c.ClientIP()
		if ip == "" {
			ip = "unknown"
		}
		key := "facetrack:ratelimit:" + ip + ":" + time.Now().Format("15:04")
		n, err := l.bump(c.Request.Context(), key)
		if err != nil {
			log.Printf("rate limit counter unavailable: %v", err)
			c.Next()
			return
		}
		if n > int64(l.limit) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
