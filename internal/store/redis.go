package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis wraps the shared go-redis client behind the attempt counters, the
// rate limiter, the event queue, and the daily presence sets.
type Redis struct {
	Client *redis.Client
}

// NewRedis connects with short timeouts. No ping happens here: callers treat
// a dead Redis as degraded service, not a startup failure.
func NewRedis(addr string) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
		MinIdleConns: 2,
	})
	return &Redis{Client: client}
}

// PresenceKey names the per-day set of user ids the worker fills and the
// today endpoint counts. day is formatted 2006-01-02.
func PresenceKey(day string) string {
	return "facetrack:present:" + day
}

// Healthy verifies redis connectivity.
func (r *Redis) Healthy(ctx context.Context) bool {
	if r == nil || r.Client == nil {
		return false
	}
	return r.Client.Ping(ctx).Err() == nil
}

// Close releases the underlying client.
func (r *Redis) Close() error {
	if r == nil || r.Client == nil {
		return nil
	}
	return r.Client.Close()
}
