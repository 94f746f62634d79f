package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis serves the QR token store, the check-in queue, and the worker's
// per-session tallies. Timeouts are short: a slow Redis should fail a
// request, not stall it.
type Redis struct {
	Client *redis.Client
}

// NewRedis builds a client; connectivity is checked lazily via Healthy.
func NewRedis(addr string) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
	})
	return &Redis{Client: client}
}

// Healthy reports whether Redis answers a ping.
func (r *Redis) Healthy(ctx context.Context) bool {
	if r == nil || r.Client == nil {
		return false
	}
	return r.Client.Ping(ctx).Err() == nil
}
