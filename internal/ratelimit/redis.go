package ratelimit

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fluentvoice/aigateway/internal/provider"
)

// Redis is the shared window store for multi-replica deployments. Each
// window is a Redis counter with a TTL equal to the window duration:
// INCR is atomic on the server, so concurrent gateways can't jointly
// exceed a ceiling.
type Redis struct {
	client *redis.Client
	limits Limits
}

// keyPrefix namespaces the limiter's keys inside a shared Redis.
const keyPrefix = "aigateway:ratelimit:"

// NewRedis creates a Redis-backed limiter using the given client.
func NewRedis(client *redis.Client, limits Limits) *Redis {
	return &Redis{client: client, limits: limits}
}

// Allow admits or rejects one request against the shared window.
//
// The sequence is INCR, then EXPIRE NX to start the window's TTL on its
// first hit. An INCR that lands over the ceiling is refunded with DECR
// so that rejected requests don't consume quota and compound the
// lockout.
//
// Redis being unreachable fails open: admission control is protection
// for the upstream spend, and trading a brief unmetered window for
// staying up is the right side of that trade. The error is logged and
// also returned so callers can count the degradation.
func (r *Redis) Allow(ctx context.Context, clientID string, service provider.ServiceType) (bool, error) {
	limit, ok := r.limits[service]
	if !ok || limit.Requests <= 0 {
		return true, nil
	}

	key := keyPrefix + windowKey(clientID, service)

	count, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		log.Printf("ratelimit: redis unavailable, failing open: %v", err)
		return true, err
	}

	if count == 1 {
		// First hit in a fresh window: start its clock. NX guards the
		// race where two first-hits both see count transitions — only
		// one TTL is set and the window never becomes immortal.
		if err := r.client.ExpireNX(ctx, key, limit.Window).Err(); err != nil {
			log.Printf("ratelimit: setting window TTL for %s: %v", key, err)
		}
	}

	if count > int64(limit.Requests) {
		// Refund the over-ceiling increment; best-effort.
		if err := r.client.Decr(ctx, key).Err(); err != nil {
			log.Printf("ratelimit: refunding rejected increment for %s: %v", key, err)
		}
		return false, nil
	}

	return true, nil
}

// NewClient builds a go-redis client with a short dial timeout so a dead
// Redis degrades to fail-open quickly instead of stalling admission.
func NewClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        addr,
		Password:    password,
		DB:          db,
		DialTimeout: 2 * time.Second,
	})
}
