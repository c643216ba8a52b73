// Package cache wraps slower lookups with a short-TTL Redis cache, the same
// client library the rate limiter (internal/ratelimiter) already commits
// this service to.
package cache

import (
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/watermark-removal/internal/domain"
)

// defaultTTL bounds how stale a cached preference can be before the next
// lookup re-reads Postgres; short enough that a user flipping a preference
// takes effect within one worker notification cycle.
const defaultTTL = 30 * time.Second

// NotifPrefsCache wraps a domain.NotificationPreferences with a short-TTL
// Redis cache so the worker's per-job notify step doesn't hit Postgres on
// every terminal-status transition.
type NotifPrefsCache struct {
	Next domain.NotificationPreferences
	RDB  *redis.Client
	TTL  time.Duration
}

// NewNotifPrefsCache builds a cache in front of next. rdb may be nil, in
// which case every call passes through to next uncached.
func NewNotifPrefsCache(next domain.NotificationPreferences, rdb *redis.Client) *NotifPrefsCache {
	return &NotifPrefsCache{Next: next, RDB: rdb, TTL: defaultTTL}
}

// Enabled returns the cached preference when present and otherwise falls
// through to Next, populating the cache with the result.
func (c *NotifPrefsCache) Enabled(ctx domain.Context, userID, event string) (bool, error) {
	if c.RDB == nil {
		return c.Next.Enabled(ctx, userID, event)
	}

	key := "notifprefs:" + userID + ":" + event
	if v, err := c.RDB.Get(ctx, key).Result(); err == nil {
		return v == "1", nil
	}

	enabled, err := c.Next.Enabled(ctx, userID, event)
	if err != nil {
		return false, err
	}

	ttl := c.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	val := "0"
	if enabled {
		val = "1"
	}
	_ = c.RDB.Set(ctx, key, val, ttl).Err()
	return enabled, nil
}
