// SPDX-License-Identifier: MIT

package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisMirror backs Limiter.Check with a Redis-side fixed-window counter
// so the per-(kind,key,kiosk_id) limits hold across multiple gateway
// replicas, not just within one process's in-memory buckets. Limiter
// treats the mirror as an enhancement: a Redis error falls back to the
// local token bucket rather than failing the request.
type RedisMirror struct {
	client *redis.Client
}

// NewRedisMirror wraps an already-connected redis client.
func NewRedisMirror(client *redis.Client) *RedisMirror {
	return &RedisMirror{client: client}
}

func windowFor(kind Kind) time.Duration {
	if kind == KindDevice {
		return 20 * time.Second
	}
	return time.Minute
}

// Allow increments the fixed-window counter for (kind,key,kioskID) and
// reports whether it is still within limit. The key's own TTL rolls the
// window over, so no separate sweeper is needed.
func (m *RedisMirror) Allow(ctx context.Context, kind Kind, key, kioskID string, limit int) (bool, error) {
	redisKey := fmt.Sprintf("lockerfleet:ratelimit:%s:%s", kind, bucketKey(key, kioskID))

	count, err := m.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return false, fmt.Errorf("ratelimit: redis incr: %w", err)
	}
	if count == 1 {
		if err := m.client.Expire(ctx, redisKey, windowFor(kind)).Err(); err != nil {
			return false, fmt.Errorf("ratelimit: redis expire: %w", err)
		}
	}
	return count <= int64(limit), nil
}
