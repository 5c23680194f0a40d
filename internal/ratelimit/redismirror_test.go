// SPDX-License-Identifier: MIT

package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupMiniRedis(t *testing.T) (*miniredis.Miniredis, *RedisMirror) {
	t.Helper()
	mr := miniredis.NewMiniRedis()
	if err := mr.Start(); err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, NewRedisMirror(client)
}

func TestRedisMirrorAllowsWithinLimit(t *testing.T) {
	mr, mirror := setupMiniRedis(t)
	defer mr.Close()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, err := mirror.Allow(ctx, KindLocker, "5", "kiosk-a", 3)
		if err != nil {
			t.Fatalf("Allow() error: %v", err)
		}
		if !allowed {
			t.Fatalf("expected request %d to be allowed", i+1)
		}
	}
}

func TestRedisMirrorRejectsOverLimit(t *testing.T) {
	mr, mirror := setupMiniRedis(t)
	defer mr.Close()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := mirror.Allow(ctx, KindLocker, "5", "kiosk-a", 3); err != nil {
			t.Fatalf("Allow() error: %v", err)
		}
	}
	allowed, err := mirror.Allow(ctx, KindLocker, "5", "kiosk-a", 3)
	if err != nil {
		t.Fatalf("Allow() error: %v", err)
	}
	if allowed {
		t.Fatal("expected the 4th request to be rejected")
	}
}

func TestRedisMirrorResetsAfterWindow(t *testing.T) {
	mr, mirror := setupMiniRedis(t)
	defer mr.Close()
	ctx := context.Background()

	if _, err := mirror.Allow(ctx, KindDevice, "kiosk-a", "kiosk-a", 1); err != nil {
		t.Fatalf("Allow() error: %v", err)
	}
	allowed, err := mirror.Allow(ctx, KindDevice, "kiosk-a", "kiosk-a", 1)
	if err != nil {
		t.Fatalf("Allow() error: %v", err)
	}
	if allowed {
		t.Fatal("expected the second device request within the window to be rejected")
	}

	mr.FastForward(21 * time.Second)

	allowed, err = mirror.Allow(ctx, KindDevice, "kiosk-a", "kiosk-a", 1)
	if err != nil {
		t.Fatalf("Allow() error: %v", err)
	}
	if !allowed {
		t.Fatal("expected a fresh window to allow the request again")
	}
}

func TestRedisMirrorIsolatesKeysAndKiosks(t *testing.T) {
	mr, mirror := setupMiniRedis(t)
	defer mr.Close()
	ctx := context.Background()

	if _, err := mirror.Allow(ctx, KindLocker, "5", "kiosk-a", 1); err != nil {
		t.Fatalf("Allow() error: %v", err)
	}
	allowed, err := mirror.Allow(ctx, KindLocker, "5", "kiosk-b", 1)
	if err != nil {
		t.Fatalf("Allow() error: %v", err)
	}
	if !allowed {
		t.Fatal("expected a different kiosk_id to have its own bucket")
	}
}

func TestLimiterFallsBackWhenRedisUnavailable(t *testing.T) {
	mr, mirror := setupMiniRedis(t)
	mr.Close() // simulate the mirror being unreachable

	limiter := New(DefaultConfig(), nil).WithRedisMirror(mirror)
	res := limiter.Check(KindDevice, "kiosk-a", "kiosk-a")
	if !res.Allowed {
		t.Fatal("expected local bucket fallback to allow the first request despite redis being down")
	}
}
