// SPDX-License-Identifier: MIT

// Package ratelimit implements the four independent token-bucket families
// defined in the locker fleet spec: per-IP, per-card, per-locker, and
// per-device. Buckets are memory-resident and keyed by (kind, key, kiosk_id);
// violations are reported through an EventSink so callers can log them as
// rate_limit_violation events.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"

	"github.com/lockerfleet/fleet/internal/log"
)

var rateLimitRejected = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "lockerfleet",
		Name:      "ratelimit_rejected_total",
		Help:      "Total rate limit rejections by bucket kind",
	},
	[]string{"kind"},
)

// Kind identifies one of the four token-bucket families.
type Kind string

const (
	KindIP     Kind = "ip"
	KindCard   Kind = "card"
	KindLocker Kind = "locker"
	KindDevice Kind = "device"
)

// Config holds the per-kind rate and burst settings.
type Config struct {
	IPPerMinute     int // default 30
	CardPerMinute   int // default 60
	LockerPerMinute int // default 6
	DevicePer20s    int // default 1

	// EvictAfter is how long an idle bucket is kept before being swept.
	EvictAfter time.Duration // default 1h
}

// DefaultConfig returns the fleet's baseline rate-limit thresholds.
func DefaultConfig() Config {
	return Config{
		IPPerMinute:     30,
		CardPerMinute:   60,
		LockerPerMinute: 6,
		DevicePer20s:    1,
		EvictAfter:      time.Hour,
	}
}

// Result is the outcome of a Check call.
type Result struct {
	Allowed          bool
	Reason           string
	RetryAfterSeconds float64
}

// EventSink receives rate_limit_violation and reset audit notifications.
// The gateway wires this to internal/eventlog and internal/audit.
type EventSink interface {
	RateLimitViolation(kind Kind, key, kioskID string)
	RateLimitReset(kind Kind, key, kioskID, staffUser string)
}

type bucketEntry struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// Limiter tracks token buckets for all four families.
type Limiter struct {
	cfg  Config
	sink EventSink

	mu      sync.Mutex
	buckets map[Kind]map[string]*bucketEntry

	lastEviction time.Time

	mirror *RedisMirror
}

// WithRedisMirror attaches a RedisMirror so limits hold across multiple
// gateway replicas sharing the same Redis. Returns the same Limiter for
// chaining. A Limiter with no mirror attached enforces purely in-process.
func (l *Limiter) WithRedisMirror(m *RedisMirror) *Limiter {
	l.mirror = m
	return l
}

func (l *Limiter) limitFor(kind Kind) int {
	switch kind {
	case KindIP:
		return l.cfg.IPPerMinute
	case KindCard:
		return l.cfg.CardPerMinute
	case KindLocker:
		return l.cfg.LockerPerMinute
	case KindDevice:
		return l.cfg.DevicePer20s
	default:
		return 1
	}
}

// New creates a Limiter. sink may be nil, in which case violations are
// silently dropped (used in tests that don't care about audit wiring).
func New(cfg Config, sink EventSink) *Limiter {
	return &Limiter{
		cfg:  cfg,
		sink: sink,
		buckets: map[Kind]map[string]*bucketEntry{
			KindIP:     {},
			KindCard:   {},
			KindLocker: {},
			KindDevice: {},
		},
		lastEviction: time.Now(),
	}
}

func (l *Limiter) limiterFor(kind Kind) *rate.Limiter {
	switch kind {
	case KindIP:
		return rate.NewLimiter(rate.Limit(float64(l.cfg.IPPerMinute)/60.0), l.cfg.IPPerMinute)
	case KindCard:
		return rate.NewLimiter(rate.Limit(float64(l.cfg.CardPerMinute)/60.0), l.cfg.CardPerMinute)
	case KindLocker:
		return rate.NewLimiter(rate.Limit(float64(l.cfg.LockerPerMinute)/60.0), l.cfg.LockerPerMinute)
	case KindDevice:
		return rate.NewLimiter(rate.Limit(1.0/20.0), l.cfg.DevicePer20s)
	default:
		return rate.NewLimiter(rate.Inf, 1)
	}
}

// key combines the caller's identifying key with the kiosk_id: buckets
// are always keyed by (kind, key, kiosk_id).
func bucketKey(key, kioskID string) string {
	return kioskID + "\x00" + key
}

// Check consumes one token from the (kind, key, kiosk_id) bucket. A
// rejection is reported to the EventSink as a rate_limit_violation.
func (l *Limiter) Check(kind Kind, key, kioskID string) Result {
	if l.mirror != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		allowed, err := l.mirror.Allow(ctx, kind, key, kioskID, l.limitFor(kind))
		cancel()
		if err != nil {
			log.WithComponent("ratelimit").Warn().Err(err).Msg("redis mirror unavailable, falling back to local bucket")
		} else if !allowed {
			rateLimitRejected.WithLabelValues(string(kind)).Inc()
			if l.sink != nil {
				l.sink.RateLimitViolation(kind, key, kioskID)
			}
			return Result{
				Allowed:           false,
				Reason:            fmt.Sprintf("%s rate limit exceeded", kind),
				RetryAfterSeconds: retryAfterSeconds(kind),
			}
		}
	}

	l.mu.Lock()
	bk := bucketKey(key, kioskID)
	fam := l.buckets[kind]
	entry, ok := fam[bk]
	if !ok {
		entry = &bucketEntry{limiter: l.limiterFor(kind)}
		fam[bk] = entry
	}
	entry.lastUsed = time.Now()
	allowed := entry.limiter.Allow()
	l.maybeEvictLocked()
	l.mu.Unlock()

	if allowed {
		return Result{Allowed: true}
	}

	rateLimitRejected.WithLabelValues(string(kind)).Inc()
	if l.sink != nil {
		l.sink.RateLimitViolation(kind, key, kioskID)
	}
	return Result{
		Allowed:          false,
		Reason:           fmt.Sprintf("%s rate limit exceeded", kind),
		RetryAfterSeconds: retryAfterSeconds(kind),
	}
}

func retryAfterSeconds(kind Kind) float64 {
	switch kind {
	case KindDevice:
		return 20
	case KindLocker:
		return 10
	default:
		return 2
	}
}

// Reset clears the (kind, key, kiosk_id) bucket, e.g. when staff
// un-sticks a falsely-flagged card or device. Buckets of the same key at
// other kiosks are left as they are. The reset itself is an
// audited event.
func (l *Limiter) Reset(kind Kind, key, kioskID, staffUser string) {
	l.mu.Lock()
	bk := bucketKey(key, kioskID)
	delete(l.buckets[kind], bk)
	l.mu.Unlock()

	if l.sink != nil {
		l.sink.RateLimitReset(kind, key, kioskID, staffUser)
	}
}

// maybeEvictLocked sweeps buckets idle longer than cfg.EvictAfter. Must be
// called with l.mu held.
func (l *Limiter) maybeEvictLocked() {
	evictAfter := l.cfg.EvictAfter
	if evictAfter <= 0 {
		evictAfter = time.Hour
	}
	if time.Since(l.lastEviction) < evictAfter/4 {
		return
	}
	now := time.Now()
	for _, fam := range l.buckets {
		for k, entry := range fam {
			if now.Sub(entry.lastUsed) > evictAfter {
				delete(fam, k)
			}
		}
	}
	l.lastEviction = now
}

// Len reports the number of live buckets for a kind, for tests/diagnostics.
func (l *Limiter) Len(kind Kind) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets[kind])
}
