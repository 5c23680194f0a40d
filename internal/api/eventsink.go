// SPDX-License-Identifier: MIT

package api

import (
	"context"

	"github.com/lockerfleet/fleet/internal/eventlog"
	"github.com/lockerfleet/fleet/internal/log"
	"github.com/lockerfleet/fleet/internal/ratelimit"
)

// eventSink adapts internal/eventlog to ratelimit.EventSink so that
// rate_limit_violation and rate_limit_reset events land in
// the same append-only log as every other domain event.
type eventSink struct {
	events *eventlog.Log
}

// NewEventSink wraps an eventlog.Log for use as a ratelimit.EventSink.
func NewEventSink(events *eventlog.Log) ratelimit.EventSink {
	return &eventSink{events: events}
}

func (s *eventSink) RateLimitViolation(kind ratelimit.Kind, key, kioskID string) {
	_, err := s.events.Append(context.Background(), eventlog.Event{
		Type:    eventlog.TypeRateLimitViolation,
		KioskID: kioskID,
		Details: map[string]any{"kind": string(kind), "key": key},
	})
	if err != nil {
		log.WithComponent("ratelimit").Error().Err(err).Msg("failed to record rate_limit_violation event")
	}
}

func (s *eventSink) RateLimitReset(kind ratelimit.Kind, key, kioskID, staffUser string) {
	_, err := s.events.Append(context.Background(), eventlog.Event{
		Type:      eventlog.TypeRateLimitReset,
		KioskID:   kioskID,
		StaffUser: staffUser,
		Details:   map[string]any{"kind": string(kind), "key": key},
	})
	if err != nil {
		log.WithComponent("ratelimit").Error().Err(err).Msg("failed to record rate_limit_reset event")
	}
}
