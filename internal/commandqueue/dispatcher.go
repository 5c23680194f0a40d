// SPDX-License-Identifier: MIT

package commandqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lockerfleet/fleet/internal/log"
)

// Handler executes one command against the kiosk's local subsystems and
// returns an error describing why execution failed, if any.
type Handler func(ctx context.Context, c Command) error

// GatewayClient is the kiosk-side HTTP surface the Dispatcher polls.
// Implementations wrap internal/resilience's circuit breaker around the
// underlying HTTP calls.
type GatewayClient interface {
	PollCommands(ctx context.Context, kioskID string, limit int) ([]Command, error)
	ReportComplete(ctx context.Context, commandID string, success bool, execErr string) error
	ClearStale(ctx context.Context, kioskID string) (int, error)
}

// DispatcherConfig covers poll_interval_ms and related keys.
type DispatcherConfig struct {
	KioskID         string
	PollIntervalMS  int
	PollLimit       int
	CommandInterval time.Duration // not read by the Dispatcher; bulk_open spacing comes from the payload's interval_ms
}

func (c DispatcherConfig) withDefaults() DispatcherConfig {
	if c.PollIntervalMS <= 0 {
		c.PollIntervalMS = 2000
	}
	if c.PollLimit <= 0 {
		c.PollLimit = 10
	}
	if c.CommandInterval <= 0 {
		c.CommandInterval = 300 * time.Millisecond
	}
	return c
}

// Dispatcher is the kiosk-side poll/execute/report loop.
type Dispatcher struct {
	cfg      DispatcherConfig
	gateway  GatewayClient
	handlers map[Type]Handler
}

// NewDispatcher constructs a Dispatcher. Register handlers with Handle
// before calling Run.
func NewDispatcher(cfg DispatcherConfig, gateway GatewayClient) *Dispatcher {
	return &Dispatcher{cfg: cfg.withDefaults(), gateway: gateway, handlers: make(map[Type]Handler)}
}

// Handle registers the executor for one command_type.
func (d *Dispatcher) Handle(t Type, h Handler) {
	d.handlers[t] = h
}

// ClearStaleOnReconnect calls POST /commands/clear-stale once at startup.
func (d *Dispatcher) ClearStaleOnReconnect(ctx context.Context) (int, error) {
	n, err := d.gateway.ClearStale(ctx, d.cfg.KioskID)
	if err != nil {
		return 0, fmt.Errorf("commandqueue: clear-stale: %w", err)
	}
	return n, nil
}

// Run polls on poll_interval_ms until ctx is canceled. It is intended to
// be supervised by an errgroup.Group alongside the kiosk's other
// sibling tasks.
func (d *Dispatcher) Run(ctx context.Context) error {
	logger := log.WithComponent("commandqueue.dispatcher")
	ticker := time.NewTicker(time.Duration(d.cfg.PollIntervalMS) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := d.pollOnce(ctx); err != nil {
				logger.Error().Err(err).Msg("poll cycle failed")
			}
		}
	}
}

func (d *Dispatcher) pollOnce(ctx context.Context) error {
	logger := log.WithComponent("commandqueue.dispatcher")
	commands, err := d.gateway.PollCommands(ctx, d.cfg.KioskID, d.cfg.PollLimit)
	if err != nil {
		return fmt.Errorf("poll: %w", err)
	}

	for _, c := range commands {
		execErr := d.execute(ctx, c)
		success := execErr == nil
		var msg string
		if execErr != nil {
			msg = execErr.Error()
			logger.Warn().Str("command_id", c.CommandID).Str("command_type", string(c.CommandType)).Err(execErr).Msg("command execution failed")
		}
		if reportErr := d.gateway.ReportComplete(ctx, c.CommandID, success, msg); reportErr != nil {
			logger.Error().Str("command_id", c.CommandID).Err(reportErr).Msg("failed to report command result")
		}
	}
	return nil
}

func (d *Dispatcher) execute(ctx context.Context, c Command) error {
	h, ok := d.handlers[c.CommandType]
	if !ok {
		return fmt.Errorf("no handler registered for command_type %q", c.CommandType)
	}
	return h(ctx, c)
}

// BulkOpenPayload is TypeBulkOpen's payload shape.
type BulkOpenPayload struct {
	LockerIDs  []int  `json:"locker_ids"`
	ExcludeVIP bool   `json:"exclude_vip"`
	StaffUser  string `json:"staff_user"`
	IntervalMS int    `json:"interval_ms"`
}

// DecodeBulkOpen parses a bulk_open command's payload.
func DecodeBulkOpen(c Command) (BulkOpenPayload, error) {
	var p BulkOpenPayload
	if err := json.Unmarshal(c.Payload, &p); err != nil {
		return p, fmt.Errorf("commandqueue: decode bulk_open: %w", err)
	}
	return p, nil
}
