// SPDX-License-Identifier: MIT

package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lockerfleet/fleet/internal/commandqueue"
	"github.com/lockerfleet/fleet/internal/lockerstore"
	"github.com/lockerfleet/fleet/internal/log"
	"github.com/lockerfleet/fleet/internal/modbus"
)

// app bundles the dependencies command handlers act on; kept separate
// from runServe's local variables so registerCommandHandlers reads cleanly.
type app struct {
	kioskID string
	lockers *lockerstore.Store
	modbus  *modbus.Controller
	cancel  context.CancelFunc
}

func registerCommandHandlers(d *commandqueue.Dispatcher, a *app) {
	d.Handle(commandqueue.TypeOpenLocker, a.handleOpenLocker)
	d.Handle(commandqueue.TypeBulkOpen, a.handleBulkOpen)
	d.Handle(commandqueue.TypeBlockLocker, a.handleBlockLocker)
	d.Handle(commandqueue.TypeUnblockLocker, a.handleUnblockLocker)
	d.Handle(commandqueue.TypeReset, a.handleReset)
	d.Handle(commandqueue.TypeSyncState, a.handleSyncState)
	d.Handle(commandqueue.TypeRestartService, a.handleRestartService)
	d.Handle(commandqueue.TypeBuzzer, a.handleBuzzer)
}

type openLockerPayload struct {
	LockerID  int    `json:"locker_id"`
	StaffUser string `json:"staff_user"`
	Reason    string `json:"reason"`
}

// handleOpenLocker executes a staff-forced open: pulse the relay, then
// release the locker back to Free so it can be reassigned.
func (a *app) handleOpenLocker(ctx context.Context, c commandqueue.Command) error {
	var p openLockerPayload
	if err := json.Unmarshal(c.Payload, &p); err != nil {
		return fmt.Errorf("open_locker: decode payload: %w", err)
	}
	ok, reason := a.modbus.OpenLocker(ctx, p.LockerID)
	if !ok {
		return fmt.Errorf("open_locker: %s", reason)
	}
	return a.lockers.ForceTransition(ctx, a.kioskID, p.LockerID, lockerstore.StatusFree, p.StaffUser, p.Reason)
}

// handleBulkOpen executes each requested locker in sequence, spaced by
// the payload's interval_ms (300ms when unset) so the relay bus isn't
// saturated.
func (a *app) handleBulkOpen(ctx context.Context, c commandqueue.Command) error {
	p, err := commandqueue.DecodeBulkOpen(c)
	if err != nil {
		return err
	}
	interval := time.Duration(p.IntervalMS) * time.Millisecond
	if interval <= 0 {
		interval = 300 * time.Millisecond
	}
	var failures []int
	for i, id := range p.LockerIDs {
		if p.ExcludeVIP {
			locker, err := a.lockers.GetLocker(ctx, a.kioskID, id)
			if err == nil && locker.IsVIP {
				continue
			}
		}
		ok, _ := a.modbus.OpenLocker(ctx, id)
		if !ok {
			failures = append(failures, id)
			continue
		}
		if err := a.lockers.ForceTransition(ctx, a.kioskID, id, lockerstore.StatusFree, p.StaffUser, "bulk_open"); err != nil {
			failures = append(failures, id)
		}
		if i < len(p.LockerIDs)-1 {
			time.Sleep(interval)
		}
	}
	if len(failures) > 0 {
		return fmt.Errorf("bulk_open: %d lockers failed: %v", len(failures), failures)
	}
	return nil
}

type blockLockerPayload struct {
	LockerID  int    `json:"locker_id"`
	StaffUser string `json:"staff_user"`
	Reason    string `json:"reason"`
}

func (a *app) handleBlockLocker(ctx context.Context, c commandqueue.Command) error {
	var p blockLockerPayload
	if err := json.Unmarshal(c.Payload, &p); err != nil {
		return fmt.Errorf("block_locker: decode payload: %w", err)
	}
	ok, err := a.lockers.Block(ctx, a.kioskID, p.LockerID, p.StaffUser, p.Reason)
	if err != nil {
		return fmt.Errorf("block_locker: %w", err)
	}
	if !ok {
		return fmt.Errorf("block_locker: locker %d already blocked or not found", p.LockerID)
	}
	return nil
}

type unblockLockerPayload struct {
	LockerID  int    `json:"locker_id"`
	StaffUser string `json:"staff_user"`
}

func (a *app) handleUnblockLocker(ctx context.Context, c commandqueue.Command) error {
	var p unblockLockerPayload
	if err := json.Unmarshal(c.Payload, &p); err != nil {
		return fmt.Errorf("unblock_locker: decode payload: %w", err)
	}
	ok, err := a.lockers.Unblock(ctx, a.kioskID, p.LockerID, p.StaffUser)
	if err != nil {
		return fmt.Errorf("unblock_locker: %w", err)
	}
	if !ok {
		return fmt.Errorf("unblock_locker: locker %d was not blocked", p.LockerID)
	}
	return nil
}

// handleReset acknowledges a staff-issued soft reset; the Modbus
// controller already self-heals connection loss via its own health
// supervisor, so there is nothing further to do here.
func (a *app) handleReset(_ context.Context, _ commandqueue.Command) error {
	log.WithComponent("kiosk").Info().Msg("reset command received")
	return nil
}

// handleSyncState is a no-op from the kiosk's perspective: the kiosk and
// gateway already read the same locker table, so there is no cache to
// resync.
func (a *app) handleSyncState(_ context.Context, _ commandqueue.Command) error {
	return nil
}

type restartServicePayload struct {
	ServiceName string `json:"service_name"`
}

// handleRestartService cancels the root context so the supervising
// errgroup unwinds and the process exits; the outer process manager
// (systemd/k8s) is responsible for restarting it.
func (a *app) handleRestartService(_ context.Context, c commandqueue.Command) error {
	var p restartServicePayload
	if err := json.Unmarshal(c.Payload, &p); err != nil {
		return fmt.Errorf("restart_service: decode payload: %w", err)
	}
	log.WithComponent("kiosk").Warn().Str("service", p.ServiceName).Msg("restart_service command received, shutting down for supervisor restart")
	a.cancel()
	return nil
}

type buzzerPayload struct {
	Pattern string `json:"pattern"`
}

// handleBuzzer logs the requested pattern. The relay-card wiring this
// controller drives has no buzzer channel of its own; kiosks wanting an
// audible cue map one to a spare relay channel in configuration.
func (a *app) handleBuzzer(_ context.Context, c commandqueue.Command) error {
	var p buzzerPayload
	if err := json.Unmarshal(c.Payload, &p); err != nil {
		return fmt.Errorf("buzzer: decode payload: %w", err)
	}
	log.WithComponent("kiosk").Info().Str("pattern", p.Pattern).Msg("buzzer pattern requested")
	return nil
}
