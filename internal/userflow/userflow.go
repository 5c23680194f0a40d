// SPDX-License-Identifier: MIT

// Package userflow implements the decision tree of : translating
// one CardScanned event into show_choice_set, open_and_release, or
// open_and_retain (VIP), plus the staff-driven manual locker-selection
// and emergency-release paths. It operates against narrow interfaces
// over the locker store and Modbus controller so tests can inject fakes
// without a real database or serial port.
package userflow

import (
	"context"
	"fmt"
	"time"

	"github.com/lockerfleet/fleet/internal/log"
	"github.com/lockerfleet/fleet/internal/lockerstore"
)

// ErrorCode is one of stable user-visible error codes.
type ErrorCode string

const (
	ErrNoAvailableLockers        ErrorCode = "NO_AVAILABLE_LOCKERS"
	ErrAssignmentFailed          ErrorCode = "ASSIGNMENT_FAILED"
	ErrOpeningFailed             ErrorCode = "OPENING_FAILED"
	ErrOwnershipValidationFailed ErrorCode = "OWNERSHIP_VALIDATION_FAILED"
	ErrSystemError               ErrorCode = "SYSTEM_ERROR"
	ErrLockerListError           ErrorCode = "LOCKER_LIST_ERROR"
	ErrOtherZone                 ErrorCode = "CARD_HOLDS_LOCKER_IN_OTHER_ZONE"
)

// AssignmentMode is kiosk.assignment_mode.
type AssignmentMode string

const (
	ModeManual    AssignmentMode = "manual"
	ModeAutomatic AssignmentMode = "automatic"
)

// EventName enumerates emitted events.
type EventName string

const (
	EventShowAvailableLockers   EventName = "show_available_lockers"
	EventLockerAssigned         EventName = "locker_assigned"
	EventLockerOpening          EventName = "locker_opening"
	EventLockerOpenedReleased   EventName = "locker_opened_and_released"
	EventLockerOpenedOwned      EventName = "locker_opened_and_owned"
	EventLockerOpenedVIP        EventName = "locker_opened_vip"
	EventAutoAssignSuccess      EventName = "locker_auto_assign_success"
	EventAutoAssignFallback     EventName = "locker_auto_assign_fallback"
)

// Event is published on Flow's channel for whatever sink the caller
// attaches (cmd/kiosk logs each one); no UI is implemented here.
type Event struct {
	Name     EventName
	KioskID  string
	LockerID int
	CardID   string
	Details  map[string]any
	At       time.Time
}

// Outcome is the result of handling one CardScanned or LockerSelection.
type Outcome struct {
	OK             bool
	Error          ErrorCode
	Message        string
	LockerID       int
	VIPRetained    bool
	Released       bool
	AutoAssigned   bool
	Choices        []lockerstore.Locker
	FallbackReason string
}

// LockerStore is the subset of lockerstore.Store the flow needs.
type LockerStore interface {
	FindOwner(ctx context.Context, ownerType lockerstore.OwnerType, ownerKey string) (*lockerstore.Locker, error)
	ListAvailable(ctx context.Context, kioskID string) ([]lockerstore.Locker, error)
	GetOldestAvailable(ctx context.Context, kioskID string, candidateIDs []int) (*lockerstore.Locker, error)
	GetRecentReleaseForCard(ctx context.Context, kioskID, cardID string, lookbackHours int) (*lockerstore.RecentRelease, error)
	Assign(ctx context.Context, kioskID string, id int, ownerType lockerstore.OwnerType, ownerKey string) (bool, error)
	Confirm(ctx context.Context, kioskID string, id int) (bool, error)
	Release(ctx context.Context, kioskID string, id int, expectedOwner string) (bool, error)
	ForceTransition(ctx context.Context, kioskID string, id int, newStatus lockerstore.Status, staffUser, reason string) error
}

// ModbusController is the subset of modbus.Controller the flow needs.
type ModbusController interface {
	OpenLocker(ctx context.Context, lockerID int) (bool, string)
}

// Config covers kiosk.* user-flow keys.
type Config struct {
	KioskID                 string
	AssignmentMode          AssignmentMode
	RecentHolderMinHours    float64
	MaxAvailableLockersDisplay int
}

func (c Config) withDefaults() Config {
	if c.AssignmentMode == "" {
		c.AssignmentMode = ModeManual
	}
	if c.MaxAvailableLockersDisplay <= 0 {
		c.MaxAvailableLockersDisplay = 6
	}
	return c
}

// Flow is the stateless decision engine; all durable state lives in the
// injected Store. Events is optional; nil drops events on the floor.
type Flow struct {
	cfg     Config
	store   LockerStore
	modbus  ModbusController
	events  chan<- Event
}

// New constructs a Flow. events may be nil.
func New(cfg Config, store LockerStore, modbus ModbusController, events chan<- Event) *Flow {
	return &Flow{cfg: cfg.withDefaults(), store: store, modbus: modbus, events: events}
}

func (f *Flow) emit(name EventName, lockerID int, cardID string, details map[string]any) {
	if f.events == nil {
		return
	}
	select {
	case f.events <- Event{Name: name, KioskID: f.cfg.KioskID, LockerID: lockerID, CardID: cardID, Details: details, At: time.Now().UTC()}:
	default:
		log.WithComponent("userflow").Warn().Str("event", string(name)).Msg("event channel full, dropped")
	}
}

// HandleCardScanned implements on CardScanned decision tree.
func (f *Flow) HandleCardScanned(ctx context.Context, cardID string) (*Outcome, error) {
	existing, err := f.store.FindOwner(ctx, lockerstore.OwnerRFID, cardID)
	if err != nil {
		return nil, fmt.Errorf("userflow: find owner: %w", err)
	}

	if existing != nil {
		if existing.KioskID != f.cfg.KioskID {
			return &Outcome{Error: ErrOtherZone, Message: "card holds a locker in another zone"}, nil
		}
		if existing.OwnerKey != cardID {
			return &Outcome{Error: ErrOwnershipValidationFailed, Message: "ownership record is stale"}, nil
		}

		f.emit(EventLockerOpening, existing.ID, cardID, nil)
		ok, reason := f.modbus.OpenLocker(ctx, existing.ID)
		if !ok {
			log.WithComponent("userflow").Warn().Int("locker_id", existing.ID).Str("reason", reason).Msg("opening owned locker failed; ownership preserved")
			return &Outcome{Error: ErrOpeningFailed, Message: "unable to open your locker, please call staff"}, nil
		}

		if existing.IsVIP {
			f.emit(EventLockerOpenedVIP, existing.ID, cardID, nil)
			return &Outcome{OK: true, LockerID: existing.ID, VIPRetained: true}, nil
		}

		released, err := f.store.Release(ctx, f.cfg.KioskID, existing.ID, cardID)
		if err != nil {
			return nil, fmt.Errorf("userflow: release: %w", err)
		}
		f.emit(EventLockerOpenedReleased, existing.ID, cardID, map[string]any{"released": released})
		return &Outcome{OK: true, LockerID: existing.ID, Released: released}, nil
	}

	available, err := f.store.ListAvailable(ctx, f.cfg.KioskID)
	if err != nil {
		return nil, fmt.Errorf("userflow: list available: %w", err)
	}
	if len(available) == 0 {
		return &Outcome{Error: ErrNoAvailableLockers, Message: "no lockers available"}, nil
	}

	if f.cfg.AssignmentMode == ModeAutomatic {
		out, err := f.autoAssign(ctx, cardID, available)
		if err != nil {
			return nil, err
		}
		if out.OK {
			return out, nil
		}
		// fall through to manual selection carrying the fallback reason
		return f.presentChoices(available, out.FallbackReason), nil
	}

	return f.presentChoices(available, ""), nil
}

func (f *Flow) presentChoices(available []lockerstore.Locker, fallbackReason string) *Outcome {
	max := f.cfg.MaxAvailableLockersDisplay
	if max > len(available) {
		max = len(available)
	}
	choices := available[:max]
	f.emit(EventShowAvailableLockers, 0, "", map[string]any{"count": len(choices)})
	return &Outcome{OK: true, Choices: choices, FallbackReason: fallbackReason}
}

// autoAssign implements automatic assignment-mode branch,
// including the recent-holder rule taking precedence over
// oldest-available whenever both qualify.
func (f *Flow) autoAssign(ctx context.Context, cardID string, available []lockerstore.Locker) (*Outcome, error) {
	ids := make([]int, len(available))
	availSet := make(map[int]bool, len(available))
	for i, l := range available {
		ids[i] = l.ID
		availSet[l.ID] = true
	}

	candidate := 0
	recent, err := f.store.GetRecentReleaseForCard(ctx, f.cfg.KioskID, cardID, 24)
	if err != nil {
		return nil, fmt.Errorf("userflow: recent release: %w", err)
	}
	if recent != nil && recent.HeldDurationHrs >= f.cfg.RecentHolderMinHours && availSet[recent.LockerID] {
		candidate = recent.LockerID
	} else {
		oldest, err := f.store.GetOldestAvailable(ctx, f.cfg.KioskID, ids)
		if err != nil {
			return nil, fmt.Errorf("userflow: oldest available: %w", err)
		}
		if oldest == nil {
			return &Outcome{OK: false, FallbackReason: "no_candidate"}, nil
		}
		candidate = oldest.ID
	}

	result, err := f.tryAssignAndOpen(ctx, cardID, candidate)
	if err != nil {
		return nil, err
	}
	if result.OK {
		f.emit(EventAutoAssignSuccess, candidate, cardID, nil)
		result.AutoAssigned = true
		return result, nil
	}
	f.emit(EventAutoAssignFallback, candidate, cardID, map[string]any{"reason": string(result.Error)})
	return &Outcome{OK: false, FallbackReason: string(result.Error)}, nil
}

func (f *Flow) tryAssignAndOpen(ctx context.Context, cardID string, lockerID int) (*Outcome, error) {
	assigned, err := f.store.Assign(ctx, f.cfg.KioskID, lockerID, lockerstore.OwnerRFID, cardID)
	if err != nil {
		return nil, fmt.Errorf("userflow: assign: %w", err)
	}
	if !assigned {
		return &Outcome{Error: ErrAssignmentFailed, Message: "that locker was just taken, please pick another"}, nil
	}
	f.emit(EventLockerAssigned, lockerID, cardID, nil)

	ok, reason := f.modbus.OpenLocker(ctx, lockerID)
	if !ok {
		if _, relErr := f.store.Release(ctx, f.cfg.KioskID, lockerID, cardID); relErr != nil {
			log.WithComponent("userflow").Error().Err(relErr).Int("locker_id", lockerID).Msg("rollback release after failed open also failed")
		}
		log.WithComponent("userflow").Warn().Int("locker_id", lockerID).Str("reason", reason).Msg("opening newly assigned locker failed")
		return &Outcome{Error: ErrOpeningFailed, Message: "unable to open the locker, please call staff"}, nil
	}

	if _, err := f.store.Confirm(ctx, f.cfg.KioskID, lockerID); err != nil {
		return nil, fmt.Errorf("userflow: confirm: %w", err)
	}
	f.emit(EventLockerOpenedOwned, lockerID, cardID, nil)
	return &Outcome{OK: true, LockerID: lockerID}, nil
}

// HandleLockerSelection implements on LockerSelection path,
// the manual counterpart to autoAssign.
func (f *Flow) HandleLockerSelection(ctx context.Context, cardID string, chosenID int) (*Outcome, error) {
	return f.tryAssignAndOpen(ctx, cardID, chosenID)
}

// EmergencyRelease is the staff-invoked override: force-open
// via Modbus, then force-release, logged with staffUser and reason.
func (f *Flow) EmergencyRelease(ctx context.Context, lockerID int, staffUser, reason string) error {
	logger := log.WithComponent("userflow")
	ok, modbusReason := f.modbus.OpenLocker(ctx, lockerID)
	if !ok {
		logger.Warn().Int("locker_id", lockerID).Str("reason", modbusReason).Msg("emergency release: open failed, forcing release anyway")
	}
	if err := f.store.ForceTransition(ctx, f.cfg.KioskID, lockerID, lockerstore.StatusFree, staffUser, reason); err != nil {
		return fmt.Errorf("userflow: emergency release: %w", err)
	}
	logger.Info().Int("locker_id", lockerID).Str("staff_user", staffUser).Str("reason", reason).Msg("emergency release completed")
	return nil
}
