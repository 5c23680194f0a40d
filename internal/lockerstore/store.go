// SPDX-License-Identifier: MIT

// Package lockerstore is the authoritative, transactional source of
// truth for Locker and Event rows: optimistic concurrency via
// a monotonic version column, fleet-wide ownership uniqueness (I1)
// enforced by a unique partial index, and the reservation-expiry reaper.
package lockerstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lockerfleet/fleet/internal/audit"
	"github.com/lockerfleet/fleet/internal/eventlog"
	"github.com/lockerfleet/fleet/internal/log"
	"github.com/lockerfleet/fleet/internal/metrics"
)

// Status is a Locker's lifecycle state.
type Status string

const (
	StatusFree     Status = "Free"
	StatusReserved Status = "Reserved"
	StatusOwned    Status = "Owned"
	StatusBlocked  Status = "Blocked"
)

// OwnerType identifies who holds a locker.
type OwnerType string

const (
	OwnerRFID   OwnerType = "rfid"
	OwnerDevice OwnerType = "device"
	OwnerVIP    OwnerType = "vip"
	OwnerNone   OwnerType = "none"
)

// ErrAlreadyHasLocker names an invariant I1 conflict: the unique partial
// index on (owner_type, owner_key). Assign does not return it; it reports
// such a conflict as (false, nil).
var ErrAlreadyHasLocker = errors.New("lockerstore: owner already holds a locker")

// ErrVersionConflict is returned when a CAS update affected zero rows —
// "Returns false on contention" translated into an error the
// caller can distinguish from a hard failure.
var ErrVersionConflict = errors.New("lockerstore: version conflict")

// ErrNotFound is returned when the targeted locker row does not exist.
var ErrNotFound = errors.New("lockerstore: locker not found")

// Locker is Locker entity.
type Locker struct {
	KioskID     string
	ID          int
	Status      Status
	OwnerType   OwnerType
	OwnerKey    string
	IsVIP       bool
	ReservedAt  sql.NullTime
	OwnedAt     sql.NullTime
	DisplayName string
	Version     int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Store is the SQLite-backed implementation of operations.
type Store struct {
	db             *sql.DB
	events         *eventlog.Log
	reservationTTL time.Duration
	audit          *audit.Logger
}

// WithAudit attaches an audit.Logger used for staff-initiated mutations
// (Block/Unblock/ForceTransition). Returns the same Store for chaining.
// A Store with no audit logger attached simply skips the audit.Log call.
func (s *Store) WithAudit(l *audit.Logger) *Store {
	s.audit = l
	return s
}

// Config covers the store's tunables.
type Config struct {
	ReservationTTL time.Duration // default 90s, I7
}

// New wraps an already-migrated *sql.DB.
func New(db *sql.DB, events *eventlog.Log, cfg Config) *Store {
	ttl := cfg.ReservationTTL
	if ttl <= 0 {
		ttl = 90 * time.Second
	}
	return &Store{db: db, events: events, reservationTTL: ttl}
}

// InitializeKiosk bulk-inserts N Free lockers for a kiosk at
// initialization time.
func (s *Store) InitializeKiosk(ctx context.Context, kioskID string, count int, vipIDs map[int]bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("lockerstore: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO lockers (kiosk_id, id, status, is_vip, version, created_at, updated_at)
		VALUES (?, ?, 'Free', ?, 0, ?, ?)
		ON CONFLICT (kiosk_id, id) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("lockerstore: prepare: %w", err)
	}
	defer stmt.Close()

	for i := 1; i <= count; i++ {
		isVIP := vipIDs[i]
		if _, err := stmt.ExecContext(ctx, kioskID, i, isVIP, now, now); err != nil {
			return fmt.Errorf("lockerstore: init locker %d: %w", i, err)
		}
	}
	return tx.Commit()
}

// GetLocker returns one locker row.
func (s *Store) GetLocker(ctx context.Context, kioskID string, id int) (*Locker, error) {
	row := s.db.QueryRowContext(ctx, lockerSelectColumns+` FROM lockers WHERE kiosk_id = ? AND id = ?`, kioskID, id)
	l, err := scanLocker(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return l, err
}

// ListAvailable returns the Free lockers of a kiosk, oldest updated_at
// first. It takes no zone filter: the schema doesn't carry zone per-locker.
func (s *Store) ListAvailable(ctx context.Context, kioskID string) ([]Locker, error) {
	rows, err := s.db.QueryContext(ctx, lockerSelectColumns+` FROM lockers WHERE kiosk_id = ? AND status = ? ORDER BY updated_at ASC, id ASC`, kioskID, StatusFree)
	if err != nil {
		return nil, fmt.Errorf("lockerstore: list available: %w", err)
	}
	defer rows.Close()
	return scanLockers(rows)
}

// FindOwner returns at most one locker currently Reserved or Owned by
// (owner_type, owner_key), enforcing I1 at read time.
func (s *Store) FindOwner(ctx context.Context, ownerType OwnerType, ownerKey string) (*Locker, error) {
	row := s.db.QueryRowContext(ctx, lockerSelectColumns+`
		FROM lockers WHERE owner_type = ? AND owner_key = ? AND status IN ('Reserved','Owned') LIMIT 1`,
		string(ownerType), ownerKey)
	l, err := scanLocker(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return l, err
}

// Assign transitions a Free locker to Reserved for (ownerType, ownerKey),
// refusing if any locker fleet-wide already holds that (owner_type,
// owner_key) in Reserved or Owned.
func (s *Store) Assign(ctx context.Context, kioskID string, id int, ownerType OwnerType, ownerKey string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("lockerstore: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	cur, err := s.getLockerTx(ctx, tx, kioskID, id)
	if err != nil {
		return false, err
	}
	if cur.Status != StatusFree {
		return false, nil
	}

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
		UPDATE lockers SET status = 'Reserved', owner_type = ?, owner_key = ?,
			reserved_at = ?, version = version + 1, updated_at = ?
		WHERE kiosk_id = ? AND id = ? AND version = ? AND status = 'Free'`,
		string(ownerType), ownerKey, now, now, kioskID, id, cur.Version)
	if err != nil {
		if isUniqueViolation(err) {
			return false, nil // I1 conflict: translated to "already has a locker" by the caller
		}
		return false, fmt.Errorf("lockerstore: assign: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("lockerstore: assign rows affected: %w", err)
	}
	if n != 1 {
		return false, nil // lost the CAS race
	}

	if err := s.appendEventTx(ctx, tx, eventlog.Event{
		Type: eventlog.TypeRFIDAssign, KioskID: kioskID, LockerID: int64(id),
		Details: map[string]any{"owner_type": string(ownerType), "owner_key": ownerKey},
	}); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("lockerstore: commit assign: %w", err)
	}
	metrics.RecordLockerTransition("Free", "Reserved")
	return true, nil
}

// Confirm transitions Reserved -> Owned, stamping owned_at.
func (s *Store) Confirm(ctx context.Context, kioskID string, id int) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("lockerstore: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	cur, err := s.getLockerTx(ctx, tx, kioskID, id)
	if err != nil {
		return false, err
	}
	if cur.Status != StatusReserved {
		return false, nil
	}

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
		UPDATE lockers SET status = 'Owned', owned_at = ?, version = version + 1, updated_at = ?
		WHERE kiosk_id = ? AND id = ? AND version = ? AND status = 'Reserved'`,
		now, now, kioskID, id, cur.Version)
	if err != nil {
		return false, fmt.Errorf("lockerstore: confirm: %w", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return false, nil
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("lockerstore: commit confirm: %w", err)
	}
	metrics.RecordLockerTransition("Reserved", "Owned")
	return true, nil
}

// Release transitions {Reserved|Owned} -> Free, clearing owner fields.
// If expectedOwner is non-empty it must match owner_key;
// double-release on an already-Free locker is a no-op returning false.
func (s *Store) Release(ctx context.Context, kioskID string, id int, expectedOwner string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("lockerstore: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	cur, err := s.getLockerTx(ctx, tx, kioskID, id)
	if err != nil {
		return false, err
	}
	if cur.Status != StatusReserved && cur.Status != StatusOwned {
		return false, nil
	}
	if expectedOwner != "" && cur.OwnerKey != expectedOwner {
		return false, nil
	}
	fromStatus := cur.Status

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
		UPDATE lockers SET status = 'Free', owner_type = NULL, owner_key = NULL,
			reserved_at = NULL, owned_at = NULL, version = version + 1, updated_at = ?
		WHERE kiosk_id = ? AND id = ? AND version = ?`,
		now, kioskID, id, cur.Version)
	if err != nil {
		return false, fmt.Errorf("lockerstore: release: %w", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return false, nil
	}

	details := map[string]any{}
	if cur.ReservedAt.Valid {
		details["held_duration_hours"] = now.Sub(cur.ReservedAt.Time).Hours()
	} else if cur.OwnedAt.Valid {
		details["held_duration_hours"] = now.Sub(cur.OwnedAt.Time).Hours()
	}
	if err := s.appendEventTx(ctx, tx, eventlog.Event{
		Type: eventlog.TypeRFIDRelease, KioskID: kioskID, LockerID: int64(id),
		RFIDCard: cur.OwnerKey, Details: details,
	}); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("lockerstore: commit release: %w", err)
	}
	metrics.RecordLockerTransition(string(fromStatus), "Free")
	return true, nil
}

// Block transitions any non-Blocked status to Blocked, discarding
// ownership (pinned policy: "block supersedes all non-Blocked
// states, discarding ownership").
func (s *Store) Block(ctx context.Context, kioskID string, id int, staffUser, reason string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("lockerstore: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	cur, err := s.getLockerTx(ctx, tx, kioskID, id)
	if err != nil {
		return false, err
	}
	if cur.Status == StatusBlocked {
		return false, nil
	}
	fromStatus := cur.Status

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
		UPDATE lockers SET status = 'Blocked', owner_type = NULL, owner_key = NULL,
			reserved_at = NULL, owned_at = NULL, version = version + 1, updated_at = ?
		WHERE kiosk_id = ? AND id = ? AND version = ?`,
		now, kioskID, id, cur.Version)
	if err != nil {
		return false, fmt.Errorf("lockerstore: block: %w", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return false, nil
	}

	if err := s.appendEventTx(ctx, tx, eventlog.Event{
		Type: eventlog.TypeLockerBlocked, KioskID: kioskID, LockerID: int64(id), StaffUser: staffUser,
		Details: map[string]any{"reason": reason, "from_status": string(fromStatus)},
	}); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("lockerstore: commit block: %w", err)
	}
	metrics.RecordLockerTransition(string(fromStatus), "Blocked")
	s.logAudit(audit.EventLockerBlock, staffUser, "blocked locker", fmt.Sprintf("%s/%d", kioskID, id), reason)
	return true, nil
}

// Unblock transitions Blocked -> Free.
func (s *Store) Unblock(ctx context.Context, kioskID string, id int, staffUser string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("lockerstore: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	cur, err := s.getLockerTx(ctx, tx, kioskID, id)
	if err != nil {
		return false, err
	}
	if cur.Status != StatusBlocked {
		return false, nil
	}

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
		UPDATE lockers SET status = 'Free', version = version + 1, updated_at = ?
		WHERE kiosk_id = ? AND id = ? AND version = ?`,
		now, kioskID, id, cur.Version)
	if err != nil {
		return false, fmt.Errorf("lockerstore: unblock: %w", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return false, nil
	}

	if err := s.appendEventTx(ctx, tx, eventlog.Event{
		Type: eventlog.TypeLockerUnblocked, KioskID: kioskID, LockerID: int64(id), StaffUser: staffUser,
	}); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("lockerstore: commit unblock: %w", err)
	}
	metrics.RecordLockerTransition("Blocked", "Free")
	s.logAudit(audit.EventLockerUnblock, staffUser, "unblocked locker", fmt.Sprintf("%s/%d", kioskID, id), "")
	return true, nil
}

// ForceTransition is the emergency staff override: sets the
// row to newStatus regardless of current state, clearing owner fields
// unless transitioning to Owned, and logs an Event flagged as override.
func (s *Store) ForceTransition(ctx context.Context, kioskID string, id int, newStatus Status, staffUser, reason string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("lockerstore: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	cur, err := s.getLockerTx(ctx, tx, kioskID, id)
	if err != nil {
		return err
	}

	clearOwner := "owner_type = NULL, owner_key = NULL, reserved_at = NULL, owned_at = NULL, "
	if newStatus == StatusOwned {
		clearOwner = ""
	}

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
		UPDATE lockers SET status = ?, `+clearOwner+`version = version + 1, updated_at = ?
		WHERE kiosk_id = ? AND id = ? AND version = ?`,
		string(newStatus), now, kioskID, id, cur.Version)
	if err != nil {
		return fmt.Errorf("lockerstore: force_transition: %w", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return ErrVersionConflict
	}

	if err := s.appendEventTx(ctx, tx, eventlog.Event{
		Type: eventlog.TypeForceTransition, KioskID: kioskID, LockerID: int64(id), StaffUser: staffUser,
		Details: map[string]any{"from": string(cur.Status), "to": string(newStatus), "reason": reason, "override": true},
	}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("lockerstore: commit force_transition: %w", err)
	}
	metrics.RecordLockerTransition(string(cur.Status), string(newStatus))
	s.logAudit(audit.EventLockerForceTransition, staffUser, fmt.Sprintf("forced %s -> %s", cur.Status, newStatus), fmt.Sprintf("%s/%d", kioskID, id), reason)
	return nil
}

// logAudit is a nil-safe wrapper: a Store with no audit logger attached
// via WithAudit simply skips recording.
func (s *Store) logAudit(t audit.EventType, staffUser, action, resource, reason string) {
	if s.audit == nil {
		return
	}
	details := map[string]string{}
	if reason != "" {
		details["reason"] = reason
	}
	s.audit.Log(audit.Event{
		Type:     t,
		Actor:    staffUser,
		Action:   action,
		Resource: resource,
		Result:   "success",
		Details:  details,
	})
}

// ReapExpiredReservations moves every Reserved row past its TTL to Free
//. Intended to run on a 10s tick.
func (s *Store) ReapExpiredReservations(ctx context.Context) (int, error) {
	logger := log.WithComponent("lockerstore")
	cutoff := time.Now().UTC().Add(-s.reservationTTL)

	rows, err := s.db.QueryContext(ctx, lockerSelectColumns+`
		FROM lockers WHERE status = 'Reserved' AND reserved_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("lockerstore: reap query: %w", err)
	}
	expired, err := scanLockers(rows)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, l := range expired {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return count, fmt.Errorf("lockerstore: reap begin: %w", err)
		}
		now := time.Now().UTC()
		res, err := tx.ExecContext(ctx, `
			UPDATE lockers SET status = 'Free', owner_type = NULL, owner_key = NULL,
				reserved_at = NULL, owned_at = NULL, version = version + 1, updated_at = ?
			WHERE kiosk_id = ? AND id = ? AND version = ? AND status = 'Reserved'`,
			now, l.KioskID, l.ID, l.Version)
		if err != nil {
			tx.Rollback() //nolint:errcheck
			logger.Error().Err(err).Str("kiosk_id", l.KioskID).Int("locker_id", l.ID).Msg("reap: update failed")
			continue
		}
		if n, _ := res.RowsAffected(); n != 1 {
			tx.Rollback() //nolint:errcheck
			continue
		}
		if err := s.appendEventTx(ctx, tx, eventlog.Event{
			Type: eventlog.TypeRFIDRelease, KioskID: l.KioskID, LockerID: int64(l.ID), RFIDCard: l.OwnerKey,
			Details: map[string]any{"reason": "timeout"},
		}); err != nil {
			tx.Rollback() //nolint:errcheck
			continue
		}
		if err := tx.Commit(); err != nil {
			logger.Error().Err(err).Msg("reap: commit failed")
			continue
		}
		count++
	}
	if count > 0 {
		logger.Info().Int("count", count).Msg("reaped expired reservations")
	}
	return count, nil
}

// GetOldestAvailable returns the Free locker from candidateIDs with the
// oldest updated_at (ties broken by id ascending) — tie-break.
func (s *Store) GetOldestAvailable(ctx context.Context, kioskID string, candidateIDs []int) (*Locker, error) {
	if len(candidateIDs) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(candidateIDs))
	args := make([]any, 0, len(candidateIDs)+1)
	args = append(args, kioskID)
	for i, id := range candidateIDs {
		placeholders[i] = "?"
		args = append(args, id)
	}
	query := lockerSelectColumns + fmt.Sprintf(`
		FROM lockers WHERE kiosk_id = ? AND status = 'Free' AND id IN (%s)
		ORDER BY updated_at ASC, id ASC LIMIT 1`, strings.Join(placeholders, ","))
	row := s.db.QueryRowContext(ctx, query, args...)
	l, err := scanLocker(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return l, err
}

// RecentRelease is get_recent_release_for_card result shape.
type RecentRelease struct {
	LockerID        int
	ReleasedAt      time.Time
	HeldDurationHrs float64
}

// GetRecentReleaseForCard returns the most recent non-VIP release of a
// locker previously held by cardID within lookbackHours, for the
// user-flow SM's recent-holder reassignment rule.
func (s *Store) GetRecentReleaseForCard(ctx context.Context, kioskID, cardID string, lookbackHours int) (*RecentRelease, error) {
	since := time.Now().UTC().Add(-time.Duration(lookbackHours) * time.Hour)
	events, err := s.events.Find(ctx, eventlog.Query{
		KioskID:   kioskID,
		RFIDCard:  cardID,
		EventType: eventlog.TypeRFIDRelease,
		Since:     since,
	})
	if err != nil {
		return nil, fmt.Errorf("lockerstore: recent release query: %w", err)
	}

	for _, e := range events {
		if e.LockerID == 0 {
			continue
		}
		if l, err := s.GetLocker(ctx, kioskID, int(e.LockerID)); err == nil && l.IsVIP {
			continue
		}
		heldHours := 0.0
		if raw, ok := e.Details["held_duration_hours"].(float64); ok {
			heldHours = raw
		}
		return &RecentRelease{LockerID: int(e.LockerID), ReleasedAt: e.Timestamp, HeldDurationHrs: heldHours}, nil
	}
	return nil, nil
}

func (s *Store) getLockerTx(ctx context.Context, tx *sql.Tx, kioskID string, id int) (*Locker, error) {
	row := tx.QueryRowContext(ctx, lockerSelectColumns+` FROM lockers WHERE kiosk_id = ? AND id = ?`, kioskID, id)
	l, err := scanLocker(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return l, err
}

func (s *Store) appendEventTx(ctx context.Context, tx *sql.Tx, e eventlog.Event) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	var detailsJSON any
	if len(e.Details) > 0 {
		b, err := json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("lockerstore: marshal event details: %w", err)
		}
		detailsJSON = string(b)
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO events (event_type, kiosk_id, locker_id, rfid_card, device_id, staff_user, details_json, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(e.Type), nullStr(e.KioskID), nullID(e.LockerID), nullStr(e.RFIDCard), nullStr(e.DeviceID), nullStr(e.StaffUser), detailsJSON, e.Timestamp)
	return err
}

const lockerSelectColumns = `SELECT kiosk_id, id, status, owner_type, owner_key, is_vip, reserved_at, owned_at, display_name, version, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLocker(row rowScanner) (*Locker, error) {
	var l Locker
	var ownerType, ownerKey, displayName sql.NullString
	if err := row.Scan(&l.KioskID, &l.ID, &l.Status, &ownerType, &ownerKey, &l.IsVIP, &l.ReservedAt, &l.OwnedAt, &displayName, &l.Version, &l.CreatedAt, &l.UpdatedAt); err != nil {
		return nil, err
	}
	l.OwnerType = OwnerType(ownerType.String)
	l.OwnerKey = ownerKey.String
	l.DisplayName = displayName.String
	return &l, nil
}

func scanLockers(rows *sql.Rows) ([]Locker, error) {
	defer rows.Close()
	var out []Locker
	for rows.Next() {
		l, err := scanLocker(rows)
		if err != nil {
			return nil, fmt.Errorf("lockerstore: scan: %w", err)
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}

func isUniqueViolation(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint")
}
