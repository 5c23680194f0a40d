// SPDX-License-Identifier: MIT

// Package eventlog implements the append-only audit record: locker state
// transitions, rate-limit violations, staff actions, and command outcomes
// are inserted here and never updated or deleted. lockerstore's Confirm
// (Reserved -> Owned) appends no event; the other lockerstore
// transitions do. It is distinct
// from internal/audit, which covers operational/security logging of the
// process itself.
package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lockerfleet/fleet/internal/log"
)

// Type enumerates the event_type values recorded across the fleet's
// end-to-end flows.
type Type string

const (
	TypeRFIDAssign          Type = "rfid_assign"
	TypeRFIDRelease         Type = "rfid_release"
	TypeStaffOpen           Type = "staff_open"
	TypeBulkOpen            Type = "bulk_open"
	TypeRestarted           Type = "restarted"
	TypeCommandEnqueued     Type = "command_enqueued"
	TypeCommandCompleted    Type = "command_completed"
	TypeCommandFailed       Type = "command_failed"
	TypeRateLimitViolation  Type = "rate_limit_violation"
	TypeRateLimitReset      Type = "rate_limit_reset"
	TypeLockerBlocked       Type = "locker_blocked"
	TypeLockerUnblocked     Type = "locker_unblocked"
	TypeForceTransition     Type = "force_transition"
	TypeKioskOnline         Type = "kiosk_online"
	TypeKioskOffline        Type = "kiosk_offline"
)

// Event is one immutable row.
type Event struct {
	ID        int64
	Type      Type
	KioskID   string
	LockerID  int64 // 0 means "not applicable"
	RFIDCard  string
	DeviceID  string
	StaffUser string
	Details   map[string]any
	Timestamp time.Time
}

// Log is the append-only event sink, backed by the shared fleet database.
type Log struct {
	db *sql.DB
}

// New wraps an already-migrated *sql.DB.
func New(db *sql.DB) *Log {
	return &Log{db: db}
}

// Append inserts one event. Timestamp is stamped by the caller when set,
// so kiosk-originated events keep the kiosk's own clock when relayed to
// the gateway.
func (l *Log) Append(ctx context.Context, e Event) (int64, error) {
	logger := log.WithComponent("eventlog")
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	var detailsJSON any
	if len(e.Details) > 0 {
		b, err := json.Marshal(e.Details)
		if err != nil {
			return 0, fmt.Errorf("eventlog: marshal details: %w", err)
		}
		detailsJSON = string(b)
	}

	res, err := l.db.ExecContext(ctx, `
		INSERT INTO events (event_type, kiosk_id, locker_id, rfid_card, device_id, staff_user, details_json, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(e.Type), nullableString(e.KioskID), nullableLockerID(e.LockerID),
		nullableString(e.RFIDCard), nullableString(e.DeviceID), nullableString(e.StaffUser),
		detailsJSON, e.Timestamp,
	)
	if err != nil {
		return 0, fmt.Errorf("eventlog: append %s: %w", e.Type, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("eventlog: last insert id: %w", err)
	}
	logger.Debug().Str("event_type", string(e.Type)).Str("kiosk_id", e.KioskID).Int64("event_id", id).Msg("event appended")
	return id, nil
}

// Query filters the event log. All fields are optional; zero values are
// treated as "no filter" for that dimension, matching "by
// kiosk, by staff user, by event type, by time range" surfaces.
type Query struct {
	KioskID   string
	StaffUser string
	RFIDCard  string
	EventType Type
	Since     time.Time
	Until     time.Time
	Limit     int
}

// Find returns matching events, newest first.
func (l *Log) Find(ctx context.Context, q Query) ([]Event, error) {
	clauses := "WHERE 1=1"
	args := []any{}

	if q.KioskID != "" {
		clauses += " AND kiosk_id = ?"
		args = append(args, q.KioskID)
	}
	if q.StaffUser != "" {
		clauses += " AND staff_user = ?"
		args = append(args, q.StaffUser)
	}
	if q.RFIDCard != "" {
		clauses += " AND rfid_card = ?"
		args = append(args, q.RFIDCard)
	}
	if q.EventType != "" {
		clauses += " AND event_type = ?"
		args = append(args, string(q.EventType))
	}
	if !q.Since.IsZero() {
		clauses += " AND timestamp >= ?"
		args = append(args, q.Since)
	}
	if !q.Until.IsZero() {
		clauses += " AND timestamp <= ?"
		args = append(args, q.Until)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 500
	}

	rows, err := l.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT id, event_type, kiosk_id, locker_id, rfid_card, device_id, staff_user, details_json, timestamp
		 FROM events %s ORDER BY timestamp DESC, id DESC LIMIT ?`, clauses),
		append(args, limit)...)
	if err != nil {
		return nil, fmt.Errorf("eventlog: find: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var kioskID, rfidCard, deviceID, staffUser, detailsJSON sql.NullString
		var lockerID sql.NullInt64
		if err := rows.Scan(&e.ID, &e.Type, &kioskID, &lockerID, &rfidCard, &deviceID, &staffUser, &detailsJSON, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("eventlog: scan: %w", err)
		}
		e.KioskID = kioskID.String
		e.LockerID = lockerID.Int64
		e.RFIDCard = rfidCard.String
		e.DeviceID = deviceID.String
		e.StaffUser = staffUser.String
		if detailsJSON.Valid && detailsJSON.String != "" {
			if err := json.Unmarshal([]byte(detailsJSON.String), &e.Details); err != nil {
				return nil, fmt.Errorf("eventlog: unmarshal details: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableLockerID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}
