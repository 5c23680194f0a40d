// SPDX-License-Identifier: MIT

// Package commandqueue implements the gateway-side durable command queue
// and kiosk-side Dispatcher: reliable, at-least-once, per-kiosk FIFO
// delivery of gateway-originated commands.
package commandqueue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lockerfleet/fleet/internal/backoff"
	"github.com/lockerfleet/fleet/internal/eventlog"
	"github.com/lockerfleet/fleet/internal/log"
	"github.com/lockerfleet/fleet/internal/metrics"
)

// Status is a Command's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Type enumerates command_type values.
type Type string

const (
	TypeOpenLocker     Type = "open_locker"
	TypeBulkOpen       Type = "bulk_open"
	TypeBlockLocker    Type = "block_locker"
	TypeUnblockLocker  Type = "unblock_locker"
	TypeReset          Type = "reset"
	TypeRestartService Type = "restart_service"
	TypeBuzzer         Type = "buzzer"
	TypeSyncState      Type = "sync_state"
)

// ErrInvalidPayload is returned by Enqueue when the payload doesn't
// validate against command_type.
var ErrInvalidPayload = errors.New("commandqueue: invalid payload for command type")

// Command is one durable queue row.
type Command struct {
	CommandID     string
	KioskID       string
	CommandType   Type
	Payload       json.RawMessage
	Status        Status
	RetryCount    int
	MaxRetries    int
	NextAttemptAt time.Time
	CreatedAt     time.Time
	CompletedAt   sql.NullTime
	LastError     string
}

// Queue is the gateway-side durable store, backed by the shared fleet DB.
type Queue struct {
	db      *sql.DB
	events  *eventlog.Log
	backoff backoff.Policy
}

// Config covers the queue's tunables.
type Config struct {
	DefaultMaxRetries int
	Backoff           backoff.Policy
	StaleThreshold    time.Duration // default 24h
}

func (c Config) withDefaults() Config {
	if c.DefaultMaxRetries <= 0 {
		c.DefaultMaxRetries = 3
	}
	if c.Backoff.Base <= 0 {
		c.Backoff = backoff.Policy{Base: 200 * time.Millisecond, Max: 60 * time.Second}
	}
	if c.StaleThreshold <= 0 {
		c.StaleThreshold = 24 * time.Hour
	}
	return c
}

// New wraps an already-migrated *sql.DB.
func New(db *sql.DB, events *eventlog.Log, cfg Config) *Queue {
	cfg = cfg.withDefaults()
	return &Queue{db: db, events: events, backoff: cfg.Backoff}
}

func validatePayload(t Type, payload map[string]any) error {
	require := func(keys ...string) error {
		for _, k := range keys {
			if _, ok := payload[k]; !ok {
				return fmt.Errorf("%w: %s missing key %q", ErrInvalidPayload, t, k)
			}
		}
		return nil
	}
	switch t {
	case TypeOpenLocker:
		return require("locker_id")
	case TypeBulkOpen:
		_, hasIDs := payload["locker_ids"]
		_, hasExclude := payload["exclude_vip"]
		if !hasIDs && !hasExclude {
			return fmt.Errorf("%w: bulk_open needs locker_ids or exclude_vip", ErrInvalidPayload)
		}
		return require("staff_user")
	case TypeBlockLocker:
		return require("locker_id", "staff_user", "reason")
	case TypeUnblockLocker:
		return require("locker_id", "staff_user")
	case TypeReset, TypeSyncState:
		return nil
	case TypeRestartService:
		return require("service_name")
	case TypeBuzzer:
		return require("pattern")
	default:
		return fmt.Errorf("%w: unknown command_type %q", ErrInvalidPayload, t)
	}
}

// Enqueue validates payload against commandType and inserts a pending
// command.
func (q *Queue) Enqueue(ctx context.Context, kioskID string, commandType Type, payload map[string]any, maxRetries int) (string, error) {
	if err := validatePayload(commandType, payload); err != nil {
		return "", err
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("commandqueue: marshal payload: %w", err)
	}

	commandID := uuid.NewString()
	now := time.Now().UTC()
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO commands (command_id, kiosk_id, command_type, payload_json, status, retry_count, max_retries, next_attempt_at, created_at)
		VALUES (?, ?, ?, ?, 'pending', 0, ?, ?, ?)`,
		commandID, kioskID, string(commandType), string(payloadJSON), maxRetries, now, now)
	if err != nil {
		return "", fmt.Errorf("commandqueue: enqueue: %w", err)
	}

	if _, err := q.events.Append(ctx, eventlog.Event{
		Type: eventlog.TypeCommandEnqueued, KioskID: kioskID,
		Details: map[string]any{"command_id": commandID, "command_type": string(commandType)},
	}); err != nil {
		log.WithComponent("commandqueue").Error().Err(err).Msg("failed to append command_enqueued event")
	}

	return commandID, nil
}

// Poll returns up to limit pending, due commands for kioskID ordered by
// created_at ASC.
func (q *Queue) Poll(ctx context.Context, kioskID string, limit int) ([]Command, error) {
	if limit <= 0 {
		limit = 10
	}
	now := time.Now().UTC()
	rows, err := q.db.QueryContext(ctx, `
		SELECT command_id, kiosk_id, command_type, payload_json, status, retry_count, max_retries, next_attempt_at, created_at, completed_at, last_error
		FROM commands WHERE kiosk_id = ? AND status = 'pending' AND next_attempt_at <= ?
		ORDER BY created_at ASC LIMIT ?`, kioskID, now, limit)
	if err != nil {
		return nil, fmt.Errorf("commandqueue: poll: %w", err)
	}
	defer rows.Close()

	var out []Command
	for rows.Next() {
		var c Command
		var payloadJSON, lastError sql.NullString
		if err := rows.Scan(&c.CommandID, &c.KioskID, &c.CommandType, &payloadJSON, &c.Status, &c.RetryCount, &c.MaxRetries, &c.NextAttemptAt, &c.CreatedAt, &c.CompletedAt, &lastError); err != nil {
			return nil, fmt.Errorf("commandqueue: scan: %w", err)
		}
		c.Payload = json.RawMessage(payloadJSON.String)
		c.LastError = lastError.String
		out = append(out, c)
	}
	return out, rows.Err()
}

// ReportResult records a kiosk's execution result for one command.
func (q *Queue) ReportResult(ctx context.Context, commandID string, success bool, execErr string) error {
	var row struct {
		kioskID     string
		commandType string
		retryCount  int
		maxRetries  int
	}
	err := q.db.QueryRowContext(ctx, `SELECT kiosk_id, command_type, retry_count, max_retries FROM commands WHERE command_id = ?`, commandID).
		Scan(&row.kioskID, &row.commandType, &row.retryCount, &row.maxRetries)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("commandqueue: command %s not found", commandID)
		}
		return fmt.Errorf("commandqueue: lookup: %w", err)
	}

	now := time.Now().UTC()
	if success {
		if _, err := q.db.ExecContext(ctx, `
			UPDATE commands SET status = 'completed', completed_at = ? WHERE command_id = ?`, now, commandID); err != nil {
			return fmt.Errorf("commandqueue: mark completed: %w", err)
		}
		metrics.RecordCommandOutcome(row.commandType, "completed")
		_, err = q.events.Append(ctx, eventlog.Event{Type: eventlog.TypeCommandCompleted, KioskID: row.kioskID, Details: map[string]any{"command_id": commandID}})
		return err
	}

	row.retryCount++
	if row.retryCount >= row.maxRetries {
		if _, err := q.db.ExecContext(ctx, `
			UPDATE commands SET status = 'failed', retry_count = ?, completed_at = ?, last_error = ? WHERE command_id = ?`,
			row.retryCount, now, execErr, commandID); err != nil {
			return fmt.Errorf("commandqueue: mark failed: %w", err)
		}
		metrics.RecordCommandOutcome(row.commandType, "failed")
		_, err = q.events.Append(ctx, eventlog.Event{Type: eventlog.TypeCommandFailed, KioskID: row.kioskID, Details: map[string]any{"command_id": commandID, "error": execErr}})
		return err
	}

	next := now.Add(q.backoff.Delay(row.retryCount))
	_, err = q.db.ExecContext(ctx, `
		UPDATE commands SET retry_count = ?, next_attempt_at = ?, last_error = ? WHERE command_id = ?`,
		row.retryCount, next, execErr, commandID)
	if err != nil {
		return fmt.Errorf("commandqueue: reschedule: %w", err)
	}
	return nil
}

// ClearStale marks pending commands older than staleThreshold as failed
// with reason "stale across restart".
func (q *Queue) ClearStale(ctx context.Context, kioskID string, staleThreshold time.Duration) (int, error) {
	if staleThreshold <= 0 {
		staleThreshold = 24 * time.Hour
	}
	cutoff := time.Now().UTC().Add(-staleThreshold)
	res, err := q.db.ExecContext(ctx, `
		UPDATE commands SET status = 'failed', completed_at = ?, last_error = 'stale across restart'
		WHERE kiosk_id = ? AND status = 'pending' AND created_at < ?`, time.Now().UTC(), kioskID, cutoff)
	if err != nil {
		return 0, fmt.Errorf("commandqueue: clear stale: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("commandqueue: rows affected: %w", err)
	}
	return int(n), nil
}
