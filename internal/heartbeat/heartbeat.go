// SPDX-License-Identifier: MIT

// Package heartbeat implements : the kiosk-side heartbeat
// ticker, the gateway-side upsert + offline sweep, and the
// POST /provisioning/register bootstrap handshake.
package heartbeat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lockerfleet/fleet/internal/eventlog"
	"github.com/lockerfleet/fleet/internal/log"
	"github.com/lockerfleet/fleet/internal/metrics"
)

// KioskStatus mirrors the kiosk_heartbeat.status column.
type KioskStatus string

const (
	KioskOnline  KioskStatus = "online"
	KioskOffline KioskStatus = "offline"
)

// Telemetry is the kiosk-reported payload of POST /heartbeat.
type Telemetry struct {
	KioskID        string
	Version        string
	ConfigHash     string
	Status         KioskStatus
	VoltageV       *float64
	TemperatureC   *float64
	UptimeSeconds  int64
	MemoryUsagePct *float64
	DiskSpacePct   *float64
	LastError      string
}

// Registration is the bootstrap payload of POST /provisioning/register.
type Registration struct {
	KioskID    string
	Zone       string
	Version    string
	HardwareID string
}

// PollingConfig is returned by register/heartbeat for dynamic tuning.
type PollingConfig struct {
	HeartbeatIntervalMS int `json:"heartbeat_interval_ms"`
	PollIntervalMS      int `json:"poll_interval_ms"`
}

// KioskRow is the gateway's persisted view of one kiosk.
type KioskRow struct {
	KioskID    string
	Zone       string
	Version    string
	LastSeen   time.Time
	Status     KioskStatus
	HardwareID string
	ConfigHash string
}

// Supervisor is the gateway-side registry.
type Supervisor struct {
	db              *sql.DB
	events          *eventlog.Log
	offlineThreshold time.Duration
	polling         PollingConfig
}

// Config covers the supervisor's tunables.
type Config struct {
	OfflineThreshold time.Duration // default 60s
	Polling          PollingConfig
}

func (c Config) withDefaults() Config {
	if c.OfflineThreshold <= 0 {
		c.OfflineThreshold = 60 * time.Second
	}
	if c.Polling.HeartbeatIntervalMS <= 0 {
		c.Polling.HeartbeatIntervalMS = 10000
	}
	if c.Polling.PollIntervalMS <= 0 {
		c.Polling.PollIntervalMS = 2000
	}
	return c
}

// NewSupervisor wraps an already-migrated *sql.DB.
func NewSupervisor(db *sql.DB, events *eventlog.Log, cfg Config) *Supervisor {
	cfg = cfg.withDefaults()
	return &Supervisor{db: db, events: events, offlineThreshold: cfg.OfflineThreshold, polling: cfg.Polling}
}

// Register creates or updates the kiosk row and returns the current
// polling config.
func (s *Supervisor) Register(ctx context.Context, r Registration) (PollingConfig, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kiosk_heartbeat (kiosk_id, zone, version, last_seen, status, hardware_id)
		VALUES (?, ?, ?, ?, 'online', ?)
		ON CONFLICT (kiosk_id) DO UPDATE SET
			zone = excluded.zone, version = excluded.version, last_seen = excluded.last_seen,
			status = 'online', hardware_id = excluded.hardware_id`,
		r.KioskID, r.Zone, r.Version, now, r.HardwareID)
	if err != nil {
		return PollingConfig{}, fmt.Errorf("heartbeat: register: %w", err)
	}

	if _, err := s.events.Append(ctx, eventlog.Event{
		Type: eventlog.TypeKioskOnline, KioskID: r.KioskID,
		Details: map[string]any{"zone": r.Zone, "version": r.Version, "hardware_id": r.HardwareID},
	}); err != nil {
		log.WithComponent("heartbeat").Error().Err(err).Msg("failed to append kiosk registration event")
	}
	metrics.SetKioskOnline(r.KioskID, true)

	return s.polling, nil
}

// Upsert records a heartbeat.
func (s *Supervisor) Upsert(ctx context.Context, t Telemetry) (PollingConfig, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE kiosk_heartbeat SET version = ?, config_hash = ?, last_seen = ?, status = 'online'
		WHERE kiosk_id = ?`, t.Version, t.ConfigHash, now, t.KioskID)
	if err != nil {
		return PollingConfig{}, fmt.Errorf("heartbeat: upsert: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return PollingConfig{}, fmt.Errorf("heartbeat: kiosk %s not registered", t.KioskID)
	}

	logger := log.WithComponent("heartbeat")
	ev := logger.Info().Str("kiosk_id", t.KioskID).Int64("uptime_seconds", t.UptimeSeconds)
	if t.VoltageV != nil {
		ev = ev.Float64("voltage_v", *t.VoltageV)
	}
	if t.TemperatureC != nil {
		ev = ev.Float64("temperature_c", *t.TemperatureC)
	}
	if t.MemoryUsagePct != nil {
		ev = ev.Float64("memory_usage_pct", *t.MemoryUsagePct)
	}
	if t.DiskSpacePct != nil {
		ev = ev.Float64("disk_space_pct", *t.DiskSpacePct)
	}
	if t.LastError != "" {
		ev = ev.Str("last_error", t.LastError)
	}
	ev.Msg("heartbeat received")
	metrics.SetKioskOnline(t.KioskID, true)

	return s.polling, nil
}

// SweepOffline marks kiosks with last_seen older than offline_threshold
// as offline; intended to run every 30s.
func (s *Supervisor) SweepOffline(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-s.offlineThreshold)
	rows, err := s.db.QueryContext(ctx, `SELECT kiosk_id FROM kiosk_heartbeat WHERE status = 'online' AND last_seen < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("heartbeat: sweep query: %w", err)
	}
	var stale []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("heartbeat: sweep scan: %w", err)
		}
		stale = append(stale, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, id := range stale {
		if _, err := s.db.ExecContext(ctx, `UPDATE kiosk_heartbeat SET status = 'offline' WHERE kiosk_id = ?`, id); err != nil {
			return 0, fmt.Errorf("heartbeat: mark offline %s: %w", id, err)
		}
		if _, err := s.events.Append(ctx, eventlog.Event{Type: eventlog.TypeKioskOffline, KioskID: id}); err != nil {
			log.WithComponent("heartbeat").Error().Err(err).Str("kiosk_id", id).Msg("failed to append kiosk_offline event")
		}
		metrics.SetKioskOnline(id, false)
	}
	return len(stale), nil
}

// Get returns one kiosk row.
func (s *Supervisor) Get(ctx context.Context, kioskID string) (*KioskRow, error) {
	var row KioskRow
	var version, hardwareID, configHash sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT kiosk_id, zone, version, last_seen, status, hardware_id, config_hash FROM kiosk_heartbeat WHERE kiosk_id = ?`, kioskID).
		Scan(&row.KioskID, &row.Zone, &version, &row.LastSeen, &row.Status, &hardwareID, &configHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("heartbeat: get: %w", err)
	}
	row.Version = version.String
	row.HardwareID = hardwareID.String
	row.ConfigHash = configHash.String
	return &row, nil
}
