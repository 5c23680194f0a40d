package sqlite

import "database/sql"

// Schema is the full locker fleet schema: lockers, events,
// commands, and kiosk_heartbeat, plus the unique partial index enforcing
// invariant I1 (no two lockers fleet-wide share the same non-null
// (owner_type='rfid', owner_key) while Reserved or Owned).
const Schema = `
CREATE TABLE IF NOT EXISTS lockers (
	kiosk_id      TEXT NOT NULL,
	id            INTEGER NOT NULL,
	status        TEXT NOT NULL DEFAULT 'Free',
	owner_type    TEXT,
	owner_key     TEXT,
	is_vip        INTEGER NOT NULL DEFAULT 0,
	reserved_at   DATETIME,
	owned_at      DATETIME,
	display_name  TEXT,
	version       INTEGER NOT NULL DEFAULT 0,
	created_at    DATETIME NOT NULL,
	updated_at    DATETIME NOT NULL,
	PRIMARY KEY (kiosk_id, id)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_lockers_ownership_unique
	ON lockers (owner_type, owner_key)
	WHERE status IN ('Reserved', 'Owned') AND owner_key IS NOT NULL;

CREATE INDEX IF NOT EXISTS idx_lockers_kiosk_status ON lockers (kiosk_id, status);
CREATE INDEX IF NOT EXISTS idx_lockers_kiosk_updated ON lockers (kiosk_id, updated_at);

CREATE TABLE IF NOT EXISTS events (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	event_type  TEXT NOT NULL,
	kiosk_id    TEXT,
	locker_id   INTEGER,
	rfid_card   TEXT,
	device_id   TEXT,
	staff_user  TEXT,
	details_json TEXT,
	timestamp   DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_kiosk_time ON events (kiosk_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_events_type_time ON events (event_type, timestamp);
CREATE INDEX IF NOT EXISTS idx_events_staff_time ON events (staff_user, timestamp);

CREATE TABLE IF NOT EXISTS commands (
	command_id      TEXT PRIMARY KEY,
	kiosk_id        TEXT NOT NULL,
	command_type    TEXT NOT NULL,
	payload_json    TEXT,
	status          TEXT NOT NULL DEFAULT 'pending',
	retry_count     INTEGER NOT NULL DEFAULT 0,
	max_retries     INTEGER NOT NULL DEFAULT 3,
	next_attempt_at DATETIME NOT NULL,
	created_at      DATETIME NOT NULL,
	completed_at    DATETIME,
	last_error      TEXT
);

CREATE INDEX IF NOT EXISTS idx_commands_kiosk_status_next
	ON commands (kiosk_id, status, next_attempt_at);
CREATE INDEX IF NOT EXISTS idx_commands_kiosk_created
	ON commands (kiosk_id, created_at);

CREATE TABLE IF NOT EXISTS kiosk_heartbeat (
	kiosk_id      TEXT PRIMARY KEY,
	zone          TEXT NOT NULL,
	version       TEXT,
	last_seen     DATETIME NOT NULL,
	status        TEXT NOT NULL DEFAULT 'online',
	hardware_id   TEXT,
	config_hash   TEXT
);
`

// Migrate applies the schema. It is idempotent: every statement is
// CREATE ... IF NOT EXISTS, so re-running it against an already-migrated
// database is a no-op.
func Migrate(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
