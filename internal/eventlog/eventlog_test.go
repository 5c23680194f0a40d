// SPDX-License-Identifier: MIT

package eventlog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/lockerfleet/fleet/internal/persistence/sqlite"
)

func newTestLog(t *testing.T) *Log {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "fleet.db")
	db, err := sqlite.Open(dbPath, sqlite.DefaultConfig())
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := sqlite.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return New(db)
}

func TestAppendAndFindByKiosk(t *testing.T) {
	ctx := context.Background()
	l := newTestLog(t)

	id, err := l.Append(ctx, Event{Type: TypeRFIDAssign, KioskID: "gym-main", RFIDCard: "ABCD1234", LockerID: 5})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if id == 0 {
		t.Fatalf("expected a non-zero event id")
	}

	events, err := l.Find(ctx, Query{KioskID: "gym-main"})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Type != TypeRFIDAssign || events[0].RFIDCard != "ABCD1234" || events[0].LockerID != 5 {
		t.Fatalf("unexpected event contents: %+v", events[0])
	}
}

func TestFindFiltersByEventTypeAndTimeRange(t *testing.T) {
	ctx := context.Background()
	l := newTestLog(t)

	old := time.Now().UTC().Add(-48 * time.Hour)
	recent := time.Now().UTC()

	if _, err := l.Append(ctx, Event{Type: TypeRFIDRelease, KioskID: "gym-main", Timestamp: old}); err != nil {
		t.Fatalf("append old: %v", err)
	}
	if _, err := l.Append(ctx, Event{Type: TypeRFIDAssign, KioskID: "gym-main", Timestamp: recent}); err != nil {
		t.Fatalf("append recent: %v", err)
	}

	events, err := l.Find(ctx, Query{EventType: TypeRFIDAssign, Since: recent.Add(-time.Hour)})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(events) != 1 || events[0].Type != TypeRFIDAssign {
		t.Fatalf("expected exactly the recent rfid_assign event, got %+v", events)
	}
}

func TestAppendStoresDetailsJSON(t *testing.T) {
	ctx := context.Background()
	l := newTestLog(t)

	if _, err := l.Append(ctx, Event{
		Type:    TypeCommandFailed,
		KioskID: "gym-main",
		Details: map[string]any{"reason": "stale across restart", "retry_count": float64(3)},
	}); err != nil {
		t.Fatalf("append: %v", err)
	}

	events, err := l.Find(ctx, Query{KioskID: "gym-main"})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Details["reason"] != "stale across restart" {
		t.Fatalf("expected details to round-trip through JSON, got %+v", events[0].Details)
	}
}

func TestAppendDefaultsTimestamp(t *testing.T) {
	ctx := context.Background()
	l := newTestLog(t)
	before := time.Now().UTC()

	if _, err := l.Append(ctx, Event{Type: TypeKioskOnline, KioskID: "gym-main"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	events, err := l.Find(ctx, Query{KioskID: "gym-main"})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Timestamp.Before(before.Add(-time.Second)) {
		t.Fatalf("expected Timestamp to default to roughly now, got %v", events[0].Timestamp)
	}
}
