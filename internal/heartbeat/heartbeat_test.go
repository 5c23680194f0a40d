package heartbeat

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lockerfleet/fleet/internal/eventlog"
	"github.com/lockerfleet/fleet/internal/persistence/sqlite"
)

func newTestSupervisor(t *testing.T, cfg Config) *Supervisor {
	t.Helper()
	db, err := sqlite.Open(":memory:", sqlite.Config{MaxOpenConns: 1})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, sqlite.Migrate(db))
	return NewSupervisor(db, eventlog.New(db), cfg)
}

func TestRegisterThenUpsertUpdatesLastSeen(t *testing.T) {
	ctx := context.Background()
	s := newTestSupervisor(t, Config{})

	polling, err := s.Register(ctx, Registration{KioskID: "kiosk-1", Zone: "A", Version: "1.0.0", HardwareID: "hw-1"})
	require.NoError(t, err)
	assert.Equal(t, 10000, polling.HeartbeatIntervalMS)

	row, err := s.Get(ctx, "kiosk-1")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, KioskOnline, row.Status)

	_, err = s.Upsert(ctx, Telemetry{KioskID: "kiosk-1", Version: "1.0.1", ConfigHash: "abc"})
	require.NoError(t, err)

	row, err = s.Get(ctx, "kiosk-1")
	require.NoError(t, err)
	assert.Equal(t, "1.0.1", row.Version)
}

func TestUpsertUnregisteredKioskErrors(t *testing.T) {
	s := newTestSupervisor(t, Config{})
	_, err := s.Upsert(context.Background(), Telemetry{KioskID: "ghost"})
	assert.Error(t, err)
}

func TestSweepOfflineMarksStaleKiosks(t *testing.T) {
	ctx := context.Background()
	s := newTestSupervisor(t, Config{OfflineThreshold: time.Millisecond})

	_, err := s.Register(ctx, Registration{KioskID: "kiosk-1", Zone: "A"})
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	n, err := s.SweepOffline(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	row, err := s.Get(ctx, "kiosk-1")
	require.NoError(t, err)
	assert.Equal(t, KioskOffline, row.Status)
}

func TestSweepOfflineIgnoresFreshKiosks(t *testing.T) {
	ctx := context.Background()
	s := newTestSupervisor(t, Config{OfflineThreshold: time.Hour})

	_, err := s.Register(ctx, Registration{KioskID: "kiosk-1", Zone: "A"})
	require.NoError(t, err)

	n, err := s.SweepOffline(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
