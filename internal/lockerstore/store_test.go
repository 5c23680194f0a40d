package lockerstore

import (
	"context"
	"database/sql"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lockerfleet/fleet/internal/eventlog"
	"github.com/lockerfleet/fleet/internal/persistence/sqlite"
)

func newTestStore(t *testing.T) (*Store, *sql.DB) {
	t.Helper()
	db, err := sqlite.Open(":memory:", sqlite.Config{MaxOpenConns: 1})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, sqlite.Migrate(db))

	events := eventlog.New(db)
	store := New(db, events, Config{})
	require.NoError(t, store.InitializeKiosk(context.Background(), "kiosk-1", 4, nil))
	return store, db
}

func TestAssignConfirmReleaseHappyPath(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	ok, err := store.Assign(ctx, "kiosk-1", 1, OwnerRFID, "card-a")
	require.NoError(t, err)
	assert.True(t, ok)

	l, err := store.GetLocker(ctx, "kiosk-1", 1)
	require.NoError(t, err)
	assert.Equal(t, StatusReserved, l.Status)
	assert.Equal(t, "card-a", l.OwnerKey)

	ok, err = store.Confirm(ctx, "kiosk-1", 1)
	require.NoError(t, err)
	assert.True(t, ok)

	l, err = store.GetLocker(ctx, "kiosk-1", 1)
	require.NoError(t, err)
	assert.Equal(t, StatusOwned, l.Status)
	assert.True(t, l.OwnedAt.Valid)

	ok, err = store.Release(ctx, "kiosk-1", 1, "card-a")
	require.NoError(t, err)
	assert.True(t, ok)

	l, err = store.GetLocker(ctx, "kiosk-1", 1)
	require.NoError(t, err)
	assert.Equal(t, StatusFree, l.Status)
	assert.Empty(t, l.OwnerKey)
}

// TestAssignEnforcesI1 exercises the fleet-wide ownership-uniqueness
// invariant: a card already holding locker 1 cannot also be assigned
// locker 2 via the unique partial index.
func TestAssignEnforcesI1(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	ok, err := store.Assign(ctx, "kiosk-1", 1, OwnerRFID, "card-a")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Assign(ctx, "kiosk-1", 2, OwnerRFID, "card-a")
	require.NoError(t, err)
	assert.False(t, ok, "second locker must be refused for an owner that already holds one")

	owner, err := store.FindOwner(ctx, OwnerRFID, "card-a")
	require.NoError(t, err)
	require.NotNil(t, owner)
	assert.Equal(t, 1, owner.ID)
}

func TestAssignRefusesNonFreeLocker(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	ok, err := store.Assign(ctx, "kiosk-1", 1, OwnerRFID, "card-a")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.Assign(ctx, "kiosk-1", 1, OwnerRFID, "card-b")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReleaseDoubleReleaseIsNoop(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	ok, err := store.Assign(ctx, "kiosk-1", 1, OwnerRFID, "card-a")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.Release(ctx, "kiosk-1", 1, "")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Release(ctx, "kiosk-1", 1, "")
	require.NoError(t, err)
	assert.False(t, ok, "releasing an already-Free locker is a no-op")
}

func TestBlockDiscardsOwnershipAndUnblockReturnsToFree(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	ok, err := store.Assign(ctx, "kiosk-1", 1, OwnerRFID, "card-a")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.Block(ctx, "kiosk-1", 1, "staff-1", "maintenance")
	require.NoError(t, err)
	assert.True(t, ok)

	l, err := store.GetLocker(ctx, "kiosk-1", 1)
	require.NoError(t, err)
	assert.Equal(t, StatusBlocked, l.Status)
	assert.Empty(t, l.OwnerKey)

	ok, err = store.Unblock(ctx, "kiosk-1", 1, "staff-1")
	require.NoError(t, err)
	assert.True(t, ok)

	l, err = store.GetLocker(ctx, "kiosk-1", 1)
	require.NoError(t, err)
	assert.Equal(t, StatusFree, l.Status)
}

func TestForceTransitionOverridesAnyState(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	require.NoError(t, store.ForceTransition(ctx, "kiosk-1", 1, StatusBlocked, "staff-1", "emergency"))

	l, err := store.GetLocker(ctx, "kiosk-1", 1)
	require.NoError(t, err)
	assert.Equal(t, StatusBlocked, l.Status)

	require.NoError(t, store.ForceTransition(ctx, "kiosk-1", 1, StatusFree, "staff-1", "cleared"))
	l, err = store.GetLocker(ctx, "kiosk-1", 1)
	require.NoError(t, err)
	assert.Equal(t, StatusFree, l.Status)
}

func TestGetOldestAvailablePicksLeastRecentlyUpdated(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	// Touch locker 2 so its updated_at moves forward, leaving 1 oldest.
	ok, err := store.Assign(ctx, "kiosk-1", 2, OwnerRFID, "card-z")
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = store.Release(ctx, "kiosk-1", 2, "card-z")
	require.NoError(t, err)
	require.True(t, ok)

	l, err := store.GetOldestAvailable(ctx, "kiosk-1", []int{1, 2, 3, 4})
	require.NoError(t, err)
	require.NotNil(t, l)
	assert.Equal(t, 1, l.ID, "lockers untouched since init should be older than the touched one")
}

// TestConcurrentAssignOnlyOneWinner exercises P1/I1 under contention:
// many goroutines racing to assign the same locker to distinct owners
// must produce exactly one winner.
func TestConcurrentAssignOnlyOneWinner(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	const n = 8
	results := make([]bool, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := store.Assign(ctx, "kiosk-1", 1, OwnerRFID, "card-"+string(rune('a'+i)))
			assert.NoError(t, err)
			results[i] = ok
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, r := range results {
		if r {
			wins++
		}
	}
	assert.Equal(t, 1, wins)
}

func TestReapExpiredReservations(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	store.reservationTTL = 0 // everything Reserved is immediately expired

	ok, err := store.Assign(ctx, "kiosk-1", 1, OwnerRFID, "card-a")
	require.NoError(t, err)
	require.True(t, ok)

	n, err := store.ReapExpiredReservations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	l, err := store.GetLocker(ctx, "kiosk-1", 1)
	require.NoError(t, err)
	assert.Equal(t, StatusFree, l.Status)
}

func TestGetRecentReleaseForCard(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	ok, err := store.Assign(ctx, "kiosk-1", 2, OwnerRFID, "card-a")
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = store.Release(ctx, "kiosk-1", 2, "card-a")
	require.NoError(t, err)
	require.True(t, ok)

	recent, err := store.GetRecentReleaseForCard(ctx, "kiosk-1", "card-a", 24)
	require.NoError(t, err)
	require.NotNil(t, recent)
	assert.Equal(t, 2, recent.LockerID)

	none, err := store.GetRecentReleaseForCard(ctx, "kiosk-1", "card-nonexistent", 24)
	require.NoError(t, err)
	assert.Nil(t, none)
}
