package modbus

import (
	"context"
	"testing"
	"time"

	"github.com/lockerfleet/fleet/internal/modbus/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBadgerStatStoreRoundTrip(t *testing.T) {
	store, err := OpenBadgerStatStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	in := map[string]statRecord{
		"1:3": {TotalOperations: 10, FailureCount: 2, LastOperationAt: time.Now().Truncate(time.Second)},
	}
	require.NoError(t, store.Save(in))

	out, err := store.Load()
	require.NoError(t, err)
	require.Contains(t, out, "1:3")
	assert.Equal(t, in["1:3"].TotalOperations, out["1:3"].TotalOperations)
	assert.Equal(t, in["1:3"].FailureCount, out["1:3"].FailureCount)
}

func TestControllerWithStatStoreRestoresChannelStats(t *testing.T) {
	store, err := OpenBadgerStatStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Save(map[string]statRecord{
		"2:1": {TotalOperations: 7, FailureCount: 1, LastOperationAt: time.Now()},
	}))

	responder, _ := echoResponder()
	fake := transport.NewFake(responder)
	c, err := New(fastCfg(), func() (transport.Port, error) { return fake, nil })
	require.NoError(t, err)
	defer c.Close()

	c.WithStatStore(store)

	stats := c.ChannelStats()
	require.Len(t, stats, 1)
	assert.EqualValues(t, 2, stats[0].Slave)
	assert.EqualValues(t, 1, stats[0].Channel)
	assert.EqualValues(t, 7, stats[0].TotalOperations)
	assert.EqualValues(t, 1, stats[0].FailureCount)
}

func TestControllerPersistsStatsOnClose(t *testing.T) {
	store, err := OpenBadgerStatStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	responder, _ := echoResponder()
	fake := transport.NewFake(responder)
	c, err := New(fastCfg(), func() (transport.Port, error) { return fake, nil })
	require.NoError(t, err)
	c.WithStatStore(store)

	ok, _ := c.OpenLocker(context.Background(), 1)
	require.True(t, ok)
	require.NoError(t, c.Close())

	recs, err := store.Load()
	require.NoError(t, err)
	require.NotEmpty(t, recs)
}
