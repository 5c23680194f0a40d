package commandqueue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGateway struct {
	pending      []Command
	reported     []reportCall
	clearStaleN  int
	clearStaleErr error
}

type reportCall struct {
	commandID string
	success   bool
	execErr   string
}

func (g *fakeGateway) PollCommands(ctx context.Context, kioskID string, limit int) ([]Command, error) {
	out := g.pending
	g.pending = nil
	return out, nil
}
func (g *fakeGateway) ReportComplete(ctx context.Context, commandID string, success bool, execErr string) error {
	g.reported = append(g.reported, reportCall{commandID, success, execErr})
	return nil
}
func (g *fakeGateway) ClearStale(ctx context.Context, kioskID string) (int, error) {
	return g.clearStaleN, g.clearStaleErr
}

func TestDispatcherExecutesRegisteredHandlerAndReportsSuccess(t *testing.T) {
	payload, _ := json.Marshal(map[string]any{"locker_id": 3})
	gw := &fakeGateway{pending: []Command{{CommandID: "c1", CommandType: TypeOpenLocker, Payload: payload}}}
	d := NewDispatcher(DispatcherConfig{KioskID: "kiosk-1"}, gw)

	var executed bool
	d.Handle(TypeOpenLocker, func(ctx context.Context, c Command) error {
		executed = true
		return nil
	})

	require.NoError(t, d.pollOnce(context.Background()))
	assert.True(t, executed)
	require.Len(t, gw.reported, 1)
	assert.True(t, gw.reported[0].success)
	assert.Equal(t, "c1", gw.reported[0].commandID)
}

func TestDispatcherReportsFailureOnHandlerError(t *testing.T) {
	gw := &fakeGateway{pending: []Command{{CommandID: "c1", CommandType: TypeReset}}}
	d := NewDispatcher(DispatcherConfig{KioskID: "kiosk-1"}, gw)
	d.Handle(TypeReset, func(ctx context.Context, c Command) error {
		return errors.New("hardware jam")
	})

	require.NoError(t, d.pollOnce(context.Background()))
	require.Len(t, gw.reported, 1)
	assert.False(t, gw.reported[0].success)
	assert.Equal(t, "hardware jam", gw.reported[0].execErr)
}

func TestDispatcherReportsFailureForUnregisteredCommandType(t *testing.T) {
	gw := &fakeGateway{pending: []Command{{CommandID: "c1", CommandType: TypeBuzzer}}}
	d := NewDispatcher(DispatcherConfig{KioskID: "kiosk-1"}, gw)

	require.NoError(t, d.pollOnce(context.Background()))
	require.Len(t, gw.reported, 1)
	assert.False(t, gw.reported[0].success)
}

func TestDecodeBulkOpen(t *testing.T) {
	payload, _ := json.Marshal(BulkOpenPayload{LockerIDs: []int{1, 2, 3}, StaffUser: "staff-1"})
	c := Command{Payload: payload}

	p, err := DecodeBulkOpen(c)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, p.LockerIDs)
	assert.Equal(t, "staff-1", p.StaffUser)
}

func TestClearStaleOnReconnect(t *testing.T) {
	gw := &fakeGateway{clearStaleN: 4}
	d := NewDispatcher(DispatcherConfig{KioskID: "kiosk-1"}, gw)

	n, err := d.ClearStaleOnReconnect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}
