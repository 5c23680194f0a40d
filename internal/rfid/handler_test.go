package rfid

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) Now() time.Time { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func TestHandleRawScanEmptyAndInvalid(t *testing.T) {
	h := New(Config{}, nil)
	_, reason := h.HandleRawScan("")
	assert.Equal(t, ReasonEmptyUID, reason)

	_, reason = h.HandleRawScan("zzzz")
	assert.Equal(t, ReasonInvalidUID, reason)
}

func TestHandleRawScanLegacyShortUIDDropped(t *testing.T) {
	h := New(Config{StrictMinLengthEnabled: false}, nil)
	ev, reason := h.HandleRawScan("ABCD") // 4 significant digits < legacy min 6
	assert.Nil(t, ev)
	assert.Equal(t, ReasonShortUIDLegacy, reason)
}

func TestHandleRawScanStrictConfirmationFlow(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	h := New(Config{StrictMinLengthEnabled: true, MinSignificantLength: 8, ConfirmationWindowMS: 4000}, clock)

	// First short scan: pending, not emitted.
	ev, reason := h.HandleRawScan("ABCDEF") // 6 significant digits < 8
	assert.Nil(t, ev)
	assert.Equal(t, ReasonConfirmationRequired, reason)

	// Matching repeat within window: confirmed, emitted.
	clock.advance(100 * time.Millisecond)
	ev, reason = h.HandleRawScan("ABCDEF")
	require.NotNil(t, ev)
	assert.Equal(t, FailureReason(""), reason)
}

func TestHandleRawScanStrictConfirmationMismatchResets(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	h := New(Config{StrictMinLengthEnabled: true, MinSignificantLength: 8}, clock)

	_, reason := h.HandleRawScan("ABCDEF")
	assert.Equal(t, ReasonConfirmationRequired, reason)

	_, reason = h.HandleRawScan("123456")
	assert.Equal(t, ReasonConfirmationMismatch, reason)

	// Pending state cleared; a third distinct short scan starts fresh.
	_, reason = h.HandleRawScan("654321")
	assert.Equal(t, ReasonConfirmationRequired, reason)
}

func TestHandleRawScanConfirmationExpiresAfterWindow(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	h := New(Config{StrictMinLengthEnabled: true, MinSignificantLength: 8, ConfirmationWindowMS: 100}, clock)

	_, reason := h.HandleRawScan("ABCDEF")
	assert.Equal(t, ReasonConfirmationRequired, reason)

	clock.advance(200 * time.Millisecond)
	_, reason = h.HandleRawScan("ABCDEF")
	assert.Equal(t, ReasonConfirmationRequired, reason) // treated as a fresh pending scan
}

func TestHandleRawScanDebounceSuppressesRepeat(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	h := New(Config{DebounceMS: 500}, clock)

	ev1, _ := h.HandleRawScan("1234ABCD")
	require.NotNil(t, ev1)

	clock.advance(100 * time.Millisecond)
	ev2, reason := h.HandleRawScan("1234ABCD")
	assert.Nil(t, ev2)
	assert.Equal(t, FailureReason(""), reason)

	clock.advance(500 * time.Millisecond)
	ev3, _ := h.HandleRawScan("1234ABCD")
	require.NotNil(t, ev3)
	assert.Equal(t, ev1.CardID, ev3.CardID)
}
