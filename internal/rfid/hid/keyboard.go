package hid

import "strings"

// KeyboardBuffer accumulates characters from a simulated keyboard-wedge
// stream: finalize on CR/LF, or flush with a
// KEYBOARD_TIMEOUT failure after keyboard_inactivity_timeout_ms of
// silence (enforced by the caller's timer).
type KeyboardBuffer struct {
	buf strings.Builder
}

// NewKeyboardBuffer creates an empty KeyboardBuffer.
func NewKeyboardBuffer() *KeyboardBuffer {
	return &KeyboardBuffer{}
}

// KeyResult is the outcome of feeding one character.
type KeyResult struct {
	Finalized bool
	RawUID    string
}

// Feed appends one character, finalizing on '\r' or '\n'.
func (k *KeyboardBuffer) Feed(ch byte) KeyResult {
	if ch == '\r' || ch == '\n' {
		return k.finalize()
	}
	k.buf.WriteByte(ch)
	return KeyResult{}
}

// FlushTimeout is called by the caller's inactivity timer; it finalizes
// whatever has accumulated so the scan attempt can be logged as a
// KEYBOARD_TIMEOUT failure.
func (k *KeyboardBuffer) FlushTimeout() KeyResult {
	return k.finalize()
}

func (k *KeyboardBuffer) finalize() KeyResult {
	s := k.buf.String()
	k.buf.Reset()
	if s == "" {
		return KeyResult{}
	}
	return KeyResult{Finalized: true, RawUID: s}
}

// Pending reports whether any characters have accumulated.
func (k *KeyboardBuffer) Pending() bool {
	return k.buf.Len() > 0
}
