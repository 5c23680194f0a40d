// SPDX-License-Identifier: MIT

// Package hid reassembles multi-packet HID reports (or a keyboard-wedge
// character stream) into one raw UID string per scan.
package hid

import "strings"

// keycode->digit table for the standard HID keyboard report descriptor's
// keycode byte (USB HID Usage Tables, keyboard/keypad page), restricted to
// the digit row and keypad digits a wedge reader emits.
var keycodeDigit = map[byte]byte{
	0x1E: '1', 0x1F: '2', 0x20: '3', 0x21: '4', 0x22: '5',
	0x23: '6', 0x24: '7', 0x25: '8', 0x26: '9', 0x27: '0',
	0x59: '1', 0x5A: '2', 0x5B: '3', 0x5C: '4', 0x5D: '5',
	0x5E: '6', 0x5F: '7', 0x60: '8', 0x61: '9', 0x62: '0',
}

const keycodeEnter byte = 0x28

// Report is one raw HID input report as delivered by the OS/driver.
type Report []byte

// isKeyboardReport detects the standard 8-byte keyboard report shape:
// modifier byte, reserved byte, up to 6 keycodes.
func isKeyboardReport(r Report) bool {
	return len(r) == 8
}

// Reassembler accumulates HID reports into one pending UID buffer per
// scan, finalizing on Enter (keyboard-style reports) or on idle timeout
// (raw byte accumulation).
type Reassembler struct {
	digits   strings.Builder
	rawBytes []byte
	active   bool
}

// NewReassembler creates an empty Reassembler.
func NewReassembler() *Reassembler {
	return &Reassembler{}
}

// FeedResult tells the caller what to do after feeding one report.
type FeedResult struct {
	Finalized bool
	RawUID    string
}

// Feed processes one HID report. For keyboard-style reports, digit
// keycodes accumulate and Enter finalizes. For raw reports, bytes
// accumulate; the caller is responsible for calling FinalizeIdle after
// hid_idle_finalization_ms of silence.
func (r *Reassembler) Feed(report Report) FeedResult {
	r.active = true
	if isKeyboardReport(report) {
		for _, kc := range report[2:] {
			if kc == 0 {
				continue
			}
			if kc == keycodeEnter {
				return r.finalize()
			}
			if d, ok := keycodeDigit[kc]; ok {
				r.digits.WriteByte(d)
			}
		}
		return FeedResult{}
	}

	r.rawBytes = append(r.rawBytes, report...)
	return FeedResult{}
}

// FinalizeIdle finalizes a raw-byte accumulation after the idle timeout
// elapses with no further report.
func (r *Reassembler) FinalizeIdle() FeedResult {
	if !r.active || (r.digits.Len() == 0 && len(r.rawBytes) == 0) {
		return FeedResult{}
	}
	return r.finalize()
}

func (r *Reassembler) finalize() FeedResult {
	var raw string
	if r.digits.Len() > 0 {
		raw = r.digits.String()
	} else {
		raw = bytesToHex(r.rawBytes)
	}
	r.reset()
	if raw == "" {
		return FeedResult{}
	}
	return FeedResult{Finalized: true, RawUID: raw}
}

func (r *Reassembler) reset() {
	r.digits.Reset()
	r.rawBytes = nil
	r.active = false
}

// Active reports whether a scan is in progress (non-empty pending buffer).
func (r *Reassembler) Active() bool {
	return r.active
}

const hexDigits = "0123456789ABCDEF"

func bytesToHex(b []byte) string {
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = hexDigits[v>>4]
		out[i*2+1] = hexDigits[v&0x0F]
	}
	return string(out)
}
