// SPDX-License-Identifier: MIT

// Package uid implements the RFID UID standardization and privacy-hashing
// pipeline: strip non-hex characters, pad to an even nibble count,
// truncate, compute significant length, and hash to the opaque card_id
// used throughout the rest of the system.
package uid

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const maxHexChars = 64
const cardIDHexChars = 16

// Standardized is the result of standardizing a raw scanned UID string.
type Standardized struct {
	RawHex           string // input as received, for debug-level logging only
	StandardizedHex  string
	SignificantLength int // length after stripping leading zeros
}

// Standardize strips non-hex characters, uppercases, left-pads to an even
// nibble count, truncates to 64 hex chars, and computes significant_length.
func Standardize(raw string) Standardized {
	var b strings.Builder
	for _, r := range raw {
		if isHexDigit(r) {
			b.WriteRune(toUpperHex(r))
		}
	}
	s := b.String()
	if len(s)%2 != 0 {
		s = "0" + s
	}
	if len(s) > maxHexChars {
		s = s[:maxHexChars]
	}

	trimmed := strings.TrimLeft(s, "0")
	return Standardized{
		RawHex:            raw,
		StandardizedHex:   s,
		SignificantLength: len(trimmed),
	}
}

func isHexDigit(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
}

func toUpperHex(r rune) rune {
	if r >= 'a' && r <= 'f' {
		return r - ('a' - 'A')
	}
	return r
}

// CardID computes privacy-hashed identifier:
// SHA-256(standardized_uid_hex) truncated to the first 16 hex characters.
// This is the opaque identifier used as owner_key throughout the system;
// raw and standardized UIDs are never persisted outside debug logs.
func CardID(standardizedHex string) string {
	sum := sha256.Sum256([]byte(standardizedHex))
	return hex.EncodeToString(sum[:])[:cardIDHexChars]
}
