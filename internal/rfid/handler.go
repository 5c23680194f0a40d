// SPDX-License-Identifier: MIT

// Package rfid implements the RFID reader handler: HID/keyboard-wedge
// frame reassembly, UID standardization, the strict/legacy short-UID
// confirmation rule, debounce, and structured per-scan logging.
package rfid

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lockerfleet/fleet/internal/log"
	"github.com/lockerfleet/fleet/internal/metrics"
	"github.com/lockerfleet/fleet/internal/rfid/uid"
)

// FailureReason enumerates logged failure reasons.
type FailureReason string

const (
	ReasonEmptyUID             FailureReason = "EMPTY_UID"
	ReasonInvalidUID           FailureReason = "INVALID_UID"
	ReasonShortUID             FailureReason = "SHORT_UID"
	ReasonShortUIDLegacy       FailureReason = "SHORT_UID_LEGACY"
	ReasonConfirmationRequired FailureReason = "CONFIRMATION_REQUIRED"
	ReasonConfirmationMismatch FailureReason = "CONFIRMATION_MISMATCH"
	ReasonKeyboardTimeout      FailureReason = "KEYBOARD_TIMEOUT"
)

// legacyMinSignificantDigits is the non-strict mode's minimum.
const legacyMinSignificantDigits = 6

// CardScanned is the event emitted on every successfully decoded scan.
type CardScanned struct {
	CardID            string
	ScannedAt         time.Time
	ReaderID          string
	RequestID         string
	RawUIDHex         string
	StandardizedUIDHex string
}

// Config covers rfid.* keys.
type Config struct {
	ReaderID                string
	StrictMinLengthEnabled  bool
	MinSignificantLength    int // enforced default 8 when strict mode is on
	DebounceMS              int
	ConfirmationWindowMS    int
}

func (c Config) withDefaults() Config {
	if c.MinSignificantLength <= 0 {
		c.MinSignificantLength = 8
	}
	if c.DebounceMS <= 0 {
		c.DebounceMS = 500
	}
	if c.ConfirmationWindowMS <= 0 {
		c.ConfirmationWindowMS = 4000
	}
	return c
}

// Clock abstracts time for deterministic debounce/confirmation tests.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type pendingShortScan struct {
	standardizedHex    string
	remainingReads     int
	expiresAt          time.Time
}

// Handler decodes raw scans into CardScanned events. It is the
// sole owner of reader state and pending frame buffers.
type Handler struct {
	cfg   Config
	clock Clock

	mu              sync.Mutex
	lastCardID      string
	lastScanAt      time.Time
	pendingShort    *pendingShortScan
}

// New constructs a Handler.
func New(cfg Config, clock Clock) *Handler {
	cfg = cfg.withDefaults()
	if clock == nil {
		clock = realClock{}
	}
	return &Handler{cfg: cfg, clock: clock}
}

// HandleRawScan standardizes rawUID, applies the short-UID confirmation
// rule and debounce, and returns a CardScanned event, or (nil, reason) on
// a non-emitted scan. Every call produces a structured log record.
func (h *Handler) HandleRawScan(rawUID string) (*CardScanned, FailureReason) {
	requestID := uuid.NewString()
	logger := log.WithComponent("rfid")
	now := h.clock.Now()

	if rawUID == "" {
		logger.Info().Str("request_id", requestID).Str("reason", string(ReasonEmptyUID)).Msg("rfid scan rejected")
		metrics.RecordRFIDScan(string(ReasonEmptyUID))
		return nil, ReasonEmptyUID
	}

	std := uid.Standardize(rawUID)
	if std.StandardizedHex == "" {
		logger.Info().Str("request_id", requestID).Str("reason", string(ReasonInvalidUID)).Msg("rfid scan rejected")
		metrics.RecordRFIDScan(string(ReasonInvalidUID))
		return nil, ReasonInvalidUID
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cfg.StrictMinLengthEnabled {
		if reason := h.applyStrictConfirmationLocked(std, now); reason != "" {
			logger.Info().Str("request_id", requestID).Str("reason", string(reason)).
				Int("significant_length", std.SignificantLength).Msg("rfid scan pending/rejected")
			metrics.RecordRFIDScan(string(reason))
			return nil, reason
		}
	} else if std.SignificantLength < legacyMinSignificantDigits {
		logger.Info().Str("request_id", requestID).Str("reason", string(ReasonShortUIDLegacy)).
			Int("significant_length", std.SignificantLength).Msg("rfid scan dropped (legacy short UID)")
		metrics.RecordRFIDScan(string(ReasonShortUIDLegacy))
		return nil, ReasonShortUIDLegacy
	}

	cardID := uid.CardID(std.StandardizedHex)

	debounce := time.Duration(h.cfg.DebounceMS) * time.Millisecond
	if cardID == h.lastCardID && now.Sub(h.lastScanAt) < debounce {
		logger.Debug().Str("request_id", requestID).Str("card_id", cardID).Msg("rfid scan debounced")
		return nil, ""
	}
	h.lastCardID = cardID
	h.lastScanAt = now

	logger.Info().Str("request_id", requestID).Str("card_id", cardID).Msg("rfid scan accepted")
	metrics.RecordRFIDScan("success")

	return &CardScanned{
		CardID:             cardID,
		ScannedAt:          now,
		ReaderID:           h.cfg.ReaderID,
		RequestID:          requestID,
		RawUIDHex:          rawUID,
		StandardizedUIDHex: std.StandardizedHex,
	}, ""
}

// applyStrictConfirmationLocked implements strict-mode
// short-UID confirmation state machine. Must be called with h.mu held.
// Returns "" if the scan should proceed to debounce/emission.
func (h *Handler) applyStrictConfirmationLocked(std uid.Standardized, now time.Time) FailureReason {
	if h.pendingShort != nil && now.After(h.pendingShort.expiresAt) {
		h.pendingShort = nil
	}

	if std.SignificantLength >= h.cfg.MinSignificantLength {
		// A qualifying read doesn't participate in confirmation tracking.
		return ""
	}

	if h.pendingShort == nil {
		// First short read: record pending state, require one more
		// matching read (confirmation_remaining_reads starts at 1).
		h.pendingShort = &pendingShortScan{
			standardizedHex: std.StandardizedHex,
			remainingReads:  1,
			expiresAt:       now.Add(time.Duration(h.cfg.ConfirmationWindowMS) * time.Millisecond),
		}
		return ReasonConfirmationRequired
	}

	if h.pendingShort.standardizedHex != std.StandardizedHex {
		h.pendingShort = nil
		return ReasonConfirmationMismatch
	}

	h.pendingShort.remainingReads--
	if h.pendingShort.remainingReads > 0 {
		h.pendingShort.expiresAt = now.Add(time.Duration(h.cfg.ConfirmationWindowMS) * time.Millisecond)
		return ReasonConfirmationRequired
	}

	h.pendingShort = nil
	return "" // confirmed: counter reached 0, emit the scan
}
