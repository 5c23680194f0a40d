// SPDX-License-Identifier: MIT

package config

import "fmt"

// Validate checks invariants that must hold before any subsystem is wired
// up: malformed values here are a startup-time fatal, not a runtime one.
func Validate(cfg Config) error {
	if cfg.Kiosk.AssignmentMode != "" &&
		cfg.Kiosk.AssignmentMode != "manual" &&
		cfg.Kiosk.AssignmentMode != "automatic" {
		return fmt.Errorf("kiosk.assignment_mode must be 'manual' or 'automatic', got %q", cfg.Kiosk.AssignmentMode)
	}
	if cfg.RFID.ReaderType != "" &&
		cfg.RFID.ReaderType != "keyboard_wedge" &&
		cfg.RFID.ReaderType != "raw_hid" {
		return fmt.Errorf("rfid.reader_type must be 'keyboard_wedge' or 'raw_hid', got %q", cfg.RFID.ReaderType)
	}
	if cfg.RFID.StrictMinLength < 0 {
		return fmt.Errorf("rfid.strict_min_length must be >= 0")
	}
	if cfg.Modbus.BaudRate <= 0 {
		return fmt.Errorf("modbus.baudrate must be positive")
	}
	if cfg.Modbus.MaxRetries < 0 {
		return fmt.Errorf("modbus.max_retries must be >= 0")
	}
	if cfg.Polling.HeartbeatIntervalMS <= 0 {
		return fmt.Errorf("heartbeat_interval_ms must be positive")
	}
	if cfg.Polling.PollIntervalMS <= 0 {
		return fmt.Errorf("poll_interval_ms must be positive")
	}
	if cfg.Polling.ReservationTTLSeconds <= 0 {
		return fmt.Errorf("reservation_ttl_seconds must be positive")
	}
	if cfg.RateLimits.IPPerMinute <= 0 || cfg.RateLimits.CardPerMinute <= 0 ||
		cfg.RateLimits.LockerPerMinute <= 0 || cfg.RateLimits.DevicePer20s <= 0 {
		return fmt.Errorf("rate_limits.* values must all be positive")
	}
	if cfg.DataDir == "" {
		return fmt.Errorf("data_dir must be set")
	}
	return nil
}
