// SPDX-License-Identifier: MIT

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	loader := NewLoader("", "test-version")
	cfg, err := loader.Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Modbus.BaudRate != 9600 {
		t.Errorf("expected Modbus.BaudRate=9600, got %d", cfg.Modbus.BaudRate)
	}
	if cfg.RFID.ReaderType != "keyboard_wedge" {
		t.Errorf("expected RFID.ReaderType=keyboard_wedge, got %s", cfg.RFID.ReaderType)
	}
	if cfg.Kiosk.AssignmentMode != "manual" {
		t.Errorf("expected Kiosk.AssignmentMode=manual, got %s", cfg.Kiosk.AssignmentMode)
	}
	if cfg.RateLimits.LockerPerMinute != 6 {
		t.Errorf("expected RateLimits.LockerPerMinute=6, got %d", cfg.RateLimits.LockerPerMinute)
	}
	if cfg.Version != "test-version" {
		t.Errorf("expected Version=test-version, got %s", cfg.Version)
	}
}

func TestLoadFromYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
kiosk:
  id: gym-main-01
  zone: gym-main
modbus:
  port: /dev/ttyUSB1
  baudrate: 19200
rate_limits:
  locker_per_min: 10
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	loader := NewLoader(configPath, "test-version")
	cfg, err := loader.Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Kiosk.ID != "gym-main-01" {
		t.Errorf("expected Kiosk.ID=gym-main-01, got %s", cfg.Kiosk.ID)
	}
	if cfg.Modbus.Port != "/dev/ttyUSB1" {
		t.Errorf("expected Modbus.Port=/dev/ttyUSB1, got %s", cfg.Modbus.Port)
	}
	if cfg.Modbus.BaudRate != 19200 {
		t.Errorf("expected Modbus.BaudRate=19200, got %d", cfg.Modbus.BaudRate)
	}
	if cfg.RateLimits.LockerPerMinute != 10 {
		t.Errorf("expected RateLimits.LockerPerMinute=10, got %d", cfg.RateLimits.LockerPerMinute)
	}
	// Values not set in the file keep their defaults.
	if cfg.Modbus.TimeoutMS != 500 {
		t.Errorf("expected default Modbus.TimeoutMS=500 to survive partial override, got %d", cfg.Modbus.TimeoutMS)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("kiosk:\n  id: from-file\n"), 0600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	_ = os.Setenv("LOCKERFLEET_KIOSK_ID", "from-env")
	defer func() { _ = os.Unsetenv("LOCKERFLEET_KIOSK_ID") }()

	loader := NewLoader(configPath, "test-version")
	cfg, err := loader.Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Kiosk.ID != "from-env" {
		t.Errorf("expected ENV to win over file, got %s", cfg.Kiosk.ID)
	}
	if _, ok := loader.ConsumedEnvKeys["LOCKERFLEET_KIOSK_ID"]; !ok {
		t.Errorf("expected LOCKERFLEET_KIOSK_ID to be recorded as consumed")
	}
}

func TestValidateRejectsBadAssignmentMode(t *testing.T) {
	cfg := defaults()
	cfg.Kiosk.AssignmentMode = "coin_flip"
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected validation error for bad assignment_mode")
	}
}

func TestValidateRejectsUnsupportedFileExtension(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")
	if err := os.WriteFile(configPath, []byte("{}"), 0600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	loader := NewLoader(configPath, "test-version")
	if _, err := loader.Load(); err == nil {
		t.Fatalf("expected error for unsupported config format")
	}
}
