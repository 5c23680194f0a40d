// SPDX-License-Identifier: MIT

// Package config implements the locker fleet's configuration loading:
// ENV > File > Defaults precedence, a strict YAML file layer (unknown
// keys are rejected), and mechanical tracking of every environment key
// actually consumed.
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lockerfleet/fleet/internal/log"
	"gopkg.in/yaml.v3"
)

const envPrefix = "LOCKERFLEET_"

// Loader handles configuration loading with ENV > File > Defaults precedence.
type Loader struct {
	configPath      string
	version         string
	ConsumedEnvKeys map[string]struct{}
}

// NewLoader creates a Loader for the given optional YAML config path.
func NewLoader(configPath, version string) *Loader {
	return &Loader{
		configPath:      configPath,
		version:         version,
		ConsumedEnvKeys: make(map[string]struct{}),
	}
}

func (l *Loader) envString(key, defaultVal string) string {
	l.ConsumedEnvKeys[envPrefix+key] = struct{}{}
	return parseStringWithLogger(log.WithComponent("config"), envPrefix+key, defaultVal)
}

func (l *Loader) envInt(key string, defaultVal int) int {
	l.ConsumedEnvKeys[envPrefix+key] = struct{}{}
	return parseIntWithLogger(log.WithComponent("config"), envPrefix+key, defaultVal)
}

func (l *Loader) envBool(key string, defaultVal bool) bool {
	l.ConsumedEnvKeys[envPrefix+key] = struct{}{}
	return parseBoolWithLogger(log.WithComponent("config"), envPrefix+key, defaultVal)
}

// Load resolves the final Config: defaults, then file overrides, then
// environment overrides (highest priority), then validation.
func (l *Loader) Load() (Config, error) {
	cfg := defaults()

	if l.configPath != "" {
		fileCfg, err := l.loadFile(l.configPath)
		if err != nil {
			return Config{}, fmt.Errorf("load config file: %w", err)
		}
		mergeFile(&cfg, fileCfg)
	}

	l.mergeEnv(&cfg)

	if abs, err := filepath.Abs(cfg.DataDir); err == nil {
		cfg.DataDir = abs
	}
	cfg.Version = l.version

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			ListenAddr:      ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Log: LogConfig{Level: "info"},
		Modbus: ModbusConfig{
			Port:                    "/dev/ttyUSB0",
			BaudRate:                9600,
			TimeoutMS:               500,
			PulseDurationMS:         300,
			BurstDurationSeconds:    3,
			BurstIntervalMS:         300,
			CommandIntervalMS:       50,
			MaxRetries:              3,
			RetryDelayBaseMS:        100,
			RetryDelayMaxMS:         5000,
			ConnectionRetryAttempts: 5,
		},
		RFID: RFIDConfig{
			ReaderType:                  "keyboard_wedge",
			DebounceMS:                  500,
			StrictMinLength:             8,
			ConfirmationWindowMS:        15000,
			HIDIdleFinalizationMS:       50,
			KeyboardInactivityTimeoutMS: 100,
		},
		Kiosk: KioskConfig{
			AssignmentMode:             "manual",
			RecentHolderMinHours:       2,
			MaxAvailableLockersDisplay: 5,
		},
		Polling: PollingConfig{
			HeartbeatIntervalMS:   15000,
			PollIntervalMS:        2000,
			ReservationTTLSeconds: 120,
		},
		RateLimits: RateLimitConfig{
			IPPerMinute:     30,
			CardPerMinute:   60,
			LockerPerMinute: 6,
			DevicePer20s:    1,
		},
		DataDir: "./data",
	}
}

// loadFile reads and strictly parses a YAML config file. Unknown fields
// are rejected to prevent silent misconfiguration.
func (l *Loader) loadFile(path string) (*FileConfig, error) {
	path = filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	data, err := os.ReadFile(path) // #nosec G304 -- operator-provided config path
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var fileCfg FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&fileCfg); err != nil {
		if err == io.EOF {
			return &FileConfig{}, nil
		}
		return nil, fmt.Errorf("strict config parse error: %w", err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("config file contains multiple documents or trailing content")
	}
	return &fileCfg, nil
}

func mergeFile(cfg *Config, f *FileConfig) {
	if f == nil {
		return
	}
	if f.Server != nil {
		if f.Server.ListenAddr != "" {
			cfg.Server.ListenAddr = f.Server.ListenAddr
		}
		if f.Server.TLSCert != "" {
			cfg.Server.TLSCert = f.Server.TLSCert
		}
		if f.Server.TLSKey != "" {
			cfg.Server.TLSKey = f.Server.TLSKey
		}
	}
	if f.Log != nil && f.Log.Level != "" {
		cfg.Log.Level = f.Log.Level
	}
	if f.Modbus != nil {
		m := f.Modbus
		if m.Port != "" {
			cfg.Modbus.Port = m.Port
		}
		if m.BaudRate != 0 {
			cfg.Modbus.BaudRate = m.BaudRate
		}
		if m.TimeoutMS != 0 {
			cfg.Modbus.TimeoutMS = m.TimeoutMS
		}
		if m.PulseDurationMS != 0 {
			cfg.Modbus.PulseDurationMS = m.PulseDurationMS
		}
		if m.BurstDurationSeconds != 0 {
			cfg.Modbus.BurstDurationSeconds = m.BurstDurationSeconds
		}
		if m.BurstIntervalMS != 0 {
			cfg.Modbus.BurstIntervalMS = m.BurstIntervalMS
		}
		if m.CommandIntervalMS != 0 {
			cfg.Modbus.CommandIntervalMS = m.CommandIntervalMS
		}
		if m.MaxRetries != 0 {
			cfg.Modbus.MaxRetries = m.MaxRetries
		}
		if m.RetryDelayBaseMS != 0 {
			cfg.Modbus.RetryDelayBaseMS = m.RetryDelayBaseMS
		}
		if m.RetryDelayMaxMS != 0 {
			cfg.Modbus.RetryDelayMaxMS = m.RetryDelayMaxMS
		}
		if m.ConnectionRetryAttempts != 0 {
			cfg.Modbus.ConnectionRetryAttempts = m.ConnectionRetryAttempts
		}
	}
	if f.RFID != nil {
		r := f.RFID
		if r.ReaderType != "" {
			cfg.RFID.ReaderType = r.ReaderType
		}
		if r.DebounceMS != 0 {
			cfg.RFID.DebounceMS = r.DebounceMS
		}
		if r.StrictMinLength != 0 {
			cfg.RFID.StrictMinLength = r.StrictMinLength
		}
		if r.ConfirmationWindowMS != 0 {
			cfg.RFID.ConfirmationWindowMS = r.ConfirmationWindowMS
		}
		if r.HIDIdleFinalizationMS != 0 {
			cfg.RFID.HIDIdleFinalizationMS = r.HIDIdleFinalizationMS
		}
		if r.KeyboardInactivityTimeoutMS != 0 {
			cfg.RFID.KeyboardInactivityTimeoutMS = r.KeyboardInactivityTimeoutMS
		}
	}
	if f.Kiosk != nil {
		k := f.Kiosk
		if k.ID != "" {
			cfg.Kiosk.ID = k.ID
		}
		if k.Zone != "" {
			cfg.Kiosk.Zone = k.Zone
		}
		if k.AssignmentMode != "" {
			cfg.Kiosk.AssignmentMode = k.AssignmentMode
		}
		if k.RecentHolderMinHours != 0 {
			cfg.Kiosk.RecentHolderMinHours = k.RecentHolderMinHours
		}
		if k.MaxAvailableLockersDisplay != 0 {
			cfg.Kiosk.MaxAvailableLockersDisplay = k.MaxAvailableLockersDisplay
		}
	}
	if f.Gateway != nil && f.Gateway.URL != "" {
		cfg.Gateway.URL = f.Gateway.URL
	}
	if f.Polling != nil {
		p := f.Polling
		if p.HeartbeatIntervalMS != 0 {
			cfg.Polling.HeartbeatIntervalMS = p.HeartbeatIntervalMS
		}
		if p.PollIntervalMS != 0 {
			cfg.Polling.PollIntervalMS = p.PollIntervalMS
		}
		if p.ReservationTTLSeconds != 0 {
			cfg.Polling.ReservationTTLSeconds = p.ReservationTTLSeconds
		}
	}
	if f.HeartbeatIntervalMS != nil {
		cfg.Polling.HeartbeatIntervalMS = *f.HeartbeatIntervalMS
	}
	if f.PollIntervalMS != nil {
		cfg.Polling.PollIntervalMS = *f.PollIntervalMS
	}
	if f.ReservationTTLSeconds != nil {
		cfg.Polling.ReservationTTLSeconds = *f.ReservationTTLSeconds
	}
	if f.RateLimits != nil {
		rl := f.RateLimits
		if rl.IPPerMinute != 0 {
			cfg.RateLimits.IPPerMinute = rl.IPPerMinute
		}
		if rl.CardPerMinute != 0 {
			cfg.RateLimits.CardPerMinute = rl.CardPerMinute
		}
		if rl.LockerPerMinute != 0 {
			cfg.RateLimits.LockerPerMinute = rl.LockerPerMinute
		}
		if rl.DevicePer20s != 0 {
			cfg.RateLimits.DevicePer20s = rl.DevicePer20s
		}
	}
	if f.Redis != nil && f.Redis.URL != "" {
		cfg.Redis.URL = f.Redis.URL
	}
	if f.DataDir != nil && *f.DataDir != "" {
		cfg.DataDir = *f.DataDir
	}
}

// mergeEnv applies environment variable overrides, the highest-priority
// layer. Every key consumed here is recorded in ConsumedEnvKeys.
func (l *Loader) mergeEnv(cfg *Config) {
	cfg.Server.ListenAddr = l.envString("SERVER_LISTEN_ADDR", cfg.Server.ListenAddr)
	cfg.Server.TLSCert = l.envString("SERVER_TLS_CERT", cfg.Server.TLSCert)
	cfg.Server.TLSKey = l.envString("SERVER_TLS_KEY", cfg.Server.TLSKey)

	cfg.Log.Level = l.envString("LOG_LEVEL", cfg.Log.Level)

	cfg.Modbus.Port = l.envString("MODBUS_PORT", cfg.Modbus.Port)
	cfg.Modbus.BaudRate = l.envInt("MODBUS_BAUDRATE", cfg.Modbus.BaudRate)
	cfg.Modbus.TimeoutMS = l.envInt("MODBUS_TIMEOUT_MS", cfg.Modbus.TimeoutMS)
	cfg.Modbus.PulseDurationMS = l.envInt("MODBUS_PULSE_DURATION_MS", cfg.Modbus.PulseDurationMS)
	cfg.Modbus.BurstDurationSeconds = l.envInt("MODBUS_BURST_DURATION_SECONDS", cfg.Modbus.BurstDurationSeconds)
	cfg.Modbus.BurstIntervalMS = l.envInt("MODBUS_BURST_INTERVAL_MS", cfg.Modbus.BurstIntervalMS)
	cfg.Modbus.CommandIntervalMS = l.envInt("MODBUS_COMMAND_INTERVAL_MS", cfg.Modbus.CommandIntervalMS)
	cfg.Modbus.MaxRetries = l.envInt("MODBUS_MAX_RETRIES", cfg.Modbus.MaxRetries)
	cfg.Modbus.RetryDelayBaseMS = l.envInt("MODBUS_RETRY_DELAY_BASE_MS", cfg.Modbus.RetryDelayBaseMS)
	cfg.Modbus.RetryDelayMaxMS = l.envInt("MODBUS_RETRY_DELAY_MAX_MS", cfg.Modbus.RetryDelayMaxMS)
	cfg.Modbus.ConnectionRetryAttempts = l.envInt("MODBUS_CONNECTION_RETRY_ATTEMPTS", cfg.Modbus.ConnectionRetryAttempts)

	cfg.RFID.ReaderType = l.envString("RFID_READER_TYPE", cfg.RFID.ReaderType)
	cfg.RFID.DebounceMS = l.envInt("RFID_DEBOUNCE_MS", cfg.RFID.DebounceMS)
	cfg.RFID.StrictMinLength = l.envInt("RFID_STRICT_MIN_LENGTH", cfg.RFID.StrictMinLength)
	cfg.RFID.ConfirmationWindowMS = l.envInt("RFID_CONFIRMATION_WINDOW_MS", cfg.RFID.ConfirmationWindowMS)
	cfg.RFID.HIDIdleFinalizationMS = l.envInt("RFID_HID_IDLE_FINALIZATION_MS", cfg.RFID.HIDIdleFinalizationMS)
	cfg.RFID.KeyboardInactivityTimeoutMS = l.envInt("RFID_KEYBOARD_INACTIVITY_TIMEOUT_MS", cfg.RFID.KeyboardInactivityTimeoutMS)

	cfg.Kiosk.ID = l.envString("KIOSK_ID", cfg.Kiosk.ID)
	cfg.Kiosk.Zone = l.envString("KIOSK_ZONE", cfg.Kiosk.Zone)
	cfg.Kiosk.AssignmentMode = l.envString("KIOSK_ASSIGNMENT_MODE", cfg.Kiosk.AssignmentMode)
	cfg.Kiosk.RecentHolderMinHours = l.envInt("KIOSK_RECENT_HOLDER_MIN_HOURS", cfg.Kiosk.RecentHolderMinHours)
	cfg.Kiosk.MaxAvailableLockersDisplay = l.envInt("KIOSK_MAX_AVAILABLE_LOCKERS_DISPLAY", cfg.Kiosk.MaxAvailableLockersDisplay)

	cfg.Gateway.URL = l.envString("GATEWAY_URL", cfg.Gateway.URL)

	cfg.Polling.HeartbeatIntervalMS = l.envInt("HEARTBEAT_INTERVAL_MS", cfg.Polling.HeartbeatIntervalMS)
	cfg.Polling.PollIntervalMS = l.envInt("POLL_INTERVAL_MS", cfg.Polling.PollIntervalMS)
	cfg.Polling.ReservationTTLSeconds = l.envInt("RESERVATION_TTL_SECONDS", cfg.Polling.ReservationTTLSeconds)

	cfg.RateLimits.IPPerMinute = l.envInt("RATE_LIMIT_IP_PER_MIN", cfg.RateLimits.IPPerMinute)
	cfg.RateLimits.CardPerMinute = l.envInt("RATE_LIMIT_CARD_PER_MIN", cfg.RateLimits.CardPerMinute)
	cfg.RateLimits.LockerPerMinute = l.envInt("RATE_LIMIT_LOCKER_PER_MIN", cfg.RateLimits.LockerPerMinute)
	cfg.RateLimits.DevicePer20s = l.envInt("RATE_LIMIT_DEVICE_PER_20S", cfg.RateLimits.DevicePer20s)

	cfg.Redis.URL = l.envString("REDIS_URL", cfg.Redis.URL)

	cfg.DataDir = l.envString("DATA_DIR", cfg.DataDir)
}
