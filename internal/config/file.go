// SPDX-License-Identifier: MIT

package config

// FileConfig mirrors Config but with every field optional, so the YAML
// file layer can distinguish "not set" from "set to the zero value"
// when merging under ENV > File > Defaults precedence.
type FileConfig struct {
	Server  *FileServer  `yaml:"server"`
	Log     *FileLog     `yaml:"log"`
	Modbus  *FileModbus  `yaml:"modbus"`
	RFID    *FileRFID    `yaml:"rfid"`
	Kiosk   *FileKiosk   `yaml:"kiosk"`
	Gateway *FileGateway `yaml:"gateway"`
	Polling *FilePolling `yaml:"polling"`

	HeartbeatIntervalMS   *int `yaml:"heartbeat_interval_ms"`
	PollIntervalMS        *int `yaml:"poll_interval_ms"`
	ReservationTTLSeconds *int `yaml:"reservation_ttl_seconds"`

	RateLimits *FileRateLimits `yaml:"rate_limits"`
	Redis      *FileRedis      `yaml:"redis"`

	DataDir *string `yaml:"data_dir"`
}

type FileServer struct {
	ListenAddr string `yaml:"listen_addr"`
	TLSCert    string `yaml:"tls_cert"`
	TLSKey     string `yaml:"tls_key"`
}

type FileLog struct {
	Level string `yaml:"level"`
}

type FileModbus struct {
	Port                    string `yaml:"port"`
	BaudRate                int    `yaml:"baudrate"`
	TimeoutMS               int    `yaml:"timeout_ms"`
	PulseDurationMS         int    `yaml:"pulse_duration_ms"`
	BurstDurationSeconds    int    `yaml:"burst_duration_seconds"`
	BurstIntervalMS         int    `yaml:"burst_interval_ms"`
	CommandIntervalMS       int    `yaml:"command_interval_ms"`
	MaxRetries              int    `yaml:"max_retries"`
	RetryDelayBaseMS        int    `yaml:"retry_delay_base_ms"`
	RetryDelayMaxMS         int    `yaml:"retry_delay_max_ms"`
	ConnectionRetryAttempts int    `yaml:"connection_retry_attempts"`
}

type FileRFID struct {
	ReaderType                  string `yaml:"reader_type"`
	DebounceMS                  int    `yaml:"debounce_ms"`
	StrictMinLength             int    `yaml:"strict_min_length"`
	ConfirmationWindowMS        int    `yaml:"confirmation_window_ms"`
	HIDIdleFinalizationMS       int    `yaml:"hid_idle_finalization_ms"`
	KeyboardInactivityTimeoutMS int    `yaml:"keyboard_inactivity_timeout_ms"`
}

type FileKiosk struct {
	ID                         string `yaml:"id"`
	Zone                       string `yaml:"zone"`
	AssignmentMode             string `yaml:"assignment_mode"`
	RecentHolderMinHours       int    `yaml:"recent_holder_min_hours"`
	MaxAvailableLockersDisplay int    `yaml:"max_available_lockers_display"`
}

type FileGateway struct {
	URL string `yaml:"url"`
}

type FilePolling struct {
	HeartbeatIntervalMS   int `yaml:"heartbeat_interval_ms"`
	PollIntervalMS        int `yaml:"poll_interval_ms"`
	ReservationTTLSeconds int `yaml:"reservation_ttl_seconds"`
}

type FileRateLimits struct {
	IPPerMinute     int `yaml:"ip_per_min"`
	CardPerMinute   int `yaml:"card_per_min"`
	LockerPerMinute int `yaml:"locker_per_min"`
	DevicePer20s    int `yaml:"device_per_20s"`
}

// FileRedis is the gateway's optional cross-replica rate-limit mirror.
// Absent means the gateway enforces purely in-process, single-instance
// limits (internal/ratelimit.Limiter's default behavior).
type FileRedis struct {
	URL string `yaml:"url"`
}
