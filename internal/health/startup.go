// SPDX-License-Identifier: MIT

package health

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	"github.com/lockerfleet/fleet/internal/log"
	"github.com/rs/zerolog"
)

// StartupConfig is the minimal view of process configuration the pre-flight
// checks need. Both cmd/gateway and cmd/kiosk build one of these from their
// respective config.Config before calling PerformStartupChecks.
type StartupConfig struct {
	DataDir     string
	ListenAddr  string
	TLSCert     string
	TLSKey      string
	GatewayURL  string // empty on the gateway process itself
	ModbusPort  string // empty on the gateway process
}

// PerformStartupChecks validates the environment and dependencies before starting the server.
func PerformStartupChecks(cfg StartupConfig) error {
	logger := log.WithComponent("startup-check")
	logger.Info().Msg("running pre-flight startup checks")

	if err := checkDataDir(logger, cfg.DataDir); err != nil {
		return fmt.Errorf("data directory check failed: %w", err)
	}

	if err := checkTargetedValidations(logger, cfg); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	logger.Info().Msg("all startup checks passed")
	return nil
}

func checkDataDir(logger zerolog.Logger, path string) error {
	if path == "" {
		return fmt.Errorf("data directory must be configured")
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("directory does not exist: %s", path)
		}
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", path)
	}

	testFile := filepath.Join(path, ".write_test")
	if err := os.WriteFile(testFile, []byte("ok"), 0600); err != nil {
		return fmt.Errorf("directory is not writable: %s (error: %v)", path, err)
	}
	_ = os.Remove(testFile)

	logger.Info().Str("path", path).Msg("data directory is writable")
	return nil
}

// checkTargetedValidations performs security and runtime-critical validations.
func checkTargetedValidations(logger zerolog.Logger, cfg StartupConfig) error {
	if cfg.ListenAddr != "" {
		_, port, err := net.SplitHostPort(cfg.ListenAddr)
		if err != nil {
			return fmt.Errorf("invalid listen address %q: %w", cfg.ListenAddr, err)
		}
		portNum, err := strconv.Atoi(port)
		if err != nil || portNum < 0 || portNum > 65535 {
			return fmt.Errorf("invalid listen port %q in %q", port, cfg.ListenAddr)
		}
		logger.Info().Str("addr", cfg.ListenAddr).Msg("listen address is valid")
	}

	if cfg.GatewayURL != "" {
		u, err := url.Parse(cfg.GatewayURL)
		if err != nil {
			return fmt.Errorf("invalid gateway.url: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("gateway.url scheme must be http or https, got: %s", u.Scheme)
		}
		logger.Info().Str("url", cfg.GatewayURL).Msg("gateway URL is valid")
	}

	if cfg.TLSCert != "" || cfg.TLSKey != "" {
		if cfg.TLSCert == "" || cfg.TLSKey == "" {
			return fmt.Errorf("TLS configuration requires both cert and key to be set")
		}
		if err := checkFileReadable(cfg.TLSCert); err != nil {
			return fmt.Errorf("TLS cert error: %w", err)
		}
		if err := checkFileReadable(cfg.TLSKey); err != nil {
			return fmt.Errorf("TLS key error: %w", err)
		}
		logger.Info().Msg("TLS configuration is valid")
	}

	if cfg.ModbusPort != "" {
		if _, err := os.Stat(cfg.ModbusPort); err != nil {
			// Non-fatal: the Modbus controller's own connection supervisor
			// retries with backoff, so a missing device at boot degrades
			// rather than crashes the kiosk.
			logger.Warn().Str("port", cfg.ModbusPort).Err(err).
				Msg("serial port not present at startup; controller will retry")
		}
	}

	return nil
}

func checkFileReadable(path string) error {
	f, err := os.Open(path) // #nosec G304 -- path comes from operator config
	if err != nil {
		return err
	}
	return f.Close()
}
