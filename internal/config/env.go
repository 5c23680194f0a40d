// SPDX-License-Identifier: MIT

package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

func parseStringWithLogger(logger zerolog.Logger, key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		if value == "" {
			logger.Debug().Str("key", key).Str("source", "default").Msg("empty env var, using default")
			return defaultValue
		}
		logger.Debug().Str("key", key).Str("source", "environment").Msg("using environment variable")
		return value
	}
	logger.Debug().Str("key", key).Str("source", "default").Msg("using default value")
	return defaultValue
}

func parseIntWithLogger(logger zerolog.Logger, key string, defaultValue int) int {
	if v, ok := os.LookupEnv(key); ok {
		if v == "" {
			return defaultValue
		}
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
		logger.Warn().Str("key", key).Str("value", v).Msg("invalid integer in env var, using default")
		return defaultValue
	}
	return defaultValue
}

func parseDurationMSWithLogger(logger zerolog.Logger, key string, defaultValueMS int) int {
	return parseIntWithLogger(logger, key, defaultValueMS)
}

func parseBoolWithLogger(logger zerolog.Logger, key string, defaultValue bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if v == "" {
			return defaultValue
		}
		switch strings.ToLower(v) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		default:
			logger.Warn().Str("key", key).Str("value", v).Msg("invalid bool in env var, using default")
			return defaultValue
		}
	}
	return defaultValue
}

// unused today but kept for symmetry with the other typed accessors;
// a future duration-typed key (e.g. graceful-shutdown windows) would use it.
func parseRealDurationWithLogger(logger zerolog.Logger, key string, defaultValue time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if v == "" {
			return defaultValue
		}
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		logger.Warn().Str("key", key).Str("value", v).Msg("invalid duration in env var, using default")
		return defaultValue
	}
	return defaultValue
}
