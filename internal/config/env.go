// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ManuGH/vidgrab/internal/log"
	"github.com/rs/zerolog"
)

// lookup returns the non-empty value of key. Empty variables count as unset.
func lookup(logger zerolog.Logger, key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return "", false
	}
	ev := logger.Debug().Str("key", key).Str("source", "environment")
	if isSensitiveKey(key) {
		ev.Bool("sensitive", true).Msg("using environment variable")
	} else {
		ev.Str("value", v).Msg("using environment variable")
	}
	return v, true
}

func invalidEnv(logger zerolog.Logger, key, value string, err error) {
	logger.Warn().
		Err(err).
		Str("key", key).
		Str("value", value).
		Msg("invalid environment value, keeping previous setting")
}

// ParseString reads a string from the environment or returns defaultValue.
func ParseString(key, defaultValue string) string {
	if v, ok := lookup(log.WithComponent("config"), key); ok {
		return v
	}
	return defaultValue
}

// ParseInt reads an integer from the environment or returns defaultValue.
// Unparseable values fall back to the default.
func ParseInt(key string, defaultValue int) int {
	logger := log.WithComponent("config")
	v, ok := lookup(logger, key)
	if !ok {
		return defaultValue
	}
	i, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		invalidEnv(logger, key, v, err)
		return defaultValue
	}
	return i
}

// ParseFloat reads a float from the environment or returns defaultValue.
func ParseFloat(key string, defaultValue float64) float64 {
	logger := log.WithComponent("config")
	v, ok := lookup(logger, key)
	if !ok {
		return defaultValue
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		invalidEnv(logger, key, v, err)
		return defaultValue
	}
	return f
}

// ParseBool reads a boolean from the environment or returns defaultValue.
func ParseBool(key string, defaultValue bool) bool {
	logger := log.WithComponent("config")
	v, ok := lookup(logger, key)
	if !ok {
		return defaultValue
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		invalidEnv(logger, key, v, err)
		return defaultValue
	}
	return b
}

// ParseDuration reads a Go duration ("90s", "1h") from the environment or
// returns defaultValue.
func ParseDuration(key string, defaultValue time.Duration) time.Duration {
	logger := log.WithComponent("config")
	v, ok := lookup(logger, key)
	if !ok {
		return defaultValue
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		invalidEnv(logger, key, v, err)
		return defaultValue
	}
	return d
}

// ParseList reads a comma separated list from the environment. Blank items
// are dropped.
func ParseList(key string, defaultValue []string) []string {
	v, ok := lookup(log.WithComponent("config"), key)
	if !ok {
		return defaultValue
	}
	return splitList(v)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
