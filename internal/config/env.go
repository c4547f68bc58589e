// Package config reads the agent's ARCHIBALD_* environment settings, loading
// a .env file first so local runs behave like deployed ones.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	envload "github.com/H4tholdir/archibaldblackant-sub005/internal"
)

// lookup returns the trimmed value of key after the .env file (if any) has
// been applied, and whether it was set to something non-empty.
func lookup(key string) (string, bool) {
	envload.Ensure()
	val := strings.TrimSpace(os.Getenv(key))
	return val, val != ""
}

// String returns the environment variable or fallback when unset.
func String(key, fallback string) string {
	if val, ok := lookup(key); ok {
		return val
	}
	return fallback
}

// Duration parses values like "30m" or "90s", falling back on absence or a
// parse error.
func Duration(key string, fallback time.Duration) time.Duration {
	if val, ok := lookup(key); ok {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return fallback
}

// Int returns an integer environment variable or fallback when invalid.
func Int(key string, fallback int) int {
	if val, ok := lookup(key); ok {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}

// Bool accepts 1/true/yes and 0/false/no in any case.
func Bool(key string, fallback bool) bool {
	val, ok := lookup(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(val) {
	case "1", "true", "yes":
		return true
	case "0", "false", "no":
		return false
	}
	return fallback
}
