// Package config loads and validates agent configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration values for the field agent.
// Values are populated by Load from environment variables.
type Config struct {
	// Port is the TCP port the agent's HTTP API listens on. Defaults to "8080".
	Port string

	// RemoteDatabaseURL is the Postgres connection string for the remote
	// authoritative store. Required.
	RemoteDatabaseURL string

	// LocalDBPath is the filesystem path of the embedded SQLite database.
	// Defaults to "trips_offline.db". An unwritable path does not abort
	// startup — the agent degrades to memory-only mode (no offline
	// persistence).
	LocalDBPath string

	// DeviceID is the unique identifier of this device, assigned at
	// registration. Required; it scopes the one-active-trip invariant.
	DeviceID string

	// DeviceCode is the human-readable device label (e.g. "RDV-0001").
	// Optional, used only for logging and status reporting.
	DeviceCode string

	// PhotoStoreURL is the base URL of the photo object store. Required.
	PhotoStoreURL string

	// LogLevel controls the minimum log level. Defaults to "info".
	// Valid values: debug, info, warn, error.
	LogLevel string

	// CORSOrigins is the list of allowed cross-origin request origins for
	// the operator portal. Defaults to ["http://localhost:5173"].
	CORSOrigins []string

	// BreadcrumbThrottle is the minimum interval between accepted position
	// samples for one trip. Defaults to 10s.
	BreadcrumbThrottle time.Duration

	// FallbackInterval is the period of the breadcrumb fallback timer.
	// Defaults to 15s.
	FallbackInterval time.Duration

	// ConnectivityPoll is how often the connectivity monitor probes the
	// remote store when no push signal arrives. Defaults to 30s.
	ConnectivityPoll time.Duration
}

// Load reads configuration from environment variables and returns a Config.
// Returns an error listing any required variables that are not set.
func Load() (Config, error) {
	cfg := Config{
		Port:               getEnv("PORT", "8080"),
		LocalDBPath:        getEnv("LOCAL_DB_PATH", "trips_offline.db"),
		DeviceCode:         os.Getenv("DEVICE_CODE"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		CORSOrigins:        splitCSV(getEnv("CORS_ORIGINS", "http://localhost:5173")),
		BreadcrumbThrottle: getDuration("BREADCRUMB_THROTTLE", 10*time.Second),
		FallbackInterval:   getDuration("FALLBACK_INTERVAL", 15*time.Second),
		ConnectivityPoll:   getDuration("CONNECTIVITY_POLL", 30*time.Second),
	}

	var missing []string

	cfg.RemoteDatabaseURL = os.Getenv("REMOTE_DATABASE_URL")
	if cfg.RemoteDatabaseURL == "" {
		missing = append(missing, "REMOTE_DATABASE_URL")
	}
	cfg.DeviceID = os.Getenv("DEVICE_ID")
	if cfg.DeviceID == "" {
		missing = append(missing, "DEVICE_ID")
	}
	cfg.PhotoStoreURL = os.Getenv("PHOTO_STORE_URL")
	if cfg.PhotoStoreURL == "" {
		missing = append(missing, "PHOTO_STORE_URL")
	}

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("required environment variables not set: %s", strings.Join(missing, ", "))
	}

	return cfg, nil
}

// getEnv returns the value of the environment variable named by key,
// or fallback if the variable is not set or is empty.
func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getDuration parses the environment variable named by key as either a
// Go duration ("15s") or a plain number of seconds ("15").
// Invalid or missing values fall back silently.
func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	return fallback
}

// splitCSV splits a comma-separated string into a trimmed slice, ignoring empty entries.
func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if t := strings.TrimSpace(part); t != "" {
			out = append(out, t)
		}
	}
	return out
}
