// Package config loads the broker's environment-variable configuration
// into a single immutable record at startup, per the "explicit immutable
// record" design note: every recognized key is parsed once, with its
// documented default applied when unset, and a malformed value fails
// startup loudly instead of silently falling back.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config is the fully resolved, immutable configuration for one process.
type Config struct {
	APIToken      string
	AdminToken    string

	DDBEndpointURL string
	DDBTableName   string

	LabDurationHours int
	KCandidates      int

	SyncIntervalSeconds    int
	CleanupIntervalSeconds int
	DeletionTimeoutSeconds int

	CSPAPIToken   string
	CSPAPIBaseURL string

	ListenAddr string
	LogLevel   string
	LogJSON    bool

	RateLimitPerSecond float64
	RateLimitBurst     int
}

// Load reads every recognized key from the environment and returns a fully
// populated Config, or an error naming the first malformed value.
func Load() (Config, error) {
	cfg := Config{
		APIToken:   os.Getenv("BROKER_API_TOKEN"),
		AdminToken: os.Getenv("BROKER_ADMIN_TOKEN"),

		DDBEndpointURL: os.Getenv("DDB_ENDPOINT_URL"),
		DDBTableName:   getOr("DDB_TABLE_NAME", "SandboxPool"),

		CSPAPIToken:   os.Getenv("CSP_API_TOKEN"),
		CSPAPIBaseURL: getOr("CSP_API_BASE_URL", "https://api.csp.example.com"),

		ListenAddr: getOr("BROKER_LISTEN_ADDR", ":8080"),
		LogLevel:   getOr("LOG_LEVEL", "info"),
		LogJSON:    getOr("LOG_JSON", "false") == "true",

		DeletionTimeoutSeconds: 3600,
	}

	var err error
	if cfg.LabDurationHours, err = getIntOr("LAB_DURATION_HOURS", 4); err != nil {
		return Config{}, err
	}
	if cfg.KCandidates, err = getIntOr("K_CANDIDATES", 15); err != nil {
		return Config{}, err
	}
	if cfg.SyncIntervalSeconds, err = getIntOr("SYNC_INTERVAL_SECONDS", 300); err != nil {
		return Config{}, err
	}
	if cfg.CleanupIntervalSeconds, err = getIntOr("CLEANUP_INTERVAL_SECONDS", 60); err != nil {
		return Config{}, err
	}

	rps, err := getIntOr("RATE_LIMIT_PER_SECOND", 20)
	if err != nil {
		return Config{}, err
	}
	cfg.RateLimitPerSecond = float64(rps)
	if cfg.RateLimitBurst, err = getIntOr("RATE_LIMIT_BURST", 40); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// MockUpstream reports whether the process runs in the first-class mock
// upstream mode: no CSP credential supplied.
func (c Config) MockUpstream() bool {
	return c.CSPAPIToken == ""
}

func getOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getIntOr(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q is not an integer", key, v)
	}
	return n, nil
}
