// Package config handles environment-based configuration loading.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvConfig holds all environment-variable-driven settings.
type EnvConfig struct {
	// Directories
	StateDir string

	// Network
	ListenAddress   string
	Port            int
	APIMaxBodyBytes int

	// Auth
	AdminToken string

	// Subscriptions
	SubscriptionsEnabled bool
	TrialEnabled         bool
	TrialPeriodDays      int

	// Fleet
	PeerStatusTTL     time.Duration
	ClusterAPITimeout time.Duration

	// Sweep
	SweepHour   int
	SweepMinute int
	Timezone    string

	// GeoIP (optional)
	GeoIPDBPath string

	// Blob store (empty endpoint means in-memory)
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
}

// LoadEnvConfig reads environment variables and returns a validated EnvConfig.
// Returns an error if any required variable is missing or any value is invalid.
func LoadEnvConfig() (*EnvConfig, error) {
	cfg := &EnvConfig{}
	var errs []string

	cfg.StateDir = envStr("WARDEN_STATE_DIR", "/var/lib/warden")
	cfg.ListenAddress = strings.TrimSpace(envStr("WARDEN_LISTEN_ADDRESS", "0.0.0.0"))
	cfg.Port = envInt("WARDEN_PORT", 8080, &errs)
	cfg.APIMaxBodyBytes = envInt("WARDEN_API_MAX_BODY_BYTES", 1<<20, &errs)

	cfg.SubscriptionsEnabled = envBool("WARDEN_SUBSCRIPTIONS_ENABLED", true, &errs)
	cfg.TrialEnabled = envBool("WARDEN_TRIAL_ENABLED", true, &errs)
	cfg.TrialPeriodDays = envInt("WARDEN_TRIAL_PERIOD_DAYS", 7, &errs)

	cfg.PeerStatusTTL = envDuration("WARDEN_PEER_STATUS_TTL", 120*time.Second, &errs)
	cfg.ClusterAPITimeout = envDuration("WARDEN_CLUSTER_API_TIMEOUT", 10*time.Second, &errs)

	cfg.SweepHour = envInt("WARDEN_SWEEP_HOUR", 3, &errs)
	cfg.SweepMinute = envInt("WARDEN_SWEEP_MINUTE", 0, &errs)
	cfg.Timezone = envStr("WARDEN_TIMEZONE", "Europe/Moscow")

	cfg.GeoIPDBPath = envStr("WARDEN_GEOIP_DB_PATH", "")

	cfg.MinioEndpoint = envStr("WARDEN_MINIO_ENDPOINT", "")
	cfg.MinioAccessKey = envStr("WARDEN_MINIO_ACCESS_KEY", "")
	cfg.MinioSecretKey = envStr("WARDEN_MINIO_SECRET_KEY", "")
	cfg.MinioBucket = envStr("WARDEN_MINIO_BUCKET", "warden-configs")
	cfg.MinioUseSSL = envBool("WARDEN_MINIO_USE_SSL", false, &errs)

	// --- Auth (must be defined; empty means auth disabled) ---
	adminToken, hasAdminToken := os.LookupEnv("WARDEN_ADMIN_TOKEN")
	cfg.AdminToken = adminToken

	// --- Validation ---
	if !hasAdminToken {
		errs = append(errs, "WARDEN_ADMIN_TOKEN must be defined (can be empty)")
	}
	if cfg.ListenAddress == "" {
		errs = append(errs, "WARDEN_LISTEN_ADDRESS must not be empty")
	}
	validatePort("WARDEN_PORT", cfg.Port, &errs)
	validatePositive("WARDEN_API_MAX_BODY_BYTES", cfg.APIMaxBodyBytes, &errs)
	validatePositive("WARDEN_TRIAL_PERIOD_DAYS", cfg.TrialPeriodDays, &errs)
	if cfg.PeerStatusTTL <= 0 {
		errs = append(errs, "WARDEN_PEER_STATUS_TTL must be positive")
	}
	if cfg.ClusterAPITimeout <= 0 {
		errs = append(errs, "WARDEN_CLUSTER_API_TIMEOUT must be positive")
	}
	if cfg.SweepHour < 0 || cfg.SweepHour > 23 {
		errs = append(errs, fmt.Sprintf("WARDEN_SWEEP_HOUR: must be 0-23, got %d", cfg.SweepHour))
	}
	if cfg.SweepMinute < 0 || cfg.SweepMinute > 59 {
		errs = append(errs, fmt.Sprintf("WARDEN_SWEEP_MINUTE: must be 0-59, got %d", cfg.SweepMinute))
	}
	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("WARDEN_TIMEZONE: unknown time zone %q", cfg.Timezone))
	}
	if cfg.MinioEndpoint != "" {
		if cfg.MinioAccessKey == "" {
			errs = append(errs, "WARDEN_MINIO_ACCESS_KEY required when WARDEN_MINIO_ENDPOINT is set")
		}
		if cfg.MinioSecretKey == "" {
			errs = append(errs, "WARDEN_MINIO_SECRET_KEY required when WARDEN_MINIO_ENDPOINT is set")
		}
		if cfg.MinioBucket == "" {
			errs = append(errs, "WARDEN_MINIO_BUCKET must not be empty")
		}
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("config validation failed:\n  %s", strings.Join(errs, "\n  "))
	}

	return cfg, nil
}

// Location returns the parsed deployment time zone. Call only after
// LoadEnvConfig validated it.
func (c *EnvConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// TrialPeriod returns the trial grant as a duration.
func (c *EnvConfig) TrialPeriod() time.Duration {
	return time.Duration(c.TrialPeriodDays) * 24 * time.Hour
}

// --- helpers ---

func envStr(key, defaultVal string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int, errs *[]string) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid integer %q", key, v))
		return defaultVal
	}
	return n
}

func envBool(key string, defaultVal bool, errs *[]string) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid boolean %q", key, v))
		return defaultVal
	}
	return b
}

func envDuration(key string, defaultVal time.Duration, errs *[]string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid duration %q", key, v))
		return defaultVal
	}
	return d
}

func validatePort(name string, value int, errs *[]string) {
	if value < 1 || value > 65535 {
		*errs = append(*errs, fmt.Sprintf("%s: port must be 1-65535, got %d", name, value))
	}
}

func validatePositive(name string, value int, errs *[]string) {
	if value <= 0 {
		*errs = append(*errs, fmt.Sprintf("%s: must be positive, got %d", name, value))
	}
}
