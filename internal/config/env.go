// Package config handles environment-based configuration loading and runtime config models.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// EnvConfig holds all environment-variable-driven settings (not hot-updatable).
type EnvConfig struct {
	// Directories
	StateDir string

	// Network
	ListenAddress string
	APIPort       int
	GatePort      int

	APIMaxBodyBytes int

	// Auth
	AdminToken string

	// External collaborators (hosting web application)
	DirectoryBaseURL string
	DirectorySecret  string
	DirectoryTimeout time.Duration

	// Server instance bootstrap
	InstancesFile string

	// Security event log
	SecLogQueueSize          int
	SecLogFlushBatchSize     int
	SecLogFlushInterval      time.Duration
	SecLogRetentionAge       time.Duration
	SecLogRetentionSchedule  string

	// GeoIP
	GeoIPDBPath         string
	GeoIPReloadSchedule string
}

// LoadEnvConfig reads environment variables and returns a validated EnvConfig.
// Returns an error if any required variable is missing or any value is invalid.
func LoadEnvConfig() (*EnvConfig, error) {
	cfg := &EnvConfig{}
	var errs []string

	// --- Directories ---
	cfg.StateDir = envStr("GATEWARDEN_STATE_DIR", "/var/lib/gatewarden")

	// --- Network ---
	cfg.ListenAddress = strings.TrimSpace(envStr("GATEWARDEN_LISTEN_ADDRESS", "0.0.0.0"))
	cfg.APIPort = envInt("GATEWARDEN_API_PORT", 7410, &errs)
	cfg.GatePort = envInt("GATEWARDEN_GATE_PORT", 7411, &errs)
	cfg.APIMaxBodyBytes = envInt("GATEWARDEN_API_MAX_BODY_BYTES", 1<<20, &errs)

	// --- Auth (must be defined; empty means API auth disabled) ---
	adminToken, hasAdminToken := os.LookupEnv("GATEWARDEN_ADMIN_TOKEN")
	cfg.AdminToken = adminToken

	// --- External collaborators ---
	cfg.DirectoryBaseURL = strings.TrimRight(envStr("GATEWARDEN_DIRECTORY_BASE_URL", ""), "/")
	cfg.DirectorySecret = envStr("GATEWARDEN_DIRECTORY_SECRET", "")
	cfg.DirectoryTimeout = envDuration("GATEWARDEN_DIRECTORY_TIMEOUT", 5*time.Second, &errs)

	// --- Server instance bootstrap ---
	cfg.InstancesFile = envStr("GATEWARDEN_INSTANCES_FILE", "")

	// --- Security event log ---
	cfg.SecLogQueueSize = envInt("GATEWARDEN_SECLOG_QUEUE_SIZE", 8192, &errs)
	cfg.SecLogFlushBatchSize = envInt("GATEWARDEN_SECLOG_FLUSH_BATCH_SIZE", 512, &errs)
	cfg.SecLogFlushInterval = envDuration("GATEWARDEN_SECLOG_FLUSH_INTERVAL", 5*time.Second, &errs)
	cfg.SecLogRetentionAge = envDuration("GATEWARDEN_SECLOG_RETENTION_AGE", 30*24*time.Hour, &errs)
	cfg.SecLogRetentionSchedule = envStr("GATEWARDEN_SECLOG_RETENTION_SCHEDULE", "30 4 * * *")

	// --- GeoIP ---
	cfg.GeoIPDBPath = envStr("GATEWARDEN_GEOIP_DB_PATH", "")
	cfg.GeoIPReloadSchedule = envStr("GATEWARDEN_GEOIP_RELOAD_SCHEDULE", "0 5 * * *")

	// --- Validation ---
	if !hasAdminToken {
		errs = append(errs, "GATEWARDEN_ADMIN_TOKEN must be defined (can be empty)")
	}
	if cfg.ListenAddress == "" {
		errs = append(errs, "GATEWARDEN_LISTEN_ADDRESS must not be empty")
	}
	validatePort("GATEWARDEN_API_PORT", cfg.APIPort, &errs)
	validatePort("GATEWARDEN_GATE_PORT", cfg.GatePort, &errs)
	if cfg.APIPort == cfg.GatePort {
		errs = append(errs, "GATEWARDEN_API_PORT and GATEWARDEN_GATE_PORT must differ")
	}
	validatePositive("GATEWARDEN_API_MAX_BODY_BYTES", cfg.APIMaxBodyBytes, &errs)
	if cfg.DirectoryTimeout <= 0 {
		errs = append(errs, "GATEWARDEN_DIRECTORY_TIMEOUT must be positive")
	}
	validatePositive("GATEWARDEN_SECLOG_QUEUE_SIZE", cfg.SecLogQueueSize, &errs)
	validatePositive("GATEWARDEN_SECLOG_FLUSH_BATCH_SIZE", cfg.SecLogFlushBatchSize, &errs)
	if cfg.SecLogFlushInterval <= 0 {
		errs = append(errs, "GATEWARDEN_SECLOG_FLUSH_INTERVAL must be positive")
	}
	if cfg.SecLogRetentionAge <= 0 {
		errs = append(errs, "GATEWARDEN_SECLOG_RETENTION_AGE must be positive")
	}
	if cfg.SecLogQueueSize < 2*cfg.SecLogFlushBatchSize {
		errs = append(errs, "GATEWARDEN_SECLOG_QUEUE_SIZE must be at least 2x GATEWARDEN_SECLOG_FLUSH_BATCH_SIZE")
	}
	if _, err := cron.ParseStandard(cfg.SecLogRetentionSchedule); err != nil {
		errs = append(errs, fmt.Sprintf("GATEWARDEN_SECLOG_RETENTION_SCHEDULE: invalid cron expression %q: %v", cfg.SecLogRetentionSchedule, err))
	}
	if _, err := cron.ParseStandard(cfg.GeoIPReloadSchedule); err != nil {
		errs = append(errs, fmt.Sprintf("GATEWARDEN_GEOIP_RELOAD_SCHEDULE: invalid cron expression %q: %v", cfg.GeoIPReloadSchedule, err))
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("config validation failed:\n  %s", strings.Join(errs, "\n  "))
	}

	return cfg, nil
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
