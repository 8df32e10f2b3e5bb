package config

import (
	"fmt"
	"time"
)

// RuntimeConfig holds all hot-updatable governance settings.
// The live instance is swapped atomically and consumed through closures,
// so every threshold change takes effect on the next check.
type RuntimeConfig struct {
	// Rate limiting
	ConnectionRateLimit  int      `json:"connection_rate_limit"`
	ConnectionRateWindow Duration `json:"connection_rate_window"`
	MessageRateLimit     int      `json:"message_rate_limit"`
	MessageRateWindow    Duration `json:"message_rate_window"`
	AuthRateLimit        int      `json:"auth_rate_limit"`
	AuthRateWindow       Duration `json:"auth_rate_window"`

	// Message validation
	MaxMessageBytes     int      `json:"max_message_bytes"`
	AllowedMessageTypes []string `json:"allowed_message_types"`

	// Abuse scoring. Increments are keyed by abuse type name; types absent
	// from the map fall back to DefaultAbuseIncrement.
	AbuseBlockThreshold   float64            `json:"abuse_block_threshold"`
	DefaultAbuseIncrement float64            `json:"default_abuse_increment"`
	AbuseIncrements       map[string]float64 `json:"abuse_increments"`

	// Error escalation
	ClientErrorDisconnectThreshold  int      `json:"client_error_disconnect_threshold"`
	SessionErrorInvalidateThreshold int      `json:"session_error_invalidate_threshold"`
	ErrorTrackWindow                Duration `json:"error_track_window"`
	ErrorHistorySize                int      `json:"error_history_size"`

	// Connection supervision
	IdleTimeout         Duration `json:"idle_timeout"`
	MaintenanceInterval Duration `json:"maintenance_interval"`
	RecoveryMaxAttempts int      `json:"recovery_max_attempts"`
	OverloadThreshold   float64  `json:"overload_threshold"`
	BalanceStrategy     string   `json:"balance_strategy"`
}

// NewDefaultRuntimeConfig returns a RuntimeConfig populated with the
// reference defaults.
func NewDefaultRuntimeConfig() *RuntimeConfig {
	return &RuntimeConfig{
		ConnectionRateLimit:  10,
		ConnectionRateWindow: Duration(60 * time.Second),
		MessageRateLimit:     30,
		MessageRateWindow:    Duration(60 * time.Second),
		AuthRateLimit:        20,
		AuthRateWindow:       Duration(300 * time.Second),

		MaxMessageBytes: 64 << 10,
		AllowedMessageTypes: []string{
			"message", "typing", "read_receipt", "presence", "ping",
		},

		AbuseBlockThreshold:   5.0,
		DefaultAbuseIncrement: 1.0,
		AbuseIncrements:       map[string]float64{},

		ClientErrorDisconnectThreshold:  3,
		SessionErrorInvalidateThreshold: 5,
		ErrorTrackWindow:                Duration(1 * time.Hour),
		ErrorHistorySize:                1000,

		IdleTimeout:         Duration(300 * time.Second),
		MaintenanceInterval: Duration(10 * time.Second),
		RecoveryMaxAttempts: 3,
		OverloadThreshold:   0.9,
		BalanceStrategy:     "round_robin",
	}
}

// Clone returns a deep copy. Config patches decode over a clone so the
// live instance, which other goroutines read concurrently, is never
// written in place.
func (c *RuntimeConfig) Clone() *RuntimeConfig {
	out := *c
	out.AllowedMessageTypes = append([]string(nil), c.AllowedMessageTypes...)
	out.AbuseIncrements = make(map[string]float64, len(c.AbuseIncrements))
	for name, inc := range c.AbuseIncrements {
		out.AbuseIncrements[name] = inc
	}
	return &out
}

// Validate checks a RuntimeConfig for internally consistent values.
// Used before swapping in a patched config.
func (c *RuntimeConfig) Validate() error {
	var errs []string
	positive := func(name string, v int) {
		if v <= 0 {
			errs = append(errs, fmt.Sprintf("%s must be positive, got %d", name, v))
		}
	}
	positiveDur := func(name string, v Duration) {
		if v <= 0 {
			errs = append(errs, fmt.Sprintf("%s must be positive, got %s", name, v.Std()))
		}
	}

	positive("connection_rate_limit", c.ConnectionRateLimit)
	positiveDur("connection_rate_window", c.ConnectionRateWindow)
	positive("message_rate_limit", c.MessageRateLimit)
	positiveDur("message_rate_window", c.MessageRateWindow)
	positive("auth_rate_limit", c.AuthRateLimit)
	positiveDur("auth_rate_window", c.AuthRateWindow)
	positive("max_message_bytes", c.MaxMessageBytes)
	if len(c.AllowedMessageTypes) == 0 {
		errs = append(errs, "allowed_message_types must not be empty")
	}
	if c.AbuseBlockThreshold <= 0 {
		errs = append(errs, "abuse_block_threshold must be positive")
	}
	if c.DefaultAbuseIncrement <= 0 {
		errs = append(errs, "default_abuse_increment must be positive")
	}
	for name, inc := range c.AbuseIncrements {
		if inc <= 0 {
			errs = append(errs, fmt.Sprintf("abuse_increments[%s] must be positive", name))
		}
	}
	positive("client_error_disconnect_threshold", c.ClientErrorDisconnectThreshold)
	positive("session_error_invalidate_threshold", c.SessionErrorInvalidateThreshold)
	positiveDur("error_track_window", c.ErrorTrackWindow)
	positive("error_history_size", c.ErrorHistorySize)
	positiveDur("idle_timeout", c.IdleTimeout)
	positiveDur("maintenance_interval", c.MaintenanceInterval)
	positive("recovery_max_attempts", c.RecoveryMaxAttempts)
	if c.OverloadThreshold <= 0 || c.OverloadThreshold > 1 {
		errs = append(errs, fmt.Sprintf("overload_threshold must be in (0, 1], got %g", c.OverloadThreshold))
	}
	switch c.BalanceStrategy {
	case "round_robin", "least_connections", "weighted":
	default:
		errs = append(errs, fmt.Sprintf("balance_strategy must be one of round_robin, least_connections, weighted; got %q", c.BalanceStrategy))
	}

	if len(errs) > 0 {
		return fmt.Errorf("runtime config invalid: %v", errs)
	}
	return nil
}
