package config

import (
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

// ── env config ──

func TestLoadEnvConfig_Defaults(t *testing.T) {
	t.Setenv("GATEWARDEN_ADMIN_TOKEN", "t0ken")

	cfg, err := LoadEnvConfig()
	if err != nil {
		t.Fatalf("LoadEnvConfig: %v", err)
	}
	if cfg.APIPort != 7410 || cfg.GatePort != 7411 {
		t.Fatalf("unexpected ports: %d / %d", cfg.APIPort, cfg.GatePort)
	}
	if cfg.SecLogQueueSize != 8192 || cfg.SecLogFlushBatchSize != 512 {
		t.Fatalf("unexpected seclog defaults: %d / %d", cfg.SecLogQueueSize, cfg.SecLogFlushBatchSize)
	}
	if cfg.DirectoryTimeout != 5*time.Second {
		t.Fatalf("unexpected directory timeout: %s", cfg.DirectoryTimeout)
	}
}

func TestLoadEnvConfig_AdminTokenMustBeDefined(t *testing.T) {
	// t.Setenv registers cleanup; unsetting afterwards still restores the
	// original value when the test ends.
	t.Setenv("GATEWARDEN_ADMIN_TOKEN", "x")
	if err := os.Unsetenv("GATEWARDEN_ADMIN_TOKEN"); err != nil {
		t.Fatalf("unsetenv: %v", err)
	}

	_, err := LoadEnvConfig()
	if err == nil || !strings.Contains(err.Error(), "GATEWARDEN_ADMIN_TOKEN") {
		t.Fatalf("expected admin-token error, got %v", err)
	}
}

func TestLoadEnvConfig_EmptyAdminTokenAllowed(t *testing.T) {
	t.Setenv("GATEWARDEN_ADMIN_TOKEN", "")

	cfg, err := LoadEnvConfig()
	if err != nil {
		t.Fatalf("empty admin token should be accepted: %v", err)
	}
	if cfg.AdminToken != "" {
		t.Fatalf("expected empty token, got %q", cfg.AdminToken)
	}
}

func TestLoadEnvConfig_CollectsAllErrors(t *testing.T) {
	t.Setenv("GATEWARDEN_ADMIN_TOKEN", "x")
	t.Setenv("GATEWARDEN_API_PORT", "0")
	t.Setenv("GATEWARDEN_GATE_PORT", "not-a-port")
	t.Setenv("GATEWARDEN_SECLOG_RETENTION_SCHEDULE", "never")

	_, err := LoadEnvConfig()
	if err == nil {
		t.Fatal("expected validation failure")
	}
	for _, want := range []string{"GATEWARDEN_API_PORT", "GATEWARDEN_GATE_PORT", "RETENTION_SCHEDULE"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %s: %v", want, err)
		}
	}
}

func TestLoadEnvConfig_PortsMustDiffer(t *testing.T) {
	t.Setenv("GATEWARDEN_ADMIN_TOKEN", "x")
	t.Setenv("GATEWARDEN_API_PORT", "7500")
	t.Setenv("GATEWARDEN_GATE_PORT", "7500")

	_, err := LoadEnvConfig()
	if err == nil || !strings.Contains(err.Error(), "must differ") {
		t.Fatalf("expected port collision error, got %v", err)
	}
}

// ── runtime config ──

func TestRuntimeConfig_DefaultsValidate(t *testing.T) {
	if err := NewDefaultRuntimeConfig().Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestRuntimeConfig_ValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*RuntimeConfig)
		want   string
	}{
		{"zero rate limit", func(c *RuntimeConfig) { c.ConnectionRateLimit = 0 }, "connection_rate_limit"},
		{"empty types", func(c *RuntimeConfig) { c.AllowedMessageTypes = nil }, "allowed_message_types"},
		{"bad overload", func(c *RuntimeConfig) { c.OverloadThreshold = 1.5 }, "overload_threshold"},
		{"bad strategy", func(c *RuntimeConfig) { c.BalanceStrategy = "random" }, "balance_strategy"},
		{"bad increment", func(c *RuntimeConfig) { c.AbuseIncrements = map[string]float64{"x": -1} }, "abuse_increments"},
	}
	for _, tc := range cases {
		cfg := NewDefaultRuntimeConfig()
		tc.mutate(cfg)
		err := cfg.Validate()
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Errorf("%s: expected error mentioning %q, got %v", tc.name, tc.want, err)
		}
	}
}

func TestRuntimeConfig_CloneIsDeep(t *testing.T) {
	orig := NewDefaultRuntimeConfig()
	orig.AbuseIncrements["message_spam"] = 1.0

	clone := orig.Clone()
	clone.AbuseIncrements["message_spam"] = 9.0
	clone.AbuseIncrements["rate_limit"] = 2.0
	clone.AllowedMessageTypes[0] = "mutated"

	if got := orig.AbuseIncrements["message_spam"]; got != 1.0 {
		t.Fatalf("clone shares the increments map: %g", got)
	}
	if _, ok := orig.AbuseIncrements["rate_limit"]; ok {
		t.Fatal("clone shares the increments map")
	}
	if orig.AllowedMessageTypes[0] == "mutated" {
		t.Fatal("clone shares the message types backing array")
	}
}

// ── instances file ──

func TestParseInstances(t *testing.T) {
	raw := []byte(`
instances:
  - id: alpha
    host: 10.0.0.1
    port: 9000
    capacity: 500
    weight: 2.0
  - id: beta
    host: 10.0.0.2
    port: 9000
    capacity: 100
`)
	specs, err := ParseInstances(raw)
	if err != nil {
		t.Fatalf("ParseInstances: %v", err)
	}
	if len(specs) != 2 {
		t.Fatalf("expected 2 specs, got %d", len(specs))
	}
	if specs[0].Weight != 2.0 {
		t.Fatalf("explicit weight lost: %g", specs[0].Weight)
	}
	if specs[1].Weight != 1.0 {
		t.Fatalf("missing weight should default to 1.0, got %g", specs[1].Weight)
	}
}

func TestParseInstances_Invalid(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want string
	}{
		{"duplicate id", "instances:\n  - {id: a, host: h, port: 1, capacity: 1}\n  - {id: a, host: h, port: 2, capacity: 1}", "duplicate"},
		{"missing host", "instances:\n  - {id: a, port: 1, capacity: 1}", "host"},
		{"bad port", "instances:\n  - {id: a, host: h, port: 99999, capacity: 1}", "port"},
		{"bad capacity", "instances:\n  - {id: a, host: h, port: 1, capacity: 0}", "capacity"},
	}
	for _, tc := range cases {
		_, err := ParseInstances([]byte(tc.raw))
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Errorf("%s: expected error mentioning %q, got %v", tc.name, tc.want, err)
		}
	}
}

// ── duration codec ──

func TestDuration_JSONRoundTrip(t *testing.T) {
	type doc struct {
		D Duration `json:"d"`
	}
	var d doc
	if err := json.Unmarshal([]byte(`{"d":"90s"}`), &d); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if d.D.Std() != 90*time.Second {
		t.Fatalf("expected 90s, got %s", d.D.Std())
	}
	out, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(out), "1m30s") {
		t.Fatalf("expected duration string form, got %s", out)
	}
}

func TestDuration_YAML(t *testing.T) {
	type doc struct {
		D Duration `yaml:"d"`
	}
	var d doc
	if err := yaml.Unmarshal([]byte("d: 5m"), &d); err != nil {
		t.Fatalf("yaml unmarshal: %v", err)
	}
	if d.D.Std() != 5*time.Minute {
		t.Fatalf("expected 5m, got %s", d.D.Std())
	}
}

// ── token strength ──

func TestIsWeakToken(t *testing.T) {
	if !IsWeakToken("admin") {
		t.Fatal("'admin' should be weak")
	}
	if IsWeakToken("") {
		t.Fatal("empty token is not scored (auth disabled)")
	}
	if IsWeakToken("kX9#mQ2$vL8pW4zR7!nT3") {
		t.Fatal("long random token should be strong")
	}
}
