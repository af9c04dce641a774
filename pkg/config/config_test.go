package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

// validConfig returns a minimal valid Config for testing.
func validConfig() *Config {
	return &Config{
		Global: GlobalConfig{LogLevel: "info"},
		Relay: RelayConfig{
			TargetHost: "203.0.113.9",
			Protocol:   "tcp",
		},
		Allocator: AllocatorConfig{
			DefaultStart:  10000,
			MaxAttempts:   1000,
			ProgressEvery: 100,
		},
		Report: ReportConfig{
			DisplayLimit:   20,
			WellKnownPorts: []int{22, 80, 443},
		},
		Connectivity: ConnectivityConfig{Timeout: "2s"},
		Persist: PersistConfig{
			RulesFile: "/etc/iptables/rules.v4",
			BackupDir: "/var/backups/ezfwd",
		},
		Sysctl: SysctlConfig{
			IPForwardPath: "/proc/sys/net/ipv4/ip_forward",
			ConfPath:      "/etc/sysctl.conf",
		},
		Range: RangeConfig{MaxSpan: 1000},
	}
}

// --- Validate function tests ---

func TestValidate_ValidConfig(t *testing.T) {
	cfg := validConfig()
	if err := Validate(cfg); err != nil {
		t.Fatalf("expected valid config to pass validation, got: %v", err)
	}
}

func TestValidate_TargetHostEmpty(t *testing.T) {
	cfg := validConfig()
	cfg.Relay.TargetHost = ""
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for empty target host, got nil")
	}
}

func TestValidate_TargetHostInvalid(t *testing.T) {
	cfg := validConfig()
	cfg.Relay.TargetHost = "not-an-ip"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for invalid target host, got nil")
	}
}

func TestValidate_TargetHostIPv6Rejected(t *testing.T) {
	cfg := validConfig()
	cfg.Relay.TargetHost = "2001:db8::1"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for IPv6 target host, got nil")
	}
}

func TestValidate_TargetHostCanonicalized(t *testing.T) {
	for _, host := range []string{"::ffff:203.0.113.9", "::FFFF:cb00:7109"} {
		cfg := validConfig()
		cfg.Relay.TargetHost = host
		if err := Validate(cfg); err != nil {
			t.Fatalf("Validate(%q) failed: %v", host, err)
		}
		if cfg.Relay.TargetHost != "203.0.113.9" {
			t.Errorf("expected %q to become 203.0.113.9, got %q", host, cfg.Relay.TargetHost)
		}
	}
}

func TestValidate_ProtocolEmptyDefaultsTCP(t *testing.T) {
	cfg := validConfig()
	cfg.Relay.Protocol = ""
	if err := Validate(cfg); err != nil {
		t.Fatalf("expected empty protocol to default, got: %v", err)
	}
	if cfg.Relay.Protocol != "tcp" {
		t.Errorf("expected protocol 'tcp', got %q", cfg.Relay.Protocol)
	}
}

func TestValidate_ProtocolUnsupported(t *testing.T) {
	cfg := validConfig()
	cfg.Relay.Protocol = "udp"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for udp protocol, got nil")
	}
}

func TestValidate_LogLevelUnsupported(t *testing.T) {
	cfg := validConfig()
	cfg.Global.LogLevel = "verbose"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for unsupported log level, got nil")
	}
}

func TestValidate_AllocatorBounds(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"start zero", func(c *Config) { c.Allocator.DefaultStart = 0 }},
		{"start too large", func(c *Config) { c.Allocator.DefaultStart = 70000 }},
		{"attempts zero", func(c *Config) { c.Allocator.MaxAttempts = 0 }},
		{"progress zero", func(c *Config) { c.Allocator.ProgressEvery = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			if err := Validate(cfg); err == nil {
				t.Fatal("expected validation error, got nil")
			}
		})
	}
}

func TestValidate_WellKnownPortOutOfRange(t *testing.T) {
	cfg := validConfig()
	cfg.Report.WellKnownPorts = []int{22, 65536}
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for out-of-range well-known port, got nil")
	}
}

func TestValidate_ConnectivityTimeoutInvalid(t *testing.T) {
	cfg := validConfig()
	cfg.Connectivity.Timeout = "soon"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for invalid timeout, got nil")
	}
}

func TestValidate_PersistPathsRequired(t *testing.T) {
	cfg := validConfig()
	cfg.Persist.RulesFile = ""
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for empty rules file, got nil")
	}
}

func TestValidate_RangeSpanZero(t *testing.T) {
	cfg := validConfig()
	cfg.Range.MaxSpan = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for zero range span, got nil")
	}
}

func TestConnectivityConfig_GetTimeout(t *testing.T) {
	if got := (ConnectivityConfig{}).GetTimeout(); got != 3*time.Second {
		t.Errorf("expected default timeout 3s, got %v", got)
	}
	if got := (ConnectivityConfig{Timeout: "bad"}).GetTimeout(); got != 3*time.Second {
		t.Errorf("expected default timeout 3s for invalid value, got %v", got)
	}
	if got := (ConnectivityConfig{Timeout: "500ms"}).GetTimeout(); got != 500*time.Millisecond {
		t.Errorf("expected timeout 500ms, got %v", got)
	}
}

// --- Manager loading tests ---

const validYAML = `
global:
  log_level: debug
relay:
  target_host: 203.0.113.9
allocator:
  default_start: 40000
  max_attempts: 50
report:
  display_limit: 5
  well_known_ports: [22, 3389]
`

func writeTestYAML(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test yaml: %v", err)
	}
	return path
}

func TestManager_LoadValidYAML(t *testing.T) {
	path := writeTestYAML(t, validYAML)

	mgr, err := NewManager(path, zap.NewNop())
	if err != nil {
		t.Fatalf("expected NewManager to succeed, got: %v", err)
	}
	if !mgr.FileLoaded() {
		t.Error("expected config file to be reported as loaded")
	}

	cfg := mgr.GetConfig()
	if err := Validate(cfg); err != nil {
		t.Fatalf("expected loaded config to validate, got: %v", err)
	}
	if cfg.Relay.TargetHost != "203.0.113.9" {
		t.Errorf("expected target host 203.0.113.9, got %q", cfg.Relay.TargetHost)
	}
	if cfg.Allocator.DefaultStart != 40000 {
		t.Errorf("expected default_start 40000, got %d", cfg.Allocator.DefaultStart)
	}
	if cfg.Allocator.ProgressEvery != 100 {
		t.Errorf("expected default progress_every 100, got %d", cfg.Allocator.ProgressEvery)
	}
	if len(cfg.Report.WellKnownPorts) != 2 {
		t.Errorf("expected 2 well-known ports, got %v", cfg.Report.WellKnownPorts)
	}
	if cfg.Persist.RulesFile != "/etc/iptables/rules.v4" {
		t.Errorf("expected default rules file, got %q", cfg.Persist.RulesFile)
	}
}

func TestManager_LoadNonExistentFileUsesDefaults(t *testing.T) {
	mgr, err := NewManager(filepath.Join(t.TempDir(), "missing.yaml"), zap.NewNop())
	if err != nil {
		t.Fatalf("expected missing config file to be tolerated, got: %v", err)
	}
	if mgr.FileLoaded() {
		t.Error("expected config file to be reported as not loaded")
	}
	cfg := mgr.GetConfig()
	if cfg.Report.DisplayLimit != 20 {
		t.Errorf("expected default display limit 20, got %d", cfg.Report.DisplayLimit)
	}
	if err := Validate(cfg); err == nil {
		t.Fatal("expected defaults without target host to fail validation")
	}
}

func TestManager_EnvironmentOverride(t *testing.T) {
	t.Setenv("EZFWD_RELAY_TARGET_HOST", "198.51.100.7")
	path := writeTestYAML(t, validYAML)

	mgr, err := NewManager(path, zap.NewNop())
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	if got := mgr.GetConfig().Relay.TargetHost; got != "198.51.100.7" {
		t.Errorf("expected env override 198.51.100.7, got %q", got)
	}
}

func TestManager_LoadInvalidYAML(t *testing.T) {
	path := writeTestYAML(t, `{{{invalid yaml`)
	_, err := NewManager(path, zap.NewNop())
	if err == nil {
		t.Fatal("expected error for invalid YAML, got nil")
	}
}

func TestManager_WriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "etc", "ezfwd.yaml")
	mgr, err := NewManager(path, zap.NewNop())
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	if err := mgr.WriteDefault(); err != nil {
		t.Fatalf("WriteDefault failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected config file to exist: %v", err)
	}

	if err := mgr.WriteDefault(); err == nil {
		t.Fatal("expected second WriteDefault to refuse overwriting")
	}
}
