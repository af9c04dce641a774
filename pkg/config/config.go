package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// DefaultPath is the configuration file read when --config is not given.
const DefaultPath = "/etc/ezfwd/ezfwd.yaml"

// Config represents the top-level configuration structure.
type Config struct {
	Global       GlobalConfig       `yaml:"global"       mapstructure:"global"`
	Relay        RelayConfig        `yaml:"relay"        mapstructure:"relay"`
	Allocator    AllocatorConfig    `yaml:"allocator"    mapstructure:"allocator"`
	Report       ReportConfig       `yaml:"report"       mapstructure:"report"`
	Connectivity ConnectivityConfig `yaml:"connectivity" mapstructure:"connectivity"`
	Persist      PersistConfig      `yaml:"persist"      mapstructure:"persist"`
	Sysctl       SysctlConfig       `yaml:"sysctl"       mapstructure:"sysctl"`
	Range        RangeConfig        `yaml:"range"        mapstructure:"range"`
}

// GlobalConfig holds global settings.
type GlobalConfig struct {
	LogLevel string `yaml:"log_level" mapstructure:"log_level"`
}

// RelayConfig describes the fixed forwarding target of this relay host.
type RelayConfig struct {
	TargetHost string `yaml:"target_host" mapstructure:"target_host"`
	Protocol   string `yaml:"protocol"    mapstructure:"protocol"`
}

// AllocatorConfig tunes the free port search.
type AllocatorConfig struct {
	DefaultStart  int `yaml:"default_start"  mapstructure:"default_start"`
	MaxAttempts   int `yaml:"max_attempts"   mapstructure:"max_attempts"`
	ProgressEvery int `yaml:"progress_every" mapstructure:"progress_every"`
}

// ReportConfig tunes the list and status views.
type ReportConfig struct {
	DisplayLimit   int   `yaml:"display_limit"    mapstructure:"display_limit"`
	WellKnownPorts []int `yaml:"well_known_ports" mapstructure:"well_known_ports"`
}

// ConnectivityConfig holds the bounded wait used by the test command.
type ConnectivityConfig struct {
	Timeout string `yaml:"timeout" mapstructure:"timeout"`
}

// GetTimeout parses and returns the connectivity test timeout.
// Defaults to 3s if not set or invalid.
func (c ConnectivityConfig) GetTimeout() time.Duration {
	if c.Timeout == "" {
		return 3 * time.Second
	}
	duration, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 3 * time.Second
	}
	return duration
}

// PersistConfig locates the saved rule file and backups.
type PersistConfig struct {
	RulesFile string `yaml:"rules_file" mapstructure:"rules_file"`
	BackupDir string `yaml:"backup_dir" mapstructure:"backup_dir"`
}

// SysctlConfig locates the kernel IP forwarding switch and its persistent setting.
type SysctlConfig struct {
	IPForwardPath string `yaml:"ip_forward_path" mapstructure:"ip_forward_path"`
	ConfPath      string `yaml:"conf_path"       mapstructure:"conf_path"`
}

// RangeConfig bounds the range command.
type RangeConfig struct {
	MaxSpan int `yaml:"max_span" mapstructure:"max_span"`
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Manager handles configuration loading and validation.
type Manager struct {
	viper      *viper.Viper
	configPath string
	fileLoaded bool
	current    *Config
	logger     *zap.Logger
}

// NewManager creates a config Manager and loads the configuration.
// A missing config file is not an error: defaults and EZFWD_* environment
// variables still apply. The result is not validated; call Validate.
func NewManager(configPath string, logger *zap.Logger) (*Manager, error) {
	viperInstance := viper.New()
	viperInstance.SetConfigFile(configPath)
	viperInstance.SetConfigType("yaml")

	setDefaults(viperInstance)

	viperInstance.SetEnvPrefix("EZFWD")
	viperInstance.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viperInstance.AutomaticEnv()

	manager := &Manager{
		viper:      viperInstance,
		configPath: configPath,
		logger:     logger,
	}

	cfg, err := manager.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	manager.current = cfg

	return manager, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("global.log_level", "info")
	v.SetDefault("relay.target_host", "")
	v.SetDefault("relay.protocol", "tcp")
	v.SetDefault("allocator.default_start", 10000)
	v.SetDefault("allocator.max_attempts", 1000)
	v.SetDefault("allocator.progress_every", 100)
	v.SetDefault("report.display_limit", 20)
	v.SetDefault("report.well_known_ports", []int{22, 80, 443, 3389, 8080})
	v.SetDefault("connectivity.timeout", "3s")
	v.SetDefault("persist.rules_file", "/etc/iptables/rules.v4")
	v.SetDefault("persist.backup_dir", "/var/backups/ezfwd")
	v.SetDefault("sysctl.ip_forward_path", "/proc/sys/net/ipv4/ip_forward")
	v.SetDefault("sysctl.conf_path", "/etc/sysctl.conf")
	v.SetDefault("range.max_span", 1000)
}

// Load reads the config file if present and unmarshals it.
func (m *Manager) Load() (*Config, error) {
	m.fileLoaded = false
	if err := m.viper.ReadInConfig(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		m.logger.Debug("config file not found, using defaults", zap.String("path", m.configPath))
	} else {
		m.fileLoaded = true
	}

	var cfg Config
	if err := m.viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for correctness.
func Validate(cfg *Config) error {
	if cfg.Global.LogLevel != "" && !validLogLevels[cfg.Global.LogLevel] {
		return fmt.Errorf("global.log_level: unsupported level %q (supported: debug, info, warn, error)", cfg.Global.LogLevel)
	}

	if cfg.Relay.TargetHost == "" {
		return fmt.Errorf("relay.target_host is required")
	}
	ip := net.ParseIP(cfg.Relay.TargetHost)
	if ip == nil {
		return fmt.Errorf("relay.target_host: invalid IP %q", cfg.Relay.TargetHost)
	}
	if ip.To4() == nil {
		return fmt.Errorf("relay.target_host: %q is not an IPv4 address", cfg.Relay.TargetHost)
	}
	// Rules are matched against the dotted-quad text of the table dump.
	cfg.Relay.TargetHost = ip.To4().String()

	if cfg.Relay.Protocol == "" {
		cfg.Relay.Protocol = "tcp"
	}
	if cfg.Relay.Protocol != "tcp" {
		return fmt.Errorf("relay.protocol: unsupported protocol %q (supported: tcp)", cfg.Relay.Protocol)
	}

	if cfg.Allocator.DefaultStart < 1 || cfg.Allocator.DefaultStart > 65535 {
		return fmt.Errorf("allocator.default_start must be between 1 and 65535")
	}
	if cfg.Allocator.MaxAttempts <= 0 {
		return fmt.Errorf("allocator.max_attempts must be a positive integer")
	}
	if cfg.Allocator.ProgressEvery <= 0 {
		return fmt.Errorf("allocator.progress_every must be a positive integer")
	}

	if cfg.Report.DisplayLimit <= 0 {
		return fmt.Errorf("report.display_limit must be a positive integer")
	}
	for i, port := range cfg.Report.WellKnownPorts {
		if port < 1 || port > 65535 {
			return fmt.Errorf("report.well_known_ports[%d]: port %d out of range", i, port)
		}
	}

	if cfg.Connectivity.Timeout != "" {
		if _, err := time.ParseDuration(cfg.Connectivity.Timeout); err != nil {
			return fmt.Errorf("connectivity.timeout: invalid duration %q: %w", cfg.Connectivity.Timeout, err)
		}
	}

	if cfg.Persist.RulesFile == "" {
		return fmt.Errorf("persist.rules_file is required")
	}
	if cfg.Persist.BackupDir == "" {
		return fmt.Errorf("persist.backup_dir is required")
	}
	if cfg.Sysctl.IPForwardPath == "" || cfg.Sysctl.ConfPath == "" {
		return fmt.Errorf("sysctl.ip_forward_path and sysctl.conf_path are required")
	}

	if cfg.Range.MaxSpan <= 0 {
		return fmt.Errorf("range.max_span must be a positive integer")
	}

	return nil
}

// GetConfig returns the loaded configuration.
func (m *Manager) GetConfig() *Config {
	return m.current
}

// Path returns the configuration file path.
func (m *Manager) Path() string {
	return m.configPath
}

// FileLoaded reports whether the config file existed and was read.
func (m *Manager) FileLoaded() bool {
	return m.fileLoaded
}

// Settings returns the merged settings (defaults, file, environment).
func (m *Manager) Settings() map[string]any {
	return m.viper.AllSettings()
}

// WriteDefault writes the current settings to the config path.
// It refuses to overwrite an existing file.
func (m *Manager) WriteDefault() error {
	if err := os.MkdirAll(filepath.Dir(m.configPath), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := m.viper.SafeWriteConfigAs(m.configPath); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", m.configPath, err)
	}
	m.logger.Info("wrote config file", zap.String("path", m.configPath))
	return nil
}
