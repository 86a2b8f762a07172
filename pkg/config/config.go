package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/OpenSeneca/squadwatch/pkg/logger"
)

const (
	DefaultListen               = ":3000"
	DefaultDatabasePath         = "data/squadwatch.db"
	DefaultRoundIntervalSeconds = 30
	DefaultPerNodeTimeoutMs     = 5000
	DefaultMetricsWindowMinutes = 60
	DefaultVaultScanSchedule    = "@every 5m"
	DefaultFailureThreshold     = 3
)

// Config is the full configuration for the squadwatch server.
type Config struct {
	Listen               string        `yaml:"listen"`
	DatabasePath         string        `yaml:"database"`
	RoundIntervalSeconds int           `yaml:"round_interval_seconds"`
	PerNodeTimeoutMs     int           `yaml:"per_node_timeout_ms"`
	MetricsWindowMinutes int           `yaml:"metrics_window_minutes"`
	Nodes                []NodeConfig  `yaml:"nodes"`
	Vault                VaultConfig   `yaml:"vault"`
	Alerts               AlertsConfig  `yaml:"alerts"`
	Log                  logger.Config `yaml:"log"`
}

// NodeConfig describes one monitored node. The registry built from these
// entries is immutable for the process lifetime.
type NodeConfig struct {
	ID           string `yaml:"id"`
	Name         string `yaml:"name"`
	Address      string `yaml:"address"`
	User         string `yaml:"user"`
	IdentityFile string `yaml:"identity_file"`
}

// VaultConfig configures the vault scanner, which runs on its own slower
// schedule independent of probe rounds.
type VaultConfig struct {
	Paths        []string `yaml:"paths"`
	ScanSchedule string   `yaml:"scan_schedule"`
	RecentFiles  int      `yaml:"recent_files"`
}

// AlertsConfig configures SMTP alerting for node downtime and recovery.
type AlertsConfig struct {
	Enabled          bool     `yaml:"enabled"`
	FailureThreshold int      `yaml:"failure_threshold"`
	SMTPHost         string   `yaml:"smtp_host"`
	SMTPPort         int      `yaml:"smtp_port"`
	SMTPUser         string   `yaml:"smtp_user"`
	SMTPPassword     string   `yaml:"smtp_password"`
	From             string   `yaml:"from"`
	To               []string `yaml:"to"`
	TLS              bool     `yaml:"tls"`
}

// Load reads and parses a YAML config file, applying defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("could not parse config %s: %w", path, err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills in zero-valued fields with defaults.
func (c *Config) ApplyDefaults() {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.DatabasePath == "" {
		c.DatabasePath = DefaultDatabasePath
	}
	if c.RoundIntervalSeconds == 0 {
		c.RoundIntervalSeconds = DefaultRoundIntervalSeconds
	}
	if c.PerNodeTimeoutMs == 0 {
		c.PerNodeTimeoutMs = DefaultPerNodeTimeoutMs
	}
	if c.MetricsWindowMinutes == 0 {
		c.MetricsWindowMinutes = DefaultMetricsWindowMinutes
	}
	if c.Vault.ScanSchedule == "" {
		c.Vault.ScanSchedule = DefaultVaultScanSchedule
	}
	if c.Vault.RecentFiles == 0 {
		c.Vault.RecentFiles = 10
	}
	if c.Alerts.FailureThreshold == 0 {
		c.Alerts.FailureThreshold = DefaultFailureThreshold
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.OutputPath == "" {
		c.Log.OutputPath = "stdout"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
}

// Validate checks required fields and node registry consistency.
func (c *Config) Validate() error {
	if len(c.Nodes) == 0 {
		return fmt.Errorf("config must list at least one node")
	}
	seen := make(map[string]bool, len(c.Nodes))
	for _, n := range c.Nodes {
		if n.ID == "" {
			return fmt.Errorf("node entry is missing an id")
		}
		if n.Address == "" {
			return fmt.Errorf("node %q is missing an address", n.ID)
		}
		if seen[n.ID] {
			return fmt.Errorf("duplicate node id %q", n.ID)
		}
		seen[n.ID] = true
	}
	if c.RoundIntervalSeconds < 1 {
		return fmt.Errorf("round_interval_seconds must be at least 1")
	}
	if c.PerNodeTimeoutMs < 1 {
		return fmt.Errorf("per_node_timeout_ms must be at least 1")
	}
	return nil
}

// RoundInterval returns the probe round cadence as a duration.
func (c *Config) RoundInterval() time.Duration {
	return time.Duration(c.RoundIntervalSeconds) * time.Second
}

// PerNodeTimeout returns the per-node probe timeout as a duration. It also
// bounds the total wall-clock time of a round.
func (c *Config) PerNodeTimeout() time.Duration {
	return time.Duration(c.PerNodeTimeoutMs) * time.Millisecond
}

// MetricsWindow returns the default trailing window for metrics queries.
func (c *Config) MetricsWindow() time.Duration {
	return time.Duration(c.MetricsWindowMinutes) * time.Minute
}
