package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "squadwatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
nodes:
  - id: seneca
    name: Seneca
    address: lobster-1
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, DefaultListen, cfg.Listen)
	require.Equal(t, 30*time.Second, cfg.RoundInterval())
	require.Equal(t, 5*time.Second, cfg.PerNodeTimeout())
	require.Equal(t, time.Hour, cfg.MetricsWindow())
	require.Equal(t, DefaultVaultScanSchedule, cfg.Vault.ScanSchedule)
	require.Equal(t, DefaultFailureThreshold, cfg.Alerts.FailureThreshold)
	require.Equal(t, "info", cfg.Log.Level)
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
listen: ":8100"
database: /var/lib/squadwatch/history.db
round_interval_seconds: 15
per_node_timeout_ms: 2000
metrics_window_minutes: 30
nodes:
  - id: seneca
    name: Seneca
    address: 100.101.15.68
    user: ops
  - id: marcus
    name: Marcus
    address: 100.98.223.103
vault:
  paths: [/srv/vault]
  scan_schedule: "@every 1m"
  recent_files: 5
log:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, ":8100", cfg.Listen)
	require.Len(t, cfg.Nodes, 2)
	require.Equal(t, "marcus", cfg.Nodes[1].ID)
	require.Equal(t, 2*time.Second, cfg.PerNodeTimeout())
	require.Equal(t, []string{"/srv/vault"}, cfg.Vault.Paths)
	require.Equal(t, 5, cfg.Vault.RecentFiles)
	require.Equal(t, "debug", cfg.Log.Level)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "no nodes",
			mutate:  func(c *Config) { c.Nodes = nil },
			wantErr: "at least one node",
		},
		{
			name: "missing id",
			mutate: func(c *Config) {
				c.Nodes = []NodeConfig{{Address: "host-a"}}
			},
			wantErr: "missing an id",
		},
		{
			name: "missing address",
			mutate: func(c *Config) {
				c.Nodes = []NodeConfig{{ID: "a"}}
			},
			wantErr: "missing an address",
		},
		{
			name: "duplicate id",
			mutate: func(c *Config) {
				c.Nodes = []NodeConfig{
					{ID: "a", Address: "host-a"},
					{ID: "a", Address: "host-b"},
				}
			},
			wantErr: "duplicate node id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Nodes: []NodeConfig{{ID: "a", Address: "host-a"}},
			}
			cfg.ApplyDefaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
