package monitor

import (
	"time"
)

// ProbeStatus represents the outcome of a health probe
type ProbeStatus string

const (
	// StatusOnline indicates the node answered the probe
	StatusOnline ProbeStatus = "online"
	// StatusOffline indicates the probe failed
	StatusOffline ProbeStatus = "offline"
)

// ErrorClass classifies a failed probe. Classes are mutually exclusive and
// the most specific one wins.
type ErrorClass string

const (
	ErrorClassAuthentication ErrorClass = "authentication"
	ErrorClassConnectivity   ErrorClass = "connectivity"
	ErrorClassTimeout        ErrorClass = "timeout"
	ErrorClassUnknown        ErrorClass = "unknown"
)

// Node is a registry entry for one monitored worker. The registry is built
// from configuration at startup and never mutated afterwards.
type Node struct {
	// ID is the unique identifier for the node
	ID string `json:"id"`
	// Name is a human-readable display name
	Name string `json:"name"`
	// Address is the SSH endpoint (host or host:port)
	Address string `json:"address"`
	// User is the remote user to connect as
	User string `json:"user,omitempty"`
	// IdentityFile is an optional private key path
	IdentityFile string `json:"-"`
}

// ProbeResult is the outcome of one probe against one node. Results are
// write-once: they are created by the prober and never mutated.
type ProbeResult struct {
	NodeID         string      `json:"node_id"`
	Timestamp      time.Time   `json:"timestamp"`
	Status         ProbeStatus `json:"status"`
	ResponseTimeMs int64       `json:"response_time_ms"`
	// Activity is the last meaningful output line on success, or a
	// human-readable failure summary otherwise.
	Activity   string     `json:"activity"`
	ErrorClass ErrorClass `json:"error_class,omitempty"`
}

// Round is one complete probing cycle. A round is sealed only once every
// registered node has a result; partial rounds never propagate.
type Round struct {
	Sequence    uint64        `json:"sequence"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
	// Results are ordered by node registration order.
	Results []ProbeResult `json:"results"`
}

// MetricsWindow holds aggregates over a trailing window, recomputed on
// demand from the probe history and never persisted separately.
type MetricsWindow struct {
	NodeID            string    `json:"node_id"`
	WindowStart       time.Time `json:"window_start"`
	WindowEnd         time.Time `json:"window_end"`
	AvgResponseTimeMs float64   `json:"avg_response_time_ms"`
	ErrorRate         float64   `json:"error_rate"`
	SampleCount       int       `json:"sample_count"`
}

// VaultFile is one recently-modified file inside a scanned vault path.
type VaultFile struct {
	Name    string    `json:"name"`
	ModTime time.Time `json:"mtime"`
}

// VaultState is the result of scanning one vault path. Scan failures are
// carried in Error and never conflated with node status.
type VaultState struct {
	Path        string      `json:"path"`
	FileCount   int         `json:"file_count"`
	RecentFiles []VaultFile `json:"recent_files"`
	Error       string      `json:"error,omitempty"`
	ScannedAt   time.Time   `json:"scanned_at"`
}

// ActivityEntry is one item of the merged activity feed: either a probe
// result or a vault scan, ordered by timestamp descending.
type ActivityEntry struct {
	Kind       string      `json:"kind"` // "probe" or "vault"
	Timestamp  time.Time   `json:"timestamp"`
	NodeID     string      `json:"node_id,omitempty"`
	Status     ProbeStatus `json:"status,omitempty"`
	ErrorClass ErrorClass  `json:"error_class,omitempty"`
	Detail     string      `json:"detail"`
}

const (
	ActivityKindProbe = "probe"
	ActivityKindVault = "vault"
)
