package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/OpenSeneca/squadwatch/pkg/logger"
	"github.com/OpenSeneca/squadwatch/pkg/monitor"
)

// Store is the append-only log of probe results and vault events. Windowed
// aggregates are computed on read, never kept as separate counters, so they
// cannot drift from the history.
type Store struct {
	db     *sql.DB
	logger *logger.Logger

	// Appends for the same node are serialized to preserve timestamp order
	// within that node's history; different nodes append concurrently.
	locksMu   sync.Mutex
	nodeLocks map[string]*sync.Mutex
}

// NewStore creates a store over an already-migrated database.
func NewStore(db *sql.DB, log *logger.Logger) *Store {
	return &Store{
		db:        db,
		logger:    log,
		nodeLocks: make(map[string]*sync.Mutex),
	}
}

func (s *Store) nodeLock(nodeID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	lock, ok := s.nodeLocks[nodeID]
	if !ok {
		lock = &sync.Mutex{}
		s.nodeLocks[nodeID] = lock
	}
	return lock
}

// Append persists one probe result. Results are write-once; there is no
// update path.
func (s *Store) Append(ctx context.Context, roundSeq uint64, result monitor.ProbeResult) error {
	lock := s.nodeLock(result.NodeID)
	lock.Lock()
	defer lock.Unlock()

	var errorClass interface{}
	if result.ErrorClass != "" {
		errorClass = string(result.ErrorClass)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO probe_results (node_id, round_seq, timestamp_ms, status, response_time_ms, activity, error_class)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		result.NodeID,
		roundSeq,
		result.Timestamp.UnixMilli(),
		string(result.Status),
		result.ResponseTimeMs,
		result.Activity,
		errorClass,
	)
	if err != nil {
		return fmt.Errorf("could not append probe result for %s: %w", result.NodeID, err)
	}
	return nil
}

// AppendVaultEvent persists one vault scan outcome, including failed scans.
func (s *Store) AppendVaultEvent(ctx context.Context, state monitor.VaultState) error {
	recent, err := json.Marshal(state.RecentFiles)
	if err != nil {
		return fmt.Errorf("could not encode recent files: %w", err)
	}

	var scanErr interface{}
	if state.Error != "" {
		scanErr = state.Error
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO vault_events (timestamp_ms, path, file_count, recent_files, error)
		VALUES (?, ?, ?, ?, ?)`,
		state.ScannedAt.UnixMilli(),
		state.Path,
		state.FileCount,
		string(recent),
		scanErr,
	)
	if err != nil {
		return fmt.Errorf("could not append vault event: %w", err)
	}
	return nil
}

// QueryWindow computes trailing-window aggregates for one node. With no
// samples in the window every aggregate is zero; it never divides by zero.
func (s *Store) QueryWindow(ctx context.Context, nodeID string, window time.Duration) (monitor.MetricsWindow, error) {
	end := time.Now().UTC()
	start := end.Add(-window)

	row := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(AVG(response_time_ms), 0),
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0)
		FROM probe_results
		WHERE node_id = ? AND timestamp_ms >= ? AND timestamp_ms <= ?`,
		string(monitor.StatusOffline), nodeID, start.UnixMilli(), end.UnixMilli(),
	)

	var sampleCount, offlineCount int
	var avgResponse float64
	if err := row.Scan(&sampleCount, &avgResponse, &offlineCount); err != nil {
		return monitor.MetricsWindow{}, fmt.Errorf("could not query window for %s: %w", nodeID, err)
	}

	result := monitor.MetricsWindow{
		NodeID:      nodeID,
		WindowStart: start,
		WindowEnd:   end,
		SampleCount: sampleCount,
	}
	if sampleCount > 0 {
		result.AvgResponseTimeMs = avgResponse
		result.ErrorRate = float64(offlineCount) / float64(sampleCount)
	}
	return result, nil
}

// LatestRound reconstructs the most recent sealed round from the log, in
// node registration order (insertion order within the round). Returns nil
// when no round has been sealed yet.
func (s *Store) LatestRound(ctx context.Context) (*monitor.Round, error) {
	var sequence uint64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(round_seq), 0) FROM probe_results`).Scan(&sequence)
	if err != nil {
		return nil, fmt.Errorf("could not find latest round: %w", err)
	}
	if sequence == 0 {
		return nil, nil
	}
	return s.Round(ctx, sequence)
}

// Round reconstructs one sealed round by sequence number.
func (s *Store) Round(ctx context.Context, sequence uint64) (*monitor.Round, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT node_id, timestamp_ms, status, response_time_ms, activity, error_class
		FROM probe_results
		WHERE round_seq = ?
		ORDER BY id`,
		sequence,
	)
	if err != nil {
		return nil, fmt.Errorf("could not load round %d: %w", sequence, err)
	}
	defer rows.Close()

	round := &monitor.Round{Sequence: sequence}
	for rows.Next() {
		result, err := scanProbeResult(rows)
		if err != nil {
			return nil, err
		}
		round.Results = append(round.Results, result)

		if round.StartedAt.IsZero() || result.Timestamp.Before(round.StartedAt) {
			round.StartedAt = result.Timestamp
		}
		if result.Timestamp.After(round.CompletedAt) {
			round.CompletedAt = result.Timestamp
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("could not load round %d: %w", sequence, err)
	}
	if len(round.Results) == 0 {
		return nil, nil
	}
	return round, nil
}

// LatestVaultStates returns the most recent scan per vault path.
func (s *Store) LatestVaultStates(ctx context.Context) ([]monitor.VaultState, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT v.timestamp_ms, v.path, v.file_count, v.recent_files, v.error
		FROM vault_events v
		INNER JOIN (
			SELECT path, MAX(timestamp_ms) AS ts FROM vault_events GROUP BY path
		) latest ON v.path = latest.path AND v.timestamp_ms = latest.ts
		ORDER BY v.path`)
	if err != nil {
		return nil, fmt.Errorf("could not load vault states: %w", err)
	}
	defer rows.Close()

	var states []monitor.VaultState
	for rows.Next() {
		state, err := scanVaultState(rows)
		if err != nil {
			return nil, err
		}
		states = append(states, state)
	}
	return states, rows.Err()
}

// ActivityFeed merges probe history and vault events by timestamp
// descending, up to limit entries.
func (s *Store) ActivityFeed(ctx context.Context, limit int) ([]monitor.ActivityEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	probes, err := s.recentProbes(ctx, limit)
	if err != nil {
		return nil, err
	}
	vaults, err := s.recentVaultEvents(ctx, limit)
	if err != nil {
		return nil, err
	}

	// Both slices arrive newest-first; merge keeps that order.
	feed := make([]monitor.ActivityEntry, 0, limit)
	i, j := 0, 0
	for len(feed) < limit && (i < len(probes) || j < len(vaults)) {
		switch {
		case i >= len(probes):
			feed = append(feed, vaults[j])
			j++
		case j >= len(vaults):
			feed = append(feed, probes[i])
			i++
		case probes[i].Timestamp.Before(vaults[j].Timestamp):
			feed = append(feed, vaults[j])
			j++
		default:
			feed = append(feed, probes[i])
			i++
		}
	}
	return feed, nil
}

func (s *Store) recentProbes(ctx context.Context, limit int) ([]monitor.ActivityEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT node_id, timestamp_ms, status, response_time_ms, activity, error_class
		FROM probe_results
		ORDER BY timestamp_ms DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("could not load probe activity: %w", err)
	}
	defer rows.Close()

	var entries []monitor.ActivityEntry
	for rows.Next() {
		result, err := scanProbeResult(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, monitor.ActivityEntry{
			Kind:       monitor.ActivityKindProbe,
			Timestamp:  result.Timestamp,
			NodeID:     result.NodeID,
			Status:     result.Status,
			ErrorClass: result.ErrorClass,
			Detail:     result.Activity,
		})
	}
	return entries, rows.Err()
}

func (s *Store) recentVaultEvents(ctx context.Context, limit int) ([]monitor.ActivityEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp_ms, path, file_count, recent_files, error
		FROM vault_events
		ORDER BY timestamp_ms DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("could not load vault activity: %w", err)
	}
	defer rows.Close()

	var entries []monitor.ActivityEntry
	for rows.Next() {
		state, err := scanVaultState(rows)
		if err != nil {
			return nil, err
		}
		detail := fmt.Sprintf("%s: %d files", state.Path, state.FileCount)
		if state.Error != "" {
			detail = fmt.Sprintf("%s: scan failed: %s", state.Path, state.Error)
		}
		entries = append(entries, monitor.ActivityEntry{
			Kind:      monitor.ActivityKindVault,
			Timestamp: state.ScannedAt,
			Detail:    detail,
		})
	}
	return entries, rows.Err()
}

func scanProbeResult(rows *sql.Rows) (monitor.ProbeResult, error) {
	var result monitor.ProbeResult
	var timestampMs int64
	var status string
	var errorClass sql.NullString

	if err := rows.Scan(&result.NodeID, &timestampMs, &status,
		&result.ResponseTimeMs, &result.Activity, &errorClass); err != nil {
		return monitor.ProbeResult{}, fmt.Errorf("could not scan probe result: %w", err)
	}

	result.Timestamp = time.UnixMilli(timestampMs).UTC()
	result.Status = monitor.ProbeStatus(status)
	if errorClass.Valid {
		result.ErrorClass = monitor.ErrorClass(errorClass.String)
	}
	return result, nil
}

func scanVaultState(rows *sql.Rows) (monitor.VaultState, error) {
	var state monitor.VaultState
	var timestampMs int64
	var recent string
	var scanErr sql.NullString

	if err := rows.Scan(&timestampMs, &state.Path, &state.FileCount, &recent, &scanErr); err != nil {
		return monitor.VaultState{}, fmt.Errorf("could not scan vault event: %w", err)
	}

	state.ScannedAt = time.UnixMilli(timestampMs).UTC()
	if scanErr.Valid {
		state.Error = scanErr.String
	}
	if err := json.Unmarshal([]byte(recent), &state.RecentFiles); err != nil {
		return monitor.VaultState{}, fmt.Errorf("could not decode recent files: %w", err)
	}
	return state, nil
}
