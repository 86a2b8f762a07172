package metrics

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OpenSeneca/squadwatch/pkg/db"
	"github.com/OpenSeneca/squadwatch/pkg/logger"
	"github.com/OpenSeneca/squadwatch/pkg/monitor"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return NewStore(database, logger.NewDefault())
}

func probeAt(nodeID string, ts time.Time, status monitor.ProbeStatus, responseMs int64) monitor.ProbeResult {
	result := monitor.ProbeResult{
		NodeID:         nodeID,
		Timestamp:      ts,
		Status:         status,
		ResponseTimeMs: responseMs,
		Activity:       "up 1 day",
	}
	if status == monitor.StatusOffline {
		result.ErrorClass = monitor.ErrorClassConnectivity
		result.Activity = "unreachable"
	}
	return result
}

func TestQueryWindowAggregates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	// 7 online at 100ms, 3 offline: error rate must be exactly 3/10.
	for i := 0; i < 7; i++ {
		require.NoError(t, store.Append(ctx, 1, probeAt("a", now.Add(-time.Duration(i)*time.Minute), monitor.StatusOnline, 100)))
	}
	for i := 7; i < 10; i++ {
		require.NoError(t, store.Append(ctx, 1, probeAt("a", now.Add(-time.Duration(i)*time.Minute), monitor.StatusOffline, 5000)))
	}
	// Another node's history must not leak in.
	require.NoError(t, store.Append(ctx, 1, probeAt("b", now, monitor.StatusOffline, 1)))

	window, err := store.QueryWindow(ctx, "a", time.Hour)
	require.NoError(t, err)

	assert.Equal(t, "a", window.NodeID)
	assert.Equal(t, 10, window.SampleCount)
	assert.InDelta(t, 0.3, window.ErrorRate, 1e-9)
	assert.InDelta(t, (7*100.0+3*5000.0)/10, window.AvgResponseTimeMs, 1e-9)
}

func TestQueryWindowEmpty(t *testing.T) {
	store := newTestStore(t)

	window, err := store.QueryWindow(context.Background(), "ghost", time.Hour)
	require.NoError(t, err)

	assert.Equal(t, 0, window.SampleCount)
	assert.Zero(t, window.ErrorRate)
	assert.Zero(t, window.AvgResponseTimeMs)
}

func TestQueryWindowExcludesOldSamples(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.Append(ctx, 1, probeAt("a", now.Add(-2*time.Hour), monitor.StatusOffline, 5000)))
	require.NoError(t, store.Append(ctx, 2, probeAt("a", now, monitor.StatusOnline, 100)))

	window, err := store.QueryWindow(ctx, "a", time.Hour)
	require.NoError(t, err)

	assert.Equal(t, 1, window.SampleCount)
	assert.Zero(t, window.ErrorRate)
}

func TestLatestRound(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	round, err := store.LatestRound(ctx)
	require.NoError(t, err)
	assert.Nil(t, round, "no rounds yet")

	for seq := uint64(1); seq <= 2; seq++ {
		require.NoError(t, store.Append(ctx, seq, probeAt("a", now, monitor.StatusOnline, 100)))
		require.NoError(t, store.Append(ctx, seq, probeAt("b", now, monitor.StatusOffline, 5000)))
	}

	round, err = store.LatestRound(ctx)
	require.NoError(t, err)
	require.NotNil(t, round)
	assert.Equal(t, uint64(2), round.Sequence)
	require.Len(t, round.Results, 2)
	assert.Equal(t, "a", round.Results[0].NodeID)
	assert.Equal(t, "b", round.Results[1].NodeID)
	assert.Equal(t, monitor.ErrorClassConnectivity, round.Results[1].ErrorClass)
}

func TestLatestVaultStates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	states := []monitor.VaultState{
		{Path: "/vault/one", FileCount: 3, ScannedAt: now.Add(-time.Hour)},
		{Path: "/vault/one", FileCount: 5, ScannedAt: now, RecentFiles: []monitor.VaultFile{{Name: "new.md", ModTime: now}}},
		{Path: "/vault/two", Error: "permission denied", ScannedAt: now},
	}
	for _, state := range states {
		require.NoError(t, store.AppendVaultEvent(ctx, state))
	}

	latest, err := store.LatestVaultStates(ctx)
	require.NoError(t, err)
	require.Len(t, latest, 2)

	assert.Equal(t, "/vault/one", latest[0].Path)
	assert.Equal(t, 5, latest[0].FileCount, "only the newest scan per path survives")
	require.Len(t, latest[0].RecentFiles, 1)
	assert.Equal(t, "new.md", latest[0].RecentFiles[0].Name)

	assert.Equal(t, "/vault/two", latest[1].Path)
	assert.Equal(t, "permission denied", latest[1].Error)
}

func TestActivityFeedMergesNewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.Append(ctx, 1, probeAt("a", now.Add(-3*time.Minute), monitor.StatusOnline, 100)))
	require.NoError(t, store.AppendVaultEvent(ctx, monitor.VaultState{
		Path: "/vault/one", FileCount: 2, ScannedAt: now.Add(-2 * time.Minute),
	}))
	require.NoError(t, store.Append(ctx, 2, probeAt("a", now.Add(-time.Minute), monitor.StatusOffline, 5000)))

	feed, err := store.ActivityFeed(ctx, 10)
	require.NoError(t, err)
	require.Len(t, feed, 3)

	assert.Equal(t, monitor.ActivityKindProbe, feed[0].Kind)
	assert.Equal(t, monitor.StatusOffline, feed[0].Status)
	assert.Equal(t, monitor.ActivityKindVault, feed[1].Kind)
	assert.Contains(t, feed[1].Detail, "/vault/one")
	assert.Equal(t, monitor.ActivityKindProbe, feed[2].Kind)

	for i := 1; i < len(feed); i++ {
		assert.False(t, feed[i].Timestamp.After(feed[i-1].Timestamp), "feed must be newest first")
	}
}

func TestActivityFeedLimit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 20; i++ {
		require.NoError(t, store.Append(ctx, uint64(i+1), probeAt("a", now.Add(-time.Duration(i)*time.Second), monitor.StatusOnline, 50)))
	}

	feed, err := store.ActivityFeed(ctx, 5)
	require.NoError(t, err)
	assert.Len(t, feed, 5)
}
