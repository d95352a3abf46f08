package fs

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nobodyspecial333/MintRewardsSnapshotTool/internal/clients_api/markets"
	"github.com/nobodyspecial333/MintRewardsSnapshotTool/internal/features/aggregate"
	"github.com/nobodyspecial333/MintRewardsSnapshotTool/internal/features/snapshot"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSnapshot(capturedAt time.Time) *snapshot.Snapshot {
	return &snapshot.Snapshot{
		Holders: []aggregate.Holder{
			{Address: "HolderOne111", Balance: 900},
			{Address: "HolderTwo222", Balance: 100},
		},
		TotalSupplyObserved: 1000,
		HolderCount:         2,
		Progress: markets.ProgressReading{
			Metric:       80,
			MarketCapSOL: 420,
			SolVolume:    80,
			ObservedAt:   capturedAt,
		},
		TargetReached: false,
		CapturedAt:    capturedAt,
	}
}

func TestPersist_WritesCSVAndInfoArtifacts(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)

	capturedAt := time.Date(2026, 8, 23, 14, 30, 5, 0, time.UTC)
	require.NoError(t, store.Persist(sampleSnapshot(capturedAt)))

	csvData, err := os.ReadFile(filepath.Join(dir, "snapshot_20260823_143005.csv"))
	require.NoError(t, err)

	lines := strings.Split(strings.TrimRight(string(csvData), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "address,balance,timestamp", lines[0])
	assert.Equal(t, "HolderOne111,900,2026-08-23T14:30:05Z", lines[1])
	assert.Equal(t, "HolderTwo222,100,2026-08-23T14:30:05Z", lines[2])

	infoData, err := os.ReadFile(filepath.Join(dir, "snapshot_20260823_143005_info.json"))
	require.NoError(t, err)

	var info map[string]interface{}
	require.NoError(t, json.Unmarshal(infoData, &info))
	assert.Equal(t, "2026-08-23T14:30:05Z", info["timestamp"])
	assert.Equal(t, float64(2), info["total_holders"])
	assert.Equal(t, float64(1000), info["total_supply"])
	assert.Equal(t, float64(420), info["market_cap_sol"])
	assert.Equal(t, float64(80), info["progress_metric"])
	assert.Equal(t, false, info["target_reached"])
}

func TestPersist_EmptyHolderListStillWritesHeader(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)

	capturedAt := time.Date(2026, 8, 23, 9, 0, 0, 0, time.UTC)
	snap := sampleSnapshot(capturedAt)
	snap.Holders = nil
	snap.HolderCount = 0
	snap.TotalSupplyObserved = 0

	require.NoError(t, store.Persist(snap))

	csvData, err := os.ReadFile(filepath.Join(dir, "snapshot_20260823_090000.csv"))
	require.NoError(t, err)
	assert.Equal(t, "address,balance,timestamp\n", string(csvData))
}

func TestNewStore_CreatesNestedDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out", "snapshots")

	_, err := NewStore(dir)
	require.NoError(t, err)

	stat, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, stat.IsDir())
}
