package fs

// Package fs is the persistence sink. Each completed snapshot becomes two
// artifacts named by capture time: a CSV listing one holder per row and an
// info JSON with the capture metadata.

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nobodyspecial333/MintRewardsSnapshotTool/internal/features/snapshot"
	"github.com/nobodyspecial333/MintRewardsSnapshotTool/internal/infra/log"

	"go.uber.org/zap"
)

// Store writes snapshot artifacts into one directory.
type Store struct {
	dir string
}

// NewStore creates the snapshot directory if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// snapshotInfo is the metadata artifact written next to each CSV.
type snapshotInfo struct {
	Timestamp      string  `json:"timestamp"`
	TotalHolders   int     `json:"total_holders"`
	TotalSupply    uint64  `json:"total_supply"`
	MarketCapSOL   float64 `json:"market_cap_sol"`
	ProgressMetric float64 `json:"progress_metric"`
	SolVolume      float64 `json:"sol_volume"`
	TargetReached  bool    `json:"target_reached"`
}

// Persist writes snapshot_YYYYMMDD_HHMMSS.csv and the matching _info.json.
// Holders arrive already deduplicated and deterministically ordered.
func (s *Store) Persist(snap *snapshot.Snapshot) error {
	stamp := snap.CapturedAt.Format("20060102_150405")
	base := filepath.Join(s.dir, "snapshot_"+stamp)

	csvPath := base + ".csv"
	if err := os.WriteFile(csvPath, []byte(renderCSV(snap)), 0644); err != nil {
		return fmt.Errorf("failed to save snapshot CSV: %w", err)
	}

	info := snapshotInfo{
		Timestamp:      snap.CapturedAt.Format(time.RFC3339),
		TotalHolders:   snap.HolderCount,
		TotalSupply:    snap.TotalSupplyObserved,
		MarketCapSOL:   snap.Progress.MarketCapSOL,
		ProgressMetric: snap.Progress.Metric,
		SolVolume:      snap.Progress.SolVolume,
		TargetReached:  snap.TargetReached,
	}

	jsonData, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot info: %w", err)
	}

	infoPath := base + "_info.json"
	if err := os.WriteFile(infoPath, jsonData, 0644); err != nil {
		return fmt.Errorf("failed to save snapshot info: %w", err)
	}

	log.LogInfo("Snapshot artifacts written",
		zap.String("csv", csvPath),
		zap.String("info", infoPath),
		zap.Int("holders", snap.HolderCount))

	return nil
}

// renderCSV renders the holder list: one row per holder with the capture
// timestamp repeated, matching the tool's historical artifact layout.
func renderCSV(snap *snapshot.Snapshot) string {
	var sb strings.Builder

	timestamp := snap.CapturedAt.Format(time.RFC3339)

	sb.WriteString("address,balance,timestamp\n")
	for _, holder := range snap.Holders {
		sb.WriteString(fmt.Sprintf("%s,%d,%s\n", holder.Address, holder.Balance, timestamp))
	}

	return sb.String()
}
