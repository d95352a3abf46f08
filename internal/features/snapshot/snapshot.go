package snapshot

// Package snapshot drives the capture cycle: poll progress, ask the scheduler
// what to do, fetch and aggregate holders when due, hand the result to the
// persistence sink, sleep, repeat until the target is reached.

import (
	"context"
	"time"

	"github.com/nobodyspecial333/MintRewardsSnapshotTool/internal/clients_api/markets"
	"github.com/nobodyspecial333/MintRewardsSnapshotTool/internal/clients_api/solanarpc"
	"github.com/nobodyspecial333/MintRewardsSnapshotTool/internal/features/aggregate"
)

// Snapshot is the immutable unit handed to the persistence sink: the
// aggregated holder list plus the progress context it was captured under.
type Snapshot struct {
	Holders             []aggregate.Holder
	TotalSupplyObserved uint64
	HolderCount         int
	Progress            markets.ProgressReading
	TargetReached       bool
	CapturedAt          time.Time
}

// ProgressSource reports the token's current progress toward the target.
type ProgressSource interface {
	Current(ctx context.Context) (markets.ProgressReading, error)
}

// HolderFetcher returns the raw per-account balance records for a mint.
type HolderFetcher interface {
	FetchAllHolders(ctx context.Context, mint string) ([]solanarpc.HolderRecord, error)
}

// Sink persists a completed snapshot.
type Sink interface {
	Persist(snap *Snapshot) error
}

// State names the monitor's position in the tick cycle.
type State int

const (
	StateIdle State = iota
	StatePolling
	StateFetching
	StatePersisting
	StateSleeping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	case StateFetching:
		return "fetching"
	case StatePersisting:
		return "persisting"
	case StateSleeping:
		return "sleeping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
