package snapshot

import (
	"context"
	"errors"
	"time"

	"github.com/nobodyspecial333/MintRewardsSnapshotTool/internal/clients_api/markets"
	"github.com/nobodyspecial333/MintRewardsSnapshotTool/internal/clients_api/solanarpc"
	"github.com/nobodyspecial333/MintRewardsSnapshotTool/internal/features/aggregate"
	"github.com/nobodyspecial333/MintRewardsSnapshotTool/internal/features/schedule"
	"github.com/nobodyspecial333/MintRewardsSnapshotTool/internal/infra/log"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

// ProgressRetryInterval is the coarse cadence used when the progress source
// itself fails. Progress-check failures never abort the process.
const ProgressRetryInterval = time.Hour

// Monitor is the orchestration loop. One cooperative thread of control: no
// concurrent snapshot attempts, no shared mutable state. Cancellation is
// checked at every state transition, at minimum before each sleep.
type Monitor struct {
	mint     string
	table    schedule.Table
	progress ProgressSource
	fetcher  HolderFetcher
	sink     Sink
	opts     aggregate.Options

	retryInterval time.Duration
	state         State

	// sleep is replaceable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewMonitor wires the collaborators into a monitor ready to Run.
func NewMonitor(mint string, table schedule.Table, progress ProgressSource, fetcher HolderFetcher, sink Sink, opts aggregate.Options) *Monitor {
	return &Monitor{
		mint:          mint,
		table:         table,
		progress:      progress,
		fetcher:       fetcher,
		sink:          sink,
		opts:          opts,
		retryInterval: ProgressRetryInterval,
		state:         StateIdle,
		sleep:         ctxSleep,
	}
}

// State reports the monitor's current position in the cycle.
func (m *Monitor) State() State {
	return m.state
}

func (m *Monitor) transition(next State) {
	log.LogDebug("Monitor state transition",
		zap.String("from", m.state.String()),
		zap.String("to", next.String()))
	m.state = next
}

// Run executes the tick cycle until the target is reached or ctx is
// cancelled. The first snapshot is unconditional: issuers want a baseline
// record no matter how far the token is from the target.
func (m *Monitor) Run(ctx context.Context) error {
	log.LogSuccess("Snapshot monitor started", zap.String("mint", m.mint))

	m.takeBaseline(ctx)

	for {
		if err := ctx.Err(); err != nil {
			m.transition(StateStopped)
			return err
		}

		m.transition(StatePolling)
		reading, err := m.progress.Current(ctx)
		if err != nil {
			log.LogError("Progress check failed, retrying on slow cadence",
				zap.Duration("retry_in", m.retryInterval),
				zap.Error(err))
			if err := m.pause(ctx, m.retryInterval); err != nil {
				return err
			}
			continue
		}

		decision := m.table.Decide(reading.Metric)
		log.LogInfo("Schedule decision",
			zap.Float64("metric", reading.Metric),
			zap.Duration("interval", decision.Interval),
			zap.Bool("take_snapshot", decision.TakeSnapshot),
			zap.Bool("stop", decision.Stop))

		if decision.TakeSnapshot || decision.Stop {
			captured := m.captureAndPersist(ctx, reading, decision.Stop)
			if ctx.Err() != nil {
				m.transition(StateStopped)
				return ctx.Err()
			}
			if decision.Stop && !captured {
				// The final snapshot is the whole point of the run; keep
				// trying on the slow cadence instead of stopping without it.
				if err := m.pause(ctx, m.retryInterval); err != nil {
					return err
				}
				continue
			}
		}

		if decision.Stop {
			m.transition(StateStopped)
			log.LogSuccess("Target reached, final snapshot saved, monitoring stopped",
				zap.Float64("metric", reading.Metric))
			return nil
		}

		if err := m.pause(ctx, decision.Interval); err != nil {
			return err
		}
	}
}

// takeBaseline captures the unconditional startup snapshot. A failed progress
// read does not block it: the baseline is persisted with a zero reading.
func (m *Monitor) takeBaseline(ctx context.Context) {
	m.transition(StatePolling)

	reading, err := m.progress.Current(ctx)
	targetReached := false
	if err != nil {
		log.LogWarn("Progress check failed for baseline snapshot, capturing without it", zap.Error(err))
		reading = markets.ProgressReading{ObservedAt: time.Now().UTC()}
	} else {
		targetReached = m.table.Decide(reading.Metric).Stop
	}

	log.LogInfo("Taking baseline snapshot", zap.Float64("metric", reading.Metric))
	m.captureAndPersist(ctx, reading, targetReached)
}

// captureAndPersist runs one Fetching→Persisting pass. Returns false when the
// cycle was skipped: fetch exhaustion and persist failures are logged, never
// fatal, and a partial snapshot is never handed to the sink.
func (m *Monitor) captureAndPersist(ctx context.Context, reading markets.ProgressReading, targetReached bool) bool {
	m.transition(StateFetching)

	raw, err := m.fetcher.FetchAllHolders(ctx, m.mint)
	if err != nil {
		if errors.Is(err, solanarpc.ErrEndpointsExhausted) {
			log.LogError("Holder fetch exhausted all endpoints, skipping this cycle", zap.Error(err))
		} else {
			log.LogError("Holder fetch failed, skipping this cycle", zap.Error(err))
		}
		return false
	}

	result := aggregate.Aggregate(raw, m.opts)
	snap := &Snapshot{
		Holders:             result.Holders,
		TotalSupplyObserved: result.TotalSupplyObserved,
		HolderCount:         result.HolderCount,
		Progress:            reading,
		TargetReached:       targetReached,
		CapturedAt:          time.Now().UTC(),
	}

	m.transition(StatePersisting)
	if err := m.sink.Persist(snap); err != nil {
		log.LogError("Failed to persist snapshot", zap.Error(err))
		return false
	}

	log.LogSuccess("Snapshot saved",
		zap.Int("holders", snap.HolderCount),
		zap.String("total_supply", humanize.Comma(int64(snap.TotalSupplyObserved))),
		zap.Float64("metric", reading.Metric),
		zap.Bool("target_reached", targetReached))
	return true
}

// pause is the Sleeping state. The stop signal cuts a sleep short; a long
// scheduler interval must never delay shutdown.
func (m *Monitor) pause(ctx context.Context, d time.Duration) error {
	m.transition(StateSleeping)
	if err := m.sleep(ctx, d); err != nil {
		m.transition(StateStopped)
		return err
	}
	return nil
}

func ctxSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
