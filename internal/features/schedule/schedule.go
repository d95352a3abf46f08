package schedule

// Package schedule decides how soon the next snapshot attempt should happen
// from the latest progress metric. Bands are data, not code: each mode is an
// ordered table of (bound, interval) pairs evaluated from closest-to-target
// to furthest, first match wins. Decide is stateless and re-evaluated every
// tick, so a market cap that dips back down immediately relaxes the cadence.

import (
	"time"

	"github.com/nobodyspecial333/MintRewardsSnapshotTool/internal/config"
)

// IdleRecheckInterval is how often progress is re-polled while the percentage
// table sits below its lowest band, where no periodic snapshots are taken.
const IdleRecheckInterval = time.Hour

// Decision is produced fresh on every Decide call and never mutated.
// TakeSnapshot is false only in the percentage table's below-85% band, where
// the loop keeps polling progress without capturing snapshots.
type Decision struct {
	Interval     time.Duration
	TakeSnapshot bool
	Stop         bool
}

// Band pairs an inclusive bound (toward the target) with the snapshot
// interval used while the metric is inside it.
type Band struct {
	Bound    float64
	Interval time.Duration
}

// Table is one scheduling policy. closerIsHigher selects the comparison
// direction: percentage metrics grow toward the target, proximity metrics
// shrink toward it.
type Table struct {
	closerIsHigher bool
	stopBound      float64
	bands          []Band
	fallback       Decision
}

// PercentageTable keys on percentage-to-target. Below 85% only the initial
// snapshot is taken; progress is still re-polled at IdleRecheckInterval.
func PercentageTable() Table {
	return Table{
		closerIsHigher: true,
		stopBound:      100,
		bands: []Band{
			{Bound: 99, Interval: 5 * time.Minute},
			{Bound: 97, Interval: 30 * time.Minute},
			{Bound: 95, Interval: time.Hour},
			{Bound: 90, Interval: 4 * time.Hour},
			{Bound: 85, Interval: 24 * time.Hour},
		},
		fallback: Decision{Interval: IdleRecheckInterval, TakeSnapshot: false},
	}
}

// ProximityTable keys on absolute SOL remaining to the target.
func ProximityTable() Table {
	return Table{
		closerIsHigher: false,
		stopBound:      0,
		bands: []Band{
			{Bound: 10, Interval: time.Minute},
			{Bound: 50, Interval: 5 * time.Minute},
			{Bound: 100, Interval: 15 * time.Minute},
		},
		fallback: Decision{Interval: time.Hour, TakeSnapshot: true},
	}
}

// TableForMode maps a configured mode to its band table.
func TableForMode(mode string) Table {
	if mode == config.ModePercentage {
		return PercentageTable()
	}
	return ProximityTable()
}

// Decide maps the metric to the duration until the next snapshot attempt.
// Stop is true once the metric indicates the target has been met or exceeded;
// the caller still performs one final snapshot before honoring it.
func (t Table) Decide(metric float64) Decision {
	if t.reached(metric) {
		return Decision{TakeSnapshot: true, Stop: true}
	}

	for _, band := range t.bands {
		if t.within(metric, band.Bound) {
			return Decision{Interval: band.Interval, TakeSnapshot: true}
		}
	}

	return t.fallback
}

func (t Table) reached(metric float64) bool {
	if t.closerIsHigher {
		return metric >= t.stopBound
	}
	return metric <= t.stopBound
}

func (t Table) within(metric, bound float64) bool {
	if t.closerIsHigher {
		return metric >= bound
	}
	return metric <= bound
}
