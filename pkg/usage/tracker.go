package usage

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Meter collects one accounting Sample for a single owner (an element or a
// connection) at tick time. Implementations talk to the host driver; a
// meter returning an error skips that owner for this tick without
// disturbing its accounting ring.
type Meter interface {
	Sample(owner uuid.UUID) (Sample, error)
}

// Tracker holds one Statistics ring per accounted owner and drives every
// ring's Update on each sampler tick.
type Tracker struct {
	mu    sync.Mutex
	rings map[uuid.UUID]*Statistics
}

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{rings: make(map[uuid.UUID]*Statistics)}
}

// Ring returns the Statistics for owner, creating one on first use.
func (t *Tracker) Ring(owner uuid.UUID) *Statistics {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.rings[owner]
	if !ok {
		r = NewStatistics()
		t.rings[owner] = r
	}
	return r
}

// Forget discards an owner's accounting ring; the next Ring call for that
// owner starts a fresh one.
func (t *Tracker) Forget(owner uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.rings, owner)
}

// Tick samples every owner and feeds the reading into its ring. Meter
// errors are collected per-owner rather than aborting the whole tick, since
// one unreachable driver must not block accounting for every other owner.
func (t *Tracker) Tick(now time.Time, owners []uuid.UUID, meter Meter) map[uuid.UUID]error {
	errs := make(map[uuid.UUID]error)
	for _, owner := range owners {
		sample, err := meter.Sample(owner)
		if err != nil {
			errs[owner] = err
			continue
		}
		t.Ring(owner).Update(now, sample)
	}
	return errs
}

// Combine aggregates the most recent "single" usage across a set of owners
// (an info-time snapshot: counter deltas summed, gauges averaged by
// measurement count), mirroring a topology's totalUsage: the
// combination of every element and connection it currently holds.
func (t *Tracker) Combine(owners []uuid.UUID) Usage {
	return t.combineLatestSingles(owners).Usage
}

// combineLatestSingles gathers the newest "single" record from each owner's
// ring and folds them with Combine's cumulative-sum/weighted-mean rules,
// the same arithmetic a coarser-bucket promotion uses.
func (t *Tracker) combineLatestSingles(owners []uuid.UUID) Record {
	t.mu.Lock()
	latest := make([]Record, 0, len(owners))
	for _, owner := range owners {
		ring, ok := t.rings[owner]
		if !ok {
			continue
		}
		singles := ring.RecordsOf(Single)
		if len(singles) == 0 {
			continue
		}
		latest = append(latest, singles[len(singles)-1])
	}
	t.mu.Unlock()
	return Combine(Single, time.Time{}, time.Time{}, latest)
}

// CombineInto folds the latest single record of every owner into one
// combined Usage and absorbs it as aggregateOwner's own newest single
// sample, promoting and pruning aggregateOwner's ring exactly as a direct
// Update would. This is how a Topology's totalUsage ring is kept current:
// aggregateOwner is the topology's own id, and owners are everything
// AccountedOwners currently reports for it.
func (t *Tracker) CombineInto(now time.Time, aggregateOwner uuid.UUID, owners []uuid.UUID) Record {
	combined := t.combineLatestSingles(owners)
	return t.Ring(aggregateOwner).Absorb(now, combined.Measurements, combined.Usage)
}
