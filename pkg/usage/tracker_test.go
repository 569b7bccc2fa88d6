package usage

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

type constMeter struct {
	sample Sample
	err    error
}

func (m constMeter) Sample(uuid.UUID) (Sample, error) { return m.sample, m.err }

func TestTrackerTickUpdatesRingsAndCollectsErrors(t *testing.T) {
	tracker := NewTracker()
	a, b := uuid.New(), uuid.New()

	errs := tracker.Tick(time.Now(), []uuid.UUID{a, b}, constMeter{sample: Sample{CPUTimeTotal: 5}})
	if len(errs) != 0 {
		t.Fatalf("expected no errors, got %v", errs)
	}
	if len(tracker.Ring(a).Records) != 1 {
		t.Fatalf("expected one record for owner a")
	}
	if len(tracker.Ring(b).Records) != 1 {
		t.Fatalf("expected one record for owner b")
	}
}

func TestTrackerForgetDropsRing(t *testing.T) {
	tracker := NewTracker()
	a := uuid.New()
	tracker.Ring(a).Update(time.Now(), Sample{})
	tracker.Forget(a)

	fresh := tracker.Ring(a)
	if len(fresh.Records) != 0 {
		t.Fatalf("expected a fresh ring after Forget, got %d records", len(fresh.Records))
	}
}

func TestTrackerCombineAveragesLatestSingleGauges(t *testing.T) {
	tracker := NewTracker()
	a, b := uuid.New(), uuid.New()
	tracker.Ring(a).Update(time.Now(), Sample{Memory: 10, Diskspace: 100})
	tracker.Ring(b).Update(time.Now(), Sample{Memory: 20, Diskspace: 200})

	got := tracker.Combine([]uuid.UUID{a, b})
	if got.Memory != 15 {
		t.Errorf("expected measurement-weighted mean memory 15, got %v", got.Memory)
	}
	if got.Diskspace != 150 {
		t.Errorf("expected measurement-weighted mean diskspace 150, got %v", got.Diskspace)
	}
}

func TestTrackerCombineIntoRecordsAggregateOwnerRing(t *testing.T) {
	tracker := NewTracker()
	elementA, elementB, topo := uuid.New(), uuid.New(), uuid.New()
	now := time.Now()

	// A counter's first reading has no previous value and yields no delta,
	// so prime each counter one tick earlier.
	tracker.Ring(elementA).Update(now.Add(-time.Minute), Sample{CPUTimeTotal: 0, Memory: 100})
	tracker.Ring(elementB).Update(now.Add(-time.Minute), Sample{CPUTimeTotal: 0, Memory: 300})
	tracker.Ring(elementA).Update(now, Sample{CPUTimeTotal: 10, Memory: 100})
	tracker.Ring(elementB).Update(now, Sample{CPUTimeTotal: 20, Memory: 300})

	rec := tracker.CombineInto(now, topo, []uuid.UUID{elementA, elementB})
	if rec.Usage.CPUTime != 30 {
		t.Errorf("expected combined cputime 30, got %v", rec.Usage.CPUTime)
	}
	if rec.Usage.Memory != 200 {
		t.Errorf("expected measurement-weighted mean memory 200, got %v", rec.Usage.Memory)
	}
	if rec.Measurements != 2 {
		t.Errorf("expected 2 measurements (one element each), got %d", rec.Measurements)
	}

	topoRing := tracker.Ring(topo)
	if len(topoRing.RecordsOf(Single)) != 1 {
		t.Fatalf("expected CombineInto to have recorded one single for the aggregate owner")
	}

	// A second tick with a fresh element reading should absorb into the
	// same aggregate ring rather than overwrite the first sample.
	later := now.Add(time.Minute)
	tracker.Ring(elementA).Update(later, Sample{CPUTimeTotal: 15, Memory: 100})
	tracker.Ring(elementB).Update(later, Sample{CPUTimeTotal: 25, Memory: 300})
	tracker.CombineInto(later, topo, []uuid.UUID{elementA, elementB})

	if len(topoRing.RecordsOf(Single)) != 2 {
		t.Fatalf("expected two accumulated singles on the aggregate ring after a second tick")
	}
}
