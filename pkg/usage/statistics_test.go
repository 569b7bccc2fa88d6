package usage

import (
	"testing"
	"time"
)

func TestContinuityDeltaAndReset(t *testing.T) {
	c := NewContinuity()
	if d := c.Delta("cputime", 100); d != 0 {
		t.Fatalf("first sample should yield a zero delta, got %v", d)
	}
	if d := c.Delta("cputime", 150); d != 50 {
		t.Fatalf("expected delta of 50, got %v", d)
	}
	// Counter reset: new value is lower than the last one seen.
	if d := c.Delta("cputime", 10); d != 10 {
		t.Fatalf("expected reset delta to equal the raw value 10, got %v", d)
	}
}

func TestContinuitySnapshotRestore(t *testing.T) {
	c := NewContinuity()
	c.Delta("cputime", 100)
	c.Delta("traffic", 500)

	snap := c.Snapshot()

	restored := NewContinuity()
	restored.Restore(snap)

	if d := restored.Delta("cputime", 130); d != 30 {
		t.Fatalf("expected delta of 30 after restore, got %v", d)
	}
	if d := restored.Delta("traffic", 600); d != 100 {
		t.Fatalf("expected delta of 100 after restore, got %v", d)
	}

	// Mutating the snapshot copy must not affect the original.
	snap["cputime"] = 99999
	if d := c.Delta("cputime", 131); d != 31 {
		t.Fatalf("snapshot mutation leaked into original continuity, got delta %v", d)
	}
}

func TestCombineWeightedMeans(t *testing.T) {
	begin := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := begin.Add(5 * time.Minute)
	records := []Record{
		{Measurements: 2, Usage: Usage{CPUTime: 10, Traffic: 100, Memory: 40, Diskspace: 1000}},
		{Measurements: 1, Usage: Usage{CPUTime: 5, Traffic: 50, Memory: 70, Diskspace: 2000}},
	}
	got := Combine(FiveMinute, begin, end, records)

	if got.Measurements != 3 {
		t.Fatalf("expected 3 measurements, got %d", got.Measurements)
	}
	if got.Usage.CPUTime != 15 {
		t.Errorf("expected cputime sum of 15, got %v", got.Usage.CPUTime)
	}
	if got.Usage.Traffic != 150 {
		t.Errorf("expected traffic sum of 150, got %v", got.Usage.Traffic)
	}
	wantMemory := (40*2 + 70*1) / 3.0
	if got.Usage.Memory != wantMemory {
		t.Errorf("expected memory mean %v, got %v", wantMemory, got.Usage.Memory)
	}
}

func TestCombineZeroMeasurementsIsZeroUsage(t *testing.T) {
	got := Combine(Hour, time.Now(), time.Now(), nil)
	if got.Usage != (Usage{}) {
		t.Fatalf("expected zero usage for an empty combine, got %+v", got.Usage)
	}
}

func TestLastRangeFiveMinuteFloors(t *testing.T) {
	now := time.Date(2026, 3, 4, 10, 37, 12, 0, time.UTC)
	begin, end := LastRange(FiveMinute, now)
	wantEnd := time.Date(2026, 3, 4, 10, 35, 0, 0, time.UTC)
	wantBegin := wantEnd.Add(-5 * time.Minute)
	if !begin.Equal(wantBegin) || !end.Equal(wantEnd) {
		t.Fatalf("got [%v,%v), want [%v,%v)", begin, end, wantBegin, wantEnd)
	}
}

func TestLastRangeMonthUsesPriorMonthStart(t *testing.T) {
	now := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	begin, end := LastRange(Month, now)
	wantEnd := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	wantBegin := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	if !begin.Equal(wantBegin) || !end.Equal(wantEnd) {
		t.Fatalf("got [%v,%v), want [%v,%v)", begin, end, wantBegin, wantEnd)
	}
}

func TestLastRangeYearCrossesDecemberBoundary(t *testing.T) {
	now := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	begin, end := LastRange(Year, now)
	wantEnd := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	wantBegin := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	if !begin.Equal(wantBegin) || !end.Equal(wantEnd) {
		t.Fatalf("got [%v,%v), want [%v,%v)", begin, end, wantBegin, wantEnd)
	}
}

func TestUpdateRetentionPrunesSingleBucket(t *testing.T) {
	s := NewStatistics()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 20; i++ {
		s.Update(base.Add(time.Duration(i)*time.Minute), Sample{CPUTimeTotal: float64(i)})
	}
	singles := s.RecordsOf(Single)
	if len(singles) != KeepRecords[Single] {
		t.Fatalf("expected retention to cap single records at %d, got %d", KeepRecords[Single], len(singles))
	}
	// Kept records must be the most recent ones.
	if !singles[len(singles)-1].Begin.Equal(base.Add(19 * time.Minute)) {
		t.Fatalf("expected the newest single record to survive pruning")
	}
}

func TestUpdatePromotesFiveMinuteBucketOnceWindowCloses(t *testing.T) {
	s := NewStatistics()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	// One sample per minute across a 5-minute window plus a tick into the
	// next window so the first window is fully closed.
	for i := 0; i < 6; i++ {
		s.Update(start.Add(time.Duration(i)*time.Minute), Sample{CPUTimeTotal: float64(i) * 2})
	}

	fives := s.RecordsOf(FiveMinute)
	if len(fives) != 1 {
		t.Fatalf("expected one combined 5-minute record, got %d", len(fives))
	}
	if !fives[0].Begin.Equal(start) || !fives[0].End.Equal(start.Add(5*time.Minute)) {
		t.Fatalf("unexpected bounds [%v,%v)", fives[0].Begin, fives[0].End)
	}
}

func TestUpdatePromotesPartialFirstWindowForMidWindowCreation(t *testing.T) {
	s := NewStatistics()
	created := time.Date(2026, 1, 1, 0, 2, 30, 0, time.UTC)

	// Samples at 02:30, 03:30, 04:30 and 05:30; the 5-minute window
	// [00:00, 05:00) closes at the last tick.
	for i := 0; i < 4; i++ {
		s.Update(created.Add(time.Duration(i)*time.Minute), Sample{})
	}

	fives := s.RecordsOf(FiveMinute)
	if len(fives) != 1 {
		t.Fatalf("expected a partial first 5-minute record, got %d records", len(fives))
	}
	if !fives[0].Begin.Equal(created) {
		t.Errorf("expected the partial window to be clamped to the creation time, got begin %v", fives[0].Begin)
	}
	wantEnd := time.Date(2026, 1, 1, 0, 5, 0, 0, time.UTC)
	if !fives[0].End.Equal(wantEnd) {
		t.Errorf("expected end %v, got %v", wantEnd, fives[0].End)
	}
	if fives[0].Measurements != 3 {
		t.Errorf("expected the 3 in-window samples to be combined, got %d", fives[0].Measurements)
	}
}
