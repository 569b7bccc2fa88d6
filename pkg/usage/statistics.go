package usage

import (
	"sort"
	"time"
)

// Sample is one tick's raw readings for an accounted element or connection.
// CPUTimeTotal and TrafficTotal are cumulative, ever-increasing counters as
// reported by the host; Memory and Diskspace are instantaneous gauges.
type Sample struct {
	CPUTimeTotal float64
	TrafficTotal float64
	Memory       float64
	Diskspace    float64
}

// Statistics is the accounting ring for a single element or connection: the
// continuation state needed to turn counter readings into deltas, and the
// growing, periodically pruned set of records across every bucket type.
type Statistics struct {
	Begin      time.Time
	started    bool
	Records    []Record
	Continuity *Continuity
}

// NewStatistics returns an empty accounting ring.
func NewStatistics() *Statistics {
	return &Statistics{Continuity: NewContinuity()}
}

// Update samples one tick, appends the resulting "single" record, then
// promotes any newly-completed coarser buckets and prunes each bucket type
// back down to its retention limit.
func (s *Statistics) Update(now time.Time, sample Sample) Record {
	return s.Absorb(now, 1, Usage{
		CPUTime:   s.Continuity.Delta("cputime", sample.CPUTimeTotal),
		Traffic:   s.Continuity.Delta("traffic", sample.TrafficTotal),
		Memory:    sample.Memory,
		Diskspace: sample.Diskspace,
	})
}

// Absorb appends an already-computed Usage as this ring's newest "single"
// record, then runs the same promotion/retention pass Update does. Unlike
// Update, it bypasses Continuity: it's the entry point for a Topology's own
// totalUsage ring, whose "single" samples are themselves already the
// combined output of its elements' and connections' latest singles, not
// raw counter readings needing a cumulative-to-delta conversion.
func (s *Statistics) Absorb(now time.Time, measurements int, u Usage) Record {
	if !s.started {
		s.Begin = now
		s.started = true
	}
	rec := Record{
		Type:         Single,
		Begin:        now,
		End:          now,
		Measurements: measurements,
		Usage:        u,
	}
	s.Records = append(s.Records, rec)
	s.promote(now)
	s.removeOld()
	return rec
}

// promote walks the bucket types coarser than Single in order, combining
// finer records into a new coarser one whenever a period has fully closed
// and hasn't already been combined. A window that opened before the entity
// existed is clamped to the entity's creation time, so an entity created
// mid-window still gets a partial first record for that window. The walk
// stops once a window closed before the entity was even created, since
// every coarser window closes no later.
func (s *Statistics) promote(now time.Time) {
	for i := 1; i < len(Types); i++ {
		typ := Types[i]
		finer := Types[i-1]

		begin, end := LastRange(typ, now)
		if s.Begin.After(end) {
			return
		}
		if begin.Before(s.Begin) {
			begin = s.Begin
		}
		if s.hasRecord(typ, begin) {
			continue
		}
		finerRecords := s.recordsInRange(finer, begin, end)
		if len(finerRecords) == 0 {
			continue
		}
		s.Records = append(s.Records, Combine(typ, begin, end, finerRecords))
	}
}

func (s *Statistics) hasRecord(typ BucketType, begin time.Time) bool {
	for _, r := range s.Records {
		if r.Type == typ && r.Begin.Equal(begin) {
			return true
		}
	}
	return false
}

func (s *Statistics) recordsInRange(typ BucketType, begin, end time.Time) []Record {
	var out []Record
	for _, r := range s.Records {
		if r.Type != typ {
			continue
		}
		if r.Begin.Before(begin) || !r.Begin.Before(end) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// removeOld prunes each bucket type back down to KeepRecords[type], keeping
// the most recent records (by Begin) and discarding the rest.
func (s *Statistics) removeOld() {
	byType := make(map[BucketType][]Record, len(Types))
	for _, r := range s.Records {
		byType[r.Type] = append(byType[r.Type], r)
	}

	var kept []Record
	for _, typ := range Types {
		records := byType[typ]
		sort.Slice(records, func(i, j int) bool { return records[i].Begin.After(records[j].Begin) })
		limit := KeepRecords[typ]
		if limit < len(records) {
			records = records[:limit]
		}
		kept = append(kept, records...)
	}
	s.Records = kept
}

// RecordsOf returns every retained record of the given bucket type, ordered
// oldest first.
func (s *Statistics) RecordsOf(typ BucketType) []Record {
	var out []Record
	for _, r := range s.Records {
		if r.Type == typ {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Begin.Before(out[j].Begin) })
	return out
}
