// Package usage implements the accounting rollup: periodic sampling of an
// element or connection's resource consumption into "single" records, and
// their progressive combination into coarser time buckets (5minutes, hour,
// day, month, year) with a bounded number of records retained per bucket.
package usage

import "time"

// BucketType names one of the record granularities a statistics ring keeps.
type BucketType string

const (
	Single     BucketType = "single"
	FiveMinute BucketType = "5minutes"
	Hour       BucketType = "hour"
	Day        BucketType = "day"
	Month      BucketType = "month"
	Year       BucketType = "year"
)

// Types lists every bucket type in promotion order: Single is what the
// sampler writes directly; each later type is combined from the one before
// it.
var Types = []BucketType{Single, FiveMinute, Hour, Day, Month, Year}

// KeepRecords is the number of most-recent records retained per bucket type
// once a statistics ring has been pruned.
var KeepRecords = map[BucketType]int{
	Single:     15,
	FiveMinute: 12,
	Hour:       24,
	Day:        30,
	Month:      12,
	Year:       5,
}

// Usage is one measurement of resource consumption over a period.
// CPUTime and Traffic are cumulative sums of the per-sample deltas observed
// across the period (counters); Memory and Diskspace are measurement-count
// weighted means (gauges).
type Usage struct {
	CPUTime   float64
	Memory    float64
	Diskspace float64
	Traffic   float64
}

// Record is one stored accounting entry for a bucket type and time range.
type Record struct {
	Type         BucketType
	Begin        time.Time
	End          time.Time
	Measurements int
	Usage        Usage
}

func weightedAvg(values []float64, weights []int, totalWeight int) float64 {
	if totalWeight == 0 {
		return 0
	}
	var sum float64
	for i, v := range values {
		sum += v * float64(weights[i])
	}
	return sum / float64(totalWeight)
}

func sum(values []float64) float64 {
	var total float64
	for _, v := range values {
		total += v
	}
	return total
}

// Combine folds a run of finer-grained records spanning [begin, end) into a
// single coarser record. CPUTime and Traffic are summed (they are already
// deltas); Memory and Diskspace are averaged, weighted by each input
// record's Measurements count. A records slice with zero total measurements
// yields a zero Usage rather than dividing by zero.
func Combine(typ BucketType, begin, end time.Time, records []Record) Record {
	measurements := 0
	for _, r := range records {
		measurements += r.Measurements
	}
	if measurements == 0 {
		return Record{Type: typ, Begin: begin, End: end, Measurements: 0, Usage: Usage{}}
	}

	cputimes := make([]float64, len(records))
	diskspaces := make([]float64, len(records))
	memories := make([]float64, len(records))
	traffics := make([]float64, len(records))
	weights := make([]int, len(records))
	for i, r := range records {
		cputimes[i] = r.Usage.CPUTime
		diskspaces[i] = r.Usage.Diskspace
		memories[i] = r.Usage.Memory
		traffics[i] = r.Usage.Traffic
		weights[i] = r.Measurements
	}

	return Record{
		Type:         typ,
		Begin:        begin,
		End:          end,
		Measurements: measurements,
		Usage: Usage{
			CPUTime:   sum(cputimes),
			Diskspace: weightedAvg(diskspaces, weights, measurements),
			Memory:    weightedAvg(memories, weights, measurements),
			Traffic:   sum(traffics),
		},
	}
}

// LastRange returns the most recently completed [begin, end) boundary for a
// bucket type, as of now. FiveMinute/Hour/Day floor to their period; Month
// and Year floor to calendar boundaries in UTC.
func LastRange(typ BucketType, now time.Time) (begin, end time.Time) {
	now = now.UTC()
	switch typ {
	case FiveMinute:
		end = now.Truncate(5 * time.Minute)
		begin = end.Add(-5 * time.Minute)
	case Hour:
		end = now.Truncate(time.Hour)
		begin = end.Add(-time.Hour)
	case Day:
		end = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		begin = end.AddDate(0, 0, -1)
	case Month:
		end = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		begin = end.AddDate(0, -1, 0)
	case Year:
		end = time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
		begin = end.AddDate(-1, 0, 0)
	default:
		end = now
		begin = now
	}
	return begin, end
}

// Continuity tracks the last observed value of each cumulative counter
// metric a statistics ring samples, so successive samples can be turned
// into deltas.
type Continuity struct {
	last map[string]float64
}

// NewContinuity returns an empty Continuity tracker.
func NewContinuity() *Continuity {
	return &Continuity{last: make(map[string]float64)}
}

// Delta returns the increase in a cumulative counter since the previous
// call for the same name. A negative delta means the underlying counter
// was reset (e.g. the host rebooted); in that case the raw value itself is
// taken as the delta, matching the counter having started over from zero.
func (c *Continuity) Delta(name string, value float64) float64 {
	if c.last == nil {
		c.last = make(map[string]float64)
	}
	prev, ok := c.last[name]
	c.last[name] = value
	if !ok {
		return 0
	}
	diff := value - prev
	if diff < 0 {
		return value
	}
	return diff
}

// Snapshot returns a copy of the last-observed-value map, for persisting
// continuity state across process restarts.
func (c *Continuity) Snapshot() map[string]float64 {
	out := make(map[string]float64, len(c.last))
	for k, v := range c.last {
		out[k] = v
	}
	return out
}

// Restore replaces the last-observed-value map with a previously saved
// snapshot, so a sampler resuming after a restart doesn't report the first
// post-restart sample as a full-counter delta.
func (c *Continuity) Restore(values map[string]float64) {
	c.last = make(map[string]float64, len(values))
	for k, v := range values {
		c.last[k] = v
	}
}
