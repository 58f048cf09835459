package pqhybrid

import (
	"math"
	"sort"
	"time"
)

// A Sample is one measured operation. Samples are immutable once recorded.
type Sample struct {
	Algorithm   string        `cbor:"alg" json:"alg"`
	Operation   Operation     `cbor:"op" json:"op"`
	Iteration   int           `cbor:"i" json:"i"`
	Duration    time.Duration `cbor:"duration_ns" json:"duration_ns"`
	MemoryDelta int64         `cbor:"mem_delta" json:"mem_delta"`
	OK          bool          `cbor:"ok" json:"ok"`
	Err         string        `cbor:"err,omitempty" json:"err,omitempty"`
}

// Summary holds the statistics of one algorithm/operation pair. Timing
// statistics cover successful samples only.
type Summary struct {
	Algorithm string    `cbor:"alg" json:"alg"`
	Operation Operation `cbor:"op" json:"op"`
	Count     int       `cbor:"count" json:"count"`
	Failures  int       `cbor:"failures" json:"failures"`

	Mean   time.Duration `cbor:"mean_ns" json:"mean_ns"`
	StdDev time.Duration `cbor:"stddev_ns" json:"stddev_ns"`
	Min    time.Duration `cbor:"min_ns" json:"min_ns"`
	Max    time.Duration `cbor:"max_ns" json:"max_ns"`
	Median time.Duration `cbor:"median_ns" json:"median_ns"`
	P95    time.Duration `cbor:"p95_ns" json:"p95_ns"`
	// CV is the coefficient of variation, StdDev / Mean.
	CV float64 `cbor:"cv" json:"cv"`

	MeanMemoryDelta float64 `cbor:"mem_mean" json:"mem_mean"`
	MaxMemoryDelta  int64   `cbor:"mem_max" json:"mem_max"`

	PossibleTimingLeak bool `cbor:"possible_timing_leak" json:"possible_timing_leak"`
}

// ReportKey returns the key of an algorithm/operation pair in a Report.
func ReportKey(alg string, op Operation) string {
	return alg + "/" + string(op)
}

// Report maps "algorithm/operation" keys to summary statistics.
type Report struct {
	Summaries  map[string]*Summary `cbor:"summaries" json:"summaries"`
	Advisories []*TimingAdvisory   `cbor:"advisories,omitempty" json:"advisories,omitempty"`
}

// NewReport creates an empty report.
func NewReport() *Report {
	return &Report{Summaries: make(map[string]*Summary)}
}

// Merge adds every summary and advisory of o to r. Summaries of o replace
// summaries of r with the same key.
func (r *Report) Merge(o *Report) {
	if o == nil {
		return
	}
	for k, s := range o.Summaries {
		r.Summaries[k] = s
	}
	r.Advisories = append(r.Advisories, o.Advisories...)
}

// Keys returns the report keys in sorted order.
func (r *Report) Keys() []string {
	keys := make([]string, 0, len(r.Summaries))
	for k := range r.Summaries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Get returns the summary of an algorithm/operation pair.
func (r *Report) Get(alg string, op Operation) (*Summary, bool) {
	s, ok := r.Summaries[ReportKey(alg, op)]
	return s, ok
}

// summarize computes statistics over samples.
func summarize(alg string, op Operation, samples []Sample) *Summary {
	s := &Summary{Algorithm: alg, Operation: op, Count: len(samples)}

	durations := make([]float64, 0, len(samples))
	var memSum float64
	for _, smp := range samples {
		if !smp.OK {
			s.Failures++
			continue
		}
		durations = append(durations, float64(smp.Duration))
		memSum += float64(smp.MemoryDelta)
		if len(durations) == 1 || smp.MemoryDelta > s.MaxMemoryDelta {
			s.MaxMemoryDelta = smp.MemoryDelta
		}
	}
	n := len(durations)
	if n == 0 {
		return s
	}

	sort.Float64s(durations)
	var sum float64
	for _, d := range durations {
		sum += d
	}
	mean := sum / float64(n)

	var sq float64
	for _, d := range durations {
		sq += (d - mean) * (d - mean)
	}
	var stddev float64
	if n > 1 {
		stddev = math.Sqrt(sq / float64(n-1))
	}

	s.Mean = time.Duration(mean)
	s.StdDev = time.Duration(stddev)
	s.Min = time.Duration(durations[0])
	s.Max = time.Duration(durations[n-1])
	s.Median = time.Duration(percentile(durations, 50))
	s.P95 = time.Duration(percentile(durations, 95))
	if mean > 0 {
		s.CV = stddev / mean
	}
	s.MeanMemoryDelta = memSum / float64(n)
	return s
}

// percentile returns the p-th percentile (0-100) of sorted values using
// linear interpolation.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}
	rank := (p / 100) * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := lower + 1
	if upper >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	frac := rank - float64(lower)
	return sorted[lower]*(1-frac) + sorted[upper]*frac
}

// A Drift is a report key whose mean differs between two reports by more
// than the tolerance, or which is present in only one of them.
type Drift struct {
	Key      string
	MeanA    time.Duration
	MeanB    time.Duration
	Relative float64
	Missing  bool
}

// CompareReports returns the keys whose means differ by more than tolerance,
// relative to a's mean. An empty result means the reports agree.
func CompareReports(a, b *Report, tolerance float64) []Drift {
	var out []Drift
	for _, k := range a.Keys() {
		sa := a.Summaries[k]
		sb, ok := b.Summaries[k]
		if !ok {
			out = append(out, Drift{Key: k, MeanA: sa.Mean, Missing: true})
			continue
		}
		rel := relativeDiff(sa.Mean, sb.Mean)
		if rel > tolerance {
			out = append(out, Drift{Key: k, MeanA: sa.Mean, MeanB: sb.Mean, Relative: rel})
		}
	}
	for _, k := range b.Keys() {
		if _, ok := a.Summaries[k]; !ok {
			out = append(out, Drift{Key: k, MeanB: b.Summaries[k].Mean, Missing: true})
		}
	}
	return out
}

func relativeDiff(a, b time.Duration) float64 {
	if a == b {
		return 0
	}
	if a == 0 {
		return math.Inf(1)
	}
	return math.Abs(float64(b-a)) / float64(a)
}
