// Package metrics provides the two small sampling utilities the merge node
// uses to watch its own load over time and expose it both as plain typed
// accessors and as Prometheus collectors: ValueTimeTracker (a bounded
// sliding-window resampler, spec §4.10) and SysUsage (CPU/memory/network
// readings off /proc, spec §4.10). Grounded in original_source's
// ValueTimeTracker (only its unit test survives in the retrieved sources;
// behavior here is reconstructed from TestValueTimeTracker.cc's use of
// push/getResampleValue/getResampleValueExhaust) and SysUsage.{h,cc}.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type sample struct {
	at    time.Time
	value float64
}

// ValueTimeTracker keeps a sliding window of the last keepDuration worth of
// pushed samples and can resample that window into N equal-width buckets.
// Grounded in original_source's ValueTimeTracker; GetResampleValue and
// GetResampleValueExhaust are two independently shaped implementations
// (indexed-bucket vs. per-bucket scan) kept deliberately separate so the
// property test in valuetimetracker_test.go can cross-check them, the
// same role the original's getResampleValue/getResampleValueExhaust pair
// plays in TestValueTimeTracker.cc.
type ValueTimeTracker struct {
	mu           sync.Mutex
	keepDuration time.Duration
	samples      []sample

	desc *prometheus.Desc
	name string
}

// NewValueTimeTracker creates a tracker that retains pushed samples for
// keepDurationSec seconds.
func NewValueTimeTracker(name string, keepDurationSec float64) *ValueTimeTracker {
	return &ValueTimeTracker{
		keepDuration: time.Duration(keepDurationSec * float64(time.Second)),
		desc: prometheus.NewDesc(
			"mcrt_dataio_"+name,
			"Resampled average of values pushed to the "+name+" tracker over its keep window.",
			nil, nil,
		),
		name: name,
	}
}

// GetValueKeepDurationSec returns the configured window length in seconds.
func (t *ValueTimeTracker) GetValueKeepDurationSec() float64 {
	return t.keepDuration.Seconds()
}

// Push appends v timestamped now and evicts every sample older than the
// keep duration.
func (t *ValueTimeTracker) Push(v float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	t.samples = append(t.samples, sample{at: now, value: v})
	t.evictLocked(now)
}

func (t *ValueTimeTracker) evictLocked(now time.Time) {
	cutoff := now.Add(-t.keepDuration)
	i := 0
	for i < len(t.samples) && t.samples[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		t.samples = append([]sample(nil), t.samples[i:]...)
	}
}

// GetResampleValue returns a size-n slice of per-bucket averages covering
// the window [now-keepDuration, now], time step keepDuration/n. An empty
// bucket (no samples fell in it) reports 0. This implementation buckets by
// direct index computation, one pass over the samples.
func (t *ValueTimeTracker) GetResampleValue(n int) []float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.resampleIndexedLocked(n, time.Now())
}

func (t *ValueTimeTracker) resampleIndexedLocked(n int, now time.Time) []float64 {
	if n <= 0 {
		return nil
	}
	sums := make([]float64, n)
	counts := make([]int, n)

	windowStart := now.Add(-t.keepDuration)
	bucketWidth := t.keepDuration / time.Duration(n)

	for _, s := range t.samples {
		if s.at.Before(windowStart) || s.at.After(now) {
			continue
		}
		idx := int(s.at.Sub(windowStart) / bucketWidth)
		if idx < 0 {
			idx = 0
		}
		if idx >= n {
			idx = n - 1
		}
		sums[idx] += s.value
		counts[idx]++
	}

	out := make([]float64, n)
	for i := range out {
		if counts[i] > 0 {
			out[i] = sums[i] / float64(counts[i])
		}
	}
	return out
}

// GetResampleValueExhaust computes the same size-n bucket averages as
// GetResampleValue but by iterating buckets in the outer loop and scanning
// every sample per bucket, an intentionally independent shape used only to
// cross-check GetResampleValue (spec §8 property 6).
func (t *ValueTimeTracker) GetResampleValueExhaust(n int) []float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.resampleExhaustLocked(n, time.Now())
}

func (t *ValueTimeTracker) resampleExhaustLocked(n int, now time.Time) []float64 {
	if n <= 0 {
		return nil
	}
	windowStart := now.Add(-t.keepDuration)
	bucketWidth := t.keepDuration / time.Duration(n)

	out := make([]float64, n)
	for i := 0; i < n; i++ {
		bucketStart := windowStart.Add(time.Duration(i) * bucketWidth)
		bucketEnd := bucketStart.Add(bucketWidth)
		if i == n-1 {
			bucketEnd = now
		}

		var sum float64
		var count int
		for _, s := range t.samples {
			if s.at.Before(bucketStart) {
				continue
			}
			if s.at.After(bucketEnd) {
				continue
			}
			sum += s.value
			count++
		}
		if count > 0 {
			out[i] = sum / float64(count)
		}
	}
	return out
}

// Describe implements prometheus.Collector.
func (t *ValueTimeTracker) Describe(descs chan<- *prometheus.Desc) {
	descs <- t.desc
}

// Collect implements prometheus.Collector, reporting the current window's
// single-bucket average (equivalent to GetResampleValue(1)[0]).
func (t *ValueTimeTracker) Collect(out chan<- prometheus.Metric) {
	vals := t.GetResampleValue(1)
	var v float64
	if len(vals) == 1 {
		v = vals[0]
	}
	out <- prometheus.MustNewConstMetric(t.desc, prometheus.GaugeValue, v)
}
