package telemetry

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"
)

// durationBuckets are the histogram boundaries (seconds) for HTTP request
// duration, following the OTel HTTP semantic conventions.
var durationBuckets = []float64{
	0.010, 0.025, 0.050, 0.100, 0.250, 0.500, 1.0, 2.5, 5.0, 10.0,
}

// sizeBuckets are the histogram boundaries (bytes) for body sizes.
var sizeBuckets = []float64{
	100, 1_000, 10_000, 100_000, 1_000_000, 10_000_000,
}

// histogram is a thread-safe histogram with fixed bucket boundaries. Bucket
// counts are stored non-cumulative; the cumulative view Prometheus expects is
// computed at export time. The boundaries slice must be sorted ascending and
// is never mutated after construction.
type histogram struct {
	bounds []float64
	count  int64  // atomic
	sum    uint64 // float64 bits, atomic

	mu     sync.Mutex
	counts []int64 // one per bound; values above the last bound land in +Inf only
}

func newHistogram(bounds []float64) *histogram {
	return &histogram{
		bounds: bounds,
		counts: make([]int64, len(bounds)),
	}
}

// Observe records a single value.
func (h *histogram) Observe(v float64) {
	atomic.AddInt64(&h.count, 1)
	addFloat64(&h.sum, v)

	// First bound with bounds[i] >= v is the le bucket for v.
	i := sort.SearchFloat64s(h.bounds, v)
	if i < len(h.bounds) {
		h.mu.Lock()
		h.counts[i]++
		h.mu.Unlock()
	}
}

// Count returns the total number of observations.
func (h *histogram) Count() int64 {
	return atomic.LoadInt64(&h.count)
}

// Sum returns the sum of all observations.
func (h *histogram) Sum() float64 {
	return math.Float64frombits(atomic.LoadUint64(&h.sum))
}

// cumulative returns the cumulative bucket counts, one per boundary. The
// implicit +Inf bucket equals Count and is not included.
func (h *histogram) cumulative() []int64 {
	h.mu.Lock()
	out := make([]int64, len(h.counts))
	copy(out, h.counts)
	h.mu.Unlock()

	var running int64
	for i, c := range out {
		running += c
		out[i] = running
	}
	return out
}

// addFloat64 atomically adds delta to a float64 stored as uint64 bits.
func addFloat64(addr *uint64, delta float64) {
	for {
		old := atomic.LoadUint64(addr)
		next := math.Float64bits(math.Float64frombits(old) + delta)
		if atomic.CompareAndSwapUint64(addr, old, next) {
			return
		}
	}
}
