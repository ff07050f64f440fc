// Package stats implements the server-side Statistics Engine: a
// fixed-capacity ring buffer of per-frame latency samples feeding the
// adaptive bitrate controller and the pose-prediction offset used to hide
// motion-to-photon latency. Grounded on client/internal/adapt's ladder
// stepping and client/internal/jitter's ring-buffer idiom, generalized from
// a per-sender audio buffer to a single per-connection frame history.
package stats

import (
	"math"
	"time"

	"alvr/server/internal/sessionconfig"
	"alvr/server/internal/wire"
)

// Sample is one frame's round-trip latency breakdown, derived from the
// client's ClientStatisticsSummary plus the server's own send timestamp.
type Sample struct {
	TargetTimestampNs int64
	TotalLatencyUs    int64 // send-to-display round trip
	EncodeUs          int64
	DecodeUs          int64
	NetworkUs         int64
	ClientFps         float32
}

// Ring is a true fixed-capacity circular buffer of Samples: once full, each
// Push overwrites the oldest sample rather than growing.
type Ring struct {
	buf      []Sample
	next     int
	count    int
	capacity int
}

// NewRing creates a Ring with room for capacity samples. capacity is
// clamped to at least 1.
func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{buf: make([]Sample, capacity), capacity: capacity}
}

// Push records one sample, overwriting the oldest entry once the ring is
// full.
func (r *Ring) Push(s Sample) {
	r.buf[r.next] = s
	r.next = (r.next + 1) % r.capacity
	if r.count < r.capacity {
		r.count++
	}
}

// Len returns the number of samples currently held (never exceeds
// capacity).
func (r *Ring) Len() int { return r.count }

// Mean returns the arithmetic mean of TotalLatencyUs across every held
// sample, or 0 if the ring is empty.
func (r *Ring) Mean() float64 {
	if r.count == 0 {
		return 0
	}
	var sum int64
	r.forEach(func(s Sample) { sum += s.TotalLatencyUs })
	return float64(sum) / float64(r.count)
}

// Percentile returns the p-th percentile (0..1) of TotalLatencyUs using
// nearest-rank selection. p is clamped to [0, 1].
func (r *Ring) Percentile(p float64) int64 {
	if r.count == 0 {
		return 0
	}
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}
	vals := make([]int64, 0, r.count)
	r.forEach(func(s Sample) { vals = append(vals, s.TotalLatencyUs) })
	sortInt64s(vals)
	idx := int(math.Ceil(p*float64(len(vals)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(vals) {
		idx = len(vals) - 1
	}
	return vals[idx]
}

// forEach visits every held sample, oldest first.
func (r *Ring) forEach(fn func(Sample)) {
	start := r.next - r.count
	for i := 0; i < r.count; i++ {
		idx := ((start+i)%r.capacity + r.capacity) % r.capacity
		fn(r.buf[idx])
	}
}

func sortInt64s(v []int64) {
	for i := 1; i < len(v); i++ {
		for j := i; j > 0 && v[j-1] > v[j]; j-- {
			v[j-1], v[j] = v[j], v[j-1]
		}
	}
}

// PredictionOffsetUs returns the amount of time, in microseconds, the
// client should predict its pose forward by to compensate for the measured
// total pipeline latency. It is simply the running mean latency: predicting
// by exactly the observed round trip is the standard ALVR approach to
// hiding motion-to-photon latency (original_source's StatisticsManager
// prediction-offset accessor).
func (r *Ring) PredictionOffsetUs() int64 {
	return int64(r.Mean())
}

// NextBitrateMbs steps the encode bitrate up or down by one rung on a fixed
// ladder derived from the configured [min, max] range, using the same
// hysteresis rule as the client's audio bitrate ladder: step down on loss,
// step up on a clean low-RTT link, otherwise hold.
func NextBitrateMbs(cfg sessionconfig.AdaptiveBitrate, current float32, lossRate float64, rttMs float64) float32 {
	if !cfg.Enabled {
		return current
	}
	ladder := bitrateLadder(cfg.MinBitrateMbs, cfg.MaxBitrateMbs)
	idx := closestRung(ladder, current)
	switch {
	case lossRate > 0.05 && idx > 0:
		return ladder[idx-1]
	case lossRate < 0.01 && rttMs > 0 && rttMs < 20 && idx < len(ladder)-1:
		return ladder[idx+1]
	default:
		return ladder[idx]
	}
}

// bitrateLadder builds an 8-rung linear ladder between min and max
// (inclusive), matching the step count of the client's Opus ladder.
func bitrateLadder(min, max float32) []float32 {
	const rungs = 8
	if max <= min {
		return []float32{min}
	}
	step := (max - min) / float32(rungs-1)
	ladder := make([]float32, rungs)
	for i := range ladder {
		ladder[i] = min + step*float32(i)
	}
	return ladder
}

func closestRung(ladder []float32, v float32) int {
	best, bestDist := 0, absF32(v-ladder[0])
	for i, r := range ladder {
		if d := absF32(v - r); d < bestDist {
			bestDist, best = d, i
		}
	}
	return best
}

func absF32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}

// SmoothLoss applies EWMA smoothing to a raw loss measurement, matching the
// client's audio-path smoothing so both halves of the pipeline reason about
// loss the same way.
func SmoothLoss(smoothed, raw, alpha float64) float64 {
	return alpha*raw + (1-alpha)*smoothed
}

// FromReport converts a client's wire report plus a locally-recorded send
// timestamp into a Sample.
func FromReport(report wire.ClientStatisticsSummary, sentAt time.Time) Sample {
	now := time.Now()
	return Sample{
		TargetTimestampNs: report.TargetTimestampNs,
		TotalLatencyUs:    now.Sub(sentAt).Microseconds(),
		DecodeUs:          report.DecodeIntervalUs,
		ClientFps:         report.ClientFps,
	}
}
