// Package stats implements the client-side statistics rollup: a small
// per-frame accumulator that turns raw decode timings into the
// ClientStatisticsSummary the server's internal/stats.Ring consumes.
// Grounded on client/internal/jitter's accounting idiom, generalized from
// per-sender audio jitter bookkeeping to a single per-frame video pipeline
// rollup.
package stats

import (
	"sync"
	"time"

	"alvr/client/internal/wire"
)

// FrameTimer tracks one displayed frame's timestamps from receipt through
// decode to presentation.
type FrameTimer struct {
	TargetTimestampNs int64
	receivedAt        time.Time
	decodedAt         time.Time
}

// NewFrameTimer starts timing a frame identified by targetTimestampNs (the
// server's render-time tag, echoed back so the server can match its own
// send-side clock).
func NewFrameTimer(targetTimestampNs int64) *FrameTimer {
	return &FrameTimer{TargetTimestampNs: targetTimestampNs, receivedAt: time.Now()}
}

// MarkDecoded records when decode finished.
func (f *FrameTimer) MarkDecoded() {
	f.decodedAt = time.Now()
}

// Summary builds the wire report for this frame once decode has completed.
func (f *FrameTimer) Summary(fps float32) wire.ClientStatisticsSummary {
	var decodeUs int64
	if !f.decodedAt.IsZero() {
		decodeUs = f.decodedAt.Sub(f.receivedAt).Microseconds()
	}
	return wire.ClientStatisticsSummary{
		TargetTimestampNs: f.TargetTimestampNs,
		FrameSpanUs:       time.Since(f.receivedAt).Microseconds(),
		ClientFps:         fps,
		DecodeIntervalUs:  decodeUs,
	}
}

// FpsCounter counts frames presented since the previous Sample call; Sample
// turns that count into a rate and resets it.
type FpsCounter struct {
	mu       sync.Mutex
	count    int
	windowAt time.Time
}

// NewFpsCounter starts a fresh counting window.
func NewFpsCounter() *FpsCounter {
	return &FpsCounter{windowAt: time.Now()}
}

// Tick records one presented frame.
func (c *FpsCounter) Tick() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count++
}

// Sample returns the frames-per-second rate observed since the last Sample
// call and resets the window.
func (c *FpsCounter) Sample() float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	elapsed := time.Since(c.windowAt).Seconds()
	c.windowAt = time.Now()
	n := c.count
	c.count = 0
	if elapsed <= 0 {
		return 0
	}
	return float32(float64(n) / elapsed)
}
