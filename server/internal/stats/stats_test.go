package stats

import (
	"testing"

	"alvr/server/internal/sessionconfig"
)

func TestRingOverwritesOldestOnceFull(t *testing.T) {
	r := NewRing(3)
	for i := int64(1); i <= 5; i++ {
		r.Push(Sample{TotalLatencyUs: i * 1000})
	}
	if r.Len() != 3 {
		t.Fatalf("expected Len()=3, got %d", r.Len())
	}
	// Only samples 3000, 4000, 5000 should remain; mean = 4000.
	if got := r.Mean(); got != 4000 {
		t.Fatalf("expected mean 4000, got %v", got)
	}
}

func TestRingEmptyMeanIsZero(t *testing.T) {
	r := NewRing(4)
	if got := r.Mean(); got != 0 {
		t.Fatalf("expected mean 0 on empty ring, got %v", got)
	}
}

func TestRingPercentile(t *testing.T) {
	r := NewRing(10)
	for _, v := range []int64{100, 200, 300, 400, 500} {
		r.Push(Sample{TotalLatencyUs: v})
	}
	if got := r.Percentile(1.0); got != 500 {
		t.Fatalf("expected p100=500, got %d", got)
	}
	if got := r.Percentile(0); got != 100 {
		t.Fatalf("expected p0=100, got %d", got)
	}
}

func TestPredictionOffsetUsEqualsMean(t *testing.T) {
	r := NewRing(4)
	r.Push(Sample{TotalLatencyUs: 10000})
	r.Push(Sample{TotalLatencyUs: 20000})
	if got := r.PredictionOffsetUs(); got != 15000 {
		t.Fatalf("expected prediction offset 15000us, got %d", got)
	}
}

func TestNextBitrateMbsStepsDownOnLoss(t *testing.T) {
	cfg := sessionconfig.AdaptiveBitrate{Enabled: true, MinBitrateMbs: 5, MaxBitrateMbs: 40}
	ladder := bitrateLadder(cfg.MinBitrateMbs, cfg.MaxBitrateMbs)
	mid := ladder[len(ladder)/2]
	got := NextBitrateMbs(cfg, mid, 0.10, 10)
	if got >= mid {
		t.Fatalf("expected bitrate to step down from %v under high loss, got %v", mid, got)
	}
}

func TestNextBitrateMbsStepsUpOnCleanLink(t *testing.T) {
	cfg := sessionconfig.AdaptiveBitrate{Enabled: true, MinBitrateMbs: 5, MaxBitrateMbs: 40}
	ladder := bitrateLadder(cfg.MinBitrateMbs, cfg.MaxBitrateMbs)
	mid := ladder[len(ladder)/2]
	got := NextBitrateMbs(cfg, mid, 0.0, 10)
	if got <= mid {
		t.Fatalf("expected bitrate to step up from %v on a clean link, got %v", mid, got)
	}
}

func TestNextBitrateMbsDisabledHolds(t *testing.T) {
	cfg := sessionconfig.AdaptiveBitrate{Enabled: false, MinBitrateMbs: 5, MaxBitrateMbs: 40}
	got := NextBitrateMbs(cfg, 30, 0.5, 500)
	if got != 30 {
		t.Fatalf("expected disabled adaptive bitrate to hold at 30, got %v", got)
	}
}

func TestNextBitrateMbsCannotExceedMax(t *testing.T) {
	cfg := sessionconfig.AdaptiveBitrate{Enabled: true, MinBitrateMbs: 5, MaxBitrateMbs: 40}
	got := NextBitrateMbs(cfg, 40, 0.0, 5)
	if got != 40 {
		t.Fatalf("expected bitrate to stay at max 40, got %v", got)
	}
}
