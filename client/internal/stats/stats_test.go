package stats

import (
	"testing"
	"time"
)

func TestFrameTimerSummaryReflectsDecodeInterval(t *testing.T) {
	ft := NewFrameTimer(12345)
	time.Sleep(2 * time.Millisecond)
	ft.MarkDecoded()
	s := ft.Summary(90)
	if s.TargetTimestampNs != 12345 {
		t.Fatalf("expected target timestamp to round-trip, got %d", s.TargetTimestampNs)
	}
	if s.DecodeIntervalUs <= 0 {
		t.Fatalf("expected positive decode interval, got %d", s.DecodeIntervalUs)
	}
	if s.ClientFps != 90 {
		t.Fatalf("expected fps to round-trip, got %v", s.ClientFps)
	}
	if s.FrameSpanUs <= 0 {
		t.Fatalf("expected positive frame span, got %d", s.FrameSpanUs)
	}
}

func TestFrameTimerSummaryWithoutDecodeLeavesIntervalZero(t *testing.T) {
	ft := NewFrameTimer(1)
	s := ft.Summary(0)
	if s.DecodeIntervalUs != 0 {
		t.Fatalf("expected zero decode interval before MarkDecoded, got %d", s.DecodeIntervalUs)
	}
}

func TestFpsCounterSamplesRate(t *testing.T) {
	c := NewFpsCounter()
	for i := 0; i < 10; i++ {
		c.Tick()
	}
	time.Sleep(20 * time.Millisecond)
	rate := c.Sample()
	if rate <= 0 {
		t.Fatalf("expected positive fps rate, got %v", rate)
	}
}

func TestFpsCounterResetsAfterSample(t *testing.T) {
	c := NewFpsCounter()
	c.Tick()
	time.Sleep(5 * time.Millisecond)
	c.Sample()
	time.Sleep(5 * time.Millisecond)
	rate := c.Sample()
	if rate != 0 {
		t.Fatalf("expected zero fps rate after reset with no ticks, got %v", rate)
	}
}
