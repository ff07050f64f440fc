package engine

import (
	"bytes"
	"encoding/json"
	"testing"

	"alvr/client/internal/wire"
)

func TestWriteFrameThenDecoderNextRoundTrips(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("hello video payload")
	if err := writeFrame(&buf, payload); err != nil {
		t.Fatalf("writeFrame: %v", err)
	}
	dec := newFrameDecoder(&buf)
	got, err := dec.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("got %q, want %q", got, payload)
	}
}

func TestFrameDecoderReadsMultipleFramesInOrder(t *testing.T) {
	var buf bytes.Buffer
	writeFrame(&buf, []byte("one"))
	writeFrame(&buf, []byte("two"))
	dec := newFrameDecoder(&buf)

	first, err := dec.Next()
	if err != nil || string(first) != "one" {
		t.Fatalf("first frame = %q, %v", first, err)
	}
	second, err := dec.Next()
	if err != nil || string(second) != "two" {
		t.Fatalf("second frame = %q, %v", second, err)
	}
}

func TestFrameDecoderRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	lenBuf := []byte{0xff, 0xff, 0xff, 0xff}
	buf.Write(lenBuf)
	dec := newFrameDecoder(&buf)
	if _, err := dec.Next(); err == nil {
		t.Fatal("expected an error for an oversized frame length")
	}
}

func TestFrameDecoderReturnsErrorOnTruncatedStream(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0, 0, 0, 10})
	buf.Write([]byte("short"))
	dec := newFrameDecoder(&buf)
	if _, err := dec.Next(); err == nil {
		t.Fatal("expected an error reading a truncated frame body")
	}
}

func TestWriteJSONFrameDecodesBackToSameTrackingFrame(t *testing.T) {
	var buf bytes.Buffer
	frame := wire.TrackingFrame{
		TargetTimestampNs: 123456,
		Motions:           []wire.MotionData{{DeviceID: 1}},
	}
	if err := writeJSONFrame(&buf, frame); err != nil {
		t.Fatalf("writeJSONFrame: %v", err)
	}
	dec := newFrameDecoder(&buf)
	raw, err := dec.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	var got wire.TrackingFrame
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.TargetTimestampNs != frame.TargetTimestampNs || len(got.Motions) != 1 {
		t.Fatalf("got %+v, want %+v", got, frame)
	}
}

func TestDecodeHapticsEventParsesValidPayload(t *testing.T) {
	var buf bytes.Buffer
	ev := wire.HapticsEvent{Device: 7, Duration: 0.1, Frequency: 200, Amplitude: 0.5}
	writeJSONFrame(&buf, ev)
	dec := newFrameDecoder(&buf)
	raw, err := dec.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	got, ok := decodeHapticsEvent(raw)
	if !ok {
		t.Fatal("expected decodeHapticsEvent to succeed")
	}
	if got != ev {
		t.Fatalf("got %+v, want %+v", got, ev)
	}
}

func TestDecodeHapticsEventRejectsGarbage(t *testing.T) {
	if _, ok := decodeHapticsEvent([]byte("not json")); ok {
		t.Fatal("expected decodeHapticsEvent to reject invalid JSON")
	}
}
