package wire

import (
	"encoding/json"
	"testing"
)

func TestHapticsEventJSONRoundTrip(t *testing.T) {
	ev := HapticsEvent{Device: 42, Duration: 0.2, Frequency: 150, Amplitude: 0.8}
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got HapticsEvent
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got != ev {
		t.Fatalf("got %+v, want %+v", got, ev)
	}
}

func TestButtonPathStringKnownID(t *testing.T) {
	if got := ButtonPathString(3); got != "/input/trigger/click" {
		t.Fatalf("unexpected path for id 3: %q", got)
	}
}

func TestButtonPathStringUnknownIDFallsBack(t *testing.T) {
	if got := ButtonPathString(0xff); got != "Unknown (0xff)" {
		t.Fatalf("unexpected fallback rendering: %q", got)
	}
}

func TestButtonPathIDRoundTrip(t *testing.T) {
	id, ok := ButtonPathID("/input/grip/value")
	if !ok || id != 6 {
		t.Fatalf("expected id 6, got %d (ok=%v)", id, ok)
	}
}

func TestButtonPathIDUnknownPath(t *testing.T) {
	if _, ok := ButtonPathID("/input/nonexistent"); ok {
		t.Fatal("expected unknown path to report ok=false")
	}
}
