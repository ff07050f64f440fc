package transport

import (
	"encoding/json"
	"testing"

	"github.com/quic-go/webtransport-go"

	"alvr/client/internal/wire"
)

func TestStreamIDHeaderRoundTripsThroughJSON(t *testing.T) {
	hdr := streamIDHeader{StreamID: wire.StreamTracking}
	data, err := json.Marshal(hdr)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got streamIDHeader
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.StreamID != wire.StreamTracking {
		t.Fatalf("expected %s, got %s", wire.StreamTracking, got.StreamID)
	}
}

func TestHasAllReflectsClaimedStreams(t *testing.T) {
	s := &Socket{streams: make(map[wire.StreamID]*webtransport.Stream)}
	if s.hasAll([]wire.StreamID{wire.StreamTracking}) {
		t.Fatal("expected hasAll to be false before any stream is claimed")
	}
	s.streams[wire.StreamTracking] = nil
	if !s.hasAll([]wire.StreamID{wire.StreamTracking}) {
		t.Fatal("expected hasAll to be true once the stream id is present")
	}
	if s.hasAll([]wire.StreamID{wire.StreamTracking, wire.StreamStatistics}) {
		t.Fatal("expected hasAll to be false when a wanted id is still missing")
	}
	if !s.hasAll(nil) {
		t.Fatal("expected hasAll to be trivially true for an empty want list")
	}
}
