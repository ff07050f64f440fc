package discovery

import (
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"alvr/server/internal/store"
	"alvr/server/internal/wire"
)

func TestListenerUpsertsClientOnBroadcast(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "alvr.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	l, err := NewListener(st)
	if err != nil {
		t.Fatalf("new listener: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go l.Run(ctx)

	pkt := wire.HandshakePacket{Hostname: "0001.client.alvr", DeviceName: "Quest 3", ProtocolID: 1}
	data, err := json.Marshal(pkt)
	if err != nil {
		t.Fatalf("marshal packet: %v", err)
	}

	conn, err := net.DialUDP("udp4", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: BroadcastPort})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if _, err := conn.Write(data); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case s := <-l.Sightings():
		if s.Packet.Hostname != pkt.Hostname {
			t.Fatalf("unexpected sighting: %+v", s.Packet)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for sighting")
	}

	row, err := st.GetClient(pkt.Hostname)
	if err != nil {
		t.Fatalf("get client: %v", err)
	}
	if row.DisplayName != pkt.DeviceName {
		t.Fatalf("expected display name %q, got %q", pkt.DeviceName, row.DisplayName)
	}
}

func TestListenerIgnoresMalformedPackets(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "alvr.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	l, err := NewListener(st)
	if err != nil {
		t.Fatalf("new listener: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go l.Run(ctx)

	conn, err := net.DialUDP("udp4", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: BroadcastPort})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte("not json")); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case s := <-l.Sightings():
		t.Fatalf("expected no sighting for malformed packet, got %+v", s)
	case <-time.After(200 * time.Millisecond):
	}
}
