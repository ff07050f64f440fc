package discovery

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"alvr/client/internal/wire"
)

func TestEmitterBroadcastsHandshakePacket(t *testing.T) {
	listenerConn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: BroadcastPort})
	if err != nil {
		t.Skipf("cannot bind broadcast port in this sandbox: %v", err)
	}
	defer listenerConn.Close()

	e, err := NewEmitter("0001.client.alvr", "Test Headset")
	if err != nil {
		t.Fatalf("NewEmitter: %v", err)
	}
	defer e.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx, 10*time.Millisecond)

	buf := make([]byte, 2048)
	listenerConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _, err := listenerConn.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("expected a broadcast packet: %v", err)
	}

	var pkt wire.HandshakePacket
	if err := json.Unmarshal(buf[:n], &pkt); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if pkt.Hostname != "0001.client.alvr" {
		t.Fatalf("unexpected hostname: %q", pkt.Hostname)
	}
}
