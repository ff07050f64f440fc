// Package discovery implements the client side of LAN rendezvous: it
// periodically broadcasts a HandshakePacket on the well-known discovery
// port so the server's internal/discovery.Listener can record a sighting,
// and it answers mDNS queries for its own hostname so the server can
// resolve it even if broadcast doesn't reach (VLAN boundary, a sighting
// aged out). Mirrors server/internal/discovery's Listener/Resolver pair
// from the opposite end of the same rendezvous.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/pion/mdns/v2"
	"golang.org/x/net/ipv4"

	"alvr/client/internal/wire"
)

// BroadcastPort is the UDP port the server's Listener listens on.
const BroadcastPort = 9943

// Emitter periodically broadcasts this client's HandshakePacket.
type Emitter struct {
	conn     *net.UDPConn
	hostname string
	device   string
}

// NewEmitter opens a UDP broadcast socket for hostname/device.
func NewEmitter(hostname, device string) (*Emitter, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return nil, fmt.Errorf("discovery: listen udp: %w", err)
	}
	if err := conn.SetWriteBuffer(2048); err != nil {
		log.Printf("[discovery] set write buffer: %v", err)
	}
	return &Emitter{conn: conn, hostname: hostname, device: device}, nil
}

// Run broadcasts a HandshakePacket every interval until ctx is cancelled.
func (e *Emitter) Run(ctx context.Context, interval time.Duration) error {
	pkt := wire.HandshakePacket{
		Hostname:   e.hostname,
		DeviceName: e.device,
		ProtocolID: 1,
	}
	data, err := json.Marshal(pkt)
	if err != nil {
		return fmt.Errorf("discovery: marshal handshake packet: %w", err)
	}

	dst := &net.UDPAddr{IP: net.IPv4bcast, Port: BroadcastPort}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := e.conn.WriteToUDP(data, dst); err != nil {
			log.Printf("[discovery] broadcast: %v", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Close releases the broadcast socket.
func (e *Emitter) Close() error { return e.conn.Close() }

// Responder answers mDNS queries for this client's own hostname, so the
// server can resolve it directly instead of relying on a fresh broadcast
// sighting.
type Responder struct {
	conn *mdns.Conn
}

// NewResponder starts an mDNS responder registered under hostname (e.g.
// "0001.client.alvr").
func NewResponder(hostname string) (*Responder, error) {
	addr, err := net.ResolveUDPAddr("udp4", mdns.DefaultAddressIPv4)
	if err != nil {
		return nil, fmt.Errorf("discovery: resolve mdns addr: %w", err)
	}
	conn4, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("discovery: listen mdns udp: %w", err)
	}
	pc := ipv4.NewPacketConn(conn4)

	conn, err := mdns.Server(pc, nil, &mdns.Config{
		LocalNames: []string{hostname + "."},
	})
	if err != nil {
		return nil, fmt.Errorf("discovery: start mdns responder: %w", err)
	}
	return &Responder{conn: conn}, nil
}

// Close shuts down the mDNS responder.
func (r *Responder) Close() error { return r.conn.Close() }
