// Package discovery implements the server side of LAN rendezvous: listening
// for UDP broadcast HandshakePackets from clients, recording sightings in
// the Client Registry, and resolving the mDNS hostname of already-known
// clients that are configured with a manual IP or have gone quiet on
// broadcast (e.g. across a VLAN boundary where broadcast doesn't reach).
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

	"alvr/server/internal/store"
	"alvr/server/internal/wire"
)

// BroadcastPort is the UDP port clients broadcast HandshakePackets on.
const BroadcastPort = 9943

// Sighting is one client broadcast, paired with the address it arrived
// from. The lifecycle engine uses only the packet's hostname; Addr is not
// added to the handshake's candidate addresses.
type Sighting struct {
	Packet wire.HandshakePacket
	Addr   *net.UDPAddr
}

// Listener receives client broadcasts and republishes them as Sightings,
// while also upserting each sighting into the Client Registry.
type Listener struct {
	store *store.Store
	conn  *net.UDPConn
	out   chan Sighting
}

// NewListener binds the broadcast listening socket. Call Run to start
// serving; Sightings arrive on Listener.Sightings().
func NewListener(st *store.Store) (*Listener, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: BroadcastPort})
	if err != nil {
		return nil, fmt.Errorf("discovery: listen udp: %w", err)
	}
	return &Listener{store: st, conn: conn, out: make(chan Sighting, 16)}, nil
}

// Sightings returns the channel new client broadcasts are published on.
func (l *Listener) Sightings() <-chan Sighting { return l.out }

// Run reads broadcasts until ctx is cancelled.
func (l *Listener) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		l.conn.Close()
	}()

	buf := make([]byte, 2048)
	for {
		n, addr, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Printf("[discovery] read error: %v", err)
			continue
		}

		var pkt wire.HandshakePacket
		if err := json.Unmarshal(buf[:n], &pkt); err != nil {
			log.Printf("[discovery] malformed broadcast from %s: %v", addr, err)
			continue
		}
		if pkt.Hostname == "" {
			continue
		}

		if err := l.store.UpsertClientSeen(pkt.Hostname, pkt.DeviceName); err != nil {
			log.Printf("[discovery] upsert client %s: %v", pkt.Hostname, err)
		}

		select {
		case l.out <- Sighting{Packet: pkt, Addr: addr}:
		default:
			log.Printf("[discovery] sighting channel full, dropping broadcast from %s", pkt.Hostname)
		}
	}
}

// Close releases the listening socket.
func (l *Listener) Close() error { return l.conn.Close() }

// Resolver resolves the current IP of an already-known client hostname over
// mDNS, for clients that are configured with a manual IP / static hostname
// but are not currently broadcasting (e.g. rebooted, or across a network
// segment where UDP broadcast doesn't propagate).
type Resolver struct {
	server *mdns.Conn
}

// NewResolver starts an mDNS querier on the standard multicast group.
func NewResolver() (*Resolver, error) {
	addr, err := net.ResolveUDPAddr("udp4", mdns.DefaultAddressIPv4)
	if err != nil {
		return nil, fmt.Errorf("discovery: resolve mdns addr: %w", err)
	}
	conn4, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("discovery: listen mdns udp: %w", err)
	}
	pc := ipv4.NewPacketConn(conn4)

	server, err := mdns.Server(pc, nil, &mdns.Config{})
	if err != nil {
		return nil, fmt.Errorf("discovery: start mdns server: %w", err)
	}
	return &Resolver{server: server}, nil
}

// Resolve looks up hostname (e.g. "0001.client.alvr") over mDNS and returns
// its current address, or an error if it doesn't answer within ctx's
// deadline.
func (r *Resolver) Resolve(ctx context.Context, hostname string) (net.IP, error) {
	_, addr, err := r.server.Query(ctx, hostname+".")
	if err != nil {
		return nil, fmt.Errorf("discovery: resolve %s: %w", hostname, err)
	}
	udpAddr, ok := addr.(*net.UDPAddr)
	if !ok {
		return nil, fmt.Errorf("discovery: unexpected address type for %s", hostname)
	}
	return udpAddr.IP, nil
}

// Close shuts down the mDNS querier.
func (r *Resolver) Close() error { return r.server.Close() }

// candidateTimeout bounds how long CandidateIPs waits for an mDNS
// resolution of hostname. When none arrives in time only the manual IPs are
// returned; the client's last broadcast address is not used as a fallback.
const candidateTimeout = 2 * time.Second

// CandidateIPs returns the full candidate IP list for hostname, per
// spec.md §4.3 step 1: the client's manual IPs exactly as stored (no
// hostname resolution is done on them) plus, best-effort, its current mDNS
// address.
func (r *Resolver) CandidateIPs(ctx context.Context, hostname string, manualIPs []string) []string {
	candidates := append([]string(nil), manualIPs...)

	resolveCtx, cancel := context.WithTimeout(ctx, candidateTimeout)
	defer cancel()
	if ip, err := r.Resolve(resolveCtx, hostname); err == nil {
		candidates = append(candidates, ip.String())
	}
	return candidates
}
