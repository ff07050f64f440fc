// Package transport implements the QUIC/WebTransport connection: one
// control stream carrying newline-delimited JSON ControlMsg envelopes, plus
// N claimed data streams (one per wire.StreamID) and an unreliable datagram
// path for the Unreliable stream protocol option. It is the client half of
// the same wire protocol server/internal/transport speaks; in this
// handshake design the client is the listening party (the server discovers
// it and dials in), so Listen/Accept is what cmd/alvr-client actually
// exercises, while Dial exists for symmetry and local loopback testing.
package transport

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
	"github.com/quic-go/webtransport-go"

	"alvr/client/internal/wire"
)

// streamIDHeader is the first line written on every claimed data stream so
// the peer can route it to the right consumer without a separate control
// round-trip.
type streamIDHeader struct {
	StreamID wire.StreamID `json:"stream_id"`
}

// Socket is one negotiated connection: a control stream plus a registry of
// claimed named data streams.
type Socket struct {
	sess *webtransport.Session

	ctrlMu sync.Mutex
	ctrl   *webtransport.Stream

	streamsMu sync.Mutex
	streams   map[wire.StreamID]*webtransport.Stream

	closeOnce sync.Once
}

// Listener accepts incoming WebTransport sessions on a QUIC/HTTP3 listener.
// This is the role cmd/alvr-client actually runs: the headset exposes a
// fixed control port and waits for the discovered server to connect.
type Listener struct {
	server *webtransport.Server
	accept chan *Socket
}

// Listen starts a QUIC/HTTP3 listener at addr with tlsConfig and begins
// accepting WebTransport sessions. Sockets are delivered on Accept().
func Listen(addr string, tlsConfig *tls.Config) (*Listener, error) {
	mux := http.NewServeMux()
	l := &Listener{
		server: &webtransport.Server{
			H3: http3.Server{
				Addr:      addr,
				TLSConfig: tlsConfig,
				Handler:   mux,
			},
		},
		accept: make(chan *Socket, 8),
	}

	mux.HandleFunc("/alvr", func(w http.ResponseWriter, r *http.Request) {
		sess, err := l.server.Upgrade(w, r)
		if err != nil {
			log.Printf("[transport] upgrade failed: %v", err)
			return
		}
		sock, err := acceptSocket(r.Context(), sess)
		if err != nil {
			log.Printf("[transport] accept control stream failed: %v", err)
			sess.CloseWithError(0, "control stream setup failed")
			return
		}
		l.accept <- sock
	})

	go func() {
		if err := l.server.ListenAndServe(); err != nil {
			log.Printf("[transport] listener closed: %v", err)
		}
	}()
	return l, nil
}

// Accept returns the next negotiated Socket.
func (l *Listener) Accept() <-chan *Socket { return l.accept }

// Close shuts down the listener.
func (l *Listener) Close() error { return l.server.Close() }

func acceptSocket(ctx context.Context, sess *webtransport.Session) (*Socket, error) {
	stream, err := sess.AcceptStream(ctx)
	if err != nil {
		return nil, fmt.Errorf("transport: accept control stream: %w", err)
	}
	return &Socket{sess: sess, ctrl: stream, streams: make(map[wire.StreamID]*webtransport.Stream)}, nil
}

// Dial opens a WebTransport session to addr and opens the control stream.
// Present for symmetry/local testing; the production client doesn't call
// it since the server is the dialing party in this design.
func Dial(ctx context.Context, addr string, insecureSkipVerify bool) (*Socket, error) {
	d := webtransport.Dialer{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: insecureSkipVerify}, //nolint:gosec -- self-signed server cert, matched by fingerprint out of band
		QUICConfig: &quic.Config{
			EnableDatagrams:                  true,
			EnableStreamResetPartialDelivery: true,
		},
	}
	_, sess, err := d.Dial(ctx, "https://"+addr+"/alvr", http.Header{})
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}

	stream, err := sess.OpenStream()
	if err != nil {
		sess.CloseWithError(0, "failed to open control stream")
		return nil, fmt.Errorf("transport: open control stream: %w", err)
	}
	return &Socket{sess: sess, ctrl: stream, streams: make(map[wire.StreamID]*webtransport.Stream)}, nil
}

// SendControl writes one newline-delimited JSON ControlMsg on the control
// stream. Safe for concurrent use.
func (s *Socket) SendControl(msg wire.ControlMsg) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("transport: marshal control message: %w", err)
	}
	data = append(data, '\n')
	s.ctrlMu.Lock()
	defer s.ctrlMu.Unlock()
	_, err = s.ctrl.Write(data)
	return err
}

// ReadControl blocks until the next ControlMsg arrives on the control
// stream, or the stream closes. It reads one byte at a time so nothing past
// the terminating newline is consumed and sequential calls lose no data.
// Callers must not call ReadControl from more than one goroutine.
func (s *Socket) ReadControl() (wire.ControlMsg, error) {
	var line []byte
	var b [1]byte
	for {
		n, err := s.ctrl.Read(b[:])
		if n == 1 {
			if b[0] == '\n' {
				break
			}
			line = append(line, b[0])
		}
		if err != nil {
			return wire.ControlMsg{}, err
		}
	}
	var msg wire.ControlMsg
	if err := json.Unmarshal(line, &msg); err != nil {
		return wire.ControlMsg{}, fmt.Errorf("transport: unmarshal control message: %w", err)
	}
	return msg, nil
}

// ClaimStream opens a new bidirectional stream and announces id to the
// peer, then registers it locally.
func (s *Socket) ClaimStream(ctx context.Context, id wire.StreamID) (*webtransport.Stream, error) {
	stream, err := s.sess.OpenStreamSync(ctx)
	if err != nil {
		return nil, fmt.Errorf("transport: open stream %s: %w", id, err)
	}
	hdr, err := json.Marshal(streamIDHeader{StreamID: id})
	if err != nil {
		return nil, err
	}
	if _, err := stream.Write(append(hdr, '\n')); err != nil {
		return nil, fmt.Errorf("transport: announce stream %s: %w", id, err)
	}
	s.streamsMu.Lock()
	s.streams[id] = stream
	s.streamsMu.Unlock()
	return stream, nil
}

// AcceptNamedStream blocks for the next incoming stream, reads its
// announcement header, and returns the claimed wire.StreamID and stream.
func (s *Socket) AcceptNamedStream(ctx context.Context) (wire.StreamID, *webtransport.Stream, error) {
	stream, err := s.sess.AcceptStream(ctx)
	if err != nil {
		return "", nil, fmt.Errorf("transport: accept stream: %w", err)
	}
	reader := bufio.NewReaderSize(stream, 256)
	line, err := reader.ReadBytes('\n')
	if err != nil {
		return "", nil, fmt.Errorf("transport: read stream announcement: %w", err)
	}
	var hdr streamIDHeader
	if err := json.Unmarshal(line, &hdr); err != nil {
		return "", nil, fmt.Errorf("transport: unmarshal stream announcement: %w", err)
	}
	s.streamsMu.Lock()
	s.streams[hdr.StreamID] = stream
	s.streamsMu.Unlock()
	return hdr.StreamID, stream, nil
}

// SetControlReadDeadline bounds the next ReadControl call, matching
// net.Conn's deadline convention. Used by the handshake to check for an
// optional trailing message (e.g. a Restarting notice) without blocking
// forever when the peer doesn't send one.
func (s *Socket) SetControlReadDeadline(t time.Time) error {
	return s.ctrl.SetReadDeadline(t)
}

// Stream returns a previously claimed/accepted stream by id, or nil.
func (s *Socket) Stream(id wire.StreamID) *webtransport.Stream {
	s.streamsMu.Lock()
	defer s.streamsMu.Unlock()
	return s.streams[id]
}

// SendDatagram sends an unreliable datagram on this session.
func (s *Socket) SendDatagram(data []byte) error {
	return s.sess.SendDatagram(data)
}

// ReceiveDatagram blocks for the next unreliable datagram.
func (s *Socket) ReceiveDatagram(ctx context.Context) ([]byte, error) {
	return s.sess.ReceiveDatagram(ctx)
}

// streamSetupTimeout bounds how long the handshake waits for all of the
// expected data streams to be claimed before giving up.
const streamSetupTimeout = 10 * time.Second

// ErrStreamSetupTimeout is returned by AwaitStreams when not every expected
// stream id is claimed within streamSetupTimeout.
var ErrStreamSetupTimeout = fmt.Errorf("transport: timed out waiting for data streams")

// AwaitStreams blocks until every id in want has been claimed (via
// ClaimStream or AcceptNamedStream, from either side), or the timeout
// elapses.
func (s *Socket) AwaitStreams(ctx context.Context, want []wire.StreamID) error {
	ctx, cancel := context.WithTimeout(ctx, streamSetupTimeout)
	defer cancel()
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		if s.hasAll(want) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ErrStreamSetupTimeout
		case <-ticker.C:
		}
	}
}

func (s *Socket) hasAll(want []wire.StreamID) bool {
	s.streamsMu.Lock()
	defer s.streamsMu.Unlock()
	for _, id := range want {
		if _, ok := s.streams[id]; !ok {
			return false
		}
	}
	return true
}

// Close tears down the session and every claimed stream.
func (s *Socket) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.sess.CloseWithError(0, "closed")
	})
	return err
}

// Writer returns an io.Writer for a claimed stream, or nil if unclaimed.
func (s *Socket) Writer(id wire.StreamID) io.Writer {
	if st := s.Stream(id); st != nil {
		return st
	}
	return nil
}
