// Package engine drives the client's half of one connection's streaming
// phase: claiming the outbound tracking/statistics streams, accepting the
// server's inbound video/audio/haptics streams, and running the lifecycle
// retry loop around the whole pipeline. It is the client's counterpart to
// server/internal/supervisor and server/internal/lifecycle combined into a
// single per-process loop, since the client only ever drives one connection
// at a time. Grounded on server/internal/supervisor/supervisor.go's
// goroutine-per-loop/close-guard idiom, reversed: the client claims the
// streams the server accepts and vice versa.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"alvr/client/internal/handshake"
	"alvr/client/internal/transport"
	"alvr/client/internal/wire"
)

// ErrPeerLost is returned by a loop when the underlying socket fails
// outside of a clean shutdown.
var ErrPeerLost = errors.New("engine: peer connection lost")

// retryConnectMinInterval guarantees at least this much time between
// connection attempts, per spec.md §4.6's join(attempt, min_delay), even
// when a dial or handshake fails instantly.
const retryConnectMinInterval = 1 * time.Second

// keepAliveInterval paces the client's keep-alive control messages.
const keepAliveInterval = 500 * time.Millisecond

// Handlers are the caller's hooks into the streaming pipeline. Any field
// left nil is simply not invoked.
type Handlers struct {
	OnVideoFrame       func(data []byte)
	OnAudioFrame       func(data []byte)
	OnHaptics          func(wire.HapticsEvent)
	OnStreamingStarted func(handshake.Result)
	OnStreamingStopped func()
	OnRestarting       func()
}

// Engine owns the listener the server dials into and the handlers driving
// decoded payloads out to the ABI/dev-entrypoint layer. It holds at most
// one live connection at a time.
type Engine struct {
	listener *transport.Listener
	headset  wire.HeadsetInfo
	handlers Handlers

	mu   sync.Mutex
	conn *connection
}

// New builds an Engine around an already-listening Listener.
func New(listener *transport.Listener, headset wire.HeadsetInfo, handlers Handlers) *Engine {
	return &Engine{listener: listener, headset: headset, handlers: handlers}
}

// Run implements spec.md §4.6's lifecycle loop: accept a session, run it to
// completion, then retry, never attempting a new connection less than
// retryConnectMinInterval after the last one started. Returns only when ctx
// is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		started := time.Now()
		err := e.runOnce(ctx)
		if err != nil && ctx.Err() == nil {
			log.Printf("[engine] connection attempt failed: %v", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if remaining := retryConnectMinInterval - time.Since(started); remaining > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(remaining):
			}
		}
	}
}

// runOnce waits for the next incoming session, runs it to completion, and
// returns once the connection ends (cleanly or not).
func (e *Engine) runOnce(ctx context.Context) error {
	var sock *transport.Socket
	select {
	case <-ctx.Done():
		return ctx.Err()
	case sock = <-e.listener.Accept():
	}

	conn := &connection{sock: sock, headset: e.headset, handlers: e.handlers}
	e.mu.Lock()
	e.conn = conn
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		if e.conn == conn {
			e.conn = nil
		}
		e.mu.Unlock()
	}()

	return conn.run(ctx)
}

// current returns the live connection, or nil if none is active. The ABI
// send methods below use this to silently drop outbound calls made while
// disconnected.
func (e *Engine) current() *connection {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conn
}

// SendTracking writes one frame on the TRACKING stream, returning an error
// if that stream has not been claimed yet. A no-op if there is no active
// connection.
func (e *Engine) SendTracking(frame wire.TrackingFrame) error {
	if c := e.current(); c != nil {
		return c.sendTracking(frame)
	}
	return nil
}

// SendStatistics writes one statistics summary on the STATISTICS stream.
func (e *Engine) SendStatistics(summary wire.ClientStatisticsSummary) error {
	if c := e.current(); c != nil {
		return c.sendStatistics(summary)
	}
	return nil
}

// SendButton sends a button control message.
func (e *Engine) SendButton(msg wire.ControlMsg) error {
	if c := e.current(); c != nil {
		return c.sock.SendControl(msg)
	}
	return nil
}

// SendBattery sends a battery control message.
func (e *Engine) SendBattery(msg wire.ControlMsg) error {
	if c := e.current(); c != nil {
		return c.sock.SendControl(msg)
	}
	return nil
}

// SendViewsConfig sends a views config control message.
func (e *Engine) SendViewsConfig(msg wire.ControlMsg) error {
	if c := e.current(); c != nil {
		return c.sock.SendControl(msg)
	}
	return nil
}

// SendPlayspaceSync sends a playspace sync control message.
func (e *Engine) SendPlayspaceSync(msg wire.ControlMsg) error {
	if c := e.current(); c != nil {
		return c.sock.SendControl(msg)
	}
	return nil
}

// RequestIdr asks the server for a fresh keyframe.
func (e *Engine) RequestIdr() error {
	if c := e.current(); c != nil {
		return c.sock.SendControl(wire.ControlMsg{Type: wire.TypeRequestIdr})
	}
	return nil
}

// ReportVideoError reports a decode error upstream, per spec.md's
// VideoErrorReport control message.
func (e *Engine) ReportVideoError() error {
	if c := e.current(); c != nil {
		return c.sock.SendControl(wire.ControlMsg{Type: wire.TypeVideoErrorReport})
	}
	return nil
}

// connection owns one negotiated session's claimed/accepted streams and
// spawned loops, mirroring server/internal/supervisor.Connection in
// structure but reversed in which streams it claims vs. accepts.
type connection struct {
	sock     *transport.Socket
	headset  wire.HeadsetInfo
	handlers Handlers

	trackingMu sync.Mutex
	statsMu    sync.Mutex

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// run implements spec.md §4.4's streaming phase from the client's side:
// exchange HeadsetInfo, wait for StartStream, claim the outbound streams,
// accept the inbound ones, ack with StreamReady, then run every loop until
// the peer is lost or ctx is cancelled.
func (c *connection) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	defer cancel()
	defer c.sock.Close()

	hres, err := handshake.Run(c.sock, c.headset)
	if err != nil {
		return fmt.Errorf("engine: handshake: %w", err)
	}
	log.Printf("[engine] attempt %s: negotiated fps=%.1f eye=%dx%d", hres.AttemptID, hres.Fps, hres.EyeResolution.Width, hres.EyeResolution.Height)
	if hres.Restarting && c.handlers.OnRestarting != nil {
		c.handlers.OnRestarting()
	}

	start, err := c.sock.ReadControl()
	if err != nil {
		return fmt.Errorf("engine: read start stream: %w", err)
	}
	if start.Type != wire.TypeStartStream {
		return fmt.Errorf("engine: expected start_stream, got %q", start.Type)
	}

	if _, err := c.sock.ClaimStream(ctx, wire.StreamTracking); err != nil {
		return fmt.Errorf("engine: claim tracking stream: %w", err)
	}
	if _, err := c.sock.ClaimStream(ctx, wire.StreamStatistics); err != nil {
		return fmt.Errorf("engine: claim statistics stream: %w", err)
	}

	inbound := []wire.StreamID{wire.StreamVideo, wire.StreamAudio, wire.StreamHaptics}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.acceptInboundStreams(ctx, inbound)
	}()

	if err := c.sock.AwaitStreams(ctx, inbound); err != nil {
		cancel()
		c.wg.Wait()
		return fmt.Errorf("engine: await inbound streams: %w", err)
	}

	if err := c.sock.SendControl(wire.ControlMsg{Type: wire.TypeStreamReady}); err != nil {
		cancel()
		c.wg.Wait()
		return fmt.Errorf("engine: send stream ready: %w", err)
	}

	if c.handlers.OnStreamingStarted != nil {
		c.handlers.OnStreamingStarted(hres)
	}
	defer func() {
		if c.handlers.OnStreamingStopped != nil {
			c.handlers.OnStreamingStopped()
		}
	}()

	errCh := make(chan error, 1)
	reportErr := func(err error) {
		if err == nil || ctx.Err() != nil {
			return
		}
		select {
		case errCh <- err:
		default:
		}
		cancel()
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		reportErr(c.controlLoop(ctx))
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.keepAliveLoop(ctx)
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.videoLoop(ctx)
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.audioLoop(ctx)
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.hapticsLoop(ctx)
	}()

	<-ctx.Done()
	c.wg.Wait()

	select {
	case err := <-errCh:
		return err
	default:
		return nil
	}
}

// acceptInboundStreams repeatedly accepts incoming named streams until
// every id in want has arrived or ctx is cancelled. Runs once per
// connection; AwaitStreams elsewhere just polls the registry this
// populates.
func (c *connection) acceptInboundStreams(ctx context.Context, want []wire.StreamID) {
	remaining := make(map[wire.StreamID]bool, len(want))
	for _, id := range want {
		remaining[id] = true
	}
	for len(remaining) > 0 {
		if ctx.Err() != nil {
			return
		}
		id, _, err := c.sock.AcceptNamedStream(ctx)
		if err != nil {
			return
		}
		delete(remaining, id)
	}
}

func (c *connection) controlLoop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		msg, err := c.sock.ReadControl()
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return ErrPeerLost
		}
		switch msg.Type {
		case wire.TypeRestarting:
			if c.handlers.OnRestarting != nil {
				c.handlers.OnRestarting()
			}
		case wire.TypeKeepAlive:
			// no-op; keeps the control stream's idle timer from firing.
		default:
			log.Printf("[engine] unhandled control message type %q", msg.Type)
		}
	}
}

func (c *connection) keepAliveLoop(ctx context.Context) {
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.sock.SendControl(wire.ControlMsg{Type: wire.TypeKeepAlive}); err != nil {
				return
			}
		}
	}
}

func (c *connection) videoLoop(ctx context.Context) {
	stream := c.sock.Stream(wire.StreamVideo)
	if stream == nil {
		return
	}
	dec := newFrameDecoder(stream)
	for {
		if ctx.Err() != nil {
			return
		}
		frame, err := dec.Next()
		if err != nil {
			return
		}
		if c.handlers.OnVideoFrame != nil {
			c.handlers.OnVideoFrame(frame)
		}
	}
}

func (c *connection) audioLoop(ctx context.Context) {
	stream := c.sock.Stream(wire.StreamAudio)
	if stream == nil {
		return
	}
	dec := newFrameDecoder(stream)
	for {
		if ctx.Err() != nil {
			return
		}
		frame, err := dec.Next()
		if err != nil {
			return
		}
		if c.handlers.OnAudioFrame != nil {
			c.handlers.OnAudioFrame(frame)
		}
	}
}

func (c *connection) hapticsLoop(ctx context.Context) {
	stream := c.sock.Stream(wire.StreamHaptics)
	if stream == nil {
		return
	}
	dec := newFrameDecoder(stream)
	for {
		if ctx.Err() != nil {
			return
		}
		frame, err := dec.Next()
		if err != nil {
			return
		}
		if ev, ok := decodeHapticsEvent(frame); ok && c.handlers.OnHaptics != nil {
			c.handlers.OnHaptics(ev)
		}
	}
}

func (c *connection) sendTracking(frame wire.TrackingFrame) error {
	stream := c.sock.Stream(wire.StreamTracking)
	if stream == nil {
		return fmt.Errorf("engine: tracking stream not claimed")
	}
	c.trackingMu.Lock()
	defer c.trackingMu.Unlock()
	return writeJSONFrame(stream, frame)
}

func (c *connection) sendStatistics(summary wire.ClientStatisticsSummary) error {
	stream := c.sock.Stream(wire.StreamStatistics)
	if stream == nil {
		return fmt.Errorf("engine: statistics stream not claimed")
	}
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return writeJSONFrame(stream, summary)
}

// hapticsEvent is an unexported alias of wire.HapticsEvent, so frame.go
// doesn't need to import wire just for one struct's JSON tags.
type hapticsEvent = wire.HapticsEvent
