// Package supervisor drives one connection's streaming phase once a
// Handshake has completed: it owns the per-connection context, spawns the
// send/receive loops for every claimed data stream, and tears everything
// down cleanly on disconnect or external cancellation. Grounded on
// server/client.go's handleClient (ctx/cancel-per-client, goroutine per
// datagram relay, deferred cleanup) generalized from one relay goroutine to
// N named-stream loops plus a control-message loop.
package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"sync"
	"time"

	"alvr/server/internal/driver"
	"alvr/server/internal/eventbus"
	"alvr/server/internal/handshake"
	"alvr/server/internal/sessionconfig"
	"alvr/server/internal/stats"
	"alvr/server/internal/store"
	"alvr/server/internal/wire"
)

// ErrPeerLost is returned by the receive loop when the underlying socket
// fails outside of a clean shutdown.
var ErrPeerLost = errors.New("supervisor: peer connection lost")

// ErrHandshakeAck is returned when the client's reply to StartStream isn't
// StreamReady, per spec.md §4.4 step 1.
var ErrHandshakeAck = errors.New("supervisor: client did not acknowledge StartStream with StreamReady")

// streamReadyTimeout bounds how long Run waits for the client's
// StreamReady acknowledgement before giving up.
const streamReadyTimeout = 5 * time.Second

// TrackingHandler processes one decoded tracking frame.
type TrackingHandler func(wire.TrackingFrame)

// StatisticsHandler processes one decoded client statistics report.
type StatisticsHandler func(wire.ClientStatisticsSummary)

// ControlHandler receives the battery, button, playspace sync and views
// config control messages after the internal dispatch has handled them.
type ControlHandler func(wire.ControlMsg)

// Connection owns the lifetime of one negotiated client connection: the
// handshake Result, the statistics ring, and every spawned loop.
type Connection struct {
	Result handshake.Result

	Stats *stats.Ring

	OnTracking   TrackingHandler
	OnStatistics StatisticsHandler
	OnControl    ControlHandler

	// VideoFrames, GameAudioFrames and HapticsEvents are drained by
	// video_send_loop, game_audio_loop and haptics_send_loop respectively
	// (spec.md §4.4). The driver/encoder pipeline feeding them lives
	// outside this package; Run only owns draining and framing them onto
	// the wire.
	VideoFrames     chan []byte
	GameAudioFrames chan []byte
	HapticsEvents   chan wire.HapticsEvent

	// Driver is the VR runtime collaborator the streaming-phase control
	// dispatch and tracking transforms push to. Nil is valid (headless
	// runs/tests): every call site nil-checks before using it.
	Driver driver.Bridge

	bus *eventbus.Bus
	st  *store.Store

	trackingMgr    *TrackingManager
	hmdMultiplier  float32
	ctrlMultiplier float32
	playspaceCh    chan [2]float32

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// outboundChannelDepth bounds how many unsent frames queue up before a send
// loop blocks its producer; generous enough to absorb a scheduling hiccup
// without unbounded memory growth.
const outboundChannelDepth = 8

// keepAliveInterval paces the server's keep-alive control messages.
const keepAliveInterval = 1 * time.Second

// defaultHistorySize is used when the session didn't specify one (0).
const defaultHistorySize = 256

// New builds a Connection ready to Run.
func New(res handshake.Result, historySize int, bus *eventbus.Bus, st *store.Store, drv driver.Bridge) *Connection {
	if historySize <= 0 {
		historySize = defaultHistorySize
	}
	return &Connection{
		Result:          res,
		Stats:           stats.NewRing(historySize),
		VideoFrames:     make(chan []byte, outboundChannelDepth),
		GameAudioFrames: make(chan []byte, outboundChannelDepth),
		HapticsEvents:   make(chan wire.HapticsEvent, outboundChannelDepth),
		Driver:          drv,
		bus:             bus,
		st:              st,
		trackingMgr:     NewTrackingManager(res.Session),
		hmdMultiplier:   res.Session.Headset.HmdPredictionMultiplier,
		ctrlMultiplier:  res.Session.Headset.ControllerPredictionMultiplier,
		playspaceCh:     make(chan [2]float32, 1),
	}
}

// Run spawns the control loop and every claimed data-stream loop, then
// blocks until ctx is cancelled or the peer is lost. It always returns once
// every spawned loop has exited (clean close-guard: no goroutine outlives
// Run).
func (c *Connection) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	defer cancel()

	if c.bus != nil {
		c.bus.Publish(eventbus.Event{Type: eventbus.EventClientConnected, Hostname: c.Result.Hostname})
	}
	spawnScript(c.Result.Session.Connection.OnConnectScript, "connect")
	if c.Driver != nil {
		c.Driver.StartStreaming()
	}
	// Stream close guard (spec.md §4.4 step 5): release on every exit path
	// from here tears down driver streaming state and runs
	// on_disconnect_script exactly once per successful connection.
	defer c.releaseStreamGuard()

	defer func() {
		if c.bus != nil {
			c.bus.Publish(eventbus.Event{Type: eventbus.EventClientDisconnected, Hostname: c.Result.Hostname})
		}
		c.Result.Socket.Close()
	}()

	if err := c.awaitStreamReady(); err != nil {
		return err
	}

	if _, err := c.Result.Socket.ClaimStream(ctx, wire.StreamVideo); err != nil {
		return fmt.Errorf("supervisor: claim video stream: %w", err)
	}
	if _, err := c.Result.Socket.ClaimStream(ctx, wire.StreamAudio); err != nil {
		return fmt.Errorf("supervisor: claim audio stream: %w", err)
	}
	if _, err := c.Result.Socket.ClaimStream(ctx, wire.StreamHaptics); err != nil {
		return fmt.Errorf("supervisor: claim haptics stream: %w", err)
	}

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

	wanted := []wire.StreamID{wire.StreamTracking, wire.StreamStatistics}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.acceptInboundStreams(ctx, wanted)
	}()

	if err := c.Result.Socket.AwaitStreams(ctx, wanted); err != nil {
		cancel()
		c.wg.Wait()
		return err
	}

	for _, id := range wanted {
		id := id
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.streamLoop(ctx, id)
		}()
	}

	for _, loop := range []func(context.Context) error{c.videoSendLoop, c.hapticsSendLoop, c.gameAudioSendLoop, c.keepAliveLoop} {
		loop := loop
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			reportErr(loop(ctx))
		}()
	}

	// playspaceLoop is the "dedicated blocking thread" spec.md §4.4's
	// PlayspaceSync dispatch forwards to, since the driver's chaperone call
	// is blocking and must never stall control_loop.
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.playspaceLoop(ctx)
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

// Close cancels every loop this Connection owns. Safe to call more than
// once and from any goroutine.
func (c *Connection) Close() {
	if c.cancel != nil {
		c.cancel()
	}
}

// awaitStreamReady sends StartStream and blocks for the client's
// StreamReady reply, per spec.md §4.4 step 1. Any other reply or a receive
// error aborts with ErrHandshakeAck.
func (c *Connection) awaitStreamReady() error {
	if err := c.Result.Socket.SendControl(wire.ControlMsg{Type: wire.TypeStartStream}); err != nil {
		return fmt.Errorf("supervisor: send start stream: %w", err)
	}
	if err := c.Result.Socket.SetControlReadDeadline(time.Now().Add(streamReadyTimeout)); err != nil {
		return fmt.Errorf("supervisor: set stream ready deadline: %w", err)
	}
	defer c.Result.Socket.SetControlReadDeadline(time.Time{})

	reply, err := c.Result.Socket.ReadControl()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHandshakeAck, err)
	}
	if reply.Type != wire.TypeStreamReady {
		return fmt.Errorf("%w: got %q", ErrHandshakeAck, reply.Type)
	}
	return nil
}

func (c *Connection) controlLoop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		msg, err := c.Result.Socket.ReadControl()
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return ErrPeerLost
		}
		c.dispatchControl(msg)
	}
}

func (c *Connection) dispatchControl(msg wire.ControlMsg) {
	switch msg.Type {
	case wire.TypePlayspaceSync:
		if c.Result.Session.Headset.TrackingMode != sessionconfig.TrackingReferenceOnly {
			c.sendPlayspaceSync(msg.PlayspaceW, msg.PlayspaceH)
		}
		if c.OnControl != nil {
			c.OnControl(msg)
		}
	case wire.TypeRequestIdr:
		if c.Driver != nil {
			c.Driver.RequestIDR()
		}
	case wire.TypeVideoErrorReport:
		if c.Driver != nil {
			c.Driver.ReportVideoError()
		}
	case wire.TypeViewsConfig:
		if c.Driver != nil {
			c.Driver.SetViewsConfig(msg.FovLeft, msg.FovRight, msg.IpdM)
		}
		if c.OnControl != nil {
			c.OnControl(msg)
		}
	case wire.TypeBattery:
		if c.Driver != nil {
			c.Driver.SetBattery(msg.BatteryDevice, msg.BatteryGauge, msg.BatteryPlugged)
		}
		if c.OnControl != nil {
			c.OnControl(msg)
		}
	case wire.TypeButton:
		log.Printf("[supervisor] %s: button %s", c.Result.Hostname, wire.ButtonPathString(msg.ButtonPathID))
		if c.Driver != nil {
			c.Driver.SetButton(msg.ButtonPathID, msg.ButtonBinary, msg.ButtonScalar)
		}
		if c.OnControl != nil {
			c.OnControl(msg)
		}
	case wire.TypeKeepAlive:
		// no-op; keeps the control stream's idle timer from firing.
	default:
		log.Printf("[supervisor] %s: unhandled control message type %q", c.Result.Hostname, msg.Type)
	}
}

// releaseStreamGuard is the stream close guard's release (spec.md §4.4 step
// 5): it runs exactly once per Run call, on every exit path, tearing down
// driver streaming state and spawning on_disconnect_script.
func (c *Connection) releaseStreamGuard() {
	if c.Driver != nil {
		c.Driver.StopStreaming()
	}
	spawnScript(c.Result.Session.Connection.OnDisconnectScript, "disconnect")
}

// spawnScript starts path as a detached child process with env
// ACTION=action, per spec.md's on_connect_script/on_disconnect_script
// contract: exit codes are ignored and a failure to spawn is only warned
// about, never fatal. A blank path is a no-op.
func spawnScript(path, action string) {
	if path == "" {
		return
	}
	cmd := exec.Command(path)
	cmd.Env = append(os.Environ(), "ACTION="+action)
	if err := cmd.Start(); err != nil {
		log.Printf("[supervisor] run %s script %q: %v", action, path, err)
		return
	}
	go cmd.Wait() // reap the detached child without blocking Run
}

// playspaceLoop drains playspace size updates and pushes them to the
// driver's (blocking) chaperone API on its own goroutine, per spec.md
// §4.4's "use a dedicated thread because the chaperone call is blocking".
func (c *Connection) playspaceLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case wh := <-c.playspaceCh:
			if c.Driver != nil {
				c.Driver.SetChaperone(wh[0], wh[1])
			}
		}
	}
}

// sendPlayspaceSync clamps w,h to a 2x2m floor (spec.md §4.4) and hands
// them to playspaceLoop without blocking control_loop; a pending-but-stale
// value is replaced rather than queued, since only the latest playspace
// size matters.
func (c *Connection) sendPlayspaceSync(w, h float32) {
	clamped := [2]float32{maxF32(w, 2.0), maxF32(h, 2.0)}
	select {
	case c.playspaceCh <- clamped:
	default:
		select {
		case <-c.playspaceCh:
		default:
		}
		select {
		case c.playspaceCh <- clamped:
		default:
		}
	}
}

func maxF32(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}

// pushTrackingToDriver applies this connection's TrackingManager policy to
// frame and forwards the result to the driver with the predicted
// head/controller offsets, per spec.md §4.4's tracking receive transforms:
// prediction = average_total_pipeline_latency × multiplier × −1.
func (c *Connection) pushTrackingToDriver(frame wire.TrackingFrame) {
	if c.Driver == nil || c.trackingMgr == nil {
		return
	}
	head, controllers := c.trackingMgr.Apply(frame)
	avgLatencyS := float64(c.Stats.PredictionOffsetUs()) / 1e6
	headPredictionS := float32(avgLatencyS) * c.hmdMultiplier * -1
	ctrlPredictionS := float32(avgLatencyS) * c.ctrlMultiplier * -1
	c.Driver.SetTracking(frame.TargetTimestampNs, headPredictionS, ctrlPredictionS, head, controllers, frame.LeftHand, frame.RightHand)
}

// streamLoop reads length-delimited wire frames off a claimed data stream
// and routes them to the matching handler. Tracking and statistics are the
// only reliable-stream payloads the core decodes itself; video/audio/haptics
// payloads are opaque to the lifecycle core and are handed to the caller's
// encoder/decoder pipeline elsewhere.
func (c *Connection) streamLoop(ctx context.Context, id wire.StreamID) {
	stream := c.Result.Socket.Stream(id)
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
		switch id {
		case wire.StreamTracking:
			if tf, ok := decodeTrackingFrame(frame); ok {
				if c.OnTracking != nil {
					c.OnTracking(tf)
				}
				c.pushTrackingToDriver(tf)
			}
		case wire.StreamStatistics:
			if sr, ok := decodeStatisticsSummary(frame); ok {
				c.Stats.Push(statsFromSummary(sr))
				if c.OnStatistics != nil {
					c.OnStatistics(sr)
				}
			}
		}
	}
}

// acceptInboundStreams repeatedly accepts incoming named streams, claimed by
// the client, until every id in want has arrived or ctx is cancelled.
// AwaitStreams elsewhere only polls the registry this populates.
func (c *Connection) acceptInboundStreams(ctx context.Context, want []wire.StreamID) {
	remaining := make(map[wire.StreamID]bool, len(want))
	for _, id := range want {
		remaining[id] = true
	}
	for len(remaining) > 0 {
		if ctx.Err() != nil {
			return
		}
		id, _, err := c.Result.Socket.AcceptNamedStream(ctx)
		if err != nil {
			return
		}
		delete(remaining, id)
	}
}

// videoSendLoop drains VideoFrames onto the VIDEO stream (spec.md §4.4's
// video_send_loop). Fatal: a write failure ends the connection.
func (c *Connection) videoSendLoop(ctx context.Context) error {
	stream := c.Result.Socket.Stream(wire.StreamVideo)
	if stream == nil {
		return fmt.Errorf("supervisor: video stream not claimed")
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case frame := <-c.VideoFrames:
			if err := writeFrame(stream, frame); err != nil {
				return fmt.Errorf("supervisor: write video frame: %w", err)
			}
		}
	}
}

// hapticsSendLoop drains HapticsEvents onto the HAPTICS stream (spec.md
// §4.4's haptics_send_loop). Fatal: a write failure ends the connection.
func (c *Connection) hapticsSendLoop(ctx context.Context) error {
	stream := c.Result.Socket.Stream(wire.StreamHaptics)
	if stream == nil {
		return fmt.Errorf("supervisor: haptics stream not claimed")
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-c.HapticsEvents:
			data, err := json.Marshal(ev)
			if err != nil {
				log.Printf("[supervisor] %s: marshal haptics event: %v", c.Result.Hostname, err)
				continue
			}
			if err := writeFrame(stream, data); err != nil {
				return fmt.Errorf("supervisor: write haptics event: %w", err)
			}
		}
	}
}

// gameAudioSendLoop drains GameAudioFrames onto the AUDIO stream (spec.md
// §4.4's game_audio_loop). Like the other send loops, only a socket write
// failure is fatal here; audio capture happens outside this package.
func (c *Connection) gameAudioSendLoop(ctx context.Context) error {
	stream := c.Result.Socket.Stream(wire.StreamAudio)
	if stream == nil {
		return fmt.Errorf("supervisor: audio stream not claimed")
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case frame := <-c.GameAudioFrames:
			if err := writeFrame(stream, frame); err != nil {
				return fmt.Errorf("supervisor: write game audio frame: %w", err)
			}
		}
	}
}

// keepAliveLoop sends KeepAlive on the control socket every
// keepAliveInterval (spec.md §4.4's keepalive_loop). Fatal on send error.
func (c *Connection) keepAliveLoop(ctx context.Context) error {
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := c.Result.Socket.SendControl(wire.ControlMsg{Type: wire.TypeKeepAlive}); err != nil {
				return fmt.Errorf("supervisor: send keep alive: %w", err)
			}
		}
	}
}
