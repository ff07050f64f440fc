package supervisor

import (
	"context"
	"testing"

	"alvr/server/internal/driver"
	"alvr/server/internal/eventbus"
	"alvr/server/internal/handshake"
	"alvr/server/internal/sessionconfig"
	"alvr/server/internal/transport"
	"alvr/server/internal/wire"
)

func TestNewDefaultsHistorySize(t *testing.T) {
	c := New(handshake.Result{Hostname: "0001.client.alvr"}, 0, nil, nil, nil)
	if c.Stats == nil {
		t.Fatal("expected a non-nil statistics ring")
	}
}

func TestDispatchControlRoutesKnownTypesToHandler(t *testing.T) {
	var got []string
	c := New(handshake.Result{Hostname: "0001.client.alvr"}, 8, nil, nil, nil)
	c.OnControl = func(msg wire.ControlMsg) { got = append(got, msg.Type) }

	c.dispatchControl(wire.ControlMsg{Type: wire.TypeBattery})
	c.dispatchControl(wire.ControlMsg{Type: wire.TypeButton})
	c.dispatchControl(wire.ControlMsg{Type: wire.TypeKeepAlive})

	if len(got) != 2 || got[0] != wire.TypeBattery || got[1] != wire.TypeButton {
		t.Fatalf("expected battery+button routed and keep_alive ignored, got %v", got)
	}
}

func TestDispatchControlIgnoresUnknownTypeWithoutPanicking(t *testing.T) {
	c := New(handshake.Result{Hostname: "0001.client.alvr"}, 8, nil, nil, nil)
	c.dispatchControl(wire.ControlMsg{Type: "something_unrecognized"})
}

func TestDispatchControlRequestIdrAndVideoErrorReachDriver(t *testing.T) {
	bridge := &driver.NoopBridge{}
	c := New(handshake.Result{Hostname: "0001.client.alvr"}, 8, nil, nil, bridge)

	var idrCalls, videoErrCalls int
	spy := &spyBridge{NoopBridge: bridge, onRequestIDR: func() { idrCalls++ }, onVideoError: func() { videoErrCalls++ }}
	c.Driver = spy

	c.dispatchControl(wire.ControlMsg{Type: wire.TypeRequestIdr})
	c.dispatchControl(wire.ControlMsg{Type: wire.TypeVideoErrorReport})

	if idrCalls != 1 {
		t.Fatalf("expected exactly one RequestIDR call, got %d", idrCalls)
	}
	if videoErrCalls != 1 {
		t.Fatalf("expected exactly one ReportVideoError call, got %d", videoErrCalls)
	}
}

func TestDispatchControlPlayspaceSyncClampsAndForwards(t *testing.T) {
	c := New(handshake.Result{Hostname: "0001.client.alvr", Session: sessionconfig.Session{
		Headset: sessionconfig.HeadsetSettings{TrackingMode: sessionconfig.TrackingFullHMD},
	}}, 8, nil, nil, nil)

	c.dispatchControl(wire.ControlMsg{Type: wire.TypePlayspaceSync, PlayspaceW: 1, PlayspaceH: 5})

	select {
	case wh := <-c.playspaceCh:
		if wh[0] != 2.0 || wh[1] != 5.0 {
			t.Fatalf("expected clamp to (2.0, 5.0), got %v", wh)
		}
	default:
		t.Fatal("expected a playspace update to be queued")
	}
}

func TestDispatchControlPlayspaceSyncIgnoredWhenReferenceOnly(t *testing.T) {
	c := New(handshake.Result{Hostname: "0001.client.alvr", Session: sessionconfig.Session{
		Headset: sessionconfig.HeadsetSettings{TrackingMode: sessionconfig.TrackingReferenceOnly},
	}}, 8, nil, nil, nil)

	c.dispatchControl(wire.ControlMsg{Type: wire.TypePlayspaceSync, PlayspaceW: 10, PlayspaceH: 10})

	select {
	case wh := <-c.playspaceCh:
		t.Fatalf("expected no playspace update in reference-only mode, got %v", wh)
	default:
	}
}

func TestPushTrackingToDriverForwardsMappedMotions(t *testing.T) {
	bridge := &driver.NoopBridge{}
	c := New(handshake.Result{Hostname: "0001.client.alvr", Session: sessionconfig.Session{
		Headset: sessionconfig.HeadsetSettings{
			TrackingMode:            sessionconfig.TrackingFullHMD,
			Controllers:             sessionconfig.ControllerSettings{Enabled: true},
			HmdPredictionMultiplier: 1.0,
		},
	}}, 8, nil, nil, bridge)

	c.pushTrackingToDriver(wire.TrackingFrame{
		TargetTimestampNs: 42,
		Motions:           []wire.MotionData{{DeviceID: wire.HeadDeviceID}, {DeviceID: 9}},
	})

	if bridge.LastTrackingTimestampNs != 42 {
		t.Fatalf("expected timestamp 42, got %d", bridge.LastTrackingTimestampNs)
	}
	if bridge.LastHead == nil {
		t.Fatal("expected a head motion forwarded to the driver")
	}
	if len(bridge.LastControllers) != 1 || bridge.LastControllers[0].DeviceID != 9 {
		t.Fatalf("expected one surviving controller motion, got %+v", bridge.LastControllers)
	}
}

func TestPushTrackingToDriverNoopWithoutDriver(t *testing.T) {
	c := New(handshake.Result{Hostname: "0001.client.alvr"}, 8, nil, nil, nil)
	c.pushTrackingToDriver(wire.TrackingFrame{Motions: []wire.MotionData{{DeviceID: wire.HeadDeviceID}}})
}

func TestSpawnScriptIsNoopOnBlankPath(t *testing.T) {
	spawnScript("", "connect") // must not panic or attempt to exec anything
}

func TestReleaseStreamGuardStopsStreamingAndIsSafeWithoutDriver(t *testing.T) {
	bridge := &driver.NoopBridge{}
	bridge.StartStreaming()
	c := New(handshake.Result{Hostname: "0001.client.alvr"}, 8, nil, nil, bridge)
	c.releaseStreamGuard()
	if bridge.Streaming {
		t.Fatal("expected releaseStreamGuard to stop streaming")
	}

	c2 := New(handshake.Result{Hostname: "0001.client.alvr"}, 8, nil, nil, nil)
	c2.releaseStreamGuard() // no driver: must not panic
}

func TestCloseIsSafeBeforeRun(t *testing.T) {
	c := New(handshake.Result{}, 8, eventbus.New(), nil, nil)
	c.Close() // cancel is nil until Run(); must not panic
}

func TestVideoSendLoopErrorsWhenStreamNotClaimed(t *testing.T) {
	c := New(handshake.Result{Socket: &transport.Socket{}}, 8, nil, nil, nil)
	if err := c.videoSendLoop(context.Background()); err == nil {
		t.Fatal("expected an error when the video stream was never claimed")
	}
}

func TestHapticsSendLoopErrorsWhenStreamNotClaimed(t *testing.T) {
	c := New(handshake.Result{Socket: &transport.Socket{}}, 8, nil, nil, nil)
	if err := c.hapticsSendLoop(context.Background()); err == nil {
		t.Fatal("expected an error when the haptics stream was never claimed")
	}
}

func TestGameAudioSendLoopErrorsWhenStreamNotClaimed(t *testing.T) {
	c := New(handshake.Result{Socket: &transport.Socket{}}, 8, nil, nil, nil)
	if err := c.gameAudioSendLoop(context.Background()); err == nil {
		t.Fatal("expected an error when the audio stream was never claimed")
	}
}

func TestKeepAliveLoopReturnsNilOnAlreadyCancelledContext(t *testing.T) {
	c := New(handshake.Result{Socket: &transport.Socket{}}, 8, nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.keepAliveLoop(ctx); err != nil {
		t.Fatalf("expected nil on an already-cancelled context, got %v", err)
	}
}

func TestAcceptInboundStreamsReturnsOnCancelledContext(t *testing.T) {
	c := New(handshake.Result{Socket: &transport.Socket{}}, 8, nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c.acceptInboundStreams(ctx, []wire.StreamID{wire.StreamTracking})
}

// spyBridge wraps a *driver.NoopBridge to observe RequestIDR/ReportVideoError
// calls without reimplementing the rest of driver.Bridge.
type spyBridge struct {
	*driver.NoopBridge
	onRequestIDR func()
	onVideoError func()
}

func (s *spyBridge) RequestIDR() {
	if s.onRequestIDR != nil {
		s.onRequestIDR()
	}
}

func (s *spyBridge) ReportVideoError() {
	if s.onVideoError != nil {
		s.onVideoError()
	}
}
