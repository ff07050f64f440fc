package main

/*
#include <stdint.h>
#include <stdbool.h>

typedef struct {
	float fov_left[4];
	float fov_right[4];
	float ipd_m;
} AlvrFov;

typedef struct {
	uint64_t device_id;
	float orientation[4];
	float position[3];
	float linear_velocity[3];
	float angular_velocity[3];
} AlvrMotion;

typedef struct {
	int32_t kind;
	uint64_t haptics_device;
	float haptics_duration;
	float haptics_frequency;
	float haptics_amplitude;
	int32_t decoder_codec;
} AlvrEvent;
*/
import "C"

import (
	"context"
	"sync"
	"time"
	"unsafe"

	"alvr/client/internal/audiodevice"
	"alvr/client/internal/discovery"
	"alvr/client/internal/engine"
	"alvr/client/internal/handshake"
	"alvr/client/internal/persist"
	"alvr/client/internal/tlsutil"
	"alvr/client/internal/tracking"
	"alvr/client/internal/transport"
	"alvr/client/internal/wire"
)

// certValidity matches cmd/alvr-client's default; the native host has no
// config surface for it.
const certValidity = 24 * time.Hour

// state is the single package-level instance backing every exported
// function; cgo exports must be free functions, not methods, so every
// alvr_* call below reaches into this struct under its own mutex.
type state struct {
	mu sync.Mutex

	eng      *engine.Engine
	listener *transport.Listener
	emitter  *discovery.Emitter
	responder *discovery.Responder
	mic      *audiodevice.Capture

	cancel context.CancelFunc
	queue  *eventQueue

	predictionOffsetNs int64
}

var g = &state{queue: newEventQueue()}

func main() {} // unused; required for -buildmode=c-shared.

//export alvr_initialize
func alvr_initialize(recW, recH C.int32_t, refreshRates *C.float, rrCount C.int32_t, useOpengl, externalDecoder C.bool) C.bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.eng != nil {
		return true // already initialized; idempotent per spec.md §6.
	}

	rates := make([]float32, int(rrCount))
	if rrCount > 0 && refreshRates != nil {
		src := unsafe.Slice((*C.float)(unsafe.Pointer(refreshRates)), int(rrCount))
		for i, r := range src {
			rates[i] = float32(r)
		}
	}
	preferred := float32(90)
	if len(rates) > 0 {
		preferred = rates[0]
	}

	identityPath, err := persist.Path()
	if err != nil {
		return false
	}
	identity := persist.Load(identityPath)

	tlsConfig, _, err := tlsutil.Generate(certValidity, identity.Hostname)
	if err != nil {
		return false
	}

	listener, err := transport.Listen(":0", tlsConfig)
	if err != nil {
		return false
	}

	emitter, err := discovery.NewEmitter(identity.Hostname, "alvr headset")
	if err != nil {
		listener.Close()
		return false
	}
	responder, err := discovery.NewResponder(identity.Hostname)
	if err != nil {
		emitter.Close()
		listener.Close()
		return false
	}

	headset := wire.HeadsetInfo{
		RecommendedEyeResolution: wire.Resolution{Width: int(recW), Height: int(recH)},
		AvailableRefreshRates:    rates,
		PreferredRefreshRate:     preferred,
		MicSampleRate:            48000,
		Version:                  "1.0.0",
	}

	handlers := engine.Handlers{
		OnVideoFrame: func(data []byte) {
			g.queue.push(AlvrEvent{Kind: EventNalReady})
		},
		OnHaptics: func(ev wire.HapticsEvent) {
			g.queue.push(AlvrEvent{
				Kind:             EventHaptics,
				HapticsDevice:    ev.Device,
				HapticsDuration:  ev.Duration,
				HapticsFrequency: ev.Frequency,
				HapticsAmplitude: ev.Amplitude,
			})
		},
		OnStreamingStarted: func(res handshake.Result) {
			g.queue.push(AlvrEvent{Kind: EventStreamingStarted})
		},
		OnStreamingStopped: func() {
			g.queue.push(AlvrEvent{Kind: EventStreamingStopped})
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	eng := engine.New(listener, headset, handlers)

	g.eng = eng
	g.listener = listener
	g.emitter = emitter
	g.responder = responder
	g.cancel = cancel

	go eng.Run(ctx)
	go emitter.Run(ctx, 1*time.Second)

	return true
}

//export alvr_destroy
func alvr_destroy() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.cancel != nil {
		g.cancel()
	}
	if g.mic != nil {
		g.mic.Stop()
		g.mic = nil
	}
	if g.emitter != nil {
		g.emitter.Close()
		g.emitter = nil
	}
	if g.responder != nil {
		g.responder.Close()
		g.responder = nil
	}
	if g.listener != nil {
		g.listener.Close()
		g.listener = nil
	}
	g.eng = nil
	g.cancel = nil
	g.queue.reset()
}

//export alvr_resume
func alvr_resume() C.bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.eng == nil {
		return false
	}
	if g.mic == nil {
		if capture, err := audiodevice.NewCapture(-1, 48000, 960, 8); err == nil {
			capture.SetNoiseSuppression(true, 1.0)
			g.mic = capture
			g.mic.Start()
		}
	}
	return true
}

//export alvr_pause
func alvr_pause() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.mic != nil {
		g.mic.Stop()
		g.mic = nil
	}
}

//export alvr_poll_event
func alvr_poll_event(out *C.AlvrEvent) C.bool {
	ev, ok := g.queue.pop()
	if !ok || out == nil {
		return false
	}
	out.kind = C.int32_t(ev.Kind)
	out.haptics_device = C.uint64_t(ev.HapticsDevice)
	out.haptics_duration = C.float(ev.HapticsDuration)
	out.haptics_frequency = C.float(ev.HapticsFrequency)
	out.haptics_amplitude = C.float(ev.HapticsAmplitude)
	out.decoder_codec = C.int32_t(ev.DecoderCodec)
	return true
}

//export alvr_send_views_config
func alvr_send_views_config(fov *C.AlvrFov) C.bool {
	eng := g.currentEngine()
	if eng == nil || fov == nil {
		return false
	}
	msg := wire.ControlMsg{
		Type: wire.TypeViewsConfig,
		FovLeft: [4]float32{
			float32(fov.fov_left[0]), float32(fov.fov_left[1]),
			float32(fov.fov_left[2]), float32(fov.fov_left[3]),
		},
		FovRight: [4]float32{
			float32(fov.fov_right[0]), float32(fov.fov_right[1]),
			float32(fov.fov_right[2]), float32(fov.fov_right[3]),
		},
		IpdM: float32(fov.ipd_m),
	}
	return C.bool(eng.SendViewsConfig(msg) == nil)
}

//export alvr_send_battery
func alvr_send_battery(device C.uint64_t, gauge C.float, plugged C.bool) C.bool {
	eng := g.currentEngine()
	if eng == nil {
		return false
	}
	msg := wire.ControlMsg{
		Type:           wire.TypeBattery,
		BatteryDevice:  uint64(device),
		BatteryGauge:   float32(gauge),
		BatteryPlugged: bool(plugged),
	}
	return C.bool(eng.SendBattery(msg) == nil)
}

//export alvr_send_playspace
func alvr_send_playspace(w, h C.float) C.bool {
	eng := g.currentEngine()
	if eng == nil {
		return false
	}
	msg := wire.ControlMsg{
		Type:       wire.TypePlayspaceSync,
		PlayspaceW: float32(w),
		PlayspaceH: float32(h),
	}
	return C.bool(eng.SendPlayspaceSync(msg) == nil)
}

//export alvr_send_button
func alvr_send_button(pathID C.uint64_t, hasBinary C.bool, binary C.bool, hasScalar C.bool, scalar C.float) C.bool {
	eng := g.currentEngine()
	if eng == nil {
		return false
	}
	msg := wire.ControlMsg{Type: wire.TypeButton, ButtonPathID: uint64(pathID)}
	if bool(hasBinary) {
		b := bool(binary)
		msg.ButtonBinary = &b
	}
	if bool(hasScalar) {
		s := float32(scalar)
		msg.ButtonScalar = &s
	}
	return C.bool(eng.SendButton(msg) == nil)
}

//export alvr_send_tracking
func alvr_send_tracking(timestampNs C.int64_t, motions *C.AlvrMotion, n C.int32_t) C.bool {
	eng := g.currentEngine()
	if eng == nil {
		return false
	}
	b := tracking.NewBuilder(int64(timestampNs))
	if n > 0 && motions != nil {
		src := unsafe.Slice((*C.AlvrMotion)(unsafe.Pointer(motions)), int(n))
		for _, m := range src {
			b.AddMotion(tracking.Motion{
				DeviceID: uint64(m.device_id),
				Orientation: wire.Quaternion{
					X: float32(m.orientation[0]), Y: float32(m.orientation[1]),
					Z: float32(m.orientation[2]), W: float32(m.orientation[3]),
				},
				Position: wire.Vec3{
					X: float32(m.position[0]), Y: float32(m.position[1]), Z: float32(m.position[2]),
				},
				LinearVelocity: wire.Vec3{
					X: float32(m.linear_velocity[0]), Y: float32(m.linear_velocity[1]), Z: float32(m.linear_velocity[2]),
				},
				AngularVelocity: wire.Vec3{
					X: float32(m.angular_velocity[0]), Y: float32(m.angular_velocity[1]), Z: float32(m.angular_velocity[2]),
				},
			})
		}
	}
	return C.bool(eng.SendTracking(b.Build()) == nil)
}

//export alvr_get_prediction_offset_ns
func alvr_get_prediction_offset_ns() C.uint64_t {
	g.mu.Lock()
	defer g.mu.Unlock()
	return C.uint64_t(g.predictionOffsetNs)
}

//export alvr_report_submit
func alvr_report_submit(tsNs C.int64_t, vsyncQueueNs C.int64_t) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.predictionOffsetNs = int64(vsyncQueueNs)
}

//export alvr_request_idr
func alvr_request_idr() C.bool {
	eng := g.currentEngine()
	if eng == nil {
		return false
	}
	return C.bool(eng.RequestIdr() == nil)
}

//export alvr_report_frame_decoded
func alvr_report_frame_decoded(tsNs C.int64_t) {
	eng := g.currentEngine()
	if eng == nil {
		return
	}
	_ = eng.SendStatistics(wire.ClientStatisticsSummary{TargetTimestampNs: int64(tsNs)})
}

// currentEngine returns the live Engine, or nil if alvr_initialize hasn't
// run (or alvr_destroy already tore it down).
func (s *state) currentEngine() *engine.Engine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eng
}
