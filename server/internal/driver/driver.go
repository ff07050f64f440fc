// Package driver defines the boundary between the connection lifecycle core
// and the actual OpenVR/SteamVR driver process. The real driver lives
// outside this module (a native DLL/SO loaded by SteamVR); ApplyConfig is
// the single call site the rest of the core uses to push configuration to
// it and learn whether a restart is required. The streaming-phase calls
// (SetTracking, RequestIDR, ...) are the rest of the boundary the Stream
// Supervisor drives once a connection is live, grounded on original_source's
// unsafe driver FFI calls (SetTracking, RequestIDR, VideoErrorReportReceive,
// SetChaperone, SetViewsConfig, ...).
package driver

import (
	"alvr/server/internal/sessionconfig"
	"alvr/server/internal/wire"
)

// Bridge is implemented by whatever talks to the actual VR runtime. The
// Supervisor accepts a nil Bridge (headless tests), but handshake.Run calls
// ApplyConfig unconditionally and needs a non-nil one; a zero-value
// NoopBridge serves there and reports "restart required" on its first
// ApplyConfig so callers never silently skip applying a config.
type Bridge interface {
	// ApplyConfig pushes cfg to the driver. needsRestart reports whether the
	// driver process must be restarted for cfg to take effect, computed by
	// comparing cfg against whatever was last applied (spec.md §3 invariant:
	// OpenvrConfig equality is the sole driver-restart trigger).
	ApplyConfig(cfg sessionconfig.OpenvrConfig) (needsRestart bool, err error)

	// Restart restarts the driver process.
	Restart() error

	// StartStreaming and StopStreaming bracket one connection's streaming
	// phase (spec.md §4.4 steps 4-5): StartStreaming runs once the client
	// has acknowledged StreamReady, StopStreaming on every exit path the
	// stream close guard covers.
	StartStreaming()
	StopStreaming()

	// SetTracking pushes one mapped tracking frame to the driver. head is
	// nil when the frame carried no head motion; controllers has already
	// been filtered by the connection's TrackingManager policy. The
	// predictions are seconds, already signed per spec.md's
	// LAST_AVERAGE_TOTAL_LATENCY × multiplier × −1.
	SetTracking(targetTimestampNs int64, headPredictionS, controllerPredictionS float32, head *wire.MotionData, controllers []wire.MotionData, leftHand, rightHand *wire.HandSkeleton)

	// RequestIDR and ReportVideoError forward the client's RequestIdr /
	// VideoErrorReport control messages (spec.md §4.4 control dispatch).
	RequestIDR()
	ReportVideoError()

	// SetChaperone pushes a client-reported playspace size, already
	// clamped to a 2x2m floor, to the driver's chaperone API.
	SetChaperone(widthM, heightM float32)

	// SetViewsConfig and SetBattery forward the matching control messages.
	SetViewsConfig(fovLeft, fovRight [4]float32, ipdM float32)
	SetBattery(device uint64, gauge float32, plugged bool)

	// SetButton forwards one resolved input event to the driver.
	SetButton(pathID uint64, binary *bool, scalar *float32)
}

// NoopBridge is a Bridge that tracks the last-applied config (and the last
// streaming-phase calls, for test assertions) in memory and never actually
// talks to a driver. Useful for tests and for running the lifecycle core
// without SteamVR attached.
type NoopBridge struct {
	last    sessionconfig.OpenvrConfig
	hasLast bool

	Streaming bool

	LastTrackingTimestampNs int64
	LastHead                *wire.MotionData
	LastControllers         []wire.MotionData

	LastChaperoneWidthM, LastChaperoneHeightM float32
}

// ApplyConfig implements Bridge by diffing cfg against the previously
// applied value using OpenvrConfig.Equal.
func (b *NoopBridge) ApplyConfig(cfg sessionconfig.OpenvrConfig) (bool, error) {
	needsRestart := !b.hasLast || !b.last.Equal(cfg)
	b.last = cfg
	b.hasLast = true
	return needsRestart, nil
}

// Restart is a no-op.
func (b *NoopBridge) Restart() error { return nil }

// StartStreaming marks the bridge as streaming.
func (b *NoopBridge) StartStreaming() { b.Streaming = true }

// StopStreaming marks the bridge as no longer streaming.
func (b *NoopBridge) StopStreaming() { b.Streaming = false }

// SetTracking records the last tracking call it received.
func (b *NoopBridge) SetTracking(targetTimestampNs int64, _, _ float32, head *wire.MotionData, controllers []wire.MotionData, _, _ *wire.HandSkeleton) {
	b.LastTrackingTimestampNs = targetTimestampNs
	b.LastHead = head
	b.LastControllers = controllers
}

// RequestIDR is a no-op.
func (b *NoopBridge) RequestIDR() {}

// ReportVideoError is a no-op.
func (b *NoopBridge) ReportVideoError() {}

// SetChaperone records the last clamped playspace size it received.
func (b *NoopBridge) SetChaperone(widthM, heightM float32) {
	b.LastChaperoneWidthM, b.LastChaperoneHeightM = widthM, heightM
}

// SetViewsConfig is a no-op.
func (b *NoopBridge) SetViewsConfig(fovLeft, fovRight [4]float32, ipdM float32) {}

// SetBattery is a no-op.
func (b *NoopBridge) SetBattery(device uint64, gauge float32, plugged bool) {}

// SetButton is a no-op.
func (b *NoopBridge) SetButton(pathID uint64, binary *bool, scalar *float32) {}
