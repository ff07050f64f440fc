// Package tracking converts raw per-device pose samples (head, controllers,
// hand bones) into the wire.TrackingFrame shape sent on the TRACKING stream.
// New domain logic — grounded on original_source/client_core/src/lib.rs's
// alvr_send_tracking, which does the same orientation/position/velocity
// flattening plus the 19-bone hand-skeleton packing this package mirrors.
package tracking

import (
	"github.com/pion/rtp"

	"alvr/client/internal/wire"
)

// Motion is one tracked device's raw pose sample, keyed by a stable device
// id (head, left/right controller, trackers...), mirroring
// AlvrDeviceMotion's fields.
type Motion struct {
	DeviceID        uint64
	Orientation     wire.Quaternion
	Position        wire.Vec3
	LinearVelocity  wire.Vec3
	AngularVelocity wire.Vec3
}

// HandBones holds the 19 bone rotations alvr_send_tracking reads from an
// OculusHand sample. Builder takes a *HandBones, nil when that hand isn't
// tracked this frame.
type HandBones = wire.HandSkeleton

// Builder accumulates one frame's worth of device motions before emitting
// a wire.TrackingFrame, the way alvr_send_tracking batches device_motions
// into a single Tracking value per call.
type Builder struct {
	targetTimestampNs int64
	motions           []wire.MotionData
	left              *HandBones
	right             *HandBones
}

// NewBuilder starts a frame tagged with targetTimestampNs, the render time
// this sample predicts for.
func NewBuilder(targetTimestampNs int64) *Builder {
	return &Builder{targetTimestampNs: targetTimestampNs}
}

// AddMotion appends one device's pose sample to the frame.
func (b *Builder) AddMotion(m Motion) *Builder {
	b.motions = append(b.motions, wire.MotionData{
		DeviceID:        m.DeviceID,
		Orientation:     m.Orientation,
		Position:        m.Position,
		LinearVelocity:  m.LinearVelocity,
		AngularVelocity: m.AngularVelocity,
	})
	return b
}

// SetLeftHand attaches the left hand's bone rotations, or clears it if
// bones is nil (hand not tracked this frame).
func (b *Builder) SetLeftHand(bones *HandBones) *Builder {
	b.left = bones
	return b
}

// SetRightHand attaches the right hand's bone rotations.
func (b *Builder) SetRightHand(bones *HandBones) *Builder {
	b.right = bones
	return b
}

// Build returns the accumulated frame ready to send on the TRACKING
// stream.
func (b *Builder) Build() wire.TrackingFrame {
	return wire.TrackingFrame{
		TargetTimestampNs: b.targetTimestampNs,
		Motions:           b.motions,
		LeftHand:          b.left,
		RightHand:         b.right,
	}
}

// rtpClockRate is the 90kHz media clock RTP conventionally uses for video
// timestamps (RFC 6184); reusing it here keeps the wraparound-safe 32-bit
// timestamp convention this package borrows from pion/rtp consistent with
// what the video pipeline's own RTP framing would use if this project ever
// carries tracking over an RTP transport instead of a WebTransport stream.
const rtpClockRate = 90000

// RTPTimestamp converts a monotonic nanosecond timestamp to the 32-bit,
// wraparound RTP clock domain via an rtp.Header, so callers correlating a
// tracking sample against RTP-timestamped video frames can compare them on
// the same clock.
func RTPTimestamp(ns int64) uint32 {
	hdr := rtp.Header{Timestamp: uint32(uint64(ns) * rtpClockRate / 1e9)}
	return hdr.Timestamp
}
