// Package wire defines the control packet envelope and stream ids shared by
// the discovery, handshake, transport and tracking packages. It mirrors
// server/internal/wire field-for-field; the two are kept as independent
// copies because the client and server modules never import each other.
package wire

// StreamID names one multiplexed data stream. Both endpoints agree on these
// constants out of band; claiming the same id twice on one Socket is a
// programming error (see transport.Socket).
type StreamID string

const (
	StreamVideo      StreamID = "VIDEO"
	StreamAudio      StreamID = "AUDIO"
	StreamHaptics    StreamID = "HAPTICS"
	StreamTracking   StreamID = "TRACKING"
	StreamStatistics StreamID = "STATISTICS"
)

// HandshakePacket is broadcast by the client during discovery.
type HandshakePacket struct {
	Hostname   string `json:"hostname"`
	DeviceName string `json:"device_name"`
	ProtocolID int    `json:"protocol_id"`
}

// Resolution is a width/height pair in pixels.
type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// HeadsetInfo is sent by the client once a control connection is open.
type HeadsetInfo struct {
	RecommendedEyeResolution Resolution `json:"recommended_eye_resolution"`
	AvailableRefreshRates    []float32  `json:"available_refresh_rates"`
	PreferredRefreshRate     float32    `json:"preferred_refresh_rate"`
	MicSampleRate            int        `json:"mic_sample_rate"`
	Version                  string     `json:"version"`
}

// ControlMsg is the tagged-union control envelope exchanged on the control
// socket in both directions, mirroring server/internal/wire.ControlMsg.
type ControlMsg struct {
	Type string `json:"type"`

	// ServerAccepted / ClientStandby (client -> server, reply to connect)
	Headset        *HeadsetInfo `json:"headset,omitempty"`
	ServerIPAsSeen string       `json:"server_ip_as_seen,omitempty"`

	// ClientConfigPacket (server -> client)
	SessionJSON         string     `json:"session_json,omitempty"`
	DashboardURL        string     `json:"dashboard_url,omitempty"`
	EyeResolution       Resolution `json:"eye_resolution,omitempty"`
	Fps                 float32    `json:"fps,omitempty"`
	GameAudioSampleRate int        `json:"game_audio_sample_rate,omitempty"`
	ServerVersion       string     `json:"server_version,omitempty"`

	// StartStream / StreamReady: no payload beyond Type.

	// PlayspaceSync (client -> server)
	PlayspaceW float32 `json:"playspace_w,omitempty"`
	PlayspaceH float32 `json:"playspace_h,omitempty"`

	// ViewsConfig (client -> server)
	FovLeft  [4]float32 `json:"fov_left,omitempty"`
	FovRight [4]float32 `json:"fov_right,omitempty"`
	IpdM     float32    `json:"ipd_m,omitempty"`

	// Battery (client -> server)
	BatteryDevice  uint64  `json:"battery_device,omitempty"`
	BatteryGauge   float32 `json:"battery_gauge,omitempty"`
	BatteryPlugged bool    `json:"battery_plugged,omitempty"`

	// Button (client -> server)
	ButtonPathID uint64   `json:"button_path_id,omitempty"`
	ButtonBinary *bool    `json:"button_binary,omitempty"`
	ButtonScalar *float32 `json:"button_scalar,omitempty"`

	// KeepAlive: no payload.
	// RequestIdr, VideoErrorReport: no payload.
	// Restarting: no payload.
}

// Control message type constants, mirroring server/internal/wire.
const (
	TypeServerAccepted   = "server_accepted"
	TypeClientStandby    = "client_standby"
	TypeClientConfig     = "client_config"
	TypeRestarting       = "restarting"
	TypeStartStream      = "start_stream"
	TypeStreamReady      = "stream_ready"
	TypeKeepAlive        = "keep_alive"
	TypePlayspaceSync    = "playspace_sync"
	TypeRequestIdr       = "request_idr"
	TypeVideoErrorReport = "video_error_report"
	TypeViewsConfig      = "views_config"
	TypeBattery          = "battery"
	TypeButton           = "button"
)

// Quaternion is a unit rotation, stored inline (never as a heap slice) to
// avoid per-frame allocation in tracking-frame hot paths.
type Quaternion struct {
	X, Y, Z, W float32
}

// Vec3 is a 3-component vector (position, linear or angular velocity).
type Vec3 struct {
	X, Y, Z float32
}

// MotionData describes one tracked device's pose and velocities.
type MotionData struct {
	DeviceID        uint64
	Orientation     Quaternion
	Position        Vec3
	LinearVelocity  Vec3
	AngularVelocity Vec3
}

// HandSkeleton holds the 19 bone rotations for one hand, stored inline
// (fixed-length array, not a slice) so a per-frame conversion never
// allocates.
type HandSkeleton [19]Quaternion

// TrackingFrame is one client->server tracking sample.
type TrackingFrame struct {
	TargetTimestampNs int64
	Motions           []MotionData
	LeftHand          *HandSkeleton
	RightHand         *HandSkeleton
}

// ClientStatisticsSummary is the client's per-report rollup sent on the
// STATISTICS stream.
type ClientStatisticsSummary struct {
	TargetTimestampNs int64
	FrameSpanUs       int64
	ClientFps         float32
	DecodeIntervalUs  int64
}

// HapticsEvent is one haptic pulse pushed on the HAPTICS stream
// (server -> client).
type HapticsEvent struct {
	Device    uint64  `json:"device"`
	Duration  float32 `json:"duration"`
	Frequency float32 `json:"frequency"`
	Amplitude float32 `json:"amplitude"`
}

// ButtonPath resolves a bijective path-string <-> numeric id table, per
// original_source's button path resolution (lib.rs): an explicit table with
// an "Unknown (0x...)" fallback rendering rather than a lossy hash.
type ButtonPath struct {
	ID   uint64
	Path string
}

var buttonPaths = []ButtonPath{
	{ID: 1, Path: "/input/system/click"},
	{ID: 2, Path: "/input/menu/click"},
	{ID: 3, Path: "/input/trigger/click"},
	{ID: 4, Path: "/input/trigger/value"},
	{ID: 5, Path: "/input/grip/click"},
	{ID: 6, Path: "/input/grip/value"},
	{ID: 7, Path: "/input/joystick/click"},
	{ID: 8, Path: "/input/joystick/x"},
	{ID: 9, Path: "/input/joystick/y"},
	{ID: 10, Path: "/input/a/click"},
	{ID: 11, Path: "/input/b/click"},
}

// ButtonPathString renders id's path, or "Unknown (0x...)" if id isn't in
// the table.
func ButtonPathString(id uint64) string {
	for _, bp := range buttonPaths {
		if bp.ID == id {
			return bp.Path
		}
	}
	return unknownButtonPath(id)
}

// ButtonPathID resolves path to its numeric id, or (0, false) if unknown.
func ButtonPathID(path string) (uint64, bool) {
	for _, bp := range buttonPaths {
		if bp.Path == path {
			return bp.ID, true
		}
	}
	return 0, false
}

func unknownButtonPath(id uint64) string {
	const hexDigits = "0123456789abcdef"
	if id == 0 {
		return "Unknown (0x0)"
	}
	var digits []byte
	for v := id; v > 0; v /= 16 {
		digits = append([]byte{hexDigits[v%16]}, digits...)
	}
	return "Unknown (0x" + string(digits) + ")"
}
