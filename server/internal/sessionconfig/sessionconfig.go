// Package sessionconfig owns the server-persisted Session Config, the
// derived OpenVR Config, and the negotiation math (eye resolution rounding,
// refresh-rate selection) that turns a client's HeadsetInfo plus the current
// settings into a concrete configuration for one connection attempt.
package sessionconfig

import (
	"encoding/json"
	"fmt"

	"alvr/server/internal/wire"
)

// eyeResolutionAlignment is the multiple every negotiated eye dimension must
// round down to. Invariant (spec.md §8): dim % 32 == 0.
const eyeResolutionAlignment = 32

// AdaptiveBitrate holds the bitrate controller's tunables.
type AdaptiveBitrate struct {
	Enabled       bool    `json:"enabled"`
	MaxBitrateMbs float32 `json:"max_bitrate_mbs"`
	MinBitrateMbs float32 `json:"min_bitrate_mbs"`
}

// Foveation holds foveated-rendering tunables.
type Foveation struct {
	Enabled         bool    `json:"enabled"`
	CenterSizeX     float32 `json:"center_size_x"`
	CenterSizeY     float32 `json:"center_size_y"`
	EdgeRatio       float32 `json:"edge_ratio"`
}

// ColorCorrection holds color-grading tunables applied before encode.
type ColorCorrection struct {
	Brightness float32 `json:"brightness"`
	Contrast   float32 `json:"contrast"`
	Saturation float32 `json:"saturation"`
	Gamma      float32 `json:"gamma"`
}

// VideoSettings is the video half of the Session Config.
type VideoSettings struct {
	Codec             string          `json:"codec"` // "h264" | "h265"
	EncodeBitrateMbs   float32         `json:"encode_bitrate_mbs"`
	AdaptiveBitrate    AdaptiveBitrate `json:"adaptive_bitrate"`
	Foveation          Foveation       `json:"foveation"`
	ColorCorrection    ColorCorrection `json:"color_correction"`
	ResolutionScale    float32         `json:"resolution_scale"`
	ResolutionOverride *wire.Resolution `json:"resolution_override,omitempty"`
	UseFec             bool            `json:"use_fec"` // FEC is a boolean policy flag only, per spec Non-goals
}

// ControllerSettings configures controller emulation.
type ControllerSettings struct {
	Enabled bool `json:"enabled"`
}

// TrackingMode selects what the server exposes to the VR runtime.
type TrackingMode string

const (
	TrackingFullHMD        TrackingMode = "full_hmd"
	TrackingReferenceOnly  TrackingMode = "reference_only"
)

// HeadsetSettings is the headset half of the Session Config.
type HeadsetSettings struct {
	SerialNumber    string             `json:"serial_number"`
	TrackingMode    TrackingMode       `json:"tracking_mode"`
	Controllers     ControllerSettings `json:"controllers"`
	PositionOffset  wire.Vec3          `json:"position_offset"`

	// HmdPredictionMultiplier and ControllerPredictionMultiplier scale the
	// measured average pipeline latency into the head/controller pose
	// prediction pushed to the driver (spec.md §4.4's tracking receive
	// transforms), mirroring original_source's
	// steamvr_hmd_prediction_multiplier / steamvr_ctrl_prediction_multiplier.
	HmdPredictionMultiplier        float32 `json:"hmd_prediction_multiplier"`
	ControllerPredictionMultiplier float32 `json:"controller_prediction_multiplier"`
}

// ConnectionSettings carries ports, keepalive and history sizing.
type ConnectionSettings struct {
	ControlPort          int    `json:"control_port"`
	StreamPort            int    `json:"stream_port"`
	KeepaliveIntervalMs   int    `json:"keepalive_interval_ms"`
	StatisticsHistorySize int    `json:"statistics_history_size"`
	OnConnectScript       string `json:"on_connect_script"`
	OnDisconnectScript    string `json:"on_disconnect_script"`
}

// Session is the full persisted server configuration.
type Session struct {
	Video          VideoSettings      `json:"video"`
	Headset        HeadsetSettings    `json:"headset"`
	Connection     ConnectionSettings `json:"connection"`
	PreferredFps   float32            `json:"preferred_fps"`
	GameAudioEnabled bool             `json:"game_audio_enabled"`
	GameAudioDeviceSampleRate int     `json:"game_audio_device_sample_rate"`
}

// Default returns factory-default session settings, in the spirit of the
// teacher's config.Default().
func Default() Session {
	return Session{
		Video: VideoSettings{
			Codec:            "h264",
			EncodeBitrateMbs: 30,
			AdaptiveBitrate:  AdaptiveBitrate{Enabled: true, MaxBitrateMbs: 100, MinBitrateMbs: 5},
			ResolutionScale:  1.0,
		},
		Headset: HeadsetSettings{
			TrackingMode:                   TrackingFullHMD,
			Controllers:                    ControllerSettings{Enabled: true},
			HmdPredictionMultiplier:        1.0,
			ControllerPredictionMultiplier: 1.0,
		},
		Connection: ConnectionSettings{
			ControlPort:           9943,
			StreamPort:            9944,
			KeepaliveIntervalMs:   1000,
			StatisticsHistorySize: 256,
		},
		PreferredFps: 72,
	}
}

// OpenvrConfig is the flat struct handed to the VR driver. The real ALVR
// driver config has ~80 fields; this carries the subset the core's
// negotiation and invariants actually depend on; implementers extend it
// without changing the restart-decision semantics.
type OpenvrConfig struct {
	EyeWidth       int          `json:"eye_width"`
	EyeHeight      int          `json:"eye_height"`
	Fps            float32      `json:"fps"`
	TrackingMode   TrackingMode `json:"tracking_mode"`
	ControllersOn  bool         `json:"controllers_on"`
	SerialNumber   string       `json:"serial_number"`
	PositionOffset wire.Vec3    `json:"position_offset"`
	EncodeBitrateMbs float32    `json:"encode_bitrate_mbs"`
	FoveationOn    bool         `json:"foveation_on"`
}

// Equal reports whether two OpenvrConfig values are identical. Used to
// decide whether the driver needs a restart (spec.md §3 invariant).
func (c OpenvrConfig) Equal(o OpenvrConfig) bool {
	return c == o
}

// roundDownToMultiple rounds v down to the nearest multiple of m (m > 0).
func roundDownToMultiple(v, m int) int {
	if v < 0 {
		return 0
	}
	return (v / m) * m
}

// NegotiateEyeResolution applies the configured scale (or an absolute
// override, when set) to the headset's recommendation and rounds each
// dimension down to a 32-pixel multiple, per spec.md §4.3 step 3 and the
// invariant in §8 (dim % 32 == 0 for any negotiated eye dimension).
func NegotiateEyeResolution(recommended wire.Resolution, v VideoSettings) wire.Resolution {
	w, h := recommended.Width, recommended.Height
	if v.ResolutionOverride != nil {
		w, h = v.ResolutionOverride.Width, v.ResolutionOverride.Height
	} else {
		scale := v.ResolutionScale
		if scale <= 0 {
			scale = 1.0
		}
		w = int(float32(w) * scale)
		h = int(float32(h) * scale)
	}
	return wire.Resolution{
		Width:  roundDownToMultiple(w, eyeResolutionAlignment),
		Height: roundDownToMultiple(h, eyeResolutionAlignment),
	}
}

// ChooseFps picks the refresh rate from the headset's advertised list
// closest to preferred, tie-breaking on first occurrence in the list. It
// also reports whether preferred was found verbatim in the list, so the
// caller can log a warning per spec.md §4.3 step 3 ("if preferred fps is
// not in the list, warn").
func ChooseFps(available []float32, preferred float32) (chosen float32, exactMatch bool, err error) {
	if len(available) == 0 {
		return 0, false, fmt.Errorf("sessionconfig: headset advertised no refresh rates")
	}
	best := available[0]
	bestDiff := absF32(best - preferred)
	for _, fps := range available[1:] {
		diff := absF32(fps - preferred)
		if diff < bestDiff {
			best, bestDiff = fps, diff
		}
		if fps == preferred {
			exactMatch = true
		}
	}
	if best == preferred {
		exactMatch = true
	}
	return best, exactMatch, nil
}

func absF32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}

// GameAudioSampleRate returns the configured output device's sample rate
// when game audio is enabled, else 0, per spec.md §4.3 step 3.
func GameAudioSampleRate(s Session) int {
	if !s.GameAudioEnabled {
		return 0
	}
	return s.GameAudioDeviceSampleRate
}

// BuildOpenvrConfig derives the OpenvrConfig that should be handed to the
// driver for this connection attempt, from the current Session plus the
// values negotiated with this specific headset.
func BuildOpenvrConfig(s Session, eyeRes wire.Resolution, fps float32) OpenvrConfig {
	return OpenvrConfig{
		EyeWidth:         eyeRes.Width,
		EyeHeight:        eyeRes.Height,
		Fps:              fps,
		TrackingMode:     s.Headset.TrackingMode,
		ControllersOn:    s.Headset.Controllers.Enabled,
		SerialNumber:     s.Headset.SerialNumber,
		PositionOffset:   s.Headset.PositionOffset,
		EncodeBitrateMbs: s.Video.EncodeBitrateMbs,
		FoveationOn:      s.Video.Foveation.Enabled,
	}
}

// Marshal/Unmarshal round-trip the Session through JSON for persistence and
// for the ClientConfigPacket's embedded session_json field. spec.md §8
// requires Serialize ∘ Deserialize = identity for well-formed configs.
func Marshal(s Session) ([]byte, error) { return json.Marshal(s) }

func Unmarshal(data []byte) (Session, error) {
	var s Session
	err := json.Unmarshal(data, &s)
	return s, err
}
