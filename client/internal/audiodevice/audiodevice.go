// Package audiodevice wraps PortAudio capture/playback plus Opus
// encode/decode behind the two device roles this system needs: a
// microphone Capture (headset mic -> server) and a game-audio Playback
// (server mixdown -> headset speakers). Grounded on client/audio.go's
// AudioEngine Start/Stop/captureLoop/playbackLoop idiom, trimmed down to
// the single-peer point-to-point case (no per-sender jitter buffer, no
// AEC/AGC/VAD/noise-gate chain, since there is exactly one audio source on
// each path here rather than a multi-party voice room). noise.go keeps one
// piece of that chain: RNNoise-based mic denoising, adapted from
// client/noise.go, since it improves the one microphone path this package
// does carry. Consumed only by cmd/alvr-client's and abi's wiring; no core
// lifecycle package imports this one.
package audiodevice

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"
	"gopkg.in/hraban/opus.v2"
)

// Device describes an available audio device, mirroring AudioDevice from
// client/audio.go.
type Device struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// ListInputDevices returns available capture devices.
func ListInputDevices() []Device {
	return listDevices(func(d *portaudio.DeviceInfo) bool { return d.MaxInputChannels > 0 })
}

// ListOutputDevices returns available playback devices.
func ListOutputDevices() []Device {
	return listDevices(func(d *portaudio.DeviceInfo) bool { return d.MaxOutputChannels > 0 })
}

func listDevices(match func(*portaudio.DeviceInfo) bool) []Device {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil
	}
	var out []Device
	for i, d := range devices {
		if match(d) {
			out = append(out, Device{ID: i, Name: d.Name})
		}
	}
	return out
}

func resolveDevice(devices []*portaudio.DeviceInfo, idx int, fallback func() (*portaudio.DeviceInfo, error)) (*portaudio.DeviceInfo, error) {
	if idx >= 0 && idx < len(devices) {
		return devices[idx], nil
	}
	return fallback()
}

func clampFloat32(v float32) float32 {
	if v > 1.0 {
		return 1.0
	}
	if v < -1.0 {
		return -1.0
	}
	return v
}

// opusMaxPacketBytes is RFC 6716's max Opus packet size.
const opusMaxPacketBytes = 1275

// paStream abstracts a PortAudio stream for testing, mirroring
// client/audio.go's own paStream seam.
type paStream interface {
	Start() error
	Stop() error
	Close() error
	Read() error
	Write() error
}

// opusEncoder abstracts Opus encoding for testing.
type opusEncoder interface {
	Encode(pcm []int16, data []byte) (int, error)
}

// opusDecoder abstracts Opus decoding for testing.
type opusDecoder interface {
	Decode(data []byte, pcm []int16) (int, error)
}

// Capture reads the microphone, denoises and encodes it as Opus, and
// delivers frames on Frames. One frame per FramesPerBuffer samples.
type Capture struct {
	stream  paStream
	encoder opusEncoder
	buf     []float32
	denoise *noiseCanceller

	Frames chan []byte

	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewCapture opens a capture stream at deviceID (-1 for the system
// default) with the given sample rate/frame size; encoding begins on Start.
// channelBuf sizes Frames; when Frames is full the newly encoded frame is
// silently dropped (matching client/audio.go's captureLoop drop-on-full
// behavior).
func NewCapture(deviceID, sampleRate, frameSize, channelBuf int) (*Capture, error) {
	enc, err := opus.NewEncoder(sampleRate, 1, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("audiodevice: new encoder: %w", err)
	}
	enc.SetInBandFEC(true)

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("audiodevice: list devices: %w", err)
	}
	dev, err := resolveDevice(devices, deviceID, portaudio.DefaultInputDevice)
	if err != nil {
		return nil, fmt.Errorf("audiodevice: resolve input device: %w", err)
	}

	buf := make([]float32, frameSize)
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: 1,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      float64(sampleRate),
		FramesPerBuffer: frameSize,
	}
	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		return nil, fmt.Errorf("audiodevice: open capture stream: %w", err)
	}

	return &Capture{
		stream:  stream,
		encoder: enc,
		buf:     buf,
		denoise: newNoiseCanceller(frameSize),
		Frames:  make(chan []byte, channelBuf),
		stopCh:  make(chan struct{}),
	}, nil
}

// SetNoiseSuppression enables or disables RNNoise denoising and sets its
// blend level (clamped to [0, 1]). A no-op if frameSize wasn't exactly 960
// samples at construction time, since RNNoise only runs at that size.
func (c *Capture) SetNoiseSuppression(enabled bool, level float32) {
	if c.denoise == nil {
		return
	}
	c.denoise.setEnabled(enabled)
	c.denoise.setLevel(level)
}

// Start begins capturing and encoding in a background goroutine.
func (c *Capture) Start() error {
	if !c.running.CompareAndSwap(false, true) {
		return nil
	}
	if err := c.stream.Start(); err != nil {
		c.running.Store(false)
		return fmt.Errorf("audiodevice: start capture stream: %w", err)
	}
	c.wg.Add(1)
	go c.loop()
	return nil
}

func (c *Capture) loop() {
	defer c.wg.Done()
	pcm := make([]int16, len(c.buf))
	opusBuf := make([]byte, opusMaxPacketBytes)

	for c.running.Load() {
		if err := c.stream.Read(); err != nil {
			return
		}
		if c.denoise != nil {
			c.denoise.process(c.buf)
		}
		for i, s := range c.buf {
			pcm[i] = int16(clampFloat32(s) * 32767)
		}
		n, err := c.encoder.Encode(pcm, opusBuf)
		if err != nil {
			continue
		}
		encoded := make([]byte, n)
		copy(encoded, opusBuf[:n])
		select {
		case c.Frames <- encoded:
		default:
		}
	}
}

// Stop halts capture and waits for the encode loop to exit. Mirrors
// client/audio.go's Stop ordering: stop the stream (unblocks Read) before
// waiting on the goroutine, before closing the native stream.
func (c *Capture) Stop() {
	if !c.running.CompareAndSwap(true, false) {
		return
	}
	close(c.stopCh)
	c.stream.Stop()
	c.wg.Wait()
	c.stream.Close()
	if c.denoise != nil {
		c.denoise.destroy()
	}
}

// Playback decodes Opus frames pushed via Feed and writes the resulting
// PCM to the output device.
type Playback struct {
	stream  paStream
	decoder opusDecoder
	buf     []float32

	volume atomic.Uint32 // volume * 1e6 as fixed point, default 1.0

	feed    chan []byte
	running atomic.Bool
	wg      sync.WaitGroup
}

// NewPlayback opens a playback stream at deviceID (-1 for default).
func NewPlayback(deviceID, sampleRate, frameSize, channelBuf int) (*Playback, error) {
	dec, err := opus.NewDecoder(sampleRate, 1)
	if err != nil {
		return nil, fmt.Errorf("audiodevice: new decoder: %w", err)
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("audiodevice: list devices: %w", err)
	}
	dev, err := resolveDevice(devices, deviceID, portaudio.DefaultOutputDevice)
	if err != nil {
		return nil, fmt.Errorf("audiodevice: resolve output device: %w", err)
	}

	buf := make([]float32, frameSize)
	params := portaudio.StreamParameters{
		Output: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: 1,
			Latency:  dev.DefaultLowOutputLatency,
		},
		SampleRate:      float64(sampleRate),
		FramesPerBuffer: frameSize,
	}
	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		return nil, fmt.Errorf("audiodevice: open playback stream: %w", err)
	}

	p := &Playback{stream: stream, decoder: dec, buf: buf, feed: make(chan []byte, channelBuf)}
	p.SetVolume(1.0)
	return p, nil
}

// SetVolume sets playback volume in [0.0, 1.0]; safe for concurrent use.
func (p *Playback) SetVolume(v float32) {
	if v < 0 {
		v = 0
	}
	if v > 1.0 {
		v = 1.0
	}
	p.volume.Store(uint32(v * 1e6))
}

func (p *Playback) volumeScale() float32 {
	return float32(p.volume.Load()) / 1e6
}

// Feed enqueues an encoded Opus frame for playback. Drops the frame if the
// internal queue is full.
func (p *Playback) Feed(opusFrame []byte) {
	select {
	case p.feed <- opusFrame:
	default:
	}
}

// Start begins decoding and writing to the output device.
func (p *Playback) Start() error {
	if !p.running.CompareAndSwap(false, true) {
		return nil
	}
	if err := p.stream.Start(); err != nil {
		p.running.Store(false)
		return fmt.Errorf("audiodevice: start playback stream: %w", err)
	}
	p.wg.Add(1)
	go p.loop()
	return nil
}

func (p *Playback) loop() {
	defer p.wg.Done()
	pcm := make([]int16, len(p.buf))

	for p.running.Load() {
		select {
		case frame := <-p.feed:
			n, err := p.decoder.Decode(frame, pcm)
			if err != nil {
				n = 0
			}
			scale := p.volumeScale() / 32768.0
			for i := range p.buf {
				if i < n {
					p.buf[i] = clampFloat32(float32(pcm[i]) * scale)
				} else {
					p.buf[i] = 0
				}
			}
		default:
			for i := range p.buf {
				p.buf[i] = 0
			}
		}
		if err := p.stream.Write(); err != nil {
			return
		}
	}
}

// Stop halts playback and waits for the write loop to exit.
func (p *Playback) Stop() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	p.stream.Stop()
	p.wg.Wait()
	p.stream.Close()
}
