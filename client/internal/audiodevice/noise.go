package audiodevice

/*
#cgo pkg-config: rnnoise
#include <rnnoise.h>
#include <stdlib.h>
*/
import "C"
import (
	"sync"
	"unsafe"
)

// noiseCanceller applies RNNoise-based ML noise suppression to the
// microphone capture buffer before it is encoded. Grounded directly on
// client/noise.go's NoiseCanceller; adapted to operate on Capture's raw
// float32 buffer in place of the old per-room AudioEngine pipeline. RNNoise
// only accepts 480-sample frames, so a 960-sample capture buffer (the size
// cmd/alvr-client and abi both request) is split into two halves, each with
// its own persistent denoise state.
type noiseCanceller struct {
	mu  sync.Mutex
	st0 *C.DenoiseState // processes samples [0:480]
	st1 *C.DenoiseState // processes samples [480:960]

	level   float32 // 0.0 = bypass, 1.0 = full suppression
	enabled bool

	// Pre-allocated at struct level to avoid per-frame malloc/free.
	cIn  *C.float
	cOut *C.float
}

const rnnoiseFrameSize = 480

// newNoiseCanceller allocates two RNNoise state instances and the C buffers
// process reuses every call. Returns nil if frameSize isn't exactly two
// RNNoise frames (the only size Capture ever requests denoising for).
func newNoiseCanceller(frameSize int) *noiseCanceller {
	if frameSize != 2*rnnoiseFrameSize {
		return nil
	}
	cIn := (*C.float)(C.malloc(C.size_t(rnnoiseFrameSize) * C.size_t(unsafe.Sizeof(C.float(0)))))
	cOut := (*C.float)(C.malloc(C.size_t(rnnoiseFrameSize) * C.size_t(unsafe.Sizeof(C.float(0)))))
	return &noiseCanceller{
		st0:     C.rnnoise_create(nil),
		st1:     C.rnnoise_create(nil),
		level:   1.0,
		enabled: true,
		cIn:     cIn,
		cOut:    cOut,
	}
}

// setEnabled enables or disables suppression without tearing down state.
func (nc *noiseCanceller) setEnabled(on bool) {
	nc.mu.Lock()
	nc.enabled = on
	nc.mu.Unlock()
}

// setLevel sets the suppression blend level, clamped to [0, 1].
func (nc *noiseCanceller) setLevel(level float32) {
	if level < 0 {
		level = 0
	}
	if level > 1 {
		level = 1
	}
	nc.mu.Lock()
	nc.level = level
	nc.mu.Unlock()
}

// process applies noise suppression in place to buf, which must be exactly
// 2*rnnoiseFrameSize samples. No-op when disabled or level == 0.
func (nc *noiseCanceller) process(buf []float32) {
	nc.mu.Lock()
	defer nc.mu.Unlock()

	if !nc.enabled || nc.level == 0 {
		return
	}

	inSlice := unsafe.Slice(nc.cIn, rnnoiseFrameSize)
	outSlice := unsafe.Slice(nc.cOut, rnnoiseFrameSize)
	level := nc.level

	for i := 0; i < rnnoiseFrameSize; i++ {
		inSlice[i] = C.float(buf[i] * 32767.0)
	}
	C.rnnoise_process_frame(nc.st0, nc.cOut, nc.cIn)
	for i := 0; i < rnnoiseFrameSize; i++ {
		denoised := float32(outSlice[i]) / 32767.0
		buf[i] = buf[i]*(1-level) + denoised*level
	}

	for i := 0; i < rnnoiseFrameSize; i++ {
		inSlice[i] = C.float(buf[rnnoiseFrameSize+i] * 32767.0)
	}
	C.rnnoise_process_frame(nc.st1, nc.cOut, nc.cIn)
	for i := 0; i < rnnoiseFrameSize; i++ {
		denoised := float32(outSlice[i]) / 32767.0
		buf[rnnoiseFrameSize+i] = buf[rnnoiseFrameSize+i]*(1-level) + denoised*level
	}
}

// destroy frees the underlying C state and pre-allocated buffers. Safe to
// call once, from Capture.Stop.
func (nc *noiseCanceller) destroy() {
	nc.mu.Lock()
	defer nc.mu.Unlock()
	if nc.st0 != nil {
		C.rnnoise_destroy(nc.st0)
		nc.st0 = nil
	}
	if nc.st1 != nil {
		C.rnnoise_destroy(nc.st1)
		nc.st1 = nil
	}
	if nc.cIn != nil {
		C.free(unsafe.Pointer(nc.cIn))
		nc.cIn = nil
	}
	if nc.cOut != nil {
		C.free(unsafe.Pointer(nc.cOut))
		nc.cOut = nil
	}
}
