package audiodevice

import "testing"

func TestNewNoiseCancellerRejectsWrongFrameSize(t *testing.T) {
	if nc := newNoiseCanceller(960 + 1); nc != nil {
		t.Fatal("expected nil for a frame size that isn't exactly two RNNoise frames")
	}
}

func TestNoiseCancellerProcessIsNoopWhenDisabled(t *testing.T) {
	nc := newNoiseCanceller(2 * rnnoiseFrameSize)
	defer nc.destroy()
	nc.setEnabled(false)

	buf := make([]float32, 2*rnnoiseFrameSize)
	for i := range buf {
		buf[i] = float32(i) / float32(len(buf))
	}
	original := append([]float32(nil), buf...)

	nc.process(buf)

	for i := range buf {
		if buf[i] != original[i] {
			t.Fatalf("sample[%d]: got %v, want %v (unchanged while disabled)", i, buf[i], original[i])
		}
	}
}

func TestNoiseCancellerProcessIsNoopAtZeroLevel(t *testing.T) {
	nc := newNoiseCanceller(2 * rnnoiseFrameSize)
	defer nc.destroy()
	nc.setEnabled(true)
	nc.setLevel(0)

	buf := make([]float32, 2*rnnoiseFrameSize)
	original := append([]float32(nil), buf...)
	nc.process(buf)

	for i := range buf {
		if buf[i] != original[i] {
			t.Fatalf("sample[%d]: got %v, want %v (unchanged at level=0)", i, buf[i], original[i])
		}
	}
}

func TestSetNoiseSuppressionIsNoopWithoutADenoiser(t *testing.T) {
	c := &Capture{}
	c.SetNoiseSuppression(true, 0.5) // must not panic when denoise is nil.
}
