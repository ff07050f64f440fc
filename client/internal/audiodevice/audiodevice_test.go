package audiodevice

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

// mockStream implements paStream for testing. Read()/Write() block until
// unblockCh is closed, mirroring client/audio.go's own mockPAStream idiom.
type mockStream struct {
	unblockCh chan struct{}
	stopped   atomic.Bool
	closed    atomic.Bool
}

func newMockStream() *mockStream {
	return &mockStream{unblockCh: make(chan struct{})}
}

func (m *mockStream) Start() error { return nil }

func (m *mockStream) Stop() error {
	m.stopped.Store(true)
	select {
	case <-m.unblockCh:
	default:
		close(m.unblockCh)
	}
	return nil
}

func (m *mockStream) Close() error {
	m.closed.Store(true)
	return nil
}

func (m *mockStream) Read() error {
	<-m.unblockCh
	return fmt.Errorf("stream stopped")
}

func (m *mockStream) Write() error {
	<-m.unblockCh
	return fmt.Errorf("stream stopped")
}

type mockEncoder struct{}

func (mockEncoder) Encode(pcm []int16, data []byte) (int, error) {
	n := copy(data, []byte{1, 2, 3})
	return n, nil
}

type mockDecoder struct{}

func (mockDecoder) Decode(data []byte, pcm []int16) (int, error) {
	for i := range pcm {
		pcm[i] = 1000
	}
	return len(pcm), nil
}

func TestClampFloat32(t *testing.T) {
	cases := map[float32]float32{1.5: 1.0, -1.5: -1.0, 0.3: 0.3}
	for in, want := range cases {
		if got := clampFloat32(in); got != want {
			t.Fatalf("clampFloat32(%v) = %v, want %v", in, got, want)
		}
	}
}

func TestCaptureStopUnblocksLoop(t *testing.T) {
	stream := newMockStream()
	c := &Capture{
		stream:  stream,
		encoder: mockEncoder{},
		buf:     make([]float32, 4),
		Frames:  make(chan []byte, 4),
		stopCh:  make(chan struct{}),
	}
	c.running.Store(true)
	c.wg.Add(1)
	go c.loop()

	time.Sleep(10 * time.Millisecond)
	done := make(chan struct{})
	go func() { c.Stop(); close(done) }()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() did not return; capture loop likely still blocked in Read")
	}
	if !stream.closed.Load() {
		t.Fatal("expected stream to be closed after Stop")
	}
}

func TestCaptureStopIsIdempotent(t *testing.T) {
	stream := newMockStream()
	c := &Capture{stream: stream, encoder: mockEncoder{}, buf: make([]float32, 4), stopCh: make(chan struct{})}
	c.Stop()
	c.Stop() // must not panic on double-close of stopCh
}

func TestPlaybackVolumeClampsToUnitRange(t *testing.T) {
	p := &Playback{}
	p.SetVolume(2.0)
	if got := p.volumeScale(); got != 1.0 {
		t.Fatalf("expected volume clamped to 1.0, got %v", got)
	}
	p.SetVolume(-1.0)
	if got := p.volumeScale(); got != 0 {
		t.Fatalf("expected volume clamped to 0, got %v", got)
	}
}

func TestPlaybackFeedDropsWhenQueueFull(t *testing.T) {
	p := &Playback{feed: make(chan []byte, 1)}
	p.Feed([]byte{1})
	p.Feed([]byte{2}) // should drop silently, not block
	select {
	case got := <-p.feed:
		if len(got) != 1 || got[0] != 1 {
			t.Fatalf("expected first frame to survive, got %v", got)
		}
	default:
		t.Fatal("expected one queued frame")
	}
}

func TestPlaybackStopUnblocksLoop(t *testing.T) {
	stream := newMockStream()
	p := &Playback{stream: stream, decoder: mockDecoder{}, buf: make([]float32, 4), feed: make(chan []byte, 4)}
	p.running.Store(true)
	p.wg.Add(1)
	go p.loop()

	time.Sleep(10 * time.Millisecond)
	done := make(chan struct{})
	go func() { p.Stop(); close(done) }()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() did not return; playback loop likely still blocked in Write")
	}
	if !stream.closed.Load() {
		t.Fatal("expected stream to be closed after Stop")
	}
}
