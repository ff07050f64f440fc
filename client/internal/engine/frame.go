package engine

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// maxFrameBytes bounds a single length-delimited frame, matching
// server/internal/supervisor's frame codec this one is grounded on.
const maxFrameBytes = 1 << 20

// frameDecoder reads 4-byte big-endian length-prefixed frames, the
// reliable-stream framing tracking/statistics/haptics payloads use (as
// opposed to the control stream's newline-JSON framing).
type frameDecoder struct {
	r *bufio.Reader
}

func newFrameDecoder(r io.Reader) *frameDecoder {
	return &frameDecoder{r: bufio.NewReaderSize(r, 4096)}
}

// Next reads and returns the next frame's raw payload.
func (d *frameDecoder) Next() ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(d.r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameBytes {
		return nil, fmt.Errorf("engine: frame too large: %d bytes", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// writeFrame writes payload with a 4-byte big-endian length prefix.
func writeFrame(w io.Writer, payload []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("engine: write frame length: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("engine: write frame payload: %w", err)
	}
	return nil
}

// writeJSONFrame marshals v and writes it as one length-delimited frame.
func writeJSONFrame(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("engine: marshal frame: %w", err)
	}
	return writeFrame(w, data)
}

func decodeHapticsEvent(raw []byte) (hapticsEvent, bool) {
	var ev hapticsEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return hapticsEvent{}, false
	}
	return ev, true
}
