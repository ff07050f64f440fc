package supervisor

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"alvr/server/internal/stats"
	"alvr/server/internal/wire"
)

// frameDecoder reads length-delimited JSON frames off a claimed data stream:
// a 4-byte big-endian length prefix followed by that many bytes of JSON.
// Reliable streams (tracking, statistics) use this framing rather than
// newline-delimited JSON because tracking/statistics payloads may legally
// contain control characters the control stream's line scanner would choke
// on.
type frameDecoder struct {
	r *bufio.Reader
}

func newFrameDecoder(r io.Reader) *frameDecoder {
	return &frameDecoder{r: bufio.NewReaderSize(r, 4096)}
}

// maxFrameBytes guards against a malformed length prefix causing an
// unbounded allocation.
const maxFrameBytes = 1 << 20

func (d *frameDecoder) Next() ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(d.r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameBytes {
		return nil, fmt.Errorf("supervisor: frame length %d exceeds limit", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// writeFrame writes one length-delimited frame, the sending side of
// frameDecoder's wire format.
func writeFrame(w io.Writer, payload []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

func decodeTrackingFrame(raw []byte) (wire.TrackingFrame, bool) {
	var tf wire.TrackingFrame
	if err := json.Unmarshal(raw, &tf); err != nil {
		return wire.TrackingFrame{}, false
	}
	return tf, true
}

func decodeStatisticsSummary(raw []byte) (wire.ClientStatisticsSummary, bool) {
	var sr wire.ClientStatisticsSummary
	if err := json.Unmarshal(raw, &sr); err != nil {
		return wire.ClientStatisticsSummary{}, false
	}
	return sr, true
}

func statsFromSummary(r wire.ClientStatisticsSummary) stats.Sample {
	return stats.Sample{
		TargetTimestampNs: r.TargetTimestampNs,
		TotalLatencyUs:    r.FrameSpanUs,
		DecodeUs:          r.DecodeIntervalUs,
		ClientFps:         r.ClientFps,
	}
}
