// Package handshake drives the client's half of the connection dance: once
// the server has dialed in and a control stream exists, announce the
// headset's capabilities and wait for the negotiated Session Config.
// Mirrors server/internal/handshake's sequence from the opposite role.
package handshake

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"alvr/client/internal/transport"
	"alvr/client/internal/wire"
)

// restartingNoticeWindow bounds how long Run waits for an optional trailing
// Restarting notice before concluding the server sent none.
const restartingNoticeWindow = 500 * time.Millisecond

// ErrUnexpectedReply is returned when the server's first reply isn't the
// expected ClientConfig envelope.
var ErrUnexpectedReply = errors.New("handshake: unexpected server reply")

// Result is the negotiated outcome handed off to the client's stream
// supervisor.
type Result struct {
	Socket              *transport.Socket
	AttemptID           uuid.UUID
	SessionJSON         string
	EyeResolution       wire.Resolution
	Fps                 float32
	GameAudioSampleRate int
	ServerVersion       string
	Restarting          bool
}

// Run performs the client side of the handshake: announce headset, wait
// for the server's ClientConfig reply (and a possible Restarting notice),
// per spec.md §4.3.
func Run(sock *transport.Socket, headset wire.HeadsetInfo) (Result, error) {
	if err := sock.SendControl(wire.ControlMsg{
		Type:    wire.TypeClientStandby,
		Headset: &headset,
	}); err != nil {
		return Result{}, fmt.Errorf("handshake: send client standby: %w", err)
	}

	reply, err := sock.ReadControl()
	if err != nil {
		return Result{}, fmt.Errorf("handshake: read server reply: %w", err)
	}
	if reply.Type != wire.TypeClientConfig {
		return Result{}, errUnexpectedReplyFor(reply.Type)
	}

	res := Result{
		Socket:              sock,
		AttemptID:           uuid.New(),
		SessionJSON:         reply.SessionJSON,
		EyeResolution:       reply.EyeResolution,
		Fps:                 reply.Fps,
		GameAudioSampleRate: reply.GameAudioSampleRate,
		ServerVersion:       reply.ServerVersion,
	}

	// A Restarting notice may follow immediately if the driver needs to
	// restart before streaming can start; it has no payload beyond Type. A
	// short read deadline keeps this from blocking forever when the server
	// sends nothing further.
	if err := sock.SetControlReadDeadline(time.Now().Add(restartingNoticeWindow)); err == nil {
		if next, err := sock.ReadControl(); err == nil && next.Type == wire.TypeRestarting {
			res.Restarting = true
		}
		sock.SetControlReadDeadline(time.Time{}) // clear the deadline for subsequent reads
	}

	return res, nil
}

func errUnexpectedReplyFor(gotType string) error {
	return fmt.Errorf("handshake: %w: got %q", ErrUnexpectedReply, gotType)
}
