package handshake

import (
	"errors"
	"testing"

	"alvr/client/internal/wire"
)

func TestErrUnexpectedReplyForWrapsSentinel(t *testing.T) {
	err := errUnexpectedReplyFor(wire.TypeKeepAlive)
	if !errors.Is(err, ErrUnexpectedReply) {
		t.Fatalf("expected error to wrap ErrUnexpectedReply, got %v", err)
	}
}
