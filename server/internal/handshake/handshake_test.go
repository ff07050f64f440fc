package handshake

import (
	"context"
	"testing"
)

func TestDialFirstReachableNoCandidatesReturnsNoPeer(t *testing.T) {
	_, err := dialFirstReachable(context.Background(), nil, 9944)
	if err == nil {
		t.Fatal("expected an error when no candidate addresses are given")
	}
}
