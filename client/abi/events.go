// Package main (abi) implements the client's stable C ABI surface described
// in spec.md §6, built as a C shared library (-buildmode=c-shared) for a
// native host (Android/OpenXR runtime) to link against. It wraps exactly one
// internal/engine.Engine instance behind alvr_-prefixed exported functions.
//
// This file holds the pure-Go FIFO queue poll_event drains; it has no cgo
// dependency and is the only part of this package exercised by tests, since
// the exported functions in abi.go require a linked C caller to invoke.
package main

import "sync"

// EventKind tags which variant of AlvrEvent is populated, mirroring
// spec.md §6's poll_event variant list.
type EventKind int32

const (
	EventStreamingStarted EventKind = iota + 1
	EventStreamingStopped
	EventHaptics
	EventCreateDecoder
	EventNalReady
)

// Codec identifies the negotiated video codec for EventCreateDecoder.
type Codec int32

const (
	CodecH264 Codec = iota
	CodecH265
)

// AlvrEvent is the Go-side mirror of the C AlvrEvent union poll_event
// fills in. Every field is valid only for the Kind it corresponds to; cgo
// exported code copies the relevant fields into the C struct, the rest are
// left zeroed.
type AlvrEvent struct {
	Kind EventKind

	// Haptics
	HapticsDevice    uint64
	HapticsDuration  float32
	HapticsFrequency float32
	HapticsAmplitude float32

	// CreateDecoder
	DecoderCodec Codec
}

// eventQueue is a bounded FIFO of pending AlvrEvents. alvr_poll_event drains
// it one event per call; producers (the engine's Handlers callbacks) push
// from arbitrary goroutines, so every operation is mutex-guarded.
type eventQueue struct {
	mu    sync.Mutex
	items []AlvrEvent
}

// maxQueuedEvents bounds the queue so a host that stops polling (e.g. during
// a pause) can't grow it without limit; the oldest event is dropped to make
// room for the newest.
const maxQueuedEvents = 256

func newEventQueue() *eventQueue {
	return &eventQueue{}
}

// push appends ev, dropping the oldest queued event first if the queue is
// already at capacity.
func (q *eventQueue) push(ev AlvrEvent) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= maxQueuedEvents {
		q.items = q.items[1:]
	}
	q.items = append(q.items, ev)
}

// pop removes and returns the oldest queued event, or (AlvrEvent{}, false)
// if the queue is empty.
func (q *eventQueue) pop() (AlvrEvent, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return AlvrEvent{}, false
	}
	ev := q.items[0]
	q.items = q.items[1:]
	return ev, true
}

// reset discards all pending events. Called by alvr_destroy so a subsequent
// alvr_initialize starts from a clean queue, per spec.md §8's invariant that
// alvr_destroy leaves no residual state.
func (q *eventQueue) reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
}
