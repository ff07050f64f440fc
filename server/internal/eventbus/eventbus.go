// Package eventbus fans out lifecycle events (client connected/disconnected,
// warnings, restart notices) to any locally-connected dashboard UI over a
// websocket. Building the dashboard itself is out of scope; this package is
// the event source it would subscribe to.
package eventbus

import (
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// EventType names a lifecycle notification.
type EventType string

const (
	EventClientConnected    EventType = "client_connected"
	EventClientDisconnected EventType = "client_disconnected"
	EventWarning            EventType = "warning"
	EventDriverRestart      EventType = "driver_restart"
)

// Event is one lifecycle notification broadcast to subscribers.
type Event struct {
	Type     EventType `json:"type"`
	Hostname string    `json:"hostname,omitempty"`
	Message  string    `json:"message,omitempty"`
}

// Bus fans out Events to every currently-connected websocket subscriber.
// Publish never blocks on a slow subscriber: each subscriber has a bounded
// outbox, and a full outbox drops the event for that subscriber only.
type Bus struct {
	mu          sync.Mutex
	subscribers map[*subscriber]struct{}
}

type subscriber struct {
	outbox chan Event
}

// New constructs an empty Bus.
func New() *Bus {
	return &Bus{subscribers: make(map[*subscriber]struct{})}
}

// Publish broadcasts ev to every connected subscriber.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subscribers {
		select {
		case s.outbox <- ev:
		default:
			log.Printf("[eventbus] subscriber outbox full, dropping %s event", ev.Type)
		}
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// ServeHTTP upgrades the request to a websocket and streams Events to it
// until a read or write on the connection fails; the request context is
// not watched.
func (b *Bus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[eventbus] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	sub := &subscriber{outbox: make(chan Event, 32)}
	b.mu.Lock()
	b.subscribers[sub] = struct{}{}
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.subscribers, sub)
		b.mu.Unlock()
	}()

	closed := make(chan struct{})
	// Drain incoming frames (the UI never sends anything meaningful) so the
	// connection's read deadline and close handshake behave correctly, and
	// so the write loop below notices a dead connection without waiting for
	// its next Publish.
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case ev := <-sub.outbox:
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}
}
