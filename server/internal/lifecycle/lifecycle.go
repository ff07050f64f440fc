// Package lifecycle runs the outer per-client retry loop: watch discovery
// sightings and the known-client registry, dial and handshake with each
// known hostname, hand a successful connection off to the supervisor, and
// retry with backoff once the connection ends. Grounded on main.go's
// background-ticker-over-shared-cancel-ctx idiom, generalized from one fixed
// set of tickers to one goroutine per tracked client hostname.
package lifecycle

import (
	"context"
	"log"
	"math/rand"
	"sync"
	"time"

	"alvr/server/internal/discovery"
	"alvr/server/internal/driver"
	"alvr/server/internal/eventbus"
	"alvr/server/internal/handshake"
	"alvr/server/internal/sessionconfig"
	"alvr/server/internal/store"
	"alvr/server/internal/supervisor"
)

// Config bundles the dependencies the Engine needs to drive connections.
type Config struct {
	Store    *store.Store
	Bridge   driver.Bridge
	Bus      *eventbus.Bus
	Resolver *discovery.Resolver

	// ControlPort is the client-side QUIC listener port the server dials.
	ControlPort int

	// scanInterval controls how often the known-client registry is
	// re-scanned for hostnames without an active connection. Defaults to
	// 5s when zero.
	ScanInterval time.Duration
}

// backoff bounds, matching the shape (not the exact values) of ALVR's
// original_source reconnect backoff: start fast, cap well under a minute so
// a headset coming back on the LAN reconnects promptly.
const (
	minBackoff = 1 * time.Second
	maxBackoff = 30 * time.Second
)

// Engine owns one goroutine per tracked client hostname plus the discovery
// sighting fan-in.
type Engine struct {
	cfg Config

	mu      sync.Mutex
	running map[string]struct{}
}

// New builds an Engine ready to Run.
func New(cfg Config) *Engine {
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = 5 * time.Second
	}
	return &Engine{cfg: cfg, running: make(map[string]struct{})}
}

// Run blocks, scanning the client registry on a ticker and reacting to
// discovery sightings, until ctx is cancelled.
func (e *Engine) Run(ctx context.Context, sightings <-chan discovery.Sighting) {
	ticker := time.NewTicker(e.cfg.ScanInterval)
	defer ticker.Stop()

	e.scanAndLaunch(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.scanAndLaunch(ctx)
		case sighting, ok := <-sightings:
			if !ok {
				sightings = nil
				continue
			}
			e.launch(ctx, sighting.Packet.Hostname)
		}
	}
}

func (e *Engine) scanAndLaunch(ctx context.Context) {
	clients, err := e.cfg.Store.AllClients()
	if err != nil {
		log.Printf("[lifecycle] list clients: %v", err)
		return
	}
	for _, c := range clients {
		if !c.Trusted {
			continue
		}
		e.launch(ctx, c.Hostname)
	}
}

// launch starts the per-hostname retry goroutine if one isn't already
// running.
func (e *Engine) launch(ctx context.Context, hostname string) {
	e.mu.Lock()
	if _, ok := e.running[hostname]; ok {
		e.mu.Unlock()
		return
	}
	e.running[hostname] = struct{}{}
	e.mu.Unlock()

	go func() {
		defer func() {
			e.mu.Lock()
			delete(e.running, hostname)
			e.mu.Unlock()
		}()
		e.retryLoop(ctx, hostname)
	}()
}

// retryLoop dials, handshakes and streams with one client, reconnecting with
// exponential backoff (plus jitter, so a LAN full of headsets losing power
// at once doesn't reconnect in lockstep) whenever the connection ends.
func (e *Engine) retryLoop(ctx context.Context, hostname string) {
	backoff := minBackoff
	for {
		if ctx.Err() != nil {
			return
		}

		client, err := e.cfg.Store.GetClient(hostname)
		if err != nil || !client.Trusted {
			return
		}

		candidateIPs := e.cfg.Resolver.CandidateIPs(ctx, hostname, client.ManualIPs)
		if len(candidateIPs) == 0 {
			if !sleepWithJitter(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}

		res, err := handshake.Run(ctx, e.cfg.Store, e.cfg.Bridge, hostname, candidateIPs, e.cfg.ControlPort)
		if err != nil {
			if e.cfg.Bus != nil {
				e.cfg.Bus.Publish(eventbus.Event{Type: eventbus.EventWarning, Hostname: hostname, Message: err.Error()})
			}
			if !sleepWithJitter(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}

		if res.NeedsRestart {
			if e.cfg.Bus != nil {
				e.cfg.Bus.Publish(eventbus.Event{Type: eventbus.EventDriverRestart, Hostname: hostname})
			}
		}

		backoff = minBackoff // a clean handshake resets the backoff clock

		conn := supervisor.New(res, e.historySize(), e.cfg.Bus, e.cfg.Store, e.cfg.Bridge)
		if err := conn.Run(ctx); err != nil {
			log.Printf("[lifecycle] %s: connection ended: %v", hostname, err)
		}

		if !sleepWithJitter(ctx, backoff) {
			return
		}
	}
}

// historySize reads the configured statistics ring capacity from the
// persisted session config, falling back to the package default when the
// config is missing or corrupt.
func (e *Engine) historySize() int {
	raw, ok, err := e.cfg.Store.GetSetting(store.SessionConfigKey)
	if err != nil || !ok {
		return 0
	}
	session, err := sessionconfig.Unmarshal([]byte(raw))
	if err != nil {
		return 0
	}
	return session.Connection.StatisticsHistorySize
}

func nextBackoff(cur time.Duration) time.Duration {
	next := cur * 2
	if next > maxBackoff {
		next = maxBackoff
	}
	return next
}

// sleepWithJitter sleeps for d plus up to 20% jitter, or returns false early
// if ctx is cancelled first.
func sleepWithJitter(ctx context.Context, d time.Duration) bool {
	jitter := time.Duration(rand.Int63n(int64(d) / 5 + 1))
	t := time.NewTimer(d + jitter)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
