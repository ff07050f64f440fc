// Package handshake drives one connection attempt from "candidate IP known"
// to "ClientConfig sent" (stream setup is left to the Supervisor): dialing
// the client, exchanging HeadsetInfo, running
// the Session Config negotiation, and deciding whether the VR driver needs
// a restart before streaming can start. Grounded on the negotiation steps
// in original_source's connection.rs.
package handshake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"alvr/server/internal/driver"
	"alvr/server/internal/sessionconfig"
	"alvr/server/internal/store"
	"alvr/server/internal/transport"
	"alvr/server/internal/wire"
)

// ErrNoPeer is returned when no candidate IP could be dialed successfully.
var ErrNoPeer = errors.New("handshake: no reachable candidate address")

// ErrHandshakeAck is returned when the client's first control message is
// not a ClientStandby carrying HeadsetInfo.
var ErrHandshakeAck = errors.New("handshake: unexpected client acknowledgement")

// dialTimeout bounds a single candidate-address dial attempt.
const dialTimeout = 5 * time.Second

// Result is the outcome of a successful handshake, handed off to the
// Supervisor to drive the streaming phase.
type Result struct {
	AttemptID       uuid.UUID
	Hostname        string
	Socket          *transport.Socket
	Headset         wire.HeadsetInfo
	EyeResolution   wire.Resolution
	Fps             float32
	NeedsRestart    bool
	OpenvrConfig    sessionconfig.OpenvrConfig

	// Session is the negotiated Session Config for this attempt, carried
	// through to the Supervisor for the on_connect/on_disconnect scripts,
	// tracking-mode/controller policy and prediction multipliers it needs
	// (spec.md §4.4).
	Session sessionconfig.Session
}

// Run performs the full handshake sequence for one client, per spec.md
// §4.3: dial a candidate address, exchange HeadsetInfo, negotiate Session
// Config, decide on a driver restart, and send the ClientConfigPacket.
func Run(ctx context.Context, st *store.Store, bridge driver.Bridge, hostname string, candidateIPs []string, controlPort int) (Result, error) {
	attemptID := uuid.New()

	sock, err := dialFirstReachable(ctx, candidateIPs, controlPort)
	if err != nil {
		return Result{}, fmt.Errorf("handshake[%s/%s]: %w", attemptID, hostname, ErrNoPeer)
	}

	sessionJSON, ok, err := st.GetSetting(store.SessionConfigKey)
	var session sessionconfig.Session
	if err != nil {
		sock.Close()
		return Result{}, fmt.Errorf("handshake[%s/%s]: read session config: %w", attemptID, hostname, err)
	}
	if ok {
		session, err = sessionconfig.Unmarshal([]byte(sessionJSON))
		if err != nil {
			log.Printf("[handshake] stored session config is corrupt, using defaults: %v", err)
			session = sessionconfig.Default()
		}
	} else {
		session = sessionconfig.Default()
	}

	ack, err := sock.ReadControl()
	if err != nil {
		sock.Close()
		return Result{}, fmt.Errorf("handshake[%s/%s]: read client ack: %w", attemptID, hostname, err)
	}
	if ack.Type != wire.TypeClientStandby || ack.Headset == nil {
		sock.Close()
		return Result{}, fmt.Errorf("handshake[%s/%s]: %w", attemptID, hostname, ErrHandshakeAck)
	}
	headset := *ack.Headset

	eyeRes := sessionconfig.NegotiateEyeResolution(headset.RecommendedEyeResolution, session.Video)
	fps, exact, err := sessionconfig.ChooseFps(headset.AvailableRefreshRates, session.PreferredFps)
	if err != nil {
		sock.Close()
		return Result{}, fmt.Errorf("handshake[%s/%s]: %w", attemptID, hostname, err)
	}
	if !exact {
		log.Printf("[handshake] preferred fps %.1f not offered by %s, using %.1f", session.PreferredFps, hostname, fps)
	}

	cfg := sessionconfig.BuildOpenvrConfig(session, eyeRes, fps)
	needsRestart, err := bridge.ApplyConfig(cfg)
	if err != nil {
		sock.Close()
		return Result{}, fmt.Errorf("handshake[%s/%s]: apply driver config: %w", attemptID, hostname, err)
	}
	if cfgJSON, err := json.Marshal(cfg); err == nil {
		if err := st.SetSetting(store.LastOpenvrConfigKey, string(cfgJSON)); err != nil {
			log.Printf("[handshake] persist last openvr config: %v", err)
		}
	}

	sessionJSONOut, err := sessionconfig.Marshal(session)
	if err != nil {
		sock.Close()
		return Result{}, fmt.Errorf("handshake[%s/%s]: marshal session config: %w", attemptID, hostname, err)
	}

	err = sock.SendControl(wire.ControlMsg{
		Type:                wire.TypeClientConfig,
		SessionJSON:         string(sessionJSONOut),
		EyeResolution:       eyeRes,
		Fps:                 fps,
		GameAudioSampleRate: sessionconfig.GameAudioSampleRate(session),
		ServerVersion:       "1.0.0",
	})
	if err != nil {
		sock.Close()
		return Result{}, fmt.Errorf("handshake[%s/%s]: send client config: %w", attemptID, hostname, err)
	}

	if needsRestart {
		if err := sock.SendControl(wire.ControlMsg{Type: wire.TypeRestarting}); err != nil {
			log.Printf("[handshake] notify restarting: %v", err)
		}
	}

	log.Printf("[handshake] %s: attempt=%s eye=%dx%d fps=%.1f restart=%v", hostname, attemptID, eyeRes.Width, eyeRes.Height, fps, needsRestart)

	return Result{
		AttemptID:     attemptID,
		Hostname:      hostname,
		Socket:        sock,
		Headset:       headset,
		EyeResolution: eyeRes,
		Fps:           fps,
		NeedsRestart:  needsRestart,
		OpenvrConfig:  cfg,
		Session:       session,
	}, nil
}

// dialFirstReachable tries each candidate address in order and returns the
// first successful Socket, per spec.md §4.3 step 1.
func dialFirstReachable(ctx context.Context, candidateIPs []string, port int) (*transport.Socket, error) {
	var lastErr error
	for _, ip := range candidateIPs {
		dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
		addr := fmt.Sprintf("%s:%d", ip, port)
		sock, err := transport.Dial(dialCtx, addr, true)
		cancel()
		if err == nil {
			return sock, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = ErrNoPeer
	}
	return nil, lastErr
}
