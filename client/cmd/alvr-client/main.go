// Command alvr-client is the headless/dev process entry point: it wires
// persist, discovery, transport and internal/engine together the way
// cmd/alvr-server does on the other end, without a graphics surface. It's
// the process form of the pipeline abi/ wraps for a native host; useful for
// local loopback testing of the lifecycle against cmd/alvr-server.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"time"

	"alvr/client/internal/audiodevice"
	"alvr/client/internal/discovery"
	"alvr/client/internal/engine"
	"alvr/client/internal/handshake"
	"alvr/client/internal/persist"
	"alvr/client/internal/stats"
	"alvr/client/internal/tlsutil"
	"alvr/client/internal/transport"
	"alvr/client/internal/wire"
)

func main() {
	listenAddr := flag.String("listen-addr", ":9944", "control/stream QUIC listen address")
	deviceName := flag.String("device-name", "alvr headless client", "device name advertised during discovery")
	discoveryInterval := flag.Duration("discovery-interval", 1*time.Second, "broadcast interval for discovery")
	certValidity := flag.Duration("cert-validity", 24*time.Hour, "self-signed TLS certificate validity")
	eyeWidth := flag.Int("eye-width", 2016, "recommended per-eye render width")
	eyeHeight := flag.Int("eye-height", 2240, "recommended per-eye render height")
	micSampleRate := flag.Int("mic-sample-rate", 48000, "microphone capture sample rate")
	noiseSuppression := flag.Bool("noise-suppression", true, "enable RNNoise microphone denoising")
	flag.Parse()

	identityPath, err := persist.Path()
	if err != nil {
		log.Fatalf("[persist] %v", err)
	}
	identity := persist.Load(identityPath)
	log.Printf("[client] identity: %s (protocol %d)", identity.Hostname, identity.ProtocolID)

	tlsConfig, fingerprint, err := tlsutil.Generate(*certValidity, identity.Hostname)
	if err != nil {
		log.Fatalf("[tlsutil] %v", err)
	}
	log.Printf("[client] TLS certificate fingerprint: %s", fingerprint)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		log.Println("[client] shutting down...")
		cancel()
	}()

	listener, err := transport.Listen(*listenAddr, tlsConfig)
	if err != nil {
		log.Fatalf("[transport] %v", err)
	}
	defer listener.Close()
	log.Printf("[client] listening on %s", *listenAddr)

	emitter, err := discovery.NewEmitter(identity.Hostname, *deviceName)
	if err != nil {
		log.Fatalf("[discovery] %v", err)
	}
	defer emitter.Close()
	go func() {
		if err := emitter.Run(ctx, *discoveryInterval); err != nil {
			log.Printf("[discovery] emitter: %v", err)
		}
	}()

	responder, err := discovery.NewResponder(identity.Hostname)
	if err != nil {
		log.Fatalf("[discovery] %v", err)
	}
	defer responder.Close()

	fpsCounter := stats.NewFpsCounter()

	handlers := engine.Handlers{
		OnVideoFrame: func(data []byte) {
			fpsCounter.Tick()
			log.Printf("[client] video frame: %d bytes", len(data))
		},
		OnAudioFrame: func(data []byte) {
			log.Printf("[client] audio frame: %d bytes", len(data))
		},
		OnHaptics: func(ev wire.HapticsEvent) {
			log.Printf("[client] haptics: device=%d amp=%.2f", ev.Device, ev.Amplitude)
		},
		OnStreamingStarted: func(res handshake.Result) {
			log.Printf("[client] streaming started (restarting=%v)", res.Restarting)
		},
		OnStreamingStopped: func() {
			log.Println("[client] streaming stopped")
		},
		OnRestarting: func() {
			log.Println("[client] server is restarting its driver")
		},
	}

	headset := wire.HeadsetInfo{
		RecommendedEyeResolution: wire.Resolution{Width: *eyeWidth, Height: *eyeHeight},
		AvailableRefreshRates:    []float32{72, 80, 90, 120},
		PreferredRefreshRate:     90,
		MicSampleRate:            *micSampleRate,
		Version:                  "1.0.0",
	}

	eng := engine.New(listener, headset, handlers)

	micCapture, err := audiodevice.NewCapture(-1, *micSampleRate, 960, 8)
	if err != nil {
		log.Printf("[audiodevice] microphone unavailable, continuing without it: %v", err)
	} else {
		micCapture.SetNoiseSuppression(*noiseSuppression, 1.0)
		defer micCapture.Stop()
		if err := micCapture.Start(); err != nil {
			log.Printf("[audiodevice] start capture: %v", err)
		}
	}

	if err := eng.Run(ctx); err != nil && ctx.Err() == nil {
		log.Printf("[engine] %v", err)
	}
}
