package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"alvr/server/internal/api"
	"alvr/server/internal/discovery"
	"alvr/server/internal/driver"
	"alvr/server/internal/eventbus"
	"alvr/server/internal/lifecycle"
	"alvr/server/internal/sessionconfig"
	"alvr/server/internal/store"
	"alvr/server/internal/tlsutil"
)

func main() {
	dbPath := flag.String("db", "alvr-server.db", "SQLite database path")
	apiAddr := flag.String("api-addr", ":8082", "REST API listen address (empty to disable)")
	eventsAddr := flag.String("events-addr", ":8083", "dashboard event websocket listen address (empty to disable)")
	controlPort := flag.Int("control-port", 9944, "client-side QUIC control port to dial")
	certValidity := flag.Duration("cert-validity", 24*time.Hour, "self-signed TLS certificate validity")
	scanInterval := flag.Duration("scan-interval", 5*time.Second, "client registry rescan interval")
	flag.Parse()

	st, err := store.Open(*dbPath)
	if err != nil {
		log.Fatalf("[store] %v", err)
	}
	defer st.Close()
	seedDefaults(st)

	_, fingerprint, err := tlsutil.Generate(*certValidity, "")
	if err != nil {
		log.Fatalf("[tlsutil] %v", err)
	}
	log.Printf("[server] TLS certificate fingerprint: %s", fingerprint)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		log.Println("[server] shutting down...")
		cancel()
	}()

	bus := eventbus.New()

	listener, err := discovery.NewListener(st)
	if err != nil {
		log.Fatalf("[discovery] %v", err)
	}
	defer listener.Close()
	go func() {
		if err := listener.Run(ctx); err != nil {
			log.Printf("[discovery] listener: %v", err)
		}
	}()

	resolver, err := discovery.NewResolver()
	if err != nil {
		log.Fatalf("[discovery] %v", err)
	}
	defer resolver.Close()

	engine := lifecycle.New(lifecycle.Config{
		Store:        st,
		Bridge:       &driver.NoopBridge{},
		Bus:          bus,
		Resolver:     resolver,
		ControlPort:  *controlPort,
		ScanInterval: *scanInterval,
	})
	go engine.Run(ctx, listener.Sightings())

	// Periodically optimize SQLite's query planner, matching the teacher's
	// hourly-ticker-over-shared-cancel-ctx idiom.
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := st.Optimize(); err != nil {
					log.Printf("[store] optimize: %v", err)
				}
			}
		}
	}()

	if *apiAddr != "" {
		apiServer := api.New(st)
		go apiServer.Run(ctx, *apiAddr)
		log.Printf("[api] listening on %s", *apiAddr)
	}

	if *eventsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.HandleFunc("/events", bus.ServeHTTP)
			srv := &http.Server{Addr: *eventsAddr, Handler: mux}
			go func() {
				<-ctx.Done()
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer shutdownCancel()
				srv.Shutdown(shutdownCtx)
			}()
			log.Printf("[events] listening on %s", *eventsAddr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("[events] server: %v", err)
			}
		}()
	}

	<-ctx.Done()
}

// seedDefaults writes the factory-default Session Config when none has been
// persisted yet (first-run initialization), matching the teacher's
// seedDefaults idiom.
func seedDefaults(st *store.Store) {
	if _, ok, err := st.GetSetting(store.SessionConfigKey); err == nil && !ok {
		data, err := sessionconfig.Marshal(sessionconfig.Default())
		if err != nil {
			log.Printf("[store] marshal default session config: %v", err)
			return
		}
		if err := st.SetSetting(store.SessionConfigKey, string(data)); err != nil {
			log.Printf("[store] seed session config: %v", err)
		}
	}
}

