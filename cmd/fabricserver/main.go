// Command fabricserver runs a standalone websocket broker: the alternative
// centralized fabric topology that rebroadcasts every command to every
// other connected peer.
package main

import (
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BergLucas/microbit-go-simulator/internal/fabric"
	"github.com/BergLucas/microbit-go-simulator/internal/metrics"
)

func main() {
	listen := flag.String("listen", ":17200", "Address to listen on for websocket peer connections")
	metricsListen := flag.String("metrics-listen", "", "If set, serve Prometheus metrics on this address")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	debugMode := *debug
	if env := os.Getenv("DEBUG"); env != "" {
		debugMode = env == "true" || env == "1" || env == "yes"
	}

	srv := fabric.New(*listen, debugMode)

	m := metrics.New()
	if *metricsListen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		metricsSrv := &http.Server{Addr: *metricsListen, Handler: mux}
		go func() {
			log.Printf("Prometheus metrics listening on %s/metrics", *metricsListen)
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("Prometheus server error: %v", err)
			}
		}()
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down...")
		srv.Close()
	}()

	log.Printf("Fabric server listening on %s", *listen)
	if *metricsListen != "" {
		go func() {
			ticker := time.NewTicker(2 * time.Second)
			defer ticker.Stop()
			for range ticker.C {
				m.FabricPeers.Set(float64(srv.PeerCount()))
			}
		}()
	}
	if err := srv.Start(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Fabric server error: %v", err)
	}
}
