// Command syncserver runs a standalone synchronisation server: the
// replicated addresses-linker registry that radios on a LAN gossip and
// query to discover each other.
package main

import (
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/BergLucas/microbit-go-simulator/internal/metrics"
	"github.com/BergLucas/microbit-go-simulator/internal/syncserver"
)

func main() {
	syncPort := flag.Int("sync-port", 17100, "Port for peer synchronisation-server gossip")
	dataPort := flag.Int("data-port", 17101, "Port for local synchronisation-client orders")
	targets := flag.String("targets", "", "Comma-separated list of LAN IPs to scan for peer servers (default: derived from local interfaces)")
	interval := flag.Duration("interval", time.Second, "Gossip and discovery interval")
	metricsListen := flag.String("metrics-listen", "", "If set, serve Prometheus metrics on this address")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	debugMode := *debug
	if env := os.Getenv("DEBUG"); env != "" {
		debugMode = env == "true" || env == "1" || env == "yes"
	}

	var targetIPs []string
	if *targets != "" {
		targetIPs = strings.Split(*targets, ",")
	}

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

	srv := syncserver.New(syncserver.Config{
		SyncPort:  *syncPort,
		DataPort:  *dataPort,
		TargetIPs: targetIPs,
		Interval:  *interval,
		Metrics:   m,
		Debug:     debugMode,
	})
	if err := srv.Start(); err != nil {
		log.Fatalf("Failed to start synchronisation server: %v", err)
	}
	log.Printf("Synchronisation server listening on sync=%d data=%d", *syncPort, *dataPort)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down...")
	srv.Stop()
}
