// Command microbit-sim runs one simulated micro:bit device: a radio, an
// optional embedded synchronisation server, and an optional MQTT bridge and
// Prometheus exporter.
package main

import (
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/BergLucas/microbit-go-simulator/internal/command"
	"github.com/BergLucas/microbit-go-simulator/internal/config"
	"github.com/BergLucas/microbit-go-simulator/internal/metrics"
	"github.com/BergLucas/microbit-go-simulator/internal/mqttbridge"
	"github.com/BergLucas/microbit-go-simulator/internal/peer"
	"github.com/BergLucas/microbit-go-simulator/internal/radio"
	"github.com/BergLucas/microbit-go-simulator/internal/syncserver"
)

func main() {
	configFile := flag.String("config", "config.yaml", "Path to configuration file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	stdioMode := flag.Bool("stdio", false, "Bridge this radio's traffic over stdin/stdout, one JSON command per line, for a parent process that launched this simulator as a subprocess")
	flag.Parse()

	debugMode := *debug
	if env := os.Getenv("DEBUG"); env != "" {
		debugMode = env == "true" || env == "1" || env == "yes"
	}
	if debugMode {
		log.Println("Debug mode enabled")
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	m := metrics.New()

	var syncAddr string
	if cfg.Sync.Enabled {
		syncSrv := syncserver.New(syncserver.Config{
			SyncPort:  cfg.Sync.SyncPort,
			DataPort:  cfg.Sync.DataPort,
			TargetIPs: cfg.Sync.TargetIPs,
			Interval:  time.Duration(cfg.Sync.Interval) * time.Second,
			Metrics:   m,
			Debug:     debugMode || cfg.Sync.Debug,
		})
		if err := syncSrv.Start(); err != nil {
			log.Fatalf("Failed to start synchronisation server: %v", err)
		}
		syncAddr = "127.0.0.1:" + strconv.Itoa(cfg.Sync.DataPort)
		log.Printf("Synchronisation server listening on sync=%d data=%d", cfg.Sync.SyncPort, cfg.Sync.DataPort)
	}

	r := radio.New(cfg.Radio.BasePort, syncAddr, debugMode)
	r.SetMetrics(m)
	radioCfg := cfg.Radio.ToRadioConfig()
	if err := r.Configure(radioCfg); err != nil {
		log.Fatalf("Invalid radio configuration: %v", err)
	}
	if err := r.On(); err != nil {
		log.Fatalf("Failed to turn radio on: %v", err)
	}
	log.Printf("Radio on, channel=%d group=%d", radioCfg.Channel, radioCfg.Group)

	if *stdioMode {
		stdioStop := make(chan struct{})
		go runStdioBridge(r, stdioStop)
		defer close(stdioStop)
	}

	metricsStop := make(chan struct{})
	defer close(metricsStop)
	go func() {
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-metricsStop:
				return
			case <-ticker.C:
				m.ConnectedPeers.Set(float64(r.PeerCount()))
				m.MailboxDepth.Set(float64(r.MailboxLen()))
			}
		}
	}()

	var bridge *mqttbridge.Bridge
	if cfg.MQTT.Enabled {
		bridge, err = mqttbridge.New(mqttbridge.Config{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Topic:    cfg.MQTT.Topic,
		})
		if err != nil {
			log.Printf("Warning: MQTT bridge disabled: %v", err)
		} else {
			stopCh := make(chan struct{})
			go bridge.PublishLoop(r, time.Second, stopCh)
			defer close(stopCh)

			if cfg.MQTT.MetricsTopic != "" {
				metricsStopCh := make(chan struct{})
				go bridge.PublishMetricsLoop(cfg.MQTT.MetricsTopic, 10*time.Second, metricsStopCh)
				defer close(metricsStopCh)
			}

			defer bridge.Close()
		}
	}

	if cfg.Prometheus.Enabled {
		mux := http.NewServeMux()
		mux.Handle(cfg.Prometheus.Path, metrics.Handler())
		srv := &http.Server{Addr: cfg.Prometheus.Listen, Handler: mux}
		go func() {
			log.Printf("Prometheus metrics listening on %s%s", cfg.Prometheus.Listen, cfg.Prometheus.Path)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("Prometheus server error: %v", err)
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down...")
	r.Close()
}

// runStdioBridge wires the stdio peer transport to the local
// radio: commands arriving on stdin are handed to the radio as if they had
// arrived from a network peer, and entries the radio receives are
// re-encoded and written to stdout as radio.send_bytes commands. A parent
// process launching microbit-sim as a child talks to it over stdin/stdout
// instead of joining the TCP mesh directly.
func runStdioBridge(r *radio.Radio, stopCh <-chan struct{}) {
	stdioPeer := peer.NewStdio(os.Stdin, os.Stdout)
	stdioPeer.AddListener(func(c command.Command) {
		r.HandleInbound(c)
	})

	go func() {
		if err := stdioPeer.Listen(); err != nil {
			log.Printf("stdio bridge: listen ended: %v", err)
		}
	}()

	const pollInterval = 50 * time.Millisecond
	for {
		select {
		case <-stopCh:
			stdioPeer.Stop()
			return
		default:
		}

		entry, ok := r.ReceiveFull()
		if !ok {
			time.Sleep(pollInterval)
			continue
		}

		cfg := r.Config()
		c := command.Command{
			Tag:     command.TagRadioSendBytes,
			Address: cfg.Address,
			Channel: cfg.Channel,
			Group:   cfg.Group,
			Power:   cfg.Power,
			Message: entry.Message,
		}
		if err := stdioPeer.SendCommand(c); err != nil {
			log.Printf("stdio bridge: send: %v", err)
			return
		}
	}
}
