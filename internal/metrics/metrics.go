// Package metrics exposes Prometheus instrumentation for the fabric: peer
// counts, linker size, mailbox depth, gossip rounds, and host CPU core
// count.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/cpu"
)

// Metrics holds every collector the simulator exports.
type Metrics struct {
	ConnectedPeers  prometheus.Gauge       // radio: peers currently in the membership map
	MailboxDepth    prometheus.Gauge       // radio: entries currently queued
	LinkerSize      *prometheus.GaugeVec   // syncserver: registry entries, by tag
	GossipRounds    prometheus.Counter     // syncserver: completed gossip exchanges
	CommandsSent    *prometheus.CounterVec // by command tag
	CommandsDropped *prometheus.CounterVec // radio: filter misses and full-mailbox drops, by reason
	FabricPeers     prometheus.Gauge       // fabric: currently connected websocket peers
	HostCPUCores    prometheus.Gauge       // host: CPU cores, summed across sockets
}

// New registers every collector against the default Prometheus registry and
// samples the host's CPU core count once via gopsutil.
func New() *Metrics {
	m := &Metrics{
		ConnectedPeers: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "microbit_radio_connected_peers",
			Help: "Number of peers currently in the radio's membership map.",
		}),
		MailboxDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "microbit_radio_mailbox_depth",
			Help: "Number of entries currently queued in the radio's mailbox.",
		}),
		LinkerSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "microbit_linker_entries",
			Help: "Number of registry entries held by the synchronisation server, by tag.",
		}, []string{"tag"}),
		GossipRounds: promauto.NewCounter(prometheus.CounterOpts{
			Name: "microbit_syncserver_gossip_rounds_total",
			Help: "Total number of completed gossip exchanges with peer synchronisation servers.",
		}),
		CommandsSent: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "microbit_commands_sent_total",
			Help: "Total number of commands sent, by tag.",
		}, []string{"command"}),
		CommandsDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "microbit_commands_dropped_total",
			Help: "Total number of commands dropped, by reason.",
		}, []string{"reason"}),
		FabricPeers: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "microbit_fabric_connected_peers",
			Help: "Number of websocket peers currently connected to the fabric broker.",
		}),
		HostCPUCores: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "microbit_host_cpu_cores",
			Help: "Number of CPU cores on the host running this process, summed across sockets.",
		}),
	}

	m.HostCPUCores.Set(float64(hostCPUCores()))
	return m
}

// hostCPUCores sums cores across every CPU gopsutil reports. A lookup
// failure (e.g. a sandboxed environment with no readable /proc/cpuinfo)
// leaves the gauge at 0 rather than failing metrics registration.
func hostCPUCores() int {
	info, err := cpu.Info()
	if err != nil {
		return 0
	}
	cores := 0
	for _, c := range info {
		cores += int(c.Cores)
	}
	return cores
}

// Handler returns the standard Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
