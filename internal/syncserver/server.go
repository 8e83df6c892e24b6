// Package syncserver implements the replicated-registry synchronisation
// server: a two-port service that gossips its AddressesLinker with peer
// synchronisation servers and accepts link/unlink/get orders from local
// synchronisation clients.
package syncserver

import (
	"log"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BergLucas/microbit-go-simulator/internal/connserver"
	"github.com/BergLucas/microbit-go-simulator/internal/frame"
	"github.com/BergLucas/microbit-go-simulator/internal/linker"
	"github.com/BergLucas/microbit-go-simulator/internal/metrics"
)

// localAliases are treated as aliases of every local interface address for
// loopback detection.
var localAliases = []string{"localhost", "127.0.0.1"}

// Config configures a Server.
type Config struct {
	SyncPort int
	DataPort int

	// TargetIPs is the caller-provided LAN scan list. If empty, Server
	// synthesises one from every local IPv4 address by dropping the last
	// octet and enumerating 1..254.
	TargetIPs []string

	// Interval paces both the gossip loop and the discovery reconnect
	// loop.
	Interval time.Duration

	// Metrics, when non-nil, receives the gossip-round counter and the
	// per-tag registry-size gauge.
	Metrics *metrics.Metrics

	Debug bool
}

// Server is one synchronisation server instance, normally one per host
// process.
type Server struct {
	cfg Config

	linker *linker.Linker

	syncSrv *connserver.Server
	dataSrv *connserver.Server

	localIPs map[string]bool

	connectedMu sync.Mutex
	connected   map[string]bool // sync-server host addresses already gossiping

	stopCh chan struct{}
}

// New constructs a Server but does not start it.
func New(cfg Config) *Server {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}

	s := &Server{
		cfg:       cfg,
		linker:    linker.New(),
		localIPs:  make(map[string]bool),
		connected: make(map[string]bool),
		stopCh:    make(chan struct{}),
	}
	for _, alias := range localAliases {
		s.localIPs[alias] = true
	}
	for _, ip := range localInterfaceIPs() {
		s.localIPs[ip] = true
	}
	return s
}

// Linker exposes the server's registry, mainly for tests and for embedding
// a syncserver in the same process as a radio for loopback scenarios.
func (s *Server) Linker() *linker.Linker {
	return s.linker
}

// Start binds both ports and launches the accept loops and discovery
// workers. Each loop is a daemonized background worker: process
// exit does not wait on them.
func (s *Server) Start() error {
	syncSrv, err := connserver.Listen("", s.cfg.SyncPort)
	if err != nil {
		return err
	}
	dataSrv, err := connserver.Listen("", s.cfg.DataPort)
	if err != nil {
		syncSrv.Close()
		return err
	}
	s.syncSrv = syncSrv
	s.dataSrv = dataSrv

	go s.acceptSyncConnections()
	go s.acceptDataConnections()

	targets := s.cfg.TargetIPs
	if len(targets) == 0 {
		targets = synthesiseTargets(localInterfaceIPs())
	}
	for _, ip := range targets {
		if s.localIPs[ip] {
			continue
		}
		go s.discoverTarget(ip)
	}

	return nil
}

// Stop closes both listeners, unblocking the accept loops; discovery
// workers observe stopCh at their next sleep and exit.
func (s *Server) Stop() {
	select {
	case <-s.stopCh:
		return
	default:
		close(s.stopCh)
	}
	if s.syncSrv != nil {
		s.syncSrv.Close()
	}
	if s.dataSrv != nil {
		s.dataSrv.Close()
	}
}

func (s *Server) stopped() bool {
	select {
	case <-s.stopCh:
		return true
	default:
		return false
	}
}

// publishLinkerSize refreshes the per-tag registry-size gauge after a
// linker mutation. No-op when no metrics are attached.
func (s *Server) publishLinkerSize() {
	if s.cfg.Metrics == nil {
		return
	}
	s.cfg.Metrics.LinkerSize.Reset()
	for tag, n := range s.linker.TagCounts() {
		s.cfg.Metrics.LinkerSize.WithLabelValues(tag).Set(float64(n))
	}
}

func (s *Server) debugf(format string, args ...any) {
	if s.cfg.Debug {
		log.Printf("syncserver: "+format, args...)
	}
}

// acceptSyncConnections accepts inbound peer synchronisation-server
// connections and hands each to the gossip loop.
func (s *Server) acceptSyncConnections() {
	for {
		conn, err := s.syncSrv.Accept()
		if err != nil {
			if s.stopped() {
				return
			}
			s.debugf("acceptSyncConnections: %v", err)
			continue
		}
		host, _, _ := net.SplitHostPort(conn.RemoteAddr().String())
		go s.gossipWith(host, conn, false)
	}
}

// acceptDataConnections accepts inbound synchronisation-client connections
// and hands each to the order loop.
func (s *Server) acceptDataConnections() {
	for {
		conn, err := s.dataSrv.Accept()
		if err != nil {
			if s.stopped() {
				return
			}
			s.debugf("acceptDataConnections: %v", err)
			continue
		}
		host, _, _ := net.SplitHostPort(conn.RemoteAddr().String())
		go s.serveOrders(host, conn)
	}
}

// serveOrders reads orders from a data connection until it dies. A data
// connection owns at most one registry entry; that entry is removed on
// disconnect.
func (s *Server) serveOrders(host string, conn net.Conn) {
	codec := frame.New(conn)
	defer codec.Close()

	var owned *linker.Address

	for {
		encoded, err := codec.Recv()
		if err != nil {
			if owned != nil {
				s.linker.Unlink(*owned)
				s.publishLinkerSize()
			}
			s.debugf("serveOrders: client at %s disconnected", host)
			return
		}

		order, err := DecodeOrder(encoded)
		if err != nil {
			s.debugf("serveOrders: could not decode order from %s: %v", host, err)
			continue
		}

		switch {
		case order.Link != nil:
			addr := linker.Address{Host: host, Port: order.Link.Port}
			if owned != nil {
				s.linker.Unlink(*owned)
			}
			s.linker.Link(addr, order.Link.Tag)
			owned = &addr
			s.publishLinkerSize()

		case order.Unlink != nil:
			if owned != nil && owned.Port == *order.Unlink && owned.Host == host {
				s.linker.Unlink(*owned)
				owned = nil
				s.publishLinkerSize()
			}

		case order.Get != nil:
			values := s.linker.ValuesFor([]string{*order.Get})
			reply, err := linker.EncodeValues(values)
			if err != nil {
				s.debugf("serveOrders: could not encode reply: %v", err)
				continue
			}
			if err := codec.Send(reply); err != nil {
				return
			}
		}
	}
}

// gossipWith runs the symmetric gossip loop with a single peer
// synchronisation server: send the local linker, receive the remote one,
// merge, sleep, repeat. outbound distinguishes discoverTarget's dialled
// connections from acceptSyncConnections' accepted ones, purely for
// logging.
func (s *Server) gossipWith(host string, conn net.Conn, outbound bool) {
	defer conn.Close()
	codec := frame.New(conn)
	defer codec.Close()

	s.debugf("gossiping with %s (outbound=%v)", host, outbound)

	for !s.stopped() {
		localJSON, err := s.linker.ToJSON()
		if err != nil {
			return
		}
		if err := codec.Send(localJSON); err != nil {
			s.debugf("gossipWith %s: send failed: %v", host, err)
			return
		}

		remoteJSON, err := codec.Recv()
		if err != nil {
			s.debugf("gossipWith %s: recv failed: %v", host, err)
			return
		}

		remote, err := linker.FromJSON(remoteJSON)
		if err != nil {
			s.debugf("gossipWith %s: invalid linker JSON: %v", host, err)
			continue
		}
		s.linker.Merge(remote)
		s.publishLinkerSize()
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.GossipRounds.Inc()
		}

		select {
		case <-s.stopCh:
			return
		case <-time.After(s.cfg.Interval):
		}
	}
}

// discoverTarget repeatedly attempts a TCP connect to target's sync port
// until it succeeds, then hands the connection to the gossip loop. It
// retries forever at Interval cadence: no backoff beyond
// the configured interval, since discovery must survive an indefinitely
// unreachable LAN peer.
func (s *Server) discoverTarget(target string) {
	for !s.stopped() {
		s.connectedMu.Lock()
		already := s.connected[target]
		s.connectedMu.Unlock()
		if already {
			select {
			case <-s.stopCh:
				return
			case <-time.After(s.cfg.Interval):
			}
			continue
		}

		conn, err := net.DialTimeout("tcp", net.JoinHostPort(target, strconv.Itoa(s.cfg.SyncPort)), 2*time.Second)
		if err != nil {
			select {
			case <-s.stopCh:
				return
			case <-time.After(s.cfg.Interval):
			}
			continue
		}

		s.connectedMu.Lock()
		s.connected[target] = true
		s.connectedMu.Unlock()

		s.gossipWith(target, conn, true)

		s.connectedMu.Lock()
		delete(s.connected, target)
		s.connectedMu.Unlock()
	}
}

// synthesiseTargets drops the last octet of each local IPv4 address and
// enumerates 1..254.
func synthesiseTargets(localIPs []string) []string {
	seen := make(map[string]bool)
	var targets []string
	for _, ip := range localIPs {
		parts := strings.Split(ip, ".")
		if len(parts) != 4 {
			continue
		}
		prefix := strings.Join(parts[:3], ".")
		if seen[prefix] {
			continue
		}
		seen[prefix] = true
		for i := 1; i < 255; i++ {
			targets = append(targets, prefix+"."+strconv.Itoa(i))
		}
	}
	return targets
}

// localInterfaceIPs enumerates every local IPv4 address. Hosts with exotic
// interface configurations may not be fully enumerated.
func localInterfaceIPs() []string {
	var ips []string
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ips
	}
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		ip4 := ipNet.IP.To4()
		if ip4 == nil {
			continue
		}
		ips = append(ips, ip4.String())
	}
	return ips
}
