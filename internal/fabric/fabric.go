// Package fabric implements the alternative, centralized broker topology:
// an HTTP server that upgrades every inbound connection to a websocket
// peer and rebroadcasts each received command to every other connected
// peer. Any websocket peer that dials it (peer.DialWebsocket) takes part;
// the radio package has no fabric client and always forms its full mesh
// through the synchronisation server.
package fabric

import (
	"log"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/BergLucas/microbit-go-simulator/internal/buildinfo"
	"github.com/BergLucas/microbit-go-simulator/internal/command"
	"github.com/BergLucas/microbit-go-simulator/internal/peer"
)

// Server is a websocket command broker. Every accepted peer is tagged with
// a UUID for logging.
type Server struct {
	httpSrv *http.Server

	mu    sync.Mutex
	peers map[string]peer.Peer

	debug bool
}

// New constructs a Server that will listen on addr (host:port) when Start
// is called.
func New(addr string, debug bool) *Server {
	s := &Server{
		peers: make(map[string]peer.Peer),
		debug: debug,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleUpgrade)
	s.httpSrv = &http.Server{Addr: addr, Handler: mux}
	return s
}

func (s *Server) debugf(format string, args ...any) {
	if s.debug {
		log.Printf("fabric: "+format, args...)
	}
}

// Start begins serving. It blocks until the server is shut down and
// returns http.ErrServerClosed in the ordinary shutdown case.
func (s *Server) Start() error {
	return s.httpSrv.ListenAndServe()
}

// PeerCount reports the number of currently connected peers, used by
// internal/metrics.
func (s *Server) PeerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

// handleUpgrade accepts one websocket connection, registers it, and runs
// its read loop until disconnect. A peer advertising an incompatible
// protocol version via buildinfo.ProtocolVersionHeader is rejected before
// the websocket upgrade happens; a peer that sends no version header at
// all is assumed compatible (older clients that predate the header).
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if peerVersion := r.Header.Get(buildinfo.ProtocolVersionHeader); peerVersion != "" {
		compatible, err := buildinfo.CompatibleWith(peerVersion)
		if err != nil {
			s.debugf("rejecting peer with unparseable protocol version %q: %v", peerVersion, err)
			http.Error(w, "unparseable protocol version", http.StatusUpgradeRequired)
			return
		}
		if !compatible {
			s.debugf("rejecting peer with incompatible protocol version %q (ours %q)", peerVersion, buildinfo.Version)
			http.Error(w, "incompatible protocol version", http.StatusUpgradeRequired)
			return
		}
	}

	wsPeer, err := peer.UpgradeWebsocket(w, r)
	if err != nil {
		s.debugf("upgrade failed: %v", err)
		return
	}

	id := uuid.NewString()
	wsPeer.AddListener(func(c command.Command) {
		s.broadcastExcept(id, c)
	})

	s.mu.Lock()
	s.peers[id] = wsPeer
	s.mu.Unlock()
	s.debugf("peer %s connected (%d total)", id, s.PeerCount())

	if err := wsPeer.Listen(); err != nil {
		s.debugf("peer %s listen ended: %v", id, err)
	}

	s.mu.Lock()
	delete(s.peers, id)
	s.mu.Unlock()
	s.debugf("peer %s disconnected (%d total)", id, s.PeerCount())
}

// broadcastExcept rebroadcasts c to every connected peer other than
// senderID. Filtering by (address, channel, group) is left to each
// receiving radio, not performed here.
func (s *Server) broadcastExcept(senderID string, c command.Command) {
	s.mu.Lock()
	snapshot := make(map[string]peer.Peer, len(s.peers))
	for id, p := range s.peers {
		if id != senderID {
			snapshot[id] = p
		}
	}
	s.mu.Unlock()

	for id, p := range snapshot {
		if err := p.SendCommand(c); err != nil {
			s.debugf("broadcast to %s failed: %v", id, err)
		}
	}
}

// Close shuts the broker down, closing every connected peer.
func (s *Server) Close() error {
	s.mu.Lock()
	for id, p := range s.peers {
		p.Close(peer.CloseNormal, "fabric server shutdown")
		delete(s.peers, id)
	}
	s.mu.Unlock()
	return s.httpSrv.Close()
}
