// Package radio implements the user-facing broadcast primitive: an accept
// loop on an ephemeral port, a bounded mailbox, periodic membership refresh
// against a synchronisation server, broadcast send, and (address, channel,
// group) filtering of received commands.
package radio

import (
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/sys/unix"

	"github.com/BergLucas/microbit-go-simulator/internal/command"
	"github.com/BergLucas/microbit-go-simulator/internal/connserver"
	"github.com/BergLucas/microbit-go-simulator/internal/linker"
	"github.com/BergLucas/microbit-go-simulator/internal/metrics"
	"github.com/BergLucas/microbit-go-simulator/internal/peer"
	"github.com/BergLucas/microbit-go-simulator/internal/syncclient"
)

// state is the radio's three-state lifecycle.
type state int

const (
	stateOff state = iota
	stateOn
	stateClosed
)

var (
	// ErrConfiguration is returned when a Config fails Validate.
	ErrConfiguration = errors.New("radio: invalid configuration")
	// ErrClosed is returned by On and Configure on a radio that has been
	// permanently shut down; send and receive calls on it are no-ops.
	ErrClosed = errors.New("radio: closed")
	// ErrMessageTooLong is returned by SendBytes/Send when the payload
	// exceeds the configured length.
	ErrMessageTooLong = errors.New("radio: message exceeds configured length")
)

// localAliases mirrors syncserver's loopback-detection aliases. Each
// component keeps its own notion of "is this address mine" private.
var localAliases = []string{"localhost", "127.0.0.1"}

// Radio is one simulated device's broadcast primitive.
type Radio struct {
	basePort int
	sync     *syncclient.Client

	mu    sync.Mutex
	state state
	cfg   Config

	mailbox *mailbox

	peersMu sync.Mutex
	peers   map[linker.Address]peer.Peer

	connSrv *connserver.Server
	port    int

	localIPs map[string]bool

	stopCh    chan struct{}
	startedAt time.Time

	metrics *metrics.Metrics

	debug bool
}

// New constructs an off-state Radio. basePort is the first port tried by
// On; syncAddr is the local synchronisation server's data-port address
// (host:port).
func New(basePort int, syncAddr string, debug bool) *Radio {
	r := &Radio{
		basePort: basePort,
		sync:     syncclient.New(syncAddr),
		cfg:      DefaultConfig(),
		peers:    make(map[linker.Address]peer.Peer),
		localIPs: make(map[string]bool),
		debug:    debug,
	}
	for _, alias := range localAliases {
		r.localIPs[alias] = true
	}
	for _, ip := range localInterfaceIPs() {
		r.localIPs[ip] = true
	}
	r.mailbox = newMailbox(r.cfg.Queue)
	return r
}

// SetMetrics attaches the process's metrics so the radio can count sent and
// dropped commands. Call before On.
func (r *Radio) SetMetrics(m *metrics.Metrics) {
	r.metrics = m
}

func (r *Radio) droppedInc(reason string) {
	if r.metrics != nil {
		r.metrics.CommandsDropped.WithLabelValues(reason).Inc()
	}
}

func (r *Radio) debugf(format string, args ...any) {
	if r.debug {
		log.Printf("radio: "+format, args...)
	}
}

// Config returns the radio's current configuration.
func (r *Radio) Config() Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg
}

// Configure validates and installs cfg. It always resets the mailbox; if the
// radio is on, it also re-announces the new tag to the synchronisation
// server.
func (r *Radio) Configure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	if r.state == stateClosed {
		r.mu.Unlock()
		return ErrClosed
	}

	oldTag := r.cfg.tag()
	r.cfg = cfg
	r.mailbox = newMailbox(cfg.Queue)
	relink := r.state == stateOn && cfg.tag() != oldTag
	port := r.port
	r.mu.Unlock()

	// Orders are network I/O; send them with the state mutex released.
	if relink {
		r.sync.UnlinkPort(port)
		r.sync.LinkPort(cfg.tag(), port)
	}
	return nil
}

// On transitions off -> on: it acquires a port (retrying on EADDRINUSE),
// opens the accept loop, announces the tag to the local synchronisation
// server, and starts the membership refresh worker.
func (r *Radio) On() error {
	r.mu.Lock()
	if r.state == stateClosed {
		r.mu.Unlock()
		return ErrClosed
	}
	if r.state == stateOn {
		r.mu.Unlock()
		return nil
	}

	srv, port, err := bindWithRetry(r.basePort)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	r.connSrv = srv
	r.port = port
	r.stopCh = make(chan struct{})
	r.startedAt = time.Now()
	r.state = stateOn
	tag := r.cfg.tag()
	stopCh := r.stopCh
	r.mu.Unlock()

	// The link order is network I/O, sent with the state mutex released.
	r.sync.LinkPort(tag, port)

	go r.acceptLoop(srv, stopCh)
	go r.membershipLoop(stopCh)

	r.debugf("on: bound port %d, tag %s", port, tag)
	return nil
}

// bindWithRetry tries basePort, then basePort+1, basePort+2, ... until a
// bind succeeds. There is no upper bound on retries.
func bindWithRetry(basePort int) (*connserver.Server, int, error) {
	port := basePort
	for {
		srv, err := connserver.Listen("", port)
		if err == nil {
			return srv, srv.Port(), nil
		}
		if !isAddrInUse(err) {
			return nil, 0, fmt.Errorf("radio: bind port %d: %w", port, err)
		}
		port++
	}
}

// isAddrInUse reports whether err is EADDRINUSE, checked against the
// portable errno constant rather than matching on err.Error()'s text.
func isAddrInUse(err error) bool {
	return errors.Is(err, unix.EADDRINUSE)
}

// Off transitions on -> off: withdraws the registry entry, stops the accept
// and membership workers, closes every peer in the connected-peers map, and
// releases the port. Inbound connections accepted earlier are not closed
// here; each one's read worker ends when its remote side closes.
func (r *Radio) Off() error {
	r.mu.Lock()
	if r.state != stateOn {
		r.mu.Unlock()
		return nil
	}

	close(r.stopCh)
	r.connSrv.Close()
	port := r.port
	r.mailbox = newMailbox(r.cfg.Queue)
	r.state = stateOff
	r.mu.Unlock()

	r.peersMu.Lock()
	for addr, p := range r.peers {
		p.Close(peer.CloseNormal, "radio off")
		delete(r.peers, addr)
	}
	r.peersMu.Unlock()

	r.sync.UnlinkPort(port)
	r.debugf("off")
	return nil
}

// Reset reinitialises the configuration to defaults and, if on, re-announces
// the resulting tag (same semantics as Configure(DefaultConfig())).
func (r *Radio) Reset() error {
	return r.Configure(DefaultConfig())
}

// Close permanently shuts the radio down; no further On is possible.
func (r *Radio) Close() error {
	r.Off()
	r.mu.Lock()
	r.state = stateClosed
	r.mu.Unlock()
	r.sync.Disconnect()
	return nil
}

// acceptLoop accepts inbound stream connections and spawns one read worker
// per connection.
func (r *Radio) acceptLoop(srv *connserver.Server, stopCh chan struct{}) {
	for {
		conn, err := srv.Accept()
		if err != nil {
			select {
			case <-stopCh:
				return
			default:
				r.debugf("acceptLoop: %v", err)
				continue
			}
		}
		p := peer.Accept(conn)
		p.AddListener(r.onCommand)
		go func() {
			if err := p.Listen(); err != nil {
				r.debugf("acceptLoop: inbound peer listen: %v", err)
			}
		}()
	}
}

// HandleInbound applies the same (address, channel, group) filtering as an
// inbound network peer would to c, enqueueing it into the mailbox on a
// match. It is exported for the stdio transport: a controlling
// parent process that launched this simulator as a subprocess can inject a
// radio.send_bytes command over stdin as if it had arrived from a network
// peer.
func (r *Radio) HandleInbound(c command.Command) {
	r.onCommand(c)
}

// onCommand is the listener attached to every inbound peer: it filters by
// (address, channel, group) and enqueues matching radio.send_bytes commands
// into the mailbox.
func (r *Radio) onCommand(c command.Command) {
	if c.Tag != command.TagRadioSendBytes {
		return
	}

	cfg := r.Config()
	if c.Address != cfg.Address || c.Channel != cfg.Channel || c.Group != cfg.Group {
		r.droppedInc("filtered")
		return
	}

	entry := Entry{
		Message:   c.Message,
		RSSI:      (MaxPower - c.Power) * 8,
		Timestamp: time.Since(r.startedAt).Microseconds(),
	}
	if !r.mailbox.Put(entry) {
		r.droppedInc("queue_full")
	}
}

// membershipLoop wakes once a second, queries the
// synchronisation server for the current tag's membership, and reconciles
// the connected-peers map.
func (r *Radio) membershipLoop(stopCh chan struct{}) {
	const interval = time.Second
	for {
		select {
		case <-stopCh:
			return
		case <-time.After(interval):
		}
		r.refreshMembership()
	}
}

func (r *Radio) refreshMembership() {
	tag := r.Config().tag()
	addresses := r.sync.GetAddresses(tag)

	want := make(map[linker.Address]bool, len(addresses))
	for _, addr := range addresses {
		if r.isSelf(addr) {
			continue
		}
		want[addr] = true
	}

	r.peersMu.Lock()
	var toAdd []linker.Address
	for addr := range want {
		if _, ok := r.peers[addr]; !ok {
			toAdd = append(toAdd, addr)
		}
	}
	for addr, p := range r.peers {
		if !want[addr] {
			p.Close(peer.CloseNormal, "peer left membership")
			delete(r.peers, addr)
		}
	}
	r.peersMu.Unlock()

	for _, addr := range toAdd {
		r.connectPeer(addr)
	}
}

// isSelf reports whether addr refers to this radio's own listening socket,
// treating every local-interface alias as equivalent to every other.
func (r *Radio) isSelf(addr linker.Address) bool {
	return addr.Port == r.port && r.localIPs[addr.Host]
}

func (r *Radio) connectPeer(addr linker.Address) {
	p, err := peer.Connect(fmt.Sprintf("%s:%d", addr.Host, addr.Port))
	if err != nil {
		r.debugf("connectPeer %v: %v", addr, err)
		return
	}
	p.AddListener(r.onCommand)

	r.peersMu.Lock()
	r.peers[addr] = p
	r.peersMu.Unlock()

	go func() {
		if err := p.Listen(); err != nil {
			r.debugf("connectPeer %v: listen ended: %v", addr, err)
		}
		r.peersMu.Lock()
		if r.peers[addr] == p {
			delete(r.peers, addr)
		}
		r.peersMu.Unlock()
	}()
}

// SendBytes broadcasts message to every currently connected peer. A
// send failure removes that peer from the map and broadcast continues
// with the rest.
func (r *Radio) SendBytes(message []byte) error {
	r.mu.Lock()
	on := r.state == stateOn
	cfg := r.cfg
	r.mu.Unlock()

	if !on {
		return nil
	}
	if len(message) > cfg.Length {
		return ErrMessageTooLong
	}

	c := command.Command{
		Tag:     command.TagRadioSendBytes,
		Address: cfg.Address,
		Channel: cfg.Channel,
		Group:   cfg.Group,
		Power:   cfg.Power,
		Message: message,
	}

	r.peersMu.Lock()
	snapshot := make(map[linker.Address]peer.Peer, len(r.peers))
	for addr, p := range r.peers {
		snapshot[addr] = p
	}
	r.peersMu.Unlock()

	for addr, p := range snapshot {
		if err := p.SendCommand(c); err != nil {
			r.peersMu.Lock()
			if r.peers[addr] == p {
				delete(r.peers, addr)
			}
			r.peersMu.Unlock()
			continue
		}
		if r.metrics != nil {
			r.metrics.CommandsSent.WithLabelValues(string(c.Tag)).Inc()
		}
	}
	return nil
}

// sendPrefix is prepended by Send to distinguish radio.send() string
// payloads from raw send_bytes payloads on the wire.
var sendPrefix = []byte{0x01, 0x00, 0x01}

// Send wraps s in the 3-byte string-message prefix and calls SendBytes.
func (r *Radio) Send(s string) error {
	return r.SendBytes(append(append([]byte{}, sendPrefix...), []byte(s)...))
}

// isOn reports whether the radio is currently in the on state. Receive and
// send operations are no-ops while off or closed.
func (r *Radio) isOn() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state == stateOn
}

// ReceiveBytes pops one mailbox entry's raw message, non-blocking. It
// returns absent while the radio is off or closed.
func (r *Radio) ReceiveBytes() ([]byte, bool) {
	if !r.isOn() {
		return nil, false
	}
	e, ok := r.mailbox.Get()
	if !ok {
		return nil, false
	}
	return e.Message, true
}

// Receive pops one mailbox entry, strips and checks the 3-byte string
// prefix, and decodes the remainder as UTF-8. ok is false if the radio is
// off or closed, the mailbox is empty, the entry was not a prefixed string
// message, or the payload is not valid UTF-8.
func (r *Radio) Receive() (string, bool) {
	if !r.isOn() {
		return "", false
	}
	e, ok := r.mailbox.Get()
	if !ok {
		return "", false
	}
	if len(e.Message) < len(sendPrefix) {
		return "", false
	}
	for i, b := range sendPrefix {
		if e.Message[i] != b {
			return "", false
		}
	}
	payload := e.Message[len(sendPrefix):]
	if !utf8.Valid(payload) {
		return "", false
	}
	return string(payload), true
}

// ReceiveFull pops one mailbox entry in full: message, RSSI and timestamp.
// It returns absent while the radio is off or closed.
func (r *Radio) ReceiveFull() (Entry, bool) {
	if !r.isOn() {
		return Entry{}, false
	}
	return r.mailbox.Get()
}

// PeerCount reports the number of peers currently in the membership map,
// for internal/metrics.
func (r *Radio) PeerCount() int {
	r.peersMu.Lock()
	defer r.peersMu.Unlock()
	return len(r.peers)
}

// MailboxLen reports the number of entries currently queued, for
// internal/metrics.
func (r *Radio) MailboxLen() int {
	return r.mailbox.Len()
}

// localInterfaceIPs enumerates local IPv4 addresses. Duplicated from
// syncserver rather than shared; each component enumerates for itself.
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
