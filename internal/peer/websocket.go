package peer

import (
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/BergLucas/microbit-go-simulator/internal/buildinfo"
	"github.com/BergLucas/microbit-go-simulator/internal/command"
)

// upgrader is shared by every accepted broker connection.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WebsocketPeer is the broker-topology transport: a command channel over a
// single websocket connection. Framing is the websocket message boundary
// rather than internal/frame's length prefix.
type WebsocketPeer struct {
	listenerSet

	conn     *websocket.Conn
	writeMu  sync.Mutex
	listenMu sync.Mutex
	stopping atomic.Bool
	closed   atomic.Bool
}

// DialWebsocket connects to a websocket broker at ws://host:port/, advertising
// this build's protocol version so the broker can reject the handshake on a
// known-incompatible peer.
func DialWebsocket(url string) (*WebsocketPeer, error) {
	header := http.Header{}
	header.Set(buildinfo.ProtocolVersionHeader, buildinfo.Version)

	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUpgradeRequired {
			return nil, fmt.Errorf("peer: dial %s: broker rejected incompatible protocol version %s", url, buildinfo.Version)
		}
		return nil, fmt.Errorf("peer: dial %s: %w", url, err)
	}
	return newWebsocketPeer(conn), nil
}

// UpgradeWebsocket upgrades an incoming HTTP request to a websocket
// connection and wraps it in a WebsocketPeer, the accept-side constructor
// used by the fabric broker's HTTP handler.
func UpgradeWebsocket(w http.ResponseWriter, r *http.Request) (*WebsocketPeer, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("peer: upgrade: %w", err)
	}
	return newWebsocketPeer(conn), nil
}

func newWebsocketPeer(conn *websocket.Conn) *WebsocketPeer {
	p := &WebsocketPeer{conn: conn}
	p.init()
	return p
}

// SendCommand implements Peer.
func (p *WebsocketPeer) SendCommand(c command.Command) error {
	if p.closed.Load() {
		return ErrCommunicationClosed
	}
	encoded, err := command.Encode(c)
	if err != nil {
		return err
	}

	p.writeMu.Lock()
	p.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	err = p.conn.WriteMessage(websocket.TextMessage, encoded)
	p.writeMu.Unlock()

	if err != nil {
		p.closed.Store(true)
		return ErrCommunicationClosed
	}
	return nil
}

// AddListener implements Peer.
func (p *WebsocketPeer) AddListener(f Listener) int { return p.add(f) }

// RemoveListener implements Peer.
func (p *WebsocketPeer) RemoveListener(id int) { p.remove(id) }

// Listen implements Peer.
func (p *WebsocketPeer) Listen() error {
	p.listenMu.Lock()
	defer p.listenMu.Unlock()

	p.stopping.Store(false)
	for !p.stopping.Load() {
		_, payload, err := p.conn.ReadMessage()
		if err != nil {
			if p.stopping.Load() {
				return nil
			}
			p.closed.Store(true)
			return ErrCommunicationClosed
		}

		c, err := command.Decode(payload)
		if err != nil {
			log.Printf("peer: discarding malformed command: %v", err)
			continue
		}

		p.dispatch(c)
	}
	return nil
}

// Stop implements Peer.
func (p *WebsocketPeer) Stop() {
	p.stopping.Store(true)
	p.conn.Close()
}

// Close implements Peer. It is idempotent.
func (p *WebsocketPeer) Close(code CloseCode, reason string) error {
	if p.closed.Swap(true) {
		return nil
	}

	p.writeMu.Lock()
	msg := websocket.FormatCloseMessage(int(code), reason)
	p.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	p.writeMu.Unlock()

	return p.conn.Close()
}
