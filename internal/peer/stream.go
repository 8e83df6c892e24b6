package peer

import (
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"

	"github.com/BergLucas/microbit-go-simulator/internal/command"
	"github.com/BergLucas/microbit-go-simulator/internal/frame"
)

// StreamPeer is the full-mesh transport: a command channel over a raw TCP
// connection, framed by internal/frame. Connect and Accept are the two
// constructors.
type StreamPeer struct {
	listenerSet

	codec    *frame.Codec
	listenMu sync.Mutex
	stopping atomic.Bool
	closed   atomic.Bool
}

// Connect opens a TCP connection to addr and wraps it in a StreamPeer.
func Connect(addr string) (*StreamPeer, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("peer: connect to %s: %w", addr, err)
	}
	return newStreamPeer(conn), nil
}

// Accept wraps an already-accepted connection (from a connserver.Server)
// in a StreamPeer.
func Accept(conn net.Conn) *StreamPeer {
	return newStreamPeer(conn)
}

func newStreamPeer(conn net.Conn) *StreamPeer {
	p := &StreamPeer{codec: frame.New(conn)}
	p.init()
	return p
}

// SendCommand implements Peer.
func (p *StreamPeer) SendCommand(c command.Command) error {
	if p.closed.Load() {
		return ErrCommunicationClosed
	}
	encoded, err := command.Encode(c)
	if err != nil {
		return err
	}
	if err := p.codec.Send(encoded); err != nil {
		p.closed.Store(true)
		return ErrCommunicationClosed
	}
	return nil
}

// AddListener implements Peer.
func (p *StreamPeer) AddListener(f Listener) int { return p.add(f) }

// RemoveListener implements Peer.
func (p *StreamPeer) RemoveListener(id int) { p.remove(id) }

// Listen implements Peer. Only one goroutine may call Listen at a time.
func (p *StreamPeer) Listen() error {
	p.listenMu.Lock()
	defer p.listenMu.Unlock()

	p.stopping.Store(false)
	for !p.stopping.Load() {
		payload, err := p.codec.Recv()
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
func (p *StreamPeer) Stop() {
	p.stopping.Store(true)
	// Unblock a pending Recv by closing the transport; Listen's next
	// suspension point observes stopping and returns.
	p.codec.Close()
}

// Close implements Peer. It is idempotent.
func (p *StreamPeer) Close(code CloseCode, reason string) error {
	if p.closed.Swap(true) {
		return nil
	}
	if reason != "" {
		log.Printf("peer: closing (code=%d): %s", code, reason)
	}
	return p.codec.Close()
}
