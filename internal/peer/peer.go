// Package peer implements the bidirectional command channel shared by both
// network topologies: a full-mesh stream transport (TCP frame-codec or
// newline-delimited stdio) and a websocket transport used by the broker.
// Both expose the same Peer interface.
package peer

import (
	"errors"
	"sync"

	"github.com/BergLucas/microbit-go-simulator/internal/command"
)

// ErrCommunicationClosed mirrors frame.ErrCommunicationClosed at the peer
// level: once a send fails, the peer is permanently unusable.
var ErrCommunicationClosed = errors.New("peer: communication closed")

// CloseCode distinguishes a normal shutdown from an error teardown, mapped
// onto websocket close codes 1000 and 1011 respectively.
type CloseCode int

const (
	CloseNormal CloseCode = 1000
	CloseError  CloseCode = 1011
)

// Listener receives commands from the peer's read loop, one at a time, in
// arrival order. A listener must not block indefinitely: it runs on the
// peer's own listen loop goroutine.
type Listener func(command.Command)

// Peer is a bidirectional command channel over some framed transport.
type Peer interface {
	// SendCommand serialises and sends c. It is safe to call concurrently
	// with Listen from any goroutine; a failed send marks the peer
	// permanently unusable and returns ErrCommunicationClosed.
	SendCommand(c command.Command) error

	// AddListener registers f to be invoked for every command received
	// from now on, and returns an id that can be passed to RemoveListener.
	AddListener(f Listener) int

	// RemoveListener unregisters the listener with the given id.
	RemoveListener(id int)

	// Listen blocks the calling goroutine, dispatching received commands
	// to registered listeners, until Stop is called or the connection is
	// closed. Only one goroutine may call Listen on a given Peer at a
	// time.
	Listen() error

	// Stop cooperatively interrupts an in-progress Listen call.
	Stop()

	// Close is final and idempotent: it closes the underlying transport
	// with the given close code and reason.
	Close(code CloseCode, reason string) error
}

// listenerSet is embedded by every Peer implementation to share the
// registration bookkeeping and dispatch behaviour.
type listenerSet struct {
	mu        sync.Mutex
	nextID    int
	listeners map[int]Listener
}

func (s *listenerSet) init() {
	if s.listeners == nil {
		s.listeners = make(map[int]Listener)
	}
}

func (s *listenerSet) add(f Listener) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.init()
	id := s.nextID
	s.nextID++
	s.listeners[id] = f
	return id
}

func (s *listenerSet) remove(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.listeners, id)
}

func (s *listenerSet) dispatch(c command.Command) {
	s.mu.Lock()
	snapshot := make([]Listener, 0, len(s.listeners))
	for _, f := range s.listeners {
		snapshot = append(snapshot, f)
	}
	s.mu.Unlock()

	for _, f := range snapshot {
		f(c)
	}
}
