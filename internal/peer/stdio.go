package peer

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"

	"github.com/BergLucas/microbit-go-simulator/internal/command"
)

// StdioPeer is the subprocess transport: one JSON command per line on a
// pair of io.Reader/io.WriteCloser, used when the simulator is launched as
// a child process. Framing here is the newline boundary
// instead of internal/frame's length prefix or the websocket message
// boundary, but the Peer API is identical to the other transports.
type StdioPeer struct {
	listenerSet

	rawReader io.ReadCloser
	reader    *bufio.Reader
	writer    io.WriteCloser
	writeMu   sync.Mutex
	listenMu  sync.Mutex
	stopping  atomic.Bool
	closed    atomic.Bool
}

// NewStdio wraps a child process's stdout (r) and stdin (w) in a StdioPeer.
func NewStdio(r io.ReadCloser, w io.WriteCloser) *StdioPeer {
	p := &StdioPeer{rawReader: r, reader: bufio.NewReader(r), writer: w}
	p.init()
	return p
}

// SendCommand implements Peer.
func (p *StdioPeer) SendCommand(c command.Command) error {
	if p.closed.Load() {
		return ErrCommunicationClosed
	}
	encoded, err := command.Encode(c)
	if err != nil {
		return err
	}

	p.writeMu.Lock()
	_, err = fmt.Fprintf(p.writer, "%s\n", encoded)
	p.writeMu.Unlock()

	if err != nil {
		p.closed.Store(true)
		return ErrCommunicationClosed
	}
	return nil
}

// AddListener implements Peer.
func (p *StdioPeer) AddListener(f Listener) int { return p.add(f) }

// RemoveListener implements Peer.
func (p *StdioPeer) RemoveListener(id int) { p.remove(id) }

// Listen implements Peer.
func (p *StdioPeer) Listen() error {
	p.listenMu.Lock()
	defer p.listenMu.Unlock()

	p.stopping.Store(false)
	for !p.stopping.Load() {
		line, err := p.reader.ReadBytes('\n')
		if err != nil {
			if p.stopping.Load() || err == io.EOF {
				return nil
			}
			p.closed.Store(true)
			return ErrCommunicationClosed
		}

		c, err := command.Decode(line)
		if err != nil {
			log.Printf("peer: discarding malformed command: %v", err)
			continue
		}

		p.dispatch(c)
	}
	return nil
}

// Stop implements Peer.
func (p *StdioPeer) Stop() {
	p.stopping.Store(true)
	p.rawReader.Close()
}

// Close implements Peer. It is idempotent.
func (p *StdioPeer) Close(code CloseCode, reason string) error {
	if p.closed.Swap(true) {
		return nil
	}
	if reason != "" {
		log.Printf("peer: closing (code=%d): %s", code, reason)
	}
	p.rawReader.Close()
	return p.writer.Close()
}
