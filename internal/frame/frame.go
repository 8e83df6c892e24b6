// Package frame implements the length-prefixed byte framing used by every
// peer connection in the fabric: a 4-byte big-endian length followed by
// exactly that many bytes of payload.
package frame

import (
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"
)

// ErrCommunicationClosed is returned once the underlying stream is gone.
// Any further Send or Recv on the same Codec also fails with this error.
var ErrCommunicationClosed = errors.New("frame: communication closed")

// Codec reads and writes length-prefixed frames over a net.Conn. Send may
// be called from several goroutines at once and concurrently with Recv;
// only one goroutine may call Recv at a time.
type Codec struct {
	conn net.Conn

	writeMu sync.Mutex
	closeMu sync.Mutex
	closed  bool
}

// New wraps conn in a Codec.
func New(conn net.Conn) *Codec {
	return &Codec{conn: conn}
}

// Send writes len(payload) as a 4-byte big-endian unsigned integer followed
// by payload. Partial writes are retried internally until the whole frame
// is flushed. Concurrent Send calls are serialised, so frames never
// interleave.
func (c *Codec) Send(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))

	if err := c.writeAll(header[:]); err != nil {
		return err
	}
	if err := c.writeAll(payload); err != nil {
		return err
	}
	return nil
}

func (c *Codec) writeAll(b []byte) error {
	for len(b) > 0 {
		n, err := c.conn.Write(b)
		if err != nil {
			c.Close()
			return ErrCommunicationClosed
		}
		b = b[n:]
	}
	return nil
}

// Recv blocks until it has read a 4-byte length prefix and then exactly
// that many bytes of payload. A short read on a closed socket closes the
// codec and returns ErrCommunicationClosed.
func (c *Codec) Recv() ([]byte, error) {
	header, err := c.readN(4)
	if err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(header)
	if length == 0 {
		return []byte{}, nil
	}

	return c.readN(int(length))
}

func (c *Codec) readN(n int) ([]byte, error) {
	buf := make([]byte, n)
	read := 0
	for read < n {
		m, err := c.conn.Read(buf[read:])
		if err != nil {
			if errors.Is(err, io.EOF) && read == 0 {
				c.Close()
				return nil, ErrCommunicationClosed
			}
			c.Close()
			return nil, ErrCommunicationClosed
		}
		read += m
	}
	return buf, nil
}

// Close closes the underlying connection. It is idempotent.
func (c *Codec) Close() error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}
