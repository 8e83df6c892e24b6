// Package syncclient implements the stateful wrapper around a single
// connection to a synchronisation server's data port, used by the radio
// to announce/withdraw its own (group -> port) entry and to query
// membership.
package syncclient

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/BergLucas/microbit-go-simulator/internal/frame"
	"github.com/BergLucas/microbit-go-simulator/internal/linker"
	"github.com/BergLucas/microbit-go-simulator/internal/syncserver"
)

// Client is a stateful, serialised connection to a synchronisation
// server's data port. Connection loss on write silently drops the
// connection; the next call transparently reconnects.
type Client struct {
	addr string

	mu    sync.Mutex
	codec *frame.Codec
}

// New creates a Client bound to a synchronisation server's data address.
// It does not connect until the first operation.
func New(addr string) *Client {
	return &Client{addr: addr}
}

// Connect opens the connection to the synchronisation server, replacing
// any existing one.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked()
}

// connectLocked dials the server with a short bounded exponential backoff
// (a handful of attempts over well under a second), rather than a single
// attempt or an unbounded retry loop: the caller's own retry cadence (the
// radio's membership loop runs every second) is what carries a longer-lived
// outage, so connectLocked only needs to smooth over a brief, already-over
// hiccup before giving up and letting the caller try again later.
func (c *Client) connectLocked() error {
	if c.codec != nil {
		c.codec.Close()
		c.codec = nil
	}

	var conn net.Conn
	dial := func() error {
		var err error
		conn, err = net.DialTimeout("tcp", c.addr, 2*time.Second)
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 25 * time.Millisecond
	b.MaxElapsedTime = 400 * time.Millisecond

	if err := backoff.Retry(dial, b); err != nil {
		return fmt.Errorf("syncclient: connect to %s: %w", c.addr, err)
	}
	c.codec = frame.New(conn)
	return nil
}

// Connected reports whether the client currently has a live connection.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.codec != nil
}

// Disconnect closes the current connection, if any.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.codec != nil {
		c.codec.Close()
		c.codec = nil
	}
}

// LinkPort sends a link(tag, port) order to the server.
func (c *Client) LinkPort(tag string, port int) {
	c.sendOrder(syncserver.NewLinkOrder(tag, port), false)
}

// UnlinkPort sends an unlink(port) order to the server.
func (c *Client) UnlinkPort(port int) {
	c.sendOrder(syncserver.NewUnlinkOrder(port), false)
}

// GetAddresses sends a get(tag) order and returns the addresses currently
// linked to tag, or an empty slice if tag is unknown or the request fails.
func (c *Client) GetAddresses(tag string) []linker.Address {
	data := c.sendOrder(syncserver.NewGetOrder(tag), true)
	if data == nil {
		return nil
	}

	values, err := linker.FromJSON(data)
	if err != nil {
		return nil
	}
	return values.ValuesFor([]string{tag})[tag]
}

// sendOrder sends order over the client's connection, reconnecting first
// if necessary. If expectReply, it then reads and returns the raw JSON
// reply; any failure along the way silently drops the connection and
// returns nil. Orders are fire-and-forget.
func (c *Client) sendOrder(order syncserver.Order, expectReply bool) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.codec == nil {
		if err := c.connectLocked(); err != nil {
			return nil
		}
	}

	encoded, err := order.Encode()
	if err != nil {
		return nil
	}

	if err := c.codec.Send(encoded); err != nil {
		c.codec = nil
		return nil
	}

	if !expectReply {
		return nil
	}

	reply, err := c.codec.Recv()
	if err != nil {
		c.codec = nil
		return nil
	}
	return reply
}
