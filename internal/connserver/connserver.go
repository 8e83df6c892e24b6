// Package connserver implements the blocking TCP accept server shared by
// the synchronisation server and the radio.
package connserver

import (
	"fmt"
	"net"
)

// Server accepts incoming stream connections on a bound port. Listening
// with a wildcard host ("") means all local interfaces.
type Server struct {
	listener net.Listener
}

// Listen binds a TCP listener on host:port. An empty host binds all local
// interfaces.
func Listen(host string, port int) (*Server, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return nil, err
	}
	return &Server{listener: ln}, nil
}

// Addr returns the bound address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Port returns the bound TCP port.
func (s *Server) Port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

// Accept blocks until an incoming connection arrives, or until Close
// unblocks it.
func (s *Server) Accept() (net.Conn, error) {
	return s.listener.Accept()
}

// Close is idempotent and unblocks an in-progress Accept.
func (s *Server) Close() error {
	return s.listener.Close()
}
