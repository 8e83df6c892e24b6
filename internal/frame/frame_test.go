package frame

import (
	"bytes"
	"net"
	"testing"
	"time"
)

func pipe(t *testing.T) (*Codec, *Codec) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	var server net.Conn
	accepted := make(chan struct{})
	go func() {
		server, _ = ln.Accept()
		close(accepted)
	}()

	client, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	<-accepted

	return New(client), New(server)
}

func TestSendRecvRoundTrip(t *testing.T) {
	a, b := pipe(t)
	defer a.Close()
	defer b.Close()

	payloads := [][]byte{
		[]byte("hello"),
		{},
		bytes.Repeat([]byte{0x42}, 70000),
	}

	for _, p := range payloads {
		if err := a.Send(p); err != nil {
			t.Fatalf("Send: %v", err)
		}
		got, err := b.Recv()
		if err != nil {
			t.Fatalf("Recv: %v", err)
		}
		if !bytes.Equal(got, p) {
			t.Fatalf("round trip mismatch: got %d bytes, want %d bytes", len(got), len(p))
		}
	}
}

func TestRecvAfterCloseFails(t *testing.T) {
	a, b := pipe(t)
	defer a.Close()

	a.Close()
	time.Sleep(10 * time.Millisecond)
	if _, err := b.Recv(); err != ErrCommunicationClosed {
		t.Fatalf("expected ErrCommunicationClosed, got %v", err)
	}
}
