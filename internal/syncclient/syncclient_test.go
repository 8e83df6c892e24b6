package syncclient

import (
	"strconv"
	"testing"
	"time"

	"github.com/BergLucas/microbit-go-simulator/internal/connserver"
	"github.com/BergLucas/microbit-go-simulator/internal/syncserver"
)

func startServer(t *testing.T) (dataAddr string, stop func()) {
	t.Helper()

	syncSrv, err := connserver.Listen("127.0.0.1", 0)
	if err != nil {
		t.Fatalf("find sync port: %v", err)
	}
	syncPort := syncSrv.Port()
	syncSrv.Close()

	dataSrv, err := connserver.Listen("127.0.0.1", 0)
	if err != nil {
		t.Fatalf("find data port: %v", err)
	}
	dataPort := dataSrv.Port()
	dataSrv.Close()

	s := syncserver.New(syncserver.Config{
		SyncPort:  syncPort,
		DataPort:  dataPort,
		TargetIPs: []string{"127.0.0.1"},
		Interval:  20 * time.Millisecond,
	})
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return "127.0.0.1:" + strconv.Itoa(dataPort), s.Stop
}

func TestLinkThenGetAddresses(t *testing.T) {
	addr, stop := startServer(t)
	defer stop()

	c := New(addr)
	defer c.Disconnect()

	c.LinkPort("channel1group0", 19000)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		addrs := c.GetAddresses("channel1group0")
		for _, a := range addrs {
			if a.Port == 19000 {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("linked port never appeared via GetAddresses")
}

func TestUnlinkPortRemovesEntry(t *testing.T) {
	addr, stop := startServer(t)
	defer stop()

	c := New(addr)
	defer c.Disconnect()

	c.LinkPort("channel2group0", 19001)

	deadline := time.Now().Add(2 * time.Second)
	linked := false
	for time.Now().Before(deadline) && !linked {
		for _, a := range c.GetAddresses("channel2group0") {
			if a.Port == 19001 {
				linked = true
			}
		}
		if !linked {
			time.Sleep(10 * time.Millisecond)
		}
	}
	if !linked {
		t.Fatal("link never took effect")
	}

	c.UnlinkPort(19001)

	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		gone := true
		for _, a := range c.GetAddresses("channel2group0") {
			if a.Port == 19001 {
				gone = false
			}
		}
		if gone {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("unlinked port still present via GetAddresses")
}

func TestGetAddressesUnknownTagIsEmpty(t *testing.T) {
	addr, stop := startServer(t)
	defer stop()

	c := New(addr)
	defer c.Disconnect()

	if addrs := c.GetAddresses("no-such-tag"); len(addrs) != 0 {
		t.Fatalf("expected no addresses for an unknown tag, got %v", addrs)
	}
}

func TestConnectedReflectsConnectionState(t *testing.T) {
	addr, stop := startServer(t)
	defer stop()

	c := New(addr)
	if c.Connected() {
		t.Fatal("expected Connected() to be false before any operation")
	}

	c.LinkPort("channel4group0", 19002)
	if !c.Connected() {
		t.Fatal("expected Connected() to be true after a successful order")
	}

	c.Disconnect()
	if c.Connected() {
		t.Fatal("expected Connected() to be false after Disconnect")
	}
}
