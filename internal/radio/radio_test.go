package radio

import (
	"strconv"
	"testing"
	"time"

	"github.com/BergLucas/microbit-go-simulator/internal/connserver"
	"github.com/BergLucas/microbit-go-simulator/internal/syncserver"
)

// startSyncServer boots a real synchronisation server on ephemeral ports
// and returns its data-port address, matching the way a radio normally
// discovers its local synchronisation client target.
func startSyncServer(t *testing.T) (dataAddr string, stop func()) {
	t.Helper()

	syncLn, err := connserver.Listen("127.0.0.1", 0)
	if err != nil {
		t.Fatalf("listen sync port: %v", err)
	}
	dataLn, err := connserver.Listen("127.0.0.1", 0)
	if err != nil {
		t.Fatalf("listen data port: %v", err)
	}
	syncPort := syncLn.Port()
	dataPort := dataLn.Port()
	syncLn.Close()
	dataLn.Close()

	srv := syncserver.New(syncserver.Config{
		SyncPort:  syncPort,
		DataPort:  dataPort,
		TargetIPs: []string{"127.0.0.1"}, // avoid LAN octet scanning in tests
		Interval:  20 * time.Millisecond,
	})
	if err := srv.Start(); err != nil {
		t.Fatalf("start sync server: %v", err)
	}
	return "127.0.0.1:" + strconv.Itoa(dataPort), srv.Stop
}

func TestLoopbackSameTagReceives(t *testing.T) {
	dataAddr, stopSync := startSyncServer(t)
	defer stopSync()

	a := New(0, dataAddr, false)
	b := New(0, dataAddr, false)
	defer a.Close()
	defer b.Close()

	if err := a.On(); err != nil {
		t.Fatalf("a.On: %v", err)
	}
	if err := b.On(); err != nil {
		t.Fatalf("b.On: %v", err)
	}

	// Give both radios time to discover each other via membership refresh.
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		a.refreshMembership()
		b.refreshMembership()
		if err := a.Send("hello"); err == nil {
			if msg, ok := b.Receive(); ok && msg == "hello" {
				return
			}
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("radio b never received the message from radio a")
}

func TestTagMismatchDrops(t *testing.T) {
	dataAddr, stopSync := startSyncServer(t)
	defer stopSync()

	a := New(0, dataAddr, false)
	b := New(0, dataAddr, false)
	defer a.Close()
	defer b.Close()

	if err := a.On(); err != nil {
		t.Fatalf("a.On: %v", err)
	}
	cfg := b.Config()
	cfg.Channel = cfg.Channel + 1
	if err := b.Configure(cfg); err != nil {
		t.Fatalf("b.Configure: %v", err)
	}
	if err := b.On(); err != nil {
		t.Fatalf("b.On: %v", err)
	}

	for i := 0; i < 10; i++ {
		a.refreshMembership()
		b.refreshMembership()
		time.Sleep(50 * time.Millisecond)
	}

	if err := a.Send("hello"); err != nil {
		t.Fatalf("a.Send: %v", err)
	}
	time.Sleep(200 * time.Millisecond)
	if _, ok := b.Receive(); ok {
		t.Fatal("radio b received a message from a different tag")
	}
}

func TestMailboxDropsWhenFull(t *testing.T) {
	r := New(0, "127.0.0.1:1", false)
	cfg := r.Config()
	cfg.Queue = 1
	if err := r.Configure(cfg); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	r.mailbox.Put(Entry{Message: []byte("one")})
	r.mailbox.Put(Entry{Message: []byte("two")})

	if got := r.mailbox.Len(); got != 1 {
		t.Fatalf("mailbox length = %d, want 1", got)
	}
	// The radio is off, so ReceiveBytes would report absent; pop the
	// mailbox directly.
	e, _ := r.mailbox.Get()
	msg := e.Message
	if string(msg) != "one" {
		t.Fatalf("mailbox kept %q, want the first entry", msg)
	}
}

func TestSendBytesRejectsOverlongMessage(t *testing.T) {
	r := New(0, "127.0.0.1:1", false)
	cfg := r.Config()
	cfg.Length = 4
	if err := r.Configure(cfg); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if err := r.On(); err != nil {
		t.Fatalf("On: %v", err)
	}
	defer r.Close()

	if err := r.SendBytes([]byte("too long")); err != ErrMessageTooLong {
		t.Fatalf("SendBytes error = %v, want ErrMessageTooLong", err)
	}
}

func TestOffThenReceiveIsNoop(t *testing.T) {
	r := New(0, "127.0.0.1:1", false)
	if _, ok := r.ReceiveBytes(); ok {
		t.Fatal("expected empty mailbox before On")
	}
	if err := r.SendBytes([]byte("x")); err != nil {
		t.Fatalf("SendBytes while off should be a no-op, got %v", err)
	}
}

// TestOffDiscardsStaleMailboxEntries: a message that landed in the mailbox
// while the radio was on must not still be retrievable after Off.
func TestOffDiscardsStaleMailboxEntries(t *testing.T) {
	r := New(0, "127.0.0.1:1", false)
	if err := r.On(); err != nil {
		t.Fatalf("On: %v", err)
	}

	r.mailbox.Put(Entry{Message: []byte("stale"), RSSI: 0, Timestamp: 0})
	if _, ok := r.ReceiveBytes(); !ok {
		t.Fatal("expected the entry to be visible while on")
	}
	r.mailbox.Put(Entry{Message: []byte("stale-2"), RSSI: 0, Timestamp: 0})

	if err := r.Off(); err != nil {
		t.Fatalf("Off: %v", err)
	}

	if got, ok := r.ReceiveBytes(); ok {
		t.Fatalf("ReceiveBytes after Off = (%q, true), want (nil, false)", got)
	}
	if got, ok := r.Receive(); ok {
		t.Fatalf("Receive after Off = (%q, true), want (\"\", false)", got)
	}
	if got, ok := r.ReceiveFull(); ok {
		t.Fatalf("ReceiveFull after Off = (%+v, true), want (Entry{}, false)", got)
	}
}

func TestSendAfterPeerDeathRemovesPeer(t *testing.T) {
	dataAddr, stopSync := startSyncServer(t)
	defer stopSync()

	a := New(0, dataAddr, false)
	b := New(0, dataAddr, false)
	defer a.Close()

	if err := a.On(); err != nil {
		t.Fatalf("a.On: %v", err)
	}
	if err := b.On(); err != nil {
		t.Fatalf("b.On: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) && a.PeerCount() == 0 {
		a.refreshMembership()
		time.Sleep(20 * time.Millisecond)
	}
	if a.PeerCount() == 0 {
		t.Fatal("a never connected to b")
	}

	b.Close()

	deadline = time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if err := a.SendBytes([]byte("x")); err != nil {
			t.Fatalf("SendBytes after peer death returned %v", err)
		}
		a.refreshMembership()
		if a.PeerCount() == 0 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("dead peer was never removed from the membership map")
}

func TestConfigValidateRejectsOutOfRangeFields(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Channel = 200
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected Validate to reject channel 200")
	}

	cfg = DefaultConfig()
	cfg.DataRate = 9999
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected Validate to reject unknown data rate")
	}
}
