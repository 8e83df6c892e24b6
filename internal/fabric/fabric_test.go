package fabric

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BergLucas/microbit-go-simulator/internal/buildinfo"
	"github.com/BergLucas/microbit-go-simulator/internal/command"
	"github.com/BergLucas/microbit-go-simulator/internal/peer"
)

func startTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	s := New("", false)
	hs := httptest.NewServer(http.HandlerFunc(s.handleUpgrade))
	return s, hs
}

func dialPeer(t *testing.T, hs *httptest.Server) *peer.WebsocketPeer {
	t.Helper()
	url := "ws" + hs.URL[len("http"):] + "/"
	p, err := peer.DialWebsocket(url)
	if err != nil {
		t.Fatalf("DialWebsocket: %v", err)
	}
	return p
}

func TestBroadcastReachesOtherPeer(t *testing.T) {
	s, hs := startTestServer(t)
	defer hs.Close()

	a := dialPeer(t, hs)
	b := dialPeer(t, hs)
	defer a.Close(peer.CloseNormal, "")
	defer b.Close(peer.CloseNormal, "")

	go a.Listen()

	received := make(chan command.Command, 1)
	b.AddListener(func(c command.Command) { received <- c })
	go b.Listen()

	time.Sleep(50 * time.Millisecond) // let both connections register

	want := command.Command{Tag: command.TagRadioSendBytes, Address: 1, Channel: 2, Group: 3, Power: 4, Message: []byte("hi")}
	if err := a.SendCommand(want); err != nil {
		t.Fatalf("SendCommand: %v", err)
	}

	select {
	case got := <-received:
		if got.Tag != want.Tag || string(got.Message) != "hi" {
			t.Fatalf("got %+v, want %+v", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for rebroadcast")
	}

	if s.PeerCount() != 2 {
		t.Fatalf("PeerCount = %d, want 2", s.PeerCount())
	}
}

func TestSenderDoesNotReceiveOwnCommand(t *testing.T) {
	_, hs := startTestServer(t)
	defer hs.Close()

	a := dialPeer(t, hs)
	defer a.Close(peer.CloseNormal, "")

	received := make(chan command.Command, 1)
	a.AddListener(func(c command.Command) { received <- c })
	go a.Listen()

	time.Sleep(30 * time.Millisecond)
	if err := a.SendCommand(command.Command{Tag: command.TagReset}); err != nil {
		t.Fatalf("SendCommand: %v", err)
	}

	select {
	case <-received:
		t.Fatal("sender received its own broadcast command")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestIncompatibleProtocolVersionRejectsUpgrade(t *testing.T) {
	_, hs := startTestServer(t)
	defer hs.Close()

	req, err := http.NewRequest(http.MethodGet, hs.URL+"/", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set(buildinfo.ProtocolVersionHeader, "2.0.0")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUpgradeRequired {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusUpgradeRequired)
	}
}
