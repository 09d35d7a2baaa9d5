package signaling_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BioHazard786/meshroom/internal/relay"
	"github.com/BioHazard786/meshroom/internal/signaling"
)

const testTimeout = 5 * time.Second

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startRelay(t *testing.T) (*relay.Hub, string) {
	t.Helper()
	hub := relay.NewHub(relay.HubOptions{Logger: discardLogger()})
	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		hub.Run(ctx)
	}()

	srv := httptest.NewServer(relay.NewRouter(hub))
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-finished
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func connect(t *testing.T, url, peer string, attempts int) *signaling.Client {
	t.Helper()
	c := signaling.NewClient(signaling.Options{
		URL:               url,
		PeerID:            peer,
		Room:              "den",
		ReconnectAttempts: attempts,
		ReconnectBackoff:  10 * time.Millisecond,
		Logger:            discardLogger(),
	})
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect(%s): %v", peer, err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func next(t *testing.T, c *signaling.Client) signaling.Inbound {
	t.Helper()
	select {
	case in, ok := <-c.Incoming():
		if !ok {
			t.Fatal("inbound stream closed")
		}
		return in
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for inbound")
	}
	return signaling.Inbound{}
}

func nextKind(t *testing.T, c *signaling.Client, kind signaling.Kind) signaling.Envelope {
	t.Helper()
	in := next(t, c)
	if in.Err != nil {
		t.Fatalf("got link error %v, want %s", in.Err, kind)
	}
	if in.Envelope.Kind != kind {
		t.Fatalf("got %s, want %s", in.Envelope.Kind, kind)
	}
	return in.Envelope
}

func TestClientExchangesThroughRelay(t *testing.T) {
	_, url := startRelay(t)

	alice := connect(t, url, "alice", 0)
	nextKind(t, alice, signaling.KindRosterSnapshot)

	bob := connect(t, url, "bob", 0)
	roster := nextKind(t, bob, signaling.KindRosterSnapshot)
	if len(roster.Roster.Peers) != 2 {
		t.Errorf("bob roster = %v", roster.Roster.Peers)
	}
	if joined := nextKind(t, alice, signaling.KindPeerJoined); joined.From != "bob" {
		t.Errorf("peer_joined about %s, want bob", joined.From)
	}

	if err := bob.Send(signaling.NewOffer("bob", "alice", "v=0")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	offer := nextKind(t, alice, signaling.KindOffer)
	if offer.From != "bob" || offer.Description.SDP != "v=0" {
		t.Errorf("alice got %+v", offer)
	}

	bob.Close()
	if left := nextKind(t, alice, signaling.KindPeerLeft); left.From != "bob" {
		t.Errorf("peer_left about %s, want bob", left.From)
	}
}

func TestClientSendErrors(t *testing.T) {
	_, url := startRelay(t)

	idle := signaling.NewClient(signaling.Options{URL: url, PeerID: "alice", Room: "den", Logger: discardLogger()})
	if err := idle.Send(signaling.NewOffer("alice", "bob", "v=0")); !errors.Is(err, signaling.ErrNotStarted) {
		t.Errorf("Send before Connect = %v, want ErrNotStarted", err)
	}

	c := connect(t, url, "bob", 0)
	if err := c.Send(signaling.Envelope{Kind: "hello", From: "bob"}); !errors.Is(err, signaling.ErrUnknownKind) {
		t.Errorf("Send invalid = %v, want ErrUnknownKind", err)
	}

	c.Close()
	if err := c.Send(signaling.NewOffer("bob", "alice", "v=0")); !errors.Is(err, signaling.ErrClosed) {
		t.Errorf("Send after Close = %v, want ErrClosed", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestClientSendBurstIsNotDropped(t *testing.T) {
	_, url := startRelay(t)

	alice := connect(t, url, "alice", 0)
	nextKind(t, alice, signaling.KindRosterSnapshot)
	bob := connect(t, url, "bob", 0)
	nextKind(t, bob, signaling.KindRosterSnapshot)
	nextKind(t, alice, signaling.KindPeerJoined)

	const burst = 200
	for i := 0; i < burst; i++ {
		cand := signaling.Candidate{Candidate: fmt.Sprintf("candidate:%d", i)}
		if err := alice.Send(signaling.NewCandidate("alice", "bob", cand)); err != nil {
			t.Fatalf("Send #%d: %v", i, err)
		}
	}

	for i := 0; i < burst; i++ {
		env := nextKind(t, bob, signaling.KindICECandidate)
		if want := fmt.Sprintf("candidate:%d", i); env.Candidate.Candidate != want {
			t.Fatalf("candidate #%d = %q, want %q", i, env.Candidate.Candidate, want)
		}
	}
}

func TestClientSendFailsWhenLinkDrops(t *testing.T) {
	hub, url := startRelay(t)

	c := connect(t, url, "alice", 0)
	nextKind(t, c, signaling.KindRosterSnapshot)

	if err := hub.DeleteRoom(context.Background(), "den", ""); err != nil {
		t.Fatalf("DeleteRoom: %v", err)
	}
	if in := next(t, c); !errors.Is(in.Err, signaling.ErrLinkDown) {
		t.Fatalf("got %+v, want ErrLinkDown", in)
	}

	err := c.Send(signaling.NewOffer("alice", "bob", "v=0"))
	if !errors.Is(err, signaling.ErrLinkDown) && !errors.Is(err, signaling.ErrClosed) {
		t.Errorf("Send after link loss = %v, want ErrLinkDown", err)
	}
}

func TestClientConnectFails(t *testing.T) {
	c := signaling.NewClient(signaling.Options{URL: "ws://127.0.0.1:1/ws", PeerID: "alice", Room: "den", Logger: discardLogger()})
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	if err := c.Connect(ctx); err == nil {
		t.Fatal("Connect to a closed port succeeded")
	}
}

func TestClientReconnectsAfterDrop(t *testing.T) {
	hub, url := startRelay(t)

	c := connect(t, url, "alice", 3)
	nextKind(t, c, signaling.KindRosterSnapshot)

	// Deleting the implicit room drops every link in it.
	if err := hub.DeleteRoom(context.Background(), "den", ""); err != nil {
		t.Fatalf("DeleteRoom: %v", err)
	}

	in := next(t, c)
	if !errors.Is(in.Err, signaling.ErrLinkDown) {
		t.Fatalf("got %+v, want ErrLinkDown", in)
	}

	roster := nextKind(t, c, signaling.KindRosterSnapshot)
	if len(roster.Roster.Peers) != 1 || roster.Roster.Peers[0] != "alice" {
		t.Errorf("roster after rejoin = %v", roster.Roster.Peers)
	}
}

func TestClientGivesUpWithoutReconnect(t *testing.T) {
	hub, url := startRelay(t)

	c := connect(t, url, "alice", 0)
	nextKind(t, c, signaling.KindRosterSnapshot)

	if err := hub.DeleteRoom(context.Background(), "den", ""); err != nil {
		t.Fatalf("DeleteRoom: %v", err)
	}
	if in := next(t, c); !errors.Is(in.Err, signaling.ErrLinkDown) {
		t.Fatalf("got %+v, want ErrLinkDown", in)
	}

	select {
	case _, ok := <-c.Incoming():
		if ok {
			t.Error("stream still delivering after the link was lost")
		}
	case <-time.After(testTimeout):
		t.Error("stream not closed after giving up")
	}
}
