package mesh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/BioHazard786/meshroom/internal/signaling"
)

var (
	_ ConnectionFactory = (*fakeNetwork)(nil)
	_ Connection        = (*fakeConn)(nil)
	_ DataChannel       = (*fakeChannel)(nil)
	_ Relay             = (*fakeRelay)(nil)
)

const testTimeout = 5 * time.Second

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// fakeNetwork creates connections that pair up through the SDP text they
// exchange, so two sessions can complete a negotiation without any transport.
type fakeNetwork struct {
	mu    sync.Mutex
	conns map[string]*fakeConn
	made  []*fakeConn
	next  int

	// candidatesPerConn local candidates are trickled after SetLocalDescription.
	candidatesPerConn int

	// Hooks consulted by every connection.
	offerErr  error
	answerErr error
	remoteErr error
	// gate, when set, blocks description operations until it is closed.
	gate chan struct{}
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{conns: make(map[string]*fakeConn), candidatesPerConn: 2}
}

func (n *fakeNetwork) NewConnection() (Connection, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.next++
	c := &fakeConn{net: n, id: fmt.Sprintf("sdp-%d", n.next)}
	n.conns[c.id] = c
	n.made = append(n.made, c)
	return c, nil
}

func (n *fakeNetwork) lookup(sdp string) *fakeConn {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.conns[sdp]
}

func (n *fakeNetwork) connections() []*fakeConn {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]*fakeConn, len(n.made))
	copy(out, n.made)
	return out
}

func (n *fakeNetwork) wait() {
	n.mu.Lock()
	gate := n.gate
	n.mu.Unlock()
	if gate != nil {
		<-gate
	}
}

type fakeConn struct {
	net *fakeNetwork
	id  string

	mu         sync.Mutex
	localSet   bool
	remoteSet  bool
	remote     *fakeConn
	channels   []*fakeChannel
	applied    []signaling.Candidate
	violations []string
	closed     bool

	onCandidate   func(signaling.Candidate)
	onDataChannel func(DataChannel)
	onFailed      func(error)
}

func (c *fakeConn) CreateOffer() (string, error) {
	c.net.wait()
	if c.net.offerErr != nil {
		return "", c.net.offerErr
	}
	return c.id, nil
}

func (c *fakeConn) CreateAnswer() (string, error) {
	c.net.wait()
	if c.net.answerErr != nil {
		return "", c.net.answerErr
	}
	return c.id, nil
}

func (c *fakeConn) SetLocalDescription(sdpType, sdp string) error {
	c.mu.Lock()
	c.localSet = true
	fn := c.onCandidate
	c.mu.Unlock()

	if fn != nil {
		for i := 0; i < c.net.candidatesPerConn; i++ {
			fn(signaling.Candidate{Candidate: fmt.Sprintf("candidate:%s-%d", c.id, i)})
		}
	}
	return nil
}

func (c *fakeConn) SetRemoteDescription(sdpType, sdp string) error {
	c.net.wait()
	if c.net.remoteErr != nil {
		return c.net.remoteErr
	}

	peer := c.net.lookup(sdp)
	c.mu.Lock()
	c.remoteSet = true
	c.remote = peer
	c.mu.Unlock()

	if sdpType == "answer" && peer != nil {
		c.link(peer)
	}
	return nil
}

// link opens every channel of c with a fresh twin on peer.
func (c *fakeConn) link(peer *fakeConn) {
	c.mu.Lock()
	channels := append([]*fakeChannel(nil), c.channels...)
	c.mu.Unlock()

	peer.mu.Lock()
	announce := peer.onDataChannel
	peer.mu.Unlock()

	for _, local := range channels {
		twin := &fakeChannel{label: local.label, owner: peer}
		local.setPeer(twin)
		twin.setPeer(local)
		if announce != nil {
			announce(twin)
		}
		local.fireOpen()
		twin.fireOpen()
	}
}

func (c *fakeConn) AddRemoteCandidate(cand signaling.Candidate) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.remoteSet {
		c.violations = append(c.violations, "candidate before remote description: "+cand.Candidate)
		return errors.New("remote description not set")
	}
	c.applied = append(c.applied, cand)
	return nil
}

func (c *fakeConn) CreateDataChannel(label string) (DataChannel, error) {
	dc := &fakeChannel{label: label, owner: c}
	c.mu.Lock()
	c.channels = append(c.channels, dc)
	c.mu.Unlock()
	return dc, nil
}

func (c *fakeConn) OnLocalCandidate(fn func(signaling.Candidate)) {
	c.mu.Lock()
	c.onCandidate = fn
	c.mu.Unlock()
}

func (c *fakeConn) OnDataChannel(fn func(DataChannel)) {
	c.mu.Lock()
	c.onDataChannel = fn
	c.mu.Unlock()
}

func (c *fakeConn) OnFailed(fn func(error)) {
	c.mu.Lock()
	c.onFailed = fn
	c.mu.Unlock()
}

// fail simulates a terminal transport failure.
func (c *fakeConn) fail(err error) {
	c.mu.Lock()
	fn := c.onFailed
	c.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) appliedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.applied)
}

func (c *fakeConn) violationList() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.violations...)
}

type fakeChannel struct {
	label string
	owner *fakeConn

	mu        sync.Mutex
	peer      *fakeChannel
	open      bool
	closed    bool
	sent      [][]byte
	onOpen    func()
	onClose   func()
	onMessage func([]byte)
}

func (ch *fakeChannel) Label() string { return ch.label }

func (ch *fakeChannel) setPeer(p *fakeChannel) {
	ch.mu.Lock()
	ch.peer = p
	ch.mu.Unlock()
}

func (ch *fakeChannel) fireOpen() {
	ch.mu.Lock()
	ch.open = true
	fn := ch.onOpen
	ch.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (ch *fakeChannel) Send(data []byte) error {
	ch.mu.Lock()
	if !ch.open || ch.closed {
		ch.mu.Unlock()
		return errors.New("channel not open")
	}
	ch.sent = append(ch.sent, append([]byte(nil), data...))
	peer := ch.peer
	ch.mu.Unlock()

	if peer != nil {
		peer.deliver(data)
	}
	return nil
}

func (ch *fakeChannel) deliver(data []byte) {
	ch.mu.Lock()
	fn := ch.onMessage
	ch.mu.Unlock()
	if fn != nil {
		fn(append([]byte(nil), data...))
	}
}

func (ch *fakeChannel) sentCount() int {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return len(ch.sent)
}

func (ch *fakeChannel) OnOpen(fn func()) {
	ch.mu.Lock()
	ch.onOpen = fn
	open := ch.open
	ch.mu.Unlock()
	if open {
		go fn()
	}
}

func (ch *fakeChannel) OnClose(fn func()) {
	ch.mu.Lock()
	ch.onClose = fn
	ch.mu.Unlock()
}

func (ch *fakeChannel) OnMessage(fn func([]byte)) {
	ch.mu.Lock()
	ch.onMessage = fn
	ch.mu.Unlock()
}

// Close closes both ends and fires their close handlers.
func (ch *fakeChannel) Close() error {
	ch.closeLocal()
	ch.mu.Lock()
	peer := ch.peer
	ch.mu.Unlock()
	if peer != nil {
		peer.closeLocal()
	}
	return nil
}

func (ch *fakeChannel) closeLocal() {
	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return
	}
	ch.closed = true
	fn := ch.onClose
	ch.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// fakeRelay lets a test inject envelopes and inspect what the session sent.
type fakeRelay struct {
	in chan signaling.Inbound

	mu   sync.Mutex
	sent []signaling.Envelope
}

func newFakeRelay() *fakeRelay {
	return &fakeRelay{in: make(chan signaling.Inbound, 64)}
}

func (r *fakeRelay) Send(env signaling.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, env)
	return nil
}

func (r *fakeRelay) Incoming() <-chan signaling.Inbound {
	return r.in
}

func (r *fakeRelay) inject(env signaling.Envelope) {
	r.in <- signaling.Inbound{Envelope: env}
}

func (r *fakeRelay) sentOfKind(kind signaling.Kind) []signaling.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []signaling.Envelope
	for _, env := range r.sent {
		if env.Kind == kind {
			out = append(out, env)
		}
	}
	return out
}

// startSession runs a session until the test ends.
func startSession(t *testing.T, id PeerID, relay Relay, factory ConnectionFactory) *Session {
	t.Helper()

	s, err := NewSession(Options{LocalID: id, Relay: relay, Factory: factory, Logger: discardLogger()})
	if err != nil {
		t.Fatalf("NewSession(%s): %v", id, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		s.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		<-finished
	})
	return s
}

// waitFor polls cond until it holds or the test times out.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(testTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// nextEvent returns the next event of kind, skipping others.
func nextEvent(t *testing.T, s *Session, kind EventKind) Event {
	t.Helper()
	timeout := time.After(testTimeout)
	for {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				t.Fatalf("event stream closed while waiting for %s", kind)
			}
			if ev.Kind == kind {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", kind)
		}
	}
}

// drainEvents collects events until none arrive for a short while.
func drainEvents(s *Session) []Event {
	var out []Event
	for {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-time.After(100 * time.Millisecond):
			return out
		}
	}
}
