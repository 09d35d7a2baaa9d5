package mesh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/BioHazard786/meshroom/internal/signaling"
)

const defaultEventBuffer = 256

// Options configures a Session.
type Options struct {
	LocalID PeerID
	Relay   Relay
	Factory ConnectionFactory
	Logger  *slog.Logger

	// EventBuffer sizes the Events channel. Zero picks a default.
	EventBuffer int
}

// Session orchestrates the mesh for one local peer. Run drives it; every
// other method is safe for concurrent use.
type Session struct {
	self    PeerID
	relay   Relay
	factory ConnectionFactory
	logger  *slog.Logger

	tracker *Tracker
	table   *Table

	// queue holds work for the dispatch goroutine in arrival order.
	qmu     sync.Mutex
	queue   []func()
	wake    chan struct{}
	stopped bool

	events chan Event

	ctx     context.Context
	running atomic.Bool
	done    chan struct{}
}

// NewSession creates a session. Nothing happens until Run is called.
func NewSession(opts Options) (*Session, error) {
	if opts.LocalID == "" {
		return nil, errors.New("mesh: local peer id is required")
	}
	if opts.Relay == nil || opts.Factory == nil {
		return nil, errors.New("mesh: relay and connection factory are required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	buffer := opts.EventBuffer
	if buffer <= 0 {
		buffer = defaultEventBuffer
	}

	return &Session{
		self:    opts.LocalID,
		relay:   opts.Relay,
		factory: opts.Factory,
		logger:  logger.With("component", "mesh", "self", string(opts.LocalID)),
		tracker: NewTracker(opts.LocalID),
		table:   NewTable(),
		wake:    make(chan struct{}, 1),
		events:  make(chan Event, buffer),
		ctx:     context.Background(),
		done:    make(chan struct{}),
	}, nil
}

// LocalID returns the local peer id.
func (s *Session) LocalID() PeerID {
	return s.self
}

// Events returns the event stream. It is closed when Run returns. Callers
// must keep draining it while the session runs.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Run is the dispatch loop. It returns ctx's error on cancellation and
// ErrRelayClosed when the relay stream ends. Every entry is closed on return.
func (s *Session) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("mesh: session already running")
	}
	s.ctx = ctx

	defer func() {
		s.stop()
		s.closeAll()
		close(s.done)
		close(s.events)
	}()

	incoming := s.relay.Incoming()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case in, ok := <-incoming:
			if !ok {
				s.handleRelayLoss(ErrRelayClosed)
				return ErrRelayClosed
			}
			if in.Err != nil {
				s.handleRelayLoss(in.Err)
				continue
			}
			s.handleEnvelope(in.Envelope)

		case <-s.wake:
			for _, fn := range s.take() {
				fn()
			}
		}
	}
}

// post queues fn for the dispatch goroutine without blocking the caller.
// Queued work runs in the order it was posted. It reports false once Run has
// returned.
func (s *Session) post(fn func()) bool {
	s.qmu.Lock()
	defer s.qmu.Unlock()
	if s.stopped {
		return false
	}
	s.queue = append(s.queue, fn)
	select {
	case s.wake <- struct{}{}:
	default:
	}
	return true
}

// take hands the queued work to the dispatch goroutine.
func (s *Session) take() []func() {
	s.qmu.Lock()
	defer s.qmu.Unlock()
	q := s.queue
	s.queue = nil
	return q
}

func (s *Session) stop() {
	s.qmu.Lock()
	s.stopped = true
	s.queue = nil
	s.qmu.Unlock()
}

func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}

// live reports whether e is still current and negotiating or connected.
func (s *Session) live(e *Entry) bool {
	return e.ctx.Err() == nil && !e.State().IsTerminal() && s.table.current(e)
}

func (s *Session) handleEnvelope(env signaling.Envelope) {
	if env.Kind.IsMembership() {
		for _, change := range s.tracker.Apply(env) {
			switch change.Kind {
			case MemberJoined:
				s.emit(Event{Kind: EventMemberJoined, Peer: change.Peer})
				s.OnMemberJoined(change.Peer)
			case MemberLeft:
				s.emit(Event{Kind: EventMemberLeft, Peer: change.Peer})
				s.OnMemberLeft(change.Peer)
			}
		}
		return
	}

	from := PeerID(env.From)
	if PeerID(env.To) != s.self || from == s.self {
		s.logger.Warn("dropping misrouted envelope", "kind", env.Kind, "from", env.From, "to", env.To)
		return
	}

	switch env.Kind {
	case signaling.KindOffer:
		s.handleOffer(from, env.Description)
	case signaling.KindAnswer:
		s.handleAnswer(from, env.Description)
	case signaling.KindICECandidate:
		s.handleCandidate(from, *env.Candidate)
	}
}

// OnMemberJoined starts negotiating with id unless a live entry exists.
// It must run on the dispatch goroutine.
func (s *Session) OnMemberJoined(id PeerID) {
	if e, ok := s.table.Get(id); ok && !e.State().IsTerminal() {
		s.logger.Debug("entry already present", "peer", id, "state", e.State())
		return
	}
	s.startEntry(id)
}

// OnMemberLeft closes and removes id's entry, whatever its state.
// It must run on the dispatch goroutine.
func (s *Session) OnMemberLeft(id PeerID) {
	e, ok := s.table.Remove(id)
	if !ok {
		return
	}

	wasConnected := e.State() == Connected
	e.terminate(Closed, nil)
	s.logger.Info("peer removed", "peer", id, "connected", wasConnected)
	if wasConnected {
		s.emit(Event{Kind: EventPeerDisconnected, Peer: id})
	}
}

func (s *Session) startEntry(id PeerID) *Entry {
	role := ResolveRole(s.self, id)
	e := newEntry(s.ctx, id, role)
	if err := s.table.Put(e); err != nil {
		s.logger.Warn("cannot create entry", "peer", id, "error", err)
		return nil
	}
	e.transition(RoleAssigned)
	s.logger.Info("negotiating", "peer", id, "role", role)

	if role == Initiator {
		s.startInitiator(e)
	}
	return e
}

func (s *Session) startInitiator(e *Entry) {
	conn, err := s.factory.NewConnection()
	if err != nil {
		s.fail(e, negotiationError("create connection", e.Peer, err))
		return
	}
	s.attach(e, conn)

	dc, err := conn.CreateDataChannel(ChannelLabel)
	if err != nil {
		s.fail(e, negotiationError("create data channel", e.Peer, err))
		return
	}
	s.bindChannel(e, dc)

	if err := e.transition(AwaitingLocalDescription); err != nil {
		s.fail(e, err)
		return
	}

	go func() {
		sdp, err := conn.CreateOffer()
		if err != nil {
			err = negotiationError("create offer", e.Peer, err)
		} else if err = conn.SetLocalDescription("offer", sdp); err != nil {
			err = negotiationError("set local description", e.Peer, err)
		}
		if e.ctx.Err() != nil {
			return
		}
		s.post(func() { s.onLocalDescription(e, sdp, err) })
	}()
}

// attach hands conn to e and routes its callbacks into the dispatch loop.
func (s *Session) attach(e *Entry, conn Connection) {
	e.conn = conn

	conn.OnLocalCandidate(func(c signaling.Candidate) {
		s.post(func() { s.onLocalCandidate(e, c) })
	})
	conn.OnDataChannel(func(dc DataChannel) {
		// The channel starts reading once this callback returns, so its
		// handlers go on here. onRemoteChannel is queued ahead of them.
		s.post(func() { s.onRemoteChannel(e, dc) })
		s.watchChannel(e, dc)
	})
	conn.OnFailed(func(err error) {
		s.post(func() { s.onConnectionFailed(e, err) })
	})
}

func (s *Session) bindChannel(e *Entry, dc DataChannel) {
	e.setDataChannel(dc)
	s.watchChannel(e, dc)
}

// watchChannel forwards dc's callbacks into the dispatch queue. It may run on
// any goroutine.
func (s *Session) watchChannel(e *Entry, dc DataChannel) {
	dc.OnOpen(func() {
		s.post(func() { s.onChannelOpen(e, dc) })
	})
	dc.OnClose(func() {
		s.post(func() { s.onChannelClose(e, dc) })
	})
	dc.OnMessage(func(data []byte) {
		s.post(func() { s.onMessage(e, dc, data) })
	})
}

func (s *Session) handleOffer(from PeerID, desc *signaling.Description) {
	if ResolveRole(s.self, from) == Initiator {
		s.logger.Warn("discarding offer from receiver side", "peer", from)
		return
	}

	e, ok := s.table.Get(from)
	switch {
	case !ok || e.State().IsTerminal():
		if e = s.startEntry(from); e == nil {
			return
		}
	case e.Role == Receiver && e.State() == RoleAssigned:
	default:
		s.logger.Warn("discarding duplicate offer", "peer", from, "state", e.State())
		return
	}

	conn, err := s.factory.NewConnection()
	if err != nil {
		s.fail(e, negotiationError("create connection", e.Peer, err))
		return
	}
	s.attach(e, conn)

	if err := e.transition(AwaitingRemoteDescription); err != nil {
		s.fail(e, err)
		return
	}
	s.applyRemoteDescription(e, "offer", desc.SDP)
}

func (s *Session) handleAnswer(from PeerID, desc *signaling.Description) {
	e, ok := s.table.Get(from)
	if !ok || e.Role != Initiator || e.State() != AwaitingRemoteDescription || e.remoteApplying {
		state := "absent"
		if ok {
			state = e.State().String()
		}
		s.logger.Warn("discarding unexpected answer", "peer", from, "state", state)
		return
	}
	s.applyRemoteDescription(e, "answer", desc.SDP)
}

func (s *Session) applyRemoteDescription(e *Entry, sdpType, sdp string) {
	e.remoteApplying = true
	conn := e.conn

	go func() {
		err := conn.SetRemoteDescription(sdpType, sdp)
		if err != nil {
			err = negotiationError("set remote description", e.Peer, err)
		}
		if e.ctx.Err() != nil {
			return
		}
		s.post(func() { s.onRemoteDescription(e, err) })
	}()
}

func (s *Session) onRemoteDescription(e *Entry, err error) {
	if !s.live(e) {
		return
	}
	e.remoteApplying = false
	if err != nil {
		s.fail(e, err)
		return
	}

	e.remoteSet = true
	if err := e.transition(RemoteDescriptionSet); err != nil {
		s.fail(e, err)
		return
	}
	s.flushRemoteCandidates(e)

	if e.Role == Initiator {
		s.maybeConnected(e)
		return
	}

	if err := e.transition(AwaitingLocalDescription); err != nil {
		s.fail(e, err)
		return
	}

	conn := e.conn
	go func() {
		sdp, err := conn.CreateAnswer()
		if err != nil {
			err = negotiationError("create answer", e.Peer, err)
		} else if err = conn.SetLocalDescription("answer", sdp); err != nil {
			err = negotiationError("set local description", e.Peer, err)
		}
		if e.ctx.Err() != nil {
			return
		}
		s.post(func() { s.onLocalDescription(e, sdp, err) })
	}()
}

func (s *Session) onLocalDescription(e *Entry, sdp string, err error) {
	if !s.live(e) {
		return
	}
	if err != nil {
		s.fail(e, err)
		return
	}

	e.localSet = true
	if err := e.transition(LocalDescriptionSet); err != nil {
		s.fail(e, err)
		return
	}

	env := signaling.NewAnswer(string(s.self), string(e.Peer), sdp)
	if e.Role == Initiator {
		env = signaling.NewOffer(string(s.self), string(e.Peer), sdp)
	}
	if err := s.relay.Send(env); err != nil {
		s.fail(e, negotiationError("send "+string(env.Kind), e.Peer, err))
		return
	}
	e.localSent = true
	s.flushLocalCandidates(e)

	if e.Role == Initiator {
		if err := e.transition(AwaitingRemoteDescription); err != nil {
			s.fail(e, err)
		}
		return
	}
	s.maybeConnected(e)
}

func (s *Session) handleCandidate(from PeerID, c signaling.Candidate) {
	e, ok := s.table.Get(from)
	if !ok || e.State().IsTerminal() {
		s.logger.Warn("discarding candidate for unknown peer", "peer", from)
		return
	}

	e.received++
	if !e.remoteSet {
		e.pendingRemote = append(e.pendingRemote, c)
		s.logger.Debug("buffered remote candidate", "peer", from, "pending", len(e.pendingRemote))
		return
	}
	s.applyCandidate(e, c)
}

func (s *Session) applyCandidate(e *Entry, c signaling.Candidate) {
	if err := e.conn.AddRemoteCandidate(c); err != nil {
		s.logger.Warn("failed to add remote candidate", "peer", e.Peer, "error", err)
		return
	}
	e.applied.Add(1)
}

func (s *Session) flushRemoteCandidates(e *Entry) {
	pending := e.pendingRemote
	e.pendingRemote = nil
	for _, c := range pending {
		s.applyCandidate(e, c)
	}
	if len(pending) > 0 {
		s.logger.Debug("applied buffered candidates", "peer", e.Peer, "count", len(pending))
	}
}

func (s *Session) onLocalCandidate(e *Entry, c signaling.Candidate) {
	if !s.live(e) {
		return
	}
	if !e.localSent {
		e.pendingLocal = append(e.pendingLocal, c)
		return
	}
	s.sendCandidate(e, c)
}

func (s *Session) flushLocalCandidates(e *Entry) {
	pending := e.pendingLocal
	e.pendingLocal = nil
	for _, c := range pending {
		s.sendCandidate(e, c)
	}
}

func (s *Session) sendCandidate(e *Entry, c signaling.Candidate) {
	if err := s.relay.Send(signaling.NewCandidate(string(s.self), string(e.Peer), c)); err != nil {
		s.logger.Warn("failed to send candidate", "peer", e.Peer, "error", err)
	}
}

func (s *Session) onRemoteChannel(e *Entry, dc DataChannel) {
	if !s.live(e) {
		dc.Close()
		return
	}
	if e.Role != Receiver || e.dataChannel() != nil {
		s.logger.Warn("ignoring unexpected data channel", "peer", e.Peer, "label", dc.Label())
		return
	}
	e.setDataChannel(dc)
}

func (s *Session) onChannelOpen(e *Entry, dc DataChannel) {
	if !s.live(e) || e.dataChannel() != dc {
		return
	}
	e.channelOpen = true
	s.maybeConnected(e)
}

func (s *Session) maybeConnected(e *Entry) {
	if !e.ready() {
		return
	}

	st := e.State()
	if (e.Role == Initiator && st == RemoteDescriptionSet) || (e.Role == Receiver && st == LocalDescriptionSet) {
		if err := e.transition(Connected); err != nil {
			s.fail(e, err)
			return
		}
		s.logger.Info("peer connected", "peer", e.Peer, "candidates", e.Applied())
		s.emit(Event{Kind: EventPeerConnected, Peer: e.Peer})
	}
}

// onChannelClose closes the entry but keeps it in the table; membership is
// untouched.
func (s *Session) onChannelClose(e *Entry, dc DataChannel) {
	if !s.table.current(e) || e.State().IsTerminal() || e.dataChannel() != dc {
		return
	}

	wasConnected := e.State() == Connected
	e.terminate(Closed, ErrChannelClosed)
	s.logger.Info("data channel closed", "peer", e.Peer)
	if wasConnected {
		s.emit(Event{Kind: EventPeerDisconnected, Peer: e.Peer})
	}
}

func (s *Session) onMessage(e *Entry, dc DataChannel, data []byte) {
	if !s.live(e) || e.dataChannel() != dc {
		return
	}
	s.emit(Event{Kind: EventMessageReceived, Peer: e.Peer, Data: data})
}

// onConnectionFailed destroys the entry after a terminal transport failure.
func (s *Session) onConnectionFailed(e *Entry, err error) {
	if !s.table.current(e) || e.State().IsTerminal() {
		return
	}

	wasConnected := e.State() == Connected
	e.terminate(Failed, negotiationError("connection", e.Peer, err))
	s.table.Remove(e.Peer)
	s.logger.Warn("connection failed", "peer", e.Peer, "error", err)

	if wasConnected {
		s.emit(Event{Kind: EventPeerDisconnected, Peer: e.Peer})
		return
	}
	s.emit(Event{Kind: EventPeerFailed, Peer: e.Peer, Err: err})
}

// fail moves e to Failed. The entry stays in the table and is not retried.
func (s *Session) fail(e *Entry, err error) {
	if e.State().IsTerminal() {
		return
	}
	s.logger.Warn("negotiation failed", "peer", e.Peer, "state", e.State(), "error", err)
	e.terminate(Failed, err)
	s.emit(Event{Kind: EventPeerFailed, Peer: e.Peer, Err: err})
}

// handleRelayLoss tears every entry down and forgets the room.
func (s *Session) handleRelayLoss(err error) {
	s.logger.Warn("relay lost", "error", err, "entries", s.table.Len())

	for _, e := range s.table.All() {
		s.table.Remove(e.Peer)
		wasConnected := e.State() == Connected
		e.terminate(Closed, nil)
		if wasConnected {
			s.emit(Event{Kind: EventPeerDisconnected, Peer: e.Peer})
		}
	}
	s.tracker.Reset()
	s.emit(Event{Kind: EventRelayLost, Err: err})
}

func (s *Session) closeAll() {
	for _, e := range s.table.All() {
		s.table.Remove(e.Peer)
		e.terminate(Closed, nil)
	}
}

// Reconnect restarts negotiation with a member whose entry is closed or failed.
func (s *Session) Reconnect(id PeerID) error {
	result := make(chan error, 1)
	if !s.post(func() { result <- s.reconnect(id) }) {
		return ErrSessionStopped
	}
	select {
	case err := <-result:
		return err
	case <-s.done:
		return ErrSessionStopped
	}
}

func (s *Session) reconnect(id PeerID) error {
	if id == s.self || !s.tracker.Contains(id) {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, id)
	}
	if e, ok := s.table.Get(id); ok && !e.State().IsTerminal() {
		return fmt.Errorf("%w: %s is %s", ErrEntryExists, id, e.State())
	}
	s.startEntry(id)
	return nil
}

// Broadcast sends data to every connected peer and returns how many were
// reached. Peers still negotiating are skipped.
func (s *Session) Broadcast(data []byte) (int, error) {
	var (
		sent int
		errs []error
	)
	for _, e := range s.table.All() {
		if e.State() != Connected {
			continue
		}
		dc := e.dataChannel()
		if dc == nil {
			continue
		}
		if err := dc.Send(data); err != nil {
			errs = append(errs, fmt.Errorf("send to %s: %w", e.Peer, err))
			continue
		}
		sent++
	}
	return sent, errors.Join(errs...)
}

// SendTo sends data to one connected peer.
func (s *Session) SendTo(id PeerID, data []byte) error {
	e, ok := s.table.Get(id)
	if !ok || e.State() != Connected {
		return fmt.Errorf("%w: %s", ErrNotConnected, id)
	}
	dc := e.dataChannel()
	if dc == nil {
		return fmt.Errorf("%w: %s", ErrNotConnected, id)
	}
	return dc.Send(data)
}

// ConnectedPeerIDs returns the connected peers, sorted.
func (s *Session) ConnectedPeerIDs() []PeerID {
	var out []PeerID
	for _, e := range s.table.All() {
		if e.State() == Connected {
			out = append(out, e.Peer)
		}
	}
	return out
}

// IsConnected reports whether id has an open data channel.
func (s *Session) IsConnected(id PeerID) bool {
	e, ok := s.table.Get(id)
	return ok && e.State() == Connected
}

// Status returns id's coarse status.
func (s *Session) Status(id PeerID) PeerStatus {
	e, ok := s.table.Get(id)
	if !ok {
		return StatusAbsent
	}
	return StatusOf(e.State())
}

// Members returns the room membership including the local peer, sorted.
func (s *Session) Members() []PeerID {
	return s.tracker.CurrentMembers()
}

// Peers returns a snapshot of every table entry.
func (s *Session) Peers() []PeerInfo {
	entries := s.table.All()
	out := make([]PeerInfo, 0, len(entries))
	for _, e := range entries {
		st := e.State()
		out = append(out, PeerInfo{
			Peer:    e.Peer,
			Role:    e.Role,
			State:   st,
			Status:  StatusOf(st),
			Applied: e.Applied(),
			Err:     e.Err(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Peer < out[j].Peer })
	return out
}
