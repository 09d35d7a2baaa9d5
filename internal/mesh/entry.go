package mesh

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BioHazard786/meshroom/internal/signaling"
)

// Entry is the negotiation state machine for one remote peer. It exclusively
// owns its connection; closing the entry closes the connection.
//
// Fields without a lock are touched only by the session's dispatch goroutine.
type Entry struct {
	Peer      PeerID
	Role      Role
	CreatedAt time.Time

	state   atomic.Int32
	applied atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc

	conn Connection

	mu      sync.RWMutex
	channel DataChannel
	lastErr error

	// Remote candidates held until the remote description is set.
	pendingRemote []signaling.Candidate
	// Local candidates held until our description has gone out.
	pendingLocal []signaling.Candidate

	remoteSet      bool
	remoteApplying bool
	localSet       bool
	localSent      bool
	channelOpen    bool
	received       int
}

func newEntry(parent context.Context, peer PeerID, role Role) *Entry {
	ctx, cancel := context.WithCancel(parent)
	e := &Entry{
		Peer:      peer,
		Role:      role,
		CreatedAt: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
	}
	e.state.Store(int32(Idle))
	return e
}

// State returns the current negotiation state. Safe for concurrent use.
func (e *Entry) State() State {
	return State(e.state.Load())
}

// Applied returns how many remote candidates have been applied to the connection.
func (e *Entry) Applied() int64 {
	return e.applied.Load()
}

// Err returns the error that failed the entry, if any.
func (e *Entry) Err() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastErr
}

func (e *Entry) dataChannel() DataChannel {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.channel
}

func (e *Entry) setDataChannel(dc DataChannel) {
	e.mu.Lock()
	e.channel = dc
	e.mu.Unlock()
}

// transition moves the entry along a legal edge.
func (e *Entry) transition(to State) error {
	from := e.State()
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s for %s", ErrInvalidTransition, from, to, e.Peer)
	}
	e.state.Store(int32(to))
	return nil
}

// ready reports whether both descriptions are in place and the channel is open.
func (e *Entry) ready() bool {
	return e.remoteSet && e.localSet && e.channelOpen
}

// release cancels in-flight work and closes the channel and the connection.
// It does not change the state.
func (e *Entry) release() {
	e.cancel()
	if dc := e.dataChannel(); dc != nil {
		dc.Close()
	}
	if e.conn != nil {
		e.conn.Close()
	}
	e.pendingRemote = nil
	e.pendingLocal = nil
}

// terminate releases the entry and moves it to a terminal state.
func (e *Entry) terminate(to State, err error) {
	if e.State().IsTerminal() {
		return
	}
	if err != nil {
		e.mu.Lock()
		e.lastErr = err
		e.mu.Unlock()
	}
	e.state.Store(int32(to))
	e.release()
}
