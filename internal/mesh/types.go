// Package mesh negotiates a full mesh of peer connections inside one room.
//
// A Session consumes relay envelopes, tracks room membership and drives one
// negotiation state machine per remote peer until every pair holds an open,
// ordered and reliable data channel. All negotiation state is mutated by a
// single dispatch goroutine; asynchronous description work reports back into
// that goroutine and is discarded if its entry has since been replaced.
package mesh

import (
	"github.com/BioHazard786/meshroom/internal/signaling"
)

// PeerID identifies a peer within a room.
type PeerID string

// Role is a peer's part in negotiating one pairwise connection.
type Role int

const (
	// Initiator creates the data channel and sends the offer.
	Initiator Role = iota
	// Receiver waits for the offer and answers it.
	Receiver
)

func (r Role) String() string {
	if r == Initiator {
		return "initiator"
	}
	return "receiver"
}

// ResolveRole decides the local role for the pair (local, remote): the
// lexicographically smaller id initiates. Both sides reach the same answer.
func ResolveRole(local, remote PeerID) Role {
	if local < remote {
		return Initiator
	}
	return Receiver
}

// Relay is the negotiation transport: a send path plus a stream of inbound
// envelopes. An Inbound with a non-nil Err reports a lost link; a closed
// stream means the relay is gone for good.
type Relay interface {
	Send(env signaling.Envelope) error
	Incoming() <-chan signaling.Inbound
}

// ConnectionFactory creates connection primitives.
type ConnectionFactory interface {
	NewConnection() (Connection, error)
}

// Connection is the transport-layer primitive negotiated for one peer.
// Callbacks may fire on any goroutine.
type Connection interface {
	CreateOffer() (string, error)
	CreateAnswer() (string, error)
	SetLocalDescription(sdpType, sdp string) error
	SetRemoteDescription(sdpType, sdp string) error
	AddRemoteCandidate(c signaling.Candidate) error
	CreateDataChannel(label string) (DataChannel, error)

	// OnLocalCandidate fires for each gathered local candidate.
	OnLocalCandidate(func(signaling.Candidate))
	// OnDataChannel fires when the remote side opens a channel.
	OnDataChannel(func(DataChannel))
	// OnFailed fires once when the connection fails terminally.
	OnFailed(func(error))

	Close() error
}

// DataChannel is an ordered, reliable byte channel on a Connection.
// A handler registered after the channel opened still observes the open.
type DataChannel interface {
	Label() string
	Send(data []byte) error
	OnOpen(func())
	OnClose(func())
	OnMessage(func([]byte))
	Close() error
}

// ChannelLabel names the data channel every pair negotiates.
const ChannelLabel = "mesh"
