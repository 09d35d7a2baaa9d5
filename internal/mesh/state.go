package mesh

import "fmt"

// State is a negotiation state of one pairwise connection.
type State int

const (
	Idle State = iota
	RoleAssigned
	AwaitingLocalDescription
	LocalDescriptionSet
	AwaitingRemoteDescription
	RemoteDescriptionSet
	Connected
	Closed
	Failed
)

var stateNames = [...]string{
	Idle:                      "idle",
	RoleAssigned:              "role-assigned",
	AwaitingLocalDescription:  "awaiting-local-description",
	LocalDescriptionSet:       "local-description-set",
	AwaitingRemoteDescription: "awaiting-remote-description",
	RemoteDescriptionSet:      "remote-description-set",
	Connected:                 "connected",
	Closed:                    "closed",
	Failed:                    "failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// IsTerminal reports whether no further transition can leave s.
func (s State) IsTerminal() bool {
	return s == Closed || s == Failed
}

// validTransitions lists every legal non-terminal edge. Closed and Failed are
// reachable from every non-terminal state and are checked separately.
//
// Initiator: Idle, RoleAssigned, AwaitingLocalDescription, LocalDescriptionSet,
// AwaitingRemoteDescription, RemoteDescriptionSet, Connected.
// Receiver: Idle, RoleAssigned, AwaitingRemoteDescription, RemoteDescriptionSet,
// AwaitingLocalDescription, LocalDescriptionSet, Connected.
var validTransitions = map[State][]State{
	Idle:                      {RoleAssigned},
	RoleAssigned:              {AwaitingLocalDescription, AwaitingRemoteDescription},
	AwaitingLocalDescription:  {LocalDescriptionSet},
	LocalDescriptionSet:       {AwaitingRemoteDescription, Connected},
	AwaitingRemoteDescription: {RemoteDescriptionSet},
	RemoteDescriptionSet:      {AwaitingLocalDescription, Connected},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to State) bool {
	if from.IsTerminal() {
		return false
	}
	if to.IsTerminal() {
		return true
	}
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// PeerStatus is the coarse per-peer view exposed to callers.
type PeerStatus int

const (
	StatusAbsent PeerStatus = iota
	StatusNegotiating
	StatusConnected
	StatusClosed
	StatusFailed
)

func (s PeerStatus) String() string {
	switch s {
	case StatusNegotiating:
		return "negotiating"
	case StatusConnected:
		return "connected"
	case StatusClosed:
		return "closed"
	case StatusFailed:
		return "failed"
	default:
		return "absent"
	}
}

// StatusOf maps a negotiation state to its coarse status.
func StatusOf(s State) PeerStatus {
	switch s {
	case Connected:
		return StatusConnected
	case Closed:
		return StatusClosed
	case Failed:
		return StatusFailed
	default:
		return StatusNegotiating
	}
}
