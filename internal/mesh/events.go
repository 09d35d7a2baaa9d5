package mesh

// EventKind identifies a session event.
type EventKind int

const (
	EventMemberJoined EventKind = iota
	EventMemberLeft
	EventPeerConnected
	EventPeerDisconnected
	EventPeerFailed
	EventMessageReceived
	EventRelayLost
)

var eventNames = [...]string{
	EventMemberJoined:     "member-joined",
	EventMemberLeft:       "member-left",
	EventPeerConnected:    "peer-connected",
	EventPeerDisconnected: "peer-disconnected",
	EventPeerFailed:       "peer-failed",
	EventMessageReceived:  "message-received",
	EventRelayLost:        "relay-lost",
}

func (k EventKind) String() string {
	if k >= 0 && int(k) < len(eventNames) {
		return eventNames[k]
	}
	return "unknown"
}

// Event is emitted on Session.Events. Data is set for EventMessageReceived,
// Err for EventPeerFailed and EventRelayLost.
type Event struct {
	Kind EventKind
	Peer PeerID
	Data []byte
	Err  error
}

// PeerInfo is a point-in-time view of one table entry.
type PeerInfo struct {
	Peer    PeerID
	Role    Role
	State   State
	Status  PeerStatus
	Applied int64
	Err     error
}
