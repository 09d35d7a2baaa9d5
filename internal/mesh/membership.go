package mesh

import (
	"sort"
	"sync"

	"github.com/BioHazard786/meshroom/internal/signaling"
)

// ChangeKind distinguishes membership changes.
type ChangeKind int

const (
	MemberJoined ChangeKind = iota
	MemberLeft
)

func (k ChangeKind) String() string {
	if k == MemberJoined {
		return "joined"
	}
	return "left"
}

// MembershipChange is one de-duplicated join or leave of a remote peer.
type MembershipChange struct {
	Kind ChangeKind
	Peer PeerID
}

// Tracker maintains the room's member set. The local peer is always a member
// and never appears in a change.
type Tracker struct {
	mu      sync.RWMutex
	self    PeerID
	members map[PeerID]struct{}
}

// NewTracker creates a tracker whose only member is self.
func NewTracker(self PeerID) *Tracker {
	return &Tracker{
		self:    self,
		members: make(map[PeerID]struct{}),
	}
}

// Apply folds a membership envelope into the set and returns the resulting
// changes. Envelopes of other kinds yield nothing.
func (t *Tracker) Apply(env signaling.Envelope) []MembershipChange {
	switch env.Kind {
	case signaling.KindPeerJoined:
		if c, ok := t.Join(PeerID(env.From)); ok {
			return []MembershipChange{c}
		}
	case signaling.KindPeerLeft:
		if c, ok := t.Leave(PeerID(env.From)); ok {
			return []MembershipChange{c}
		}
	case signaling.KindRosterSnapshot:
		if env.Roster != nil {
			return t.Reconcile(*env.Roster)
		}
	}
	return nil
}

// Join adds id. It reports false for self and for ids already present.
func (t *Tracker) Join(id PeerID) (MembershipChange, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.addLocked(id) {
		return MembershipChange{}, false
	}
	return MembershipChange{Kind: MemberJoined, Peer: id}, true
}

// Leave removes id. Unknown ids are a no-op.
func (t *Tracker) Leave(id PeerID) (MembershipChange, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.members[id]; !ok {
		return MembershipChange{}, false
	}
	delete(t.members, id)
	return MembershipChange{Kind: MemberLeft, Peer: id}, true
}

// Reconcile merges a roster snapshot. Unseen ids join in snapshot order.
// Members missing from the snapshot leave only when it is complete, in id order.
func (t *Tracker) Reconcile(r signaling.Roster) []MembershipChange {
	t.mu.Lock()
	defer t.mu.Unlock()

	var changes []MembershipChange
	listed := make(map[PeerID]struct{}, len(r.Peers))

	for _, raw := range r.Peers {
		id := PeerID(raw)
		listed[id] = struct{}{}
		if t.addLocked(id) {
			changes = append(changes, MembershipChange{Kind: MemberJoined, Peer: id})
		}
	}

	if !r.Complete {
		return changes
	}

	var gone []PeerID
	for id := range t.members {
		if _, ok := listed[id]; !ok {
			gone = append(gone, id)
		}
	}
	sort.Slice(gone, func(i, j int) bool { return gone[i] < gone[j] })
	for _, id := range gone {
		delete(t.members, id)
		changes = append(changes, MembershipChange{Kind: MemberLeft, Peer: id})
	}
	return changes
}

func (t *Tracker) addLocked(id PeerID) bool {
	if id == "" || id == t.self {
		return false
	}
	if _, ok := t.members[id]; ok {
		return false
	}
	t.members[id] = struct{}{}
	return true
}

// CurrentMembers returns every member including self, sorted.
func (t *Tracker) CurrentMembers() []PeerID {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]PeerID, 0, len(t.members)+1)
	out = append(out, t.self)
	for id := range t.members {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Contains reports whether id is a member. Self is always a member.
func (t *Tracker) Contains(id PeerID) bool {
	if id == t.self {
		return true
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.members[id]
	return ok
}

// Reset forgets every remote member without reporting changes.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.members = make(map[PeerID]struct{})
	t.mu.Unlock()
}
