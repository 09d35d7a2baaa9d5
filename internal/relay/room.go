package relay

import (
	"time"
)

// Room is one mesh of peers sharing a code. It is owned by the hub goroutine.
type Room struct {
	Code      string
	Host      string
	MaxPeers  int
	CreatedAt time.Time

	// Registered rooms were created through the registry and outlive their peers.
	Registered bool

	peers map[string]*Client
	order []string
}

func newRoom(code string, maxPeers int) *Room {
	return &Room{
		Code:      code,
		MaxPeers:  maxPeers,
		CreatedAt: time.Now().UTC(),
		peers:     make(map[string]*Client),
	}
}

func (r *Room) full() bool {
	return r.MaxPeers > 0 && len(r.peers) >= r.MaxPeers
}

func (r *Room) add(c *Client) {
	r.peers[c.PeerID] = c
	r.order = append(r.order, c.PeerID)
}

// remove deletes c if it is the registered client for its id.
func (r *Room) remove(c *Client) bool {
	if r.peers[c.PeerID] != c {
		return false
	}
	delete(r.peers, c.PeerID)
	for i, id := range r.order {
		if id == c.PeerID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// members returns peer ids in join order.
func (r *Room) members() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

func (r *Room) info() RoomInfo {
	return RoomInfo{
		Code:      r.Code,
		Host:      r.Host,
		MaxPeers:  r.MaxPeers,
		Peers:     r.members(),
		CreatedAt: r.CreatedAt,
	}
}

// RoomInfo is the registry view of a room.
type RoomInfo struct {
	Code      string    `json:"room"`
	Host      string    `json:"host,omitempty"`
	MaxPeers  int       `json:"max_peers"`
	Peers     []string  `json:"peers"`
	CreatedAt time.Time `json:"created_at"`
}
